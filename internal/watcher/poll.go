package watcher

import (
	"io/fs"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fsys"
)

type stamp struct {
	size  int64
	mtime int64
	mode  fs.FileMode
}

// Poller rescans a directory at a fixed interval and diffs the listings.
type Poller struct {
	fs       fsys.FS
	dir      string
	interval time.Duration
	deb      *debouncer
	errs     chan error
	logger   *zap.Logger

	state  map[string]stamp
	failed bool

	closeOnce sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

// NewPoller starts polling dir on f.
func NewPoller(f fsys.FS, dir string, opts Options) (*Poller, error) {
	opts = opts.withDefaults()

	p := &Poller{
		fs:       f,
		dir:      dir,
		interval: opts.PollInterval,
		deb:      newDebouncer(opts.Debounce),
		errs:     make(chan error, 8),
		logger:   opts.Logger,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	state, err := p.scan()
	if err != nil {
		p.deb.stop()
		return nil, err
	}
	p.state = state

	go p.loop()
	return p, nil
}

func (p *Poller) Events() <-chan []Event { return p.deb.out }
func (p *Poller) Errors() <-chan error   { return p.errs }

// Close stops polling and closes the event channel.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.loopDone
		p.deb.stop()
	})
	return nil
}

func (p *Poller) loop() {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.check()
		case <-p.done:
			return
		}
	}
}

func (p *Poller) scan() (map[string]stamp, error) {
	infos, err := p.fs.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	state := make(map[string]stamp, len(infos))
	for _, info := range infos {
		state[info.Name()] = stamp{
			size:  info.Size(),
			mtime: info.ModTime().UnixNano(),
			mode:  info.Mode(),
		}
	}
	return state, nil
}

func (p *Poller) check() {
	next, err := p.scan()
	if err != nil {
		if !p.failed {
			p.failed = true
			p.deb.push(Event{Op: OpRescan})
			select {
			case p.errs <- err:
			default:
			}
		}
		return
	}
	if p.failed {
		p.failed = false
		p.state = next
		p.deb.push(Event{Op: OpRescan})
		return
	}

	for name, st := range next {
		old, ok := p.state[name]
		switch {
		case !ok:
			p.deb.push(Event{Name: name, Op: OpCreate})
		case old != st:
			p.deb.push(Event{Name: name, Op: OpModify})
		}
	}
	for name := range p.state {
		if _, ok := next[name]; !ok {
			p.deb.push(Event{Name: name, Op: OpDelete})
		}
	}
	p.state = next
}
