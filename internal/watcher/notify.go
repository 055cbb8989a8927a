package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Notify watches one directory through fsnotify.
type Notify struct {
	dir    string
	fsw    *fsnotify.Watcher
	deb    *debouncer
	errs   chan error
	logger *zap.Logger

	closeOnce sync.Once
	loopDone  chan struct{}
}

// NewNotify starts a native watch on dir.
func NewNotify(dir string, opts Options) (*Notify, error) {
	opts = opts.withDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	n := &Notify{
		dir:      filepath.Clean(dir),
		fsw:      fsw,
		deb:      newDebouncer(opts.Debounce),
		errs:     make(chan error, 8),
		logger:   opts.Logger,
		loopDone: make(chan struct{}),
	}
	go n.loop()
	return n, nil
}

func (n *Notify) Events() <-chan []Event { return n.deb.out }
func (n *Notify) Errors() <-chan error   { return n.errs }

// Close stops the watch and closes the event channel.
func (n *Notify) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.fsw.Close()
		<-n.loopDone
		n.deb.stop()
	})
	return err
}

func (n *Notify) loop() {
	defer close(n.loopDone)

	for {
		select {
		case ev, ok := <-n.fsw.Events:
			if !ok {
				return
			}
			if out, keep := n.translate(ev); keep {
				if !n.deb.push(out) {
					return
				}
			}

		case err, ok := <-n.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				n.logger.Warn("Watch queue overflowed, forcing rescan", zap.String("dir", n.dir))
				n.deb.push(Event{Op: OpRescan})
				continue
			}
			select {
			case n.errs <- err:
			default:
				n.logger.Debug("Dropping watcher error", zap.Error(err))
			}
		}
	}
}

// translate maps an fsnotify event onto a directory-relative Event.
// A rename is reported as a delete; the new name arrives as its own create.
func (n *Notify) translate(ev fsnotify.Event) (Event, bool) {
	name := filepath.Clean(ev.Name)
	if name == n.dir {
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			return Event{Op: OpRescan}, true
		}
		return Event{}, false
	}
	if filepath.Dir(name) != n.dir {
		return Event{}, false
	}

	base := filepath.Base(name)
	switch {
	case ev.Has(fsnotify.Create):
		return Event{Name: base, Op: OpCreate}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Event{Name: base, Op: OpDelete}, true
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		return Event{Name: base, Op: OpModify}, true
	}
	return Event{}, false
}
