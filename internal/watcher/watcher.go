// Package watcher reports changes inside a single directory.
//
// Native notifications come from fsnotify. Filesystems without a native
// path (in-memory, remote) fall back to a polling scanner. Both feed a
// debouncer, so consumers receive batches in which each name appears once,
// carrying the latest operation seen inside the window.
//
// Operation mapping for native watches:
//   - fsnotify.Create → OpCreate
//   - fsnotify.Write, fsnotify.Chmod → OpModify
//   - fsnotify.Remove, fsnotify.Rename → OpDelete (the new name triggers a separate Create)
//   - removal of the watched directory, queue overflow → OpRescan
//
// Consumers treat every event as a hint and re-read the entry before
// changing any state, so a duplicated or reordered event is harmless.
package watcher

import (
	"errors"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/resilience"
)

// Op is the kind of change observed for a name
type Op uint8

const (
	OpCreate Op = iota + 1
	OpModify
	OpDelete
	// OpRescan asks the consumer to re-list the whole directory: the watch
	// overflowed, or the watched directory itself went away.
	OpRescan
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRescan:
		return "rescan"
	default:
		return "unknown"
	}
}

// Event is one change. Name is the entry name inside the watched directory,
// empty for OpRescan.
type Event struct {
	Name string
	Op   Op
}

// Watcher streams debounced change batches for one directory.
type Watcher interface {
	Events() <-chan []Event
	Errors() <-chan error
	Close() error
}

// Options configures a watcher
type Options struct {
	Debounce     time.Duration
	PollInterval time.Duration
	// ForcePoll skips native notifications even when they are available.
	ForcePoll bool
	// Breaker, when set, guards native watch creation; while it is open
	// new watchers poll without trying.
	Breaker *resilience.Breaker
	Logger  *zap.Logger
}

// DefaultOptions returns the default watcher configuration
func DefaultOptions() Options {
	return Options{
		Debounce:     150 * time.Millisecond,
		PollInterval: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Exhausted reports whether a native watch failed because the process or the
// kernel ran out of watch resources, as opposed to a problem with one
// directory.
func Exhausted(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

// New watches dir on f, preferring native notifications.
func New(f fsys.FS, dir string, opts Options) (Watcher, error) {
	opts = opts.withDefaults()

	if native, ok := fsys.NativePath(f, dir); ok && !opts.ForcePoll {
		var (
			w   *Notify
			err error
		)
		if opts.Breaker != nil {
			w, err = resilience.Call(opts.Breaker, func() (*Notify, error) {
				return NewNotify(native, opts)
			})
		} else {
			w, err = NewNotify(native, opts)
		}
		if err == nil {
			return w, nil
		}
		if errors.Is(err, resilience.ErrOpen) || errors.Is(err, resilience.ErrProbeInFlight) {
			opts.Logger.Debug("Native watch suspended, polling", zap.String("dir", dir))
		} else {
			opts.Logger.Warn("Native watch unavailable, polling instead",
				zap.String("dir", dir),
				zap.Error(err),
			)
		}
	}
	return NewPoller(f, dir, opts)
}
