package folder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/watcher"
)

// Options configures a Registry
type Options struct {
	Watch        watcher.Options
	DisableWatch bool
	DetectMime   bool
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Registry hands out shared, reference-counted models: at most one model
// exists per normalized path while anyone is subscribed to it.
type Registry struct {
	fs           fsys.FS
	watchOpts    watcher.Options
	disableWatch bool
	detectMime   bool
	logger       *zap.Logger
	metrics      *monitoring.Metrics

	mu     sync.Mutex
	models map[string]*Model
}

// NewRegistry creates a registry over f
func NewRegistry(f fsys.FS, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	watchOpts := opts.Watch
	watchOpts.Logger = logger
	if watchOpts.Breaker == nil {
		// Only exhausted watch resources count; a missing or unreadable
		// folder says nothing about the watch budget.
		watchOpts.Breaker = resilience.New("native-watch", resilience.Settings{
			Cooldown: time.Minute,
			Trip:     func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 3 },
			Exclude:  func(err error) bool { return !watcher.Exhausted(err) },
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Info("Watch breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}

	return &Registry{
		fs:           f,
		watchOpts:    watchOpts,
		disableWatch: opts.DisableWatch,
		detectMime:   opts.DetectMime,
		logger:       logger,
		metrics:      opts.Metrics,
		models:       make(map[string]*Model),
	}
}

// Subscribe returns a handle on the model for dir, creating the model (and
// starting its listing and watch) on first subscription.
func (r *Registry) Subscribe(dir string) (*Handle, error) {
	norm, err := paths.Normalize(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid folder path: %w", err)
	}

	r.mu.Lock()
	m, exists := r.models[norm]
	if !exists {
		m = newModel(r, norm)
		r.models[norm] = m
	}
	m.refs++
	count := len(r.models)

	h := newHandle(m)
	m.mu.Lock()
	h.initial = m.snapshotLocked()
	h.initialRev = m.revision
	m.subs[h.id] = h
	m.mu.Unlock()
	r.mu.Unlock()

	if !exists {
		r.logger.Debug("Folder model created", zap.String("dir", norm))
		r.metrics.SetFoldersLive(count)
		m.start()
	}
	return h, nil
}

// release drops one reference; the last one destroys the model.
func (r *Registry) release(h *Handle) {
	m := h.model

	r.mu.Lock()
	m.mu.Lock()
	delete(m.subs, h.id)
	m.mu.Unlock()

	m.refs--
	last := m.refs == 0
	if last && r.models[m.path] == m {
		delete(r.models, m.path)
	}
	count := len(r.models)
	r.mu.Unlock()

	if last {
		r.logger.Debug("Folder model destroyed", zap.String("dir", m.path))
		r.metrics.SetFoldersLive(count)
		m.shutdown()
	}
}

// Lookup returns the live model for dir, if any
func (r *Registry) Lookup(dir string) (*Model, bool) {
	norm, err := paths.Normalize(dir)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[norm]
	return m, ok
}

// Len returns the number of live models
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models)
}

// Notify reconciles one entry of dir if a model for dir is live. It is
// idempotent: notifying a state the model already reflects emits nothing.
func (r *Registry) Notify(dir, name string) {
	if m, ok := r.Lookup(dir); ok {
		m.reconcile(name)
	}
}

// NotifyPath reports a mutation of p: the parent's model reconciles the
// entry, and any live model at or below p re-lists itself.
func (r *Registry) NotifyPath(p string) {
	norm, err := paths.Normalize(p)
	if err != nil {
		return
	}
	if parent := paths.Parent(norm); parent != norm {
		r.Notify(parent, paths.Base(norm))
	}

	r.mu.Lock()
	var affected []*Model
	for dir, m := range r.models {
		if dir == norm || paths.IsAncestor(norm, dir) {
			affected = append(affected, m)
		}
	}
	r.mu.Unlock()

	for _, m := range affected {
		m.Refresh(context.Background())
	}
}

// Close tears down every live model regardless of subscribers
func (r *Registry) Close() {
	r.mu.Lock()
	models := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	r.models = make(map[string]*Model)
	r.mu.Unlock()

	for _, m := range models {
		m.shutdown()
	}
	r.metrics.SetFoldersLive(0)
}
