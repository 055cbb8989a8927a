package job

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/utils"
	"github.com/GriffinCanCode/filer/internal/trash"
)

const (
	DefaultChunkSize        = 1 << 20
	DefaultProgressInterval = 100 * time.Millisecond
)

// Options configures an Engine
type Options struct {
	// ChunkSize is the copy buffer size and cancellation granularity
	ChunkSize int
	// ProgressInterval throttles progress snapshots
	ProgressInterval time.Duration
	// VerifyChecksums compares content hashes, not just sizes, before a
	// cross-device move deletes its source
	VerifyChecksums bool

	Preferences Preferences
	Trash       trash.Bin
	Notifier    Notifier
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Engine executes file operation jobs
type Engine struct {
	fs      fsys.FS
	opts    Options
	hasher  *utils.Hasher
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewEngine creates an engine over f
func NewEngine(f fsys.FS, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fs:      f,
		opts:    opts,
		hasher:  utils.DefaultHasher(),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// FS returns the filesystem the engine operates on
func (e *Engine) FS() fsys.FS { return e.fs }

// Trash returns the configured trash bin, nil when none is
func (e *Engine) Trash() trash.Bin { return e.opts.Trash }

// PrepareOption customizes a prepared job
type PrepareOption func(h *Handle)

// WithNotifier routes the job's mutations to n instead of the engine default
func WithNotifier(n Notifier) PrepareOption {
	return func(h *Handle) { h.notify = n }
}

// Prepare validates req and returns a queued handle without running it
func (e *Engine) Prepare(req Request, opts ...PrepareOption) (*Handle, error) {
	norm, err := req.normalize()
	if err != nil {
		return nil, err
	}
	h := newHandle(norm, e.opts.ProgressInterval, e.opts.Notifier)
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Submit prepares req and runs it on its own goroutine
func (e *Engine) Submit(req Request) (*Handle, error) {
	h, err := e.Prepare(req)
	if err != nil {
		return nil, err
	}
	go e.Run(context.Background(), h)
	return h, nil
}

// Run executes a prepared job to completion on the calling goroutine.
// Cancelling ctx or the handle stops it at the next boundary.
func (e *Engine) Run(ctx context.Context, h *Handle) {
	if !h.begin() {
		e.metrics.RecordJobFinished(string(h.req.Kind), string(StateCancelled), 0, false)
		return
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(h.ctx, stop)
	defer unlink()

	timer := monitoring.NewTimer(e.metrics, string(h.req.Kind))
	logger := e.logger.With(zap.String("job", string(h.id)), zap.String("kind", string(h.req.Kind)))
	logger.Debug("Job started", zap.Strings("sources", h.req.Sources), zap.String("destination", h.req.Destination))

	x := &execution{
		engine: e,
		fs:     e.fs,
		h:      h,
		req:    h.req,
		ctx:    ctx,
		logger: logger,
		policy: e.policyFor(h.req),
		destOf: make(map[string]string),
	}
	err := x.run()

	r := x.result
	r.Errors = x.errors
	switch {
	case errors.Is(err, errCancelled):
		r.State = StateCancelled
	case err != nil:
		r.State = StateFailed
		r.Error = err.Error()
	case len(x.errors) > 0:
		r.State = StateCompletedWithErrors
	default:
		r.State = StateCompleted
	}
	h.finish(r)
	timer.Stop(string(r.State))

	if err != nil && !errors.Is(err, errCancelled) {
		logger.Warn("Job failed", zap.Error(err))
	} else {
		logger.Debug("Job finished", zap.String("state", string(r.State)), zap.Int("errors", len(r.Errors)))
	}
}

func (e *Engine) policyFor(req Request) Policy {
	if req.Policy != "" {
		return req.Policy
	}
	if e.opts.Preferences != nil {
		if p := e.opts.Preferences.ConflictPolicy(); p != "" {
			return p
		}
	}
	return PolicyAsk
}

// PathSet returns every path a request may touch. Two jobs whose sets
// overlap must not run at the same time.
func (e *Engine) PathSet(req Request) []string {
	set := append([]string(nil), req.Sources...)
	if req.Destination != "" {
		set = append(set, req.Destination)
	}
	switch req.Kind {
	case KindRename:
		if len(req.Sources) == 1 {
			set = append(set, paths.Join(paths.Parent(req.Sources[0]), req.NewName))
		}
	case KindBulkRename:
		for _, p := range req.Renames {
			set = append(set, p.Source, p.Target())
		}
	case KindRestore:
		for _, tid := range req.TrashIDs {
			if e.opts.Trash == nil {
				break
			}
			if rec, err := e.opts.Trash.Info(tid); err == nil {
				set = append(set, rec.Path)
			}
		}
	}
	return set
}
