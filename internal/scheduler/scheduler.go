package scheduler

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/folder"
	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

const (
	// DefaultWorkers is the number of jobs allowed to run at once
	DefaultWorkers = 2

	// DefaultRetain is how many finished jobs stay visible to List and Get
	DefaultRetain = 100
)

var (
	// ErrClosed is returned by Enqueue after Close
	ErrClosed = errors.New("scheduler closed")

	// ErrUnknownJob is wrapped when an id matches no job
	ErrUnknownJob = errors.New("unknown job")

	// ErrNoConflict is wrapped when a decision names a conflict the job is
	// not waiting on
	ErrNoConflict = errors.New("job is not waiting on that conflict")
)

// Options configures a Scheduler
type Options struct {
	Workers int
	Retain  int

	// Registry receives every mutation reported by a running job
	Registry *folder.Registry

	// Notifier, when set, also receives every mutation
	Notifier job.Notifier

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type entry struct {
	h       *job.Handle
	paths   []string
	started bool
}

// Scheduler runs jobs on a fixed pool of workers. Jobs whose path sets
// overlap run in submission order; a later job that touches nothing an
// earlier unfinished job touches may run ahead of it.
type Scheduler struct {
	engine   *job.Engine
	registry *folder.Registry
	notifier job.Notifier
	retain   int
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*entry // unfinished, submission order
	jobs     map[id.JobID]*entry
	order    []id.JobID
	finished []id.JobID
	closed   bool
}

// New creates a scheduler over engine and starts its workers
func New(engine *job.Engine, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine:   engine,
		registry: opts.Registry,
		notifier: opts.Notifier,
		retain:   opts.Retain,
		logger:   logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[id.JobID]*entry),
	}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	logger.Info("Scheduler started", zap.Int("workers", opts.Workers))
	return s
}

// Engine returns the engine jobs run on
func (s *Scheduler) Engine() *job.Engine { return s.engine }

// Create makes a new file or folder in dir outside the queue, picking a
// numbered name when name is taken, and reports it to the live models.
func (s *Scheduler) Create(ctx context.Context, dir, name string, isDir bool) (types.Entry, error) {
	e, err := s.engine.Create(ctx, dir, name, isDir)
	if err != nil {
		return types.Entry{}, err
	}
	s.forward(job.Mutation{Op: job.MutationInserted, Path: e.Path})
	s.logger.Debug("Entry created", zap.String("path", e.Path), zap.Bool("dir", isDir))
	return e, nil
}

// Enqueue validates req and queues it
func (s *Scheduler) Enqueue(req job.Request) (*job.Handle, error) {
	h, err := s.engine.Prepare(req, job.WithNotifier(s.forward))
	if err != nil {
		return nil, err
	}
	e := &entry{h: h, paths: normalizeAll(s.engine.PathSet(h.Request()))}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.queue = append(s.queue, e)
	s.jobs[h.ID()] = e
	s.order = append(s.order, h.ID())
	s.updateQueuedLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	// a job cancelled while queued finishes without a worker; wake them so
	// anything it was blocking can start
	go func() {
		<-h.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	s.logger.Debug("Job queued", zap.String("job", string(h.ID())), zap.String("kind", string(h.Kind())))
	return h, nil
}

// List returns a snapshot of every known job in submission order
func (s *Scheduler) List() []job.Snapshot {
	s.mu.Lock()
	handles := make([]*job.Handle, 0, len(s.order))
	for _, jid := range s.order {
		handles = append(handles, s.jobs[jid].h)
	}
	s.mu.Unlock()

	out := make([]job.Snapshot, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	return out
}

// Get returns the handle for jid
func (s *Scheduler) Get(jid id.JobID) (*job.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jid]
	if !ok {
		return nil, fserr.New(fserr.NotFound, "job", string(jid), ErrUnknownJob)
	}
	return e.h, nil
}

// Cancel cancels jid. A queued job finishes Cancelled without running.
func (s *Scheduler) Cancel(jid id.JobID) error {
	h, err := s.Get(jid)
	if err != nil {
		return err
	}
	h.Cancel()
	return nil
}

// Pause suspends a running job at its next boundary
func (s *Scheduler) Pause(jid id.JobID) error {
	h, err := s.Get(jid)
	if err != nil {
		return err
	}
	return h.Pause()
}

// Resume continues a paused job
func (s *Scheduler) Resume(jid id.JobID) error {
	h, err := s.Get(jid)
	if err != nil {
		return err
	}
	return h.Resume()
}

// Resolve answers the conflict cid that job jid is waiting on
func (s *Scheduler) Resolve(jid id.JobID, cid id.ConflictID, d job.Decision) error {
	h, err := s.Get(jid)
	if err != nil {
		return err
	}
	c := h.PendingConflict()
	if c == nil || c.ID != cid {
		return fserr.New(fserr.NotFound, "resolve", string(cid), ErrNoConflict)
	}
	return c.Resolve(d)
}

// Close cancels every unfinished job and waits for the workers to exit
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := make([]*job.Handle, 0, len(s.queue))
	for _, e := range s.queue {
		pending = append(pending, e.h)
	}
	s.mu.Unlock()

	for _, h := range pending {
		h.Cancel()
	}
	s.cancel()

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		e := s.nextLocked()
		for e == nil && !s.closed {
			s.cond.Wait()
			e = s.nextLocked()
		}
		if e == nil {
			s.mu.Unlock()
			return
		}
		e.started = true
		s.updateQueuedLocked()
		s.mu.Unlock()

		s.engine.Run(s.ctx, e.h)

		s.mu.Lock()
		s.finishLocked(e)
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// nextLocked returns the oldest queued job that overlaps no earlier
// unfinished job
func (s *Scheduler) nextLocked() *entry {
	s.dropCancelledLocked()
	for i, e := range s.queue {
		if e.started {
			continue
		}
		blocked := false
		for _, prev := range s.queue[:i] {
			if overlapping(prev.paths, e.paths) {
				blocked = true
				break
			}
		}
		if !blocked {
			return e
		}
	}
	return nil
}

// dropCancelledLocked forgets queued jobs that were cancelled before a
// worker picked them up
func (s *Scheduler) dropCancelledLocked() {
	var dropped []*entry
	for _, e := range s.queue {
		if !e.started && e.h.State().IsTerminal() {
			dropped = append(dropped, e)
		}
	}
	for _, e := range dropped {
		s.finishLocked(e)
	}
}

func (s *Scheduler) finishLocked(e *entry) {
	for i, q := range s.queue {
		if q == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.finished = append(s.finished, e.h.ID())
	for len(s.finished) > s.retain {
		old := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.jobs, old)
		for i, jid := range s.order {
			if jid == old {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.updateQueuedLocked()
}

func (s *Scheduler) updateQueuedLocked() {
	n := 0
	for _, e := range s.queue {
		if !e.started {
			n++
		}
	}
	s.metrics.SetJobsQueued(n)
}

// forward hands a job's mutation to the live folder models and the
// optional observer. It runs on the job's goroutine.
func (s *Scheduler) forward(m job.Mutation) {
	if s.registry != nil {
		s.registry.NotifyPath(m.Path)
	}
	if s.notifier != nil {
		s.notifier(m)
	}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if norm, err := paths.Normalize(p); err == nil {
			out = append(out, norm)
		}
	}
	return out
}

func overlapping(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if paths.Overlaps(x, y) {
				return true
			}
		}
	}
	return false
}
