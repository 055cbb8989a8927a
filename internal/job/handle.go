package job

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/filer/internal/shared/id"
)

// Snapshot is a serializable summary of a job
type Snapshot struct {
	ID        id.JobID  `json:"id"`
	Kind      Kind      `json:"kind"`
	Request   Request   `json:"request"`
	State     State     `json:"state"`
	Progress  Progress  `json:"progress"`
	Conflict  *Conflict `json:"conflict,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Handle controls one job. It is safe for concurrent use.
type Handle struct {
	id      id.JobID
	req     Request
	created time.Time
	notify  Notifier

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	progress Progress
	result   Result
	pending  *Conflict
	resume   chan struct{}
	closed   bool

	limiter    *rate.Limiter
	progressCh chan Progress
	conflictCh chan *Conflict
	done       chan struct{}
}

func newHandle(req Request, interval time.Duration, notify Notifier) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	jid := id.NewJobID()
	h := &Handle{
		id:      jid,
		req:     req,
		created: time.Now(),
		notify:  notify,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateQueued,
		progress: Progress{
			JobID:      jid,
			State:      StateQueued,
			FilesTotal: Unknown,
			BytesTotal: Unknown,
		},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		progressCh: make(chan Progress, 1),
		conflictCh: make(chan *Conflict, 1),
		done:       make(chan struct{}),
	}
	return h
}

// ID returns the job id
func (h *Handle) ID() id.JobID { return h.id }

// Kind returns the job kind
func (h *Handle) Kind() Kind { return h.req.Kind }

// Request returns the normalized request
func (h *Handle) Request() Request { return h.req }

// State returns the current state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Snapshot returns a consistent summary of the job
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		ID:        h.id,
		Kind:      h.req.Kind,
		Request:   h.req,
		State:     h.state,
		Progress:  h.progress.clone(),
		Conflict:  h.pending,
		CreatedAt: h.created,
	}
}

// Progress streams throttled progress snapshots. Unread snapshots are
// replaced by newer ones; the final snapshot is always delivered before
// the channel closes.
func (h *Handle) Progress() <-chan Progress { return h.progressCh }

// Conflicts streams conflicts as the job raises them. The channel closes
// when the job finishes.
func (h *Handle) Conflicts() <-chan *Conflict { return h.conflictCh }

// PendingConflict returns the conflict the job is waiting on, if any
func (h *Handle) PendingConflict() *Conflict {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// Done is closed when the job reaches a terminal state
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job finishes or ctx ends
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		r, _ := h.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the final result once the job has finished
func (h *Handle) Result() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.IsTerminal() {
		return Result{}, false
	}
	return h.result, true
}

// Pause suspends a running job at its next node or chunk boundary
func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(StatePaused); err != nil {
		return err
	}
	h.resume = make(chan struct{})
	return nil
}

// Resume continues a paused job
func (h *Handle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePaused {
		return &ErrInvalidTransition{From: h.state, To: StateRunning}
	}
	if err := h.transitionLocked(StateRunning); err != nil {
		return err
	}
	close(h.resume)
	h.resume = nil
	return nil
}

// Cancel stops the job. A job that never started finishes as Cancelled
// immediately; a running one stops at its next boundary and keeps the
// steps it already completed. Cancelling a finished job is a no-op.
func (h *Handle) Cancel() {
	h.mu.Lock()
	queued := h.state == StateQueued
	if queued {
		h.transitionLocked(StateCancelled)
		h.result = Result{State: StateCancelled}
		h.closeLocked()
	}
	h.mu.Unlock()
	h.cancel()
}

// begin moves a queued job to Running. It reports false when the job was
// cancelled before it could start.
func (h *Handle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(StateRunning) == nil
}

// finish records the result and closes the job's channels
func (h *Handle) finish(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	// the run's outcome is authoritative: a pause requested after the last
	// boundary does not hold the job open
	h.state = r.State
	h.progress.State = r.State
	h.progress.Current = ""
	h.result = r
	h.pending = nil
	h.closeLocked()
}

func (h *Handle) closeLocked() {
	h.closed = true
	latest(h.progressCh, h.progress.clone())
	close(h.progressCh)
	close(h.conflictCh)
	close(h.done)
	h.cancel()
}

func (h *Handle) transitionLocked(to State) error {
	if err := ValidateTransition(h.state, to); err != nil {
		return err
	}
	h.state = to
	h.progress.State = to
	if !h.closed {
		latest(h.progressCh, h.progress.clone())
	}
	return nil
}

// update mutates the progress record and publishes it if the rate limit
// allows
func (h *Handle) update(fn func(p *Progress)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.progress)
	if !h.closed && h.limiter.Allow() {
		latest(h.progressCh, h.progress.clone())
	}
}

// checkpoint blocks while the job is paused and reports cancellation
func (h *Handle) checkpoint(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return errCancelled
		}
		h.mu.Lock()
		wait := h.resume
		h.mu.Unlock()
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return errCancelled
		}
	}
}

// ask raises c and blocks for the decision
func (h *Handle) ask(ctx context.Context, c *Conflict) (Decision, error) {
	h.mu.Lock()
	for h.state == StatePaused {
		wait := h.resume
		h.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Decision{}, errCancelled
		}
		h.mu.Lock()
	}
	if err := h.transitionLocked(StateWaitingForConflictDecision); err != nil {
		h.mu.Unlock()
		return Decision{}, err
	}
	h.pending = c
	latest(h.conflictCh, c)
	h.mu.Unlock()

	var d Decision
	select {
	case d = <-c.reply:
	case <-ctx.Done():
		return Decision{}, errCancelled
	}

	h.mu.Lock()
	h.pending = nil
	err := h.transitionLocked(StateRunning)
	h.mu.Unlock()
	if err != nil {
		return Decision{}, errCancelled
	}
	return d, nil
}

func (h *Handle) report(m Mutation) {
	if h.notify != nil {
		h.notify(m)
	}
}
