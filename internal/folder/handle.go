package folder

import (
	"sync"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/filer/internal/shared/types"
)

// Handle is one subscription to a model. Events are queued without bound
// and delivered in revision order on Events(); a slow reader never stalls
// the model or other subscribers.
type Handle struct {
	id    string
	model *Model

	// snapshot taken atomically with registration
	initial    []types.Entry
	initialRev uint64

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	out    chan Event

	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func newHandle(m *Model) *Handle {
	h := &Handle{
		id:       uuid.NewString(),
		model:    m,
		signal:   make(chan struct{}, 1),
		out:      make(chan Event),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go h.pump()
	return h
}

// ID returns the subscription id
func (h *Handle) ID() string { return h.id }

// Model returns the shared model behind this subscription
func (h *Handle) Model() *Model { return h.model }

// Events streams diff events. The channel closes when the handle is closed.
func (h *Handle) Events() <-chan Event { return h.out }

// Initial returns the entries and revision current when the subscription
// was registered. Every event on Events() has a higher revision.
func (h *Handle) Initial() ([]types.Entry, uint64) {
	return h.initial, h.initialRev
}

// Close unsubscribes. The last Close on a model tears it down.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.model.reg.release(h)
		close(h.done)
		<-h.pumpDone
	})
}

// enqueue appends ev; called with the model's state lock held so every
// subscriber observes the same order.
func (h *Handle) enqueue(ev Event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *Handle) pump() {
	defer close(h.pumpDone)
	defer close(h.out)

	for {
		select {
		case <-h.signal:
		case <-h.done:
			return
		}

		for {
			h.mu.Lock()
			if len(h.queue) == 0 {
				h.mu.Unlock()
				break
			}
			ev := h.queue[0]
			h.queue[0] = Event{}
			h.queue = h.queue[1:]
			h.mu.Unlock()

			select {
			case h.out <- ev:
			case <-h.done:
				return
			}
		}
	}
}
