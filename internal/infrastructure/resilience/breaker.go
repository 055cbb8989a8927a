package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned without calling through while the breaker is open
	ErrOpen = errors.New("circuit breaker is open")

	// ErrProbeInFlight is returned in half-open state once the allowed
	// probes are already running
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Probes is how many calls half-open state lets through, and how many
	// of them must succeed to close again
	Probes uint32
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// Trip decides, after a failure in closed state, whether to open
	Trip func(counts Counts) bool
	// Exclude reports errors that say nothing about the dependency's health;
	// calls failing with them count neither as success nor failure
	Exclude func(err error) bool
	// OnStateChange is called outside the breaker's lock
	OnStateChange func(name string, from, to State)
}

// Counts holds the statistics of the current state
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Breaker stops calling into a failing dependency for a cooldown, then
// probes it before trusting it again
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	counts     Counts
	openUntil  time.Time
	generation uint64
}

// New creates a breaker; zero settings get defaults
func New(name string, settings Settings) *Breaker {
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = time.Minute
	}
	if settings.Trip == nil {
		settings.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	return &Breaker{name: name, settings: settings, now: time.Now}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the
// cooldown has passed
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.refreshLocked()
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Counts returns a copy of the counts of the current state
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn unless the breaker rejects the call
func (b *Breaker) Do(fn func() error) error {
	_, err := Call(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Call runs fn through b and returns its result. A rejected call returns
// ErrOpen or ErrProbeInFlight without running fn.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	gen, err := b.admit()
	if err != nil {
		var zero T
		return zero, err
	}

	result := outcomeFailure
	defer func() { b.record(gen, result) }()

	v, err := fn()
	switch {
	case err == nil:
		result = outcomeSuccess
	case b.settings.Exclude != nil && b.settings.Exclude(err):
		result = outcomeExcluded
	}
	return v, err
}

type outcome int

const (
	outcomeFailure outcome = iota
	outcomeSuccess
	outcomeExcluded
)

type transition struct {
	from, to State
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	state, change := b.refreshLocked()
	var err error
	switch {
	case state == StateOpen:
		err = ErrOpen
	case state == StateHalfOpen && b.counts.Calls >= b.settings.Probes:
		err = ErrProbeInFlight
	default:
		b.counts.Calls++
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(change)
	return gen, err
}

// record applies an outcome unless the state changed since admission
func (b *Breaker) record(gen uint64, result outcome) {
	b.mu.Lock()
	state, change := b.refreshLocked()
	if gen != b.generation {
		b.mu.Unlock()
		b.notify(change)
		return
	}

	switch result {
	case outcomeExcluded:
		// hand the slot back so half-open state can admit another probe
		b.counts.Calls--
	case outcomeSuccess:
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			change = b.setLocked(StateClosed)
		}
	default:
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		switch {
		case state == StateHalfOpen:
			change = b.setLocked(StateOpen)
		case b.settings.Trip(b.counts):
			change = b.setLocked(StateOpen)
		}
	}
	b.mu.Unlock()
	b.notify(change)
}

func (b *Breaker) refreshLocked() (State, *transition) {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		return StateHalfOpen, b.setLocked(StateHalfOpen)
	}
	return b.state, nil
}

func (b *Breaker) setLocked(to State) *transition {
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.generation++
	if to == StateOpen {
		b.openUntil = b.now().Add(b.settings.Cooldown)
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t != nil && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
