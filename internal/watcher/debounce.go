package watcher

import "time"

// debouncer collapses events per name. A batch is released one window after
// the first event that opened it; events for a name already in the batch
// overwrite its op. Released batches wait in ready until the consumer takes
// them, so the producer side never blocks on a slow consumer.
type debouncer struct {
	in     chan Event
	out    chan []Event
	window time.Duration
	done   chan struct{}
	exited chan struct{}
}

func newDebouncer(window time.Duration) *debouncer {
	d := &debouncer{
		in:     make(chan Event, 64),
		out:    make(chan []Event),
		window: window,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go d.run()
	return d
}

// push hands an event to the debouncer. It returns false after stop.
func (d *debouncer) push(ev Event) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.in <- ev:
		return true
	case <-d.done:
		return false
	}
}

func (d *debouncer) stop() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	<-d.exited
}

func (d *debouncer) run() {
	defer close(d.exited)
	defer close(d.out)

	var (
		pending = make(map[string]Op)
		order   []string
		ready   []Event
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	for {
		var outC chan<- []Event
		if len(ready) > 0 {
			outC = d.out
		}

		select {
		case ev := <-d.in:
			if _, seen := pending[ev.Name]; !seen {
				order = append(order, ev.Name)
			}
			pending[ev.Name] = merge(pending[ev.Name], ev.Op)
			if timer == nil {
				timer = time.NewTimer(d.window)
				timerC = timer.C
			}

		case <-timerC:
			timer, timerC = nil, nil
			for _, name := range order {
				ready = append(ready, Event{Name: name, Op: pending[name]})
			}
			pending = make(map[string]Op)
			order = nil

		case outC <- ready:
			ready = nil

		case <-d.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// merge keeps the latest op, except that a delete followed by a create
// inside one window is a modification of the same name.
func merge(prev, next Op) Op {
	switch {
	case prev == 0:
		return next
	case prev == OpRescan || next == OpRescan:
		return OpRescan
	case prev == OpDelete && next == OpCreate:
		return OpModify
	case prev == OpCreate && next == OpModify:
		return OpCreate
	default:
		return next
	}
}
