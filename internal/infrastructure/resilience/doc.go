/*
Package resilience provides a circuit breaker for dependencies that fail in
runs.

# Overview

The daemon uses one breaker around native filesystem notifications. When
the kernel's watch limit is exhausted every new watch fails the same way,
so after a few failures the breaker opens and folder models poll straight
away. After the cooldown one probe is let through; if it succeeds native
watching resumes. Errors matched by Settings.Exclude, such as a folder that
no longer exists, pass through without being counted.

# Usage

	breaker := resilience.New("native-watch", resilience.Settings{
		Cooldown: time.Minute,
		Trip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		Exclude: func(err error) bool { return !watcher.Exhausted(err) },
	})

	w, err := resilience.Call(breaker, func() (*Notify, error) {
		return NewNotify(dir, opts)
	})
	if errors.Is(err, resilience.ErrOpen) {
		// fall back without trying
	}

# States

	Closed --[Trip]-> Open --[Cooldown]-> Half-Open --[Probes succeed]-> Closed
	                                          |
	                                      [failure]
	                                          |
	                                          v
	                                         Open
*/
package resilience
