/*
Package resilience tracks backend readiness and implements the two retry
policies used by the relay.

# Readiness

Readiness is a three-state machine adapted from a circuit breaker:

	Disconnected --BeginProbe--> Probing --MarkReady--> Ready
	      ^                         |                     |
	      +---------EndProbe--------+                     |
	      +--------------------Reset----------------------+

Only one probe loop may run at a time: BeginProbe fails while a probe is in
flight. Ready is only reachable from Probing.

# Retry policies

The two policies are deliberately different and must not be merged:

  - FixedInterval: the health probe loop. Constant spacing, unbounded, stops
    only when its context is cancelled.
  - Attempts: the per-call wait for readiness. A fixed number of checks with
    constant spacing, then ErrAttemptsExhausted.

# Usage

	ready := resilience.NewReadiness("backend", resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("readiness", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	probe := resilience.FixedInterval{Interval: 500 * time.Millisecond}
	go probe.Run(ctx, func(int) bool { return gw.Probe(ctx) == nil })

	wait := resilience.Attempts{Max: 10, Interval: time.Second}
	_, err := wait.Wait(ctx, func(int) bool { return ready.Ready() })
*/
package resilience
