package moderation

import "time"

// Policy describes how recorded strikes escalate into suspensions.
//
// Two policies are expressible:
//
//   - the shipped default: Threshold 3, one fixed window, ResetOnSuspend
//     true. Three strikes earn a fixed suspension and the counter returns
//     to zero.
//   - the progressive variant: Threshold 1, Windows {7d, 21d},
//     PermanentAfter 3, ResetOnSuspend false. Every strike suspends, with
//     the third becoming permanent.
type Policy struct {
	// Threshold is the strike count that triggers a suspension.
	Threshold int

	// Windows holds the suspension length per offense number (1st, 2nd,
	// ...); the last entry repeats for later offenses.
	Windows []time.Duration

	// PermanentAfter, when non-zero, is the offense number at which the
	// suspension becomes permanent.
	PermanentAfter int

	// ResetOnSuspend zeroes the strike counter when a suspension begins.
	ResetOnSuspend bool
}

// DefaultPolicy returns the canonical policy: 3 strikes, one fixed 72h
// window, counter reset on suspension.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:      3,
		Windows:        []time.Duration{72 * time.Hour},
		ResetOnSuspend: true,
	}
}

// Outcome is the account state transition computed for one violation.
type Outcome struct {
	Strikes   int       // counter value to persist
	Threshold int       // echoed for notice construction
	Suspended bool      // a suspension window begins now
	Permanent bool      // the suspension never expires
	Until     time.Time // window end; zero when Permanent or not Suspended
}

// OnViolation computes the transition for an account currently holding
// strikes recorded violations, given one more. It is a pure function; the
// caller persists the result atomically with the read that produced strikes.
func (p Policy) OnViolation(strikes int, now time.Time) Outcome {
	next := strikes + 1
	out := Outcome{Strikes: next, Threshold: p.Threshold}

	if next < p.Threshold {
		return out
	}

	// Offense number: how many suspensions this counter value amounts to.
	// With ResetOnSuspend the counter never exceeds the threshold, so this
	// is always 1 and only the first window applies.
	offense := next / p.Threshold
	out.Suspended = true

	if p.PermanentAfter > 0 && offense >= p.PermanentAfter {
		out.Permanent = true
	} else if len(p.Windows) > 0 {
		idx := offense - 1
		if idx >= len(p.Windows) {
			idx = len(p.Windows) - 1
		}
		out.Until = now.Add(p.Windows[idx])
	}

	if p.ResetOnSuspend {
		out.Strikes = 0
	}
	return out
}
