package moderation

import (
	"context"
	"fmt"
	"time"
)

// StrikeStore persists violation counters and suspension windows. The apply
// callback runs inside whatever unit of atomicity the store provides (a
// row-locking transaction for Postgres, a per-account critical section in
// memory), so no two concurrent violations for the same account can
// interleave their counter updates.
type StrikeStore interface {
	ApplyViolation(ctx context.Context, handle string, apply func(strikes int) Outcome) (Outcome, error)
}

// Verdict is the result of reviewing one outgoing text.
type Verdict struct {
	Blocked bool
	Term    string  // matched block-list term
	Outcome Outcome // account transition; zero value when not blocked
}

// Engine is the moderation pipeline stage: it scans outgoing text and, on a
// match, records the strike and computes the resulting suspension, if any.
type Engine struct {
	list   *Blocklist
	policy Policy
	store  StrikeStore
	now    func() time.Time
}

// NewEngine wires a block-list, an escalation policy, and a strike store.
// The now function is injectable for tests; pass time.Now in production.
func NewEngine(list *Blocklist, policy Policy, store StrikeStore, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{list: list, policy: policy, store: store, now: now}
}

// Review scans text for the sending account. A clean text returns a
// non-blocked Verdict and touches nothing. A match records the strike
// atomically and returns the transition. The caller must treat a blocked
// verdict as terminal for the send attempt: nothing is persisted or routed.
func (e *Engine) Review(ctx context.Context, handle, text string) (Verdict, error) {
	term, hit := e.list.Scan(text)
	if !hit {
		return Verdict{}, nil
	}

	now := e.now()
	out, err := e.store.ApplyViolation(ctx, handle, func(strikes int) Outcome {
		return e.policy.OnViolation(strikes, now)
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: record violation for %s: %w", handle, err)
	}
	return Verdict{Blocked: true, Term: term, Outcome: out}, nil
}

// NoticeText renders the Verdict as the message sent back to the offender.
func (v Verdict) NoticeText() string {
	switch {
	case !v.Blocked:
		return ""
	case v.Outcome.Permanent:
		return "message rejected: account permanently suspended"
	case v.Outcome.Suspended:
		return fmt.Sprintf("message rejected: account suspended until %s",
			v.Outcome.Until.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("message rejected: blocked content (%d/%d strikes)",
			v.Outcome.Strikes, v.Outcome.Threshold)
	}
}

// SuspensionNotice renders the notice for a send or join attempt made while
// a suspension is still in force.
func SuspensionNotice(until time.Time, permanent bool, now time.Time) string {
	if permanent {
		return "account permanently suspended"
	}
	remaining := until.Sub(now).Round(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("account suspended, %s remaining", remaining)
}
