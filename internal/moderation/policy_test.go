package moderation

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDefaultPolicy_FixedWindowWithReset(t *testing.T) {
	p := DefaultPolicy()

	out := p.OnViolation(0, t0)
	if out.Suspended || out.Strikes != 1 {
		t.Errorf("first violation: %+v, want strikes=1 not suspended", out)
	}

	out = p.OnViolation(1, t0)
	if out.Suspended || out.Strikes != 2 {
		t.Errorf("second violation: %+v, want strikes=2 not suspended", out)
	}

	out = p.OnViolation(2, t0)
	if !out.Suspended {
		t.Fatalf("third violation: %+v, want suspended", out)
	}
	if out.Permanent {
		t.Error("third violation marked permanent under the fixed policy")
	}
	if want := t0.Add(72 * time.Hour); !out.Until.Equal(want) {
		t.Errorf("until = %v, want %v", out.Until, want)
	}
	if out.Strikes != 0 {
		t.Errorf("strikes = %d, want 0 (counter resets on suspension)", out.Strikes)
	}
}

func TestProgressivePolicy(t *testing.T) {
	p := Policy{
		Threshold:      1,
		Windows:        []time.Duration{7 * 24 * time.Hour, 21 * 24 * time.Hour},
		PermanentAfter: 3,
		ResetOnSuspend: false,
	}

	tests := []struct {
		strikes   int
		wantUntil time.Time
		permanent bool
	}{
		{0, t0.Add(7 * 24 * time.Hour), false},
		{1, t0.Add(21 * 24 * time.Hour), false},
		{2, time.Time{}, true},
		{5, time.Time{}, true},
	}

	for _, tt := range tests {
		out := p.OnViolation(tt.strikes, t0)
		if !out.Suspended {
			t.Errorf("OnViolation(%d): not suspended", tt.strikes)
			continue
		}
		if out.Permanent != tt.permanent {
			t.Errorf("OnViolation(%d): permanent = %v, want %v", tt.strikes, out.Permanent, tt.permanent)
		}
		if !tt.permanent && !out.Until.Equal(tt.wantUntil) {
			t.Errorf("OnViolation(%d): until = %v, want %v", tt.strikes, out.Until, tt.wantUntil)
		}
		if out.Strikes != tt.strikes+1 {
			t.Errorf("OnViolation(%d): strikes = %d, want %d (no reset)", tt.strikes, out.Strikes, tt.strikes+1)
		}
	}
}

func TestPolicy_LastWindowRepeats(t *testing.T) {
	p := Policy{Threshold: 1, Windows: []time.Duration{time.Hour}}

	out := p.OnViolation(9, t0)
	if !out.Suspended {
		t.Fatal("not suspended")
	}
	if want := t0.Add(time.Hour); !out.Until.Equal(want) {
		t.Errorf("until = %v, want last window repeated (%v)", out.Until, want)
	}
}
