package auth

import (
	"testing"
	"time"
)

func TestVerify_RoundTrip(t *testing.T) {
	j := NewJWT("test-secret")

	token, err := j.Issue("Alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	handle, err := j.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if handle != "alice" {
		t.Errorf("handle = %q, want lowercased %q", handle, "alice")
	}
}

func TestVerify_Failures(t *testing.T) {
	j := NewJWT("test-secret")
	other := NewJWT("other-secret")

	expired, err := j.Issue("alice", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	wrongKey, err := other.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	empty, err := j.Issue("   ", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"no handle", empty},
		// alg=none downgrade must be rejected.
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VybmFtZSI6ImFsaWNlIn0."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := j.Verify(tt.token); err == nil {
				t.Error("Verify returned nil error")
			}
		})
	}
}
