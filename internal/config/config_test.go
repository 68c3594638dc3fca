package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("RELAY_TOKEN_SECRET", "secret")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", c.ListenAddr)
	}
	if c.StrikeThreshold != 3 || c.SuspensionWindow != 72*time.Hour {
		t.Errorf("moderation defaults = %d / %s", c.StrikeThreshold, c.SuspensionWindow)
	}
	if len(c.BlockedTerms) != 3 {
		t.Errorf("BlockedTerms = %v", c.BlockedTerms)
	}
	if c.RedisAddr != "" || c.NATSURL != "" {
		t.Errorf("optional backends not empty: %q %q", c.RedisAddr, c.NATSURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("RELAY_DATABASE_URL", "")
	t.Setenv("RELAY_TOKEN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without required variables")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RELAY_DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("RELAY_TOKEN_SECRET", "secret")
	t.Setenv("RELAY_BLOCKED_TERMS", "foo,bar")
	t.Setenv("RELAY_STRIKE_THRESHOLD", "1")
	t.Setenv("RELAY_SUSPENSION_WINDOW", "168h")
	t.Setenv("RELAY_NATS_URL", "nats://broker:4222")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.BlockedTerms) != 2 || c.BlockedTerms[0] != "foo" {
		t.Errorf("BlockedTerms = %v", c.BlockedTerms)
	}
	if c.StrikeThreshold != 1 || c.SuspensionWindow != 168*time.Hour {
		t.Errorf("moderation = %d / %s", c.StrikeThreshold, c.SuspensionWindow)
	}
	if c.NATSURL != "nats://broker:4222" {
		t.Errorf("NATSURL = %q", c.NATSURL)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	t.Setenv("RELAY_DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("RELAY_TOKEN_SECRET", "secret")
	t.Setenv("RELAY_STRIKE_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted zero strike threshold")
	}
}
