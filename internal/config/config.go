// Package config loads the relay's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration. All variables carry the RELAY_
// prefix, e.g. RELAY_LISTEN_ADDR.
type Config struct {
	ListenAddr  string `split_words:"true" default:":8080"`
	DatabaseURL string `split_words:"true" required:"true"`
	TokenSecret string `split_words:"true" required:"true"`

	// RedisAddr enables rate limiting; empty disables it.
	RedisAddr string `split_words:"true"`
	// NATSURL enables the cross-instance delivery bridge; empty disables it.
	NATSURL string `envconfig:"NATS_URL"`

	MediaDir string `split_words:"true" default:"./media"`

	BlockedTerms     []string      `split_words:"true" default:"violence,terror,kill"`
	StrikeThreshold  int           `split_words:"true" default:"3"`
	SuspensionWindow time.Duration `split_words:"true" default:"72h"`

	MaxConnections    int           `split_words:"true" default:"100000"`
	WriteTimeout      time.Duration `split_words:"true" default:"10s"`
	RouteTimeout      time.Duration `split_words:"true" default:"5s"`
	HeartbeatInterval time.Duration `split_words:"true" default:"30s"`
	HeartbeatTimeout  time.Duration `split_words:"true" default:"10s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("relay", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if c.StrikeThreshold < 1 {
		return Config{}, fmt.Errorf("config: strike threshold must be at least 1, got %d", c.StrikeThreshold)
	}
	if c.SuspensionWindow <= 0 {
		return Config{}, fmt.Errorf("config: suspension window must be positive, got %s", c.SuspensionWindow)
	}
	return c, nil
}

// LogEffective prints the effective configuration at startup, secrets
// excluded.
func (c Config) LogEffective() {
	log.Printf("  listen_addr:        %s", c.ListenAddr)
	log.Printf("  redis_addr:         %s", orDisabled(c.RedisAddr))
	log.Printf("  nats_url:           %s", orDisabled(c.NATSURL))
	log.Printf("  media_dir:          %s", c.MediaDir)
	log.Printf("  blocked_terms:      %d terms", len(c.BlockedTerms))
	log.Printf("  strike_threshold:   %d", c.StrikeThreshold)
	log.Printf("  suspension_window:  %s", c.SuspensionWindow)
	log.Printf("  max_connections:    %d", c.MaxConnections)
	log.Printf("  heartbeat_interval: %s", c.HeartbeatInterval)
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
