package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onemessenger/relay/internal/api"
	"github.com/onemessenger/relay/internal/auth"
	"github.com/onemessenger/relay/internal/authz"
	"github.com/onemessenger/relay/internal/config"
	"github.com/onemessenger/relay/internal/media"
	"github.com/onemessenger/relay/internal/messaging"
	"github.com/onemessenger/relay/internal/moderation"
	"github.com/onemessenger/relay/internal/presence"
	"github.com/onemessenger/relay/internal/ratelimit"
	"github.com/onemessenger/relay/internal/relay"
	"github.com/onemessenger/relay/internal/router"
	"github.com/onemessenger/relay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	log.Printf("relay server starting")
	cfg.LogEffective()

	// --- Postgres ---
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	gateway, err := store.OpenPostgres(ctx, cfg.DatabaseURL, time.Now)
	cancel()
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}

	// --- Redis (optional, rate limiting) ---
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		limiter = ratelimit.NewLimiter(client)
	}

	// --- NATS (optional, cross-instance delivery) ---
	var bridge *messaging.Bridge
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		bridge, err = messaging.NewBridge(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Media store ---
	blobs, err := media.Open(cfg.MediaDir)
	if err != nil {
		log.Fatalf("failed to open media store: %v", err)
	}

	// --- Moderation ---
	blocklist, err := moderation.NewBlocklist(cfg.BlockedTerms)
	if err != nil {
		log.Fatalf("invalid block list: %v", err)
	}
	policy := moderation.DefaultPolicy()
	policy.Threshold = cfg.StrikeThreshold
	policy.Windows = []time.Duration{cfg.SuspensionWindow}
	engine := moderation.NewEngine(blocklist, policy, gateway, time.Now)

	// --- Core wiring ---
	verifier := auth.NewJWT(cfg.TokenSecret)
	dir := presence.NewLocal()
	rtr := router.New(router.Config{
		Accounts: gateway,
		Messages: gateway,
		Groups:   gateway,
		Policy:   authz.New(gateway),
		Engine:   engine,
		Media:    blobs,
		Presence: dir,
		Verifier: verifier,
		Remote:   bridge,
	})
	rest := api.New(verifier, rtr, gateway)

	serverConfig := relay.DefaultConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.RouteTimeout = cfg.RouteTimeout
	serverConfig.HeartbeatInterval = cfg.HeartbeatInterval
	serverConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	server := relay.NewServer(serverConfig, rtr, dir, limiter, bridge, rest)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		bridge.Close()
		if err := blobs.Close(); err != nil {
			log.Printf("media store close error: %v", err)
		}
		if err := gateway.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
