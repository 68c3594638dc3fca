// Package ratelimit provides Redis-backed throttling using the INCR + EXPIRE
// window algorithm. The relay applies it per handle to message sends and per
// remote address to connection attempts.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one throttling policy: the Redis key prefix, maximum count
// allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleSend allows 10 message sends per 10 seconds per handle.
	RuleSend = Rule{Key: "rl:send:", Limit: 10, Window: 10 * time.Second}

	// RuleJoin allows 5 join attempts per minute per remote address,
	// keeping token guessing slow.
	RuleJoin = Rule{Key: "rl:join:", Limit: 5, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis. A nil *Limiter is
// valid and allows everything, so deployments without Redis skip throttling.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the identifier is within the rule's limit. It
// increments the counter and sets the expiry on first access. On Redis
// errors the method fails open so an outage does not block traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}

	// The first increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key would otherwise live forever and lock the
			// identifier out; drop it.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}
