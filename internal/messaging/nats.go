// Package messaging provides the NATS bridge that carries deliveries between
// relay instances. Each instance subscribes to a per-handle subject for every
// handle joined locally; the router publishes to a handle's subject when the
// recipient is not in the local Presence Directory, so a peer instance that
// holds the connection can complete the delivery.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectDeliver is the per-handle delivery subject prefix (+ .<handle>).
const SubjectDeliver = "relay.deliver"

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // reconnect forever
	}
}

// Bridge wraps the NATS connection with per-handle delivery subscriptions.
type Bridge struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription // handle -> subscription
}

// NewBridge connects to NATS and returns a ready bridge. It returns an error
// if the initial connection fails; reconnects afterwards are automatic.
func NewBridge(config Config) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bridge{conn: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// Deliver publishes one serialized server event to the handle's subject. A
// nil *Bridge drops the delivery, matching the best-effort contract for
// recipients no instance holds.
func (b *Bridge) Deliver(handle string, data []byte) error {
	if b == nil {
		return nil
	}
	return b.conn.Publish(SubjectDeliver+"."+handle, data)
}

// SubscribeHandle starts forwarding the handle's deliveries to handler. A
// prior subscription for the same handle is replaced, mirroring the
// last-writer-wins registration in the Presence Directory.
func (b *Bridge) SubscribeHandle(handle string, handler func(data []byte)) error {
	if b == nil {
		return nil
	}
	sub, err := b.conn.Subscribe(SubjectDeliver+"."+handle, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", handle, err)
	}

	b.mu.Lock()
	if old, ok := b.subs[handle]; ok {
		_ = old.Unsubscribe()
	}
	b.subs[handle] = sub
	b.mu.Unlock()
	return nil
}

// UnsubscribeHandle stops the handle's delivery subscription, if any.
func (b *Bridge) UnsubscribeHandle(handle string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	sub, ok := b.subs[handle]
	delete(b.subs, handle)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", handle, err)
	}
	return nil
}

// Close drains all subscriptions and the connection.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	for handle, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", handle, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] bridge closed")
}
