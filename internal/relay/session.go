package relay

import (
	"context"
	"log"

	"github.com/onemessenger/relay/internal/metrics"
	"github.com/onemessenger/relay/internal/presence"
	"github.com/onemessenger/relay/internal/protocol"
	"github.com/onemessenger/relay/internal/ratelimit"
)

// sessionConn is the slice of Connection the session logic needs. Narrowed
// to an interface so the state machine is testable without a network socket.
type sessionConn interface {
	presence.Conn
	SessionID() string
	Handle() string
	bind(handle string)
}

// handleFrame walks a session through its state machine for one inbound
// frame. Before a successful join the only event that does anything is join;
// everything else, including malformed and unknown frames, is dropped
// without a reply so an unauthenticated peer learns nothing.
func (s *Server) handleFrame(c sessionConn, data []byte) {
	eventType, evt, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("relay: drop frame id=%s: %v", c.SessionID(), err)
		return
	}

	if c.Handle() == "" {
		join, ok := evt.(protocol.JoinEvent)
		if !ok {
			log.Printf("relay: drop pre-join event type=%q id=%s", eventType, c.SessionID())
			return
		}
		s.handleJoin(c, join)
		return
	}

	switch evt := evt.(type) {
	case protocol.JoinEvent:
		// Already joined; a repeat join is a no-op.
	case protocol.PrivateMessageEvent:
		s.handleSend(c, func(ctx context.Context) error {
			return s.router.SendPrivate(ctx, c.Handle(), c, evt)
		})
	case protocol.GroupMessageEvent:
		s.handleSend(c, func(ctx context.Context) error {
			return s.router.SendGroup(ctx, c.Handle(), c, evt)
		})
	default:
		log.Printf("relay: drop unhandled event type=%q id=%s", eventType, c.SessionID())
	}
}

// handleJoin authenticates the session. Every failure is silent: the client
// sees its join ignored, never why. On success the handle is bound, the
// presence entry is claimed (displacing any older session for the handle),
// and the bridge subscription for the handle is established.
func (s *Server) handleJoin(c sessionConn, join protocol.JoinEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RouteTimeout)
	defer cancel()

	if !s.limiter.Allow(ctx, c.SessionID(), ratelimit.RuleJoin) {
		log.Printf("relay: join rate limited id=%s", c.SessionID())
		return
	}

	account, err := s.router.Join(ctx, join.Token)
	if err != nil {
		log.Printf("relay: join denied id=%s", c.SessionID())
		return
	}

	c.bind(account.Handle)
	s.dir.Register(account.Handle, c)
	metrics.SessionsJoined.Inc()

	if s.bridge != nil {
		handle := account.Handle
		err := s.bridge.SubscribeHandle(handle, func(data []byte) {
			// Route through the directory so a session that has since been
			// superseded never receives the frame.
			if conn, ok := s.dir.Lookup(handle); ok {
				if err := conn.Send(data); err != nil {
					log.Printf("relay: bridged delivery to %s failed: %v", handle, err)
				}
			}
		})
		if err != nil {
			log.Printf("relay: bridge subscribe handle=%s: %v", handle, err)
		}
	}

	log.Printf("relay: session joined id=%s handle=%s", c.SessionID(), account.Handle)
}

// handleSend applies the per-handle send rate limit, then runs the routing
// pipeline under the configured deadline.
func (s *Server) handleSend(c sessionConn, send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RouteTimeout)
	defer cancel()

	if !s.limiter.Allow(ctx, c.Handle(), ratelimit.RuleSend) {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		if err := c.Send(protocol.NewNotice("rate limit exceeded, slow down")); err != nil {
			log.Printf("relay: rate limit notice to %s failed: %v", c.Handle(), err)
		}
		return
	}

	if err := send(ctx); err != nil {
		log.Printf("relay: route event handle=%s: %v", c.Handle(), err)
	}
}
