package relay

import (
	"log"
	"time"
)

// startHeartbeat begins a background goroutine that periodically pings every
// connection and evicts the ones that have gone quiet. The goroutine exits
// when the server's done channel is closed.
func (s *Server) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.checkConnections()
			}
		}
	}()
}

// checkConnections evicts connections with no frame received within
// Interval + Timeout and pings the rest. The pong comes back through the
// read loop, which refreshes the activity timestamp.
func (s *Server) checkConnections() {
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range s.conns.all() {
		idle := now.Sub(c.LastActivity())
		if idle > deadline {
			log.Printf("relay: heartbeat timeout id=%s idle=%s", c.ID, idle.Round(time.Second))
			s.removeConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("relay: heartbeat ping failed id=%s: %v", c.ID, err)
			s.removeConnection(c)
		}
	}
}
