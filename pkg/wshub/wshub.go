// Package wshub implements the realtime websocket fan-out used by C8's
// realtime notification channel: a hub that
// tracks connections by user_id and pushes payloads to whichever of a
// user's sockets are currently open, non-fatally skipping users with none.
//
// Adapted from go-server/pkg/websocket/hub.go: that hub keyed clients by
// connection and broadcast to all of them. Fechatter's R-channel and
// notification delivery are user-addressed (a chat's members, a mentioned
// user), not global broadcasts, so Hub is keyed by user_id with a set of
// concurrent connections per user, and Send targets one user_id at a time.
package wshub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Conn is the minimal outbound interface a transport-level websocket
// connection must satisfy to register with the hub. It is satisfied
// structurally by whatever connection type a future client-facing upgrade
// handler supplies; this repo's scope stops at the domain/event layer
// behind that handler, so no concrete implementation lives here.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	userID int64
	conn   Conn
	send   chan []byte
}

// Hub maintains the set of active per-user connections and delivers
// targeted pushes to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*client]struct{}

	register   chan *client
	unregister chan *client

	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[int64]map[*client]struct{}),
		register:   make(chan *client, 256),
		unregister: make(chan *client, 256),
		log:        log,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.userID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(h.clients, c.userID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register attaches conn to userID and starts its write pump. The returned
// func detaches the connection; callers invoke it from their read-pump's
// defer.
func (h *Hub) Register(userID int64, conn Conn) func() {
	c := &client{userID: userID, conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go h.writePump(c)
	return func() { h.unregister <- c }
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(1, msg); err != nil {
			h.log.Warn().Err(err).Int64("user_id", c.userID).Msg("wshub: write failed, dropping connection")
			h.unregister <- c
			c.conn.Close()
			return
		}
	}
}

// ActiveSockets reports how many open connections userID currently has.
func (h *Hub) ActiveSockets(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Send pushes payload to every open connection for userID. It returns the
// number of connections the payload was queued to; 0 is not an error — the
// caller (C8's realtime channel) must treat an
// offline user as non-fatal.
func (h *Hub) Send(userID int64, payload []byte) int {
	h.mu.RLock()
	set := h.clients[userID]
	targets := make([]*client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		select {
		case c.send <- payload:
			delivered++
		case <-time.After(50 * time.Millisecond):
			h.log.Warn().Int64("user_id", userID).Msg("wshub: send channel full, dropping slow client")
			h.unregister <- c
		}
	}
	return delivered
}

// Broadcast pushes payload to every userID in the list, returning the
// total number of connections reached.
func (h *Hub) Broadcast(userIDs []int64, payload []byte) int {
	total := 0
	for _, uid := range userIDs {
		total += h.Send(uid, payload)
	}
	return total
}
