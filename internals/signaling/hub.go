package signaling

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks every live connection process-wide. Room-level fan-out goes
// through participant.Socket (each Room holds the sockets of its own
// members); the Hub exists to look connections up by session for connection
// bookkeeping and for relays, like toggleDevice, that live outside the
// room command dispatcher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.logger.Info("client registered", zap.String("client_id", c.ID), zap.String("user_id", c.UserID), zap.String("session_id", c.SessionID))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				c.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("client unregistered", zap.String("client_id", c.ID), zap.String("user_id", c.UserID), zap.String("session_id", c.SessionID))

		case <-h.done:
			return
		}
	}
}

// Stop terminates Run's loop. Safe to call at most once.
func (h *Hub) Stop() { close(h.done) }

func (h *Hub) RegisterClient(c *Client)   { h.register <- c }
func (h *Hub) UnregisterClient(c *Client) { h.unregister <- c }

func (h *Hub) ClientsBySession(sessionID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0)
	for _, c := range h.clients {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}
