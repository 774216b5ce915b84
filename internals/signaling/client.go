package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
)

// Client is one signaling connection: one participant's socket. It
// implements participant.Socket (fire-and-forget Send) and room.AckSocket
// (request/ack round trip for the push newConsumer flow).
type Client struct {
	ID        string
	UserID    string
	SessionID string
	Device    string
	Kind      string

	conn *websocket.Conn
	send chan Message

	cfg    config.GatewayConfig
	logger *zap.Logger

	mu        sync.Mutex
	pending   map[string]chan ackResult
	closeOnce sync.Once
	closed    atomic.Bool

	OnMessage    func(*Client, Message)
	OnDisconnect func(*Client)
}

type ackResult struct {
	ok  bool
	raw json.RawMessage
}

func NewClient(hq HandshakeQuery, conn *websocket.Conn, cfg config.GatewayConfig, logger *zap.Logger) *Client {
	return &Client{
		ID:        uuid.NewString(),
		UserID:    hq.UserID,
		SessionID: hq.SessionID,
		Device:    hq.Device,
		Kind:      hq.Kind,
		conn:      conn,
		send:      make(chan Message, 256),
		cfg:       cfg,
		logger:    logger,
		pending:   make(map[string]chan ackResult),
	}
}

// Send implements participant.Socket: a fire-and-forget notification.
func (c *Client) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return c.enqueue(Message{Event: event, Data: data})
}

// SendAck implements room.AckSocket: sends event and blocks for a reply
// carrying the same ack id, or until ctx is done.
func (c *Client) SendAck(ctx context.Context, event string, payload interface{}) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	ackID := uuid.NewString()
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.pending[ackID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.enqueue(Message{Event: event, Data: data, AckID: ackID}); err != nil {
		return false, err
	}

	select {
	case res := <-ch:
		return res.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Client) enqueue(msg Message) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("client send buffer full, dropping message", zap.String("client_id", c.ID), zap.String("event", msg.Event))
		return fmt.Errorf("send buffer full")
	}
}

// resolveAck routes an inbound ack reply to its waiting SendAck call.
func (c *Client) resolveAck(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.AckID]
	c.mu.Unlock()
	if !ok {
		return
	}
	ok2 := msg.Ok != nil && *msg.Ok
	select {
	case ch <- ackResult{ok: ok2, raw: msg.Data}:
	default:
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

func (c *Client) ReadPump() {
	defer func() {
		if c.OnDisconnect != nil {
			c.OnDisconnect(c)
		}
		c.conn.Close()
	}()

	readLimit := c.cfg.WSReadLimit
	if readLimit <= 0 {
		readLimit = 524288
	}
	pongTimeout := c.cfg.WSPongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		if msg.Event == "__ack" {
			c.resolveAck(msg)
			continue
		}

		if c.OnMessage != nil {
			c.OnMessage(c, msg)
		}
	}
}

func (c *Client) WritePump() {
	pingInterval := c.cfg.WSPingInterval
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	writeTimeout := c.cfg.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write error", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendRaw enqueues an already-built Message, used for relaying events
// received from another instance over pub/sub without re-marshaling.
func (c *Client) SendRaw(msg Message) error {
	return c.enqueue(msg)
}

func (c *Client) SendError(event string, err error) {
	data, _ := json.Marshal(errorEnvelope{Error: err.Error()})
	_ = c.enqueue(Message{Event: event, Data: data})
}
