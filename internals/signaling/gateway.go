package signaling

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/participant"
	"github.com/sfu-core/engine/internals/room"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Gateway is the outward-facing socket endpoint: it parses the handshake
// query, routes inbound events to the relevant Room, and is the transport
// for outbound events. It never touches a participant's producers or
// consumers directly; it only calls Room-level operations.
type Gateway struct {
	hub      *Hub
	registry *room.Registry
	cfg      config.GatewayConfig
	limiter  *limiter.Limiter
	pubsub   *PubSubManager
	logger   *zap.Logger
}

func NewGateway(registry *room.Registry, cfg config.GatewayConfig, logger *zap.Logger) *Gateway {
	rate := limiter.Rate{Period: time.Second, Limit: int64(cfg.ConnRatePerSec) + int64(cfg.ConnRateBurst)}
	store := memory.NewStore()

	g := &Gateway{
		hub:      NewHub(logger),
		registry: registry,
		cfg:      cfg,
		limiter:  limiter.New(store, rate),
		logger:   logger,
	}
	go g.hub.Run()
	return g
}

// WithPubSub attaches cross-instance relay; nil-safe if never called, so a
// single-process deployment carries no Redis dependency for signaling.
func (g *Gateway) WithPubSub(pm *PubSubManager) *Gateway {
	g.pubsub = pm
	return g
}

func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if lctx, err := g.limiter.Get(r.Context(), ip); err == nil && lctx.Reached {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	hq := HandshakeQuery{
		UserID:    r.URL.Query().Get("user_id"),
		SessionID: r.URL.Query().Get("session_id"),
		Device:    r.URL.Query().Get("device"),
		Kind:      r.URL.Query().Get("kind"),
	}
	if hq.UserID == "" || hq.SessionID == "" || hq.Device == "" || hq.Kind == "" {
		http.Error(w, "missing handshake query fields", http.StatusBadRequest)
		return
	}
	if len(hq.SessionID) > g.cfg.MaxRoomIDLength || len(hq.UserID) > g.cfg.MaxUserIDLength {
		http.Error(w, "handshake field too long", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	created, err := g.registry.InitSession(hq.SessionID)
	if err != nil {
		g.logger.Warn("init session failed", zap.String("session_id", hq.SessionID), zap.Error(err))
		conn.WriteJSON(Message{Event: "handshake", Data: mustJSON(map[string]any{"room_exists": false})})
		conn.Close()
		return
	}
	roomExists := !created

	client := NewClient(hq, conn, g.cfg, g.logger)
	client.OnMessage = g.dispatch
	client.OnDisconnect = g.onDisconnect

	g.hub.RegisterClient(client)
	if g.pubsub != nil {
		g.pubsub.SubscribeToRoom(hq.SessionID)
	}
	go client.WritePump()

	_ = client.Send("handshake", map[string]any{"room_exists": roomExists})

	client.ReadPump()
}

func (g *Gateway) onDisconnect(c *Client) {
	g.hub.UnregisterClient(c)
	g.registry.RemoveClient(c.SessionID, c.UserID)
	if g.pubsub != nil && len(g.hub.ClientsBySession(c.SessionID)) == 0 {
		g.pubsub.UnsubscribeFromRoom(c.SessionID)
	}
}

func (g *Gateway) dispatch(c *Client, msg Message) {
	switch msg.Event {
	case "joinRoom":
		g.handleJoinRoom(c, msg)
	case "addClient":
		g.handleAddClient(c, msg)
	case "media":
		g.handleMedia(c, msg)
	case "toggleDevice":
		g.handleToggleDevice(c, msg)
	case "mediaRoomClients":
		g.handleRoomClients(c, msg)
	case "mediaRoomInfo":
		g.handleRoomInfo(c, msg)
	case "mediaReconfigure":
		g.handleReconfigure(c, msg)
	case "handshake":
		_ = c.Send("handshake", map[string]any{"kind": c.Kind})
	case "ping":
		_ = c.Send("pong", map[string]any{"ts": time.Now().UnixMilli()})
	default:
		c.SendError(msg.Event, errs.ErrUnknownAction)
	}
}

func (g *Gateway) room(c *Client) (*room.Room, bool) {
	return g.registry.Get(c.SessionID)
}

func (g *Gateway) handleAddClient(c *Client, msg Message) {
	var payload addClientPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.SendError("addClient", fmt.Errorf("decode addClient: %w", err))
		return
	}
	r, ok := g.room(c)
	if !ok {
		c.SendError("addClient", errs.ErrParticipantNotFound)
		return
	}
	if err := r.AddClient(c.UserID, c, c.Device, payload.Kind); err != nil {
		c.SendError("addClient", err)
		return
	}
	_ = c.Send("addClient", map[string]any{"added": true})
}

func (g *Gateway) handleJoinRoom(c *Client, msg Message) {
	var payload joinRoomPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.SendError("joinRoom", fmt.Errorf("decode joinRoom: %w", err))
		return
	}
	r, ok := g.room(c)
	if !ok {
		c.SendError("joinRoom", errs.ErrParticipantNotFound)
		return
	}

	var caps participant.RTPCapabilities
	if len(payload.RTPCapabilities) > 0 {
		if err := json.Unmarshal(payload.RTPCapabilities, &caps); err != nil {
			c.SendError("joinRoom", fmt.Errorf("decode rtp_capabilities: %w", err))
			return
		}
	}
	producerCaps := participant.ProducerCapabilities{
		ProducerAudioEnabled: true,
		ProducerVideoEnabled: true,
		GlobalAudioEnabled:   true,
		GlobalVideoEnabled:   true,
	}
	if len(payload.ProducerCapabilities) > 0 {
		if err := json.Unmarshal(payload.ProducerCapabilities, &producerCaps); err != nil {
			c.SendError("joinRoom", fmt.Errorf("decode producer_capabilities: %w", err))
			return
		}
	}

	result, err := r.JoinRoom(c.UserID, caps, producerCaps)
	if err != nil {
		c.SendError("joinRoom", err)
		return
	}
	_ = c.Send("joinRoom", result)
}

func (g *Gateway) handleMedia(c *Client, msg Message) {
	var env MediaEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.SendError("media", fmt.Errorf("decode media envelope: %w", err))
		return
	}
	r, ok := g.room(c)
	if !ok {
		c.SendError("media", errs.ErrParticipantNotFound)
		return
	}

	result, err := r.SpeakMsClient(c.UserID, room.Action(env.Action), env.Data)
	if err != nil {
		c.SendError(env.Action, err)
		return
	}
	_ = c.Send(env.Action, result)
}

func (g *Gateway) handleToggleDevice(c *Client, msg Message) {
	var payload toggleDevicePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.SendError("toggleDevice", fmt.Errorf("decode toggleDevice: %w", err))
		return
	}
	r, ok := g.room(c)
	if !ok {
		return
	}
	r.ToggleDevice(c.UserID, payload.Action, payload.Kind)
	if g.pubsub != nil {
		_ = g.pubsub.PublishToRoom(c.SessionID, msg)
	}
}

func (g *Gateway) handleRoomClients(c *Client, _ Message) {
	r, ok := g.room(c)
	if !ok {
		c.SendError("mediaRoomClients", errs.ErrParticipantNotFound)
		return
	}
	_ = c.Send("mediaRoomClients", r.Stats().Clients)
}

func (g *Gateway) handleRoomInfo(c *Client, _ Message) {
	r, ok := g.room(c)
	if !ok {
		c.SendError("mediaRoomInfo", errs.ErrParticipantNotFound)
		return
	}
	_ = c.Send("mediaRoomInfo", r.Stats())
}

func (g *Gateway) handleReconfigure(c *Client, _ Message) {
	if err := g.registry.Reconfigure(c.SessionID); err != nil {
		c.SendError("mediaReconfigure", err)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
