package signaling

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel prefix for Redis pub/sub, one channel per session (room).
const RoomChannelPrefix = "sfu:room:"

// PubSubMessage wraps a relayed event with origin info so an instance can
// ignore its own publications echoed back by Redis.
type PubSubMessage struct {
	InstanceID string  `json:"instance_id"`
	Message    Message `json:"message"`
}

// PubSubManager relays room broadcasts across SFU instances sharing a
// session: a Gateway publishes here when it relays a toggleDevice event
// locally, and every instance subscribed to that session's channel
// delivers the event to its own locally-held clients.
type PubSubManager struct {
	redis      *redis.Client
	hub        *Hub
	instanceID string
	logger     *zap.Logger

	mu   sync.RWMutex
	subs map[string]*redis.PubSub // sessionID -> subscription

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPubSubManager(redisClient *redis.Client, hub *Hub, logger *zap.Logger) *PubSubManager {
	ctx, cancel := context.WithCancel(context.Background())

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	pm := &PubSubManager{
		redis:      redisClient,
		hub:        hub,
		instanceID: instanceID,
		logger:     logger,
		subs:       make(map[string]*redis.PubSub),
		ctx:        ctx,
		cancel:     cancel,
	}

	logger.Info("pubsub manager initialized", zap.String("instance_id", instanceID))
	return pm
}

func RoomChannel(sessionID string) string {
	return RoomChannelPrefix + sessionID
}

// PublishToRoom ships msg to every other instance subscribed to sessionID.
func (p *PubSubManager) PublishToRoom(sessionID string, msg Message) error {
	pubMsg := PubSubMessage{InstanceID: p.instanceID, Message: msg}

	data, err := json.Marshal(pubMsg)
	if err != nil {
		p.logger.Error("marshal pubsub message", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	channel := RoomChannel(sessionID)
	if err := p.redis.Publish(p.ctx, channel, data).Err(); err != nil {
		p.logger.Error("publish to redis", zap.String("session_id", sessionID), zap.String("channel", channel), zap.Error(err))
		return err
	}
	return nil
}

// SubscribeToRoom starts relaying a session's channel to local clients.
func (p *PubSubManager) SubscribeToRoom(sessionID string) {
	p.mu.Lock()
	if _, exists := p.subs[sessionID]; exists {
		p.mu.Unlock()
		return
	}
	channel := RoomChannel(sessionID)
	sub := p.redis.Subscribe(p.ctx, channel)
	p.subs[sessionID] = sub
	p.mu.Unlock()

	p.logger.Info("subscribed to room channel", zap.String("session_id", sessionID), zap.String("channel", channel))
	go p.listenToChannel(sessionID, sub)
}

func (p *PubSubManager) UnsubscribeFromRoom(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, exists := p.subs[sessionID]
	if !exists {
		return
	}
	if err := sub.Close(); err != nil {
		p.logger.Warn("close subscription", zap.String("session_id", sessionID), zap.Error(err))
	}
	delete(p.subs, sessionID)
	p.logger.Info("unsubscribed from room channel", zap.String("session_id", sessionID))
}

func (p *PubSubManager) listenToChannel(sessionID string, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.handlePubSubMessage(sessionID, msg)
		}
	}
}

func (p *PubSubManager) handlePubSubMessage(sessionID string, redisMsg *redis.Message) {
	var pubMsg PubSubMessage
	if err := json.Unmarshal([]byte(redisMsg.Payload), &pubMsg); err != nil {
		p.logger.Warn("unmarshal pubsub message", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if pubMsg.InstanceID == p.instanceID {
		return
	}
	p.logger.Debug("received cross-instance message",
		zap.String("session_id", sessionID),
		zap.String("from_instance", pubMsg.InstanceID),
		zap.String("event", pubMsg.Message.Event),
	)
	p.deliverToLocalClients(sessionID, pubMsg.Message)
}

func (p *PubSubManager) deliverToLocalClients(sessionID string, msg Message) {
	for _, client := range p.hub.ClientsBySession(sessionID) {
		if err := client.SendRaw(msg); err != nil {
			p.logger.Debug("relay to local client failed", zap.String("client_id", client.ID), zap.Error(err))
		}
	}
}

func (p *PubSubManager) GetInstanceID() string {
	return p.instanceID
}

func (p *PubSubManager) Close() error {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	for sessionID, sub := range p.subs {
		if err := sub.Close(); err != nil {
			p.logger.Warn("close subscription during shutdown", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	p.subs = make(map[string]*redis.PubSub)
	p.logger.Info("pubsub manager closed")
	return nil
}

func (p *PubSubManager) Ping() error {
	ctx, cancel := context.WithTimeout(p.ctx, 3*time.Second)
	defer cancel()
	return p.redis.Ping(ctx).Err()
}
