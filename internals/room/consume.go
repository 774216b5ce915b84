package room

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/media"
	"github.com/sfu-core/engine/internals/participant"
)

type ConsumeResult struct {
	ProducerID     string `json:"producer_id"`
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Type           string `json:"type"`
	ProducerPaused bool   `json:"producer_paused"`
}

func consumerType(tag media.MediaTag, simulcastEnabled bool) string {
	if tag == media.TagVideo && simulcastEnabled {
		return "simulcast"
	}
	return "simple"
}

// buildConsumer creates the local track, attaches it to the subscriber's
// consumer transport, registers the producer as an RTP sink, and wires the
// event callbacks shared by both the pull and push flows.
func (r *Room) buildConsumer(subscriber *participant.Participant, ownerUserID string, tag media.MediaTag, producer *media.Producer, paused bool) (*media.Consumer, error) {
	ct := subscriber.ConsumerTransport()
	if ct == nil {
		return nil, errs.ErrTransportNotFound
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mimeTypeFor(producer.Kind())}, string(tag), ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}

	sender, err := ct.PeerConnection().AddTrack(localTrack)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	id := uuid.NewString()
	c := media.NewConsumer(id, producer, subscriber.UserID, consumerType(tag, r.gatewayConfig.SimulcastEnabled), localTrack, sender, paused, r.logger)

	producer.AddSink(id, localTrack)
	drainRTCP(sender)

	r.wireConsumerEvents(c, subscriber, producer, tag, ownerUserID)

	subscriber.SetConsumer(tag, ownerUserID, c)
	return c, nil
}

func mimeTypeFor(kind string) string {
	if kind == "audio" {
		return webrtc.MimeTypeOpus
	}
	return webrtc.MimeTypeVP8
}

func drainRTCP(sender *webrtc.RTPSender) {
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
}

// wireConsumerEvents implements the §4.3 consumer event wiring, shared by
// pull and push consume. Closure callbacks never throw; a panic inside one
// is recovered and discarded without being logged.
func (r *Room) wireConsumerEvents(c *media.Consumer, subscriber *participant.Participant, producer *media.Producer, tag media.MediaTag, ownerUserID string) {
	producer.OnClose(func() {
		r.notification(subscriber.UserID, "mediaProducerClose", map[string]any{
			"media_tag": tag,
			"user_id":   ownerUserID,
		})
		r.notification(subscriber.UserID, "consumerClosed", map[string]any{"id": c.ID(), "producer_id": c.ProducerID()})
		c.Close()
		producer.RemoveSink(c.ID())
		subscriber.RemoveConsumer(tag, ownerUserID)
	})
	producer.OnPause(func() {
		r.notification(subscriber.UserID, "consumerPaused", map[string]any{"id": c.ID()})
	})
	producer.OnResume(func() {
		r.notification(subscriber.UserID, "consumerResumed", map[string]any{"id": c.ID()})
	})
	producer.OnScoreChange(func(score int) {
		c.SetScore(score)
		r.notification(subscriber.UserID, "consumerScore", map[string]any{"id": c.ID(), "score": score})
	})
	if tag != media.TagAudio {
		producer.OnVideoOrientationChange(func(orientation int) {
			r.broadcastAll("mediaVideoOrientationChange", map[string]any{"user_id": ownerUserID, "orientation": orientation})
		})
		c.OnLayersChange(func(l media.Layers) {
			r.notification(subscriber.UserID, "consumersLayersChanged", map[string]any{
				"id":             c.ID(),
				"spatial_layer":  l.Spatial,
				"temporal_layer": l.Temporal,
			})
		})
	}

	c.OnClose(func() {
		producer.RemoveSink(c.ID())
	})
}

// PullConsume is the client-requested consume flow. Idempotent against a
// pre-existing consumer for the same (subscriber, owner, tag).
func (r *Room) PullConsume(subscriberUserID, ownerUserID string, tag media.MediaTag, caps participant.RTPCapabilities) (ConsumeResult, error) {
	subscriber, ok := r.participant(subscriberUserID)
	if !ok {
		return ConsumeResult{}, errs.ErrParticipantNotFound
	}
	owner, ok := r.participant(ownerUserID)
	if !ok {
		return ConsumeResult{}, errs.ErrProducerNotFound
	}

	if existing, ok := subscriber.Consumer(tag, ownerUserID); ok && !existing.Closed() {
		return ConsumeResult{
			ProducerID:     existing.ProducerID(),
			ID:             existing.ID(),
			Kind:           existing.Kind(),
			Type:           existing.Type(),
			ProducerPaused: existing.Producer().Paused(),
		}, nil
	}

	producer := owner.Producer(tag)
	if producer == nil || producer.Closed() {
		return ConsumeResult{}, errs.ErrCannotConsume
	}
	if caps.Empty() {
		return ConsumeResult{}, errs.ErrCannotConsume
	}
	if !r.routerSnapshot().CanConsume(producer.Kind(), caps.MimeTypes(producer.Kind())) {
		return ConsumeResult{}, errs.ErrCannotConsume
	}

	c, err := r.buildConsumer(subscriber, ownerUserID, tag, producer, producer.Paused())
	if err != nil {
		return ConsumeResult{}, err
	}

	if c.Type() == "simulcast" {
		c.SetPreferredLayers(media.Layers{Spatial: 2, Temporal: 2})
	}
	if tag == media.TagVideo {
		c.Resume()
	}

	r.applyBitrateGovernance()

	return ConsumeResult{
		ProducerID:     producer.ID(),
		ID:             c.ID(),
		Kind:           c.Kind(),
		Type:           c.Type(),
		ProducerPaused: producer.Paused(),
	}, nil
}

func (r *Room) routerSnapshot() *media.Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.router
}

// pushConsume is the server-initiated flow on join/new-produce: create a
// paused consumer, push newConsumer to the subscriber, await ack with a
// 20s timeout and up to 3 retries, then resume.
func (r *Room) pushConsume(subscriber *participant.Participant, ownerUserID string, tag media.MediaTag, producer *media.Producer) (*media.Consumer, error) {
	c, err := r.buildConsumer(subscriber, ownerUserID, tag, producer, true)
	if err != nil {
		return nil, err
	}
	if tag == media.TagAudio {
		c.SetPriority(255)
	}

	descriptor := map[string]any{
		"id":              c.ID(),
		"producer_id":     producer.ID(),
		"kind":            c.Kind(),
		"type":            c.Type(),
		"producer_paused": producer.Paused(),
		"user_id":         ownerUserID,
	}

	acked, err := r.awaitConsumerAck(subscriber, descriptor)
	if err != nil || !acked {
		c.Close()
		subscriber.RemoveConsumer(tag, ownerUserID)
		return nil, fmt.Errorf("%w: newConsumer ack", errs.ErrRequestTimeout)
	}

	if !subscriber.IsJoined() || producer.Closed() {
		c.Close()
		subscriber.RemoveConsumer(tag, ownerUserID)
		return nil, errs.ErrParticipantNotFound
	}

	c.Resume()
	r.applyBitrateGovernance()
	return c, nil
}

// AckSocket is implemented by sockets that support a request/ack round trip
// for the push newConsumer flow.
type AckSocket interface {
	SendAck(ctx context.Context, event string, payload interface{}) (bool, error)
}

func (r *Room) awaitConsumerAck(subscriber *participant.Participant, descriptor map[string]any) (bool, error) {
	ackSocket, ok := subscriber.Socket.(AckSocket)
	if !ok {
		// No ack-capable transport available (e.g. a stub in tests): treat
		// the push as immediately acknowledged.
		return true, nil
	}

	const retries = 3
	timeout := 20 * time.Second
	if r.gatewayConfig.ConsumerAckTimeout > 0 {
		timeout = r.gatewayConfig.ConsumerAckTimeout
	}
	attempts := retries + 1
	if r.gatewayConfig.ConsumerAckRetries > 0 {
		attempts = r.gatewayConfig.ConsumerAckRetries + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		ok, err := ackSocket.SendAck(ctx, "newConsumer", descriptor)
		cancel()
		if err == nil && ok {
			return true, nil
		}
		lastErr = err
	}
	return false, lastErr
}

// applyBitrateGovernance recomputes max_incoming_bitrate per §4.3 and
// applies it to every live producer/consumer transport in the room.
func (r *Room) applyBitrateGovernance() {
	r.mu.Lock()
	cfg := r.transportConfig
	participants := make([]*participant.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	r.mu.Unlock()

	producerCount := 0
	for _, p := range participants {
		producerCount += len(p.AllProducers())
	}

	chosen := cfg.MaximumAvailableOutgoingBitrate
	if producerCount >= 3 {
		factor := cfg.FactorIncomingBitrate
		if factor <= 0 {
			factor = 1.5
		}
		raw := int(math.Floor(float64(cfg.MaximumAvailableOutgoingBitrate) / (float64(producerCount-1) * factor)))
		chosen = max(raw, cfg.MinimumAvailableOutgoingBitrate)
	}

	for _, p := range participants {
		if t := p.ProducerTransport(); t != nil {
			t.SetMaxIncomingBitrate(chosen)
		}
		if t := p.ConsumerTransport(); t != nil {
			t.SetMaxIncomingBitrate(chosen)
		}
	}
}
