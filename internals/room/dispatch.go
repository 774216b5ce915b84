package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/media"
	"github.com/sfu-core/engine/internals/participant"
)

// Action is the closed set of commands the dispatcher understands, modeled
// as a sum type rather than a dynamic string-keyed handler map.
type Action string

const (
	ActionGetRouterRtpCapabilities Action = "getRouterRtpCapabilities"
	ActionCreateWebRtcTransport    Action = "createWebRtcTransport"
	ActionConnectWebRtcTransport   Action = "connectWebRtcTransport"
	ActionProduce                  Action = "produce"
	ActionConsume                  Action = "consume"
	ActionRestartIce               Action = "restartIce"
	ActionRequestConsumerKeyFrame  Action = "requestConsumerKeyFrame"
	ActionGetTransportStats        Action = "getTransportStats"
	ActionGetProducerStats         Action = "getProducerStats"
	ActionGetConsumerStats         Action = "getConsumerStats"
	ActionGetAudioProducerIds      Action = "getAudioProducerIds"
	ActionGetVideoProducerIds      Action = "getVideoProducerIds"
	ActionProducerClose            Action = "producerClose"
	ActionProducerPause            Action = "producerPause"
	ActionProducerResume           Action = "producerResume"
	ActionAllProducerClose         Action = "allProducerClose"
	ActionAllProducerPause         Action = "allProducerPause"
	ActionAllProducerResume        Action = "allProducerResume"
)

// SpeakMsClient is the per-request command dispatcher. No handler throws to
// the socket; failures are returned as a (nil, error) pair that the
// gateway wraps into an errs.Envelope.
func (r *Room) SpeakMsClient(userID string, action Action, data json.RawMessage) (interface{}, error) {
	if r.isReconfiguring() {
		return nil, errs.ErrRoomReconfiguring
	}

	p, ok := r.participant(userID)
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}

	switch action {
	case ActionGetRouterRtpCapabilities:
		return r.handleGetRouterRtpCapabilities()
	case ActionCreateWebRtcTransport:
		return r.handleCreateWebRtcTransport(p, data)
	case ActionConnectWebRtcTransport:
		return r.handleConnectWebRtcTransport(p, data)
	case ActionProduce:
		return r.handleProduce(p, data)
	case ActionConsume:
		return r.handleConsume(p, data)
	case ActionRestartIce:
		return r.handleRestartIce(p, data)
	case ActionRequestConsumerKeyFrame:
		return r.handleRequestConsumerKeyFrame(p, data)
	case ActionGetTransportStats:
		return r.handleGetTransportStats(p, data)
	case ActionGetProducerStats:
		return r.handleGetProducerStats(p, data)
	case ActionGetConsumerStats:
		return r.handleGetConsumerStats(p, data)
	case ActionGetAudioProducerIds:
		return r.handleGetProducerIDs(media.TagAudio)
	case ActionGetVideoProducerIds:
		return r.handleGetProducerIDs(media.TagVideo)
	case ActionProducerClose:
		return r.handleProducerClose(p, data)
	case ActionProducerPause:
		return r.handleProducerPause(p, data)
	case ActionProducerResume:
		return r.handleProducerResume(p, data)
	case ActionAllProducerClose:
		return r.handleAllProducer(data, r.closeOneProducer)
	case ActionAllProducerPause:
		return r.handleAllProducer(data, r.pauseOneProducer)
	case ActionAllProducerResume:
		return r.handleAllProducer(data, r.resumeOneProducer)
	default:
		return nil, errs.ErrUnknownAction
	}
}

type routerCapabilitiesResult struct {
	Codecs []codecCapabilityOut `json:"codecs"`
}

type codecCapabilityOut struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
}

func (r *Room) handleGetRouterRtpCapabilities() (interface{}, error) {
	router := r.routerSnapshot()
	out := routerCapabilitiesResult{}
	for _, c := range router.Codecs() {
		out.Codecs = append(out.Codecs, codecCapabilityOut{Kind: c.Kind, MimeType: c.MimeType, ClockRate: c.ClockRate})
	}
	return out, nil
}

type createTransportRequest struct {
	Kind string `json:"kind"`
}

func (r *Room) handleCreateWebRtcTransport(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req createTransportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode createWebRtcTransport: %w", err)
	}

	router := r.routerSnapshot()
	pc, err := router.NewPeerConnection(r.iceServers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRoomInit, err)
	}

	id := uuid.NewString()
	var kind media.TransportKind
	switch req.Kind {
	case "producer":
		kind = media.TransportProducer
	case "consumer":
		kind = media.TransportConsumer
	default:
		return nil, fmt.Errorf("invalid transport kind %q", req.Kind)
	}

	t := media.NewTransport(id, p.UserID, kind, pc, r.logger)
	t.OnNegotiationNeeded(func() {
		r.notification(p.UserID, "renegotiate", map[string]any{"transport_id": id})
	})

	if kind == media.TransportProducer {
		p.SetProducerTransport(t)
	} else {
		p.SetConsumerTransport(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	desc, err := t.Descriptor(ctx)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("describe transport: %w", err)
	}
	return desc, nil
}

type connectTransportRequest struct {
	Kind           string                 `json:"kind"`
	DTLSParameters media.DTLSParameters   `json:"dtls_parameters"`
}

func (r *Room) handleConnectWebRtcTransport(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req connectTransportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode connectWebRtcTransport: %w", err)
	}

	var t *media.Transport
	if req.Kind == "producer" {
		t = p.ProducerTransport()
	} else {
		t = p.ConsumerTransport()
	}
	if t == nil {
		return nil, errs.ErrTransportNotFound
	}

	if err := t.Connect(req.DTLSParameters); err != nil {
		return nil, fmt.Errorf("connect transport: %w", err)
	}
	return map[string]any{"connected": true}, nil
}

type produceRequest struct {
	Kind    string            `json:"kind"`
	AppData map[string]string `json:"app_data"`
}

type produceResult struct {
	ID string `json:"id"`
}

func (r *Room) handleProduce(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req produceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode produce: %w", err)
	}

	transport := p.ProducerTransport()
	if transport == nil {
		return nil, errs.ErrTransportNotFound
	}

	tag := media.MediaTag(req.AppData["media_tag"])
	track, receiver, ok := transport.ClaimTrack(string(tag))
	if !ok {
		return nil, fmt.Errorf("no pending track for media_tag %q", tag)
	}

	id := uuid.NewString()
	producer := media.NewProducer(id, p.UserID, req.Kind, tag, track, receiver, r.logger)
	p.SetProducer(tag, producer)
	producer.StartForwarding()
	producer.StartRTCPLoop()

	if tag == media.TagAudio {
		r.observerSnapshot().AddProducer(producer)
		producer.OnRTP(func(pkt *rtp.Packet) {
			r.observerSnapshot().TrackPacket(producer.ID(), pkt)
		})
	}

	// Policy: pause audio/video by default, leave screen-share running.
	if tag == media.TagScreen {
		// already marked screen_sharing=true via SetProducer
	} else {
		producer.Pause()
	}

	r.pushConsumeToJoinedPeers(p, tag, producer)
	r.applyBitrateGovernance()

	return produceResult{ID: id}, nil
}

func (r *Room) pushConsumeToJoinedPeers(owner *participant.Participant, tag media.MediaTag, producer *media.Producer) {
	r.mu.Lock()
	var peers []*participant.Participant
	for id, other := range r.participants {
		if id == owner.UserID || !other.IsJoined() {
			continue
		}
		peers = append(peers, other)
	}
	r.mu.Unlock()

	for _, peer := range peers {
		if _, err := r.pushConsume(peer, owner.UserID, tag, producer); err != nil {
			r.logger.Warn("push consume on produce failed",
				zap.String("subscriber", peer.UserID),
				zap.String("owner", owner.UserID),
				zap.Error(err))
		}
	}
}

func (r *Room) observerSnapshot() *media.AudioLevelObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

type consumeRequest struct {
	PeerUserID      string                       `json:"peer_user_id"`
	MediaTag        string                       `json:"media_tag"`
	RTPCapabilities participant.RTPCapabilities  `json:"rtp_capabilities"`
}

func (r *Room) handleConsume(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req consumeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode consume: %w", err)
	}
	return r.PullConsume(p.UserID, req.PeerUserID, media.MediaTag(req.MediaTag), req.RTPCapabilities)
}

type restartIceRequest struct {
	Kind string `json:"kind"`
}

func (r *Room) handleRestartIce(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req restartIceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode restartIce: %w", err)
	}
	var t *media.Transport
	if req.Kind == "producer" {
		t = p.ProducerTransport()
	} else {
		t = p.ConsumerTransport()
	}
	if t == nil {
		return nil, errs.ErrTransportNotFound
	}
	if err := t.RestartICE(); err != nil {
		return nil, err
	}
	return map[string]any{"restarted": true}, nil
}

type consumerIDRequest struct {
	PeerUserID string `json:"peer_user_id"`
	MediaTag   string `json:"media_tag"`
}

func (r *Room) handleRequestConsumerKeyFrame(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req consumerIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode requestConsumerKeyFrame: %w", err)
	}
	c, ok := p.Consumer(media.MediaTag(req.MediaTag), req.PeerUserID)
	if !ok {
		return nil, errs.ErrConsumerNotFound
	}

	// The PLI must travel back to the peer actually sending the media, over
	// its producer transport, not over the requesting subscriber's.
	owner, ok := r.participant(c.Producer().OwnerUserID())
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}
	ownerTransport := owner.ProducerTransport()
	if ownerTransport == nil {
		return nil, errs.ErrTransportNotFound
	}
	if err := c.Producer().RequestKeyFrame(ownerTransport.PeerConnection()); err != nil {
		return nil, err
	}
	return map[string]any{"requested": true}, nil
}

func (r *Room) handleGetTransportStats(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req restartIceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode getTransportStats: %w", err)
	}
	var t *media.Transport
	if req.Kind == "producer" {
		t = p.ProducerTransport()
	} else {
		t = p.ConsumerTransport()
	}
	if t == nil {
		return nil, errs.ErrTransportNotFound
	}
	return map[string]any{"id": t.ID(), "closed": t.IsClosed()}, nil
}

type mediaTagRequest struct {
	MediaTag string `json:"media_tag"`
}

func (r *Room) handleGetProducerStats(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req mediaTagRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode getProducerStats: %w", err)
	}
	producer := p.Producer(media.MediaTag(req.MediaTag))
	if producer == nil {
		return nil, errs.ErrProducerNotFound
	}
	return producer.Stats(), nil
}

func (r *Room) handleGetConsumerStats(p *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req consumerIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode getConsumerStats: %w", err)
	}
	c, ok := p.Consumer(media.MediaTag(req.MediaTag), req.PeerUserID)
	if !ok {
		return nil, errs.ErrConsumerNotFound
	}
	return c.Stats(), nil
}

func (r *Room) handleGetProducerIDs(tag media.MediaTag) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, p := range r.participants {
		if prod := p.Producer(tag); prod != nil && !prod.Closed() {
			ids = append(ids, prod.ID())
		}
	}
	return ids, nil
}

type producerActionRequest struct {
	UserID   string `json:"user_id"`
	Kind     string `json:"kind"`
	IsGlobal bool   `json:"is_global"`
}

func tagForKind(kind string, isScreen bool) media.MediaTag {
	if isScreen {
		return media.TagScreen
	}
	if kind == "audio" {
		return media.TagAudio
	}
	return media.TagVideo
}

type producerCloseRequest struct {
	UserID       string `json:"user_id"`
	Kind         string `json:"kind"`
	IsScreenMedia bool  `json:"is_screen_media"`
}

func (r *Room) handleProducerClose(requester *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req producerCloseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode producerClose: %w", err)
	}
	target, ok := r.participant(req.UserID)
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}
	tag := tagForKind(req.Kind, req.IsScreenMedia)
	if err := r.closeProducer(target, tag); err != nil {
		return nil, err
	}
	return map[string]any{"closed": true}, nil
}

// closeProducer closes every matching per-peer consumer first, then the
// producer, then clears screen_sharing if it was the screen producer.
func (r *Room) closeProducer(owner *participant.Participant, tag media.MediaTag) error {
	producer := owner.Producer(tag)
	if producer == nil {
		return errs.ErrProducerNotFound
	}

	r.mu.Lock()
	var others []*participant.Participant
	for id, p := range r.participants {
		if id != owner.UserID {
			others = append(others, p)
		}
	}
	r.mu.Unlock()

	for _, other := range others {
		if c, ok := other.Consumer(tag, owner.UserID); ok {
			c.Close()
			other.RemoveConsumer(tag, owner.UserID)
		}
	}

	producer.Close()
	owner.ClearProducer(tag)
	r.applyBitrateGovernance()

	r.broadcastAll("mediaProducerClose", map[string]any{"media_tag": tag, "user_id": owner.UserID})
	return nil
}

func (r *Room) handleProducerPause(requester *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req producerActionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode producerPause: %w", err)
	}
	target, ok := r.participant(req.UserID)
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}
	r.pauseProducer(target, req.Kind, req.IsGlobal)
	return map[string]any{"paused": true}, nil
}

// pauseProducer implements the global-mute precedence rule: a non-global
// pause is a no-op when the target's global enable flag for that kind is
// already off.
func (r *Room) pauseProducer(target *participant.Participant, kind string, isGlobal bool) {
	if !isGlobal && !target.GlobalEnabled(kind) {
		return
	}

	tag := tagForKind(kind, false)
	producer := target.Producer(tag)
	if producer == nil || producer.Closed() || producer.Paused() {
		return
	}

	producer.Pause()
	target.SetProducerEnabled(kind, false)

	r.broadcastAll("mediaProducerPause", map[string]any{
		"media_tag": tag,
		"is_global": isGlobal,
		"user_id":   target.UserID,
	})
}

func (r *Room) handleProducerResume(requester *participant.Participant, data json.RawMessage) (interface{}, error) {
	var req producerActionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode producerResume: %w", err)
	}
	target, ok := r.participant(req.UserID)
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}
	r.resumeProducer(target, req.Kind, req.IsGlobal)
	return map[string]any{"resumed": true}, nil
}

func (r *Room) resumeProducer(target *participant.Participant, kind string, isGlobal bool) {
	tag := tagForKind(kind, false)
	producer := target.Producer(tag)
	if producer == nil || producer.Closed() {
		r.notification(target.UserID, "mediaReproduce", map[string]any{"media_tag": tag})
		return
	}
	if !producer.Paused() {
		return
	}

	producer.Resume()
	target.SetProducerEnabled(kind, true)

	r.broadcastAll("mediaProducerResume", map[string]any{
		"media_tag": tag,
		"is_global": isGlobal,
		"user_id":   target.UserID,
	})
}

// closeOneProducer is the bulk-close variant: a producer that was actually
// closed additionally gets a mediaReproduce nudge to its owner.
func (r *Room) closeOneProducer(p *participant.Participant, kind string) {
	tag := tagForKind(kind, false)
	if p.Producer(tag) == nil {
		return
	}
	if err := r.closeProducer(p, tag); err == nil {
		r.notification(p.UserID, "mediaReproduce", map[string]any{"media_tag": tag})
	}
}

func (r *Room) pauseOneProducer(p *participant.Participant, kind string) {
	r.pauseProducer(p, kind, true)
}

func (r *Room) resumeOneProducer(p *participant.Participant, kind string) {
	r.resumeProducer(p, kind, true)
}

type allProducerRequest struct {
	Kind string `json:"kind"`
}

// handleAllProducer iterates over participants applying fn; producers that
// close as a result emit mediaReproduce to their owner (emitted by
// closeOneProducer, the fn of the bulk-close case).
func (r *Room) handleAllProducer(data json.RawMessage, fn func(*participant.Participant, string)) (interface{}, error) {
	var req allProducerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode bulk producer action: %w", err)
	}

	r.mu.Lock()
	targets := make([]*participant.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		fn(p, req.Kind)
	}
	return map[string]any{"applied": len(targets)}, nil
}

