// Package room implements the per-session container: admission, the
// command dispatcher, producer/consumer lifecycle and fan-out. One room is
// pinned to one worker at a time.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/media"
	"github.com/sfu-core/engine/internals/participant"
	"github.com/sfu-core/engine/internals/workerpool"
)

// Room is the per-session container: a router, an audio-level observer
// attached to it, and a keyed mapping of participants.
type Room struct {
	mu sync.Mutex // serializes every mutating command inside this room

	sessionID   string
	workerIndex int
	slot        *workerpool.Slot
	pool        *workerpool.Pool
	router      *media.Router
	observer    *media.AudioLevelObserver

	participants map[string]*participant.Participant

	codecs          []config.MediaCodec
	transportConfig config.TransportConfig
	gatewayConfig   config.GatewayConfig
	iceServers      []webrtc.ICEServer

	reconfiguring bool
	closed        bool

	logger *zap.Logger
}

func newRoom(sessionID string, slot *workerpool.Slot, pool *workerpool.Pool, codecs []config.MediaCodec, transportCfg config.TransportConfig, gatewayCfg config.GatewayConfig, iceServers []webrtc.ICEServer, logger *zap.Logger) (*Room, error) {
	router, err := createRouter(pool, slot, codecs)
	if err != nil {
		return nil, err
	}
	observer := media.NewAudioLevelObserver(gatewayCfg.SpeakerMaxEntries, gatewayCfg.SpeakerThreshold, gatewayCfg.SpeakerDetectionInterval, 1, logger)

	r := &Room{
		sessionID:       sessionID,
		workerIndex:     slot.Index,
		slot:            slot,
		pool:            pool,
		router:          router,
		observer:        observer,
		participants:    make(map[string]*participant.Participant),
		codecs:          codecs,
		transportConfig: transportCfg,
		gatewayConfig:   gatewayCfg,
		iceServers:      iceServers,
		logger:          logger.With(zap.String("session_id", sessionID)),
	}

	observer.OnVolumes(r.handleVolumes)
	observer.OnSilence(r.handleSilence)
	observer.Start(context.Background())

	return r, nil
}

func (r *Room) SessionID() string { return r.sessionID }

// WorkerIndex and ParticipantCount satisfy workerpool.RoomCounts.
func (r *Room) WorkerIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerIndex
}

func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// AddClient admits a pre-join participant. Room broadcasts do not check the
// joined flag, so the participant already receives room-wide fan-out before
// joinRoom.
func (r *Room) AddClient(userID string, socket participant.Socket, device, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[userID]; exists {
		return errs.ErrDuplicateParticipant
	}

	r.participants[userID] = participant.New(userID, socket, device, kind)
	return nil
}

type JoinResult struct {
	UserID    string                 `json:"user_id"`
	PeersInfo []participant.PeerInfo `json:"peers_info"`
}

// JoinRoom requires a pre-admitted participant, records rtp capabilities
// and enable flags, marks joined, and wires consumers for every
// already-producing peer.
func (r *Room) JoinRoom(userID string, caps participant.RTPCapabilities, producerCaps participant.ProducerCapabilities) (JoinResult, error) {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return JoinResult{}, errs.ErrParticipantNotFound
	}
	if p.IsJoined() {
		r.mu.Unlock()
		return JoinResult{}, errs.ErrAlreadyJoined
	}

	p.Join(caps, producerCaps)

	peersInfo := make([]participant.PeerInfo, 0, len(r.participants))
	type pending struct {
		peer *participant.Participant
		tag  media.MediaTag
		prod *media.Producer
	}
	var toConsume []pending
	for id, other := range r.participants {
		if id == userID {
			continue
		}
		peersInfo = append(peersInfo, other.Info())
		if !other.IsJoined() {
			continue
		}
		for tag, prod := range other.AllProducers() {
			toConsume = append(toConsume, pending{peer: other, tag: tag, prod: prod})
		}
	}
	r.mu.Unlock()

	for _, pend := range toConsume {
		if _, err := r.pushConsume(p, pend.peer.UserID, pend.tag, pend.prod); err != nil {
			r.logger.Warn("push consume on join failed",
				zap.String("subscriber", userID),
				zap.String("owner", pend.peer.UserID),
				zap.Error(err))
		}
	}

	r.broadcastAll("mediaClientConnected", map[string]any{"user_id": userID, "kind": p.Kind})

	return JoinResult{UserID: userID, PeersInfo: peersInfo}, nil
}

// RemoveClient tears a participant down and, if the room empties, closes
// the room itself.
func (r *Room) RemoveClient(userID string) {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(r.participants, userID)
	empty := len(r.participants) == 0
	r.mu.Unlock()

	r.broadcast(userID, "mediaClientDisconnect", map[string]any{"user_id": userID})

	p.TeardownMedia()

	if empty {
		r.Close()
	}
}

// Close notifies every remaining participant, tears their media down, and
// closes the observer. The router has no close step and is left as is.
// Idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	remaining := make([]*participant.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		remaining = append(remaining, p)
	}
	r.participants = make(map[string]*participant.Participant)
	observer := r.observer
	r.mu.Unlock()

	for _, p := range remaining {
		safeNotify(p.Socket, "mediaDisconnectMember", map[string]any{"user_id": p.UserID})
		p.TeardownMedia()
	}

	if observer != nil {
		observer.Close()
	}
}

// ReConfigureMedia rebinds the room onto a different worker slot. Not
// atomic: SpeakMsClient rejects inbound media commands with
// RoomReconfiguring while reconfiguring is true.
func (r *Room) ReConfigureMedia(newSlot *workerpool.Slot) error {
	r.mu.Lock()
	if r.reconfiguring {
		r.mu.Unlock()
		return fmt.Errorf("%w: already reconfiguring", errs.ErrRoomReconfiguring)
	}
	r.reconfiguring = true
	participants := make([]*participant.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	oldObserver := r.observer
	r.mu.Unlock()

	for _, p := range participants {
		p.TeardownMedia()
	}
	oldObserver.Close()

	newRouter, err := createRouter(r.pool, newSlot, r.codecs)
	if err != nil {
		r.mu.Lock()
		r.reconfiguring = false
		r.mu.Unlock()
		return err
	}
	newObserver := media.NewAudioLevelObserver(r.gatewayConfig.SpeakerMaxEntries, r.gatewayConfig.SpeakerThreshold, r.gatewayConfig.SpeakerDetectionInterval, 1, r.logger)
	newObserver.OnVolumes(r.handleVolumes)
	newObserver.OnSilence(r.handleSilence)
	newObserver.Start(context.Background())

	r.mu.Lock()
	r.slot = newSlot
	r.workerIndex = newSlot.Index
	r.router = newRouter
	r.observer = newObserver
	r.reconfiguring = false
	r.mu.Unlock()

	r.broadcastAll("mediaReconfigure", map[string]any{"session_id": r.sessionID})
	return nil
}

func (r *Room) participant(userID string) (*participant.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	return p, ok
}

func (r *Room) isReconfiguring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconfiguring
}

func safeNotify(s participant.Socket, event string, payload interface{}) {
	if s == nil {
		return
	}
	_ = s.Send(event, payload)
}

// createRouter builds a worker-bound router through the pool's circuit
// breaker, so a worker stuck mid-init fails fast instead of wedging
// admission or reconfiguration.
func createRouter(pool *workerpool.Pool, slot *workerpool.Slot, codecs []config.MediaCodec) (*media.Router, error) {
	result, err := pool.CreateRouter(context.Background(), func() (any, error) {
		return media.NewRouter(slot.API(), codecs), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*media.Router), nil
}
