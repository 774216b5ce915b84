package room

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/state"
	"github.com/sfu-core/engine/internals/workerpool"
)

// Registry is the process-wide Room registry; it is supplied to the
// gateway as an explicit dependency rather than kept as a package global.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	pool            *workerpool.Pool
	codecs          []config.MediaCodec
	transportConfig config.TransportConfig
	gatewayConfig   config.GatewayConfig
	iceServers      []webrtc.ICEServer
	state           *state.Manager
	logger          *zap.Logger
}

func NewRegistry(pool *workerpool.Pool, codecs []config.MediaCodec, transportCfg config.TransportConfig, gatewayCfg config.GatewayConfig, iceServers []webrtc.ICEServer, logger *zap.Logger) *Registry {
	return &Registry{
		rooms:           make(map[string]*Room),
		pool:            pool,
		codecs:          codecs,
		transportConfig: transportCfg,
		gatewayConfig:   gatewayCfg,
		iceServers:      iceServers,
		logger:          logger,
	}
}

// WithState attaches worker-pinning persistence; nil-safe if never called.
func (reg *Registry) WithState(m *state.Manager) *Registry {
	reg.state = m
	return reg
}

// InitSession creates the room for sessionID if absent. Returns false,nil
// if a room already exists (no mutation); failure at any sub-step leaves
// no partial room.
func (reg *Registry) InitSession(sessionID string) (bool, error) {
	reg.mu.Lock()
	if _, exists := reg.rooms[sessionID]; exists {
		reg.mu.Unlock()
		return false, nil
	}
	reg.mu.Unlock()

	counts := reg.roomCounts()
	slot, err := reg.pool.PickLeastLoaded(counts)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrRoomInit, err)
	}

	r, err := newRoom(sessionID, slot, reg.pool, reg.codecs, reg.transportConfig, reg.gatewayConfig, reg.iceServers, reg.logger)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrRoomInit, err)
	}

	reg.mu.Lock()
	if _, exists := reg.rooms[sessionID]; exists {
		reg.mu.Unlock()
		r.Close()
		return false, nil
	}
	reg.rooms[sessionID] = r
	reg.mu.Unlock()

	if reg.state != nil {
		if err := reg.state.PinRoomWorker(sessionID, slot.Index); err != nil {
			reg.logger.Warn("pin room worker failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	return true, nil
}

func (reg *Registry) Get(sessionID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[sessionID]
	return r, ok
}

// Unregister removes a room from the registry; called once its participant
// count reaches zero.
func (reg *Registry) Unregister(sessionID string) {
	reg.mu.Lock()
	delete(reg.rooms, sessionID)
	reg.mu.Unlock()

	if reg.state != nil {
		if err := reg.state.UnpinRoomWorker(sessionID); err != nil {
			reg.logger.Warn("unpin room worker failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// RefreshPoolCounters recomputes every slot's live participant/room counts
// from the rooms currently registered, rather than trusting drift-prone
// incremental counters.
func (reg *Registry) RefreshPoolCounters() {
	reg.pool.RefreshCounters(reg.roomCounts())
}

func (reg *Registry) roomCounts() []workerpool.RoomCounts {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]workerpool.RoomCounts, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

type Stats struct {
	ID            string                 `json:"id"`
	Worker        int                    `json:"worker"`
	Clients       []ClientStats          `json:"clients"`
	GroupByDevice map[string]int         `json:"group_by_device"`
}

type ClientStats struct {
	ID           string `json:"id"`
	Device       string `json:"device"`
	ProduceAudio bool   `json:"produce_audio"`
	ProduceVideo bool   `json:"produce_video"`
}

func (reg *Registry) AllStats() []Stats {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	out := make([]Stats, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Stats())
	}
	return out
}

func (reg *Registry) StatsFor(sessionID string) (Stats, bool) {
	r, ok := reg.Get(sessionID)
	if !ok {
		return Stats{}, false
	}
	return r.Stats(), true
}

// Reconfigure rebinds a room onto a freshly chosen least-loaded worker.
func (reg *Registry) Reconfigure(sessionID string) error {
	r, ok := reg.Get(sessionID)
	if !ok {
		return errs.ErrParticipantNotFound
	}
	slot, err := reg.pool.PickLeastLoaded(reg.roomCounts())
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrRoomInit, err)
	}
	if err := r.ReConfigureMedia(slot); err != nil {
		return err
	}
	if reg.state != nil {
		if err := reg.state.PinRoomWorker(sessionID, slot.Index); err != nil {
			reg.logger.Warn("pin room worker failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

func (reg *Registry) RemoveClient(sessionID, userID string) {
	r, ok := reg.Get(sessionID)
	if !ok {
		return
	}
	r.RemoveClient(userID)
	if r.ParticipantCount() == 0 {
		reg.Unregister(sessionID)
	}
}
