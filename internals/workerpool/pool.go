// Package workerpool maintains a fixed set of media workers and places new
// rooms on the least loaded one. Each worker owns its own pion webrtc.API
// instance (MediaEngine + SettingEngine + interceptor registry) rather than
// an external worker process, since no native mediasoup-worker binary
// exists in this stack; see DESIGN.md for the adaptation rationale.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/errs"
)

// Slot is one Worker Slot: { index, pid, participant_count, room_count, worker_handle }.
type Slot struct {
	Index int
	PID   int

	mu               sync.Mutex
	participantCount int
	roomCount        int

	api *webrtc.API
}

func (s *Slot) API() *webrtc.API { return s.api }

func (s *Slot) snapshot() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStats{
		Index:            s.Index,
		PID:              s.PID,
		ParticipantCount: s.participantCount,
		RoomCount:        s.roomCount,
	}
}

type SlotStats struct {
	Index            int `json:"index"`
	PID              int `json:"pid"`
	ParticipantCount int `json:"participant_count"`
	RoomCount        int `json:"room_count"`
}

// RoomCounts is the minimal view the pool needs from a live room to
// recompute slot load without trusting incremental counters.
type RoomCounts interface {
	WorkerIndex() int
	ParticipantCount() int
}

// Pool is the Worker Pool from the room/worker layering.
type Pool struct {
	slots   []*Slot
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker

	mu sync.RWMutex
}

// StartPool spawns N worker slots, each with its own webrtc.API built from
// the configured codecs and port range. All slots must come up; a single
// failure returns ErrWorkerInit and no pool, so there are no partial pools.
func StartPool(cfg config.WorkerPoolConfig, codecs []config.MediaCodec, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}

	slots := make([]*Slot, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		api, err := buildWorkerAPI(cfg, codecs)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d: %v", errs.ErrWorkerInit, i, err)
		}
		slots = append(slots, &Slot{
			Index: i,
			PID:   os.Getpid()*1000 + i, // synthetic per-slot pid; see DESIGN.md
			api:   api,
		})
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker-router-create",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Pool{slots: slots, logger: logger, breaker: breaker}, nil
}

func buildWorkerAPI(cfg config.WorkerPoolConfig, codecs []config.MediaCodec) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m, codecs); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{}
	if cfg.RTCMinPort > 0 && cfg.RTCMaxPort > cfg.RTCMinPort {
		if err := s.SetEphemeralUDPPortRange(cfg.RTCMinPort, cfg.RTCMaxPort); err != nil {
			return nil, err
		}
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)), nil
}

func registerCodecs(m *webrtc.MediaEngine, codecs []config.MediaCodec) error {
	for _, c := range codecs {
		switch c.Kind {
		case "audio":
			if err := m.RegisterCodec(webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:    c.MimeType,
					ClockRate:   c.ClockRate,
					Channels:    c.Channels,
					SDPFmtpLine: fmtpLine(c.Parameters),
				},
				PayloadType: 0,
			}, webrtc.RTPCodecTypeAudio); err != nil {
				return err
			}
		case "video":
			if err := m.RegisterCodec(webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:    c.MimeType,
					ClockRate:   c.ClockRate,
					SDPFmtpLine: fmtpLine(c.Parameters),
				},
				PayloadType: 0,
			}, webrtc.RTPCodecTypeVideo); err != nil {
				return err
			}
		}
	}
	return nil
}

func fmtpLine(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	out := ""
	for k, v := range params {
		if out != "" {
			out += ";"
		}
		out += k + "=" + v
	}
	return out
}

// PickLeastLoaded chooses the slot with the smallest participant_count,
// ties broken by smallest index, after refreshing counters from rooms.
func (p *Pool) PickLeastLoaded(rooms []RoomCounts) (*Slot, error) {
	p.RefreshCounters(rooms)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.slots) == 0 {
		return nil, fmt.Errorf("%w: empty pool", errs.ErrWorkerInit)
	}

	best := p.slots[0]
	bestCount := best.snapshot().ParticipantCount
	for _, s := range p.slots[1:] {
		c := s.snapshot().ParticipantCount
		if c < bestCount {
			best = s
			bestCount = c
		}
	}
	return best, nil
}

// RefreshCounters recomputes participant_count and room_count for every
// slot from a scan of live rooms; slots with no rooms are zeroed.
func (p *Pool) RefreshCounters(rooms []RoomCounts) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	participants := make(map[int]int, len(p.slots))
	roomCounts := make(map[int]int, len(p.slots))
	for _, r := range rooms {
		idx := r.WorkerIndex()
		participants[idx] += r.ParticipantCount()
		roomCounts[idx]++
	}

	for _, s := range p.slots {
		s.mu.Lock()
		s.participantCount = participants[s.Index]
		s.roomCount = roomCounts[s.Index]
		s.mu.Unlock()
	}
}

// Stats returns a pid -> slot snapshot mapping.
func (p *Pool) Stats() map[int]SlotStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[int]SlotStats, len(p.slots))
	for _, s := range p.slots {
		out[s.PID] = s.snapshot()
	}
	return out
}

func (p *Pool) Slot(index int) (*Slot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.slots {
		if s.Index == index {
			return s, true
		}
	}
	return nil, false
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

// CreateRouter runs fn (router construction) behind a circuit breaker so a
// worker stuck mid-init fails fast instead of wedging admission.
func (p *Pool) CreateRouter(ctx context.Context, fn func() (any, error)) (any, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRoomInit, err)
	}
	return result, nil
}
