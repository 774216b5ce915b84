package media

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// audioLevelExtensionURI is the RFC 6464 client-to-mixer audio level header
// extension. Its id is not read from the negotiated SDP: the caller fixes it
// at construction (the room passes 1), and the worker's MediaEngine does not
// register this extension.
const audioLevelExtensionURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

type VolumeEntry struct {
	Producer *Producer
	Volume   int // dBov, 0 (loudest) to -127 (silence)
}

type activity struct {
	score      float64
	packetRate float64
	lastPacket time.Time
	lastLevel  int
	haveLevel  bool
}

// AudioLevelObserver emits volumes/silence the way the spec's audio-level
// observer does. Where the RTP stream carries the RFC 6464 header
// extension its dBov value is used directly; otherwise activity falls back
// to the packet-rate EMA heuristic the teacher used for its own dominant
// speaker detection, scaled into a volume-shaped number so downstream
// fan-out code has one shape to deal with.
type AudioLevelObserver struct {
	mu sync.Mutex

	maxEntries  int
	thresholdDBov int
	interval    time.Duration
	extensionID uint8

	producers map[string]*Producer
	levels    map[string]*activity // producerID -> activity

	onVolumes func([]VolumeEntry)
	onSilence func()

	cancel context.CancelFunc
	logger *zap.Logger
}

func NewAudioLevelObserver(maxEntries, thresholdDBov int, interval time.Duration, extensionID uint8, logger *zap.Logger) *AudioLevelObserver {
	return &AudioLevelObserver{
		maxEntries:    maxEntries,
		thresholdDBov: thresholdDBov,
		interval:      interval,
		extensionID:   extensionID,
		producers:     make(map[string]*Producer),
		levels:        make(map[string]*activity),
		logger:        logger,
	}
}

func (o *AudioLevelObserver) AddProducer(p *Producer) {
	o.mu.Lock()
	o.producers[p.ID()] = p
	o.levels[p.ID()] = &activity{lastPacket: time.Now()}
	o.mu.Unlock()

	p.OnClose(func() { o.RemoveProducer(p.ID()) })
}

func (o *AudioLevelObserver) RemoveProducer(id string) {
	o.mu.Lock()
	delete(o.producers, id)
	delete(o.levels, id)
	o.mu.Unlock()
}

func (o *AudioLevelObserver) OnVolumes(fn func([]VolumeEntry)) {
	o.mu.Lock()
	o.onVolumes = fn
	o.mu.Unlock()
}

func (o *AudioLevelObserver) OnSilence(fn func()) {
	o.mu.Lock()
	o.onSilence = fn
	o.mu.Unlock()
}

// TrackPacket feeds one RTP packet from a registered audio producer into
// the observer's activity estimate.
func (o *AudioLevelObserver) TrackPacket(producerID string, pkt *rtp.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.levels[producerID]
	if !ok {
		a = &activity{lastPacket: time.Now()}
		o.levels[producerID] = a
	}

	if level, ok := readAudioLevel(pkt, o.extensionID); ok {
		a.lastLevel = level
		a.haveLevel = true
		a.lastPacket = time.Now()
		return
	}

	now := time.Now()
	elapsed := now.Sub(a.lastPacket).Seconds()
	a.lastPacket = now
	if elapsed <= 0 {
		return
	}
	instantRate := 1.0 / elapsed
	const alpha = 0.3
	a.packetRate = alpha*instantRate + (1-alpha)*a.packetRate
	a.score = alpha*a.packetRate + (1-alpha)*a.score
}

// readAudioLevel decodes the RFC 6464 one-byte header extension: bit 7 is
// the "voice activity" flag, bits 0-6 are the level in -dBov (0 = loudest).
func readAudioLevel(pkt *rtp.Packet, extensionID uint8) (int, bool) {
	if pkt == nil || extensionID == 0 {
		return 0, false
	}
	raw := pkt.GetExtension(extensionID)
	if len(raw) == 0 {
		return 0, false
	}
	return -int(raw[0] & 0x7f), true
}

// Start runs the periodic volumes/silence evaluation at the configured
// interval until the context is cancelled or Close is called.
func (o *AudioLevelObserver) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	ticker := time.NewTicker(o.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.tick()
			}
		}
	}()
}

func (o *AudioLevelObserver) tick() {
	o.mu.Lock()
	type scored struct {
		producer *Producer
		volume   int
	}
	var entries []scored
	now := time.Now()
	for id, a := range o.levels {
		p, ok := o.producers[id]
		if !ok || p.Closed() {
			continue
		}
		var volume int
		if a.haveLevel {
			volume = a.lastLevel
		} else {
			elapsed := now.Sub(a.lastPacket).Seconds()
			decayed := a.score * math.Exp(-elapsed)
			// Map an unbounded packet-rate score onto a dBov-shaped range:
			// higher score => closer to 0 (loudest), silence => -127.
			volume = -127 + int(math.Min(127, decayed*10))
		}
		if volume >= o.thresholdDBov {
			entries = append(entries, scored{producer: p, volume: volume})
		}
	}
	onVolumes := o.onVolumes
	onSilence := o.onSilence
	o.mu.Unlock()

	if len(entries) == 0 {
		if onSilence != nil {
			onSilence()
		}
		return
	}

	// loudest first (closest to 0)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].volume > entries[i].volume {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	if o.maxEntries > 0 && len(entries) > o.maxEntries {
		entries = entries[:o.maxEntries]
	}

	out := make([]VolumeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, VolumeEntry{Producer: e.producer, Volume: e.volume})
	}
	if onVolumes != nil {
		onVolumes(out)
	}
}

func (o *AudioLevelObserver) Close() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
