package media

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// MediaTag names the producer slot on a participant.
type MediaTag string

const (
	TagAudio  MediaTag = "audio"
	TagVideo  MediaTag = "video"
	TagScreen MediaTag = "screen-media"
)

type ProducerStats struct {
	ID          string       `json:"id"`
	Kind        string       `json:"kind"`
	Paused      bool         `json:"paused"`
	Score       int          `json:"score"`
	Quality     QualityStats `json:"quality"`
}

// Producer is a media flow from a participant into the router. It carries
// no strong reference to its consumers (see the cyclic peer/consumer design
// note); instead interested parties subscribe via OnClose/OnPause/OnResume.
type Producer struct {
	mu sync.Mutex

	id          string
	ownerUserID string
	kind        string // "audio" | "video"
	tag         MediaTag

	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver

	paused bool
	closed bool
	score  int

	lastOrientation int
	haveOrientation bool

	onClose                  []func()
	onPause                  []func()
	onResume                 []func()
	onScoreChange            []func(score int)
	onVideoOrientationChange []func(orientation int)
	onRTP                    []func(*rtp.Packet)

	sinks map[string]*webrtc.TrackLocalStaticRTP

	quality *QualityTracker
	logger  *zap.Logger
}

func NewProducer(id, ownerUserID, kind string, tag MediaTag, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver, logger *zap.Logger) *Producer {
	return &Producer{
		id:          id,
		ownerUserID: ownerUserID,
		kind:        kind,
		tag:         tag,
		track:       track,
		receiver:    receiver,
		logger:      logger,
		score:       10,
		sinks:       make(map[string]*webrtc.TrackLocalStaticRTP),
		quality:     NewQualityTracker(logger),
	}
}

// StartRTCPLoop reads receiver reports off the owning transport's RTCP
// channel for this producer and keeps the quality score current. One
// goroutine per producer, mirroring StartForwarding's RTP loop.
func (p *Producer) StartRTCPLoop() {
	if p.receiver == nil {
		return
	}
	go func() {
		for {
			if p.Closed() {
				return
			}
			packets, _, err := p.receiver.ReadRTCP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.logger.Debug("producer rtcp read error", zap.String("producer", p.id), zap.Error(err))
				}
				return
			}
			for _, pkt := range packets {
				p.SetScore(p.quality.ProcessRTCP(pkt))
			}
		}
	}()
}

// AddSink registers a local track as a forwarding destination for this
// producer's RTP stream. sinkID is an opaque key (the consumer's id) used
// only to remove the sink later; Producer holds no reference to the
// Consumer object itself, matching the owner-plus-index design for
// cyclic peer/consumer relations.
func (p *Producer) AddSink(sinkID string, track *webrtc.TrackLocalStaticRTP) {
	p.mu.Lock()
	p.sinks[sinkID] = track
	p.mu.Unlock()
}

func (p *Producer) RemoveSink(sinkID string) {
	p.mu.Lock()
	delete(p.sinks, sinkID)
	p.mu.Unlock()
}

// videoOrientationExtensionID is the fixed one-byte header extension id
// read as "urn:3gpp:video-orientation" (CVO), mirroring the fixed
// audio-level extension id the room's observer is constructed with.
const videoOrientationExtensionID uint8 = 4

// readVideoOrientation decodes the CVO one-byte header extension's two
// rotation bits (C F R1 R0, TS 26.114 §7.4.5) into a degrees value.
func readVideoOrientation(pkt *rtp.Packet) (int, bool) {
	raw := pkt.GetExtension(videoOrientationExtensionID)
	if len(raw) == 0 {
		return 0, false
	}
	switch raw[0] & 0x03 {
	case 1:
		return 90, true
	case 2:
		return 180, true
	case 3:
		return 270, true
	default:
		return 0, true
	}
}

// StartForwarding reads RTP from the remote track and fans it out to every
// registered sink until the track ends or the producer closes. One
// goroutine per producer, matching the fan-out pattern of reading a
// pion TrackRemote exactly once and writing to N local tracks.
func (p *Producer) StartForwarding() {
	if p.track == nil {
		return
	}
	go func() {
		for {
			if p.Closed() {
				return
			}
			pkt, _, err := p.track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.logger.Debug("producer read error", zap.String("producer", p.id), zap.Error(err))
				}
				return
			}

			if p.kind == "video" {
				if orientation, ok := readVideoOrientation(pkt); ok {
					p.mu.Lock()
					changed := !p.haveOrientation || orientation != p.lastOrientation
					p.lastOrientation = orientation
					p.haveOrientation = true
					p.mu.Unlock()
					if changed {
						p.fireVideoOrientationChange(orientation)
					}
				}
			}

			p.mu.Lock()
			sinks := make([]*webrtc.TrackLocalStaticRTP, 0, len(p.sinks))
			for _, s := range p.sinks {
				sinks = append(sinks, s)
			}
			callbacks := append([]func(*rtp.Packet){}, p.onRTP...)
			paused := p.paused
			p.mu.Unlock()

			for _, cb := range callbacks {
				fn := cb
				safeCall(func() { fn(pkt) })
			}

			if paused {
				continue
			}
			for _, sink := range sinks {
				_ = sink.WriteRTP(pkt)
			}
		}
	}()
}

func (p *Producer) OnRTP(fn func(*rtp.Packet)) {
	p.mu.Lock()
	p.onRTP = append(p.onRTP, fn)
	p.mu.Unlock()
}

func (p *Producer) ID() string          { return p.id }
func (p *Producer) OwnerUserID() string  { return p.ownerUserID }
func (p *Producer) Kind() string        { return p.kind }
func (p *Producer) Tag() MediaTag       { return p.tag }
func (p *Producer) Track() *webrtc.TrackRemote { return p.track }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Score() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// SetScore updates the RTCP-derived quality score and notifies subscribers
// via OnScoreChange whenever the value actually moves.
func (p *Producer) SetScore(s int) {
	p.mu.Lock()
	changed := s != p.score
	p.score = s
	cbs := append([]func(int){}, p.onScoreChange...)
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, cb := range cbs {
		fn := cb
		safeCall(func() { fn(s) })
	}
}

// Pause sets paused=true and notifies subscribers. A no-op if already paused
// or closed.
func (p *Producer) Pause() bool {
	p.mu.Lock()
	if p.closed || p.paused {
		p.mu.Unlock()
		return false
	}
	p.paused = true
	cbs := append([]func(){}, p.onPause...)
	p.mu.Unlock()

	for _, cb := range cbs {
		safeCall(cb)
	}
	return true
}

// Resume sets paused=false and notifies subscribers. A no-op if already
// live or closed.
func (p *Producer) Resume() bool {
	p.mu.Lock()
	if p.closed || !p.paused {
		p.mu.Unlock()
		return false
	}
	p.paused = false
	cbs := append([]func(){}, p.onResume...)
	p.mu.Unlock()

	for _, cb := range cbs {
		safeCall(cb)
	}
	return true
}

// Close is idempotent; closure callbacks must not throw, so any panic
// inside one is recovered and discarded rather than propagated. The panic
// is not logged.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cbs := append([]func(){}, p.onClose...)
	p.mu.Unlock()

	for _, cb := range cbs {
		safeCall(cb)
	}
}

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

func (p *Producer) OnPause(fn func()) {
	p.mu.Lock()
	p.onPause = append(p.onPause, fn)
	p.mu.Unlock()
}

func (p *Producer) OnResume(fn func()) {
	p.mu.Lock()
	p.onResume = append(p.onResume, fn)
	p.mu.Unlock()
}

func (p *Producer) OnScoreChange(fn func(score int)) {
	p.mu.Lock()
	p.onScoreChange = append(p.onScoreChange, fn)
	p.mu.Unlock()
}

func (p *Producer) OnVideoOrientationChange(fn func(orientation int)) {
	p.mu.Lock()
	p.onVideoOrientationChange = append(p.onVideoOrientationChange, fn)
	p.mu.Unlock()
}

func (p *Producer) fireVideoOrientationChange(orientation int) {
	p.mu.Lock()
	cbs := append([]func(int){}, p.onVideoOrientationChange...)
	p.mu.Unlock()
	for _, cb := range cbs {
		fn := cb
		safeCall(func() { fn(orientation) })
	}
}

// RequestKeyFrame sends a PictureLossIndication on the receiver's SSRC.
func (p *Producer) RequestKeyFrame(pc *webrtc.PeerConnection) error {
	if p.receiver == nil || len(p.receiver.GetParameters().Encodings) == 0 {
		return nil
	}
	ssrc := uint32(p.receiver.GetParameters().Encodings[0].SSRC)
	return pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
}

func (p *Producer) Stats() ProducerStats {
	p.mu.Lock()
	id, kind, paused, score := p.id, p.kind, p.paused, p.score
	p.mu.Unlock()
	return ProducerStats{ID: id, Kind: kind, Paused: paused, Score: score, Quality: p.quality.Stats()}
}

func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
