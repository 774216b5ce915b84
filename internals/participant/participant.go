// Package participant holds the per-user state kept inside a room: at most
// one producer transport and one consumer transport, up to three producer
// slots, and three per-peer consumer maps.
package participant

import (
	"strings"
	"sync"

	"github.com/sfu-core/engine/internals/media"
)

// Socket abstracts the signaling connection enough for the room/dispatcher
// layers to notify a participant without depending on the gateway package.
type Socket interface {
	Send(event string, payload interface{}) error
}

type CodecCapability struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

func (c RTPCapabilities) MimeTypes(kind string) []string {
	out := make([]string, 0, len(c.Codecs))
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.Kind, kind) {
			out = append(out, codec.MimeType)
		}
	}
	return out
}

func (c RTPCapabilities) Empty() bool { return len(c.Codecs) == 0 }

// ProducerCapabilities carries the four enable flags set at joinRoom time.
type ProducerCapabilities struct {
	ProducerAudioEnabled bool `json:"producer_audio_enabled"`
	ProducerVideoEnabled bool `json:"producer_video_enabled"`
	GlobalAudioEnabled   bool `json:"global_audio_enabled"`
	GlobalVideoEnabled   bool `json:"global_video_enabled"`
}

type PeerInfo struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	ScreenSharing bool   `json:"screen_sharing"`
}

// Participant is the per-user record inside one room.
type Participant struct {
	mu sync.RWMutex

	UserID string
	Socket Socket
	Device string
	Kind   string // handshake "kind": producer | consumer

	RTPCapabilities RTPCapabilities
	Joined          bool

	producerAudio  *media.Producer
	producerVideo  *media.Producer
	producerScreen *media.Producer

	producerTransport *media.Transport
	consumerTransport *media.Transport

	consumersAudio  map[string]*media.Consumer // peer_user_id -> consumer
	consumersVideo  map[string]*media.Consumer
	consumersScreen map[string]*media.Consumer

	producerAudioEnabled bool
	producerVideoEnabled bool
	globalAudioEnabled   bool
	globalVideoEnabled   bool
	screenSharing        bool
}

func New(userID string, socket Socket, device, kind string) *Participant {
	return &Participant{
		UserID:          userID,
		Socket:          socket,
		Device:          device,
		Kind:            kind,
		consumersAudio:  make(map[string]*media.Consumer),
		consumersVideo:  make(map[string]*media.Consumer),
		consumersScreen: make(map[string]*media.Consumer),

		producerAudioEnabled: true,
		producerVideoEnabled: true,
		globalAudioEnabled:   true,
		globalVideoEnabled:   true,
	}
}

func (p *Participant) IsJoined() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Joined
}

func (p *Participant) Join(caps RTPCapabilities, producerCaps ProducerCapabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RTPCapabilities = caps
	p.producerAudioEnabled = producerCaps.ProducerAudioEnabled
	p.producerVideoEnabled = producerCaps.ProducerVideoEnabled
	p.globalAudioEnabled = producerCaps.GlobalAudioEnabled
	p.globalVideoEnabled = producerCaps.GlobalVideoEnabled
	p.Joined = true
}

func (p *Participant) Info() PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PeerInfo{ID: p.UserID, Kind: p.Kind, ScreenSharing: p.screenSharing}
}

// --- Transports ---

func (p *Participant) SetProducerTransport(t *media.Transport) {
	p.mu.Lock()
	p.producerTransport = t
	p.mu.Unlock()
}

func (p *Participant) SetConsumerTransport(t *media.Transport) {
	p.mu.Lock()
	p.consumerTransport = t
	p.mu.Unlock()
}

func (p *Participant) ProducerTransport() *media.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.producerTransport
}

func (p *Participant) ConsumerTransport() *media.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consumerTransport
}

func (p *Participant) TransportByKind(kind media.TransportKind) *media.Transport {
	if kind == media.TransportProducer {
		return p.ProducerTransport()
	}
	return p.ConsumerTransport()
}

// --- Producers ---

func (p *Participant) SetProducer(tag media.MediaTag, producer *media.Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch tag {
	case media.TagAudio:
		p.producerAudio = producer
	case media.TagVideo:
		p.producerVideo = producer
	case media.TagScreen:
		p.producerScreen = producer
		p.screenSharing = producer != nil
	}
}

func (p *Participant) Producer(tag media.MediaTag) *media.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch tag {
	case media.TagAudio:
		return p.producerAudio
	case media.TagVideo:
		return p.producerVideo
	case media.TagScreen:
		return p.producerScreen
	}
	return nil
}

func (p *Participant) ClearProducer(tag media.MediaTag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch tag {
	case media.TagAudio:
		p.producerAudio = nil
	case media.TagVideo:
		p.producerVideo = nil
	case media.TagScreen:
		p.producerScreen = nil
		p.screenSharing = false
	}
}

func (p *Participant) AllProducers() map[media.MediaTag]*media.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[media.MediaTag]*media.Producer, 3)
	if p.producerAudio != nil {
		out[media.TagAudio] = p.producerAudio
	}
	if p.producerVideo != nil {
		out[media.TagVideo] = p.producerVideo
	}
	if p.producerScreen != nil {
		out[media.TagScreen] = p.producerScreen
	}
	return out
}

func (p *Participant) ScreenSharing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.screenSharing
}

// --- Enable flags ---

func (p *Participant) ProducerEnabled(kind string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if kind == "audio" {
		return p.producerAudioEnabled
	}
	return p.producerVideoEnabled
}

func (p *Participant) SetProducerEnabled(kind string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind == "audio" {
		p.producerAudioEnabled = enabled
	} else {
		p.producerVideoEnabled = enabled
	}
}

func (p *Participant) GlobalEnabled(kind string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if kind == "audio" {
		return p.globalAudioEnabled
	}
	return p.globalVideoEnabled
}

func (p *Participant) SetGlobalEnabled(kind string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind == "audio" {
		p.globalAudioEnabled = enabled
	} else {
		p.globalVideoEnabled = enabled
	}
}

// --- Consumers ---

func (p *Participant) consumerMap(tag media.MediaTag) map[string]*media.Consumer {
	switch tag {
	case media.TagAudio:
		return p.consumersAudio
	case media.TagVideo:
		return p.consumersVideo
	default:
		return p.consumersScreen
	}
}

func (p *Participant) SetConsumer(tag media.MediaTag, peerUserID string, c *media.Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumerMap(tag)[peerUserID] = c
}

func (p *Participant) Consumer(tag media.MediaTag, peerUserID string) (*media.Consumer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumerMap(tag)[peerUserID]
	return c, ok
}

func (p *Participant) RemoveConsumer(tag media.MediaTag, peerUserID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumerMap(tag), peerUserID)
}

func (p *Participant) AllConsumers() []*media.Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*media.Consumer, 0)
	for _, m := range []map[string]*media.Consumer{p.consumersAudio, p.consumersVideo, p.consumersScreen} {
		for _, c := range m {
			out = append(out, c)
		}
	}
	return out
}

// TeardownMedia closes, in order: every producer owned by this participant
// (cascading producerclose to subscribers elsewhere in the room), every
// consumer this participant holds into other peers, then both transports.
func (p *Participant) TeardownMedia() {
	for _, prod := range p.AllProducers() {
		prod.Close()
	}
	for _, c := range p.AllConsumers() {
		c.Close()
	}
	if t := p.ProducerTransport(); t != nil {
		t.Close()
	}
	if t := p.ConsumerTransport(); t != nil {
		t.Close()
	}
}
