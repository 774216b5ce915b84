package media

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Layers is the simulcast spatial/temporal layer selection.
type Layers struct {
	Spatial  int `json:"spatialLayer"`
	Temporal int `json:"temporalLayer"`
}

type ConsumerStats struct {
	ProducerID     string `json:"producer_id"`
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Type           string `json:"type"`
	ProducerPaused bool   `json:"producer_paused"`
}

// Consumer is a media flow from the router to a subscribing participant. It
// holds a value reference to its producer (the producer's id and a pointer
// for liveness checks) rather than the producer holding a list of
// consumers; producer-close teardown is driven by a callback registered at
// creation time, not a strong back-pointer.
type Consumer struct {
	mu sync.Mutex

	id               string
	producer         *Producer
	subscriberUserID string
	kind             string
	tag              MediaTag
	consumerType     string // "simple" | "simulcast"

	localTrack *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender

	paused          bool
	closed          bool
	priority        int
	preferredLayers *Layers
	score           int

	onClose        func()
	onLayersChange func(Layers)
	logger         *zap.Logger
}

func NewConsumer(id string, producer *Producer, subscriberUserID, consumerType string, localTrack *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender, paused bool, logger *zap.Logger) *Consumer {
	c := &Consumer{
		id:               id,
		producer:         producer,
		subscriberUserID: subscriberUserID,
		kind:             producer.Kind(),
		tag:              producer.Tag(),
		consumerType:     consumerType,
		localTrack:       localTrack,
		sender:           sender,
		paused:           paused,
		priority:         1,
		score:            10,
		logger:           logger,
	}
	return c
}

func (c *Consumer) ID() string               { return c.id }
func (c *Consumer) ProducerID() string       { return c.producer.ID() }
func (c *Consumer) Producer() *Producer      { return c.producer }
func (c *Consumer) Kind() string             { return c.kind }
func (c *Consumer) Tag() MediaTag            { return c.tag }
func (c *Consumer) Type() string             { return c.consumerType }
func (c *Consumer) SubscriberUserID() string { return c.subscriberUserID }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *Consumer) SetPriority(p int) {
	c.mu.Lock()
	c.priority = p
	c.mu.Unlock()
}

func (c *Consumer) Priority() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority
}

// SetPreferredLayers records the selected spatial/temporal layer and fires
// OnLayersChange, mirroring mediasoup's consumer "layerschange" event.
func (c *Consumer) SetPreferredLayers(l Layers) {
	c.mu.Lock()
	c.preferredLayers = &l
	cb := c.onLayersChange
	c.mu.Unlock()

	if cb != nil {
		safeCall(func() { cb(l) })
	}
}

// OnLayersChange registers the callback fired by SetPreferredLayers.
func (c *Consumer) OnLayersChange(fn func(Layers)) {
	c.mu.Lock()
	c.onLayersChange = fn
	c.mu.Unlock()
}

func (c *Consumer) SetScore(s int) {
	c.mu.Lock()
	c.score = s
	c.mu.Unlock()
}

func (c *Consumer) Score() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score
}

func (c *Consumer) LocalTrack() *webrtc.TrackLocalStaticRTP { return c.localTrack }
func (c *Consumer) Sender() *webrtc.RTPSender               { return c.sender }

func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cb := c.onClose
	c.mu.Unlock()

	if cb != nil {
		safeCall(cb)
	}
}

func (c *Consumer) Stats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConsumerStats{
		ProducerID:     c.producer.ID(),
		ID:             c.id,
		Kind:           c.kind,
		Type:           c.consumerType,
		ProducerPaused: c.producer.Paused(),
	}
}
