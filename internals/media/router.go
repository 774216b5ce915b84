package media

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/sfu-core/engine/internals/config"
)

// Router is the per-room media object inside a worker: it owns no state of
// its own beyond the codec list, and mints peer connections through the
// worker's webrtc.API.
type Router struct {
	id     string
	api    *webrtc.API
	codecs []config.MediaCodec
}

func NewRouter(api *webrtc.API, codecs []config.MediaCodec) *Router {
	return &Router{id: uuid.NewString(), api: api, codecs: codecs}
}

func (r *Router) ID() string { return r.id }

func (r *Router) NewPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	return r.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// CanConsume mirrors router.canConsume: a participant may consume a producer
// of the given kind only if one of its advertised rtp capability mime types
// matches one of the router's configured codecs for that kind.
func (r *Router) CanConsume(kind string, rtpCapabilityMimeTypes []string) bool {
	if len(rtpCapabilityMimeTypes) == 0 {
		return false
	}
	allowed := make(map[string]bool, len(r.codecs))
	for _, c := range r.codecs {
		if strings.EqualFold(c.Kind, kind) {
			allowed[strings.ToLower(c.MimeType)] = true
		}
	}
	for _, mt := range rtpCapabilityMimeTypes {
		if allowed[strings.ToLower(mt)] {
			return true
		}
	}
	return false
}

func (r *Router) Codecs() []config.MediaCodec { return r.codecs }
