package signaling

import "encoding/json"

// Message is the wire envelope for every inbound and outbound event. AckID
// is set only on the push request/ack round trip (the server-initiated
// newConsumer flow); a reply carries the same AckID back with Ok/Data set.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ack_id,omitempty"`
	Ok    *bool           `json:"ok,omitempty"`
}

// HandshakeQuery is parsed from the connection's query string.
type HandshakeQuery struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Device    string `json:"device"`
	Kind      string `json:"kind"`
}

// MediaEnvelope carries an action-dispatch request, the wire shape of the
// inbound `media` event.
type MediaEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type joinRoomPayload struct {
	Kind                 string          `json:"kind"`
	RTPCapabilities      json.RawMessage `json:"rtp_capabilities"`
	ProducerCapabilities json.RawMessage `json:"producer_capabilities"`
}

type addClientPayload struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type toggleDevicePayload struct {
	Action string `json:"action"`
	Kind   string `json:"kind"`
}

// errorEnvelope is the §7 error-response shape.
type errorEnvelope struct {
	Error string `json:"error"`
}
