// Package errs holds the sentinel error taxonomy shared by the room
// dispatcher, the worker pool and the gateway so that handlers can
// errors.Is against a stable set instead of comparing strings.
package errs

import "errors"

var (
	ErrWorkerInit          = errors.New("worker init error")
	ErrRoomInit            = errors.New("room init error")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrAlreadyJoined       = errors.New("already joined")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrTransportNotFound   = errors.New("transport not found")
	ErrProducerNotFound    = errors.New("producer not found")
	ErrConsumerNotFound    = errors.New("consumer not found")
	ErrCannotConsume       = errors.New("cannot consume")
	ErrRoomReconfiguring   = errors.New("room reconfiguring")
	ErrUnknownAction       = errors.New("unknown action")
	ErrRequestTimeout      = errors.New("request timeout")
)

// Envelope is the shape returned to a socket client on a failed command;
// it is never an exception, only a field in the response payload.
type Envelope struct {
	Error string `json:"error"`
}

func NewEnvelope(err error) Envelope {
	return Envelope{Error: err.Error()}
}
