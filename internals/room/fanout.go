package room

import (
	"github.com/sfu-core/engine/internals/media"
	"github.com/sfu-core/engine/internals/participant"
)

// broadcast reaches every room member except the sender.
func (r *Room) broadcast(senderUserID, event string, payload interface{}) {
	r.mu.Lock()
	targets := make([]*participant.Participant, 0, len(r.participants))
	for id, p := range r.participants {
		if id == senderUserID {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		safeNotify(p.Socket, event, payload)
	}
}

// broadcastAll reaches every room member including the sender.
func (r *Room) broadcastAll(event string, payload interface{}) {
	r.mu.Lock()
	targets := make([]*participant.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		safeNotify(p.Socket, event, payload)
	}
}

// notification reaches exactly one participant.
func (r *Room) notification(userID, event string, payload interface{}) {
	p, ok := r.participant(userID)
	if !ok {
		return
	}
	safeNotify(p.Socket, event, payload)
}

type activeSpeakerPayload struct {
	UserID *string `json:"user_id"`
	Volume *int    `json:"volume,omitempty"`
}

// handleVolumes fans mediaActiveSpeaker out to the whole room. With
// max_entries=1 only the loudest participant is reported.
func (r *Room) handleVolumes(entries []media.VolumeEntry) {
	if len(entries) == 0 {
		return
	}
	top := entries[0]
	userID := top.Producer.OwnerUserID()
	volume := top.Volume
	r.broadcastAll("mediaActiveSpeaker", activeSpeakerPayload{UserID: &userID, Volume: &volume})
}

func (r *Room) handleSilence() {
	r.broadcastAll("mediaActiveSpeaker", activeSpeakerPayload{UserID: nil})
}

type toggleDevicePayload struct {
	Sender string `json:"sender"`
	Action string `json:"action"`
	Kind   string `json:"kind"`
}

// ToggleDevice is a pure relay: it carries no state change, it just forwards
// the sender's device toggle to the rest of the room.
func (r *Room) ToggleDevice(senderUserID, action, kind string) {
	r.broadcast(senderUserID, "toggleDevice", toggleDevicePayload{Sender: senderUserID, Action: action, Kind: kind})
}
