package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSocket struct {
	mu      sync.Mutex
	events  []string
	payload map[string]interface{}
}

func (s *recordingSocket) Send(event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSocket) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.events...)
}

func TestRoom_ToggleDevice_ReachesEveryoneExceptSender(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	sender := &recordingSocket{}
	other := &recordingSocket{}
	require.NoError(t, r.AddClient("sender", sender, "desktop", "producer"))
	require.NoError(t, r.AddClient("other", other, "desktop", "producer"))

	r.ToggleDevice("sender", "mute", "audio")

	assert.NotContains(t, sender.Events(), "toggleDevice")
	assert.Contains(t, other.Events(), "toggleDevice")
}

func TestRoom_BroadcastAll_ReachesSenderToo(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	p1 := &recordingSocket{}
	p2 := &recordingSocket{}
	require.NoError(t, r.AddClient("p1", p1, "desktop", "producer"))
	require.NoError(t, r.AddClient("p2", p2, "desktop", "producer"))

	r.broadcastAll("mediaReconfigure", map[string]any{"session_id": r.sessionID})

	assert.Contains(t, p1.Events(), "mediaReconfigure")
	assert.Contains(t, p2.Events(), "mediaReconfigure")
}

func TestRoom_Notification_ReachesOnlyNamedParticipant(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	p1 := &recordingSocket{}
	p2 := &recordingSocket{}
	require.NoError(t, r.AddClient("p1", p1, "desktop", "producer"))
	require.NoError(t, r.AddClient("p2", p2, "desktop", "producer"))

	r.notification("p1", "privateEvent", nil)

	assert.Contains(t, p1.Events(), "privateEvent")
	assert.NotContains(t, p2.Events(), "privateEvent")
}

func TestRoom_Notification_UnknownUserIsNoop(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	assert.NotPanics(t, func() { r.notification("ghost", "event", nil) })
}

func TestRoom_HandleSilence_BroadcastsNilUserID(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	p1 := &recordingSocket{}
	require.NoError(t, r.AddClient("p1", p1, "desktop", "producer"))

	r.handleSilence()
	assert.Contains(t, p1.Events(), "mediaActiveSpeaker")
}

func TestRoom_HandleVolumes_EmptyEntriesIsNoop(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	p1 := &recordingSocket{}
	require.NoError(t, r.AddClient("p1", p1, "desktop", "producer"))

	r.handleVolumes(nil)
	assert.NotContains(t, p1.Events(), "mediaActiveSpeaker")
}
