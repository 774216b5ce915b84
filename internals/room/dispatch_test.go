package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/media"
	"github.com/sfu-core/engine/internals/participant"
)

func TestSpeakMsClient_UnknownAction(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("user-1", &recordingSocket{}, "desktop", "producer"))

	_, err := r.SpeakMsClient("user-1", Action("bogus"), nil)
	assert.ErrorIs(t, err, errs.ErrUnknownAction)
}

func TestSpeakMsClient_ParticipantNotFound(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	_, err := r.SpeakMsClient("ghost", ActionGetRouterRtpCapabilities, nil)
	assert.ErrorIs(t, err, errs.ErrParticipantNotFound)
}

func TestSpeakMsClient_RejectsWhileReconfiguring(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("user-1", &recordingSocket{}, "desktop", "producer"))

	r.mu.Lock()
	r.reconfiguring = true
	r.mu.Unlock()

	_, err := r.SpeakMsClient("user-1", ActionGetRouterRtpCapabilities, nil)
	assert.ErrorIs(t, err, errs.ErrRoomReconfiguring)
}

func TestSpeakMsClient_GetRouterRtpCapabilities_ReflectsConfiguredCodecs(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("user-1", &recordingSocket{}, "desktop", "producer"))

	result, err := r.SpeakMsClient("user-1", ActionGetRouterRtpCapabilities, nil)
	require.NoError(t, err)

	out, ok := result.(routerCapabilitiesResult)
	require.True(t, ok)
	assert.Len(t, out.Codecs, 2)
}

func TestSpeakMsClient_GetAudioProducerIds_ExcludesClosed(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("user-1", &recordingSocket{}, "desktop", "producer"))
	p, ok := r.participant("user-1")
	require.True(t, ok)

	live := media.NewProducer("live", "user-1", "audio", media.TagAudio, nil, nil, zap.NewNop())
	p.SetProducer(media.TagAudio, live)

	result, err := r.SpeakMsClient("user-1", ActionGetAudioProducerIds, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, result)

	live.Close()
	result, err = r.SpeakMsClient("user-1", ActionGetAudioProducerIds, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestHandleProducerPause_GlobalMutePrecedence(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("target", &recordingSocket{}, "desktop", "producer"))
	p, ok := r.participant("target")
	require.True(t, ok)
	p.SetGlobalEnabled("audio", false)

	prod := media.NewProducer("prod-a", "target", "audio", media.TagAudio, nil, nil, zap.NewNop())
	p.SetProducer(media.TagAudio, prod)

	// A non-global pause is a no-op once the global flag is already off.
	r.pauseProducer(p, "audio", false)
	assert.False(t, prod.Paused())
}

func TestHandleProducerPauseResume_RoundTrip(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("target", &recordingSocket{}, "desktop", "producer"))
	p, ok := r.participant("target")
	require.True(t, ok)

	prod := media.NewProducer("prod-a", "target", "audio", media.TagAudio, nil, nil, zap.NewNop())
	p.SetProducer(media.TagAudio, prod)

	r.pauseProducer(p, "audio", true)
	assert.True(t, prod.Paused())
	assert.False(t, p.ProducerEnabled("audio"))

	r.resumeProducer(p, "audio", true)
	assert.False(t, prod.Paused())
	assert.True(t, p.ProducerEnabled("audio"))
}

func TestCloseProducer_RemovesMatchingConsumersAndNotifiesRoom(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	owner := &recordingSocket{}
	subscriber := &recordingSocket{}
	require.NoError(t, r.AddClient("owner", owner, "desktop", "producer"))
	require.NoError(t, r.AddClient("subscriber", subscriber, "desktop", "consumer"))

	ownerP, _ := r.participant("owner")
	prod := media.NewProducer("prod-a", "owner", "video", media.TagVideo, nil, nil, zap.NewNop())
	ownerP.SetProducer(media.TagVideo, prod)

	require.NoError(t, r.closeProducer(ownerP, media.TagVideo))

	assert.True(t, prod.Closed())
	assert.Nil(t, ownerP.Producer(media.TagVideo))
	assert.Contains(t, owner.Events(), "mediaProducerClose")
	assert.Contains(t, subscriber.Events(), "mediaProducerClose")
}

func TestHandleAllProducer_AppliesToEveryParticipant(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("user-1", &recordingSocket{}, "desktop", "producer"))
	require.NoError(t, r.AddClient("user-2", &recordingSocket{}, "desktop", "producer"))

	var touched []string
	result, err := r.handleAllProducer(json.RawMessage(`{"kind":"audio"}`), func(p *participant.Participant, kind string) {
		touched = append(touched, p.UserID)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, touched)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, out["applied"])
}

func TestHandleGetProducerStats_MissingProducer(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("user-1", &recordingSocket{}, "desktop", "producer"))
	p, _ := r.participant("user-1")

	_, err := r.handleGetProducerStats(p, json.RawMessage(`{"media_tag":"audio"}`))
	assert.ErrorIs(t, err, errs.ErrProducerNotFound)
}
