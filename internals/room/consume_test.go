package room

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/media"
	"github.com/sfu-core/engine/internals/participant"
)

func newTestTransport(t *testing.T, userID string, kind media.TransportKind) *media.Transport {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return media.NewTransport(userID+"-"+string(kind), userID, kind, pc, zap.NewNop())
}

func wideOpenCaps() participant.RTPCapabilities {
	return participant.RTPCapabilities{
		Codecs: []participant.CodecCapability{
			{MimeType: "audio/opus", Kind: "audio"},
			{MimeType: "video/VP8", Kind: "video"},
		},
	}
}

func TestPullConsume_ParticipantNotFound(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	_, err := r.PullConsume("ghost", "owner", media.TagAudio, wideOpenCaps())
	assert.ErrorIs(t, err, errs.ErrParticipantNotFound)
}

func TestPullConsume_ProducerNotFound(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("sub", fakeSocket{}, "desktop", "consumer"))

	_, err := r.PullConsume("sub", "ghost-owner", media.TagAudio, wideOpenCaps())
	assert.ErrorIs(t, err, errs.ErrProducerNotFound)
}

func TestPullConsume_RejectsEmptyCapabilities(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("sub", fakeSocket{}, "desktop", "consumer"))
	require.NoError(t, r.AddClient("owner", fakeSocket{}, "desktop", "producer"))
	owner, _ := r.participant("owner")
	owner.SetProducer(media.TagAudio, media.NewProducer("prod-1", "owner", "audio", media.TagAudio, nil, nil, zap.NewNop()))

	_, err := r.PullConsume("sub", "owner", media.TagAudio, participant.RTPCapabilities{})
	assert.ErrorIs(t, err, errs.ErrCannotConsume)
}

func TestPullConsume_BuildsConsumerAgainstConsumerTransport(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("sub", fakeSocket{}, "desktop", "consumer"))
	require.NoError(t, r.AddClient("owner", fakeSocket{}, "desktop", "producer"))

	sub, _ := r.participant("sub")
	sub.SetConsumerTransport(newTestTransport(t, "sub", media.TransportConsumer))

	owner, _ := r.participant("owner")
	owner.SetProducer(media.TagAudio, media.NewProducer("prod-1", "owner", "audio", media.TagAudio, nil, nil, zap.NewNop()))

	result, err := r.PullConsume("sub", "owner", media.TagAudio, wideOpenCaps())
	require.NoError(t, err)
	assert.Equal(t, "prod-1", result.ProducerID)
	assert.Equal(t, "simple", result.Type)

	// A second pull for the same (subscriber, owner, tag) is idempotent.
	again, err := r.PullConsume("sub", "owner", media.TagAudio, wideOpenCaps())
	require.NoError(t, err)
	assert.Equal(t, result.ID, again.ID)
}

func TestPullConsume_RejectsWithoutConsumerTransport(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("sub", fakeSocket{}, "desktop", "consumer"))
	require.NoError(t, r.AddClient("owner", fakeSocket{}, "desktop", "producer"))
	owner, _ := r.participant("owner")
	owner.SetProducer(media.TagAudio, media.NewProducer("prod-1", "owner", "audio", media.TagAudio, nil, nil, zap.NewNop()))

	_, err := r.PullConsume("sub", "owner", media.TagAudio, wideOpenCaps())
	assert.ErrorIs(t, err, errs.ErrTransportNotFound)
}

// ackSocket is a fakeSocket that also implements room.AckSocket, exercising
// pushConsume's ack-aware branch instead of its no-ack-capable fallback.
type ackSocket struct {
	fakeSocket
	acked bool
	err   error
}

func (s *ackSocket) SendAck(ctx context.Context, event string, payload interface{}) (bool, error) {
	return s.acked, s.err
}

func TestPushConsume_ResumesAfterAck(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("sub", &ackSocket{acked: true}, "desktop", "consumer"))
	require.NoError(t, r.AddClient("owner", fakeSocket{}, "desktop", "producer"))

	sub, _ := r.participant("sub")
	sub.SetConsumerTransport(newTestTransport(t, "sub", media.TransportConsumer))
	sub.Join(wideOpenCaps(), participant.ProducerCapabilities{})

	prod := media.NewProducer("prod-1", "owner", "video", media.TagVideo, nil, nil, zap.NewNop())

	c, err := r.pushConsume(sub, "owner", media.TagVideo, prod)
	require.NoError(t, err)
	assert.False(t, c.Paused())
}

func TestPushConsume_TearsDownOnAckTimeout(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	require.NoError(t, r.AddClient("sub", &ackSocket{acked: false}, "desktop", "consumer"))
	require.NoError(t, r.AddClient("owner", fakeSocket{}, "desktop", "producer"))

	sub, _ := r.participant("sub")
	sub.SetConsumerTransport(newTestTransport(t, "sub", media.TransportConsumer))

	prod := media.NewProducer("prod-1", "owner", "video", media.TagVideo, nil, nil, zap.NewNop())

	_, err := r.pushConsume(sub, "owner", media.TagVideo, prod)
	assert.ErrorIs(t, err, errs.ErrRequestTimeout)
	_, ok := sub.Consumer(media.TagVideo, "owner")
	assert.False(t, ok, "a timed-out push consume leaves no dangling consumer entry")
}

func TestApplyBitrateGovernance_ThreeProducersDoesNotPanic(t *testing.T) {
	r := testRoom(t)
	defer r.Close()
	r.transportConfig.MaximumAvailableOutgoingBitrate = 3_000_000
	r.transportConfig.MinimumAvailableOutgoingBitrate = 100_000
	r.transportConfig.FactorIncomingBitrate = 1.5

	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.AddClient(name, fakeSocket{}, "desktop", "producer"))
		p, _ := r.participant(name)
		p.SetProducer(media.TagVideo, media.NewProducer("prod-"+name, name, "video", media.TagVideo, nil, nil, zap.NewNop()))
		_ = i
	}

	assert.NotPanics(t, r.applyBitrateGovernance)
}
