package participant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/media"
)

type fakeSocket struct {
	sent []string
}

func (f *fakeSocket) Send(event string, payload interface{}) error {
	f.sent = append(f.sent, event)
	return nil
}

func TestNew_DefaultsEnableFlagsTrue(t *testing.T) {
	p := New("user-1", &fakeSocket{}, "desktop", "producer")

	assert.True(t, p.ProducerEnabled("audio"))
	assert.True(t, p.ProducerEnabled("video"))
	assert.True(t, p.GlobalEnabled("audio"))
	assert.True(t, p.GlobalEnabled("video"))
	assert.False(t, p.IsJoined())
}

func TestJoin_RecordsCapabilitiesAndFlags(t *testing.T) {
	p := New("user-1", &fakeSocket{}, "desktop", "producer")

	caps := RTPCapabilities{Codecs: []CodecCapability{{Kind: "video", MimeType: "video/VP8"}}}
	producerCaps := ProducerCapabilities{ProducerAudioEnabled: false, ProducerVideoEnabled: true, GlobalAudioEnabled: true, GlobalVideoEnabled: false}

	p.Join(caps, producerCaps)

	assert.True(t, p.IsJoined())
	assert.False(t, p.ProducerEnabled("audio"))
	assert.True(t, p.ProducerEnabled("video"))
	assert.True(t, p.GlobalEnabled("audio"))
	assert.False(t, p.GlobalEnabled("video"))
	assert.Equal(t, []string{"video/VP8"}, p.RTPCapabilities.MimeTypes("video"))
}

func TestRTPCapabilities_EmptyAndMimeTypes(t *testing.T) {
	var caps RTPCapabilities
	assert.True(t, caps.Empty())

	caps.Codecs = []CodecCapability{
		{Kind: "audio", MimeType: "audio/opus"},
		{Kind: "video", MimeType: "video/VP8"},
		{Kind: "video", MimeType: "video/H264"},
	}
	assert.False(t, caps.Empty())
	assert.ElementsMatch(t, []string{"video/VP8", "video/H264"}, caps.MimeTypes("video"))
	assert.Equal(t, []string{"audio/opus"}, caps.MimeTypes("audio"))
}

func TestSetProducer_ScreenSetsScreenSharingFlag(t *testing.T) {
	p := New("user-1", &fakeSocket{}, "desktop", "producer")
	assert.False(t, p.ScreenSharing())

	screenProd := media.NewProducer("prod-1", "user-1", "video", media.TagScreen, nil, nil, zap.NewNop())
	p.SetProducer(media.TagScreen, screenProd)
	assert.True(t, p.ScreenSharing())
	assert.True(t, p.Info().ScreenSharing)

	p.ClearProducer(media.TagScreen)
	assert.False(t, p.ScreenSharing())
}

func TestAllProducers_OnlyIncludesSetSlots(t *testing.T) {
	p := New("user-1", &fakeSocket{}, "desktop", "producer")
	videoProd := media.NewProducer("prod-v", "user-1", "video", media.TagVideo, nil, nil, zap.NewNop())
	p.SetProducer(media.TagVideo, videoProd)

	all := p.AllProducers()
	require.Len(t, all, 1)
	assert.Same(t, videoProd, all[media.TagVideo])
}

func TestConsumerLifecycle_SetGetRemove(t *testing.T) {
	p := New("user-1", &fakeSocket{}, "desktop", "consumer")

	c, ok := p.Consumer(media.TagAudio, "owner-1")
	assert.False(t, ok)
	assert.Nil(t, c)

	// Consumer construction details aren't needed here; nil is a valid
	// sentinel for exercising the map plumbing itself.
	p.SetConsumer(media.TagAudio, "owner-1", nil)
	_, ok = p.Consumer(media.TagAudio, "owner-1")
	assert.True(t, ok)

	p.RemoveConsumer(media.TagAudio, "owner-1")
	_, ok = p.Consumer(media.TagAudio, "owner-1")
	assert.False(t, ok)
}

func TestTeardownMedia_ClosesAllProducers(t *testing.T) {
	p := New("user-1", &fakeSocket{}, "desktop", "producer")
	audioProd := media.NewProducer("prod-a", "user-1", "audio", media.TagAudio, nil, nil, zap.NewNop())
	videoProd := media.NewProducer("prod-v", "user-1", "video", media.TagVideo, nil, nil, zap.NewNop())
	p.SetProducer(media.TagAudio, audioProd)
	p.SetProducer(media.TagVideo, videoProd)

	p.TeardownMedia()

	assert.True(t, audioProd.Closed())
	assert.True(t, videoProd.Closed())
}
