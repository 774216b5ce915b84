package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sfu-core/engine/internals/config"
)

func testCodecs() []config.MediaCodec {
	return []config.MediaCodec{
		{Kind: "audio", MimeType: "audio/opus"},
		{Kind: "video", MimeType: "video/VP8"},
		{Kind: "video", MimeType: "video/H264"},
	}
}

func TestRouter_CanConsume_MatchingMimeType(t *testing.T) {
	r := &Router{codecs: testCodecs()}

	assert.True(t, r.CanConsume("video", []string{"video/VP8"}))
	assert.True(t, r.CanConsume("audio", []string{"audio/opus"}))
}

func TestRouter_CanConsume_CaseInsensitive(t *testing.T) {
	r := &Router{codecs: testCodecs()}

	assert.True(t, r.CanConsume("VIDEO", []string{"VIDEO/vp8"}))
}

func TestRouter_CanConsume_NoMatchingKind(t *testing.T) {
	r := &Router{codecs: testCodecs()}

	assert.False(t, r.CanConsume("video", []string{"audio/opus"}))
}

func TestRouter_CanConsume_EmptyCapabilities(t *testing.T) {
	r := &Router{codecs: testCodecs()}

	assert.False(t, r.CanConsume("video", nil))
}

func TestRouter_Codecs_ReturnsConfigured(t *testing.T) {
	codecs := testCodecs()
	r := &Router{codecs: codecs}

	assert.Equal(t, codecs, r.Codecs())
}
