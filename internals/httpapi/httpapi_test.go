package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/room"
	"github.com/sfu-core/engine/internals/workerpool"
)

func testCodecs() []config.MediaCodec {
	return []config.MediaCodec{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{SpeakerDetectionInterval: time.Hour, SpeakerMaxEntries: 1, SpeakerThreshold: -50}
}

func testAPI(t *testing.T) *API {
	t.Helper()
	pool, err := workerpool.StartPool(config.WorkerPoolConfig{Size: 1}, testCodecs(), zap.NewNop())
	require.NoError(t, err)
	registry := room.NewRegistry(pool, testCodecs(), config.TransportConfig{}, testGatewayConfig(), nil, zap.NewNop())
	t.Cleanup(func() {
		for _, s := range registry.AllStats() {
			if r, ok := registry.Get(s.ID); ok {
				r.Close()
			}
		}
	})
	return New(registry, pool, nil, nil, zap.NewNop())
}

func testMux(t *testing.T) (*API, *http.ServeMux) {
	api := testAPI(t)
	mux := http.NewServeMux()
	api.Register(mux)
	return api, mux
}

func TestHandleRooms_EmptyRegistry(t *testing.T) {
	_, mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["total"])
}

func TestHandleRooms_RejectsNonGet(t *testing.T) {
	_, mux := testMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleRooms_CORSPreflight(t *testing.T) {
	_, mux := testMux(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleRoom_NotFound(t *testing.T) {
	_, mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/does-not-exist", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRoom_MissingIDIsBadRequest(t *testing.T) {
	_, mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRoom_ReturnsStatsForExistingRoom(t *testing.T) {
	api, mux := testMux(t)
	_, err := api.registry.InitSession("room-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/room-1", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var stats room.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "room-1", stats.ID)
}

func TestHandleHealth_DisabledRedisReportsHealthy(t *testing.T) {
	_, mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["redis"])
}
