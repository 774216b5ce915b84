// Package httpapi exposes the process-wide REST surface: room listing and
// per-room stats, and a health check covering Redis reachability.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/room"
	"github.com/sfu-core/engine/internals/signaling"
	"github.com/sfu-core/engine/internals/state"
	"github.com/sfu-core/engine/internals/workerpool"
)

type API struct {
	registry *room.Registry
	pool     *workerpool.Pool
	state    *state.Manager
	pubsub   *signaling.PubSubManager
	logger   *zap.Logger
}

func New(registry *room.Registry, pool *workerpool.Pool, stateManager *state.Manager, pubsub *signaling.PubSubManager, logger *zap.Logger) *API {
	return &API{registry: registry, pool: pool, state: stateManager, pubsub: pubsub, logger: logger}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", a.cors(a.handleRooms))
	mux.HandleFunc("/api/rooms/", a.cors(a.handleRoom))
	mux.HandleFunc("/health", a.handleHealth)
}

func (a *API) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rooms := a.registry.AllStats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"rooms": rooms, "total": len(rooms)})
}

func (a *API) handleRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	if sessionID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	stats, ok := a.registry.StatsFor(sessionID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	redisStatus := "disabled"
	if a.state != nil {
		if err := a.state.Ping(); err != nil {
			redisStatus = "error: " + err.Error()
		} else {
			redisStatus = "connected"
		}
	}

	instanceID := ""
	if a.pubsub != nil {
		instanceID = a.pubsub.GetInstanceID()
	}

	status := "healthy"
	if redisStatus != "connected" && redisStatus != "disabled" {
		status = "degraded"
	}

	rooms := a.registry.AllStats()
	peers := 0
	for _, rm := range rooms {
		peers += len(rm.Clients)
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"timestamp":   time.Now(),
		"instance_id": instanceID,
		"redis":       redisStatus,
		"rooms":       len(rooms),
		"peers":       peers,
		"workers":     a.pool.Stats(),
	})
}
