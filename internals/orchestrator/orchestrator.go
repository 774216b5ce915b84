// Package orchestrator wires the worker pool, room registry, signaling
// gateway, state and metrics together into one process and owns the
// top-level HTTP server lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/httpapi"
	appmetrics "github.com/sfu-core/engine/internals/metrics"
	"github.com/sfu-core/engine/internals/room"
	"github.com/sfu-core/engine/internals/signaling"
	"github.com/sfu-core/engine/internals/state"
	"github.com/sfu-core/engine/internals/workerpool"
)

type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger

	pool     *workerpool.Pool
	registry *room.Registry
	gateway  *signaling.Gateway
	state    *state.Manager
	pubsub   *signaling.PubSubManager

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pool, err := workerpool.StartPool(cfg.WorkerPool, cfg.Router.MediaCodecs, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start worker pool: %w", err)
	}

	stateManager, err := state.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis connection failed, running without persistence", zap.Error(err))
		stateManager = nil
	}

	registry := room.NewRegistry(pool, cfg.Router.MediaCodecs, cfg.Transport, cfg.Gateway, []webrtc.ICEServer{}, logger)
	if stateManager != nil {
		registry.WithState(stateManager)
	}

	gateway := signaling.NewGateway(registry, cfg.Gateway, logger)

	var pubsub *signaling.PubSubManager
	if stateManager != nil {
		pubsub = signaling.NewPubSubManager(stateManager.GetRedisClient(), gateway.Hub(), logger)
		gateway.WithPubSub(pubsub)
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		registry: registry,
		gateway:  gateway,
		state:    stateManager,
		pubsub:   pubsub,
		ctx:      ctx,
		cancel:   cancel,
	}
	return o, nil
}

func (o *Orchestrator) Start() error {
	o.logger.Info("starting sfu server", zap.String("host", o.cfg.Server.Host), zap.Int("port", o.cfg.Server.Port))

	go o.workerStatsLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", o.gateway.ServeHTTP)

	api := httpapi.New(o.registry, o.pool, o.state, o.pubsub, o.logger)
	api.Register(mux)

	if o.cfg.Metrics.Enabled {
		mux.Handle(o.cfg.Metrics.Path, promhttp.Handler())
	}

	o.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", o.cfg.Server.Host, o.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  o.cfg.Server.ReadTimeout,
		WriteTimeout: o.cfg.Server.WriteTimeout,
	}

	go func() {
		<-o.ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), o.cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		o.httpServer.Shutdown(shutdownCtx)
	}()

	o.logger.Info("sfu server started")
	return o.httpServer.ListenAndServe()
}

func (o *Orchestrator) Stop() {
	o.logger.Info("stopping sfu server")
	if o.pubsub != nil {
		o.pubsub.Close()
	}
	if o.state != nil {
		o.state.Close()
	}
	o.gateway.Hub().Stop()
	o.cancel()
}

// workerStatsLoop periodically refreshes slot load counters and exports
// them as gauges, so PickLeastLoaded decisions stay visible externally.
func (o *Orchestrator) workerStatsLoop() {
	ticker := time.NewTicker(o.cfg.Gateway.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.registry.RefreshPoolCounters()
			appmetrics.RecordWorkerStats(o.pool.Stats())
			appmetrics.RoomsActive.Set(float64(len(o.registry.AllStats())))
		}
	}
}
