package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/orchestrator"
	"github.com/sfu-core/engine/internals/utils"
)

func main() {
	cfg := config.LoadConfig()

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	logger := utils.GetLogger()
	logger.Info("starting sfu server")

	o, err := orchestrator.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create orchestrator", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := o.Start(); err != nil {
			logger.Fatal("failed to start sfu server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("received shutdown signal")

	o.Stop()
	logger.Info("sfu server stopped")
}
