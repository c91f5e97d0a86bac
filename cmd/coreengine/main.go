// coreengine runs the full signal pipeline: tick ingest, candle building,
// indicators, agent orchestration, signal monitoring, execution, and the
// WebSocket gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trading-corev1/internal/config"
	"trading-corev1/internal/core"
	"trading-corev1/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "", "path to core.yaml (default: ./core.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.Init("coreengine", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	engine, err := core.New(cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("coreengine starting",
		"instruments", cfg.Instruments,
		"timeframes", cfg.Timeframes,
		"broker_mode", cfg.Broker.Mode,
		"store", cfg.Store.Backend,
	)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine exited", "err", err)
		os.Exit(1)
	}
	log.Info("coreengine stopped")
}
