// replay runs the engine against a recorded tick archive on a virtual
// clock. Useful for strategy inspection and regression runs against
// captured sessions.
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
	cfgPath := flag.String("config", "", "path to core.yaml")
	archive := flag.String("archive", "", "tick archive path (overrides replay.path)")
	speed := flag.Float64("speed", 0, "playback speed: 0 = as fast as possible, 1 = real time")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Force replay mode regardless of what the config says; paper broker
	// keeps execution local.
	cfg.Replay.Enabled = true
	cfg.Replay.Record = false
	cfg.Replay.Speed = *speed
	cfg.Broker.Mode = "paper"
	if *archive != "" {
		cfg.Replay.Path = *archive
	}

	log := logger.Init("replay", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	engine, err := core.New(cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("replay starting", "archive", cfg.Replay.Path, "speed", cfg.Replay.Speed)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("replay exited", "err", err)
		os.Exit(1)
	}
	log.Info("replay finished")
}
