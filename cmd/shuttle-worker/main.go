// Command shuttle-worker renders export chunks on behalf of the daemon. It
// speaks newline-delimited JSON on stdin/stdout; diagnostics go to a log
// file so the protocol channel stays clean.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"shuttle/internal/adaptive"
	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/renderworker"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	nameFlag := flag.String("name", "worker", "worker slot name assigned by the daemon")
	flag.Parse()

	if err := run(*configFlag, *nameFlag); err != nil {
		fmt.Fprintf(os.Stderr, "shuttle-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, name string) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("worker-%s.log", name))
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldWorker, name))

	if raw := os.Getenv("SHUTTLE_MEMORY_CEILING_MB"); raw != "" {
		if ceiling, err := strconv.Atoi(raw); err == nil && ceiling > 0 {
			logger.Info("memory ceiling declared", logging.Int("ceiling_mb", ceiling))
		}
	}

	profiler := machine.NewProfiler(machine.Params{
		ReserveFraction: cfg.Machine.ReserveFraction,
		MinReserveGB:    cfg.Machine.MinReserveGB,
	}, logger)

	worker := renderworker.New(
		renderworker.NewCLIRenderer(cfg.Renderer),
		profiler,
		cfg.Transcoder,
		renderworker.Params{
			Thresholds: adaptive.Thresholds{
				FreeFloorMB: cfg.Adaptive.FreeFloorMB,
				RSSRatio:    cfg.Adaptive.RSSRatio,
			},
			IncreaseEvery:   cfg.Adaptive.IncreaseEvery,
			CooldownBatches: cfg.Adaptive.CooldownBatches,
		},
		logger,
	)

	heartbeat := time.Duration(cfg.Worker.HeartbeatIntervalSeconds) * time.Second
	server := renderworker.NewServer(worker, profiler, os.Stdin, os.Stdout, heartbeat, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("render worker ready")
	return server.Serve(ctx)
}
