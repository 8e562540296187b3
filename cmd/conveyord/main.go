package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
	"conveyor/internal/preflight"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	results := preflight.RunAll(cfg)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail))
	}
	if fatal := preflight.FatalFailures(results); len(fatal) > 0 {
		logger.Error("startup aborted by preflight",
			logging.Int("failed_checks", len(fatal)))
		return
	}

	store, err := jobstore.Open(ctx, jobstore.DefaultPath(cfg))
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Error("configure stages", logging.Error(err))
		store.Close()
		return
	}

	d, err := daemon.New(cfg, store, registry, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("conveyord shutting down")
}
