package main

import (
	"fmt"
	"log/slog"

	"conveyor/internal/config"
	"conveyor/internal/stage"
)

// buildRegistry creates one command processor per configured stage.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*stage.Registry, error) {
	registry := stage.NewRegistry()
	for _, id := range cfg.StageIDs() {
		processor, err := stage.NewCommandProcessor(id, cfg.Stages[id].Command, logger)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", id, err)
		}
		if err := registry.Register(id, processor); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
