package main

import (
	"fmt"
	"log/slog"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/enrich"
	"animeindex/internal/providers"
	"animeindex/internal/stage"
)

// runtime bundles the provider registry and task handlers shared by the
// worker, scan and resolve commands.
type runtime struct {
	registry *providers.Registry
	handlers []stage.Handler
}

func buildRuntime(cfg *config.Config, catalogStore *catalog.Store, logger *slog.Logger) (*runtime, error) {
	registry, err := enrich.BuildRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	handlers, err := enrich.NewHandlers(enrich.Deps{
		Config:   cfg,
		Catalog:  catalogStore,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{registry: registry, handlers: handlers}, nil
}

func (r *runtime) resolver() (*enrich.ResolveHandler, error) {
	for _, handler := range r.handlers {
		if h, ok := handler.(*enrich.ResolveHandler); ok {
			return h, nil
		}
	}
	return nil, fmt.Errorf("resolve handler not registered")
}
