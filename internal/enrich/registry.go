package enrich

import (
	"fmt"
	"log/slog"
	"strings"

	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/providers"
	"animeindex/internal/providers/anilist"
	"animeindex/internal/providers/jikan"
	"animeindex/internal/providers/llm"
	"animeindex/internal/providers/tmdb"
	"animeindex/internal/ratelimit"
)

// BuildRegistry constructs every provider the configuration enables. AniList
// and Jikan need no credentials; TMDB and the LLM are registered only when an
// API key is configured. Each client gets its own rate-limited caller.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) (*providers.Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	registry := providers.NewRegistry()

	anilistClient, err := anilist.New(cfg.AniList.BaseURL, cfg.AniList.PerPage,
		anilist.WithCaller(newCaller(cfg, anilist.Source, cfg.AniList.MinIntervalMillis, logger)))
	if err != nil {
		return nil, fmt.Errorf("anilist client: %w", err)
	}
	registry.Register(anilistClient)

	jikanClient, err := jikan.New(cfg.Jikan.BaseURL, cfg.Jikan.SearchLimit,
		jikan.WithCaller(newCaller(cfg, jikan.Source, cfg.Jikan.MinIntervalMillis, logger)))
	if err != nil {
		return nil, fmt.Errorf("jikan client: %w", err)
	}
	registry.Register(jikanClient)

	if strings.TrimSpace(cfg.TMDB.APIKey) != "" {
		tmdbClient, err := tmdb.New(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.Language,
			tmdb.WithCaller(newCaller(cfg, tmdb.Source, cfg.TMDB.MinIntervalMillis, logger)))
		if err != nil {
			return nil, fmt.Errorf("tmdb client: %w", err)
		}
		registry.Register(tmdbClient)
	} else {
		logger.Debug("tmdb disabled; no api key configured", logging.String(logging.FieldProvider, tmdb.Source))
	}

	if strings.TrimSpace(cfg.LLM.APIKey) != "" {
		llmClient, err := llm.New(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}, llm.WithCaller(newCaller(cfg, llm.Source, cfg.LLM.MinIntervalMillis, logger)))
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		registry.Register(llmClient)
	} else {
		logger.Debug("llm scorer disabled; no api key configured", logging.String(logging.FieldProvider, llm.Source))
	}

	return registry, nil
}

func newCaller(cfg *config.Config, name string, minIntervalMillis int, logger *slog.Logger) *ratelimit.Caller {
	return ratelimit.New(
		ratelimit.SettingsFromConfig(cfg, name, minIntervalMillis),
		ratelimit.WithLogger(logger),
	)
}
