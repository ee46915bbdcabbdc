package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/providers"
	"animeindex/internal/stage"
	"animeindex/internal/titlematch"
)

// Deps bundles what every handler needs.
type Deps struct {
	Config   *config.Config
	Catalog  *catalog.Store
	Registry *providers.Registry
	Logger   *slog.Logger
}

// NewHandlers returns one handler per known task kind.
func NewHandlers(deps Deps) ([]stage.Handler, error) {
	if deps.Config == nil || deps.Catalog == nil || deps.Registry == nil {
		return nil, fmt.Errorf("enrich: config, catalog and registry are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	resolver, err := titlematch.NewResolver(PolicyFromConfig(deps.Config))
	if err != nil {
		return nil, fmt.Errorf("enrich: matching policy: %w", err)
	}
	return []stage.Handler{
		NewResolveHandler(deps, resolver),
		NewFactsHandler(deps),
		NewAvailabilityHandler(deps),
		NewScoreHandler(deps),
	}, nil
}

// PolicyFromConfig converts the matching section into a resolver policy.
func PolicyFromConfig(cfg *config.Config) titlematch.Policy {
	m := cfg.Matching
	policy := titlematch.Policy{
		NearCertain:      m.NearCertain,
		High:             m.High,
		ClearGap:         m.ClearGap,
		LoneCandidate:    m.LoneCandidate,
		ShortASCIIMaxLen: m.ShortASCIIMaxLen,
		TopK:             m.TopK,
	}
	for _, step := range m.Ladder {
		policy.Ladder = append(policy.Ladder, titlematch.Threshold{Score: step.Score, Gap: step.Gap})
	}
	return policy
}

type base struct {
	cfg      *config.Config
	catalog  *catalog.Store
	registry *providers.Registry
	logger   *slog.Logger
}

func newBase(deps Deps, component string) base {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return base{
		cfg:      deps.Config,
		catalog:  deps.Catalog,
		registry: deps.Registry,
		logger:   logging.NewComponentLogger(logger, component),
	}
}

func (b base) loggerFor(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, b.logger)
}

func (b base) loadWork(ctx context.Context, id int64) (*catalog.Work, error) {
	return b.catalog.MustGetWork(ctx, id)
}

// protected reports whether every target attribute is manual. It is checked
// at claim time because a curator may have filled the value after enqueue.
func (b base) protected(ctx context.Context, workID int64, names ...string) (bool, error) {
	return b.catalog.Protected(ctx, workID, names...)
}

func healthFor(kind string, err error) stage.Health {
	if err != nil {
		return stage.Unhealthy(kind, err.Error())
	}
	return stage.Healthy(kind)
}
