package enrich

import (
	"context"
	"errors"
	"strings"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/metrics"
	"animeindex/internal/providers"
	"animeindex/internal/queue"
	"animeindex/internal/services"
	"animeindex/internal/stage"
	"animeindex/internal/titlematch"
)

// ResolveHandler links works to external ids.
type ResolveHandler struct {
	base
	resolver *titlematch.Resolver
}

// NewResolveHandler builds the resolve-id handler.
func NewResolveHandler(deps Deps, resolver *titlematch.Resolver) *ResolveHandler {
	return &ResolveHandler{base: newBase(deps, "resolver"), resolver: resolver}
}

// Kind implements stage.Handler.
func (h *ResolveHandler) Kind() string { return config.KindResolveID }

// HealthCheck reports whether any search provider is registered.
func (h *ResolveHandler) HealthCheck(context.Context) stage.Health {
	for _, source := range h.cfg.Scan.Sources {
		if _, err := h.registry.Searcher(source); err != nil {
			return healthFor(h.Kind(), err)
		}
	}
	return stage.Healthy(h.Kind())
}

// Execute resolves the subject's title against the payload source.
//
// A confirmed match is linked with automatic provenance. When the winning id
// already belongs to another work the link is refused, the candidates are
// kept for review and the outcome is duplicate. Deferred decisions keep the
// top candidates and never link.
func (h *ResolveHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	payload, err := stage.DecodePayload[ResolvePayload](task)
	if err != nil {
		return "", err
	}
	source := strings.ToLower(strings.TrimSpace(payload.Source))
	searcher, err := h.registry.Searcher(source)
	if err != nil {
		return "", err
	}
	work, err := h.loadWork(ctx, task.SubjectID)
	if err != nil {
		return "", err
	}
	logger := h.loggerFor(ctx).With(logging.String(logging.FieldProvider, source))

	if link, ok := work.LinkFor(source); ok {
		logger.Debug("work already linked; skipping resolution",
			logging.String("external_id", link.ExternalID),
			logging.String("provenance", string(link.Provenance)),
		)
		return queue.OutcomeUnchanged, nil
	}

	decision, err := h.resolver.Resolve(ctx, work.Title, searchFunc(searcher))
	if err != nil {
		return "", err
	}
	metrics.RecordDecision(source, string(decision.Action), decision.Reason)
	attrs := append(logging.DecisionAttrs("resolution", string(decision.Action), decision.Reason),
		logging.String("title", work.Title),
		logging.String("term", decision.Term),
		logging.Float64("top1", decision.Top1),
		logging.Float64("top2", decision.Top2),
		logging.Float64("gap", decision.Gap),
		logging.Bool("exact", decision.Exact),
		logging.Int("candidates", decision.CandidateCount),
	)
	if decision.Best != nil {
		attrs = append(attrs,
			logging.String("external_id", decision.Best.ExternalID),
			logging.String("matched_name", decision.Best.MatchedName),
		)
	}
	logger.Info("resolution decision", logging.Args(attrs...)...)

	if !decision.Confirmed() {
		if err := h.saveCandidates(ctx, work.ID, source, decision, queue.OutcomeDeferred); err != nil {
			return "", err
		}
		return queue.OutcomeDeferred, nil
	}

	result, err := h.catalog.Link(ctx, work.ID, source, decision.Best.ExternalID, catalog.ProvenanceAuto)
	if err != nil {
		var conflict *catalog.ConflictError
		if !errors.As(err, &conflict) {
			return "", err
		}
		logging.WarnWithContext(logger, "resolved id already linked elsewhere; recorded as duplicate", "resolution_duplicate",
			logging.String("external_id", decision.Best.ExternalID),
			logging.Int64("existing_work_id", conflict.ExistingWorkID),
			logging.String(logging.FieldErrorHint, "review candidates and link manually if the existing link is wrong"),
			logging.String(logging.FieldImpact, "work left unlinked for this source"),
		)
		if err := h.saveCandidates(ctx, work.ID, source, decision, queue.OutcomeDuplicate); err != nil {
			return "", err
		}
		return queue.OutcomeDuplicate, nil
	}
	if result == catalog.LinkUnchanged {
		return queue.OutcomeUnchanged, nil
	}
	return queue.OutcomeLinked, nil
}

func (h *ResolveHandler) saveCandidates(ctx context.Context, workID int64, source string, decision titlematch.Decision, outcome string) error {
	if len(decision.Ranked) == 0 {
		return nil
	}
	rows := make([]catalog.Candidate, 0, len(decision.Ranked))
	for _, scored := range decision.Ranked {
		rows = append(rows, catalog.Candidate{
			ExternalID: scored.ExternalID,
			Names:      scored.Names,
			Score:      scored.Score,
			Term:       decision.Term,
		})
	}
	if err := h.catalog.SaveCandidates(ctx, workID, source, decision.Term, outcome, rows); err != nil {
		return services.Wrap(services.ErrTransient, "resolver", "save candidates", "", err)
	}
	return nil
}

func searchFunc(searcher providers.Searcher) titlematch.SearchFunc {
	return func(ctx context.Context, term string) ([]titlematch.Candidate, error) {
		hits, err := searcher.Search(ctx, term)
		if err != nil {
			return nil, err
		}
		out := make([]titlematch.Candidate, 0, len(hits))
		for _, hit := range hits {
			out = append(out, titlematch.Candidate{ExternalID: hit.ExternalID, Names: hit.Names})
		}
		return out, nil
	}
}

// Preview runs the resolver for a work against source without writing links
// or candidates.
func (h *ResolveHandler) Preview(ctx context.Context, workID int64, source string) (titlematch.Decision, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	searcher, err := h.registry.Searcher(source)
	if err != nil {
		return titlematch.Decision{}, err
	}
	work, err := h.loadWork(ctx, workID)
	if err != nil {
		return titlematch.Decision{}, err
	}
	return h.resolver.Resolve(ctx, work.Title, searchFunc(searcher))
}
