package enrich

import (
	"context"
	"errors"
	"slices"
	"strings"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/providers"
	"animeindex/internal/queue"
	"animeindex/internal/services"
	"animeindex/internal/stage"
)

// FactsHandler copies provider facts onto linked works.
type FactsHandler struct {
	base
}

// NewFactsHandler builds the fetch-facts handler.
func NewFactsHandler(deps Deps) *FactsHandler {
	return &FactsHandler{base: newBase(deps, "facts")}
}

// Kind implements stage.Handler.
func (h *FactsHandler) Kind() string { return config.KindFetchFacts }

// HealthCheck verifies the configured facts source is registered.
func (h *FactsHandler) HealthCheck(context.Context) stage.Health {
	_, err := h.registry.Details(h.cfg.Scan.FactsSource)
	return healthFor(h.Kind(), err)
}

// Execute fetches details for the work's linked id and patches the fact
// attributes.
func (h *FactsHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	payload, err := stage.DecodePayload[FactsPayload](task)
	if err != nil {
		return "", err
	}
	source := strings.TrimSpace(payload.Source)
	if source == "" {
		source = h.cfg.Scan.FactsSource
	}
	fetcher, err := h.registry.Details(source)
	if err != nil {
		return "", err
	}
	work, err := h.loadWork(ctx, task.SubjectID)
	if err != nil {
		return "", err
	}
	logger := h.loggerFor(ctx).With(logging.String(logging.FieldProvider, source))

	link, ok := work.LinkFor(source)
	if !ok {
		logger.Debug("work has no link for facts source")
		return queue.OutcomeMissingLink, nil
	}
	fields := providers.FactFields()
	protected, err := h.protected(ctx, work.ID, fields...)
	if err != nil {
		return "", err
	}
	if protected {
		return queue.OutcomeProtected, nil
	}

	details, err := fetcher.FetchDetails(ctx, link.ExternalID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			logging.WarnWithContext(logger, "linked id not found at source", "facts_not_found",
				logging.String("external_id", link.ExternalID),
				logging.String(logging.FieldErrorHint, "verify the link; the source record may have been removed or merged"),
			)
			return queue.OutcomeNotFound, nil
		}
		return "", err
	}

	values := make(map[string]any, len(fields))
	for _, name := range fields {
		if value, ok := details.Fields[name]; ok && value != nil {
			values[name] = value
		}
	}
	if len(values) == 0 {
		return queue.OutcomeEmpty, nil
	}

	result, err := h.catalog.Patch(ctx, work.ID, values, catalog.PatchOptions{
		Force:      payload.Force,
		Provenance: catalog.ProvenanceAuto,
		Source:     source,
	})
	if err != nil {
		return "", err
	}
	logger.Info("facts patched",
		logging.String("external_id", link.ExternalID),
		logging.Int("written", len(result.Written)),
		logging.Int("skipped_filled", len(result.SkippedFilled)),
		logging.Int("skipped_manual", len(result.SkippedManual)),
		logging.Bool("force", payload.Force),
	)
	if !result.Changed() {
		if err := h.catalog.MarkChecked(ctx, work.ID, slices.Concat(result.SkippedFilled, result.SkippedManual)...); err != nil {
			return "", err
		}
		return queue.OutcomeUnchanged, nil
	}
	return queue.OutcomeUpdated, nil
}
