package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/providers"
	"animeindex/internal/queue"
	"animeindex/internal/services"
	"animeindex/internal/stage"
)

// AvailabilityHandler records where linked works can be watched.
type AvailabilityHandler struct {
	base
}

// NewAvailabilityHandler builds the check-availability handler.
func NewAvailabilityHandler(deps Deps) *AvailabilityHandler {
	return &AvailabilityHandler{base: newBase(deps, "availability")}
}

// Kind implements stage.Handler.
func (h *AvailabilityHandler) Kind() string { return config.KindCheckAvailability }

// HealthCheck verifies the configured availability source is registered.
func (h *AvailabilityHandler) HealthCheck(context.Context) stage.Health {
	_, err := h.registry.Availability(h.cfg.Scan.AvailabilitySource)
	return healthFor(h.Kind(), err)
}

// Execute fetches offers for one region. An identical offer list only
// refreshes the check time; an empty list is stored and reported as empty so
// the next scan re-checks it.
func (h *AvailabilityHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	payload, err := stage.DecodePayload[AvailabilityPayload](task)
	if err != nil {
		return "", err
	}
	region := strings.ToUpper(strings.TrimSpace(payload.Region))
	if region == "" {
		return "", services.Wrap(services.ErrValidation, "availability", "payload", "region is required", nil)
	}
	source := strings.TrimSpace(payload.Source)
	if source == "" {
		source = h.cfg.Scan.AvailabilitySource
	}
	fetcher, err := h.registry.Availability(source)
	if err != nil {
		return "", err
	}
	work, err := h.loadWork(ctx, task.SubjectID)
	if err != nil {
		return "", err
	}
	logger := h.loggerFor(ctx).With(
		logging.String(logging.FieldProvider, source),
		logging.String("region", region),
	)

	link, ok := work.LinkFor(source)
	if !ok {
		return queue.OutcomeMissingLink, nil
	}
	attr := AvailabilityAttribute(region)
	protected, err := h.protected(ctx, work.ID, attr)
	if err != nil {
		return "", err
	}
	if protected {
		return queue.OutcomeProtected, nil
	}

	offers, err := fetcher.FetchAvailability(ctx, link.ExternalID, region)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return queue.OutcomeNotFound, nil
		}
		return "", err
	}
	if offers == nil {
		offers = []providers.Offer{}
	}
	providers.SortOffers(offers)
	encoded, err := json.Marshal(offers)
	if err != nil {
		return "", services.Wrap(services.ErrMalformed, "availability", "encode offers", "", err)
	}

	if current, ok := work.Attribute(attr); ok && !current.IsManual() && bytes.Equal(bytes.TrimSpace(current.Value), encoded) {
		if err := h.catalog.MarkChecked(ctx, work.ID, attr); err != nil {
			return "", err
		}
		if len(offers) == 0 {
			return queue.OutcomeEmpty, nil
		}
		return queue.OutcomeUnchanged, nil
	}

	result, err := h.catalog.Patch(ctx, work.ID, map[string]any{attr: json.RawMessage(encoded)}, catalog.PatchOptions{
		Force:      payload.Force,
		Provenance: catalog.ProvenanceAuto,
		Source:     source,
	})
	if err != nil {
		return "", err
	}
	logger.Info("availability checked",
		logging.String("external_id", link.ExternalID),
		logging.Int("offers", len(offers)),
		logging.Bool("written", result.Changed()),
	)
	switch {
	case len(offers) == 0:
		return queue.OutcomeEmpty, nil
	case !result.Changed():
		if err := h.catalog.MarkChecked(ctx, work.ID, attr); err != nil {
			return "", err
		}
		return queue.OutcomeUnchanged, nil
	default:
		return queue.OutcomeUpdated, nil
	}
}
