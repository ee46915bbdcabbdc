package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/providers"
	"animeindex/internal/providers/llm"
	"animeindex/internal/queue"
	"animeindex/internal/services"
	"animeindex/internal/stage"
)

const (
	maxScore       = 10
	maxSynopsisLen = 1200
)

// Score is a validated generate-score result as stored on the work.
type Score struct {
	Profile    string  `json:"profile"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type scoreResponse struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Rationale  *string  `json:"rationale"`
}

// ParseScore validates raw scorer output. Missing fields, out-of-range numbers
// and undecodable payloads are reported as services.ErrMalformed.
func ParseScore(profile, raw string) (Score, error) {
	var resp scoreResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return Score{}, services.Wrap(services.ErrMalformed, "scoring", "decode", "", err)
	}
	var problems []string
	switch {
	case resp.Score == nil:
		problems = append(problems, "score missing")
	case math.IsNaN(*resp.Score) || *resp.Score < 0 || *resp.Score > maxScore:
		problems = append(problems, fmt.Sprintf("score %v outside [0, %d]", *resp.Score, maxScore))
	}
	switch {
	case resp.Confidence == nil:
		problems = append(problems, "confidence missing")
	case math.IsNaN(*resp.Confidence) || *resp.Confidence < 0 || *resp.Confidence > 1:
		problems = append(problems, fmt.Sprintf("confidence %v outside [0, 1]", *resp.Confidence))
	}
	if resp.Rationale == nil || strings.TrimSpace(*resp.Rationale) == "" {
		problems = append(problems, "rationale missing")
	}
	if len(problems) > 0 {
		return Score{}, services.Wrap(services.ErrMalformed, "scoring", "validate", strings.Join(problems, "; "), nil)
	}
	return Score{
		Profile:    profile,
		Score:      *resp.Score,
		Confidence: *resp.Confidence,
		Rationale:  strings.TrimSpace(*resp.Rationale),
	}, nil
}

// ScoreHandler generates LLM scores for works.
type ScoreHandler struct {
	base
}

// NewScoreHandler builds the generate-score handler.
func NewScoreHandler(deps Deps) *ScoreHandler {
	return &ScoreHandler{base: newBase(deps, "scoring")}
}

// Kind implements stage.Handler.
func (h *ScoreHandler) Kind() string { return config.KindGenerateScore }

// HealthCheck verifies a scorer is registered.
func (h *ScoreHandler) HealthCheck(context.Context) stage.Health {
	_, err := h.registry.Scorer()
	return healthFor(h.Kind(), err)
}

// Execute asks the scorer for one profile's score. Malformed output is
// retried with the same prompt up to scoring.malformed_retries times; after
// that the task closes with the malformed outcome and the attribute stays
// untouched.
func (h *ScoreHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	payload, err := stage.DecodePayload[ScorePayload](task)
	if err != nil {
		return "", err
	}
	profile := strings.ToLower(strings.TrimSpace(payload.Profile))
	if profile == "" {
		return "", services.Wrap(services.ErrValidation, "scoring", "payload", "profile is required", nil)
	}
	scorer, err := h.registry.Scorer()
	if err != nil {
		return "", err
	}
	work, err := h.loadWork(ctx, task.SubjectID)
	if err != nil {
		return "", err
	}
	logger := h.loggerFor(ctx).With(
		logging.String(logging.FieldProvider, scorer.Name()),
		logging.String("profile", profile),
	)

	attr := ScoreAttribute(profile)
	current, exists := work.Attribute(attr)
	if exists && current.IsManual() {
		return queue.OutcomeProtected, nil
	}
	if exists && !current.IsEmpty() && !payload.Force {
		if err := h.catalog.MarkChecked(ctx, work.ID, attr); err != nil {
			return "", err
		}
		return queue.OutcomeUnchanged, nil
	}

	prompt := BuildScorePrompt(work, profile)
	attempts := 1 + max(h.cfg.Scoring.MalformedRetries, 0)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := scorer.ScoreText(ctx, prompt)
		if err == nil {
			var score Score
			score, err = ParseScore(profile, raw)
			if err == nil {
				return h.store(ctx, work.ID, attr, score, payload.Force, scorer.Name())
			}
		}
		if !errors.Is(err, services.ErrMalformed) {
			return "", err
		}
		lastErr = err
		logger.Debug("scorer returned malformed output",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Error(err),
		)
	}
	logging.WarnWithContext(logger, "scorer output stayed malformed; score not stored", "score_malformed",
		logging.Int("attempts", attempts),
		logging.Error(lastErr),
		logging.String(logging.FieldErrorHint, "inspect the model output; the next scan re-enqueues the task"),
		logging.String(logging.FieldImpact, "work left without a score for this profile"),
	)
	return queue.OutcomeMalformed, nil
}

func (h *ScoreHandler) store(ctx context.Context, workID int64, attr string, score Score, force bool, source string) (string, error) {
	result, err := h.catalog.Patch(ctx, workID, map[string]any{attr: score}, catalog.PatchOptions{
		Force:      force,
		Provenance: catalog.ProvenanceAuto,
		Source:     source,
	})
	if err != nil {
		return "", err
	}
	if !result.Changed() {
		return queue.OutcomeUnchanged, nil
	}
	return queue.OutcomeScored, nil
}

// BuildScorePrompt renders the facts known about work for the scorer.
func BuildScorePrompt(work *catalog.Work, profile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate the anime below for the %q profile.\n", profile)
	fmt.Fprintf(&b, "Title: %s\n", work.Title)

	var titles []string
	if attr, ok := work.Attribute(providers.FieldTitles); ok {
		_ = attr.Decode(&titles)
	}
	if alt := altTitles(work.Title, titles); len(alt) > 0 {
		fmt.Fprintf(&b, "Also known as: %s\n", strings.Join(alt, "; "))
	}
	var format string
	if attr, ok := work.Attribute(providers.FieldFormat); ok {
		_ = attr.Decode(&format)
	}
	if format != "" {
		fmt.Fprintf(&b, "Format: %s\n", format)
	}
	var year int
	if attr, ok := work.Attribute(providers.FieldSeasonYear); ok {
		_ = attr.Decode(&year)
	}
	if year > 0 {
		fmt.Fprintf(&b, "Year: %d\n", year)
	}
	var genres []string
	if attr, ok := work.Attribute(providers.FieldGenres); ok {
		_ = attr.Decode(&genres)
	}
	if len(genres) > 0 {
		fmt.Fprintf(&b, "Genres: %s\n", strings.Join(genres, ", "))
	}
	var synopsis string
	if attr, ok := work.Attribute(providers.FieldSynopsis); ok {
		_ = attr.Decode(&synopsis)
	}
	if synopsis = strings.TrimSpace(synopsis); synopsis != "" {
		if runes := []rune(synopsis); len(runes) > maxSynopsisLen {
			synopsis = string(runes[:maxSynopsisLen]) + "..."
		}
		fmt.Fprintf(&b, "Synopsis: %s\n", synopsis)
	}
	b.WriteString(`Respond with JSON: {"score": 0-10, "confidence": 0-1, "rationale": "one sentence"}`)
	return b.String()
}

func altTitles(title string, names []string) []string {
	var out []string
	for _, name := range providers.Names(names...) {
		if name != title {
			out = append(out, name)
		}
	}
	return out
}
