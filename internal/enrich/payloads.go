package enrich

import (
	"fmt"
	"strings"

	"animeindex/internal/config"
	"animeindex/internal/providers"
)

// ResolvePayload parameterizes a resolve-id task.
type ResolvePayload struct {
	Source string `json:"source"`
}

// FactsPayload parameterizes a fetch-facts task.
type FactsPayload struct {
	Source string `json:"source"`
	Force  bool   `json:"force,omitempty"`
}

// AvailabilityPayload parameterizes a check-availability task.
type AvailabilityPayload struct {
	Source string `json:"source"`
	Region string `json:"region"`
	Force  bool   `json:"force,omitempty"`
}

// ScorePayload parameterizes a generate-score task.
type ScorePayload struct {
	Profile string `json:"profile"`
	Force   bool   `json:"force,omitempty"`
}

// AvailabilityAttribute names the attribute holding offers for region.
func AvailabilityAttribute(region string) string {
	return "availability." + strings.ToUpper(strings.TrimSpace(region))
}

// ScoreAttribute names the attribute holding the score for profile.
func ScoreAttribute(profile string) string {
	return "score." + strings.ToLower(strings.TrimSpace(profile))
}

// TargetAttributes lists the attributes a task of kind writes for payload.
// A task whose targets are all manual has nothing left to do. Resolution
// writes links rather than attributes and has no targets.
func TargetAttributes(kind string, payload any) ([]string, error) {
	switch kind {
	case config.KindResolveID:
		return nil, nil
	case config.KindFetchFacts:
		return providers.FactFields(), nil
	case config.KindCheckAvailability:
		p, ok := payload.(AvailabilityPayload)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected payload %T", kind, payload)
		}
		return []string{AvailabilityAttribute(p.Region)}, nil
	case config.KindGenerateScore:
		p, ok := payload.(ScorePayload)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected payload %T", kind, payload)
		}
		return []string{ScoreAttribute(p.Profile)}, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}
