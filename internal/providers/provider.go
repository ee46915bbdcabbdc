package providers

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"animeindex/internal/services"
)

// Fact field names returned in Details.Fields and stored as catalog
// attributes.
const (
	FieldTitles     = "titles"
	FieldFormat     = "format"
	FieldEpisodes   = "episodes"
	FieldStatus     = "status"
	FieldSeasonYear = "season_year"
	FieldGenres     = "genres"
	FieldSynopsis   = "synopsis"
	FieldStudios    = "studios"
)

// FactFields lists the fields a fetch-facts task fills.
func FactFields() []string {
	return []string{
		FieldTitles,
		FieldFormat,
		FieldEpisodes,
		FieldStatus,
		FieldSeasonYear,
		FieldGenres,
		FieldSynopsis,
		FieldStudios,
	}
}

// Candidate is one search hit.
type Candidate struct {
	ExternalID string
	Names      []string
	Format     string
	Year       int
}

// Details is a provider's fact sheet for one external record. Absent facts
// are left out of Fields.
type Details struct {
	ExternalID string
	Fields     map[string]any
}

// OfferKind is how a channel offers a title.
type OfferKind string

const (
	OfferSubscription OfferKind = "subscription"
	OfferRental       OfferKind = "rental"
	OfferPurchase     OfferKind = "purchase"
	OfferFree         OfferKind = "free"
)

// Offer is one way to watch a title in a region.
type Offer struct {
	Channel string    `json:"channel"`
	Kind    OfferKind `json:"kind"`
	Link    string    `json:"link,omitempty"`
}

// SortOffers orders offers by channel then kind for stable storage.
func SortOffers(offers []Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].Channel != offers[j].Channel {
			return offers[i].Channel < offers[j].Channel
		}
		return offers[i].Kind < offers[j].Kind
	})
}

// Searcher finds candidate records for a query term.
type Searcher interface {
	Name() string
	Search(ctx context.Context, term string) ([]Candidate, error)
}

// DetailsFetcher loads facts for a linked record.
type DetailsFetcher interface {
	Name() string
	FetchDetails(ctx context.Context, externalID string) (*Details, error)
}

// AvailabilityFetcher lists watch offers for a linked record in a region.
type AvailabilityFetcher interface {
	Name() string
	FetchAvailability(ctx context.Context, externalID, region string) ([]Offer, error)
}

// Scorer returns raw structured text for a prompt. Callers validate it.
type Scorer interface {
	Name() string
	ScoreText(ctx context.Context, prompt string) (string, error)
}

// Registry resolves provider capabilities by source name.
type Registry struct {
	searchers    map[string]Searcher
	details      map[string]DetailsFetcher
	availability map[string]AvailabilityFetcher
	scorer       Scorer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		searchers:    make(map[string]Searcher),
		details:      make(map[string]DetailsFetcher),
		availability: make(map[string]AvailabilityFetcher),
	}
}

// Register adds every capability provider implements under its Name.
func (r *Registry) Register(provider any) {
	if s, ok := provider.(Searcher); ok {
		r.searchers[s.Name()] = s
	}
	if d, ok := provider.(DetailsFetcher); ok {
		r.details[d.Name()] = d
	}
	if a, ok := provider.(AvailabilityFetcher); ok {
		r.availability[a.Name()] = a
	}
	if s, ok := provider.(Scorer); ok {
		r.scorer = s
	}
}

// Searcher returns the search capability for source.
func (r *Registry) Searcher(source string) (Searcher, error) {
	if s, ok := r.searchers[normalizeSource(source)]; ok {
		return s, nil
	}
	return nil, missing("search", source)
}

// Details returns the details capability for source.
func (r *Registry) Details(source string) (DetailsFetcher, error) {
	if d, ok := r.details[normalizeSource(source)]; ok {
		return d, nil
	}
	return nil, missing("details", source)
}

// Availability returns the availability capability for source.
func (r *Registry) Availability(source string) (AvailabilityFetcher, error) {
	if a, ok := r.availability[normalizeSource(source)]; ok {
		return a, nil
	}
	return nil, missing("availability", source)
}

// Scorer returns the configured scorer.
func (r *Registry) Scorer() (Scorer, error) {
	if r.scorer == nil {
		return nil, missing("scoring", "llm")
	}
	return r.scorer, nil
}

// Sources lists the names with at least one registered capability.
func (r *Registry) Sources() []string {
	var names []string
	for name := range r.searchers {
		names = append(names, name)
	}
	for name := range r.details {
		names = append(names, name)
	}
	for name := range r.availability {
		names = append(names, name)
	}
	if r.scorer != nil {
		names = append(names, r.scorer.Name())
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

func missing(capability, source string) error {
	return services.Wrap(services.ErrConfiguration, "providers", capability,
		fmt.Sprintf("no %s provider registered for %q", capability, source), nil)
}

// Names collects the distinct non-empty trimmed names, preserving order.
func Names(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
