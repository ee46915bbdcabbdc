package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"animeindex/internal/providers"
	"animeindex/internal/ratelimit"
	"animeindex/internal/services"
)

// Source is the provider name used for links and registry lookups.
const Source = "tmdb"

// Media types embedded in external ids.
const (
	MediaTV    = "tv"
	MediaMovie = "movie"
)

const maxResponseBytes = 4 << 20

// Result represents a single TMDB search match or detail record.
type Result struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	OriginalTitle    string  `json:"original_title"`
	OriginalName     string  `json:"original_name"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date"`
	FirstAirDate     string  `json:"first_air_date"`
	MediaType        string  `json:"media_type"`
	Popularity       float64 `json:"popularity"`
	NumberOfEpisodes int     `json:"number_of_episodes"`
	Status           string  `json:"status"`
	Genres           []struct {
		Name string `json:"name"`
	} `json:"genres"`
	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
}

// Names lists the localized then original titles.
func (r Result) Names() []string {
	return providers.Names(r.Name, r.Title, r.OriginalName, r.OriginalTitle)
}

// Year returns the release or first-air year, or 0.
func (r Result) Year() int {
	date := r.FirstAirDate
	if date == "" {
		date = r.ReleaseDate
	}
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

// Response models the TMDB paginated search response.
type Response struct {
	Page         int      `json:"page"`
	Results      []Result `json:"results"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
}

type watchProvider struct {
	ProviderName string `json:"provider_name"`
}

type regionProviders struct {
	Link     string          `json:"link"`
	Flatrate []watchProvider `json:"flatrate"`
	Rent     []watchProvider `json:"rent"`
	Buy      []watchProvider `json:"buy"`
	Free     []watchProvider `json:"free"`
	Ads      []watchProvider `json:"ads"`
}

type watchProvidersResponse struct {
	ID      int64                      `json:"id"`
	Results map[string]regionProviders `json:"results"`
}

// Client provides access to the TMDB API.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
	caller     *ratelimit.Caller
}

var (
	_ providers.Searcher            = (*Client)(nil)
	_ providers.DetailsFetcher      = (*Client)(nil)
	_ providers.AvailabilityFetcher = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCaller sets the connection's rate-limited caller.
func WithCaller(caller *ratelimit.Caller) Option {
	return func(c *Client) {
		if caller != nil {
			c.caller = caller
		}
	}
}

// New creates a TMDB client.
func New(apiKey, baseURL, language string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, Source, "new", "tmdb api key required", nil)
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   strings.TrimSpace(language),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.caller == nil {
		client.caller = ratelimit.New(ratelimit.Settings{Name: Source})
	}
	return client, nil
}

// Name implements providers.Searcher.
func (c *Client) Name() string { return Source }

// ExternalID builds the typed external id for a TMDB record.
func ExternalID(mediaType string, id int64) string {
	return mediaType + ":" + strconv.FormatInt(id, 10)
}

// ParseExternalID splits a typed external id.
func ParseExternalID(value string) (string, int64, error) {
	mediaType, rawID, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok || (mediaType != MediaTV && mediaType != MediaMovie) {
		return "", 0, services.Wrap(services.ErrValidation, Source, "parse id", fmt.Sprintf("invalid tmdb id %q", value), nil)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, services.Wrap(services.ErrValidation, Source, "parse id", fmt.Sprintf("invalid tmdb id %q", value), nil)
	}
	return mediaType, id, nil
}

// Search runs a multi search and keeps TV and movie results.
func (c *Client) Search(ctx context.Context, term string) ([]providers.Candidate, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, services.Wrap(services.ErrValidation, Source, "search", "query must not be empty", nil)
	}
	params := url.Values{}
	params.Set("query", term)
	params.Set("include_adult", "false")
	var payload Response
	if err := c.get(ctx, "search", "/search/multi", params, &payload); err != nil {
		return nil, err
	}
	candidates := make([]providers.Candidate, 0, len(payload.Results))
	for _, result := range payload.Results {
		if result.MediaType != MediaTV && result.MediaType != MediaMovie {
			continue
		}
		candidates = append(candidates, providers.Candidate{
			ExternalID: ExternalID(result.MediaType, result.ID),
			Names:      result.Names(),
			Format:     result.MediaType,
			Year:       result.Year(),
		})
	}
	return candidates, nil
}

// FetchDetails returns the fact sheet for a typed TMDB id.
func (c *Client) FetchDetails(ctx context.Context, externalID string) (*providers.Details, error) {
	mediaType, id, err := ParseExternalID(externalID)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := c.get(ctx, "details", fmt.Sprintf("/%s/%d", mediaType, id), url.Values{}, &result); err != nil {
		return nil, err
	}
	fields := map[string]any{providers.FieldFormat: mediaType}
	if names := result.Names(); len(names) > 0 {
		fields[providers.FieldTitles] = names
	}
	if result.NumberOfEpisodes > 0 {
		fields[providers.FieldEpisodes] = result.NumberOfEpisodes
	}
	if v := strings.TrimSpace(result.Status); v != "" {
		fields[providers.FieldStatus] = strings.ToLower(v)
	}
	if year := result.Year(); year > 0 {
		fields[providers.FieldSeasonYear] = year
	}
	var genres, studios []string
	for _, g := range result.Genres {
		genres = append(genres, g.Name)
	}
	for _, p := range result.ProductionCompanies {
		studios = append(studios, p.Name)
	}
	if genres = providers.Names(genres...); len(genres) > 0 {
		fields[providers.FieldGenres] = genres
	}
	if studios = providers.Names(studios...); len(studios) > 0 {
		fields[providers.FieldStudios] = studios
	}
	if v := strings.TrimSpace(result.Overview); v != "" {
		fields[providers.FieldSynopsis] = v
	}
	return &providers.Details{ExternalID: ExternalID(mediaType, id), Fields: fields}, nil
}

// FetchAvailability maps watch providers for region onto offers. A region
// with no providers yields an empty, non-nil slice.
func (c *Client) FetchAvailability(ctx context.Context, externalID, region string) ([]providers.Offer, error) {
	mediaType, id, err := ParseExternalID(externalID)
	if err != nil {
		return nil, err
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		return nil, services.Wrap(services.ErrValidation, Source, "availability", "region required", nil)
	}
	var payload watchProvidersResponse
	if err := c.get(ctx, "availability", fmt.Sprintf("/%s/%d/watch/providers", mediaType, id), url.Values{}, &payload); err != nil {
		return nil, err
	}
	entry, ok := payload.Results[region]
	offers := []providers.Offer{}
	if !ok {
		return offers, nil
	}
	add := func(list []watchProvider, kind providers.OfferKind) {
		for _, p := range list {
			name := strings.TrimSpace(p.ProviderName)
			if name == "" {
				continue
			}
			offers = append(offers, providers.Offer{Channel: name, Kind: kind, Link: entry.Link})
		}
	}
	add(entry.Flatrate, providers.OfferSubscription)
	add(entry.Rent, providers.OfferRental)
	add(entry.Buy, providers.OfferPurchase)
	add(entry.Free, providers.OfferFree)
	add(entry.Ads, providers.OfferFree)
	providers.SortOffers(offers)
	return dedupeOffers(offers), nil
}

func dedupeOffers(offers []providers.Offer) []providers.Offer {
	out := offers[:0]
	for i, offer := range offers {
		if i > 0 && offer.Channel == offers[i-1].Channel && offer.Kind == offers[i-1].Kind {
			continue
		}
		out = append(out, offer)
	}
	return out
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	endpoint.RawQuery = params.Encode()

	return c.caller.Do(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		requestStart := time.Now()
		resp, err := c.httpClient.Do(req)
		latency := time.Since(requestStart)
		if err != nil {
			return fmt.Errorf("execute request (latency=%v): %w", latency, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return ratelimit.NewStatusError(resp)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response (latency=%v): %w", latency, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return services.Wrap(services.ErrMalformed, Source, op, "decode response", err)
		}
		return nil
	})
}
