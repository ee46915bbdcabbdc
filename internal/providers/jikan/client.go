// Package jikan is the Jikan (MyAnimeList mirror) source provider.
package jikan

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
const Source = "jikan"

const (
	maxListBytes   = 4 << 20
	maxSingleBytes = 2 << 20
	userAgent      = "animeindex/1.0"
)

// AnimeData is the shared data block returned by single and list endpoints.
type AnimeData struct {
	MalID         int64    `json:"mal_id"`
	Title         string   `json:"title"`
	TitleEnglish  string   `json:"title_english"`
	TitleJapanese string   `json:"title_japanese"`
	TitleSynonyms []string `json:"title_synonyms"`
	Synopsis      string   `json:"synopsis"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Episodes      int      `json:"episodes"`
	Year          int      `json:"year"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Studios []struct {
		Name string `json:"name"`
	} `json:"studios"`
}

// Names lists English, default and Japanese titles followed by synonyms.
func (d AnimeData) Names() []string {
	values := []string{d.TitleEnglish, d.Title, d.TitleJapanese}
	return providers.Names(append(values, d.TitleSynonyms...)...)
}

type animeResponse struct {
	Data *AnimeData `json:"data"`
}

type animeListResponse struct {
	Data       []AnimeData `json:"data"`
	Pagination struct {
		HasNextPage bool `json:"has_next_page"`
	} `json:"pagination"`
}

// Client talks to the Jikan REST API.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client
	caller     *ratelimit.Caller
}

var (
	_ providers.Searcher       = (*Client)(nil)
	_ providers.DetailsFetcher = (*Client)(nil)
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

// New creates a Jikan client.
func New(baseURL string, limit int, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("jikan base url required")
	}
	if limit <= 0 {
		limit = 10
	}
	client := &Client{
		baseURL:    baseURL,
		limit:      limit,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.caller == nil {
		client.caller = ratelimit.New(ratelimit.Settings{Name: Source, MinInterval: time.Second})
	}
	return client, nil
}

// Name implements providers.Searcher.
func (c *Client) Name() string { return Source }

// Search queries Jikan for anime by title.
func (c *Client) Search(ctx context.Context, term string) ([]providers.Candidate, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, services.Wrap(services.ErrValidation, Source, "search", "query must not be empty", nil)
	}
	params := url.Values{}
	params.Set("q", term)
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("order_by", "popularity")
	params.Set("sort", "asc")

	var out animeListResponse
	if err := c.get(ctx, "search", c.baseURL+"/anime?"+params.Encode(), maxListBytes, &out); err != nil {
		return nil, err
	}
	candidates := make([]providers.Candidate, 0, len(out.Data))
	for _, data := range out.Data {
		if data.MalID <= 0 {
			continue
		}
		candidates = append(candidates, providers.Candidate{
			ExternalID: strconv.FormatInt(data.MalID, 10),
			Names:      data.Names(),
			Format:     strings.ToLower(data.Type),
			Year:       data.Year,
		})
	}
	return candidates, nil
}

// FetchDetails returns the fact sheet for a MyAnimeList id.
func (c *Client) FetchDetails(ctx context.Context, externalID string) (*providers.Details, error) {
	malID, err := strconv.ParseInt(strings.TrimSpace(externalID), 10, 64)
	if err != nil || malID <= 0 {
		return nil, services.Wrap(services.ErrValidation, Source, "details", fmt.Sprintf("invalid mal id %q", externalID), nil)
	}
	var out animeResponse
	if err := c.get(ctx, "details", c.baseURL+"/anime/"+strconv.FormatInt(malID, 10), maxSingleBytes, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, services.Wrap(services.ErrNotFound, Source, "details", fmt.Sprintf("anime %d", malID), nil)
	}
	return &providers.Details{ExternalID: strconv.FormatInt(malID, 10), Fields: animeFields(*out.Data)}, nil
}

func animeFields(d AnimeData) map[string]any {
	fields := make(map[string]any)
	if names := d.Names(); len(names) > 0 {
		fields[providers.FieldTitles] = names
	}
	if v := strings.TrimSpace(d.Type); v != "" {
		fields[providers.FieldFormat] = strings.ToLower(v)
	}
	if d.Episodes > 0 {
		fields[providers.FieldEpisodes] = d.Episodes
	}
	if v := strings.TrimSpace(d.Status); v != "" {
		fields[providers.FieldStatus] = strings.ToLower(v)
	}
	if d.Year > 0 {
		fields[providers.FieldSeasonYear] = d.Year
	}
	var genres, studios []string
	for _, g := range d.Genres {
		genres = append(genres, g.Name)
	}
	for _, s := range d.Studios {
		studios = append(studios, s.Name)
	}
	if genres = providers.Names(genres...); len(genres) > 0 {
		fields[providers.FieldGenres] = genres
	}
	if studios = providers.Names(studios...); len(studios) > 0 {
		fields[providers.FieldStudios] = studios
	}
	if v := strings.TrimSpace(d.Synopsis); v != "" {
		fields[providers.FieldSynopsis] = v
	}
	return fields
}

func (c *Client) get(ctx context.Context, op, rawURL string, limit int64, out any) error {
	return c.caller.Do(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return ratelimit.NewStatusError(resp)
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, out); err != nil {
			return services.Wrap(services.ErrMalformed, Source, op,
				fmt.Sprintf("decode error body=%q", string(b[:min(len(b), 200)])), err)
		}
		return nil
	})
}
