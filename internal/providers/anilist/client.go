package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"animeindex/internal/providers"
	"animeindex/internal/ratelimit"
	"animeindex/internal/services"
)

// Source is the provider name used for links and registry lookups.
const Source = "anilist"

const maxResponseBytes = 4 << 20

const searchQuery = `query ($search: String, $perPage: Int) {
  Page(perPage: $perPage) {
    media(search: $search, type: ANIME) {
      id
      format
      seasonYear
      title { romaji english native }
      synonyms
    }
  }
}`

const detailsQuery = `query ($id: Int) {
  Media(id: $id, type: ANIME) {
    id
    format
    episodes
    status
    seasonYear
    genres
    description(asHtml: false)
    title { romaji english native }
    synonyms
    studios(isMain: true) { nodes { name } }
  }
}`

// Media is the subset of the AniList Media object this client reads.
type Media struct {
	ID         int64    `json:"id"`
	Format     string   `json:"format"`
	Episodes   int      `json:"episodes"`
	Status     string   `json:"status"`
	SeasonYear int      `json:"seasonYear"`
	Genres     []string `json:"genres"`
	Synopsis   string   `json:"description"`
	Title      struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Synonyms []string `json:"synonyms"`
	Studios  struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"studios"`
}

// Names lists the media's titles, English first.
func (m Media) Names() []string {
	values := []string{m.Title.English, m.Title.Romaji, m.Title.Native}
	return providers.Names(append(values, m.Synonyms...)...)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLErrorEntry struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type graphQLResponse[T any] struct {
	Data   T                   `json:"data"`
	Errors []graphQLErrorEntry `json:"errors"`
}

type searchData struct {
	Page struct {
		Media []Media `json:"media"`
	} `json:"Page"`
}

type detailsData struct {
	Media *Media `json:"Media"`
}

// Client talks to the AniList GraphQL endpoint.
type Client struct {
	baseURL    string
	perPage    int
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

// New creates an AniList client.
func New(baseURL string, perPage int, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("anilist base url required")
	}
	if perPage <= 0 {
		perPage = 10
	}
	client := &Client{
		baseURL:    baseURL,
		perPage:    perPage,
		httpClient: &http.Client{Timeout: 15 * time.Second},
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

// Search returns AniList media matching term.
func (c *Client) Search(ctx context.Context, term string) ([]providers.Candidate, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, services.Wrap(services.ErrValidation, Source, "search", "query must not be empty", nil)
	}
	vars := map[string]any{"search": term, "perPage": c.perPage}
	data, err := execute[searchData](ctx, c, "search", searchQuery, vars)
	if err != nil {
		return nil, err
	}
	candidates := make([]providers.Candidate, 0, len(data.Page.Media))
	for _, media := range data.Page.Media {
		if media.ID <= 0 {
			continue
		}
		candidates = append(candidates, providers.Candidate{
			ExternalID: strconv.FormatInt(media.ID, 10),
			Names:      media.Names(),
			Format:     media.Format,
			Year:       media.SeasonYear,
		})
	}
	return candidates, nil
}

// FetchDetails returns the fact sheet for an AniList media id.
func (c *Client) FetchDetails(ctx context.Context, externalID string) (*providers.Details, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(externalID), 10, 64)
	if err != nil || id <= 0 {
		return nil, services.Wrap(services.ErrValidation, Source, "details", fmt.Sprintf("invalid media id %q", externalID), nil)
	}
	data, err := execute[detailsData](ctx, c, "details", detailsQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if data.Media == nil {
		return nil, services.Wrap(services.ErrNotFound, Source, "details", fmt.Sprintf("media %d", id), nil)
	}
	return &providers.Details{ExternalID: strconv.FormatInt(id, 10), Fields: mediaFields(*data.Media)}, nil
}

func mediaFields(m Media) map[string]any {
	fields := make(map[string]any)
	if names := m.Names(); len(names) > 0 {
		fields[providers.FieldTitles] = names
	}
	if v := strings.TrimSpace(m.Format); v != "" {
		fields[providers.FieldFormat] = strings.ToLower(v)
	}
	if m.Episodes > 0 {
		fields[providers.FieldEpisodes] = m.Episodes
	}
	if v := strings.TrimSpace(m.Status); v != "" {
		fields[providers.FieldStatus] = strings.ToLower(v)
	}
	if m.SeasonYear > 0 {
		fields[providers.FieldSeasonYear] = m.SeasonYear
	}
	if genres := providers.Names(m.Genres...); len(genres) > 0 {
		fields[providers.FieldGenres] = genres
	}
	if v := strings.TrimSpace(m.Synopsis); v != "" {
		fields[providers.FieldSynopsis] = v
	}
	var studios []string
	for _, node := range m.Studios.Nodes {
		studios = append(studios, node.Name)
	}
	if studios = providers.Names(studios...); len(studios) > 0 {
		fields[providers.FieldStudios] = studios
	}
	return fields
}

// execute posts one GraphQL query through the connection's caller and
// decodes the data block into T.
func execute[T any](ctx context.Context, c *Client, op, query string, vars map[string]any) (T, error) {
	var data T
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return data, fmt.Errorf("anilist %s: encode request: %w", op, err)
	}
	err = c.caller.Do(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return ratelimit.NewStatusError(resp)
		}
		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		var decoded graphQLResponse[T]
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return services.Wrap(services.ErrMalformed, Source, op, "decode response", err)
		}
		if err := graphQLError(op, decoded.Errors); err != nil {
			return err
		}
		data = decoded.Data
		return nil
	})
	return data, err
}

func graphQLError(op string, errs []graphQLErrorEntry) error {
	if len(errs) == 0 {
		return nil
	}
	first := errs[0]
	switch {
	case first.Status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, Source, op, first.Message, nil)
	case first.Status == http.StatusTooManyRequests, first.Status >= http.StatusInternalServerError:
		return &ratelimit.StatusError{StatusCode: first.Status, Body: first.Message}
	default:
		return services.Wrap(services.ErrValidation, Source, op, first.Message, nil)
	}
}
