package tmdb_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"animeindex/internal/providers"
	"animeindex/internal/providers/tmdb"
	"animeindex/internal/ratelimit"
	"animeindex/internal/services"
)

func newClient(t *testing.T, handler http.HandlerFunc) *tmdb.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	caller := ratelimit.New(ratelimit.Settings{Name: "tmdb", MaxAttempts: 2, BaseDelay: time.Millisecond},
		ratelimit.WithSleeper(func(time.Duration) {}))
	client, err := tmdb.New("key", server.URL, "en-US", tmdb.WithCaller(caller))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := tmdb.New("", "https://example.com", "en-US")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error when api key missing, got %v", err)
	}
}

func TestSearchKeepsTVAndMovies(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/multi" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("expected api_key query parameter, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"page":1,"results":[
			{"id":1429,"name":"Attack on Titan","original_name":"進撃の巨人","media_type":"tv","first_air_date":"2013-04-07"},
			{"id":7,"name":"Some Actor","media_type":"person"},
			{"id":372058,"title":"Your Name.","original_title":"君の名は。","media_type":"movie","release_date":"2016-08-26"}
		]}`))
	})

	candidates, err := client.Search(context.Background(), "Attack on Titan")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ExternalID != "tv:1429" || candidates[0].Year != 2013 {
		t.Fatalf("unexpected tv candidate %+v", candidates[0])
	}
	if !slices.Equal(candidates[1].Names, []string{"Your Name.", "君の名は。"}) {
		t.Fatalf("unexpected movie names %v", candidates[1].Names)
	}
}

func TestFetchDetailsUsesMediaType(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1429" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":1429,"name":"Attack on Titan","original_name":"進撃の巨人",
			"first_air_date":"2013-04-07","number_of_episodes":87,"status":"Ended",
			"genres":[{"name":"Animation"}],"production_companies":[{"name":"Wit Studio"}],
			"overview":"Titans."}`))
	})

	details, err := client.FetchDetails(context.Background(), "tv:1429")
	if err != nil {
		t.Fatalf("FetchDetails returned error: %v", err)
	}
	if details.Fields[providers.FieldEpisodes] != 87 || details.Fields[providers.FieldStatus] != "ended" {
		t.Fatalf("unexpected fields %+v", details.Fields)
	}
	if details.Fields[providers.FieldFormat] != "tv" {
		t.Fatalf("format = %v", details.Fields[providers.FieldFormat])
	}
}

func TestFetchAvailabilityMapsOfferKinds(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1429/watch/providers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":1429,"results":{
			"US":{"link":"https://www.themoviedb.org/tv/1429/watch?locale=US",
				"flatrate":[{"provider_name":"Crunchyroll"},{"provider_name":"Hulu"}],
				"rent":[{"provider_name":"Apple TV"}],
				"buy":[{"provider_name":"Apple TV"}],
				"ads":[{"provider_name":"Tubi"}]},
			"JP":{"flatrate":[{"provider_name":"Netflix"}]}
		}}`))
	})

	offers, err := client.FetchAvailability(context.Background(), "tv:1429", "us")
	if err != nil {
		t.Fatalf("FetchAvailability returned error: %v", err)
	}
	want := []providers.Offer{
		{Channel: "Apple TV", Kind: providers.OfferPurchase},
		{Channel: "Apple TV", Kind: providers.OfferRental},
		{Channel: "Crunchyroll", Kind: providers.OfferSubscription},
		{Channel: "Hulu", Kind: providers.OfferSubscription},
		{Channel: "Tubi", Kind: providers.OfferFree},
	}
	if len(offers) != len(want) {
		t.Fatalf("offers = %+v", offers)
	}
	for i := range want {
		if offers[i].Channel != want[i].Channel || offers[i].Kind != want[i].Kind {
			t.Fatalf("offer %d = %+v, want %+v", i, offers[i], want[i])
		}
		if offers[i].Link == "" {
			t.Fatalf("offer %d missing link", i)
		}
	}

	none, err := client.FetchAvailability(context.Background(), "tv:1429", "DE")
	if err != nil {
		t.Fatalf("FetchAvailability returned error: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil offers, got %#v", none)
	}
}

func TestFetchDetailsNotFound(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status_code":34}`))
	})
	if _, err := client.FetchDetails(context.Background(), "movie:1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchHTTPError(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status_code":500}`))
	})
	if _, err := client.Search(context.Background(), "fail"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error when TMDB returns 500, got %v", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	client, err := tmdb.New("key", "https://example.com", "")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Search(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestParseExternalID(t *testing.T) {
	mediaType, id, err := tmdb.ParseExternalID("movie:372058")
	if err != nil || mediaType != tmdb.MediaMovie || id != 372058 {
		t.Fatalf("ParseExternalID = %q %d %v", mediaType, id, err)
	}
	for _, bad := range []string{"372058", "person:1", "tv:", "tv:-4"} {
		if _, _, err := tmdb.ParseExternalID(bad); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", bad, err)
		}
	}
}
