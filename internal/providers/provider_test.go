package providers_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"animeindex/internal/providers"
	"animeindex/internal/services"
)

type fakeSource struct{ name string }

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Search(context.Context, string) ([]providers.Candidate, error) {
	return nil, nil
}

func (f fakeSource) FetchDetails(context.Context, string) (*providers.Details, error) {
	return &providers.Details{}, nil
}

func TestRegistryResolvesCapabilities(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register(fakeSource{name: "anilist"})

	if _, err := registry.Searcher("AniList "); err != nil {
		t.Fatalf("Searcher: %v", err)
	}
	if _, err := registry.Details("anilist"); err != nil {
		t.Fatalf("Details: %v", err)
	}
	_, err := registry.Availability("anilist")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := registry.Scorer(); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for scorer, got %v", err)
	}
	if got := registry.Sources(); !slices.Equal(got, []string{"anilist"}) {
		t.Fatalf("sources = %v", got)
	}
}

func TestNamesDedupes(t *testing.T) {
	got := providers.Names(" Naruto ", "", "NARUTO", "Naruto", "ナルト")
	want := []string{"Naruto", "NARUTO", "ナルト"}
	if !slices.Equal(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
}

func TestSortOffers(t *testing.T) {
	offers := []providers.Offer{
		{Channel: "Netflix", Kind: providers.OfferSubscription},
		{Channel: "Apple TV", Kind: providers.OfferRental},
		{Channel: "Apple TV", Kind: providers.OfferPurchase},
	}
	providers.SortOffers(offers)
	if offers[0].Kind != providers.OfferPurchase || offers[2].Channel != "Netflix" {
		t.Fatalf("unexpected order %+v", offers)
	}
}
