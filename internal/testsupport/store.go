package testsupport

import (
	"context"
	"testing"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenCatalog opens a catalog.Store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewWork creates a canonical work for tests using the provided catalog.
func NewWork(t testing.TB, store *catalog.Store, title string) *catalog.Work {
	t.Helper()

	work, err := store.CreateWork(context.Background(), title)
	if err != nil {
		t.Fatalf("catalog.CreateWork: %v", err)
	}
	return work
}

// MustClaim claims the next task for worker and fails the test when none is available.
func MustClaim(t testing.TB, store *queue.Store, worker string, kinds ...string) *queue.Task {
	t.Helper()

	task, err := store.Claim(context.Background(), worker, kinds...)
	if err != nil {
		t.Fatalf("queue.Claim: %v", err)
	}
	if task == nil {
		t.Fatalf("queue.Claim: expected a task for %s", worker)
	}
	return task
}
