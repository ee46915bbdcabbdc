package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"animeindex/internal/catalog"
	"animeindex/internal/queue"
)

type mockQueueReader struct {
	tasks    []*queue.Task
	stats    map[queue.Status]int
	byKind   []queue.KindStats
	taskErr  error
	statsErr error
}

func (m *mockQueueReader) List(context.Context, queue.ListFilter) ([]*queue.Task, error) {
	return m.tasks, m.taskErr
}

func (m *mockQueueReader) Stats(context.Context) (map[queue.Status]int, error) {
	return m.stats, m.statsErr
}

func (m *mockQueueReader) StatsByKind(context.Context) ([]queue.KindStats, error) {
	return m.byKind, m.statsErr
}

func (m *mockQueueReader) Get(_ context.Context, id int64) (*queue.Task, error) {
	for _, task := range m.tasks {
		if task.ID == id {
			return task, m.taskErr
		}
	}
	return nil, m.taskErr
}

type mockCatalogReader struct {
	work       *catalog.Work
	candidates []catalog.Candidate
}

func (m *mockCatalogReader) GetWork(_ context.Context, id int64) (*catalog.Work, error) {
	if m.work == nil || m.work.ID != id {
		return nil, nil
	}
	return m.work, nil
}

func (m *mockCatalogReader) Candidates(context.Context, int64) ([]catalog.Candidate, error) {
	return m.candidates, nil
}

func TestQueueServiceListNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	reader := &mockQueueReader{tasks: []*queue.Task{
		{ID: 1, SubjectID: 10, Kind: "resolve-id", PayloadJSON: `{"source":"anilist"}`, Status: queue.StatusPending, CreatedAt: now.Add(-time.Minute)},
		{ID: 2, SubjectID: 11, Kind: "fetch-facts", PayloadJSON: `{"source":"anilist"}`, Status: queue.StatusDone, CreatedAt: now, LastCheckedAt: now, LastOutcome: "updated"},
	}}
	got, err := NewQueueService(reader).List(context.Background(), queue.ListFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Fatalf("expected newest task first, got %+v", got)
	}
	if got[0].Status != "done" || got[0].LastOutcome != "updated" || got[0].LastCheckedAt == "" {
		t.Fatalf("unexpected conversion %+v", got[0])
	}
	if got[1].ClaimedAt != "" {
		t.Fatalf("zero times must be omitted, got %q", got[1].ClaimedAt)
	}
	var payload map[string]string
	if err := json.Unmarshal(got[1].Payload, &payload); err != nil || payload["source"] != "anilist" {
		t.Fatalf("expected payload passthrough, got %s (%v)", got[1].Payload, err)
	}
}

func TestQueueServiceListError(t *testing.T) {
	errSentinel := errors.New("boom")
	_, err := NewQueueService(&mockQueueReader{taskErr: errSentinel}).List(context.Background(), queue.ListFilter{})
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected error %v, got %v", errSentinel, err)
	}
}

func TestQueueServiceStatsFillsStatuses(t *testing.T) {
	svc := NewQueueService(&mockQueueReader{
		stats:  map[queue.Status]int{queue.StatusPending: 2, queue.StatusFailed: 1},
		byKind: []queue.KindStats{{Kind: "resolve-id", Status: queue.StatusPending, Count: 2}},
	})
	got, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if got.Counts["pending"] != 2 || got.Counts["failed"] != 1 {
		t.Fatalf("unexpected counts %+v", got.Counts)
	}
	if count, ok := got.Counts["claimed"]; !ok || count != 0 {
		t.Fatalf("expected zero row for claimed, got %+v", got.Counts)
	}
	if len(got.ByKind) != 1 || got.ByKind[0].Kind != "resolve-id" {
		t.Fatalf("unexpected per-kind rows %+v", got.ByKind)
	}
}

func TestQueueServiceDescribeMissing(t *testing.T) {
	got, err := NewQueueService(&mockQueueReader{}).Describe(context.Background(), 42)
	if err != nil || got != nil {
		t.Fatalf("expected nil task, got %+v (%v)", got, err)
	}
}

func TestCatalogServiceDescribe(t *testing.T) {
	reader := &mockCatalogReader{
		work: &catalog.Work{
			ID:    7,
			Title: "Mushishi",
			Links: []catalog.Link{{Source: "anilist", ExternalID: "457", Provenance: catalog.ProvenanceAuto}},
			Attributes: map[string]catalog.Attribute{
				"year":   {Name: "year", Value: json.RawMessage(`2005`), Provenance: catalog.ProvenanceAuto, Source: "anilist"},
				"format": {Name: "format", Value: json.RawMessage(`"TV"`), Provenance: catalog.ProvenanceManual},
			},
		},
		candidates: []catalog.Candidate{{Source: "jikan", ExternalID: "457", Names: []string{"Mushishi"}, Score: 0.97, Outcome: "linked"}},
	}
	got, err := NewCatalogService(reader).Describe(context.Background(), 7)
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if got == nil || got.Work.Title != "Mushishi" {
		t.Fatalf("unexpected work %+v", got)
	}
	if len(got.Work.Attributes) != 2 || got.Work.Attributes[0].Name != "format" {
		t.Fatalf("expected attributes sorted by name, got %+v", got.Work.Attributes)
	}
	if got.Work.Attributes[0].Provenance != "manual" || string(got.Work.Attributes[1].Value) != "2005" {
		t.Fatalf("unexpected attribute conversion %+v", got.Work.Attributes)
	}
	if len(got.Candidates) != 1 || got.Candidates[0].Score != 0.97 {
		t.Fatalf("unexpected candidates %+v", got.Candidates)
	}

	missing, err := NewCatalogService(reader).Describe(context.Background(), 8)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing work, got %+v (%v)", missing, err)
	}
}

func TestNilServices(t *testing.T) {
	if NewQueueService(nil) != nil || NewCatalogService(nil) != nil {
		t.Fatal("nil readers must yield nil services")
	}
	var svc *QueueService
	stats, err := svc.Stats(context.Background())
	if err != nil || stats.Counts["pending"] != 0 {
		t.Fatalf("nil service stats: %+v (%v)", stats, err)
	}
}
