package scan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/enrich"
	"animeindex/internal/metrics"
	"animeindex/internal/providers"
	"animeindex/internal/queue"
	"animeindex/internal/scan"
	"animeindex/internal/testsupport"
)

type searchOnly struct{ name string }

func (s searchOnly) Name() string { return s.name }

func (s searchOnly) Search(context.Context, string) ([]providers.Candidate, error) {
	return nil, nil
}

type scanFixture struct {
	cfg     *config.Config
	queue   *queue.Store
	catalog *catalog.Store
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return &scanFixture{
		cfg:     cfg,
		queue:   testsupport.MustOpenStore(t, cfg),
		catalog: testsupport.MustOpenCatalog(t, cfg),
	}
}

func (f *scanFixture) scanner(opts ...scan.Option) *scan.Scanner {
	return scan.New(f.cfg, f.queue, f.catalog, nil, nil, opts...)
}

func TestRunEnqueuesResolveAndScoreForUnlinkedWorks(t *testing.T) {
	f := newScanFixture(t)
	first := testsupport.NewWork(t, f.catalog, "Shingeki no Kyojin")
	testsupport.NewWork(t, f.catalog, "Mushishi")

	before := testutil.ToFloat64(metrics.ScanEnqueued.WithLabelValues(config.KindResolveID, string(queue.EnqueueInserted)))
	report, err := f.scanner().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Queued(config.KindResolveID); got != 6 {
		t.Fatalf("expected 6 resolve tasks (2 works x 3 sources), got %d", got)
	}
	if got := report.Queued(config.KindGenerateScore); got != 2 {
		t.Fatalf("expected 2 score tasks, got %d", got)
	}
	if report.Queued(config.KindFetchFacts) != 0 || report.Queued(config.KindCheckAvailability) != 0 {
		t.Fatalf("unlinked works must not get facts or availability tasks: %+v", report.Results)
	}
	after := testutil.ToFloat64(metrics.ScanEnqueued.WithLabelValues(config.KindResolveID, string(queue.EnqueueInserted)))
	if after-before != 6 {
		t.Fatalf("expected enqueue metric to grow by 6, got %v", after-before)
	}

	tasks, err := f.queue.List(context.Background(), queue.ListFilter{SubjectID: first.ID, Kinds: []string{config.KindResolveID}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected one resolve task per source, got %d", len(tasks))
	}

	again, err := f.scanner().Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Total() != report.Total() {
		t.Fatalf("expected the same requests on rescan, got %d vs %d", again.Total(), report.Total())
	}
	for _, kind := range config.KnownTaskKinds() {
		if again.Queued(kind) != 0 {
			t.Fatalf("rescan queued %d new %s tasks", again.Queued(kind), kind)
		}
	}
	if again.Results[config.KindResolveID][queue.EnqueueDuplicate] != 6 {
		t.Fatalf("expected pending resolve tasks to dedupe, got %+v", again.Results)
	}
}

func TestRunEnqueuesFactsAndAvailabilityForLinkedWorks(t *testing.T) {
	f := newScanFixture(t)
	ctx := context.Background()
	work := testsupport.NewWork(t, f.catalog, "Mushishi")
	if _, err := f.catalog.Link(ctx, work.ID, config.SourceAniList, "457", catalog.ProvenanceManual); err != nil {
		t.Fatalf("Link anilist: %v", err)
	}
	if _, err := f.catalog.Link(ctx, work.ID, config.SourceTMDB, "tv:26707", catalog.ProvenanceManual); err != nil {
		t.Fatalf("Link tmdb: %v", err)
	}

	report, err := f.scanner().Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Queued(config.KindResolveID); got != 1 {
		t.Fatalf("expected resolve only for the jikan source, got %d", got)
	}
	if got := report.Queued(config.KindFetchFacts); got != 1 {
		t.Fatalf("expected one facts task, got %d", got)
	}
	if got := report.Queued(config.KindCheckAvailability); got != 2 {
		t.Fatalf("expected availability per region, got %d", got)
	}

	tasks, err := f.queue.List(ctx, queue.ListFilter{SubjectID: work.ID, Kinds: []string{config.KindCheckAvailability}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, task := range tasks {
		var payload enrich.AvailabilityPayload
		if err := task.DecodePayload(&payload); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if !payload.Force || payload.Source != config.SourceTMDB {
			t.Fatalf("unexpected availability payload %+v", payload)
		}
		if payload.Region != "JP" && payload.Region != "US" {
			t.Fatalf("unexpected region %q", payload.Region)
		}
	}
}

func TestRunSkipsManualTargets(t *testing.T) {
	f := newScanFixture(t)
	ctx := context.Background()
	work := testsupport.NewWork(t, f.catalog, "Mushishi")
	if _, err := f.catalog.Link(ctx, work.ID, config.SourceTMDB, "tv:26707", catalog.ProvenanceManual); err != nil {
		t.Fatalf("Link: %v", err)
	}
	_, err := f.catalog.Patch(ctx, work.ID, map[string]any{
		enrich.AvailabilityAttribute("JP"): []map[string]string{{"provider": "Crunchyroll", "type": "flatrate"}},
	}, catalog.PatchOptions{Provenance: catalog.ProvenanceManual})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	report, err := f.scanner(scan.WithKinds(config.KindCheckAvailability)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := report.Results[config.KindCheckAvailability]
	if results[queue.EnqueueProtected] != 1 || results[queue.EnqueueInserted] != 1 {
		t.Fatalf("expected JP protected and US inserted, got %+v", results)
	}
	if report.Queued(config.KindResolveID) != 0 {
		t.Fatal("WithKinds must restrict the scan")
	}
}

func TestRunHonorsRegistryCapabilities(t *testing.T) {
	f := newScanFixture(t)
	testsupport.NewWork(t, f.catalog, "Mushishi")

	registry := providers.NewRegistry()
	registry.Register(searchOnly{name: config.SourceAniList})
	report, err := scan.New(f.cfg, f.queue, f.catalog, registry, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Queued(config.KindResolveID); got != 1 {
		t.Fatalf("expected resolve only for the registered searcher, got %d", got)
	}
	if got := report.Queued(config.KindGenerateScore); got != 0 {
		t.Fatalf("expected no score tasks without a scorer, got %d", got)
	}
}

func TestRunReturnsErrLockedWhileAnotherScanRuns(t *testing.T) {
	f := newScanFixture(t)
	lock := flock.New(f.cfg.ScanLockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := f.scanner().Run(context.Background()); !errors.Is(err, scan.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "@every 6h"},
		{expr: "0 3 * * *"},
		{expr: "@daily"},
		{expr: "", wantErr: true},
		{expr: "every day", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
	}
	for _, tt := range tests {
		_, err := scan.ParseSchedule(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestScheduleStopsWithContext(t *testing.T) {
	f := newScanFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scanner().Schedule(ctx, "@every 1h") }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := f.scanner().Schedule(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}
