package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"animeindex/internal/api"
	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/queue"
	"animeindex/internal/stage"
	"animeindex/internal/testsupport"
	"animeindex/internal/workflow"
)

type noopHandler struct{ kind string }

func (h noopHandler) Kind() string { return h.kind }

func (h noopHandler) Execute(context.Context, *queue.Task) (string, error) {
	return queue.OutcomeUnchanged, nil
}

func (h noopHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.kind)
}

type daemonFixture struct {
	cfg     *config.Config
	store   *queue.Store
	catalog *catalog.Store
	daemon  *Daemon
}

func newDaemonFixture(t *testing.T, opts ...testsupport.ConfigOption) *daemonFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	catalogStore := testsupport.MustOpenCatalog(t, cfg)

	handlers := make([]stage.Handler, 0, len(config.KnownTaskKinds()))
	for _, kind := range config.KnownTaskKinds() {
		handlers = append(handlers, noopHandler{kind: kind})
	}
	mgr, err := workflow.NewManager(cfg, store, nil, handlers)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := New(cfg, store, catalogStore, nil, mgr, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return &daemonFixture{cfg: cfg, store: store, catalog: catalogStore, daemon: d}
}

func (f *daemonFixture) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	f.daemon.ops.server.Handler.ServeHTTP(w, req)
	return w
}

func TestDaemonStartStop(t *testing.T) {
	f := newDaemonFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := f.daemon.Status(ctx)
	if !status.Running || !status.Primary || status.OpsAddress == "" {
		t.Fatalf("expected running primary daemon with ops address, got %+v", status)
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	mgr, err := workflow.NewManager(f.cfg, f.store, nil, []stage.Handler{
		noopHandler{config.KindResolveID}, noopHandler{config.KindFetchFacts},
		noopHandler{config.KindCheckAvailability}, noopHandler{config.KindGenerateScore},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	other, err := New(f.cfg, f.store, f.catalog, nil, mgr, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("expected second daemon to start as a worker, got %v", err)
	}
	t.Cleanup(other.Stop)
	secondary := other.Status(ctx)
	if !secondary.Running || secondary.Primary {
		t.Fatalf("expected running secondary daemon, got %+v", secondary)
	}
	if secondary.OpsAddress != "" {
		t.Fatalf("expected secondary daemon without ops listener, got %q", secondary.OpsAddress)
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	other.Stop()
}

func TestSecondaryDaemonClaimsFromSharedQueue(t *testing.T) {
	f := newDaemonFixture(t)
	holder := flock.New(filepath.Join(f.cfg.Paths.DataDir, "animeindex.lock"))
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("hold daemon lock: ok=%v err=%v", ok, err)
	}
	defer holder.Unlock()

	work := testsupport.NewWork(t, f.catalog, "Haibane Renmei")
	if _, err := f.store.Enqueue(context.Background(), work.ID, config.KindFetchFacts, map[string]string{"source": "anilist"}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err := f.store.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[queue.StatusDone] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("secondary daemon did not process task, stats=%v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status := f.daemon.Status(context.Background()); status.Primary || status.OpsAddress != "" {
		t.Fatalf("expected secondary daemon while the lock is held, got %+v", status)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPrimaryDaemonPrunesExpiredRunLogs(t *testing.T) {
	f := newDaemonFixture(t)
	f.cfg.Logging.RetentionDays = 7
	if err := os.MkdirAll(f.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	old := f.cfg.RunLogPath("20250101T000000.000Z")
	current := f.cfg.RunLogPath("20250102T000000.000Z")
	stamp := time.Now().Add(-30 * 24 * time.Hour)
	for _, path := range []string{old, current} {
		if err := os.WriteFile(path, []byte("line\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.daemon.Stop()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected expired run log removed, stat err=%v", err)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("expected newest run log kept: %v", err)
	}
}

func TestDaemonRunProcessesQueue(t *testing.T) {
	f := newDaemonFixture(t)
	work := testsupport.NewWork(t, f.catalog, "Mushishi")
	if _, err := f.store.Enqueue(context.Background(), work.ID, config.KindResolveID, map[string]string{"source": "anilist"}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err := f.store.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[queue.StatusDone] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not processed, stats=%v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestOpsHealthAndStats(t *testing.T) {
	f := newDaemonFixture(t)
	work := testsupport.NewWork(t, f.catalog, "Mushishi")
	if _, err := f.store.Enqueue(context.Background(), work.ID, config.KindResolveID, map[string]string{"source": "anilist"}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := f.get(t, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d: %s", w.Code, w.Body.String())
	}
	var health api.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Databases["queue"] != "ok" || health.Databases["catalog"] != "ok" {
		t.Fatalf("unexpected database health %+v", health.Databases)
	}

	w = f.get(t, "/stats")
	var stats api.QueueStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Counts["pending"] != 1 || len(stats.ByKind) != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	w = f.get(t, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "animeindex_queue_tasks") {
		t.Fatalf("expected queue gauges on /metrics, got %d", w.Code)
	}
}

func TestOpsQueueAndWorkRoutes(t *testing.T) {
	f := newDaemonFixture(t)
	work := testsupport.NewWork(t, f.catalog, "Mushishi")
	if _, err := f.store.Enqueue(context.Background(), work.ID, config.KindResolveID, map[string]string{"source": "jikan"}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := f.get(t, "/api/queue?status=pending&kind=resolve-id")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list api.TaskListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].SubjectID != work.ID {
		t.Fatalf("unexpected tasks %+v", list.Tasks)
	}

	if w := f.get(t, "/api/queue/9999"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", w.Code)
	}
	if w := f.get(t, "/api/queue/abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", w.Code)
	}
	if w := f.get(t, "/api/queue?limit=-1"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", w.Code)
	}

	w = f.get(t, "/api/works/"+strconv.FormatInt(work.ID, 10))
	var resp api.WorkResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode work: %v", err)
	}
	if resp.Work.Title != "Mushishi" {
		t.Fatalf("unexpected work %+v", resp.Work)
	}
}

func TestOpsAPIRequiresToken(t *testing.T) {
	f := newDaemonFixture(t, testsupport.WithOpsToken("s3cret"))

	if w := f.get(t, "/api/status"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := f.get(t, "/api/status", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := f.get(t, "/api/status", "Authorization", "Bearer s3cret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if w := f.get(t, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz must not require a token, got %d", w.Code)
	}
}
