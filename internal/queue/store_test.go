package queue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"animeindex/internal/config"
	"animeindex/internal/queue"
	"animeindex/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T, opts ...testsupport.ConfigOption) (*queue.Store, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock()
	store.SetClock(clock.Now)
	return store, clock
}

func TestOpenCreatesSchema(t *testing.T) {
	store, _ := openStore(t)
	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.TableExists || len(health.MissingColumns) != 0 || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, 42, config.KindResolveID, map[string]any{}, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := store.Enqueue(ctx, 42, config.KindResolveID, map[string]any{}, 0)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if first != queue.EnqueueInserted || second != queue.EnqueueDuplicate {
		t.Fatalf("expected inserted then duplicate, got %s then %s", first, second)
	}

	tasks, err := store.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one pending task, got %d", len(tasks))
	}
}

func TestEnqueueNormalizesPayloadKey(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, 7, config.KindCheckAvailability, `{"source":"tmdb","region":"JP"}`, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	result, err := store.Enqueue(ctx, 7, config.KindCheckAvailability, map[string]string{"region": "JP", "source": "tmdb"}, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if result != queue.EnqueueDuplicate {
		t.Fatalf("expected reordered payload to be a duplicate, got %s", result)
	}
	other, err := store.Enqueue(ctx, 7, config.KindCheckAvailability, map[string]string{"region": "US", "source": "tmdb"}, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if other != queue.EnqueueInserted {
		t.Fatalf("expected different region to insert, got %s", other)
	}
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Enqueue(context.Background(), 1, "transcode", nil, 0)
	if !errors.Is(err, queue.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestEnqueueSkipsProtected(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	result, err := store.EnqueueWithPolicy(ctx, queue.EnqueueRequest{
		SubjectID: 3,
		Kind:      config.KindFetchFacts,
		Protected: true,
	})
	if err != nil {
		t.Fatalf("EnqueueWithPolicy failed: %v", err)
	}
	if result != queue.EnqueueProtected {
		t.Fatalf("expected protected, got %s", result)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("expected no rows written, got %v", stats)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 1, config.KindResolveID, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*queue.Task
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			task, err := store.Claim(ctx, fmt.Sprintf("worker-%d", n))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if task != nil {
				claimed = append(claimed, task)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(errs) != 0 {
		t.Fatalf("unexpected claim errors: %v", errs)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected exactly one claim, got %d", len(claimed))
	}
	if claimed[0].Status != queue.StatusClaimed || claimed[0].ClaimedBy == "" {
		t.Fatalf("unexpected claimed task: %+v", claimed[0])
	}
}

func TestClaimOrdersByPriorityAndFiltersKinds(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, 1, config.KindFetchFacts, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := store.Enqueue(ctx, 2, config.KindFetchFacts, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.Enqueue(ctx, 3, config.KindFetchFacts, nil, 10); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.Enqueue(ctx, 4, config.KindGenerateScore, nil, 100); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var order []int64
	for {
		task, err := store.Claim(ctx, "lane-a", config.KindFetchFacts)
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if task == nil {
			break
		}
		order = append(order, task.SubjectID)
	}
	if fmt.Sprint(order) != "[3 1 2]" {
		t.Fatalf("unexpected claim order: %v", order)
	}

	task := testsupport.MustClaim(t, store, "lane-b")
	if task.Kind != config.KindGenerateScore {
		t.Fatalf("expected remaining score task, got %s", task.Kind)
	}
}

func TestCompleteRequiresClaim(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 1, config.KindResolveID, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	task := testsupport.MustClaim(t, store, "w1")
	if err := store.Complete(ctx, task, queue.OutcomeLinked); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := store.Complete(ctx, task, queue.OutcomeLinked); !errors.Is(err, queue.ErrLostClaim) {
		t.Fatalf("expected ErrLostClaim on second complete, got %v", err)
	}

	stored, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != queue.StatusDone || stored.LastOutcome != queue.OutcomeLinked || stored.LastCheckedAt.IsZero() {
		t.Fatalf("unexpected completed task: %+v", stored)
	}
}

func TestFailRetriesUntilCeiling(t *testing.T) {
	store, _ := openStore(t, testsupport.WithQueuePolicy(3, 0))
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 9, config.KindFetchFacts, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var statuses []queue.Status
	for i := 0; i < 10; i++ {
		task, err := store.Claim(ctx, "w1")
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if task == nil {
			break
		}
		status, err := store.Fail(ctx, task, "upstream returned 503")
		if err != nil {
			t.Fatalf("Fail failed: %v", err)
		}
		statuses = append(statuses, status)
	}

	if len(statuses) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d (%v)", len(statuses), statuses)
	}
	if statuses[2] != queue.StatusFailed {
		t.Fatalf("expected final status failed, got %v", statuses)
	}
	tasks, err := store.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusFailed}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Attempts != 3 || tasks[0].LastError != "upstream returned 503" {
		t.Fatalf("unexpected failed tasks: %+v", tasks)
	}
}

func TestFailAppliesBackoff(t *testing.T) {
	store, clock := openStore(t, testsupport.WithQueuePolicy(5, 30))
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 9, config.KindFetchFacts, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task := testsupport.MustClaim(t, store, "w1")
	if _, err := store.Fail(ctx, task, "timeout"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if again, err := store.Claim(ctx, "w1"); err != nil || again != nil {
		t.Fatalf("expected backoff to hide task, got %+v err=%v", again, err)
	}

	clock.Advance(31 * time.Second)
	task = testsupport.MustClaim(t, store, "w1")
	if _, err := store.Fail(ctx, task, "timeout"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	clock.Advance(31 * time.Second)
	if again, err := store.Claim(ctx, "w1"); err != nil || again != nil {
		t.Fatalf("expected doubled backoff after second failure, got %+v err=%v", again, err)
	}
	clock.Advance(30 * time.Second)
	testsupport.MustClaim(t, store, "w1")
}

func TestPolicyBackoffCaps(t *testing.T) {
	policy := queue.Policy{MaxAttempts: 10, RetryBase: 30 * time.Second, RetryMax: 2 * time.Minute}
	cases := map[int]time.Duration{
		0: 0,
		1: 30 * time.Second,
		2: time.Minute,
		3: 2 * time.Minute,
		8: 2 * time.Minute,
	}
	for attempts, want := range cases {
		if got := policy.Backoff(attempts); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestFailedTasksAreHeldUntilRetried(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 5, config.KindGenerateScore, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	task := testsupport.MustClaim(t, store, "w1")
	if err := store.FailPermanently(ctx, task, "llm.api_key missing"); err != nil {
		t.Fatalf("FailPermanently failed: %v", err)
	}

	result, err := store.Enqueue(ctx, 5, config.KindGenerateScore, nil, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if result != queue.EnqueueHeld {
		t.Fatalf("expected held, got %s", result)
	}

	count, err := store.RetryFailed(ctx, task.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one task retried, got %d", count)
	}
	again := testsupport.MustClaim(t, store, "w1")
	if again.ID != task.ID || again.Attempts != 0 {
		t.Fatalf("expected same task with reset attempts, got %+v", again)
	}
}

func TestEnqueueStalenessWindow(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	req := queue.EnqueueRequest{
		SubjectID: 11,
		Kind:      config.KindCheckAvailability,
		Payload:   map[string]string{"source": "tmdb", "region": "JP"},
		FreshFor:  7 * 24 * time.Hour,
	}

	if result, err := store.EnqueueWithPolicy(ctx, req); err != nil || result != queue.EnqueueInserted {
		t.Fatalf("expected never-checked subject to be inserted, got %s err=%v", result, err)
	}
	task := testsupport.MustClaim(t, store, "w1")
	if err := store.Complete(ctx, task, queue.OutcomeUpdated); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	clock.Advance(24 * time.Hour)
	if result, err := store.EnqueueWithPolicy(ctx, req); err != nil || result != queue.EnqueueFresh {
		t.Fatalf("expected fresh skip inside window, got %s err=%v", result, err)
	}

	clock.Advance(7 * 24 * time.Hour)
	if result, err := store.EnqueueWithPolicy(ctx, req); err != nil || result != queue.EnqueueRearmed {
		t.Fatalf("expected re-arm after window, got %s err=%v", result, err)
	}
	task = testsupport.MustClaim(t, store, "w1")
	if task.Attempts != 0 {
		t.Fatalf("expected attempts reset on re-arm, got %d", task.Attempts)
	}
}

func TestEnqueueRearmsCheckWithMissingEvidence(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	req := queue.EnqueueRequest{SubjectID: 12, Kind: config.KindFetchFacts, FreshFor: 30 * 24 * time.Hour}

	if _, err := store.EnqueueWithPolicy(ctx, req); err != nil {
		t.Fatalf("EnqueueWithPolicy failed: %v", err)
	}
	task := testsupport.MustClaim(t, store, "w1")
	if err := store.Complete(ctx, task, queue.OutcomeNotFound); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	clock.Advance(time.Hour)

	result, err := store.EnqueueWithPolicy(ctx, req)
	if err != nil {
		t.Fatalf("EnqueueWithPolicy failed: %v", err)
	}
	if result != queue.EnqueueRearmed {
		t.Fatalf("expected check with missing evidence to re-arm, got %s", result)
	}
}

func TestEnqueueHoldsDeferredResolutionUntilWindow(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	req := queue.EnqueueRequest{SubjectID: 13, Kind: config.KindResolveID, Payload: map[string]string{"source": "anilist"}, FreshFor: 14 * 24 * time.Hour}

	if _, err := store.EnqueueWithPolicy(ctx, req); err != nil {
		t.Fatalf("EnqueueWithPolicy failed: %v", err)
	}
	task := testsupport.MustClaim(t, store, "w1")
	if err := store.Complete(ctx, task, queue.OutcomeDeferred); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	clock.Advance(24 * time.Hour)
	if result, _ := store.EnqueueWithPolicy(ctx, req); result != queue.EnqueueFresh {
		t.Fatalf("expected deferred resolution to wait, got %s", result)
	}
	clock.Advance(14 * 24 * time.Hour)
	if result, _ := store.EnqueueWithPolicy(ctx, req); result != queue.EnqueueRearmed {
		t.Fatalf("expected deferred resolution to re-arm, got %s", result)
	}
}

func TestReclaimStaleReturnsAbandonedClaims(t *testing.T) {
	store, clock := openStore(t, testsupport.WithQueuePolicy(2, 0))
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 21, config.KindFetchFacts, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task := testsupport.MustClaim(t, store, "crashed-worker")
	clock.Advance(time.Hour)
	count, err := store.ReclaimStale(ctx, clock.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one reclaimed task, got %d", count)
	}

	if err := store.Complete(ctx, task, queue.OutcomeUpdated); !errors.Is(err, queue.ErrLostClaim) {
		t.Fatalf("expected abandoned worker to lose its claim, got %v", err)
	}

	reclaimed, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reclaimed.Status != queue.StatusPending || reclaimed.Attempts != 1 {
		t.Fatalf("unexpected reclaimed task: %+v", reclaimed)
	}
	if !strings.Contains(reclaimed.LastError, "crashed-worker") {
		t.Fatalf("expected error to name the worker, got %q", reclaimed.LastError)
	}

	testsupport.MustClaim(t, store, "second-worker")
	clock.Advance(time.Hour)
	if _, err := store.ReclaimStale(ctx, clock.Now().Add(-10*time.Minute)); err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	final, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != queue.StatusFailed || final.Attempts != 2 {
		t.Fatalf("expected task failed at the ceiling, got %+v", final)
	}
}

func TestHeartbeatKeepsClaimAlive(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, 22, config.KindFetchFacts, nil, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	task := testsupport.MustClaim(t, store, "w1")

	clock.Advance(20 * time.Minute)
	if err := store.Heartbeat(ctx, task); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	count, err := store.ReclaimStale(ctx, clock.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected live claim to survive, reclaimed %d", count)
	}
	if err := store.Complete(ctx, task, queue.OutcomeUpdated); err != nil {
		t.Fatalf("Complete after heartbeat failed: %v", err)
	}
}

func TestPruneAndStats(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	for subject := int64(1); subject <= 3; subject++ {
		if _, err := store.Enqueue(ctx, subject, config.KindFetchFacts, nil, 0); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	task := testsupport.MustClaim(t, store, "w1")
	if err := store.Complete(ctx, task, queue.OutcomeUpdated); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Pending != 2 || health.Done != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
	byKind, err := store.StatsByKind(ctx)
	if err != nil {
		t.Fatalf("StatsByKind failed: %v", err)
	}
	if len(byKind) != 2 {
		t.Fatalf("expected two kind/status groups, got %+v", byKind)
	}

	clock.Advance(40 * 24 * time.Hour)
	removed, err := store.Prune(ctx, clock.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned row, got %d", removed)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StatusPending] != 2 || stats[queue.StatusDone] != 0 {
		t.Fatalf("unexpected stats after prune: %v", stats)
	}
}

func TestCanonicalPayload(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "{}"},
		{"", "{}"},
		{map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{`{"force": true, "source": "anilist"}`, `{"force":true,"source":"anilist"}`},
		{struct {
			Region string `json:"region"`
		}{"JP"}, `{"region":"JP"}`},
	}
	for _, tc := range cases {
		got, err := queue.CanonicalPayload(tc.in)
		if err != nil {
			t.Fatalf("CanonicalPayload(%v) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("CanonicalPayload(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := queue.CanonicalPayload("{not json"); err == nil {
		t.Fatal("expected error for invalid JSON payload")
	}
}
