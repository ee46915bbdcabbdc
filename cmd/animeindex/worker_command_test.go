package main

import (
	"context"
	"strconv"
	"testing"

	"animeindex/internal/config"
	"animeindex/internal/enrich"
	"animeindex/internal/queue"
	"animeindex/internal/testsupport"
)

func TestWorkerOnceResolvesQueuedWork(t *testing.T) {
	server := newProviderServer(t)
	env := setupCLITestEnv(t, testsupport.WithProviderURLs(server.URL))
	work := testsupport.NewWork(t, env.catalog(t), "進撃の巨人")
	store := env.queue(t)
	if _, err := store.Enqueue(context.Background(), work.ID, config.KindResolveID, enrich.ResolvePayload{Source: config.SourceAniList}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out := env.run(t, "worker", "--once", "--kind", config.KindResolveID)
	requireContains(t, out, "Processed 1 task(s)")
	requireContains(t, out, queue.OutcomeLinked)

	out = env.run(t, "catalog", "show", strconv.FormatInt(work.ID, 10))
	requireContains(t, out, "16498")

	tasks, err := store.List(context.Background(), queue.ListFilter{Statuses: []queue.Status{queue.StatusDone}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].LastOutcome != queue.OutcomeLinked {
		t.Fatalf("expected one linked task, got %+v", tasks)
	}
}

func TestWorkerBudgetStopsEarly(t *testing.T) {
	server := newProviderServer(t)
	env := setupCLITestEnv(t, testsupport.WithProviderURLs(server.URL))
	catalogStore := env.catalog(t)
	store := env.queue(t)
	for _, title := range []string{"進撃の巨人", "Mushishi", "Monster"} {
		work := testsupport.NewWork(t, catalogStore, title)
		if _, err := store.Enqueue(context.Background(), work.ID, config.KindResolveID, enrich.ResolvePayload{Source: config.SourceAniList}, 0); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	out := env.run(t, "worker", "--once", "--kind", config.KindResolveID, "--budget", "2")
	requireContains(t, out, "Processed 2 task(s)")
	requireContains(t, out, "Iteration budget exhausted")

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusPending] != 1 {
		t.Fatalf("expected one task left pending, got %v", stats)
	}
}

func TestWorkerRequiresLaneCredentials(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.LLM.APIKey = ""
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"worker", "--once", "--kind", config.KindGenerateScore}, env.configPath)
	if err == nil {
		t.Fatal("expected worker to refuse a scoring lane without an llm key")
	}
	requireContains(t, err.Error(), "llm.api_key is required")

	out := env.run(t, "worker", "--once", "--kind", config.KindResolveID)
	requireContains(t, out, "Processed 0 task(s)")
}

func TestScanEnqueuesResolveTasks(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewWork(t, env.catalog(t), "Mushishi")

	out := env.run(t, "scan", "--kind", config.KindResolveID)
	requireContains(t, out, "Scan queued 3 task(s)")
	requireContains(t, out, string(queue.EnqueueInserted))

	out = env.run(t, "scan", "--kind", config.KindResolveID)
	requireContains(t, out, string(queue.EnqueueDuplicate))

	if _, _, err := runCLI(t, []string{"scan", "--schedule", "not a schedule"}, env.configPath); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}

func TestResolvePreviewPrintsDecision(t *testing.T) {
	server := newProviderServer(t)
	env := setupCLITestEnv(t, testsupport.WithProviderURLs(server.URL))
	work := testsupport.NewWork(t, env.catalog(t), "進撃の巨人")

	out := env.run(t, "resolve", strconv.FormatInt(work.ID, 10), "--source", "anilist")
	requireContains(t, out, "confirm")
	requireContains(t, out, "16498")
	requireContains(t, out, "Attack on Titan Season 2")

	out = env.run(t, "catalog", "show", strconv.FormatInt(work.ID, 10))
	requireNotContains(t, out, "16498")
}
