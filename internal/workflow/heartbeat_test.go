package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/testsupport"
	"animeindex/internal/workflow"
)

func TestHeartbeatLoopReportsLostClaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	enqueueSubjects(t, store, config.KindResolveID, 1)
	task := testsupport.MustClaim(t, store, "worker-a", config.KindResolveID)

	stolen := *task
	stolen.ClaimedBy = "worker-b"

	monitor := workflow.NewHeartbeatMonitor(store, logging.NewNop(), 5*time.Millisecond, time.Minute)
	lost := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(context.Background(), &wg, &stolen, func() { close(lost) })

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("expected lost-claim callback")
	}
	wg.Wait()
}

func TestHeartbeatKeepsClaimFresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	enqueueSubjects(t, store, config.KindResolveID, 1)
	task := testsupport.MustClaim(t, store, "worker-a", config.KindResolveID)

	monitor := workflow.NewHeartbeatMonitor(store, logging.NewNop(), 5*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(ctx, &wg, task, func() { t.Error("claim should not be lost") })

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.Get(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if current.HeartbeatAt.After(task.ClaimedAt) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	current, _ := store.Get(context.Background(), task.ID)
	if !current.HeartbeatAt.After(task.ClaimedAt) {
		t.Fatalf("heartbeat not refreshed: claimed=%s heartbeat=%s", task.ClaimedAt, current.HeartbeatAt)
	}
}
