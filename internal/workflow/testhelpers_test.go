package workflow_test

import (
	"context"
	"sync"
	"testing"

	"animeindex/internal/config"
	"animeindex/internal/queue"
	"animeindex/internal/stage"
	"animeindex/internal/workflow"
)

type stubHandler struct {
	kind    string
	health  stage.Health
	execute func(ctx context.Context, task *queue.Task) (string, error)

	mu   sync.Mutex
	seen []int64
}

func newStubHandler(kind string, execute func(context.Context, *queue.Task) (string, error)) *stubHandler {
	return &stubHandler{kind: kind, health: stage.Healthy(kind), execute: execute}
}

func (s *stubHandler) Kind() string { return s.kind }

func (s *stubHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	s.mu.Lock()
	s.seen = append(s.seen, task.SubjectID)
	s.mu.Unlock()
	if s.execute == nil {
		return queue.OutcomeUpdated, nil
	}
	return s.execute(ctx, task)
}

func (s *stubHandler) HealthCheck(context.Context) stage.Health {
	return s.health
}

func (s *stubHandler) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func resolveLane() workflow.Option {
	return workflow.WithLanes([]config.Lane{{Name: "test", Kinds: []string{config.KindResolveID}}})
}

func enqueueSubjects(t *testing.T, store *queue.Store, kind string, subjects ...int64) {
	t.Helper()
	for _, subject := range subjects {
		result, err := store.Enqueue(context.Background(), subject, kind, map[string]any{"source": "anilist"}, 0)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if result != queue.EnqueueInserted {
			t.Fatalf("expected inserted, got %s", result)
		}
	}
}

func newManager(t *testing.T, cfg *config.Config, store *queue.Store, handler stage.Handler, opts ...workflow.Option) *workflow.Manager {
	t.Helper()
	opts = append([]workflow.Option{resolveLane()}, opts...)
	mgr, err := workflow.NewManager(cfg, store, nil, []stage.Handler{handler}, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func mustTask(t *testing.T, store *queue.Store, subject int64) *queue.Task {
	t.Helper()
	tasks, err := store.List(context.Background(), queue.ListFilter{SubjectID: subject})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one task for subject %d, got %d", subject, len(tasks))
	}
	return tasks[0]
}
