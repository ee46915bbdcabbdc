package services_test

import (
	"context"
	"testing"

	"animeindex/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTaskID(ctx, 42)
	ctx = services.WithKind(ctx, "resolve-id")
	ctx = services.WithWorkerID(ctx, "host-1")
	ctx = services.WithSubjectID(ctx, 7)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.TaskIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected task id: %v %v", id, ok)
	}
	if kind, ok := services.KindFromContext(ctx); !ok || kind != "resolve-id" {
		t.Fatalf("unexpected kind: %v %v", kind, ok)
	}
	if worker, ok := services.WorkerIDFromContext(ctx); !ok || worker != "host-1" {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
	if subject, ok := services.SubjectIDFromContext(ctx); !ok || subject != 7 {
		t.Fatalf("unexpected subject: %v %v", subject, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestKindBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithKind(ctx, "")
	if _, ok := services.KindFromContext(ctx); ok {
		t.Fatal("expected no kind value")
	}
}
