package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordProviderCall(t *testing.T) {
	before := testutil.ToFloat64(ProviderRequests.WithLabelValues("test-provider", ResultOK))
	RecordProviderCall("test-provider", ResultOK, 20*time.Millisecond)
	after := testutil.ToFloat64(ProviderRequests.WithLabelValues("test-provider", ResultOK))
	if after != before+1 {
		t.Fatalf("requests = %v, want %v", after, before+1)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	RecordBreakerTransition("breaker-test", "closed", "open", BreakerOpen)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("breaker-test")); got != BreakerOpen {
		t.Fatalf("breaker state = %v, want %d", got, BreakerOpen)
	}
	RecordBreakerTransition("breaker-test", "open", "half-open", BreakerHalfOpen)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("breaker-test")); got != BreakerHalfOpen {
		t.Fatalf("breaker state = %v, want %d", got, BreakerHalfOpen)
	}
}

func TestRecordTaskDefaultsCategory(t *testing.T) {
	RecordTask("resolve-id", "linked", "", time.Second)
	if got := testutil.ToFloat64(TaskOutcomes.WithLabelValues("resolve-id", "linked", "none")); got < 1 {
		t.Fatalf("expected outcome counter to record, got %v", got)
	}
}

func TestSetQueueCountsReplacesSnapshot(t *testing.T) {
	SetQueueCounts([]QueueCount{
		{Kind: "resolve-id", Status: "pending", Count: 4},
		{Kind: "fetch-facts", Status: "done", Count: 2},
	})
	if got := testutil.CollectAndCount(QueueTasks); got != 2 {
		t.Fatalf("series = %d, want 2", got)
	}
	SetQueueCounts([]QueueCount{{Kind: "resolve-id", Status: "done", Count: 5}})
	if got := testutil.CollectAndCount(QueueTasks); got != 1 {
		t.Fatalf("series after reset = %d, want 1", got)
	}
	if got := testutil.ToFloat64(QueueTasks.WithLabelValues("resolve-id", "done")); got != 5 {
		t.Fatalf("gauge = %v, want 5", got)
	}
}
