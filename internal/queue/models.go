package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"animeindex/internal/config"
)

// Status represents the lifecycle of a queue task.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusClaimed,
	StatusDone,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	return normalized, slices.Contains(allStatuses, normalized)
}

// Task outcomes recorded on completion.
const (
	OutcomeLinked      = "linked"
	OutcomeUnchanged   = "unchanged"
	OutcomeDeferred    = "deferred"
	OutcomeDuplicate   = "duplicate"
	OutcomeUpdated     = "updated"
	OutcomeEmpty       = "empty"
	OutcomeNotFound    = "not_found"
	OutcomeMissingLink = "missing_link"
	OutcomeMalformed   = "malformed"
	OutcomeProtected   = "protected"
	OutcomeScored      = "scored"
)

// incompleteOutcomes mark completions that found no usable evidence; a
// check-type task that ended this way is eligible again regardless of age.
var incompleteOutcomes = []string{
	OutcomeDeferred,
	OutcomeDuplicate,
	OutcomeEmpty,
	OutcomeNotFound,
	OutcomeMissingLink,
	OutcomeMalformed,
}

// IncompleteEvidence reports whether outcome left the subject unverified.
func IncompleteEvidence(outcome string) bool {
	outcome = strings.TrimSpace(outcome)
	return outcome == "" || slices.Contains(incompleteOutcomes, outcome)
}

// IsCheckKind reports whether kind verifies external state that can go stale
// (facts, availability) rather than producing a one-off result.
func IsCheckKind(kind string) bool {
	return kind == config.KindFetchFacts || kind == config.KindCheckAvailability
}

// Task represents a queue task persisted in SQLite.
type Task struct {
	ID            int64
	SubjectID     int64
	Kind          string
	PayloadJSON   string
	Priority      int
	Status        Status
	Attempts      int
	LastError     string
	ClaimedBy     string
	ClaimedAt     time.Time
	HeartbeatAt   time.Time
	AvailableAt   time.Time
	LastCheckedAt time.Time
	LastOutcome   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DecodePayload unmarshals the task payload into v.
func (t Task) DecodePayload(v any) error {
	raw := strings.TrimSpace(t.PayloadJSON)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode payload for task %d: %w", t.ID, err)
	}
	return nil
}

// EnqueueResult describes what Enqueue did with a request.
type EnqueueResult string

const (
	EnqueueInserted  EnqueueResult = "inserted"
	EnqueueDuplicate EnqueueResult = "duplicate"
	EnqueueFresh     EnqueueResult = "fresh"
	EnqueueHeld      EnqueueResult = "held"
	EnqueueRearmed   EnqueueResult = "rearmed"
	EnqueueProtected EnqueueResult = "protected"
)

// Queued reports whether the request left a claimable task behind.
func (r EnqueueResult) Queued() bool {
	return r == EnqueueInserted || r == EnqueueRearmed
}

// EnqueueRequest carries the task key plus the policy inputs evaluated at
// enqueue time.
type EnqueueRequest struct {
	SubjectID int64
	Kind      string
	Payload   any
	Priority  int
	// FreshFor skips re-running a completed task checked within this window.
	FreshFor time.Duration
	// Protected skips the request because the target value is curated by hand.
	Protected bool
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Statuses  []Status
	Kinds     []string
	SubjectID int64
	Limit     int
}

// CanonicalPayload renders payload as JSON with sorted object keys so that
// equivalent payloads share one task key. A nil payload is "{}".
func CanonicalPayload(payload any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		raw = encoded
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "{}", nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if generic == nil {
		return "{}", nil
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(canonical), nil
}
