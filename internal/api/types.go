package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a queue task in a transport-friendly format.
type Task struct {
	ID            int64           `json:"id"`
	SubjectID     int64           `json:"subjectId"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	LastOutcome   string          `json:"lastOutcome,omitempty"`
	ClaimedBy     string          `json:"claimedBy,omitempty"`
	ClaimedAt     string          `json:"claimedAt,omitempty"`
	HeartbeatAt   string          `json:"heartbeatAt,omitempty"`
	AvailableAt   string          `json:"availableAt,omitempty"`
	LastCheckedAt string          `json:"lastCheckedAt,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// Work describes a catalog work.
type Work struct {
	ID         int64       `json:"id"`
	Title      string      `json:"title"`
	Links      []Link      `json:"links"`
	Attributes []Attribute `json:"attributes"`
	CreatedAt  string      `json:"createdAt,omitempty"`
	UpdatedAt  string      `json:"updatedAt,omitempty"`
}

// Link is an external identifier attached to a work.
type Link struct {
	Source     string `json:"source"`
	ExternalID string `json:"externalId"`
	Provenance string `json:"provenance"`
	LinkedAt   string `json:"linkedAt,omitempty"`
}

// Attribute is one enrichment value.
type Attribute struct {
	Name       string          `json:"name"`
	Value      json.RawMessage `json:"value"`
	Provenance string          `json:"provenance"`
	Source     string          `json:"source,omitempty"`
	UpdatedAt  string          `json:"updatedAt,omitempty"`
	CheckedAt  string          `json:"checkedAt,omitempty"`
}

// Candidate is a stored resolution candidate.
type Candidate struct {
	WorkID     int64    `json:"workId"`
	Source     string   `json:"source"`
	ExternalID string   `json:"externalId"`
	Names      []string `json:"names"`
	Score      float64  `json:"score"`
	Term       string   `json:"term,omitempty"`
	Outcome    string   `json:"outcome"`
	CreatedAt  string   `json:"createdAt,omitempty"`
}

// WorkerStatus summarizes worker execution state.
type WorkerStatus struct {
	Running       bool            `json:"running"`
	QueueStats    map[string]int  `json:"queueStats"`
	Processed     int             `json:"processed"`
	Outcomes      map[string]int  `json:"outcomes,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	LastTask      *Task           `json:"lastTask,omitempty"`
	HandlerHealth []HandlerHealth `json:"handlerHealth"`
	Lanes         []Lane          `json:"lanes"`
}

// HandlerHealth mirrors readiness reporting for task handlers.
type HandlerHealth struct {
	Kind   string `json:"kind"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Lane describes one worker lane.
type Lane struct {
	Name     string   `json:"name"`
	WorkerID string   `json:"workerId"`
	Kinds    []string `json:"kinds"`
}

// KindCount is one row of the per-kind queue breakdown.
type KindCount struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
	ByKind []KindCount    `json:"byKind"`
}

// TaskListResponse wraps a collection of tasks for API responses.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// WorkResponse wraps a work and its stored candidates.
type WorkResponse struct {
	Work       Work        `json:"work"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// HealthResponse reports liveness of the process and its databases.
type HealthResponse struct {
	Status    string            `json:"status"`
	Databases map[string]string `json:"databases"`
	Handlers  []HandlerHealth   `json:"handlers,omitempty"`
}
