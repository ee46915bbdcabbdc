package api

import (
	"encoding/json"
	"slices"
	"time"

	"animeindex/internal/catalog"
	"animeindex/internal/queue"
	"animeindex/internal/stage"
	"animeindex/internal/workflow"
)

// FromTask converts a queue task to its API representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:            task.ID,
		SubjectID:     task.SubjectID,
		Kind:          task.Kind,
		Priority:      task.Priority,
		Status:        string(task.Status),
		Attempts:      task.Attempts,
		LastError:     task.LastError,
		LastOutcome:   task.LastOutcome,
		ClaimedBy:     task.ClaimedBy,
		ClaimedAt:     FormatTime(task.ClaimedAt),
		HeartbeatAt:   FormatTime(task.HeartbeatAt),
		AvailableAt:   FormatTime(task.AvailableAt),
		LastCheckedAt: FormatTime(task.LastCheckedAt),
		CreatedAt:     FormatTime(task.CreatedAt),
		UpdatedAt:     FormatTime(task.UpdatedAt),
	}
	if task.PayloadJSON != "" && json.Valid([]byte(task.PayloadJSON)) {
		dto.Payload = json.RawMessage(task.PayloadJSON)
	}
	return dto
}

// FromTasks converts a slice of tasks.
func FromTasks(tasks []*queue.Task) []Task {
	if len(tasks) == 0 {
		return []Task{}
	}
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromWork converts a catalog work. Attributes are sorted by name.
func FromWork(work *catalog.Work) Work {
	if work == nil {
		return Work{}
	}
	dto := Work{
		ID:         work.ID,
		Title:      work.Title,
		Links:      make([]Link, 0, len(work.Links)),
		Attributes: make([]Attribute, 0, len(work.Attributes)),
		CreatedAt:  FormatTime(work.CreatedAt),
		UpdatedAt:  FormatTime(work.UpdatedAt),
	}
	for _, link := range work.Links {
		dto.Links = append(dto.Links, Link{
			Source:     link.Source,
			ExternalID: link.ExternalID,
			Provenance: string(link.Provenance),
			LinkedAt:   FormatTime(link.LinkedAt),
		})
	}
	names := make([]string, 0, len(work.Attributes))
	for name := range work.Attributes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		attr := work.Attributes[name]
		value := attr.Value
		if len(value) == 0 || !json.Valid(value) {
			value = json.RawMessage("null")
		}
		dto.Attributes = append(dto.Attributes, Attribute{
			Name:       name,
			Value:      value,
			Provenance: string(attr.Provenance),
			Source:     attr.Source,
			UpdatedAt:  FormatTime(attr.UpdatedAt),
			CheckedAt:  FormatTime(attr.CheckedAt),
		})
	}
	return dto
}

// FromCandidates converts stored resolution candidates.
func FromCandidates(candidates []catalog.Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Candidate{
			WorkID:     c.WorkID,
			Source:     c.Source,
			ExternalID: c.ExternalID,
			Names:      c.Names,
			Score:      c.Score,
			Term:       c.Term,
			Outcome:    c.Outcome,
			CreatedAt:  FormatTime(c.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts worker diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkerStatus {
	status := WorkerStatus{
		Running:       summary.Running,
		QueueStats:    MergeQueueStats(summary.QueueStats),
		Processed:     summary.Processed.Processed,
		Outcomes:      summary.Processed.Outcomes,
		LastError:     summary.LastError,
		HandlerHealth: HandlerHealthSlice(summary.HandlerHealth),
		Lanes:         make([]Lane, 0, len(summary.Lanes)),
	}
	for _, lane := range summary.Lanes {
		status.Lanes = append(status.Lanes, Lane{Name: lane.Name, WorkerID: lane.WorkerID, Kinds: lane.Kinds})
	}
	if summary.LastTask != nil {
		last := FromTask(summary.LastTask)
		status.LastTask = &last
	}
	return status
}

// MergeQueueStats keys queue counts by status string and fills in zero rows
// for statuses that have no tasks.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := map[string]int{
		string(queue.StatusPending): 0,
		string(queue.StatusClaimed): 0,
		string(queue.StatusDone):    0,
		string(queue.StatusFailed):  0,
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FromKindStats converts the per-kind breakdown.
func FromKindStats(stats []queue.KindStats) []KindCount {
	out := make([]KindCount, 0, len(stats))
	for _, row := range stats {
		out = append(out, KindCount{Kind: row.Kind, Status: string(row.Status), Count: row.Count})
	}
	return out
}

// HandlerHealthSlice orders handler health deterministically by kind.
func HandlerHealthSlice(health map[string]stage.Health) []HandlerHealth {
	if len(health) == 0 {
		return nil
	}
	kinds := make([]string, 0, len(health))
	for kind := range health {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)

	out := make([]HandlerHealth, 0, len(kinds))
	for _, kind := range kinds {
		h := health[kind]
		out = append(out, HandlerHealth{Kind: kind, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime renders t for API payloads, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
