package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"animeindex/internal/services"
)

// Provenance records who wrote a value.
type Provenance string

const (
	ProvenanceAuto   Provenance = "auto"
	ProvenanceManual Provenance = "manual"
)

// ParseProvenance accepts "auto" or "manual", defaulting to auto.
func ParseProvenance(value string) (Provenance, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ProvenanceAuto):
		return ProvenanceAuto, nil
	case string(ProvenanceManual):
		return ProvenanceManual, nil
	default:
		return "", fmt.Errorf("unknown provenance %q", value)
	}
}

// Work is one canonical anime record.
type Work struct {
	ID         int64
	Title      string
	Links      []Link
	Attributes map[string]Attribute
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LinkFor returns the work's link for source, if any.
func (w *Work) LinkFor(source string) (Link, bool) {
	if w == nil {
		return Link{}, false
	}
	for _, link := range w.Links {
		if link.Source == source {
			return link, true
		}
	}
	return Link{}, false
}

// Attribute returns the named attribute, if set.
func (w *Work) Attribute(name string) (Attribute, bool) {
	if w == nil || w.Attributes == nil {
		return Attribute{}, false
	}
	attr, ok := w.Attributes[name]
	return attr, ok
}

// Link ties a work to one external source record.
type Link struct {
	WorkID     int64
	Source     string
	ExternalID string
	Provenance Provenance
	LinkedAt   time.Time
}

// Attribute is one enrichment value with its provenance.
type Attribute struct {
	Name       string
	Value      json.RawMessage
	Provenance Provenance
	Source     string
	UpdatedAt  time.Time
	CheckedAt  time.Time
}

// IsManual reports whether a human curator set the value.
func (a Attribute) IsManual() bool {
	return a.Provenance == ProvenanceManual
}

// IsEmpty reports whether the value carries nothing.
func (a Attribute) IsEmpty() bool {
	return isEmptyJSON(a.Value)
}

// Decode unmarshals the attribute value into v.
func (a Attribute) Decode(v any) error {
	if a.IsEmpty() {
		return nil
	}
	return json.Unmarshal(a.Value, v)
}

func isEmptyJSON(raw []byte) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

// Candidate is a resolution candidate stored for review.
type Candidate struct {
	ID         int64
	WorkID     int64
	Source     string
	ExternalID string
	Names      []string
	Score      float64
	Term       string
	Outcome    string
	CreatedAt  time.Time
}

// PatchOptions controls how Patch treats existing values.
type PatchOptions struct {
	// Force overwrites filled automatic values. Manual values are only
	// replaced by manual writes.
	Force      bool
	Provenance Provenance
	Source     string
}

// PatchResult lists attribute names by what Patch did with them.
type PatchResult struct {
	Written       []string
	SkippedFilled []string
	SkippedManual []string
}

// Changed reports whether any value was written.
func (r PatchResult) Changed() bool {
	return len(r.Written) > 0
}

// LinkResult describes what Link did.
type LinkResult string

const (
	LinkCreated   LinkResult = "created"
	LinkUnchanged LinkResult = "unchanged"
	LinkReplaced  LinkResult = "replaced"
)

// ConflictError reports an external id that already belongs to another work,
// or a work that already holds a different id for the source.
type ConflictError struct {
	Source         string
	ExternalID     string
	WorkID         int64
	ExistingWorkID int64
	ExistingID     string
}

func (e *ConflictError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("work %d is already linked to %s:%s, refusing %s:%s",
			e.WorkID, e.Source, e.ExistingID, e.Source, e.ExternalID)
	}
	return fmt.Sprintf("%s:%s is already linked to work %d, refusing link to work %d",
		e.Source, e.ExternalID, e.ExistingWorkID, e.WorkID)
}

// Unwrap lets errors.Is match services.ErrConflict.
func (e *ConflictError) Unwrap() error {
	return services.ErrConflict
}

// SearchHit is a consumer text search result.
type SearchHit struct {
	WorkID           int64
	Title            string
	MatchedName      string
	Dice             float64
	Contained        bool
	ContainmentRatio float64
}
