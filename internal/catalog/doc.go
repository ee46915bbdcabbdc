// Package catalog stores canonical works: one row per real-world anime, the
// external identifiers linked to it, its enrichment attributes, and the
// resolution candidates kept for human review.
//
// Two rules are enforced here rather than by callers. An external identifier
// belongs to at most one work; Link checks ownership inside its transaction
// and relies on a UNIQUE constraint for the race it cannot see, reporting both
// as a *ConflictError. Attribute values carry a provenance tag; automatic
// writes never replace a manual value, and fill-empty is the default unless
// the caller forces an overwrite.
package catalog
