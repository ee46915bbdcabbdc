// Package titlematch decides which external record, if any, names the same
// anime as a catalog title.
//
// The package has three layers:
//   - Normalize and Fold turn noisy, locale-mixed titles into comparable keys
//   - Similarity scores two titles with the Dice coefficient over rune bigrams
//   - Resolver applies a configurable confirmation policy to scored candidates
//
// Containment and RankText form a separate text-search track for consumer
// lookups. Their scores are never blended with Similarity and never feed
// resolution decisions.
//
// Everything here is pure: no I/O, no globals with mutable state. Resolve
// takes the search function as an argument so callers decide which provider
// (and which rate limiter) serves each query term.
package titlematch
