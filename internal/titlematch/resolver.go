package titlematch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
)

// scoreEpsilon absorbs floating point noise in threshold comparisons.
const scoreEpsilon = 1e-9

// Threshold is one (score, gap) rung of the confirmation ladder.
type Threshold struct {
	Score float64
	Gap   float64
}

// Policy is the confirmation policy. All comparisons are inclusive.
type Policy struct {
	// NearCertain confirms on score alone.
	NearCertain float64
	// High confirms when paired with ClearGap or an exact normalized match.
	High     float64
	ClearGap float64
	// LoneCandidate confirms when the search returned exactly one record.
	LoneCandidate float64
	// Ladder confirms when any rung's score and gap are both met.
	Ladder []Threshold
	// ShortASCIIMaxLen is the longest folded ASCII query that is deferred
	// whenever the top two candidates tie.
	ShortASCIIMaxLen int
	// TopK bounds Decision.Ranked.
	TopK int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		NearCertain:      0.97,
		High:             0.90,
		ClearGap:         0.08,
		LoneCandidate:    0.80,
		ShortASCIIMaxLen: 6,
		TopK:             5,
		Ladder: []Threshold{
			{Score: 0.95, Gap: 0.02},
			{Score: 0.915, Gap: 0.03},
			{Score: 0.88, Gap: 0.06},
		},
	}
}

// Validate checks that every threshold lies in [0, 1].
func (p Policy) Validate() error {
	values := []float64{p.NearCertain, p.High, p.ClearGap, p.LoneCandidate}
	for _, rung := range p.Ladder {
		values = append(values, rung.Score, rung.Gap)
	}
	for _, v := range values {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %v outside [0, 1]", v)
		}
	}
	if p.TopK < 1 {
		return errors.New("top k must be at least 1")
	}
	return nil
}

// Candidate is an external record offered for a query term.
type Candidate struct {
	ExternalID string
	Names      []string
}

// Scored is a candidate with its best score over all of its names.
type Scored struct {
	Candidate
	Score       float64
	MatchedName string
}

// Action is the resolver's verdict.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionDefer   Action = "defer"
)

// Decision reasons.
const (
	ReasonNoCandidates   = "no_candidates"
	ReasonShortASCIITie  = "short_ascii_tie"
	ReasonNearCertain    = "near_certain"
	ReasonClearGap       = "clear_gap"
	ReasonExactMatch     = "exact_match"
	ReasonLoneCandidate  = "lone_candidate"
	ReasonLadder         = "ladder"
	ReasonBelowThreshold = "below_threshold"
)

// Decision records what the resolver decided and the evidence behind it.
type Decision struct {
	Action         Action
	Reason         string
	Best           *Scored
	Top1           float64
	Top2           float64
	Gap            float64
	Exact          bool
	Term           string
	Ranked         []Scored
	CandidateCount int
}

// Confirmed reports whether the decision links the best candidate.
func (d Decision) Confirmed() bool {
	return d.Action == ActionConfirm && d.Best != nil
}

// Resolver applies a Policy. It holds no mutable state and is safe for
// concurrent use.
type Resolver struct {
	policy Policy
}

// NewResolver validates policy and returns a resolver for it.
func NewResolver(policy Policy) (*Resolver, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("resolver policy: %w", err)
	}
	ladder := slices.Clone(policy.Ladder)
	slices.SortStableFunc(ladder, func(a, b Threshold) int { return cmp.Compare(b.Score, a.Score) })
	policy.Ladder = ladder
	return &Resolver{policy: policy}, nil
}

// Policy returns the policy in effect.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Decide scores candidates against term and applies the policy.
func (r *Resolver) Decide(term string, candidates []Candidate) Decision {
	decision := Decision{Action: ActionDefer, Term: term, CandidateCount: len(candidates)}
	if len(candidates) == 0 {
		decision.Reason = ReasonNoCandidates
		return decision
	}

	foldedTerm := Fold(term)
	normalizedTerm := Normalize(term)
	ranked := make([]Scored, 0, len(candidates))
	for _, cand := range candidates {
		scored := Scored{Candidate: cand}
		for _, name := range cand.Names {
			score := foldedSimilarity(foldedTerm, Fold(name))
			if scored.MatchedName == "" || score > scored.Score {
				scored.Score = score
				scored.MatchedName = name
			}
		}
		ranked = append(ranked, scored)
	}
	slices.SortStableFunc(ranked, func(a, b Scored) int { return cmp.Compare(b.Score, a.Score) })

	best := ranked[0]
	decision.Best = &best
	decision.Top1 = best.Score
	if len(ranked) > 1 {
		decision.Top2 = ranked[1].Score
	}
	decision.Gap = max(0, decision.Top1-decision.Top2)
	decision.Exact = normalizedTerm != "" && slices.ContainsFunc(best.Names, func(name string) bool {
		return Normalize(name) == normalizedTerm
	})
	topK := min(max(r.policy.TopK, 1), len(ranked))
	decision.Ranked = ranked[:topK]

	decision.Reason = r.verdict(foldedTerm, decision)
	if decision.Reason != ReasonShortASCIITie && decision.Reason != ReasonBelowThreshold {
		decision.Action = ActionConfirm
	}
	return decision
}

func (r *Resolver) verdict(foldedTerm string, d Decision) string {
	p := r.policy
	switch {
	case isShortASCII(foldedTerm, p.ShortASCIIMaxLen) && d.Gap <= scoreEpsilon:
		return ReasonShortASCIITie
	case atLeast(d.Top1, p.NearCertain):
		return ReasonNearCertain
	case atLeast(d.Top1, p.High) && atLeast(d.Gap, p.ClearGap):
		return ReasonClearGap
	case atLeast(d.Top1, p.High) && d.Exact:
		return ReasonExactMatch
	case d.CandidateCount == 1 && atLeast(d.Top1, p.LoneCandidate):
		return ReasonLoneCandidate
	}
	for _, rung := range p.Ladder {
		if atLeast(d.Top1, rung.Score) && atLeast(d.Gap, rung.Gap) {
			return ReasonLadder
		}
	}
	return ReasonBelowThreshold
}

func atLeast(value, threshold float64) bool {
	return value >= threshold-scoreEpsilon
}

func isShortASCII(folded string, maxLen int) bool {
	if folded == "" || len(folded) > maxLen {
		return false
	}
	for i := 0; i < len(folded); i++ {
		c := folded[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// SearchFunc returns candidates for one query term.
type SearchFunc func(ctx context.Context, term string) ([]Candidate, error)

// Resolve tries each query term of title in turn. It stops at the first
// near-certain confirmation; otherwise the decision with the highest top
// score wins, the earliest term winning ties. Search errors abort resolution
// and are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, title string, search SearchFunc) (Decision, error) {
	terms := QueryTerms(title)
	if len(terms) == 0 {
		return Decision{Action: ActionDefer, Reason: ReasonNoCandidates, Term: title}, nil
	}

	var (
		best Decision
		have bool
	)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		candidates, err := search(ctx, term)
		if err != nil {
			return Decision{}, err
		}
		decision := r.Decide(term, candidates)
		if decision.Confirmed() && decision.Reason == ReasonNearCertain {
			return decision, nil
		}
		if !have || decision.Top1 > best.Top1 {
			best = decision
			have = true
		}
	}
	return best, nil
}
