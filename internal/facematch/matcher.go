package facematch

import "math"

// DefaultAcceptThreshold is the default maximum Euclidean distance for a match.
const DefaultAcceptThreshold = 0.6

// Template binds an identity to its enrolled embedding.
type Template struct {
	Identity  string
	Embedding Embedding
}

// Gallery is an ordered, read-only snapshot of templates taken once per
// verification attempt.
type Gallery []Template

// Identities returns the identities in gallery order.
func (g Gallery) Identities() []string {
	ids := make([]string, len(g))
	for i, t := range g {
		ids[i] = t.Identity
	}
	return ids
}

// MatchResult is the outcome of matching one probe against a gallery.
type MatchResult struct {
	Matched  bool
	Identity string  // nearest identity, empty for an empty gallery
	Distance float64 // +Inf for an empty gallery
}

// Matcher finds the globally nearest template and applies the acceptance threshold.
type Matcher struct {
	Threshold float64
}

// NewMatcher creates a matcher, falling back to DefaultAcceptThreshold for
// non-positive thresholds.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultAcceptThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Nearest returns the template with the minimum distance to probe, its index
// in the gallery, and the distance. Ties keep the first template encountered.
// The index is -1 for an empty gallery.
func Nearest(probe Embedding, gallery Gallery) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i := range gallery {
		d := EuclideanDistance(probe, gallery[i].Embedding)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// Match compares probe with every template in gallery. The result is matched
// only when the global nearest template lies strictly below the threshold.
func (m *Matcher) Match(probe Embedding, gallery Gallery) MatchResult {
	idx, dist := Nearest(probe, gallery)
	if idx < 0 {
		return MatchResult{Distance: math.Inf(1)}
	}
	return MatchResult{
		Matched:  dist < m.Threshold,
		Identity: gallery[idx].Identity,
		Distance: dist,
	}
}
