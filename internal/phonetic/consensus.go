package phonetic

import (
	"github.com/ternarybob/prospect/internal/models"
)

// Candidate is one known name a probe can be matched against, usually drawn
// from the rule dictionary.
type Candidate struct {
	Name       string
	Category   models.Category
	Confidence float64 // The candidate's own dictionary confidence
	codes      models.PhoneticCodes
}

// Match is an accepted consensus between a probe name and a candidate.
type Match struct {
	Candidate  Candidate
	Agreement  int     // Number of agreeing phonetic codes (1-5)
	Similarity float64 // Jaro-Winkler similarity
	Confidence float64 // Consensus confidence in the 0.70-0.95 band
}

// Matcher performs phonetic-consensus matching of probe names against a fixed
// candidate set. Candidates are coded once at construction; matching is
// read-only afterwards and safe for concurrent use.
type Matcher struct {
	candidates          []Candidate
	similarityThreshold float64
}

// Consensus acceptance bounds. A candidate is accepted when at least two
// codes agree and similarity clears the configured threshold, or when a
// single code agrees and similarity clears the strict threshold.
const (
	strictSimilarity = 0.93
	minConfidence    = 0.70
	maxConfidence    = 0.95
)

// NewMatcher builds a matcher over the candidate set. similarityThreshold is
// the configured minimum (default 0.85) for the two-code acceptance path.
func NewMatcher(candidates []Candidate, similarityThreshold float64) *Matcher {
	coded := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.codes = Codes(c.Name)
		coded[i] = c
	}
	return &Matcher{candidates: coded, similarityThreshold: similarityThreshold}
}

// Match finds the best consensus candidate for a probe name, or nil when no
// candidate clears the acceptance rule.
func (m *Matcher) Match(name string) *Match {
	probeCodes := Codes(name)

	var best *Match
	var bestScore float64

	for _, c := range m.candidates {
		agreement := AgreementCount(probeCodes, c.codes)
		if agreement == 0 {
			continue
		}

		similarity := Similarity(name, c.Name)

		accepted := (agreement >= 2 && similarity >= m.similarityThreshold) ||
			(agreement >= 1 && similarity >= strictSimilarity)
		if !accepted {
			continue
		}

		// Weighted score ranks competing candidates; the reported confidence
		// is linear in the number of agreeing codes.
		score := 0.6*(float64(agreement)/5.0) + 0.4*similarity
		if best == nil || score > bestScore {
			bestScore = score
			best = &Match{
				Candidate:  c,
				Agreement:  agreement,
				Similarity: similarity,
				Confidence: consensusConfidence(agreement),
			}
		}
	}

	return best
}

// consensusConfidence maps the agreeing-code count onto the 0.70-0.95 band.
func consensusConfidence(agreement int) float64 {
	if agreement < 1 {
		return 0
	}
	if agreement > 5 {
		agreement = 5
	}
	return minConfidence + (maxConfidence-minConfidence)*float64(agreement-1)/4.0
}
