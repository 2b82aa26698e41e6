package rules

import (
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/phonetic"
)

// Resolution is a dictionary verdict for a full director name.
type Resolution struct {
	Category   models.Category
	Origin     string
	Confidence float64
	Tokens     []string // The tokens that classified
}

// tieBreakScale discounts the surname-dominates tie-break.
const tieBreakScale = 0.9

// Resolve classifies a possibly compound name against the curated
// dictionary. Tokens are classified independently; agreement returns the
// minimum token confidence, disagreement falls back to the trailing token
// (surname dominates) at a scaled confidence. A name with no classifiable
// token is a miss, not an error.
func (d *Dictionary) Resolve(name string) (*Resolution, bool) {
	normalized := phonetic.Normalize(name)
	if normalized == "" {
		return nil, false
	}

	// Multi-token dictionary keys ("van der merwe") match the whole name
	// before tokenization splits them.
	if e, ok := d.entries[normalized]; ok {
		return &Resolution{
			Category:   e.Category,
			Origin:     e.Origin,
			Confidence: e.Confidence,
			Tokens:     []string{e.Name},
		}, true
	}

	tokens := phonetic.Tokenize(normalized)
	type hit struct {
		token string
		entry Entry
	}
	var hits []hit
	for _, tok := range tokens {
		if e, ok := d.entries[tok]; ok {
			hits = append(hits, hit{token: tok, entry: e})
		}
	}

	if len(hits) == 0 {
		return nil, false
	}

	agreed := true
	minConf := hits[0].entry.Confidence
	for _, h := range hits[1:] {
		if h.entry.Category != hits[0].entry.Category {
			agreed = false
		}
		if h.entry.Confidence < minConf {
			minConf = h.entry.Confidence
		}
	}

	if agreed {
		res := &Resolution{
			Category:   hits[0].entry.Category,
			Origin:     hits[0].entry.Origin,
			Confidence: minConf,
		}
		for _, h := range hits {
			res.Tokens = append(res.Tokens, h.token)
		}
		return res, true
	}

	// Disagreement: the trailing classified token wins, scaled down.
	last := hits[len(hits)-1]
	return &Resolution{
		Category:   last.entry.Category,
		Origin:     last.entry.Origin,
		Confidence: last.entry.Confidence * tieBreakScale,
		Tokens:     []string{last.token},
	}, true
}
