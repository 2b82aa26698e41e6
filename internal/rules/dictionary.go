package rules

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/phonetic"
)

//go:embed data/names.yaml
var namesYAML []byte

// Entry is one curated dictionary row: a name token mapped to its category
// with linguistic-origin metadata.
type Entry struct {
	Name       string          `yaml:"name"`
	Category   models.Category `yaml:"category"`
	Origin     string          `yaml:"origin"`
	Confidence float64         `yaml:"confidence"`
}

type dictionaryFile struct {
	Names []Entry `yaml:"names"`
}

// Dictionary is the curated token -> category map. It is immutable after
// load; runtime extension happens through learned patterns, which the cascade
// consults as a separate layer.
type Dictionary struct {
	entries map[string]Entry
	ordered []Entry
}

// Load parses the embedded curated dictionary. Entries outside the canonical
// category set or the 0.85-1.0 confidence band fail the load; a broken
// dictionary is a build defect, not a runtime condition.
func Load() (*Dictionary, error) {
	return Parse(namesYAML)
}

// Parse builds a dictionary from YAML content.
func Parse(data []byte) (*Dictionary, error) {
	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse name dictionary: %w", err)
	}

	d := &Dictionary{entries: make(map[string]Entry, len(file.Names))}
	for i, e := range file.Names {
		key := phonetic.Normalize(e.Name)
		if key == "" {
			return nil, fmt.Errorf("dictionary entry %d has an empty name", i)
		}
		if !models.IsCanonical(e.Category) {
			return nil, fmt.Errorf("dictionary entry %q has unknown category %q", e.Name, e.Category)
		}
		if e.Confidence < 0.85 || e.Confidence > 1.0 {
			return nil, fmt.Errorf("dictionary entry %q confidence %v outside [0.85, 1.0]", e.Name, e.Confidence)
		}
		e.Name = key
		d.entries[key] = e
		d.ordered = append(d.ordered, e)
	}

	return d, nil
}

// LookupToken finds an exact entry for one normalized token.
func (d *Dictionary) LookupToken(token string) (Entry, bool) {
	e, ok := d.entries[phonetic.Normalize(token)]
	return e, ok
}

// Len returns the number of curated entries.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

// Candidates exposes the curated names as phonetic-consensus candidates for
// cascade layer L2.
func (d *Dictionary) Candidates() []phonetic.Candidate {
	out := make([]phonetic.Candidate, 0, len(d.ordered))
	for _, e := range d.ordered {
		out = append(out, phonetic.Candidate{
			Name:       e.Name,
			Category:   e.Category,
			Confidence: e.Confidence,
		})
	}
	return out
}
