package phonetic

import (
	"testing"

	"github.com/ternarybob/prospect/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Thabo Mthembu", "thabo mthembu"},
		{"folds diacritics", "José Müller", "jose muller"},
		{"collapses whitespace", "  Thabo   Mthembu ", "thabo mthembu"},
		{"keeps hyphens", "Van Der Berg-Smith", "van der berg-smith"},
		{"keeps apostrophes", "O'Brien", "o'brien"},
		{"strips punctuation", "Mr. Naidoo (Jnr)", "mr naidoo jnr"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("van der berg-smith")
	want := []string{"van", "der", "berg", "smith"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCodes_Deterministic(t *testing.T) {
	a := Codes("Bongani")
	b := Codes("bongani")

	if a != b {
		t.Errorf("Codes not case-insensitive: %+v != %+v", a, b)
	}
	if a.Soundex == "" || a.Phonex == "" || a.NYSIIS == "" {
		t.Errorf("Codes(\"Bongani\") has empty codes: %+v", a)
	}
}

func TestCodes_Empty(t *testing.T) {
	if got := Codes(""); got != (models.PhoneticCodes{}) {
		t.Errorf("Codes(\"\") = %+v, want zero value", got)
	}
}

func TestAgreementCount_Self(t *testing.T) {
	c := Codes("Mthembu")
	if got := AgreementCount(c, c); got != 5 {
		t.Errorf("AgreementCount(self) = %d, want 5", got)
	}
}

func TestAgreementCount_EmptyNeverAgrees(t *testing.T) {
	empty := models.PhoneticCodes{}
	if got := AgreementCount(empty, empty); got != 0 {
		t.Errorf("AgreementCount(empty, empty) = %d, want 0", got)
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Bongani", "Bongani"); got != 1 {
		t.Errorf("Similarity(identical) = %v, want 1", got)
	}
	if got := Similarity("Bonganni", "Bongani"); got < 0.9 {
		t.Errorf("Similarity(Bonganni, Bongani) = %v, want >= 0.9", got)
	}
	if got := Similarity("Smith", "Bongani"); got > 0.7 {
		t.Errorf("Similarity(Smith, Bongani) = %v, want low", got)
	}
	if got := Similarity("", "Bongani"); got != 0 {
		t.Errorf("Similarity with empty = %v, want 0", got)
	}
}

func TestMatcher_Consensus(t *testing.T) {
	matcher := NewMatcher([]Candidate{
		{Name: "Bongani", Category: models.CategoryAfrican, Confidence: 0.95},
		{Name: "Pieter", Category: models.CategoryWhite, Confidence: 0.95},
	}, 0.85)

	match := matcher.Match("Bonganni")
	if match == nil {
		t.Fatal("expected a consensus match for Bonganni")
	}
	if match.Candidate.Category != models.CategoryAfrican {
		t.Errorf("Category = %v, want african", match.Candidate.Category)
	}
	if match.Agreement < 2 {
		t.Errorf("Agreement = %d, want >= 2", match.Agreement)
	}
	if match.Confidence < 0.85 || match.Confidence > 0.95 {
		t.Errorf("Confidence = %v, want in [0.85, 0.95]", match.Confidence)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	matcher := NewMatcher([]Candidate{
		{Name: "Bongani", Category: models.CategoryAfrican, Confidence: 0.95},
	}, 0.85)

	if match := matcher.Match("Jonathan"); match != nil {
		t.Errorf("expected no match for Jonathan, got %+v", match)
	}
}

func TestConsensusConfidenceBand(t *testing.T) {
	if got := consensusConfidence(1); got != 0.70 {
		t.Errorf("consensusConfidence(1) = %v, want 0.70", got)
	}
	if got := consensusConfidence(5); got != 0.95 {
		t.Errorf("consensusConfidence(5) = %v, want 0.95", got)
	}
	if got := consensusConfidence(3); got <= 0.70 || got >= 0.95 {
		t.Errorf("consensusConfidence(3) = %v, want inside the band", got)
	}
}
