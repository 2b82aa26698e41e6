package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/ternarybob/prospect/internal/models"
)

// Codes computes the five-code tuple for a name. The input is normalized
// first; multi-token names are coded on the concatenation of their tokens so
// "van der Merwe" and "vander merwe" produce the same tuple. Deterministic
// and stateless, safe for parallel use.
func Codes(name string) models.PhoneticCodes {
	normalized := Normalize(name)
	joined := strings.Join(Tokenize(normalized), "")
	if joined == "" {
		return models.PhoneticCodes{}
	}

	primary, alt := matchr.DoubleMetaphone(joined)

	return models.PhoneticCodes{
		Soundex:                matchr.Soundex(joined),
		Phonex:                 matchr.Phonex(joined),
		DoubleMetaphonePrimary: primary,
		DoubleMetaphoneAlt:     alt,
		NYSIIS:                 matchr.NYSIIS(joined),
	}
}

// Similarity returns the Jaro-Winkler similarity of two names in [0,1],
// computed over their normalized forms.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return matchr.JaroWinkler(na, nb, false)
}

// AgreementCount reports how many of the five codes match between two tuples.
// Empty codes never count as agreement.
func AgreementCount(a, b models.PhoneticCodes) int {
	count := 0
	if a.Soundex != "" && a.Soundex == b.Soundex {
		count++
	}
	if a.Phonex != "" && a.Phonex == b.Phonex {
		count++
	}
	if a.DoubleMetaphonePrimary != "" && a.DoubleMetaphonePrimary == b.DoubleMetaphonePrimary {
		count++
	}
	if a.DoubleMetaphoneAlt != "" && a.DoubleMetaphoneAlt == b.DoubleMetaphoneAlt {
		count++
	}
	if a.NYSIIS != "" && a.NYSIIS == b.NYSIIS {
		count++
	}
	return count
}
