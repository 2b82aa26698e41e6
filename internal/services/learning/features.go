package learning

import (
	"fmt"
	"strings"
)

// Features derives coarse structural descriptors from a normalized name.
// Values are strings so they can serve directly as structural-feature pattern
// values and survive the JSON round trip unchanged.
func Features(normalized string) map[string]string {
	tokens := strings.Fields(normalized)
	features := map[string]string{
		"token_count": fmt.Sprintf("%d", len(tokens)),
		"vowel_ratio": vowelBand(normalized),
	}
	if c := longestConsonantRun(normalized); c >= 3 {
		features["consonant_run"] = fmt.Sprintf("%d", c)
	}
	return features
}

// FeatureValues renders features as "key=value" strings, the form
// structural-feature patterns are stored under.
func FeatureValues(features map[string]string) []string {
	values := make([]string, 0, len(features))
	for k, v := range features {
		values = append(values, k+"="+v)
	}
	return values
}

// Probes returns the prefix, suffix and contains probe values for a
// normalized name, used both when deriving patterns and when matching them.
// Prefixes and suffixes come off the leading and trailing tokens (lengths 2
// and 3); contains probes are the marker clusters.
func Probes(normalized string) (prefixes, suffixes, contains []string) {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return nil, nil, nil
	}

	first := tokens[0]
	last := tokens[len(tokens)-1]
	for _, n := range []int{2, 3} {
		if len(first) >= n {
			prefixes = append(prefixes, first[:n])
		}
		if len(last) >= n {
			suffixes = append(suffixes, last[len(last)-n:])
		}
	}
	return dedupe(prefixes), dedupe(suffixes), Markers(normalized)
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func vowelBand(s string) string {
	var vowels, letters int
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			letters++
			switch r {
			case 'a', 'e', 'i', 'o', 'u':
				vowels++
			}
		}
	}
	if letters == 0 {
		return "none"
	}
	ratio := float64(vowels) / float64(letters)
	switch {
	case ratio < 0.30:
		return "low"
	case ratio < 0.45:
		return "mid"
	default:
		return "high"
	}
}

func longestConsonantRun(s string) int {
	var run, best int
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			switch r {
			case 'a', 'e', 'i', 'o', 'u':
				run = 0
			default:
				run++
				if run > best {
					best = run
				}
			}
		} else {
			run = 0
		}
	}
	return best
}
