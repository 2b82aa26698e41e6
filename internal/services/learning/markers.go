package learning

import "strings"

// markerTable lists orthographic clusters with demographic signal in South
// African names. Trigraphs are matched before digraphs so "tsh" never double
// counts as "sh".
var markerTable = []string{
	// Nguni click and nasal clusters
	"tsh", "ntl", "hla", "dla", "nkos", "mba",
	"hl", "dl", "nk", "ng", "mb", "nd", "kg", "ts", "tl",
	"qh", "xh", "gc", "nc", "nq",
	// Afrikaans particles and clusters
	"van ", "der ", "du ", "de ", "oe", "ij",
	// South Indian name endings
	"samy", "lingam", "oo", "iah", "appa",
}

// Markers returns the marker clusters present in a normalized name, in table
// order, each at most once.
func Markers(normalized string) []string {
	var found []string
	remaining := normalized
	for _, m := range markerTable {
		if strings.Contains(remaining, m) {
			found = append(found, m)
			// Knock out the first occurrence so a trigraph hides its digraphs
			remaining = strings.Replace(remaining, m, "\x00", 1)
		}
	}
	return found
}
