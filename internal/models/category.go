package models

// Category is a canonical demographic category code. The set is closed:
// confirmations and LLM responses are rejected unless they resolve to one of
// these values.
type Category string

const (
	CategoryAfrican  Category = "african"
	CategoryColoured Category = "coloured"
	CategoryIndian   Category = "indian"
	CategoryWhite    Category = "white"
)

// CanonicalCategory describes one entry of the closed category set as seeded
// into the canonical_categories table.
type CanonicalCategory struct {
	Code        Category `json:"code"`
	DisplayName string   `json:"display_name"`
	SortOrder   int      `json:"sort_order"`
}

// CanonicalCategories is the seed set, in display order. Extending the set is
// a schema change, not a runtime operation.
var CanonicalCategories = []CanonicalCategory{
	{Code: CategoryAfrican, DisplayName: "African", SortOrder: 1},
	{Code: CategoryColoured, DisplayName: "Coloured", SortOrder: 2},
	{Code: CategoryIndian, DisplayName: "Indian", SortOrder: 3},
	{Code: CategoryWhite, DisplayName: "White", SortOrder: 4},
}

// IsCanonical reports whether code is a member of the closed category set.
func IsCanonical(code Category) bool {
	for _, c := range CanonicalCategories {
		if c.Code == code {
			return true
		}
	}
	return false
}

// CategoryDisplayName returns the display name for a canonical code. Unknown
// codes come back unchanged.
func CategoryDisplayName(code Category) string {
	for _, c := range CanonicalCategories {
		if c.Code == code {
			return c.DisplayName
		}
	}
	return string(code)
}

// CategoryFromDisplayName resolves a display name (as written into the
// confirmed_ethnicity column) back to its category code. Matching is exact on
// the display name or the code itself.
func CategoryFromDisplayName(name string) (Category, bool) {
	for _, c := range CanonicalCategories {
		if c.DisplayName == name || string(c.Code) == name {
			return c.Code, true
		}
	}
	return "", false
}

// DisplayNames returns the display names in sort order, used for the
// spreadsheet data-validation dropdown.
func DisplayNames() []string {
	names := make([]string, 0, len(CanonicalCategories))
	for _, c := range CanonicalCategories {
		names = append(names, c.DisplayName)
	}
	return names
}
