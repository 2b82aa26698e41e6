package leads

import (
	"fmt"
	"strings"

	"github.com/ternarybob/prospect/internal/models"
)

// columnMap resolves header cells to lead fields. Source workbooks come from
// several list brokers, so each field accepts a handful of header spellings.
type columnMap struct {
	indices map[string]int
}

var headerAliases = map[string][]string{
	"entity_name":   {"entityname", "companyname", "businessname", "company", "entity"},
	"trading_name":  {"tradingname", "tradingas", "ta"},
	"keyword":       {"keyword", "category", "industry"},
	"contact_email": {"contactemail", "email", "emailaddress"},
	"contact_phone": {"contactphone", "phone", "telephone", "tel", "phonenumber"},
	"address":       {"address", "streetaddress", "physicaladdress"},
	"suburb":        {"suburb"},
	"city":          {"city", "town"},
	"province":      {"province", "state", "region"},
	"director_name": {"directorname", "director", "ownername", "owner", "contactperson", "contactname"},
	"director_cell": {"directorcell", "cell", "cellphone", "mobile", "mobilenumber"},
}

// normalizeHeader strips everything but letters and digits so that
// "Director Name", "director_name" and "DirectorName" all resolve alike.
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mapColumns matches a header row against the known aliases. The director
// name column is the only hard requirement.
func mapColumns(header []string) (*columnMap, error) {
	byAlias := make(map[string]string)
	for field, aliases := range headerAliases {
		for _, a := range aliases {
			byAlias[a] = field
		}
	}

	m := &columnMap{indices: make(map[string]int)}
	for i, cell := range header {
		key := normalizeHeader(cell)
		if key == "" {
			continue
		}
		field, ok := byAlias[key]
		if !ok {
			continue
		}
		if _, dup := m.indices[field]; !dup {
			m.indices[field] = i
		}
	}

	if _, ok := m.indices["director_name"]; !ok {
		return nil, fmt.Errorf("no director name column found in header %v", header)
	}
	return m, nil
}

// cell returns the value at the mapped column, or "" when the field is
// unmapped or the row is short.
func (m *columnMap) cell(row []string, field string) string {
	idx, ok := m.indices[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// lead builds a Lead from one data row. rowIndex is the absolute zero-based
// data row index (header excluded).
func (m *columnMap) lead(row []string, rowIndex int) *models.Lead {
	return &models.Lead{
		RowIndex:     rowIndex,
		EntityName:   m.cell(row, "entity_name"),
		TradingName:  m.cell(row, "trading_name"),
		Keyword:      m.cell(row, "keyword"),
		ContactEmail: m.cell(row, "contact_email"),
		ContactPhone: m.cell(row, "contact_phone"),
		Address:      m.cell(row, "address"),
		Suburb:       m.cell(row, "suburb"),
		City:         m.cell(row, "city"),
		Province:     m.cell(row, "province"),
		DirectorName: m.cell(row, "director_name"),
		DirectorCell: m.cell(row, "director_cell"),
	}
}
