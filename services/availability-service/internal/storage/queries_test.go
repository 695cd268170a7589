package storage

import (
	"regexp"
	"strings"
	"testing"
)

var sqlWords = map[string]bool{
	"select": true, "from": true, "where": true, "order": true, "by": true,
	"coalesce": true, "any": true, "text": true, "asc": true, "desc": true,
}

var identifier = regexp.MustCompile(`[a-z_][a-z0-9_]*`)

// Child-table queries may only touch the columns the schema declares.
func TestChildQueriesUseDeclaredColumns(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		table   string
		columns []string
	}{
		{"services", bookingServicesQuery, "booking_services", []string{"booking_id", "staff_id", "duration_minutes", "buffer_minutes"}},
		{"resources", bookingResourcesQuery, "booking_resources", []string{"booking_id", "resource_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			declared := map[string]bool{tt.table: true}
			for _, c := range tt.columns {
				declared[c] = true
			}
			// Drop string literals before scanning for identifiers.
			q := regexp.MustCompile(`'[^']*'`).ReplaceAllString(strings.ToLower(tt.query), "")
			for _, id := range identifier.FindAllString(q, -1) {
				if !sqlWords[id] && !declared[id] {
					t.Fatalf("query references undeclared identifier %q", id)
				}
			}
		})
	}
}
