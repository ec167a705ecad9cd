package directory

import (
	"fmt"
	"net/url"
	"strings"
)

// Query describes an OData row query. Zero-value fields are omitted from the
// query string.
type Query struct {
	Filter  string
	Select  []string
	OrderBy string
	Top     int
	Expand  string
}

// Encode renders the query as an OData query string (without leading '?').
func (q Query) Encode() string {
	params := url.Values{}
	if q.Filter != "" {
		params.Set("$filter", q.Filter)
	}
	if len(q.Select) > 0 {
		params.Set("$select", strings.Join(q.Select, ","))
	}
	if q.OrderBy != "" {
		params.Set("$orderby", q.OrderBy)
	}
	if q.Top > 0 {
		params.Set("$top", fmt.Sprintf("%d", q.Top))
	}
	if q.Expand != "" {
		params.Set("$expand", q.Expand)
	}
	return params.Encode()
}

// EscapeString quotes a string literal for use inside an OData filter.
// Single quotes are doubled per the OData escaping rules.
func EscapeString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Eq builds a column-equals-string filter clause.
func Eq(column, value string) string {
	return fmt.Sprintf("%s eq %s", column, EscapeString(value))
}

// EqInt builds a column-equals-integer filter clause.
func EqInt(column string, value int) string {
	return fmt.Sprintf("%s eq %d", column, value)
}

// And joins filter clauses with the OData and operator, skipping empties.
func And(clauses ...string) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " and ")
}
