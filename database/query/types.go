// Package query parses PostgREST-style list parameters and applies them to
// GORM queries with pagination, sorting, filtering and facet counts.
package query

import "sort"

// Operator is a filter operator in PostgREST form.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpNin     Operator = "nin"
	OpLike    Operator = "like"
	OpIlike   Operator = "ilike"
	OpNull    Operator = "null"
	OpNotNull Operator = "notNull"
)

// comparisons maps the scalar operators to their SQL form.
var comparisons = map[Operator]string{
	OpEq:  "=",
	OpNeq: "!=",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// IsValid reports whether the operator is known.
func (o Operator) IsValid() bool {
	if _, ok := comparisons[o]; ok {
		return true
	}
	switch o {
	case OpIn, OpNin, OpLike, OpIlike, OpNull, OpNotNull:
		return true
	}
	return false
}

// Condition is one filter. Values is set for list forms such as in.(a,b).
type Condition struct {
	Field    string
	Operator Operator
	Value    string
	Values   []string
}

// Params holds parsed list parameters.
type Params struct {
	Page         int
	PageSize     int
	NoPagination bool
	SortBy       string
	SortOrder    string
	Search       string
	Conditions   []Condition
}

// Pagination describes the page returned.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Result is one page of rows with optional facet counts.
type Result[T any] struct {
	Data       []T                       `json:"data"`
	Pagination Pagination                `json:"pagination"`
	Facets     map[string]map[string]int `json:"facets,omitempty"`
}

// Field is what a listing allows on one public field name.
type Field struct {
	// Column is the SQL column; empty means the public name.
	Column string
	Filter bool
	Sort   bool
	Search bool
	Facet  bool
}

// Config is the query surface of one listable resource. Names absent from
// Fields are ignored wherever they appear in a request.
type Config struct {
	Fields      map[string]Field
	DefaultSort string
}

// Column maps a public field name to its column.
func (c Config) Column(name string) string {
	if f, ok := c.Fields[name]; ok && f.Column != "" {
		return f.Column
	}
	return name
}

func (c Config) allows(name string, pick func(Field) bool) bool {
	f, ok := c.Fields[name]
	return ok && pick(f)
}

// names returns the public names pick accepts, sorted.
func (c Config) names(pick func(Field) bool) []string {
	var out []string
	for name, f := range c.Fields {
		if pick(f) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func filterable(f Field) bool { return f.Filter }
func sortable(f Field) bool   { return f.Sort }
func searched(f Field) bool   { return f.Search }
func faceted(f Field) bool    { return f.Facet }
