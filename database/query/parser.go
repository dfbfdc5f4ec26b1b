package query

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Parse extracts list parameters from URL query values. Filters use the
// PostgREST form field=op.value and are accepted only for fields listed in
// cfg as filterable, either as their own key or inside filter=a=eq.x&b=gt.1.
func Parse(q url.Values, cfg Config) Params {
	params := Params{
		Page:      intOrDefault(q.Get("page"), 1),
		PageSize:  DefaultPageSize,
		SortBy:    q.Get("sortBy"),
		SortOrder: normalizeSortOrder(q.Get("order")),
		Search:    strings.TrimSpace(q.Get("search")),
	}

	for _, key := range []string{"limit", "pageSize"} {
		switch v := q.Get(key); v {
		case "":
		case "-1", "all":
			params.NoPagination = true
		default:
			params.PageSize = clamp(intOrDefault(v, DefaultPageSize), 1, MaxPageSize)
		}
	}

	if filter := q.Get("filter"); filter != "" {
		for _, part := range strings.Split(filter, "&") {
			field, value, ok := strings.Cut(part, "=")
			if ok && cfg.allows(field, filterable) {
				params.Conditions = append(params.Conditions, parseCondition(field, value))
			}
		}
	}
	for _, field := range cfg.names(filterable) {
		if v := q.Get(field); v != "" {
			params.Conditions = append(params.Conditions, parseCondition(field, v))
		}
	}
	return params
}

// parseCondition parses op.value. A value without a known operator prefix is
// an equality match on the whole value.
func parseCondition(field, value string) Condition {
	switch value {
	case "is.null":
		return Condition{Field: field, Operator: OpNull}
	case "not.is.null":
		return Condition{Field: field, Operator: OpNotNull}
	}

	prefix, raw, ok := strings.Cut(value, ".")
	op := Operator(prefix)
	if !ok || !op.IsValid() {
		return Condition{Field: field, Operator: OpEq, Value: value}
	}
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		return Condition{Field: field, Operator: op, Values: splitList(raw[1 : len(raw)-1])}
	}
	return Condition{Field: field, Operator: op, Value: unescape(raw)}
}

// splitList splits a comma separated list honouring backslash escapes.
func splitList(inner string) []string {
	var values []string
	var cur strings.Builder
	escaped := false
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			values = append(values, s)
		}
		cur.Reset()
	}
	for _, ch := range inner {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == ',':
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	flush()
	return values
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, ch := range s {
		if !escaped && ch == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(ch)
	}
	return b.String()
}

func intOrDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func clamp(v, lower, upper int) int {
	return min(max(v, lower), upper)
}

func normalizeSortOrder(s string) string {
	if strings.EqualFold(s, "desc") {
		return "desc"
	}
	return "asc"
}
