package query

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Apply runs params against db and returns one page of T. Facets are counted
// per FacetFields value with every other filter applied.
func Apply[T any](db *gorm.DB, params Params, cfg Config) (*Result[T], error) {
	q := filtered(db, params, cfg, "")

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	facets, err := Facets(db, params, cfg)
	if err != nil {
		return nil, err
	}

	q = applySort(q, params, cfg)
	if !params.NoPagination {
		q = q.Offset((params.Page - 1) * params.PageSize).Limit(params.PageSize)
	}

	var data []T
	if err := q.Find(&data).Error; err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	page := Pagination{Page: params.Page, PageSize: params.PageSize, Total: int(total), TotalPages: 1}
	if params.NoPagination {
		page.PageSize = int(total)
	} else if total > 0 {
		page.TotalPages = (int(total) + params.PageSize - 1) / params.PageSize
	}
	return &Result[T]{Data: data, Pagination: page, Facets: facets}, nil
}

// Facets counts rows per value of each facet field. The filter on the facet
// field itself is left out so every value keeps its count.
func Facets(db *gorm.DB, params Params, cfg Config) (map[string]map[string]int, error) {
	fields := cfg.names(faceted)
	if len(fields) == 0 {
		return nil, nil
	}
	type bucket struct {
		Value string
		Count int
	}
	facets := make(map[string]map[string]int, len(fields))
	for _, field := range fields {
		column := cfg.Column(field)
		var buckets []bucket
		err := filtered(db, params, cfg, column).
			Select(fmt.Sprintf("%s AS value, COUNT(*) AS count", column)).
			Group(column).
			Scan(&buckets).Error
		if err != nil {
			return nil, fmt.Errorf("facet %s: %w", field, err)
		}
		counts := make(map[string]int, len(buckets))
		for _, b := range buckets {
			counts[b.Value] = b.Count
		}
		facets[field] = counts
	}
	return facets, nil
}

// filtered applies search and every condition except those on skipColumn.
func filtered(db *gorm.DB, params Params, cfg Config, skipColumn string) *gorm.DB {
	q := db.Session(&gorm.Session{})
	if params.Search != "" {
		q = applySearch(q, params.Search, cfg)
	}
	for _, cond := range params.Conditions {
		if skipColumn != "" && cfg.Column(cond.Field) == skipColumn {
			continue
		}
		q = applyCondition(q, cond, cfg)
	}
	return q
}

// applySearch matches search case-insensitively against any searched field.
func applySearch(db *gorm.DB, search string, cfg Config) *gorm.DB {
	fields := cfg.names(searched)
	if len(fields) == 0 {
		return db
	}
	pattern := "%" + strings.ToLower(search) + "%"
	conds := make([]string, len(fields))
	args := make([]interface{}, len(fields))
	for i, f := range fields {
		conds[i] = fmt.Sprintf("LOWER(%s) LIKE ?", cfg.Column(f))
		args[i] = pattern
	}
	return db.Where(strings.Join(conds, " OR "), args...)
}

func applyCondition(db *gorm.DB, cond Condition, cfg Config) *gorm.DB {
	col := cfg.Column(cond.Field)
	list := cond.Values
	if len(list) == 0 && (cond.Operator == OpIn || cond.Operator == OpNin) && cond.Value != "" {
		list = strings.Split(cond.Value, ",")
	}

	switch cond.Operator {
	case OpEq, OpIn:
		if len(list) > 0 {
			return db.Where(col+" IN ?", list)
		}
	case OpNeq, OpNin:
		if len(list) > 0 {
			return db.Where(col+" NOT IN ?", list)
		}
	case OpLike:
		return db.Where(col+" LIKE ?", "%"+cond.Value+"%")
	case OpIlike:
		return db.Where("LOWER("+col+") LIKE ?", "%"+strings.ToLower(cond.Value)+"%")
	case OpNull:
		return db.Where(col + " IS NULL")
	case OpNotNull:
		return db.Where(col + " IS NOT NULL")
	}
	op, ok := comparisons[cond.Operator]
	if !ok {
		return db
	}
	return db.Where(col+" "+op+" ?", cond.Value)
}

func applySort(db *gorm.DB, params Params, cfg Config) *gorm.DB {
	if params.SortBy != "" && cfg.allows(params.SortBy, sortable) {
		order := cfg.Column(params.SortBy)
		if params.SortOrder == "desc" {
			order += " DESC"
		}
		return db.Order(order)
	}
	if cfg.DefaultSort != "" {
		return db.Order(cfg.DefaultSort)
	}
	return db
}
