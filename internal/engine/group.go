package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/filter"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

// Rows without a value are grouped under this id.
const (
	EmptyGroupID    = "__empty__"
	EmptyGroupLabel = "Empty"
)

const defaultMaxOptions = 50

type GroupOptionsInput struct {
	ColumnName        string                `json:"columnName"`
	Filters           *metadata.FilterGroup `json:"filters"`
	AdditionalFilters *metadata.FilterGroup `json:"additionalFilters"`
	MaxOptions        int                   `json:"maxOptions"`
	IncludeEmpty      *bool                 `json:"includeEmpty"`
	MinCount          int                   `json:"minCount"`
}

type GroupOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type GroupOptionsResult struct {
	ColumnType string        `json:"columnType"`
	Options    []GroupOption `json:"options"`
	Total      int           `json:"total"`
	HasMore    bool          `json:"hasMore"`
}

// GroupOptions lists the distinct values of one column among the rows a view
// selects, with their row counts, most frequent first.
func (e *Engine) GroupOptions(ctx context.Context, viewID string, in GroupOptionsInput) (_ *GroupOptionsResult, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "query", "group_options")
	defer func() {
		span.SetStatus(statusOf(err))
		span.End()
	}()

	sc, err := e.scope(ctx)
	if err != nil {
		return nil, err
	}
	view, table, cols, err := e.view(ctx, sc, viewID)
	if err != nil {
		return nil, err
	}
	span.SetEntity(table.ID, "")

	col := metadata.ColumnByName(cols, in.ColumnName)
	if col == nil {
		col = metadata.ColumnsByID(cols)[in.ColumnName]
	}
	if col == nil {
		return nil, apperr.Invalid("columnName", "exists", fmt.Sprintf("column %q not found", in.ColumnName))
	}
	span.SetMetadata("column", col.Name)

	filters := in.Filters
	if filters == nil {
		filters = view.Filters
	}
	where, err := e.compiler.Where(filter.MergeFilters(filters, in.AdditionalFilters), metadata.ColumnsByID(cols))
	if err != nil {
		return nil, err
	}

	if in.MaxOptions <= 0 {
		in.MaxOptions = defaultMaxOptions
	}
	if in.MinCount <= 0 {
		in.MinCount = 1
	}
	includeEmpty := in.IncludeEmpty == nil || *in.IncludeEmpty

	var counts []bucket
	switch col.Type {
	case fieldtype.MultiSelect:
		counts, err = e.explode(ctx, table, col, where)
	case fieldtype.Relation:
		if isMultiRelation(col) {
			counts, err = e.explode(ctx, table, col, where)
		} else {
			counts, err = e.groupInSQL(ctx, table, col, where)
		}
	case fieldtype.Select, fieldtype.Text, fieldtype.LongText, fieldtype.Email, fieldtype.Phone,
		fieldtype.URL, fieldtype.Color, fieldtype.Number, fieldtype.Currency, fieldtype.Rating,
		fieldtype.Boolean, fieldtype.Switch, fieldtype.Date, fieldtype.DateTime:
		counts, err = e.groupInSQL(ctx, table, col, where)
	default:
		return nil, apperr.Invalid("columnName", "groupable", fmt.Sprintf("%s columns cannot be grouped", col.Type))
	}
	if err != nil {
		return nil, err
	}

	options := e.label(ctx, sc, col, mergeBuckets(counts), includeEmpty, in.MinCount)
	total := len(options)
	if total > in.MaxOptions {
		options = options[:in.MaxOptions]
	}
	return &GroupOptionsResult{
		ColumnType: col.Type,
		Options:    options,
		Total:      total,
		HasMore:    total > in.MaxOptions,
	}, nil
}

// bucket is one group key with its count. An empty key is the empty group.
type bucket struct {
	key   string
	count int64
}

// groupInSQL counts rows per value with GROUP BY. Dates bucket by day.
// minCount is applied by label, after NULL and '' are merged.
func (e *Engine) groupInSQL(ctx context.Context, table *metadata.Table, col *metadata.Column, where sq.Sqlizer) ([]bucket, error) {
	t, c, err := quotePair(table.PhysicalName, col.Name)
	if err != nil {
		return nil, err
	}
	key := c
	desc := col.Descriptor()
	switch {
	case desc.IsDocumentBacked:
		key = e.store.Dialect.TextExpr(c)
	case desc.Storage == fieldtype.StorageDate || desc.Storage == fieldtype.StorageTimestamp:
		key = e.store.Dialect.DayBucket(c)
	}

	qb := e.store.Builder().Select(key+" AS group_key", "COUNT(*) AS group_count").From(t).
		GroupBy(key).OrderBy("group_count DESC")
	if where != nil {
		qb = qb.Where(where)
	}
	rows, err := store.QuerySq(ctx, e.store.DB, qb)
	if err != nil {
		return nil, apperr.Storage("group rows", err)
	}
	out := make([]bucket, 0, len(rows))
	for _, row := range rows {
		v := row["group_key"]
		if v != nil && desc.Storage == fieldtype.StorageBoolean {
			v = fieldtype.Bool(v)
		}
		out = append(out, bucket{key: groupKey(v), count: store.AsInt64(row["group_count"])})
	}
	return out, nil
}

// explode counts each element of a multi-valued column separately. A row
// with no elements counts once toward the empty group.
func (e *Engine) explode(ctx context.Context, table *metadata.Table, col *metadata.Column, where sq.Sqlizer) ([]bucket, error) {
	t, c, err := quotePair(table.PhysicalName, col.Name)
	if err != nil {
		return nil, err
	}
	qb := e.store.Builder().Select(c + " AS value").From(t)
	if where != nil {
		qb = qb.Where(where)
	}
	rows, err := store.QuerySq(ctx, e.store.DB, qb)
	if err != nil {
		return nil, apperr.Storage("group rows", err)
	}

	counts := map[string]int64{}
	for _, row := range rows {
		var items []any
		if err := store.DecodeJSON(row["value"], &items); err != nil {
			e.logger.DebugContext(ctx, "skipping undecodable value", "column", col.Name, "error", err)
		}
		keys := lo.Uniq(lo.FilterMap(items, func(v any, _ int) (string, bool) {
			k := groupKey(v)
			return k, k != ""
		}))
		if len(keys) == 0 {
			counts[""]++
			continue
		}
		for _, k := range keys {
			counts[k]++
		}
	}
	return lo.MapToSlice(counts, func(k string, n int64) bucket { return bucket{key: k, count: n} }), nil
}

// mergeBuckets folds NULL and '' into one empty group.
func mergeBuckets(in []bucket) []bucket {
	var empty int64
	out := make([]bucket, 0, len(in))
	for _, b := range in {
		if b.key == "" {
			empty += b.count
			continue
		}
		out = append(out, b)
	}
	if empty > 0 {
		out = append(out, bucket{count: empty})
	}
	return out
}

// label turns buckets into options: relation ids show their target's display
// value, select values their option label.
func (e *Engine) label(ctx context.Context, sc *scope, col *metadata.Column, buckets []bucket, includeEmpty bool, minCount int) []GroupOption {
	var names map[string]any
	if col.Type == fieldtype.Relation {
		ids := lo.FilterMap(buckets, func(b bucket, _ int) (string, bool) { return b.key, b.key != "" })
		var err error
		if names, err = sc.pipeline.DisplayValues(ctx, col, ids); err != nil {
			e.logger.WarnContext(ctx, "relation labels unavailable", "column", col.Name, "error", err)
			names = nil
		}
	}
	cfg := col.Descriptor().Config()

	options := make([]GroupOption, 0, len(buckets))
	for _, b := range buckets {
		if b.count < int64(minCount) {
			continue
		}
		if b.key == "" {
			if includeEmpty {
				options = append(options, GroupOption{ID: EmptyGroupID, Label: EmptyGroupLabel, Count: b.count})
			}
			continue
		}
		opt := GroupOption{ID: b.key, Label: b.key, Count: b.count}
		switch col.Type {
		case fieldtype.Relation:
			if v, ok := names[b.key]; ok && v != nil {
				opt.Label = fmt.Sprint(v)
			}
		case fieldtype.Select, fieldtype.MultiSelect:
			opt.Label = fieldtype.OptionLabel(cfg, b.key)
		case fieldtype.Boolean, fieldtype.Switch:
			opt.Label = lo.Ternary(b.key == "true", "Yes", "No")
		}
		options = append(options, opt)
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].Count != options[j].Count {
			return options[i].Count > options[j].Count
		}
		return options[i].ID < options[j].ID
	})
	return options
}

// groupKey renders a grouped value as an option id.
func groupKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(fieldtype.DateLayout)
	case map[string]any:
		if id, ok := t["id"]; ok {
			return groupKey(id)
		}
	}
	return fmt.Sprint(v)
}

func isMultiRelation(c *metadata.Column) bool {
	cfg, err := c.RelationConfig()
	return err == nil && cfg.AllowMultiple
}

func quotePair(table, column string) (string, string, error) {
	t, err := ident.QuoteTable(table)
	if err != nil {
		return "", "", apperr.Storage("quote table", err)
	}
	c, err := ident.QuoteColumn(column)
	if err != nil {
		return "", "", apperr.Storage("quote column", err)
	}
	return t, c, nil
}
