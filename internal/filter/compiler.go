// Package filter compiles view filter trees and sort lists into squirrel
// WHERE and ORDER BY fragments over a dynamic table.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

const (
	OpEquals     = "equals"
	OpNotEquals  = "notEquals"
	OpContains   = "contains"
	OpNotContain = "notContains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpIsEmpty    = "isEmpty"
	OpIsNotEmpty = "isNotEmpty"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpBetween    = "between"
	OpIn         = "in"
	OpNotIn      = "notIn"
)

var operators = map[string]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpNotContain: true,
	OpStartsWith: true, OpEndsWith: true, OpIsEmpty: true, OpIsNotEmpty: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpBetween: true, OpIn: true, OpNotIn: true,
}

// IsOperator reports whether op is a supported condition operator.
func IsOperator(op string) bool {
	return operators[op]
}

// DefaultOrderBy applies when a view has no usable sorts.
var DefaultOrderBy = []string{ident.Quote(ident.ColCreatedAt) + " DESC"}

// Input is everything the compiler needs for one query.
type Input struct {
	Filters    *metadata.FilterGroup
	Additional *metadata.FilterGroup
	Sorts      []metadata.SortConfig
	Columns    map[string]*metadata.Column
}

// Result holds the compiled fragments. Where is nil when nothing filters.
type Result struct {
	Where   sq.Sqlizer
	OrderBy []string
}

// MergeFilters ANDs additional on top of base. Both groups are kept as
// children of a new group, in order, without flattening.
func MergeFilters(base, additional *metadata.FilterGroup) *metadata.FilterGroup {
	switch {
	case base == nil:
		return additional
	case additional == nil:
		return base
	}
	return metadata.NewGroup(metadata.GroupAnd, metadata.Sub(base), metadata.Sub(additional))
}

// Compiler turns filter trees into dialect-specific SQL.
type Compiler struct {
	dialect store.Dialect
}

func NewCompiler(d store.Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Compile merges the filters and compiles them together with the sorts.
func (c *Compiler) Compile(in Input) (Result, error) {
	where, err := c.Where(MergeFilters(in.Filters, in.Additional), in.Columns)
	if err != nil {
		return Result{}, err
	}
	return Result{Where: where, OrderBy: c.OrderBy(in.Sorts, in.Columns)}, nil
}

// Where compiles a filter group. Conditions on unknown or virtual columns are
// dropped, as are groups left empty.
func (c *Compiler) Where(g *metadata.FilterGroup, cols map[string]*metadata.Column) (sq.Sqlizer, error) {
	if g == nil {
		return nil, nil
	}
	return c.group(g, cols)
}

func (c *Compiler) group(g *metadata.FilterGroup, cols map[string]*metadata.Column) (sq.Sqlizer, error) {
	var parts []sq.Sqlizer
	for _, item := range g.Conditions {
		var (
			part sq.Sqlizer
			err  error
		)
		switch {
		case item.Group != nil:
			part, err = c.group(item.Group, cols)
		case item.Condition != nil:
			part, err = c.condition(item.Condition, cols)
		}
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, part)
		}
	}

	switch {
	case len(parts) == 0:
		return nil, nil
	case len(parts) == 1:
		return parts[0], nil
	case g.IsOr():
		return sq.Or(parts), nil
	default:
		return sq.And(parts), nil
	}
}

// columnRef is a resolved column reference.
type columnRef struct {
	id       string
	expr     string
	desc     fieldtype.Descriptor
	textual  bool
	document bool
}

// resolve maps a column id to a reference. System columns may be named directly.
func (c *Compiler) resolve(columnID string, cols map[string]*metadata.Column) (columnRef, bool) {
	if col, ok := cols[columnID]; ok {
		return c.refFor(col)
	}
	if ident.IsSystemColumn(columnID) {
		r := columnRef{id: columnID, expr: ident.Quote(columnID)}
		switch columnID {
		case ident.ColCreatedAt, ident.ColUpdatedAt:
			r.desc = fieldtype.Resolve(fieldtype.DateTime, nil)
		case ident.ColCreatedBy:
			r.desc = fieldtype.Resolve(fieldtype.Text, nil)
			r.textual = true
		default:
			// ids are UUIDs on postgres, so pattern operators cast them
			r.desc = fieldtype.Resolve(fieldtype.Text, nil)
		}
		return r, true
	}
	return columnRef{}, false
}

// refFor resolves a stored column. Document-backed columns are read through
// the dialect's scalar text accessor.
func (c *Compiler) refFor(col *metadata.Column) (columnRef, bool) {
	desc := col.Descriptor()
	if desc.Virtual || !ident.IsValidColumnName(col.Name) {
		return columnRef{}, false
	}
	r := columnRef{id: col.ID, expr: ident.Quote(col.Name), desc: desc}
	if desc.IsDocumentBacked {
		r.expr = c.dialect.TextExpr(r.expr)
		r.document = true
	}
	r.textual = desc.IsTextual()
	return r, true
}

// Expr returns the SQL expression used to read col, or false when the column
// has no physical storage.
func (c *Compiler) Expr(col *metadata.Column) (string, bool) {
	r, ok := c.refFor(col)
	return r.expr, ok
}

func (c *Compiler) condition(cond *metadata.FilterCondition, cols map[string]*metadata.Column) (sq.Sqlizer, error) {
	r, ok := c.resolve(cond.ColumnID, cols)
	if !ok {
		return nil, nil
	}
	value := unwrapRelation(cond.Value)

	switch cond.Operator {
	case OpEquals:
		if value == nil {
			return sq.Eq{r.expr: nil}, nil
		}
		v, err := c.bind(r, value)
		if err != nil {
			return nil, err
		}
		return sq.Eq{r.expr: v}, nil

	case OpNotEquals:
		if value == nil {
			return sq.NotEq{r.expr: nil}, nil
		}
		v, err := c.bind(r, value)
		if err != nil {
			return nil, err
		}
		return sq.NotEq{r.expr: v}, nil

	case OpContains, OpNotContain, OpStartsWith, OpEndsWith:
		if value == nil {
			return nil, nil
		}
		text := escapeLike(stringify(value))
		var pattern string
		switch cond.Operator {
		case OpStartsWith:
			pattern = text + "%"
		case OpEndsWith:
			pattern = "%" + text
		default:
			pattern = "%" + text + "%"
		}
		expr := r.expr
		if !r.textual {
			expr = store.CastText(expr)
		}
		like := c.dialect.ILike(expr, pattern)
		if cond.Operator == OpNotContain {
			return not{like}, nil
		}
		return like, nil

	case OpIsEmpty:
		return c.empty(r), nil

	case OpIsNotEmpty:
		return not{c.empty(r)}, nil

	case OpGt, OpGte, OpLt, OpLte:
		if value == nil {
			return nil, nil
		}
		v, err := c.bind(r, value)
		if err != nil {
			return nil, err
		}
		switch cond.Operator {
		case OpGt:
			return sq.Gt{r.expr: v}, nil
		case OpGte:
			return sq.GtOrEq{r.expr: v}, nil
		case OpLt:
			return sq.Lt{r.expr: v}, nil
		default:
			return sq.LtOrEq{r.expr: v}, nil
		}

	case OpBetween:
		pair, ok := value.([]any)
		if !ok || len(pair) != 2 || pair[0] == nil || pair[1] == nil {
			return nil, nil
		}
		lo, err := c.bind(r, unwrapRelation(pair[0]))
		if err != nil {
			return nil, err
		}
		hi, err := c.bind(r, unwrapRelation(pair[1]))
		if err != nil {
			return nil, err
		}
		return sq.And{sq.GtOrEq{r.expr: lo}, sq.LtOrEq{r.expr: hi}}, nil

	case OpIn, OpNotIn:
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return nil, nil
		}
		vals := make([]any, 0, len(list))
		for _, item := range list {
			v, err := c.bind(r, unwrapRelation(item))
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		if cond.Operator == OpNotIn {
			return sq.NotEq{r.expr: vals}, nil
		}
		return sq.Eq{r.expr: vals}, nil
	}
	return nil, nil
}

// empty treats NULL and '' alike on textual columns, and [] on documents.
func (c *Compiler) empty(r columnRef) sq.Sqlizer {
	switch {
	case r.document:
		return sq.Expr(fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '' OR %[1]s = '[]')", r.expr))
	case r.textual:
		return sq.Expr(fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '')", r.expr))
	}
	return sq.Expr(r.expr + " IS NULL")
}

// bind converts a filter value into a parameter comparable with r.
func (c *Compiler) bind(r columnRef, v any) (any, error) {
	if r.textual {
		return stringify(v), nil
	}
	if r.desc.Storage == fieldtype.StorageBoolean {
		return fieldtype.Bool(v), nil
	}
	out, err := store.BindValue(c.dialect, r.desc, v)
	if err != nil {
		return nil, apperr.Invalid(r.id, "type", fmt.Sprintf("filter value %v does not match column type", v))
	}
	return out, nil
}

// OrderBy compiles sorts, dropping unknown columns. With no usable sort the
// rows come newest first.
func (c *Compiler) OrderBy(sorts []metadata.SortConfig, cols map[string]*metadata.Column) []string {
	var out []string
	for _, s := range sorts {
		r, ok := c.resolve(s.ColumnID, cols)
		if !ok {
			continue
		}
		dir := "ASC"
		if s.Desc() {
			dir = "DESC"
		}
		out = append(out, r.expr+" "+dir)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultOrderBy...)
	}
	return out
}

type not struct {
	inner sq.Sqlizer
}

func (n not) ToSql() (string, []any, error) {
	s, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

// unwrapRelation reduces an enriched relation value to its id.
func unwrapRelation(v any) any {
	if m, ok := v.(map[string]any); ok {
		if id, ok := m["relatedId"]; ok {
			return id
		}
	}
	return v
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool, float64, float32, int, int64, int32:
		return fmt.Sprint(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
