package formula

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"dyntables/internal/fieldtype"
)

var ErrDivisionByZero = errors.New("division by zero")

// Env is everything a formula can see: the row's fields and the clock.
type Env struct {
	Fields map[string]any
	Now    time.Time
}

// Program is a parsed formula ready to evaluate against many rows.
type Program struct {
	src  string
	root Node
}

// Compile parses src once for repeated evaluation.
func Compile(src string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, err)
	}
	return &Program{src: src, root: root}, nil
}

func (p *Program) String() string {
	return p.src
}

// Eval evaluates the program against env.
func (p *Program) Eval(env Env) (any, error) {
	if env.Now.IsZero() {
		env.Now = time.Now()
	}
	e := &evaluator{env: env}
	v, err := e.eval(p.root)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", p.src, err)
	}
	return v, nil
}

// Evaluate parses and evaluates src, coercing the result to resultType. Any
// failure yields nil.
func Evaluate(src string, env Env, resultType string) any {
	p, err := Compile(src)
	if err != nil {
		return nil
	}
	v, err := p.Eval(env)
	if err != nil {
		return nil
	}
	return Coerce(v, resultType)
}

type evaluator struct {
	env Env
}

func (e *evaluator) eval(n Node) (any, error) {
	switch n := n.(type) {
	case NumberLit:
		return n.Value, nil
	case StringLit:
		return n.Value, nil
	case BoolLit:
		return n.Value, nil
	case NullLit:
		return nil, nil
	case FieldRef:
		return fieldValue(e.env.Fields[n.Name]), nil
	case Unary:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		if n.Op == NOT {
			return !truthy(x), nil
		}
		f, err := toNumber(x)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case Binary:
		return e.binary(n)
	case Call:
		return functions[n.Name].call(e, n.Args)
	}
	return nil, fmt.Errorf("unsupported expression %T", n)
}

func (e *evaluator) binary(n Binary) (any, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case AND:
		if !truthy(left) {
			return false, nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case OR:
		if truthy(left) {
			return true, nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	right, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case EQ, NEQ, LT, LTE, GT, GTE:
		c := compare(left, right)
		switch n.Op {
		case EQ:
			return c == 0, nil
		case NEQ:
			return c != 0, nil
		case LT:
			return c < 0, nil
		case LTE:
			return c <= 0, nil
		case GT:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case PLUS:
		if isText(left) || isText(right) {
			return toString(left) + toString(right), nil
		}
	case CONCAT:
		return toString(left) + toString(right), nil
	}

	l, err := toNumber(left)
	if err != nil {
		return nil, err
	}
	r, err := toNumber(right)
	if err != nil {
		return nil, err
	}

	var out float64
	switch n.Op {
	case PLUS:
		out = l + r
	case MINUS:
		out = l - r
	case STAR:
		out = l * r
	case SLASH:
		if r == 0 {
			return nil, ErrDivisionByZero
		}
		out = l / r
	case PERCENT:
		if r == 0 {
			return nil, ErrDivisionByZero
		}
		out = math.Mod(l, r)
	default:
		return nil, fmt.Errorf("unsupported operator %d", n.Op)
	}
	return finite(out)
}

// fieldValue maps a row value into the formula's value space. Missing and
// null fields read as 0; booleans read as 1 or 0.
func fieldValue(v any) any {
	switch t := v.(type) {
	case nil:
		return float64(0)
	case bool:
		if t {
			return float64(1)
		}
		return float64(0)
	case float64, string, time.Time:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func isText(v any) bool {
	switch v.(type) {
	case string, time.Time:
		return true
	}
	return false
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Equal(t.Truncate(24 * time.Hour)) {
			return t.Format(fieldtype.DateLayout)
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func toTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	if t, ok := fieldtype.ParseDateTime(v); ok {
		return t, nil
	}
	if t, ok := fieldtype.ParseDate(v); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%v is not a date", v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

// compare orders two values numerically when both read as numbers and as
// text otherwise.
func compare(a, b any) int {
	if x, err := toNumber(a); err == nil {
		if y, err := toNumber(b); err == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("result is not a finite number")
	}
	return f, nil
}

// Coerce converts an evaluation result to a column result type. Values that
// cannot be represented become nil.
func Coerce(v any, resultType string) any {
	if v == nil {
		return nil
	}
	switch resultType {
	case fieldtype.Number:
		f, err := toNumber(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case fieldtype.Currency:
		f, err := toNumber(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return math.Round(f*100) / 100
	case fieldtype.Text, fieldtype.LongText:
		return toString(v)
	case fieldtype.Date:
		t, err := toTime(v)
		if err != nil {
			return nil
		}
		return t.Format(fieldtype.DateLayout)
	case fieldtype.Boolean:
		return truthy(v)
	}
	if t, ok := v.(time.Time); ok {
		return toString(t)
	}
	return v
}
