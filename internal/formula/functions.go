package formula

import (
	"math"
	"time"
)

type funcSpec struct {
	minArgs int
	maxArgs int // -1 for variadic
	call    func(e *evaluator, args []Node) (any, error)
}

// functions is the whole library a formula can call.
var functions map[string]funcSpec

func init() {
	functions = map[string]funcSpec{
		"TODAY":        {0, 0, fnToday},
		"DAYS_BETWEEN": {2, 2, fnDaysBetween},
		"MIN":          {1, -1, numeric(minOf)},
		"MAX":          {1, -1, numeric(maxOf)},
		"ABS":          {1, 1, numeric(func(xs []float64) float64 { return math.Abs(xs[0]) })},
		"FLOOR":        {1, 1, numeric(func(xs []float64) float64 { return math.Floor(xs[0]) })},
		"CEIL":         {1, 1, numeric(func(xs []float64) float64 { return math.Ceil(xs[0]) })},
		"ROUND":        {1, 2, numeric(round)},
		"IF":           {2, 3, fnIf},
	}
}

func fnToday(e *evaluator, _ []Node) (any, error) {
	y, m, d := e.env.Now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// fnDaysBetween returns the whole days from the first date to the second.
func fnDaysBetween(e *evaluator, args []Node) (any, error) {
	vals, err := e.evalAll(args)
	if err != nil {
		return nil, err
	}
	from, err := toTime(vals[0])
	if err != nil {
		return nil, err
	}
	to, err := toTime(vals[1])
	if err != nil {
		return nil, err
	}
	return math.Floor(to.Sub(from).Hours() / 24), nil
}

// fnIf evaluates only the branch it returns.
func fnIf(e *evaluator, args []Node) (any, error) {
	cond, err := e.eval(args[0])
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return e.eval(args[1])
	}
	if len(args) == 3 {
		return e.eval(args[2])
	}
	return nil, nil
}

func numeric(fn func([]float64) float64) func(*evaluator, []Node) (any, error) {
	return func(e *evaluator, args []Node) (any, error) {
		vals, err := e.evalAll(args)
		if err != nil {
			return nil, err
		}
		xs := make([]float64, len(vals))
		for i, v := range vals {
			if xs[i], err = toNumber(v); err != nil {
				return nil, err
			}
		}
		return finite(fn(xs))
	}
}

func (e *evaluator) evalAll(args []Node) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := e.eval(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

// round rounds half away from zero to an optional number of digits.
func round(xs []float64) float64 {
	if len(xs) == 1 {
		return math.Round(xs[0])
	}
	p := math.Pow(10, math.Trunc(xs[1]))
	return math.Round(xs[0]*p) / p
}
