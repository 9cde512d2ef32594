package fieldtype

import (
	"testing"
	"time"

	"github.com/expr-lang/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRule(t *testing.T) {
	cases := []struct {
		typ   string
		cfg   map[string]any
		rule  string
		valid bool
	}{
		{Number, nil, "value >= 0", true},
		{Number, nil, "value <= row.budget", true},
		{Number, nil, `value + "x"`, false},
		{Number, nil, "value * 2", false},
		{Text, nil, `value + "x"`, false},
		{Text, nil, "len(value) == 3", true},
		{Text, nil, `value startsWith "A"`, true},
		{Boolean, nil, "value", true},
		{Boolean, nil, "value > 1", false},
		{Select, nil, `value != "archived"`, true},
		{MultiSelect, nil, "len(value) <= 2", true},
		{Number, nil, "vaule >= 0", false},
		{Number, nil, "value > ", false},
	}
	for _, c := range cases {
		_, err := Resolve(c.typ, c.cfg).CompileRule(c.rule)
		if c.valid {
			assert.NoError(t, err, "%s: %s", c.typ, c.rule)
		} else {
			assert.Error(t, err, "%s: %s", c.typ, c.rule)
		}
	}
}

func TestRuleValue(t *testing.T) {
	assert.Equal(t, float64(12.5), Resolve(Number, nil).RuleValue("12.5"))
	assert.Equal(t, float64(3), Resolve(Rating, nil).RuleValue(3))
	assert.Equal(t, true, Resolve(Boolean, nil).RuleValue("true"))
	assert.Equal(t, "2024-03-01", Resolve(Date, nil).RuleValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "abc", Resolve(Text, nil).RuleValue("abc"))
}

func TestCompileRule_RunsAgainstCoercedValue(t *testing.T) {
	d := Resolve(Number, nil)
	prog, err := d.CompileRule("value >= 10")
	require.NoError(t, err)

	out, err := expr.Run(prog, map[string]any{"value": d.RuleValue("12"), "row": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}
