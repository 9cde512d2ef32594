package formula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func eval(t *testing.T, src string, fields map[string]any) any {
	t.Helper()
	p, err := Compile(src)
	require.NoError(t, err)
	v, err := p.Eval(Env{Fields: fields, Now: fixedNow})
	require.NoError(t, err)
	return v
}

func TestLexer_Tokens(t *testing.T) {
	tokens, err := NewLexer(`IF({Unit Price} >= 1.5 && qty <> 0, 'it''s', "a\"b")`).Tokenize()
	require.NoError(t, err)

	var types []TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []TokenType{IDENT, LPAREN, FIELD, GTE, NUMBER, AND, IDENT, NEQ, NUMBER, COMMA, STRING, COMMA, STRING, RPAREN, EOF}, types)
	assert.Equal(t, "Unit Price", tokens[2].Value)
	assert.Equal(t, "it's", tokens[10].Value)
	assert.Equal(t, `a"b`, tokens[12].Value)
}

func TestLexer_RejectsStrayCharacters(t *testing.T) {
	_, err := NewLexer("a ; b").Tokenize()
	assert.Error(t, err)
	_, err = NewLexer("'open").Tokenize()
	assert.Error(t, err)
}

func TestEval_Arithmetic(t *testing.T) {
	fields := map[string]any{"price": float64(4), "qty": int64(3)}
	assert.Equal(t, float64(12), eval(t, "price * qty", fields))
	assert.Equal(t, float64(14), eval(t, "2 + price * qty", fields))
	assert.Equal(t, float64(18), eval(t, "(2 + price) * qty", fields))
	assert.Equal(t, float64(-1), eval(t, "-qty + 2", fields))
	assert.Equal(t, float64(1), eval(t, "10 % 3", nil))
}

func TestEval_MissingAndNullFieldsReadAsZero(t *testing.T) {
	assert.Equal(t, float64(5), eval(t, "missing + 5", nil))
	assert.Equal(t, float64(5), eval(t, "{gone} + 5", map[string]any{"gone": nil}))
}

func TestEval_BooleansReadAsNumbers(t *testing.T) {
	assert.Equal(t, float64(2), eval(t, "done + done", map[string]any{"done": true}))
}

func TestEval_StringConcatenation(t *testing.T) {
	assert.Equal(t, "Hello Ada", eval(t, `"Hello " + name`, map[string]any{"name": "Ada"}))
	assert.Equal(t, "n=3", eval(t, `"n=" + n`, map[string]any{"n": float64(3)}))
}

func TestEval_AmpersandConcatenates(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", eval(t, `first & " " & last`, map[string]any{"first": "Ada", "last": "Lovelace"}))
	assert.Equal(t, "34", eval(t, "3 & 4", nil))
	assert.Equal(t, "x2", eval(t, `"x" & (1 + 1)`, nil))
}

func TestReferences(t *testing.T) {
	refs, err := References(`IF({Unit Price} > 0, {Unit Price} * qty, ROUND(tax)) & label`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Unit Price", "qty", "tax", "label"}, refs)

	_, err = References("a +")
	assert.Error(t, err)
}

func TestEval_Comparisons(t *testing.T) {
	assert.Equal(t, true, eval(t, `status = "open"`, map[string]any{"status": "open"}))
	assert.Equal(t, true, eval(t, `"10" == 10`, nil))
	assert.Equal(t, true, eval(t, "a < b AND NOT (a > b)", map[string]any{"a": 1.0, "b": 2.0}))
	assert.Equal(t, true, eval(t, "a != b || false", map[string]any{"a": "x", "b": "y"}))
}

func TestEval_Functions(t *testing.T) {
	assert.Equal(t, float64(1), eval(t, "MIN(3, 1, 2)", nil))
	assert.Equal(t, float64(3), eval(t, "max(3, 1, 2)", nil))
	assert.Equal(t, float64(4), eval(t, "ABS(-4)", nil))
	assert.Equal(t, float64(3), eval(t, "ROUND(2.5)", nil))
	assert.Equal(t, 2.35, eval(t, "ROUND(2.346, 2)", nil))
	assert.Equal(t, float64(2), eval(t, "FLOOR(2.9)", nil))
	assert.Equal(t, float64(3), eval(t, "CEIL(2.1)", nil))
	assert.Equal(t, "big", eval(t, `IF(x > 10, "big", "small")`, map[string]any{"x": 11.0}))
	assert.Nil(t, eval(t, `IF(x > 10, "big")`, map[string]any{"x": 1.0}))
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), eval(t, "TODAY()", nil))
	assert.Equal(t, float64(9), eval(t, "DAYS_BETWEEN(start, TODAY())", map[string]any{"start": "2024-03-01"}))
	assert.Equal(t, float64(-9), eval(t, "DAYS_BETWEEN(TODAY(), start)", map[string]any{"start": "2024-03-01"}))
}

func TestEval_IfIsLazy(t *testing.T) {
	assert.Equal(t, float64(0), eval(t, "IF(d = 0, 0, 10 / d)", map[string]any{"d": 0.0}))
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"(1 + 2",
		"UNKNOWN(1)",
		"ROUND()",
		"IF(1)",
		"TODAY(1)",
		"1 2",
		"os.Exit(1)",
	} {
		_, err := Parse(src)
		assert.Error(t, err, src)
	}
}

func TestEval_RuntimeErrors(t *testing.T) {
	p, err := Compile("a / b")
	require.NoError(t, err)
	_, err = p.Eval(Env{Fields: map[string]any{"a": 1.0, "b": 0.0}})
	assert.ErrorIs(t, err, ErrDivisionByZero)

	p, err = Compile(`"abc" * 2`)
	require.NoError(t, err)
	_, err = p.Eval(Env{})
	assert.Error(t, err)
}

func TestEvaluate_CoercesOrReturnsNil(t *testing.T) {
	env := Env{Fields: map[string]any{"price": 10.0, "qty": 3.0, "name": "Acme"}, Now: fixedNow}

	assert.Equal(t, float64(30), Evaluate("price * qty", env, "number"))
	assert.Equal(t, 3.33, Evaluate("price / qty", env, "currency"))
	assert.Equal(t, "30", Evaluate("price * qty", env, "text"))
	assert.Equal(t, true, Evaluate("price", env, "boolean"))
	assert.Equal(t, "2024-03-10", Evaluate("TODAY()", env, "date"))
	assert.Equal(t, "Acme", Evaluate("name", env, ""))

	assert.Nil(t, Evaluate("price / 0", env, "number"))
	assert.Nil(t, Evaluate("name", env, "number"))
	assert.Nil(t, Evaluate("price +", env, "number"))
}
