// Package formula implements the expression language of formula columns: a
// lexer, a recursive-descent parser and an evaluator that can only reach the
// row values it is given and a fixed function library.
package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type TokenType int

const (
	EOF TokenType = iota
	INVALID
	NUMBER
	STRING
	IDENT
	FIELD // {field name}
	LPAREN
	RPAREN
	COMMA
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	CONCAT
	EQ
	NEQ
	LT
	LTE
	GT
	GTE
	AND
	OR
	NOT
	TRUE
	FALSE
	NULL
)

var keywords = map[string]TokenType{
	"AND":   AND,
	"OR":    OR,
	"NOT":   NOT,
	"TRUE":  TRUE,
	"FALSE": FALSE,
	"NULL":  NULL,
}

var singleCharTokens = map[byte]TokenType{
	'(': LPAREN,
	')': RPAREN,
	',': COMMA,
	'+': PLUS,
	'-': MINUS,
	'*': STAR,
	'/': SLASH,
	'%': PERCENT,
}

var operators = map[string]TokenType{
	"=":  EQ,
	"==": EQ,
	"!=": NEQ,
	"<>": NEQ,
	"<":  LT,
	"<=": LTE,
	">":  GT,
	">=": GTE,
	"!":  NOT,
	"&&": AND,
	"||": OR,
	"&":  CONCAT,
}

type Token struct {
	Type     TokenType
	Value    string
	Position int
}

func (t Token) String() string {
	if t.Type == EOF {
		return "end of formula"
	}
	return fmt.Sprintf("%q at %d", t.Value, t.Position)
}

// Lexer splits a formula into tokens. Keywords and function names are
// case-insensitive; string literals and field names keep their case.
type Lexer struct {
	input string
	pos   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns every token up to and including EOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var out []Token
	for {
		tok := l.NextToken()
		if tok.Type == INVALID {
			return nil, fmt.Errorf("unexpected %s", tok)
		}
		out = append(out, tok)
		if tok.Type == EOF {
			return out, nil
		}
	}
}

// NextToken scans the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Type: EOF, Position: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]

	if tt, ok := singleCharTokens[ch]; ok {
		l.pos++
		return Token{Type: tt, Value: string(ch), Position: start}
	}

	switch {
	case strings.IndexByte("=<>!&|", ch) >= 0:
		return l.readOperator(start)
	case ch == '\'' || ch == '"':
		return l.readString(start)
	case ch == '{':
		return l.readField(start)
	case isDigit(ch) || (ch == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		return l.readNumber(start)
	case unicode.IsLetter(rune(ch)) || ch == '_':
		return l.readIdentifier(start)
	}
	l.pos++
	return Token{Type: INVALID, Value: string(ch), Position: start}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *Lexer) readOperator(start int) Token {
	if l.pos+1 < len(l.input) {
		if tt, ok := operators[l.input[l.pos:l.pos+2]]; ok {
			l.pos += 2
			return Token{Type: tt, Value: l.input[start:l.pos], Position: start}
		}
	}
	if tt, ok := operators[l.input[l.pos:l.pos+1]]; ok {
		l.pos++
		return Token{Type: tt, Value: l.input[start:l.pos], Position: start}
	}
	l.pos++
	return Token{Type: INVALID, Value: l.input[start:l.pos], Position: start}
}

// readString reads a quoted literal. Backslash escapes the next character and
// a doubled quote stands for itself.
func (l *Lexer) readString(start int) Token {
	quote := l.input[l.pos]
	l.pos++

	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == quote && l.pos+1 < len(l.input) && l.input[l.pos+1] == quote:
			b.WriteByte(quote)
			l.pos += 2
		case ch == quote:
			l.pos++
			return Token{Type: STRING, Value: b.String(), Position: start}
		default:
			b.WriteByte(ch)
			l.pos++
		}
	}
	return Token{Type: INVALID, Value: "unterminated string", Position: start}
}

func (l *Lexer) readField(start int) Token {
	end := strings.IndexByte(l.input[l.pos:], '}')
	if end < 0 {
		l.pos = len(l.input)
		return Token{Type: INVALID, Value: "unterminated field reference", Position: start}
	}
	name := strings.TrimSpace(l.input[l.pos+1 : l.pos+end])
	l.pos += end + 1
	if name == "" {
		return Token{Type: INVALID, Value: "{}", Position: start}
	}
	return Token{Type: FIELD, Value: name, Position: start}
}

func (l *Lexer) readNumber(start int) Token {
	seenDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '.' && !seenDot {
			seenDot = true
		} else if !isDigit(ch) {
			break
		}
		l.pos++
	}
	return Token{Type: NUMBER, Value: l.input[start:l.pos], Position: start}
}

func (l *Lexer) readIdentifier(start int) Token {
	for l.pos < len(l.input) {
		ch := rune(l.input[l.pos])
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			break
		}
		l.pos++
	}
	word := l.input[start:l.pos]
	if tt, ok := keywords[strings.ToUpper(word)]; ok {
		return Token{Type: tt, Value: word, Position: start}
	}
	return Token{Type: IDENT, Value: word, Position: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
