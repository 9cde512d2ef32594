package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a parsed formula expression.
type Node interface {
	node()
}

type (
	NumberLit struct{ Value float64 }
	StringLit struct{ Value string }
	BoolLit   struct{ Value bool }
	NullLit   struct{}

	// FieldRef reads a value from the current row.
	FieldRef struct{ Name string }

	Unary struct {
		Op TokenType
		X  Node
	}

	Binary struct {
		Op          TokenType
		Left, Right Node
	}

	Call struct {
		Name string // upper-cased
		Args []Node
	}
)

func (NumberLit) node() {}
func (StringLit) node() {}
func (BoolLit) node()   {}
func (NullLit) node()   {}
func (FieldRef) node()  {}
func (Unary) node()     {}
func (Binary) node()    {}
func (Call) node()      {}

// References lists the field names a formula reads, in order of first use.
func References(src string) ([]string, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case FieldRef:
			if !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t.Name)
			}
		case Unary:
			walk(t.X)
		case Binary:
			walk(t.Left)
			walk(t.Right)
		case Call:
			for _, a := range t.Args {
				walk(a)
			}
		}
	}
	walk(root)
	return out, nil
}

// Parser is a recursive-descent parser over the token stream.
//
//	or      := and (("||" | OR) and)*
//	and     := not (("&&" | AND) not)*
//	not     := ("!" | NOT) not | compare
//	compare := sum (("="|"=="|"!="|"<>"|"<"|"<="|">"|">=") sum)?
//	sum     := product (("+"|"-"|"&") product)*
//	product := unary (("*"|"/"|"%") unary)*
//	unary   := "-" unary | primary
//	primary := NUMBER | STRING | TRUE | FALSE | NULL | FIELD
//	         | IDENT "(" args? ")" | IDENT | "(" or ")"
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses a formula into its syntax tree.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty formula")
	}
	tokens, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != EOF {
		return nil, fmt.Errorf("unexpected %s", tok)
	}
	return n, nil
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(types ...TokenType) (Token, bool) {
	tok := p.peek()
	for _, t := range types {
		if tok.Type == t {
			p.pos++
			return tok, true
		}
	}
	return tok, false
}

func (p *Parser) expect(t TokenType, what string) error {
	if _, ok := p.accept(t); !ok {
		return fmt.Errorf("expected %s, got %s", what, p.peek())
	}
	return nil
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept(OR); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OR, Left: left, Right: right}
	}
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept(AND); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: AND, Left: left, Right: right}
	}
}

func (p *Parser) parseNot() (Node, error) {
	if _, ok := p.accept(NOT); ok {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Unary{Op: NOT, X: x}, nil
	}
	return p.parseCompare()
}

func (p *Parser) parseCompare() (Node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.accept(EQ, NEQ, LT, LTE, GT, GTE); ok {
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return Binary{Op: tok.Type, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseSum() (Node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.accept(PLUS, MINUS, CONCAT)
		if !ok {
			return left, nil
		}
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.Type, Left: left, Right: right}
	}
}

func (p *Parser) parseProduct() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.accept(STAR, SLASH, PERCENT)
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.Type, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Node, error) {
	if _, ok := p.accept(MINUS); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: MINUS, X: x}, nil
	}
	if _, ok := p.accept(PLUS); ok {
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.Type {
	case NUMBER:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %s", tok)
		}
		return NumberLit{Value: f}, nil
	case STRING:
		return StringLit{Value: tok.Value}, nil
	case TRUE:
		return BoolLit{Value: true}, nil
	case FALSE:
		return BoolLit{Value: false}, nil
	case NULL:
		return NullLit{}, nil
	case FIELD:
		return FieldRef{Name: tok.Value}, nil
	case IDENT:
		if p.peek().Type == LPAREN {
			return p.parseCall(tok)
		}
		return FieldRef{Name: tok.Value}, nil
	case LPAREN:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(RPAREN, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("unexpected %s", tok)
}

func (p *Parser) parseCall(name Token) (Node, error) {
	fn := strings.ToUpper(name.Value)
	sig, ok := functions[fn]
	if !ok {
		return nil, fmt.Errorf("unknown function %s", name)
	}
	p.next() // (

	var args []Node
	if _, ok := p.accept(RPAREN); !ok {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if _, ok := p.accept(COMMA); ok {
				continue
			}
			if err := p.expect(RPAREN, "')'"); err != nil {
				return nil, err
			}
			break
		}
	}

	if len(args) < sig.minArgs || (sig.maxArgs >= 0 && len(args) > sig.maxArgs) {
		return nil, fmt.Errorf("%s: wrong number of arguments (%d)", fn, len(args))
	}
	return Call{Name: fn, Args: args}, nil
}
