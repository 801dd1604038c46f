package checks

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrSyntax reports a malformed formula.
var ErrSyntax = errors.New("checks: invalid formula")

// ErrDivideByZero reports a division by zero during evaluation.
var ErrDivideByZero = errors.New("checks: division by zero")

// Env resolves account references and statement totals during evaluation.
type Env interface {
	Account(code string) decimal.Decimal
	Total(name string) (decimal.Decimal, bool)
}

// Expr is a parsed formula.
type Expr interface {
	Eval(env Env) (decimal.Decimal, error)
	String() string
}

type numberExpr struct{ value decimal.Decimal }

type accountExpr struct{ code string }

type totalExpr struct{ name string }

type negExpr struct{ inner Expr }

type binaryExpr struct {
	op          byte
	left, right Expr
}

func (e numberExpr) Eval(Env) (decimal.Decimal, error) { return e.value, nil }

func (e numberExpr) String() string { return e.value.String() }

func (e accountExpr) Eval(env Env) (decimal.Decimal, error) { return env.Account(e.code), nil }

func (e accountExpr) String() string { return "[" + e.code + "]" }

func (e totalExpr) Eval(env Env) (decimal.Decimal, error) {
	v, ok := env.Total(e.name)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown total %q", ErrSyntax, e.name)
	}
	return v, nil
}

func (e totalExpr) String() string { return e.name }

func (e negExpr) Eval(env Env) (decimal.Decimal, error) {
	v, err := e.inner.Eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

func (e negExpr) String() string { return "-" + e.inner.String() }

func (e binaryExpr) Eval(env Env) (decimal.Decimal, error) {
	l, err := e.left.Eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := e.right.Eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	switch e.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	default:
		if r.IsZero() {
			return decimal.Zero, ErrDivideByZero
		}
		return l.Div(r), nil
	}
}

func (e binaryExpr) String() string {
	return "(" + e.left.String() + " " + string(e.op) + " " + e.right.String() + ")"
}

// totalNames whitelists the identifiers a formula may reference.
var totalNames = map[string]string{
	"assets":      "assets",
	"liabilities": "liabilities",
	"equity":      "equity",
	"revenue":     "revenue",
	"expenses":    "expenses",
	"netincome":   "netIncome",
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokAccount
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	tokens := make([]token, 0)
	for i := 0; i < len(src); {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '[':
			end := strings.IndexByte(src[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated account reference at %d", ErrSyntax, i)
			}
			code := strings.TrimSpace(src[i+1 : i+end])
			if code == "" {
				return nil, fmt.Errorf("%w: empty account reference at %d", ErrSyntax, i)
			}
			tokens = append(tokens, token{kind: tokAccount, text: code, pos: i})
			i += end + 1
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case unicode.IsLetter(c):
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i]))) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

// ParseExpr parses a formula made of decimal numbers, [GL] account references,
// the totals assets, liabilities, equity, revenue, expenses and netIncome, the
// operators + - * / and parentheses. Anything else is rejected.
func ParseExpr(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty formula", ErrSyntax)
	}
	p := &parser{tokens: tokens}
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tokens[p.pos].text, p.tokens[p.pos].pos)
	}
	return expr, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) expression() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: tok.text[0], left: left, right: right}
	}
}

func (p *parser) term() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: tok.text[0], left: left, right: right}
	}
}

func (p *parser) unary() (Expr, error) {
	tok, ok := p.peek()
	if ok && tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		p.pos++
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		if tok.text == "+" {
			return inner, nil
		}
		return negExpr{inner: inner}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	}
	p.pos++
	switch tok.kind {
	case tokNumber:
		v, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, tok.text, tok.pos)
		}
		return numberExpr{value: v}, nil
	case tokAccount:
		return accountExpr{code: tok.text}, nil
	case tokIdent:
		name, ok := totalNames[strings.ToLower(tok.text)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown identifier %q at %d", ErrSyntax, tok.text, tok.pos)
		}
		return totalExpr{name: name}, nil
	case tokLParen:
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis for %d", ErrSyntax, tok.pos)
		}
		p.pos++
		return inner, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, tok.text, tok.pos)
}
