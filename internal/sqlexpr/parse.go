package sqlexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a parsed expression node.
type Expr interface {
	exprNode()
}

type (
	// Literal is a constant: nil, string, int64, float64 or bool.
	Literal struct{ Value Value }

	// Column is a column reference.
	Column struct{ Table, Name string }

	// Placeholder is a {name} template slot.
	Placeholder struct{ Name string }

	// Unary is -x or NOT x.
	Unary struct {
		Op TokenType
		X  Expr
	}

	// Binary is an arithmetic, comparison, concatenation or logical operation.
	Binary struct {
		Op   TokenType
		L, R Expr
	}

	// Call is a function call. Star is COUNT(*).
	Call struct {
		Name     string // upper case
		Args     []Expr
		Distinct bool
		Star     bool
	}

	// Cast is CAST(x AS type) or SAFE_CAST(x AS type).
	Cast struct {
		X    Expr
		Type string // upper case, parameters dropped
		Safe bool
	}

	// Case is a searched or simple CASE expression.
	Case struct {
		Operand Expr
		Whens   []When
		Else    Expr
	}

	// When is one WHEN ... THEN ... arm.
	When struct{ Cond, Result Expr }

	// IsNull is x IS [NOT] NULL.
	IsNull struct {
		X   Expr
		Not bool
	}

	// In is x [NOT] IN (list).
	In struct {
		X    Expr
		List []Expr
		Not  bool
	}

	// Between is x [NOT] BETWEEN lo AND hi.
	Between struct {
		X, Lo, Hi Expr
		Not       bool
	}

	// Like is x [NOT] LIKE pattern.
	Like struct {
		X, Pattern Expr
		Not        bool
	}
)

func (*Literal) exprNode()     {}
func (*Column) exprNode()      {}
func (*Placeholder) exprNode() {}
func (*Unary) exprNode()       {}
func (*Binary) exprNode()      {}
func (*Call) exprNode()        {}
func (*Cast) exprNode()        {}
func (*Case) exprNode()        {}
func (*IsNull) exprNode()      {}
func (*In) exprNode()          {}
func (*Between) exprNode()     {}
func (*Like) exprNode()        {}

// Precedence levels, lowest first.
const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precAdditive
	precMultiplicative
	precUnary
)

func infixPrecedence(t TokenType) int {
	switch t {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEQ, TokenNE, TokenLT, TokenGT, TokenLE, TokenGE,
		TokenIs, TokenIn, TokenLike, TokenBetween, TokenNot:
		return precCompare
	case TokenPlus, TokenMinus, TokenConcat:
		return precAdditive
	case TokenStar, TokenSlash, TokenPercent:
		return precMultiplicative
	}
	return precLowest
}

type parser struct {
	tokens []Token
	pos    int
	// inBetween suppresses AND as a logical operator while parsing BETWEEN bounds.
	inBetween bool
}

// Parse parses a single expression.
func Parse(input string) (Expr, error) {
	p := &parser{tokens: Tokenize(input)}
	e, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.Literal, tok.Pos)
	}
	return e, nil
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(t TokenType, what string) (Token, error) {
	tok := p.next()
	if tok.Type != t {
		return tok, fmt.Errorf("expected %s at offset %d, got %q", what, tok.Pos, tok.Literal)
	}
	return tok, nil
}

func (p *parser) parseExpr(prec int) (Expr, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type == TokenAnd && p.inBetween {
			return left, nil
		}
		next := infixPrecedence(tok.Type)
		if next <= prec {
			return left, nil
		}
		left, err = p.parseInfix(left, next)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parsePrefix() (Expr, error) {
	tok := p.next()
	switch tok.Type {
	case TokenNumber:
		return parseNumber(tok)
	case TokenString:
		return &Literal{Value: tok.Literal}, nil
	case TokenTrue:
		return &Literal{Value: true}, nil
	case TokenFalse:
		return &Literal{Value: false}, nil
	case TokenNull:
		return &Literal{Value: nil}, nil
	case TokenPlaceholder:
		return &Placeholder{Name: tok.Literal}, nil
	case TokenMinus, TokenPlus:
		x, err := p.parseExpr(precUnary)
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenPlus {
			return x, nil
		}
		return &Unary{Op: TokenMinus, X: x}, nil
	case TokenNot:
		x, err := p.parseExpr(precNot)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: TokenNot, X: x}, nil
	case TokenLParen:
		saved := p.inBetween
		p.inBetween = false
		x, err := p.parseExpr(precLowest)
		p.inBetween = saved
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return x, nil
	case TokenCase:
		return p.parseCase()
	case TokenCast:
		return p.parseCast(false)
	case TokenIdent:
		return p.parseIdent(tok)
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", tok.Literal, tok.Pos)
}

func parseNumber(tok Token) (Expr, error) {
	if !strings.ContainsAny(tok.Literal, ".eE") {
		if n, err := strconv.ParseInt(tok.Literal, 10, 64); err == nil {
			return &Literal{Value: n}, nil
		}
	}
	f, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", tok.Literal)
	}
	return &Literal{Value: f}, nil
}

func (p *parser) parseIdent(tok Token) (Expr, error) {
	name := tok.Literal
	if p.peek().Type == TokenDot && p.peekAt(1).Type == TokenIdent {
		p.next()
		col := p.next()
		if p.peek().Type == TokenLParen {
			return p.parseCall(strings.ToUpper(name + "." + col.Literal))
		}
		return &Column{Table: name, Name: col.Literal}, nil
	}
	if p.peek().Type == TokenLParen && !tok.Quoted {
		upper := strings.ToUpper(name)
		if upper == "SAFE_CAST" {
			return p.parseCast(true)
		}
		return p.parseCall(upper)
	}
	if !tok.Quoted && niladic[strings.ToLower(name)] {
		return &Call{Name: strings.ToUpper(name)}, nil
	}
	if p.peek().Type == TokenString && !tok.Quoted {
		// typed literal such as DATE '2024-01-01'
		lit := p.next()
		return &Cast{X: &Literal{Value: lit.Literal}, Type: strings.ToUpper(name)}, nil
	}
	return &Column{Name: name}, nil
}

func (p *parser) parseCall(name string) (Expr, error) {
	if _, err := p.expect(TokenLParen, "("); err != nil {
		return nil, err
	}
	call := &Call{Name: name}
	saved := p.inBetween
	p.inBetween = false
	defer func() { p.inBetween = saved }()

	if p.peek().Type == TokenRParen {
		p.next()
		return call, nil
	}
	if p.peek().Type == TokenStar {
		p.next()
		call.Star = true
		_, err := p.expect(TokenRParen, ")")
		return call, err
	}
	if p.peek().Type == TokenDistinct {
		p.next()
		call.Distinct = true
	}
	if name == "EXTRACT" && p.peekAt(1).Type == TokenFrom {
		part := p.next()
		p.next()
		call.Args = append(call.Args, &Literal{Value: strings.ToUpper(part.Literal)})
	}
	for {
		arg, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.peek().Type != TokenComma {
			break
		}
		p.next()
	}
	_, err := p.expect(TokenRParen, ")")
	return call, err
}

func (p *parser) parseCast(safe bool) (Expr, error) {
	if _, err := p.expect(TokenLParen, "("); err != nil {
		return nil, err
	}
	x, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenAs, "AS"); err != nil {
		return nil, err
	}
	typ, err := p.expect(TokenIdent, "type name")
	if err != nil {
		return nil, err
	}
	// drop type parameters such as NUMERIC(10, 2)
	if p.peek().Type == TokenLParen {
		for depth := 0; ; {
			tok := p.next()
			if tok.Type == TokenEOF {
				return nil, fmt.Errorf("unterminated type parameters")
			}
			if tok.Type == TokenLParen {
				depth++
			}
			if tok.Type == TokenRParen {
				depth--
				if depth == 0 {
					break
				}
			}
		}
	}
	if _, err := p.expect(TokenRParen, ")"); err != nil {
		return nil, err
	}
	return &Cast{X: x, Type: strings.ToUpper(typ.Literal), Safe: safe}, nil
}

func (p *parser) parseCase() (Expr, error) {
	c := &Case{}
	if p.peek().Type != TokenWhen {
		operand, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		c.Operand = operand
	}
	for p.peek().Type == TokenWhen {
		p.next()
		cond, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenThen, "THEN"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, When{Cond: cond, Result: result})
	}
	if len(c.Whens) == 0 {
		return nil, fmt.Errorf("CASE without WHEN")
	}
	if p.peek().Type == TokenElse {
		p.next()
		e, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	_, err := p.expect(TokenEnd, "END")
	return c, err
}

func (p *parser) parseInfix(left Expr, prec int) (Expr, error) {
	tok := p.next()
	switch tok.Type {
	case TokenIs:
		not := false
		if p.peek().Type == TokenNot {
			p.next()
			not = true
		}
		if _, err := p.expect(TokenNull, "NULL"); err != nil {
			return nil, err
		}
		return &IsNull{X: left, Not: not}, nil
	case TokenNot:
		switch p.peek().Type {
		case TokenIn, TokenLike, TokenBetween:
			e, err := p.parseInfix(left, prec)
			if err != nil {
				return nil, err
			}
			switch n := e.(type) {
			case *In:
				n.Not = true
			case *Like:
				n.Not = true
			case *Between:
				n.Not = true
			}
			return e, nil
		}
		return nil, fmt.Errorf("unexpected NOT at offset %d", tok.Pos)
	case TokenIn:
		if _, err := p.expect(TokenLParen, "("); err != nil {
			return nil, err
		}
		in := &In{X: left}
		for {
			item, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, item)
			if p.peek().Type != TokenComma {
				break
			}
			p.next()
		}
		_, err := p.expect(TokenRParen, ")")
		return in, err
	case TokenLike:
		pattern, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		return &Like{X: left, Pattern: pattern}, nil
	case TokenBetween:
		saved := p.inBetween
		p.inBetween = true
		lo, err := p.parseExpr(precCompare)
		p.inBetween = saved
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenAnd, "AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		return &Between{X: left, Lo: lo, Hi: hi}, nil
	}

	right, err := p.parseExpr(prec)
	if err != nil {
		return nil, err
	}
	return &Binary{Op: tok.Type, L: left, R: right}, nil
}
