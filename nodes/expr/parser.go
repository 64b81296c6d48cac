package expr

import (
	"fmt"
	"strconv"
)

// Parse compiles src into an expression tree.
//
// Precedence, lowest first: ||, &&, comparison (== != < <= > >= in contains), unary !.
func Parse(src string) (Expr, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, fmt.Errorf("expr: unexpected %s at position %d", tok.Kind, tok.Pos)
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level literals.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token { return p.tokens[p.pos] }

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.next()
	if tok.Kind != kind {
		return tok, fmt.Errorf("expr: expected %s, got %s at position %d", kind, tok.Kind, tok.Pos)
	}
	return tok, nil
}

func (p *parser) or() (Expr, error) {
	return p.binary(p.and, TokenOr)
}

func (p *parser) and() (Expr, error) {
	return p.binary(p.comparison, TokenAnd)
}

func (p *parser) binary(operand func() (Expr, error), op TokenKind) (Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == op {
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func (p *parser) comparison() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().Kind; op {
	case TokenEq, TokenNeq, TokenGt, TokenGte, TokenLt, TokenLte, TokenIn, TokenContains:
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: left, Op: op, Right: right}, nil
	}
	return left, nil
}

func (p *parser) unary() (Expr, error) {
	if p.peek().Kind == TokenNot {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: TokenNot, Operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	tok := p.next()
	switch tok.Kind {
	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("expr: invalid number %q at position %d", tok.Value, tok.Pos)
		}
		return &LiteralExpr{Value: f}, nil
	case TokenString:
		return &LiteralExpr{Value: tok.Value}, nil
	case TokenTrue:
		return &LiteralExpr{Value: true}, nil
	case TokenFalse:
		return &LiteralExpr{Value: false}, nil
	case TokenNull:
		return &LiteralExpr{Value: nil}, nil
	case TokenIdent:
		return &IdentExpr{Name: tok.Value}, nil
	case TokenLParen:
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokenLBracket:
		return p.array()
	}
	return nil, fmt.Errorf("expr: unexpected %s at position %d", tok.Kind, tok.Pos)
}

func (p *parser) array() (Expr, error) {
	arr := &ArrayLiteral{}
	if p.peek().Kind == TokenRBracket {
		p.next()
		return arr, nil
	}
	for {
		el, err := p.or()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, el)
		tok := p.next()
		switch tok.Kind {
		case TokenComma:
		case TokenRBracket:
			return arr, nil
		default:
			return nil, fmt.Errorf("expr: expected , or ] in array, got %s at position %d", tok.Kind, tok.Pos)
		}
	}
}
