package expr

import (
	"fmt"
	"strings"
)

// Expr is the interface implemented by all AST nodes.
type Expr interface {
	expr()
	String() string
}

// BinaryExpr is a binary operation such as a == b or a && b.
type BinaryExpr struct {
	Left  Expr
	Op    TokenKind
	Right Expr
}

// UnaryExpr is a negation.
type UnaryExpr struct {
	Op      TokenKind
	Operand Expr
}

// LiteralExpr is a float64, string, bool or nil literal.
type LiteralExpr struct {
	Value any
}

// IdentExpr names a variable.
type IdentExpr struct {
	Name string
}

// ArrayLiteral is an inline list, used on the right of "in".
type ArrayLiteral struct {
	Elements []Expr
}

func (*BinaryExpr) expr()   {}
func (*UnaryExpr) expr()    {}
func (*LiteralExpr) expr()  {}
func (*IdentExpr) expr()    {}
func (*ArrayLiteral) expr() {}

func (e *BinaryExpr) String() string { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *UnaryExpr) String() string  { return fmt.Sprintf("(%s%s)", e.Op, e.Operand) }
func (e *IdentExpr) String() string  { return e.Name }

func (e *LiteralExpr) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}

func (e *ArrayLiteral) String() string {
	parts := make([]string, len(e.Elements))
	for i, el := range e.Elements {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Idents returns the distinct identifiers referenced by e, in order of
// first appearance.
func Idents(e Expr) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *IdentExpr:
			if !seen[n.Name] {
				seen[n.Name] = true
				names = append(names, n.Name)
			}
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *UnaryExpr:
			walk(n.Operand)
		case *ArrayLiteral:
			for _, el := range n.Elements {
				walk(el)
			}
		}
	}
	walk(e)
	return names
}
