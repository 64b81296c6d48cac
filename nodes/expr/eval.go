package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUndefined is returned when an identifier cannot be resolved.
var ErrUndefined = errors.New("expr: undefined identifier")

// Resolver looks up an identifier. The value must be one of float64,
// string, bool, nil, []any or a Go numeric type.
type Resolver func(name string) (any, bool)

// MapResolver resolves identifiers from a map.
func MapResolver(m map[string]any) Resolver {
	return func(name string) (any, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// Eval evaluates e with identifiers looked up through resolve.
func Eval(e Expr, resolve Resolver) (any, error) {
	switch n := e.(type) {
	case *LiteralExpr:
		return n.Value, nil
	case *IdentExpr:
		if resolve != nil {
			if v, ok := resolve(n.Name); ok {
				return normalize(v), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUndefined, n.Name)
	case *ArrayLiteral:
		out := make([]any, len(n.Elements))
		for i, el := range n.Elements {
			v, err := Eval(el, resolve)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *UnaryExpr:
		v, err := Eval(n.Operand, resolve)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	case *BinaryExpr:
		return evalBinary(n, resolve)
	}
	return nil, fmt.Errorf("expr: unsupported node %T", e)
}

// EvalBool evaluates e and reports whether the result is truthy.
func EvalBool(e Expr, resolve Resolver) (bool, error) {
	v, err := Eval(e, resolve)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

func evalBinary(n *BinaryExpr, resolve Resolver) (any, error) {
	left, err := Eval(n.Left, resolve)
	if err != nil {
		return nil, err
	}

	// short-circuit
	switch n.Op {
	case TokenAnd:
		if !Truthy(left) {
			return false, nil
		}
		right, err := Eval(n.Right, resolve)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case TokenOr:
		if Truthy(left) {
			return true, nil
		}
		right, err := Eval(n.Right, resolve)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := Eval(n.Right, resolve)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case TokenEq:
		return equal(left, right), nil
	case TokenNeq:
		return !equal(left, right), nil
	case TokenGt, TokenGte, TokenLt, TokenLte:
		return compare(n.Op, left, right)
	case TokenIn:
		list, ok := right.([]any)
		if !ok {
			return nil, fmt.Errorf("expr: right side of in must be a list, got %T", right)
		}
		for _, el := range list {
			if equal(left, el) {
				return true, nil
			}
		}
		return false, nil
	case TokenContains:
		switch l := left.(type) {
		case string:
			r, ok := right.(string)
			if !ok {
				return nil, fmt.Errorf("expr: contains on string needs a string, got %T", right)
			}
			return strings.Contains(l, r), nil
		case []any:
			for _, el := range l {
				if equal(el, right) {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, fmt.Errorf("expr: contains needs a string or list, got %T", left)
	}
	return nil, fmt.Errorf("expr: unsupported operator %s", n.Op)
}

func compare(op TokenKind, left, right any) (bool, error) {
	var c int
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	switch {
	case lok && rok:
		switch {
		case lf < rf:
			c = -1
		case lf > rf:
			c = 1
		}
	default:
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, fmt.Errorf("expr: cannot compare %T with %T", left, right)
		}
		c = strings.Compare(ls, rs)
	}
	switch op {
	case TokenGt:
		return c > 0, nil
	case TokenGte:
		return c >= 0, nil
	case TokenLt:
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	la, aok := a.([]any)
	lb, bok := b.([]any)
	if aok || bok {
		if !aok || !bok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Truthy reports the boolean interpretation of v: false, nil, 0, "" and
// empty lists are false.
func Truthy(v any) bool {
	switch t := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	}
	return true
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return v
}
