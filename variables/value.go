package variables

import (
	"fmt"
	"math"
)

// Type describes the storage type of a variable or a component field.
// Value types are compared by identity; reference types may be assigned to
// any of their bases.
type Type struct {
	Name  string
	Value bool
	Base  *Type
}

// AssignableTo reports whether a value of t may be stored in a target field.
func (t *Type) AssignableTo(target *Type) bool {
	for c := t; c != nil; c = c.Base {
		if c == target {
			return true
		}
	}
	return false
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// Built-in types. Go representations: int, float64, bool, string and any.
var (
	TypeInt    = &Type{Name: "int", Value: true}
	TypeFloat  = &Type{Name: "float", Value: true}
	TypeBool   = &Type{Name: "bool", Value: true}
	TypeObject = &Type{Name: "object"}
	TypeString = &Type{Name: "string", Base: TypeObject}
)

var builtinTypes = map[string]*Type{
	TypeInt.Name:    TypeInt,
	TypeFloat.Name:  TypeFloat,
	TypeBool.Name:   TypeBool,
	TypeObject.Name: TypeObject,
	TypeString.Name: TypeString,
}

// TypeByName resolves a built-in type.
func TypeByName(name string) (*Type, bool) {
	t, ok := builtinTypes[name]
	return t, ok
}

// Value is a variable binding: a payload tagged with its declared type.
type Value struct {
	Type   *Type
	Object any
}

func Int(v int) Value       { return Value{Type: TypeInt, Object: v} }
func Float(v float64) Value { return Value{Type: TypeFloat, Object: v} }
func Bool(v bool) Value     { return Value{Type: TypeBool, Object: v} }
func String(v string) Value { return Value{Type: TypeString, Object: v} }
func Object(v any) Value    { return Value{Type: TypeObject, Object: v} }
func Null(t *Type) Value    { return Value{Type: t} }

// IsNull reports whether the value carries a nil reference.
func (v Value) IsNull() bool {
	return v.Object == nil
}

// ParseValue converts a decoded JSON/YAML scalar into a typed value.
func ParseValue(typeName string, raw any) (Value, error) {
	t, ok := TypeByName(typeName)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if raw == nil {
		if t.Value {
			return Value{}, fmt.Errorf("variables: %s cannot be null", t.Name)
		}
		return Null(t), nil
	}

	switch t {
	case TypeInt:
		switch n := raw.(type) {
		case int:
			return Int(n), nil
		case int64:
			return Int(int(n)), nil
		case float64:
			if n != math.Trunc(n) {
				return Value{}, fmt.Errorf("variables: %v is not an integer", n)
			}
			return Int(int(n)), nil
		}
	case TypeFloat:
		switch n := raw.(type) {
		case float64:
			return Float(n), nil
		case int:
			return Float(float64(n)), nil
		case int64:
			return Float(float64(n)), nil
		}
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	case TypeString:
		if s, ok := raw.(string); ok {
			return String(s), nil
		}
	case TypeObject:
		return Object(raw), nil
	}
	return Value{}, fmt.Errorf("variables: cannot use %T as %s", raw, t.Name)
}
