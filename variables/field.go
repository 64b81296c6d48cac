package variables

import "github.com/petal-labs/scenarioflow/core"

// Field describes one overridable field of a component. Get and Set are
// bound to a specific component instance.
type Field struct {
	Name string
	Type *Type // declared storage type; ignored when Get yields a Value
	Get  func() any
	Set  func(any)
}

// Overridable is implemented by components whose fields can be rewritten
// from variables. CloneComponent must return an independent copy so that
// overrides never leak into the node's stored components.
type Overridable interface {
	core.Component
	CloneComponent() Overridable
	Fields() []Field
}

// FieldOf describes a field stored as a plain Go value of type T.
func FieldOf[T any](name string, t *Type, ptr *T) Field {
	return Field{
		Name: name,
		Type: t,
		Get:  func() any { return *ptr },
		Set: func(v any) {
			if v == nil {
				var zero T
				*ptr = zero
				return
			}
			if tv, ok := v.(T); ok {
				*ptr = tv
			}
		},
	}
}

// TypedField describes a field that stores a Value and therefore takes the
// type of its current content.
func TypedField(name string, ptr *Value) Field {
	return Field{
		Name: name,
		Get:  func() any { return *ptr },
		Set: func(v any) {
			switch tv := v.(type) {
			case Value:
				*ptr = tv
			case nil:
				*ptr = Value{Type: ptr.Type}
			}
		},
	}
}

// assign applies variable to field following the override rules:
//   - value types must match exactly
//   - a reference variable must be assignable to the field's type
//   - a null reference clears a reference field even on type mismatch
//
// Any other combination leaves the field unchanged.
func assign(field Field, variable Value) bool {
	fieldType := field.Type
	typed := false
	if field.Get != nil {
		if current, ok := field.Get().(Value); ok {
			fieldType = current.Type
			typed = true
		}
	}
	if fieldType == nil || variable.Type == nil {
		return false
	}
	if fieldType.Value != variable.Type.Value {
		return false
	}

	payload := variable.Object
	if typed {
		payload = variable
	}

	if fieldType.Value {
		if fieldType != variable.Type {
			return false
		}
		field.Set(payload)
		return true
	}

	if variable.Type.AssignableTo(fieldType) {
		field.Set(payload)
		return true
	}
	if variable.IsNull() {
		field.Set(nil)
		return true
	}
	return false
}
