// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package value implements the JSON-shaped values
// that flow through a query: documents, order-by
// items, partial aggregates and continuation tokens.
//
// Value is a closed set of types. In addition to the
// JSON types there is Undefined, which represents the
// absence of a value (a missing field) and which is
// distinct from Null. Values of different kinds are
// totally ordered by kind:
//
//	Undefined < Null < Bool < Number < String < Array < Object
package value

import "math"

// Kind is the type of a Value.
// Kinds are declared in their sort order.
type Kind uint8

const (
	UndefinedKind Kind = iota
	NullKind
	BoolKind
	NumberKind
	StringKind
	ArrayKind
	ObjectKind
)

func (k Kind) String() string {
	switch k {
	case UndefinedKind:
		return "undefined"
	case NullKind:
		return "null"
	case BoolKind:
		return "bool"
	case NumberKind:
		return "number"
	case StringKind:
		return "string"
	case ArrayKind:
		return "array"
	case ObjectKind:
		return "object"
	default:
		return "Kind(?)"
	}
}

// Value is one of Undefined, Null, Bool, Number,
// String, Array or Object.
//
// A nil Value is treated as Undefined
// by every function in this package.
type Value interface {
	Kind() Kind
	sealed()
}

type (
	// Undefined is the absence of a value.
	Undefined struct{}
	// Null is the JSON null.
	Null struct{}
	// Bool is a JSON boolean.
	Bool bool
	// Number is a JSON number.
	Number float64
	// String is a JSON string.
	String string
	// Array is a JSON array.
	Array []Value
	// Object is a JSON object.
	// Field order is preserved.
	Object []Field
)

// Field is a single member of an Object.
type Field struct {
	Name  string
	Value Value
}

func (Undefined) Kind() Kind { return UndefinedKind }
func (Null) Kind() Kind      { return NullKind }
func (Bool) Kind() Kind      { return BoolKind }
func (Number) Kind() Kind    { return NumberKind }
func (String) Kind() Kind    { return StringKind }
func (Array) Kind() Kind     { return ArrayKind }
func (Object) Kind() Kind    { return ObjectKind }

func (Undefined) sealed() {}
func (Null) sealed()      {}
func (Bool) sealed()      {}
func (Number) sealed()    {}
func (String) sealed()    {}
func (Array) sealed()     {}
func (Object) sealed()    {}

var (
	_ Value = Undefined{}
	_ Value = Null{}
	_ Value = Bool(false)
	_ Value = Number(0)
	_ Value = String("")
	_ Value = Array(nil)
	_ Value = Object(nil)
)

// KindOf returns the kind of v,
// treating nil as Undefined.
func KindOf(v Value) Kind {
	if v == nil {
		return UndefinedKind
	}
	return v.Kind()
}

// IsUndefined returns whether v is nil or Undefined.
func IsUndefined(v Value) bool { return KindOf(v) == UndefinedKind }

// IsPrimitive returns whether v is
// a null, boolean, number or string.
func IsPrimitive(v Value) bool {
	switch KindOf(v) {
	case NullKind, BoolKind, NumberKind, StringKind:
		return true
	}
	return false
}

// Lookup returns the value of the first
// field with the given name.
func (o Object) Lookup(name string) (Value, bool) {
	for i := range o {
		if o[i].Name == name {
			return o[i].Value, true
		}
	}
	return nil, false
}

// Get is like Lookup, but returns Undefined
// when the field is not present.
func (o Object) Get(name string) Value {
	v, ok := o.Lookup(name)
	if !ok || v == nil {
		return Undefined{}
	}
	return v
}

// Int returns n as an integer if it
// is integral and fits in an int64.
func (n Number) Int() (int64, bool) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Item unwraps a value produced by the backend
// in the form {"item": v}. A newer encoding uses
// the field "item2", which takes precedence.
// Anything else unwraps to Undefined.
func Item(v Value) Value {
	o, ok := v.(Object)
	if !ok {
		return Undefined{}
	}
	if x, ok := o.Lookup("item2"); ok {
		return orUndefined(x)
	}
	return o.Get("item")
}

func orUndefined(v Value) Value {
	if v == nil {
		return Undefined{}
	}
	return v
}
