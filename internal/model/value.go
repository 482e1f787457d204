// Package model provides the scalar value model shared by every layer of the
// engine. A Value is one of four variants (number, bool, text, null) and all
// type ambiguity is resolved here, nowhere else.
package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind discriminates the four Value variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindBool
	KindText
)

// Value is a closed 4-variant scalar. The zero value is null.
type Value struct {
	kind Kind
	num  float64
	b    bool
	text string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Num wraps a float64.
func Num(v float64) Value { return Value{kind: KindNumber, num: v} }

// Bool wraps a bool.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Text wraps a string.
func Text(v string) Value { return Value{kind: KindText, text: v} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number returns the raw float64 payload. Only meaningful for KindNumber.
func (v Value) Number() float64 { return v.num }

// Str returns the raw string payload. Only meaningful for KindText.
func (v Value) Str() string { return v.text }

// AsNumber coerces any Value to a float64:
// bool → 1/0, text → parsed-or-NaN, null → NaN.
func (v Value) AsNumber() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindText:
		f, err := strconv.ParseFloat(v.text, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// Truthy coerces any Value to a bool:
// number → non-zero and non-NaN, text → non-empty, null → false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindBool:
		return v.b
	case KindText:
		return v.text != ""
	default:
		return false
	}
}

// Equal reports exact variant + payload equality. NaN equals NaN so that
// snapshot round-trips compare cleanly.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) && math.IsNaN(o.num) {
			return true
		}
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindText:
		return v.text == o.text
	default:
		return true
	}
}

// MarshalJSON encodes the value as its natural JSON type. NaN and infinities
// have no JSON representation and encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON scalar into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null()
	case float64:
		*v = Num(x)
	case bool:
		*v = Bool(x)
	case string:
		*v = Text(x)
	default:
		*v = Null()
	}
	return nil
}

// Tick is one row of named scalar fields — one time step's input.
type Tick map[string]Value

// Field reads a named field, returning null when absent.
func (t Tick) Field(name string) Value {
	if v, ok := t[name]; ok {
		return v
	}
	return Null()
}
