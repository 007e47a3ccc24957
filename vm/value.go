package vm

import (
	"math"
	"strconv"
)

// Value is a Lox runtime value.
//
// The set of implementations is closed: Number, Bool, NilValue and the heap
// object types in object.go. Code that consumes a Value switches on its
// dynamic type; adding a new object variant means revisiting every such
// switch, which the unexported marker method enforces at the package
// boundary.
type Value interface {
	isValue()
}

// Number is a double-precision Lox number.
type Number float64

// Bool is a Lox boolean.
type Bool bool

// NilValue is the type of the single Lox nil value.
type NilValue struct{}

// Nil is the Lox nil value.
var Nil Value = NilValue{}

func (Number) isValue()   {}
func (Bool) isValue()     {}
func (NilValue) isValue() {}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber reports whether v is a number.
func IsNumber(v Value) bool {
	_, ok := v.(Number)
	return ok
}

// IsNil reports whether v is nil.
func IsNil(v Value) bool {
	_, ok := v.(NilValue)
	return ok
}

// IsString reports whether v is an interned string object.
func IsString(v Value) bool {
	_, ok := v.(*ObjString)
	return ok
}

// IsFalsey implements Lox truthiness: nil and false are falsey, everything
// else is truthy.
func IsFalsey(v Value) bool {
	switch v := v.(type) {
	case NilValue:
		return true
	case Bool:
		return !bool(v)
	default:
		return false
	}
}

// ValuesEqual implements the == operator. Equality works across types:
// values of different types are never equal. Strings are interned, so
// object identity is string equality.
func ValuesEqual(a, b Value) bool {
	switch a := a.(type) {
	case Number:
		bn, ok := b.(Number)
		return ok && a == bn
	case Bool:
		bb, ok := b.(Bool)
		return ok && a == bb
	case NilValue:
		_, ok := b.(NilValue)
		return ok
	case Obj:
		bo, ok := b.(Obj)
		return ok && a == bo
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// FormatValue renders v the way the print statement shows it.
func FormatValue(v Value) string {
	switch v := v.(type) {
	case Number:
		return formatNumber(float64(v))
	case Bool:
		if v {
			return "true"
		}
		return "false"
	case NilValue:
		return "nil"
	case Obj:
		return formatObject(v)
	default:
		return "<unknown>"
	}
}

// formatNumber prints n as C's %g does: six significant digits, exponent
// form below 1e-4 or from 1e6 up, no trailing zeros. IEEE specials print as
// inf/-inf/nan.
func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	}
	return strconv.FormatFloat(n, 'g', 6, 64)
}

// TypeName returns a short name for the dynamic type of v.
func TypeName(v Value) string {
	switch v := v.(type) {
	case Number:
		return "number"
	case Bool:
		return "boolean"
	case NilValue:
		return "nil"
	case Obj:
		return v.Type().String()
	default:
		return "unknown"
	}
}
