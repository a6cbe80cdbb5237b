package vm

import (
	"math"
	"strconv"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
)

// Shared operator semantics. Every tier routes value operations through
// these helpers so the interpreter, the baseline tier, and the
// optimizing tier's slow paths cannot drift apart.

// Add implements the addition operator: numeric addition for two
// numbers, concatenation when either operand is a string, TypeError
// otherwise.
func Add(h Heap, a, b bytecode.Value) (bytecode.Value, error) {
	if a.IsNumber() && b.IsNumber() {
		return bytecode.Float(a.AsFloat() + b.AsFloat()), nil
	}
	if a.IsString() || b.IsString() {
		sa, err := coerceString(h, a)
		if err != nil {
			return bytecode.Undefined, err
		}
		sb, err := coerceString(h, b)
		if err != nil {
			return bytecode.Undefined, err
		}
		return h.InternString(sa + sb), nil
	}
	return bytecode.Undefined, NewTypeError("cannot add %s and %s", a.TypeName(), b.TypeName())
}

// Arith implements the remaining binary arithmetic operators. Both
// operands must be numbers. Division by zero yields an infinity and
// modulo by zero yields NaN, per IEEE 754.
func Arith(op bytecode.Op, a, b bytecode.Value) (bytecode.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return bytecode.Undefined, NewTypeError(
			"cannot apply %s to %s and %s", op, a.TypeName(), b.TypeName())
	}
	x, y := a.AsFloat(), b.AsFloat()
	switch op {
	case bytecode.OpSub:
		return bytecode.Float(x - y), nil
	case bytecode.OpMul:
		return bytecode.Float(x * y), nil
	case bytecode.OpDiv:
		return bytecode.Float(x / y), nil
	case bytecode.OpMod:
		return bytecode.Float(math.Mod(x, y)), nil
	}
	return bytecode.Undefined, ErrUnknownOpcode
}

// Neg implements unary numeric negation.
func Neg(v bytecode.Value) (bytecode.Value, error) {
	if !v.IsNumber() {
		return bytecode.Undefined, NewTypeError("cannot negate %s", v.TypeName())
	}
	return bytecode.Float(-v.AsFloat()), nil
}

// Not implements logical negation via truthiness.
func Not(v bytecode.Value) bytecode.Value {
	return bytecode.Boolean(!Truthy(v))
}

// Truthy reports whether a value is truthy: false, undefined, null,
// zero, NaN, and the empty string are falsy, everything else is truthy.
func Truthy(v bytecode.Value) bool {
	switch {
	case v.IsBoolean():
		return v.AsBool()
	case v.IsUndefined() || v.IsNull():
		return false
	case v.IsNumber():
		f := v.AsFloat()
		return f != 0 && !math.IsNaN(f)
	}
	// Strings: only the empty string is falsy. The caller that has heap
	// access resolves that case; without one a string handle is truthy.
	return true
}

// TruthyIn is Truthy with heap access so empty strings are falsy.
func TruthyIn(h Heap, v bytecode.Value) bool {
	if v.IsString() {
		s, ok := h.StringValue(v)
		return ok && s != ""
	}
	return Truthy(v)
}

// StrictEquals implements the strict equality operator. No coercion:
// values of different types are never equal, numbers compare by value
// (so the int 3 equals the float 3.0, and NaN equals nothing), strings
// compare by content, objects and functions by identity.
func StrictEquals(h Heap, a, b bytecode.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsFloat() == b.AsFloat()
	}
	if a.IsString() && b.IsString() {
		sa, oka := h.StringValue(a)
		sb, okb := h.StringValue(b)
		return oka && okb && sa == sb
	}
	return a == b
}

// LooseEquals implements the loose equality operator: undefined and
// null equal each other, number-to-string comparison coerces the string
// to a number, boolean operands coerce to numbers, otherwise strict.
func LooseEquals(h Heap, a, b bytecode.Value) bool {
	if (a.IsUndefined() || a.IsNull()) && (b.IsUndefined() || b.IsNull()) {
		return true
	}
	if a.IsBoolean() {
		return LooseEquals(h, bytecode.Float(boolToFloat(a)), b)
	}
	if b.IsBoolean() {
		return LooseEquals(h, a, bytecode.Float(boolToFloat(b)))
	}
	if a.IsNumber() && b.IsString() {
		if n, ok := stringToNumber(h, b); ok {
			return a.AsFloat() == n
		}
		return false
	}
	if a.IsString() && b.IsNumber() {
		return LooseEquals(h, b, a)
	}
	return StrictEquals(h, a, b)
}

// Compare implements the relational operators. Two strings compare
// lexicographically; otherwise both operands must be numbers, and any
// NaN operand makes every relation false.
func Compare(h Heap, op bytecode.Op, a, b bytecode.Value) (bytecode.Value, error) {
	if a.IsString() && b.IsString() {
		sa, _ := h.StringValue(a)
		sb, _ := h.StringValue(b)
		return bytecode.Boolean(compareOrdered(op, sa, sb)), nil
	}
	if !a.IsNumber() || !b.IsNumber() {
		return bytecode.Undefined, NewTypeError(
			"cannot compare %s and %s", a.TypeName(), b.TypeName())
	}
	x, y := a.AsFloat(), b.AsFloat()
	if math.IsNaN(x) || math.IsNaN(y) {
		return bytecode.False, nil
	}
	return bytecode.Boolean(compareOrdered(op, x, y)), nil
}

func compareOrdered[T float64 | string](op bytecode.Op, x, y T) bool {
	switch op {
	case bytecode.OpLess:
		return x < y
	case bytecode.OpLessEq:
		return x <= y
	case bytecode.OpGreater:
		return x > y
	case bytecode.OpGreaterEq:
		return x >= y
	}
	return false
}

func boolToFloat(v bytecode.Value) float64 {
	if v.AsBool() {
		return 1
	}
	return 0
}

func stringToNumber(h Heap, v bytecode.Value) (float64, bool) {
	s, ok := h.StringValue(v)
	if !ok {
		return 0, false
	}
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// coerceString produces the display form of a primitive for
// concatenation. Objects do not coerce implicitly.
func coerceString(h Heap, v bytecode.Value) (string, error) {
	switch {
	case v.IsString():
		s, ok := h.StringValue(v)
		if !ok {
			return "", ErrCorruptProgram
		}
		return s, nil
	case v.IsNumber():
		return FormatNumber(v.AsFloat()), nil
	case v.IsBoolean():
		return strconv.FormatBool(v.AsBool()), nil
	case v.IsUndefined():
		return "undefined", nil
	case v.IsNull():
		return "null", nil
	}
	return "", NewTypeError("cannot convert %s to string", v.TypeName())
}

// FormatNumber renders a number the way the language displays it:
// integral values without a decimal point, shortest round-trip form
// otherwise.
func FormatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Format renders a value for host display. Object handles render as a
// placeholder since the core cannot see into them.
func Format(h Heap, v bytecode.Value) string {
	switch {
	case v.IsString():
		s, ok := h.StringValue(v)
		if !ok {
			return "<string>"
		}
		return s
	case v.IsFunction():
		return "function #" + strconv.Itoa(v.FunctionID())
	case v.IsObject():
		return "[object Object]"
	}
	s, err := coerceString(h, v)
	if err != nil {
		return "<value>"
	}
	return s
}
