package bytecode

import "math"

// Value represents a JavaScript value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-float values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Float: Native IEEE 754 double (if not a tagged NaN, it's a float)
//   - SmallInt: Quiet NaN + tagInt + 48-bit signed payload
//   - Object: Quiet NaN + tagObject + 48-bit heap handle
//   - String: Quiet NaN + tagString + 48-bit heap handle
//   - Function: Quiet NaN + tagFunction + function table index
//   - Special: Quiet NaN + tagSpecial + special value ID
//
// Heap handles are opaque: the execution core never dereferences them
// itself, it hands them back to the heap collaborator.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for handle/int/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagObject   uint64 = 0x0001000000000000 // heap object handle
	tagInt      uint64 = 0x0002000000000000 // 48-bit signed integer
	tagSpecial  uint64 = 0x0003000000000000 // undefined, null, true, false
	tagString   uint64 = 0x0004000000000000 // heap string handle
	tagFunction uint64 = 0x0005000000000000 // function table index

	// Sign bit for 48-bit integer sign extension
	intSignBit    uint64 = 0x0000800000000000
	intSignExtend uint64 = 0xFFFF000000000000
)

// Special value payloads
const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3
)

// Pre-defined special values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)
)

// SmallInt range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Float creates a float value. Real NaN inputs are normalized to the
// canonical quiet NaN so they cannot collide with tagged values.
func Float(f float64) Value {
	if math.IsNaN(f) {
		return Value(nanBits)
	}
	return Value(math.Float64bits(f))
}

// Int creates a small integer value. Values outside the 48-bit range
// overflow into a float.
func Int(i int64) Value {
	if i > MaxSmallInt || i < MinSmallInt {
		return Float(float64(i))
	}
	return Value(nanBits | tagInt | (uint64(i) & payloadMask))
}

// Boolean creates a boolean value.
func Boolean(b bool) Value {
	if b {
		return True
	}
	return False
}

// ObjectHandle creates a value wrapping an opaque heap object handle.
func ObjectHandle(h uint64) Value {
	return Value(nanBits | tagObject | (h & payloadMask))
}

// StringHandle creates a value wrapping an opaque heap string handle.
func StringHandle(h uint64) Value {
	return Value(nanBits | tagString | (h & payloadMask))
}

// FunctionRef creates a value referring to a function table index.
func FunctionRef(id int) Value {
	return Value(nanBits | tagFunction | (uint64(id) & payloadMask))
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) isTagged(tag uint64) bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tag && uint64(v) != nanBits
}

// IsFloat returns true if v represents a float64 value. This includes
// regular numbers, infinities, and the canonical NaN.
func (v Value) IsFloat() bool {
	return uint64(v)&nanBits != nanBits || uint64(v)&tagMask == 0
}

// IsInt returns true if v is a small integer.
func (v Value) IsInt() bool { return v.isTagged(tagInt) }

// IsNumber returns true for floats and small integers.
func (v Value) IsNumber() bool { return v.IsFloat() || v.IsInt() }

// IsObject returns true if v holds a heap object handle.
func (v Value) IsObject() bool { return v.isTagged(tagObject) }

// IsString returns true if v holds a heap string handle.
func (v Value) IsString() bool { return v.isTagged(tagString) }

// IsFunction returns true if v refers to a function table entry.
func (v Value) IsFunction() bool { return v.isTagged(tagFunction) }

// IsUndefined returns true if v is the undefined value.
func (v Value) IsUndefined() bool { return v == Undefined }

// IsNull returns true if v is the null value.
func (v Value) IsNull() bool { return v == Null }

// IsBoolean returns true if v is true or false.
func (v Value) IsBoolean() bool { return v == True || v == False }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// AsFloat returns the numeric value of a float or small integer.
// The result is unspecified for non-numbers.
func (v Value) AsFloat() float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return math.Float64frombits(uint64(v))
}

// AsInt returns the small integer payload with sign extension.
func (v Value) AsInt() int64 {
	payload := uint64(v) & payloadMask
	if payload&intSignBit != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// Handle returns the opaque heap handle of an object or string value.
func (v Value) Handle() uint64 {
	return uint64(v) & payloadMask
}

// FunctionID returns the function table index of a function value.
func (v Value) FunctionID() int {
	return int(uint64(v) & payloadMask)
}

// AsBool returns the boolean payload. False for non-booleans.
func (v Value) AsBool() bool { return v == True }

// floatMod implements JavaScript's remainder operator semantics.
func floatMod(x, y float64) float64 { return math.Mod(x, y) }

// TypeName returns the JavaScript typeof-style name of the value's type.
// Strings and objects are identified by tag alone; payloads stay opaque.
func (v Value) TypeName() string {
	switch {
	case v.IsNumber():
		return "number"
	case v.IsBoolean():
		return "boolean"
	case v.IsString():
		return "string"
	case v.IsFunction():
		return "function"
	case v.IsObject():
		return "object"
	case v.IsNull():
		return "object"
	default:
		return "undefined"
	}
}
