package bytecode

import (
	"math"
	"testing"
)

func TestValueFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.14, 1e300, -1e-300, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := Float(f)
		if !v.IsFloat() || !v.IsNumber() {
			t.Errorf("Float(%g) should be a float number", f)
		}
		if v.AsFloat() != f {
			t.Errorf("Expected %g, got %g", f, v.AsFloat())
		}
	}
}

func TestValueNaNNormalized(t *testing.T) {
	v := Float(math.NaN())
	if !v.IsFloat() {
		t.Error("NaN should still be a float")
	}
	if !math.IsNaN(v.AsFloat()) {
		t.Error("Expected NaN back")
	}
	if v.IsInt() || v.IsObject() || v.IsString() {
		t.Error("NaN must not collide with tagged values")
	}
}

func TestValueIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, MaxSmallInt, MinSmallInt}
	for _, i := range cases {
		v := Int(i)
		if !v.IsInt() {
			t.Fatalf("Int(%d) should be a small integer", i)
		}
		if v.AsInt() != i {
			t.Errorf("Expected %d, got %d", i, v.AsInt())
		}
	}
}

func TestValueIntOverflowsToFloat(t *testing.T) {
	v := Int(MaxSmallInt + 1)
	if v.IsInt() {
		t.Error("Out-of-range integer should overflow to float")
	}
	if v.AsFloat() != float64(MaxSmallInt+1) {
		t.Errorf("Expected %g, got %g", float64(MaxSmallInt+1), v.AsFloat())
	}
}

func TestValueSpecials(t *testing.T) {
	if !Undefined.IsUndefined() || !Null.IsNull() {
		t.Error("Special predicates failed")
	}
	if !True.IsBoolean() || !False.IsBoolean() {
		t.Error("Booleans should be booleans")
	}
	if !True.AsBool() || False.AsBool() {
		t.Error("Boolean payloads wrong")
	}
	if Undefined == Null || True == False {
		t.Error("Special values must be distinct")
	}
}

func TestValueHandles(t *testing.T) {
	obj := ObjectHandle(7)
	if !obj.IsObject() || obj.Handle() != 7 {
		t.Errorf("Expected object handle 7, got %d", obj.Handle())
	}
	str := StringHandle(9)
	if !str.IsString() || str.Handle() != 9 {
		t.Errorf("Expected string handle 9, got %d", str.Handle())
	}
	fn := FunctionRef(3)
	if !fn.IsFunction() || fn.FunctionID() != 3 {
		t.Errorf("Expected function 3, got %d", fn.FunctionID())
	}
	if obj.IsString() || str.IsObject() || fn.IsObject() {
		t.Error("Tags must not overlap")
	}
}

func TestValueTypeName(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Float(1.5), "number"},
		{Int(2), "number"},
		{True, "boolean"},
		{StringHandle(0), "string"},
		{FunctionRef(0), "function"},
		{ObjectHandle(0), "object"},
		{Null, "object"},
		{Undefined, "undefined"},
	}
	for _, c := range cases {
		if got := c.v.TypeName(); got != c.want {
			t.Errorf("Expected %q, got %q", c.want, got)
		}
	}
}
