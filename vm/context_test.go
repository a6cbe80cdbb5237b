package vm

import (
	"testing"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
)

func TestContextRegistersStartUndefined(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	ec := NewExecutionContext(p)

	if len(ec.Registers) != 3 {
		t.Fatalf("Expected 3 registers, got %d", len(ec.Registers))
	}
	for i := 0; i < 3; i++ {
		if !ec.GetRegister(i).IsUndefined() {
			t.Errorf("Register %d should start undefined", i)
		}
	}
}

func TestContextOutOfRangeReadIsUndefined(t *testing.T) {
	ec := NewExecutionContext(bytecode.NewProgram())
	if !ec.GetRegister(5).IsUndefined() || !ec.GetRegister(-1).IsUndefined() {
		t.Error("Out-of-range reads should yield undefined")
	}
}

func TestContextSetGrowsRegisterFile(t *testing.T) {
	ec := NewExecutionContext(bytecode.NewProgram())
	ec.SetRegister(4, bytecode.Int(7))

	if len(ec.Registers) != 5 {
		t.Fatalf("Expected growth to 5 registers, got %d", len(ec.Registers))
	}
	if ec.GetRegister(4).AsInt() != 7 {
		t.Error("Written value lost after growth")
	}
	for i := 0; i < 4; i++ {
		if !ec.GetRegister(i).IsUndefined() {
			t.Errorf("Fill register %d should be undefined", i)
		}
	}
}

func TestContextFetchAdvancesAndEnds(t *testing.T) {
	p := bytecode.NewProgram()
	p.Emit(bytecode.OpNop, 0, 0, 0)
	p.Emit(bytecode.OpReturn, 0, 0, 0)
	ec := NewExecutionContext(p)

	in, ok := ec.Fetch()
	if !ok || in.Op != bytecode.OpNop {
		t.Fatal("First fetch should yield the NOP")
	}
	in, ok = ec.Fetch()
	if !ok || in.Op != bytecode.OpReturn {
		t.Fatal("Second fetch should yield the RETURN")
	}
	if _, ok = ec.Fetch(); ok {
		t.Error("Fetch past the end must report completion, not an instruction")
	}
}

func TestContextSnapshotIsACopy(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 2
	ec := NewExecutionContext(p)
	ec.SetRegister(0, bytecode.Int(1))

	snap := ec.SnapshotRegisters()
	ec.SetRegister(0, bytecode.Int(9))
	if snap[0].AsInt() != 1 {
		t.Error("Snapshot must not alias the live register file")
	}
}
