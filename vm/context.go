package vm

import "github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"

// ExecutionContext is the per-invocation execution state: a register
// file, an instruction pointer, and a reference to the program being
// executed. It is owned by exactly one thread of control at a time.
type ExecutionContext struct {
	Registers []bytecode.Value
	IP        int

	program *bytecode.Program
}

// NewExecutionContext creates a context for one invocation of a program,
// with the declared register count filled with undefined.
func NewExecutionContext(p *bytecode.Program) *ExecutionContext {
	regs := make([]bytecode.Value, p.RegisterCount)
	for i := range regs {
		regs[i] = bytecode.Undefined
	}
	return &ExecutionContext{Registers: regs, program: p}
}

// Program returns the program this context executes.
func (ec *ExecutionContext) Program() *bytecode.Program { return ec.program }

// Fetch returns the instruction at the current pointer and advances it.
// The second result is false once the pointer passes the last
// instruction: that is the normal completion boundary, not an error.
func (ec *ExecutionContext) Fetch() (bytecode.Instruction, bool) {
	if ec.IP < 0 || ec.IP >= len(ec.program.Instructions) {
		return bytecode.Instruction{}, false
	}
	in := ec.program.Instructions[ec.IP]
	ec.IP++
	return in, true
}

// GetRegister reads a register. Out-of-range reads return undefined
// rather than failing, tolerating under-allocation by the generator.
func (ec *ExecutionContext) GetRegister(i int) bytecode.Value {
	if i < 0 || i >= len(ec.Registers) {
		return bytecode.Undefined
	}
	return ec.Registers[i]
}

// SetRegister writes a register, growing the file with undefined values
// when the index is past the current length.
func (ec *ExecutionContext) SetRegister(i int, v bytecode.Value) {
	if i < 0 {
		return
	}
	for i >= len(ec.Registers) {
		ec.Registers = append(ec.Registers, bytecode.Undefined)
	}
	ec.Registers[i] = v
}

// SnapshotRegisters returns a copy of the register file, used to build
// OSR transfer records.
func (ec *ExecutionContext) SnapshotRegisters() []bytecode.Value {
	out := make([]bytecode.Value, len(ec.Registers))
	copy(out, ec.Registers)
	return out
}
