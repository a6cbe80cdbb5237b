package bytecode

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstantKind tags a constant pool entry.
type ConstantKind uint8

const (
	ConstNumber ConstantKind = iota
	ConstString
	ConstBool
	ConstNull
	ConstUndefined
)

// Constant is a wire-friendly constant pool entry. At execution time the
// interpreter materializes it into a runtime Value through the heap
// collaborator (string constants become interned handles).
type Constant struct {
	Kind   ConstantKind `cbor:"k"`
	Number float64      `cbor:"n,omitempty"`
	Str    string       `cbor:"s,omitempty"`
	Bool   bool         `cbor:"b,omitempty"`
}

// NumberConstant creates a numeric constant.
func NumberConstant(n float64) Constant { return Constant{Kind: ConstNumber, Number: n} }

// StringConstant creates a string constant.
func StringConstant(s string) Constant { return Constant{Kind: ConstString, Str: s} }

// BoolConstant creates a boolean constant.
func BoolConstant(b bool) Constant { return Constant{Kind: ConstBool, Bool: b} }

func (c Constant) String() string {
	switch c.Kind {
	case ConstNumber:
		return fmt.Sprintf("%g", c.Number)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstBool:
		return fmt.Sprintf("%t", c.Bool)
	case ConstNull:
		return "null"
	default:
		return "undefined"
	}
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// versionCounter hands out process-unique program versions. Compiled
// units record the version they were built from so that a rebuilt
// program invalidates them.
var versionCounter atomic.Uint64

// Program is an immutable compiled unit of instructions and constants,
// shared read-only across all execution tiers once sealed. Nested
// function bodies live in Functions and are referenced by index from
// LOAD_FUNCTION instructions.
type Program struct {
	Instructions  []Instruction `cbor:"i"`
	Constants     []Constant    `cbor:"c"`
	RegisterCount int           `cbor:"r"`
	Functions     []*Program    `cbor:"f,omitempty"`
	Version       uint64        `cbor:"v"`

	sealed bool
}

// NewProgram creates an empty, unsealed program builder.
func NewProgram() *Program {
	return &Program{}
}

func (p *Program) mutable() {
	if p.sealed {
		panic("bytecode: mutation of sealed program")
	}
}

// Emit appends an instruction without a source position and returns its index.
func (p *Program) Emit(op Op, a, b, c int32) int {
	p.mutable()
	idx := len(p.Instructions)
	p.Instructions = append(p.Instructions, Instruction{Op: op, A: a, B: b, C: c})
	return idx
}

// EmitSym appends an instruction carrying a symbol operand.
func (p *Program) EmitSym(op Op, a, b int32, sym string) int {
	p.mutable()
	idx := len(p.Instructions)
	p.Instructions = append(p.Instructions, Instruction{Op: op, A: a, B: b, Sym: sym})
	return idx
}

// EmitAt appends an instruction with a source position.
func (p *Program) EmitAt(in Instruction, line, col int32) int {
	p.mutable()
	in.Line = line
	in.Col = col
	idx := len(p.Instructions)
	p.Instructions = append(p.Instructions, in)
	return idx
}

// Patch rewrites the instruction at idx. Used by generators to resolve
// forward jump targets before sealing.
func (p *Program) Patch(idx int, in Instruction) {
	p.mutable()
	p.Instructions[idx] = in
}

// Intern adds a constant to the pool, returning a stable index valid for
// the program's lifetime. Structurally equal constants share one slot.
func (p *Program) Intern(c Constant) int {
	p.mutable()
	for i, existing := range p.Constants {
		if existing == c {
			return i
		}
	}
	p.Constants = append(p.Constants, c)
	return len(p.Constants) - 1
}

// AddFunction registers a nested function body and returns its index.
func (p *Program) AddFunction(fn *Program) int {
	p.mutable()
	idx := len(p.Functions)
	p.Functions = append(p.Functions, fn)
	return idx
}

// Seal freezes the program and stamps its version. Further mutation
// panics. Seal is idempotent.
func (p *Program) Seal() *Program {
	if p.sealed {
		return p
	}
	p.Version = versionCounter.Add(1)
	p.sealed = true
	for _, fn := range p.Functions {
		fn.Seal()
	}
	return p
}

// Sealed reports whether the program is frozen.
func (p *Program) Sealed() bool { return p.sealed }

// Clone returns a deep, unsealed copy. Cloning is how a sealed program
// re-enters the optimizer: the copy gets its own version when resealed.
func (p *Program) Clone() *Program {
	out := &Program{
		Instructions:  append([]Instruction(nil), p.Instructions...),
		Constants:     append([]Constant(nil), p.Constants...),
		RegisterCount: p.RegisterCount,
	}
	for _, fn := range p.Functions {
		out.Functions = append(out.Functions, fn.Clone())
	}
	return out
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// Equal reports structural equality, ignoring version stamps.
func (p *Program) Equal(other *Program) bool {
	if p.RegisterCount != other.RegisterCount ||
		len(p.Instructions) != len(other.Instructions) ||
		len(p.Constants) != len(other.Constants) ||
		len(p.Functions) != len(other.Functions) {
		return false
	}
	for i := range p.Instructions {
		if p.Instructions[i] != other.Instructions[i] {
			return false
		}
	}
	for i := range p.Constants {
		if p.Constants[i] != other.Constants[i] {
			return false
		}
	}
	for i := range p.Functions {
		if !p.Functions[i].Equal(other.Functions[i]) {
			return false
		}
	}
	return true
}

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for i, in := range p.Instructions {
		fmt.Fprintf(&sb, "%04d  %s\n", i, in.String())
	}
	return sb.String()
}
