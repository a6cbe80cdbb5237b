package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Op identifies a single bytecode operation. The set is closed: the
// interpreter dispatches through one exhaustive switch and treats any
// value outside this set as a fatal internal fault.
type Op uint8

// Literals and register moves
const (
	OpNop           Op = 0x00 // no operation
	OpMove          Op = 0x01 // A=dst, B=src
	OpLoadConst     Op = 0x02 // A=dst, B=constant index
	OpLoadUndefined Op = 0x03 // A=dst
	OpLoadNull      Op = 0x04 // A=dst
	OpLoadTrue      Op = 0x05 // A=dst
	OpLoadFalse     Op = 0x06 // A=dst
	OpLoadFunction  Op = 0x07 // A=dst, B=function table index
)

// Globals
const (
	OpLoadGlobal  Op = 0x10 // A=dst, Sym=name
	OpStoreGlobal Op = 0x11 // A=src, Sym=name
)

// Arithmetic
const (
	OpAdd Op = 0x20 // A=dst, B, C
	OpSub Op = 0x21 // A=dst, B, C
	OpMul Op = 0x22 // A=dst, B, C
	OpDiv Op = 0x23 // A=dst, B, C
	OpMod Op = 0x24 // A=dst, B, C
	OpNeg Op = 0x25 // A=dst, B
	OpNot Op = 0x26 // A=dst, B
)

// Comparison
const (
	OpEqual          Op = 0x30 // A=dst, B, C (==)
	OpStrictEqual    Op = 0x31 // A=dst, B, C (===)
	OpNotEqual       Op = 0x32 // A=dst, B, C (!=)
	OpStrictNotEqual Op = 0x33 // A=dst, B, C (!==)
	OpLess           Op = 0x34 // A=dst, B, C (<)
	OpLessEq         Op = 0x35 // A=dst, B, C (<=)
	OpGreater        Op = 0x36 // A=dst, B, C (>)
	OpGreaterEq      Op = 0x37 // A=dst, B, C (>=)
)

// Control flow. Jump targets are absolute instruction indices; a taken
// jump whose target does not exceed the current index is a backward
// (loop) branch and counts as a safe point.
const (
	OpJump        Op = 0x40 // A=target
	OpJumpIfTrue  Op = 0x41 // A=cond, B=target
	OpJumpIfFalse Op = 0x42 // A=cond, B=target
	OpReturn      Op = 0x43 // A=result register
)

// Objects and calls
const (
	OpCreateObject  Op = 0x50 // A=dst
	OpLoadProperty  Op = 0x51 // A=dst, B=object, Sym=name
	OpStoreProperty Op = 0x52 // A=object, B=src, Sym=name
	OpCall          Op = 0x53 // A=dst, B=callee, C=argc (args in B+1..B+C)
)

// OpInfo holds metadata about an opcode.
type OpInfo struct {
	Name   string // human-readable name
	HasSym bool   // true if the instruction carries a symbol operand
}

var opTable = map[Op]OpInfo{
	OpNop:           {"NOP", false},
	OpMove:          {"MOVE", false},
	OpLoadConst:     {"LOAD_CONST", false},
	OpLoadUndefined: {"LOAD_UNDEFINED", false},
	OpLoadNull:      {"LOAD_NULL", false},
	OpLoadTrue:      {"LOAD_TRUE", false},
	OpLoadFalse:     {"LOAD_FALSE", false},
	OpLoadFunction:  {"LOAD_FUNCTION", false},

	OpLoadGlobal:  {"LOAD_GLOBAL", true},
	OpStoreGlobal: {"STORE_GLOBAL", true},

	OpAdd: {"ADD", false},
	OpSub: {"SUB", false},
	OpMul: {"MUL", false},
	OpDiv: {"DIV", false},
	OpMod: {"MOD", false},
	OpNeg: {"NEG", false},
	OpNot: {"NOT", false},

	OpEqual:          {"EQUAL", false},
	OpStrictEqual:    {"STRICT_EQUAL", false},
	OpNotEqual:       {"NOT_EQUAL", false},
	OpStrictNotEqual: {"STRICT_NOT_EQUAL", false},
	OpLess:           {"LESS", false},
	OpLessEq:         {"LESS_EQ", false},
	OpGreater:        {"GREATER", false},
	OpGreaterEq:      {"GREATER_EQ", false},

	OpJump:        {"JUMP", false},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", false},
	OpJumpIfFalse: {"JUMP_IF_FALSE", false},
	OpReturn:      {"RETURN", false},

	OpCreateObject:  {"CREATE_OBJECT", false},
	OpLoadProperty:  {"LOAD_PROPERTY", true},
	OpStoreProperty: {"STORE_PROPERTY", true},
	OpCall:          {"CALL", false},
}

// Info returns the metadata for an opcode.
func (op Op) Info() OpInfo {
	if info, ok := opTable[op]; ok {
		return info
	}
	return OpInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

// Known reports whether op belongs to the closed opcode set.
func (op Op) Known() bool {
	_, ok := opTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Op) String() string { return op.Info().Name }

// IsBinaryArithmetic reports whether op is a foldable two-operand
// arithmetic operation.
func (op Op) IsBinaryArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return true
	}
	return false
}

// IsComparison reports whether op is a two-operand comparison.
func (op Op) IsComparison() bool {
	switch op {
	case OpEqual, OpStrictEqual, OpNotEqual, OpStrictNotEqual,
		OpLess, OpLessEq, OpGreater, OpGreaterEq:
		return true
	}
	return false
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool {
	switch op {
	case OpReturn, OpJump, OpJumpIfTrue, OpJumpIfFalse:
		return true
	}
	return false
}

// IsUnconditionalTerminator reports whether control never falls through op.
func (op Op) IsUnconditionalTerminator() bool {
	return op == OpReturn || op == OpJump
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is a single decoded bytecode instruction. Operand meaning
// depends on the opcode; Sym carries property and global names. Line zero
// means no source position is attached.
type Instruction struct {
	Op   Op     `cbor:"o"`
	A    int32  `cbor:"a,omitempty"`
	B    int32  `cbor:"b,omitempty"`
	C    int32  `cbor:"c,omitempty"`
	Sym  string `cbor:"s,omitempty"`
	Line int32  `cbor:"l,omitempty"`
	Col  int32  `cbor:"m,omitempty"`
}

// HasPosition reports whether the instruction carries a source position.
func (in Instruction) HasPosition() bool { return in.Line > 0 }

// JumpTarget returns the absolute target index of a control-transfer
// instruction, or -1 for instructions that do not jump.
func (in Instruction) JumpTarget() int {
	switch in.Op {
	case OpJump:
		return int(in.A)
	case OpJumpIfTrue, OpJumpIfFalse:
		return int(in.B)
	}
	return -1
}

// String returns a disassembly of the instruction.
func (in Instruction) String() string {
	info := in.Op.Info()
	switch in.Op {
	case OpNop, OpReturn, OpCreateObject, OpLoadUndefined, OpLoadNull, OpLoadTrue, OpLoadFalse:
		return fmt.Sprintf("%s r%d", info.Name, in.A)
	case OpJump:
		return fmt.Sprintf("%s -> %d", info.Name, in.A)
	case OpJumpIfTrue, OpJumpIfFalse:
		return fmt.Sprintf("%s r%d -> %d", info.Name, in.A, in.B)
	case OpMove, OpNeg, OpNot, OpLoadConst, OpLoadFunction:
		return fmt.Sprintf("%s r%d, %d", info.Name, in.A, in.B)
	case OpLoadGlobal, OpStoreGlobal:
		return fmt.Sprintf("%s r%d, %q", info.Name, in.A, in.Sym)
	case OpLoadProperty, OpStoreProperty:
		return fmt.Sprintf("%s r%d, r%d, %q", info.Name, in.A, in.B, in.Sym)
	case OpCall:
		return fmt.Sprintf("%s r%d, r%d, argc=%d", info.Name, in.A, in.B, in.C)
	default:
		return fmt.Sprintf("%s r%d, r%d, r%d", info.Name, in.A, in.B, in.C)
	}
}
