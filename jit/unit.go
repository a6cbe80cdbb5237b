// Package jit implements the compiled execution tiers: a baseline tier
// of pre-decoded instruction handlers, a speculative optimizing tier
// guided by profile feedback, on-stack replacement at hot loop heads,
// and the deoptimizer that falls back to the interpreter when a
// speculation guard fails.
package jit

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// frame is the mutable state of one compiled-tier invocation. Compiled
// handlers read and write registers directly; everything else goes back
// through the interpreter's bridge so all tiers share one semantics.
type frame struct {
	ctx   context.Context
	in    *vm.Interpreter
	regs  []bytecode.Value
	depth int
}

func (f *frame) get(i int32) bytecode.Value {
	if int(i) < 0 || int(i) >= len(f.regs) {
		return bytecode.Undefined
	}
	return f.regs[i]
}

func (f *frame) set(i int32, v bytecode.Value) {
	if i < 0 {
		return
	}
	for int(i) >= len(f.regs) {
		f.regs = append(f.regs, bytecode.Undefined)
	}
	f.regs[i] = v
}

// handler executes one pre-decoded instruction. next is the index of
// the instruction to run after it; done reports that the invocation
// finished with ret.
type handler func(f *frame) (next int, ret bytecode.Value, done bool, err error)

// CompiledUnit is one function compiled at one tier against one program
// version. Units are immutable after construction; installation and
// replacement happen through atomic pointers in the manager.
type CompiledUnit struct {
	ID             uuid.UUID
	Tier           vm.Tier
	FunctionID     int
	ProgramVersion uint64

	handlers      []handler
	registerCount int

	// osrEntries marks instruction indices (backward jump targets) at
	// which an interpreter frame may enter this unit mid-invocation.
	osrEntries map[int]bool

	invocations atomic.Uint64
	deopts      atomic.Uint64
}

// CanEnterAt reports whether the unit accepts an on-stack transfer at
// the given instruction index.
func (u *CompiledUnit) CanEnterAt(ip int) bool { return u.osrEntries[ip] }

// Invocations returns how many times the unit has been entered.
func (u *CompiledUnit) Invocations() uint64 { return u.invocations.Load() }

// Deopts returns how many times the unit has bailed out.
func (u *CompiledUnit) Deopts() uint64 { return u.deopts.Load() }

// run executes the unit from an instruction index until the function
// completes, a handler fails, or a guard requests deoptimization.
func (u *CompiledUnit) run(f *frame, start int) (bytecode.Value, error) {
	u.invocations.Add(1)
	ip := start
	for {
		if ip < 0 || ip >= len(u.handlers) {
			return bytecode.Undefined, nil
		}
		next, ret, done, err := u.handlers[ip](f)
		if err != nil {
			if d, ok := err.(*DeoptEvent); ok {
				d.Registers = f.regs
				u.deopts.Add(1)
			}
			return bytecode.Undefined, err
		}
		if done {
			return ret, nil
		}
		ip = next
	}
}

// newFrame builds a frame for a fresh invocation of the unit. The
// register file grows past the declared count when the caller passes
// more operands, same as the interpreter's context does.
func (u *CompiledUnit) newFrame(ctx context.Context, in *vm.Interpreter, args []bytecode.Value, depth int) *frame {
	n := u.registerCount
	if len(args) > n {
		n = len(args)
	}
	regs := make([]bytecode.Value, n)
	for i := range regs {
		regs[i] = bytecode.Undefined
	}
	copy(regs, args)
	return &frame{ctx: ctx, in: in, regs: regs, depth: depth}
}

// osrEntryPoints returns the set of backward jump targets in a program.
// Those are the only indices where an interpreter loop can be standing
// when promotion is attempted.
func osrEntryPoints(p *bytecode.Program) map[int]bool {
	entries := make(map[int]bool)
	for i, inst := range p.Instructions {
		if t := inst.JumpTarget(); t >= 0 && t <= i {
			entries[t] = true
		}
	}
	return entries
}
