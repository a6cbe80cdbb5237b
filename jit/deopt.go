package jit

import (
	"context"
	"fmt"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// DeoptReason classifies why optimized code bailed out.
type DeoptReason uint8

const (
	DeoptTypeGuard DeoptReason = iota
	DeoptShapeGuard
)

func (r DeoptReason) String() string {
	switch r {
	case DeoptTypeGuard:
		return "type-guard"
	case DeoptShapeGuard:
		return "shape-guard"
	}
	return "unknown"
}

// DeoptEvent is raised by a failed speculation guard. It travels as an
// error out of the compiled unit and carries everything needed to
// rebuild the interpreter state at the faulting instruction: the frame
// record of the invocation and the live registers.
type DeoptEvent struct {
	Reason DeoptReason
	Site   int // instruction index of the failed guard
	Frame  vm.CallFrame

	Registers []bytecode.Value
}

func (d *DeoptEvent) Error() string {
	return fmt.Sprintf("deopt at %d: %s", d.Site, d.Reason)
}

// deoptimize reconstructs an interpreter context at the failed guard
// and resumes there. The guard fails before its instruction has any
// effect, so re-running the instruction in the interpreter yields
// exactly the unspeculated behavior.
func deoptimize(ctx context.Context, in *vm.Interpreter, d *DeoptEvent, depth int) (bytecode.Value, error) {
	p, ok := in.FunctionProgram(d.Frame.FunctionID)
	if !ok {
		return bytecode.Undefined, vm.ErrUnknownFunction
	}
	ec := vm.NewExecutionContext(p)
	ec.Registers = d.Registers
	ec.IP = d.Site
	return in.Resume(ctx, d.Frame.FunctionID, ec, depth)
}
