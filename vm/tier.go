package vm

import (
	"context"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
)

// Tier identifies an execution tier.
type Tier uint8

const (
	TierInterpreter Tier = iota
	TierBaseline
	TierOptimizing
)

func (t Tier) String() string {
	switch t {
	case TierInterpreter:
		return "interpreter"
	case TierBaseline:
		return "baseline"
	case TierOptimizing:
		return "optimizing"
	}
	return "invalid"
}

// CompileRequest asks the compilation pipeline for a unit at a target
// tier. Requests are emitted at most once per threshold crossing.
type CompileRequest struct {
	FunctionID int
	Target     Tier
}

// CompileRequester receives compile requests from the profiling
// interpreter. Implementations must not block the requesting thread.
type CompileRequester interface {
	RequestCompile(req CompileRequest)
}

// Dispatcher routes a call to the best installed tier for a function.
// The second result is false when no compiled unit is installed, in
// which case the caller interprets the function itself.
type Dispatcher interface {
	Execute(ctx context.Context, in *Interpreter, fnID int, args []bytecode.Value, depth int) (bytecode.Value, bool, error)
}

// LoopPromoter attempts on-stack replacement at a loop back-edge. When
// it succeeds the compiled unit runs the function to completion and the
// first result is the function's return value; ok=false means the
// interpreter keeps the loop.
type LoopPromoter interface {
	TryPromote(ctx context.Context, in *Interpreter, fnID int, ec *ExecutionContext, depth int) (bytecode.Value, bool, error)
}
