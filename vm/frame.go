package vm

// CallFrame records one function invocation: where to resume in the
// caller, the first caller register holding call operands, and which
// function is running. Invocations nest on the host stack; the frame
// record exists so a deoptimizing tier can name the invocation it is
// reconstructing.
type CallFrame struct {
	ReturnAddress int // instruction index in the caller
	BaseRegister  int // caller register holding the callee operand
	FunctionID    int
}
