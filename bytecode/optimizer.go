package bytecode

// Bytecode optimization passes: dead code elimination, constant folding,
// and peephole rewrites. Every pass preserves externally observable
// results for well-formed input; anything that cannot be proven safe is
// left alone. The optimizer runs on unsealed programs only.

// Optimizer applies optimization passes until a fixpoint or the pass
// budget is exhausted.
type Optimizer struct {
	maxPasses int
}

// NewOptimizer creates an optimizer with the default pass budget.
func NewOptimizer() *Optimizer {
	return &Optimizer{maxPasses: 10}
}

// WithMaxPasses overrides the pass budget.
func (o *Optimizer) WithMaxPasses(max int) *Optimizer {
	o.maxPasses = max
	return o
}

// Optimize runs all passes on the program, then on its nested functions.
func (o *Optimizer) Optimize(p *Program) {
	p.mutable()
	for pass := 0; pass < o.maxPasses; pass++ {
		changed := o.eliminateUnreachableTail(p)
		if o.foldConstants(p) {
			changed = true
		}
		if o.eliminateDoubleNegation(p) {
			changed = true
		}
		if !changed {
			break
		}
	}
	for _, fn := range p.Functions {
		o.Optimize(fn)
	}
}

// reachable computes the set of instruction indices reachable from entry.
func reachable(p *Program) []bool {
	seen := make([]bool, len(p.Instructions))
	if len(seen) == 0 {
		return seen
	}
	work := []int{0}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		if i < 0 || i >= len(seen) || seen[i] {
			continue
		}
		seen[i] = true
		in := p.Instructions[i]
		if t := in.JumpTarget(); t >= 0 {
			work = append(work, t)
		}
		if !in.Op.IsUnconditionalTerminator() {
			work = append(work, i+1)
		}
	}
	return seen
}

// jumpTargets collects every absolute jump target in the program.
func jumpTargets(p *Program) map[int]bool {
	targets := make(map[int]bool)
	for _, in := range p.Instructions {
		if t := in.JumpTarget(); t >= 0 {
			targets[t] = true
		}
	}
	return targets
}

// eliminateUnreachableTail truncates trailing instructions that no path
// reaches. Only the tail is removed so every surviving jump target keeps
// its index.
func (o *Optimizer) eliminateUnreachableTail(p *Program) bool {
	seen := reachable(p)
	last := -1
	for i, ok := range seen {
		if ok {
			last = i
		}
	}
	if last+1 >= len(p.Instructions) {
		return false
	}
	p.Instructions = p.Instructions[:last+1]
	return true
}

// foldConstants rewrites an arithmetic instruction whose operands were
// just loaded from numeric constants into a direct constant load. The
// operand loads stay in place since their registers may be read later;
// only the arithmetic itself is replaced, so the rewrite cannot change
// any observable result.
func (o *Optimizer) foldConstants(p *Program) bool {
	if len(p.Instructions) < 3 {
		return false
	}
	targets := jumpTargets(p)
	changed := false

	for i := 0; i+2 < len(p.Instructions); i++ {
		a, b, op := p.Instructions[i], p.Instructions[i+1], p.Instructions[i+2]
		if a.Op != OpLoadConst || b.Op != OpLoadConst || !op.Op.IsBinaryArithmetic() {
			continue
		}
		if op.Op == OpLoadConst {
			continue
		}
		// A jump landing between the loads and the operation breaks the
		// straight-line assumption.
		if targets[i+1] || targets[i+2] {
			continue
		}
		// An operand resolves against load b first: when both loads write
		// the same register, the second one holds the runtime value.
		regConst := func(reg int32) (Constant, bool) {
			if reg == b.A {
				return p.Constants[b.B], true
			}
			if reg == a.A {
				return p.Constants[a.B], true
			}
			return Constant{}, false
		}
		ca, okA := regConst(op.B)
		cb, okB := regConst(op.C)
		if !okA || !okB {
			continue
		}
		if ca.Kind != ConstNumber || cb.Kind != ConstNumber {
			continue
		}
		folded, ok := foldArith(op.Op, ca.Number, cb.Number)
		if !ok {
			continue
		}
		idx := p.Intern(NumberConstant(folded))
		p.Instructions[i+2] = Instruction{
			Op: OpLoadConst, A: op.A, B: int32(idx),
			Line: op.Line, Col: op.Col,
		}
		changed = true
	}
	return changed
}

// foldArith evaluates a binary arithmetic op with the same float64
// semantics the interpreter uses, so folding is observation-equivalent.
// Division and modulo by zero are left to the runtime.
func foldArith(op Op, x, y float64) (float64, bool) {
	switch op {
	case OpAdd:
		return x + y, true
	case OpSub:
		return x - y, true
	case OpMul:
		return x * y, true
	case OpDiv:
		if y == 0 {
			return 0, false
		}
		return x / y, true
	case OpMod:
		if y == 0 {
			return 0, false
		}
		return floatMod(x, y), true
	}
	return 0, false
}

// eliminateDoubleNegation rewrites the second of two chained negations
// into a move from the original register. The first negation is kept: if
// its operand is not numeric it must still throw.
func (o *Optimizer) eliminateDoubleNegation(p *Program) bool {
	if len(p.Instructions) < 2 {
		return false
	}
	targets := jumpTargets(p)
	changed := false
	for i := 0; i+1 < len(p.Instructions); i++ {
		first, second := p.Instructions[i], p.Instructions[i+1]
		if first.Op != OpNeg || second.Op != OpNeg {
			continue
		}
		if targets[i+1] || second.B != first.A {
			continue
		}
		p.Instructions[i+1] = Instruction{
			Op: OpMove, A: second.A, B: first.B,
			Line: second.Line, Col: second.Col,
		}
		changed = true
	}
	return changed
}
