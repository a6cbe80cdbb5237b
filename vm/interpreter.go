package vm

import (
	"context"
	"sync"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
)

// DefaultMaxCallDepth bounds recursion before a RangeError is thrown.
const DefaultMaxCallDepth = 1000

// Interpreter is the tier-0 execution engine. It walks register
// bytecode directly, collecting the profile feedback the compiled tiers
// are built from: hot counts, per-site operand types, branch outcomes,
// and property-access shapes via inline caches.
//
// One Interpreter serves one isolate. Programs are registered once and
// assigned stable function IDs; all side tables (profiles, caches,
// compiled units) key off those IDs.
type Interpreter struct {
	heap       Heap
	profiles   *ProfileStore
	thresholds Thresholds
	requester  CompileRequester
	dispatcher Dispatcher
	promoter   LoopPromoter

	maxDepth int
	icLimit  int

	mu        sync.RWMutex
	functions []*bytecode.Program
	progIDs   map[*bytecode.Program]int
	children  map[int][]int // function ID -> IDs of its nested functions
	caches    map[int]*InlineCacheTable
	globals   map[string]bytecode.Value
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithThresholds overrides the tier promotion thresholds.
func WithThresholds(t Thresholds) InterpreterOption {
	return func(in *Interpreter) { in.thresholds = t }
}

// WithMaxCallDepth overrides the recursion bound.
func WithMaxCallDepth(n int) InterpreterOption {
	return func(in *Interpreter) { in.maxDepth = n }
}

// WithPolymorphicLimit overrides the inline cache entry limit.
func WithPolymorphicLimit(n int) InterpreterOption {
	return func(in *Interpreter) { in.icLimit = n }
}

// WithCompileRequester attaches the compile request sink.
func WithCompileRequester(r CompileRequester) InterpreterOption {
	return func(in *Interpreter) { in.requester = r }
}

// WithDispatcher attaches the tier dispatcher.
func WithDispatcher(d Dispatcher) InterpreterOption {
	return func(in *Interpreter) { in.dispatcher = d }
}

// WithLoopPromoter attaches the on-stack replacement hook.
func WithLoopPromoter(p LoopPromoter) InterpreterOption {
	return func(in *Interpreter) { in.promoter = p }
}

// NewInterpreter creates an interpreter bound to a heap.
func NewInterpreter(heap Heap, opts ...InterpreterOption) *Interpreter {
	in := &Interpreter{
		heap:       heap,
		profiles:   NewProfileStore(),
		thresholds: DefaultThresholds(),
		maxDepth:   DefaultMaxCallDepth,
		icLimit:    DefaultPolymorphicLimit,
		progIDs:    make(map[*bytecode.Program]int),
		children:   make(map[int][]int),
		caches:     make(map[int]*InlineCacheTable),
		globals:    make(map[string]bytecode.Value),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Heap returns the interpreter's heap collaborator.
func (in *Interpreter) Heap() Heap { return in.heap }

// Profiles returns the profile store shared with the compiled tiers.
func (in *Interpreter) Profiles() *ProfileStore { return in.profiles }

// TierThresholds returns the promotion thresholds in effect.
func (in *Interpreter) TierThresholds() Thresholds { return in.thresholds }

// RegisterProgram assigns function IDs to a program and, recursively,
// its nested functions. Registration is idempotent: registering the
// same program again returns the ID it already has. The program must be
// sealed so its bytecode cannot change under installed side tables.
func (in *Interpreter) RegisterProgram(p *bytecode.Program) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.registerLocked(p)
}

func (in *Interpreter) registerLocked(p *bytecode.Program) int {
	if id, ok := in.progIDs[p]; ok {
		return id
	}
	if !p.Sealed() {
		p.Seal()
	}
	id := len(in.functions)
	in.functions = append(in.functions, p)
	in.progIDs[p] = id
	kids := make([]int, len(p.Functions))
	for i, fn := range p.Functions {
		kids[i] = in.registerLocked(fn)
	}
	in.children[id] = kids
	return id
}

// FunctionProgram returns the program registered under a function ID.
func (in *Interpreter) FunctionProgram(fnID int) (*bytecode.Program, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if fnID < 0 || fnID >= len(in.functions) {
		return nil, false
	}
	return in.functions[fnID], true
}

// Caches returns the inline cache table for a function.
func (in *Interpreter) Caches(fnID int) *InlineCacheTable {
	in.mu.Lock()
	defer in.mu.Unlock()
	t := in.caches[fnID]
	if t == nil {
		t = NewInlineCacheTable(in.icLimit)
		in.caches[fnID] = t
	}
	return t
}

// LoadGlobal reads a global binding.
func (in *Interpreter) LoadGlobal(name string) (bytecode.Value, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	v, ok := in.globals[name]
	return v, ok
}

// StoreGlobal writes a global binding, creating it if absent.
func (in *Interpreter) StoreGlobal(name string, v bytecode.Value) {
	in.mu.Lock()
	in.globals[name] = v
	in.mu.Unlock()
}

// Execute registers a program if needed and runs it to completion.
func (in *Interpreter) Execute(ctx context.Context, p *bytecode.Program) (bytecode.Value, error) {
	fnID := in.RegisterProgram(p)
	return in.CallFunction(ctx, fnID, nil, 0)
}

// CallFunction invokes a registered function. It counts the invocation,
// emits a compile request exactly at each threshold crossing, and routes
// through the dispatcher when a compiled unit is installed.
func (in *Interpreter) CallFunction(ctx context.Context, fnID int, args []bytecode.Value, depth int) (bytecode.Value, error) {
	if depth >= in.maxDepth {
		return bytecode.Undefined, NewRangeError("maximum call stack size exceeded")
	}
	p, ok := in.FunctionProgram(fnID)
	if !ok {
		return bytecode.Undefined, ErrUnknownFunction
	}

	count := in.profiles.Get(fnID).RecordInvocation()
	in.maybeRequestCompile(fnID, count)

	if in.dispatcher != nil {
		if v, handled, err := in.dispatcher.Execute(ctx, in, fnID, args, depth); handled {
			return v, err
		}
	}

	ec := NewExecutionContext(p)
	for i, a := range args {
		ec.SetRegister(i, a)
	}
	return in.Resume(ctx, fnID, ec, depth)
}

// maybeRequestCompile emits a compile request when the count sits
// exactly on a threshold. The counter is advanced one step at a time by
// the single thread running the function, so each crossing is seen by
// exactly one increment.
func (in *Interpreter) maybeRequestCompile(fnID int, count uint64) {
	if in.requester == nil {
		return
	}
	switch count {
	case in.thresholds.Baseline:
		in.requester.RequestCompile(CompileRequest{FunctionID: fnID, Target: TierBaseline})
	case in.thresholds.Optimizing:
		in.requester.RequestCompile(CompileRequest{FunctionID: fnID, Target: TierOptimizing})
	}
}

// Resume interprets a context until the function completes or fails.
// The context may start mid-program: the deoptimizer builds one at the
// faulting instruction and hands it here to continue without any
// observable difference.
func (in *Interpreter) Resume(ctx context.Context, fnID int, ec *ExecutionContext, depth int) (bytecode.Value, error) {
	profile := in.profiles.Get(fnID)
	caches := in.Caches(fnID)
	p := ec.Program()

	for {
		site := ec.IP
		inst, more := ec.Fetch()
		if !more {
			// Fell off the end of the instruction stream.
			return bytecode.Undefined, nil
		}

		switch inst.Op {
		case bytecode.OpNop:

		case bytecode.OpMove:
			ec.SetRegister(int(inst.A), ec.GetRegister(int(inst.B)))

		case bytecode.OpLoadConst:
			v, err := in.constValue(p, int(inst.B))
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpLoadUndefined:
			ec.SetRegister(int(inst.A), bytecode.Undefined)
		case bytecode.OpLoadNull:
			ec.SetRegister(int(inst.A), bytecode.Null)
		case bytecode.OpLoadTrue:
			ec.SetRegister(int(inst.A), bytecode.True)
		case bytecode.OpLoadFalse:
			ec.SetRegister(int(inst.A), bytecode.False)

		case bytecode.OpLoadFunction:
			id, ok := in.childFunction(fnID, int(inst.B))
			if !ok {
				return bytecode.Undefined, ErrCorruptProgram
			}
			ec.SetRegister(int(inst.A), bytecode.FunctionRef(id))

		case bytecode.OpLoadGlobal:
			v, ok := in.LoadGlobal(inst.Sym)
			if !ok {
				return bytecode.Undefined, NewReferenceError("%s is not defined", inst.Sym)
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpStoreGlobal:
			in.StoreGlobal(inst.Sym, ec.GetRegister(int(inst.A)))

		case bytecode.OpAdd:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			profile.RecordType(site, TypeInfoOf(a))
			profile.RecordType(site, TypeInfoOf(b))
			v, err := Add(in.heap, a, b)
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			profile.RecordType(site, TypeInfoOf(a))
			profile.RecordType(site, TypeInfoOf(b))
			v, err := Arith(inst.Op, a, b)
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpNeg:
			v, err := Neg(ec.GetRegister(int(inst.B)))
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpNot:
			ec.SetRegister(int(inst.A), Not(ec.GetRegister(int(inst.B))))

		case bytecode.OpEqual:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			ec.SetRegister(int(inst.A), bytecode.Boolean(LooseEquals(in.heap, a, b)))
		case bytecode.OpNotEqual:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			ec.SetRegister(int(inst.A), bytecode.Boolean(!LooseEquals(in.heap, a, b)))
		case bytecode.OpStrictEqual:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			ec.SetRegister(int(inst.A), bytecode.Boolean(StrictEquals(in.heap, a, b)))
		case bytecode.OpStrictNotEqual:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			ec.SetRegister(int(inst.A), bytecode.Boolean(!StrictEquals(in.heap, a, b)))

		case bytecode.OpLess, bytecode.OpLessEq, bytecode.OpGreater, bytecode.OpGreaterEq:
			a, b := ec.GetRegister(int(inst.B)), ec.GetRegister(int(inst.C))
			profile.RecordType(site, TypeInfoOf(a))
			profile.RecordType(site, TypeInfoOf(b))
			v, err := Compare(in.heap, inst.Op, a, b)
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpJump:
			if v, done, err := in.takeJump(ctx, fnID, profile, ec, site, int(inst.A), depth); done {
				return v, err
			}

		case bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse:
			cond := TruthyIn(in.heap, ec.GetRegister(int(inst.A)))
			taken := cond == (inst.Op == bytecode.OpJumpIfTrue)
			profile.RecordBranch(site, taken)
			if taken {
				if v, done, err := in.takeJump(ctx, fnID, profile, ec, site, int(inst.B), depth); done {
					return v, err
				}
			}

		case bytecode.OpReturn:
			return ec.GetRegister(int(inst.A)), nil

		case bytecode.OpCreateObject:
			ec.SetRegister(int(inst.A), in.heap.NewObject())

		case bytecode.OpLoadProperty:
			obj := ec.GetRegister(int(inst.B))
			v, err := in.loadProperty(caches.At(site), obj, inst.Sym)
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		case bytecode.OpStoreProperty:
			obj := ec.GetRegister(int(inst.A))
			if err := in.storeProperty(caches.At(site), obj, inst.Sym, ec.GetRegister(int(inst.B))); err != nil {
				return bytecode.Undefined, err
			}

		case bytecode.OpCall:
			callee := ec.GetRegister(int(inst.B))
			if !callee.IsFunction() {
				return bytecode.Undefined, NewTypeError("%s is not a function", callee.TypeName())
			}
			argc := int(inst.C)
			args := make([]bytecode.Value, argc)
			for i := 0; i < argc; i++ {
				args[i] = ec.GetRegister(int(inst.B) + 1 + i)
			}
			v, err := in.CallFunction(ctx, callee.FunctionID(), args, depth+1)
			if err != nil {
				return bytecode.Undefined, err
			}
			ec.SetRegister(int(inst.A), v)

		default:
			return bytecode.Undefined, ErrUnknownOpcode
		}
	}
}

// takeJump performs a control transfer. A backward branch is a safe
// point: it counts toward promotion, honors cancellation, and offers
// the rest of the invocation to an installed on-stack replacement
// entry. done=true means the invocation finished inside compiled code.
func (in *Interpreter) takeJump(ctx context.Context, fnID int, profile *ProfileData, ec *ExecutionContext, site, target, depth int) (bytecode.Value, bool, error) {
	ec.IP = target
	if target > site {
		return bytecode.Undefined, false, nil
	}
	count := profile.RecordBackEdge()
	in.maybeRequestCompile(fnID, count)
	if err := ctx.Err(); err != nil {
		return bytecode.Undefined, true, err
	}
	if in.promoter != nil {
		if v, ok, err := in.promoter.TryPromote(ctx, in, fnID, ec, depth); ok {
			return v, true, err
		}
	}
	return bytecode.Undefined, false, nil
}

// loadProperty reads a property through the site's inline cache.
// Missing properties read as undefined.
func (in *Interpreter) loadProperty(cache *InlineCache, obj bytecode.Value, name string) (bytecode.Value, error) {
	if !obj.IsObject() {
		return bytecode.Undefined, NewTypeError(
			"cannot read property %q of %s", name, obj.TypeName())
	}
	if shape, ok := in.heap.ShapeOf(obj); ok {
		if off, hit := cache.Lookup(shape); hit {
			return in.heap.LoadAt(obj, off), nil
		}
		if off, found := in.heap.PropertyOffset(obj, name); found {
			cache.Record(shape, off)
			return in.heap.LoadAt(obj, off), nil
		}
	}
	return bytecode.Undefined, nil
}

// storeProperty writes a property through the site's inline cache. A
// write to an existing slot keeps the shape; a new property transitions
// it, so nothing is recorded for the old shape.
func (in *Interpreter) storeProperty(cache *InlineCache, obj bytecode.Value, name string, v bytecode.Value) error {
	if !obj.IsObject() {
		return NewTypeError("cannot set property %q of %s", name, obj.TypeName())
	}
	if shape, ok := in.heap.ShapeOf(obj); ok {
		if off, hit := cache.Lookup(shape); hit {
			in.heap.StoreAt(obj, off, v)
			return nil
		}
		if off, found := in.heap.PropertyOffset(obj, name); found {
			cache.Record(shape, off)
			in.heap.StoreAt(obj, off, v)
			return nil
		}
	}
	in.heap.DefineProperty(obj, name, v)
	return nil
}

// childFunction resolves a program-local function index to its global ID.
func (in *Interpreter) childFunction(fnID, index int) (int, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	kids := in.children[fnID]
	if index < 0 || index >= len(kids) {
		return 0, false
	}
	return kids[index], true
}

// constValue materializes a wire constant as a runtime value. String
// constants intern through the heap.
func (in *Interpreter) constValue(p *bytecode.Program, index int) (bytecode.Value, error) {
	if index < 0 || index >= len(p.Constants) {
		return bytecode.Undefined, ErrCorruptProgram
	}
	c := p.Constants[index]
	switch c.Kind {
	case bytecode.ConstNumber:
		return bytecode.Float(c.Number), nil
	case bytecode.ConstString:
		return in.heap.InternString(c.Str), nil
	case bytecode.ConstBool:
		return bytecode.Boolean(c.Bool), nil
	case bytecode.ConstNull:
		return bytecode.Null, nil
	case bytecode.ConstUndefined:
		return bytecode.Undefined, nil
	}
	return bytecode.Undefined, ErrCorruptProgram
}
