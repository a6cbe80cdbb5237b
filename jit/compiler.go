package jit

import (
	"github.com/google/uuid"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// promoteFunc is the manager hook a baseline back-edge uses to transfer
// a hot loop into the optimizing tier. ok=false keeps the loop where it
// is.
type promoteFunc func(f *frame, fnID, ip int) (bytecode.Value, bool, error)

// compiler translates one function's bytecode into a handler array.
// The baseline tier (fb == nil) pre-decodes instructions, materializes
// constants, and resolves function references up front while keeping
// the interpreter's full semantics, profiling included. The optimizing
// tier additionally plants speculation: sites whose profile shows a
// dominant numeric type get guarded inline arithmetic, and monomorphic
// property sites get a shape guard in front of a direct slot access.
type compiler struct {
	in      *vm.Interpreter
	fnID    int
	p       *bytecode.Program
	tier    vm.Tier
	fb      *vm.FunctionFeedback
	profile *vm.ProfileData
	caches  *vm.InlineCacheTable
	consts  []bytecode.Value
	promote promoteFunc
}

// newBaselineUnit compiles a function at the baseline tier.
func newBaselineUnit(in *vm.Interpreter, fnID int, promote promoteFunc) (*CompiledUnit, error) {
	p, ok := in.FunctionProgram(fnID)
	if !ok {
		return nil, vm.ErrUnknownFunction
	}
	c := &compiler{
		in:      in,
		fnID:    fnID,
		p:       p,
		tier:    vm.TierBaseline,
		profile: in.Profiles().Get(fnID),
		caches:  in.Caches(fnID),
		promote: promote,
	}
	return c.compile()
}

// newOptimizingUnit compiles a function at the optimizing tier against
// a profile feedback snapshot.
func newOptimizingUnit(in *vm.Interpreter, fnID int, fb vm.FunctionFeedback) (*CompiledUnit, error) {
	p, ok := in.FunctionProgram(fnID)
	if !ok {
		return nil, vm.ErrUnknownFunction
	}
	c := &compiler{
		in:     in,
		fnID:   fnID,
		p:      p,
		tier:   vm.TierOptimizing,
		fb:     &fb,
		caches: in.Caches(fnID),
	}
	return c.compile()
}

func (c *compiler) compile() (*CompiledUnit, error) {
	c.consts = make([]bytecode.Value, len(c.p.Constants))
	for i := range c.p.Constants {
		v, err := c.in.ConstValue(c.p, i)
		if err != nil {
			return nil, err
		}
		c.consts[i] = v
	}

	handlers := make([]handler, len(c.p.Instructions))
	for i, inst := range c.p.Instructions {
		h, err := c.buildHandler(i, inst)
		if err != nil {
			return nil, err
		}
		handlers[i] = h
	}

	return &CompiledUnit{
		ID:             uuid.New(),
		Tier:           c.tier,
		FunctionID:     c.fnID,
		ProgramVersion: c.p.Version,
		handlers:       handlers,
		registerCount:  c.p.RegisterCount,
		osrEntries:     osrEntryPoints(c.p),
	}, nil
}

// speculateNumeric reports whether a site's feedback supports numeric
// speculation.
func (c *compiler) speculateNumeric(site int) bool {
	if c.fb == nil {
		return false
	}
	return c.fb.DominantTypes[site] == vm.TypeNumber
}

// monoSite returns the single shape binding of a monomorphic property
// site, if the snapshot has one.
func (c *compiler) monoSite(site int) (vm.CacheEntry, bool) {
	if c.fb == nil {
		return vm.CacheEntry{}, false
	}
	e, ok := c.fb.MonoSites[site]
	return e, ok
}

// deopt builds a guard-failure constructor for one site. Each failure
// allocates a fresh event since the event carries the live registers of
// the failing invocation.
func (c *compiler) deopt(reason DeoptReason, site int) func() *DeoptEvent {
	fnID := c.fnID
	return func() *DeoptEvent {
		return &DeoptEvent{
			Reason: reason,
			Site:   site,
			Frame:  vm.CallFrame{ReturnAddress: site, FunctionID: fnID},
		}
	}
}

func (c *compiler) buildHandler(i int, inst bytecode.Instruction) (handler, error) {
	next := i + 1
	in := c.in
	heap := in.Heap()

	switch inst.Op {
	case bytecode.OpNop:
		return func(f *frame) (int, bytecode.Value, bool, error) {
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpMove:
		return func(f *frame) (int, bytecode.Value, bool, error) {
			f.set(inst.A, f.get(inst.B))
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpLoadConst:
		if int(inst.B) < 0 || int(inst.B) >= len(c.consts) {
			return nil, vm.ErrCorruptProgram
		}
		v := c.consts[inst.B]
		return func(f *frame) (int, bytecode.Value, bool, error) {
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpLoadUndefined, bytecode.OpLoadNull, bytecode.OpLoadTrue, bytecode.OpLoadFalse:
		v := bytecode.Undefined
		switch inst.Op {
		case bytecode.OpLoadNull:
			v = bytecode.Null
		case bytecode.OpLoadTrue:
			v = bytecode.True
		case bytecode.OpLoadFalse:
			v = bytecode.False
		}
		return func(f *frame) (int, bytecode.Value, bool, error) {
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpLoadFunction:
		id, ok := in.ChildFunction(c.fnID, int(inst.B))
		if !ok {
			return nil, vm.ErrCorruptProgram
		}
		ref := bytecode.FunctionRef(id)
		return func(f *frame) (int, bytecode.Value, bool, error) {
			f.set(inst.A, ref)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpLoadGlobal:
		name := inst.Sym
		return func(f *frame) (int, bytecode.Value, bool, error) {
			v, ok := in.LoadGlobal(name)
			if !ok {
				return 0, bytecode.Undefined, false, vm.NewReferenceError("%s is not defined", name)
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpStoreGlobal:
		name := inst.Sym
		return func(f *frame) (int, bytecode.Value, bool, error) {
			in.StoreGlobal(name, f.get(inst.A))
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpAdd:
		if c.speculateNumeric(i) {
			guard := c.deopt(DeoptTypeGuard, i)
			return func(f *frame) (int, bytecode.Value, bool, error) {
				a, b := f.get(inst.B), f.get(inst.C)
				if !a.IsNumber() || !b.IsNumber() {
					return 0, bytecode.Undefined, false, guard()
				}
				f.set(inst.A, bytecode.Float(a.AsFloat()+b.AsFloat()))
				return next, bytecode.Undefined, false, nil
			}, nil
		}
		return func(f *frame) (int, bytecode.Value, bool, error) {
			a, b := f.get(inst.B), f.get(inst.C)
			c.recordTypes(i, a, b)
			v, err := vm.Add(heap, a, b)
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		op := inst.Op
		if c.speculateNumeric(i) {
			guard := c.deopt(DeoptTypeGuard, i)
			return func(f *frame) (int, bytecode.Value, bool, error) {
				a, b := f.get(inst.B), f.get(inst.C)
				if !a.IsNumber() || !b.IsNumber() {
					return 0, bytecode.Undefined, false, guard()
				}
				v, err := vm.Arith(op, a, b)
				if err != nil {
					return 0, bytecode.Undefined, false, err
				}
				f.set(inst.A, v)
				return next, bytecode.Undefined, false, nil
			}, nil
		}
		return func(f *frame) (int, bytecode.Value, bool, error) {
			a, b := f.get(inst.B), f.get(inst.C)
			c.recordTypes(i, a, b)
			v, err := vm.Arith(op, a, b)
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpNeg:
		return func(f *frame) (int, bytecode.Value, bool, error) {
			v, err := vm.Neg(f.get(inst.B))
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpNot:
		return func(f *frame) (int, bytecode.Value, bool, error) {
			f.set(inst.A, vm.Not(f.get(inst.B)))
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpEqual, bytecode.OpNotEqual:
		negate := inst.Op == bytecode.OpNotEqual
		return func(f *frame) (int, bytecode.Value, bool, error) {
			eq := vm.LooseEquals(heap, f.get(inst.B), f.get(inst.C))
			f.set(inst.A, bytecode.Boolean(eq != negate))
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpStrictEqual, bytecode.OpStrictNotEqual:
		negate := inst.Op == bytecode.OpStrictNotEqual
		return func(f *frame) (int, bytecode.Value, bool, error) {
			eq := vm.StrictEquals(heap, f.get(inst.B), f.get(inst.C))
			f.set(inst.A, bytecode.Boolean(eq != negate))
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpLess, bytecode.OpLessEq, bytecode.OpGreater, bytecode.OpGreaterEq:
		op := inst.Op
		if c.speculateNumeric(i) {
			guard := c.deopt(DeoptTypeGuard, i)
			return func(f *frame) (int, bytecode.Value, bool, error) {
				a, b := f.get(inst.B), f.get(inst.C)
				if !a.IsNumber() || !b.IsNumber() {
					return 0, bytecode.Undefined, false, guard()
				}
				v, err := vm.Compare(heap, op, a, b)
				if err != nil {
					return 0, bytecode.Undefined, false, err
				}
				f.set(inst.A, v)
				return next, bytecode.Undefined, false, nil
			}, nil
		}
		return func(f *frame) (int, bytecode.Value, bool, error) {
			a, b := f.get(inst.B), f.get(inst.C)
			c.recordTypes(i, a, b)
			v, err := vm.Compare(heap, op, a, b)
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpJump:
		return c.buildJump(i, int(inst.A), nil), nil

	case bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse:
		onTrue := inst.Op == bytecode.OpJumpIfTrue
		cond := inst.A
		jump := c.buildJump(i, int(inst.B), nil)
		return func(f *frame) (int, bytecode.Value, bool, error) {
			taken := vm.TruthyIn(heap, f.get(cond)) == onTrue
			if c.profile != nil {
				c.profile.RecordBranch(i, taken)
			}
			if taken {
				return jump(f)
			}
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpReturn:
		return func(f *frame) (int, bytecode.Value, bool, error) {
			return 0, f.get(inst.A), true, nil
		}, nil

	case bytecode.OpCreateObject:
		return func(f *frame) (int, bytecode.Value, bool, error) {
			f.set(inst.A, heap.NewObject())
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpLoadProperty:
		name := inst.Sym
		if entry, ok := c.monoSite(i); ok {
			guard := c.deopt(DeoptShapeGuard, i)
			return func(f *frame) (int, bytecode.Value, bool, error) {
				obj := f.get(inst.B)
				shape, objOK := heap.ShapeOf(obj)
				if !objOK || shape != entry.Shape {
					return 0, bytecode.Undefined, false, guard()
				}
				f.set(inst.A, heap.LoadAt(obj, entry.Offset))
				return next, bytecode.Undefined, false, nil
			}, nil
		}
		cache := c.caches.At(i)
		return func(f *frame) (int, bytecode.Value, bool, error) {
			obj := f.get(inst.B)
			v, err := in.LoadPropertyThrough(cache, obj, name)
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpStoreProperty:
		name := inst.Sym
		if entry, ok := c.monoSite(i); ok {
			guard := c.deopt(DeoptShapeGuard, i)
			return func(f *frame) (int, bytecode.Value, bool, error) {
				obj := f.get(inst.A)
				shape, objOK := heap.ShapeOf(obj)
				if !objOK || shape != entry.Shape {
					return 0, bytecode.Undefined, false, guard()
				}
				heap.StoreAt(obj, entry.Offset, f.get(inst.B))
				return next, bytecode.Undefined, false, nil
			}, nil
		}
		cache := c.caches.At(i)
		return func(f *frame) (int, bytecode.Value, bool, error) {
			err := in.StorePropertyThrough(cache, f.get(inst.A), name, f.get(inst.B))
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			return next, bytecode.Undefined, false, nil
		}, nil

	case bytecode.OpCall:
		callee, argc := inst.B, int(inst.C)
		return func(f *frame) (int, bytecode.Value, bool, error) {
			fn := f.get(callee)
			if !fn.IsFunction() {
				return 0, bytecode.Undefined, false, vm.NewTypeError("%s is not a function", fn.TypeName())
			}
			args := make([]bytecode.Value, argc)
			for j := 0; j < argc; j++ {
				args[j] = f.get(callee + 1 + int32(j))
			}
			v, err := in.CallFunction(f.ctx, fn.FunctionID(), args, f.depth+1)
			if err != nil {
				return 0, bytecode.Undefined, false, err
			}
			f.set(inst.A, v)
			return next, bytecode.Undefined, false, nil
		}, nil
	}

	return nil, vm.ErrUnknownOpcode
}

// buildJump builds the control transfer for a taken jump. Backward
// jumps are safe points: cancellation is honored there, and in the
// baseline tier they feed the hot counter and may hand the loop to the
// optimizing tier.
func (c *compiler) buildJump(site, target int, _ []handler) handler {
	backward := target <= site
	fnID := c.fnID
	in := c.in
	profile := c.profile
	promote := c.promote

	if !backward {
		return func(f *frame) (int, bytecode.Value, bool, error) {
			return target, bytecode.Undefined, false, nil
		}
	}
	return func(f *frame) (int, bytecode.Value, bool, error) {
		if profile != nil {
			in.NoteHotCount(fnID, profile.RecordBackEdge())
		}
		if err := f.ctx.Err(); err != nil {
			return 0, bytecode.Undefined, false, err
		}
		if promote != nil {
			if v, ok, err := promote(f, fnID, target); ok {
				return 0, v, true, err
			}
		}
		return target, bytecode.Undefined, false, nil
	}
}

func (c *compiler) recordTypes(site int, a, b bytecode.Value) {
	if c.profile == nil {
		return
	}
	c.profile.RecordType(site, vm.TypeInfoOf(a))
	c.profile.RecordType(site, vm.TypeInfoOf(b))
}
