package vm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
)

// testHeap is a minimal Heap for interpreter tests: insertion-order
// shapes, slot objects, interned strings.
type testHeap struct {
	objects   []*testObject
	strings   []string
	stringIDs map[string]uint64
	shapes    map[string]ShapeID
	nextShape ShapeID
}

type testObject struct {
	names   []string
	offsets map[string]uint32
	slots   []bytecode.Value
	shape   ShapeID
}

func newTestHeap() *testHeap {
	return &testHeap{
		stringIDs: make(map[string]uint64),
		shapes:    make(map[string]ShapeID),
		nextShape: 1,
	}
}

func (h *testHeap) shapeFor(key string) ShapeID {
	if id, ok := h.shapes[key]; ok {
		return id
	}
	id := h.nextShape
	h.nextShape++
	h.shapes[key] = id
	return id
}

func (h *testHeap) NewObject() bytecode.Value {
	obj := &testObject{offsets: make(map[string]uint32), shape: h.shapeFor("")}
	h.objects = append(h.objects, obj)
	return bytecode.ObjectHandle(uint64(len(h.objects) - 1))
}

func (h *testHeap) object(v bytecode.Value) *testObject {
	if !v.IsObject() || v.Handle() >= uint64(len(h.objects)) {
		return nil
	}
	return h.objects[v.Handle()]
}

func (h *testHeap) ShapeOf(v bytecode.Value) (ShapeID, bool) {
	obj := h.object(v)
	if obj == nil {
		return 0, false
	}
	return obj.shape, true
}

func (h *testHeap) PropertyOffset(v bytecode.Value, name string) (uint32, bool) {
	obj := h.object(v)
	if obj == nil {
		return 0, false
	}
	off, ok := obj.offsets[name]
	return off, ok
}

func (h *testHeap) LoadAt(v bytecode.Value, offset uint32) bytecode.Value {
	obj := h.object(v)
	if obj == nil || int(offset) >= len(obj.slots) {
		return bytecode.Undefined
	}
	return obj.slots[offset]
}

func (h *testHeap) StoreAt(v bytecode.Value, offset uint32, val bytecode.Value) {
	obj := h.object(v)
	if obj != nil && int(offset) < len(obj.slots) {
		obj.slots[offset] = val
	}
}

func (h *testHeap) DefineProperty(v bytecode.Value, name string, val bytecode.Value) {
	obj := h.object(v)
	if obj == nil {
		return
	}
	if off, ok := obj.offsets[name]; ok {
		obj.slots[off] = val
		return
	}
	obj.offsets[name] = uint32(len(obj.slots))
	obj.names = append(obj.names, name)
	obj.slots = append(obj.slots, val)
	obj.shape = h.shapeFor(strings.Join(obj.names, ","))
}

func (h *testHeap) InternString(s string) bytecode.Value {
	if id, ok := h.stringIDs[s]; ok {
		return bytecode.StringHandle(id)
	}
	id := uint64(len(h.strings))
	h.strings = append(h.strings, s)
	h.stringIDs[s] = id
	return bytecode.StringHandle(id)
}

func (h *testHeap) StringValue(v bytecode.Value) (string, bool) {
	if !v.IsString() || v.Handle() >= uint64(len(h.strings)) {
		return "", false
	}
	return h.strings[v.Handle()], true
}

func run(t *testing.T, p *bytecode.Program) (bytecode.Value, *Interpreter, *testHeap) {
	t.Helper()
	h := newTestHeap()
	in := NewInterpreter(h)
	v, err := in.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return v, in, h
}

// Smallest possible program: load the constant 42 and return it.
func TestExecuteConstantReturn(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 1
	idx := p.Intern(bytecode.NumberConstant(42))
	p.Emit(bytecode.OpLoadConst, 0, int32(idx), 0)
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	v, _, _ := run(t, p)
	if !v.IsNumber() || v.AsFloat() != 42 {
		t.Errorf("Expected 42, got %v", v.AsFloat())
	}
}

func TestExecuteFallsOffEnd(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 1
	p.Emit(bytecode.OpLoadTrue, 0, 0, 0)

	v, _, _ := run(t, p)
	if !v.IsUndefined() {
		t.Error("Running past the last instruction should complete with undefined")
	}
}

func TestExecuteArithmetic(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	c2 := p.Intern(bytecode.NumberConstant(2))
	c3 := p.Intern(bytecode.NumberConstant(3))
	p.Emit(bytecode.OpLoadConst, 0, int32(c2), 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(c3), 0)
	p.Emit(bytecode.OpAdd, 2, 0, 1)
	p.Emit(bytecode.OpMul, 2, 2, 1)
	p.Emit(bytecode.OpSub, 2, 2, 0)
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	v, _, _ := run(t, p)
	if v.AsFloat() != 13 {
		t.Errorf("Expected (2+3)*3-2 = 13, got %g", v.AsFloat())
	}
}

func TestExecuteDivisionByZero(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	c1 := p.Intern(bytecode.NumberConstant(1))
	c0 := p.Intern(bytecode.NumberConstant(0))
	p.Emit(bytecode.OpLoadConst, 0, int32(c1), 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(c0), 0)
	p.Emit(bytecode.OpDiv, 2, 0, 1)
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	v, _, _ := run(t, p)
	if !math.IsInf(v.AsFloat(), 1) {
		t.Errorf("Expected +Inf, got %g", v.AsFloat())
	}
}

func TestExecuteModuloByZero(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	c1 := p.Intern(bytecode.NumberConstant(1))
	c0 := p.Intern(bytecode.NumberConstant(0))
	p.Emit(bytecode.OpLoadConst, 0, int32(c1), 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(c0), 0)
	p.Emit(bytecode.OpMod, 2, 0, 1)
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	v, _, _ := run(t, p)
	if !math.IsNaN(v.AsFloat()) {
		t.Errorf("Expected NaN, got %g", v.AsFloat())
	}
}

func TestExecuteStringConcat(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	ca := p.Intern(bytecode.StringConstant("foo"))
	cb := p.Intern(bytecode.NumberConstant(7))
	p.Emit(bytecode.OpLoadConst, 0, int32(ca), 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(cb), 0)
	p.Emit(bytecode.OpAdd, 2, 0, 1)
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	v, _, h := run(t, p)
	s, ok := h.StringValue(v)
	if !ok || s != "foo7" {
		t.Errorf("Expected \"foo7\", got %q", s)
	}
}

func TestExecuteAddObjectThrowsTypeError(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	c1 := p.Intern(bytecode.NumberConstant(1))
	p.Emit(bytecode.OpCreateObject, 0, 0, 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(c1), 0)
	p.Emit(bytecode.OpAdd, 2, 0, 1)
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	in := NewInterpreter(newTestHeap())
	_, err := in.Execute(context.Background(), p)
	var thrown *ThrownError
	if !errors.As(err, &thrown) || thrown.Kind != TypeError {
		t.Errorf("Expected a thrown TypeError, got %v", err)
	}
}

func TestExecuteGlobals(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 2
	c9 := p.Intern(bytecode.NumberConstant(9))
	p.Emit(bytecode.OpLoadConst, 0, int32(c9), 0)
	p.EmitSym(bytecode.OpStoreGlobal, 0, 0, "answer")
	p.EmitSym(bytecode.OpLoadGlobal, 1, 0, "answer")
	p.Emit(bytecode.OpReturn, 1, 0, 0)

	v, _, _ := run(t, p)
	if v.AsFloat() != 9 {
		t.Errorf("Expected 9, got %g", v.AsFloat())
	}
}

func TestExecuteMissingGlobalThrowsReferenceError(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 1
	p.EmitSym(bytecode.OpLoadGlobal, 0, 0, "nope")
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	in := NewInterpreter(newTestHeap())
	_, err := in.Execute(context.Background(), p)
	var thrown *ThrownError
	if !errors.As(err, &thrown) || thrown.Kind != ReferenceError {
		t.Errorf("Expected a thrown ReferenceError, got %v", err)
	}
}

// sumLoopProgram computes sum(0..n-1) with a conditional backward loop.
func sumLoopProgram(n float64) *bytecode.Program {
	p := bytecode.NewProgram()
	p.RegisterCount = 5
	c0 := p.Intern(bytecode.NumberConstant(0))
	c1 := p.Intern(bytecode.NumberConstant(1))
	cn := p.Intern(bytecode.NumberConstant(n))
	p.Emit(bytecode.OpLoadConst, 0, int32(c0), 0) // sum
	p.Emit(bytecode.OpLoadConst, 1, int32(c0), 0) // i
	p.Emit(bytecode.OpLoadConst, 2, int32(cn), 0) // n
	p.Emit(bytecode.OpLoadConst, 4, int32(c1), 0) // 1
	p.Emit(bytecode.OpLess, 3, 1, 2)              // 4: i < n
	p.Emit(bytecode.OpJumpIfFalse, 3, 9, 0)       // 5
	p.Emit(bytecode.OpAdd, 0, 0, 1)               // 6: sum += i
	p.Emit(bytecode.OpAdd, 1, 1, 4)               // 7: i += 1
	p.Emit(bytecode.OpJump, 4, 0, 0)              // 8: back edge
	p.Emit(bytecode.OpReturn, 0, 0, 0)            // 9
	return p
}

func TestExecuteLoop(t *testing.T) {
	v, in, _ := run(t, sumLoopProgram(100))
	if v.AsFloat() != 4950 {
		t.Errorf("Expected 4950, got %g", v.AsFloat())
	}

	// The conditional site was profiled: taken 100 of 101 outcomes.
	profile, ok := in.Profiles().Peek(0)
	if !ok {
		t.Fatal("Expected a profile for the root function")
	}
	bias, samples := profile.BranchBias(5)
	if samples != 101 {
		t.Errorf("Expected 101 branch samples, got %d", samples)
	}
	if bias >= 0.1 {
		t.Errorf("Exit branch should be rarely taken, got bias %g", bias)
	}
	if profile.Count() < 100 {
		t.Errorf("Back-edges should feed the hot counter, got %d", profile.Count())
	}
}

func TestExecuteFunctionCall(t *testing.T) {
	// child(a, b) = a - b
	child := bytecode.NewProgram()
	child.RegisterCount = 3
	child.Emit(bytecode.OpSub, 2, 0, 1)
	child.Emit(bytecode.OpReturn, 2, 0, 0)

	p := bytecode.NewProgram()
	p.RegisterCount = 4
	c10 := p.Intern(bytecode.NumberConstant(10))
	c4 := p.Intern(bytecode.NumberConstant(4))
	p.AddFunction(child)
	p.Emit(bytecode.OpLoadFunction, 1, 0, 0)
	p.Emit(bytecode.OpLoadConst, 2, int32(c10), 0)
	p.Emit(bytecode.OpLoadConst, 3, int32(c4), 0)
	p.Emit(bytecode.OpCall, 0, 1, 2)
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	v, _, _ := run(t, p)
	if v.AsFloat() != 6 {
		t.Errorf("Expected 10-4 = 6, got %g", v.AsFloat())
	}
}

func TestExecuteCallNonFunctionThrows(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 2
	c1 := p.Intern(bytecode.NumberConstant(1))
	p.Emit(bytecode.OpLoadConst, 1, int32(c1), 0)
	p.Emit(bytecode.OpCall, 0, 1, 0)
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	in := NewInterpreter(newTestHeap())
	_, err := in.Execute(context.Background(), p)
	var thrown *ThrownError
	if !errors.As(err, &thrown) || thrown.Kind != TypeError {
		t.Errorf("Expected a thrown TypeError, got %v", err)
	}
}

func TestExecuteRecursionDepthLimit(t *testing.T) {
	// child calls itself through a global binding.
	child := bytecode.NewProgram()
	child.RegisterCount = 2
	child.EmitSym(bytecode.OpLoadGlobal, 0, 0, "f")
	child.Emit(bytecode.OpCall, 1, 0, 0)
	child.Emit(bytecode.OpReturn, 1, 0, 0)

	p := bytecode.NewProgram()
	p.RegisterCount = 2
	p.AddFunction(child)
	p.Emit(bytecode.OpLoadFunction, 0, 0, 0)
	p.EmitSym(bytecode.OpStoreGlobal, 0, 0, "f")
	p.Emit(bytecode.OpCall, 1, 0, 0)
	p.Emit(bytecode.OpReturn, 1, 0, 0)

	in := NewInterpreter(newTestHeap(), WithMaxCallDepth(20))
	_, err := in.Execute(context.Background(), p)
	var thrown *ThrownError
	if !errors.As(err, &thrown) || thrown.Kind != RangeError {
		t.Errorf("Expected a thrown RangeError, got %v", err)
	}
}

func TestExecutePropertyRoundTrip(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	c5 := p.Intern(bytecode.NumberConstant(5))
	p.Emit(bytecode.OpCreateObject, 0, 0, 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(c5), 0)
	p.EmitSym(bytecode.OpStoreProperty, 0, 1, "x")
	p.EmitSym(bytecode.OpLoadProperty, 2, 0, "x")
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	v, _, _ := run(t, p)
	if v.AsFloat() != 5 {
		t.Errorf("Expected 5, got %g", v.AsFloat())
	}
}

func TestExecuteMissingPropertyIsUndefined(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 2
	p.Emit(bytecode.OpCreateObject, 0, 0, 0)
	p.EmitSym(bytecode.OpLoadProperty, 1, 0, "absent")
	p.Emit(bytecode.OpReturn, 1, 0, 0)

	v, _, _ := run(t, p)
	if !v.IsUndefined() {
		t.Error("Missing property should read as undefined")
	}
}

func TestExecutePropertyOnNumberThrows(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 2
	c1 := p.Intern(bytecode.NumberConstant(1))
	p.Emit(bytecode.OpLoadConst, 0, int32(c1), 0)
	p.EmitSym(bytecode.OpLoadProperty, 1, 0, "x")
	p.Emit(bytecode.OpReturn, 1, 0, 0)

	in := NewInterpreter(newTestHeap())
	_, err := in.Execute(context.Background(), p)
	var thrown *ThrownError
	if !errors.As(err, &thrown) || thrown.Kind != TypeError {
		t.Errorf("Expected a thrown TypeError, got %v", err)
	}
}

func TestExecutePropertySiteGoesMonomorphic(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 3
	c5 := p.Intern(bytecode.NumberConstant(5))
	p.Emit(bytecode.OpCreateObject, 0, 0, 0)
	p.Emit(bytecode.OpLoadConst, 1, int32(c5), 0)
	p.EmitSym(bytecode.OpStoreProperty, 0, 1, "x")
	p.EmitSym(bytecode.OpLoadProperty, 2, 0, "x") // site 3
	p.Emit(bytecode.OpReturn, 2, 0, 0)

	// Each invocation builds its object with the same property history,
	// so the second pass over the site sees the shape it recorded.
	_, in, _ := run(t, p)
	if _, err := in.CallFunction(context.Background(), 0, nil, 0); err != nil {
		t.Fatalf("Second call failed: %v", err)
	}

	cache, ok := in.Caches(0).Peek(3)
	if !ok {
		t.Fatal("Expected an inline cache at the load site")
	}
	if cache.State() != CacheMonomorphic {
		t.Errorf("Expected monomorphic site, got %v", cache.State())
	}
	hits, _ := cache.Stats()
	if hits == 0 {
		t.Error("Second execution of the site should hit the cache")
	}
}

// A background compile snapshots feedback while the function is still
// running and mutating its caches and profile.
func TestFeedbackSnapshotDuringExecution(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 7
	c0 := p.Intern(bytecode.NumberConstant(0))
	c1 := p.Intern(bytecode.NumberConstant(1))
	cn := p.Intern(bytecode.NumberConstant(2000))
	p.Emit(bytecode.OpCreateObject, 0, 0, 0)
	p.Emit(bytecode.OpLoadConst, 5, int32(c1), 0)
	p.EmitSym(bytecode.OpStoreProperty, 0, 5, "x")
	p.Emit(bytecode.OpLoadConst, 1, int32(c0), 0)
	p.Emit(bytecode.OpLoadConst, 2, int32(cn), 0)
	p.Emit(bytecode.OpLoadConst, 4, int32(c1), 0)
	p.Emit(bytecode.OpLess, 3, 1, 2)
	p.Emit(bytecode.OpJumpIfFalse, 3, 11, 0)
	p.EmitSym(bytecode.OpLoadProperty, 6, 0, "x")
	p.Emit(bytecode.OpAdd, 1, 1, 4)
	p.Emit(bytecode.OpJump, 6, 0, 0)
	p.Emit(bytecode.OpReturn, 1, 0, 0)

	in := NewInterpreter(newTestHeap())
	fnID := in.RegisterProgram(p)

	done := make(chan error, 1)
	go func() {
		_, err := in.CallFunction(context.Background(), fnID, nil, 0)
		done <- err
	}()

	for i := 0; i < 200; i++ {
		in.FeedbackFor(fnID)
	}
	if err := <-done; err != nil {
		t.Fatalf("Execution failed: %v", err)
	}

	fb := in.FeedbackFor(fnID)
	if _, ok := fb.MonoSites[8]; !ok {
		t.Error("Expected the loop's property site in the final snapshot")
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 1
	p.Emit(bytecode.OpJump, 0, 0, 0) // spin forever

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := NewInterpreter(newTestHeap())
	_, err := in.Execute(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// recordingRequester captures compile requests.
type recordingRequester struct {
	requests []CompileRequest
}

func (r *recordingRequester) RequestCompile(req CompileRequest) {
	r.requests = append(r.requests, req)
}

func TestThresholdCrossingEmitsOneRequestPerTier(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 1
	idx := p.Intern(bytecode.NumberConstant(1))
	p.Emit(bytecode.OpLoadConst, 0, int32(idx), 0)
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	rec := &recordingRequester{}
	in := NewInterpreter(newTestHeap(),
		WithThresholds(Thresholds{Baseline: 5, Optimizing: 10}),
		WithCompileRequester(rec))
	fnID := in.RegisterProgram(p)

	for i := 0; i < 12; i++ {
		if _, err := in.CallFunction(context.Background(), fnID, nil, 0); err != nil {
			t.Fatalf("Call %d failed: %v", i, err)
		}
	}

	var baseline, optimizing int
	for _, req := range rec.requests {
		switch req.Target {
		case TierBaseline:
			baseline++
		case TierOptimizing:
			optimizing++
		}
	}
	if baseline != 1 {
		t.Errorf("Expected exactly 1 baseline request, got %d", baseline)
	}
	if optimizing != 1 {
		t.Errorf("Expected exactly 1 optimizing request, got %d", optimizing)
	}
}

func TestResumeMidProgram(t *testing.T) {
	p := bytecode.NewProgram()
	p.RegisterCount = 1
	c1 := p.Intern(bytecode.NumberConstant(1))
	c2 := p.Intern(bytecode.NumberConstant(2))
	p.Emit(bytecode.OpLoadConst, 0, int32(c1), 0)
	p.Emit(bytecode.OpLoadConst, 0, int32(c2), 0)
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	in := NewInterpreter(newTestHeap())
	fnID := in.RegisterProgram(p)

	ec := NewExecutionContext(p)
	ec.IP = 1 // skip the first load
	v, err := in.Resume(context.Background(), fnID, ec, 0)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if v.AsFloat() != 2 {
		t.Errorf("Expected 2, got %g", v.AsFloat())
	}
}

func TestRegisterProgramIsIdempotent(t *testing.T) {
	p := bytecode.NewProgram()
	p.Emit(bytecode.OpReturn, 0, 0, 0)

	in := NewInterpreter(newTestHeap())
	a := in.RegisterProgram(p)
	b := in.RegisterProgram(p)
	if a != b {
		t.Errorf("Expected stable function ID, got %d and %d", a, b)
	}
}
