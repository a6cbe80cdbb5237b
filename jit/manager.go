package jit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// Defaults for the compilation pipeline.
const (
	DefaultQueueSize   = 100
	DefaultRetryBudget = 3
)

// functionState holds the installed units and deopt accounting for one
// function. Unit pointers are swapped atomically so dispatch never
// takes a lock; an invocation already inside a superseded unit simply
// finishes there.
type functionState struct {
	baseline  atomic.Pointer[CompiledUnit]
	optimized atomic.Pointer[CompiledUnit]
	deopts    atomic.Uint32
	pinned    atomic.Bool

	compiling sync.Map // vm.Tier -> struct{}, dedupes in-flight work
}

// Manager owns the compiled tiers of one isolate. It receives compile
// requests from the profiling tiers, compiles in the background,
// installs finished units atomically, dispatches calls to the best
// installed unit, performs on-stack replacement at hot loop heads, and
// runs the deoptimizer when a speculation guard fails.
//
// A function whose optimized code deoptimizes more times than the retry
// budget is pinned to the baseline tier.
type Manager struct {
	in   *vm.Interpreter
	log  commonlog.Logger
	cfg  ManagerConfig
	once sync.Once

	states  sync.Map // int -> *functionState
	pending chan vm.CompileRequest
	done    chan struct{}
	wg      sync.WaitGroup

	baselineCompiles   atomic.Uint64
	optimizingCompiles atomic.Uint64
	droppedRequests    atomic.Uint64
	deoptsTotal        atomic.Uint64
	osrEntries         atomic.Uint64
	pinsTotal          atomic.Uint64
}

// ManagerConfig configures the compilation pipeline.
type ManagerConfig struct {
	Workers     int
	QueueSize   int
	RetryBudget int

	// Synchronous makes RequestCompile compile inline on the requesting
	// thread. Tests use it to make tier-up deterministic.
	Synchronous bool
}

// NewManager creates a manager and starts its compile workers.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RetryBudget < 1 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	m := &Manager{
		log:     commonlog.GetLogger("corten.jit"),
		cfg:     cfg,
		pending: make(chan vm.CompileRequest, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	return m
}

// Bind attaches the interpreter and starts the background workers.
// Dispatch is inert until Bind is called.
func (m *Manager) Bind(in *vm.Interpreter) {
	m.in = in
	if m.cfg.Synchronous {
		return
	}
	m.once.Do(func() {
		for i := 0; i < m.cfg.Workers; i++ {
			m.wg.Add(1)
			go m.worker()
		}
	})
}

// Close stops the background workers and waits for in-flight compiles.
func (m *Manager) Close() {
	select {
	case <-m.done:
		return
	default:
	}
	close(m.done)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case req := <-m.pending:
			m.compile(req)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) state(fnID int) *functionState {
	if s, ok := m.states.Load(fnID); ok {
		return s.(*functionState)
	}
	s, _ := m.states.LoadOrStore(fnID, &functionState{})
	return s.(*functionState)
}

// RequestCompile queues a compile. The queue is bounded and the send
// never blocks execution; a full queue drops the request, which is safe
// because the next threshold crossing cannot happen but the function
// keeps running correctly at its current tier.
func (m *Manager) RequestCompile(req vm.CompileRequest) {
	if m.in == nil {
		return
	}
	if m.cfg.Synchronous {
		m.compile(req)
		return
	}
	select {
	case m.pending <- req:
	case <-m.done:
	default:
		m.droppedRequests.Add(1)
		m.log.Infof("compile queue full, dropping %s request for function %d", req.Target, req.FunctionID)
	}
}

func (m *Manager) compile(req vm.CompileRequest) {
	st := m.state(req.FunctionID)
	if _, inflight := st.compiling.LoadOrStore(req.Target, struct{}{}); inflight {
		return
	}
	defer st.compiling.Delete(req.Target)

	switch req.Target {
	case vm.TierBaseline:
		if st.baseline.Load() != nil {
			return
		}
		unit, err := newBaselineUnit(m.in, req.FunctionID, m.promoteHook)
		if err != nil {
			m.log.Errorf("baseline compile of function %d failed: %s", req.FunctionID, err.Error())
			return
		}
		st.baseline.Store(unit)
		m.baselineCompiles.Add(1)
		m.log.Debugf("installed baseline unit %s for function %d", unit.ID, req.FunctionID)

	case vm.TierOptimizing:
		if st.pinned.Load() || st.optimized.Load() != nil {
			return
		}
		fb := m.in.FeedbackFor(req.FunctionID)
		unit, err := newOptimizingUnit(m.in, req.FunctionID, fb)
		if err != nil {
			m.log.Errorf("optimizing compile of function %d failed: %s", req.FunctionID, err.Error())
			return
		}
		st.optimized.Store(unit)
		m.optimizingCompiles.Add(1)
		m.log.Debugf("installed optimizing unit %s for function %d", unit.ID, req.FunctionID)
	}
}

// Execute implements vm.Dispatcher. It runs the best installed unit for
// the function, or reports handled=false so the interpreter takes over.
func (m *Manager) Execute(ctx context.Context, in *vm.Interpreter, fnID int, args []bytecode.Value, depth int) (bytecode.Value, bool, error) {
	s, ok := m.states.Load(fnID)
	if !ok {
		return bytecode.Undefined, false, nil
	}
	st := s.(*functionState)
	unit := st.optimized.Load()
	if unit == nil {
		unit = st.baseline.Load()
	}
	if unit == nil {
		return bytecode.Undefined, false, nil
	}

	f := unit.newFrame(ctx, in, args, depth)
	v, err := unit.run(f, 0)
	if d, isDeopt := err.(*DeoptEvent); isDeopt {
		v, err = m.handleDeopt(ctx, in, st, d, depth)
	}
	return v, true, err
}

// TryPromote implements vm.LoopPromoter: at an interpreter back-edge,
// transfer the rest of the invocation into an optimized unit with an
// entry at the loop head.
func (m *Manager) TryPromote(ctx context.Context, in *vm.Interpreter, fnID int, ec *vm.ExecutionContext, depth int) (bytecode.Value, bool, error) {
	s, ok := m.states.Load(fnID)
	if !ok {
		return bytecode.Undefined, false, nil
	}
	st := s.(*functionState)
	unit := st.optimized.Load()
	if unit == nil || unit.ProgramVersion != ec.Program().Version || !unit.CanEnterAt(ec.IP) {
		return bytecode.Undefined, false, nil
	}

	m.osrEntries.Add(1)
	f := &frame{ctx: ctx, in: in, regs: ec.SnapshotRegisters(), depth: depth}
	v, err := unit.run(f, ec.IP)
	if d, isDeopt := err.(*DeoptEvent); isDeopt {
		v, err = m.handleDeopt(ctx, in, st, d, depth)
	}
	return v, true, err
}

// handleDeopt resumes the failed invocation in the interpreter and
// charges the failure against the function's retry budget. Exhausting
// the budget discards the optimized unit and pins the function to the
// baseline tier.
func (m *Manager) handleDeopt(ctx context.Context, in *vm.Interpreter, st *functionState, d *DeoptEvent, depth int) (bytecode.Value, error) {
	m.deoptsTotal.Add(1)
	n := st.deopts.Add(1)
	m.log.Debugf("deopt (%s) in function %d at %d, count %d", d.Reason, d.Frame.FunctionID, d.Site, n)
	if int(n) >= m.cfg.RetryBudget && !st.pinned.Swap(true) {
		st.optimized.Store(nil)
		m.pinsTotal.Add(1)
		m.log.Infof("function %d exhausted its deopt budget, pinned to baseline", d.Frame.FunctionID)
	}
	return deoptimize(ctx, in, d, depth)
}

// TierOf returns the best installed tier for a function.
func (m *Manager) TierOf(fnID int) vm.Tier {
	s, ok := m.states.Load(fnID)
	if !ok {
		return vm.TierInterpreter
	}
	st := s.(*functionState)
	if st.optimized.Load() != nil {
		return vm.TierOptimizing
	}
	if st.baseline.Load() != nil {
		return vm.TierBaseline
	}
	return vm.TierInterpreter
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	BaselineCompiles   uint64
	OptimizingCompiles uint64
	DroppedRequests    uint64
	Deopts             uint64
	OSREntries         uint64
	PinnedFunctions    uint64
	QueueLength        int
}

// PipelineStats returns the current counters.
func (m *Manager) PipelineStats() Stats {
	return Stats{
		BaselineCompiles:   m.baselineCompiles.Load(),
		OptimizingCompiles: m.optimizingCompiles.Load(),
		DroppedRequests:    m.droppedRequests.Load(),
		Deopts:             m.deoptsTotal.Load(),
		OSREntries:         m.osrEntries.Load(),
		PinnedFunctions:    m.pinsTotal.Load(),
		QueueLength:        len(m.pending),
	}
}

// promoteHook is the baseline back-edge promotion path: same checks as
// TryPromote but starting from a compiled-tier frame.
func (m *Manager) promoteHook(f *frame, fnID, ip int) (bytecode.Value, bool, error) {
	s, ok := m.states.Load(fnID)
	if !ok {
		return bytecode.Undefined, false, nil
	}
	st := s.(*functionState)
	unit := st.optimized.Load()
	if unit == nil || !unit.CanEnterAt(ip) {
		return bytecode.Undefined, false, nil
	}
	m.osrEntries.Add(1)
	v, err := unit.run(f, ip)
	if d, isDeopt := err.(*DeoptEvent); isDeopt {
		v, err = m.handleDeopt(f.ctx, f.in, st, d, f.depth)
	}
	return v, true, err
}
