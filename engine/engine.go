// Package engine assembles the execution tiers into a ready-to-use
// runtime: heap, profiling interpreter, compilation pipeline, and
// optional profile persistence, wired from a single configuration.
package engine

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/config"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/heap"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/jit"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// Engine is one isolate: a heap, an interpreter, and a tier manager
// sharing side tables keyed by function ID.
type Engine struct {
	cfg     *config.Config
	heap    *heap.Heap
	interp  *vm.Interpreter
	tiers   *jit.Manager
	archive *jit.ProfileArchive
	log     commonlog.Logger
}

// New creates an engine from a configuration. nil means defaults.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := heap.New()
	tiers := jit.NewManager(jit.ManagerConfig{
		Workers:     cfg.Tiering.CompileWorkers,
		QueueSize:   cfg.Tiering.CompileQueueSize,
		RetryBudget: cfg.Tiering.DeoptRetryBudget,
		Synchronous: cfg.Tiering.Synchronous,
	})
	interp := vm.NewInterpreter(h,
		vm.WithThresholds(vm.Thresholds{
			Baseline:   cfg.Tiering.BaselineThreshold,
			Optimizing: cfg.Tiering.OptimizingThreshold,
		}),
		vm.WithMaxCallDepth(cfg.Limits.MaxCallDepth),
		vm.WithPolymorphicLimit(cfg.Caches.PolymorphicLimit),
		vm.WithCompileRequester(tiers),
		vm.WithDispatcher(tiers),
		vm.WithLoopPromoter(tiers),
	)
	tiers.Bind(interp)

	e := &Engine{
		cfg:    cfg,
		heap:   h,
		interp: interp,
		tiers:  tiers,
		log:    commonlog.GetLogger("corten.engine"),
	}

	if cfg.Profile.DB != "" {
		archive, err := jit.OpenProfileArchive(cfg.Profile.DB)
		if err != nil {
			tiers.Close()
			return nil, err
		}
		e.archive = archive
	}
	return e, nil
}

// Heap returns the engine's heap.
func (e *Engine) Heap() *heap.Heap { return e.heap }

// Interpreter returns the engine's interpreter.
func (e *Engine) Interpreter() *vm.Interpreter { return e.interp }

// Tiers returns the engine's compilation pipeline.
func (e *Engine) Tiers() *jit.Manager { return e.tiers }

// LoadProgram decodes a serialized program and registers it, returning
// its function ID.
func (e *Engine) LoadProgram(data []byte) (int, error) {
	p, err := bytecode.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("loading program: %w", err)
	}
	return e.RegisterProgram(p), nil
}

// RegisterProgram registers a program, returning its function ID. After
// the first registration the engine warms the profile store from the
// archive so previously hot functions re-earn their tiers immediately.
func (e *Engine) RegisterProgram(p *bytecode.Program) int {
	id := e.interp.RegisterProgram(p)
	if e.archive != nil {
		if err := e.archive.Warm(e.interp, e.tiers); err != nil {
			e.log.Errorf("profile warmup failed: %s", err.Error())
		}
	}
	return id
}

// Execute runs a program to completion and returns its result.
func (e *Engine) Execute(ctx context.Context, p *bytecode.Program) (bytecode.Value, error) {
	fnID := e.RegisterProgram(p)
	return e.Call(ctx, fnID, nil)
}

// Call invokes a registered function.
func (e *Engine) Call(ctx context.Context, fnID int, args []bytecode.Value) (bytecode.Value, error) {
	return e.interp.CallFunction(ctx, fnID, args, 0)
}

// Format renders a result value for host display.
func (e *Engine) Format(v bytecode.Value) string {
	return vm.Format(e.heap, v)
}

// Close snapshots profiles (when an archive is configured) and stops
// the background compile workers.
func (e *Engine) Close() error {
	var err error
	if e.archive != nil {
		if snapErr := e.archive.Snapshot(e.interp.Profiles(), e.tiers); snapErr != nil {
			err = snapErr
		}
		if closeErr := e.archive.Close(); err == nil {
			err = closeErr
		}
	}
	e.tiers.Close()
	return err
}
