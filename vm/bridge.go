package vm

import "github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"

// Bridge surface for the compiled tiers. Compiled code shares the
// interpreter's operator helpers, inline caches, and global table so
// every tier observes identical semantics; these methods expose the
// interpreter's slow paths to that code.

// ConstValue materializes a program constant as a runtime value.
func (in *Interpreter) ConstValue(p *bytecode.Program, index int) (bytecode.Value, error) {
	return in.constValue(p, index)
}

// ChildFunction resolves a program-local function index to a global ID.
func (in *Interpreter) ChildFunction(fnID, index int) (int, bool) {
	return in.childFunction(fnID, index)
}

// LoadPropertyThrough reads a property through an inline cache site.
func (in *Interpreter) LoadPropertyThrough(cache *InlineCache, obj bytecode.Value, name string) (bytecode.Value, error) {
	return in.loadProperty(cache, obj, name)
}

// StorePropertyThrough writes a property through an inline cache site.
func (in *Interpreter) StorePropertyThrough(cache *InlineCache, obj bytecode.Value, name string, v bytecode.Value) error {
	return in.storeProperty(cache, obj, name, v)
}

// NoteHotCount feeds a hot count observed by compiled code back into
// threshold detection, so a function running in the baseline tier can
// still cross the optimizing threshold.
func (in *Interpreter) NoteHotCount(fnID int, count uint64) {
	in.maybeRequestCompile(fnID, count)
}
