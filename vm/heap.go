package vm

import "github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"

// ShapeID is the structural identity of an object's property layout
// (hidden class). It is the key for inline cache entries and shape
// guards; the execution core never inspects what is behind it.
type ShapeID uint64

// Heap is the boundary to the garbage-collected heap collaborator.
// Compound values cross this boundary as opaque handles packed into
// NaN-boxed Values; the core never dereferences a handle itself. All
// reads and writes of heap payloads go through these methods so the
// collaborator can apply its barriers.
type Heap interface {
	// NewObject allocates an empty object and returns its handle value.
	NewObject() bytecode.Value

	// ShapeOf returns the current shape of an object handle.
	ShapeOf(obj bytecode.Value) (ShapeID, bool)

	// PropertyOffset resolves a property name to its slot offset under
	// the object's current shape. This is the generic (slow) resolution
	// an inline cache miss falls back to.
	PropertyOffset(obj bytecode.Value, name string) (uint32, bool)

	// LoadAt reads the slot at a previously resolved offset.
	LoadAt(obj bytecode.Value, offset uint32) bytecode.Value

	// StoreAt writes the slot at a previously resolved offset. The
	// object's shape is unchanged.
	StoreAt(obj bytecode.Value, offset uint32, v bytecode.Value)

	// DefineProperty adds a new property, transitioning the object's
	// shape.
	DefineProperty(obj bytecode.Value, name string, v bytecode.Value)

	// InternString returns a string handle value for s.
	InternString(s string) bytecode.Value

	// StringValue returns the string behind a string handle.
	StringValue(v bytecode.Value) (string, bool)
}
