// Package heap provides the object heap behind the execution core's
// opaque handles: slot-based objects with hidden-class shapes, shape
// transition chains, and a string intern table.
package heap

import (
	"sync"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// shape is a hidden class: an immutable property layout shared by every
// object that gained the same properties in the same order. Adding a
// property walks (or extends) the transition edge for that name.
type shape struct {
	id      vm.ShapeID
	offsets map[string]uint32

	mu          sync.Mutex
	transitions map[string]*shape
}

func (s *shape) offsetOf(name string) (uint32, bool) {
	off, ok := s.offsets[name]
	return off, ok
}

// object is a heap object: its current shape plus one slot per property.
type object struct {
	shape *shape
	slots []bytecode.Value
}

// Heap implements vm.Heap with handle-indexed object and string tables.
// All methods are safe for concurrent use.
type Heap struct {
	mu          sync.RWMutex
	objects     []*object
	strings     []string
	stringIDs   map[string]uint64
	rootShape   *shape
	nextShapeID vm.ShapeID
}

// New creates an empty heap.
func New() *Heap {
	h := &Heap{stringIDs: make(map[string]uint64)}
	h.rootShape = &shape{
		id:          1,
		offsets:     map[string]uint32{},
		transitions: make(map[string]*shape),
	}
	h.nextShapeID = 2
	return h
}

// NewObject allocates an empty object with the root shape.
func (h *Heap) NewObject() bytecode.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects = append(h.objects, &object{shape: h.rootShape})
	return bytecode.ObjectHandle(uint64(len(h.objects) - 1))
}

func (h *Heap) object(v bytecode.Value) (*object, bool) {
	if !v.IsObject() {
		return nil, false
	}
	idx := v.Handle()
	if idx >= uint64(len(h.objects)) {
		return nil, false
	}
	return h.objects[idx], true
}

// ShapeOf returns the object's current shape ID.
func (h *Heap) ShapeOf(v bytecode.Value) (vm.ShapeID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.object(v)
	if !ok {
		return 0, false
	}
	return obj.shape.id, true
}

// PropertyOffset resolves a property name under the object's current
// shape.
func (h *Heap) PropertyOffset(v bytecode.Value, name string) (uint32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.object(v)
	if !ok {
		return 0, false
	}
	return obj.shape.offsetOf(name)
}

// LoadAt reads the slot at a resolved offset.
func (h *Heap) LoadAt(v bytecode.Value, offset uint32) bytecode.Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.object(v)
	if !ok || int(offset) >= len(obj.slots) {
		return bytecode.Undefined
	}
	return obj.slots[offset]
}

// StoreAt writes the slot at a resolved offset. The shape is unchanged.
func (h *Heap) StoreAt(v bytecode.Value, offset uint32, val bytecode.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.object(v)
	if !ok || int(offset) >= len(obj.slots) {
		return
	}
	obj.slots[offset] = val
}

// DefineProperty adds a property, moving the object along the shape
// transition edge for that name. Objects that gain the same properties
// in the same order end up sharing a shape, which is what lets inline
// caches and shape guards work.
func (h *Heap) DefineProperty(v bytecode.Value, name string, val bytecode.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.object(v)
	if !ok {
		return
	}
	if off, exists := obj.shape.offsetOf(name); exists {
		obj.slots[off] = val
		return
	}
	obj.shape = h.transition(obj.shape, name)
	obj.slots = append(obj.slots, val)
}

// transition returns the shape reached by adding name to s, creating it
// on first use. Caller holds h.mu.
func (h *Heap) transition(s *shape, name string) *shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next, ok := s.transitions[name]; ok {
		return next
	}
	offsets := make(map[string]uint32, len(s.offsets)+1)
	for k, off := range s.offsets {
		offsets[k] = off
	}
	offsets[name] = uint32(len(s.offsets))
	next := &shape{
		id:          h.nextShapeID,
		offsets:     offsets,
		transitions: make(map[string]*shape),
	}
	h.nextShapeID++
	s.transitions[name] = next
	return next
}

// InternString returns the canonical handle for a string. Equal strings
// always share a handle, so handle equality implies content equality.
func (h *Heap) InternString(s string) bytecode.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.stringIDs[s]; ok {
		return bytecode.StringHandle(id)
	}
	id := uint64(len(h.strings))
	h.strings = append(h.strings, s)
	h.stringIDs[s] = id
	return bytecode.StringHandle(id)
}

// StringValue returns the string behind a handle.
func (h *Heap) StringValue(v bytecode.Value) (string, bool) {
	if !v.IsString() {
		return "", false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	id := v.Handle()
	if id >= uint64(len(h.strings)) {
		return "", false
	}
	return h.strings[id], true
}

// ObjectCount returns the number of live objects, for stats.
func (h *Heap) ObjectCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}
