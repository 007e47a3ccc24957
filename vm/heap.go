package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap: owner of every Lox heap object
// ---------------------------------------------------------------------------

var heapLog = commonlog.GetLogger("colox.heap")

// Heap allocates Lox objects and keeps a registry of every object it has
// handed out. The registry is the single source of truth for which objects
// exist; Free walks it to release them all at VM teardown.
//
// A Heap is owned by one VM (or one compilation in tools such as the language
// server) and is not safe for concurrent use.
type Heap struct {
	objects []Obj
	strings *StringTable

	bytesAllocated int
}

// HeapStats is a snapshot of heap occupancy.
type HeapStats struct {
	Objects int
	Strings int
	Bytes   int
	ByType  map[ObjType]int
}

// NewHeap creates a heap that interns strings through the given table.
func NewHeap(strings *StringTable) *Heap {
	if strings == nil {
		strings = NewStringTable()
	}
	return &Heap{
		objects: make([]Obj, 0, 64),
		strings: strings,
	}
}

// Strings returns the interning table this heap allocates through.
func (h *Heap) Strings() *StringTable {
	return h.strings
}

func (h *Heap) track(o Obj) {
	h.objects = append(h.objects, o)
	h.bytesAllocated += o.size()
}

// CopyString returns the canonical string for chars, allocating it only if
// no string with the same contents has been interned yet.
func (h *Heap) CopyString(chars string) *ObjString {
	if interned := h.strings.Find(chars); interned != nil {
		return interned
	}
	s := &ObjString{Chars: chars, Hash: HashString(chars)}
	h.track(s)
	h.strings.Set(s)
	return s
}

// NewFunction allocates an empty function with a fresh chunk.
func (h *Heap) NewFunction() *ObjFunction {
	f := &ObjFunction{}
	f.Chunk.Init()
	h.track(f)
	return f
}

// NewNative allocates a native function object.
func (h *Heap) NewNative(name string, arity int, fn NativeFn) *ObjNative {
	n := &ObjNative{Name: name, Arity: arity, Fn: fn}
	h.track(n)
	return n
}

// NewClosure allocates a closure over fn with room for its upvalues.
func (h *Heap) NewClosure(fn *ObjFunction) *ObjClosure {
	c := &ObjClosure{
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
	h.track(c)
	return c
}

// NewUpvalue allocates an open upvalue aliasing the given stack slot.
func (h *Heap) NewUpvalue(slot int) *ObjUpvalue {
	u := &ObjUpvalue{Slot: slot, Closed: Nil, open: true}
	h.track(u)
	return u
}

// Len returns the number of live objects.
func (h *Heap) Len() int {
	return len(h.objects)
}

// Stats returns counts and approximate byte usage.
func (h *Heap) Stats() HeapStats {
	stats := HeapStats{
		Objects: len(h.objects),
		Strings: h.strings.Len(),
		Bytes:   h.bytesAllocated,
		ByType:  make(map[ObjType]int),
	}
	for _, o := range h.objects {
		stats.ByType[o.Type()]++
	}
	return stats
}

// Free releases every registered object and empties the interning table.
// It returns the number of objects released. The heap is usable again
// afterwards.
func (h *Heap) Free() int {
	n := len(h.objects)
	for i, o := range h.objects {
		o.release()
		h.objects[i] = nil
	}
	h.objects = h.objects[:0]
	h.strings.Clear()
	if n > 0 {
		heapLog.Debugf("released %d objects (%d bytes)", n, h.bytesAllocated)
	}
	h.bytesAllocated = 0
	return n
}
