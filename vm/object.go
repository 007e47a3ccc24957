package vm

import (
	"fmt"
	"unsafe"
)

// ---------------------------------------------------------------------------
// ObjType: heap object variants
// ---------------------------------------------------------------------------

// ObjType tags each heap object variant.
type ObjType uint8

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeNative
	ObjTypeClosure
	ObjTypeUpvalue
)

var objTypeNames = map[ObjType]string{
	ObjTypeString:   "string",
	ObjTypeFunction: "function",
	ObjTypeNative:   "native",
	ObjTypeClosure:  "closure",
	ObjTypeUpvalue:  "upvalue",
}

func (t ObjType) String() string {
	if name, ok := objTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ObjType(%d)", t)
}

// Obj is a heap-allocated Lox object. Every Obj is created through a Heap,
// which registers it for bulk teardown.
type Obj interface {
	Value
	Type() ObjType

	// size is the approximate number of bytes the object accounts for.
	size() int
	// release drops the object's owned resources during heap teardown.
	release()
}

// ---------------------------------------------------------------------------
// ObjString
// ---------------------------------------------------------------------------

// ObjString is an immutable, interned string. Two ObjStrings with the same
// contents created through the same Heap are the same pointer.
type ObjString struct {
	Chars string
	Hash  uint32
}

func (*ObjString) isValue() {}
func (*ObjString) Type() ObjType { return ObjTypeString }
func (s *ObjString) Len() int { return len(s.Chars) }
func (s *ObjString) String() string { return s.Chars }

func (s *ObjString) size() int {
	return int(unsafe.Sizeof(*s)) + len(s.Chars)
}

func (s *ObjString) release() {
	s.Chars = ""
}

// ---------------------------------------------------------------------------
// ObjFunction
// ---------------------------------------------------------------------------

// ObjFunction is a compiled function body. The top-level script is a
// function with a nil Name.
type ObjFunction struct {
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *ObjString
}

func (*ObjFunction) isValue() {}
func (*ObjFunction) Type() ObjType { return ObjTypeFunction }

// DisplayName returns the function name, or "script" for the top level.
func (f *ObjFunction) DisplayName() string {
	if f.Name == nil {
		return "script"
	}
	return f.Name.Chars
}

func (f *ObjFunction) size() int {
	return int(unsafe.Sizeof(*f)) + cap(f.Chunk.Code) + cap(f.Chunk.Lines)*int(unsafe.Sizeof(int(0)))
}

func (f *ObjFunction) release() {
	f.Chunk.Free()
	f.Name = nil
}

// ---------------------------------------------------------------------------
// ObjNative
// ---------------------------------------------------------------------------

// NativeFn is the Go implementation of a native function.
type NativeFn func(args []Value) (Value, error)

// ObjNative wraps a Go function callable from Lox.
type ObjNative struct {
	Name  string
	Arity int // -1 accepts any number of arguments
	Fn    NativeFn
}

func (*ObjNative) isValue() {}
func (*ObjNative) Type() ObjType { return ObjTypeNative }

func (n *ObjNative) size() int { return int(unsafe.Sizeof(*n)) }
func (n *ObjNative) release() { n.Fn = nil }

// ---------------------------------------------------------------------------
// ObjClosure and ObjUpvalue
// ---------------------------------------------------------------------------

// ObjClosure pairs a function with the variables it captured.
type ObjClosure struct {
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (*ObjClosure) isValue() {}
func (*ObjClosure) Type() ObjType { return ObjTypeClosure }

func (c *ObjClosure) size() int {
	return int(unsafe.Sizeof(*c)) + len(c.Upvalues)*int(unsafe.Sizeof(uintptr(0)))
}

func (c *ObjClosure) release() {
	c.Function = nil
	c.Upvalues = nil
}

// ObjUpvalue is a captured variable. While open it refers to a live stack
// slot; once the slot leaves scope the value moves into Closed.
type ObjUpvalue struct {
	Slot   int
	Closed Value
	open   bool
	next   *ObjUpvalue // next open upvalue, ordered by descending slot
}

func (*ObjUpvalue) isValue() {}
func (*ObjUpvalue) Type() ObjType { return ObjTypeUpvalue }

// IsOpen reports whether the upvalue still aliases a stack slot.
func (u *ObjUpvalue) IsOpen() bool { return u.open }

func (u *ObjUpvalue) size() int { return int(unsafe.Sizeof(*u)) }

func (u *ObjUpvalue) release() {
	u.Closed = nil
	u.next = nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func formatObject(o Obj) string {
	switch o := o.(type) {
	case *ObjString:
		return o.Chars
	case *ObjFunction:
		return formatFunction(o)
	case *ObjClosure:
		return formatFunction(o.Function)
	case *ObjNative:
		return "<native fn>"
	case *ObjUpvalue:
		return "upvalue"
	default:
		return fmt.Sprintf("<%s>", o.Type())
	}
}

func formatFunction(f *ObjFunction) string {
	if f == nil {
		return "<fn ?>"
	}
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.Chars + ">"
}
