package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: The colox virtual machine
// ---------------------------------------------------------------------------

// FramesMax is the default maximum call depth.
const FramesMax = 64

// DefaultStackMax is the default operand stack capacity in slots.
const DefaultStackMax = FramesMax * 256

var vmLog = commonlog.GetLogger("colox.vm")

// Options configures a VM.
type Options struct {
	// StackMax is the operand stack capacity. Pushing beyond it is a
	// runtime error. Zero selects DefaultStackMax.
	StackMax int

	// FramesMax bounds the call depth. Zero selects FramesMax.
	FramesMax int

	// TraceExecution prints the stack and each instruction before it runs.
	TraceExecution bool

	// PrintCode dumps every compiled function before it runs.
	PrintCode bool
}

// DefaultOptions returns the options NewVM uses when given a zero value.
func DefaultOptions() Options {
	return Options{
		StackMax:  DefaultStackMax,
		FramesMax: FramesMax,
	}
}

// CallFrame is one active function invocation.
type CallFrame struct {
	closure *ObjClosure
	ip      int // offset of the next instruction in closure.Function.Chunk
	slots   int // stack index of the frame's slot zero (the callee)
}

// VM executes compiled Lox functions. A VM is single-threaded: the stack,
// the heap and the interning table belong to it alone. Run independent
// programs concurrently by giving each its own VM.
type VM struct {
	opts Options

	frames     []CallFrame
	frameCount int

	stack    []Value
	stackTop int

	globals      map[*ObjString]Value
	openUpvalues *ObjUpvalue

	strings *StringTable
	heap    *Heap

	compilerBackend CompilerBackend

	out      io.Writer
	errOut   io.Writer
	traceOut io.Writer

	state   State
	started time.Time
}

// NewVM creates a VM with its own heap and interning table and defines the
// native functions.
func NewVM(opts Options) *VM {
	defaults := DefaultOptions()
	if opts.StackMax <= 0 {
		opts.StackMax = defaults.StackMax
	}
	if opts.FramesMax <= 0 {
		opts.FramesMax = defaults.FramesMax
	}

	strings := NewStringTable()
	vm := &VM{
		opts:     opts,
		frames:   make([]CallFrame, opts.FramesMax),
		stack:    make([]Value, opts.StackMax),
		globals:  make(map[*ObjString]Value),
		strings:  strings,
		heap:     NewHeap(strings),
		out:      os.Stdout,
		errOut:   os.Stderr,
		traceOut: os.Stdout,
		state:    StateReady,
		started:  time.Now(),
	}
	vm.defineNatives()
	return vm
}

// SetOutput redirects print statements.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// SetErrorOutput redirects compile and runtime error reports.
func (vm *VM) SetErrorOutput(w io.Writer) {
	vm.errOut = w
}

// SetTraceOutput redirects execution traces and code listings.
func (vm *VM) SetTraceOutput(w io.Writer) {
	vm.traceOut = w
}

// Options returns the VM's effective options.
func (vm *VM) Options() Options {
	return vm.opts
}

// Heap returns the allocator that owns this VM's objects.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// State returns the VM's lifecycle state.
func (vm *VM) State() State {
	return vm.state
}

// Global returns the value of a global variable.
func (vm *VM) Global(name string) (Value, bool) {
	key := vm.strings.Find(name)
	if key == nil {
		return nil, false
	}
	v, ok := vm.globals[key]
	return v, ok
}

// StackDepth returns the number of live operand stack slots.
func (vm *VM) StackDepth() int {
	return vm.stackTop
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Interpret compiles and runs source. Compile errors are reported to the
// error output and nothing is executed; runtime errors are reported with a
// line trace and halt the run.
func (vm *VM) Interpret(source string) InterpretResult {
	vm.state = StateRunning
	fn, err := vm.Compile(source)
	if err != nil {
		fmt.Fprintln(vm.errOut, err)
		vm.state = StateHaltedCompileError
		return InterpretCompileError
	}
	vmLog.Debugf("compiled script: %d code bytes, %d constants", fn.Chunk.Len(), len(fn.Chunk.Constants))
	return vm.InterpretFunction(fn)
}

// InterpretFunction runs an already compiled top-level function, such as
// one loaded from an image.
func (vm *VM) InterpretFunction(fn *ObjFunction) InterpretResult {
	vm.state = StateRunning
	if vm.opts.PrintCode {
		DisassembleFunction(vm.traceOut, fn)
	}

	if _, err := vm.execute(fn); err != nil {
		fmt.Fprintln(vm.errOut, err)
		vm.state = StateHaltedRuntimeError
		return InterpretRuntimeError
	}
	vm.state = StateHaltedOK
	return InterpretOK
}

// Evaluate compiles a single expression, runs it and returns its value.
// Errors are returned rather than printed: a *RuntimeError for runtime
// failures, or the compiler's error.
func (vm *VM) Evaluate(source string) (Value, error) {
	vm.state = StateRunning
	fn, err := vm.CompileExpression(source)
	if err != nil {
		vm.state = StateHaltedCompileError
		return nil, err
	}
	if vm.opts.PrintCode {
		DisassembleFunction(vm.traceOut, fn)
	}
	result, err := vm.execute(fn)
	if err != nil {
		vm.state = StateHaltedRuntimeError
		return nil, err
	}
	vm.state = StateHaltedOK
	return result, nil
}

// execute wraps fn in a closure, calls it with no arguments and runs the
// dispatch loop to completion.
func (vm *VM) execute(fn *ObjFunction) (Value, error) {
	vm.resetStack()
	closure := vm.heap.NewClosure(fn)
	if err := vm.push(closure); err != nil {
		vm.resetStack()
		return nil, err
	}
	if err := vm.call(closure, 0); err != nil {
		vm.resetStack()
		return nil, err
	}
	result, err := vm.run()
	if err != nil {
		vm.resetStack()
		return nil, err
	}
	return result, nil
}

// Free releases every heap object and clears globals. It returns the number
// of objects released. The VM must not run code afterwards; use Reset to
// reuse it.
func (vm *VM) Free() int {
	vm.resetStack()
	clear(vm.globals)
	n := vm.heap.Free()
	vmLog.Debugf("vm teardown: %d objects released", n)
	return n
}

// Reset frees the heap and returns the VM to the ready state with fresh
// globals, as if newly constructed.
func (vm *VM) Reset() {
	vm.Free()
	vm.defineNatives()
	vm.state = StateReady
	vm.started = time.Now()
}

// IsRuntimeError reports whether err is a *RuntimeError.
func IsRuntimeError(err error) bool {
	var rerr *RuntimeError
	return errors.As(err, &rerr)
}
