package vm

import "errors"

// ---------------------------------------------------------------------------
// CompilerBackend: Interface for compilation backends
// ---------------------------------------------------------------------------

// CompilerBackend turns source text into a top-level function. The compiler
// package provides the implementation; it is injected so that this package
// does not import it.
//
// Backends allocate every constant (interned strings, nested functions)
// through the heap they are given.
type CompilerBackend interface {
	// Compile compiles a whole script.
	Compile(source string, heap *Heap) (*ObjFunction, error)

	// CompileExpression compiles a single expression into a function that
	// returns its value.
	CompileExpression(source string, heap *Heap) (*ObjFunction, error)

	// Name returns the name of this compiler backend.
	Name() string
}

// ErrNoCompiler is returned when source is interpreted before a backend has
// been installed with UseCompiler.
var ErrNoCompiler = errors.New("no compiler backend configured")

// UseCompiler installs the compiler backend.
func (vm *VM) UseCompiler(backend CompilerBackend) {
	vm.compilerBackend = backend
}

// CompilerName returns the name of the current compiler backend.
func (vm *VM) CompilerName() string {
	if vm.compilerBackend == nil {
		return "none"
	}
	return vm.compilerBackend.Name()
}

// Compile compiles a script with the current backend, allocating into this
// VM's heap.
func (vm *VM) Compile(source string) (*ObjFunction, error) {
	if vm.compilerBackend == nil {
		return nil, ErrNoCompiler
	}
	return vm.compilerBackend.Compile(source, vm.heap)
}

// CompileExpression compiles a single expression with the current backend.
func (vm *VM) CompileExpression(source string) (*ObjFunction, error) {
	if vm.compilerBackend == nil {
		return nil, ErrNoCompiler
	}
	return vm.compilerBackend.CompileExpression(source, vm.heap)
}
