package compiler

import "github.com/chazu/colox/vm"

// Backend adapts this package to vm.CompilerBackend.
type Backend struct{}

var _ vm.CompilerBackend = Backend{}

// Compile implements vm.CompilerBackend.
func (Backend) Compile(source string, heap *vm.Heap) (*vm.ObjFunction, error) {
	return Compile(source, heap)
}

// CompileExpression implements vm.CompilerBackend.
func (Backend) CompileExpression(source string, heap *vm.Heap) (*vm.ObjFunction, error) {
	return CompileExpression(source, heap)
}

// Name implements vm.CompilerBackend.
func (Backend) Name() string {
	return "colox"
}

// NewVM returns a VM with this package's compiler installed.
func NewVM(opts vm.Options) *vm.VM {
	v := vm.NewVM(opts)
	v.UseCompiler(Backend{})
	return v
}
