package vm

import (
	"fmt"
	"time"
)

var nativeNames = []string{"clock"}

// NativeNames lists the global names every VM predefines.
func NativeNames() []string {
	return append([]string(nil), nativeNames...)
}

// defineNatives installs the built-in native functions as globals.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", 0, vm.clockNative)
}

// defineNative binds a Go function to a global name. Both the name and the
// native object are heap allocated so teardown accounts for them.
func (vm *VM) defineNative(name string, arity int, fn NativeFn) {
	key := vm.heap.CopyString(name)
	vm.globals[key] = vm.heap.NewNative(name, arity, fn)
}

// clockNative returns the seconds elapsed since the VM started.
func (vm *VM) clockNative(args []Value) (Value, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("clock() takes no arguments")
	}
	return Number(time.Since(vm.started).Seconds()), nil
}
