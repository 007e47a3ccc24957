// Package vm implements the Lox bytecode virtual machine.
//
// This package contains:
//   - the Value sum type and heap objects (strings, functions, closures,
//     upvalues, natives)
//   - the Heap allocator, which registers every object for teardown, and
//     the string interning table
//   - Chunk, the opcode table and the disassembler
//   - the stack-based interpreter loop with call frames and closures
//   - CBOR encoding of compiled images
//
// The compiler lives in a separate package and is installed into a VM
// through the CompilerBackend interface.
package vm
