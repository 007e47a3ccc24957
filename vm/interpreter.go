package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

const errStackOverflow = "Stack overflow."

func (vm *VM) resetStack() {
	clear(vm.stack[:vm.stackTop])
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// push places v on the operand stack. Overflow is a runtime error rather
// than a silent write past the end.
func (vm *VM) push(v Value) error {
	if vm.stackTop >= len(vm.stack) {
		return vm.runtimeError(errStackOverflow)
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
	return nil
}

func (vm *VM) pop() Value {
	vm.stackTop--
	v := vm.stack[vm.stackTop]
	vm.stack[vm.stackTop] = nil
	return v
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (vm *VM) callValue(callee Value, argCount int) error {
	switch callee := callee.(type) {
	case *ObjClosure:
		return vm.call(callee, argCount)
	case *ObjNative:
		return vm.callNative(callee, argCount)
	}
	return vm.runtimeError("Can only call functions and classes.")
}

// call pushes a frame for closure. The callee and its arguments are already
// on the stack; the callee's slot becomes the frame's slot zero.
func (vm *VM) call(closure *ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError(fmt.Sprintf("Expected %d arguments but got %d.",
			closure.Function.Arity, argCount))
	}
	if vm.frameCount == len(vm.frames) {
		return vm.runtimeError(errStackOverflow)
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return nil
}

func (vm *VM) callNative(native *ObjNative, argCount int) error {
	if native.Arity >= 0 && argCount != native.Arity {
		return vm.runtimeError(fmt.Sprintf("Expected %d arguments but got %d.",
			native.Arity, argCount))
	}
	args := vm.stack[vm.stackTop-argCount : vm.stackTop]
	result, err := native.Fn(args)
	if err != nil {
		return vm.runtimeError(err.Error())
	}
	vm.stackTop -= argCount + 1
	clear(vm.stack[vm.stackTop : vm.stackTop+argCount+1])
	return vm.push(result)
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for slot, creating it if no
// closure has captured that slot yet. The open list is kept sorted by
// descending slot so closing can stop early.
func (vm *VM) captureUpvalue(slot int) *ObjUpvalue {
	var prev *ObjUpvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot > slot {
		prev = upvalue
		upvalue = upvalue.next
	}
	if upvalue != nil && upvalue.Slot == slot {
		return upvalue
	}

	created := vm.heap.NewUpvalue(slot)
	created.next = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues moves every open upvalue at or above last off the stack.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.stack[upvalue.Slot]
		upvalue.open = false
		vm.openUpvalues = upvalue.next
		upvalue.next = nil
	}
}

func (vm *VM) readUpvalue(u *ObjUpvalue) Value {
	if u.open {
		return vm.stack[u.Slot]
	}
	return u.Closed
}

func (vm *VM) writeUpvalue(u *ObjUpvalue, v Value) {
	if u.open {
		vm.stack[u.Slot] = v
		return
	}
	u.Closed = v
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// runtimeError builds a RuntimeError carrying the line of the faulting
// instruction in every active frame, innermost first.
func (vm *VM) runtimeError(message string) *RuntimeError {
	err := &RuntimeError{Message: message}
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		entry := TraceEntry{Line: fn.Chunk.Line(frame.ip - 1)}
		if fn.Name != nil {
			entry.Function = fn.Name.Chars
		}
		err.Trace = append(err.Trace, entry)
	}
	vmLog.Debugf("runtime error at line %d: %s", err.Line(), message)
	return err
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) traceInstruction(frame *CallFrame) {
	var sb strings.Builder
	sb.WriteString("          ")
	for i := 0; i < vm.stackTop; i++ {
		sb.WriteString("[ ")
		sb.WriteString(FormatValue(vm.stack[i]))
		sb.WriteString(" ]")
	}
	fmt.Fprintln(vm.traceOut, sb.String())
	DisassembleInstruction(vm.traceOut, &frame.closure.Function.Chunk, frame.ip)
}

// run executes instructions until the outermost frame returns, yielding the
// value it returned.
func (vm *VM) run() (Value, error) {
	frame := &vm.frames[vm.frameCount-1]
	chunk := &frame.closure.Function.Chunk

	readByte := func() byte {
		b := chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		v := chunk.ReadUint16(frame.ip)
		frame.ip += 2
		return int(v)
	}
	readConstant := func() Value {
		return chunk.Constants[readByte()]
	}
	readString := func() *ObjString {
		return readConstant().(*ObjString)
	}

	for {
		if vm.opts.TraceExecution {
			vm.traceInstruction(frame)
		}

		op := Opcode(readByte())
		switch op {
		// --- Constants and literals ---
		case OpConstant:
			if err := vm.push(readConstant()); err != nil {
				return nil, err
			}

		case OpNil:
			if err := vm.push(Nil); err != nil {
				return nil, err
			}

		case OpTrue:
			if err := vm.push(Bool(true)); err != nil {
				return nil, err
			}

		case OpFalse:
			if err := vm.push(Bool(false)); err != nil {
				return nil, err
			}

		case OpPop:
			vm.pop()

		// --- Variables ---
		case OpGetLocal:
			slot := int(readByte())
			if err := vm.push(vm.stack[frame.slots+slot]); err != nil {
				return nil, err
			}

		case OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case OpGetGlobal:
			name := readString()
			value, ok := vm.globals[name]
			if !ok {
				return nil, vm.runtimeError(fmt.Sprintf("Undefined variable '%s'.", name.Chars))
			}
			if err := vm.push(value); err != nil {
				return nil, err
			}

		case OpDefineGlobal:
			name := readString()
			vm.globals[name] = vm.peek(0)
			vm.pop()

		case OpSetGlobal:
			name := readString()
			if _, ok := vm.globals[name]; !ok {
				return nil, vm.runtimeError(fmt.Sprintf("Undefined variable '%s'.", name.Chars))
			}
			vm.globals[name] = vm.peek(0)

		case OpGetUpvalue:
			slot := readByte()
			if err := vm.push(vm.readUpvalue(frame.closure.Upvalues[slot])); err != nil {
				return nil, err
			}

		case OpSetUpvalue:
			slot := readByte()
			vm.writeUpvalue(frame.closure.Upvalues[slot], vm.peek(0))

		// --- Comparison and arithmetic ---
		case OpEqual:
			b := vm.pop()
			vm.stack[vm.stackTop-1] = Bool(ValuesEqual(vm.peek(0), b))

		case OpGreater, OpLess, OpSubtract, OpMultiply, OpDivide:
			b, bok := vm.peek(0).(Number)
			a, aok := vm.peek(1).(Number)
			if !aok || !bok {
				return nil, vm.runtimeError("Operands must be numbers.")
			}
			vm.pop()
			vm.stack[vm.stackTop-1] = binaryNumber(op, a, b)

		case OpAdd:
			if err := vm.add(); err != nil {
				return nil, err
			}

		case OpNot:
			vm.stack[vm.stackTop-1] = Bool(IsFalsey(vm.peek(0)))

		case OpNegate:
			n, ok := vm.peek(0).(Number)
			if !ok {
				return nil, vm.runtimeError("Operand must be a number.")
			}
			vm.stack[vm.stackTop-1] = -n

		// --- Statements and control flow ---
		case OpPrint:
			fmt.Fprintln(vm.out, FormatValue(vm.pop()))

		case OpJump:
			offset := readShort()
			frame.ip += offset

		case OpJumpIfFalse:
			offset := readShort()
			if IsFalsey(vm.peek(0)) {
				frame.ip += offset
			}

		case OpLoop:
			offset := readShort()
			frame.ip -= offset

		// --- Functions ---
		case OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return nil, err
			}
			frame = &vm.frames[vm.frameCount-1]
			chunk = &frame.closure.Function.Chunk

		case OpClosure:
			fn := readConstant().(*ObjFunction)
			closure := vm.heap.NewClosure(fn)
			if err := vm.push(closure); err != nil {
				return nil, err
			}
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			clear(vm.stack[frame.slots:vm.stackTop])
			vm.stackTop = frame.slots
			if vm.frameCount == 0 {
				return result, nil
			}

			// The callee's slot is free again, so this cannot overflow.
			vm.stack[vm.stackTop] = result
			vm.stackTop++
			frame = &vm.frames[vm.frameCount-1]
			chunk = &frame.closure.Function.Chunk

		default:
			return nil, vm.runtimeError(fmt.Sprintf("Unknown opcode %d.", byte(op)))
		}
	}
}

// add implements +, which concatenates two strings or sums two numbers.
func (vm *VM) add() error {
	switch b := vm.peek(0).(type) {
	case *ObjString:
		if a, ok := vm.peek(1).(*ObjString); ok {
			result := vm.heap.CopyString(a.Chars + b.Chars)
			vm.pop()
			vm.pop()
			return vm.push(result)
		}
	case Number:
		if a, ok := vm.peek(1).(Number); ok {
			vm.pop()
			vm.pop()
			return vm.push(a + b)
		}
	}
	return vm.runtimeError("Operands must be two numbers or two strings.")
}

// binaryNumber applies a numeric binary opcode. Division follows IEEE 754:
// dividing by zero yields an infinity or NaN rather than an error.
func binaryNumber(op Opcode, a, b Number) Value {
	switch op {
	case OpGreater:
		return Bool(a > b)
	case OpLess:
		return Bool(a < b)
	case OpSubtract:
		return a - b
	case OpMultiply:
		return a * b
	case OpDivide:
		return a / b
	}
	panic(fmt.Sprintf("binaryNumber: unexpected opcode %s", op))
}
