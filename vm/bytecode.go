package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Constants and literals
const (
	OpConstant Opcode = 0x00 // push constant (8-bit pool index)
	OpNil      Opcode = 0x01 // push nil
	OpTrue     Opcode = 0x02 // push true
	OpFalse    Opcode = 0x03 // push false
	OpPop      Opcode = 0x04 // discard top of stack
)

// Variables
const (
	OpGetLocal     Opcode = 0x10 // push local slot (8-bit slot)
	OpSetLocal     Opcode = 0x11 // store top into local slot (8-bit slot)
	OpGetGlobal    Opcode = 0x12 // push global (8-bit name constant)
	OpDefineGlobal Opcode = 0x13 // pop into new global (8-bit name constant)
	OpSetGlobal    Opcode = 0x14 // store top into existing global (8-bit name constant)
	OpGetUpvalue   Opcode = 0x15 // push captured variable (8-bit upvalue index)
	OpSetUpvalue   Opcode = 0x16 // store top into captured variable (8-bit upvalue index)
)

// Comparison and arithmetic
const (
	OpEqual    Opcode = 0x20
	OpGreater  Opcode = 0x21
	OpLess     Opcode = 0x22
	OpAdd      Opcode = 0x23
	OpSubtract Opcode = 0x24
	OpMultiply Opcode = 0x25
	OpDivide   Opcode = 0x26
	OpNot      Opcode = 0x27
	OpNegate   Opcode = 0x28
)

// Statements and control flow
const (
	OpPrint       Opcode = 0x30 // pop and print
	OpJump        Opcode = 0x31 // forward jump (16-bit offset)
	OpJumpIfFalse Opcode = 0x32 // forward jump if top is falsey, top stays (16-bit offset)
	OpLoop        Opcode = 0x33 // backward jump (16-bit offset)
)

// Calls and closures
const (
	OpCall         Opcode = 0x40 // call callee below argc arguments (8-bit argc)
	OpClosure      Opcode = 0x41 // wrap function constant (8-bit index, then 2 bytes per upvalue)
	OpCloseUpvalue Opcode = 0x42 // hoist top slot into its upvalue and pop
	OpReturn       Opcode = 0x43 // return top of stack from the current frame
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of fixed operand bytes
	StackEffect  int    // net effect on stack (-1 = variable)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpConstant: {"CONSTANT", 1, 1},
	OpNil:      {"NIL", 0, 1},
	OpTrue:     {"TRUE", 0, 1},
	OpFalse:    {"FALSE", 0, 1},
	OpPop:      {"POP", 0, -1},

	OpGetLocal:     {"GET_LOCAL", 1, 1},
	OpSetLocal:     {"SET_LOCAL", 1, 0},
	OpGetGlobal:    {"GET_GLOBAL", 1, 1},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, -1},
	OpSetGlobal:    {"SET_GLOBAL", 1, 0},
	OpGetUpvalue:   {"GET_UPVALUE", 1, 1},
	OpSetUpvalue:   {"SET_UPVALUE", 1, 0},

	OpEqual:    {"EQUAL", 0, -1},
	OpGreater:  {"GREATER", 0, -1},
	OpLess:     {"LESS", 0, -1},
	OpAdd:      {"ADD", 0, -1},
	OpSubtract: {"SUBTRACT", 0, -1},
	OpMultiply: {"MULTIPLY", 0, -1},
	OpDivide:   {"DIVIDE", 0, -1},
	OpNot:      {"NOT", 0, 0},
	OpNegate:   {"NEGATE", 0, 0},

	OpPrint:       {"PRINT", 0, -1},
	OpJump:        {"JUMP", 2, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, 0},
	OpLoop:        {"LOOP", 2, 0},

	OpCall:         {"CALL", 1, -1}, // variable: pops callee + args, pushes result
	OpClosure:      {"CLOSURE", 1, 1},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 0, -1},
	OpReturn:       {"RETURN", 0, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of fixed operand bytes for an opcode.
// CLOSURE additionally carries two bytes per captured variable.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsJump reports whether op carries a 16-bit jump offset.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse || op == OpLoop
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		ops = append(ops, op)
	}
	return ops
}

// InstructionLen returns the total length in bytes of the instruction at
// offset, including CLOSURE's variable-length capture list. It returns an
// error for unknown opcodes or truncated instructions.
func (c *Chunk) InstructionLen(offset int) (int, error) {
	if offset < 0 || offset >= len(c.Code) {
		return 0, fmt.Errorf("offset %d out of range [0, %d)", offset, len(c.Code))
	}
	op := Opcode(c.Code[offset])
	if !op.IsValid() {
		return 0, fmt.Errorf("unknown opcode 0x%02X at offset %d", byte(op), offset)
	}
	n := 1 + op.OperandBytes()
	if op == OpClosure {
		if offset+1 >= len(c.Code) {
			return 0, fmt.Errorf("truncated CLOSURE at offset %d", offset)
		}
		idx := int(c.Code[offset+1])
		if idx >= len(c.Constants) {
			return 0, fmt.Errorf("CLOSURE constant %d out of range at offset %d", idx, offset)
		}
		fn, ok := c.Constants[idx].(*ObjFunction)
		if !ok {
			return 0, fmt.Errorf("CLOSURE constant %d is a %s, not a function", idx, TypeName(c.Constants[idx]))
		}
		n += 2 * fn.UpvalueCount
	}
	if offset+n > len(c.Code) {
		return 0, fmt.Errorf("truncated %s at offset %d", op, offset)
	}
	return n, nil
}

// Validate checks that the chunk decodes into whole instructions, that
// constant operands are in range and name-carrying operands refer to
// strings, and that every jump lands on an instruction boundary.
func (c *Chunk) Validate() error {
	if len(c.Lines) != len(c.Code) {
		return fmt.Errorf("line table has %d entries for %d code bytes", len(c.Lines), len(c.Code))
	}

	starts := make(map[int]bool)
	var jumps [][2]int // offset, target
	for offset := 0; offset < len(c.Code); {
		n, err := c.InstructionLen(offset)
		if err != nil {
			return err
		}
		starts[offset] = true

		op := Opcode(c.Code[offset])
		switch op {
		case OpConstant:
			if idx := int(c.Code[offset+1]); idx >= len(c.Constants) {
				return fmt.Errorf("constant %d out of range at offset %d", idx, offset)
			}
		case OpGetGlobal, OpDefineGlobal, OpSetGlobal:
			idx := int(c.Code[offset+1])
			if idx >= len(c.Constants) {
				return fmt.Errorf("constant %d out of range at offset %d", idx, offset)
			}
			if !IsString(c.Constants[idx]) {
				return fmt.Errorf("%s operand %d is not a string", op, idx)
			}
		case OpJump, OpJumpIfFalse:
			jumps = append(jumps, [2]int{offset, offset + 3 + int(c.ReadUint16(offset+1))})
		case OpLoop:
			jumps = append(jumps, [2]int{offset, offset + 3 - int(c.ReadUint16(offset+1))})
		}
		offset += n
	}

	for _, j := range jumps {
		if j[1] != len(c.Code) && !starts[j[1]] {
			return fmt.Errorf("jump at offset %d lands mid-instruction at %d", j[0], j[1])
		}
	}
	return nil
}


// Limits on function headers, matching what the compiler can emit.
const (
	MaxArity    = 255
	MaxUpvalues = 256
)

// stackNeed returns how many operands op reads from the stack before it
// runs. argc is CALL's argument count.
func stackNeed(op Opcode, argc int) int {
	switch op {
	case OpEqual, OpGreater, OpLess, OpAdd, OpSubtract, OpMultiply, OpDivide:
		return 2
	case OpCall:
		return argc + 1
	case OpPop, OpDefineGlobal, OpPrint, OpCloseUpvalue, OpReturn,
		OpSetLocal, OpSetGlobal, OpSetUpvalue, OpNot, OpNegate, OpJumpIfFalse:
		return 1
	}
	return 0
}

// Validate checks fn's header and chunk, then follows every reachable path
// through the code tracking the operand stack depth of the frame. It
// rejects code that could pop below the frame, read a local slot or
// upvalue that does not exist, or run past the end of the chunk. Depth is
// tracked as a lower bound, so paths that join with different depths keep
// the smaller one.
func (fn *ObjFunction) Validate() error {
	if fn.Arity < 0 || fn.Arity > MaxArity {
		return fmt.Errorf("arity %d out of range", fn.Arity)
	}
	if fn.UpvalueCount < 0 || fn.UpvalueCount > MaxUpvalues {
		return fmt.Errorf("upvalue count %d out of range", fn.UpvalueCount)
	}
	c := &fn.Chunk
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Code) == 0 {
		return fmt.Errorf("empty code")
	}

	last := 0
	for offset := 0; offset < len(c.Code); {
		n, _ := c.InstructionLen(offset)
		last = offset
		offset += n
	}
	if op := Opcode(c.Code[last]); op != OpReturn {
		return fmt.Errorf("code ends with %s, not RETURN", op)
	}

	depth := make(map[int]int)
	work := []int{0}
	depth[0] = 1 + fn.Arity // slot zero holds the callee

	// flow records that target is reached with stack depth d.
	flow := func(from, target, d int) error {
		if target >= len(c.Code) {
			return fmt.Errorf("instruction at offset %d runs past the end of the code", from)
		}
		if seen, ok := depth[target]; ok && seen <= d {
			return nil
		}
		depth[target] = d
		work = append(work, target)
		return nil
	}

	for len(work) > 0 {
		offset := work[len(work)-1]
		work = work[:len(work)-1]
		d := depth[offset]

		op := Opcode(c.Code[offset])
		n, _ := c.InstructionLen(offset)
		argc := 0
		if op == OpCall {
			argc = int(c.Code[offset+1])
		}
		if need := stackNeed(op, argc); d < need {
			return fmt.Errorf("%s at offset %d needs %d stack values, has %d", op, offset, need, d)
		}

		switch op {
		case OpGetLocal, OpSetLocal:
			if slot := int(c.Code[offset+1]); slot >= d {
				return fmt.Errorf("%s slot %d out of range at offset %d", op, slot, offset)
			}
		case OpGetUpvalue, OpSetUpvalue:
			if idx := int(c.Code[offset+1]); idx >= fn.UpvalueCount {
				return fmt.Errorf("%s index %d out of range at offset %d", op, idx, offset)
			}
		case OpClosure:
			nested := c.Constants[c.Code[offset+1]].(*ObjFunction)
			for i := 0; i < nested.UpvalueCount; i++ {
				isLocal := c.Code[offset+2+2*i]
				index := int(c.Code[offset+3+2*i])
				switch {
				case isLocal > 1:
					return fmt.Errorf("CLOSURE capture %d has bad kind %d at offset %d", i, isLocal, offset)
				// A local function may capture its own slot, which the
				// closure occupies once pushed.
				case isLocal == 1 && index > d:
					return fmt.Errorf("CLOSURE captures local slot %d out of range at offset %d", index, offset)
				case isLocal == 0 && index >= fn.UpvalueCount:
					return fmt.Errorf("CLOSURE captures upvalue %d out of range at offset %d", index, offset)
				}
			}
		}

		switch op {
		case OpReturn:
			continue
		case OpJump:
			if err := flow(offset, offset+3+int(c.ReadUint16(offset+1)), d); err != nil {
				return err
			}
			continue
		case OpLoop:
			if err := flow(offset, offset+3-int(c.ReadUint16(offset+1)), d); err != nil {
				return err
			}
			continue
		case OpJumpIfFalse:
			if err := flow(offset, offset+3+int(c.ReadUint16(offset+1)), d); err != nil {
				return err
			}
		}

		next := d + op.Info().StackEffect
		if op == OpCall {
			next = d - argc
		}
		if err := flow(offset, offset+n, next); err != nil {
			return err
		}
	}
	return nil
}
