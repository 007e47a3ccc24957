package vm

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble returns a human-readable listing of every instruction in the
// chunk, headed by name.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder
	DisassembleChunk(&sb, c, name)
	return sb.String()
}

// DisassembleChunk writes a listing of the chunk to w.
func DisassembleChunk(w io.Writer, c *Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
}

// DisassembleInstruction writes the instruction at offset to w and returns
// the offset of the next instruction.
func DisassembleInstruction(w io.Writer, c *Chunk, offset int) int {
	text, n := c.disassembleInstruction(offset)

	line := "   |"
	if offset == 0 || c.Line(offset) != c.Line(offset-1) {
		line = fmt.Sprintf("%4d", c.Line(offset))
	}
	fmt.Fprintf(w, "%04d %s %s\n", offset, line, text)
	return offset + n
}

// disassembleInstruction formats a single instruction at the given offset.
// Returns the formatted string and the instruction length; malformed input
// is rendered and consumes the rest of the chunk so listings terminate.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	n, err := c.InstructionLen(offset)
	if err != nil {
		if !op.IsValid() {
			return fmt.Sprintf("Unknown opcode %d", byte(op)), 1
		}
		return fmt.Sprintf("%s <%v>", op, err), len(c.Code) - offset
	}

	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal:
		idx := c.Code[offset+1]
		return fmt.Sprintf("%-16s %4d '%s'", op, idx, c.constantString(int(idx))), n

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return fmt.Sprintf("%-16s %4d", op, c.Code[offset+1]), n

	case OpJump, OpJumpIfFalse:
		jump := int(c.ReadUint16(offset + 1))
		return fmt.Sprintf("%-16s %4d -> %d", op, offset, offset+3+jump), n

	case OpLoop:
		jump := int(c.ReadUint16(offset + 1))
		return fmt.Sprintf("%-16s %4d -> %d", op, offset, offset+3-jump), n

	case OpClosure:
		idx := c.Code[offset+1]
		var sb strings.Builder
		fmt.Fprintf(&sb, "%-16s %4d %s", op, idx, c.constantString(int(idx)))
		fn := c.Constants[idx].(*ObjFunction)
		for i := 0; i < fn.UpvalueCount; i++ {
			pos := offset + 2 + 2*i
			kind := "upvalue"
			if c.Code[pos] == 1 {
				kind = "local"
			}
			fmt.Fprintf(&sb, "\n%04d    |                     %s %d", pos, kind, c.Code[pos+1])
		}
		return sb.String(), n

	default:
		return op.String(), n
	}
}

func (c *Chunk) constantString(idx int) string {
	if idx >= len(c.Constants) {
		return "<bad constant>"
	}
	return FormatValue(c.Constants[idx])
}

// DisassembleFunction writes listings for fn and, depth first, for every
// function nested in its constant pool.
func DisassembleFunction(w io.Writer, fn *ObjFunction) {
	DisassembleChunk(w, &fn.Chunk, fn.DisplayName())
	for _, k := range fn.Chunk.Constants {
		if nested, ok := k.(*ObjFunction); ok {
			DisassembleFunction(w, nested)
		}
	}
}
