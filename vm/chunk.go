package vm

// MaxConstants is the number of distinct constants a chunk can address:
// CONSTANT and the name-carrying instructions use a one-byte operand.
const MaxConstants = 256

// minChunkCapacity is the first capacity a chunk's arrays grow to.
const minChunkCapacity = 8

// growCapacity doubles capacity, starting from minChunkCapacity.
func growCapacity(capacity int) int {
	if capacity < minChunkCapacity {
		return minChunkCapacity
	}
	return capacity * 2
}

// Chunk is a compiled unit of bytecode: the instruction stream, a constant
// pool referenced by index, and a line table aligned 1:1 with Code.
//
// A chunk is append-only while it is being compiled and read-only once the
// VM executes it. It is owned by the ObjFunction it belongs to.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// Init resets the chunk to empty.
func (c *Chunk) Init() {
	c.Code = nil
	c.Lines = nil
	c.Constants = nil
}

// Write appends one byte of code together with the source line that
// produced it.
func (c *Chunk) Write(b byte, line int) {
	if len(c.Code) == cap(c.Code) {
		newCap := growCapacity(cap(c.Code))
		code := make([]byte, len(c.Code), newCap)
		copy(code, c.Code)
		c.Code = code
		lines := make([]int, len(c.Lines), newCap)
		copy(lines, c.Lines)
		c.Lines = lines
	}
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode.
func (c *Chunk) WriteOp(op Opcode, line int) {
	c.Write(byte(op), line)
}

// AddConstant appends v to the constant pool and returns its index. The
// caller is responsible for checking the index against MaxConstants before
// emitting it as an operand.
func (c *Chunk) AddConstant(v Value) int {
	if len(c.Constants) == cap(c.Constants) {
		constants := make([]Value, len(c.Constants), growCapacity(cap(c.Constants)))
		copy(constants, c.Constants)
		c.Constants = constants
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Len returns the number of code bytes.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// Line returns the source line of the code byte at offset, or 0 if the
// offset is out of range.
func (c *Chunk) Line(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// ReadUint16 reads a big-endian 16-bit operand at offset.
func (c *Chunk) ReadUint16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}

// Free releases the chunk's arrays.
func (c *Chunk) Free() {
	c.Init()
}
