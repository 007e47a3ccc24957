package compiler

import (
	"math"

	"github.com/chazu/colox/vm"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Compiler: single-pass source to bytecode translation
// ---------------------------------------------------------------------------

var log = commonlog.GetLogger("colox.compiler")

// Limits imposed by one-byte operands.
const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArgs     = 255
)

// FunctionType distinguishes the implicit top-level function from user
// functions.
type FunctionType int

const (
	TypeScript FunctionType = iota
	TypeFunction
)

type local struct {
	name       Token
	depth      int // -1 while the initializer is being compiled
	isCaptured bool
	used       bool // read at least once; parameters start out used
}

type upvalue struct {
	index   uint8
	isLocal bool
}

// loopState tracks the innermost enclosing loop for break.
type loopState struct {
	enclosing  *loopState
	scopeDepth int
	breaks     []int // offsets of break jumps to patch at loop exit
}

// funcState is the per-function compilation state. Nested function
// declarations push a new funcState linked to the enclosing one.
type funcState struct {
	enclosing  *funcState
	function   *vm.ObjFunction
	kind       FunctionType
	locals     []local
	upvalues   []upvalue
	scopeDepth int
	loop       *loopState
}

// Compiler holds parser state for one compilation. It allocates constants,
// interned strings and nested functions through the heap it was given.
type Compiler struct {
	scanner  *Scanner
	heap     *vm.Heap
	current  Token
	previous Token

	// panicMode suppresses further reports until synchronize finds a
	// statement boundary.
	panicMode   bool
	hadError    bool
	diagnostics []Diagnostic

	fs *funcState
}

// NewCompiler creates a compiler for source that allocates into heap.
func NewCompiler(source string, heap *vm.Heap) *Compiler {
	c := &Compiler{
		scanner: NewScanner(source),
		heap:    heap,
	}
	c.pushFunction(TypeScript)
	return c
}

// Compile compiles a whole script into its top-level function. If any error
// is reported the function is discarded and a *Error listing every
// diagnostic is returned.
func Compile(source string, heap *vm.Heap) (*vm.ObjFunction, error) {
	c := NewCompiler(source, heap)
	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	return c.finish()
}

// CompileExpression compiles a single expression into a function that
// returns its value.
func CompileExpression(source string, heap *vm.Heap) (*vm.ObjFunction, error) {
	c := NewCompiler(source, heap)
	c.advance()
	c.expression()
	c.consume(TokenEOF, "Expect end of expression.")
	c.emitOp(vm.OpReturn)
	return c.finish()
}

func (c *Compiler) finish() (*vm.ObjFunction, error) {
	fn, _ := c.endFunction()
	if len(c.diagnostics) > 0 {
		log.Debugf("compilation failed with %d errors", len(c.diagnostics))
		return nil, &Error{Diagnostics: c.diagnostics}
	}
	log.Debugf("compiled script: %d code bytes", fn.Chunk.Len())
	return fn, nil
}

// ---------------------------------------------------------------------------
// Function state
// ---------------------------------------------------------------------------

func (c *Compiler) pushFunction(kind FunctionType) {
	fs := &funcState{
		enclosing: c.fs,
		function:  c.heap.NewFunction(),
		kind:      kind,
		locals:    make([]local, 0, 8),
	}
	if kind != TypeScript {
		fs.function.Name = c.heap.CopyString(c.previous.Lexeme)
	}
	// Slot zero holds the callee.
	fs.locals = append(fs.locals, local{depth: 0})
	c.fs = fs
}

// endFunction terminates the current function and returns to the
// enclosing one.
func (c *Compiler) endFunction() (*vm.ObjFunction, []upvalue) {
	c.emitReturn()
	fs := c.fs
	for _, l := range fs.locals[1:] {
		c.checkUsed(l)
	}
	c.fs = fs.enclosing
	return fs.function, fs.upvalues
}

func (c *Compiler) chunk() *vm.Chunk {
	return &c.fs.function.Chunk
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.ScanToken()
		if c.current.Type != TokenError {
			return
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(typ TokenType, message string) {
	if c.current.Type == typ {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(typ TokenType) bool {
	return c.current.Type == typ
}

func (c *Compiler) match(typ TokenType) bool {
	if !c.check(typ) {
		return false
	}
	c.advance()
	return true
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAt(tok Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	c.report(tok, message)
}

// report records a diagnostic at tok.
func (c *Compiler) report(tok Token, message string) {
	d := Diagnostic{Line: tok.Line, Message: message, Offset: tok.Offset}
	switch tok.Type {
	case TokenEOF:
		d.Where = " at end"
	case TokenError:
		// The message is the lexeme.
		d.Length = 1
	default:
		d.Where = " at '" + tok.Lexeme + "'"
		d.Length = len(tok.Lexeme)
	}
	c.diagnostics = append(c.diagnostics, d)
}

// synchronize leaves panic mode by skipping tokens until a likely statement
// boundary.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != TokenEOF {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf,
			TokenWhile, TokenPrint, TokenReturn, TokenBreak:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emitting bytecode
// ---------------------------------------------------------------------------

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op vm.Opcode) {
	c.chunk().WriteOp(op, c.previous.Line)
}

func (c *Compiler) emitOpByte(op vm.Opcode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitReturn() {
	c.emitOp(vm.OpNil)
	c.emitOp(vm.OpReturn)
}

func (c *Compiler) makeConstant(v vm.Value) byte {
	idx := c.chunk().AddConstant(v)
	if idx >= vm.MaxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v vm.Value) {
	c.emitOpByte(vm.OpConstant, c.makeConstant(v))
}

// emitJump writes a forward jump with a placeholder offset and returns the
// offset of the placeholder.
func (c *Compiler) emitJump(op vm.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.chunk().Len() - 2
}

// patchJump points the jump whose operand is at offset to the current end
// of the chunk.
func (c *Compiler) patchJump(offset int) {
	jump := c.chunk().Len() - offset - 2
	if jump > math.MaxUint16 {
		c.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(vm.OpLoop)
	offset := c.chunk().Len() - loopStart + 2
	if offset > math.MaxUint16 {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---------------------------------------------------------------------------
// Scopes and variables
// ---------------------------------------------------------------------------

func (c *Compiler) beginScope() {
	c.fs.scopeDepth++
}

func (c *Compiler) endScope() {
	fs := c.fs
	fs.scopeDepth--
	n := len(fs.locals)
	for n > 0 && fs.locals[n-1].depth > fs.scopeDepth {
		n--
	}
	for _, l := range fs.locals[n:] {
		c.checkUsed(l)
	}
	for len(fs.locals) > n {
		c.discardLocal(fs.locals[len(fs.locals)-1])
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

// checkUsed reports a local that goes out of scope without ever being read.
// Once another error has been reported the check is skipped, since
// recovery may have discarded the reads.
func (c *Compiler) checkUsed(l local) {
	if l.used || c.hadError {
		return
	}
	c.report(l.name, "Local variable is never used.")
}

// discardLocal emits the instruction that drops a local leaving scope.
func (c *Compiler) discardLocal(l local) {
	if l.isCaptured {
		c.emitOp(vm.OpCloseUpvalue)
	} else {
		c.emitOp(vm.OpPop)
	}
}

func (c *Compiler) identifierConstant(name Token) byte {
	return c.makeConstant(c.heap.CopyString(name.Lexeme))
}

func (c *Compiler) addLocal(name Token) {
	if len(c.fs.locals) == maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fs.locals = append(c.fs.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.fs.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.fs.locals) - 1; i >= 0; i-- {
		l := c.fs.locals[i]
		if l.depth != -1 && l.depth < c.fs.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

// parseVariable consumes a variable name. Globals are referenced through a
// name constant, whose index is returned; locals return 0.
func (c *Compiler) parseVariable(message string) byte {
	c.consume(TokenIdentifier, message)
	c.declareVariable()
	if c.fs.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *Compiler) markInitialized() {
	if c.fs.scopeDepth == 0 {
		return
	}
	c.fs.locals[len(c.fs.locals)-1].depth = c.fs.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fs.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(vm.OpDefineGlobal, global)
}

func (c *Compiler) resolveLocal(fs *funcState, name Token) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		l := fs.locals[i]
		if i > 0 && l.name.Lexeme == name.Lexeme {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fs *funcState, index uint8, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) == maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalue{index: index, isLocal: isLocal})
	fs.function.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}

// resolveUpvalue finds name in an enclosing function, threading the capture
// through every intermediate function.
func (c *Compiler) resolveUpvalue(fs *funcState, name Token) int {
	if fs.enclosing == nil {
		return -1
	}
	if l := c.resolveLocal(fs.enclosing, name); l != -1 {
		fs.enclosing.locals[l].isCaptured = true
		fs.enclosing.locals[l].used = true
		return c.addUpvalue(fs, uint8(l), true)
	}
	if uv := c.resolveUpvalue(fs.enclosing, name); uv != -1 {
		return c.addUpvalue(fs, uint8(uv), false)
	}
	return -1
}
