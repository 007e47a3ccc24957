package compiler

import "github.com/chazu/colox/vm"

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(TokenClass):
		c.error("Classes are not supported.")
	case c.match(TokenFun):
		c.funDeclaration()
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// A function may refer to itself, so it is usable before its body is
	// compiled.
	c.markInitialized()
	c.function(TypeFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body into a new function and emits
// the CLOSURE that creates it at run time.
func (c *Compiler) function(kind FunctionType) {
	c.pushFunction(kind)
	c.beginScope()

	c.consume(TokenLeftParen, "Expect '(' after function name.")
	if !c.check(TokenRightParen) {
		for {
			c.fs.function.Arity++
			if c.fs.function.Arity > maxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			c.fs.locals[len(c.fs.locals)-1].used = true
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightParen, "Expect ')' after parameters.")
	c.consume(TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	fn, upvalues := c.endFunction()
	c.emitOpByte(vm.OpClosure, c.makeConstant(fn))
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(vm.OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) statement() {
	switch {
	case c.match(TokenPrint):
		c.printStatement()
	case c.match(TokenIf):
		c.ifStatement()
	case c.match(TokenWhile):
		c.whileStatement()
	case c.match(TokenFor):
		c.forStatement()
	case c.match(TokenBreak):
		c.breakStatement()
	case c.match(TokenReturn):
		c.returnStatement()
	case c.match(TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(TokenRightBrace) && !c.check(TokenEOF) {
		c.declaration()
	}
	c.consume(TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after value.")
	c.emitOp(vm.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(vm.OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()

	elseJump := c.emitJump(vm.OpJump)
	c.patchJump(thenJump)
	c.emitOp(vm.OpPop)

	if c.match(TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := c.chunk().Len()
	c.consume(TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.beginLoop()
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(vm.OpPop)
	c.endLoop()
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(TokenLeftParen, "Expect '(' after 'for'.")
	switch {
	case c.match(TokenSemicolon):
		// No initializer.
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := c.chunk().Len()
	exitJump := -1
	if !c.match(TokenSemicolon) {
		c.expression()
		c.consume(TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(vm.OpJumpIfFalse)
		c.emitOp(vm.OpPop)
	}

	if !c.match(TokenRightParen) {
		bodyJump := c.emitJump(vm.OpJump)
		incrementStart := c.chunk().Len()
		c.expression()
		c.emitOp(vm.OpPop)
		c.consume(TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.beginLoop()
	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(vm.OpPop)
	}
	c.endLoop()
	c.endScope()
}

// beginLoop opens a break target at the current scope depth.
func (c *Compiler) beginLoop() {
	c.fs.loop = &loopState{
		enclosing:  c.fs.loop,
		scopeDepth: c.fs.scopeDepth,
	}
}

// endLoop points every break in the loop at the current offset, which is
// past the loop's condition cleanup.
func (c *Compiler) endLoop() {
	for _, offset := range c.fs.loop.breaks {
		c.patchJump(offset)
	}
	c.fs.loop = c.fs.loop.enclosing
}

func (c *Compiler) breakStatement() {
	loop := c.fs.loop
	if loop == nil {
		c.error("Can't use 'break' outside of a loop.")
		return
	}
	c.consume(TokenSemicolon, "Expect ';' after 'break'.")

	// Drop the locals declared inside the loop body without forgetting
	// them: code after the break in the same block still compiles against
	// them.
	for i := len(c.fs.locals) - 1; i >= 0 && c.fs.locals[i].depth > loop.scopeDepth; i-- {
		c.discardLocal(c.fs.locals[i])
	}
	loop.breaks = append(loop.breaks, c.emitJump(vm.OpJump))
}

func (c *Compiler) returnStatement() {
	if c.fs.kind == TypeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(TokenSemicolon) {
		c.emitReturn()
		return
	}
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(vm.OpReturn)
}
