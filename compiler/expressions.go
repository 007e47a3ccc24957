package compiler

import (
	"strconv"

	"github.com/chazu/colox/vm"
)

// ---------------------------------------------------------------------------
// Precedence climbing
// ---------------------------------------------------------------------------

// Precedence is an operator's binding power, lowest first.
type Precedence int

const (
	PrecNone        Precedence = iota
	PrecComma                  // ,
	PrecAssignment             // =
	PrecConditional            // ?:
	PrecOr                     // or
	PrecAnd                    // and
	PrecEquality               // == !=
	PrecComparison             // < > <= >=
	PrecTerm                   // + -
	PrecFactor                 // * /
	PrecUnary                  // ! -
	PrecCall                   // ()
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

// parseRule says how a token parses in prefix and infix position.
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules [TokenEOF + 1]parseRule

func init() {
	rules[TokenLeftParen] = parseRule{(*Compiler).grouping, (*Compiler).call, PrecCall}
	rules[TokenMinus] = parseRule{(*Compiler).unary, (*Compiler).binary, PrecTerm}
	rules[TokenPlus] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecTerm}
	rules[TokenSlash] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecFactor}
	rules[TokenStar] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecFactor}
	rules[TokenComma] = parseRule{(*Compiler).missingOperand, (*Compiler).comma, PrecComma}
	rules[TokenQuestion] = parseRule{(*Compiler).missingOperand, (*Compiler).conditional, PrecConditional}
	rules[TokenBang] = parseRule{(*Compiler).unary, nil, PrecNone}
	rules[TokenBangEqual] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecEquality}
	rules[TokenEqualEqual] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecEquality}
	rules[TokenGreater] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecComparison}
	rules[TokenGreaterEqual] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecComparison}
	rules[TokenLess] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecComparison}
	rules[TokenLessEqual] = parseRule{(*Compiler).missingOperand, (*Compiler).binary, PrecComparison}
	rules[TokenIdentifier] = parseRule{(*Compiler).variable, nil, PrecNone}
	rules[TokenString] = parseRule{(*Compiler).stringLiteral, nil, PrecNone}
	rules[TokenNumber] = parseRule{(*Compiler).number, nil, PrecNone}
	rules[TokenAnd] = parseRule{(*Compiler).missingOperand, (*Compiler).and, PrecAnd}
	rules[TokenOr] = parseRule{(*Compiler).missingOperand, (*Compiler).or, PrecOr}
	rules[TokenFalse] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[TokenNil] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[TokenTrue] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[TokenThis] = parseRule{(*Compiler).unsupportedClass, nil, PrecNone}
	rules[TokenSuper] = parseRule{(*Compiler).unsupportedClass, nil, PrecNone}
}

func getRule(typ TokenType) *parseRule {
	return &rules[typ]
}

func (c *Compiler) expression() {
	c.parsePrecedence(PrecComma)
}

// parsePrecedence parses any expression whose operators bind at least as
// tightly as prec.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		getRule(c.previous.Type).infix(c, canAssign)
	}

	if canAssign && c.match(TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

// ---------------------------------------------------------------------------
// Prefix rules
// ---------------------------------------------------------------------------

func (c *Compiler) number(bool) {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(vm.Number(n))
}

func (c *Compiler) stringLiteral(bool) {
	lexeme := c.previous.Lexeme
	c.emitConstant(c.heap.CopyString(lexeme[1 : len(lexeme)-1]))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(vm.OpFalse)
	case TokenNil:
		c.emitOp(vm.OpNil)
	case TokenTrue:
		c.emitOp(vm.OpTrue)
	}
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(bool) {
	operator := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch operator {
	case TokenBang:
		c.emitOp(vm.OpNot)
	case TokenMinus:
		c.emitOp(vm.OpNegate)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) namedVariable(name Token, canAssign bool) {
	var getOp, setOp vm.Opcode
	var arg int
	if arg = c.resolveLocal(c.fs, name); arg != -1 {
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
	} else if arg = c.resolveUpvalue(c.fs, name); arg != -1 {
		getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = vm.OpGetGlobal, vm.OpSetGlobal
	}

	if canAssign && c.match(TokenEqual) {
		c.parsePrecedence(PrecAssignment)
		c.emitOpByte(setOp, byte(arg))
		return
	}
	if getOp == vm.OpGetLocal {
		c.fs.locals[arg].used = true
	}
	c.emitOpByte(getOp, byte(arg))
}

// missingOperand reports a binary operator used without a left operand and
// parses the right operand so the rest of the line is consumed sensibly.
func (c *Compiler) missingOperand(bool) {
	rule := getRule(c.previous.Type)
	c.error("Missing left-hand operand.")
	c.parsePrecedence(rule.precedence + 1)
}

func (c *Compiler) unsupportedClass(bool) {
	c.error("Classes are not supported.")
}

// ---------------------------------------------------------------------------
// Infix rules
// ---------------------------------------------------------------------------

func (c *Compiler) binary(bool) {
	operator := c.previous.Type
	rule := getRule(operator)
	c.parsePrecedence(rule.precedence + 1)

	switch operator {
	case TokenBangEqual:
		c.emitOp(vm.OpEqual)
		c.emitOp(vm.OpNot)
	case TokenEqualEqual:
		c.emitOp(vm.OpEqual)
	case TokenGreater:
		c.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		c.emitOp(vm.OpLess)
		c.emitOp(vm.OpNot)
	case TokenLess:
		c.emitOp(vm.OpLess)
	case TokenLessEqual:
		c.emitOp(vm.OpGreater)
		c.emitOp(vm.OpNot)
	case TokenPlus:
		c.emitOp(vm.OpAdd)
	case TokenMinus:
		c.emitOp(vm.OpSubtract)
	case TokenStar:
		c.emitOp(vm.OpMultiply)
	case TokenSlash:
		c.emitOp(vm.OpDivide)
	}
}

// comma evaluates its left operand for effect and yields the right one.
func (c *Compiler) comma(bool) {
	c.emitOp(vm.OpPop)
	c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) and(bool) {
	endJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	elseJump := c.emitJump(vm.OpJumpIfFalse)
	endJump := c.emitJump(vm.OpJump)
	c.patchJump(elseJump)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

// conditional compiles cond ? then : else. The else branch is parsed at the
// same precedence, which makes the operator right-associative.
func (c *Compiler) conditional(bool) {
	thenJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.expression()
	c.consume(TokenColon, "Expect ':' after then branch of conditional expression.")
	elseJump := c.emitJump(vm.OpJump)
	c.patchJump(thenJump)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(PrecConditional)
	c.patchJump(elseJump)
}

func (c *Compiler) call(bool) {
	argCount := c.argumentList()
	c.emitOpByte(vm.OpCall, argCount)
}

func (c *Compiler) argumentList() byte {
	argCount := 0
	if !c.check(TokenRightParen) {
		for {
			// Commas separate arguments here.
			c.parsePrecedence(PrecAssignment)
			if argCount == maxArgs {
				c.error("Can't have more than 255 arguments.")
			}
			argCount++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightParen, "Expect ')' after arguments.")
	return byte(argCount)
}
