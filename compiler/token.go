package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token types for the Lox scanner
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Single-character tokens
	TokenLeftParen TokenType = iota
	TokenRightParen
	TokenLeftBrace
	TokenRightBrace
	TokenComma
	TokenDot
	TokenMinus
	TokenPlus
	TokenSemicolon
	TokenSlash
	TokenStar
	TokenQuestion
	TokenColon

	// One or two character tokens
	TokenBang
	TokenBangEqual
	TokenEqual
	TokenEqualEqual
	TokenGreater
	TokenGreaterEqual
	TokenLess
	TokenLessEqual

	// Literals
	TokenIdentifier
	TokenString
	TokenNumber

	// Keywords
	TokenAnd
	TokenBreak
	TokenClass
	TokenElse
	TokenFalse
	TokenFor
	TokenFun
	TokenIf
	TokenNil
	TokenOr
	TokenPrint
	TokenReturn
	TokenSuper
	TokenThis
	TokenTrue
	TokenVar
	TokenWhile

	// Special tokens
	TokenError
	TokenEOF
)

var tokenNames = map[TokenType]string{
	TokenLeftParen:    "LEFT_PAREN",
	TokenRightParen:   "RIGHT_PAREN",
	TokenLeftBrace:    "LEFT_BRACE",
	TokenRightBrace:   "RIGHT_BRACE",
	TokenComma:        "COMMA",
	TokenDot:          "DOT",
	TokenMinus:        "MINUS",
	TokenPlus:         "PLUS",
	TokenSemicolon:    "SEMICOLON",
	TokenSlash:        "SLASH",
	TokenStar:         "STAR",
	TokenQuestion:     "QUESTION",
	TokenColon:        "COLON",
	TokenBang:         "BANG",
	TokenBangEqual:    "BANG_EQUAL",
	TokenEqual:        "EQUAL",
	TokenEqualEqual:   "EQUAL_EQUAL",
	TokenGreater:      "GREATER",
	TokenGreaterEqual: "GREATER_EQUAL",
	TokenLess:         "LESS",
	TokenLessEqual:    "LESS_EQUAL",
	TokenIdentifier:   "IDENTIFIER",
	TokenString:       "STRING",
	TokenNumber:       "NUMBER",
	TokenAnd:          "AND",
	TokenBreak:        "BREAK",
	TokenClass:        "CLASS",
	TokenElse:         "ELSE",
	TokenFalse:        "FALSE",
	TokenFor:          "FOR",
	TokenFun:          "FUN",
	TokenIf:           "IF",
	TokenNil:          "NIL",
	TokenOr:           "OR",
	TokenPrint:        "PRINT",
	TokenReturn:       "RETURN",
	TokenSuper:        "SUPER",
	TokenThis:         "THIS",
	TokenTrue:         "TRUE",
	TokenVar:          "VAR",
	TokenWhile:        "WHILE",
	TokenError:        "ERROR",
	TokenEOF:          "EOF",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Token is a lexical token. Lexeme is a slice of the source text, except for
// error tokens, where it holds the diagnostic message.
type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
	Offset int // byte offset of the token's first character in the source
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Lexeme)
	}
	if len(t.Lexeme) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Lexeme[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Lexeme)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"and":    TokenAnd,
	"break":  TokenBreak,
	"class":  TokenClass,
	"else":   TokenElse,
	"false":  TokenFalse,
	"for":    TokenFor,
	"fun":    TokenFun,
	"if":     TokenIf,
	"nil":    TokenNil,
	"or":     TokenOr,
	"print":  TokenPrint,
	"return": TokenReturn,
	"super":  TokenSuper,
	"this":   TokenThis,
	"true":   TokenTrue,
	"var":    TokenVar,
	"while":  TokenWhile,
}

// Keywords returns the reserved words in sorted order.
func Keywords() []string {
	words := make([]string, 0, len(reservedWords))
	for w := range reservedWords {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// IsKeyword reports whether s is a reserved word.
func IsKeyword(s string) bool {
	_, ok := reservedWords[s]
	return ok
}
