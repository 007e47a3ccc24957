package compiler

// ---------------------------------------------------------------------------
// Scanner: on-demand tokenizer for Lox source
// ---------------------------------------------------------------------------

// Scanner produces tokens one at a time as the compiler asks for them. It
// works on bytes: Lox identifiers, numbers and operators are ASCII, and any
// other byte outside a string literal is an error token.
type Scanner struct {
	source  string
	start   int // offset of the token being scanned
	current int // offset of the next unread byte
	line    int
}

// NewScanner creates a scanner positioned at the start of source.
func NewScanner(source string) *Scanner {
	s := &Scanner{}
	s.Init(source)
	return s
}

// Init resets the scanner to the start of source.
func (s *Scanner) Init(source string) {
	s.source = source
	s.start = 0
	s.current = 0
	s.line = 1
}

// Line returns the line the scanner is currently on.
func (s *Scanner) Line() int {
	return s.line
}

// ScanToken returns the next token. Once the end of input is reached every
// further call returns an EOF token. Lexical errors are returned as error
// tokens and scanning can continue past them.
func (s *Scanner) ScanToken() Token {
	if tok, ok := s.skipWhitespace(); !ok {
		return tok
	}
	s.start = s.current

	if s.isAtEnd() {
		return s.makeToken(TokenEOF)
	}

	c := s.advance()
	switch {
	case isAlpha(c):
		return s.identifier()
	case isDigit(c):
		return s.number()
	}

	switch c {
	case '(':
		return s.makeToken(TokenLeftParen)
	case ')':
		return s.makeToken(TokenRightParen)
	case '{':
		return s.makeToken(TokenLeftBrace)
	case '}':
		return s.makeToken(TokenRightBrace)
	case ';':
		return s.makeToken(TokenSemicolon)
	case ',':
		return s.makeToken(TokenComma)
	case '.':
		return s.makeToken(TokenDot)
	case '-':
		return s.makeToken(TokenMinus)
	case '+':
		return s.makeToken(TokenPlus)
	case '/':
		return s.makeToken(TokenSlash)
	case '*':
		return s.makeToken(TokenStar)
	case '?':
		return s.makeToken(TokenQuestion)
	case ':':
		return s.makeToken(TokenColon)
	case '!':
		return s.makeToken(s.pick('=', TokenBangEqual, TokenBang))
	case '=':
		return s.makeToken(s.pick('=', TokenEqualEqual, TokenEqual))
	case '<':
		return s.makeToken(s.pick('=', TokenLessEqual, TokenLess))
	case '>':
		return s.makeToken(s.pick('=', TokenGreaterEqual, TokenGreater))
	case '"':
		return s.scanString()
	}

	return s.errorToken("Unexpected character.")
}

// Tokenize returns every token in input, ending with EOF.
func Tokenize(input string) []Token {
	s := NewScanner(input)
	var tokens []Token
	for {
		tok := s.ScanToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens
}

func (s *Scanner) isAtEnd() bool {
	return s.current >= len(s.source)
}

func (s *Scanner) advance() byte {
	c := s.source[s.current]
	s.current++
	return c
}

func (s *Scanner) peek() byte {
	if s.isAtEnd() {
		return 0
	}
	return s.source[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.source) {
		return 0
	}
	return s.source[s.current+1]
}

// match consumes the next byte if it is expected.
func (s *Scanner) match(expected byte) bool {
	if s.isAtEnd() || s.source[s.current] != expected {
		return false
	}
	s.current++
	return true
}

// pick returns two if the next byte is next (consuming it), else one.
func (s *Scanner) pick(next byte, two, one TokenType) TokenType {
	if s.match(next) {
		return two
	}
	return one
}

func (s *Scanner) makeToken(typ TokenType) Token {
	return Token{
		Type:   typ,
		Lexeme: s.source[s.start:s.current],
		Line:   s.line,
		Offset: s.start,
	}
}

func (s *Scanner) errorToken(message string) Token {
	return Token{
		Type:   TokenError,
		Lexeme: message,
		Line:   s.line,
		Offset: s.start,
	}
}

// skipWhitespace skips whitespace, line comments and block comments. Block
// comments nest. An unterminated block comment yields an error token and
// ok is false.
func (s *Scanner) skipWhitespace() (tok Token, ok bool) {
	for {
		switch s.peek() {
		case ' ', '\r', '\t':
			s.advance()
		case '\n':
			s.line++
			s.advance()
		case '/':
			switch s.peekNext() {
			case '/':
				for s.peek() != '\n' && !s.isAtEnd() {
					s.advance()
				}
			case '*':
				s.start = s.current
				if !s.blockComment() {
					return s.errorToken("Unterminated comment."), false
				}
			default:
				return Token{}, true
			}
		default:
			return Token{}, true
		}
	}
}

// blockComment consumes a /* ... */ comment, including nested ones.
func (s *Scanner) blockComment() bool {
	s.current += 2 // "/*"
	depth := 1
	for depth > 0 {
		if s.isAtEnd() {
			return false
		}
		switch {
		case s.peek() == '/' && s.peekNext() == '*':
			s.current += 2
			depth++
		case s.peek() == '*' && s.peekNext() == '/':
			s.current += 2
			depth--
		default:
			if s.advance() == '\n' {
				s.line++
			}
		}
	}
	return true
}

func (s *Scanner) scanString() Token {
	for s.peek() != '"' && !s.isAtEnd() {
		if s.peek() == '\n' {
			s.line++
		}
		s.advance()
	}
	if s.isAtEnd() {
		return s.errorToken("Unterminated string.")
	}
	s.advance() // closing quote
	return s.makeToken(TokenString)
}

func (s *Scanner) number() Token {
	for isDigit(s.peek()) {
		s.advance()
	}
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.advance() // "."
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	return s.makeToken(TokenNumber)
}

func (s *Scanner) identifier() Token {
	for isAlpha(s.peek()) || isDigit(s.peek()) {
		s.advance()
	}
	if typ, ok := reservedWords[s.source[s.start:s.current]]; ok {
		return s.makeToken(typ)
	}
	return s.makeToken(TokenIdentifier)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
