package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Diagnostic is one reported compile error.
type Diagnostic struct {
	Line int
	// Where locates the error within the line: " at 'lexeme'", " at end",
	// or empty for lexical errors, which carry their own message.
	Where   string
	Message string

	// Offset and Length span the offending source text. Length is zero at
	// end of input.
	Offset int
	Length int
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Line, d.Where, d.Message)
}

// Error is returned when compilation reports one or more diagnostics. The
// partially emitted bytecode is discarded.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

// Diagnostics extracts the diagnostics from a compile error, or returns nil
// if err is not one.
func Diagnostics(err error) []Diagnostic {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Diagnostics
	}
	return nil
}
