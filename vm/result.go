package vm

import (
	"fmt"
	"strings"
)

// Process exit codes shared by every front end. The values follow the BSD
// sysexits convention and are part of the CLI contract.
const (
	ExitOK       = 0
	ExitUsage    = 64 // command line usage error
	ExitDataErr  = 65 // compile error: user data incorrect
	ExitSoftware = 70 // runtime error
	ExitIOErr    = 74 // source could not be read
)

// InterpretResult is the outcome of one Interpret call.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// ExitCode maps the result to the process exit code.
func (r InterpretResult) ExitCode() int {
	switch r {
	case InterpretOK:
		return ExitOK
	case InterpretCompileError:
		return ExitDataErr
	default:
		return ExitSoftware
	}
}

// State is the VM's position in its execution lifecycle.
type State int

const (
	StateReady State = iota
	StateRunning
	StateHaltedOK
	StateHaltedCompileError
	StateHaltedRuntimeError
)

var stateNames = map[State]string{
	StateReady:              "ready",
	StateRunning:            "running",
	StateHaltedOK:           "halted-ok",
	StateHaltedCompileError: "halted-compile-error",
	StateHaltedRuntimeError: "halted-runtime-error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ---------------------------------------------------------------------------
// RuntimeError
// ---------------------------------------------------------------------------

// TraceEntry locates one active call frame at the time of a runtime error.
type TraceEntry struct {
	Line     int
	Function string // "" for the top-level script
}

func (e TraceEntry) String() string {
	if e.Function == "" {
		return fmt.Sprintf("[line %d] in script", e.Line)
	}
	return fmt.Sprintf("[line %d] in %s()", e.Line, e.Function)
}

// RuntimeError is a fatal error raised while executing bytecode. Trace
// lists the active frames, innermost first.
type RuntimeError struct {
	Message string
	Trace   []TraceEntry
}

// Line returns the source line of the faulting instruction.
func (e *RuntimeError) Line() int {
	if len(e.Trace) == 0 {
		return 0
	}
	return e.Trace[0].Line
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, entry := range e.Trace {
		sb.WriteString("\n")
		sb.WriteString(entry.String())
	}
	return sb.String()
}
