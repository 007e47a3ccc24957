package vm

import "testing"

func TestInterpretResultExitCode(t *testing.T) {
	tests := []struct {
		r    InterpretResult
		code int
		name string
	}{
		{InterpretOK, 0, "ok"},
		{InterpretCompileError, 65, "compile error"},
		{InterpretRuntimeError, 70, "runtime error"},
	}
	for _, tc := range tests {
		if got := tc.r.ExitCode(); got != tc.code {
			t.Errorf("%v.ExitCode() = %d, want %d", tc.r, got, tc.code)
		}
		if got := tc.r.String(); got != tc.name {
			t.Errorf("String() = %q, want %q", got, tc.name)
		}
	}
	if ExitIOErr == ExitDataErr || ExitIOErr == ExitSoftware || ExitDataErr == ExitSoftware {
		t.Error("exit codes must be distinct")
	}
}

func TestRuntimeErrorFormat(t *testing.T) {
	err := &RuntimeError{
		Message: "Operands must be numbers.",
		Trace: []TraceEntry{
			{Line: 3, Function: "inner"},
			{Line: 7, Function: "outer"},
			{Line: 9},
		},
	}
	want := "Operands must be numbers.\n" +
		"[line 3] in inner()\n" +
		"[line 7] in outer()\n" +
		"[line 9] in script"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Line() != 3 {
		t.Errorf("Line() = %d, want 3", err.Line())
	}
	if (&RuntimeError{}).Line() != 0 {
		t.Error("Line() of empty trace should be 0")
	}
	if !IsRuntimeError(err) {
		t.Error("IsRuntimeError = false")
	}
}

func TestStateString(t *testing.T) {
	if StateHaltedCompileError.String() != "halted-compile-error" {
		t.Errorf("String() = %q", StateHaltedCompileError.String())
	}
	if State(99).String() != "State(99)" {
		t.Errorf("String() = %q", State(99).String())
	}
}
