package vm_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/vm"
)

// run interprets source on a fresh VM and returns the result, stdout and
// stderr.
func run(t *testing.T, source string) (vm.InterpretResult, string, string) {
	t.Helper()
	v := compiler.NewVM(vm.Options{})
	defer v.Free()
	var out, errOut bytes.Buffer
	v.SetOutput(&out)
	v.SetErrorOutput(&errOut)
	res := v.Interpret(source)
	return res, out.String(), errOut.String()
}

func TestInterpretPrograms(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"add", "print 1 + 1;", "2\n"},
		{"precedence", "print 1 + 2 * 3;", "7\n"},
		{"grouping", "print (1 + 2) * 3;", "9\n"},
		{"unary", "print -(3 - 5);", "2\n"},
		{"not", "print !nil;", "true\n"},
		{"comparison", "print 1 < 2; print 2 <= 1; print 3 >= 3; print 1 != 1;", "true\nfalse\ntrue\nfalse\n"},
		{"equality across types", `print 1 == "1"; print nil == false; print "a" == "a";`, "false\nfalse\ntrue\n"},
		{"concat", `print "foo" + "bar";`, "foobar\n"},
		{"concat interns", `var a = "ab"; var b = "a" + "b"; print a == b;`, "true\n"},
		{"fraction", "print 1 / 4;", "0.25\n"},
		{"divide by zero", "print 1 / 0; print -1 / 0; print 0 / 0;", "inf\n-inf\nnan\n"},
		{"globals", "var a = 1; a = a + 1; print a;", "2\n"},
		{"locals", "{ var a = 1; { var a = 2; print a; } print a; }", "2\n1\n"},
		{"if else", "if (false) print 1; else print 2;", "2\n"},
		{"and or", "print nil or 3; print false and 1; print 1 and 2;", "3\nfalse\n2\n"},
		{"conditional", "print true ? 1 : 2; print false ? 1 : false ? 2 : 3;", "1\n3\n"},
		{"while", "var i = 0; while (i < 3) { print i; i = i + 1; }", "0\n1\n2\n"},
		{"for", "for (var i = 0; i < 3; i = i + 1) print i;", "0\n1\n2\n"},
		{"break", "for (var i = 0; ; i = i + 1) { if (i == 2) break; print i; } print \"done\";", "0\n1\ndone\n"},
		{"nested break", `
var n = 0;
while (true) {
  var j = 0;
  while (true) { j = j + 1; if (j > 2) break; n = n + 1; }
  if (n >= 4) break;
}
print n;`, "4\n"},
		{"function", "fun add(a, b) { return a + b; } print add(2, 3);", "5\n"},
		{"implicit nil return", "fun f() {} print f();", "nil\n"},
		{"recursion", "fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); } print fib(10);", "55\n"},
		{"print function", "fun f() {} print f; print clock;", "<fn f>\n<native fn>\n"},
		{"closure counter", `
fun makeCounter() {
  var i = 0;
  fun count() { i = i + 1; return i; }
  return count;
}
var c = makeCounter();
c(); c();
print c();`, "3\n"},
		{"closures share variable", `
var get; var set;
{
  var x = "before";
  fun g() { return x; }
  fun s(v) { x = v; }
  get = g; set = s;
}
set("after");
print get();`, "after\n"},
		{"closure per iteration scope", `
var f;
for (var i = 0; i < 3; i = i + 1) {
  var j = i;
  fun capture() { return j; }
  if (i == 1) f = capture;
}
print f();`, "1\n"},
		{"comma", "print (1, 2);", "2\n"},
		{"comma side effects", "var a = 0; var b = (a = 1, a + 1); print b;", "2\n"},
		{"comma inside arguments", "fun add(a, b) { return a + b; } print add((1, 2), 3);", "5\n"},
		{"unused parameter", "fun one(ignored) { return 1; } print one(nil);", "1\n"},
		{"block comment", "/* a /* nested */ comment */ print 1;", "1\n"},
		{"clock", "print clock() >= 0;", "true\n"},
	}

	for _, tc := range tests {
		res, out, errOut := run(t, tc.source)
		if res != vm.InterpretOK {
			t.Errorf("%s: result %v, stderr:\n%s", tc.name, res, errOut)
			continue
		}
		if out != tc.want {
			t.Errorf("%s: output = %q, want %q", tc.name, out, tc.want)
		}
	}
}

func TestInterpretRuntimeErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		stderr string
	}{
		{"string plus number", `print "a" + 1;`,
			"Operands must be two numbers or two strings.\n[line 1] in script\n"},
		{"negate", "print -nil;",
			"Operand must be a number.\n[line 1] in script\n"},
		{"undefined", "print x;",
			"Undefined variable 'x'.\n[line 1] in script\n"},
		{"assign undefined", "x = 1;",
			"Undefined variable 'x'.\n[line 1] in script\n"},
		{"call non-function", `"not fn"();`,
			"Can only call functions and classes.\n[line 1] in script\n"},
		{"arity", "fun f(a) {}\nf(1, 2);",
			"Expected 1 arguments but got 2.\n[line 2] in script\n"},
		{"native arity", "clock(1);",
			"Expected 0 arguments but got 1.\n[line 1] in script\n"},
		{"trace", "fun inner() { return 1 < \"x\"; }\nfun outer() {\n  return inner();\n}\nouter();",
			"Operands must be numbers.\n[line 1] in inner()\n[line 3] in outer()\n[line 5] in script\n"},
	}

	for _, tc := range tests {
		res, out, errOut := run(t, tc.source)
		if res != vm.InterpretRuntimeError {
			t.Errorf("%s: result %v, want runtime error", tc.name, res)
			continue
		}
		if res.ExitCode() != vm.ExitSoftware {
			t.Errorf("%s: exit code %d", tc.name, res.ExitCode())
		}
		if out != "" {
			t.Errorf("%s: printed %q before failing", tc.name, out)
		}
		if errOut != tc.stderr {
			t.Errorf("%s: stderr = %q, want %q", tc.name, errOut, tc.stderr)
		}
	}
}

func TestInterpretCompileErrorExecutesNothing(t *testing.T) {
	res, out, errOut := run(t, "print 1;\nprint 2 +;\nvar;")
	if res != vm.InterpretCompileError {
		t.Fatalf("result = %v, want compile error", res)
	}
	if res.ExitCode() != vm.ExitDataErr {
		t.Errorf("exit code = %d, want %d", res.ExitCode(), vm.ExitDataErr)
	}
	if out != "" {
		t.Errorf("output = %q, want nothing", out)
	}
	want := "[line 2] Error at ';': Expect expression.\n[line 3] Error at ';': Expect variable name.\n"
	if errOut != want {
		t.Errorf("stderr = %q, want %q", errOut, want)
	}
}

func TestUnboundedRecursionOverflows(t *testing.T) {
	res, _, errOut := run(t, "fun f() { f(); }\nf();")
	if res != vm.InterpretRuntimeError {
		t.Fatalf("result = %v, want runtime error", res)
	}
	if !strings.HasPrefix(errOut, "Stack overflow.\n[line 1] in f()\n") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestGlobalsPersistAcrossInterpretCalls(t *testing.T) {
	v := compiler.NewVM(vm.Options{})
	var out bytes.Buffer
	v.SetOutput(&out)
	v.SetErrorOutput(&out)

	if res := v.Interpret("var greeting = \"hi\";"); res != vm.InterpretOK {
		t.Fatalf("first Interpret = %v: %s", res, out.String())
	}
	// A runtime error in between leaves the VM usable.
	if res := v.Interpret("print nope;"); res != vm.InterpretRuntimeError {
		t.Fatalf("second Interpret = %v", res)
	}
	out.Reset()
	if res := v.Interpret("print greeting;"); res != vm.InterpretOK {
		t.Fatalf("third Interpret = %v: %s", res, out.String())
	}
	if out.String() != "hi\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestEvaluate(t *testing.T) {
	v := compiler.NewVM(vm.Options{})
	defer v.Free()
	v.SetOutput(&bytes.Buffer{})

	got, err := v.Evaluate("1 + 2 * 3")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !vm.ValuesEqual(got, vm.Number(7)) {
		t.Errorf("Evaluate = %v, want 7", vm.FormatValue(got))
	}

	if res := v.Interpret(`var name = "lox";`); res != vm.InterpretOK {
		t.Fatalf("Interpret = %v", res)
	}
	got, err = v.Evaluate(`"hello " + name`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if vm.FormatValue(got) != "hello lox" {
		t.Errorf("Evaluate = %q", vm.FormatValue(got))
	}

	_, err = v.Evaluate(`1 + "a"`)
	var rerr *vm.RuntimeError
	if !errors.As(err, &rerr) {
		t.Errorf("Evaluate type error = %v, want *vm.RuntimeError", err)
	}

	_, err = v.Evaluate("1 +")
	if len(compiler.Diagnostics(err)) != 1 {
		t.Errorf("Evaluate syntax error = %v, want one diagnostic", err)
	}
	if v.State() != vm.StateHaltedCompileError {
		t.Errorf("State() = %v", v.State())
	}
}

func TestPrintCode(t *testing.T) {
	v := compiler.NewVM(vm.Options{PrintCode: true})
	var out bytes.Buffer
	v.SetOutput(&out)
	v.SetTraceOutput(&out)
	if res := v.Interpret("fun f() { return 1; } print f();"); res != vm.InterpretOK {
		t.Fatalf("Interpret = %v", res)
	}
	listing := out.String()
	for _, want := range []string{"== script ==", "== f ==", "CLOSURE", "RETURN"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
	if !strings.HasSuffix(listing, "1\n") {
		t.Errorf("program output missing from %q", listing)
	}
}
