package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/colox/cache"
	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/vm"
)

// runCLI invokes run with the given stdin and returns exit code and output.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunScriptExitCodes(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"ok", "print 1 + 2;", vm.ExitOK, "3\n", ""},
		{"compile error", "print ;", vm.ExitDataErr, "",
			"[line 1] Error at ';': Expect expression.\n"},
		{"runtime error", "print 1;\nprint -nil;", vm.ExitSoftware, "1\n",
			"Operand must be a number.\n[line 2] in script\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "prog.lox", tc.source)
			code, stdout, stderr := runCLI(t, "", path)
			if code != tc.wantCode {
				t.Errorf("exit code = %d, want %d", code, tc.wantCode)
			}
			if stdout != tc.wantStdout {
				t.Errorf("stdout = %q, want %q", stdout, tc.wantStdout)
			}
			if stderr != tc.wantStderr {
				t.Errorf("stderr = %q, want %q", stderr, tc.wantStderr)
			}
		})
	}
}

func TestRunMissingFile(t *testing.T) {
	code, _, stderr := runCLI(t, "", filepath.Join(t.TempDir(), "nope.lox"))
	if code != vm.ExitIOErr {
		t.Errorf("exit code = %d, want %d", code, vm.ExitIOErr)
	}
	if !strings.HasPrefix(stderr, "colox: ") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{"a.lox", "b.lox"},
		{"-no-such-flag"},
		{"disasm"},
		{"tokens", "a", "b"},
		{"lsp", "extra"},
		{"build", "a.lox", "b.lox"},
	}
	for _, args := range tests {
		if code, _, _ := runCLI(t, "", args...); code != vm.ExitUsage {
			t.Errorf("run(%q) = %d, want %d", args, code, vm.ExitUsage)
		}
	}
}

func TestBuildThenRunImage(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "fib.lox", `
fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
print fib(10);
`)

	code, stdout, stderr := runCLI(t, "", "build", src)
	if code != vm.ExitOK {
		t.Fatalf("build exit = %d, stderr = %q", code, stderr)
	}
	image := filepath.Join(dir, "fib.loxc")
	if !strings.HasPrefix(stdout, "wrote "+image) {
		t.Errorf("build stdout = %q", stdout)
	}

	f, err := os.Open(image)
	if err != nil {
		t.Fatal(err)
	}
	img, err := vm.ReadImage(f, vm.NewHeap(nil))
	f.Close()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if img.Source != "fib.lox" {
		t.Errorf("image source = %q, want the script's file name", img.Source)
	}

	code, stdout, stderr = runCLI(t, "", image)
	if code != vm.ExitOK {
		t.Fatalf("run image exit = %d, stderr = %q", code, stderr)
	}
	if stdout != "55\n" {
		t.Errorf("image output = %q, want 55", stdout)
	}
}

func TestBuildOutputFlagAndErrors(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "p.lox", "print true;")
	out := filepath.Join(dir, "out", "custom.loxc")

	if code, _, stderr := runCLI(t, "", "build", "-o", out, src); code != vm.ExitOK {
		t.Fatalf("build exit = %d, stderr = %q", code, stderr)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("image not written: %v", err)
	}

	bad := writeFile(t, dir, "bad.lox", "var;")
	if code, _, _ := runCLI(t, "", "build", bad); code != vm.ExitDataErr {
		t.Errorf("build of bad source = %d, want %d", code, vm.ExitDataErr)
	}
}

func TestBuildUsesManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "colox.toml", "[image]\noutput-dir = \"dist\"\n")
	src := writeFile(t, dir, "main.lox", "print 7;")

	if code, _, stderr := runCLI(t, "", "build", src); code != vm.ExitOK {
		t.Fatalf("build exit = %d, stderr = %q", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "main.loxc")); err != nil {
		t.Errorf("image not written to output-dir: %v", err)
	}
}

func TestRunCorruptImage(t *testing.T) {
	path := writeFile(t, t.TempDir(), "junk.loxc", "not cbor at all")
	if code, _, stderr := runCLI(t, "", path); code != vm.ExitDataErr {
		t.Errorf("exit = %d, want %d (stderr %q)", code, vm.ExitDataErr, stderr)
	}
}

func TestRunImageThatWouldUnderflow(t *testing.T) {
	fn := vm.NewHeap(nil).NewFunction()
	for _, op := range []vm.Opcode{vm.OpPop, vm.OpPop, vm.OpReturn} {
		fn.Chunk.WriteOp(op, 1)
	}
	data, err := vm.EncodeImage(vm.NewImage(fn, "bad.lox"))
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, t.TempDir(), "bad.loxc", string(data))

	code, stdout, stderr := runCLI(t, "", path)
	if code != vm.ExitDataErr {
		t.Errorf("exit = %d, want %d", code, vm.ExitDataErr)
	}
	if stdout != "" || !strings.Contains(stderr, "invalid image") {
		t.Errorf("stdout = %q, stderr = %q", stdout, stderr)
	}
}

func TestDisasm(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "d.lox", "fun f() { return 1; }\nprint f();")

	code, stdout, _ := runCLI(t, "", "disasm", src)
	if code != vm.ExitOK {
		t.Fatalf("disasm exit = %d", code)
	}
	for _, want := range []string{"== script ==", "== f ==", "CLOSURE", "RETURN"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("disasm output missing %q:\n%s", want, stdout)
		}
	}

	image := filepath.Join(dir, "d.loxc")
	if code, _, _ := runCLI(t, "", "build", "-o", image, src); code != vm.ExitOK {
		t.Fatal("build failed")
	}
	code, imageOut, _ := runCLI(t, "", "disasm", image)
	if code != vm.ExitOK {
		t.Fatalf("disasm image exit = %d", code)
	}
	if !strings.HasPrefix(imageOut, "build ") {
		t.Errorf("image disasm should start with the build id: %q", imageOut)
	}
	if !strings.HasSuffix(imageOut, stdout) {
		t.Error("image listing differs from source listing")
	}
}

func TestTokens(t *testing.T) {
	src := writeFile(t, t.TempDir(), "t.lox", "var x;\nprint x;")
	code, stdout, _ := runCLI(t, "", "tokens", src)
	if code != vm.ExitOK {
		t.Fatalf("tokens exit = %d", code)
	}

	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("got %d lines, want 7:\n%s", len(lines), stdout)
	}
	prefixes := []string{
		"   1 VAR ",
		"   | IDENTIFIER ",
		"   | SEMICOLON ",
		"   2 PRINT ",
		"   | IDENTIFIER ",
		"   | SEMICOLON ",
		"   | EOF ",
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(lines[i], p) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], p)
		}
	}
	if !strings.HasSuffix(lines[0], "'var'") {
		t.Errorf("line 0 = %q, want lexeme 'var'", lines[0])
	}
}

func TestREPL(t *testing.T) {
	input := strings.Join([]string{
		"1 + 2",
		"var a = 10;",
		"a * 2",
		"fun f() {",
		"  return a;",
		"}",
		"print f();",
		"-nil",
		"print ;",
		`"con" + "cat"`,
		":quit",
		"print 99;",
	}, "\n")

	code, stdout, stderr := runCLI(t, input)
	if code != vm.ExitOK {
		t.Fatalf("repl exit = %d", code)
	}
	if stdout != "3\n20\n10\nconcat\n" {
		t.Errorf("stdout = %q", stdout)
	}
	wantErr := "Operand must be a number.\n[line 1] in script\n" +
		"[line 1] Error at ';': Expect expression.\n"
	if stderr != wantErr {
		t.Errorf("stderr = %q, want %q", stderr, wantErr)
	}
}

func TestREPLCommands(t *testing.T) {
	code, stdout, _ := runCLI(t, "var g = 1;\n:reset\ng\n:stats\n:bogus\n:help\n")
	if code != vm.ExitOK {
		t.Fatalf("repl exit = %d", code)
	}
	for _, want := range []string{"VM reset", "interned strings", "Unknown command: :bogus", "REPL Commands:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestStatsFlag(t *testing.T) {
	src := writeFile(t, t.TempDir(), "s.lox", `var s = "a" + "b"; print s;`)
	code, stdout, stderr := runCLI(t, "", "-stats", src)
	if code != vm.ExitOK {
		t.Fatalf("exit = %d", code)
	}
	if stdout != "ab\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.HasPrefix(stderr, "heap: ") || !strings.Contains(stderr, "interned strings") {
		t.Errorf("stderr = %q, want heap statistics", stderr)
	}
}

func TestTraceFlag(t *testing.T) {
	src := writeFile(t, t.TempDir(), "t.lox", "print 1;")
	_, stdout, _ := runCLI(t, "", "-trace", src)
	if !strings.Contains(stdout, "PRINT") {
		t.Errorf("trace output missing instructions:\n%s", stdout)
	}
}

func TestManifestVMLimits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "colox.toml", "[vm]\nframes-max = 4\n")
	src := writeFile(t, dir, "deep.lox", `
fun depth(n) { if (n == 0) return 0; return depth(n - 1); }
print depth(2);
print depth(10);
`)

	code, stdout, stderr := runCLI(t, "", src)
	if code != vm.ExitSoftware {
		t.Errorf("exit = %d, want %d", code, vm.ExitSoftware)
	}
	if stdout != "0\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.HasPrefix(stderr, "Stack overflow.\n") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestCompileCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "colox.toml", "[cache]\nenabled = true\n")
	src := writeFile(t, dir, "c.lox", `print "cached";`)

	for i := 0; i < 2; i++ {
		code, stdout, stderr := runCLI(t, "", src)
		if code != vm.ExitOK || stdout != "cached\n" {
			t.Fatalf("run %d: exit = %d, stdout = %q, stderr = %q", i, code, stdout, stderr)
		}
	}
	if code, _, _ := runCLI(t, "", "-no-cache", src); code != vm.ExitOK {
		t.Fatal("run with -no-cache failed")
	}

	store, err := cache.Open(filepath.Join(dir, ".colox", "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	stats, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Hits != 1 {
		t.Errorf("cache stats = %+v, want 1 entry with 1 hit", stats)
	}
	img, err := store.Load(cache.Digest(compiler.Backend{}.Name(), `print "cached";`), vm.NewHeap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Source != "c.lox" {
		t.Errorf("cached image source = %q, want c.lox", img.Source)
	}

	bad := writeFile(t, dir, "bad.lox", "print ;")
	code, _, stderr := runCLI(t, "", bad)
	if code != vm.ExitDataErr {
		t.Errorf("compile error through cache: exit = %d", code)
	}
	if stderr != "[line 1] Error at ';': Expect expression.\n" {
		t.Errorf("stderr = %q", stderr)
	}
}
