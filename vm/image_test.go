package vm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/vm"
	"github.com/fxamacker/cbor/v2"
)

const imageProgram = `
fun greet(name) {
  var prefix = "hello ";
  fun join() { return prefix + name; }
  return join;
}
print greet("image")();
print 1.5 * 2;
print nil == false;
`

func TestImageRoundTrip(t *testing.T) {
	script, err := compiler.Compile(imageProgram, vm.NewHeap(nil))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	img := vm.NewImage(script, "greet.lox")

	var buf bytes.Buffer
	if err := vm.WriteImage(&buf, img); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}

	// Load into a different VM's heap and run it there.
	v := compiler.NewVM(vm.Options{})
	var out bytes.Buffer
	v.SetOutput(&out)
	loaded, err := vm.ReadImage(&buf, v.Heap())
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}

	if loaded.BuildID != img.BuildID {
		t.Errorf("BuildID = %v, want %v", loaded.BuildID, img.BuildID)
	}
	if loaded.Source != "greet.lox" {
		t.Errorf("Source = %q", loaded.Source)
	}
	if !loaded.Created.Equal(img.Created) {
		t.Errorf("Created = %v, want %v", loaded.Created, img.Created)
	}

	origFns, loadedFns := img.Functions(), loaded.Functions()
	if len(origFns) != len(loadedFns) {
		t.Fatalf("%d functions loaded, want %d", len(loadedFns), len(origFns))
	}
	for i := range origFns {
		a, b := origFns[i], loadedFns[i]
		if a.DisplayName() != b.DisplayName() || a.Arity != b.Arity || a.UpvalueCount != b.UpvalueCount {
			t.Errorf("function %d header mismatch: %s/%d/%d vs %s/%d/%d", i,
				a.DisplayName(), a.Arity, a.UpvalueCount, b.DisplayName(), b.Arity, b.UpvalueCount)
		}
		if !bytes.Equal(a.Chunk.Code, b.Chunk.Code) {
			t.Errorf("function %d code differs", i)
		}
		if a.Chunk.Disassemble("f") != b.Chunk.Disassemble("f") {
			t.Errorf("function %d listing differs", i)
		}
	}

	if res := v.InterpretFunction(loaded.Script); res != vm.InterpretOK {
		t.Fatalf("InterpretFunction = %v", res)
	}
	want := "hello image\n3\nfalse\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestImageStringsAreInterned(t *testing.T) {
	script, err := compiler.Compile(`var a = "same"; var b = "same";`, vm.NewHeap(nil))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data, err := vm.EncodeImage(vm.NewImage(script, ""))
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}

	heap := vm.NewHeap(nil)
	want := heap.CopyString("same")
	loaded, err := vm.DecodeImage(data, heap)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	for _, k := range loaded.Script.Chunk.Constants {
		if s, ok := k.(*vm.ObjString); ok && s.Chars == "same" && s != want {
			t.Error("decoded string was not interned in the target heap")
		}
	}
}

func TestImageEncodingIsDeterministic(t *testing.T) {
	script, err := compiler.Compile(imageProgram, vm.NewHeap(nil))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	img := vm.NewImage(script, "x")
	a, err := vm.EncodeImage(img)
	if err != nil {
		t.Fatal(err)
	}
	b, err := vm.EncodeImage(img)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding the same image twice produced different bytes")
	}
}

func TestDecodeImageRejectsBadInput(t *testing.T) {
	script, err := compiler.Compile("print 1;", vm.NewHeap(nil))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	good, err := vm.EncodeImage(vm.NewImage(script, ""))
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}

	// Re-encode the generic form with one field changed.
	mutate := func(f func(m map[any]any)) []byte {
		var m map[any]any
		if err := cbor.Unmarshal(good, &m); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		f(m)
		data, err := cbor.Marshal(m)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return data
	}

	// Encode a hand-assembled script that the compiler would never emit.
	assemble := func(upvalues int, code ...byte) []byte {
		fn := vm.NewHeap(nil).NewFunction()
		fn.UpvalueCount = upvalues
		for _, b := range code {
			fn.Chunk.Write(b, 1)
		}
		data, err := vm.EncodeImage(vm.NewImage(fn, ""))
		if err != nil {
			t.Fatalf("EncodeImage: %v", err)
		}
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("not cbor at all")},
		{"missing return", assemble(0, byte(vm.OpNil))},
		{"stack underflow", assemble(0, byte(vm.OpPop), byte(vm.OpPop), byte(vm.OpReturn))},
		{"upvalue out of range", assemble(0, byte(vm.OpGetUpvalue), 3, byte(vm.OpReturn))},
		{"negative upvalue count", assemble(-1, byte(vm.OpNil), byte(vm.OpReturn))},
		{"script with upvalues", assemble(1, byte(vm.OpGetUpvalue), 0, byte(vm.OpReturn))},
		{"local out of range", assemble(0, byte(vm.OpGetLocal), 4, byte(vm.OpReturn))},
		{"jump off the end", assemble(0, byte(vm.OpNil), byte(vm.OpJumpIfFalse), 0, 1, byte(vm.OpReturn))},
		{"empty", nil},
		{"bad magic", mutate(func(m map[any]any) { m[uint64(1)] = "NOPE" })},
		{"future version", mutate(func(m map[any]any) { m[uint64(2)] = uint64(99) })},
		{"no functions", mutate(func(m map[any]any) { m[uint64(6)] = []any{} })},
		{"truncated code", mutate(func(m map[any]any) {
			fns := m[uint64(6)].([]any)
			fn := fns[0].(map[any]any)
			code := fn[uint64(5)].([]byte)
			lines := fn[uint64(6)].([]any)
			fn[uint64(5)] = code[:1]
			fn[uint64(6)] = lines[:1]
		})},
		{"line table mismatch", mutate(func(m map[any]any) {
			fns := m[uint64(6)].([]any)
			fn := fns[0].(map[any]any)
			fn[uint64(6)] = []any{uint64(1)}
		})},
	}

	for _, tc := range tests {
		_, err := vm.DecodeImage(tc.data, vm.NewHeap(nil))
		if !errors.Is(err, vm.ErrBadImage) {
			t.Errorf("%s: err = %v, want ErrBadImage", tc.name, err)
		}
	}
}

func TestDecodeImageAcceptsCompiledPrograms(t *testing.T) {
	programs := []string{
		imageProgram,
		"{ fun loop(n) { if (n > 0) return loop(n - 1); return n; } print loop(3); }",
		"var i = 0; while (true) { var j = i; i = i + 1; if (j > 2) break; } print i;",
		"for (var i = 0; i < 3; i = i + 1) { fun f() { return i; } print f(); }",
		"print true ? 1 : false and nil or 2;",
	}
	for _, src := range programs {
		script, err := compiler.Compile(src, vm.NewHeap(nil))
		if err != nil {
			t.Fatalf("Compile(%q): %v", src, err)
		}
		data, err := vm.EncodeImage(vm.NewImage(script, "p.lox"))
		if err != nil {
			t.Fatalf("EncodeImage: %v", err)
		}
		if _, err := vm.DecodeImage(data, vm.NewHeap(nil)); err != nil {
			t.Errorf("DecodeImage(%q): %v", src, err)
		}
	}
}
