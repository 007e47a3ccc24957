package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/manifest"
	"github.com/chazu/colox/vm"
)

// build handles `colox build`, compiling a script into an image file.
// Usage:
//
//	colox build script.lox            # script.loxc, or [image] output-dir
//	colox build -o out.loxc script.lox
//	colox build                       # [project] entry from colox.toml
func (c *cli) build(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	output := fs.String("o", "", "Output image path")
	if err := fs.Parse(args); err != nil {
		return vm.ExitUsage
	}

	var path string
	switch fs.NArg() {
	case 0:
	case 1:
		path = fs.Arg(0)
	default:
		fmt.Fprintln(c.stderr, "Usage: colox build [-o out.loxc] [script.lox]")
		return vm.ExitUsage
	}

	configDir := "."
	if path != "" {
		configDir = filepath.Dir(path)
	}
	m, err := c.loadConfig(configDir)
	if err != nil {
		return c.fail(vm.ExitUsage, err)
	}
	if path == "" {
		if path = m.EntryPath(); path == "" {
			fmt.Fprintln(c.stderr, "colox build: no script given and no [project] entry in colox.toml")
			return vm.ExitUsage
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c.fail(vm.ExitIOErr, err)
	}
	source := string(data)

	heap := vm.NewHeap(nil)
	defer heap.Free()
	fn, err := compiler.Compile(source, heap)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return vm.ExitDataErr
	}
	img := vm.NewImage(fn, filepath.Base(path))

	out := *output
	if out == "" {
		out = m.ImageOutput(path)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return c.fail(vm.ExitIOErr, err)
	}
	encoded, err := vm.EncodeImage(img)
	if err != nil {
		return c.fail(vm.ExitSoftware, err)
	}
	if err := os.WriteFile(out, encoded, 0644); err != nil {
		return c.fail(vm.ExitIOErr, err)
	}

	fmt.Fprintf(c.stdout, "wrote %s (%s, %d functions, build %s)\n",
		out, humanize.Bytes(uint64(len(encoded))), len(img.Functions()), img.BuildID)
	return vm.ExitOK
}

// disasm handles `colox disasm`, printing the bytecode of a script or an
// image.
func (c *cli) disasm(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "Usage: colox disasm script.lox|image.loxc")
		return vm.ExitUsage
	}
	path := args[0]
	if _, err := c.loadConfig(filepath.Dir(path)); err != nil {
		return c.fail(vm.ExitUsage, err)
	}

	heap := vm.NewHeap(nil)
	defer heap.Free()

	var script *vm.ObjFunction
	if filepath.Ext(path) == manifest.ImageExt {
		f, err := os.Open(path)
		if err != nil {
			return c.fail(vm.ExitIOErr, err)
		}
		defer f.Close()
		img, err := vm.ReadImage(f, heap)
		if err != nil {
			return c.fail(vm.ExitDataErr, fmt.Errorf("%s: %w", path, err))
		}
		fmt.Fprintf(c.stdout, "build %s, created %s\n", img.BuildID, humanize.Time(img.Created))
		script = img.Script
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return c.fail(vm.ExitIOErr, err)
		}
		fn, err := compiler.Compile(string(data), heap)
		if err != nil {
			fmt.Fprintln(c.stderr, err)
			return vm.ExitDataErr
		}
		script = fn
	}

	vm.DisassembleFunction(c.stdout, script)
	return vm.ExitOK
}

// tokens handles `colox tokens`, dumping the scanner's output one token
// per line.
func (c *cli) tokens(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "Usage: colox tokens script.lox")
		return vm.ExitUsage
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return c.fail(vm.ExitIOErr, err)
	}

	line := -1
	for _, tok := range compiler.Tokenize(string(data)) {
		if tok.Line != line {
			fmt.Fprintf(c.stdout, "%4d ", tok.Line)
			line = tok.Line
		} else {
			fmt.Fprint(c.stdout, "   | ")
		}
		fmt.Fprintf(c.stdout, "%-13s '%s'\n", tok.Type, tok.Lexeme)
	}
	return vm.ExitOK
}
