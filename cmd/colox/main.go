// colox runs Lox programs on a bytecode virtual machine.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/chazu/colox/cache"
	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/manifest"
	"github.com/chazu/colox/server"
	"github.com/chazu/colox/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("colox")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries the parsed global flags and the standard streams.
type cli struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	trace     bool
	printCode bool
	stats     bool
	noCache   bool
	verbosity int
	verbSet   bool
}

// run is main without the process exit, so tests can drive it.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("colox", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&c.trace, "trace", false, "Print the stack and each instruction as it executes")
	fs.BoolVar(&c.printCode, "print-code", false, "Disassemble compiled code before running it")
	fs.BoolVar(&c.stats, "stats", false, "Print heap statistics after the run")
	fs.BoolVar(&c.noCache, "no-cache", false, "Bypass the compile cache")
	fs.IntVar(&c.verbosity, "v", 0, "Log verbosity")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: colox [options] [script.lox | image.loxc]\n")
		fmt.Fprintf(stderr, "       colox [options] build [-o out.loxc] [script.lox]\n")
		fmt.Fprintf(stderr, "       colox [options] disasm script.lox|image.loxc\n")
		fmt.Fprintf(stderr, "       colox [options] tokens script.lox\n")
		fmt.Fprintf(stderr, "       colox [options] lsp\n\n")
		fmt.Fprintf(stderr, "With no arguments colox starts a REPL.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return vm.ExitOK
		}
		return vm.ExitUsage
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			c.verbSet = true
		}
	})

	rest := fs.Args()
	if len(rest) == 0 {
		m, err := c.loadConfig(".")
		if err != nil {
			return c.fail(vm.ExitUsage, err)
		}
		return c.repl(m)
	}

	switch rest[0] {
	case "build":
		return c.build(rest[1:])
	case "disasm":
		return c.disasm(rest[1:])
	case "tokens":
		return c.tokens(rest[1:])
	case "lsp":
		if len(rest) != 1 {
			fs.Usage()
			return vm.ExitUsage
		}
		return c.lsp()
	}

	if len(rest) > 1 {
		fs.Usage()
		return vm.ExitUsage
	}
	return c.runFile(rest[0])
}

// loadConfig finds colox.toml at or above dir, falling back to defaults,
// and configures logging from it.
func (c *cli) loadConfig(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(abs)
	}

	verbosity := m.Log.Verbosity
	if c.verbSet {
		verbosity = c.verbosity
	}
	commonlog.Configure(verbosity, m.LogFile())
	log.Debugf("configuration rooted at %s", m.Dir)
	return m, nil
}

// vmOptions merges command line flags over the configured options.
func (c *cli) vmOptions(m *manifest.Manifest) vm.Options {
	opts := m.VMOptions()
	if c.trace {
		opts.TraceExecution = true
	}
	if c.printCode {
		opts.PrintCode = true
	}
	return opts
}

func (c *cli) newVM(m *manifest.Manifest) *vm.VM {
	v := compiler.NewVM(c.vmOptions(m))
	v.SetOutput(c.stdout)
	v.SetErrorOutput(c.stderr)
	v.SetTraceOutput(c.stdout)
	return v
}

func (c *cli) fail(code int, err error) int {
	fmt.Fprintf(c.stderr, "colox: %v\n", err)
	return code
}

// runFile runs a source script or a compiled image.
func (c *cli) runFile(path string) int {
	m, err := c.loadConfig(filepath.Dir(path))
	if err != nil {
		return c.fail(vm.ExitUsage, err)
	}

	v := c.newVM(m)
	defer c.teardown(v)

	if filepath.Ext(path) == manifest.ImageExt {
		f, err := os.Open(path)
		if err != nil {
			return c.fail(vm.ExitIOErr, err)
		}
		defer f.Close()
		img, err := vm.ReadImage(f, v.Heap())
		if err != nil {
			return c.fail(vm.ExitDataErr, fmt.Errorf("%s: %w", path, err))
		}
		log.Debugf("loaded image %s (build %s)", path, img.BuildID)
		return v.InterpretFunction(img.Script).ExitCode()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c.fail(vm.ExitIOErr, err)
	}
	source := string(data)

	if !m.Cache.Enabled || c.noCache {
		return v.Interpret(source).ExitCode()
	}
	return c.runCached(m, v, path, source)
}

// runCached runs source through the compile cache. Cache failures are
// logged and fall back to compiling.
func (c *cli) runCached(m *manifest.Manifest, v *vm.VM, path, source string) int {
	store, err := cache.Open(m.CachePath())
	if err != nil {
		log.Warningf("compile cache unavailable: %s", err)
		return v.Interpret(source).ExitCode()
	}
	defer store.Close()

	digest := cache.Digest(v.CompilerName(), source)
	img, err := store.Load(digest, v.Heap())
	switch {
	case err == nil:
		log.Debugf("cache hit %s", digest[:12])
		return v.InterpretFunction(img.Script).ExitCode()
	case !errors.Is(err, cache.ErrMiss):
		log.Warningf("reading compile cache: %s", err)
	}

	fn, err := v.Compile(source)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return vm.ExitDataErr
	}
	if err := store.Put(digest, vm.NewImage(fn, filepath.Base(path))); err != nil {
		log.Warningf("writing compile cache: %s", err)
	}
	return v.InterpretFunction(fn).ExitCode()
}

// teardown prints heap statistics when asked and frees the VM.
func (c *cli) teardown(v *vm.VM) {
	if c.stats {
		c.printStats(v.Heap().Stats())
	}
	v.Free()
}

func (c *cli) printStats(s vm.HeapStats) {
	fmt.Fprintf(c.stderr, "heap: %s objects, %s, %s interned strings\n",
		humanize.Comma(int64(s.Objects)),
		humanize.Bytes(uint64(s.Bytes)),
		humanize.Comma(int64(s.Strings)))
}

func (c *cli) lsp() int {
	if _, err := c.loadConfig("."); err != nil {
		return c.fail(vm.ExitUsage, err)
	}
	if err := server.NewLSP().Run(); err != nil {
		return c.fail(vm.ExitSoftware, err)
	}
	return vm.ExitOK
}
