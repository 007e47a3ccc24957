package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/chazu/colox/compiler"
	"github.com/chazu/colox/manifest"
	"github.com/chazu/colox/vm"
)

// interactive reports whether stdin is a terminal, in which case the REPL
// prints prompts and a banner.
func (c *cli) interactive() bool {
	f, ok := c.stdin.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// repl reads input line by line. A lone expression is evaluated and its
// value printed; anything else runs as statements. Input with unclosed
// braces continues on the next line. Globals persist between entries.
func (c *cli) repl(m *manifest.Manifest) int {
	v := c.newVM(m)
	defer c.teardown(v)

	prompt := c.interactive()
	if prompt {
		fmt.Fprintf(c.stdout, "colox (%s compiler). Type :help for commands.\n", v.CompilerName())
	}

	scanner := bufio.NewScanner(c.stdin)
	var buf strings.Builder

	for {
		if prompt {
			if buf.Len() == 0 {
				fmt.Fprint(c.stdout, "> ")
			} else {
				fmt.Fprint(c.stdout, "... ")
			}
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ":") {
				if !c.replCommand(v, trimmed) {
					break
				}
				continue
			}
		}

		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)

		if openBraces(buf.String()) > 0 {
			continue
		}
		input := buf.String()
		buf.Reset()
		c.evalAndPrint(v, input)
	}

	if prompt {
		fmt.Fprintln(c.stdout)
	}
	return vm.ExitOK
}

// evalAndPrint evaluates input as an expression when it parses as one and
// otherwise interprets it as a sequence of statements.
func (c *cli) evalAndPrint(v *vm.VM, input string) {
	result, err := v.Evaluate(input)
	switch {
	case err == nil:
		fmt.Fprintln(c.stdout, vm.FormatValue(result))
	case vm.IsRuntimeError(err):
		fmt.Fprintln(c.stderr, err)
	default:
		v.Interpret(input)
	}
}

// replCommand runs a ':' command. It returns false when the REPL should
// exit.
func (c *cli) replCommand(v *vm.VM, cmd string) bool {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(c.stdout, "REPL Commands:")
		fmt.Fprintln(c.stdout, "  :help, :h, :?     Show this help")
		fmt.Fprintln(c.stdout, "  :stats            Show heap statistics")
		fmt.Fprintln(c.stdout, "  :reset            Discard all globals and heap objects")
		fmt.Fprintln(c.stdout, "  :quit, :q         Exit the REPL")
	case ":stats":
		s := v.Heap().Stats()
		fmt.Fprintf(c.stdout, "%d objects, %d bytes, %d interned strings\n", s.Objects, s.Bytes, s.Strings)
	case ":reset":
		v.Reset()
		fmt.Fprintln(c.stdout, "VM reset")
	case ":quit", ":q":
		return false
	default:
		fmt.Fprintf(c.stdout, "Unknown command: %s (type :help for commands)\n", cmd)
	}
	return true
}

// openBraces counts unclosed '{' in input, ignoring braces inside strings
// and comments.
func openBraces(input string) int {
	depth := 0
	for _, tok := range compiler.Tokenize(input) {
		switch tok.Type {
		case compiler.TokenLeftBrace:
			depth++
		case compiler.TokenRightBrace:
			depth--
		}
	}
	return depth
}
