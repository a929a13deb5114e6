// Tubular compiler - compiles a Tubular source file to a WebAssembly text
// module, or runs one of its functions on the built-in machine.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/tubular/compiler"
	"github.com/chazu/tubular/compiler/hash"
	"github.com/chazu/tubular/manifest"
	"github.com/chazu/tubular/server"
	"github.com/chazu/tubular/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/tliron/kutil/util"
)

func log() commonlog.Logger { return commonlog.GetLogger("tubular.cmd") }

func main() {
	util.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the whole command; it returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tubular", flag.ContinueOnError)
	fs.SetOutput(stderr)

	verbose := fs.Bool("v", false, "Verbose logging")
	configPath := fs.String("config", "", "Configuration file (default: nearest tubular.toml above the source)")
	printAST := fs.Bool("ast", false, "Print the syntax tree to stderr")
	treePath := fs.String("emit-tree", "", "Write the canonical CBOR tree to this file")
	runFn := fs.String("run", "", "Run this exported function instead of printing the module")
	runArgs := fs.String("args", "", "Comma-separated integer arguments for -run")
	writeConfig := fs.String("write-config", "", "Write the effective configuration to this file")
	lspMode := fs.Bool("lsp", false, "Run as a language server on stdio")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tubular [options] <input file>\n\n")
		fmt.Fprintf(stderr, "Compiles a Tubular source file and writes the module text to stdout.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  tubular prog.tub > prog.wat          # Compile\n")
		fmt.Fprintf(stderr, "  tubular -run fib -args 10 prog.tub   # Compile and call fib(10)\n")
		fmt.Fprintf(stderr, "  tubular -lsp                         # Language server for editors\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	verbosity := -2
	if *verbose {
		verbosity = 2
	}

	if *lspMode {
		return serveLSP(*configPath, verbosity, stderr)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	commonlog.Configure(verbosity, nil)

	path := fs.Arg(0)
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: Unable to open file '%s'.\n", path)
		return 1
	}

	m, err := loadConfig(*configPath, filepath.Dir(path))
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if *writeConfig != "" {
		if err := m.WriteFile(*writeConfig); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	prog, err := compiler.NewParser(string(src)).ParseProgram()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %s: %v\n", path, err)
		return 1
	}
	if *printAST {
		prog.Print(stderr, "")
	}

	res, err := compiler.CompileProgram(prog, m.CompilerOptions())
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %s: %v\n", path, err)
		return 1
	}
	log().Infof("compiled %s: tree hash %s", path, hash.String(hash.Hash(res.Program)))

	if *treePath != "" {
		if err := writeTree(*treePath, res.Program); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	if *runFn != "" {
		return execute(res, *runFn, *runArgs, m.Run.MaxSteps, stdout, stderr)
	}

	if _, err := io.WriteString(stdout, res.Text); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

// serveLSP runs the language server with the configuration found from the
// working directory. Logs go to stderr so stdout stays with the protocol.
func serveLSP(configPath string, verbosity int, stderr io.Writer) int {
	commonlog.Configure(verbosity, nil)

	m, err := loadConfig(configPath, ".")
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	log().Noticef("starting language server")
	if err := server.NewLSP(m.CompilerOptions()).Run(); err != nil {
		fmt.Fprintf(stderr, "ERROR: language server: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads an explicit configuration file, or the nearest
// tubular.toml above dir, falling back to defaults.
func loadConfig(explicit, dir string) (*manifest.Manifest, error) {
	if explicit != "" {
		return manifest.LoadFile(explicit)
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		log().Debug("no configuration file, using defaults")
		return manifest.Default(), nil
	}
	log().Debugf("configuration from %s", m.Path)
	return m, nil
}

// writeTree writes the canonical tree, positions included.
func writeTree(path string, prog *compiler.Program) error {
	data, err := hash.Encode(hash.Normalize(prog, true))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// execute loads the compiled module and calls one exported function,
// printing its results. String results are printed as text.
func execute(res *compiler.Result, name, rawArgs string, maxSteps int, stdout, stderr io.Writer) int {
	args, err := parseArgs(rawArgs)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	machine, err := vm.LoadMachine(res.Text)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	machine.MaxSteps = maxSteps

	results, err := machine.Invoke(name, args...)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %s: %v\n", name, err)
		return 1
	}
	log().Debugf("%s returned after %d step(s)", name, machine.Steps())

	if len(results) == 0 {
		return 0
	}
	if info, err := res.Control.Symbols.LookupFunction(name); err == nil && info.Return.Equal(compiler.StringType) {
		s, err := machine.ReadString(results[0])
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, s)
		return 0
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = strconv.Itoa(int(r))
	}
	fmt.Fprintln(stdout, strings.Join(parts, " "))
	return 0
}

// parseArgs splits "1,-2,3" into 32-bit integers.
func parseArgs(raw string) ([]int32, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	fields := strings.Split(raw, ",")
	args := make([]int32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: must be a 32-bit integer", f)
		}
		args[i] = int32(v)
	}
	return args, nil
}
