package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/vfd/descriptor"
	"github.com/wippyai/vfd/errors"
	"github.com/wippyai/vfd/host"
)

func main() {
	os.Exit(vfdctl(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// vfdctl runs the command line and returns the process exit code. Deferred
// cleanup, including the logger flush, runs before main exits.
func vfdctl(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vfdctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		script      = fs.String("script", "", "Commands to run (';' or newline separated)")
		file        = fs.String("f", "", "Script file to run ('-' for stdin)")
		wasmFile    = fs.String("wasm", "", "Core wasm module importing the descriptor host module")
		funcName    = fs.String("func", "_start", "Function to call in the wasm module")
		moduleName  = fs.String("module", host.DefaultModuleName, "Import module name of the host functions")
		capacity    = fs.Int("capacity", descriptor.DefaultOptions().Capacity, "Expected number of live descriptors")
		verbose     = fs.Bool("v", false, "Verbose logging")
		interactive = fs.Bool("i", false, "Interactive mode with TUI")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		log = l
	}
	defer log.Sync()

	regOpts := descriptor.DefaultOptions()
	regOpts.Capacity = *capacity
	if err := regOpts.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	reg := descriptor.New(descriptor.WithLogger(log), descriptor.WithCapacity(regOpts.Capacity))

	if *interactive {
		if !isTerminal(stdout) {
			fmt.Fprintln(stderr, "Error: interactive mode requires a terminal")
			return 1
		}
		if err := runInteractive(reg); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	src, err := openScript(*script, *file, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if src == nil && *wasmFile == "" {
		fmt.Fprintln(stderr, "Usage: vfdctl -script 'socket 0x10; fd 7; table'")
		fmt.Fprintln(stderr, "       vfdctl -f <file|->")
		fmt.Fprintln(stderr, "       vfdctl -wasm <module.wasm> [-func name]")
		fmt.Fprintln(stderr, "       vfdctl -i  (interactive mode)")
		return 1
	}

	hostOpts := host.Options{Logger: log, ModuleName: *moduleName}
	if err := run(reg, src, *wasmFile, *funcName, hostOpts, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// isTerminal reports whether w is a terminal. Writers that are not files never are.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// openScript picks the script source: -script, then -f, then stdin when it is
// not a terminal. It returns nil when there is nothing to run.
func openScript(script, file string, stdin io.Reader) (io.Reader, error) {
	switch {
	case script != "":
		return strings.NewReader(script), nil
	case file == "-":
		return stdin, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read script "+file)
		}
		return strings.NewReader(string(data)), nil
	case stdin != nil && !isTerminal(stdin):
		return stdin, nil
	}
	return nil, nil
}

func run(reg *descriptor.Registry, src io.Reader, wasmFile, funcName string, hostOpts host.Options, w io.Writer) error {
	if wasmFile != "" {
		if err := runWasm(reg, wasmFile, funcName, hostOpts); err != nil {
			return err
		}
	}

	if src != nil {
		cmds, err := readScript(src)
		if err != nil {
			return fmt.Errorf("parse: %w", err)
		}
		if err := runScript(reg, cmds, w); err != nil {
			return err
		}
	}

	fmt.Fprintln(w, renderTable(reg.Snapshot(), plainTableStyle))
	return nil
}

// runWasm instantiates the host module over reg, then the guest, and calls
// funcName. Registrations the guest makes stay in reg afterwards.
func runWasm(reg *descriptor.Registry, wasmFile, funcName string, hostOpts host.Options) error {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read file "+wasmFile)
	}

	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	hm, err := host.New(reg, hostOpts)
	if err != nil {
		return fmt.Errorf("host module: %w", err)
	}
	if _, err := hm.Instantiate(ctx, rt); err != nil {
		return fmt.Errorf("host module: %w", err)
	}

	// Start functions are not run on instantiation; funcName is called once below.
	cfg := wazero.NewModuleConfig().WithStartFunctions()
	mod, err := rt.InstantiateWithConfig(ctx, data, cfg)
	if err != nil {
		return errors.Instantiation(wasmFile, err)
	}

	fn := mod.ExportedFunction(funcName)
	if fn == nil {
		return errors.NotFound(errors.PhaseHost, "exported function", funcName)
	}
	if _, err := fn.Call(ctx); err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}
	return nil
}
