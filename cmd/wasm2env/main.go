package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm2env/classify"
	"github.com/wippyai/wasm2env/errors"
	"github.com/wippyai/wasm2env/scanner"
)

type options struct {
	rules       string
	callgraph   string
	workers     int
	maxInstrs   int
	jsonOut     bool
	verbose     bool
	validate    bool
	interactive bool
	noCStrings  bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "wasm2env <wasm-file>",
		Short: "Detect environment variables read by a WebAssembly module",
		Long: `wasm2env statically analyzes a WebAssembly module or component and lists
the environment variable names it reads. Nothing is executed: constant
string arguments are recovered from call sites and filtered by name
heuristics.`,
		Example: `
# Print the variables a module needs
wasm2env app.wasm

# Machine readable output with provenance
wasm2env --json app.wasm

# Write a Graphviz call graph of the lookups
wasm2env --callgraph lookups.dot app.wasm
  `,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.jsonOut, "json", false, "print the full report as JSON")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log analysis decisions to stderr")
	f.StringVar(&opts.rules, "rules", "", "YAML file extending or replacing the name heuristics")
	f.BoolVar(&opts.validate, "validate", false, "compile every core module with wazero before scanning")
	f.StringVar(&opts.callgraph, "callgraph", "", "write a Graphviz DOT call graph of accepted lookups to this file")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "browse candidates in a terminal UI")
	f.IntVar(&opts.workers, "workers", 0, "functions simulated concurrently (0 means GOMAXPROCS)")
	f.IntVar(&opts.maxInstrs, "max-instructions", 0, "stop simulating a function after this many instructions (0 means no limit)")
	f.BoolVar(&opts.noCStrings, "no-cstrings", false, "skip NUL-terminated strings at unpaired pointer arguments")
	cmd.MarkFlagsMutuallyExclusive("json", "interactive")
	return cmd
}

func run(cmd *cobra.Command, path string, opts options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		log = l
	}
	defer func() { _ = log.Sync() }()

	scanOpts := []scanner.Option{
		scanner.WithLogger(log),
		scanner.WithWorkers(opts.workers),
		scanner.WithMaxInstructions(opts.maxInstrs),
		scanner.WithCStrings(!opts.noCStrings),
	}
	if opts.rules != "" {
		rules, err := classify.LoadRulesFile(opts.rules)
		if err != nil {
			return err
		}
		scanOpts = append(scanOpts, scanner.WithRules(rules))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.IO(path, err)
	}

	if opts.validate {
		if err := scanner.Validate(ctx, data); err != nil {
			return err
		}
		log.Debug("validated", zap.String("file", path))
	}

	rep, err := scanner.New(scanOpts...).Analyze(ctx, data)
	if err != nil {
		return err
	}

	if opts.callgraph != "" {
		dot := rep.DOT(filepath.Base(path))
		if err := os.WriteFile(opts.callgraph, []byte(dot), 0o644); err != nil {
			return errors.IO(opts.callgraph, err)
		}
		log.Debug("call graph written", zap.String("file", opts.callgraph))
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.interactive:
		return runInteractive(path, rep)
	case opts.jsonOut:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	default:
		writeReport(out, path, rep.Names, stylesFor(isTerminal(os.Stdout)))
		return nil
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
