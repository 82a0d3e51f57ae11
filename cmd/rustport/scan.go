package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rustport/internal/checkpoint"
	"rustport/internal/config"
	"rustport/internal/graph"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/scanner"
	"rustport/internal/symbol"
)

var (
	scanRoots           []string
	scanCompileCommands string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Extract symbols and compute the translation order",
	Long: `Scan walks the project's C/C++ sources, extracts functions and type
declarations with their call edges, and derives the callee-first translation
order. Outputs symbols.jsonl and translation_order.jsonl under .rustport/.

Examples:
  rustport scan
  rustport scan --root src --root lib
  rustport scan --compile-commands build/compile_commands.json`,
	Run: runScan,
}

func init() {
	scanCmd.Flags().StringArrayVar(&scanRoots, "root", nil,
		"Source root to scan (repeatable; default: configured sourceRoots)")
	scanCmd.Flags().StringVar(&scanCompileCommands, "compile-commands", "",
		"Path to compile_commands.json to narrow the file set")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	log := newLogger(cfg)
	if err := withRun(cfg, log, "scan", func(j *journal.Store, runID string) error {
		return doScan(cmd, cfg, log)
	}); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}

func doScan(cmd *cobra.Command, cfg *config.Config, log *logging.Logger) error {
	if !scanner.Available() {
		log.Error("this binary was built without cgo; symbol extraction is unavailable", nil)
	}

	roots := scanRoots
	if len(roots) == 0 {
		for _, r := range cfg.SourceRoots {
			roots = append(roots, filepath.Join(cfg.ProjectRoot, r))
		}
	}
	compileCommands := scanCompileCommands
	if compileCommands == "" {
		compileCommands = cfg.Scan.CompileCommands
	}

	sc := scanner.New(cfg.Scan, log.With(logging.Fields{"stage": "scan"}))
	table, err := sc.Scan(cmd.Context(), roots, compileCommands)
	if err != nil {
		return err
	}

	dataDir := cfg.DataDir()
	tablePath := filepath.Join(dataDir, symbol.TableFile)
	orderPath := filepath.Join(dataDir, graph.OrderFile)
	for _, path := range []string{tablePath, orderPath} {
		if _, err := os.Stat(path); err == nil {
			if _, err := checkpoint.Archive(dataDir, path); err != nil {
				return err
			}
		}
	}

	if err := table.Save(tablePath); err != nil {
		return err
	}
	steps := graph.Compute(table, cfg.Replace.EntrySymbols)
	if err := graph.SaveSteps(orderPath, steps); err != nil {
		return err
	}

	cmd.Printf("Scanned %d symbols into %s (%d translation steps)\n",
		table.Len(), tablePath, len(steps))
	return nil
}
