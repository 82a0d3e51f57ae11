package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rustport/internal/graph"
	"rustport/internal/journal"
	"rustport/internal/symbol"
	"rustport/internal/transpiler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report pipeline progress and failed units",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	dataDir := cfg.DataDir()

	cmd.Printf("Project:   %s\n", cfg.ProjectRoot)
	cmd.Printf("Crate:     %s\n", cfg.EffectiveCrateDir())
	cmd.Printf("State dir: %s\n\n", dataDir)

	if t, err := symbol.Load(filepath.Join(dataDir, symbol.TableFile)); err == nil {
		cmd.Printf("Scanned symbols:   %d\n", t.Len())
	} else {
		cmd.Println("Scanned symbols:   (not scanned yet)")
	}
	if t, err := symbol.Load(filepath.Join(dataDir, symbol.PrunedTableFile)); err == nil {
		cmd.Printf("After replacement: %d\n", t.Len())
	}
	if steps, err := graph.LoadSteps(filepath.Join(dataDir, graph.OrderFile)); err == nil {
		cmd.Printf("Translation steps: %d\n", len(steps))
	}
	if m, err := transpiler.LoadSymbolMap(filepath.Join(dataDir, transpiler.SymbolMapFile)); err == nil {
		cmd.Printf("Converted symbols: %d\n", len(m))
	}

	j, err := journal.Open(dataDir)
	if err != nil {
		cmd.PrintErrf("Error opening journal: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	runs, err := j.Runs(10)
	if err == nil && len(runs) > 0 {
		cmd.Println("\nRecent runs:")
		for _, r := range runs {
			cmd.Printf("  %s  %-10s %-10s %s\n", r.StartedAt, r.Stage, r.Status, r.ID)
		}
	}

	failures, err := j.Failures("")
	if err == nil && len(failures) > 0 {
		cmd.Printf("\nFailed units (%d):\n", len(failures))
		for _, f := range failures {
			cmd.Printf("  [%s] %s: %s\n", f.Stage, f.Unit, f.Code)
		}
	}
}
