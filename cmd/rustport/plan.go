package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rustport/internal/cargo"
	"rustport/internal/config"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/planner"
	"rustport/internal/replacer"
)

var planCrateDir string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan and materialize the target crate structure",
	Long: `Plan derives the Rust crate's module layout from the surviving symbols,
creates the crate skeleton (Cargo.toml, stub modules, mod declarations) and
verifies it builds. Re-running is idempotent.

Examples:
  rustport plan
  rustport plan --crate-dir ../myproject-rs`,
	Run: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planCrateDir, "crate-dir", "",
		"Target crate directory (default: <project>/<name>-rs)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	log := newLogger(cfg)
	if err := withRun(cfg, log, "plan", func(j *journal.Store, runID string) error {
		return doPlan(cmd, cfg, log)
	}); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}

func doPlan(cmd *cobra.Command, cfg *config.Config, log *logging.Logger) error {
	table, err := loadWorkingTable(cfg)
	if err != nil {
		return err
	}
	reps, err := replacer.LoadReplacements(filepath.Join(cfg.DataDir(), replacer.ReplacementsFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	crateDir := planCrateDir
	if crateDir == "" {
		crateDir = cfg.EffectiveCrateDir()
	}

	p := planner.New(oracle.NewClient(cfg.Oracle), cargo.NewRunner(cfg.Toolchain),
		log.With(logging.Fields{"stage": "plan"}))
	plan, err := p.Plan(cmd.Context(), table, reps, crateDir)
	if err != nil {
		return err
	}

	cmd.Printf("Materialized %d modules under %s\n", len(plan.Modules), crateDir)
	return nil
}
