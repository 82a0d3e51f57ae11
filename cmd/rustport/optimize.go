package main

import (
	"os"

	"github.com/spf13/cobra"

	"rustport/internal/cargo"
	"rustport/internal/config"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/optimizer"
	"rustport/internal/oracle"
)

var (
	optimizePasses           []string
	optimizeBatchSize        int
	optimizeMaxVerifications int
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run verified safety cleanup passes over the crate",
	Long: `Optimize applies the enabled passes (unsafe, duplicates, visibility, docs)
file by file. Every change is verified with cargo check and reverted byte for
byte when it breaks the build. A verification budget caps total toolchain
invocations per run.

Examples:
  rustport optimize
  rustport optimize --pass unsafe --pass docs
  rustport optimize --batch-size 10 --max-verifications 50`,
	Run: runOptimize,
}

func init() {
	optimizeCmd.Flags().StringArrayVar(&optimizePasses, "pass", nil,
		"Pass to run (repeatable; default: configured passes)")
	optimizeCmd.Flags().IntVar(&optimizeBatchSize, "batch-size", 0,
		"Files per batch (default: configured)")
	optimizeCmd.Flags().IntVar(&optimizeMaxVerifications, "max-verifications", 0,
		"Budget of cargo invocations this run (default: configured)")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	log := newLogger(cfg)
	if err := withRun(cfg, log, "optimize", func(j *journal.Store, runID string) error {
		return doOptimize(cmd, cfg, log, j, runID)
	}); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}

func doOptimize(cmd *cobra.Command, cfg *config.Config, log *logging.Logger, j *journal.Store, runID string) error {
	optimizeCfg := cfg.Optimize
	if len(optimizePasses) > 0 {
		optimizeCfg.Passes = optimizePasses
	}
	if optimizeBatchSize > 0 {
		optimizeCfg.BatchSize = optimizeBatchSize
	}
	if optimizeMaxVerifications > 0 {
		optimizeCfg.MaxVerifications = optimizeMaxVerifications
	}

	o := optimizer.New(oracle.NewClient(cfg.Oracle), cargo.NewRunner(cfg.Toolchain),
		optimizeCfg, log.With(logging.Fields{"stage": "optimize"}))
	if j != nil {
		o = o.WithJournal(j, runID)
	}
	res, err := o.Run(cmd.Context(), cfg.EffectiveCrateDir(), cfg.DataDir())
	if err != nil {
		return err
	}

	cmd.Printf("Optimized %d files: %d changed, %d reverted\n",
		res.Processed, res.Changed, res.Reverted)
	if res.BudgetSpent {
		cmd.Println("Verification budget spent; re-run to continue.")
	}
	return nil
}
