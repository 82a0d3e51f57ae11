package main

import (
	"os"

	"github.com/spf13/cobra"

	"rustport/internal/cargo"
	"rustport/internal/config"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/transpiler"
)

var (
	transpileOnly       []string
	transpileMaxRetries int
)

var transpileCmd = &cobra.Command{
	Use:   "transpile",
	Short: "Convert functions to Rust in dependency order",
	Long: `Transpile walks the translation order and converts every pending function
through plan, implement, build, test and review. Converted units are recorded
in progress.json and symbol_map.json and skipped on restart; a failed unit is
journaled and never stops the run.

Examples:
  rustport transpile
  rustport transpile --only parse_header --only write_output
  rustport transpile --max-retries 3`,
	Run: runTranspile,
}

func init() {
	transpileCmd.Flags().StringArrayVar(&transpileOnly, "only", nil,
		"Convert only these symbols (repeatable)")
	transpileCmd.Flags().IntVar(&transpileMaxRetries, "max-retries", -1,
		"Repair budget per symbol (0 = unlimited; default: configured)")
	rootCmd.AddCommand(transpileCmd)
}

func runTranspile(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	log := newLogger(cfg)
	if err := withRun(cfg, log, "transpile", func(j *journal.Store, runID string) error {
		return doTranspile(cmd, cfg, log, j, runID)
	}); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}

func doTranspile(cmd *cobra.Command, cfg *config.Config, log *logging.Logger, j *journal.Store, runID string) error {
	table, err := loadWorkingTable(cfg)
	if err != nil {
		return err
	}
	steps := loadOrder(cfg, table)
	crateDir := cfg.EffectiveCrateDir()

	transpileCfg := cfg.Transpile
	if transpileMaxRetries >= 0 {
		transpileCfg.MaxRetries = transpileMaxRetries
	}

	tr := transpiler.New(oracle.NewClient(cfg.Oracle), cargo.NewRunner(cfg.Toolchain),
		transpileCfg, log.With(logging.Fields{"stage": "transpile"}))
	if j != nil {
		tr = tr.WithJournal(j, runID)
	}
	res, err := tr.Run(cmd.Context(), table, steps, planFromCrate(crateDir),
		crateDir, cfg.DataDir(), transpileOnly)
	if err != nil {
		return err
	}

	cmd.Printf("Converted %d symbols (%d failed, %d skipped)\n",
		res.Converted, res.Failed, res.Skipped)
	return nil
}
