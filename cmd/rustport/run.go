package main

import (
	"os"

	"github.com/spf13/cobra"

	"rustport/internal/config"
	"rustport/internal/journal"
	"rustport/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all pipeline stages in order",
	Long: `Run executes scan, replace, plan, transpile and optimize in order. Each
stage resumes from its own checkpoint, so an interrupted run picks up where
it stopped. The run ends with a summary of failed units from the journal.`,
	Run: runAll,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAll(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	log := newLogger(cfg)

	// Track the run IDs this invocation starts so the summary does not
	// re-report failures from earlier invocations.
	var runIDs []string
	track := func(runID string) {
		if runID != "" {
			runIDs = append(runIDs, runID)
		}
	}

	stages := []struct {
		name string
		fn   func(j *journal.Store, runID string) error
	}{
		{"scan", func(j *journal.Store, runID string) error {
			track(runID)
			return doScan(cmd, cfg, log)
		}},
		{"replace", func(j *journal.Store, runID string) error {
			track(runID)
			return doReplace(cmd, cfg, log)
		}},
		{"plan", func(j *journal.Store, runID string) error {
			track(runID)
			return doPlan(cmd, cfg, log)
		}},
		{"transpile", func(j *journal.Store, runID string) error {
			track(runID)
			return doTranspile(cmd, cfg, log, j, runID)
		}},
		{"optimize", func(j *journal.Store, runID string) error {
			track(runID)
			return doOptimize(cmd, cfg, log, j, runID)
		}},
	}

	for _, stage := range stages {
		log.Info("stage starting", logging.Fields{"stage": stage.name})
		if err := withRun(cfg, log, stage.name, stage.fn); err != nil {
			cmd.PrintErrf("Error in %s: %v\n", stage.name, err)
			os.Exit(1)
		}
	}

	printFailureSummary(cmd, cfg, runIDs)
}

// printFailureSummary reports the unit failures journaled by this
// invocation's runs so nothing silently dropped out of the migration.
func printFailureSummary(cmd *cobra.Command, cfg *config.Config, runIDs []string) {
	j, err := journal.Open(cfg.DataDir())
	if err != nil {
		return
	}
	defer j.Close()

	failures, err := j.FailuresForRuns(runIDs)
	if err != nil || len(failures) == 0 {
		cmd.Println("Pipeline complete; no failed units.")
		return
	}
	cmd.Printf("Pipeline complete with %d failed units:\n", len(failures))
	for _, f := range failures {
		cmd.Printf("  [%s] %s: %s\n", f.Stage, f.Unit, f.Code)
	}
}
