package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rustport/internal/config"
	"rustport/internal/graph"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/planner"
	"rustport/internal/symbol"
)

var (
	flagProjectRoot string
	flagConfig      string
	flagLogLevel    string
	flagLogFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "rustport",
	Short: "rustport - checkpointed C/C++ to Rust migration pipeline",
	Long: `rustport migrates a C/C++ codebase into an equivalent Rust crate in five
ordered, resumable stages: symbol scanning, library replacement pruning,
crate structure planning, function transpilation, and a safety-oriented
optimization pass. All pipeline state lives under <project>/.rustport/.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "project-root", ".",
		"Root of the C/C++ project being migrated")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Path to a config file (default: <project-root>/.rustport/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "",
		"Log format: human, json")
}

// mustLoadConfig loads the effective configuration or exits.
func mustLoadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		cmd.PrintErrf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		data, err := os.ReadFile(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg := config.Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		if cfg.ProjectRoot == "" || cfg.ProjectRoot == "." {
			cfg.ProjectRoot = flagProjectRoot
		}
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(flagProjectRoot)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// newLogger builds the CLI logger; flags override configured preferences.
func newLogger(cfg *config.Config) *logging.Logger {
	format := cfg.Logging.Format
	if flagLogFormat != "" {
		format = flagLogFormat
	}
	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return logging.New(logging.Config{
		Format: logging.Format(format),
		Level:  logging.Level(level),
	})
}

// withRun brackets a stage with journal run bookkeeping. A broken journal
// degrades to running without one; it never blocks the pipeline.
func withRun(cfg *config.Config, log *logging.Logger, stage string, fn func(j *journal.Store, runID string) error) error {
	j, err := journal.Open(cfg.DataDir())
	if err != nil {
		log.Warn("journal unavailable", logging.Fields{"error": err.Error()})
		return fn(nil, "")
	}
	defer j.Close()

	runID, err := j.BeginRun(stage)
	if err != nil {
		log.Warn("journal run not recorded", logging.Fields{"error": err.Error()})
		runID = ""
	}
	runErr := fn(j, runID)
	if runID != "" {
		status, detail := "completed", ""
		if runErr != nil {
			status, detail = "failed", runErr.Error()
		}
		_ = j.FinishRun(runID, status, detail)
	}
	return runErr
}

// loadWorkingTable prefers the pruned table, falling back to the scanner
// output when the replace stage has not run.
func loadWorkingTable(cfg *config.Config) (*symbol.Table, error) {
	pruned := filepath.Join(cfg.DataDir(), symbol.PrunedTableFile)
	if _, err := os.Stat(pruned); err == nil {
		return symbol.Load(pruned)
	}
	return symbol.Load(filepath.Join(cfg.DataDir(), symbol.TableFile))
}

// loadOrder reads the persisted translation order, recomputing it from the
// table when the file is missing.
func loadOrder(cfg *config.Config, t *symbol.Table) []graph.Step {
	steps, err := graph.LoadSteps(filepath.Join(cfg.DataDir(), graph.OrderFile))
	if err != nil || len(steps) == 0 {
		return graph.Compute(t, cfg.Replace.EntrySymbols)
	}
	return steps
}

// planFromCrate reconstructs the module plan from what already exists on
// disk, so transpile works without re-running plan.
func planFromCrate(crateDir string) *planner.Plan {
	var modules []string
	srcDir := filepath.Join(crateDir, "src")
	_ = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".rs" {
			return nil
		}
		rel, relErr := filepath.Rel(crateDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "src/lib.rs" || rel == "src/main.rs" || filepath.Base(rel) == "mod.rs" {
			return nil
		}
		modules = append(modules, rel)
		return nil
	})
	return &planner.Plan{Modules: modules}
}
