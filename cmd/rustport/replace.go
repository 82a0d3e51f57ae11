package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rustport/internal/config"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/replacer"
	"rustport/internal/symbol"
)

var (
	replaceCandidates []string
	replaceDeny       []string
	replaceEntries    []string
	replaceMaxRoots   int
)

var replaceCmd = &cobra.Command{
	Use:   "replace",
	Short: "Prune subtrees replaceable by existing Rust libraries",
	Long: `Replace evaluates call-graph roots against the oracle and prunes whole
subtrees whose behavior an existing Rust crate already covers. Entry symbols
are never replaced; denylisted libraries are never selected. Outputs
symbols_pruned.jsonl and library_replacements.jsonl.

Examples:
  rustport replace
  rustport replace --candidate parse_config --deny libc
  rustport replace --max-roots 50`,
	Run: runReplace,
}

func init() {
	replaceCmd.Flags().StringArrayVar(&replaceCandidates, "candidate", nil,
		"Restrict evaluation to these roots (repeatable)")
	replaceCmd.Flags().StringArrayVar(&replaceDeny, "deny", nil,
		"Additional denylisted library (repeatable)")
	replaceCmd.Flags().StringArrayVar(&replaceEntries, "entry", nil,
		"Additional protected entry symbol (repeatable)")
	replaceCmd.Flags().IntVar(&replaceMaxRoots, "max-roots", 0,
		"Maximum oracle evaluations this run (0 = unlimited)")
	rootCmd.AddCommand(replaceCmd)
}

func runReplace(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	log := newLogger(cfg)
	if err := withRun(cfg, log, "replace", func(j *journal.Store, runID string) error {
		return doReplace(cmd, cfg, log)
	}); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}

func doReplace(cmd *cobra.Command, cfg *config.Config, log *logging.Logger) error {
	table, err := symbol.Load(filepath.Join(cfg.DataDir(), symbol.TableFile))
	if err != nil {
		return err
	}

	replaceCfg := cfg.Replace
	replaceCfg.Denylist = append(replaceCfg.Denylist, replaceDeny...)
	replaceCfg.EntrySymbols = append(replaceCfg.EntrySymbols, replaceEntries...)
	if replaceMaxRoots > 0 {
		replaceCfg.MaxRoots = replaceMaxRoots
	}
	opts := replacer.OptionsFromConfig(replaceCfg, replaceCandidates)

	ev := replacer.New(oracle.NewClient(cfg.Oracle), opts,
		log.With(logging.Fields{"stage": "replace"}))
	res, err := ev.Run(cmd.Context(), table, cfg.DataDir())
	if err != nil {
		return err
	}

	cmd.Printf("Evaluated %d roots: %d replacements, %d symbols pruned, %d remain\n",
		res.Evaluated, len(res.Replacements), len(res.Pruned), res.Table.Len())
	return nil
}
