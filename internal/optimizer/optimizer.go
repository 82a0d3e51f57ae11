// Package optimizer runs safety-oriented cleanup passes over the converted
// crate, verifying every change and reverting anything that breaks the build.
package optimizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rustport/internal/cargo"
	"rustport/internal/checkpoint"
	"rustport/internal/config"
	"rustport/internal/diffapply"
	"rustport/internal/errors"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/vcs"
)

// ProgressFile persists the processed-file set between runs.
const ProgressFile = "optimizer_progress.json"

// Pass names, applied in this order when enabled.
const (
	PassUnsafe     = "unsafe"
	PassDuplicates = "duplicates"
	PassVisibility = "visibility"
	PassDocs       = "docs"
)

var passOrder = []string{PassUnsafe, PassDuplicates, PassVisibility, PassDocs}

// Result summarizes one optimizer run.
type Result struct {
	Processed   int
	Changed     int
	Reverted    int
	BudgetSpent bool
}

type progressState struct {
	Processed []string `json:"processed"`
}

// Optimizer owns stage 5.
type Optimizer struct {
	orc    oracle.Oracle
	runner cargo.Runner
	cfg    config.OptimizeConfig
	log    *logging.Logger

	jrnl  *journal.Store
	runID string

	verifications int
}

// New creates an optimizer
func New(orc oracle.Oracle, runner cargo.Runner, cfg config.OptimizeConfig, log *logging.Logger) *Optimizer {
	return &Optimizer{orc: orc, runner: runner, cfg: cfg, log: log}
}

// WithJournal attaches the run journal.
func (o *Optimizer) WithJournal(j *journal.Store, runID string) *Optimizer {
	o.jrnl = j
	o.runID = runID
	return o
}

// Run applies the enabled passes batch by batch. Every candidate change is
// verified with cargo check; once the verification budget is spent the
// remaining files are left untouched for a later run.
func (o *Optimizer) Run(ctx context.Context, crateDir, dataDir string) (*Result, error) {
	passes := o.enabledPasses()
	if len(passes) == 0 {
		return &Result{}, nil
	}

	key := o.resumptionKey(crateDir, passes)
	store := checkpoint.NewStore(filepath.Join(dataDir, ProgressFile))
	var st progressState
	if _, err := store.Load(key, &st); err != nil {
		return nil, err
	}
	processed := make(map[string]bool, len(st.Processed))
	for _, f := range st.Processed {
		processed[f] = true
	}

	files, err := crateSources(crateDir)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	batch := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if processed[file] {
			continue
		}
		if o.budgetSpent() {
			res.BudgetSpent = true
			break
		}

		changed, err := o.optimizeFile(ctx, crateDir, file, passes, res)
		if err != nil {
			return nil, err
		}
		if changed {
			res.Changed++
		}
		res.Processed++
		processed[file] = true
		st.Processed = append(st.Processed, file)
		if err := store.Save(key, &st); err != nil {
			return nil, err
		}

		batch++
		if batch >= o.cfg.BatchSize {
			batch = 0
			o.log.Info("optimizer batch complete", logging.Fields{
				"processed": res.Processed,
				"changed":   res.Changed,
			})
		}
	}
	return res, nil
}

// optimizeFile runs every applicable pass over one file.
func (o *Optimizer) optimizeFile(ctx context.Context, crateDir, file string, passes []string, res *Result) (bool, error) {
	changed := false
	for _, pass := range passes {
		if o.budgetSpent() {
			res.BudgetSpent = true
			return changed, nil
		}
		data, err := os.ReadFile(filepath.Join(crateDir, filepath.FromSlash(file)))
		if err != nil {
			return changed, err
		}
		if !passApplies(pass, string(data)) {
			continue
		}
		outcome, err := o.applyPass(ctx, crateDir, file, pass)
		if err != nil {
			return changed, err
		}
		switch outcome {
		case passKept:
			changed = true
		case passReverted:
			res.Reverted++
		}
	}
	return changed, nil
}

// Outcomes of one pass over one file.
const (
	passNoChange = iota
	passKept
	passReverted
)

// applyPass asks the oracle for one minimal change, verifies it and keeps or
// reverts it.
func (o *Optimizer) applyPass(ctx context.Context, crateDir, file, pass string) (int, error) {
	snap, err := takeSnapshot(crateDir, file)
	if err != nil {
		return passNoChange, err
	}

	reply, err := o.orc.Complete(ctx, oracle.Request{
		Kind:   oracle.TaskOptimizeFile,
		System: passSystemPrompt(pass),
		Prompt: passPrompt(crateDir, file, pass),
	})
	if err != nil {
		o.log.Warn("optimize call failed, file unchanged", logging.Fields{
			"file":  file,
			"pass":  pass,
			"error": err.Error(),
		})
		return passNoChange, nil
	}
	patch := diffapply.Extract(reply)
	if patch == "" {
		return passNoChange, nil // nothing to change is a valid answer
	}
	if err := o.applyConstrained(crateDir, file, patch); err != nil {
		o.log.Warn("optimizer diff rejected", logging.Fields{
			"file":  file,
			"pass":  pass,
			"error": err.Error(),
		})
		return passReverted, snap.restore(crateDir)
	}

	for attempt := 0; ; attempt++ {
		outcome := o.verify(ctx, crateDir, file)
		if outcome.OK {
			o.log.Info("optimization kept", logging.Fields{"file": file, "pass": pass})
			return passKept, nil
		}
		if o.budgetSpent() || attempt >= o.cfg.FixAttempts {
			if err := snap.restore(crateDir); err != nil {
				return passReverted, errors.Wrap(errors.SnapshotRollback, "rollback failed for "+file, err)
			}
			o.recordSkip(file, pass, outcome)
			o.log.Info("optimization reverted", logging.Fields{"file": file, "pass": pass})
			return passReverted, nil
		}
		if !o.fix(ctx, crateDir, file, outcome) {
			attempt = o.cfg.FixAttempts // no fix produced, fall through to revert
		}
	}
}

func (o *Optimizer) fix(ctx context.Context, crateDir, file string, outcome cargo.Outcome) bool {
	reply, err := o.orc.Complete(ctx, oracle.Request{
		Kind:   oracle.TaskOptimizeFile,
		System: "You repair a Rust build failure caused by a cleanup edit. Reply with a single unified diff and nothing else.",
		Prompt: fmt.Sprintf("cargo check failed after editing %s.\n\nDiagnostics:\n%s\n\nCurrent content:\n%s",
			file, tail(outcome.Diagnostics, 4000), readFile(crateDir, file)),
	})
	if err != nil {
		return false
	}
	patch := diffapply.Extract(reply)
	if patch == "" {
		return false
	}
	return o.applyConstrained(crateDir, file, patch) == nil
}

// applyConstrained applies a diff that must touch only the target file. The
// file list is checked on the parsed diff before anything reaches disk, so a
// stray edit to a sibling file never lands.
func (o *Optimizer) applyConstrained(crateDir, file, patch string) error {
	files, err := diffapply.Targets(patch)
	if err != nil {
		return err
	}
	for _, f := range files {
		if filepath.ToSlash(f) != file {
			return errors.New(errors.InvalidTargetPath, "optimizer diff targets "+f+" instead of "+file)
		}
	}
	_, err = diffapply.Apply(crateDir, patch)
	return err
}

func (o *Optimizer) verify(ctx context.Context, crateDir, unit string) cargo.Outcome {
	o.verifications++
	outcome := o.runner.Run(ctx, crateDir, cargo.ModeCheck)
	if o.jrnl != nil {
		_ = o.jrnl.RecordBuildOutcome(o.runID, unit, string(outcome.Mode), outcome.OK, cargo.CategoryStrings(outcome.Categories))
	}
	return outcome
}

func (o *Optimizer) budgetSpent() bool {
	return o.cfg.MaxVerifications > 0 && o.verifications >= o.cfg.MaxVerifications
}

func (o *Optimizer) recordSkip(file, pass string, outcome cargo.Outcome) {
	if o.jrnl == nil {
		return
	}
	_ = o.jrnl.RecordFailure(o.runID, "optimize", file, string(errors.SnapshotRollback),
		pass+" pass reverted: "+strings.Join(cargo.CategoryStrings(outcome.Categories), ","))
}

func (o *Optimizer) enabledPasses() []string {
	enabled := make(map[string]bool, len(o.cfg.Passes))
	for _, p := range o.cfg.Passes {
		enabled[strings.ToLower(strings.TrimSpace(p))] = true
	}
	var passes []string
	for _, p := range passOrder {
		if enabled[p] {
			passes = append(passes, p)
		}
	}
	return passes
}

func (o *Optimizer) resumptionKey(crateDir string, passes []string) string {
	abs, err := filepath.Abs(crateDir)
	if err != nil {
		abs = crateDir
	}
	return checkpoint.Signature(map[string]string{
		"crate":      abs,
		"passes":     strings.Join(passes, ","),
		"batch_size": strconv.Itoa(o.cfg.BatchSize),
	})
}

// passApplies is a cheap pre-filter so trivially inapplicable passes never
// spend oracle calls or budget.
func passApplies(pass, content string) bool {
	switch pass {
	case PassUnsafe:
		return strings.Contains(content, "unsafe")
	case PassVisibility:
		return strings.Contains(content, "pub ")
	default:
		return true
	}
}

// crateSources lists the crate's .rs files under src/, crate-relative,
// sorted. The managed entry files are never optimized.
func crateSources(crateDir string) ([]string, error) {
	var files []string
	srcDir := filepath.Join(crateDir, "src")
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info.IsDir() || !strings.HasSuffix(path, ".rs") {
			return nil
		}
		rel, err := filepath.Rel(crateDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "src/main.rs" || rel == "src/lib.rs" {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// snapshot captures the pre-change state of one file. Inside a git work tree
// the snapshot is a commit; otherwise the file bytes are kept in memory.
type snapshot struct {
	git     bool
	commit  string
	path    string
	content []byte
}

func takeSnapshot(crateDir, file string) (*snapshot, error) {
	abs := filepath.Join(crateDir, filepath.FromSlash(file))
	if vcs.IsRepository(crateDir) {
		if err := vcs.CommitAll(crateDir, "optimizer snapshot: "+file); err == nil {
			if commit, err := vcs.HeadCommit(crateDir); err == nil {
				return &snapshot{git: true, commit: commit}, nil
			}
		}
		// fall back to a byte snapshot when git misbehaves
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return &snapshot{path: abs, content: data}, nil
}

// restore puts the snapshot back byte for byte.
func (s *snapshot) restore(crateDir string) error {
	if s.git {
		return vcs.ResetHard(crateDir, s.commit)
	}
	return os.WriteFile(s.path, s.content, 0o644)
}

func passSystemPrompt(pass string) string {
	switch pass {
	case PassUnsafe:
		return `You minimize unsafe in Rust code: shrink unsafe blocks to the
smallest expression that needs them and replace raw pointer uses with safe
alternatives where behavior is preserved. Reply with a single unified diff,
or nothing when the file is already minimal.`
	case PassDuplicates:
		return `You tag duplicated logic in Rust code: add a
"// DUPLICATE-OF: <path>" comment above blocks that repeat logic found
elsewhere in the same file. Do not restructure code. Reply with a single
unified diff, or nothing when there is no duplication.`
	case PassVisibility:
		return `You narrow visibility in Rust code: demote pub items to
pub(crate) or private when nothing outside could need them. The crate's
public API are the ported entry points. Reply with a single unified diff, or
nothing when visibility is already minimal.`
	case PassDocs:
		return `You document Rust code ported from C/C++: add concise ///
comments to public items that lack them, stating behavior and safety
requirements. Reply with a single unified diff, or nothing when the file is
already documented.`
	}
	return ""
}

func passPrompt(crateDir, file, pass string) string {
	return fmt.Sprintf("Pass: %s\nFile: %s\n\n%s", pass, file, readFile(crateDir, file))
}

func readFile(crateDir, file string) string {
	data, err := os.ReadFile(filepath.Join(crateDir, filepath.FromSlash(file)))
	if err != nil {
		return ""
	}
	return string(data)
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
