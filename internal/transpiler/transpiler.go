// Package transpiler converts functions one at a time in dependency order,
// driving each through plan, implement, build, test and review until it is
// converted or its retry budget is spent.
package transpiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"rustport/internal/cargo"
	"rustport/internal/checkpoint"
	"rustport/internal/config"
	"rustport/internal/diffapply"
	"rustport/internal/errors"
	"rustport/internal/graph"
	"rustport/internal/journal"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/planner"
	"rustport/internal/symbol"
)

// Persisted state files under the data directory.
const (
	ProgressFile  = "progress.json"
	SymbolMapFile = "symbol_map.json"
)

// MapEntry records where one source symbol landed in the crate. A single
// source symbol may map to several Rust items.
type MapEntry struct {
	Module     string `json:"module"`
	RustSymbol string `json:"rust_symbol"`
	Signature  string `json:"signature"`
}

// SymbolMap maps source symbol labels to their Rust targets.
type SymbolMap map[string][]MapEntry

type failedUnit struct {
	ID     int    `json:"id"`
	Reason string `json:"reason"`
}

// progressState is the checkpointed stage state.
type progressState struct {
	Converted []int        `json:"converted"`
	Failed    []failedUnit `json:"failed"`
	Current   int          `json:"current,omitempty"`
}

// Result summarizes one transpile run.
type Result struct {
	Converted int
	Failed    int
	Skipped   int
	Map       SymbolMap
}

// Transpiler owns stage 4.
type Transpiler struct {
	orc    oracle.Oracle
	runner cargo.Runner
	cfg    config.TranspileConfig
	log    *logging.Logger

	jrnl  *journal.Store
	runID string
}

// New creates a transpiler
func New(orc oracle.Oracle, runner cargo.Runner, cfg config.TranspileConfig, log *logging.Logger) *Transpiler {
	return &Transpiler{orc: orc, runner: runner, cfg: cfg, log: log}
}

// WithJournal attaches the run journal. The journal is observational; a nil
// journal never changes behavior.
func (tr *Transpiler) WithJournal(j *journal.Store, runID string) *Transpiler {
	tr.jrnl = j
	tr.runID = runID
	return tr
}

// Run walks the translation order and converts every pending function.
// Converted IDs recorded under a matching resumption signature are skipped;
// a failed symbol is recorded and never stops the run.
func (tr *Transpiler) Run(ctx context.Context, t *symbol.Table, steps []graph.Step, plan *planner.Plan, crateDir, dataDir string, only []string) (*Result, error) {
	key := tr.resumptionKey(dataDir, crateDir)
	store := checkpoint.NewStore(filepath.Join(dataDir, ProgressFile))

	var st progressState
	resumed, err := store.Load(key, &st)
	if err != nil {
		return nil, err
	}
	symMap := SymbolMap{}
	if resumed {
		if m, err := LoadSymbolMap(filepath.Join(dataDir, SymbolMapFile)); err == nil {
			symMap = m
		}
		tr.log.Info("resuming transpilation", logging.Fields{
			"converted": len(st.Converted),
			"failed":    len(st.Failed),
		})
	} else {
		st = progressState{}
	}

	done := make(map[int]bool, len(st.Converted))
	for _, id := range st.Converted {
		done[id] = true
	}
	failed := make(map[int]bool, len(st.Failed))
	for _, f := range st.Failed {
		failed[f.ID] = true
	}
	onlySet := make(map[string]bool, len(only))
	for _, n := range only {
		onlySet[strings.ToLower(n)] = true
	}

	res := &Result{Map: symMap}
	for _, id := range graph.Flatten(steps) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sym := t.Get(id)
		if sym == nil || sym.Kind != symbol.KindFunction {
			continue
		}
		if done[id] || failed[id] || sym.Replaced() {
			res.Skipped++
			continue
		}
		if len(onlySet) > 0 && !onlySet[strings.ToLower(sym.Name)] && !onlySet[strings.ToLower(sym.QualifiedName)] {
			res.Skipped++
			continue
		}

		st.Current = id
		if err := store.Save(key, &st); err != nil {
			return nil, err
		}

		entries, err := tr.convertOne(ctx, t, sym, symMap, plan, crateDir)
		st.Current = 0
		if err != nil {
			reason := string(errors.CodeOf(err))
			tr.log.Warn("symbol failed", logging.Fields{
				"symbol": sym.Label(),
				"reason": reason,
				"error":  err.Error(),
			})
			st.Failed = append(st.Failed, failedUnit{ID: id, Reason: reason})
			failed[id] = true
			res.Failed++
			tr.recordFailure(sym.Label(), reason, err)
		} else {
			st.Converted = append(st.Converted, id)
			done[id] = true
			res.Converted++
			symMap[sym.Label()] = append(symMap[sym.Label()], entries...)
			if err := saveSymbolMap(filepath.Join(dataDir, SymbolMapFile), symMap); err != nil {
				return nil, err
			}
			tr.resolvePlaceholders(ctx, crateDir, sym.Label(), entries)
			tr.log.Info("symbol converted", logging.Fields{
				"symbol": sym.Label(),
				"module": entries[0].Module,
			})
		}
		if err := store.Save(key, &st); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// convertOne runs the full state machine for a single function.
func (tr *Transpiler) convertOne(ctx context.Context, t *symbol.Table, sym *symbol.Symbol, symMap SymbolMap, plan *planner.Plan, crateDir string) ([]MapEntry, error) {
	budget := newBudget(tr.cfg.MaxRetries)

	module, signature, rustName := tr.planSignature(ctx, sym, plan)
	if err := planner.EnsureModule(crateDir, module); err != nil {
		return nil, err
	}

	if err := tr.implement(ctx, t, sym, symMap, module, signature, rustName, crateDir, budget); err != nil {
		return nil, err
	}
	if err := tr.verifyLoop(ctx, sym, module, crateDir, cargo.ModeCheck, budget); err != nil {
		return nil, err
	}
	if tr.cfg.RunTests {
		if err := tr.verifyLoop(ctx, sym, module, crateDir, cargo.ModeTest, budget); err != nil {
			return nil, err
		}
	}
	for _, kind := range []oracle.TaskKind{oracle.TaskReviewLogic, oracle.TaskReviewTypeSafety} {
		if err := tr.review(ctx, kind, sym, module, crateDir, budget); err != nil {
			return nil, err
		}
	}
	if err := tr.appendSmokeTest(ctx, module, rustName, crateDir); err != nil {
		return nil, err
	}

	return []MapEntry{{Module: module, RustSymbol: rustName, Signature: signature}}, nil
}

// planSignature asks the oracle for target module and signature, falling
// back to the deterministic mapping after bounded attempts. This step can
// degrade but never fail.
func (tr *Transpiler) planSignature(ctx context.Context, sym *symbol.Symbol, plan *planner.Plan) (module, signature, rustName string) {
	for attempt := 0; attempt < 2; attempt++ {
		reply, err := tr.orc.Complete(ctx, oracle.Request{
			Kind:    oracle.TaskPlanSignature,
			System:  signatureSystemPrompt,
			Prompt:  signaturePrompt(sym, plan),
			Summary: signatureAnswerShape,
		})
		if err != nil {
			continue
		}
		dec := oracle.ParseDecision(reply)
		if dec.State != oracle.ParsedDecision {
			continue
		}
		m, err := planner.ValidateModulePath(dec.String("module"))
		if err != nil {
			continue
		}
		sig := dec.String("signature")
		if sig == "" {
			continue
		}
		name := dec.String("rust_name")
		if name == "" {
			name = RustName(sym)
		}
		return m, sig, sanitizeRustIdent(name)
	}

	module = tr.fallbackModule(sym, plan)
	return module, FallbackSignature(sym), RustName(sym)
}

// fallbackModule places a symbol when no plan exists for it: a planned
// module matching the source file stem, then the namespace-derived default,
// then the configured catch-all.
func (tr *Transpiler) fallbackModule(sym *symbol.Symbol, plan *planner.Plan) string {
	if plan != nil {
		if m := plan.ModuleForSymbol(sym.File); m != "" {
			return m
		}
	}
	if sym.QualifiedName != "" {
		if idx := strings.Index(sym.QualifiedName, "::"); idx > 0 {
			ns := sanitizeRustIdent(sym.QualifiedName[:idx])
			if ns != "" && ns != "unnamed" {
				return "src/ported/" + ns + ".rs"
			}
		}
	}
	if tr.cfg.DefaultModule != "" {
		return tr.cfg.DefaultModule
	}
	return "src/ported/misc.rs"
}

// implement requests the translation diff and applies it. The diff must stay
// inside the target module; a missing function definition gets exactly one
// corrective pass.
func (tr *Transpiler) implement(ctx context.Context, t *symbol.Table, sym *symbol.Symbol, symMap SymbolMap, module, signature, rustName, crateDir string, budget *budget) error {
	prompt := implementPrompt(t, sym, symMap, module, signature, rustName, crateDir)
	corrective := false
	for {
		reply, err := tr.orc.Complete(ctx, oracle.Request{
			Kind:   oracle.TaskImplement,
			System: implementSystemPrompt,
			Prompt: prompt,
		})
		if err == nil {
			err = tr.applyReplyDiff(reply, crateDir, module)
		}
		if err == nil {
			if moduleContains(crateDir, module, "fn "+strings.TrimPrefix(rustName, "r#")) {
				return nil
			}
			err = errors.New(errors.OracleMalformed, "diff did not define "+rustName).WithUnit(sym.Label())
		}
		if !corrective {
			corrective = true
			prompt += "\n\nThe previous attempt did not produce a valid diff defining `" +
				rustName + "` in " + module + ". Reply with one unified diff that does."
			continue
		}
		if !budget.spend() {
			return errors.Wrap(errors.RetryExhausted, "implementation attempts exhausted", err).WithUnit(sym.Label())
		}
	}
}

// applyReplyDiff extracts the unified diff from an oracle reply and applies
// it. Edits outside the target module are rejected on the parsed file list,
// before anything is written.
func (tr *Transpiler) applyReplyDiff(reply, crateDir, module string) error {
	patch := diffapply.Extract(reply)
	if patch == "" {
		return errors.New(errors.OracleMalformed, "reply contains no unified diff")
	}
	files, err := diffapply.Targets(patch)
	if err != nil {
		return err
	}
	for _, f := range files {
		if filepath.ToSlash(f) != module {
			return errors.New(errors.InvalidTargetPath, "diff targets "+f+" outside target module "+module)
		}
	}
	_, err = diffapply.Apply(crateDir, patch)
	return err
}

// verifyLoop runs one toolchain mode until it passes, spending the retry
// budget on classified fix requests.
func (tr *Transpiler) verifyLoop(ctx context.Context, sym *symbol.Symbol, module, crateDir string, mode cargo.Mode, budget *budget) error {
	for {
		outcome := tr.runner.Run(ctx, crateDir, mode)
		tr.recordOutcome(sym.Label(), outcome)
		if outcome.OK {
			return nil
		}
		if !budget.spend() {
			return errors.New(errors.RetryExhausted, "build repair budget exhausted").
				WithUnit(sym.Label()).
				WithDetails(cargo.CategoryStrings(outcome.Categories))
		}
		if err := tr.fixBuildError(ctx, sym, module, crateDir, outcome); err != nil {
			tr.log.Warn("fix attempt failed", logging.Fields{
				"symbol": sym.Label(),
				"error":  err.Error(),
			})
		}
	}
}

func (tr *Transpiler) fixBuildError(ctx context.Context, sym *symbol.Symbol, module, crateDir string, outcome cargo.Outcome) error {
	reply, err := tr.orc.Complete(ctx, oracle.Request{
		Kind:   oracle.TaskFixBuildError,
		System: fixSystemPrompt,
		Prompt: fixPrompt(sym, module, crateDir, outcome),
	})
	if err != nil {
		return err
	}
	patch := diffapply.Extract(reply)
	if patch == "" {
		return errors.New(errors.OracleMalformed, "fix reply contains no unified diff")
	}
	_, err = diffapply.Apply(crateDir, patch)
	return err
}

// review runs one review pass. A non-OK verdict gets one minimal corrective
// change and a re-verification; oracle failures leave the unit as built.
func (tr *Transpiler) review(ctx context.Context, kind oracle.TaskKind, sym *symbol.Symbol, module, crateDir string, budget *budget) error {
	reply, err := tr.orc.Complete(ctx, oracle.Request{
		Kind:    kind,
		System:  reviewSystemPrompt(kind),
		Prompt:  reviewPrompt(sym, module, crateDir),
		Summary: "Answer OK if the translation is acceptable, otherwise explain and include a unified diff with the minimal fix.",
	})
	if err != nil {
		tr.log.Warn("review call failed, keeping build-verified result", logging.Fields{
			"symbol": sym.Label(),
			"review": string(kind),
		})
		return nil
	}
	if oracle.VerdictOK(reply) {
		return nil
	}
	if patch := diffapply.Extract(reply); patch != "" {
		if _, err := diffapply.Apply(crateDir, patch); err != nil {
			tr.log.Warn("review fix did not apply", logging.Fields{
				"symbol": sym.Label(),
				"error":  err.Error(),
			})
			return nil
		}
		return tr.verifyLoop(ctx, sym, module, crateDir, cargo.ModeCheck, budget)
	}
	return nil
}

// appendSmokeTest adds a compile-time existence test for the converted item,
// then confirms the crate still checks; a breaking smoke test is removed
// rather than left to poison later units.
func (tr *Transpiler) appendSmokeTest(ctx context.Context, module, rustName, crateDir string) error {
	path := filepath.Join(crateDir, filepath.FromSlash(module))
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ident := strings.TrimPrefix(rustName, "r#")
	marker := "mod " + ident + "_smoke"
	if strings.Contains(string(data), marker) {
		return nil
	}
	test := "\n#[cfg(test)]\nmod " + ident + "_smoke {\n" +
		"    use super::*;\n\n" +
		"    #[test]\n" +
		"    fn " + ident + "_exists() {\n" +
		"        let _ = " + rustName + ";\n" +
		"    }\n" +
		"}\n"
	if err := os.WriteFile(path, append(data, []byte(test)...), 0o644); err != nil {
		return err
	}
	outcome := tr.runner.Run(ctx, crateDir, cargo.ModeCheck)
	if !outcome.OK {
		return os.WriteFile(path, data, 0o644)
	}
	return nil
}

// resolvePlaceholders rewrites todo!("<label>") call-site placeholders to
// the freshly converted implementation and re-verifies. Files that stop
// compiling are restored byte for byte.
func (tr *Transpiler) resolvePlaceholders(ctx context.Context, crateDir, label string, entries []MapEntry) {
	if len(entries) == 0 {
		return
	}
	qualified := cratePath(entries[0].Module, entries[0].RustSymbol)
	changed, backups, err := rewritePlaceholders(crateDir, label, qualified)
	if err != nil || len(changed) == 0 {
		return
	}
	outcome := tr.runner.Run(ctx, crateDir, cargo.ModeCheck)
	if outcome.OK {
		tr.log.Info("resolved placeholders", logging.Fields{
			"symbol": label,
			"files":  len(changed),
		})
		return
	}
	for path, content := range backups {
		_ = os.WriteFile(path, content, 0o644)
	}
	tr.log.Warn("placeholder resolution reverted", logging.Fields{"symbol": label})
}

// cratePath renders the crate-rooted path expression for a module item.
func cratePath(module, rustName string) string {
	inner := strings.TrimSuffix(strings.TrimPrefix(module, "src/"), ".rs")
	return "crate::" + strings.ReplaceAll(inner, "/", "::") + "::" + rustName
}

func moduleContains(crateDir, module, needle string) bool {
	data, err := os.ReadFile(filepath.Join(crateDir, filepath.FromSlash(module)))
	return err == nil && strings.Contains(string(data), needle)
}

func (tr *Transpiler) resumptionKey(dataDir, crateDir string) string {
	symbols := checkpoint.FileSignature(filepath.Join(dataDir, symbol.PrunedTableFile))
	if symbols == "" {
		symbols = checkpoint.FileSignature(filepath.Join(dataDir, symbol.TableFile))
	}
	abs, err := filepath.Abs(crateDir)
	if err != nil {
		abs = crateDir
	}
	return checkpoint.Signature(map[string]string{
		"symbols": symbols,
		"order":   checkpoint.FileSignature(filepath.Join(dataDir, graph.OrderFile)),
		"crate":   abs,
	})
}

func (tr *Transpiler) recordOutcome(unit string, outcome cargo.Outcome) {
	if tr.jrnl == nil {
		return
	}
	_ = tr.jrnl.RecordBuildOutcome(tr.runID, unit, string(outcome.Mode), outcome.OK, cargo.CategoryStrings(outcome.Categories))
}

func (tr *Transpiler) recordFailure(unit, reason string, err error) {
	if tr.jrnl == nil {
		return
	}
	_ = tr.jrnl.RecordFailure(tr.runID, "transpile", unit, reason, err.Error())
}

// budget tracks repair attempts. limit 0 means unlimited.
type budget struct {
	limit int
	spent int
}

func newBudget(limit int) *budget {
	return &budget{limit: limit}
}

// spend consumes one attempt and reports whether it was available.
func (b *budget) spend() bool {
	if b.limit == 0 {
		b.spent++
		return true
	}
	if b.spent >= b.limit {
		return false
	}
	b.spent++
	return true
}

// LoadSymbolMap reads the persisted symbol map.
func LoadSymbolMap(path string) (SymbolMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m SymbolMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func saveSymbolMap(path string, m SymbolMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
