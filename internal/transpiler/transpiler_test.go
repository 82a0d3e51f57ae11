package transpiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rustport/internal/cargo"
	"rustport/internal/config"
	"rustport/internal/errors"
	"rustport/internal/graph"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/planner"
	"rustport/internal/symbol"
)

// kindOracle answers per task kind and counts calls.
type kindOracle struct {
	replies map[oracle.TaskKind]string
	errs    map[oracle.TaskKind]error
	calls   map[oracle.TaskKind]int
}

func (o *kindOracle) Complete(_ context.Context, req oracle.Request) (string, error) {
	if o.calls == nil {
		o.calls = map[oracle.TaskKind]int{}
	}
	o.calls[req.Kind]++
	if err := o.errs[req.Kind]; err != nil {
		return "", err
	}
	return o.replies[req.Kind], nil
}

type okCargoRunner struct{ calls int }

func (r *okCargoRunner) Run(context.Context, string, cargo.Mode) cargo.Outcome {
	r.calls++
	return cargo.Outcome{OK: true}
}

// flakyRunner fails the first n invocations, then passes.
type flakyRunner struct {
	failures int
	calls    int
}

func (r *flakyRunner) Run(context.Context, string, cargo.Mode) cargo.Outcome {
	r.calls++
	if r.calls <= r.failures {
		return cargo.Outcome{
			Mode:        cargo.ModeCheck,
			Diagnostics: "error[E0308]: mismatched types",
			Categories:  []cargo.Category{cargo.CategoryTypeMismatch},
		}
	}
	return cargo.Outcome{OK: true, Mode: cargo.ModeCheck}
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel, Output: &bytes.Buffer{}})
}

const addModule = "src/ported/util.rs"

const signatureReply = "<yaml>\nmodule: src/ported/util.rs\nrust_name: add\nsignature: pub fn add(a: i32, b: i32) -> i32\n</yaml>"

const implementReply = "```diff\n" +
	"--- /dev/null\n" +
	"+++ b/src/ported/util.rs\n" +
	"@@ -0,0 +1,3 @@\n" +
	"+pub fn add(a: i32, b: i32) -> i32 {\n" +
	"+    a + b\n" +
	"+}\n" +
	"```"

const fixReply = "```diff\n" +
	"--- /dev/null\n" +
	"+++ b/src/ported/notes.rs\n" +
	"@@ -0,0 +1,1 @@\n" +
	"+// repaired\n" +
	"```"

func happyOracle() *kindOracle {
	return &kindOracle{replies: map[oracle.TaskKind]string{
		oracle.TaskPlanSignature:    signatureReply,
		oracle.TaskImplement:        implementReply,
		oracle.TaskReviewLogic:      "OK",
		oracle.TaskReviewTypeSafety: "OK",
		oracle.TaskFixBuildError:    fixReply,
	}}
}

func singleFunctionTable(t *testing.T) (*symbol.Table, []graph.Step) {
	t.Helper()
	tbl := symbol.NewTable()
	if err := tbl.Add(&symbol.Symbol{ID: 1, Name: "add", Kind: symbol.KindFunction, Signature: "int add(int a, int b)"}); err != nil {
		t.Fatal(err)
	}
	return tbl, graph.Compute(tbl, nil)
}

func TestRunConvertsFunction(t *testing.T) {
	tbl, steps := singleFunctionTable(t)
	plan := &planner.Plan{Modules: []string{addModule}}
	crateDir, dataDir := t.TempDir(), t.TempDir()
	orc := happyOracle()

	tr := New(orc, &okCargoRunner{}, config.TranspileConfig{MaxRetries: 3}, testLogger())
	res, err := tr.Run(context.Background(), tbl, steps, plan, crateDir, dataDir, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Converted != 1 || res.Failed != 0 {
		t.Fatalf("Result = %+v", res)
	}

	entries := res.Map["add"]
	if len(entries) != 1 || entries[0].Module != addModule || entries[0].RustSymbol != "add" {
		t.Fatalf("map entries = %+v", entries)
	}

	data, err := os.ReadFile(filepath.Join(crateDir, "src", "ported", "util.rs"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "pub fn add") {
		t.Errorf("module missing implementation:\n%s", data)
	}
	if !strings.Contains(string(data), "mod add_smoke") {
		t.Errorf("module missing smoke test:\n%s", data)
	}

	if _, err := LoadSymbolMap(filepath.Join(dataDir, SymbolMapFile)); err != nil {
		t.Errorf("symbol map not persisted: %v", err)
	}

	// Both review passes ran.
	if orc.calls[oracle.TaskReviewLogic] != 1 || orc.calls[oracle.TaskReviewTypeSafety] != 1 {
		t.Errorf("review calls = %v", orc.calls)
	}
}

func TestRunResumesWithoutReconverting(t *testing.T) {
	tbl, steps := singleFunctionTable(t)
	plan := &planner.Plan{Modules: []string{addModule}}
	crateDir, dataDir := t.TempDir(), t.TempDir()

	tr := New(happyOracle(), &okCargoRunner{}, config.TranspileConfig{MaxRetries: 3}, testLogger())
	if _, err := tr.Run(context.Background(), tbl, steps, plan, crateDir, dataDir, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	orc2 := happyOracle()
	tr2 := New(orc2, &okCargoRunner{}, config.TranspileConfig{MaxRetries: 3}, testLogger())
	res, err := tr2.Run(context.Background(), tbl, steps, plan, crateDir, dataDir, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Converted != 0 || res.Skipped != 1 {
		t.Errorf("resumed Result = %+v", res)
	}
	if orc2.calls[oracle.TaskImplement] != 0 {
		t.Errorf("resumed run re-implemented the symbol: %v", orc2.calls)
	}
	// The converted entry survives the resume through the persisted map.
	if len(res.Map["add"]) != 1 {
		t.Errorf("resumed map = %+v", res.Map)
	}
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	tbl := symbol.NewTable()
	for id, name := range map[int]string{1: "bad", 2: "good"} {
		if err := tbl.Add(&symbol.Symbol{ID: id, Name: name, Kind: symbol.KindFunction}); err != nil {
			t.Fatal(err)
		}
	}
	steps := graph.Compute(tbl, nil)

	orc := happyOracle()
	orc.replies[oracle.TaskPlanSignature] = "" // malformed: fallback path
	orc.errs = map[oracle.TaskKind]error{oracle.TaskImplement: errors.New(errors.InternalError, "oracle down")}

	tr := New(orc, &okCargoRunner{}, config.TranspileConfig{MaxRetries: 1}, testLogger())
	res, err := tr.Run(context.Background(), tbl, steps, &planner.Plan{}, t.TempDir(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 2 || res.Converted != 0 {
		t.Errorf("Result = %+v, want both symbols failed", res)
	}
}

func TestRunSkipsReplacedSymbols(t *testing.T) {
	tbl := symbol.NewTable()
	sym := &symbol.Symbol{
		ID:             1,
		Name:           "parse_json",
		Kind:           symbol.KindFunction,
		LibReplacement: &symbol.LibReplacement{Library: "serde_json", Libraries: []string{"serde_json"}},
	}
	if err := tbl.Add(sym); err != nil {
		t.Fatal(err)
	}
	steps := graph.Compute(tbl, nil)

	orc := happyOracle()
	tr := New(orc, &okCargoRunner{}, config.TranspileConfig{}, testLogger())
	res, err := tr.Run(context.Background(), tbl, steps, &planner.Plan{}, t.TempDir(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped != 1 || res.Converted != 0 {
		t.Errorf("Result = %+v", res)
	}
	if orc.calls[oracle.TaskImplement] != 0 {
		t.Error("replaced symbol was sent for implementation")
	}
}

func TestRunOnlyFilter(t *testing.T) {
	tbl, steps := singleFunctionTable(t)
	orc := happyOracle()
	tr := New(orc, &okCargoRunner{}, config.TranspileConfig{}, testLogger())

	res, err := tr.Run(context.Background(), tbl, steps, &planner.Plan{}, t.TempDir(), t.TempDir(), []string{"other"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped != 1 || orc.calls[oracle.TaskImplement] != 0 {
		t.Errorf("only filter ignored: %+v, calls %v", res, orc.calls)
	}
}

func TestVerifyLoopRepairsWithinBudget(t *testing.T) {
	tbl, steps := singleFunctionTable(t)
	plan := &planner.Plan{Modules: []string{addModule}}
	crateDir := t.TempDir()

	// First check fails once, every later invocation passes.
	runner := &flakyRunner{failures: 1}
	orc := happyOracle()
	tr := New(orc, runner, config.TranspileConfig{MaxRetries: 3}, testLogger())

	res, err := tr.Run(context.Background(), tbl, steps, plan, crateDir, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Converted != 1 {
		t.Fatalf("Result = %+v", res)
	}
	if orc.calls[oracle.TaskFixBuildError] != 1 {
		t.Errorf("fix calls = %v, want exactly one repair round", orc.calls)
	}
}

func TestVerifyLoopExhaustsBudget(t *testing.T) {
	tbl, steps := singleFunctionTable(t)
	plan := &planner.Plan{Modules: []string{addModule}}

	runner := &flakyRunner{failures: 1000}
	tr := New(happyOracle(), runner, config.TranspileConfig{MaxRetries: 2}, testLogger())

	res, err := tr.Run(context.Background(), tbl, steps, plan, t.TempDir(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Result = %+v, want the symbol recorded as failed", res)
	}
}

func TestRewritePlaceholders(t *testing.T) {
	crateDir := t.TempDir()
	path := filepath.Join(crateDir, "src", "caller.rs")
	original := "pub fn caller() -> i32 {\n    todo!(\"add(1, 2)\") + todo!(\"add\")\n}\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, backups, err := rewritePlaceholders(crateDir, "add", "crate::ported::util::add")
	if err != nil {
		t.Fatalf("rewritePlaceholders: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("changed = %v", changed)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "crate::ported::util::add(1, 2)") {
		t.Errorf("argument-carrying placeholder not rewritten:\n%s", data)
	}
	if !strings.Contains(string(data), "crate::ported::util::add()") {
		t.Errorf("bare placeholder not rewritten:\n%s", data)
	}
	if string(backups[path]) != original {
		t.Errorf("backup does not match original content")
	}
}

func TestAppendSmokeTestRevertsOnFailure(t *testing.T) {
	crateDir := t.TempDir()
	path := filepath.Join(crateDir, "src", "ported", "util.rs")
	original := "pub fn add(a: i32, b: i32) -> i32 { a + b }\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	// The check after appending fails, so the file must come back untouched.
	runner := &flakyRunner{failures: 1000}
	tr := New(happyOracle(), runner, config.TranspileConfig{}, testLogger())
	if err := tr.appendSmokeTest(context.Background(), addModule, "add", crateDir); err != nil {
		t.Fatalf("appendSmokeTest: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Errorf("file not reverted:\n%s", data)
	}
}

func TestApplyReplyDiffRejectsOutOfModuleEdits(t *testing.T) {
	crateDir := t.TempDir()
	libPath := filepath.Join(crateDir, "src", "lib.rs")
	original := "pub mod ported;\n"
	if err := os.MkdirAll(filepath.Dir(libPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(libPath, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	// One in-module file plus a stray edit to src/lib.rs.
	reply := "```diff\n" +
		"--- /dev/null\n" +
		"+++ b/src/ported/util.rs\n" +
		"@@ -0,0 +1,1 @@\n" +
		"+pub fn add() {}\n" +
		"--- a/src/lib.rs\n" +
		"+++ b/src/lib.rs\n" +
		"@@ -1,1 +1,2 @@\n" +
		" pub mod ported;\n" +
		"+pub mod stray;\n" +
		"```"

	tr := New(happyOracle(), &okCargoRunner{}, config.TranspileConfig{}, testLogger())
	err := tr.applyReplyDiff(reply, crateDir, addModule)
	if !errors.HasCode(err, errors.InvalidTargetPath) {
		t.Fatalf("applyReplyDiff = %v, want INVALID_TARGET_PATH", err)
	}
	if _, statErr := os.Stat(filepath.Join(crateDir, "src", "ported", "util.rs")); !os.IsNotExist(statErr) {
		t.Error("in-module file written despite the rejected diff")
	}
	data, _ := os.ReadFile(libPath)
	if string(data) != original {
		t.Errorf("stray edit reached src/lib.rs:\n%s", data)
	}
}
