package replacer

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/symbol"
)

// stubOracle answers per root name; unknown roots are not replaceable.
type stubOracle struct {
	replies map[string]string
	asked   []string
}

func (o *stubOracle) Complete(_ context.Context, req oracle.Request) (string, error) {
	name := rootName(req.Prompt)
	o.asked = append(o.asked, name)
	if r, ok := o.replies[name]; ok {
		return r, nil
	}
	return "replaceable: false", nil
}

func rootName(prompt string) string {
	line := strings.SplitN(prompt, "\n", 2)[0]
	return strings.TrimPrefix(line, "Root function: ")
}

func (o *stubOracle) wasAsked(name string) bool {
	for _, a := range o.asked {
		if a == name {
			return true
		}
	}
	return false
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel, Output: &bytes.Buffer{}})
}

// testTable builds: main -> parse_json -> json_helper, main -> checksum.
func testTable(t *testing.T) *symbol.Table {
	t.Helper()
	tbl := symbol.NewTable()
	add := func(id int, name string, calls ...string) {
		if err := tbl.Add(&symbol.Symbol{ID: id, Name: name, Kind: symbol.KindFunction, Calls: calls}); err != nil {
			t.Fatal(err)
		}
	}
	add(1, "main", "parse_json", "checksum")
	add(2, "parse_json", "json_helper")
	add(3, "json_helper")
	add(4, "checksum")
	return tbl
}

const acceptSerde = "<yaml>\nreplaceable: true\nlibrary: serde_json\nconfidence: 0.9\nnotes: direct fit\n</yaml>"

func TestRunReplacesSubtreeAndPrunes(t *testing.T) {
	orc := &stubOracle{replies: map[string]string{"parse_json": acceptSerde}}
	ev := New(orc, Options{Entries: []string{"main"}}, testLogger())
	dataDir := t.TempDir()

	res, err := ev.Run(context.Background(), testTable(t), dataDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	root := res.Table.Get(2)
	if root.LibReplacement == nil || root.LibReplacement.Library != "serde_json" {
		t.Fatalf("parse_json not replaced: %+v", root.LibReplacement)
	}
	if len(root.Refs) != 1 || root.Refs[0] != "lib::serde_json" {
		t.Errorf("Refs = %v, want [lib::serde_json]", root.Refs)
	}
	if len(root.Calls) != 0 {
		t.Errorf("replaced root kept call edges: %v", root.Calls)
	}

	// json_helper is reachable only through parse_json, so it goes.
	if res.Table.Get(3) != nil {
		t.Error("exclusively reachable descendant survived")
	}
	if len(res.Pruned) != 1 || res.Pruned[0] != 3 {
		t.Errorf("Pruned = %v, want [3]", res.Pruned)
	}
	// checksum is outside the subtree and stays.
	if res.Table.Get(4) == nil {
		t.Error("unrelated function was pruned")
	}

	reps, err := LoadReplacements(filepath.Join(dataDir, ReplacementsFile))
	if err != nil {
		t.Fatalf("LoadReplacements: %v", err)
	}
	if len(reps) != 1 || reps[0].Name != "parse_json" {
		t.Errorf("persisted replacements = %+v", reps)
	}
}

func TestRunKeepsSharedDescendants(t *testing.T) {
	tbl := testTable(t)
	// checksum also calls json_helper, so json_helper must survive the
	// parse_json replacement.
	tbl.Get(4).Calls = []string{"json_helper"}

	orc := &stubOracle{replies: map[string]string{"parse_json": acceptSerde}}
	ev := New(orc, Options{Entries: []string{"main"}}, testLogger())

	res, err := ev.Run(context.Background(), tbl, t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Table.Get(3) == nil {
		t.Error("shared descendant pruned despite external caller")
	}
	if len(res.Pruned) != 0 {
		t.Errorf("Pruned = %v, want none", res.Pruned)
	}
}

func TestRunDenylistOverridesOracle(t *testing.T) {
	orc := &stubOracle{replies: map[string]string{
		"parse_json": "<yaml>\nreplaceable: true\nlibrary: libc\n</yaml>",
	}}
	ev := New(orc, Options{Entries: []string{"main"}, Denylist: []string{"libc"}}, testLogger())

	res, err := ev.Run(context.Background(), testTable(t), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Table.Get(2).Replaced() {
		t.Error("denylisted library accepted")
	}
	if res.Table.Get(3) == nil {
		t.Error("subtree pruned despite denied replacement")
	}
	// Evaluation recursed into the kept root's children.
	if !orc.wasAsked("json_helper") {
		t.Errorf("children not evaluated after denial, asked = %v", orc.asked)
	}
}

func TestRunMalformedReplyFailsClosed(t *testing.T) {
	orc := &stubOracle{replies: map[string]string{
		"parse_json": "absolutely no structure in this reply whatsoever",
	}}
	ev := New(orc, Options{Entries: []string{"main"}}, testLogger())

	res, err := ev.Run(context.Background(), testTable(t), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Replacements) != 0 {
		t.Errorf("malformed reply produced replacements: %+v", res.Replacements)
	}
	if res.Table.Len() != 4 {
		t.Errorf("table shrank to %d symbols on malformed reply", res.Table.Len())
	}
}

func TestRunNeverEvaluatesEntrySymbols(t *testing.T) {
	orc := &stubOracle{}
	ev := New(orc, Options{Entries: []string{"main"}}, testLogger())

	if _, err := ev.Run(context.Background(), testTable(t), t.TempDir()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if orc.wasAsked("main") {
		t.Errorf("entry symbol sent to the oracle, asked = %v", orc.asked)
	}
	if !orc.wasAsked("parse_json") || !orc.wasAsked("checksum") {
		t.Errorf("entry children not evaluated, asked = %v", orc.asked)
	}
}

func TestRunBudgetStopsAndResumes(t *testing.T) {
	dataDir := t.TempDir()
	opts := Options{Entries: []string{"main"}, MaxRoots: 2}

	first := &stubOracle{}
	res1, err := New(first, opts, testLogger()).Run(context.Background(), testTable(t), dataDir)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if res1.Evaluated != 2 {
		t.Fatalf("Evaluated = %d, want budget of 2", res1.Evaluated)
	}

	// Same inputs: the second run resumes from the checkpoint and re-asks
	// nothing that was already processed.
	second := &stubOracle{}
	res2, err := New(second, opts, testLogger()).Run(context.Background(), testTable(t), dataDir)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second.asked) != 0 {
		t.Errorf("resumed run re-evaluated roots: %v", second.asked)
	}
	if res2.Evaluated != 2 {
		t.Errorf("resumed Evaluated = %d, want 2", res2.Evaluated)
	}
}

func TestRunChangedInputsInvalidateCheckpoint(t *testing.T) {
	dataDir := t.TempDir()

	first := &stubOracle{}
	if _, err := New(first, Options{Entries: []string{"main"}, MaxRoots: 2}, testLogger()).
		Run(context.Background(), testTable(t), dataDir); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A different denylist is a different run; the stale checkpoint must not
	// resume.
	second := &stubOracle{}
	if _, err := New(second, Options{Entries: []string{"main"}, MaxRoots: 2, Denylist: []string{"libc"}}, testLogger()).
		Run(context.Background(), testTable(t), dataDir); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !second.wasAsked("parse_json") {
		t.Errorf("changed inputs resumed the old checkpoint, asked = %v", second.asked)
	}
}

func TestRunCandidateRestriction(t *testing.T) {
	orc := &stubOracle{}
	ev := New(orc, Options{Candidates: []string{"checksum"}, Entries: []string{"main"}}, testLogger())

	res, err := ev.Run(context.Background(), testTable(t), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Only checksum's subtree survives the restriction.
	if res.Table.Get(4) == nil {
		t.Error("candidate root pruned")
	}
	if res.Table.Get(2) != nil || res.Table.Get(1) != nil {
		t.Error("functions outside the candidate subtree survived")
	}
}
