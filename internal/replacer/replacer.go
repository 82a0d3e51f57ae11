// Package replacer evaluates call-graph roots against an oracle to decide
// which subtrees can be replaced by existing Rust libraries, pruning the
// code that no longer needs translation.
package replacer

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"rustport/internal/checkpoint"
	"rustport/internal/config"
	"rustport/internal/graph"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/symbol"
)

// File names under the pipeline data directory.
const (
	ReplacementsFile = "library_replacements.jsonl"
	CheckpointFile   = "replacer_checkpoint.json"
)

// Replacement is one accepted library replacement decision.
type Replacement struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Libraries  []string `json:"libraries"`
	Library    string   `json:"library,omitempty"`
	APIs       []string `json:"apis,omitempty"`
	Confidence float64  `json:"confidence"`
	Notes      string   `json:"notes,omitempty"`
	PrunedIDs  []int    `json:"pruned_ids,omitempty"`
	DecidedAt  string   `json:"decided_at,omitempty"`
}

// Options narrows and bounds one evaluation run.
type Options struct {
	Candidates []string // restrict roots to these names; prunes the rest
	Denylist   []string
	Entries    []string // never replaced, evaluation recurses into children
	MaxRoots   int      // 0 = unlimited oracle evaluations
}

// Result is the outcome of a completed evaluation run.
type Result struct {
	Table        *symbol.Table
	Replacements []Replacement
	Pruned       []int
	Evaluated    int
}

// progress is the checkpointed state between roots.
type progress struct {
	Processed    []int         `json:"processed"`
	Pruned       []int         `json:"pruned"`
	Replacements []Replacement `json:"replacements"`
	Evaluated    int           `json:"evaluated"`
}

// Evaluator drives the replacement decisions for one symbol table.
type Evaluator struct {
	orc  oracle.Oracle
	log  *logging.Logger
	opts Options
}

// New creates an evaluator
func New(orc oracle.Oracle, opts Options, log *logging.Logger) *Evaluator {
	return &Evaluator{orc: orc, opts: opts, log: log}
}

// OptionsFromConfig merges configured defaults with per-run flags.
func OptionsFromConfig(cfg config.ReplaceConfig, candidates []string) Options {
	entries := cfg.EntrySymbols
	if len(entries) == 0 {
		entries = []string{"main"}
	}
	return Options{
		Candidates: candidates,
		Denylist:   cfg.Denylist,
		Entries:    entries,
		MaxRoots:   cfg.MaxRoots,
	}
}

// Run evaluates every root breadth-first, parents before children, resuming
// from the checkpoint when its resumption key still matches the inputs.
// Outputs are written under dataDir; the scanner's original table is never
// modified on disk.
func (e *Evaluator) Run(ctx context.Context, t *symbol.Table, dataDir string) (*Result, error) {
	key := e.resumptionKey(dataDir)
	store := checkpoint.NewStore(filepath.Join(dataDir, CheckpointFile))

	if len(e.opts.Candidates) > 0 {
		e.restrictToCandidates(t)
	}

	var st progress
	resumed, err := store.Load(key, &st)
	if err != nil {
		return nil, err
	}
	if resumed {
		e.reapply(t, &st)
		e.log.Info("resuming replacement evaluation", logging.Fields{
			"processed": len(st.Processed),
			"pruned":    len(st.Pruned),
		})
	} else {
		st = progress{}
	}

	processed := make(map[int]bool, len(st.Processed))
	for _, id := range st.Processed {
		processed[id] = true
	}
	prunedSet := make(map[int]bool, len(st.Pruned))
	for _, id := range st.Pruned {
		prunedSet[id] = true
	}
	entrySet := make(map[string]bool, len(e.opts.Entries))
	for _, n := range e.opts.Entries {
		entrySet[strings.ToLower(n)] = true
	}

	queue := graph.Roots(t, e.opts.Entries)
	if len(queue) == 0 {
		queue = t.FunctionIDs()
	}
	enqueued := make(map[int]bool, len(queue))
	for _, id := range queue {
		enqueued[id] = true
	}

	budgetSpent := false
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]

		sym := t.Get(id)
		if sym == nil || prunedSet[id] {
			continue
		}
		if processed[id] {
			if !sym.Replaced() {
				queue = e.enqueueChildren(t, id, enqueued, queue)
			}
			continue
		}

		if entrySet[strings.ToLower(sym.Name)] || entrySet[strings.ToLower(sym.QualifiedName)] {
			// Entry points keep their hand-written translation; only their
			// callees are candidates.
			processed[id] = true
			st.Processed = append(st.Processed, id)
			queue = e.enqueueChildren(t, id, enqueued, queue)
			continue
		}

		if e.opts.MaxRoots > 0 && st.Evaluated >= e.opts.MaxRoots {
			budgetSpent = true
			break
		}

		rep, replaceable := e.evaluate(ctx, t, sym)
		st.Evaluated++
		processed[id] = true
		st.Processed = append(st.Processed, id)

		if replaceable {
			pruned := e.applyReplacement(t, sym, &rep)
			for _, pid := range pruned {
				prunedSet[pid] = true
			}
			st.Pruned = append(st.Pruned, pruned...)
			st.Replacements = append(st.Replacements, rep)
			e.log.Info("subtree replaced", logging.Fields{
				"symbol":  sym.Label(),
				"library": rep.Library,
				"pruned":  len(pruned),
			})
		} else {
			queue = e.enqueueChildren(t, id, enqueued, queue)
		}

		if err := store.Save(key, &st); err != nil {
			return nil, err
		}
	}

	cleanDanglingCalls(t)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := e.persist(t, dataDir, &st); err != nil {
		return nil, err
	}
	if !budgetSpent {
		if err := store.Clear(); err != nil {
			return nil, err
		}
	}

	sort.Ints(st.Pruned)
	return &Result{
		Table:        t,
		Replacements: st.Replacements,
		Pruned:       st.Pruned,
		Evaluated:    st.Evaluated,
	}, nil
}

// evaluate asks the oracle about one root. Any oracle failure or malformed
// reply fails closed: the root is kept and its children evaluated instead.
func (e *Evaluator) evaluate(ctx context.Context, t *symbol.Table, sym *symbol.Symbol) (Replacement, bool) {
	req := oracle.Request{
		Kind:    oracle.TaskProposeReplacement,
		System:  replacementSystemPrompt,
		Prompt:  subtreeSummary(t, sym),
		Summary: replacementAnswerShape,
	}
	reply, err := e.orc.Complete(ctx, req)
	if err != nil {
		e.log.Warn("oracle call failed, keeping subtree", logging.Fields{
			"symbol": sym.Label(),
			"error":  err.Error(),
		})
		return Replacement{}, false
	}
	dec := oracle.ParseDecision(reply)
	if dec.State != oracle.ParsedDecision {
		e.log.Warn("malformed replacement decision, keeping subtree", logging.Fields{
			"symbol": sym.Label(),
		})
		return Replacement{}, false
	}
	if !dec.Bool("replaceable") {
		return Replacement{}, false
	}

	libraries := dec.StringList("libraries")
	primary := dec.String("library")
	if primary == "" && len(libraries) > 0 {
		primary = libraries[0]
	}
	if len(libraries) == 0 && primary != "" {
		libraries = []string{primary}
	}
	if len(libraries) == 0 {
		return Replacement{}, false // replaceable without a library is useless
	}
	if denied := e.deniedLibrary(libraries); denied != "" {
		e.log.Info("replacement denied by policy", logging.Fields{
			"symbol":  sym.Label(),
			"library": denied,
		})
		return Replacement{}, false
	}

	apis := dec.StringList("apis")
	if len(apis) == 0 {
		apis = dec.StringList("api")
	}
	return Replacement{
		ID:         sym.ID,
		Name:       sym.Label(),
		Libraries:  libraries,
		Library:    primary,
		APIs:       apis,
		Confidence: dec.Float("confidence"),
		Notes:      dec.String("notes"),
		DecidedAt:  time.Now().UTC().Format(time.RFC3339),
	}, true
}

func (e *Evaluator) deniedLibrary(libraries []string) string {
	for _, lib := range libraries {
		for _, denied := range e.opts.Denylist {
			if strings.EqualFold(strings.TrimSpace(lib), strings.TrimSpace(denied)) {
				return lib
			}
		}
	}
	return ""
}

// applyReplacement attaches the decision to the root, rewrites its refs to
// library markers and removes every descendant reachable only through it.
func (e *Evaluator) applyReplacement(t *symbol.Table, root *symbol.Symbol, rep *Replacement) []int {
	adj := t.Adjacency()
	inSubtree := graph.Reachable(adj, root.ID)

	// A descendant survives when anything outside the subtree still
	// reaches it on a path that does not pass through the replaced root.
	external := make(map[int]bool)
	for _, id := range t.FunctionIDs() {
		if !inSubtree[id] {
			for v := range reachableAvoiding(adj, id, root.ID) {
				external[v] = true
			}
		}
	}

	var pruned []int
	for id := range inSubtree {
		if id == root.ID || external[id] {
			continue
		}
		pruned = append(pruned, id)
	}
	sort.Ints(pruned)
	for _, id := range pruned {
		t.Remove(id)
	}

	root.LibReplacement = &symbol.LibReplacement{
		Libraries:  rep.Libraries,
		Library:    rep.Library,
		APIs:       rep.APIs,
		Confidence: rep.Confidence,
		Notes:      rep.Notes,
	}
	refs := make([]string, 0, len(rep.Libraries))
	for _, lib := range rep.Libraries {
		refs = append(refs, "lib::"+lib)
	}
	root.Refs = refs
	root.Calls = nil
	root.UpdatedAt = rep.DecidedAt

	rep.PrunedIDs = pruned
	return pruned
}

// reachableAvoiding walks adj from start but never expands the blocked
// node's edges. The blocked node itself may be visited; callers skip it.
func reachableAvoiding(adj map[int][]int, start, blocked int) map[int]bool {
	visited := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if u == blocked {
			continue
		}
		for _, v := range adj[u] {
			if !visited[v] {
				visited[v] = true
				stack = append(stack, v)
			}
		}
	}
	return visited
}

// restrictToCandidates deletes functions unreachable from any candidate
// root. Types are never pruned; downstream modules may still need them.
func (e *Evaluator) restrictToCandidates(t *symbol.Table) {
	adj := t.Adjacency()
	keep := make(map[int]bool)
	for _, name := range e.opts.Candidates {
		id, ok := t.Resolve(name)
		if !ok {
			e.log.Warn("candidate not found in symbol table", logging.Fields{"name": name})
			continue
		}
		for v := range graph.Reachable(adj, id) {
			keep[v] = true
		}
	}
	for _, id := range t.FunctionIDs() {
		if !keep[id] {
			t.Remove(id)
		}
	}
	cleanDanglingCalls(t)
}

func (e *Evaluator) enqueueChildren(t *symbol.Table, id int, enqueued map[int]bool, queue []int) []int {
	adj := t.Adjacency()
	children := append([]int(nil), adj[id]...)
	sort.Ints(children)
	for _, c := range children {
		if !enqueued[c] {
			enqueued[c] = true
			queue = append(queue, c)
		}
	}
	return queue
}

// reapply restores a checkpoint's effects onto a freshly loaded table.
func (e *Evaluator) reapply(t *symbol.Table, st *progress) {
	for _, rep := range st.Replacements {
		sym := t.Get(rep.ID)
		if sym == nil {
			continue
		}
		r := rep
		e.applyReplacement(t, sym, &r)
	}
	for _, id := range st.Pruned {
		t.Remove(id)
	}
	cleanDanglingCalls(t)
}

// cleanDanglingCalls drops call edges whose targets were pruned. Replaced
// roots already carry their library markers; everyone else records the lost
// target as unresolved so the table still validates.
func cleanDanglingCalls(t *symbol.Table) {
	for _, sym := range t.Symbols() {
		if len(sym.Calls) == 0 {
			continue
		}
		var kept []string
		for _, callee := range sym.Calls {
			if _, ok := t.Resolve(callee); ok {
				kept = append(kept, callee)
				continue
			}
			if !sym.Replaced() {
				sym.Unresolved = appendUnique(sym.Unresolved, callee)
			}
		}
		sym.Calls = kept
	}
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}

// persist writes the pruned table, the replacement records and a recomputed
// translation order, archiving any superseded generation first.
func (e *Evaluator) persist(t *symbol.Table, dataDir string, st *progress) error {
	prunedPath := filepath.Join(dataDir, symbol.PrunedTableFile)
	repPath := filepath.Join(dataDir, ReplacementsFile)
	orderPath := filepath.Join(dataDir, graph.OrderFile)
	for _, path := range []string{prunedPath, repPath, orderPath} {
		if _, err := os.Stat(path); err == nil {
			if _, err := checkpoint.Archive(dataDir, path); err != nil {
				return err
			}
		}
	}

	if err := t.Save(prunedPath); err != nil {
		return err
	}
	if err := saveReplacements(repPath, st.Replacements); err != nil {
		return err
	}
	steps := graph.Compute(t, e.opts.Entries)
	return graph.SaveSteps(orderPath, steps)
}

func saveReplacements(path string, reps []Replacement) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rep := range reps {
		data, err := json.Marshal(rep)
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadReplacements reads persisted replacement records, skipping damaged lines.
func LoadReplacements(path string) ([]Replacement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var reps []Replacement
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rep Replacement
		if err := json.Unmarshal([]byte(raw), &rep); err != nil {
			continue
		}
		reps = append(reps, rep)
	}
	return reps, sc.Err()
}

// resumptionKey hashes everything that shapes an evaluation run. Any change
// to the inputs invalidates the checkpoint.
func (e *Evaluator) resumptionKey(dataDir string) string {
	return checkpoint.Signature(map[string]string{
		"symbols":    checkpoint.FileSignature(filepath.Join(dataDir, symbol.TableFile)),
		"candidates": strings.Join(e.opts.Candidates, ","),
		"denylist":   strings.Join(e.opts.Denylist, ","),
		"entries":    strings.Join(e.opts.Entries, ","),
		"max_roots":  strconv.Itoa(e.opts.MaxRoots),
	})
}
