package symbol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rustport/internal/errors"
)

// Standard symbol table file names under the pipeline data directory.
const (
	TableFile       = "symbols.jsonl"
	PrunedTableFile = "symbols_pruned.jsonl"
)

// Table is an arena of symbols indexed by stable ID, with a name index for
// resolving call edges. Edges are name lists, not owning references, so
// cyclic call graphs stay representable.
type Table struct {
	byID   map[int]*Symbol
	byName map[string]int // first-writer-wins, matching scan order
	order  []int          // insertion order for deterministic iteration
}

// NewTable creates an empty symbol table
func NewTable() *Table {
	return &Table{
		byID:   make(map[int]*Symbol),
		byName: make(map[string]int),
	}
}

// Add inserts a symbol. Duplicate IDs are an error: identifiers are
// immutable once assigned.
func (t *Table) Add(s *Symbol) error {
	if _, exists := t.byID[s.ID]; exists {
		return errors.New(errors.InternalError, fmt.Sprintf("duplicate symbol id %d", s.ID))
	}
	t.byID[s.ID] = s
	t.order = append(t.order, s.ID)
	if s.Name != "" {
		if _, ok := t.byName[s.Name]; !ok {
			t.byName[s.Name] = s.ID
		}
	}
	if s.QualifiedName != "" {
		if _, ok := t.byName[s.QualifiedName]; !ok {
			t.byName[s.QualifiedName] = s.ID
		}
	}
	return nil
}

// Remove deletes a symbol from the table. Name index entries pointing at
// the removed symbol are dropped; call edges naming it become dangling and
// must be rewritten or re-listed unresolved by the caller.
func (t *Table) Remove(id int) {
	s, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if s.Name != "" && t.byName[s.Name] == id {
		delete(t.byName, s.Name)
	}
	if s.QualifiedName != "" && t.byName[s.QualifiedName] == id {
		delete(t.byName, s.QualifiedName)
	}
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns the symbol with the given ID, or nil
func (t *Table) Get(id int) *Symbol {
	return t.byID[id]
}

// Resolve maps a callee name (simple or qualified) to a symbol ID
func (t *Table) Resolve(name string) (int, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Len returns the number of symbols in the table
func (t *Table) Len() int { return len(t.byID) }

// IDs returns all symbol IDs in insertion order
func (t *Table) IDs() []int {
	out := make([]int, len(t.order))
	copy(out, t.order)
	return out
}

// FunctionIDs returns the IDs of all function symbols, ascending
func (t *Table) FunctionIDs() []int {
	var ids []int
	for id, s := range t.byID {
		if s.Kind == KindFunction {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Symbols returns all symbols in insertion order
func (t *Table) Symbols() []*Symbol {
	out := make([]*Symbol, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Adjacency returns the ID-based call adjacency restricted to in-table
// function symbols. Self-edges and duplicates are dropped.
func (t *Table) Adjacency() map[int][]int {
	adj := make(map[int][]int, len(t.byID))
	for _, id := range t.FunctionIDs() {
		s := t.byID[id]
		seen := make(map[int]bool)
		var internal []int
		for _, callee := range s.Calls {
			cid, ok := t.byName[callee]
			if !ok || cid == id || seen[cid] {
				continue
			}
			if t.byID[cid].Kind != KindFunction {
				continue
			}
			seen[cid] = true
			internal = append(internal, cid)
		}
		adj[id] = internal
	}
	return adj
}

// Validate checks the table invariants: every call edge must resolve inside
// the table or be listed in the symbol's unresolved set.
func (t *Table) Validate() error {
	for _, s := range t.Symbols() {
		unresolved := make(map[string]bool, len(s.Unresolved))
		for _, u := range s.Unresolved {
			unresolved[u] = true
		}
		for _, callee := range s.Calls {
			if _, ok := t.byName[callee]; ok {
				continue
			}
			if unresolved[callee] {
				continue
			}
			return errors.New(errors.DanglingEdge,
				fmt.Sprintf("symbol %s calls %q which is not in the table", s.Label(), callee)).
				WithUnit(s.Label())
		}
	}
	return nil
}

// Save writes the table as JSONL, one symbol per line, via a temp file and
// rename so a crash never leaves a half-written table.
func (t *Table) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, s := range t.Symbols() {
		data, err := json.Marshal(s)
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

// Load reads a JSONL symbol table. Unparseable lines are skipped so a
// truncated trailing line from an interrupted write never blocks resumption.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t := NewTable()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var s Symbol
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		if s.ID == 0 {
			s.ID = line
		}
		if err := t.Add(&s); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// SourceSpan reads the symbol's raw source text back from disk. Missing
// files yield an empty string rather than an error; the scan already
// recorded everything required for translation.
func SourceSpan(s *Symbol) string {
	if s.File == "" {
		return ""
	}
	data, err := os.ReadFile(s.File)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	start := s.StartLine - 1
	end := s.EndLine
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}
