// Package graph computes the dependency-respecting translation order over
// the symbol table's call adjacency.
package graph

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rustport/internal/symbol"
)

// OrderFile is the persisted translation order under the data directory.
const OrderFile = "translation_order.jsonl"

// Step is one emitted unit of the translation order. A step groups several
// IDs only when they belong to the same call cycle.
type Step struct {
	Step      int    `json:"step"`
	IDs       []int  `json:"ids"`
	Group     bool   `json:"group"`
	Roots     []int  `json:"roots"`
	CreatedAt string `json:"created_at"`
}

// Roots returns the IDs of function symbols with no incoming call edges.
// Explicitly designated entries are roots regardless of in-edges.
func Roots(t *symbol.Table, entries []string) []int {
	adj := t.Adjacency()
	nonRoots := make(map[int]bool)
	for _, callees := range adj {
		for _, v := range callees {
			nonRoots[v] = true
		}
	}
	entrySet := make(map[string]bool, len(entries))
	for _, e := range entries {
		entrySet[strings.ToLower(e)] = true
	}
	var roots []int
	for _, id := range t.FunctionIDs() {
		s := t.Get(id)
		explicit := entrySet[strings.ToLower(s.Name)] || entrySet[strings.ToLower(s.QualifiedName)]
		if !nonRoots[id] || explicit {
			roots = append(roots, id)
		}
	}
	sort.Ints(roots)
	return roots
}

// Reachable returns all function IDs reachable from start, including start.
func Reachable(adj map[int][]int, start int) map[int]bool {
	visited := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, v := range adj[u] {
			if !visited[v] {
				visited[v] = true
				stack = append(stack, v)
			}
		}
	}
	return visited
}

// Compute derives the callee-first translation order:
//
//  1. Tarjan SCC collapses call cycles into components.
//  2. Kahn's algorithm on the reversed condensation yields a leaves-first
//     component order (callees before callers where no cycle intervenes).
//  3. Components are emitted per root, roots sorted by reachable-subtree
//     size descending, residual nodes last.
//
// Cycles are broken deterministically: components and the nodes inside them
// are always visited in ascending ID order. That tie-break is a heuristic,
// not an optimality claim, but it makes reruns reproducible.
func Compute(t *symbol.Table, entries []string) []Step {
	adj := t.Adjacency()
	ids := t.FunctionIDs()

	comps := tarjan(ids, adj)
	idToComp := make(map[int]int, len(ids))
	for ci, comp := range comps {
		for _, id := range comp {
			idToComp[id] = ci
		}
	}

	// Reversed condensation: callee component -> caller component.
	revAdj := make(map[int]map[int]bool, len(comps))
	indeg := make([]int, len(comps))
	for _, u := range ids {
		cu := idToComp[u]
		for _, v := range adj[u] {
			cv := idToComp[v]
			if cu == cv {
				continue
			}
			if revAdj[cv] == nil {
				revAdj[cv] = make(map[int]bool)
			}
			if !revAdj[cv][cu] {
				revAdj[cv][cu] = true
				indeg[cu]++
			}
		}
	}

	var queue []int
	for ci := range comps {
		if indeg[ci] == 0 {
			queue = append(queue, ci)
		}
	}
	sort.Ints(queue)

	var compOrder []int
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		compOrder = append(compOrder, c)
		var next []int
		for cu := range revAdj[c] {
			indeg[cu]--
			if indeg[cu] == 0 {
				next = append(next, cu)
			}
		}
		sort.Ints(next)
		queue = append(queue, next...)
	}
	if len(compOrder) < len(comps) {
		seen := make(map[int]bool, len(compOrder))
		for _, c := range compOrder {
			seen[c] = true
		}
		for ci := range comps {
			if !seen[ci] {
				compOrder = append(compOrder, ci)
			}
		}
	}

	// Per-root emission, largest subtree first.
	roots := Roots(t, entries)
	reach := make(map[int]map[int]bool, len(roots))
	for _, r := range roots {
		reach[r] = Reachable(adj, r)
	}
	sort.SliceStable(roots, func(i, j int) bool {
		ri, rj := len(reach[roots[i]]), len(reach[roots[j]])
		if ri != rj {
			return ri > rj
		}
		return roots[i] < roots[j]
	})

	emitted := make(map[int]bool)
	var steps []Step
	now := time.Now().Format("2006-01-02T15:04:05")

	emit := func(rootID int, limit map[int]bool) {
		for _, ci := range compOrder {
			var selected []int
			for _, id := range comps[ci] {
				if emitted[id] {
					continue
				}
				if limit != nil && !limit[id] {
					continue
				}
				selected = append(selected, id)
			}
			if len(selected) == 0 {
				continue
			}
			sort.Ints(selected)
			for _, id := range selected {
				emitted[id] = true
			}
			st := Step{
				Step:      len(steps) + 1,
				IDs:       selected,
				Group:     len(selected) > 1,
				Roots:     []int{},
				CreatedAt: now,
			}
			if rootID >= 0 {
				st.Roots = []int{rootID}
			}
			steps = append(steps, st)
		}
	}

	for _, r := range roots {
		emit(r, reach[r])
	}
	emit(-1, nil) // residual: cycles or orphans unreachable from any root

	return steps
}

// tarjan computes strongly connected components iteratively; the call graphs
// of real codebases are deep enough to overflow a recursive walk.
func tarjan(ids []int, adj map[int][]int) [][]int {
	const unvisited = -1
	index := make(map[int]int, len(ids))
	lowlink := make(map[int]int, len(ids))
	onStack := make(map[int]bool, len(ids))
	var stack []int
	var comps [][]int
	counter := 0

	type frame struct {
		node  int
		child int
	}

	for _, start := range ids {
		if _, seen := index[start]; seen {
			continue
		}
		frames := []frame{{node: start}}
		index[start] = counter
		lowlink[start] = counter
		counter++
		stack = append(stack, start)
		onStack[start] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			v := f.node
			advanced := false
			for f.child < len(adj[v]) {
				w := adj[v][f.child]
				f.child++
				if _, seen := index[w]; !seen {
					index[w] = counter
					lowlink[w] = counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					frames = append(frames, frame{node: w})
					advanced = true
					break
				}
				if onStack[w] && index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
			if advanced {
				continue
			}
			if lowlink[v] == index[v] {
				var comp []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				sort.Ints(comp)
				comps = append(comps, comp)
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].node
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}
		}
	}
	return comps
}

// SaveSteps writes the order as JSONL via temp file + rename.
func SaveSteps(path string, steps []Step) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, st := range steps {
		data, err := json.Marshal(st)
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

// LoadSteps reads a persisted order; blank or damaged lines are skipped.
func LoadSteps(path string) ([]Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var steps []Step
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var st Step
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		steps = append(steps, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

// Flatten expands steps into a single ID sequence preserving step order.
func Flatten(steps []Step) []int {
	var seq []int
	for _, st := range steps {
		seq = append(seq, st.IDs...)
	}
	return seq
}
