package replacer

import (
	"fmt"
	"sort"
	"strings"

	"rustport/internal/graph"
	"rustport/internal/symbol"
)

// Prompt-size bounds. Subtrees larger than these are summarized, never sent
// whole; the decision only needs the shape of the code, not all of it.
const (
	maxMemberLines  = 200
	maxEdges        = 400
	maxExcerpts     = 3
	maxExcerptLines = 120
)

const replacementSystemPrompt = `You review C/C++ call subtrees being ported to Rust.
Decide whether the whole subtree can be replaced by existing, well-maintained
Rust crates instead of being translated. Prefer widely used crates. If no
crate covers the behavior, answer replaceable: false.`

const replacementAnswerShape = `Answer with a yaml block:
<yaml>
replaceable: true|false
libraries: [crate, ...]
library: primary-crate
apis: [entry points to use, ...]
confidence: 0.0-1.0
notes: one line of reasoning
</yaml>`

// subtreeSummary renders a bounded description of the subtree rooted at sym:
// the member list, the internal call edges and a few source excerpts.
func subtreeSummary(t *symbol.Table, sym *symbol.Symbol) string {
	adj := t.Adjacency()
	reach := graph.Reachable(adj, sym.ID)
	members := make([]int, 0, len(reach))
	for id := range reach {
		members = append(members, id)
	}
	sort.Ints(members)

	var b strings.Builder
	fmt.Fprintf(&b, "Root function: %s\n", sym.Label())
	if sym.Signature != "" {
		fmt.Fprintf(&b, "Signature: %s\n", sym.Signature)
	}
	fmt.Fprintf(&b, "Defined in: %s:%d\n", sym.File, sym.StartLine)
	fmt.Fprintf(&b, "Subtree size: %d functions\n\n", len(members))

	b.WriteString("Members:\n")
	lines := 0
	for _, id := range members {
		if lines >= maxMemberLines {
			fmt.Fprintf(&b, "  ... %d more\n", len(members)-lines)
			break
		}
		m := t.Get(id)
		fmt.Fprintf(&b, "  [%d] %s  %s\n", m.ID, m.Label(), m.Signature)
		lines++
	}

	b.WriteString("\nCall edges:\n")
	edges := 0
edgeLoop:
	for _, u := range members {
		for _, v := range adj[u] {
			if !reach[v] {
				continue
			}
			if edges >= maxEdges {
				b.WriteString("  ...\n")
				break edgeLoop
			}
			fmt.Fprintf(&b, "  %s -> %s\n", t.Get(u).Label(), t.Get(v).Label())
			edges++
		}
	}

	if unresolved := collectUnresolved(t, members); len(unresolved) > 0 {
		b.WriteString("\nExternal/unresolved references:\n")
		for _, u := range unresolved {
			fmt.Fprintf(&b, "  %s\n", u)
		}
	}

	b.WriteString("\nSource excerpts:\n")
	for i, id := range excerptCandidates(sym.ID, members) {
		if i >= maxExcerpts {
			break
		}
		m := t.Get(id)
		span := symbol.SourceSpan(m)
		if span == "" {
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", m.Label(), truncateLines(span, maxExcerptLines))
	}
	return b.String()
}

// excerptCandidates puts the root first, then members in ascending ID order.
func excerptCandidates(rootID int, members []int) []int {
	out := []int{rootID}
	for _, id := range members {
		if id != rootID {
			out = append(out, id)
		}
	}
	return out
}

func collectUnresolved(t *symbol.Table, members []int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range members {
		for _, u := range t.Get(id).Unresolved {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	sort.Strings(out)
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

func truncateLines(text string, limit int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= limit {
		return text
	}
	return strings.Join(lines[:limit], "\n") + "\n// ... truncated"
}
