package transpiler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"rustport/internal/cargo"
	"rustport/internal/oracle"
	"rustport/internal/planner"
	"rustport/internal/symbol"
)

const signatureSystemPrompt = `You plan where a C/C++ function lands in a Rust
crate. Pick a module from the crate layout and write an idiomatic Rust
signature preserving the function's semantics. Prefer references over raw
pointers and slices over pointer+length pairs.`

const signatureAnswerShape = `Answer with a yaml block:
<yaml>
module: src/<path>.rs
rust_name: snake_case_name
signature: pub fn snake_case_name(...) -> ...
</yaml>`

const implementSystemPrompt = `You translate one C/C++ function into Rust.
Reply with a single unified diff against the target module and nothing else.
Call dependencies that are already converted by their crate path. For callees
not yet converted, write the call site as todo!("<callee>") or
todo!("<callee>(args)") so it can be resolved later. Do not edit any other
file.`

const fixSystemPrompt = `You repair a Rust build failure with the smallest
possible change. Reply with a single unified diff and nothing else.`

func reviewSystemPrompt(kind oracle.TaskKind) string {
	if kind == oracle.TaskReviewTypeSafety {
		return `You review a Rust translation for type and memory safety:
unnecessary unsafe blocks, raw pointers that could be references, integer
conversions that change semantics. Answer OK when nothing needs fixing.`
	}
	return `You review a Rust translation against its C/C++ original for
logical equivalence: control flow, edge cases, error behavior. Answer OK
when nothing needs fixing.`
}

func signaturePrompt(sym *symbol.Symbol, plan *planner.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Function: %s\n", sym.Label())
	if sym.Signature != "" {
		fmt.Fprintf(&b, "C signature: %s\n", sym.Signature)
	}
	fmt.Fprintf(&b, "Source:\n%s\n", truncateLines(symbol.SourceSpan(sym), 120))
	if plan != nil && len(plan.Modules) > 0 {
		b.WriteString("\nCrate modules:\n")
		for _, m := range plan.SortedModules() {
			fmt.Fprintf(&b, "  %s\n", m)
		}
	}
	return b.String()
}

func implementPrompt(t *symbol.Table, sym *symbol.Symbol, symMap SymbolMap, module, signature, rustName, crateDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate this function into Rust.\n\n")
	fmt.Fprintf(&b, "Function: %s\n", sym.Label())
	fmt.Fprintf(&b, "Target module: %s\n", module)
	fmt.Fprintf(&b, "Target signature: %s\n\n", signature)
	fmt.Fprintf(&b, "C/C++ source:\n%s\n", truncateLines(symbol.SourceSpan(sym), 200))

	converted, pending := calleeStatus(t, sym, symMap)
	if len(converted) > 0 {
		b.WriteString("\nConverted dependencies (call these directly):\n")
		for _, line := range converted {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	if len(pending) > 0 {
		b.WriteString("\nUnconverted dependencies (use todo!(\"<name>\") at their call sites):\n")
		for _, name := range pending {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	if rep := sym.LibReplacement; rep != nil {
		fmt.Fprintf(&b, "\nUse the %s crate for this functionality: %s\n",
			rep.Library, strings.Join(rep.APIs, ", "))
	}

	if current := readModule(crateDir, module); current != "" {
		fmt.Fprintf(&b, "\nCurrent content of %s:\n%s\n", module, truncateLines(current, 200))
	}
	return b.String()
}

// calleeStatus splits a symbol's callees into already-converted paths and
// still-pending names.
func calleeStatus(t *symbol.Table, sym *symbol.Symbol, symMap SymbolMap) (converted []string, pending []string) {
	for _, callee := range sym.Calls {
		id, ok := t.Resolve(callee)
		if !ok {
			continue
		}
		target := t.Get(id)
		if entries, ok := symMap[target.Label()]; ok && len(entries) > 0 {
			converted = append(converted, callee+" -> "+cratePath(entries[0].Module, entries[0].RustSymbol))
		} else if target.Replaced() && target.LibReplacement != nil {
			converted = append(converted, callee+" -> "+target.LibReplacement.Library+" crate")
		} else {
			pending = append(pending, callee)
		}
	}
	sort.Strings(converted)
	sort.Strings(pending)
	return converted, pending
}

func fixPrompt(sym *symbol.Symbol, module, crateDir string, outcome cargo.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cargo %s failed while converting %s.\n", outcome.Mode, sym.Label())
	if len(outcome.Categories) > 0 {
		fmt.Fprintf(&b, "Failure categories: %s\n", strings.Join(cargo.CategoryStrings(outcome.Categories), ", "))
	}
	fmt.Fprintf(&b, "\nDiagnostics:\n%s\n", tail(outcome.Diagnostics, 4000))
	if current := readModule(crateDir, module); current != "" {
		fmt.Fprintf(&b, "\nContent of %s:\n%s\n", module, truncateLines(current, 250))
	}
	return b.String()
}

func reviewPrompt(sym *symbol.Symbol, module, crateDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original C/C++ function %s:\n%s\n", sym.Label(), truncateLines(symbol.SourceSpan(sym), 150))
	fmt.Fprintf(&b, "\nRust translation in %s:\n%s\n", module, truncateLines(readModule(crateDir, module), 250))
	return b.String()
}

func readModule(crateDir, module string) string {
	data, err := os.ReadFile(filepath.Join(crateDir, filepath.FromSlash(module)))
	if err != nil {
		return ""
	}
	return string(data)
}

// placeholder pattern: todo!("name") or todo!("name(args)").
func placeholderPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`todo!\("` + regexp.QuoteMeta(label) + `(?:\(([^"]*)\))?"\)`)
}

// rewritePlaceholders replaces todo!("<label>") placeholders under src/ with
// calls to the qualified implementation. Returns the changed files and their
// original contents for rollback.
func rewritePlaceholders(crateDir, label, qualified string) (changed []string, backups map[string][]byte, err error) {
	pattern := placeholderPattern(label)
	backups = make(map[string][]byte)

	srcDir := filepath.Join(crateDir, "src")
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info.IsDir() || !strings.HasSuffix(path, ".rs") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if !pattern.Match(data) {
			return nil
		}
		updated := pattern.ReplaceAllFunc(data, func(m []byte) []byte {
			sub := pattern.FindSubmatch(m)
			args := ""
			if len(sub) > 1 {
				args = string(sub[1])
			}
			return []byte(qualified + "(" + args + ")")
		})
		if err := os.WriteFile(path, updated, 0o644); err != nil {
			return err
		}
		backups[path] = data
		changed = append(changed, path)
		return nil
	})
	return changed, backups, err
}

func truncateLines(text string, limit int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= limit {
		return text
	}
	return strings.Join(lines[:limit], "\n") + "\n// ... truncated"
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
