// Package planner derives the target crate's module layout, materializes it
// on disk and verifies that the empty skeleton builds.
package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rustport/internal/cargo"
	"rustport/internal/errors"
	"rustport/internal/logging"
	"rustport/internal/oracle"
	"rustport/internal/replacer"
	"rustport/internal/symbol"
)

// maxRepairs bounds the mechanical fix-and-recheck loop after a failed
// skeleton build. The planner never re-plans; it only patches module wiring.
const maxRepairs = 5

const planSystemPrompt = `You design the module layout of a Rust crate that will
receive a ported C/C++ codebase. Group related functionality into modules
under src/. Do not propose src/main.rs; the crate is built as a library.`

const planAnswerShape = `Answer with a yaml block:
<yaml>
modules:
  - src/<dir>/<file>.rs
  - ...
</yaml>`

// Plan is the validated module layout.
type Plan struct {
	Modules []string // crate-relative .rs paths under src/
}

// Planner owns stage 3.
type Planner struct {
	orc    oracle.Oracle
	runner cargo.Runner
	log    *logging.Logger
}

// New creates a planner
func New(orc oracle.Oracle, runner cargo.Runner, log *logging.Logger) *Planner {
	return &Planner{orc: orc, runner: runner, log: log}
}

// Plan asks the oracle for a layout once, validates it, materializes the
// skeleton under crateDir and verifies it with cargo check. Oracle failure
// falls back to a flat layout derived from the source file stems, so the
// pipeline always leaves this stage with a building crate or an error.
func (p *Planner) Plan(ctx context.Context, t *symbol.Table, reps []replacer.Replacement, crateDir string) (*Plan, error) {
	modules := p.layoutFromOracle(ctx, t)
	if len(modules) == 0 {
		modules = defaultLayout(t)
		p.log.Info("using fallback flat layout", logging.Fields{"modules": len(modules)})
	}

	plan := &Plan{Modules: modules}
	if err := p.Materialize(crateDir, plan, reps); err != nil {
		return nil, err
	}
	if err := p.verify(ctx, crateDir); err != nil {
		return nil, err
	}
	return plan, nil
}

// layoutFromOracle returns the validated module list, or nil when the oracle
// fails or proposes nothing usable.
func (p *Planner) layoutFromOracle(ctx context.Context, t *symbol.Table) []string {
	reply, err := p.orc.Complete(ctx, oracle.Request{
		Kind:    oracle.TaskPlanStructure,
		System:  planSystemPrompt,
		Prompt:  layoutPrompt(t),
		Summary: planAnswerShape,
	})
	if err != nil {
		p.log.Warn("structure planning call failed", logging.Fields{"error": err.Error()})
		return nil
	}
	dec := oracle.ParseDecision(reply)
	if dec.State != oracle.ParsedDecision {
		p.log.Warn("malformed structure plan", nil)
		return nil
	}

	var modules []string
	seen := make(map[string]bool)
	for _, m := range dec.StringList("modules") {
		path, err := ValidateModulePath(m)
		if err != nil {
			p.log.Warn("dropping invalid module path", logging.Fields{
				"path":  m,
				"error": err.Error(),
			})
			continue
		}
		if !seen[path] {
			seen[path] = true
			modules = append(modules, path)
		}
	}
	return modules
}

// ValidateModulePath normalizes and checks one proposed module path.
func ValidateModulePath(raw string) (string, error) {
	path := filepath.ToSlash(filepath.Clean(strings.TrimSpace(raw)))
	switch {
	case path == "" || strings.HasPrefix(path, ".."):
		return "", errors.New(errors.InvalidTargetPath, "path escapes the crate")
	case !strings.HasPrefix(path, "src/"):
		return "", errors.New(errors.InvalidTargetPath, "module must live under src/")
	case !strings.HasSuffix(path, ".rs"):
		return "", errors.New(errors.InvalidTargetPath, "module must be a .rs file")
	case path == "src/main.rs" || path == "src/lib.rs":
		return "", errors.New(errors.InvalidTargetPath, "crate entry files are managed, not planned")
	}
	return path, nil
}

// defaultLayout maps every scanned source file stem to one flat module.
func defaultLayout(t *symbol.Table) []string {
	seen := make(map[string]bool)
	var modules []string
	for _, s := range t.Symbols() {
		if s.Kind != symbol.KindFunction || s.File == "" {
			continue
		}
		stem := sanitizeIdent(strings.TrimSuffix(filepath.Base(s.File), filepath.Ext(s.File)))
		if stem == "" {
			continue
		}
		path := "src/ported/" + stem + ".rs"
		if !seen[path] {
			seen[path] = true
			modules = append(modules, path)
		}
	}
	sort.Strings(modules)
	return modules
}

// layoutPrompt summarizes what the crate must hold.
func layoutPrompt(t *symbol.Table) string {
	byFile := make(map[string][]string)
	for _, s := range t.Symbols() {
		if s.Kind != symbol.KindFunction {
			continue
		}
		byFile[s.File] = append(byFile[s.File], s.Label())
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	var b strings.Builder
	fmt.Fprintf(&b, "The codebase has %d symbols across %d files:\n\n", t.Len(), len(files))
	for _, f := range files {
		names := byFile[f]
		sort.Strings(names)
		if len(names) > 12 {
			names = append(names[:12], "...")
		}
		fmt.Fprintf(&b, "%s: %s\n", f, strings.Join(names, ", "))
	}
	return b.String()
}

// verify runs cargo check and repairs module wiring mechanically: a missing
// mod declaration is added, a missing stub file is created. After maxRepairs
// the skeleton is declared broken.
func (p *Planner) verify(ctx context.Context, crateDir string) error {
	for attempt := 0; ; attempt++ {
		outcome := p.runner.Run(ctx, crateDir, cargo.ModeCheck)
		if outcome.OK {
			return nil
		}
		if attempt >= maxRepairs {
			return errors.New(errors.BuildFailed, "crate skeleton does not build after mechanical repairs").
				WithDetails(tail(outcome.Diagnostics, 2000))
		}
		if !p.repair(crateDir, outcome.Diagnostics) {
			return errors.New(errors.BuildFailed, "crate skeleton failure is not mechanically repairable").
				WithDetails(tail(outcome.Diagnostics, 2000))
		}
	}
}

// repair applies one round of mechanical fixes; reports whether anything
// changed.
func (p *Planner) repair(crateDir, diagnostics string) bool {
	changed := false
	for _, name := range missingModules(diagnostics) {
		stub := filepath.Join(crateDir, "src", name+".rs")
		if _, err := os.Stat(stub); os.IsNotExist(err) {
			if err := writeStub(stub); err == nil {
				changed = true
				p.log.Info("created missing module stub", logging.Fields{"module": name})
				continue
			}
		}
		if err := ensureModDeclaration(filepath.Join(crateDir, "src", "lib.rs"), name); err == nil {
			changed = true
		}
	}
	return changed
}

// missingModules pulls module names out of "file not found for module `x`"
// and "unresolved module" diagnostics.
func missingModules(diagnostics string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(diagnostics, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "file not found for module") &&
			!strings.Contains(lower, "unresolved module") {
			continue
		}
		start := strings.Index(line, "`")
		if start < 0 {
			continue
		}
		rest := line[start+1:]
		end := strings.Index(rest, "`")
		if end <= 0 {
			continue
		}
		name := rest[:end]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "m_" + out
	}
	return out
}
