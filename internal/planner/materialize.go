package planner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"rustport/internal/replacer"
)

// manifest is the subset of Cargo.toml the planner writes.
type manifest struct {
	Package      manifestPackage   `toml:"package"`
	Dependencies map[string]string `toml:"dependencies,omitempty"`
}

type manifestPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Edition string `toml:"edition"`
}

// Materialize creates the crate skeleton for the plan: Cargo.toml, src/lib.rs,
// one stub file per module and the mod declaration chain wiring each module
// into the crate root. Everything is idempotent; existing files and existing
// declarations are left alone.
func (p *Planner) Materialize(crateDir string, plan *Plan, reps []replacer.Replacement) error {
	if err := os.MkdirAll(filepath.Join(crateDir, "src"), 0o755); err != nil {
		return err
	}
	if err := ensureManifest(crateDir, reps); err != nil {
		return err
	}
	libPath := filepath.Join(crateDir, "src", "lib.rs")
	if _, err := os.Stat(libPath); os.IsNotExist(err) {
		if err := os.WriteFile(libPath, []byte("//! Ported crate root.\n"), 0o644); err != nil {
			return err
		}
	}

	for _, module := range plan.Modules {
		abs := filepath.Join(crateDir, filepath.FromSlash(module))
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			if err := writeStub(abs); err != nil {
				return err
			}
		}
		if err := wireModuleChain(crateDir, module); err != nil {
			return err
		}
	}
	return nil
}

// ensureManifest writes Cargo.toml when absent. Accepted library
// replacements become dependencies so their crates resolve from the first
// build.
func ensureManifest(crateDir string, reps []replacer.Replacement) error {
	path := filepath.Join(crateDir, "Cargo.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	deps := make(map[string]string)
	for _, rep := range reps {
		for _, lib := range rep.Libraries {
			lib = strings.TrimSpace(lib)
			if lib != "" {
				deps[lib] = "*"
			}
		}
	}
	m := manifest{
		Package: manifestPackage{
			Name:    crateName(crateDir),
			Version: "0.1.0",
			Edition: "2021",
		},
		Dependencies: deps,
	}
	data, err := toml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func crateName(crateDir string) string {
	abs, err := filepath.Abs(crateDir)
	if err != nil {
		abs = crateDir
	}
	name := sanitizeIdent(filepath.Base(abs))
	if name == "" {
		name = "ported"
	}
	return name
}

func writeStub(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("//! module stub\n"), 0o644)
}

// wireModuleChain adds the pub mod declarations from src/lib.rs down to the
// module file, creating intermediate mod.rs files as needed. For
// src/net/http.rs this yields "pub mod net;" in lib.rs and "pub mod http;"
// in src/net/mod.rs.
func wireModuleChain(crateDir, module string) error {
	rel := strings.TrimPrefix(module, "src/")
	parts := strings.Split(rel, "/")

	parent := filepath.Join(crateDir, "src", "lib.rs")
	dir := filepath.Join(crateDir, "src")
	for i, part := range parts {
		name := part
		if i == len(parts)-1 {
			name = strings.TrimSuffix(part, ".rs")
		}
		if name == "" {
			continue
		}
		if err := ensureModDeclaration(parent, name); err != nil {
			return err
		}
		if i == len(parts)-1 {
			break
		}
		dir = filepath.Join(dir, part)
		parent = filepath.Join(dir, "mod.rs")
		if _, err := os.Stat(parent); os.IsNotExist(err) {
			if err := writeStub(parent); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureModDeclaration appends "pub mod <name>;" to file unless a mod
// declaration for name is already present.
func ensureModDeclaration(file, name string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := writeStub(file); err != nil {
			return err
		}
		data = nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "pub mod "+name+";" || trimmed == "mod "+name+";" {
			return nil
		}
	}
	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "pub mod " + name + ";\n"
	return os.WriteFile(file, []byte(content), 0o644)
}

// EnsureModule creates the module file and its mod declaration chain when
// they do not exist yet. The transpiler calls this before writing into a
// module the plan did not anticipate.
func EnsureModule(crateDir, module string) error {
	path, err := ValidateModulePath(module)
	if err != nil {
		return err
	}
	abs := filepath.Join(crateDir, filepath.FromSlash(path))
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := writeStub(abs); err != nil {
			return err
		}
	}
	return wireModuleChain(crateDir, path)
}

// ModuleForSymbol returns the planned module whose stem matches the symbol's
// source file, or empty when nothing matches. Used by the transpiler's
// fallback placement.
func (p *Plan) ModuleForSymbol(sourceFile string) string {
	stem := sanitizeIdent(strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile)))
	for _, m := range p.Modules {
		base := strings.TrimSuffix(filepath.Base(m), ".rs")
		if base == stem {
			return m
		}
	}
	return ""
}

// SortedModules returns the plan's modules in deterministic order.
func (p *Plan) SortedModules() []string {
	out := append([]string(nil), p.Modules...)
	sort.Strings(out)
	return out
}
