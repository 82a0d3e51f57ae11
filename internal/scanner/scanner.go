// Package scanner extracts functions and type declarations from C/C++
// sources into the shared symbol table.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rustport/internal/config"
	"rustport/internal/logging"
	"rustport/internal/symbol"
)

// sourceExtensions are the file types the scanner recognizes when walking
// source roots.
var sourceExtensions = map[string]bool{
	".c":   true,
	".h":   true,
	".cc":  true,
	".cpp": true,
	".cxx": true,
	".hpp": true,
	".hh":  true,
}

// rawSymbol is the extraction result for one definition before ID assignment.
type rawSymbol struct {
	Name          string
	QualifiedName string
	Kind          symbol.Kind
	Language      string
	File          string
	StartLine     int
	EndLine       int
	Signature     string
	Params        []symbol.Param
	ReturnType    string
	Calls         []string
	Unresolved    []string
}

// Scanner walks source roots and produces the symbol table.
type Scanner struct {
	cfg config.ScanConfig
	log *logging.Logger
}

// New creates a scanner
func New(cfg config.ScanConfig, log *logging.Logger) *Scanner {
	return &Scanner{cfg: cfg, log: log}
}

// Available reports whether the tree-sitter extractor was compiled in.
func Available() bool {
	return extractorAvailable()
}

// Scan extracts all symbols under the given roots. When a
// compile_commands.json path is supplied its file list narrows the scan;
// files that fail to parse are skipped with a warning, never aborting the
// run.
func (s *Scanner) Scan(ctx context.Context, roots []string, compileCommands string) (*symbol.Table, error) {
	files, err := s.DiscoverFiles(roots, compileCommands)
	if err != nil {
		return nil, err
	}

	table := symbol.NewTable()
	nextID := 1
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raws, err := s.scanFile(ctx, path)
		if err != nil {
			s.log.Warn("skipping unparseable file", logging.Fields{
				"file":  path,
				"error": err.Error(),
			})
			continue
		}
		for _, r := range raws {
			sym := &symbol.Symbol{
				ID:            nextID,
				Name:          r.Name,
				QualifiedName: r.QualifiedName,
				Kind:          r.Kind,
				Language:      r.Language,
				File:          r.File,
				StartLine:     r.StartLine,
				EndLine:       r.EndLine,
				Signature:     r.Signature,
				Params:        r.Params,
				ReturnType:    r.ReturnType,
				Calls:         r.Calls,
				Unresolved:    r.Unresolved,
			}
			if err := table.Add(sym); err != nil {
				return nil, err
			}
			nextID++
		}
	}

	resolveCalls(table)
	if err := table.Validate(); err != nil {
		return nil, err
	}
	s.log.Info("scan complete", logging.Fields{
		"files":   len(files),
		"symbols": table.Len(),
	})
	return table, nil
}

func (s *Scanner) scanFile(ctx context.Context, path string) ([]rawSymbol, error) {
	if s.cfg.MaxFileSizeKB > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > int64(s.cfg.MaxFileSizeKB)*1024 {
			s.log.Warn("skipping oversized file", logging.Fields{"file": path})
			return nil, nil
		}
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return extractFile(ctx, path, source)
}

// DiscoverFiles resolves the file set to scan. compile_commands.json, when
// readable, restricts the set to the files it lists; otherwise the source
// roots are walked for recognized extensions.
func (s *Scanner) DiscoverFiles(roots []string, compileCommands string) ([]string, error) {
	if compileCommands != "" {
		files, err := loadCompileCommands(compileCommands)
		if err != nil {
			s.log.Warn("ignoring unreadable compile_commands.json", logging.Fields{
				"path":  compileCommands,
				"error": err.Error(),
			})
		} else if len(files) > 0 {
			sort.Strings(files)
			return files, nil
		}
	}

	ignored := make(map[string]bool, len(s.cfg.Ignore))
	for _, name := range s.cfg.Ignore {
		ignored[name] = true
	}

	seen := make(map[string]bool)
	var files []string
	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if info.IsDir() {
				name := info.Name()
				if path != root && (strings.HasPrefix(name, ".") || ignored[name]) {
					return filepath.SkipDir
				}
				return nil
			}
			if !sourceExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// resolveCalls splits each function's callee list into in-table calls and
// unresolved externals. Edges that stay in Calls always resolve, which is
// the invariant Validate enforces.
func resolveCalls(t *symbol.Table) {
	for _, sym := range t.Symbols() {
		if sym.Kind != symbol.KindFunction {
			continue
		}
		var resolved []string
		unresolved := sym.Unresolved
		for _, callee := range sym.Calls {
			if callee == sym.Name || callee == sym.QualifiedName {
				continue // self-recursion carries no ordering information
			}
			if _, ok := t.Resolve(callee); ok {
				resolved = append(resolved, callee)
			} else {
				unresolved = appendUnique(unresolved, callee)
			}
		}
		sym.Calls = resolved
		sym.Unresolved = unresolved
		sym.Refs = append([]string(nil), resolved...)
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
