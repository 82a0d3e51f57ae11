package scanner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// compileCommand is one entry of a clang compilation database. Only the
// fields the scanner needs are decoded.
type compileCommand struct {
	Directory string `json:"directory"`
	File      string `json:"file"`
}

// loadCompileCommands reads a compile_commands.json and returns the absolute
// paths of the translation units it lists. Entries pointing at missing files
// or unrecognized extensions are dropped silently; build systems routinely
// list generated sources that no longer exist.
func loadCompileCommands(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []compileCommand
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	var files []string
	for _, e := range entries {
		if e.File == "" {
			continue
		}
		p := e.File
		if !filepath.IsAbs(p) && e.Directory != "" {
			p = filepath.Join(e.Directory, p)
		}
		if !sourceExtensions[strings.ToLower(filepath.Ext(p))] {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	return files, nil
}
