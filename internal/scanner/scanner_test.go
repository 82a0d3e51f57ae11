package scanner

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"rustport/internal/config"
	"rustport/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel, Output: &bytes.Buffer{}})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFilesWalksRoots(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.c"), "int main(void) { return 0; }\n")
	writeFile(t, filepath.Join(root, "lib", "util.cpp"), "")
	writeFile(t, filepath.Join(root, "lib", "util.hpp"), "")
	writeFile(t, filepath.Join(root, "README.md"), "docs\n")
	writeFile(t, filepath.Join(root, ".git", "objects.c"), "not source\n")
	writeFile(t, filepath.Join(root, "build", "gen.c"), "generated\n")

	s := New(config.ScanConfig{Ignore: []string{"build"}}, testLogger())
	files, err := s.DiscoverFiles([]string{root}, "")
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v, want main.c, util.cpp, util.hpp", files)
	}
	for _, f := range files {
		base := filepath.Base(f)
		if base == "README.md" || base == "objects.c" || base == "gen.c" {
			t.Errorf("unexpected file discovered: %s", f)
		}
	}
}

func TestDiscoverFilesPrefersCompileCommands(t *testing.T) {
	root := t.TempDir()
	listed := filepath.Join(root, "a.c")
	unlisted := filepath.Join(root, "b.c")
	writeFile(t, listed, "")
	writeFile(t, unlisted, "")

	db := []compileCommand{{Directory: root, File: "a.c"}}
	data, _ := json.Marshal(db)
	dbPath := filepath.Join(root, "compile_commands.json")
	if err := os.WriteFile(dbPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(config.ScanConfig{}, testLogger())
	files, err := s.DiscoverFiles([]string{root}, dbPath)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(files) != 1 || files[0] != listed {
		t.Errorf("files = %v, want only %s", files, listed)
	}
}

func TestDiscoverFilesFallsBackOnBadDatabase(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.c"), "")
	dbPath := filepath.Join(root, "compile_commands.json")
	if err := os.WriteFile(dbPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(config.ScanConfig{}, testLogger())
	files, err := s.DiscoverFiles([]string{root}, dbPath)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("files = %v, want the walked a.c", files)
	}
}

func TestLoadCompileCommandsFiltersEntries(t *testing.T) {
	root := t.TempDir()
	kept := filepath.Join(root, "x.cc")
	writeFile(t, kept, "")

	db := []compileCommand{
		{Directory: root, File: "x.cc"},
		{Directory: root, File: "x.cc"},            // duplicate
		{Directory: root, File: "missing.c"},       // listed but deleted
		{Directory: root, File: "notes.txt"},       // wrong extension
		{Directory: "", File: ""},                  // empty entry
	}
	data, _ := json.Marshal(db)
	dbPath := filepath.Join(root, "compile_commands.json")
	if err := os.WriteFile(dbPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := loadCompileCommands(dbPath)
	if err != nil {
		t.Fatalf("loadCompileCommands: %v", err)
	}
	if len(files) != 1 || files[0] != kept {
		t.Errorf("files = %v, want [%s]", files, kept)
	}
}
