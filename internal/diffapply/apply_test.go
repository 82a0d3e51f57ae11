package diffapply

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rustport/internal/errors"
)

func TestApplyCreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	patch := strings.Join([]string{
		"--- /dev/null",
		"+++ b/src/ported/util.rs",
		"@@ -0,0 +1,3 @@",
		"+pub fn add(a: i32, b: i32) -> i32 {",
		"+    a + b",
		"+}",
		"",
	}, "\n")

	res, err := Apply(dir, patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0] != "src/ported/util.rs" {
		t.Errorf("Files = %v", res.Files)
	}
	data, err := os.ReadFile(filepath.Join(dir, "src", "ported", "util.rs"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "pub fn add") {
		t.Errorf("written file = %q", data)
	}
}

func TestApplyModifiesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src", "lib.rs")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("pub mod a;\npub mod b;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := strings.Join([]string{
		"--- a/src/lib.rs",
		"+++ b/src/lib.rs",
		"@@ -1,2 +1,3 @@",
		" pub mod a;",
		" pub mod b;",
		"+pub mod c;",
		"",
	}, "\n")

	if _, err := Apply(dir, patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "pub mod c;") {
		t.Errorf("modified file = %q", data)
	}
}

func TestApplyRejectsContextMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src", "lib.rs")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("something else entirely\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := strings.Join([]string{
		"--- a/src/lib.rs",
		"+++ b/src/lib.rs",
		"@@ -1,1 +1,2 @@",
		" pub mod a;",
		"+pub mod b;",
		"",
	}, "\n")

	if _, err := Apply(dir, patch); err == nil {
		t.Fatal("stale diff applied cleanly")
	}
}

func TestApplyRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	patch := strings.Join([]string{
		"--- /dev/null",
		"+++ b/../outside.rs",
		"@@ -0,0 +1,1 @@",
		"+boom",
		"",
	}, "\n")

	_, err := Apply(dir, patch)
	if !errors.HasCode(err, errors.InvalidTargetPath) {
		t.Fatalf("Apply = %v, want INVALID_TARGET_PATH", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "outside.rs")); !os.IsNotExist(statErr) {
		t.Error("escaped file was written")
	}
}

func TestApplyRejectsGarbage(t *testing.T) {
	if _, err := Apply(t.TempDir(), "this is not a diff"); !errors.HasCode(err, errors.OracleMalformed) {
		t.Errorf("Apply = %v, want ORACLE_MALFORMED", err)
	}
}

func TestExtract(t *testing.T) {
	diffText := "--- a/src/lib.rs\n+++ b/src/lib.rs\n@@ -1,1 +1,1 @@\n-old\n+new\n"

	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{"fenced diff block", "Here is the fix:\n```diff\n" + diffText + "```\ndone", true},
		{"bare fence", "```\n" + diffText + "```", true},
		{"unfenced diff", "Apply this:\n" + diffText, true},
		{"prose only", "I could not produce a patch.", false},
		{"headers without hunks", "--- a/x\nsome prose", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.reply)
			if tt.want && !strings.HasPrefix(got, "--- a/src/lib.rs") {
				t.Errorf("Extract = %q", got)
			}
			if !tt.want && got != "" {
				t.Errorf("Extract = %q, want empty", got)
			}
		})
	}
}

func TestApplyMultiHunkLineShift(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src", "a.rs")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	original := strings.Join([]string{
		"fn one() {}",
		"fn two() {}",
		"fn three() {}",
		"fn four() {}",
		"fn five() {}",
		"fn six() {}",
		"fn seven() {}",
		"fn eight() {}",
		"fn nine() {}",
		"fn ten() {}",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	// The first hunk grows the file by two lines; the second hunk's position
	// is relative to the original content and must still land on line 8.
	patch := strings.Join([]string{
		"--- a/src/a.rs",
		"+++ b/src/a.rs",
		"@@ -1,2 +1,4 @@",
		"+use std::fmt;",
		"+",
		" fn one() {}",
		" fn two() {}",
		"@@ -7,3 +9,3 @@",
		" fn seven() {}",
		"-fn eight() {}",
		"+fn eight() { let _ = fmt::Error; }",
		" fn nine() {}",
		"",
	}, "\n")

	if _, err := Apply(dir, patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.HasPrefix(content, "use std::fmt;") {
		t.Errorf("first hunk not applied:\n%s", content)
	}
	if !strings.Contains(content, "fn eight() { let _ = fmt::Error; }") {
		t.Errorf("second hunk misapplied:\n%s", content)
	}
	if strings.Contains(content, "fn eight() {}\n") {
		t.Errorf("original line survived the edit:\n%s", content)
	}
}

func TestTargetsListsFilesWithoutWriting(t *testing.T) {
	patch := strings.Join([]string{
		"--- /dev/null",
		"+++ b/src/a.rs",
		"@@ -0,0 +1,1 @@",
		"+pub fn a() {}",
		"--- /dev/null",
		"+++ b/src/b.rs",
		"@@ -0,0 +1,1 @@",
		"+pub fn b() {}",
		"",
	}, "\n")

	files, err := Targets(patch)
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(files) != 2 || files[0] != "src/a.rs" || files[1] != "src/b.rs" {
		t.Errorf("Targets = %v", files)
	}

	if _, err := Targets("not a diff"); !errors.HasCode(err, errors.OracleMalformed) {
		t.Errorf("Targets(garbage) = %v, want ORACLE_MALFORMED", err)
	}
}
