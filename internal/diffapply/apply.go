// Package diffapply applies unified diffs produced by the oracle to the
// crate source tree.
package diffapply

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"rustport/internal/errors"
)

var (
	reDiffFence = regexp.MustCompile("(?s)```(?:diff|patch)?\\s*\\n(---.*?)```")
	reDiffBody  = regexp.MustCompile(`(?s)(---\s.*)`)
)

// Extract pulls a unified diff out of free-form oracle text: a fenced diff
// block when present, otherwise everything from the first file header on.
// Returns "" when no plausible diff is found.
func Extract(reply string) string {
	if m := reDiffFence.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := reDiffBody.FindStringSubmatch(reply); m != nil {
		body := strings.TrimSpace(m[1])
		if strings.Contains(body, "+++") && strings.Contains(body, "@@") {
			return body
		}
	}
	return ""
}

// Result summarizes one applied diff
type Result struct {
	Files []string // crate-relative paths touched
}

// Apply parses a unified (possibly multi-file) diff and applies it under
// crateDir. Paths escaping the crate are rejected before anything is
// written; a failing hunk aborts with the tree untouched for that file's
// remaining hunks but already-applied files kept. Callers verify with a
// build and repair or roll back at their own granularity.
func Apply(crateDir, patch string) (*Result, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, errors.Wrap(errors.OracleMalformed, "unparseable diff", err)
	}
	if len(fileDiffs) == 0 {
		return nil, errors.New(errors.OracleMalformed, "diff contains no files")
	}

	res := &Result{}
	for _, fd := range fileDiffs {
		rel := targetPath(fd)
		if rel == "" {
			return res, errors.New(errors.OracleMalformed, "diff entry without a target file")
		}
		abs, err := securePath(crateDir, rel)
		if err != nil {
			return res, err
		}
		if err := applyFileDiff(abs, fd); err != nil {
			return res, errors.Wrap(errors.InternalError, "applying diff to "+rel, err).WithUnit(rel)
		}
		res.Files = append(res.Files, rel)
	}
	return res, nil
}

// Targets parses the diff and returns the crate-relative files it would
// touch, without writing anything. Callers that constrain a diff to known
// files check this list before Apply.
func Targets(patch string) ([]string, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, errors.Wrap(errors.OracleMalformed, "unparseable diff", err)
	}
	if len(fileDiffs) == 0 {
		return nil, errors.New(errors.OracleMalformed, "diff contains no files")
	}
	files := make([]string, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		rel := targetPath(fd)
		if rel == "" {
			return nil, errors.New(errors.OracleMalformed, "diff entry without a target file")
		}
		files = append(files, rel)
	}
	return files, nil
}

// targetPath picks the post-image path, stripping the conventional a/ b/
// prefixes.
func targetPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "b/")
	name = strings.TrimPrefix(name, "a/")
	if name == "/dev/null" {
		return ""
	}
	return name
}

func securePath(crateDir, rel string) (string, error) {
	abs := filepath.Join(crateDir, rel)
	cleanRoot, err := filepath.Abs(crateDir)
	if err != nil {
		return "", err
	}
	cleanAbs, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if cleanAbs != cleanRoot && !strings.HasPrefix(cleanAbs, cleanRoot+string(filepath.Separator)) {
		return "", errors.New(errors.InvalidTargetPath, "diff targets a path outside the crate: "+rel)
	}
	return cleanAbs, nil
}

func applyFileDiff(path string, fd *diff.FileDiff) error {
	var lines []string
	exists := true
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		exists = false
	} else {
		lines = strings.Split(string(data), "\n")
	}
	if fd.OrigName == "/dev/null" && exists {
		// New-file diff against an existing file: fall through, the hunk
		// context check below will catch real conflicts.
		exists = true
	}

	offset := 0
	for _, hunk := range fd.Hunks {
		before := len(lines)
		var err error
		lines, err = applyHunk(lines, hunk, offset)
		if err != nil {
			return err
		}
		offset += len(lines) - before
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// applyHunk splices one hunk into lines. offset is the line-count delta left
// by hunks already applied to the same file; hunk positions are relative to
// the original content, so later hunks shift by it. Context and deletion
// lines must match the current content exactly; a mismatch is a conflict.
func applyHunk(lines []string, hunk *diff.Hunk, offset int) ([]string, error) {
	body := strings.Split(strings.TrimSuffix(string(hunk.Body), "\n"), "\n")
	start := int(hunk.OrigStartLine) - 1 + offset
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		return nil, fmt.Errorf("hunk start %d beyond end of file (%d lines)", hunk.OrigStartLine, len(lines))
	}

	out := make([]string, 0, len(lines)+len(body))
	out = append(out, lines[:start]...)
	cursor := start

	for _, raw := range body {
		if raw == "" {
			continue
		}
		op, text := raw[0], raw[1:]
		switch op {
		case ' ':
			if cursor >= len(lines) || lines[cursor] != text {
				return nil, fmt.Errorf("context mismatch at line %d", cursor+1)
			}
			out = append(out, text)
			cursor++
		case '-':
			if cursor >= len(lines) || lines[cursor] != text {
				return nil, fmt.Errorf("deletion mismatch at line %d", cursor+1)
			}
			cursor++
		case '+':
			out = append(out, text)
		case '\\':
			// "\ No newline at end of file" markers carry no content
		default:
			return nil, fmt.Errorf("unrecognized hunk line %q", raw)
		}
	}

	out = append(out, lines[cursor:]...)
	return out, nil
}
