// Package vcs wraps the git operations the optimizer uses for snapshot and
// rollback.
package vcs

import (
	"os/exec"
	"strings"
)

// IsRepository reports whether dir is inside a git work tree
func IsRepository(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// Toplevel returns the repository root containing dir
func Toplevel(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// HeadCommit returns the current HEAD commit hash
func HeadCommit(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitAll stages everything under dir and commits with the given message.
// A clean tree is not an error; the current HEAD already is the snapshot.
func CommitAll(dir, message string) error {
	add := exec.Command("git", "add", "-A")
	add.Dir = dir
	if err := add.Run(); err != nil {
		return err
	}
	commit := exec.Command("git", "commit", "-m", message, "--allow-empty")
	commit.Dir = dir
	return commit.Run()
}

// ResetHard discards everything after the given commit
func ResetHard(dir, commit string) error {
	cmd := exec.Command("git", "reset", "--hard", commit)
	cmd.Dir = dir
	return cmd.Run()
}

// Dirty reports whether the work tree has uncommitted changes
func Dirty(dir string) bool {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) != ""
}
