// Package checkpoint persists signature-guarded stage state so any stage can
// resume after interruption without repeating completed work.
package checkpoint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Signature derives a resumption key from the inputs that produced a
// checkpoint. Parts are hashed in sorted key order so map iteration never
// changes the key.
func Signature(parts map[string]string) string {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, parts[k])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// FileSignature hashes a file's contents; missing files hash to the empty
// string so "input absent" is itself a distinct signature part.
func FileSignature(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// envelope wraps persisted state with its resumption key.
type envelope struct {
	Key     string          `json:"key"`
	SavedAt string          `json:"saved_at"`
	State   json.RawMessage `json:"state"`
}

// Store reads and writes one checkpoint file. Writes are snapshot-then-replace.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location
func (s *Store) Path() string { return s.path }

// Save persists state under the given resumption key, atomically.
func (s *Store) Save(key string, state interface{}) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	env := envelope{
		Key:     key,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		State:   raw,
	}
	data, err := json.MarshalIndent(&env, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load restores state only when the stored resumption key matches key.
// A missing file, damaged JSON or stale key all report ok=false; the caller
// restarts the stage from scratch in every one of those cases.
func (s *Store) Load(key string, state interface{}) (ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, nil
	}
	if env.Key != key {
		return false, nil
	}
	if err := json.Unmarshal(env.State, state); err != nil {
		return false, nil
	}
	return true, nil
}

// Clear removes the checkpoint file once the stage completes
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
