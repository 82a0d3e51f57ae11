package checkpoint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Archive compresses a superseded state file into <dataDir>/archive/ before
// it is replaced, preserving the audit trail without keeping full-size
// copies of every generation of the symbol table.
func Archive(dataDir, path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	archDir := filepath.Join(dataDir, "archive")
	if err := os.MkdirAll(archDir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	dstPath := filepath.Join(archDir, fmt.Sprintf("%s.%s.zst", filepath.Base(path), stamp))

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	enc, err := zstd.NewWriter(dst)
	if err != nil {
		_ = dst.Close()
		return "", err
	}
	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		_ = dst.Close()
		return "", err
	}
	if err := enc.Close(); err != nil {
		_ = dst.Close()
		return "", err
	}
	return dstPath, dst.Close()
}

// ReadArchived decompresses an archived state file into memory.
func ReadArchived(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
