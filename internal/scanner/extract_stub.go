//go:build !cgo

package scanner

import (
	"context"

	"rustport/internal/errors"
)

func extractorAvailable() bool {
	return false
}

// extractFile reports extraction as unavailable. Tree-sitter grammars are
// C libraries and need cgo.
func extractFile(ctx context.Context, path string, source []byte) ([]rawSymbol, error) {
	return nil, errors.New(errors.ParseFailed, "symbol extraction requires a cgo-enabled build")
}
