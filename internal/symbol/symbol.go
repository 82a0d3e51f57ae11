// Package symbol defines the symbol table shared by every pipeline stage.
package symbol

import "strconv"

// Kind classifies a symbol as a function or a type
type Kind string

const (
	// KindFunction is a free function or method definition
	KindFunction Kind = "function"
	// KindType is a struct/union/enum/class or typedef declaration
	KindType Kind = "type"
)

// Param describes one function parameter as extracted from source
type Param struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// LibReplacement records the library replacement decision for a root symbol.
// It is attached by the evaluator and consumed downstream as context only.
type LibReplacement struct {
	Libraries  []string `json:"libraries"`
	Library    string   `json:"library,omitempty"` // preferred primary library
	APIs       []string `json:"apis,omitempty"`
	Confidence float64  `json:"confidence"`
	Notes      string   `json:"notes,omitempty"`
}

// Symbol is one function or type extracted from the scanned sources.
// IDs are unique and immutable once assigned.
type Symbol struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	QualifiedName string  `json:"qualified_name,omitempty"`
	Kind          Kind    `json:"category"`
	Language      string  `json:"language,omitempty"`
	File          string  `json:"file"`
	StartLine     int     `json:"start_line"`
	EndLine       int     `json:"end_line"`
	Signature     string  `json:"signature,omitempty"`
	Params        []Param `json:"params,omitempty"`
	ReturnType    string  `json:"return_type,omitempty"`

	// Calls holds direct callee names; Unresolved holds indirect call
	// targets (function pointers) that never block ordering.
	Calls      []string `json:"calls,omitempty"`
	Unresolved []string `json:"unresolved,omitempty"`

	// Refs is the active outbound reference list. After library replacement
	// a replaced root's refs are rewritten to "lib::<name>" markers.
	Refs []string `json:"ref,omitempty"`

	LibReplacement *LibReplacement `json:"lib_replacement,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// Label returns the best human-readable identifier for the symbol
func (s *Symbol) Label() string {
	if s.QualifiedName != "" {
		return s.QualifiedName
	}
	if s.Name != "" {
		return s.Name
	}
	return "sym_" + strconv.Itoa(s.ID)
}

// Replaced reports whether the symbol carries a library replacement
func (s *Symbol) Replaced() bool {
	return s.LibReplacement != nil
}
