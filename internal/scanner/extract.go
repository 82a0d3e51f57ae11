//go:build cgo

package scanner

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"

	"rustport/internal/errors"
	"rustport/internal/symbol"
)

func extractorAvailable() bool {
	return true
}

// languageFor maps a file extension to a grammar. Plain .h headers are
// parsed as C; the C++ grammar handles the rest.
func languageFor(path string) (*sitter.Language, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".h":
		return c.GetLanguage(), "c"
	case ".cc", ".cpp", ".cxx", ".hpp", ".hh":
		return cpp.GetLanguage(), "cpp"
	default:
		return nil, ""
	}
}

// extractFile parses one source file and returns its definitions.
func extractFile(ctx context.Context, path string, source []byte) ([]rawSymbol, error) {
	lang, langName := languageFor(path)
	if lang == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, errors.Wrap(errors.ParseFailed, "tree-sitter parse of "+path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, errors.New(errors.ParseFailed, "empty parse tree for "+path)
	}

	var out []rawSymbol
	walk(root, func(node *sitter.Node) bool {
		switch node.Type() {
		case "function_definition":
			if sym, ok := extractFunction(node, source, path, langName); ok {
				out = append(out, sym)
			}
			return false // calls inside are collected by extractFunction
		case "struct_specifier", "union_specifier", "enum_specifier", "class_specifier":
			if sym, ok := extractTypeSpecifier(node, source, path, langName); ok {
				out = append(out, sym)
			}
			return true // nested types inside class bodies are still definitions
		case "type_definition":
			if sym, ok := extractTypedef(node, source, path, langName); ok {
				out = append(out, sym)
			}
			return false
		}
		return true
	})
	return out, nil
}

func extractFunction(node *sitter.Node, source []byte, path, lang string) (rawSymbol, bool) {
	decl := functionDeclarator(node.ChildByFieldName("declarator"))
	if decl == nil {
		return rawSymbol{}, false
	}
	nameNode := decl.ChildByFieldName("declarator")
	if nameNode == nil {
		return rawSymbol{}, false
	}
	name := nodeText(nameNode, source)
	qualified := ""
	if strings.Contains(name, "::") {
		qualified = name
		if idx := strings.LastIndex(name, "::"); idx >= 0 {
			name = name[idx+2:]
		}
	}
	if name == "" {
		return rawSymbol{}, false
	}

	sym := rawSymbol{
		Name:          name,
		QualifiedName: qualified,
		Kind:          symbol.KindFunction,
		Language:      lang,
		File:          path,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		Signature:     firstLine(node, source),
		ReturnType:    returnType(node, source),
		Params:        parameters(decl, source),
	}
	if body := node.ChildByFieldName("body"); body != nil {
		sym.Calls, sym.Unresolved = collectCalls(body, source)
	}
	return sym, true
}

// functionDeclarator unwraps pointer/reference declarators down to the
// function_declarator carrying the name and parameter list.
func functionDeclarator(node *sitter.Node) *sitter.Node {
	for node != nil {
		switch node.Type() {
		case "function_declarator":
			return node
		case "pointer_declarator", "reference_declarator", "parenthesized_declarator":
			node = node.ChildByFieldName("declarator")
			if node == nil {
				return nil
			}
		default:
			return nil
		}
	}
	return nil
}

func returnType(node *sitter.Node, source []byte) string {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return ""
	}
	ret := nodeText(typeNode, source)
	// Pointer returns hang off the declarator, not the type node.
	d := node.ChildByFieldName("declarator")
	for d != nil && d.Type() == "pointer_declarator" {
		ret += "*"
		d = d.ChildByFieldName("declarator")
	}
	return ret
}

func parameters(decl *sitter.Node, source []byte) []symbol.Param {
	list := decl.ChildByFieldName("parameters")
	if list == nil {
		return nil
	}
	var params []symbol.Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		child := list.NamedChild(i)
		if child == nil || child.Type() != "parameter_declaration" {
			continue
		}
		p := symbol.Param{}
		if t := child.ChildByFieldName("type"); t != nil {
			p.Type = nodeText(t, source)
		}
		if d := child.ChildByFieldName("declarator"); d != nil {
			declText := nodeText(d, source)
			p.Name = innermostIdentifier(d, source)
			// Pointer and array shape lives in the declarator.
			if stars := strings.Count(declText, "*"); stars > 0 {
				p.Type += strings.Repeat("*", stars)
			}
			if strings.Contains(declText, "[") {
				p.Type += "[]"
			}
		}
		if p.Type == "" && p.Name == "" {
			continue
		}
		params = append(params, p)
	}
	return params
}

func innermostIdentifier(node *sitter.Node, source []byte) string {
	name := ""
	walk(node, func(n *sitter.Node) bool {
		switch n.Type() {
		case "identifier", "field_identifier", "type_identifier":
			name = nodeText(n, source)
		}
		return true
	})
	return name
}

// collectCalls gathers callee names in a function body. Direct calls by
// identifier land in calls; calls through pointers, members or other
// expressions are unresolved and never block ordering.
func collectCalls(body *sitter.Node, source []byte) (calls, unresolved []string) {
	seenCall := make(map[string]bool)
	seenUnres := make(map[string]bool)
	walk(body, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		switch fn.Type() {
		case "identifier", "qualified_identifier", "template_function":
			name := nodeText(fn, source)
			if !seenCall[name] {
				seenCall[name] = true
				calls = append(calls, name)
			}
		case "field_expression":
			// Method and member-pointer calls: keep the field name so it
			// can still resolve against in-table method definitions.
			if field := fn.ChildByFieldName("field"); field != nil {
				name := nodeText(field, source)
				if !seenCall[name] {
					seenCall[name] = true
					calls = append(calls, name)
				}
			}
		default:
			expr := nodeText(fn, source)
			if expr != "" && !seenUnres[expr] {
				seenUnres[expr] = true
				unresolved = append(unresolved, expr)
			}
		}
		return true
	})
	return calls, unresolved
}

func extractTypeSpecifier(node *sitter.Node, source []byte, path, lang string) (rawSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	bodyNode := node.ChildByFieldName("body")
	if nameNode == nil || bodyNode == nil {
		return rawSymbol{}, false // forward declaration or anonymous use
	}
	return rawSymbol{
		Name:      nodeText(nameNode, source),
		Kind:      symbol.KindType,
		Language:  lang,
		File:      path,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Signature: firstLine(node, source),
	}, true
}

func extractTypedef(node *sitter.Node, source []byte, path, lang string) (rawSymbol, bool) {
	decl := node.ChildByFieldName("declarator")
	if decl == nil {
		return rawSymbol{}, false
	}
	name := innermostIdentifier(decl, source)
	if name == "" {
		return rawSymbol{}, false
	}
	return rawSymbol{
		Name:      name,
		Kind:      symbol.KindType,
		Language:  lang,
		File:      path,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Signature: firstLine(node, source),
	}, true
}

// firstLine returns the definition text up to the first newline or opening
// brace, the same truncation the human-readable signature uses everywhere.
func firstLine(node *sitter.Node, source []byte) string {
	text := source[node.StartByte():node.EndByte()]
	for i, b := range text {
		if b == '\n' || b == '{' {
			return strings.TrimSpace(string(text[:i]))
		}
	}
	if len(text) > 200 {
		return strings.TrimSpace(string(text[:200])) + "..."
	}
	return strings.TrimSpace(string(text))
}

func nodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// walk visits node and, when fn returns true, its named children.
func walk(node *sitter.Node, fn func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), fn)
	}
}
