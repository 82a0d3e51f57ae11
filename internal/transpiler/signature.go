package transpiler

import (
	"strconv"
	"strings"

	"rustport/internal/symbol"
)

// numeric and standard scalar mappings, width-preserving.
var scalarTypes = map[string]string{
	"void":               "()",
	"bool":               "bool",
	"_Bool":              "bool",
	"char":               "i8",
	"signed char":        "i8",
	"unsigned char":      "u8",
	"short":              "i16",
	"short int":          "i16",
	"unsigned short":     "u16",
	"int":                "i32",
	"unsigned":           "u32",
	"unsigned int":       "u32",
	"long":               "i64",
	"long int":           "i64",
	"unsigned long":      "u64",
	"long long":          "i64",
	"unsigned long long": "u64",
	"float":              "f32",
	"double":             "f64",
	"long double":        "f64",
	"size_t":             "usize",
	"ssize_t":            "isize",
	"ptrdiff_t":          "isize",
	"int8_t":             "i8",
	"int16_t":            "i16",
	"int32_t":            "i32",
	"int64_t":            "i64",
	"uint8_t":            "u8",
	"uint16_t":           "u16",
	"uint32_t":           "u32",
	"uint64_t":           "u64",
	"intptr_t":           "isize",
	"uintptr_t":          "usize",
}

// FallbackSignature derives a Rust signature mechanically when the oracle
// cannot plan one. Const pointers become shared references, mutable pointers
// exclusive references, arrays slices; anything unrecognizable stays a raw
// pointer so the build surfaces it instead of hiding it.
func FallbackSignature(sym *symbol.Symbol) string {
	var b strings.Builder
	b.WriteString("pub fn ")
	b.WriteString(RustName(sym))
	b.WriteString("(")
	for i, p := range sym.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		name := p.Name
		if name == "" {
			name = "arg" + strconv.Itoa(i)
		}
		b.WriteString(sanitizeRustIdent(name))
		b.WriteString(": ")
		b.WriteString(MapType(p.Type))
	}
	b.WriteString(")")
	if ret := MapType(sym.ReturnType); ret != "" && ret != "()" {
		b.WriteString(" -> ")
		b.WriteString(ret)
	}
	return b.String()
}

// MapType translates one C/C++ type spelling into Rust.
func MapType(ctype string) string {
	t := strings.TrimSpace(ctype)
	if t == "" {
		return "()"
	}

	isConst := strings.Contains(t, "const")
	t = strings.ReplaceAll(t, "const", "")
	for _, kw := range []string{"struct", "union", "enum", "volatile", "register"} {
		t = strings.ReplaceAll(t, kw+" ", " ")
	}

	isSlice := strings.HasSuffix(t, "[]")
	t = strings.TrimSuffix(t, "[]")
	stars := strings.Count(t, "*")
	t = strings.ReplaceAll(t, "*", "")
	t = strings.Join(strings.Fields(t), " ")

	base, known := scalarTypes[t]
	if !known {
		if isPlainIdent(t) {
			base = t // ported type, translated under its own name
		} else {
			return "*mut core::ffi::c_void"
		}
	}

	switch {
	case stars > 1:
		return "*mut core::ffi::c_void" // multi-level indirection stays raw
	case stars == 1 && (t == "char" || t == "signed char"):
		if isConst {
			return "&str"
		}
		return "*mut core::ffi::c_char"
	case stars == 1 && base == "()":
		return "*mut core::ffi::c_void" // void*
	case stars == 1 && isConst:
		return "&" + base
	case stars == 1:
		return "&mut " + base
	case isSlice && isConst:
		return "&[" + base + "]"
	case isSlice:
		return "&mut [" + base + "]"
	default:
		return base
	}
}

// RustName returns the snake_case identifier the symbol converts to.
func RustName(sym *symbol.Symbol) string {
	return sanitizeRustIdent(sym.Name)
}

func sanitizeRustIdent(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			prevLower = false
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevLower = r >= 'a' && r <= 'z'
		default:
			b.WriteByte('_')
			prevLower = false
		}
	}
	out := strings.Trim(b.String(), "_")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if out == "" {
		return "unnamed"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "f_" + out
	}
	if rustKeywords[out] {
		out = "r#" + out
	}
	return out
}

var rustKeywords = map[string]bool{
	"as": true, "box": true, "break": true, "const": true, "continue": true,
	"crate": true, "dyn": true, "else": true, "enum": true, "extern": true,
	"false": true, "fn": true, "for": true, "if": true, "impl": true,
	"in": true, "let": true, "loop": true, "match": true, "mod": true,
	"move": true, "mut": true, "pub": true, "ref": true, "return": true,
	"self": true, "static": true, "struct": true, "super": true,
	"trait": true, "true": true, "type": true, "unsafe": true, "use": true,
	"where": true, "while": true,
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
