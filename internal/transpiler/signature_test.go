package transpiler

import (
	"testing"

	"rustport/internal/symbol"
)

func TestMapType(t *testing.T) {
	tests := []struct {
		ctype string
		want  string
	}{
		{"int", "i32"},
		{"unsigned long", "u64"},
		{"size_t", "usize"},
		{"uint8_t", "u8"},
		{"void", "()"},
		{"", "()"},
		{"const char*", "&str"},
		{"char*", "*mut core::ffi::c_char"},
		{"void*", "*mut core::ffi::c_void"},
		{"const int*", "&i32"},
		{"int*", "&mut i32"},
		{"int**", "*mut core::ffi::c_void"},
		{"int[]", "&mut [i32]"},
		{"const int[]", "&[i32]"},
		{"struct point", "point"},
		{"Buffer", "Buffer"},
		{"int (*)(void)", "*mut core::ffi::c_void"},
	}
	for _, tt := range tests {
		if got := MapType(tt.ctype); got != tt.want {
			t.Errorf("MapType(%q) = %q, want %q", tt.ctype, got, tt.want)
		}
	}
}

func TestFallbackSignature(t *testing.T) {
	sym := &symbol.Symbol{
		Name:       "CopyBuf",
		Kind:       symbol.KindFunction,
		ReturnType: "size_t",
		Params: []symbol.Param{
			{Name: "dst", Type: "char*"},
			{Name: "src", Type: "const char*"},
			{Name: "", Type: "int"},
		},
	}
	want := "pub fn copy_buf(dst: *mut core::ffi::c_char, src: &str, arg2: i32) -> usize"
	if got := FallbackSignature(sym); got != want {
		t.Errorf("FallbackSignature = %q, want %q", got, want)
	}
}

func TestFallbackSignatureVoidReturn(t *testing.T) {
	sym := &symbol.Symbol{Name: "reset", Kind: symbol.KindFunction, ReturnType: "void"}
	if got := FallbackSignature(sym); got != "pub fn reset()" {
		t.Errorf("FallbackSignature = %q", got)
	}
}

func TestSanitizeRustIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CopyBuf", "copy_buf"},
		{"parseJSON", "parse_json"},
		{"already_snake", "already_snake"},
		{"match", "r#match"},
		{"type", "r#type"},
		{"9lives", "f_9lives"},
		{"__weird__name__", "weird_name"},
		{"", "unnamed"},
		{"~Buffer", "buffer"},
	}
	for _, tt := range tests {
		if got := sanitizeRustIdent(tt.in); got != tt.want {
			t.Errorf("sanitizeRustIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCratePath(t *testing.T) {
	if got := cratePath("src/ported/json.rs", "parse"); got != "crate::ported::json::parse" {
		t.Errorf("cratePath = %q", got)
	}
	if got := cratePath("src/util.rs", "add"); got != "crate::util::add" {
		t.Errorf("cratePath = %q", got)
	}
}

func TestBudget(t *testing.T) {
	b := newBudget(2)
	if !b.spend() || !b.spend() {
		t.Fatal("budget refused attempts within the limit")
	}
	if b.spend() {
		t.Error("budget allowed a third attempt with limit 2")
	}

	unlimited := newBudget(0)
	for i := 0; i < 100; i++ {
		if !unlimited.spend() {
			t.Fatal("zero limit must never exhaust")
		}
	}
}
