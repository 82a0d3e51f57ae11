package cargo

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics string
		want        []Category
	}{
		{
			name:        "unresolved import",
			diagnostics: "error[E0432]: unresolved import `crate::ported::json`",
			want:        []Category{CategoryMissingImport},
		},
		{
			name:        "cannot find value",
			diagnostics: "error[E0425]: cannot find value `buf` in this scope",
			want:        []Category{CategoryMissingImport},
		},
		{
			name:        "mismatched types",
			diagnostics: "error[E0308]: mismatched types\nexpected `u32`, found `i64`",
			want:        []Category{CategoryTypeMismatch},
		},
		{
			name:        "private field",
			diagnostics: "error[E0616]: field `inner` of struct `Parser` is private",
			want:        []Category{CategoryVisibility},
		},
		{
			name:        "borrow checker",
			diagnostics: "error[E0502]: cannot borrow `*self` as mutable because it is also borrowed as immutable",
			want:        []Category{CategoryBorrowChecker},
		},
		{
			name:        "missing dependency",
			diagnostics: "error: no matching package named `regexx` found",
			want:        []Category{CategoryDependencyMissing},
		},
		{
			name:        "missing module file",
			diagnostics: "error[E0583]: file not found for module `config`",
			want:        []Category{CategoryModuleNotFound},
		},
		{
			name:        "clean output",
			diagnostics: "Finished dev [unoptimized + debuginfo] target(s) in 0.52s",
			want:        nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.diagnostics)
			if len(got) < len(tt.want) {
				t.Fatalf("Classify = %v, want at least %v", got, tt.want)
			}
			for _, w := range tt.want {
				found := false
				for _, g := range got {
					if g == w {
						found = true
					}
				}
				if !found {
					t.Errorf("Classify = %v, missing %v", got, w)
				}
			}
			if tt.want == nil && len(got) != 0 {
				t.Errorf("Classify = %v, want empty", got)
			}
		})
	}
}

func TestClassifyDeduplicates(t *testing.T) {
	diag := "unresolved import `a`\nunresolved import `b`\ncannot find type `C`"
	got := Classify(diag)
	count := 0
	for _, c := range got {
		if c == CategoryMissingImport {
			count++
		}
	}
	if count != 1 {
		t.Errorf("missing_import tagged %d times, want once", count)
	}
}

func TestCategoryStrings(t *testing.T) {
	got := CategoryStrings([]Category{CategoryTimeout, CategoryVisibility})
	if len(got) != 2 || got[0] != "timeout" || got[1] != "visibility" {
		t.Errorf("CategoryStrings = %v", got)
	}
}
