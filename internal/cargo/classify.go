package cargo

import "strings"

// Category is one entry of the fixed diagnostic taxonomy fed back to the
// oracle as a focused repair hint.
type Category string

const (
	CategoryMissingImport     Category = "missing_import"
	CategoryTypeMismatch      Category = "type_mismatch"
	CategoryVisibility        Category = "visibility"
	CategoryBorrowChecker     Category = "borrow_checker"
	CategoryDependencyMissing Category = "dependency_missing"
	CategoryModuleNotFound    Category = "module_not_found"
	CategoryTimeout           Category = "timeout"
)

// Classify maps raw cargo diagnostics onto the taxonomy. The matching is
// deliberately naive substring probing: the categories steer repair prompts,
// they are not a parser.
func Classify(diagnostics string) []Category {
	t := strings.ToLower(diagnostics)
	var tags []Category

	add := func(c Category) {
		for _, existing := range tags {
			if existing == c {
				return
			}
		}
		tags = append(tags, c)
	}

	if strings.Contains(t, "unresolved import") ||
		strings.Contains(t, "not found in this scope") ||
		strings.Contains(t, "cannot find") ||
		strings.Contains(t, "use of undeclared crate or module") {
		add(CategoryMissingImport)
	}
	if strings.Contains(t, "mismatched types") ||
		(strings.Contains(t, "expected") && strings.Contains(t, "found")) {
		add(CategoryTypeMismatch)
	}
	if strings.Contains(t, "private") &&
		(strings.Contains(t, "module") || strings.Contains(t, "field") || strings.Contains(t, "function")) {
		add(CategoryVisibility)
	}
	if strings.Contains(t, "does not live long enough") ||
		strings.Contains(t, "borrowed data escapes") ||
		strings.Contains(t, "cannot borrow") {
		add(CategoryBorrowChecker)
	}
	if strings.Contains(t, "failed to select a version") ||
		strings.Contains(t, "could not find crate") ||
		strings.Contains(t, "no matching package named") {
		add(CategoryDependencyMissing)
	}
	if strings.Contains(t, "file not found for module") ||
		strings.Contains(t, "unresolved module") {
		add(CategoryModuleNotFound)
	}
	return tags
}

// CategoryStrings renders categories for prompts and journal rows
func CategoryStrings(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
