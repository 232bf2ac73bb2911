package common

import (
	"path/filepath"
	"sort"
)

// CanonicalPaths returns the cleaned absolute form of paths, sorted and
// deduplicated. Paths that cannot be made absolute are kept cleaned.
func CanonicalPaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		} else {
			p = filepath.Clean(p)
		}
		if _, found := seen[p]; found {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}
