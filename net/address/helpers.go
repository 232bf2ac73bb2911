package address

import (
	"slices"
)

// Simplify sorts ranges by start address and merges every range that
// overlaps, is contained in, or is adjacent to its predecessor. The input
// slice is left untouched.
func Simplify(r []Range) []Range {
	if len(r) == 0 {
		return nil
	}
	sorted := slices.Clone(r)
	slices.SortFunc(sorted, func(a, b Range) int { return a.First.Cmp(b.First) })

	merged := sorted[:1]
	for _, next := range sorted[1:] {
		prev := &merged[len(merged)-1]
		if prev.Touches(next) {
			if next.Last.Cmp(prev.Last) > 0 {
				prev.Last = next.Last
			}
		} else {
			merged = append(merged, next)
		}
	}
	return merged
}

// SortCIDRs orders blocks by family, then network address, then mask length.
func SortCIDRs(cidrs []CIDR) {
	slices.SortFunc(cidrs, CIDR.Compare)
}
