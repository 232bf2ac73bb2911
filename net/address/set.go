package address

import (
	"bytes"
	"fmt"
	"slices"
	"sort"

	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/common"
)

// Set is a set of addresses of one family. It is held as sorted,
// non-overlapping, non-adjacent runs; CIDRs expands each run greedily, which
// yields the minimal CIDR cover of the set.
type Set struct {
	family Family
	ranges []Range
}

func NewSet(f Family) *Set {
	return &Set{family: f}
}

// SetOf builds a set from arbitrary, possibly overlapping, ranges.
func SetOf(f Family, ranges ...Range) *Set {
	for _, r := range ranges {
		common.Assert(r.Family == f, "address family mismatch")
	}
	return &Set{family: f, ranges: Simplify(ranges)}
}

func (s *Set) assertInvariants() {
	for i, r := range s.ranges {
		common.Assert(r.Family == s.family, "address family mismatch")
		common.Assert(r.First.Cmp(r.Last) <= 0, "inverted range in set")
		if i > 0 {
			prev := s.ranges[i-1]
			common.Assert(prev.Last.Cmp(r.First) < 0 && !prev.Touches(r), "set ranges must be sorted and disjoint")
		}
	}
}

func (s *Set) Family() Family { return s.family }
func (s *Set) IsEmpty() bool  { return len(s.ranges) == 0 }

// Ranges returns a copy of the runs making up the set.
func (s *Set) Ranges() []Range {
	return slices.Clone(s.ranges)
}

// CIDRs returns the minimal CIDR cover of the set, ascending.
func (s *Set) CIDRs() []CIDR {
	var result []CIDR
	for _, r := range s.ranges {
		result = append(result, r.CIDRs()...)
	}
	return result
}

func (s *Set) Contains(addr uint128.Uint128) bool {
	i := sort.Search(len(s.ranges), func(j int) bool {
		return s.ranges[j].Last.Cmp(addr) >= 0
	})
	return i < len(s.ranges) && s.ranges[i].Contains(addr)
}

// Add unions a block into the set.
func (s *Set) Add(cidr CIDR) {
	s.AddRange(cidr.Range())
}

// AddRange unions r into the set, merging any runs it overlaps or touches.
func (s *Set) AddRange(r Range) {
	common.Assert(r.Family == s.family, "address family mismatch")
	// first run not entirely before r
	i := sort.Search(len(s.ranges), func(j int) bool {
		return s.ranges[j].Last.Cmp(r.First) >= 0 || s.ranges[j].Touches(r)
	})
	// first run entirely after r
	j := i
	for j < len(s.ranges) && s.ranges[j].Touches(r) {
		j++
	}
	merged := r
	if i < j {
		if s.ranges[i].First.Cmp(merged.First) < 0 {
			merged.First = s.ranges[i].First
		}
		if s.ranges[j-1].Last.Cmp(merged.Last) > 0 {
			merged.Last = s.ranges[j-1].Last
		}
	}
	s.ranges = slices.Replace(s.ranges, i, j, merged)
}

// Union adds every address of other to s.
func (s *Set) Union(other *Set) {
	common.Assert(other.family == s.family, "address family mismatch")
	s.ranges = Simplify(append(slices.Clone(s.ranges), other.ranges...))
}

// Remove subtracts a block from the set and reports whether anything was
// removed. Runs overlapping the block are cut down to the parts outside it;
// nothing is ever merged.
func (s *Set) Remove(cidr CIDR) bool {
	return s.RemoveRange(cidr.Range())
}

func (s *Set) RemoveRange(r Range) bool {
	common.Assert(r.Family == s.family, "address family mismatch")
	i := sort.Search(len(s.ranges), func(j int) bool {
		return s.ranges[j].Last.Cmp(r.First) >= 0
	})
	j := i
	for j < len(s.ranges) && s.ranges[j].First.Cmp(r.Last) <= 0 {
		j++
	}
	if i == j {
		return false
	}
	var keep []Range
	if first := s.ranges[i]; first.First.Cmp(r.First) < 0 {
		keep = append(keep, Range{Family: s.family, First: first.First, Last: r.First.Sub64(1)})
	}
	if last := s.ranges[j-1]; last.Last.Cmp(r.Last) > 0 {
		keep = append(keep, Range{Family: s.family, First: r.Last.Add64(1), Last: last.Last})
	}
	s.ranges = slices.Replace(s.ranges, i, j, keep...)
	return true
}

// Simplify re-establishes the canonical form from scratch. It is idempotent.
func (s *Set) Simplify() {
	s.ranges = Simplify(s.ranges)
	s.assertInvariants()
}

func (s *Set) Clone() *Set {
	return &Set{family: s.family, ranges: slices.Clone(s.ranges)}
}

func (s *Set) Equal(other *Set) bool {
	return s.family == other.family && slices.Equal(s.ranges, other.ranges)
}

func (s *Set) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Set(%s)", s.family))
	for _, cidr := range s.CIDRs() {
		buf.WriteString(" ")
		buf.WriteString(cidr.String())
	}
	return buf.String()
}
