// Package attribution slices the address space at every observed prefix
// boundary and credits each slice to the ASNs owning its longest matching
// prefix.
package attribution

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/common"
	"github.com/gaoyifan/bgptools/net/address"
	"github.com/gaoyifan/bgptools/rib"
)

var ErrInvalidInterval = errors.New("invalid attribution interval")

// Map holds, for one address family, the addresses credited to each ASN.
// Every ASN owns its set exclusively.
type Map map[bgp.ASN]*address.Set

// ASNs returns the keys of m in ascending order.
func (m Map) ASNs() []bgp.ASN {
	asns := make([]bgp.ASN, 0, len(m))
	for asn := range m {
		asns = append(asns, asn)
	}
	sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })
	return asns
}

func (m Map) credit(asn bgp.ASN, f address.Family, cidrs []address.CIDR) {
	set, found := m[asn]
	if !found {
		set = address.NewSet(f)
		m[asn] = set
	}
	for _, cidr := range cidrs {
		set.Add(cidr)
	}
}

// Stats describes one attribution pass.
type Stats struct {
	Intervals    int // intervals formed from split points
	Unattributed int // intervals without a covering prefix
}

// Attribute runs the interval/LPM pass over one family. Every interval
// between consecutive split points is credited, as minimal CIDR blocks, to
// all ASNs of the most specific prefix covering its first address.
func Attribute(routes *rib.Routes, table *rib.Table) (Map, Stats, error) {
	f := routes.Family
	result := make(Map)
	var stats Stats

	visit := func(r address.Range) {
		stats.Intervals++
		asns, found := table.Lookup(r.First)
		if !found {
			stats.Unattributed++
			return
		}
		cidrs := r.CIDRs()
		for _, asn := range asns {
			result.credit(asn, f, cidrs)
		}
	}

	splits := routes.Splits
	for i := 0; i+1 < len(splits); i++ {
		r, err := address.Interval(f, splits[i], splits[i+1])
		if err != nil {
			return nil, stats, errors.Wrapf(ErrInvalidInterval, "%s split %d: %v", f, i, err)
		}
		visit(r)
	}
	if routes.EndOfSpace {
		common.Assert(len(splits) > 0, "end of address space reached without a split point")
		visit(address.NewRange(f, splits[len(splits)-1], f.Max()))
	}

	for _, set := range result {
		set.Simplify()
	}
	return result, stats, nil
}

// Result is the attribution of both families; this is what the cache
// stores.
type Result struct {
	V4, V6 Map
}

// Family returns the map of family f.
func (r *Result) Family(f address.Family) Map {
	if f == address.IPv4 {
		return r.V4
	}
	return r.V6
}

// Select returns the union of the sets of the given ASNs: IPv4 blocks first,
// then IPv6, each ascending and minimal.
func (r *Result) Select(targets bgp.ASNSet) []address.CIDR {
	var out []address.CIDR
	for _, f := range []address.Family{address.IPv4, address.IPv6} {
		out = append(out, Union(r.Family(f), f, targets).CIDRs()...)
	}
	return out
}

// Union merges the sets of the given ASNs of one family.
func Union(m Map, f address.Family, targets bgp.ASNSet) *address.Set {
	var ranges []address.Range
	for _, asn := range targets {
		if set, found := m[asn]; found {
			ranges = append(ranges, set.Ranges()...)
		}
	}
	return address.SetOf(f, ranges...)
}
