// Package rib accumulates route records per address family, merges the
// per-file results and derives the prefix ownership table used for
// longest-prefix-match attribution.
package rib

import (
	"net/netip"
	"slices"

	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/net/address"
)

// Routes is the collected state of one address family.
type Routes struct {
	Family address.Family
	// Origins maps every attributable prefix to its origin ASNs.
	Origins map[netip.Prefix]bgp.ASNSet
	// Paths holds the truncated AS paths seen for each (prefix, origin).
	Paths map[netip.Prefix]map[bgp.ASN][]bgp.ASPath
	// Splits is sorted and free of duplicates.
	Splits []uint128.Uint128
	// EndOfSpace is set when some prefix reaches the last address of the
	// family, so the final split point opens an interval running to the
	// end of the address space.
	EndOfSpace bool
}

func newRoutes(f address.Family) *Routes {
	return &Routes{
		Family:  f,
		Origins: make(map[netip.Prefix]bgp.ASNSet),
		Paths:   make(map[netip.Prefix]map[bgp.ASN][]bgp.ASPath),
	}
}

func (r *Routes) addPath(prefix netip.Prefix, origin bgp.ASN, paths ...bgp.ASPath) {
	byOrigin, found := r.Paths[prefix]
	if !found {
		byOrigin = make(map[bgp.ASN][]bgp.ASPath)
		r.Paths[prefix] = byOrigin
	}
	byOrigin[origin] = append(byOrigin[origin], paths...)
}

// sortSplits sorts and deduplicates split points.
func sortSplits(points []uint128.Uint128) []uint128.Uint128 {
	slices.SortFunc(points, uint128.Uint128.Cmp)
	return slices.CompactFunc(points, uint128.Uint128.Equals)
}

// Collection is the immutable result of collecting one or more files.
type Collection struct {
	V4, V6 *Routes
}

// Family returns the routes of family f.
func (c *Collection) Family(f address.Family) *Routes {
	if f == address.IPv4 {
		return c.V4
	}
	return c.V6
}

// Merge combines collections: origin sets are unioned, AS path lists are
// concatenated and split points unioned. The inputs are not modified and the
// result does not depend on their order beyond the order of path lists.
func Merge(collections ...*Collection) *Collection {
	result := &Collection{V4: newRoutes(address.IPv4), V6: newRoutes(address.IPv6)}
	for _, f := range []address.Family{address.IPv4, address.IPv6} {
		merged := result.Family(f)
		var splits []uint128.Uint128
		for _, c := range collections {
			routes := c.Family(f)
			for prefix, origins := range routes.Origins {
				merged.Origins[prefix] = merged.Origins[prefix].Union(origins)
			}
			for prefix, byOrigin := range routes.Paths {
				for origin, paths := range byOrigin {
					merged.addPath(prefix, origin, paths...)
				}
			}
			splits = append(splits, routes.Splits...)
			merged.EndOfSpace = merged.EndOfSpace || routes.EndOfSpace
		}
		merged.Splits = sortSplits(splits)
	}
	return result
}
