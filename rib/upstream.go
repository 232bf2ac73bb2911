package rib

import (
	"net/netip"
	"slices"

	"github.com/gaoyifan/bgptools/bgp"
)

// CommonSuffix returns the longest run of ASNs, at most bgp.MaxPathLen long,
// that every path ends with. An empty path, or two paths ending in
// different ASNs, yield an empty suffix.
func CommonSuffix(paths []bgp.ASPath) bgp.ASPath {
	if len(paths) == 0 {
		return nil
	}
	first := paths[0]
	n := 0
	for n < bgp.MaxPathLen && n < len(first) {
		want := first[len(first)-1-n]
		for _, p := range paths[1:] {
			if n >= len(p) || p[len(p)-1-n] != want {
				return slices.Clone(first[len(first)-n:])
			}
		}
		n++
	}
	return slices.Clone(first[len(first)-n:])
}

// SharedUpstream returns, for every prefix with recorded paths, the ASNs of
// the suffix shared by all of its paths that are not already origins of the
// prefix. Prefixes gaining nothing are left out. When ignorePrivateASN is
// set private ASNs are never added.
func SharedUpstream(routes *Routes, ignorePrivateASN bool) map[netip.Prefix]bgp.ASNSet {
	result := make(map[netip.Prefix]bgp.ASNSet)
	for prefix, byOrigin := range routes.Paths {
		var paths []bgp.ASPath
		for _, p := range byOrigin {
			paths = append(paths, p...)
		}
		origins := routes.Origins[prefix]
		var extra []bgp.ASN
		for _, asn := range CommonSuffix(paths) {
			if origins.Contains(asn) || (ignorePrivateASN && asn.IsPrivate()) {
				continue
			}
			extra = append(extra, asn)
		}
		if len(extra) > 0 {
			result[prefix] = bgp.NewASNSet(extra...)
		}
	}
	return result
}

// Owners returns the prefix -> attributed ASNs map: every prefix's origins
// plus its shared-upstream ASNs, which receive the same standing as origins.
func Owners(routes *Routes, ignorePrivateASN bool) map[netip.Prefix]bgp.ASNSet {
	owners := make(map[netip.Prefix]bgp.ASNSet, len(routes.Origins))
	for prefix, origins := range routes.Origins {
		owners[prefix] = origins
	}
	for prefix, upstream := range SharedUpstream(routes, ignorePrivateASN) {
		owners[prefix] = owners[prefix].Union(upstream)
	}
	return owners
}
