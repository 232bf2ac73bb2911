package attribution

import (
	"net/netip"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/net/address"
	"github.com/gaoyifan/bgptools/rib"
)

type route struct {
	prefix string
	path   []bgp.ASN
}

func collect(t *testing.T, ignorePrivate bool, routes ...route) *rib.Collection {
	c := rib.NewCollector(ignorePrivate)
	for _, r := range routes {
		require.NoError(t, c.Collect(bgp.Announcement{
			Prefix:  netip.MustParsePrefix(r.prefix),
			Origins: []bgp.ASN{r.path[len(r.path)-1]},
			Path:    r.path,
		}))
	}
	return c.Finish()
}

func attribute(t *testing.T, collection *rib.Collection, ignorePrivate bool) *Result {
	result := &Result{}
	for _, f := range []address.Family{address.IPv4, address.IPv6} {
		routes := collection.Family(f)
		m, _, err := Attribute(routes, rib.NewTable(f, rib.Owners(routes, ignorePrivate)))
		require.NoError(t, err)
		if f == address.IPv4 {
			result.V4 = m
		} else {
			result.V6 = m
		}
	}
	return result
}

func cidrStrings(cidrs []address.CIDR) []string {
	out := make([]string, len(cidrs))
	for i, c := range cidrs {
		out[i] = c.String()
	}
	return out
}

func TestAttributeMoreSpecificCarveOut(t *testing.T) {
	result := attribute(t, collect(t, false,
		route{"10.0.0.0/24", []bgp.ASN{1}},
		route{"10.0.1.0/24", []bgp.ASN{1}},
		route{"10.0.0.128/25", []bgp.ASN{2}},
	), false)

	require.Equal(t, []string{"10.0.0.0/25", "10.0.1.0/24"}, cidrStrings(result.Select(bgp.ASNSet{1})))
	require.Equal(t, []string{"10.0.0.128/25"}, cidrStrings(result.Select(bgp.ASNSet{2})))
	require.Equal(t, []string{"10.0.0.0/23"}, cidrStrings(result.Select(bgp.ASNSet{1, 2})))
	require.Empty(t, result.Select(nil))
	require.Empty(t, result.Select(bgp.ASNSet{3}))
}

func TestAttributeStats(t *testing.T) {
	collection := collect(t, false,
		route{"10.0.0.0/24", []bgp.ASN{1}},
		route{"10.0.2.0/24", []bgp.ASN{1}},
	)
	routes := collection.V4
	m, stats, err := Attribute(routes, rib.NewTable(address.IPv4, rib.Owners(routes, false)))
	require.NoError(t, err)
	// the gap between the two prefixes is an interval nobody owns
	require.Equal(t, Stats{Intervals: 3, Unattributed: 1}, stats)
	require.Equal(t, []bgp.ASN{1}, m.ASNs())
	require.Equal(t, []string{"10.0.0.0/24", "10.0.2.0/24"}, cidrStrings(m[1].CIDRs()))
}

func TestAttributeSharedUpstream(t *testing.T) {
	result := attribute(t, collect(t, true,
		route{"192.0.2.0/24", []bgp.ASN{174, 3356, 64500}},
		route{"192.0.2.0/24", []bgp.ASN{6939, 3356, 64500}},
		route{"198.51.100.0/24", []bgp.ASN{174, 65001, 64501}},
		route{"2001:db8::/32", []bgp.ASN{9, 8, 7, 6, 5}},
	), true)

	require.Equal(t, []string{"192.0.2.0/24"}, cidrStrings(result.Select(bgp.ASNSet{3356})))
	require.Equal(t, []string{"192.0.2.0/24"}, cidrStrings(result.Select(bgp.ASNSet{64500})))
	// a lone path is its own shared suffix; the private hop is skipped
	require.Equal(t, []string{"198.51.100.0/24"}, cidrStrings(result.Select(bgp.ASNSet{64501})))
	require.Empty(t, result.Select(bgp.ASNSet{65001}))
	require.Equal(t, []string{"198.51.100.0/24"}, cidrStrings(result.Select(bgp.ASNSet{174})))

	for _, asn := range []bgp.ASN{5, 6, 7, 8} {
		require.Equal(t, []string{"2001:db8::/32"}, cidrStrings(result.Select(bgp.ASNSet{asn})), asn.String())
	}
	require.Empty(t, result.Select(bgp.ASNSet{9}), "beyond four hops")
}

func TestAttributeEndOfSpace(t *testing.T) {
	result := attribute(t, collect(t, false,
		route{"0.0.0.0/0", []bgp.ASN{1}},
		route{"255.255.255.0/24", []bgp.ASN{2}},
		route{"::/0", []bgp.ASN{3}},
		route{"ffff::/16", []bgp.ASN{4}},
	), false)

	require.Equal(t, []string{"255.255.255.0/24", "ffff::/16"}, cidrStrings(result.Select(bgp.ASNSet{2, 4})))
	v4 := result.V4[1].CIDRs()
	require.Len(t, v4, 24)
	require.Equal(t, "0.0.0.0/1", v4[0].String())
	require.Equal(t, "255.255.254.0/24", v4[len(v4)-1].String())
	v6 := result.V6[3].CIDRs()
	require.Len(t, v6, 16)
	require.Equal(t, "fffe::/16", v6[len(v6)-1].String())
}

func TestAttributeMergeOrderIndependent(t *testing.T) {
	a := collect(t, false,
		route{"10.0.0.0/8", []bgp.ASN{3356, 1}},
		route{"10.1.0.0/16", []bgp.ASN{2}},
	)
	b := collect(t, false,
		route{"10.0.0.0/8", []bgp.ASN{174, 3356, 1}},
		route{"10.1.128.0/17", []bgp.ASN{3}},
		route{"2001:db8::/32", []bgp.ASN{4}},
	)
	ab := attribute(t, rib.Merge(a, b), false)
	ba := attribute(t, rib.Merge(b, a), false)
	for _, f := range []address.Family{address.IPv4, address.IPv6} {
		require.Equal(t, ab.Family(f).ASNs(), ba.Family(f).ASNs())
		for asn, set := range ab.Family(f) {
			require.True(t, set.Equal(ba.Family(f)[asn]), "%s %s", f, asn)
		}
	}
	require.Equal(t, []string{"10.0.0.0/16", "10.2.0.0/15", "10.4.0.0/14", "10.8.0.0/13"},
		cidrStrings(ab.Select(bgp.ASNSet{3356})))
}

func TestAttributeRejectsInvertedSplits(t *testing.T) {
	routes := collect(t, false, route{"10.0.0.0/8", []bgp.ASN{1}}).V4
	routes.Splits = []uint128.Uint128{routes.Splits[1], routes.Splits[0]}
	_, _, err := Attribute(routes, rib.NewTable(address.IPv4, routes.Origins))
	require.Error(t, err)
	require.Equal(t, ErrInvalidInterval, errors.Cause(err))

	routes.Splits = []uint128.Uint128{routes.Splits[1], routes.Splits[1]}
	_, _, err = Attribute(routes, rib.NewTable(address.IPv4, routes.Origins))
	require.Equal(t, ErrInvalidInterval, errors.Cause(err))
}
