package rib

import (
	"net/netip"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/net/address"
)

func announce(prefix string, path ...bgp.ASN) bgp.Announcement {
	a := bgp.Announcement{Prefix: netip.MustParsePrefix(prefix), Path: path}
	if len(path) > 0 {
		a.Origins = []bgp.ASN{path[len(path)-1]}
	}
	return a
}

func addr(s string) uint128.Uint128 {
	return address.FromAddr(netip.MustParseAddr(s))
}

func collect(t *testing.T, ignorePrivate bool, announcements ...bgp.Announcement) *Collection {
	c := NewCollector(ignorePrivate)
	for _, a := range announcements {
		require.NoError(t, c.Collect(a))
	}
	return c.Finish()
}

func TestCollector(t *testing.T) {
	c := NewCollector(true)
	require.NoError(t, c.Collect(announce("10.0.0.0/8", 3356, 1)))
	require.NoError(t, c.Collect(announce("10.0.0.0/8", 174, 1)))
	require.NoError(t, c.Collect(announce("10.1.0.0/16", 64512)))
	require.NoError(t, c.Collect(bgp.Announcement{Prefix: netip.MustParsePrefix("2001:db8::/32"), Origins: []bgp.ASN{2}}))
	err := c.Collect(bgp.Announcement{Origins: []bgp.ASN{1}})
	require.Equal(t, bgp.ErrMalformed, errors.Cause(err))
	collection := c.Finish()

	require.Equal(t, Stats{Records: 5, Malformed: 1, Unattributed: 1, MissingPath: 1}, c.Stats)

	v4 := collection.V4
	require.Equal(t, map[netip.Prefix]bgp.ASNSet{netip.MustParsePrefix("10.0.0.0/8"): {1}}, v4.Origins)
	require.Equal(t, []bgp.ASPath{{3356, 1}, {174, 1}}, v4.Paths[netip.MustParsePrefix("10.0.0.0/8")][1])
	// the private-only prefix still splits the address space
	require.Equal(t, []uint128.Uint128{addr("10.0.0.0"), addr("10.1.0.0"), addr("10.2.0.0"), addr("11.0.0.0")}, v4.Splits)
	require.False(t, v4.EndOfSpace)

	v6 := collection.V6
	require.Equal(t, bgp.ASNSet{2}, v6.Origins[netip.MustParsePrefix("2001:db8::/32")])
	require.Empty(t, v6.Paths)
	require.Len(t, v6.Splits, 2)
}

func TestCollectorEndOfSpace(t *testing.T) {
	collection := collect(t, false, announce("240.0.0.0/4", 1), announce("ff00::/8", 2))
	require.True(t, collection.V4.EndOfSpace)
	require.Equal(t, []uint128.Uint128{addr("240.0.0.0")}, collection.V4.Splits)
	require.True(t, collection.V6.EndOfSpace)
}

func TestMergeOrderIndependent(t *testing.T) {
	a := collect(t, false, announce("10.0.0.0/8", 3356, 1), announce("10.0.0.0/24", 2))
	b := collect(t, false, announce("10.0.0.0/8", 174, 3356, 1), announce("10.0.0.0/8", 5), announce("192.0.2.0/24", 3))

	ab, ba := Merge(a, b), Merge(b, a)
	require.Equal(t, ab.V4.Origins, ba.V4.Origins)
	require.Equal(t, ab.V4.Splits, ba.V4.Splits)
	require.Equal(t, Owners(ab.V4, false), Owners(ba.V4, false))
	require.ElementsMatch(t, ab.V4.Paths[netip.MustParsePrefix("10.0.0.0/8")][1], ba.V4.Paths[netip.MustParsePrefix("10.0.0.0/8")][1])

	require.Equal(t, bgp.ASNSet{1, 5}, ab.V4.Origins[netip.MustParsePrefix("10.0.0.0/8")])
	require.Equal(t, []uint128.Uint128{
		addr("10.0.0.0"), addr("10.0.1.0"), addr("11.0.0.0"), addr("192.0.2.0"), addr("192.0.3.0"),
	}, ab.V4.Splits)

	// merging leaves the inputs alone
	require.Equal(t, bgp.ASNSet{1}, a.V4.Origins[netip.MustParsePrefix("10.0.0.0/8")])
	require.Len(t, a.V4.Paths[netip.MustParsePrefix("10.0.0.0/8")][1], 1)

	// associativity
	c := collect(t, false, announce("10.0.0.0/16", 7))
	require.Equal(t, Merge(Merge(a, b), c).V4.Origins, Merge(a, Merge(b, c)).V4.Origins)
	require.Equal(t, Merge(Merge(a, b), c).V4.Splits, Merge(a, Merge(b, c)).V4.Splits)
}

func TestCommonSuffix(t *testing.T) {
	require.Nil(t, CommonSuffix(nil))
	require.Equal(t, bgp.ASPath{2, 1}, CommonSuffix([]bgp.ASPath{{3, 2, 1}, {4, 2, 1}, {2, 1}}))
	require.Equal(t, bgp.ASPath{3, 2, 1}, CommonSuffix([]bgp.ASPath{{3, 2, 1}}))
	require.Empty(t, CommonSuffix([]bgp.ASPath{{3, 2, 1}, {3, 2, 5}}))
	require.Empty(t, CommonSuffix([]bgp.ASPath{{3, 2, 1}, {}}))

	// never more than four hops, however long the shared tail is
	long := bgp.ASPath{9, 8, 7, 6, 5, 4, 3, 2, 1}
	require.Equal(t, bgp.ASPath{4, 3, 2, 1}, CommonSuffix([]bgp.ASPath{long, long}))
	require.Len(t, CommonSuffix([]bgp.ASPath{long}), bgp.MaxPathLen)
}

func TestSharedUpstream(t *testing.T) {
	routes := collect(t, true,
		announce("10.0.0.0/8", 174, 3356, 1),
		announce("10.0.0.0/8", 6939, 3356, 1),
		announce("10.1.0.0/16", 3356, 2),
		announce("10.1.0.0/16", 1299, 2),
		announce("10.2.0.0/16", 9, 8, 7, 6, 5, 4),
		announce("10.3.0.0/16", 65000, 3),
	).V4

	upstream := SharedUpstream(routes, true)
	require.Equal(t, bgp.ASNSet{3356}, upstream[netip.MustParsePrefix("10.0.0.0/8")])
	_, found := upstream[netip.MustParsePrefix("10.1.0.0/16")]
	require.False(t, found, "disagreeing upstreams add nothing")
	// a single path is its own common suffix, capped at four hops
	require.Equal(t, bgp.ASNSet{5, 6, 7}, upstream[netip.MustParsePrefix("10.2.0.0/16")])
	_, found = upstream[netip.MustParsePrefix("10.3.0.0/16")]
	require.False(t, found, "private upstreams are ignored")

	owners := Owners(routes, true)
	require.Equal(t, bgp.ASNSet{1, 3356}, owners[netip.MustParsePrefix("10.0.0.0/8")])
	require.Equal(t, bgp.ASNSet{2}, owners[netip.MustParsePrefix("10.1.0.0/16")])
	require.Equal(t, bgp.ASNSet{4, 5, 6, 7}, owners[netip.MustParsePrefix("10.2.0.0/16")])
	require.Len(t, owners[netip.MustParsePrefix("10.2.0.0/16")], bgp.MaxPathLen)
}

func TestTable(t *testing.T) {
	table := NewTable(address.IPv4, map[netip.Prefix]bgp.ASNSet{
		netip.MustParsePrefix("0.0.0.0/0"):   {1},
		netip.MustParsePrefix("10.0.0.0/8"):  {2},
		netip.MustParsePrefix("10.1.0.0/16"): {3, 4},
	})
	require.Equal(t, 3, table.Len())

	asns, ok := table.Lookup(addr("10.1.2.3"))
	require.True(t, ok)
	require.Equal(t, bgp.ASNSet{3, 4}, asns)
	asns, _ = table.Lookup(addr("10.2.0.0"))
	require.Equal(t, bgp.ASNSet{2}, asns)
	asns, _ = table.Lookup(addr("192.0.2.1"))
	require.Equal(t, bgp.ASNSet{1}, asns)

	table.Insert(netip.MustParsePrefix("10.0.0.0/8"), bgp.ASNSet{5})
	require.Equal(t, 3, table.Len())

	empty := NewTable(address.IPv6, nil)
	_, ok = empty.Lookup(addr("2001:db8::1"))
	require.False(t, ok)
	require.Panics(t, func() { empty.Insert(netip.MustParsePrefix("10.0.0.0/8"), bgp.ASNSet{1}) })
}
