package rib

import (
	"net/netip"

	"github.com/gaissmai/bart"
	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/common"
	"github.com/gaoyifan/bgptools/net/address"
)

// Table resolves addresses of one family to the ASNs of the most specific
// prefix covering them.
type Table struct {
	family address.Family
	lpm    bart.Table[bgp.ASNSet]
	size   int
}

func NewTable(f address.Family, owners map[netip.Prefix]bgp.ASNSet) *Table {
	t := &Table{family: f}
	for prefix, asns := range owners {
		t.Insert(prefix, asns)
	}
	return t
}

func (t *Table) Insert(prefix netip.Prefix, asns bgp.ASNSet) {
	common.Assert(address.FamilyOf(prefix.Addr()) == t.family, "address family mismatch")
	if _, found := t.lpm.Get(prefix); !found {
		t.size++
	}
	t.lpm.Insert(prefix, asns)
}

// Lookup performs a host-length longest-prefix match of addr.
func (t *Table) Lookup(addr uint128.Uint128) (bgp.ASNSet, bool) {
	return t.lpm.Lookup(t.family.Addr(addr))
}

func (t *Table) Len() int { return t.size }
