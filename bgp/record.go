package bgp

import (
	"net/netip"

	"github.com/pkg/errors"
	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/net/address"
)

// ErrMalformed marks route records that are skipped rather than failing
// the run.
var ErrMalformed = errors.New("malformed route record")

// Announcement is one ANNOUNCE record as produced by the MRT reader.
type Announcement struct {
	Prefix  netip.Prefix
	Origins []ASN
	Path    ASPath
}

// Record is an announcement normalized for attribution.
type Record struct {
	Prefix address.CIDR
	// Origins is empty when every origin was filtered out; the record then
	// only contributes split points.
	Origins ASNSet
	// Path is truncated to MaxPathLen hops; nil when the announcement
	// carried no AS path.
	Path ASPath
}

func (r Record) Family() address.Family { return r.Prefix.Family }

// Attributable reports whether the record credits any origin.
func (r Record) Attributable() bool { return len(r.Origins) > 0 }

// SplitPoints returns the interval boundaries the prefix introduces: its
// base address and the address after its last one. atEnd is true when the
// prefix reaches the top of the address space, in which case only the base
// is returned.
func (r Record) SplitPoints() (points []uint128.Uint128, atEnd bool) {
	points = append(points, r.Prefix.Start)
	if next, ok := r.Prefix.Next(); ok {
		return append(points, next), false
	}
	return points, true
}

// Extractor turns announcements into records.
type Extractor struct {
	IgnorePrivateASN bool
}

func (e Extractor) Extract(a Announcement) (Record, error) {
	if !a.Prefix.IsValid() {
		return Record{}, errors.Wrap(ErrMalformed, "unparseable prefix")
	}
	cidr, err := address.FromPrefix(a.Prefix)
	if err != nil {
		return Record{}, errors.Wrapf(ErrMalformed, "prefix %s: %v", a.Prefix, err)
	}
	origins := make([]ASN, 0, len(a.Origins))
	for _, asn := range a.Origins {
		if e.IgnorePrivateASN && asn.IsPrivate() {
			continue
		}
		origins = append(origins, asn)
	}
	record := Record{Prefix: cidr, Origins: NewASNSet(origins...)}
	if len(a.Path) > 0 {
		record.Path = a.Path.Truncate()
	}
	return record, nil
}
