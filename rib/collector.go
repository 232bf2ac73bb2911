package rib

import (
	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/net/address"
)

// Stats counts what a collector did with its input.
type Stats struct {
	Records      int // announcements seen
	Malformed    int // skipped as malformed
	Unattributed int // no origin left after private-ASN filtering
	MissingPath  int // attributable but without an AS path
}

// Collector accumulates the records of a single input file. A collector is
// not safe for concurrent use; run one per file.
type Collector struct {
	extractor bgp.Extractor
	v4, v6    *collecting
	Stats     Stats
}

type collecting struct {
	routes     *Routes
	splits     map[uint128.Uint128]struct{}
	endOfSpace bool
}

func NewCollector(ignorePrivateASN bool) *Collector {
	return &Collector{
		extractor: bgp.Extractor{IgnorePrivateASN: ignorePrivateASN},
		v4:        &collecting{routes: newRoutes(address.IPv4), splits: make(map[uint128.Uint128]struct{})},
		v6:        &collecting{routes: newRoutes(address.IPv6), splits: make(map[uint128.Uint128]struct{})},
	}
}

// Collect adds one announcement. Malformed announcements are counted and
// the error, wrapping bgp.ErrMalformed, is returned for the caller to
// report; the collector stays usable.
func (c *Collector) Collect(a bgp.Announcement) error {
	c.Stats.Records++
	record, err := c.extractor.Extract(a)
	if err != nil {
		c.Stats.Malformed++
		return err
	}
	c.Add(record)
	return nil
}

// Add adds an already extracted record.
func (c *Collector) Add(record bgp.Record) {
	state := c.v4
	if record.Family() == address.IPv6 {
		state = c.v6
	}

	points, atEnd := record.SplitPoints()
	for _, p := range points {
		state.splits[p] = struct{}{}
	}
	state.endOfSpace = state.endOfSpace || atEnd

	if !record.Attributable() {
		c.Stats.Unattributed++
		return
	}
	prefix := record.Prefix.Prefix()
	routes := state.routes
	routes.Origins[prefix] = routes.Origins[prefix].Union(record.Origins)
	if record.Path == nil {
		c.Stats.MissingPath++
		return
	}
	for _, origin := range record.Origins {
		routes.addPath(prefix, origin, record.Path)
	}
}

// Finish returns the collected routes. The collector must not be used
// afterwards.
func (c *Collector) Finish() *Collection {
	return &Collection{V4: c.v4.finish(), V6: c.v6.finish()}
}

func (s *collecting) finish() *Routes {
	splits := make([]uint128.Uint128, 0, len(s.splits))
	for p := range s.splits {
		splits = append(splits, p)
	}
	s.routes.Splits = sortSplits(splits)
	s.routes.EndOfSpace = s.endOfSpace
	return s.routes
}
