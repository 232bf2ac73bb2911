// Package filter computes the address space of a set of target ASNs by
// subtracting every other origin's prefixes from the targets' prefixes, one
// target prefix at a time.
package filter

import (
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/net/address"
)

// Stats describes one run.
type Stats struct {
	Included     int // distinct prefixes originated by a target
	Excluded     int // distinct prefixes of every other origin
	Subtractions int // remove calls made on working sets
	EarlyExits   int // includes whose working set emptied before all candidates were applied
}

// Engine partitions the prefixes it is fed into included and excluded and
// resolves them with Run. Prefixes are kept as distinct blocks until then.
type Engine struct {
	targets bgp.ASNSet
	origins [2]map[address.CIDR]bgp.ASNSet // by family, IPv4 first

	// remove is the subtraction primitive; tests count calls through it.
	remove func(*address.Set, address.CIDR) bool

	Stats Stats
}

func New(targets bgp.ASNSet) *Engine {
	return &Engine{
		targets: targets,
		origins: [2]map[address.CIDR]bgp.ASNSet{
			make(map[address.CIDR]bgp.ASNSet),
			make(map[address.CIDR]bgp.ASNSet),
		},
		remove: (*address.Set).Remove,
	}
}

func familyIndex(f address.Family) int {
	if f == address.IPv4 {
		return 0
	}
	return 1
}

// Add records a prefix and its origins. A prefix seen several times keeps
// the union of its origins. Records without origins are neither included
// nor excluded.
func (e *Engine) Add(record bgp.Record) {
	if !record.Attributable() {
		return
	}
	m := e.origins[familyIndex(record.Family())]
	m[record.Prefix] = m[record.Prefix].Union(record.Origins)
}

// Run computes the included-minus-excluded address space of both families.
// With workers > 1 includes are processed concurrently; the final union is
// always done in one step.
func (e *Engine) Run(workers int) (v4, v6 *address.Set, err error) {
	e.Stats = Stats{}
	if v4, err = e.run(address.IPv4, workers); err != nil {
		return nil, nil, err
	}
	if v6, err = e.run(address.IPv6, workers); err != nil {
		return nil, nil, err
	}
	return v4, v6, nil
}

type partition struct {
	included []address.CIDR
	excluded []address.CIDR // sorted by CIDR.Compare
	isExcl   map[address.CIDR]struct{}
}

// A prefix is included when any of its origins is a target, and excluded
// only when none is.
func (e *Engine) partition(f address.Family) *partition {
	p := &partition{isExcl: make(map[address.CIDR]struct{})}
	for cidr, origins := range e.origins[familyIndex(f)] {
		if origins.Intersects(e.targets) {
			p.included = append(p.included, cidr)
		} else {
			p.excluded = append(p.excluded, cidr)
			p.isExcl[cidr] = struct{}{}
		}
	}
	address.SortCIDRs(p.included)
	address.SortCIDRs(p.excluded)
	return p
}

// candidates returns the excluded prefixes that overlap inc: its supernets,
// found by probing every shorter mask, then its subnets, found by binary
// search on the start address.
func (p *partition) candidates(inc address.CIDR) []address.CIDR {
	var result []address.CIDR
	for l := inc.PrefixLen; l >= 0; l-- {
		super := inc.Supernet(l)
		if _, found := p.isExcl[super]; found {
			result = append(result, super)
		}
	}
	last := inc.Last()
	i := sort.Search(len(p.excluded), func(j int) bool {
		return p.excluded[j].Start.Cmp(inc.Start) >= 0
	})
	for ; i < len(p.excluded) && p.excluded[i].Start.Cmp(last) <= 0; i++ {
		if p.excluded[i].PrefixLen > inc.PrefixLen {
			result = append(result, p.excluded[i])
		}
	}
	return result
}

type outcome struct {
	set          *address.Set
	subtractions int
	earlyExit    bool
}

func (e *Engine) resolve(f address.Family, inc address.CIDR, excludes []address.CIDR) outcome {
	working := address.NewSet(f)
	working.Add(inc)
	var out outcome
	for _, excl := range excludes {
		if working.IsEmpty() {
			out.earlyExit = true
			break
		}
		e.remove(working, excl)
		out.subtractions++
	}
	out.set = working
	return out
}

func (e *Engine) run(f address.Family, workers int) (*address.Set, error) {
	p := e.partition(f)
	e.Stats.Included += len(p.included)
	e.Stats.Excluded += len(p.excluded)

	outcomes := make([]outcome, len(p.included))
	if workers <= 1 || len(p.included) < 2 {
		for i, inc := range p.included {
			outcomes[i] = e.resolve(f, inc, p.candidates(inc))
		}
	} else {
		var wg sync.WaitGroup
		pool, err := ants.NewPoolWithFunc(workers, func(arg interface{}) {
			defer wg.Done()
			i := arg.(int)
			inc := p.included[i]
			outcomes[i] = e.resolve(f, inc, p.candidates(inc))
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating filter worker pool")
		}
		defer pool.Release()
		for i := range p.included {
			wg.Add(1)
			if err := pool.Invoke(i); err != nil {
				wg.Done()
				wg.Wait()
				return nil, errors.Wrap(err, "dispatching include")
			}
		}
		wg.Wait()
	}

	// aggregate raw, simplify once
	var ranges []address.Range
	for _, o := range outcomes {
		ranges = append(ranges, o.set.Ranges()...)
		e.Stats.Subtractions += o.subtractions
		if o.earlyExit {
			e.Stats.EarlyExits++
		}
	}
	return address.SetOf(f, ranges...), nil
}
