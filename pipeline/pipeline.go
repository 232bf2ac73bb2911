// Package pipeline wires the stages of a run together: per-file
// collection in parallel, merge, attribution or filtering, and the result
// cache.
package pipeline

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gaoyifan/bgptools/attribution"
	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/cache"
	"github.com/gaoyifan/bgptools/common"
	"github.com/gaoyifan/bgptools/filter"
	"github.com/gaoyifan/bgptools/metrics"
	"github.com/gaoyifan/bgptools/mrt"
	"github.com/gaoyifan/bgptools/net/address"
	"github.com/gaoyifan/bgptools/rib"
)

var ErrFilterNeedsSingleFile = errors.New("filter mode reads exactly one input file")

type Mode string

const (
	ModeInterval Mode = "interval"
	ModeFilter   Mode = "filter"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeInterval, ModeFilter:
		return m, nil
	}
	return "", errors.Errorf("unknown mode %q (want %s or %s)", s, ModeInterval, ModeFilter)
}

type Config struct {
	Files            []string
	Targets          bgp.ASNSet
	IgnorePrivateASN bool
	// CachePath enables the result cache when set.
	CachePath string
	Mode      Mode
	// Workers bounds concurrent file reads and filter workers; zero means
	// GOMAXPROCS.
	Workers int
}

// Source delivers the announcements of one input file.
type Source func(path string, fn mrt.Handler) (mrt.Stats, error)

type Pipeline struct {
	config  Config
	source  Source
	metrics *metrics.Metrics
}

func New(config Config, m *metrics.Metrics) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	if config.Mode == "" {
		config.Mode = ModeInterval
	}
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{config: config, source: mrt.ReadFile, metrics: m}
}

// Run computes the address space of the target ASNs: IPv4 blocks first,
// then IPv6, each ascending and minimal.
func (p *Pipeline) Run(ctx context.Context) ([]address.CIDR, error) {
	if len(p.config.Targets) == 0 {
		common.Log.Info("No ASNs requested")
		return nil, nil
	}
	switch p.config.Mode {
	case ModeFilter:
		return p.runFilter(ctx)
	case ModeInterval:
		result, err := p.Attribution(ctx)
		if err != nil {
			return nil, err
		}
		return p.output(result.Select(p.config.Targets)), nil
	}
	return nil, errors.Errorf("unknown mode %q", p.config.Mode)
}

// Attribution returns the attribution of every ASN, from the cache when
// enabled and populated.
func (p *Pipeline) Attribution(ctx context.Context) (*attribution.Result, error) {
	key := cache.NewKey(p.config.Files, p.config.IgnorePrivateASN)
	c := p.openCache()
	if c != nil {
		defer func() { common.CheckWarn(c.Close()) }()
		result, outcome := c.Load(key)
		p.metrics.CacheLookups.WithLabelValues(string(outcome)).Inc()
		if outcome == cache.Hit {
			common.Log.WithField("cache", p.config.CachePath).Info("Using cached attribution")
			return result, nil
		}
	}

	collections, err := p.collect(ctx)
	if err != nil {
		return nil, err
	}
	done := p.metrics.Stage("merge")
	merged := rib.Merge(collections...)
	done()

	done = p.metrics.Stage("attribute")
	result, err := p.attribute(merged)
	done()
	if err != nil {
		return nil, err
	}

	if c != nil {
		if err := c.Save(key, result); err != nil {
			common.Log.Warnf("Unable to update cache: %v", err)
		}
	}
	return result, nil
}

func (p *Pipeline) openCache() *cache.Cache {
	if p.config.CachePath == "" {
		return nil
	}
	c, err := cache.Open(p.config.CachePath)
	if err != nil {
		common.Log.Warnf("Running without cache: %v", err)
		return nil
	}
	return c
}

// collect reads every input file concurrently, one collector per file.
func (p *Pipeline) collect(ctx context.Context) ([]*rib.Collection, error) {
	defer p.metrics.Stage("collect")()
	collections := make([]*rib.Collection, len(p.config.Files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, path := range p.config.Files {
		i, path := i, path
		g.Go(func() error {
			log := common.Log.WithField("file", path)
			collector := rib.NewCollector(p.config.IgnorePrivateASN)
			mrtStats, err := p.source(path, func(a bgp.Announcement) error {
				if err := collector.Collect(a); err != nil {
					log.WithField("prefix", a.Prefix).Debugf("Skipping record: %v", err)
				}
				return ctx.Err()
			})
			if err != nil {
				return err
			}
			p.recordFile(log, mrtStats, collector.Stats)
			collections[i] = collector.Finish()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return collections, nil
}

func (p *Pipeline) recordFile(log logrus.FieldLogger, mrtStats mrt.Stats, stats rib.Stats) {
	m := p.metrics
	m.Files.Inc()
	m.MRTRecords.WithLabelValues("ignored").Add(float64(mrtStats.Ignored))
	m.MRTRecords.WithLabelValues("malformed").Add(float64(mrtStats.Malformed))
	m.MRTRecords.WithLabelValues("decoded").Add(float64(mrtStats.Records - mrtStats.Ignored - mrtStats.Malformed))
	m.RouteRecords.Add(float64(stats.Records))
	m.SkippedRoutes.WithLabelValues("malformed").Add(float64(stats.Malformed))
	m.SkippedRoutes.WithLabelValues("unattributed").Add(float64(stats.Unattributed))
	m.SkippedRoutes.WithLabelValues("missing_path").Add(float64(stats.MissingPath))
	log.WithFields(logrus.Fields{
		"mrt_records":   mrtStats.Records,
		"announcements": stats.Records,
		"malformed":     stats.Malformed + mrtStats.Malformed,
		"unattributed":  stats.Unattributed,
		"missing_path":  stats.MissingPath,
	}).Info("Collected routes")
}

func (p *Pipeline) attribute(merged *rib.Collection) (*attribution.Result, error) {
	result := &attribution.Result{}
	for _, f := range []address.Family{address.IPv4, address.IPv6} {
		routes := merged.Family(f)
		table := rib.NewTable(f, rib.Owners(routes, p.config.IgnorePrivateASN))
		m, stats, err := attribution.Attribute(routes, table)
		if err != nil {
			return nil, err
		}
		p.metrics.Intervals.WithLabelValues(f.String(), "attributed").Add(float64(stats.Intervals - stats.Unattributed))
		p.metrics.Intervals.WithLabelValues(f.String(), "unattributed").Add(float64(stats.Unattributed))
		p.metrics.ASNs.WithLabelValues(f.String()).Set(float64(len(m)))
		common.Log.WithFields(logrus.Fields{
			"family":    f,
			"prefixes":  table.Len(),
			"intervals": stats.Intervals,
			"asns":      len(m),
		}).Info("Attributed address space")
		if f == address.IPv4 {
			result.V4 = m
		} else {
			result.V6 = m
		}
	}
	return result, nil
}

func (p *Pipeline) runFilter(ctx context.Context) ([]address.CIDR, error) {
	if len(p.config.Files) != 1 {
		return nil, errors.Wrapf(ErrFilterNeedsSingleFile, "got %d", len(p.config.Files))
	}
	path := p.config.Files[0]
	log := common.Log.WithField("file", path)
	engine := filter.New(p.config.Targets)
	extractor := bgp.Extractor{IgnorePrivateASN: p.config.IgnorePrivateASN}
	var stats rib.Stats

	done := p.metrics.Stage("collect")
	mrtStats, err := p.source(path, func(a bgp.Announcement) error {
		stats.Records++
		record, err := extractor.Extract(a)
		if err != nil {
			stats.Malformed++
			log.WithField("prefix", a.Prefix).Debugf("Skipping record: %v", err)
			return ctx.Err()
		}
		if !record.Attributable() {
			stats.Unattributed++
		}
		engine.Add(record)
		return ctx.Err()
	})
	done()
	if err != nil {
		return nil, err
	}
	p.recordFile(log, mrtStats, stats)

	done = p.metrics.Stage("filter")
	v4, v6, err := engine.Run(p.config.Workers)
	done()
	if err != nil {
		return nil, err
	}
	p.metrics.Subtractions.Add(float64(engine.Stats.Subtractions))
	log.WithFields(logrus.Fields{
		"included":     engine.Stats.Included,
		"excluded":     engine.Stats.Excluded,
		"subtractions": engine.Stats.Subtractions,
		"early_exits":  engine.Stats.EarlyExits,
	}).Info("Filtered prefixes")
	return p.output(append(v4.CIDRs(), v6.CIDRs()...)), nil
}

func (p *Pipeline) output(cidrs []address.CIDR) []address.CIDR {
	for _, c := range cidrs {
		p.metrics.OutputBlocks.WithLabelValues(c.Family.String()).Inc()
	}
	return cidrs
}
