// Package metrics counts what a run did. The counters live in a private
// registry that can be exported in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	Files         prometheus.Counter
	MRTRecords    *prometheus.CounterVec // by outcome
	RouteRecords  prometheus.Counter
	SkippedRoutes *prometheus.CounterVec // by reason
	Intervals     *prometheus.CounterVec // by family and result
	Subtractions  prometheus.Counter
	CacheLookups  *prometheus.CounterVec // by outcome
	ASNs          *prometheus.GaugeVec   // by family
	OutputBlocks  *prometheus.GaugeVec   // by family
	StageSeconds  *prometheus.GaugeVec   // by stage
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Files: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgptools_input_files_total",
			Help: "MRT files read.",
		}),
		MRTRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgptools_mrt_records_total",
			Help: "MRT records read, by what was done with them.",
		}, []string{"outcome"}),
		RouteRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgptools_route_records_total",
			Help: "Announcements extracted from MRT records.",
		}),
		SkippedRoutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgptools_route_records_skipped_total",
			Help: "Announcements not contributing to attribution.",
		}, []string{"reason"}),
		Intervals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgptools_intervals_total",
			Help: "Address intervals formed from split points.",
		}, []string{"family", "result"}),
		Subtractions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgptools_filter_subtractions_total",
			Help: "Excluded prefixes subtracted from included ones.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgptools_cache_lookups_total",
			Help: "Result cache lookups.",
		}, []string{"outcome"}),
		ASNs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bgptools_attributed_asns",
			Help: "ASNs credited with address space.",
		}, []string{"family"}),
		OutputBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bgptools_output_prefixes",
			Help: "CIDR blocks written for the requested ASNs.",
		}, []string{"family"}),
		StageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bgptools_stage_duration_seconds",
			Help: "Wall time spent in each stage of the last run.",
		}, []string{"stage"}),
	}
	m.Registry.MustRegister(m.Files, m.MRTRecords, m.RouteRecords, m.SkippedRoutes,
		m.Intervals, m.Subtractions, m.CacheLookups, m.ASNs, m.OutputBlocks, m.StageSeconds)
	return m
}

// Stage starts timing a stage; call the returned func when it is done.
func (m *Metrics) Stage(name string) func() {
	start := time.Now()
	return func() {
		m.StageSeconds.WithLabelValues(name).Set(time.Since(start).Seconds())
	}
}

// WriteTextfile atomically writes every metric to path.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, m.Registry), "writing metrics")
}
