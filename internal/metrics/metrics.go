// Package metrics exposes the IAS scheduler's debug counters through a
// Prometheus collector, in the pattern of containers-nri-plugins'
// pkg/resmgr/policy/metrics.go: a single prometheus.Collector that pulls a
// fresh snapshot on every Collect() rather than pushing updates eagerly.
package metrics

import (
	"strconv"

	"ias-scheduler/internal/ias"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bwCurDesc = prometheus.NewDesc(
		"ias_count_bw_cur", "Current aggregate memory-bandwidth estimate across tracked processes, in bytes/sec.",
		nil, nil)
	bwPunishDesc = prometheus.NewDesc(
		"ias_count_bw_punish", "Cumulative number of bandwidth-subcontroller punish decisions.",
		nil, nil)
	bwRelaxDesc = prometheus.NewDesc(
		"ias_count_bw_relax", "Cumulative number of bandwidth-subcontroller relax decisions.",
		nil, nil)

	procActiveDesc = prometheus.NewDesc(
		"ias_proc_threads_active", "Number of cores currently running this process's kthreads.",
		[]string{"pid"}, nil)
	procLimitDesc = prometheus.NewDesc(
		"ias_proc_threads_limit", "Dynamic thread-count ceiling currently in force for this process.",
		[]string{"pid"}, nil)
	procMaxDesc = prometheus.NewDesc(
		"ias_proc_threads_max", "Configured hard thread-count ceiling for this process.",
		[]string{"pid"}, nil)
	procCongestedDesc = prometheus.NewDesc(
		"ias_proc_congested", "1 if the process is currently flagged congested (wants more cores), 0 otherwise.",
		[]string{"pid"}, nil)
	procBWLimitedDesc = prometheus.NewDesc(
		"ias_proc_bw_limited", "1 if the bandwidth subcontroller currently throttles this process, 0 otherwise.",
		[]string{"pid"}, nil)
)

// BandwidthCounters is the subset of internal/bandwidth.Monitor's surface
// this collector needs, kept as an interface so metrics stays decoupled
// from the bandwidth package's concrete type.
type BandwidthCounters interface {
	Counts() (bwCur float64, bwPunish int64, bwRelax int64)
}

// Collector is a prometheus.Collector snapshotting the scheduler's process
// table and bandwidth counters on every scrape.
type Collector struct {
	sched *ias.Scheduler
	bw    BandwidthCounters
}

// NewCollector builds a Collector. bw may be nil if the bandwidth
// subcontroller is disabled, in which case the bw_* metrics are not emitted
// at all.
func NewCollector(sched *ias.Scheduler, bw BandwidthCounters) *Collector {
	return &Collector{sched: sched, bw: bw}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bwCurDesc
	ch <- bwPunishDesc
	ch <- bwRelaxDesc
	ch <- procActiveDesc
	ch <- procLimitDesc
	ch <- procMaxDesc
	ch <- procCongestedDesc
	ch <- procBWLimitedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.bw != nil {
		bwCur, bwPunish, bwRelax := c.bw.Counts()
		ch <- prometheus.MustNewConstMetric(bwCurDesc, prometheus.GaugeValue, bwCur)
		ch <- prometheus.MustNewConstMetric(bwPunishDesc, prometheus.CounterValue, float64(bwPunish))
		ch <- prometheus.MustNewConstMetric(bwRelaxDesc, prometheus.CounterValue, float64(bwRelax))
	}

	for _, p := range c.sched.AllProcs() {
		if p == nil {
			continue
		}
		label := strconv.Itoa(p.PID)
		ch <- prometheus.MustNewConstMetric(procActiveDesc, prometheus.GaugeValue, float64(p.ThreadsActive), label)
		ch <- prometheus.MustNewConstMetric(procLimitDesc, prometheus.GaugeValue, float64(p.ThreadsLimit), label)
		ch <- prometheus.MustNewConstMetric(procMaxDesc, prometheus.GaugeValue, float64(p.ThreadsMax), label)
		ch <- prometheus.MustNewConstMetric(procCongestedDesc, prometheus.GaugeValue, boolToFloat(p.IsCongested), label)
		ch <- prometheus.MustNewConstMetric(procBWLimitedDesc, prometheus.GaugeValue, boolToFloat(p.IsBWLimited), label)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
