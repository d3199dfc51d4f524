// Package bandwidth implements IAS's bandwidth subcontroller: it tracks
// per-process memory-bandwidth consumption through RDT monitoring groups and
// throttles or relaxes each process's thread limit in response, grounded on
// the teacher's goresctrl-based accounting (internal/accounting,
// internal/allocation); goresctrl calls are serialized through
// internal/rdtguard.
package bandwidth

import (
	"fmt"
	"sync"
	"time"

	"ias-scheduler/internal/ias"
	"ias-scheduler/internal/logging"
	"ias-scheduler/internal/rdtguard"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/sirupsen/logrus"
)

const (
	mbmTotalKey = "mbm_total_bytes"
	classPrefix = "ias-bw-"

	defaultSampleInterval = 50 * time.Millisecond
)

// Config holds the bandwidth subcontroller's tunables.
type Config struct {
	// ThresholdBytesPerSec is the per-process memory-bandwidth rate above
	// which a process is punished (its thread limit is reduced).
	ThresholdBytesPerSec float64
	// MinThreadsLimit is the floor punish will not push ThreadsLimit below.
	MinThreadsLimit int
	// SampleInterval is how often the background sampler reads RDT
	// counters. Zero means defaultSampleInterval.
	SampleInterval time.Duration
}

type sample struct {
	lastBytes uint64
	lastUs    uint64
	haveLast  bool
	rate      float64
}

// Monitor is the concrete ias.BandwidthSubcontroller. BWPoll is called
// synchronously from sched_poll and must not block, so all goresctrl I/O
// happens on a background goroutine (run) that refreshes a mutex-guarded
// cache of samples; BWPoll only ever reads that cache.
type Monitor struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.Mutex
	classOf  map[int]string // proc idx -> RDT class name
	samples  map[int]*sample
	bwPunish int64
	bwRelax  int64
	bwCurSum float64

	rdtAvailable bool
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewMonitor constructs a bandwidth subcontroller and, if RDT monitoring is
// available, starts its background sampler. If RDT monitoring is
// unavailable on this host, Monitor degrades to a no-op: BWPoll observes
// nothing and never punishes, matching how internal/collectors/rdt.go
// tolerates a missing resctrl mount.
func NewMonitor(cfg Config) *Monitor {
	if cfg.MinThreadsLimit < 1 {
		cfg.MinThreadsLimit = 1
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	m := &Monitor{
		cfg:     cfg,
		logger:  logging.GetBandwidthLogger(),
		classOf: make(map[int]string),
		samples: make(map[int]*sample),
		stopCh:  make(chan struct{}),
	}
	rdtguard.WithLock(func() {
		m.rdtAvailable = rdt.MonSupported()
	})
	if !m.rdtAvailable {
		m.logger.Warn("RDT monitoring unsupported on this host, bandwidth subcontroller running as no-op")
		return m
	}
	go m.run()
	return m
}

// run is the background sampler. It owns every goresctrl call this package
// makes; sched_poll never waits on it directly.
func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

// sampleOnce reads every registered class's MBM-total-bytes counter and
// updates its cached rate. This is the only place in the package that takes
// rdtguard's lock or calls into goresctrl.
func (m *Monitor) sampleOnce() {
	nowUs := uint64(time.Now().UnixMicro())

	m.mu.Lock()
	classOf := make(map[int]string, len(m.classOf))
	for idx, className := range m.classOf {
		classOf[idx] = className
	}
	m.mu.Unlock()

	for idx, className := range classOf {
		bytesNow, ok := m.readMBMTotal(className)
		if !ok {
			continue
		}

		m.mu.Lock()
		s := m.samples[idx]
		if s == nil {
			s = &sample{}
			m.samples[idx] = s
		}
		if s.haveLast && nowUs > s.lastUs {
			dt := float64(nowUs-s.lastUs) / 1e6
			if dt > 0 {
				s.rate = float64(bytesNow-s.lastBytes) / dt
			}
		}
		s.lastBytes, s.lastUs, s.haveLast = bytesNow, nowUs, true
		m.mu.Unlock()
	}
}

// Register adds pid to the existing RDT class named ias-bw-<idx>, or to the
// "default" class when no such class exists; it does not create a class.
// The background sampler reads only the ias-bw-<idx> class, so a pid that
// was placed in the "default" class has no rate sampled.
func (m *Monitor) Register(pid, idx int) error {
	if !m.rdtAvailable {
		return nil
	}
	className := fmt.Sprintf("%s%d", classPrefix, idx)

	var err error
	rdtguard.WithLock(func() {
		class, exists := rdt.GetClass(className)
		if !exists {
			class, exists = rdt.GetClass("default")
			if !exists {
				err = fmt.Errorf("bandwidth: no default RDT class available to host monitoring group for pid %d", pid)
				return
			}
		}
		err = class.AddPids(fmt.Sprintf("%d", pid))
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.classOf[idx] = className
	m.samples[idx] = &sample{}
	m.mu.Unlock()
	return nil
}

// Unregister drops the bookkeeping for idx. The RDT monitoring group itself
// is reclaimed when the process's PID exits the resctrl group, matching
// internal/collectors/rdt.go's Close behavior.
func (m *Monitor) Unregister(idx int) {
	m.mu.Lock()
	delete(m.classOf, idx)
	delete(m.samples, idx)
	m.mu.Unlock()
}

// Close stops the background sampler. Safe to call more than once.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// BWPoll implements ias.BandwidthSubcontroller. It never touches RDT itself:
// it reads each proc's most recently sampled rate out of the cache run
// maintains and applies the punish/relax decision, so it can run inline in
// sched_poll without blocking.
func (m *Monitor) BWPoll(nowUs uint64, procs []*ias.IasProc) {
	if !m.rdtAvailable {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum float64
	for _, p := range procs {
		if p == nil {
			continue
		}
		if _, ok := m.classOf[p.Idx]; !ok {
			continue
		}
		s := m.samples[p.Idx]
		if s == nil {
			continue
		}
		sum += s.rate
		m.applyDecision(p, s.rate)
	}
	m.bwCurSum = sum
}

func (m *Monitor) applyDecision(p *ias.IasProc, rateBytesPerSec float64) {
	if rateBytesPerSec > m.cfg.ThresholdBytesPerSec {
		if p.ThreadsLimit > m.cfg.MinThreadsLimit {
			p.ThreadsLimit--
			m.bwPunish++
		}
		p.IsBWLimited = true
		return
	}

	if p.IsBWLimited {
		if p.ThreadsLimit < p.ThreadsMax {
			p.ThreadsLimit++
			m.bwRelax++
		}
		if p.ThreadsLimit >= p.ThreadsMax {
			p.IsBWLimited = false
		}
	}
}

// readMBMTotal reads the cumulative total-memory-bandwidth byte counter for
// className, summed across every monitored cache ID, mirroring how
// internal/collectors/rdt.go walks GetMonData().L3. Only ever called from
// the background sampler, never from BWPoll.
func (m *Monitor) readMBMTotal(className string) (uint64, bool) {
	var (
		total uint64
		found bool
	)
	rdtguard.WithLock(func() {
		class, exists := rdt.GetClass(className)
		if !exists {
			return
		}
		monData := class.GetMonData()
		for _, l3 := range monData.L3 {
			if v, ok := l3[mbmTotalKey]; ok {
				total += v
				found = true
			}
		}
	})
	return total, found
}

// Counts implements ias.BandwidthSubcontroller.
func (m *Monitor) Counts() (bwCur float64, bwPunish int64, bwRelax int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bwCurSum, m.bwPunish, m.bwRelax
}
