// Package htpairing implements IAS's hyperthread-pairing subcontroller: it
// samples per-process IPC through hardware performance counters and turns
// those samples into the HTPairingScore term the placement scorer consults,
// grounded on the go-perf-based PMU sampling in
// internal/collectors/perf.go.
package htpairing

import (
	"fmt"
	"sync"
	"time"

	"ias-scheduler/internal/ias"
	"ias-scheduler/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

const defaultSampleInterval = 50 * time.Millisecond

type counterPair struct {
	instructions *perf.Event
	cycles       *perf.Event

	lastInstructions uint64
	lastCycles       uint64
	haveLast         bool
}

// Estimator is the concrete ias.HTSubcontroller. HTPoll is called
// synchronously from sched_poll and must not block, so the perf counter
// reads happen on a background goroutine (run) that refreshes a
// mutex-guarded cache of per-process IPC samples; HTPoll only ever reads
// that cache and writes the cheap derived results into the *IasProc fields
// it owns as the single poller goroutine.
type Estimator struct {
	logger *logrus.Logger

	sampleInterval time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once

	mu       sync.Mutex
	counters map[int]*counterPair // proc idx -> open PMU counters
	ipc      map[int]float64      // proc idx -> most recently sampled solo IPC
}

// NewEstimator constructs an HT-pairing subcontroller with no registered
// processes and starts its background sampler.
func NewEstimator() *Estimator {
	e := &Estimator{
		logger:         logging.GetHTPairingLogger(),
		sampleInterval: defaultSampleInterval,
		stopCh:         make(chan struct{}),
		counters:       make(map[int]*counterPair),
		ipc:            make(map[int]float64),
	}
	go e.run()
	return e
}

// run is the background sampler. It owns every perf syscall this package
// makes; HTPoll never waits on it directly.
func (e *Estimator) run() {
	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sampleOnce()
		}
	}
}

// sampleOnce reads every registered process's instruction and cycle
// counters and updates its cached IPC. This is the only place in the
// package that touches a perf.Event.
func (e *Estimator) sampleOnce() {
	e.mu.Lock()
	counters := make(map[int]*counterPair, len(e.counters))
	for idx, c := range e.counters {
		counters[idx] = c
	}
	e.mu.Unlock()

	for idx, c := range counters {
		ipc, ok := e.readIPC(c)
		if !ok {
			continue
		}
		e.mu.Lock()
		e.ipc[idx] = ipc
		e.mu.Unlock()
	}
}

// Register opens per-process instruction and cycle counters for pid, scoped
// to any CPU so the estimator tracks IPC regardless of which core the
// scheduler currently runs it on, mirroring the per-event-per-counter
// construction in internal/collectors/perf.go (there scoped to a cgroup
// across all CPUs; here scoped to one pid across all CPUs).
func (e *Estimator) Register(pid, idx int) error {
	insnAttr := &perf.Attr{}
	perf.Instructions.Configure(insnAttr)
	insnAttr.CountFormat.Enabled = true
	insnAttr.CountFormat.Running = true
	insnEvent, err := perf.Open(insnAttr, pid, -1, nil)
	if err != nil {
		return fmt.Errorf("htpairing: open instructions counter for pid %d: %w", pid, err)
	}

	cyclesAttr := &perf.Attr{}
	perf.CPUCycles.Configure(cyclesAttr)
	cyclesAttr.CountFormat.Enabled = true
	cyclesAttr.CountFormat.Running = true
	cyclesEvent, err := perf.Open(cyclesAttr, pid, -1, nil)
	if err != nil {
		insnEvent.Close()
		return fmt.Errorf("htpairing: open cycles counter for pid %d: %w", pid, err)
	}

	if err := insnEvent.Enable(); err != nil {
		insnEvent.Close()
		cyclesEvent.Close()
		return fmt.Errorf("htpairing: enable instructions counter for pid %d: %w", pid, err)
	}
	if err := cyclesEvent.Enable(); err != nil {
		insnEvent.Close()
		cyclesEvent.Close()
		return fmt.Errorf("htpairing: enable cycles counter for pid %d: %w", pid, err)
	}

	e.mu.Lock()
	e.counters[idx] = &counterPair{instructions: insnEvent, cycles: cyclesEvent}
	delete(e.ipc, idx)
	e.mu.Unlock()
	return nil
}

// Unregister closes idx's PMU counters.
func (e *Estimator) Unregister(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.counters[idx]; ok {
		c.instructions.Close()
		c.cycles.Close()
		delete(e.counters, idx)
	}
	delete(e.ipc, idx)
}

// Close stops the background sampler. Safe to call more than once.
func (e *Estimator) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// HTPoll implements ias.HTSubcontroller. It never reads a perf counter
// itself: it reads each registered process's most recently sampled solo IPC
// out of the cache run maintains, refreshes HTMaxIPC, and derives a pairwise
// IPC estimate for every pair of currently active processes as the lesser
// of the two solo samples, approximating shared hyperthread contention
// without requiring this package to know current core ownership.
func (e *Estimator) HTPoll(nowUs uint64, procs []*ias.IasProc) {
	e.mu.Lock()
	sample := make(map[int]float64, len(procs))
	for _, p := range procs {
		if p == nil || p.ThreadsActive == 0 {
			continue
		}
		ipc, ok := e.ipc[p.Idx]
		if !ok {
			continue
		}
		sample[p.Idx] = ipc
	}
	e.mu.Unlock()

	for _, p := range procs {
		if p == nil {
			continue
		}
		ipc, ok := sample[p.Idx]
		if !ok {
			continue
		}
		if ipc > p.HTMaxIPC {
			p.HTMaxIPC = ipc
		}
	}

	for _, p := range procs {
		if p == nil {
			continue
		}
		pIPC, ok := sample[p.Idx]
		if !ok {
			continue
		}
		for _, other := range procs {
			if other == nil || other.Idx == p.Idx {
				continue
			}
			oIPC, ok := sample[other.Idx]
			if !ok {
				continue
			}
			if other.Idx >= len(p.HTPairingIPC) {
				continue
			}
			p.HTPairingIPC[other.Idx] = minFloat(pIPC, oIPC)
		}
	}
}

// readIPC is only ever called from the background sampler, never from
// HTPoll.
func (e *Estimator) readIPC(c *counterPair) (float64, bool) {
	insnCount, err := c.instructions.ReadCount()
	if err != nil {
		return 0, false
	}
	cyclesCount, err := c.cycles.ReadCount()
	if err != nil {
		return 0, false
	}

	var ipc float64
	ok := false
	if c.haveLast {
		dInsn := uint64(insnCount.Value) - c.lastInstructions
		dCycles := uint64(cyclesCount.Value) - c.lastCycles
		if dCycles > 0 {
			ipc = float64(dInsn) / float64(dCycles)
			ok = true
		}
	}
	c.lastInstructions = uint64(insnCount.Value)
	c.lastCycles = uint64(cyclesCount.Value)
	c.haveLast = true
	return ipc, ok
}

// HTPairingScore implements ias.HTSubcontroller. It is a pure lookup: an
// idle or unowned sibling (secondary == nil) carries no pairing penalty, so
// primary is scored by its own solo ceiling; otherwise the most recent
// paired-IPC sample is returned, defaulting to zero (undetermined) until
// HTPoll has observed the pair at least once.
func (e *Estimator) HTPairingScore(primary, secondary *ias.IasProc) float64 {
	if secondary == nil {
		return primary.HTMaxIPC
	}
	if secondary.Idx >= len(primary.HTPairingIPC) {
		return 0
	}
	return primary.HTPairingIPC[secondary.Idx]
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
