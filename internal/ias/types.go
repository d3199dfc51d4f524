// Package ias implements the Interference-Aware Scheduler: a hyperthread-aware
// CPU-core allocation policy for a kernel-bypass dataplane runtime. It decides,
// on each poll tick, which cores run which process's kthreads, balancing
// latency-critical (LC) processes with guaranteed core reservations against
// best-effort (BE) processes that only run on otherwise-idle cores.
package ias

import (
	"ias-scheduler/internal/bitset"
	"ias-scheduler/internal/lowersched"
	"ias-scheduler/internal/topology"
)

// IasProc is the per-process descriptor the policy maintains for every
// attached process.
type IasProc struct {
	PID int // opaque identifier from the host process abstraction
	Idx int // unique small integer in [0, NPROC), indexes the HT-pairing matrix

	ThreadsGuaranteed int // reserved core count, always even
	ThreadsMax        int // hard upper bound on concurrently running kthreads
	ThreadsLimit      int // dynamic upper bound <= ThreadsMax, tuned by the bandwidth subcontroller
	ThreadsActive     int // current number of cores running this process

	ClaimedCores bitset.Set // cores reserved for this process (LC priority)
	LocLastUs    []uint64   // per-core timestamp this process last ran there

	IsCongested bool // sticky "wants more cores" flag
	IsBWLimited bool // set by the bandwidth subcontroller

	HTMaxIPC     float64   // peak solo IPC observed
	HTPairingIPC []float64 // observed IPC paired with each other process's Idx
}

// ProcConfig is the attach-time configuration for a process.
type ProcConfig struct {
	GuaranteedCores int
	MaxCores        int
}

// LocalityScorer estimates how well a core suits a process based on
// recency of use. Must be pure and non-negative.
type LocalityScorer interface {
	LocScore(sd *IasProc, core int, nowUs uint64) float64
}

// HTSubcontroller estimates hyperthread-pairing interference and refreshes
// its IPC model on its own cadence.
type HTSubcontroller interface {
	// HTPairingScore estimates IPC interference between primary and secondary
	// sharing a hyperthread pair. secondary is nil if the sibling core is
	// unowned. Must be pure and non-negative.
	HTPairingScore(primary, secondary *IasProc) float64
	// HTPoll refreshes HTMaxIPC/HTPairingIPC on procs from fresh PMU samples.
	// Runs synchronously inside sched_poll: must not block. Fire-and-forget:
	// no error, no return value.
	HTPoll(nowUs uint64, procs []*IasProc)
}

// BandwidthSubcontroller adjusts thread limits based on observed
// memory-bandwidth pressure on its own cadence.
type BandwidthSubcontroller interface {
	// BWPoll adjusts ThreadsLimit/IsBWLimited on procs. Runs synchronously
	// inside sched_poll: must not block. Fire-and-forget: no error, no
	// return value.
	BWPoll(nowUs uint64, procs []*IasProc)
	// Counts returns the debug counters for the print line: current
	// bandwidth estimate and cumulative punish/relax decisions.
	Counts() (bwCur float64, bwPunish int64, bwRelax int64)
}

// Subcontrollers is the full scoring and cadence contract sched_poll drives.
type Subcontrollers interface {
	LocalityScorer
	HTSubcontroller
	BandwidthSubcontroller
}

// subcontrollers composes independently-implemented locality, HT, and
// bandwidth subcontrollers into a single Subcontrollers value by embedding;
// no glue code needed beyond construction.
type subcontrollers struct {
	LocalityScorer
	HTSubcontroller
	BandwidthSubcontroller
}

// NewSubcontrollers combines independently-testable locality, HT-pairing,
// and bandwidth subcontrollers into the Subcontrollers contract Scheduler
// expects.
func NewSubcontrollers(loc LocalityScorer, ht HTSubcontroller, bw BandwidthSubcontroller) Subcontrollers {
	return subcontrollers{LocalityScorer: loc, HTSubcontroller: ht, BandwidthSubcontroller: bw}
}

// Config holds the compile-time constants of the policy.
type Config struct {
	NPROC           int     // max concurrent processes
	HTWeight        float64 // IAS_HT_WEIGHT
	DebugPrintUs    uint64
	BWPollUs        uint64
	HTPollUs        uint64
}

// Scheduler is the IAS policy state. It is not internally synchronized: a
// single poller goroutine (the iokernel tick) owns it exclusively and must
// call every method from that one goroutine.
type Scheduler struct {
	cfg   Config
	topo  *topology.Topology
	lower lowersched.LowerScheduler
	sub   Subcontrollers

	cores []*IasProc // cores[c] is the process currently running on core c, or nil

	idleCores    bitset.Set
	claimedCores bitset.Set

	procs    []*IasProc // dense, indexed by Idx; entries may be nil tombstones
	procsNr  int        // one past the highest used index

	nowUs   uint64
	debugTs uint64
	bwTs    uint64
	htTs    uint64
}
