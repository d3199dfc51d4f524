package ias

import (
	"errors"
	"testing"

	"ias-scheduler/internal/bitset"
	"ias-scheduler/internal/lowersched"
	"ias-scheduler/internal/topology"
)

// fakeSub is a deterministic, test-controlled Subcontrollers implementation.
// Locality and HT-pairing scores are looked up from maps keyed by
// (proc idx, core) and (primary idx, secondary idx) respectively, defaulting
// to zero, matching the "all scores 0 unless stated" convention in
// spec.md §8.
type fakeSub struct {
	loc map[[2]int]float64 // [procIdx][core] -> score
	ht  map[[2]int]float64 // [primaryIdx][secondaryIdx] -> score; secondaryIdx -1 means nil secondary

	bwCur             float64
	bwPunish, bwRelax int64
}

func newFakeSub() *fakeSub {
	return &fakeSub{loc: map[[2]int]float64{}, ht: map[[2]int]float64{}}
}

func (f *fakeSub) setLoc(procIdx, core int, v float64) { f.loc[[2]int{procIdx, core}] = v }

func (f *fakeSub) LocScore(sd *IasProc, core int, nowUs uint64) float64 {
	return f.loc[[2]int{sd.Idx, core}]
}

func (f *fakeSub) HTPairingScore(primary, secondary *IasProc) float64 {
	sidx := -1
	if secondary != nil {
		sidx = secondary.Idx
	}
	return f.ht[[2]int{primary.Idx, sidx}]
}

func (f *fakeSub) BWPoll(nowUs uint64, procs []*IasProc) {}
func (f *fakeSub) HTPoll(nowUs uint64, procs []*IasProc) {}
func (f *fakeSub) Counts() (float64, int64, int64)       { return f.bwCur, f.bwPunish, f.bwRelax }

// newTestScheduler builds a 4-core, paired-sibling (0-1, 2-3) scheduler with
// all cores allowed, HT weight 1.0, and cadences high enough that Poll never
// auto-fires the subcontrollers unless a test wants it to.
func newTestScheduler(t *testing.T) (*Scheduler, *lowersched.SimLowerScheduler, *fakeSub) {
	t.Helper()
	topo := topology.NewPairedTopology(4, nil)
	lower := lowersched.NewSimLowerScheduler(nil)
	sub := newFakeSub()
	cfg := Config{NPROC: 8, HTWeight: 1.0, DebugPrintUs: 1 << 62, BWPollUs: 1 << 62, HTPollUs: 1 << 62}
	sched, err := New(cfg, topo, lower, sub)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return sched, lower, sub
}

// S1 — attach with odd guaranteed fails.
func TestAttachOddGuaranteedFails(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.Attach(100, ProcConfig{GuaranteedCores: 1, MaxCores: 2})
	if !errors.Is(err, Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	if len(s.AllProcs()) != 0 {
		t.Fatalf("registry should be unchanged after failed attach")
	}
}

// S2 — attach reserves pair granularity.
func TestAttachReservesLowestFreePair(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	p, err := s.Attach(100, ProcConfig{GuaranteedCores: 2, MaxCores: 2})
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	if !p.ClaimedCores.Test(0) || !p.ClaimedCores.Test(1) {
		t.Fatalf("expected claimed cores {0,1}, got %v", p.ClaimedCores.Cores())
	}
	if got := s.ClaimedCores().Cores(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected global claimed {0,1}, got %v", got)
	}
}

// S3 — notify_congested triggers LC placement, preferring the higher loc score.
func TestNotifyCongestedTriggersLCPlacement(t *testing.T) {
	s, lower, sub := newTestScheduler(t)
	p, err := s.Attach(100, ProcConfig{GuaranteedCores: 2, MaxCores: 2})
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	lower.SetThreadsAvail(100, 4)
	sub.setLoc(p.Idx, 0, 1.0)
	sub.setLoc(p.Idx, 1, 0.5)

	threads := bitset.New(4)
	threads.Set(0)
	io := bitset.New(4)
	s.NotifyCongested(p, threads, io)

	if s.CoreOwner(0) != p {
		t.Fatalf("expected core 0 owned by p, owner=%v", s.CoreOwner(0))
	}
	if p.ThreadsActive != 1 {
		t.Fatalf("ThreadsActive = %d, want 1", p.ThreadsActive)
	}
	if p.IsCongested {
		t.Fatalf("expected IsCongested cleared after successful placement")
	}
}

// S4 — BE cannot take a claimed core of another; with positive loc scores on
// free cores it does get placed on one of them.
func TestBECannotTakeClaimedCoreOfAnother(t *testing.T) {
	s, _, sub := newTestScheduler(t)
	p1, err := s.Attach(1, ProcConfig{GuaranteedCores: 2, MaxCores: 2})
	if err != nil {
		t.Fatalf("attach p1: %v", err)
	}
	p2, err := s.Attach(2, ProcConfig{GuaranteedCores: 0, MaxCores: 2})
	if err != nil {
		t.Fatalf("attach p2: %v", err)
	}
	_ = p1

	sub.setLoc(p2.Idx, 2, 1.0)
	sub.setLoc(p2.Idx, 3, 1.0)

	idle := bitset.New(4)
	idle.Set(0)
	idle.Set(1)
	idle.Set(2)
	idle.Set(3)
	p2.IsCongested = true
	s.Poll(1000, idle)

	if s.CoreOwner(0) == p2 || s.CoreOwner(1) == p2 {
		t.Fatalf("BE process must not occupy another process's claimed cores")
	}
	if s.CoreOwner(2) != p2 && s.CoreOwner(3) != p2 {
		t.Fatalf("expected p2 placed on core 2 or 3, cores=%v,%v", s.CoreOwner(2), s.CoreOwner(3))
	}
}

// S5 — detach releases occupancy but not the claimed-core reservation.
func TestDetachReleasesOccupancyNotReservation(t *testing.T) {
	s, lower, sub := newTestScheduler(t)
	p, err := s.Attach(100, ProcConfig{GuaranteedCores: 2, MaxCores: 2})
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	lower.SetThreadsAvail(100, 4)
	sub.setLoc(p.Idx, 0, 1.0)

	threads := bitset.New(4)
	threads.Set(0)
	s.NotifyCongested(p, threads, bitset.New(4))
	if s.CoreOwner(0) != p {
		t.Fatalf("setup: expected core 0 owned by p")
	}

	idx := p.Idx
	s.Detach(p)

	if s.CoreOwner(0) != nil {
		t.Fatalf("expected core 0 vacated after detach, got %v", s.CoreOwner(0))
	}
	if s.Proc(idx) != nil {
		t.Fatalf("expected process slot cleared after detach")
	}
	if got := s.ClaimedCores().Cores(); len(got) != 2 {
		t.Fatalf("expected claimed_cores to still report the leaked reservation {0,1}, got %v", got)
	}
}

// S6 — idle poll re-hosts a congested peer.
func TestIdlePollRehostsCongestedPeer(t *testing.T) {
	s, lower, sub := newTestScheduler(t)
	_, err := s.Attach(1, ProcConfig{GuaranteedCores: 2, MaxCores: 2})
	if err != nil {
		t.Fatalf("attach p1: %v", err)
	}
	p2, err := s.Attach(2, ProcConfig{GuaranteedCores: 0, MaxCores: 4})
	if err != nil {
		t.Fatalf("attach p2: %v", err)
	}
	lower.SetThreadsAvail(2, 4)
	p2.IsCongested = true
	sub.setLoc(p2.Idx, 2, 1.0)

	idle := bitset.New(4)
	idle.Set(2)
	s.Poll(500, idle)

	if s.CoreOwner(2) != p2 {
		t.Fatalf("expected p2 placed on core 2, got %v", s.CoreOwner(2))
	}
	if s.IdleCores().Test(2) {
		t.Fatalf("expected core 2 cleared from idleCores after placement")
	}
	if p2.ThreadsActive != 1 {
		t.Fatalf("ThreadsActive = %d, want 1", p2.ThreadsActive)
	}
}

// Invariant: sibling pairing — every claimed core's sibling is also claimed
// for the same process.
func TestInvariantClaimedCoresIncludeSiblingPairs(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	p, err := s.Attach(1, ProcConfig{GuaranteedCores: 4, MaxCores: 4})
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	for _, c := range p.ClaimedCores.Cores() {
		sib := s.topo.Sibling(c)
		if !p.ClaimedCores.Test(sib) {
			t.Fatalf("core %d claimed without its sibling %d", c, sib)
		}
	}
}

// Invariant: run_kthread_on_core stamps the departing owner's loc_last_us
// with the now_us observed at the call site.
func TestRunKthreadOnCoreStampsDepartingOwner(t *testing.T) {
	s, lower, sub := newTestScheduler(t)
	p1, _ := s.Attach(1, ProcConfig{GuaranteedCores: 0, MaxCores: 2})
	p2, _ := s.Attach(2, ProcConfig{GuaranteedCores: 0, MaxCores: 2})
	lower.SetThreadsAvail(1, 4)
	lower.SetThreadsAvail(2, 4)

	s.nowUs = 1000
	if err := s.runKthreadOnCore(p1, 0); err != nil {
		t.Fatalf("runKthreadOnCore p1: %v", err)
	}

	s.nowUs = 2000
	sub.setLoc(p2.Idx, 0, 1.0)
	if err := s.runKthreadOnCore(p2, 0); err != nil {
		t.Fatalf("runKthreadOnCore p2: %v", err)
	}

	if p1.LocLastUs[0] != 2000 {
		t.Fatalf("LocLastUs[0] = %d, want 2000", p1.LocLastUs[0])
	}
	if p1.ThreadsActive != 0 {
		t.Fatalf("p1.ThreadsActive = %d, want 0 after eviction", p1.ThreadsActive)
	}
}

// Placement never assigns a BE process to a non-idle core.
func TestBEPlacementOnlyTakesIdleCores(t *testing.T) {
	s, lower, sub := newTestScheduler(t)
	p1, _ := s.Attach(1, ProcConfig{GuaranteedCores: 0, MaxCores: 2})
	p2, _ := s.Attach(2, ProcConfig{GuaranteedCores: 0, MaxCores: 2})
	lower.SetThreadsAvail(1, 4)
	lower.SetThreadsAvail(2, 4)

	sub.setLoc(p1.Idx, 0, 1.0)
	if err := s.addKthread(p1); err != nil {
		t.Fatalf("addKthread p1: %v", err)
	}
	if s.CoreOwner(0) != p1 {
		t.Fatalf("expected p1 on core 0")
	}

	sub.setLoc(p2.Idx, 0, 5.0) // even with a strong score, core 0 is occupied
	core, ok := s.chooseCore(p2, false)
	if ok && core == 0 {
		t.Fatalf("BE choose_core must not select an occupied core")
	}
}

// Error-kind coverage for attach/placement failures.
func TestAttachNoSpaceWhenProcsFull(t *testing.T) {
	topo := topology.NewPairedTopology(2, nil)
	lower := lowersched.NewSimLowerScheduler(nil)
	sub := newFakeSub()
	s, err := New(Config{NPROC: 1, HTWeight: 1.0}, topo, lower, sub)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Attach(1, ProcConfig{GuaranteedCores: 0, MaxCores: 1}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	_, err = s.Attach(2, ProcConfig{GuaranteedCores: 0, MaxCores: 1})
	if !errors.Is(err, NoSpace) {
		t.Fatalf("expected NoSpace, got %v", err)
	}
}

func TestRunKthreadOnCoreBusyWhenStuck(t *testing.T) {
	s, lower, _ := newTestScheduler(t)
	p, _ := s.Attach(1, ProcConfig{GuaranteedCores: 0, MaxCores: 1})
	lower.SetThreadsAvail(1, 0)
	err := s.runKthreadOnCore(p, 0)
	if !errors.Is(err, Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}
}
