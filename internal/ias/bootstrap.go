package ias

import (
	"ias-scheduler/internal/bitset"
	"ias-scheduler/internal/lowersched"
	"ias-scheduler/internal/logging"
	"ias-scheduler/internal/topology"
)

var log = logging.GetSchedulerLogger()

// New constructs an IAS scheduler bound to topo. It seeds claimedCores with
// the complement of the allowed-cores mask, so the attach reservation loop
// can never pick a core outside what the lower scheduler allows — the
// sentinel-owner trick from spec.md §4.7.
//
// New itself never fails on a well-formed topology; the only error path is
// malformed caller-supplied topology, which is a configuration mistake
// distinct from the runtime failure kinds in errors.go.
func New(cfg Config, topo *topology.Topology, lower lowersched.LowerScheduler, sub Subcontrollers) (*Scheduler, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if cfg.NPROC <= 0 {
		cfg.NPROC = 64
	}

	claimed := bitset.New(topo.NCPU)
	claimed.Fill()
	claimed.AndNotInPlace(topo.Allowed)

	s := &Scheduler{
		cfg:          cfg,
		topo:         topo,
		lower:        lower,
		sub:          sub,
		cores:        make([]*IasProc, topo.NCPU),
		idleCores:    bitset.New(topo.NCPU),
		claimedCores: claimed,
		procs:        make([]*IasProc, 0, cfg.NPROC),
	}

	log.WithFields(map[string]interface{}{
		"ncpu":    topo.NCPU,
		"allowed": topo.Allowed.PopCount(),
	}).Info("ias: scheduler initialized")

	return s, nil
}

// NCPU reports the number of logical cores the scheduler was built for.
func (s *Scheduler) NCPU() int { return s.topo.NCPU }

// NowUs returns the scheduler's current notion of time (last value observed
// via Poll).
func (s *Scheduler) NowUs() uint64 { return s.nowUs }

// ClaimedCores returns a read-only snapshot of the global claimed-cores
// bitmap, for invariant checks in tests.
func (s *Scheduler) ClaimedCores() bitset.Set { return s.claimedCores.Clone() }

// IdleCores returns a read-only snapshot of the global idle-cores bitmap.
func (s *Scheduler) IdleCores() bitset.Set { return s.idleCores.Clone() }

// UnclaimedAllowedCores returns every allowed core not presently claimed by
// any process's LC reservation — the set a caller should feed into the
// first Poll call as idleCores, since s.idleCores starts empty at New and
// only grows from explicit idle notifications afterward.
func (s *Scheduler) UnclaimedAllowedCores() bitset.Set {
	cores := s.topo.Allowed.Clone()
	cores.AndNotInPlace(s.claimedCores)
	return cores
}

// CoreOwner returns the process currently assigned to core, or nil.
func (s *Scheduler) CoreOwner(core int) *IasProc {
	if core < 0 || core >= len(s.cores) {
		return nil
	}
	return s.cores[core]
}

// Proc returns the attached process at idx, or nil if the slot is a
// tombstone or out of range.
func (s *Scheduler) Proc(idx int) *IasProc {
	if idx < 0 || idx >= len(s.procs) {
		return nil
	}
	return s.procs[idx]
}

// AllProcs returns every live attached process, in ascending index order.
func (s *Scheduler) AllProcs() []*IasProc {
	out := make([]*IasProc, 0, len(s.procs))
	for _, p := range s.procs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
