package ias

import "ias-scheduler/internal/bitset"

// Attach registers a new process with the policy, reserving its guaranteed
// cores at hyperthread-pair granularity. See spec.md §4.1.
func (s *Scheduler) Attach(pid int, cfg ProcConfig) (*IasProc, error) {
	if s.procsNr == s.cfg.NPROC {
		return nil, newErr(ErrNoSpace, "process table full (%d procs)", s.cfg.NPROC)
	}
	if cfg.GuaranteedCores%2 != 0 {
		return nil, newErr(ErrInvalid, "guaranteed_cores %d is odd", cfg.GuaranteedCores)
	}

	p := &IasProc{
		PID:               pid,
		ThreadsGuaranteed: cfg.GuaranteedCores,
		ThreadsMax:        cfg.MaxCores,
		ThreadsLimit:      cfg.MaxCores,
		LocLastUs:         make([]uint64, s.topo.NCPU),
		HTPairingIPC:      make([]float64, s.cfg.NPROC),
	}
	p.ClaimedCores = bitset.New(s.topo.NCPU)

	need := cfg.GuaranteedCores
	for need > 0 {
		core := s.claimedCores.FindFirstCleared()
		if core == s.topo.NCPU {
			s.claimedCores.XorInPlace(p.ClaimedCores)
			return nil, newErr(ErrNoSpace, "no claimed-core pair available for %d guaranteed cores", cfg.GuaranteedCores)
		}
		sib := s.topo.Sibling(core)

		p.ClaimedCores.Set(core)
		s.claimedCores.Set(core)
		p.ClaimedCores.Set(sib)
		s.claimedCores.Set(sib)
		need -= 2
	}

	idx := -1
	for i := 0; i < s.procsNr; i++ {
		if s.procs[i] == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = s.procsNr
		if idx == len(s.procs) {
			s.procs = append(s.procs, nil)
		}
		s.procsNr++
	}
	p.Idx = idx
	s.procs[idx] = p

	log.WithFields(map[string]interface{}{
		"pid":        pid,
		"idx":        idx,
		"guaranteed": cfg.GuaranteedCores,
		"claimed":    p.ClaimedCores.Cores(),
	}).Info("ias: process attached")

	return p, nil
}

// Detach removes p from the policy, releasing the cores it currently
// occupies. It does not release p's claimed-core reservation, and it shrinks
// the process-index high-water mark only when p held the topmost index — see
// spec.md §9 open questions 1 and 2, reproduced here faithfully.
func (s *Scheduler) Detach(p *IasProc) {
	if p == nil {
		return
	}
	s.procs[p.Idx] = nil
	if p.Idx == s.procsNr-1 {
		s.procsNr--
	}

	for c := range s.cores {
		if s.cores[c] == p {
			s.cores[c] = nil
		}
	}

	log.WithFields(map[string]interface{}{"pid": p.PID, "idx": p.Idx}).Info("ias: process detached")
}
