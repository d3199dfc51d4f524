package ias

// chooseCore searches allowed cores for the best placement for sd. When lc
// is true, only sd's claimed cores are considered (LC placement); otherwise
// only idle cores are considered (BE placement). Ties keep the
// earlier (lower-indexed) candidate; a non-positive best score yields no
// candidate at all. See spec.md §4.3.
func (s *Scheduler) chooseCore(sd *IasProc, lc bool) (int, bool) {
	bestCore := -1
	bestScore := 0.0

	s.topo.Allowed.ForEachSet(func(core int) bool {
		if lc {
			if !hasPriority(sd, core) {
				return true
			}
			if s.cores[core] == sd {
				return true
			}
		} else {
			if s.cores[core] != nil {
				return true
			}
		}

		sc := s.score(sd, core)
		if sc > bestScore {
			bestScore = sc
			bestCore = core
		}
		return true
	})

	if bestCore < 0 {
		return 0, false
	}
	return bestCore, true
}

// chooseKthread searches every attached, congested, under-limit process for
// the best-scoring candidate to run on core. See spec.md §4.4.
func (s *Scheduler) chooseKthread(core int) *IasProc {
	var best *IasProc
	bestScore := 0.0

	for _, sd := range s.procs {
		if sd == nil || !sd.IsCongested {
			continue
		}
		if sd.ThreadsActive >= sd.ThreadsLimit {
			continue
		}
		sc := s.score(sd, core)
		if sc > bestScore {
			bestScore = sc
			best = sd
		}
	}
	return best
}

// addKthread is the unified LC/BE entry point: it decides whether p still
// needs an LC core or a BE core, places it, and runs it there. See
// spec.md §4.5.
func (s *Scheduler) addKthread(p *IasProc) error {
	isLC := p.ThreadsActive < p.ThreadsGuaranteed

	if p.ThreadsActive >= p.ThreadsLimit {
		return newErr(ErrNoSpace, "pid %d at thread limit (%d)", p.PID, p.ThreadsLimit)
	}

	core, ok := s.chooseCore(p, isLC)
	if !ok {
		return newErr(ErrNoSpace, "no admissible core for pid %d (lc=%v)", p.PID, isLC)
	}

	return s.runKthreadOnCore(p, core)
}

// AddKthreadOnCore chooses a congested process for core and runs it there.
// This is the exported free function ias_add_kthread_on_core from
// spec.md §6.
func (s *Scheduler) AddKthreadOnCore(core int) error {
	sd := s.chooseKthread(core)
	if sd == nil {
		return newErr(ErrNoSpace, "no congested candidate for core %d", core)
	}
	return s.runKthreadOnCore(sd, core)
}
