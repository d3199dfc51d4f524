package ias

import "ias-scheduler/internal/bitset"

// Poll is the main scheduler tick (ias_sched_poll in spec.md §4.6). It
// advances the clock, fires any subcontroller whose cadence has elapsed,
// absorbs freshly idle cores, and attempts to fill every still-idle core
// with a congested process. Must not block: the subcontroller calls run
// synchronously and are expected to return promptly.
func (s *Scheduler) Poll(nowUs uint64, idleCores bitset.Set) {
	s.nowUs = nowUs

	if nowUs-s.debugTs >= s.cfg.DebugPrintUs {
		s.debugTs = nowUs
		s.PrintDebugInfo()
	}
	if nowUs-s.bwTs >= s.cfg.BWPollUs {
		s.bwTs = nowUs
		s.sub.BWPoll(nowUs, s.AllProcs())
	}
	if nowUs-s.htTs >= s.cfg.HTPollUs {
		s.htTs = nowUs
		s.sub.HTPoll(nowUs, s.AllProcs())
	}

	if idleCores.PopCount() != 0 {
		s.idleCores.OrInPlace(idleCores)
	}

	// Ascending core order, matching sched_for_each_allowed_core's iteration.
	// cleanupCore does not clear the idle bit; only a successful
	// runKthreadOnCore does, via AddKthreadOnCore. Cores with no congested
	// candidate stay marked idle and are retried next tick.
	s.idleCores.ForEachSet(func(core int) bool {
		if owner := s.cores[core]; owner != nil {
			owner.IsCongested = false
		}
		s.cleanupCore(core)
		_ = s.AddKthreadOnCore(core)
		return true
	})
}
