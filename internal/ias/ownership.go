package ias

// cleanupCore stamps the departing owner's last-seen timestamp for core and
// decrements its active-thread count. It does not touch idleCores; callers
// decide whether the core becomes idle or gets a new owner.
func (s *Scheduler) cleanupCore(core int) {
	sd := s.cores[core]
	if sd != nil {
		sd.LocLastUs[core] = s.nowUs
		sd.ThreadsActive--
	}
	s.cores[core] = nil
}

// runKthreadOnCore wakes p on core, evicting whatever was there first.
func (s *Scheduler) runKthreadOnCore(p *IasProc, core int) error {
	if s.lower.ThreadsAvail(p.PID) == 0 {
		return newErr(ErrBusy, "pid %d has no available kthreads (stuck detach)", p.PID)
	}
	if err := s.lower.RunOnCore(p.PID, core); err != nil {
		return newErr(ErrBusy, "sched_run_on_core(pid=%d, core=%d): %v", p.PID, core, err)
	}

	s.cleanupCore(core)
	s.cores[core] = p
	s.idleCores.Clear(core)
	p.ThreadsActive++
	return nil
}

// IdleOnCore evicts whatever is running on core and marks it idle. This is
// the exported free function ias_idle_on_core from spec.md §6.
func (s *Scheduler) IdleOnCore(core int) error {
	if err := s.lower.IdleOnCore(0, core); err != nil {
		return newErr(ErrBusy, "sched_idle_on_core(core=%d): %v", core, err)
	}
	s.cleanupCore(core)
	s.cores[core] = nil
	s.idleCores.Set(core)
	return nil
}
