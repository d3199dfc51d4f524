package ias

import "ias-scheduler/internal/bitset"

// NotifyCoreNeeded reports that p needs another core right now. See
// spec.md §4.6.
func (s *Scheduler) NotifyCoreNeeded(p *IasProc) error {
	return s.addKthread(p)
}

// NotifyCongested is the periodic congestion hint from p: threads and io are
// bitmaps of pending work. An empty pair clears is_congested. Otherwise, if
// p is not already congested, it attempts one immediate placement before
// falling back to the sticky flag. See spec.md §4.6.
func (s *Scheduler) NotifyCongested(p *IasProc, threads, io bitset.Set) {
	if threads.PopCount()+io.PopCount() == 0 {
		p.IsCongested = false
		return
	}

	if p.IsCongested {
		return
	}

	if err := s.addKthread(p); err == nil {
		return
	}

	p.IsCongested = true
}
