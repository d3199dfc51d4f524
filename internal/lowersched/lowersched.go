// Package lowersched defines the narrow interface IAS uses to reach the
// lower sched_* layer that performs the actual core-wakeup syscalls. That
// layer — the real iokernel scheduler — is an external collaborator and out
// of scope for this repository; SimLowerScheduler is a fake used by tests,
// the CLI demo, and local development.
package lowersched

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LowerScheduler is the interface IAS consumes from the lower scheduler.
// Implementations must return promptly: no blocking, no retries.
type LowerScheduler interface {
	// ThreadsAvail reports how many kthreads of pid are not presently stuck
	// mid-detach. A stuck detaching kthread races with placement; IAS treats
	// zero as a transient refusal.
	ThreadsAvail(pid int) int
	// RunOnCore wakes pid's kthread on core.
	RunOnCore(pid int, core int) error
	// IdleOnCore parks whatever is running on core. flags is opaque and
	// passed through verbatim, mirroring sched_idle_on_core(flags, core).
	IdleOnCore(flags int, core int) error
}

// ErrBusy is returned by SimLowerScheduler when a core or pid is temporarily
// unavailable, mirroring the real scheduler's -EBUSY.
var ErrBusy = fmt.Errorf("lowersched: busy")

// SimLowerScheduler is an in-memory fake lower scheduler, grounded on the
// teacher's PhysicalCoreAllocator: a mutex-guarded map of reservations with a
// simple "reserve, release, query" API, repurposed here from container CPU
// pinning to per-core kthread wakeups.
type SimLowerScheduler struct {
	mu     sync.Mutex
	logger logrus.FieldLogger

	threadsAvail map[int]int  // pid -> available kthread count
	stuck        map[int]bool // core -> true while a simulated eviction is in flight
	runningOn    map[int]int  // core -> pid, for introspection in tests
}

// NewSimLowerScheduler constructs a fake lower scheduler. logger may be nil.
func NewSimLowerScheduler(logger logrus.FieldLogger) *SimLowerScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SimLowerScheduler{
		logger:       logger,
		threadsAvail: make(map[int]int),
		stuck:        make(map[int]bool),
		runningOn:    make(map[int]int),
	}
}

// SetThreadsAvail configures how many available kthreads pid reports. Tests
// use 0 to simulate a stuck detach and force a Busy error from IAS.
func (s *SimLowerScheduler) SetThreadsAvail(pid int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadsAvail[pid] = n
}

// SetCoreStuck forces IdleOnCore/RunOnCore to fail on core until cleared.
func (s *SimLowerScheduler) SetCoreStuck(core int, stuck bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck[core] = stuck
}

func (s *SimLowerScheduler) ThreadsAvail(pid int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.threadsAvail[pid]; ok {
		return n
	}
	return 1 // default: a freshly attached process always has slack
}

func (s *SimLowerScheduler) RunOnCore(pid int, core int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stuck[core] {
		s.logger.WithFields(logrus.Fields{"pid": pid, "core": core}).Debug("RunOnCore: core busy")
		return ErrBusy
	}
	s.runningOn[core] = pid
	return nil
}

func (s *SimLowerScheduler) IdleOnCore(flags int, core int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stuck[core] {
		s.logger.WithField("core", core).Debug("IdleOnCore: core busy")
		return ErrBusy
	}
	delete(s.runningOn, core)
	return nil
}

// RunningOn reports which pid the simulator believes is running on core, for
// assertions in tests.
func (s *SimLowerScheduler) RunningOn(core int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid, ok := s.runningOn[core]
	return pid, ok
}
