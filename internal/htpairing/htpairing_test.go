package htpairing

import (
	"testing"

	"ias-scheduler/internal/ias"
)

func TestHTPairingScoreNilSecondaryUsesSoloCeiling(t *testing.T) {
	e := NewEstimator()
	defer e.Close()
	primary := &ias.IasProc{Idx: 0, HTMaxIPC: 1.5}

	if got := e.HTPairingScore(primary, nil); got != 1.5 {
		t.Fatalf("HTPairingScore(primary, nil) = %v, want 1.5 (solo ceiling)", got)
	}
}

func TestHTPairingScoreLooksUpPairedSample(t *testing.T) {
	e := NewEstimator()
	defer e.Close()
	primary := &ias.IasProc{Idx: 0, HTPairingIPC: []float64{0, 0.4, 0.9}}
	secondary := &ias.IasProc{Idx: 2}

	if got := e.HTPairingScore(primary, secondary); got != 0.9 {
		t.Fatalf("HTPairingScore = %v, want 0.9", got)
	}
}

func TestHTPairingScoreOutOfRangeSecondaryDefaultsZero(t *testing.T) {
	e := NewEstimator()
	defer e.Close()
	primary := &ias.IasProc{Idx: 0, HTPairingIPC: []float64{0.1}}
	secondary := &ias.IasProc{Idx: 5}

	if got := e.HTPairingScore(primary, secondary); got != 0 {
		t.Fatalf("HTPairingScore = %v, want 0 for an unobserved pair", got)
	}
}

func TestMinFloat(t *testing.T) {
	if minFloat(1.0, 2.0) != 1.0 {
		t.Fatalf("minFloat(1,2) should be 1")
	}
	if minFloat(3.0, 2.0) != 2.0 {
		t.Fatalf("minFloat(3,2) should be 2")
	}
}

func TestUnregisterOfUnknownIdxIsNoop(t *testing.T) {
	e := NewEstimator()
	defer e.Close()
	e.Unregister(42) // must not panic on an idx that was never registered
}

// HTPoll must never touch a perf counter itself; it only consumes whatever
// the background sampler has already placed in the cache.
func TestHTPollReadsFromCacheOnly(t *testing.T) {
	e := NewEstimator()
	defer e.Close()
	e.ipc[0] = 2.0
	e.ipc[1] = 1.0

	a := &ias.IasProc{Idx: 0, ThreadsActive: 1, HTPairingIPC: make([]float64, 2)}
	b := &ias.IasProc{Idx: 1, ThreadsActive: 1, HTPairingIPC: make([]float64, 2)}

	e.HTPoll(0, []*ias.IasProc{a, b})

	if a.HTMaxIPC != 2.0 {
		t.Fatalf("a.HTMaxIPC = %v, want 2.0", a.HTMaxIPC)
	}
	if b.HTMaxIPC != 1.0 {
		t.Fatalf("b.HTMaxIPC = %v, want 1.0", b.HTMaxIPC)
	}
	if a.HTPairingIPC[1] != 1.0 {
		t.Fatalf("a.HTPairingIPC[1] = %v, want 1.0 (min of 2.0, 1.0)", a.HTPairingIPC[1])
	}
	if b.HTPairingIPC[0] != 1.0 {
		t.Fatalf("b.HTPairingIPC[0] = %v, want 1.0", b.HTPairingIPC[0])
	}
}
