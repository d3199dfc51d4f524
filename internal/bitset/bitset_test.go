package bitset

import "testing"

func TestSetClearTest(t *testing.T) {
	s := New(4)
	if s.Test(0) {
		t.Fatalf("expected core 0 clear initially")
	}
	s.Set(0)
	s.Set(2)
	if !s.Test(0) || !s.Test(2) {
		t.Fatalf("expected cores 0,2 set")
	}
	if s.Test(1) || s.Test(3) {
		t.Fatalf("expected cores 1,3 clear")
	}
	s.Clear(0)
	if s.Test(0) {
		t.Fatalf("expected core 0 clear after Clear")
	}
}

func TestPopCountAndCores(t *testing.T) {
	s := New(8)
	s.Set(1)
	s.Set(3)
	s.Set(7)
	if got := s.PopCount(); got != 3 {
		t.Fatalf("PopCount() = %d, want 3", got)
	}
	want := []int{1, 3, 7}
	got := s.Cores()
	if len(got) != len(want) {
		t.Fatalf("Cores() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Cores() = %v, want %v", got, want)
		}
	}
}

func TestFindFirstCleared(t *testing.T) {
	s := New(4)
	s.Set(0)
	s.Set(1)
	if got := s.FindFirstCleared(); got != 2 {
		t.Fatalf("FindFirstCleared() = %d, want 2", got)
	}
	s.Fill()
	if got := s.FindFirstCleared(); got != 4 {
		t.Fatalf("FindFirstCleared() on full set = %d, want 4 (n)", got)
	}
}

func TestOrXorAndNotInPlace(t *testing.T) {
	a := New(4)
	a.Set(0)
	b := New(4)
	b.Set(1)

	a.OrInPlace(b)
	if !a.Test(0) || !a.Test(1) {
		t.Fatalf("OrInPlace failed: %v", a.Cores())
	}

	c := a.Clone()
	c.XorInPlace(b)
	if c.Test(1) {
		t.Fatalf("XorInPlace should have cleared bit shared with b")
	}
	if !c.Test(0) {
		t.Fatalf("XorInPlace should have preserved bit 0")
	}

	d := a.Clone()
	d.AndNotInPlace(b)
	if d.Test(1) {
		t.Fatalf("AndNotInPlace should have cleared bit 1")
	}
	if !d.Test(0) {
		t.Fatalf("AndNotInPlace should have preserved bit 0")
	}
}

func TestCloneIndependence(t *testing.T) {
	a := New(4)
	a.Set(0)
	b := a.Clone()
	b.Set(1)
	if a.Test(1) {
		t.Fatalf("Clone should be independent of original")
	}
}

func TestSpansMultipleWords(t *testing.T) {
	s := New(130)
	s.Set(64)
	s.Set(129)
	if !s.Test(64) || !s.Test(129) {
		t.Fatalf("expected bits at word boundaries to be set")
	}
	if got := s.PopCount(); got != 2 {
		t.Fatalf("PopCount() = %d, want 2", got)
	}
}
