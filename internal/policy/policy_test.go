package policy

import (
	"sync"
	"testing"
)

func TestDecide_ProbabilityZeroAlwaysRejects(t *testing.T) {
	p := New(NewStore(), 0)
	for i := 0; i < 100; i++ {
		if p.Decide("hunter2") {
			t.Fatal("probability 0 accepted a fresh password")
		}
	}
}

func TestDecide_ProbabilityOneAlwaysAccepts(t *testing.T) {
	p := New(NewStore(), 1)
	if !p.Decide("hunter2") {
		t.Fatal("probability 1 rejected a fresh password")
	}
}

func TestDecide_ReplayConsistency(t *testing.T) {
	store := NewStore()
	p := New(store, 1)
	if !p.Decide("abc123") {
		t.Fatal("first decide rejected with probability 1")
	}

	p.probability = 0
	for i := 0; i < 50; i++ {
		if !p.Decide("abc123") {
			t.Fatal("replayed password rejected")
		}
	}
	if p.Decide("different") {
		t.Error("unrelated password accepted with probability 0")
	}
}

func TestDecideDetail_ReportsReplay(t *testing.T) {
	p := New(NewStore(), 1)

	accepted, replayed := p.DecideDetail("qwerty")
	if !accepted || replayed {
		t.Errorf("first attempt: accepted=%v replayed=%v, want true false", accepted, replayed)
	}

	accepted, replayed = p.DecideDetail("qwerty")
	if !accepted || !replayed {
		t.Errorf("second attempt: accepted=%v replayed=%v, want true true", accepted, replayed)
	}
}

func TestDecide_SharedStoreAcrossPolicies(t *testing.T) {
	// Two connections share one store. Whoever is accepted first makes the
	// password deterministic for the other.
	store := NewStore()
	first := New(store, 1)
	second := New(store, 0)

	if !first.Decide("abc123") {
		t.Fatal("first connection not accepted with probability 1")
	}
	if !second.Decide("abc123") {
		t.Error("second connection not accepted after store contains the password")
	}
}

func TestStore_ConcurrentDecides(t *testing.T) {
	store := NewStore()
	p := New(store, 1)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !p.Decide("toor") {
					t.Error("accept-all policy rejected")
					return
				}
			}
		}()
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
	if !store.Seen("toor") {
		t.Error("store does not contain accepted password")
	}
}
