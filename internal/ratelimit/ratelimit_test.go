package ratelimit

import (
	"net/netip"
	"testing"
)

var (
	addr1 = netip.MustParseAddr("203.0.113.1")
	addr2 = netip.MustParseAddr("203.0.113.2")
)

func TestAccept_AdmitsUpToThreshold(t *testing.T) {
	l := New()

	for i := 0; i < 10; i++ {
		if !l.Accept(addr1) {
			t.Fatalf("attempt %d should be admitted (below threshold)", i+1)
		}
	}

	// 11th and onward are rejected until decay
	for i := 0; i < 5; i++ {
		if l.Accept(addr1) {
			t.Fatalf("attempt %d should be rejected", 11+i)
		}
	}
}

func TestAccept_FreshAddressAdmitted(t *testing.T) {
	l := New()

	if !l.Accept(addr1) {
		t.Fatal("first attempt for a brand-new address should be admitted")
	}
}

func TestAccept_AddressesIndependent(t *testing.T) {
	l := New(WithThreshold(2), WithDecay(2))

	l.Accept(addr1)
	l.Accept(addr1)
	if l.Accept(addr1) {
		t.Fatal("addr1 should be rejected after exhausting its threshold")
	}
	if !l.Accept(addr2) {
		t.Fatal("addr2 should have its own counter")
	}
}

func TestDecay_RejectedAttemptsKeepCounting(t *testing.T) {
	l := New()

	// 10 admitted + 10 rejected leaves the counter at 20
	for i := 0; i < 20; i++ {
		l.Accept(addr1)
	}

	// one decay brings it to 10, still at the boundary: rejected
	l.Decay()
	if l.Accept(addr1) {
		t.Fatal("after one decay the persistent offender should still be rejected")
	}
}

func TestDecay_SecondPassPrunesAndAdmits(t *testing.T) {
	l := New()

	for i := 0; i < 20; i++ {
		l.Accept(addr1)
	}
	l.Decay()

	// the rejected probe above bumped the counter back to 11, the second
	// decay clamps it to zero and prunes the entry
	if l.Accept(addr1) {
		t.Fatal("probe should be rejected")
	}
	l.Decay()
	l.Decay()

	if l.Len() != 0 {
		t.Fatalf("tracked sources = %d, want 0 after full decay", l.Len())
	}
	if !l.Accept(addr1) {
		t.Fatal("address should be admitted again after being pruned")
	}
}

func TestDecay_ExactScenarioFromBoundary(t *testing.T) {
	// 10 accepts + 10 rejects, one Decay, next Accept must reject;
	// a second Decay prunes, next Accept must admit
	l := New()

	for i := 0; i < 10; i++ {
		if !l.Accept(addr1) {
			t.Fatalf("accept %d should pass", i+1)
		}
	}
	for i := 0; i < 10; i++ {
		if l.Accept(addr1) {
			t.Fatalf("reject %d should fail", i+1)
		}
	}

	l.Decay()
	if l.Accept(addr1) {
		t.Fatal("post-decay counter is 10, still at threshold: must reject")
	}

	// that probe raised the counter to 11; 11-10 = 1 survives one decay
	l.Decay()
	if l.Len() != 1 {
		t.Fatalf("tracked sources = %d, want 1 (remainder carried)", l.Len())
	}
	l.Decay()
	if !l.Accept(addr1) {
		t.Fatal("address must admit after counter fully decays")
	}
}

func TestDecay_ClampsAtZeroAndPrunes(t *testing.T) {
	l := New() // decay 10

	// counter strictly between 1 and decay amount
	l.Accept(addr1)
	l.Accept(addr1)
	l.Accept(addr1)

	l.Decay()

	if l.Len() != 0 {
		t.Fatalf("entry with small counter should be pruned, tracked = %d", l.Len())
	}
	// pruned means fully reset, not negative
	for i := 0; i < 10; i++ {
		if !l.Accept(addr1) {
			t.Fatalf("attempt %d after prune should be admitted", i+1)
		}
	}
}

func TestDecay_EmptyMapIsFine(t *testing.T) {
	l := New()
	l.Decay() // must not panic
	if l.Len() != 0 {
		t.Fatalf("tracked = %d, want 0", l.Len())
	}
}

func TestOnDenied_CalledEveryRejection(t *testing.T) {
	var denied int
	l := New(
		WithThreshold(2),
		WithDecay(2),
		WithOnDenied(func(addr netip.Addr) { denied++ }),
	)

	l.Accept(addr1)
	l.Accept(addr1)
	for i := 0; i < 5; i++ {
		l.Accept(addr1)
	}

	if denied != 5 {
		t.Fatalf("OnDenied called %d times, want 5", denied)
	}
}

func TestOnFirstDenied_OncePerTrackedLifetime(t *testing.T) {
	var first int
	l := New(
		WithThreshold(1),
		WithDecay(1),
		WithOnFirstDenied(func(addr netip.Addr) { first++ }),
	)

	l.Accept(addr1)
	l.Accept(addr1) // rejected, fires
	l.Accept(addr1) // rejected, must not fire again

	if first != 1 {
		t.Fatalf("OnFirstDenied called %d times, want 1", first)
	}

	// decay until the entry is pruned, then a fresh rejection fires again
	for l.Len() > 0 {
		l.Decay()
	}
	l.Accept(addr1)
	l.Accept(addr1)

	if first != 2 {
		t.Fatalf("OnFirstDenied after prune called %d times total, want 2", first)
	}
}

func TestOnFirstDenied_PerAddress(t *testing.T) {
	seen := map[netip.Addr]int{}
	l := New(
		WithThreshold(1),
		WithDecay(1),
		WithOnFirstDenied(func(addr netip.Addr) { seen[addr]++ }),
	)

	l.Accept(addr1)
	l.Accept(addr1)
	l.Accept(addr1)
	l.Accept(addr2)
	l.Accept(addr2)

	if seen[addr1] != 1 || seen[addr2] != 1 {
		t.Fatalf("first-denied counts = %v, want 1 per address", seen)
	}
}

func TestNilCallbacks_NoPanic(t *testing.T) {
	l := New(WithThreshold(1))
	l.Accept(addr1)
	l.Accept(addr1) // rejected with no callbacks set
}

func TestDefaults(t *testing.T) {
	l := New()
	if l.threshold != 10 {
		t.Errorf("default threshold = %d, want 10", l.threshold)
	}
	if l.decay != 10 {
		t.Errorf("default decay = %d, want 10", l.decay)
	}
}
