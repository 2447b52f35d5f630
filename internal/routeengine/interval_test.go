// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"net"
	"testing"
	"time"
)

func TestIntervalIndex_Add_Dedup(t *testing.T) {
	idx := NewIntervalIndex()
	r1 := NewRoute(mustCIDR(t, "192.0.2.1/32"), "eth0", 2, 10, 1, nil)
	if _, outcome := idx.Add(r1); outcome != OutcomeInserted {
		t.Fatalf("expected first add to insert, got %v", outcome)
	}

	r2 := NewRoute(mustCIDR(t, "192.0.2.1/32"), "eth0", 2, 10, 1, nil)
	_, outcome := idx.Add(r2)
	if outcome != OutcomeRefreshed {
		t.Fatalf("expected exact-match add to refresh, got %v", outcome)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected index to hold exactly one interval, got %d", idx.Len())
	}
}

func TestIntervalIndex_Add_Dominance(t *testing.T) {
	idx := NewIntervalIndex()
	// S1: a /24 at higher weight dominates a later /32 inside it.
	broad := NewRoute(mustCIDR(t, "192.0.2.0/24"), "eth0", 2, 1, 10, nil)
	idx.Add(broad)

	host := NewRoute(mustCIDR(t, "192.0.2.1/32"), "eth2", 3, 1, 5, nil)
	got, outcome := idx.Add(host)
	if outcome != OutcomeDominated {
		t.Fatalf("expected host route to be dominated, got %v", outcome)
	}
	if got.Interface != "eth0" {
		t.Fatalf("expected dominating route returned, got interface %q", got.Interface)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected dominated route to not be inserted, index has %d entries", idx.Len())
	}
}

func TestIntervalIndex_Add_TieBreakAlwaysInserts(t *testing.T) {
	idx := NewIntervalIndex()
	broad := NewRoute(mustCIDR(t, "192.0.2.0/24"), "eth0", 2, 1, 5, nil)
	idx.Add(broad)

	// Equal weight: the more specific route must still be inserted.
	host := NewRoute(mustCIDR(t, "192.0.2.1/32"), "eth2", 3, 1, 5, nil)
	_, outcome := idx.Add(host)
	if outcome != OutcomeInserted {
		t.Fatalf("expected equal-weight route to insert, got %v", outcome)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 entries after tie-break insert, got %d", idx.Len())
	}
}

func TestIntervalIndex_Remove(t *testing.T) {
	idx := NewIntervalIndex()
	r := NewRoute(mustCIDR(t, "198.51.100.0/24"), "eth0", 2, 1, 1, nil)
	idx.Add(r)
	if !idx.Remove(r) {
		t.Fatal("expected remove to find the inserted route")
	}
	if idx.Len() != 0 {
		t.Fatalf("expected empty index after remove, got %d", idx.Len())
	}
	if idx.Remove(r) {
		t.Fatal("expected second remove of the same route to report not found")
	}
}

func TestIntervalIndex_Query_Overlap(t *testing.T) {
	idx := NewIntervalIndex()
	a := NewRoute(mustCIDR(t, "10.0.0.0/8"), "eth0", 2, 1, 1, nil)
	b := NewRoute(mustCIDR(t, "172.16.0.0/12"), "eth1", 3, 2, 1, nil)
	idx.Add(a)
	idx.Add(b)

	ip := ipToUint32(net.ParseIP("10.5.5.5"))
	got := idx.Query(ip, ip+1)
	if len(got) != 1 || got[0].Interface != "eth0" {
		t.Fatalf("expected single match on eth0, got %+v", got)
	}
}

func TestIntervalIndex_Sweep_PreservesLiveFlows(t *testing.T) {
	idx := NewIntervalIndex()
	r := NewRoute(mustCIDR(t, "203.0.113.7/32"), "eth2", 3, 1, 1, nil)
	ttl := 1
	r.ResetExpiration(&ttl)
	idx.Add(r)
	// Force expiration without waiting on the clock.
	r.Expiration = r.Expiration.Add(-time.Hour)

	removed, preserved := idx.Sweep(func(start, end uint64) bool { return true })
	if len(removed) != 0 || preserved != 1 {
		t.Fatalf("expected a live flow to preserve the route, got removed=%d preserved=%d", len(removed), preserved)
	}
	if idx.Len() != 1 {
		t.Fatal("a preserved route must remain in the index")
	}
}

func TestIntervalIndex_Sweep_RemovesDeadFlows(t *testing.T) {
	idx := NewIntervalIndex()
	r := NewRoute(mustCIDR(t, "203.0.113.8/32"), "eth2", 3, 1, 1, nil)
	ttl := 1
	r.ResetExpiration(&ttl)
	idx.Add(r)
	r.Expiration = r.Expiration.Add(-time.Hour)

	removed, preserved := idx.Sweep(func(start, end uint64) bool { return false })
	if len(removed) != 1 || preserved != 0 {
		t.Fatalf("expected the dead route to be removed, got removed=%d preserved=%d", len(removed), preserved)
	}
	if idx.Len() != 0 {
		t.Fatal("expected index to be empty after sweep removed the only route")
	}
}
