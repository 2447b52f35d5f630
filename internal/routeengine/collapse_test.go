// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"net"
	"testing"
)

func TestSummarizeUint32Range_ExactBlock(t *testing.T) {
	lo := ipToUint32(net.ParseIP("10.0.0.0"))
	hi := ipToUint32(net.ParseIP("10.0.0.255"))
	got := summarizeUint32Range(lo, hi)
	if len(got) != 1 {
		t.Fatalf("expected a single /24 block, got %d blocks: %v", len(got), got)
	}
	ones, _ := got[0].Mask.Size()
	if ones != 24 {
		t.Errorf("expected /24, got /%d", ones)
	}
}

func TestSummarizeUint32Range_UnalignedSplitsMinimally(t *testing.T) {
	// 10.0.0.1 - 10.0.0.254: can't be one block, must split into several
	// power-of-two-aligned pieces that together cover the range exactly.
	lo := ipToUint32(net.ParseIP("10.0.0.1"))
	hi := ipToUint32(net.ParseIP("10.0.0.254"))
	got := summarizeUint32Range(lo, hi)

	var total uint64
	for _, n := range got {
		ones, bits := n.Mask.Size()
		total += uint64(1) << (bits - ones)
	}
	if total != uint64(hi)-uint64(lo)+1 {
		t.Fatalf("summarized blocks must cover exactly the input range: got %d addresses, want %d", total, uint64(hi)-uint64(lo)+1)
	}
	if len(got) <= 1 {
		t.Fatalf("expected the unaligned range to require multiple blocks, got %d", len(got))
	}
}

func TestCollapseNetworks_MergesAdjacent(t *testing.T) {
	a := mustCIDR(t, "10.0.0.0/24")
	b := mustCIDR(t, "10.0.1.0/24")
	got := CollapseNetworks([]*net.IPNet{a, b})
	if len(got) != 1 {
		t.Fatalf("expected adjacent /24s to merge into one /23, got %d: %v", len(got), got)
	}
	ones, _ := got[0].Mask.Size()
	if ones != 23 {
		t.Errorf("expected /23, got /%d", ones)
	}
}

func TestCollapseNetworks_LeavesDisjointAlone(t *testing.T) {
	a := mustCIDR(t, "10.0.0.0/24")
	b := mustCIDR(t, "192.168.0.0/24")
	got := CollapseNetworks([]*net.IPNet{a, b})
	if len(got) != 2 {
		t.Fatalf("expected disjoint networks to remain separate, got %d", len(got))
	}
}

func TestCollapseNetworks_MergesOverlapping(t *testing.T) {
	a := mustCIDR(t, "10.0.0.0/23")
	b := mustCIDR(t, "10.0.1.0/24")
	got := CollapseNetworks([]*net.IPNet{a, b})
	if len(got) != 1 {
		t.Fatalf("expected overlapping networks to merge, got %d: %v", len(got), got)
	}
}
