// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"net"
	"testing"
	"time"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func TestNetworkRange(t *testing.T) {
	cases := []struct {
		cidr      string
		start     uint32
		end       uint32
		wantWidth uint64
	}{
		{"10.0.0.0/8", 0x0A000000, 0x0AFFFFFF, 1 << 24},
		{"192.0.2.1/32", 0xC0000201, 0xC0000201, 1},
		{"0.0.0.0/0", 0, 0xFFFFFFFF, 1 << 32},
	}
	for _, c := range cases {
		n := mustCIDR(t, c.cidr)
		start, end := networkRange(n)
		if start != c.start || end != c.end {
			t.Errorf("networkRange(%s) = (%#x, %#x), want (%#x, %#x)", c.cidr, start, end, c.start, c.end)
		}
	}
}

func TestRoute_ResetExpiration_TakesMaxTTL(t *testing.T) {
	r := NewRoute(mustCIDR(t, "203.0.113.5/32"), "eth2", 3, 1, 1, nil)
	short := 10
	r.ResetExpiration(&short)
	if r.TTL == nil || *r.TTL != 10 {
		t.Fatalf("expected TTL 10, got %v", r.TTL)
	}
	firstExpiration := r.Expiration

	longer := 60
	r.ResetExpiration(&longer)
	if *r.TTL != 60 {
		t.Fatalf("expected TTL to grow to 60, got %d", *r.TTL)
	}
	if !r.Expiration.After(firstExpiration) {
		t.Fatalf("expected expiration to move forward")
	}

	shorterAgain := 5
	r.ResetExpiration(&shorterAgain)
	if *r.TTL != 60 {
		t.Fatalf("a shorter TTL must never shrink an existing one, got %d", *r.TTL)
	}
}

func TestRoute_Expired(t *testing.T) {
	r := NewRoute(mustCIDR(t, "203.0.113.6/32"), "eth2", 3, 1, 1, nil)
	if r.Expired() {
		t.Fatal("a route with no expiration set must never be expired")
	}
	ttl := 1
	r.ResetExpiration(&ttl)
	r.Expiration = time.Now().Add(-time.Second)
	if !r.Expired() {
		t.Fatal("expected route to be expired")
	}
}

func TestRoute_Spec_DefaultInterfaceAddsMetric(t *testing.T) {
	r := NewRoute(mustCIDR(t, "198.51.100.0/24"), DefaultInterface, 0, 5, 1, nil)
	defaultRoute := DefaultRoute{OifIndex: 7, Gateway: net.ParseIP("203.0.113.1"), Metric: 100}

	spec := r.Spec(200, defaultRoute)
	if spec.OifIndex != 7 {
		t.Errorf("expected OifIndex from default route, got %d", spec.OifIndex)
	}
	if !spec.Gateway.Equal(defaultRoute.Gateway) {
		t.Errorf("expected gateway from default route, got %v", spec.Gateway)
	}
	if spec.Metric != 105 {
		t.Errorf("expected additive metric 105 (100+5), got %d", spec.Metric)
	}
}

func TestRoute_Spec_NonDefaultInterfaceLeavesMetric(t *testing.T) {
	r := NewRoute(mustCIDR(t, "198.51.100.0/24"), "eth0", 3, 5, 1, nil)
	spec := r.Spec(200, DefaultRoute{OifIndex: 7, Metric: 100})
	if spec.Metric != 5 {
		t.Errorf("expected unmodified metric 5 for non-default route, got %d", spec.Metric)
	}
	if spec.OifIndex != 3 {
		t.Errorf("expected route's own OifIndex 3, got %d", spec.OifIndex)
	}
}

func TestRoute_IsDonor(t *testing.T) {
	donor := NewRoute(mustCIDR(t, "10.0.0.0/8"), "", 0, 1, 1, nil)
	installed := NewRoute(mustCIDR(t, "10.0.0.0/8"), "eth0", 2, 1, 1, nil)
	if !donor.IsDonor() {
		t.Error("expected route with empty interface to be a donor")
	}
	if installed.IsDonor() {
		t.Error("expected route with interface set to not be a donor")
	}
}

func TestRoute_Clone_IsIndependent(t *testing.T) {
	ttl := 30
	r := NewRoute(mustCIDR(t, "10.1.0.0/16"), "eth0", 2, 1, 1, &ttl)
	clone := r.Clone()
	*clone.TTL = 999
	if *r.TTL != 30 {
		t.Fatal("mutating a clone's TTL must not affect the original")
	}
}
