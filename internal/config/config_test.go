// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"
)

func TestParse_Basic(t *testing.T) {
	yaml := `
table: 200
ws_port: 8765
pbr_mark: 512
interfaces: ["wg0"]
clean_conntrack: true
domain_route_ttl: 120
routes:
  - country: US
    interface: eth0
    weight: 10
  - domain: ".*\\.example\\.com"
    interface: eth2
    weight: 50
  - net: "10.0.0.0/8"
    ttl: 60
    weight: 1
`
	s, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.Table != 200 {
		t.Errorf("expected table 200, got %d", s.Table)
	}
	if len(s.Routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(s.Routes))
	}
	if s.Routes[0].Country != "US" {
		t.Errorf("expected country US, got %q", s.Routes[0].Country)
	}
	if len(s.Routes[1].Domain) != 1 || s.Routes[1].Domain[0] != ".*\\.example\\.com" {
		t.Errorf("expected single domain pattern, got %v", s.Routes[1].Domain)
	}
	if s.Routes[2].Net != "10.0.0.0/8" {
		t.Errorf("expected net 10.0.0.0/8, got %q", s.Routes[2].Net)
	}
}

func TestParse_DomainList(t *testing.T) {
	yaml := `
routes:
  - domain: [".*\\.a\\.com", ".*\\.b\\.com"]
    interface: eth0
`
	s, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(s.Routes[0].Domain) != 2 {
		t.Fatalf("expected 2 domain patterns, got %d", len(s.Routes[0].Domain))
	}
}

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte(`routes: []`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.Table != 200 {
		t.Errorf("expected default table 200, got %d", s.Table)
	}
	if s.WSPort != 8765 {
		t.Errorf("expected default ws_port 8765, got %d", s.WSPort)
	}
	if s.DomainRouteTTL != DefaultDomainRouteTTL {
		t.Errorf("expected default domain_route_ttl %d, got %d", DefaultDomainRouteTTL, s.DomainRouteTTL)
	}
}

func TestParse_RejectsMissingDiscriminant(t *testing.T) {
	yaml := `
routes:
  - interface: eth0
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatal("expected ConfigError for route with no discriminant")
	}
}

func TestParse_RejectsMultipleDiscriminants(t *testing.T) {
	yaml := `
routes:
  - country: US
    net: "10.0.0.0/8"
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatal("expected ConfigError for route with two discriminants")
	}
}

func TestParse_RejectsMetricCollision(t *testing.T) {
	// S6: two rules sharing an identical explicit metric is a ConfigError.
	yaml := `
routes:
  - net: "10.0.0.0/8"
    metric: 200
  - net: "172.16.0.0/12"
    metric: 200
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatal("expected ConfigError for colliding explicit metrics")
	}
}

func TestParse_RejectsBadCIDR(t *testing.T) {
	yaml := `
routes:
  - net: "not-a-cidr"
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatal("expected ConfigError for malformed CIDR")
	}
}
