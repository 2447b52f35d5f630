// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routeengine implements the dynamic policy-routing controller: the
// rule compiler, the interval-indexed route table, the TTL expirer
// coordinated with connection-tracking, the batched kernel-update pipeline,
// and the DNS-event handler that drives route insertion.
package routeengine

import (
	"net"
	"time"
)

// DefaultInterface is the sentinel meaning "follow the host default route",
// resolved exactly once per process lifetime from the captured default
// route.
const DefaultInterface = "_DEFAULT"

// Kernel route attribute defaults, mirroring AF_INET/RTPROT_BOOT/RTN_UNICAST.
const (
	FamilyINET  = 2
	ProtoBoot   = 3
	TypeUnicast = 1
)

// RouteSpec is the flat descriptor passed to the Kernel Route Backend:
// destination, prefix length, family, proto, type, resolved outbound
// interface index, metric, and (for a _DEFAULT-backed route) the captured
// default gateway. Computing it is pure and side-effect free.
type RouteSpec struct {
	Dst      net.IP
	DstLen   int
	Family   int
	Proto    int
	Type     int
	OifIndex int
	Metric   int
	Table    int
	Gateway  net.IP
}

// Route is the unit of routing: a CIDR plus egress policy. A Route whose
// Interface is empty is a TTL donor: it contributes only its TTL to
// matching records and is never installed (see NetRule).
type Route struct {
	Net      *net.IPNet
	NetStart uint32
	NetEnd   uint32

	// Interface is the resolved interface name, DefaultInterface, or empty
	// for a TTL-donor route.
	Interface string
	OifIndex  int // resolved once, at rule-compilation time

	Metric int
	Weight int

	// TTL is nil for a permanent route (no expiration).
	TTL *int
	// Expiration is the zero Time for a permanent route.
	Expiration time.Time

	Family int
	Proto  int
	Type   int

	// Gateway is set only when Interface == DefaultInterface, captured once
	// from the host's default route at startup.
	Gateway net.IP

	// Kind is the rule kind that produced this route ("country", "net", or
	// "domain"), used only to label metrics by rule_kind.
	Kind string
}

// NewRoute builds a Route from a CIDR and policy. net must be a valid IPv4
// network; family/proto/type default to the standard unicast kernel values.
func NewRoute(cidr *net.IPNet, iface string, oifIndex, metric, weight int, ttl *int) *Route {
	start, end := networkRange(cidr)
	return &Route{
		Net:       cidr,
		NetStart:  start,
		NetEnd:    end,
		Interface: iface,
		OifIndex:  oifIndex,
		Metric:    metric,
		Weight:    weight,
		TTL:       ttl,
		Family:    FamilyINET,
		Proto:     ProtoBoot,
		Type:      TypeUnicast,
	}
}

// networkRange returns the inclusive 32-bit endpoints of an IPv4 CIDR.
func networkRange(n *net.IPNet) (start, end uint32) {
	ip4 := n.IP.To4()
	start = ipToUint32(ip4)
	ones, bits := n.Mask.Size()
	hostBits := uint(bits - ones)
	if hostBits >= 32 {
		end = ^uint32(0)
	} else {
		end = start | ((uint32(1) << hostBits) - 1)
	}
	return start, end
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// IsDonor reports whether r contributes only its TTL and is never installed.
func (r *Route) IsDonor() bool {
	return r.Interface == ""
}

// Expired reports whether r has a TTL and it has elapsed.
func (r *Route) Expired() bool {
	if r.Expiration.IsZero() {
		return false
	}
	return time.Now().After(r.Expiration)
}

// ResetExpiration sets Expiration = now + max(current TTL, newTTL) when
// newTTL is given (a longer-lived signal never shortens a route); otherwise
// it reapplies the existing TTL. Expiration stays zero if no TTL is known.
func (r *Route) ResetExpiration(newTTL *int) {
	switch {
	case newTTL != nil:
		if r.TTL == nil || *newTTL > *r.TTL {
			t := *newTTL
			r.TTL = &t
		}
		r.Expiration = time.Now().Add(time.Duration(*r.TTL) * time.Second)
	case r.TTL != nil:
		r.Expiration = time.Now().Add(time.Duration(*r.TTL) * time.Second)
	default:
		r.Expiration = time.Time{}
	}
}

// Spec computes the flat descriptor sent to the Kernel Route Backend. It is
// pure: calling it twice on an unmodified Route returns identical values.
func (r *Route) Spec(table int, defaultRoute DefaultRoute) RouteSpec {
	spec := RouteSpec{
		Dst:      r.Net.IP,
		DstLen:   maskLen(r.Net),
		Family:   r.Family,
		Proto:    r.Proto,
		Type:     r.Type,
		OifIndex: r.OifIndex,
		Metric:   r.Metric,
		Table:    table,
	}
	if r.Interface == DefaultInterface {
		spec.Gateway = defaultRoute.Gateway
		spec.OifIndex = defaultRoute.OifIndex
		// A _DEFAULT-backed route's priority stacks on top of the captured
		// default route's own metric (MrRoute._build_route_spec).
		spec.Metric = defaultRoute.Metric + r.Metric
	}
	return spec
}

func maskLen(n *net.IPNet) int {
	ones, _ := n.Mask.Size()
	return ones
}

// Clone returns a copy of r with its own TTL value, used when handing a Route
// out of the Interval Index to a caller that must not observe subsequent
// TTL/expiration mutation. Net and Gateway still share their backing memory.
func (r *Route) Clone() *Route {
	cp := *r
	if r.TTL != nil {
		t := *r.TTL
		cp.TTL = &t
	}
	return &cp
}

// DefaultRoute is the host's default route, captured once at startup and
// passed explicitly to every component that needs to resolve _DEFAULT.
type DefaultRoute struct {
	OifIndex int
	Gateway  net.IP
	Metric   int
}
