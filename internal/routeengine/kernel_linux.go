// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package routeengine

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/ti-mo/conntrack"
	"github.com/vishvananda/netlink"

	"mrvpn.dev/routeengine/internal/logging"
)

// LinuxBackend implements KernelBackend using vishvananda/netlink for route
// and link state and ti-mo/conntrack for connection-tracking access.
type LinuxBackend struct{}

// NewLinuxBackend returns the real Linux KernelBackend.
func NewLinuxBackend() *LinuxBackend {
	return &LinuxBackend{}
}

// ApplyBatch applies every op in order, collecting a per-op error. ENOENT on
// delete and EEXIST on add are treated as success and logged at debug level —
// the desired state was already reached by some other actor (or a previous,
// since-retried call).
func (b *LinuxBackend) ApplyBatch(ops []Op) ([]error, error) {
	results := make([]error, len(ops))
	for i, op := range ops {
		route := specToNetlinkRoute(op.Spec)
		var err error
		switch op.Kind {
		case OpAdd:
			err = netlink.RouteReplace(route)
		case OpDel:
			err = netlink.RouteDel(route)
		}
		if err != nil && isBenignRouteError(op.Kind, err) {
			logging.Debug("kernel: benign route error treated as success", "kind", op.Kind, "dst", op.Spec.Dst, "error", err)
		} else if err != nil {
			results[i] = fmt.Errorf("kernel: %s %s/%d: %w", op.Kind, op.Spec.Dst, op.Spec.DstLen, err)
		}
	}
	return results, nil
}

func specToNetlinkRoute(spec RouteSpec) *netlink.Route {
	r := &netlink.Route{
		Dst: &net.IPNet{
			IP:   spec.Dst,
			Mask: net.CIDRMask(spec.DstLen, 32),
		},
		LinkIndex: spec.OifIndex,
		Priority:  spec.Metric,
		Table:     spec.Table,
		Protocol:  netlink.RouteProtocol(spec.Proto),
		Scope:     netlink.SCOPE_UNIVERSE,
	}
	if spec.Gateway != nil {
		r.Gw = spec.Gateway
	}
	return r
}

func isBenignRouteError(kind OpKind, err error) bool {
	switch kind {
	case OpDel:
		return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ESRCH)
	case OpAdd:
		return errors.Is(err, syscall.EEXIST)
	}
	return false
}

// EnumerateConntrack dumps the conntrack table via a fresh netlink socket
// per call — the table changes too fast, and too rarely needs polling, to
// justify keeping a connection open across expirer/batcher cycles.
func (b *LinuxBackend) EnumerateConntrack() ([]ConntrackFlow, error) {
	conn, err := conntrack.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: conntrack dial: %w", err)
	}
	defer conn.Close()

	flows, err := conn.Dump(nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: conntrack dump: %w", err)
	}

	out := make([]ConntrackFlow, 0, len(flows))
	for _, f := range flows {
		if !f.TupleOrig.IP.SourceAddress.Is4() || !f.TupleOrig.IP.DestinationAddress.Is4() {
			continue
		}
		out = append(out, ConntrackFlow{
			Src:   net.IP(f.TupleOrig.IP.SourceAddress.AsSlice()),
			Dst:   net.IP(f.TupleOrig.IP.DestinationAddress.AsSlice()),
			Proto: f.TupleOrig.Proto.Protocol,
		})
	}
	return out, nil
}

// DeleteConntrack removes the conntrack entry matching flow's original tuple.
func (b *LinuxBackend) DeleteConntrack(flow ConntrackFlow) error {
	conn, err := conntrack.Dial(nil)
	if err != nil {
		return fmt.Errorf("kernel: conntrack dial: %w", err)
	}
	defer conn.Close()

	filter := conntrack.Filter{}
	flows, err := conn.Dump(&filter)
	if err != nil {
		return fmt.Errorf("kernel: conntrack dump: %w", err)
	}
	for _, f := range flows {
		src := net.IP(f.TupleOrig.IP.SourceAddress.AsSlice())
		dst := net.IP(f.TupleOrig.IP.DestinationAddress.AsSlice())
		if src.Equal(flow.Src) && dst.Equal(flow.Dst) && f.TupleOrig.Proto.Protocol == flow.Proto {
			if err := conn.Delete(f); err != nil {
				return fmt.Errorf("kernel: conntrack delete: %w", err)
			}
			return nil
		}
	}
	return nil
}

// ResolveInterface resolves an interface name to its kernel link index.
func (b *LinuxBackend) ResolveInterface(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("kernel: link %q: %w", name, err)
	}
	return link.Attrs().Index, nil
}

// GetDefaultRoute captures the host's current default route (the one with a
// nil Dst in the main table), used to resolve the _DEFAULT sentinel.
func (b *LinuxBackend) GetDefaultRoute() (DefaultRoute, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return DefaultRoute{}, fmt.Errorf("kernel: list routes: %w", err)
	}
	for _, r := range routes {
		if r.Dst == nil {
			return DefaultRoute{OifIndex: r.LinkIndex, Gateway: r.Gw, Metric: r.Priority}, nil
		}
	}
	return DefaultRoute{}, fmt.Errorf("kernel: no default route found")
}
