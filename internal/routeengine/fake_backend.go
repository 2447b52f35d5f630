// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"fmt"
	"net"
	"sync"
)

// FakeBackend is an in-memory KernelBackend test double: a stateful
// simulator holding installed route specs, a conntrack flow table, and a
// link name-to-index table, without any real netlink I/O.
type FakeBackend struct {
	mu sync.RWMutex

	Routes  map[string]RouteSpec // "dst/len/table" -> spec
	Flows   []ConntrackFlow
	Links   map[string]int
	Default DefaultRoute

	// FailApply, when set, is returned verbatim from ApplyBatch instead of
	// applying any op (simulates a transport-level netlink failure).
	FailApply error
	// FailConntrack, when set, is returned verbatim from EnumerateConntrack
	// (simulates a conntrack dump failure, exercised by the expirer's
	// fail-safe path).
	FailConntrack error

	applyCalls int
}

// NewFakeBackend returns an empty FakeBackend with iface "eth0" pre-resolved
// to index 2, a common setup for tests that don't care about link naming.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Routes: make(map[string]RouteSpec),
		Links:  map[string]int{"eth0": 2},
	}
}

func routeKey(spec RouteSpec) string {
	return fmt.Sprintf("%s/%d/%d", spec.Dst, spec.DstLen, spec.Table)
}

// ApplyBatch applies each op to the in-memory route table in order. A
// per-op failure is never synthesized here; use FailApply to simulate a
// whole-batch transport error.
func (f *FakeBackend) ApplyBatch(ops []Op) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applyCalls++
	if f.FailApply != nil {
		return nil, f.FailApply
	}

	results := make([]error, len(ops))
	for i, op := range ops {
		key := routeKey(op.Spec)
		switch op.Kind {
		case OpAdd:
			f.Routes[key] = op.Spec
		case OpDel:
			delete(f.Routes, key)
		}
	}
	return results, nil
}

// EnumerateConntrack returns the configured flow table, or FailConntrack if set.
func (f *FakeBackend) EnumerateConntrack() ([]ConntrackFlow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.FailConntrack != nil {
		return nil, f.FailConntrack
	}
	out := make([]ConntrackFlow, len(f.Flows))
	copy(out, f.Flows)
	return out, nil
}

// DeleteConntrack removes the first matching flow, if any.
func (f *FakeBackend) DeleteConntrack(flow ConntrackFlow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.Flows {
		if existing.Src.Equal(flow.Src) && existing.Dst.Equal(flow.Dst) && existing.Proto == flow.Proto {
			f.Flows = append(f.Flows[:i], f.Flows[i+1:]...)
			return nil
		}
	}
	return nil
}

// ResolveInterface looks up a pre-registered link name.
func (f *FakeBackend) ResolveInterface(name string) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, ok := f.Links[name]
	if !ok {
		return 0, fmt.Errorf("fake_backend: unknown interface %q", name)
	}
	return idx, nil
}

// GetDefaultRoute returns the configured Default value.
func (f *FakeBackend) GetDefaultRoute() (DefaultRoute, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.Default, nil
}

// AddFlow registers a conntrack flow for liveness checks in tests.
func (f *FakeBackend) AddFlow(src, dst net.IP, proto uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Flows = append(f.Flows, ConntrackFlow{Src: src, Dst: dst, Proto: proto})
}

// HasRoute reports whether a route matching spec is currently installed.
func (f *FakeBackend) HasRoute(spec RouteSpec) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.Routes[routeKey(spec)]
	return ok
}

// RouteCount returns the number of currently installed routes.
func (f *FakeBackend) RouteCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.Routes)
}

// ApplyCalls reports how many times ApplyBatch was invoked, for batching
// assertions (e.g. verifying a single flush coalesced many ops).
func (f *FakeBackend) ApplyCalls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.applyCalls
}
