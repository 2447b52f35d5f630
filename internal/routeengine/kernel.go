// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import "net"

// ConntrackFlow is one connection-tracking entry, reduced to the fields the
// expirer and batcher need to decide whether a route is still in use.
type ConntrackFlow struct {
	Src   net.IP
	Dst   net.IP
	Proto uint8
}

// KernelBackend is a thin abstraction over the platform's route-manipulation
// primitive. Implementations must not retry on ENOENT for del (route
// already gone) or EEXIST on add (route already installed by another path);
// both are success-equivalent and should be logged at debug level.
type KernelBackend interface {
	// ApplyBatch submits a batched sequence of operations. It returns a
	// slice of per-operation errors (nil entries for successful ops,
	// aligned by index with ops) or a single transport-level error if the
	// whole batch could not be submitted.
	ApplyBatch(ops []Op) ([]error, error)

	// EnumerateConntrack yields every active connection-tracking flow.
	EnumerateConntrack() ([]ConntrackFlow, error)

	// DeleteConntrack removes one flow entry.
	DeleteConntrack(flow ConntrackFlow) error

	// ResolveInterface looks up a kernel interface index by name.
	ResolveInterface(name string) (int, error)

	// GetDefaultRoute captures the host's default route.
	GetDefaultRoute() (DefaultRoute, error)
}

// OpKind discriminates a queued kernel operation.
type OpKind int

const (
	OpAdd OpKind = iota
	OpDel
)

func (k OpKind) String() string {
	if k == OpDel {
		return "del"
	}
	return "add"
}

// Op is one pending kernel operation, carrying only the flat spec: the
// Dispatch Queue holds a copy of a Route's kernel-level spec, never the
// Route itself.
type Op struct {
	Kind OpKind
	Spec RouteSpec
}
