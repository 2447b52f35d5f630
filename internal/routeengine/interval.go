// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import "sync"

// interval is one node of the index: a half-open range [start, end) with an
// installed Route as payload, plus the subtree's maximum end for O(log n)
// expected overlap queries. end is uint64 (not uint32) so that a route
// spanning the entire 32-bit address space can still express its exclusive
// upper bound without wrapping.
type interval struct {
	start, end uint64
	route      *Route
	left       *interval
	right      *interval
	maxEnd     uint64
}

// IntervalIndex is an interval tree keyed on the 32-bit integer range of
// each Route's CIDR. All mutation is serialised by mu; read-only consumers
// (event handler, expirer) also take it, using RLock where they only need
// to observe the tree.
type IntervalIndex struct {
	mu   sync.RWMutex
	root *interval
	size int
}

// NewIntervalIndex returns an empty index.
func NewIntervalIndex() *IntervalIndex {
	return &IntervalIndex{}
}

// AddOutcome discriminates the three results of Add per spec §4.3.
type AddOutcome int

const (
	// OutcomeInserted means the route was inserted and a kernel add should
	// be scheduled.
	OutcomeInserted AddOutcome = iota
	// OutcomeRefreshed means an exact match was found and its expiration
	// was refreshed; no kernel traffic is needed.
	OutcomeRefreshed
	// OutcomeDominated means a less-specific, higher-weight enclosing route
	// already covers this range; the new route was not inserted.
	OutcomeDominated
)

// Add inserts route into the index, applying the dedup and dominance rules:
//
//  1. An exact match (same endpoints, metric, weight, interface) has its
//     expiration refreshed and is returned with OutcomeRefreshed.
//  2. A route dominated by an enclosing, strictly-less-specific, strictly
//     higher-weight route is skipped; the dominating route is returned with
//     OutcomeDominated.
//  3. Otherwise route is inserted and returned with OutcomeInserted.
func (idx *IntervalIndex) Add(route *Route) (*Route, AddOutcome) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := uint64(route.NetStart)
	end := uint64(route.NetEnd) + 1
	overlapping := idx.queryLocked(start, end)

	for _, iv := range overlapping {
		if iv.start == start && iv.end == end &&
			iv.route.Metric == route.Metric &&
			iv.route.Weight == route.Weight &&
			iv.route.Interface == route.Interface {
			iv.route.ResetExpiration(route.TTL)
			return iv.route.Clone(), OutcomeRefreshed
		}
	}

	routeSpan := end - start
	for _, iv := range overlapping {
		ivSpan := iv.end - iv.start
		if iv.start <= start && end <= iv.end &&
			ivSpan > routeSpan && iv.route.Weight > route.Weight {
			return iv.route.Clone(), OutcomeDominated
		}
	}

	route.ResetExpiration(route.TTL)
	idx.root = insert(idx.root, &interval{start: start, end: end, route: route})
	idx.size++
	return route, OutcomeInserted
}

// Remove deletes the exact interval backing route, if present.
func (idx *IntervalIndex) Remove(route *Route) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := uint64(route.NetStart)
	end := uint64(route.NetEnd) + 1
	var removed bool
	idx.root, removed = remove(idx.root, start, end, route)
	if removed {
		idx.size--
	}
	return removed
}

// Query returns every Route overlapping the half-open range [start, end).
func (idx *IntervalIndex) Query(start, end uint32) []*Route {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ivs := idx.queryLocked(uint64(start), uint64(end))
	routes := make([]*Route, len(ivs))
	for i, iv := range ivs {
		routes[i] = iv.route
	}
	return routes
}

// Contains reports whether point is covered by any interval in the index.
func (idx *IntervalIndex) Contains(point uint32) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.queryLocked(uint64(point), uint64(point)+1)) > 0
}

// Sweep atomically finds every expired interval and removes the ones for
// which isLive (given the interval's [start, end) range) returns false. It
// runs entirely under the index's write lock, as spec §4.6 requires: the
// snapshot of expired intervals, the conntrack liveness check, and the
// removal must observe a single consistent index state.
func (idx *IntervalIndex) Sweep(isLive func(start, end uint64) bool) (removed []*Route, preserved int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var expired []*interval
	walk(idx.root, func(iv *interval) {
		if iv.route.Expired() {
			expired = append(expired, iv)
		}
	})
	if len(expired) == 0 {
		return nil, 0
	}

	for _, iv := range expired {
		if isLive(iv.start, iv.end) {
			preserved++
			continue
		}
		idx.root, _ = remove(idx.root, iv.start, iv.end, iv.route)
		idx.size--
		removed = append(removed, iv.route)
	}
	return removed, preserved
}

// All returns every Route currently held, in index order.
func (idx *IntervalIndex) All() []*Route {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []*Route
	walk(idx.root, func(iv *interval) { out = append(out, iv.route) })
	return out
}

// Len reports the number of intervals currently held.
func (idx *IntervalIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}

func (idx *IntervalIndex) queryLocked(start, end uint64) []*interval {
	var out []*interval
	var rec func(n *interval)
	rec = func(n *interval) {
		if n == nil || n.maxEnd <= start {
			return
		}
		if n.left != nil {
			rec(n.left)
		}
		if n.start < end && start < n.end {
			out = append(out, n)
		}
		if n.start < end {
			rec(n.right)
		}
	}
	rec(idx.root)
	return out
}

func walk(n *interval, visit func(*interval)) {
	if n == nil {
		return
	}
	walk(n.left, visit)
	visit(n)
	walk(n.right, visit)
}

func insert(n, leaf *interval) *interval {
	if n == nil {
		leaf.maxEnd = leaf.end
		return leaf
	}
	if leaf.start < n.start || (leaf.start == n.start && leaf.end < n.end) {
		n.left = insert(n.left, leaf)
	} else {
		n.right = insert(n.right, leaf)
	}
	if leaf.end > n.maxEnd {
		n.maxEnd = leaf.end
	}
	return n
}

func remove(n *interval, start, end uint64, route *Route) (*interval, bool) {
	if n == nil {
		return nil, false
	}
	var removed bool
	if n.start == start && n.end == end && n.route == route {
		removed = true
		if n.left == nil {
			return recomputeMax(n.right), true
		}
		if n.right == nil {
			return recomputeMax(n.left), true
		}
		// Two children: splice in the in-order successor from the right
		// subtree to keep the BST ordering invariant intact.
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		n.start, n.end, n.route = succ.start, succ.end, succ.route
		n.right, _ = remove(n.right, succ.start, succ.end, succ.route)
		return recomputeMax(n), true
	}

	if start < n.start || (start == n.start && end < n.end) {
		n.left, removed = remove(n.left, start, end, route)
	} else {
		n.right, removed = remove(n.right, start, end, route)
	}
	if removed {
		return recomputeMax(n), true
	}
	return n, false
}

func recomputeMax(n *interval) *interval {
	if n == nil {
		return nil
	}
	max := n.end
	if n.left != nil && n.left.maxEnd > max {
		max = n.left.maxEnd
	}
	if n.right != nil && n.right.maxEnd > max {
		max = n.right.maxEnd
	}
	n.maxEnd = max
	return n
}
