// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"context"
	"net"
	"time"

	"mrvpn.dev/routeengine/internal/logging"
	"mrvpn.dev/routeengine/internal/metrics"
)

// DefaultExpirerPeriod is the interval between expiry scans.
const DefaultExpirerPeriod = 10 * time.Second

// Expirer periodically scans the Interval Index for expired entries,
// consults conntrack once per cycle to suppress removal while flows are
// live, and enqueues deletions onto the Dispatch Queue.
type Expirer struct {
	Index        *IntervalIndex
	Queue        *DispatchQueue
	Backend      KernelBackend
	Table        int
	DefaultRoute DefaultRoute
	Period       time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Registry
}

// NewExpirer builds an Expirer with the spec-default period.
func NewExpirer(index *IntervalIndex, queue *DispatchQueue, backend KernelBackend, table int, defaultRoute DefaultRoute) *Expirer {
	return &Expirer{
		Index:        index,
		Queue:        queue,
		Backend:      backend,
		Table:        table,
		DefaultRoute: defaultRoute,
		Period:       DefaultExpirerPeriod,
		Logger:       logging.New(logging.DefaultConfig()).WithComponent("expirer"),
		Metrics:      metrics.Get(),
	}
}

// Run ticks every Period until ctx is cancelled.
func (e *Expirer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle()
		}
	}
}

func (e *Expirer) cycle() {
	e.Metrics.ExpirerCyclesTotal.Inc()

	var flows []ConntrackFlow
	var enumErr error
	fetched := false

	isLive := func(start, end uint64) bool {
		if !fetched {
			flows, enumErr = e.Backend.EnumerateConntrack()
			if enumErr != nil {
				e.Logger.Warn("conntrack enumeration failed, deferring expiry this cycle", "error", enumErr)
			}
			fetched = true
			e.Metrics.ExpirerConntrackEntries.Set(float64(len(flows)))
		}
		if enumErr != nil {
			// ResourceError: fail-safe, prefer stale routes over wrong ones.
			return true
		}
		for _, f := range flows {
			if containsIP(start, end, f.Src) || containsIP(start, end, f.Dst) {
				return true
			}
		}
		return false
	}

	removed, preserved := e.Index.Sweep(isLive)
	e.Metrics.ExpirerPreservedTotal.Add(float64(preserved))

	for _, route := range removed {
		e.Metrics.ExpirerRemovalsTotal.Inc()
		e.Metrics.RoutesExpired.WithLabelValues(route.Kind).Inc()
		e.Logger.Info("removed expired route", "net", route.Net.String())
		e.Queue.Put(Op{Kind: OpDel, Spec: route.Spec(e.Table, e.DefaultRoute)})
	}
	if len(removed) > 0 {
		for _, kind := range []string{"country", "net", "domain"} {
			e.Metrics.RoutesActive.WithLabelValues(kind).Set(float64(countByKind(e.Index, kind)))
		}
	}
}

func containsIP(start, end uint64, ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	v := uint64(ipToUint32(v4))
	return start <= v && v < end
}
