// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes a Prometheus registry for route engine counters
// and gauges: routes installed/removed, batch flushes, expirer activity,
// and kernel/conntrack errors by stage.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all route engine metrics.
type Registry struct {
	// Route lifecycle
	RoutesActive    *prometheus.GaugeVec
	RoutesInstalled *prometheus.CounterVec
	RoutesExpired   *prometheus.CounterVec
	RoutesRenewed   *prometheus.CounterVec

	// Batcher
	BatchFlushesTotal    prometheus.Counter
	BatchOpsTotal        *prometheus.CounterVec
	BatchRemaindersTotal prometheus.Counter
	BatchFlushDuration   prometheus.Histogram

	// Expirer
	ExpirerCyclesTotal      prometheus.Counter
	ExpirerRemovalsTotal    prometheus.Counter
	ExpirerPreservedTotal   prometheus.Counter
	ExpirerConntrackEntries prometheus.Gauge

	// DNS event handler
	ARecordsTotal       *prometheus.CounterVec
	ImmediateInstallErr *prometheus.CounterVec

	// Kernel / conntrack errors by stage (see internal/errors Attr "stage")
	KernelErrorsTotal *prometheus.CounterVec

	// Config
	ConfigReloadTotal *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.RoutesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "routeengine_routes_active",
		Help: "Number of routes currently held in the interval index",
	}, []string{"rule_kind"})

	r.RoutesInstalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_routes_installed_total",
		Help: "Total routes installed into the kernel policy table",
	}, []string{"rule_kind"})

	r.RoutesExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_routes_expired_total",
		Help: "Total routes removed by the expirer",
	}, []string{"rule_kind"})

	r.RoutesRenewed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_routes_renewed_total",
		Help: "Total routes whose TTL was extended by a repeat A record",
	}, []string{"rule_kind"})

	r.BatchFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routeengine_batch_flushes_total",
		Help: "Total batch flushes sent to the kernel route backend",
	})

	r.BatchOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_batch_ops_total",
		Help: "Total queued operations applied, by kind",
	}, []string{"op"})

	r.BatchRemaindersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routeengine_batch_remainders_total",
		Help: "Total oversize remainder batches split out of a full queue drain",
	})

	r.BatchFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routeengine_batch_flush_duration_seconds",
		Help:    "Time spent applying one batch to the kernel route backend",
		Buckets: prometheus.DefBuckets,
	})

	r.ExpirerCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routeengine_expirer_cycles_total",
		Help: "Total expirer scan cycles run",
	})

	r.ExpirerRemovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routeengine_expirer_removals_total",
		Help: "Total routes removed by an expirer cycle",
	})

	r.ExpirerPreservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routeengine_expirer_preserved_total",
		Help: "Total expired routes preserved due to a live conntrack entry",
	})

	r.ExpirerConntrackEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "routeengine_expirer_conntrack_entries",
		Help: "Conntrack entries observed in the most recent expirer dump",
	})

	r.ARecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_a_records_total",
		Help: "Total A records received from the DNS event handler",
	}, []string{"matched"})

	r.ImmediateInstallErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_immediate_install_errors_total",
		Help: "Total immediate (non-batched) installs that failed",
	}, []string{"rule_kind"})

	r.KernelErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_kernel_errors_total",
		Help: "Total kernel/conntrack backend errors by stage",
	}, []string{"stage"})

	r.ConfigReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routeengine_config_reload_total",
		Help: "Total configuration load attempts",
	}, []string{"result"})

	return r
}
