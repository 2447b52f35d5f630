// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"context"
	"sync"

	"mrvpn.dev/routeengine/internal/config"
	rerrors "mrvpn.dev/routeengine/internal/errors"
	"mrvpn.dev/routeengine/internal/logging"
	"mrvpn.dev/routeengine/internal/metrics"
)

// Router wires together the compiled rule set, the interval index, the
// dispatch queue, and the batcher/expirer workers into one running engine.
// It is the process's single point of construction and shutdown.
type Router struct {
	Settings *config.Settings
	Rules    *RuleSet
	Index    *IntervalIndex
	Queue    *DispatchQueue
	Batcher  *Batcher
	Expirer  *Expirer
	Handler  *EventHandler

	backend KernelBackend
	logger  *logging.Logger

	wg sync.WaitGroup
}

// NewRouter compiles settings against backend/prefixes and assembles every
// worker. It does not start anything or touch the kernel beyond the
// interface/default-route resolution Compile performs.
func NewRouter(settings *config.Settings, backend KernelBackend, prefixes PrefixSource) (*Router, error) {
	compiler := NewCompiler(backend, prefixes)
	rules, err := compiler.Compile(settings)
	if err != nil {
		return nil, rerrors.Attr(err, "stage", "compile")
	}

	defaultRoute, err := compiler.defaultRouteOnce()
	if err != nil {
		// Only an error if some rule actually referenced _DEFAULT; Compile
		// already surfaced that case, so a failure here means no rule uses
		// it and the zero value is fine to carry forward.
		defaultRoute = DefaultRoute{}
	}

	index := NewIntervalIndex()
	queue := NewDispatchQueue(settings.DomainRouteTTL + DefaultMaxBatchOps)
	batcher := NewBatcher(queue, backend, settings.Table, settings.CleanConntrack)
	expirer := NewExpirer(index, queue, backend, settings.Table, defaultRoute)
	handler := &EventHandler{
		Index:          index,
		Rules:          rules,
		DomainRouteTTL: settings.DomainRouteTTL,
		Backend:        backend,
		Table:          settings.Table,
		DefaultRoute:   defaultRoute,
	}

	return &Router{
		Settings: settings,
		Rules:    rules,
		Index:    index,
		Queue:    queue,
		Batcher:  batcher,
		Expirer:  expirer,
		Handler:  handler,
		backend:  backend,
		logger:   logging.New(logging.DefaultConfig()).WithComponent("router"),
	}, nil
}

// Start loads every permanent (non-donor) route from the compiled rule set
// onto the dispatch queue, then launches the batcher and expirer workers.
// Bulk loading goes through the queue rather than installing inline: unlike
// a DNS-triggered insert there is no client waiting on the result, so the
// batching path's coalescing is strictly a win here.
func (r *Router) Start(ctx context.Context) {
	for _, route := range r.permanentRoutes() {
		installed, outcome := r.Index.Add(route)
		switch outcome {
		case OutcomeInserted:
			r.Queue.Put(Op{Kind: OpAdd, Spec: installed.Spec(r.Settings.Table, r.Handler.DefaultRoute)})
			metrics.Get().RoutesInstalled.WithLabelValues(installed.Kind).Inc()
		case OutcomeRefreshed:
			metrics.Get().RoutesRenewed.WithLabelValues(installed.Kind).Inc()
		}
	}
	for _, kind := range []string{"country", "net", "domain"} {
		metrics.Get().RoutesActive.WithLabelValues(kind).Set(float64(countByKind(r.Index, kind)))
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.Batcher.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.Expirer.Run(ctx)
	}()
}

func (r *Router) permanentRoutes() []*Route {
	var out []*Route
	for _, cr := range r.Rules.CountryRules {
		out = append(out, cr.Routes...)
	}
	for _, nr := range r.Rules.NetRules {
		if nr.Route != nil {
			out = append(out, nr.Route)
		}
	}
	return out
}

// Shutdown waits for the batcher and expirer to return (the caller's ctx
// must already be cancelled) and then removes every route the engine
// itself installed in the configured table, leaving the kernel routing
// table as it found it.
func (r *Router) Shutdown(ctx context.Context) error {
	r.wg.Wait()

	routes := r.Index.All()
	ops := make([]Op, len(routes))
	for i, route := range routes {
		ops[i] = Op{Kind: OpDel, Spec: route.Spec(r.Settings.Table, r.Handler.DefaultRoute)}
	}
	if len(ops) == 0 {
		return nil
	}

	perOp, err := r.backend.ApplyBatch(ops)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindUnavailable, "router: shutdown flush")
	}
	for i, e := range perOp {
		if e != nil {
			r.logger.Warn("shutdown flush: route removal failed", "dst", ops[i].Spec.Dst, "error", e)
		}
	}
	for _, kind := range []string{"country", "net", "domain"} {
		metrics.Get().RoutesActive.WithLabelValues(kind).Set(0)
	}
	return nil
}
