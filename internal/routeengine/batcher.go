// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"context"
	"net"
	"time"

	"mrvpn.dev/routeengine/internal/logging"
	"mrvpn.dev/routeengine/internal/metrics"
)

// DefaultMaxBatchOps stands in for the original's sndbuf-derived size
// check: vishvananda/netlink has no raw batch-framing API exposing socket
// buffer sizing the way pyroute2's IPBatch does, so the coalescing
// threshold here is an operation count rather than a byte count.
const DefaultMaxBatchOps = 256

// DefaultCommitInterval is the maximum time a partially-filled batch waits
// before being flushed.
const DefaultCommitInterval = 20 * time.Millisecond

// touchedRange is one destination range touched by a flushed batch, used
// to decide which conntrack entries to purge.
type touchedRange struct{ start, end uint64 }

func (t touchedRange) contains(ip uint32) bool {
	v := uint64(ip)
	return t.start <= v && v < t.end
}

// Batcher drains the Dispatch Queue, coalesces operations into kernel-sized
// batches, flushes on size or time thresholds, and purges conntrack for the
// destinations just touched.
type Batcher struct {
	Queue          *DispatchQueue
	Backend        KernelBackend
	Table          int
	CleanConntrack bool
	MaxBatchOps    int
	CommitInterval time.Duration
	Logger         *logging.Logger

	Metrics *metrics.Registry
}

// NewBatcher builds a Batcher with spec-default thresholds.
func NewBatcher(queue *DispatchQueue, backend KernelBackend, table int, cleanConntrack bool) *Batcher {
	return &Batcher{
		Queue:          queue,
		Backend:        backend,
		Table:          table,
		CleanConntrack: cleanConntrack,
		MaxBatchOps:    DefaultMaxBatchOps,
		CommitInterval: DefaultCommitInterval,
		Logger:         logging.New(logging.DefaultConfig()).WithComponent("batcher"),
		Metrics:        metrics.Get(),
	}
}

// Run drains the queue until ctx is cancelled, flushing any partially
// accumulated batch before returning.
func (b *Batcher) Run(ctx context.Context) {
	for {
		batch, remainder, touched, drained := b.collect(ctx)
		b.flush(batch, remainder, touched)
		if drained {
			return
		}
	}
}

// collect accumulates operations until the batch is full, the commit
// interval elapses, or ctx is cancelled. drained is true only when ctx was
// cancelled, signalling the caller to stop after this final flush.
func (b *Batcher) collect(ctx context.Context) (batch, remainder []Op, touched []touchedRange, drained bool) {
	deadline := time.NewTimer(b.CommitInterval)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return batch, remainder, touched, true

		case op := <-b.Queue.Chan():
			touched = append(touched, touchedRange{
				start: uint64(ipToUint32(op.Spec.Dst)),
				end:   uint64(ipToUint32(op.Spec.Dst)) + (uint64(1) << (32 - op.Spec.DstLen)),
			})
			if len(batch) >= b.MaxBatchOps {
				remainder = append(remainder, op)
				return batch, remainder, touched, false
			}
			batch = append(batch, op)

		case <-deadline.C:
			return batch, remainder, touched, false
		}
	}
}

func (b *Batcher) flush(batch, remainder []Op, touched []touchedRange) {
	if len(batch) == 0 && len(remainder) == 0 {
		return
	}

	if len(batch) > 0 {
		b.apply(batch)
	}
	if len(remainder) > 0 {
		b.Metrics.BatchRemaindersTotal.Inc()
		b.apply(remainder)
	}

	if len(touched) > 0 && b.CleanConntrack {
		b.purgeConntrack(touched)
	}
}

func (b *Batcher) apply(ops []Op) {
	b.Metrics.BatchFlushesTotal.Inc()
	timer := time.Now()
	perOp, err := b.Backend.ApplyBatch(ops)
	b.Metrics.BatchFlushDuration.Observe(time.Since(timer).Seconds())
	if err != nil {
		b.Logger.Warn("batch apply failed", "error", err, "ops", len(ops))
		return
	}
	for i, op := range ops {
		b.Metrics.BatchOpsTotal.WithLabelValues(op.Kind.String()).Inc()
		if i < len(perOp) && perOp[i] != nil {
			// An individual add/del rejection never stops the pipeline.
			b.Logger.Warn("kernel op failed", "kind", op.Kind, "dst", op.Spec.Dst, "error", perOp[i])
		}
	}
}

func (b *Batcher) purgeConntrack(touched []touchedRange) {
	flows, err := b.Backend.EnumerateConntrack()
	if err != nil {
		b.Logger.Warn("conntrack enumeration failed", "error", err)
		return
	}
	for _, flow := range flows {
		if !matchesAny(touched, flow.Src) && !matchesAny(touched, flow.Dst) {
			continue
		}
		if err := b.Backend.DeleteConntrack(flow); err != nil {
			b.Logger.Debug("conntrack delete failed", "error", err)
		}
	}
}

func matchesAny(ranges []touchedRange, ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	ipInt := ipToUint32(v4)
	for _, r := range ranges {
		if r.contains(ipInt) {
			return true
		}
	}
	return false
}
