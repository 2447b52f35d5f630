// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"context"
	"net"
	"testing"
	"time"
)

func opFor(t *testing.T, cidr string, oifIndex int) Op {
	t.Helper()
	r := NewRoute(mustCIDR(t, cidr), "eth0", oifIndex, 1, 1, nil)
	return Op{Kind: OpAdd, Spec: r.Spec(200, DefaultRoute{})}
}

// S5: enqueueing more ops than the batch threshold in one go makes the first
// collect return a full batch plus exactly one overflow op in the remainder,
// and flushing them installs all five through two ApplyBatch calls.
func TestBatcher_OverflowProducesRemainder(t *testing.T) {
	backend := NewFakeBackend()
	queue := NewDispatchQueue(1024)
	batcher := NewBatcher(queue, backend, 200, false)
	batcher.MaxBatchOps = 4
	batcher.CommitInterval = 10 * time.Millisecond

	total := 10
	for i := 0; i < total; i++ {
		queue.Put(opFor(t, cidrForIndex(i), 2))
	}

	ctx, cancel := context.WithCancel(context.Background())
	batch, remainder, _, drained := batcher.collect(ctx)
	cancel()
	if drained {
		t.Fatal("collect should not report drained before ctx cancellation")
	}
	if len(batch) != 4 {
		t.Fatalf("expected the batch to cap at MaxBatchOps=4, got %d", len(batch))
	}
	if len(remainder) != 1 {
		t.Fatalf("expected exactly one op to overflow into the remainder, got %d", len(remainder))
	}

	batcher.flush(batch, remainder, nil)
	if backend.RouteCount() != 5 {
		t.Fatalf("expected 5 routes installed after the first flush, got %d", backend.RouteCount())
	}
	if backend.ApplyCalls() != 2 {
		t.Fatalf("expected exactly two ApplyBatch calls (batch + remainder), got %d", backend.ApplyCalls())
	}
}

func TestBatcher_Run_DrainsQueueAndStopsOnCancel(t *testing.T) {
	backend := NewFakeBackend()
	queue := NewDispatchQueue(16)
	batcher := NewBatcher(queue, backend, 200, false)
	batcher.CommitInterval = 5 * time.Millisecond

	for i := 0; i < 3; i++ {
		queue.Put(opFor(t, cidrForIndex(i), 2))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}

	if backend.RouteCount() != 3 {
		t.Fatalf("expected all 3 queued routes installed, got %d", backend.RouteCount())
	}
}

func TestBatcher_PurgesConntrackForTouchedRangesOnly(t *testing.T) {
	backend := NewFakeBackend()
	backend.AddFlow(net.ParseIP("198.51.100.5"), net.ParseIP("10.0.0.1"), 6)
	backend.AddFlow(net.ParseIP("203.0.113.9"), net.ParseIP("10.0.0.2"), 6)

	queue := NewDispatchQueue(16)
	batcher := NewBatcher(queue, backend, 200, true)

	op := opFor(t, "198.51.100.5/32", 2)
	touched := []touchedRange{{start: uint64(ipToUint32(op.Spec.Dst)), end: uint64(ipToUint32(op.Spec.Dst)) + 1}}
	batcher.flush([]Op{op}, nil, touched)

	if len(backend.Flows) != 1 {
		t.Fatalf("expected only the flow touching 198.51.100.5 to be purged, %d flows remain", len(backend.Flows))
	}
	if backend.Flows[0].Src.String() != "203.0.113.9" {
		t.Fatalf("expected the untouched flow to survive, got %v", backend.Flows[0])
	}
}

func cidrForIndex(i int) string {
	return net.IPv4(198, 51, 100, byte(i+1)).String() + "/32"
}
