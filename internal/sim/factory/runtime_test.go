package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/protocol"
)

func TestRun_AppliesInboxAndServesSnapshots(t *testing.T) {
	cfg := testConfig()
	cfg.TickRateHz = 200
	f, err := New(cfg, lineLayout())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := make(chan snapshot.SnapshotV1, 4)
	f.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	out := make(chan []byte, 64)
	resp := make(chan protocol.WelcomeMsg, 1)
	f.Join() <- JoinRequest{SessionID: "s1", Out: out, Resp: resp}
	select {
	case <-resp:
	case <-ctx.Done():
		t.Fatalf("no welcome")
	}

	f.Inbox() <- Request{SessionID: "s1", ReqID: "a", Op: protocol.OpPlace, Pos: [2]int{0, 2}, Dir: "down"}
	select {
	case <-out:
	case <-ctx.Done():
		t.Fatalf("no ack")
	}

	tick, err := f.RequestSnapshot(ctx)
	if err != nil {
		t.Fatalf("request snapshot: %v", err)
	}
	select {
	case snap := <-sink:
		if snap.Header.Tick != tick || len(snap.Tiles) != 6 {
			t.Fatalf("snapshot tick=%d want %d tiles=%d", snap.Header.Tick, tick, len(snap.Tiles))
		}
	case <-ctx.Done():
		t.Fatalf("snapshot not delivered")
	}

	f.Leave() <- "s1"
	if m := f.Metrics(); m.Tick == 0 {
		t.Fatalf("metrics not published")
	}
	f.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	f := newTestFactory(t, lineLayout())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestRequestSnapshot_WithoutSink(t *testing.T) {
	f := newTestFactory(t, lineLayout())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go f.Run(ctx)
	if _, err := f.RequestSnapshot(ctx); err == nil {
		t.Fatalf("expected error without sink")
	}
}

func TestStepOnce_PeriodicSnapshots(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotEveryTicks = 5
	f, err := New(cfg, lineLayout())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := make(chan snapshot.SnapshotV1, 8)
	f.SetSnapshotSink(sink)
	for i := 0; i < 16; i++ {
		f.StepOnce(nil)
	}
	close(sink)
	var ticks []uint64
	for s := range sink {
		ticks = append(ticks, s.Header.Tick)
	}
	if len(ticks) != 3 || ticks[0] != 5 || ticks[1] != 10 || ticks[2] != 15 {
		t.Fatalf("snapshot ticks=%v want [5 10 15]", ticks)
	}
}
