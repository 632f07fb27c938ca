package main

import (
	"strings"
	"testing"

	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/layout"
)

func TestWriteFactoryMetrics(t *testing.T) {
	f, err := factory.New(factory.Config{ID: "m1", TickRateHz: 10}, layout.Layout{
		Tiles:     []layout.Tile{{Pos: [2]int{0, 0}, Dir: "right", Repeat: 3}},
		Producers: []layout.Producer{{Pos: [2]int{0, 0}, EveryTicks: 1}},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	for i := 0; i < 5; i++ {
		f.StepOnce(nil)
	}
	var b strings.Builder
	writeFactoryMetrics(&b, "m1", f)
	out := b.String()
	for _, want := range []string{
		`beltsim_factory_tick{factory="m1"} 5`,
		`beltsim_factory_tiles{factory="m1"} 3`,
		`beltsim_items_total{factory="m1",state="produced"} 5`,
		"# TYPE beltsim_items_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	b.Reset()
	writeIndexMetrics(&b, nil)
	if b.Len() != 0 {
		t.Fatalf("nil index wrote %q", b.String())
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	if got := latestSnapshot(dir); got != "" {
		t.Fatalf("empty dir got %q", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestWriteFactoryMetrics_Sinks(t *testing.T) {
	f, err := factory.New(factory.Config{ID: "m2", TickRateHz: 10, Speed: 2}, layout.Layout{
		Tiles:     []layout.Tile{{Pos: [2]int{0, 0}, Dir: "right", Repeat: 3}},
		Producers: []layout.Producer{{Pos: [2]int{0, 0}, EveryTicks: 1, Limit: 3}},
		Sinks:     [][2]int{{2, 0}},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	for i := 0; i < 100; i++ {
		f.StepOnce(nil)
	}
	var b strings.Builder
	writeFactoryMetrics(&b, "m2", f)
	if want := `beltsim_sink_consumed_total{factory="m2",sink="2,0"} 3`; !strings.Contains(b.String(), want) {
		t.Fatalf("missing %q in:\n%s", want, b.String())
	}
}
