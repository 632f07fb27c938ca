package factory

import (
	"sort"

	"beltsim.ai/internal/sim/belt"
)

// Metrics is a thread-safe read-only view of key factory runtime signals.
// It is updated from the loop goroutine and read from HTTP handlers/tests.
type Metrics struct {
	Tick     uint64 `json:"tick"`
	Tiles    int    `json:"tiles"`
	Sessions int    `json:"sessions"`
	Rebuilds uint64 `json:"rebuilds"`

	Stats belt.Stats `json:"stats"`
	Sinks []SinkStat `json:"sinks,omitempty"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

// SinkStat is the number of items a configured sink has consumed.
type SinkStat struct {
	Pos      [2]int `json:"pos"`
	Consumed uint64 `json:"consumed"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (f *Factory) Metrics() Metrics {
	if f == nil {
		return Metrics{}
	}
	v := f.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

// SinkStats reports per-sink consumption in cell order. Loop goroutine only.
func (f *Factory) SinkStats() []SinkStat {
	if len(f.sinks) == 0 {
		return nil
	}
	out := make([]SinkStat, 0, len(f.sinks))
	for c, s := range f.sinks {
		out = append(out, SinkStat{Pos: c.ToArray(), Consumed: s.Consumed})
	}
	sort.Slice(out, func(i, j int) bool {
		return belt.CellFromArray(out[i].Pos).Less(belt.CellFromArray(out[j].Pos))
	})
	return out
}
