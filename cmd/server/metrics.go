package main

import (
	"fmt"
	"io"

	"beltsim.ai/internal/sim/factory"
)

// writeFactoryMetrics writes the Prometheus text exposition of f.
func writeFactoryMetrics(w io.Writer, id string, f *factory.Factory) {
	m := f.Metrics()
	tick := f.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(w, "# HELP beltsim_factory_tick Current factory tick.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_tick gauge\n")
	fmt.Fprintf(w, "beltsim_factory_tick{factory=%q} %d\n", id, tick)

	fmt.Fprintf(w, "# HELP beltsim_factory_tiles Placed belt tiles.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_tiles gauge\n")
	fmt.Fprintf(w, "beltsim_factory_tiles{factory=%q} %d\n", id, m.Tiles)

	fmt.Fprintf(w, "# HELP beltsim_factory_runs Runs in the current graph.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_runs gauge\n")
	fmt.Fprintf(w, "beltsim_factory_runs{factory=%q} %d\n", id, m.Stats.Runs)

	fmt.Fprintf(w, "# HELP beltsim_factory_sessions Connected client sessions.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_sessions gauge\n")
	fmt.Fprintf(w, "beltsim_factory_sessions{factory=%q} %d\n", id, m.Sessions)

	fmt.Fprintf(w, "# HELP beltsim_factory_rebuilds_total Graph rebuilds.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_rebuilds_total counter\n")
	fmt.Fprintf(w, "beltsim_factory_rebuilds_total{factory=%q} %d\n", id, m.Rebuilds)

	fmt.Fprintf(w, "# HELP beltsim_items_total Item counters.\n")
	fmt.Fprintf(w, "# TYPE beltsim_items_total counter\n")
	fmt.Fprintf(w, "beltsim_items_total{factory=%q,state=%q} %d\n", id, "produced", m.Stats.Produced)
	fmt.Fprintf(w, "beltsim_items_total{factory=%q,state=%q} %d\n", id, "delivered", m.Stats.Delivered)
	fmt.Fprintf(w, "beltsim_items_total{factory=%q,state=%q} %d\n", id, "lost", m.Stats.Lost)
	fmt.Fprintf(w, "beltsim_items_total{factory=%q,state=%q} %d\n", id, "dropped", m.Stats.Dropped)

	fmt.Fprintf(w, "# HELP beltsim_items_in_flight Items on runs or waiting in endpoints.\n")
	fmt.Fprintf(w, "# TYPE beltsim_items_in_flight gauge\n")
	fmt.Fprintf(w, "beltsim_items_in_flight{factory=%q,where=%q} %d\n", id, "runs", m.Stats.OnRuns)
	fmt.Fprintf(w, "beltsim_items_in_flight{factory=%q,where=%q} %d\n", id, "queued", m.Stats.Queued)

	if len(m.Sinks) > 0 {
		fmt.Fprintf(w, "# HELP beltsim_sink_consumed_total Items consumed per sink.\n")
		fmt.Fprintf(w, "# TYPE beltsim_sink_consumed_total counter\n")
		for _, s := range m.Sinks {
			fmt.Fprintf(w, "beltsim_sink_consumed_total{factory=%q,sink=\"%d,%d\"} %d\n", id, s.Pos[0], s.Pos[1], s.Consumed)
		}
	}

	fmt.Fprintf(w, "# HELP beltsim_factory_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_queue_depth gauge\n")
	fmt.Fprintf(w, "beltsim_factory_queue_depth{factory=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(w, "beltsim_factory_queue_depth{factory=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(w, "beltsim_factory_queue_depth{factory=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(w, "# HELP beltsim_factory_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE beltsim_factory_step_ms gauge\n")
	fmt.Fprintf(w, "beltsim_factory_step_ms{factory=%q} %.3f\n", id, m.StepMS)
}

func writeIndexMetrics(w io.Writer, idx runtimeIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(w, "# HELP beltsim_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(w, "# TYPE beltsim_index_queue_depth gauge\n")
	fmt.Fprintf(w, "beltsim_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP beltsim_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(w, "# TYPE beltsim_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "beltsim_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP beltsim_index_dropped_total Records dropped because the index writer fell behind.\n")
	fmt.Fprintf(w, "# TYPE beltsim_index_dropped_total counter\n")
	fmt.Fprintf(w, "beltsim_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(w, "beltsim_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
	fmt.Fprintf(w, "beltsim_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}
