package factory

import (
	"fmt"
	"sort"

	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/belt"
)

// ExportSnapshot captures the full factory state after tick nowTick.
func (f *Factory) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	f.ensureGraph()

	tiles := f.tiles.Sorted()
	tileSnaps := make([]snapshot.TileV1, 0, len(tiles))
	for _, t := range tiles {
		tileSnaps = append(tileSnaps, snapshot.TileV1{
			Pos:      t.Cell.ToArray(),
			Dir:      uint8(t.Dir),
			TunnelID: t.TunnelID,
			Splitter: t.Splitter,
		})
	}

	producers := make([]snapshot.ProducerV1, 0, len(f.producers))
	for _, p := range f.producers {
		producers = append(producers, snapshot.ProducerV1{
			Pos:        p.cell.ToArray(),
			EveryTicks: int(p.every),
			Offset:     int(p.offset),
			Limit:      p.limit,
			Emitted:    p.emitted,
		})
	}

	sinkCells := make([]belt.Cell, 0, len(f.sinks))
	for c := range f.sinks {
		sinkCells = append(sinkCells, c)
	}
	sort.Slice(sinkCells, func(i, j int) bool { return sinkCells[i].Less(sinkCells[j]) })
	sinks := make([]snapshot.SinkV1, 0, len(sinkCells))
	for _, c := range sinkCells {
		sinks = append(sinks, snapshot.SinkV1{Pos: c.ToArray(), Consumed: f.sinks[c].Consumed})
	}

	var weights []snapshot.WeightV1
	for tail, m := range f.weights {
		for out, w := range m {
			weights = append(weights, snapshot.WeightV1{Tail: tail.ToArray(), Output: out.ToArray(), Weight: w})
		}
	}
	sort.Slice(weights, func(i, j int) bool {
		a, b := weights[i], weights[j]
		if a.Tail != b.Tail {
			return belt.CellFromArray(a.Tail).Less(belt.CellFromArray(b.Tail))
		}
		return belt.CellFromArray(a.Output).Less(belt.CellFromArray(b.Output))
	})

	states := f.coord.ExportState()
	runs := make([]snapshot.RunV1, 0, len(states))
	for _, st := range states {
		runs = append(runs, runToSnapshot(st))
	}

	c := f.coord.Counters()
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			FactoryID: f.cfg.ID,
			Tick:      nowTick,
		},
		TickRateHz:         f.cfg.TickRateHz,
		Speed:              f.cfg.Speed,
		MinSpacing:         f.cfg.MinSpacing,
		AdmitRetryCap:      f.cfg.AdmitRetryCap,
		AutoWire:           f.cfg.AutoWire,
		SnapshotEveryTicks: f.cfg.SnapshotEveryTicks,
		Tiles:              tileSnaps,
		Producers:          producers,
		Sinks:              sinks,
		Weights:            weights,
		Runs:               runs,
		Counters: snapshot.CountersV1{
			NextItem:  f.nextItem,
			Produced:  c.Produced,
			Delivered: c.Delivered,
			Lost:      c.Lost,
			Dropped:   c.Dropped,
			Rebuilds:  f.rebuilds,
		},
	}
}

// ImportSnapshot replaces the factory state with s. The next tick to run is
// s.Header.Tick+1. Sessions and loggers are kept.
func (f *Factory) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.TickRateHz <= 0 {
		return fmt.Errorf("snapshot tick_rate_hz must be > 0")
	}

	tiles := belt.NewTileIndex()
	for i, t := range s.Tiles {
		d := belt.Direction(t.Dir)
		if !d.Valid() {
			return fmt.Errorf("snapshot tiles[%d]: invalid dir %d", i, t.Dir)
		}
		tiles.Place(belt.Tile{Cell: belt.CellFromArray(t.Pos), Dir: d, TunnelID: t.TunnelID, Splitter: t.Splitter})
	}

	if s.Header.FactoryID != "" {
		f.cfg.ID = s.Header.FactoryID
	}
	f.cfg.TickRateHz = s.TickRateHz
	f.cfg.Speed = s.Speed
	f.cfg.MinSpacing = s.MinSpacing
	f.cfg.AdmitRetryCap = s.AdmitRetryCap
	f.cfg.AutoWire = s.AutoWire
	f.cfg.SnapshotEveryTicks = s.SnapshotEveryTicks
	f.cfg.applyDefaults()

	f.tiles = tiles

	f.producers = f.producers[:0]
	for _, p := range s.Producers {
		pr := newProducer(belt.CellFromArray(p.Pos), p.EveryTicks, p.Offset, p.Limit)
		pr.emitted = p.Emitted
		f.producers = append(f.producers, pr)
	}
	f.sinks = map[belt.Cell]*belt.Sink{}
	for _, sk := range s.Sinks {
		f.sinks[belt.CellFromArray(sk.Pos)] = &belt.Sink{Consumed: sk.Consumed}
	}
	f.weights = map[belt.Cell]map[belt.Cell]int{}
	for _, w := range s.Weights {
		tail := belt.CellFromArray(w.Tail)
		m, ok := f.weights[tail]
		if !ok {
			m = map[belt.Cell]int{}
			f.weights[tail] = m
		}
		m[belt.CellFromArray(w.Output)] = w.Weight
	}

	f.resetCoordinator()
	f.coord.SetGraph(f.builder.Build(f.tiles), false)
	f.built = f.tiles.Version()
	f.coord.SetCounters(belt.Counters{
		Produced:  s.Counters.Produced,
		Delivered: s.Counters.Delivered,
		Lost:      s.Counters.Lost,
		Dropped:   s.Counters.Dropped,
	})
	states := make([]belt.RunState, 0, len(s.Runs))
	for _, r := range s.Runs {
		states = append(states, runFromSnapshot(r))
	}
	f.coord.ImportState(states)

	f.nextItem = s.Counters.NextItem
	f.rebuilds = s.Counters.Rebuilds
	f.lastRebuild = nil
	f.lastTick = s.Header.Tick
	f.lastDigest = ""
	f.tick.Store(s.Header.Tick + 1)
	return nil
}

func runToSnapshot(st belt.RunState) snapshot.RunV1 {
	r := snapshot.RunV1{
		Head:     st.Head.ToArray(),
		HeadKind: string(st.HeadKind),
		Queued:   idsToSnapshot(st.Queued),
		Turn:     st.Turn,
	}
	for _, it := range st.Items {
		r.Items = append(r.Items, snapshot.ItemV1{ID: uint64(it.ID), Offset: it.Offset})
	}
	for _, src := range st.Sources {
		r.Sources = append(r.Sources, snapshot.SourceV1{From: src.From.ToArray(), Items: idsToSnapshot(src.Items)})
	}
	if st.Split != nil {
		r.Split = &snapshot.SplitV1{
			Items:    idsToSnapshot(st.Split.Items),
			Last:     st.Split.Last,
			Cursor:   st.Split.Cursor,
			Credited: st.Split.Credited,
		}
	}
	return r
}

func runFromSnapshot(r snapshot.RunV1) belt.RunState {
	st := belt.RunState{
		Head:     belt.CellFromArray(r.Head),
		HeadKind: belt.EndpointKind(r.HeadKind),
		Queued:   idsFromSnapshot(r.Queued),
		Turn:     r.Turn,
	}
	for _, it := range r.Items {
		st.Items = append(st.Items, belt.Item{ID: belt.ItemID(it.ID), Offset: it.Offset})
	}
	for _, src := range r.Sources {
		st.Sources = append(st.Sources, belt.SourceState{From: belt.CellFromArray(src.From), Items: idsFromSnapshot(src.Items)})
	}
	if r.Split != nil {
		st.Split = &belt.SplitState{
			Items:    idsFromSnapshot(r.Split.Items),
			Last:     r.Split.Last,
			Cursor:   r.Split.Cursor,
			Credited: r.Split.Credited,
		}
	}
	return st
}

func idsToSnapshot(ids []belt.ItemID) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func idsFromSnapshot(ids []uint64) []belt.ItemID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]belt.ItemID, len(ids))
	for i, id := range ids {
		out[i] = belt.ItemID(id)
	}
	return out
}
