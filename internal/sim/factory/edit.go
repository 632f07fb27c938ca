package factory

import (
	"fmt"

	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/belt"
)

// PlaceTile inserts or replaces a tile, reporting whether the tile set
// changed. The run graph is rebuilt at the next tick boundary.
func (f *Factory) PlaceTile(t belt.Tile) bool {
	return f.tiles.Place(t)
}

// RemoveTile removes the tile at c, reporting whether one was present.
func (f *Factory) RemoveTile(c belt.Cell) bool {
	return f.tiles.Remove(c)
}

// ProduceAtHead queues a new item at the run whose head is c. Item ids are
// allocated only for accepted items.
func (f *Factory) ProduceAtHead(c belt.Cell) (belt.ItemID, bool) {
	f.ensureGraph()
	id := belt.ItemID(f.nextItem + 1)
	if !f.coord.ProduceAtHead(c, id) {
		return 0, false
	}
	f.nextItem++
	return id, true
}

func (f *Factory) ensureGraph() {
	if f.tiles.Version() != f.built {
		f.rebuild()
	}
}

func (f *Factory) rebuild() {
	before := f.coord.Counters().Dropped
	f.coord.SetGraph(f.builder.Build(f.tiles), true)
	f.built = f.tiles.Version()
	f.rebuilds++
	f.lastRebuild = &RebuildInfo{
		Seq:     f.rebuilds,
		Tiles:   f.tiles.Len(),
		Runs:    f.coord.Graph().Len(),
		Dropped: f.coord.Counters().Dropped - before,
	}
}

func (f *Factory) applyEdit(req Request) Result {
	cell := belt.CellFromArray(req.Pos)
	switch req.Op {
	case protocol.OpPlace:
		d, err := belt.ParseDirection(req.Dir)
		if err != nil {
			return reject(protocol.ErrBadRequest, err.Error())
		}
		if req.Tunnel < 0 {
			return reject(protocol.ErrBadRequest, "tunnel id must be >= 0")
		}
		t := belt.Tile{Cell: cell, Dir: d, TunnelID: req.Tunnel, Splitter: req.Splitter}
		if !f.PlaceTile(t) {
			return Result{Accepted: true, NoOp: true}
		}
		return Result{Accepted: true}
	case protocol.OpRemove:
		if !f.RemoveTile(cell) {
			return reject(protocol.ErrInvalidTarget, fmt.Sprintf("no tile at %v", cell))
		}
		return Result{Accepted: true}
	default:
		return reject(protocol.ErrBadRequest, fmt.Sprintf("unknown op %q", req.Op))
	}
}

func (f *Factory) applyProduce(req Request) Result {
	cell := belt.CellFromArray(req.Pos)
	id, ok := f.ProduceAtHead(cell)
	if !ok {
		return reject(protocol.ErrInvalidTarget, fmt.Sprintf("no run starts at %v", cell))
	}
	return Result{Accepted: true, ItemID: id}
}

func (f *Factory) runProducers(nowTick uint64) {
	for _, p := range f.producers {
		if nowTick < p.offset || (nowTick-p.offset)%p.every != 0 {
			continue
		}
		if p.limit > 0 && p.emitted >= p.limit {
			continue
		}
		if _, ok := f.ProduceAtHead(p.cell); ok {
			p.emitted++
		}
	}
}

func (f *Factory) audit(nowTick uint64, req Request, prev *belt.Tile) {
	if f.auditLogger == nil {
		return
	}
	actor := req.SessionID
	if actor == "" {
		actor = "SYSTEM"
	}
	e := AuditEntry{
		Tick:     nowTick,
		Actor:    actor,
		Action:   req.Op,
		Pos:      req.Pos,
		Dir:      req.Dir,
		Tunnel:   req.Tunnel,
		Splitter: req.Splitter,
	}
	if prev != nil {
		e.From = &AuditTile{Dir: prev.Dir.String(), Tunnel: prev.TunnelID, Splitter: prev.Splitter}
	}
	_ = f.auditLogger.WriteAudit(e)
}

func reject(code, msg string) Result {
	return Result{Code: code, Message: msg}
}
