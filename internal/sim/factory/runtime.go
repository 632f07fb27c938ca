package factory

import (
	"context"
	"encoding/json"
	"time"

	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/belt"
)

// Run drives the factory at the configured tick rate until ctx is done or
// Stop is called. Requests that arrive between ticks are applied in arrival
// order at the next tick boundary.
func (f *Factory) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(f.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Request
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stop:
			return nil
		case req := <-f.join:
			f.handleJoin(req)
		case id := <-f.leave:
			delete(f.sessions, id)
		case req := <-f.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-f.inbox:
			pending = append(pending, req)
		case <-ticker.C:
			f.step(pending)
			f.handleAdminSnapshotRequests(pendingAdmin)
			pending = pending[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (f *Factory) Stop() { close(f.stop) }

// StepOnce advances the factory by a single tick using the same ordering
// semantics as Run. It is used by replays and tests.
func (f *Factory) StepOnce(reqs []Request) (tick uint64, digest string) {
	tick = f.tick.Load()
	return tick, f.step(reqs)
}

func (f *Factory) step(reqs []Request) string {
	stepStart := time.Now()
	nowTick := f.tick.Load()
	f.lastRebuild = nil

	// Edits first, so produce requests in the same tick see the rebuilt graph.
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		if req.Op == OpProduce {
			continue
		}
		var prev *belt.Tile
		if t, ok := f.tiles.Get(belt.CellFromArray(req.Pos)); ok {
			prev = &t
		}
		results[i] = f.applyEdit(req)
		if results[i].Accepted && !results[i].NoOp {
			f.audit(nowTick, req, prev)
		}
	}
	f.ensureGraph()
	for i, req := range reqs {
		if req.Op == OpProduce {
			results[i] = f.applyProduce(req)
		}
	}
	f.runProducers(nowTick)

	f.coord.Step(1 / float64(f.cfg.TickRateHz))

	digest := f.stateDigest(nowTick)
	stats := f.coord.Stats()
	if f.tickLogger != nil {
		var recorded []Request
		if len(reqs) > 0 {
			recorded = append(recorded, reqs...)
		}
		_ = f.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Requests: recorded,
			Rebuild:  f.lastRebuild,
			Stats:    stats,
			Digest:   digest,
		})
	}
	f.lastTick = nowTick
	f.lastDigest = digest

	f.sendAcks(nowTick, reqs, results)
	f.broadcastFrame(nowTick, digest)

	// Snapshot every N ticks, starting after tick 0.
	if f.snapshotSink != nil && nowTick != 0 && f.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(f.cfg.SnapshotEveryTicks) == 0 {
			snap := f.ExportSnapshot(nowTick)
			select {
			case f.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := f.tick.Add(1)
	f.metrics.Store(Metrics{
		Tick:     nextTick,
		Tiles:    f.tiles.Len(),
		Sessions: len(f.sessions),
		Rebuilds: f.rebuilds,
		Stats:    stats,
		Sinks:    f.SinkStats(),
		QueueDepths: QueueDepths{
			Inbox: len(f.inbox),
			Join:  len(f.join),
			Leave: len(f.leave),
		},
		StepMS: stepMS,
	})
	return digest
}

func (f *Factory) handleJoin(req JoinRequest) {
	role := req.Role
	if role == "" {
		role = protocol.RoleEditor
	}
	f.sessions[req.SessionID] = &session{
		id:     req.SessionID,
		name:   req.Name,
		role:   role,
		frames: req.Frames,
		out:    req.Out,
	}
	if req.Resp != nil {
		req.Resp <- protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       req.SessionID,
			FactoryID:       f.cfg.ID,
			Role:            role,
			Tick:            f.tick.Load(),
			Params:          f.Params(),
		}
	}
}

func (f *Factory) sendAcks(nowTick uint64, reqs []Request, results []Result) {
	for i, req := range reqs {
		if req.SessionID == "" {
			continue
		}
		s := f.sessions[req.SessionID]
		if s == nil || s.out == nil {
			continue
		}
		res := results[i]
		b, err := json.Marshal(protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          req.ReqID,
			Accepted:        res.Accepted,
			Code:            res.Code,
			Message:         res.Message,
			ServerTick:      nowTick,
			ItemID:          uint64(res.ItemID),
		})
		if err != nil {
			continue
		}
		select {
		case s.out <- b:
		default:
		}
	}
}

func (f *Factory) broadcastFrame(nowTick uint64, digest string) {
	if nowTick%uint64(f.cfg.FrameEveryTicks) != 0 {
		return
	}
	var b []byte
	for _, s := range f.sessions {
		if !s.frames || s.out == nil {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(f.buildFrame(nowTick, digest))
			if err != nil {
				return
			}
		}
		sendLatest(s.out, b)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
