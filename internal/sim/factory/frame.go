package factory

import "beltsim.ai/internal/protocol"

// Frame returns the render view of the last completed tick.
func (f *Factory) Frame() protocol.FrameMsg {
	return f.buildFrame(f.lastTick, f.lastDigest)
}

func (f *Factory) buildFrame(nowTick uint64, digest string) protocol.FrameMsg {
	runs := f.coord.Runs()
	out := make([]protocol.RunObs, 0, len(runs))
	for i, r := range runs {
		obs := protocol.RunObs{
			Head:   r.Head().ToArray(),
			Tail:   r.Tail().ToArray(),
			Length: r.TotalLength(),
		}
		for _, p := range r.Points() {
			obs.Points = append(obs.Points, p.ToArray())
		}
		items := r.Items()
		obs.Items = make([]protocol.ItemObs, 0, len(items))
		for _, it := range items {
			pos, fwd := r.PositionAt(it.Offset)
			obs.Items = append(obs.Items, protocol.ItemObs{
				ID:     uint64(it.ID),
				Offset: it.Offset,
				Pos:    pos.ToArray(),
				Fwd:    fwd.ToArray(),
			})
		}
		if e := f.coord.HeadEndpoint(i); e != nil {
			obs.Kind = string(e.Kind())
			obs.Queued = e.Len()
		}
		if s := f.coord.Splitter(i); s != nil {
			obs.Queued += s.Len()
		}
		out = append(out, obs)
	}

	st := f.coord.Stats()
	return protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		FactoryID:       f.cfg.ID,
		Tick:            nowTick,
		Digest:          digest,
		Runs:            out,
		Stats: protocol.CountersObs{
			Produced:  st.Produced,
			Delivered: st.Delivered,
			Lost:      st.Lost,
			Dropped:   st.Dropped,
			OnRuns:    st.OnRuns,
			Queued:    st.Queued,
			Runs:      st.Runs,
		},
	}
}
