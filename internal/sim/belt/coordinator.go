package belt

import "sort"

// Config controls run construction and tick behaviour.
type Config struct {
	Speed         float64
	MinSpacing    float64
	AdmitRetryCap int

	// AutoWire attaches mergers, splitters and tunnel pairs on every rebind.
	AutoWire    bool
	CellToWorld CellToWorld
}

func (c *Config) applyDefaults() {
	if c.Speed <= 0 {
		c.Speed = 2
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = 0
	}
	if c.AdmitRetryCap <= 0 {
		c.AdmitRetryCap = 64
	}
	if c.CellToWorld == nil {
		c.CellToWorld = CellCenter
	}
}

// Counters track where items went. Together with the items on runs and in
// feeder queues they account for every produced item.
type Counters struct {
	Produced  uint64 `json:"produced"`
	Delivered uint64 `json:"delivered"`
	Lost      uint64 `json:"lost"`
	Dropped   uint64 `json:"dropped"`
}

type Stats struct {
	Counters
	Runs   int `json:"runs"`
	OnRuns int `json:"on_runs"`
	Queued int `json:"queued"`
}

// RunState is the item state of one run, keyed by head cell. Queued holds the
// head endpoint's untagged FIFO; merger sources are keyed by the head cell of
// the source run.
type RunState struct {
	Head     Cell
	Items    []Item
	Queued   []ItemID
	HeadKind EndpointKind
	Sources  []SourceState
	Turn     int
	Split    *SplitState
}

type SourceState struct {
	From  Cell
	Items []ItemID
}

// SplitState is a splitter's buffer and rotation state.
type SplitState struct {
	Items    []ItemID
	Last     int
	Cursor   int
	Credited int
}

// Coordinator owns the runs of one graph and their endpoints and steps them
// once per fixed tick. It is single-threaded: the owner serialises all calls.
type Coordinator struct {
	cfg Config

	graph     *Graph
	runs      []*Run
	heads     []Endpoint
	tails     []Endpoint
	splitters []*Splitter
	headIdx   map[Cell]int
	prevHeads []Cell

	splitWeights map[Cell]map[Cell]int

	ejected [][]Item
	outputs []*Run

	counters  Counters
	onRebuilt []func(*Graph)
}

func NewCoordinator(cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:          cfg,
		graph:        &Graph{},
		headIdx:      map[Cell]int{},
		splitWeights: map[Cell]map[Cell]int{},
	}
}

func (c *Coordinator) Config() Config { return c.cfg }
func (c *Coordinator) Graph() *Graph  { return c.graph }
func (c *Coordinator) Runs() []*Run   { return c.runs }

// OnRebuilt registers fn to run after every SetGraph.
func (c *Coordinator) OnRebuilt(fn func(*Graph)) {
	if fn != nil {
		c.onRebuilt = append(c.onRebuilt, fn)
	}
}

// SetSplitterWeights sets weights for the splitter at the run whose tail is
// tail, keyed by output run head cell. Applied on the next SetGraph and to an
// existing splitter immediately.
func (c *Coordinator) SetSplitterWeights(tail Cell, weights map[Cell]int) {
	if len(weights) == 0 {
		delete(c.splitWeights, tail)
	} else {
		c.splitWeights[tail] = weights
	}
	for i, r := range c.runs {
		if r.Tail() == tail && c.splitters[i] != nil {
			c.splitters[i].SetWeights(c.weightsFor(i))
		}
	}
}

func (c *Coordinator) RunAtHead(cell Cell) (int, bool) {
	i, ok := c.headIdx[cell]
	return i, ok
}

func (c *Coordinator) Run(i int) *Run {
	if i < 0 || i >= len(c.runs) {
		return nil
	}
	return c.runs[i]
}

func (c *Coordinator) HeadEndpoint(i int) Endpoint {
	if i < 0 || i >= len(c.heads) {
		return nil
	}
	return c.heads[i]
}

func (c *Coordinator) TailEndpoint(i int) Endpoint {
	if i < 0 || i >= len(c.tails) {
		return nil
	}
	return c.tails[i]
}

func (c *Coordinator) Splitter(i int) *Splitter {
	if i < 0 || i >= len(c.splitters) {
		return nil
	}
	return c.splitters[i]
}

func (c *Coordinator) SetHeadEndpoint(i int, e Endpoint) bool {
	if i < 0 || i >= len(c.heads) {
		return false
	}
	c.heads[i] = e
	return true
}

func (c *Coordinator) SetTailEndpoint(i int, e Endpoint) bool {
	if i < 0 || i >= len(c.tails) {
		return false
	}
	c.tails[i] = e
	return true
}

// SetGraph rebinds the coordinator to g. With preserveItems, items on old runs
// and in old feeder queues move to the new run that has the same head cell;
// everything that cannot be placed is counted as dropped.
func (c *Coordinator) SetGraph(g *Graph, preserveItems bool) {
	if g == nil {
		g = &Graph{}
	}
	saved := c.collect()

	c.graph = g
	n := g.Len()
	c.runs = make([]*Run, n)
	c.heads = make([]Endpoint, n)
	c.tails = make([]Endpoint, n)
	c.splitters = make([]*Splitter, n)
	c.ejected = make([][]Item, n)
	clear(c.headIdx)
	for i := 0; i < n; i++ {
		c.runs[i] = NewRun(g.Runs[i], g.TailDirs[i], c.cfg.CellToWorld, c.cfg.Speed, c.cfg.MinSpacing)
		if _, dup := c.headIdx[g.HeadCells[i]]; !dup {
			c.headIdx[g.HeadCells[i]] = i
		}
	}
	if c.cfg.AutoWire {
		c.autoWire()
	}

	for _, st := range saved {
		j, ok := c.headIdx[st.Head]
		if !ok || !preserveItems {
			c.counters.Dropped += uint64(len(st.Items) + len(st.Queued))
			continue
		}
		dropped := c.runs[j].Inject(st.Items)
		c.counters.Dropped += uint64(len(dropped))
		for _, id := range st.Queued {
			c.feeder(j).Produce(id)
		}
	}

	c.prevHeads = append(c.prevHeads[:0], g.HeadCells...)
	for _, fn := range c.onRebuilt {
		fn(g)
	}
}

// collect drains item state from the current binding, ordered by head cell.
// Splitter buffers go back onto their run's tail.
func (c *Coordinator) collect() []RunState {
	if len(c.runs) == 0 {
		return nil
	}
	byHead := map[Cell]*RunState{}
	var order []Cell
	for i, r := range c.runs {
		head := r.Head()
		if i < len(c.prevHeads) {
			head = c.prevHeads[i]
		}
		st, ok := byHead[head]
		if !ok {
			st = &RunState{Head: head}
			byHead[head] = st
			order = append(order, head)
		}
		st.Items = append(st.Items, r.Clear()...)
		if s := c.splitters[i]; s != nil {
			for _, id := range s.q.items() {
				st.Items = append(st.Items, Item{ID: id, Offset: r.TotalLength()})
			}
		}
		if e := c.heads[i]; e != nil {
			st.Queued = append(st.Queued, queuedItems(e)...)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Less(order[j]) })
	out := make([]RunState, 0, len(order))
	for _, h := range order {
		out = append(out, *byHead[h])
	}
	return out
}

func (c *Coordinator) autoWire() {
	g := c.graph
	for i := range c.runs {
		if len(g.Incoming[i]) > 1 {
			c.heads[i] = NewMerger()
		}
		if len(g.Outgoing[i]) > 1 {
			c.splitterFor(i)
		}
	}

	// Tunnels: a dead-end tail on a tunnel tile feeds the first source-less
	// head with the same tunnel id.
	type ends struct{ in, out []int }
	byID := map[int]*ends{}
	var ids []int
	get := func(id int) *ends {
		e, ok := byID[id]
		if !ok {
			e = &ends{}
			byID[id] = e
			ids = append(ids, id)
		}
		return e
	}
	for i := range c.runs {
		if id := g.TailTunnels[i]; id != 0 && len(g.Outgoing[i]) == 0 {
			get(id).in = append(get(id).in, i)
		}
		if id := g.HeadTunnels[i]; id != 0 && len(g.Incoming[i]) == 0 {
			get(id).out = append(get(id).out, i)
		}
	}
	sort.Ints(ids)
	for _, id := range ids {
		e := byID[id]
		for _, in := range e.in {
			for k, out := range e.out {
				if out == in || c.heads[out] != nil {
					continue
				}
				a, b := NewTunnel(id), NewTunnel(id)
				PairTunnels(a, b)
				c.tails[in] = a
				c.heads[out] = b
				e.out = append(e.out[:k], e.out[k+1:]...)
				break
			}
		}
	}
}

func (c *Coordinator) splitterFor(i int) *Splitter {
	if s := c.splitters[i]; s != nil {
		return s
	}
	s := NewSplitter()
	s.SetWeights(c.weightsFor(i))
	c.splitters[i] = s
	return s
}

func (c *Coordinator) weightsFor(i int) []int {
	w, ok := c.splitWeights[c.runs[i].Tail()]
	if !ok {
		return nil
	}
	outs := c.graph.Outgoing[i]
	if len(outs) < 2 {
		return nil
	}
	res := make([]int, len(outs))
	for k, j := range outs {
		res[k] = 1
		if v, ok := w[c.graph.HeadCells[j]]; ok {
			res[k] = v
		}
	}
	return res
}

// feeder returns the head endpoint of run j, creating a plain queue if none.
func (c *Coordinator) feeder(j int) Endpoint {
	if c.heads[j] == nil {
		c.heads[j] = NewQueue()
	}
	return c.heads[j]
}

// ProduceAtHead queues id at the run whose head is cell.
func (c *Coordinator) ProduceAtHead(cell Cell, id ItemID) bool {
	j, ok := c.headIdx[cell]
	if !ok {
		return false
	}
	c.feeder(j).Produce(id)
	c.counters.Produced++
	return true
}

// Step runs one fixed tick: advance every run, route ejected items, drain
// splitters, then admit queued items into run heads.
func (c *Coordinator) Step(dt float64) {
	g := c.graph
	for i, r := range c.runs {
		blocked := len(g.Outgoing[i]) == 0 && c.tails[i] == nil
		c.ejected[i] = r.Advance(dt, blocked, c.ejected[i][:0])
	}

	for i := range c.runs {
		for _, it := range c.ejected[i] {
			c.route(i, it.ID)
		}
	}

	for i, s := range c.splitters {
		if s == nil {
			continue
		}
		c.outputs = c.outputs[:0]
		for _, j := range g.Outgoing[i] {
			c.outputs = append(c.outputs, c.runs[j])
		}
		for s.TrySplitTo(c.outputs) {
		}
	}

	for j, e := range c.heads {
		if e == nil {
			continue
		}
		for k := 0; k < c.cfg.AdmitRetryCap; k++ {
			if !e.TryOutputTo(c.runs[j]) {
				break
			}
		}
	}
}

func (c *Coordinator) route(i int, id ItemID) {
	outs := c.graph.Outgoing[i]
	switch len(outs) {
	case 0:
		t := c.tails[i]
		if t == nil {
			c.counters.Lost++
			return
		}
		t.OnInputItem(id)
		if tn, ok := t.(*Tunnel); ok && tn.Peer() != nil {
			return
		}
		c.counters.Delivered++
	case 1:
		j := outs[0]
		switch e := c.heads[j].(type) {
		case nil:
			if c.runs[j].TryEnqueue(id) {
				return
			}
			m := NewMerger()
			c.heads[j] = m
			m.OnInputItemFrom(i, id)
		case *Merger:
			e.OnInputItemFrom(i, id)
		default:
			e.OnInputItem(id)
			if e.Kind() == KindSink {
				c.counters.Delivered++
			}
		}
	default:
		c.splitterFor(i).OnInputItem(id)
	}
}

func (c *Coordinator) Counters() Counters { return c.counters }

// SetCounters restores counters, used when resuming from a snapshot.
func (c *Coordinator) SetCounters(v Counters) { c.counters = v }

func (c *Coordinator) Stats() Stats {
	st := Stats{Counters: c.counters, Runs: len(c.runs)}
	for i, r := range c.runs {
		st.OnRuns += r.Len()
		if e := c.heads[i]; e != nil && e.Kind() != KindSink {
			st.Queued += e.Len()
		}
		if s := c.splitters[i]; s != nil {
			st.Queued += s.Len()
		}
	}
	return st
}

// ExportState returns the state of every run that holds items or has a head
// endpoint or splitter, ordered by head cell.
func (c *Coordinator) ExportState() []RunState {
	out := make([]RunState, 0, len(c.runs))
	for i, r := range c.runs {
		st := RunState{Head: r.Head()}
		st.Items = append(st.Items, r.Items()...)
		keep := len(st.Items) > 0
		switch e := c.heads[i].(type) {
		case nil, *Sink:
		case *Merger:
			st.HeadKind = KindMerger
			st.Queued = append(st.Queued, e.base.items()...)
			for _, src := range e.order {
				from := Cell{}
				if src >= 0 && src < len(c.runs) {
					from = c.runs[src].Head()
				}
				st.Sources = append(st.Sources, SourceState{
					From:  from,
					Items: append([]ItemID(nil), e.sources[src].items()...),
				})
			}
			st.Turn = e.turn
			keep = true
		default:
			st.HeadKind = e.Kind()
			st.Queued = queuedItems(e)
			keep = true
		}
		if s := c.splitters[i]; s != nil {
			st.Split = &SplitState{
				Items:    append([]ItemID(nil), s.q.items()...),
				Last:     s.last,
				Cursor:   s.cursor,
				Credited: s.credited,
			}
			keep = true
		}
		if keep {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Head.Less(out[j].Head) })
	return out
}

// ImportState loads exported state into the current binding. Items whose head
// cell has no run, or that no longer fit, are counted as dropped.
func (c *Coordinator) ImportState(states []RunState) {
	for _, st := range states {
		j, ok := c.headIdx[st.Head]
		if !ok {
			c.counters.Dropped += uint64(st.count())
			continue
		}
		c.counters.Dropped += uint64(len(c.runs[j].Inject(st.Items)))

		_, isMerger := c.heads[j].(*Merger)
		if st.HeadKind == KindMerger && (c.heads[j] == nil || isMerger) {
			c.importMerger(j, st)
		} else {
			if st.HeadKind == KindQueue {
				c.feeder(j)
			}
			for _, src := range st.Sources {
				for _, id := range src.Items {
					c.feeder(j).Produce(id)
				}
			}
			for _, id := range st.Queued {
				c.feeder(j).Produce(id)
			}
		}

		if st.Split == nil {
			continue
		}
		if len(c.graph.Outgoing[j]) > 1 {
			s := c.splitterFor(j)
			for _, id := range st.Split.Items {
				s.q.push(id)
			}
			s.last = st.Split.Last
			s.cursor = st.Split.Cursor
			s.credited = st.Split.Credited
			continue
		}
		tail := make([]Item, 0, len(st.Split.Items))
		for _, id := range st.Split.Items {
			tail = append(tail, Item{ID: id, Offset: c.runs[j].TotalLength()})
		}
		c.counters.Dropped += uint64(len(c.runs[j].Inject(tail)))
	}
}

func (c *Coordinator) importMerger(j int, st RunState) {
	m, ok := c.heads[j].(*Merger)
	if !ok {
		m = NewMerger()
		c.heads[j] = m
	}
	for _, src := range st.Sources {
		k, ok := c.headIdx[src.From]
		if !ok {
			for _, id := range src.Items {
				m.base.push(id)
			}
			continue
		}
		q := m.source(k)
		for _, id := range src.Items {
			q.push(id)
		}
	}
	for _, id := range st.Queued {
		m.base.push(id)
	}
	m.turn = st.Turn
}

func (st RunState) count() int {
	n := len(st.Items) + len(st.Queued)
	for _, src := range st.Sources {
		n += len(src.Items)
	}
	if st.Split != nil {
		n += len(st.Split.Items)
	}
	return n
}

func queuedItems(e Endpoint) []ItemID {
	var out []ItemID
	switch v := e.(type) {
	case *Queue:
		out = append(out, v.q.items()...)
	case *Merger:
		for _, src := range v.order {
			out = append(out, v.sources[src].items()...)
		}
		out = append(out, v.base.items()...)
	case *Splitter:
		out = append(out, v.q.items()...)
	case *Tunnel:
		out = append(out, v.q.items()...)
	}
	return out
}
