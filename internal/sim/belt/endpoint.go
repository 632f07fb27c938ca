package belt

// EndpointKind names the endpoint variants.
type EndpointKind string

const (
	KindQueue    EndpointKind = "QUEUE"
	KindMerger   EndpointKind = "MERGER"
	KindSplitter EndpointKind = "SPLITTER"
	KindTunnel   EndpointKind = "TUNNEL"
	KindSink     EndpointKind = "SINK"
)

// Endpoint is attached to a run's head (feeder) or tail (consumer).
// No method fails loudly: a false return means "try again next tick".
type Endpoint interface {
	// TryOutputTo moves one queued item onto r's head.
	TryOutputTo(r *Run) bool
	// OnInputItem accepts an item ejected from an upstream tail.
	OnInputItem(id ItemID)
	// Produce places an item from outside the simulation.
	Produce(id ItemID)
	// Len is the number of items held.
	Len() int
	Kind() EndpointKind
}

// fifo is a slice-backed queue that compacts once the consumed prefix
// dominates the backing array.
type fifo struct {
	buf  []ItemID
	head int
}

func (q *fifo) push(id ItemID) { q.buf = append(q.buf, id) }
func (q *fifo) len() int       { return len(q.buf) - q.head }

func (q *fifo) peek() (ItemID, bool) {
	if q.len() == 0 {
		return 0, false
	}
	return q.buf[q.head], true
}

func (q *fifo) pop() {
	if q.len() == 0 {
		return
	}
	q.head++
	if q.head == len(q.buf) {
		q.buf = q.buf[:0]
		q.head = 0
		return
	}
	if q.head >= 32 && q.head*2 >= len(q.buf) {
		n := copy(q.buf, q.buf[q.head:])
		q.buf = q.buf[:n]
		q.head = 0
	}
}

func (q *fifo) items() []ItemID { return q.buf[q.head:] }

// tryOutput admits the front item into r, popping only on success.
func (q *fifo) tryOutput(r *Run) bool {
	id, ok := q.peek()
	if !ok || r == nil {
		return false
	}
	if !r.TryEnqueue(id) {
		return false
	}
	q.pop()
	return true
}

// Queue is a plain FIFO endpoint.
type Queue struct {
	q fifo
}

func NewQueue() *Queue { return &Queue{} }

func (e *Queue) TryOutputTo(r *Run) bool { return e.q.tryOutput(r) }
func (e *Queue) OnInputItem(id ItemID)   { e.q.push(id) }
func (e *Queue) Produce(id ItemID)       { e.q.push(id) }
func (e *Queue) Len() int                { return e.q.len() }
func (e *Queue) Kind() EndpointKind      { return KindQueue }

// Items returns the queued ids, front first.
func (e *Queue) Items() []ItemID { return e.q.items() }

// Merger admits items from several upstream runs into one head in round robin.
// Each source run index has its own FIFO; the turn advances past a source on
// every successful admission so no source can monopolise the head.
type Merger struct {
	base    fifo
	sources map[int]*fifo
	order   []int
	turn    int
}

func NewMerger() *Merger {
	return &Merger{sources: map[int]*fifo{}}
}

// OnInputItemFrom queues id behind other items from the same source run.
func (m *Merger) OnInputItemFrom(src int, id ItemID) {
	m.source(src).push(id)
}

func (m *Merger) source(src int) *fifo {
	q, ok := m.sources[src]
	if !ok {
		q = &fifo{}
		m.sources[src] = q
		m.order = append(m.order, src)
	}
	return q
}

func (m *Merger) OnInputItem(id ItemID) { m.base.push(id) }
func (m *Merger) Produce(id ItemID)     { m.base.push(id) }
func (m *Merger) Kind() EndpointKind    { return KindMerger }

func (m *Merger) Len() int {
	n := m.base.len()
	for _, q := range m.sources {
		n += q.len()
	}
	return n
}

// Sources returns registered source run indexes in registration order.
func (m *Merger) Sources() []int { return m.order }

// Pending returns the number of items queued for src.
func (m *Merger) Pending(src int) int {
	if q, ok := m.sources[src]; ok {
		return q.len()
	}
	return 0
}

func (m *Merger) TryOutputTo(r *Run) bool {
	n := len(m.order)
	if n == 0 {
		return m.base.tryOutput(r)
	}
	// Untagged items get a slot after the tagged sources.
	slots := n
	if m.base.len() > 0 {
		slots++
	}
	for k := 0; k < slots; k++ {
		i := (m.turn + k) % slots
		var q *fifo
		if i < n {
			q = m.sources[m.order[i]]
		} else {
			q = &m.base
		}
		if q.len() == 0 {
			continue
		}
		if q.tryOutput(r) {
			m.turn = (i + 1) % slots
			return true
		}
	}
	return false
}

// Splitter distributes one input stream across several output runs, either in
// plain round robin or weighted round robin where an output's weight is the
// number of consecutive items it receives before rotation.
type Splitter struct {
	q        fifo
	weights  []int
	last     int
	cursor   int
	credited int
}

func NewSplitter() *Splitter { return &Splitter{last: -1} }

// SetWeights configures per-output weights; nil restores plain round robin.
// Weights below 1 count as 1.
func (s *Splitter) SetWeights(w []int) {
	if len(w) == 0 {
		s.weights = nil
		return
	}
	s.weights = make([]int, len(w))
	for i, v := range w {
		if v < 1 {
			v = 1
		}
		s.weights[i] = v
	}
	s.cursor = 0
	s.credited = 0
}

func (s *Splitter) Weights() []int { return s.weights }

func (s *Splitter) OnInputItem(id ItemID) { s.q.push(id) }
func (s *Splitter) Produce(id ItemID)     { s.q.push(id) }
func (s *Splitter) Len() int              { return s.q.len() }
func (s *Splitter) Kind() EndpointKind    { return KindSplitter }

// TryOutputTo treats r as the only output.
func (s *Splitter) TryOutputTo(r *Run) bool { return s.q.tryOutput(r) }

// TrySplitTo moves one item onto one of outputs. It tries every output before
// giving up so a single blocked output does not stall the others.
func (s *Splitter) TrySplitTo(outputs []*Run) bool {
	id, ok := s.q.peek()
	n := len(outputs)
	if !ok || n == 0 {
		return false
	}
	if len(s.weights) == n {
		return s.tryWeighted(id, outputs)
	}
	for k := 1; k <= n; k++ {
		i := ((s.last+k)%n + n) % n
		if outputs[i] != nil && outputs[i].TryEnqueue(id) {
			s.q.pop()
			s.last = i
			return true
		}
	}
	return false
}

func (s *Splitter) tryWeighted(id ItemID, outputs []*Run) bool {
	n := len(outputs)
	if s.cursor >= n {
		s.cursor = 0
		s.credited = 0
	}
	for k := 0; k < n; k++ {
		i := (s.cursor + k) % n
		if outputs[i] == nil || !outputs[i].TryEnqueue(id) {
			continue
		}
		s.q.pop()
		if i != s.cursor {
			s.cursor = i
			s.credited = 0
		}
		s.credited++
		if s.credited >= s.weights[i] {
			s.cursor = (i + 1) % n
			s.credited = 0
		}
		s.last = i
		return true
	}
	return false
}

// Tunnel forwards its input to a paired tunnel's Produce. Unpaired tunnels
// behave as plain queues.
type Tunnel struct {
	ID   int
	q    fifo
	peer *Tunnel
}

func NewTunnel(id int) *Tunnel { return &Tunnel{ID: id} }

// PairTunnels links a and b symmetrically, detaching any previous peers.
func PairTunnels(a, b *Tunnel) {
	if a == nil || b == nil || a == b {
		return
	}
	if a.peer != nil {
		a.peer.peer = nil
	}
	if b.peer != nil {
		b.peer.peer = nil
	}
	a.peer = b
	b.peer = a
}

func (t *Tunnel) Peer() *Tunnel { return t.peer }

func (t *Tunnel) OnInputItem(id ItemID) {
	if t.peer != nil {
		t.peer.Produce(id)
		return
	}
	t.q.push(id)
}

func (t *Tunnel) Produce(id ItemID)       { t.q.push(id) }
func (t *Tunnel) TryOutputTo(r *Run) bool { return t.q.tryOutput(r) }
func (t *Tunnel) Len() int                { return t.q.len() }
func (t *Tunnel) Kind() EndpointKind      { return KindTunnel }

// Sink consumes everything it receives.
type Sink struct {
	Consumed  uint64
	OnConsume func(id ItemID)
}

func NewSink(onConsume func(ItemID)) *Sink { return &Sink{OnConsume: onConsume} }

func (s *Sink) OnInputItem(id ItemID) {
	s.Consumed++
	if s.OnConsume != nil {
		s.OnConsume(id)
	}
}

func (s *Sink) Produce(id ItemID)       { s.OnInputItem(id) }
func (s *Sink) TryOutputTo(r *Run) bool { return false }
func (s *Sink) Len() int                { return 0 }
func (s *Sink) Kind() EndpointKind      { return KindSink }
