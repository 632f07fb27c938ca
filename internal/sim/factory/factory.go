package factory

import (
	"sync/atomic"

	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/belt"
	"beltsim.ai/internal/sim/layout"
)

// Factory is a single-threaded authoritative belt simulation.
// All state must be accessed only from the loop goroutine, or before Run.
type Factory struct {
	cfg Config

	tick atomic.Uint64

	tiles   *belt.TileIndex
	builder *belt.Builder
	coord   *belt.Coordinator
	built   uint64 // tiles.Version() the current graph was built from

	producers []*producer
	sinks     map[belt.Cell]*belt.Sink
	weights   map[belt.Cell]map[belt.Cell]int

	nextItem    uint64
	rebuilds    uint64
	lastRebuild *RebuildInfo
	lastTick    uint64
	lastDigest  string

	sessions map[string]*session

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	inbox chan Request
	join  chan JoinRequest
	leave chan string
	admin chan adminSnapshotReq
	stop  chan struct{}

	metrics atomic.Value // Metrics
}

type producer struct {
	cell    belt.Cell
	every   uint64
	offset  uint64
	limit   uint64
	emitted uint64
}

type session struct {
	id     string
	name   string
	role   string
	frames bool
	out    chan []byte
}

// New builds a factory from cfg and the initial layout.
func New(cfg Config, l layout.Layout) (*Factory, error) {
	cfg.applyDefaults()
	tiles, err := l.TileIndex()
	if err != nil {
		return nil, err
	}
	f := &Factory{
		cfg:      cfg,
		tiles:    tiles,
		builder:  belt.NewBuilder(),
		sinks:    map[belt.Cell]*belt.Sink{},
		weights:  l.SplitterWeights(),
		sessions: map[string]*session{},
		inbox:    make(chan Request, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		admin:    make(chan adminSnapshotReq, 16),
		stop:     make(chan struct{}),
	}
	for _, p := range l.Producers {
		f.producers = append(f.producers, newProducer(belt.CellFromArray(p.Pos), p.EveryTicks, p.Offset, p.Limit))
	}
	for _, c := range l.SinkCells() {
		f.sinks[c] = belt.NewSink(nil)
	}
	f.resetCoordinator()
	f.coord.SetGraph(f.builder.Build(f.tiles), false)
	f.built = f.tiles.Version()
	return f, nil
}

func newProducer(cell belt.Cell, every, offset int, limit uint64) *producer {
	if every < 1 {
		every = 1
	}
	if offset < 0 {
		offset = 0
	}
	return &producer{cell: cell, every: uint64(every), offset: uint64(offset), limit: limit}
}

func (f *Factory) resetCoordinator() {
	f.coord = belt.NewCoordinator(f.cfg.beltConfig())
	f.coord.OnRebuilt(f.wireSinks)
	for tail, w := range f.weights {
		f.coord.SetSplitterWeights(tail, w)
	}
}

// wireSinks attaches the configured sinks to dead-end tails after a rebuild.
func (f *Factory) wireSinks(g *belt.Graph) {
	for i := range g.Runs {
		if len(g.Outgoing[i]) != 0 || f.coord.TailEndpoint(i) != nil {
			continue
		}
		if s, ok := f.sinks[g.TailCells[i]]; ok {
			f.coord.SetTailEndpoint(i, s)
		}
	}
}

func (f *Factory) ID() string {
	if f == nil {
		return ""
	}
	return f.cfg.ID
}

func (f *Factory) TickRateHz() int {
	if f == nil {
		return 0
	}
	return f.cfg.TickRateHz
}

func (f *Factory) Config() Config           { return f.cfg }
func (f *Factory) CurrentTick() uint64      { return f.tick.Load() }
func (f *Factory) Inbox() chan<- Request    { return f.inbox }
func (f *Factory) Join() chan<- JoinRequest { return f.join }
func (f *Factory) Leave() chan<- string     { return f.leave }

func (f *Factory) SetTickLogger(l TickLogger)                    { f.tickLogger = l }
func (f *Factory) SetAuditLogger(l AuditLogger)                  { f.auditLogger = l }
func (f *Factory) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { f.snapshotSink = ch }

// Params returns the belt parameters announced to clients.
func (f *Factory) Params() protocol.FactoryParams {
	return protocol.FactoryParams{
		TickRateHz:    f.cfg.TickRateHz,
		Speed:         f.cfg.Speed,
		MinSpacing:    f.cfg.MinSpacing,
		AdmitRetryCap: f.cfg.AdmitRetryCap,
		AutoWire:      f.cfg.AutoWire,
	}
}

// Coordinator exposes the belt coordinator for read-only inspection in tests
// and tools.
func (f *Factory) Coordinator() *belt.Coordinator { return f.coord }

func (f *Factory) Tiles() *belt.TileIndex { return f.tiles }
