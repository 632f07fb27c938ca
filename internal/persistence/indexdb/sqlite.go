package indexdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of tick logs, audits and
// snapshots. Writes are queued to a single writer goroutine and batched into
// transactions; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	tick     factory.TickLogEntry
	audit    factory.AuditEntry
	snapshot SnapshotRow
	done     chan struct{}
}

// Stats reports queue pressure of the writer goroutine.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 262144)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			requests INTEGER NOT NULL,
			rebuilt INTEGER NOT NULL,
			produced INTEGER NOT NULL,
			delivered INTEGER NOT NULL,
			lost INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			on_runs INTEGER NOT NULL,
			queued INTEGER NOT NULL,
			runs INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS requests (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			req_id TEXT NOT NULL,
			op TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			dir TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_session_tick ON requests(session_id, tick);`,
		`CREATE TABLE IF NOT EXISTS rebuilds (
			tick INTEGER PRIMARY KEY,
			seq INTEGER NOT NULL,
			tiles INTEGER NOT NULL,
			runs INTEGER NOT NULL,
			dropped INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			dir TEXT,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos_tick ON audits(x, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			factory_id TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			runs INTEGER NOT NULL,
			items INTEGER NOT NULL,
			produced INTEGER NOT NULL,
			delivered INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry factory.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry factory.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	items := 0
	for _, r := range snap.Runs {
		items += len(r.Items) + len(r.Queued)
		for _, src := range r.Sources {
			items += len(src.Items)
		}
		if r.Split != nil {
			items += len(r.Split.Items)
		}
	}
	r := SnapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		FactoryID:  snap.Header.FactoryID,
		Tiles:      len(snap.Tiles),
		Runs:       len(snap.Runs),
		Items:      items,
		Produced:   snap.Counters.Produced,
		Delivered:  snap.Counters.Delivered,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Flush commits everything queued before the call.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertConfig stores the tuning and layout the server actually runs with.
func (s *SQLiteIndex) UpsertConfig(tune tuning.Tuning, layoutRaw []byte) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name string
		body []byte
	}
	var rows []kv
	// Tuning: store the values we actually apply (canonical JSON).
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", body: b})
	}
	if len(layoutRaw) > 0 {
		rows = append(rows, kv{name: "layout", body: layoutRaw})
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO configs(name,digest,body,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		sum := sha256.Sum256(r.body)
		if _, err := stmt.Exec(r.name, hex.EncodeToString(sum[:]), string(r.body), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Preparex(`INSERT OR REPLACE INTO ticks(tick,digest,requests,rebuilt,produced,delivered,lost,dropped,on_runs,queued,runs,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertRequest, _ := s.db.Preparex(`INSERT OR REPLACE INTO requests(tick,seq,session_id,req_id,op,x,y,dir) VALUES(?,?,?,?,?,?,?,?)`)
	insertRebuild, _ := s.db.Preparex(`INSERT OR REPLACE INTO rebuilds(tick,seq,tiles,runs,dropped) VALUES(?,?,?,?,?)`)
	insertAudit, _ := s.db.Preparex(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,x,y,dir,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sqlx.Stmt{insertTick, insertRequest, insertRebuild, insertAudit} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.Beginx()
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sqlx.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmtx(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			rebuilt := 0
			if e.Rebuild != nil {
				rebuilt = 1
			}
			if !exec(insertTick,
				int64(e.Tick),
				e.Digest,
				len(e.Requests),
				rebuilt,
				int64(e.Stats.Produced),
				int64(e.Stats.Delivered),
				int64(e.Stats.Lost),
				int64(e.Stats.Dropped),
				e.Stats.OnRuns,
				e.Stats.Queued,
				e.Stats.Runs,
				string(b),
			) {
				continue
			}
			for i, q := range e.Requests {
				if !exec(insertRequest, int64(e.Tick), i, q.SessionID, q.ReqID, q.Op, q.Pos[0], q.Pos[1], q.Dir) {
					break
				}
			}
			if e.Rebuild != nil && tx != nil {
				exec(insertRebuild, int64(e.Tick), int64(e.Rebuild.Seq), e.Rebuild.Tiles, e.Rebuild.Runs, int64(e.Rebuild.Dropped))
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			if !exec(insertAudit, int64(a.Tick), seq, a.Actor, a.Action, a.Pos[0], a.Pos[1], a.Dir, a.Reason, string(raw)) {
				continue
			}

		case reqSnapshot:
			if _, err := tx.NamedExec(`INSERT OR REPLACE INTO snapshots(tick,path,factory_id,tiles,runs,items,produced,delivered,recorded_at)
				VALUES(:tick,:path,:factory_id,:tiles,:runs,:items,:produced,:delivered,:recorded_at)`, r.snapshot); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
