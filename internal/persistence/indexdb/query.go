package indexdb

import (
	"context"
	"database/sql"
)

type SnapshotRow struct {
	Tick       uint64 `db:"tick"`
	Path       string `db:"path"`
	FactoryID  string `db:"factory_id"`
	Tiles      int    `db:"tiles"`
	Runs       int    `db:"runs"`
	Items      int    `db:"items"`
	Produced   uint64 `db:"produced"`
	Delivered  uint64 `db:"delivered"`
	RecordedAt string `db:"recorded_at"`
}

type TickRow struct {
	Tick      uint64 `db:"tick"`
	Digest    string `db:"digest"`
	Requests  int    `db:"requests"`
	Rebuilt   bool   `db:"rebuilt"`
	Produced  uint64 `db:"produced"`
	Delivered uint64 `db:"delivered"`
	Lost      uint64 `db:"lost"`
	Dropped   uint64 `db:"dropped"`
	OnRuns    int    `db:"on_runs"`
	Queued    int    `db:"queued"`
	Runs      int    `db:"runs"`
}

type RebuildRow struct {
	Tick    uint64 `db:"tick"`
	Seq     uint64 `db:"seq"`
	Tiles   int    `db:"tiles"`
	Runs    int    `db:"runs"`
	Dropped uint64 `db:"dropped"`
}

type AuditRow struct {
	Tick   uint64         `db:"tick"`
	Seq    int            `db:"seq"`
	Actor  string         `db:"actor"`
	Action string         `db:"action"`
	X      int            `db:"x"`
	Y      int            `db:"y"`
	Dir    sql.NullString `db:"dir"`
	Reason sql.NullString `db:"reason"`
}

// LatestTick returns the highest indexed tick.
func (s *SQLiteIndex) LatestTick(ctx context.Context) (uint64, bool, error) {
	var v sql.NullInt64
	if err := s.db.GetContext(ctx, &v, `SELECT MAX(tick) FROM ticks`); err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	return uint64(v.Int64), true, nil
}

// Ticks returns indexed ticks in [from, to], oldest first.
func (s *SQLiteIndex) Ticks(ctx context.Context, from, to uint64) ([]TickRow, error) {
	var rows []TickRow
	err := s.db.SelectContext(ctx, &rows, `SELECT tick,digest,requests,rebuilt,produced,delivered,lost,dropped,on_runs,queued,runs
		FROM ticks WHERE tick >= ? AND tick <= ? ORDER BY tick`, int64(from), int64(to))
	return rows, err
}

// SnapshotRows returns the newest snapshots first.
func (s *SQLiteIndex) SnapshotRows(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []SnapshotRow
	err := s.db.SelectContext(ctx, &rows, `SELECT tick,path,factory_id,tiles,runs,items,produced,delivered,recorded_at
		FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	return rows, err
}

func (s *SQLiteIndex) Rebuilds(ctx context.Context, limit int) ([]RebuildRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []RebuildRow
	err := s.db.SelectContext(ctx, &rows, `SELECT tick,seq,tiles,runs,dropped FROM rebuilds ORDER BY tick DESC LIMIT ?`, limit)
	return rows, err
}

// AuditsByActor returns the audits recorded for actor, oldest first.
func (s *SQLiteIndex) AuditsByActor(ctx context.Context, actor string) ([]AuditRow, error) {
	var rows []AuditRow
	err := s.db.SelectContext(ctx, &rows, `SELECT tick,seq,actor,action,x,y,dir,reason FROM audits WHERE actor = ? ORDER BY tick, seq`, actor)
	return rows, err
}

// ConfigDigest returns the stored digest of a named config blob.
func (s *SQLiteIndex) ConfigDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.GetContext(ctx, &d, `SELECT digest FROM configs WHERE name = ?`, name)
	return d, err
}
