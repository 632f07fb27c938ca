package factory

import (
	"beltsim.ai/internal/sim/belt"
	"beltsim.ai/internal/sim/tuning"
)

type Config struct {
	ID                 string
	TickRateHz         int
	Speed              float64
	MinSpacing         float64
	AdmitRetryCap      int
	AutoWire           bool
	SnapshotEveryTicks int
	FrameEveryTicks    int

	// CellToWorld maps cells to world positions for frames and run geometry.
	CellToWorld belt.CellToWorld
}

func (cfg *Config) applyDefaults() {
	if cfg.ID == "" {
		cfg.ID = "factory_1"
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 2
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	}
	if cfg.AdmitRetryCap <= 0 {
		cfg.AdmitRetryCap = 64
	}
	if cfg.FrameEveryTicks <= 0 {
		cfg.FrameEveryTicks = 1
	}
	if cfg.CellToWorld == nil {
		cfg.CellToWorld = belt.CellCenter
	}
}

// ConfigFromTuning builds a factory config from loaded tuning.
func ConfigFromTuning(id string, t tuning.Tuning) Config {
	return Config{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		Speed:              t.Belt.Speed,
		MinSpacing:         t.Belt.MinSpacing,
		AdmitRetryCap:      t.Belt.AdmitRetryCap,
		AutoWire:           t.Belt.AutoWireEnabled(),
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		FrameEveryTicks:    t.Observers.FrameEveryTicks,
	}
}

func (cfg Config) beltConfig() belt.Config {
	return belt.Config{
		Speed:         cfg.Speed,
		MinSpacing:    cfg.MinSpacing,
		AdmitRetryCap: cfg.AdmitRetryCap,
		AutoWire:      cfg.AutoWire,
		CellToWorld:   cfg.CellToWorld,
	}
}
