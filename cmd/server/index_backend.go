package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"beltsim.ai/internal/persistence/indexdb"
	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	factory.TickLogger
	factory.AuditLogger
	Close() error
	UpsertConfig(tune tuning.Tuning, layoutRaw []byte) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	SnapshotRows(ctx context.Context, limit int) ([]indexdb.SnapshotRow, error)
	Stats() indexdb.Stats
}

func openRuntimeIndex(factoryDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BELTSIM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(factoryDir, "index", "factory.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported BELTSIM_INDEX_BACKEND: %s", backend)
	}
}
