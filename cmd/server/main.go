package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistlog "beltsim.ai/internal/persistence/log"
	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/layout"
	"beltsim.ai/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		factoryID  = flag.String("factory", "factory_1", "factory id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: <configs>/layout.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + configs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	factoryDir := filepath.Join(*dataDir, "factories", *factoryID)
	_ = os.MkdirAll(factoryDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	lp := strings.TrimSpace(*layoutPath)
	if lp == "" {
		lp = filepath.Join(*configDir, "layout.yaml")
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(factoryDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(factoryDir)
	}

	// Load tuning (required for a fresh factory; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		// Resume fallback: the snapshot carries the effective belt parameters.
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	var lay layout.Layout
	var layoutRaw []byte
	if snapshotToLoad == "" {
		layoutRaw, err = os.ReadFile(lp)
		if err != nil {
			logger.Fatalf("load layout: %v", err)
		}
		lay, err = layout.Parse(layoutRaw)
		if err != nil {
			logger.Fatalf("load layout: %s: %v", lp, err)
		}
	}

	if idx != nil {
		if err := idx.UpsertConfig(tune, layoutRaw); err != nil {
			logger.Printf("index backend: upsert config: %v", err)
		}
	}

	f, err := factory.New(factory.ConfigFromTuning(*factoryID, tune), lay)
	if err != nil {
		logger.Fatalf("factory: %v", err)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.FactoryID != "" && snap.Header.FactoryID != *factoryID {
			logger.Fatalf("snapshot factory id mismatch: flag=%s snap=%s", *factoryID, snap.Header.FactoryID)
		}
		if err := f.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), f.CurrentTick())
	} else {
		logger.Printf("fresh factory id=%s tiles=%d producers=%d", *factoryID, f.Tiles().Len(), len(lay.Producers))
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(factoryDir)
	auditLog := persistlog.NewAuditLogger(factoryDir)
	defer tickLog.Close()
	defer auditLog.Close()
	f.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	f.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	snapCh := make(chan snapshot.SnapshotV1, 2)
	f.SetSnapshotSink(snapCh)
	go writeSnapshots(ctx, filepath.Join(factoryDir, "snapshots"), snapCh, idx, logger)

	go func() {
		if err := f.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("factory stopped: %v", err)
		}
	}()

	mux := newMux(f, idx, logger, httpOptions{
		FactoryID:   *factoryID,
		MaxQueue:    tune.Observers.MaxQueue,
		EnableAdmin: envBool("BELTSIM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("BELTSIM_ENABLE_PPROF_HTTP", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(factoryDir string) string {
	dir := filepath.Join(factoryDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

// writeSnapshots persists snapshots handed off by the tick loop and records
// them in the index.
func writeSnapshots(ctx context.Context, dir string, ch <-chan snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := snapshot.Path(dir, snap.Header.Tick)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
		}
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiTickLogger struct {
	a factory.TickLogger
	b factory.TickLogger
}

func (m multiTickLogger) WriteTick(entry factory.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a factory.AuditLogger
	b factory.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry factory.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
