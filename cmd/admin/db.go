package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"beltsim.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	factoryID := fs.String("factory", "", "factory id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	from := fs.Uint64("from", 0, "first tick (ticks)")
	to := fs.Uint64("to", 0, "last tick (ticks; defaults to latest)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "SYSTEM", "session id (audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*factoryID) == "" {
			fmt.Fprintln(os.Stderr, "missing -factory or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "factories", *factoryID, "index", "factory.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	if err := runQuery(context.Background(), idx, q, queryArgs{From: *from, To: *to, Limit: *limit, Actor: *actor}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-factory ID|-db PATH] snapshots|latest|ticks|rebuilds|audits")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type queryArgs struct {
	From, To uint64
	Limit    int
	Actor    string
}

func runQuery(ctx context.Context, idx *indexdb.SQLiteIndex, q string, a queryArgs) error {
	switch q {
	case "snapshots":
		rows, err := idx.SnapshotRows(ctx, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(r)
		}

	case "latest":
		tick, ok, err := idx.LatestTick(ctx)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		printJSON(map[string]any{"tick": tick, "ok": ok})

	case "ticks":
		to := a.To
		if to == 0 {
			latest, ok, err := idx.LatestTick(ctx)
			if err != nil {
				return fmt.Errorf("latest tick: %w", err)
			}
			if !ok {
				return fmt.Errorf("no ticks indexed")
			}
			to = latest
		}
		rows, err := idx.Ticks(ctx, a.From, to)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(r)
		}

	case "rebuilds":
		rows, err := idx.Rebuilds(ctx, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(r)
		}

	case "audits":
		rows, err := idx.AuditsByActor(ctx, a.Actor)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(struct {
				Tick   uint64 `json:"tick"`
				Seq    int    `json:"seq"`
				Actor  string `json:"actor"`
				Action string `json:"action"`
				Pos    [2]int `json:"pos"`
				Dir    string `json:"dir,omitempty"`
			}{r.Tick, r.Seq, r.Actor, r.Action, [2]int{r.X, r.Y}, r.Dir.String})
		}

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
