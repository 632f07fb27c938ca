package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/transport/ws"
)

type httpOptions struct {
	FactoryID   string
	MaxQueue    int
	EnableAdmin bool
	EnablePprof bool
}

// newMux builds the public routes plus the optional loopback-only admin and
// pprof routes. idx may be nil.
func newMux(f *factory.Factory, idx runtimeIndex, logger *log.Logger, opts httpOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeFactoryMetrics(rw, opts.FactoryID, f)
		writeIndexMetrics(rw, idx)
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(f, logger, opts.MaxQueue).Handler())

	if opts.EnableAdmin {
		a := &adminHandlers{id: opts.FactoryID, f: f, idx: idx}
		mux.HandleFunc("/admin/v1/state", loopbackOnly(a.state))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(a.snapshot))
		if idx != nil {
			mux.HandleFunc("/admin/v1/snapshots", loopbackOnly(a.snapshots))
		}
	} else {
		logger.Printf("admin endpoints disabled (BELTSIM_ENABLE_ADMIN_HTTP=false)")
	}

	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", loopbackOnly(pprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", loopbackOnly(pprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", loopbackOnly(pprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", loopbackOnly(pprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", loopbackOnly(pprof.Trace))
	} else {
		logger.Printf("pprof endpoints disabled (BELTSIM_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

type adminHandlers struct {
	id  string
	f   *factory.Factory
	idx runtimeIndex
}

func (a *adminHandlers) state(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, struct {
		FactoryID string          `json:"factory_id"`
		Tick      uint64          `json:"tick"`
		Metrics   factory.Metrics `json:"metrics"`
	}{a.id, a.f.CurrentTick(), a.f.Metrics()})
}

func (a *adminHandlers) snapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := a.f.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func (a *adminHandlers) snapshots(rw http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := a.idx.SnapshotRows(r.Context(), limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, http.StatusOK, rows)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
