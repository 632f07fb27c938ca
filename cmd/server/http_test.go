package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/layout"
)

func testMux(t *testing.T, admin bool) *http.ServeMux {
	t.Helper()
	f, err := factory.New(factory.Config{ID: "h1", TickRateHz: 10}, layout.Layout{
		Tiles: []layout.Tile{{Pos: [2]int{0, 0}, Dir: "right", Repeat: 2}},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	f.StepOnce(nil)
	return newMux(f, nil, log.New(io.Discard, "", 0), httpOptions{FactoryID: "h1", MaxQueue: 4, EnableAdmin: admin})
}

func serve(mux *http.ServeMux, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestMux_AdminStateIsLoopbackOnly(t *testing.T) {
	mux := testMux(t, true)

	if rec := serve(mux, http.MethodGet, "/admin/v1/state", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d want 403", rec.Code)
	}

	rec := serve(mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:4242")
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		FactoryID string `json:"factory_id"`
		Tick      uint64 `json:"tick"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FactoryID != "h1" || resp.Tick != 1 {
		t.Fatalf("resp=%+v", resp)
	}

	if rec := serve(mux, http.MethodGet, "/admin/v1/snapshot", "[::1]:4242"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot status=%d want 405", rec.Code)
	}
}

func TestMux_AdminDisabled(t *testing.T) {
	mux := testMux(t, false)
	if rec := serve(mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
	rec := serve(mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz=%d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(mux, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
}
