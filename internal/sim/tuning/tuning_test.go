package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: 10\nbelt:\n  speed: 3.5\n  auto_wire: false\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.Belt.Speed != 3.5 {
		t.Fatalf("got %+v", tu)
	}
	if tu.Belt.AutoWireEnabled() {
		t.Fatalf("auto_wire should be disabled")
	}
	if tu.Belt.AdmitRetryCap != Defaults().Belt.AdmitRetryCap {
		t.Fatalf("unset field lost its default: %d", tu.Belt.AdmitRetryCap)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("belt:\n  speed: -1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for negative speed")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDefaultsValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if !Defaults().Belt.AutoWireEnabled() {
		t.Fatalf("auto wire should default on")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 20 || tu.Observers.FrameEveryTicks != 1 {
		t.Fatalf("got %+v", tu)
	}
}
