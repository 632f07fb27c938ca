package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`

	Belt Belt `yaml:"belt" json:"belt"`

	Observers Observers `yaml:"observers" json:"observers"`
}

// Belt holds the transport parameters shared by every run.
type Belt struct {
	Speed         float64 `yaml:"speed" json:"speed"`
	MinSpacing    float64 `yaml:"min_spacing" json:"min_spacing"`
	AdmitRetryCap int     `yaml:"admit_retry_cap" json:"admit_retry_cap"`
	AutoWire      *bool   `yaml:"auto_wire" json:"auto_wire,omitempty"`
}

type Observers struct {
	MaxQueue        int `yaml:"max_queue" json:"max_queue"`
	FrameEveryTicks int `yaml:"frame_every_ticks" json:"frame_every_ticks"`
}

func Defaults() Tuning {
	autoWire := true
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		SnapshotEveryTicks: 1200,
		Belt: Belt{
			Speed:         2,
			MinSpacing:    0.25,
			AdmitRetryCap: 64,
			AutoWire:      &autoWire,
		},
		Observers: Observers{
			MaxQueue:        8,
			FrameEveryTicks: 1,
		},
	}
}

// AutoWireEnabled reports the auto_wire setting; unset means enabled.
func (b Belt) AutoWireEnabled() bool {
	return b.AutoWire == nil || *b.AutoWire
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	if t.Belt.Speed <= 0 {
		return fmt.Errorf("belt.speed must be > 0")
	}
	if t.Belt.MinSpacing < 0 {
		return fmt.Errorf("belt.min_spacing must be >= 0")
	}
	if t.Belt.AdmitRetryCap < 0 {
		return fmt.Errorf("belt.admit_retry_cap must be >= 0")
	}
	return nil
}
