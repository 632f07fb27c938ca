package protocol

// FRAME (server -> client): the read-only render view of one tick.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FactoryID       string `json:"factory_id"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest,omitempty"`

	Runs  []RunObs    `json:"runs"`
	Stats CountersObs `json:"stats"`
}

type RunObs struct {
	Head   [2]int       `json:"head"`
	Tail   [2]int       `json:"tail"`
	Length float64      `json:"length"`
	Points [][2]float64 `json:"points"`
	Items  []ItemObs    `json:"items"`
	Queued int          `json:"queued,omitempty"`
	Kind   string       `json:"head_kind,omitempty"`
}

type ItemObs struct {
	ID     uint64     `json:"id"`
	Offset float64    `json:"offset"`
	Pos    [2]float64 `json:"pos"`
	Fwd    [2]float64 `json:"fwd"`
}

type CountersObs struct {
	Produced  uint64 `json:"produced"`
	Delivered uint64 `json:"delivered"`
	Lost      uint64 `json:"lost"`
	Dropped   uint64 `json:"dropped"`
	OnRuns    int    `json:"on_runs"`
	Queued    int    `json:"queued"`
	Runs      int    `json:"runs"`
}
