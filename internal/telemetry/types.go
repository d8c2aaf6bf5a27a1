package telemetry

import "time"

// Snapshot is the latest decoded telemetry from the simulator. A snapshot
// is replaced wholesale on each valid packet; optional fields are nil when
// the packet carried no usable value for them.
type Snapshot struct {
	Source      string    `json:"source"`
	FPS         *float64  `json:"fps,omitempty"`
	FrameTimeMS *float64  `json:"frame_time_ms,omitempty"`
	AGLFt       *float64  `json:"agl_ft,omitempty"`
	MSLFt       *float64  `json:"msl_ft,omitempty"`
	Airport     string    `json:"airport,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// ConnectionState describes the telemetry listener, derived per tick from
// packet-validity counters and last-valid-packet recency.
type ConnectionState string

const (
	StateIdle      ConnectionState = "idle"
	StateListening ConnectionState = "listening"
	StateActive    ConnectionState = "active"
	StateMisconfig ConnectionState = "misconfig"
)

const (
	// activeWindow is how recent the last valid packet must be for the
	// listener to count as active.
	activeWindow = 4 * time.Second
	// freshnessWindow is how long a snapshot stays usable.
	freshnessWindow = 5 * time.Second
)
