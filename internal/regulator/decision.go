package regulator

import (
	"fmt"
	"time"

	"lodregulator/internal/bridge"
	"lodregulator/internal/policy"
	"lodregulator/internal/proof"
	"lodregulator/internal/telemetry"
)

// Decision is the immutable per-tick result published to consumers.
type Decision struct {
	Timestamp      time.Time                 `json:"ts"`
	Tier           policy.Tier               `json:"tier,omitempty"`
	AltitudeFt     *float64                  `json:"altitude_ft,omitempty"`
	AltitudeSource policy.AltitudeSource     `json:"altitude_source"`
	Target         float64                   `json:"target"`
	Smoothed       float64                   `json:"smoothed"`
	Thresholds     string                    `json:"thresholds,omitempty"`
	Status         string                    `json:"status"`
	Paused         bool                      `json:"paused"`
	PauseReason    string                    `json:"pause_reason,omitempty"`
	TestActive     bool                      `json:"test_active"`
	TestRemainingS float64                   `json:"test_remaining_s,omitempty"`
	TestLabel      string                    `json:"test_label,omitempty"`
	Telemetry      *telemetry.Snapshot       `json:"telemetry,omitempty"`
	TelemetryState telemetry.ConnectionState `json:"telemetry_state"`
	Bridge         bridge.State              `json:"bridge"`
	BridgeConn     bridge.ConnState          `json:"bridge_conn"`
	Proof          proof.State               `json:"proof"`
	Reasons        []string                  `json:"reasons,omitempty"`
}

// AltitudeText renders the resolved altitude for display.
func (d *Decision) AltitudeText() string {
	if d.AltitudeFt == nil {
		return "unavailable"
	}
	return fmt.Sprintf("%.0f ft (%s)", *d.AltitudeFt, d.AltitudeSource)
}

// DecisionWriter receives every published decision. Implementations live
// in internal/history.
type DecisionWriter interface {
	WriteDecision(Decision) error
}

// dedupReasons keeps the first occurrence of each reason, in order.
func dedupReasons(reasons []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(reasons))
	for _, r := range reasons {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
