// Proof-of-effect: is the commanded value demonstrably applied?
package proof

import (
	"fmt"
	"time"

	"lodregulator/internal/bridge"
)

// Source tags where the applied-value evidence came from.
type Source string

const (
	SourceUDPAck     Source = "udp_ack"
	SourceFileStatus Source = "file_status"
	SourceNone       Source = "none"
)

const (
	// ackEvidenceTTL is how long an applied value parsed from a UDP ACK
	// stays trustworthy.
	ackEvidenceTTL = 600 * time.Second
	// fileEvidenceTTL is how long agent status-file evidence stays
	// trustworthy; the agent rewrites it continuously, so much shorter.
	fileEvidenceTTL = 5 * time.Second
	// recentWindow bounds what counts as recent activity.
	recentWindow = 20 * time.Second
	// onTargetDelta is the applied-vs-target tolerance.
	onTargetDelta = 0.05
)

// State is the recomputed-per-tick diagnostics of command effect.
type State struct {
	Source         Source   `json:"source"`
	AppliedValue   *float64 `json:"applied_value,omitempty"`
	DeltaToTarget  *float64 `json:"delta_to_target,omitempty"`
	OnTarget       bool     `json:"on_target"`
	RecentActivity bool     `json:"recent_activity"`
	SessionTarget  *float64 `json:"session_target,omitempty"`
	SessionApplied *float64 `json:"session_applied,omitempty"`
	Summary        string   `json:"summary"`
}

// Memory carries the small cross-tick remainder: last session target and
// applied values survive telemetry loss for UI continuity.
type Memory struct {
	sessionTarget    *float64
	sessionApplied   *float64
	appliedChangedAt time.Time
}

// Build merges bridge and file evidence into a proof state and updates
// the session memory. target is nil on paused ticks; the remembered
// session target then stands in for delta computation.
func Build(now time.Time, bs bridge.State, fileEv *bridge.StatusEvidence, target *float64, ramping bool, mem *Memory) State {
	if target != nil {
		t := *target
		mem.sessionTarget = &t
	}

	st := State{Source: SourceNone}

	switch {
	case bs.AppliedValue != nil && !bs.LastAckAt.IsZero() && now.Sub(bs.LastAckAt) <= ackEvidenceTTL:
		st.Source = SourceUDPAck
		st.AppliedValue = bs.AppliedValue
	case fileEv != nil && fileEv.CurrentValue != nil && now.Sub(fileEv.UpdatedAt) <= fileEvidenceTTL:
		st.Source = SourceFileStatus
		st.AppliedValue = fileEv.CurrentValue
	}

	if st.AppliedValue != nil {
		if mem.sessionApplied == nil || *mem.sessionApplied != *st.AppliedValue {
			v := *st.AppliedValue
			mem.sessionApplied = &v
			mem.appliedChangedAt = now
		}
	}

	if st.AppliedValue != nil && mem.sessionTarget != nil {
		d := *st.AppliedValue - *mem.sessionTarget
		st.DeltaToTarget = &d
		st.OnTarget = d <= onTargetDelta && d >= -onTargetDelta
	}

	st.RecentActivity = ramping ||
		(!bs.LastSentAt.IsZero() && now.Sub(bs.LastSentAt) <= recentWindow) ||
		(!mem.appliedChangedAt.IsZero() && now.Sub(mem.appliedChangedAt) <= recentWindow)

	st.SessionTarget = mem.sessionTarget
	st.SessionApplied = mem.sessionApplied
	st.Summary = summarize(st)
	return st
}

func summarize(st State) string {
	switch {
	case st.AppliedValue == nil:
		return "no application evidence"
	case st.OnTarget:
		return fmt.Sprintf("applied %.3f via %s, on target", *st.AppliedValue, st.Source)
	case st.DeltaToTarget != nil:
		return fmt.Sprintf("applied %.3f via %s, off target by %.3f", *st.AppliedValue, st.Source, *st.DeltaToTarget)
	default:
		return fmt.Sprintf("applied %.3f via %s", *st.AppliedValue, st.Source)
	}
}
