package regulator

import (
	"context"
	"fmt"
	"math"
	"time"

	"lodregulator/internal/bridge"
	"lodregulator/internal/logging"
	"lodregulator/internal/policy"
	"lodregulator/internal/proof"
	"lodregulator/internal/telemetry"
)

// step executes one control tick: pause checks, test override, hysteresis,
// ramp, dispatch, and decision publication.
func (r *Regulator) step(ctx context.Context) {
	now := r.now()
	var dt time.Duration
	if !r.lastTickAt.IsZero() {
		dt = now.Sub(r.lastTickAt)
	}
	r.lastTickAt = now

	snap, telState := r.receiver.Snapshot(now)
	alt, altOK := policy.ResolveAltitude(snap, r.cfg.Policy.AllowMSLFallback)

	if reason, paused := r.pauseReason(telState, altOK); paused {
		r.stepPaused(ctx, now, reason, snap, telState)
		return
	}
	r.pauseDisableSent = false

	if r.test != nil {
		r.stepTest(ctx, now, alt, altOK, snap, telState)
		return
	}

	tier, holdReason := r.applyHysteresis(now, alt)
	target := policy.TargetValue(tier, r.cfg.Policy)
	smoothed := r.ramp(dt, target)
	res := r.bridge.SendValue(ctx, string(tier), smoothed)

	d := r.buildDecision(now, snap, telState)
	d.Tier = tier
	d.AltitudeFt = &alt.AGLFt
	d.AltitudeSource = alt.Source
	d.Target = target
	d.Smoothed = smoothed
	d.Status = fmt.Sprintf("regulating: tier=%s target=%.3f", tier, target)

	if holdReason != "" {
		d.Reasons = append(d.Reasons, holdReason)
	}
	if alt.Source == policy.SourceHeuristic {
		d.Reasons = append(d.Reasons, "altitude approximated from MSL")
	}
	if !res.Sent {
		d.Reasons = append(d.Reasons, "not sent: "+res.Reason)
	} else if res.ViaFile {
		d.Reasons = append(d.Reasons, res.Reason)
	}

	r.attachProof(d, now, &target, r.ramping(target))
	r.publish(ctx, d)
}

// pauseReason returns the first matching pause condition, in the fixed
// order the reasons list reports them.
func (r *Regulator) pauseReason(telState telemetry.ConnectionState, altOK bool) (string, bool) {
	switch {
	case !r.cfg.Policy.Enabled:
		return "regulator disabled", true
	case !r.simulatorActive(telState):
		return "simulator not running", true
	case telState != telemetry.StateActive:
		return "no telemetry", true
	case !altOK:
		return "altitude unavailable", true
	}
	return "", false
}

// stepPaused issues one best-effort DISABLE per pause episode, clears the
// runtime state, and publishes a paused decision.
func (r *Regulator) stepPaused(ctx context.Context, now time.Time, reason string, snap *telemetry.Snapshot, telState telemetry.ConnectionState) {
	if !r.pauseDisableSent {
		res := r.bridge.SendDisable(ctx)
		logging.FromContext(ctx).Info("pause disable", "reason", reason, "sent", res.Sent)
		r.pauseDisableSent = true
	}
	r.hasLock = false
	r.hasSmoothed = false

	d := r.buildDecision(now, snap, telState)
	d.Paused = true
	d.PauseReason = reason
	d.AltitudeSource = policy.SourceUnavailable
	d.Status = "paused: " + reason
	d.Reasons = append(d.Reasons, reason)
	r.attachProof(d, now, nil, false)
	r.publish(ctx, d)
}

// stepTest suspends normal evaluation while a test session runs; on
// expiry it sends exactly one restore value and clears the session.
func (r *Regulator) stepTest(ctx context.Context, now time.Time, alt policy.Altitude, altOK bool, snap *telemetry.Snapshot, telState telemetry.ConnectionState) {
	s := r.test
	if now.Before(s.EndsAt) {
		remaining := s.EndsAt.Sub(now).Seconds()
		d := r.buildDecision(now, snap, telState)
		d.TestActive = true
		d.TestRemainingS = remaining
		d.TestLabel = s.ModeLabel
		d.Target = s.Value
		d.Smoothed = s.Value
		d.Status = fmt.Sprintf("test override active, %.0fs remaining", remaining)
		r.attachProof(d, now, &s.Value, false)
		r.publish(ctx, d)
		return
	}

	restore := s.RestoreValue
	if r.cfg.Policy.Enabled && altOK {
		tier := policy.SelectTier(alt.AGLFt, r.cfg.Policy.GroundMaxAGLFt, r.cfg.Policy.CruiseMinAGLFt)
		restore = policy.TargetValue(tier, r.cfg.Policy)
	}
	res := r.bridge.SendValueDirect(ctx, "restore", restore)
	logging.FromContext(ctx).Info("test session expired",
		"id", s.ID, "restore", restore, "sent", res.Sent, "reason", res.Reason)
	r.test = nil
	r.smoothed = restore
	r.hasSmoothed = true

	d := r.buildDecision(now, snap, telState)
	d.Target = restore
	d.Smoothed = restore
	d.Status = "test session expired"
	d.Reasons = append(d.Reasons, fmt.Sprintf("test expired, restored %.3f", restore))
	r.attachProof(d, now, &restore, false)
	r.publish(ctx, d)
}

// applyHysteresis locks the first observed tier immediately and accepts a
// change only after the minimum hold time has elapsed.
func (r *Regulator) applyHysteresis(now time.Time, alt policy.Altitude) (policy.Tier, string) {
	cand := policy.SelectTier(alt.AGLFt, r.cfg.Policy.GroundMaxAGLFt, r.cfg.Policy.CruiseMinAGLFt)
	if !r.hasLock {
		r.hasLock = true
		r.lockedTier = cand
		r.lockedSince = now
		return cand, ""
	}
	if cand == r.lockedTier {
		return cand, ""
	}
	hold := time.Duration(r.cfg.Policy.TierHoldSeconds * float64(time.Second))
	held := now.Sub(r.lockedSince)
	if held >= hold {
		r.lockedTier = cand
		r.lockedSince = now
		return cand, ""
	}
	remaining := hold - held
	return r.lockedTier, fmt.Sprintf("tier hold not satisfied, %.0fs remaining", remaining.Seconds())
}

// ramp advances the smoothed value toward target: a first-order low-pass
// over real elapsed time. A zero dt leaves the value unchanged.
func (r *Regulator) ramp(dt time.Duration, target float64) float64 {
	if !r.hasSmoothed {
		r.smoothed = target
		r.hasSmoothed = true
	} else if dt > 0 {
		f := dt.Seconds() / r.cfg.Policy.SmoothingSeconds
		if f > 1 {
			f = 1
		}
		r.smoothed += (target - r.smoothed) * f
	}
	r.smoothed = policy.Clamp(r.smoothed, r.cfg.Policy.ClampMin, r.cfg.Policy.ClampMax)
	return r.smoothed
}

// ramping reports whether the smoothed value is still converging.
func (r *Regulator) ramping(target float64) bool {
	return r.hasSmoothed && math.Abs(r.smoothed-target) > 1e-6
}

// buildDecision fills the per-tick fields common to all outcomes.
func (r *Regulator) buildDecision(now time.Time, snap *telemetry.Snapshot, telState telemetry.ConnectionState) *Decision {
	p := r.cfg.Policy
	return &Decision{
		Timestamp:      now,
		Thresholds:     fmt.Sprintf("ground <%.0fft, transition <%.0fft, cruise otherwise", p.GroundMaxAGLFt, p.CruiseMinAGLFt),
		Telemetry:      snap,
		TelemetryState: telState,
		Bridge:         r.bridge.State(),
		BridgeConn:     r.bridge.ConnState(now),
	}
}

// attachProof derives the proof state and folds its findings into the
// reasons list.
func (r *Regulator) attachProof(d *Decision, now time.Time, target *float64, ramping bool) {
	fileEv, err := r.bridge.StatusEvidence()
	if err != nil {
		d.Reasons = append(d.Reasons, "status file unreadable")
	}
	bs := r.bridge.State()
	d.Proof = proof.Build(now, bs, fileEv, target, ramping, &r.mem)

	if bs.Ack == bridge.AckNone {
		d.Reasons = append(d.Reasons, "no ACK from agent")
		if bs.AckError != "" {
			d.Reasons = append(d.Reasons, "agent error: "+bs.AckError)
		}
	}
	if bs.HasSent && d.Proof.Source == proof.SourceNone {
		d.Reasons = append(d.Reasons, "no fresh application evidence")
	}
	if d.Proof.AppliedValue != nil && !d.Proof.OnTarget {
		d.Reasons = append(d.Reasons, "applied value off target")
	}
}
