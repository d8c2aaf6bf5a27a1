// Regulator control loop orchestrating telemetry, policy, and the bridge.
package regulator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lodregulator/internal/bridge"
	"lodregulator/internal/config"
	"lodregulator/internal/logging"
	"lodregulator/internal/policy"
	"lodregulator/internal/proof"
	"lodregulator/internal/telemetry"
)

// neutralRestoreValue is sent when a test session expires while the
// regulator itself is disabled or unresolvable.
const neutralRestoreValue = 1.0

// TestSession is an ephemeral manual override. It expires cooperatively
// on a regular tick and triggers exactly one restore send.
type TestSession struct {
	ID           string    `json:"id"`
	ModeLabel    string    `json:"mode_label"`
	Value        float64   `json:"value"`
	StartedAt    time.Time `json:"started_at"`
	EndsAt       time.Time `json:"ends_at"`
	RestoreValue float64   `json:"restore_value"`
}

// TelemetrySource is the receiver-facing seam, satisfied by
// *telemetry.Receiver.
type TelemetrySource interface {
	Snapshot(now time.Time) (*telemetry.Snapshot, telemetry.ConnectionState)
	Configure(ctx context.Context, enabled bool, host string, port int) error
}

// Regulator owns all mutable control state. State is touched only from
// the Run goroutine: external callers submit requests that execute on
// the same loop, preserving ordering relative to ticks.
type Regulator struct {
	receiver     TelemetrySource
	bridge       *bridge.Bridge
	writer       DecisionWriter
	simActive    func() bool
	tickInterval time.Duration
	now          func() time.Time

	requests  chan func(context.Context)
	published atomic.Pointer[Decision]

	cfg config.AppConfig

	// hysteresis memory
	hasLock     bool
	lockedTier  policy.Tier
	lockedSince time.Time

	// ramp state
	smoothed    float64
	hasSmoothed bool

	lastTickAt       time.Time
	pauseDisableSent bool
	test             *TestSession
	mem              proof.Memory
}

// New builds a regulator. writer and simActive may be nil: decisions are
// then only published in memory, and simulator activity is derived from
// telemetry liveness.
func New(cfg config.AppConfig, recv TelemetrySource, br *bridge.Bridge, writer DecisionWriter, tickInterval time.Duration, simActive func() bool) *Regulator {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Regulator{
		receiver:     recv,
		bridge:       br,
		writer:       writer,
		simActive:    simActive,
		tickInterval: tickInterval,
		now:          time.Now,
		requests:     make(chan func(context.Context), 16),
		cfg:          cfg,
	}
}

// Run drives the loop until ctx is done. Ticks and submitted requests
// execute serially on this goroutine.
func (r *Regulator) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting regulator", "tick_interval", r.tickInterval)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.step(ctx)
		case fn := <-r.requests:
			fn(ctx)
		case <-ctx.Done():
			log.Info("stopping regulator")
			return
		}
	}
}

// Snapshot returns the most recently published decision, or nil before
// the first tick.
func (r *Regulator) Snapshot() *Decision {
	return r.published.Load()
}

// submit queues fn for execution on the loop goroutine.
func (r *Regulator) submit(fn func(context.Context)) {
	r.requests <- fn
}

// SetEnabled flips the policy enable flag.
func (r *Regulator) SetEnabled(enabled bool) {
	r.submit(func(ctx context.Context) {
		r.cfg.Policy.Enabled = enabled
		logging.FromContext(ctx).Info("regulator enabled flag changed", "enabled", enabled)
	})
}

// UpdateConfig swaps the configuration and reconfigures the transports.
func (r *Regulator) UpdateConfig(cfg config.AppConfig) {
	r.submit(func(ctx context.Context) {
		r.cfg = cfg
		p := cfg.Policy
		r.bridge.Configure(cfg.Bridge.Host, cfg.Bridge.Port,
			time.Duration(p.MinSendInterval*float64(time.Second)), p.MinSendDelta)
		if err := r.receiver.Configure(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.Host, cfg.Telemetry.Port); err != nil {
			logging.FromContext(ctx).Error("telemetry reconfigure failed", "err", err)
		}
	})
}

// StartTest begins a timed manual override: the value is sent
// immediately and normal evaluation is suspended until expiry.
func (r *Regulator) StartTest(d time.Duration, value float64, label string) {
	r.submit(func(ctx context.Context) {
		now := r.now()
		restore := neutralRestoreValue
		if r.hasSmoothed {
			restore = r.smoothed
		}
		r.test = &TestSession{
			ID:           uuid.NewString(),
			ModeLabel:    label,
			Value:        value,
			StartedAt:    now,
			EndsAt:       now.Add(d),
			RestoreValue: restore,
		}
		res := r.bridge.SendValueDirect(ctx, "test", value)
		logging.FromContext(ctx).Info("test session started",
			"id", r.test.ID, "value", value, "duration", d, "sent", res.Sent, "reason", res.Reason)
	})
}

// Ping sends a PING through the bridge on the loop goroutine.
func (r *Regulator) Ping() {
	r.submit(func(ctx context.Context) {
		res := r.bridge.Ping(ctx)
		logging.FromContext(ctx).Info("ping", "sent", res.Sent, "reply", res.Reply, "reason", res.Reason)
	})
}

// simulatorActive reports whether the simulator process is considered
// running. Without an injected probe, telemetry liveness stands in.
func (r *Regulator) simulatorActive(telState telemetry.ConnectionState) bool {
	if r.simActive != nil {
		return r.simActive()
	}
	return telState == telemetry.StateActive
}

// publish stores the decision snapshot and fans it out to the writer.
func (r *Regulator) publish(ctx context.Context, d *Decision) {
	d.Reasons = dedupReasons(d.Reasons)
	r.published.Store(d)
	if r.writer != nil {
		if err := r.writer.WriteDecision(*d); err != nil {
			logging.FromContext(ctx).Error("decision write failed", "err", err)
		}
	}
}
