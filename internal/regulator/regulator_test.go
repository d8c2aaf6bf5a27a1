package regulator

import (
	"context"
	"math"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lodregulator/internal/bridge"
	"lodregulator/internal/config"
	"lodregulator/internal/policy"
	"lodregulator/internal/telemetry"
)

func fp(v float64) *float64 { return &v }

// fakeTelemetry is a scripted TelemetrySource.
type fakeTelemetry struct {
	snap  *telemetry.Snapshot
	state telemetry.ConnectionState
}

func (f *fakeTelemetry) Snapshot(time.Time) (*telemetry.Snapshot, telemetry.ConnectionState) {
	return f.snap, f.state
}

func (f *fakeTelemetry) Configure(context.Context, bool, string, int) error { return nil }

func (f *fakeTelemetry) setAGL(agl float64) {
	f.snap = &telemetry.Snapshot{Source: "udp", AGLFt: fp(agl)}
	f.state = telemetry.StateActive
}

// startAgent runs an acknowledging UDP agent on a loopback port.
func startAgent(t *testing.T) (host string, port int, received func() []string) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("agent listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var mu sync.Mutex
	var cmds []string
	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(string(buf[:n]))
			mu.Lock()
			cmds = append(cmds, cmd)
			mu.Unlock()
			reply := "ACK " + cmd
			if cmd == bridge.CmdPing {
				reply = "PONG"
			}
			conn.WriteTo([]byte(reply+"\n"), addr)
		}
	}()

	udpAddr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", udpAddr.Port, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), cmds...)
	}
}

type harness struct {
	reg      *Regulator
	tel      *fakeTelemetry
	received func() []string
	now      time.Time
}

// newHarness wires a regulator with a fake clock shared by the bridge.
func newHarness(t *testing.T, mutate func(*config.AppConfig)) *harness {
	t.Helper()
	host, port, received := startAgent(t)

	cfg := config.Default()
	cfg.Bridge.Host = host
	cfg.Bridge.Port = port
	dir := t.TempDir()
	cfg.Bridge.CommandFile = filepath.Join(dir, "command.txt")
	cfg.Bridge.StatusFile = filepath.Join(dir, "status.txt")
	cfg.Policy.MinSendInterval = 0
	cfg.Policy.MinSendDelta = 0
	cfg.Policy.TierHoldSeconds = 9
	cfg.Policy.SmoothingSeconds = 10
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.Normalize()

	h := &harness{
		tel:      &fakeTelemetry{},
		received: received,
		now:      time.Unix(100000, 0),
	}
	br := bridge.New(cfg.Bridge.Host, cfg.Bridge.Port,
		time.Duration(cfg.Policy.MinSendInterval*float64(time.Second)),
		cfg.Policy.MinSendDelta,
		cfg.Bridge.CommandFile, cfg.Bridge.StatusFile)
	br.SetClock(func() time.Time { return h.now })

	h.reg = New(cfg, h.tel, br, nil, time.Second, nil)
	h.reg.now = func() time.Time { return h.now }
	return h
}

func (h *harness) stepAt(t *testing.T, offset time.Duration) *Decision {
	t.Helper()
	h.now = time.Unix(100000, 0).Add(offset)
	h.reg.step(context.Background())
	d := h.reg.Snapshot()
	if d == nil {
		t.Fatal("no decision published")
	}
	return d
}

func (h *harness) drainRequests(t *testing.T) {
	t.Helper()
	for {
		select {
		case fn := <-h.reg.requests:
			fn(context.Background())
		default:
			return
		}
	}
}

func countCommands(cmds []string, prefix string) int {
	n := 0
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestFirstObservationLocksImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.tel.setAGL(5000)

	d := h.stepAt(t, 0)
	if d.Tier != policy.TierTransition {
		t.Errorf("tier = %v, want transition", d.Tier)
	}
	if d.Paused {
		t.Errorf("unexpected pause: %+v", d)
	}
	if len(d.Reasons) > 0 {
		for _, r := range d.Reasons {
			if strings.Contains(r, "hold") {
				t.Errorf("first lock should not report a hold: %v", d.Reasons)
			}
		}
	}
}

func TestHysteresisHoldsThenSwitches(t *testing.T) {
	h := newHarness(t, nil)

	h.tel.setAGL(500)
	if d := h.stepAt(t, 0); d.Tier != policy.TierGround {
		t.Fatalf("tier = %v, want ground", d.Tier)
	}

	// candidate change observed before the hold expires
	h.tel.setAGL(5000)
	d := h.stepAt(t, 2*time.Second)
	if d.Tier != policy.TierGround {
		t.Errorf("tier flipped early: %v", d.Tier)
	}
	holdReported := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "hold not satisfied") {
			holdReported = true
		}
	}
	if !holdReported {
		t.Errorf("hold reason missing: %v", d.Reasons)
	}

	// past the hold the candidate is accepted and the clock resets
	d = h.stepAt(t, 10*time.Second)
	if d.Tier != policy.TierTransition {
		t.Errorf("tier = %v, want transition after hold", d.Tier)
	}
	if !h.reg.lockedSince.Equal(time.Unix(100000, 0).Add(10 * time.Second)) {
		t.Errorf("lock clock not reset: %v", h.reg.lockedSince)
	}
}

func TestRampConvergesAndZeroDtIsNoop(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Policy.TierHoldSeconds = 0
		cfg.Policy.SmoothingSeconds = 4
	})

	h.tel.setAGL(500)
	d := h.stepAt(t, 0)
	if d.Smoothed != 1.0 {
		t.Fatalf("initial smoothed = %v, want ground target 1.0", d.Smoothed)
	}

	h.tel.setAGL(20000) // cruise, target 3.0
	prev := 1.0
	for i := 1; i <= 4; i++ {
		d = h.stepAt(t, time.Duration(i)*time.Second)
		if d.Smoothed <= prev {
			t.Fatalf("smoothed not increasing: %v -> %v", prev, d.Smoothed)
		}
		prev = d.Smoothed
	}

	// cumulative dt >= smoothing duration converges within tolerance
	for i := 5; i <= 20; i++ {
		d = h.stepAt(t, time.Duration(i)*time.Second)
	}
	if math.Abs(d.Smoothed-3.0) > 0.05 {
		t.Errorf("smoothed = %v, want ~3.0", d.Smoothed)
	}

	// a repeated tick at the same instant leaves the value unchanged
	before := h.reg.smoothed
	d = h.stepAt(t, 20*time.Second)
	if d.Smoothed != before {
		t.Errorf("zero dt changed smoothed: %v -> %v", before, d.Smoothed)
	}
}

func TestPauseIssuesOneDisablePerEpisode(t *testing.T) {
	h := newHarness(t, nil)
	h.tel.setAGL(500)
	h.stepAt(t, 0)

	// telemetry loss pauses the loop
	h.tel.snap = nil
	h.tel.state = telemetry.StateListening
	d := h.stepAt(t, 1*time.Second)
	if !d.Paused || d.PauseReason != "no telemetry" {
		t.Fatalf("decision = %+v, want paused for no telemetry", d)
	}
	h.stepAt(t, 2*time.Second)
	h.stepAt(t, 3*time.Second)

	if n := countCommands(h.received(), bridge.CmdDisable); n != 1 {
		t.Errorf("DISABLE sent %d times in one episode, want 1", n)
	}
	if h.reg.hasLock || h.reg.hasSmoothed {
		t.Error("runtime state not cleared on pause")
	}

	// recovery resumes and a later pause sends DISABLE again
	h.tel.setAGL(500)
	h.stepAt(t, 4*time.Second)
	h.tel.snap = nil
	h.tel.state = telemetry.StateListening
	h.stepAt(t, 5*time.Second)
	if n := countCommands(h.received(), bridge.CmdDisable); n != 2 {
		t.Errorf("DISABLE count = %d across two episodes, want 2", n)
	}
}

func TestPauseReasonPriority(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Policy.Enabled = false
	})
	h.tel.setAGL(500)
	d := h.stepAt(t, 0)
	if d.PauseReason != "regulator disabled" {
		t.Errorf("pause reason = %q", d.PauseReason)
	}

	// altitude unavailable with active telemetry
	h2 := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Policy.AllowMSLFallback = false
	})
	h2.tel.snap = &telemetry.Snapshot{Source: "udp", MSLFt: fp(6000)}
	h2.tel.state = telemetry.StateActive
	if d := h2.stepAt(t, 0); d.PauseReason != "altitude unavailable" {
		t.Errorf("pause reason = %q", d.PauseReason)
	}
}

func TestHeuristicAltitudeReported(t *testing.T) {
	h := newHarness(t, nil)
	h.tel.snap = &telemetry.Snapshot{Source: "udp", MSLFt: fp(6000)}
	h.tel.state = telemetry.StateActive

	d := h.stepAt(t, 0)
	if d.AltitudeSource != policy.SourceHeuristic {
		t.Fatalf("source = %v, want heuristic", d.AltitudeSource)
	}
	if d.AltitudeFt == nil || *d.AltitudeFt != 5000 {
		t.Errorf("altitude = %v, want 5000", d.AltitudeFt)
	}
	found := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "MSL") {
			found = true
		}
	}
	if !found {
		t.Errorf("heuristic reason missing: %v", d.Reasons)
	}
}

func TestTestSessionOverrideAndRestore(t *testing.T) {
	h := newHarness(t, nil)
	h.tel.setAGL(500)
	h.stepAt(t, 0)

	h.reg.StartTest(30*time.Second, 5.0, "stress")
	h.drainRequests(t)

	d := h.stepAt(t, 5*time.Second)
	if !d.TestActive || d.TestLabel != "stress" {
		t.Fatalf("test override not reported: %+v", d)
	}
	if d.TestRemainingS < 24 || d.TestRemainingS > 26 {
		t.Errorf("remaining = %v, want ~25", d.TestRemainingS)
	}

	// expiry restores the live tier target exactly once
	d = h.stepAt(t, 31*time.Second)
	if d.TestActive {
		t.Error("session still active after expiry")
	}
	if h.reg.test != nil {
		t.Error("session not cleared")
	}
	restores := countCommands(h.received(), "SET_VALUE 1.000")
	if restores < 1 {
		t.Errorf("restore send missing: %v", h.received())
	}

	// the next tick resumes normal regulation without a second restore
	d = h.stepAt(t, 32*time.Second)
	if d.TestActive {
		t.Error("test session resurrected")
	}
}

func TestEndToEndRegulation(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Policy.MinSendInterval = 5
		cfg.Policy.MinSendDelta = 0.1
	})

	// t=0: on the ground
	h.tel.setAGL(500)
	d := h.stepAt(t, 0)
	if d.Tier != policy.TierGround || d.Smoothed != 1.0 {
		t.Fatalf("t=0 decision: %+v", d)
	}

	// climbing: candidate transition held until the hold elapses
	h.tel.setAGL(5000)
	for _, sec := range []int{2, 4, 6, 8} {
		d = h.stepAt(t, time.Duration(sec)*time.Second)
		if d.Tier != policy.TierGround {
			t.Fatalf("t=%ds tier = %v, want ground while held", sec, d.Tier)
		}
	}

	// t=10: hold satisfied, ramp starts toward the transition target
	d = h.stepAt(t, 10*time.Second)
	if d.Tier != policy.TierTransition {
		t.Fatalf("t=10s tier = %v, want transition", d.Tier)
	}
	if math.Abs(d.Smoothed-1.2) > 0.001 {
		t.Errorf("t=10s smoothed = %v, want 1.2", d.Smoothed)
	}

	prev := d.Smoothed
	for _, sec := range []int{12, 14, 16} {
		d = h.stepAt(t, time.Duration(sec)*time.Second)
		if d.Smoothed <= prev {
			t.Errorf("t=%ds smoothed not ramping: %v -> %v", sec, prev, d.Smoothed)
		}
		prev = d.Smoothed
	}

	cmds := h.received()
	if n := countCommands(cmds, bridge.CmdEnable); n != 1 {
		t.Errorf("ENABLE count = %d, want 1", n)
	}
	// rate limiting keeps transport sends down to t=0, t=10, t=16
	if n := countCommands(cmds, "SET_VALUE"); n != 3 {
		t.Errorf("SET_VALUE count = %d, want 3: %v", n, cmds)
	}
}

func TestDedupReasons(t *testing.T) {
	got := dedupReasons([]string{"a", "b", "a", "", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
