package config

import (
	"os"
	"path/filepath"
)

// Default ports. The telemetry listener and the command bridge must never
// share a port: the simulator pushes telemetry to the former while the
// rendering agent answers commands on the latter.
const (
	DefaultTelemetryPort = 49001
	DefaultBridgePort    = 49007
)

// DefaultCommandFile returns the well-known fallback command file path.
// An external polling agent depends on this location.
func DefaultCommandFile() string {
	return filepath.Join(os.TempDir(), "lodregulator_command.txt")
}

// DefaultStatusFile returns the well-known agent status file path.
func DefaultStatusFile() string {
	return filepath.Join(os.TempDir(), "lodregulator_status.txt")
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Telemetry: TelemetryConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    DefaultTelemetryPort,
		},
		Policy: PolicyConfig{
			Enabled:          true,
			GroundMaxAGLFt:   1000,
			CruiseMinAGLFt:   10000,
			GroundTarget:     1.0,
			TransitionTarget: 2.0,
			CruiseTarget:     3.0,
			ClampMin:         0.5,
			ClampMax:         6.0,
			TierHoldSeconds:  20,
			SmoothingSeconds: 15,
			MinSendInterval:  5,
			MinSendDelta:     0.1,
			AllowMSLFallback: true,
		},
		Bridge: BridgeConfig{
			Host:        "127.0.0.1",
			Port:        DefaultBridgePort,
			CommandFile: DefaultCommandFile(),
			StatusFile:  DefaultStatusFile(),
		},
		AdminAddr: ":8080",
	}
}

// Normalize enforces config invariants by clamping rather than rejecting.
func (c *AppConfig) Normalize() {
	p := &c.Policy

	if p.ClampMin > p.ClampMax {
		p.ClampMin = p.ClampMax
	}
	if p.GroundMaxAGLFt < 0 {
		p.GroundMaxAGLFt = 0
	}
	// groundMax must stay strictly below cruiseMin
	if p.CruiseMinAGLFt <= p.GroundMaxAGLFt {
		p.CruiseMinAGLFt = p.GroundMaxAGLFt + 1
	}
	if p.TierHoldSeconds < 0 {
		p.TierHoldSeconds = 0
	}
	if p.SmoothingSeconds <= 0 {
		p.SmoothingSeconds = 1
	}
	if p.MinSendInterval < 0 {
		p.MinSendInterval = 0
	}
	if p.MinSendDelta < 0 {
		p.MinSendDelta = 0
	}

	if c.Telemetry.Host == "" {
		c.Telemetry.Host = "127.0.0.1"
	}
	if c.Telemetry.Port == 0 {
		c.Telemetry.Port = DefaultTelemetryPort
	}
	if c.Bridge.Host == "" {
		c.Bridge.Host = "127.0.0.1"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = DefaultBridgePort
	}
	if c.Bridge.CommandFile == "" {
		c.Bridge.CommandFile = DefaultCommandFile()
	}
	if c.Bridge.StatusFile == "" {
		c.Bridge.StatusFile = DefaultStatusFile()
	}
	if c.AdminAddr == "" {
		c.AdminAddr = ":8080"
	}
}
