// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TelemetryConfig controls the simulator telemetry UDP listener.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// PolicyConfig holds the regulator policy knobs. All values are normalized
// by Normalize before use; the control loop treats the struct as immutable
// within a tick.
type PolicyConfig struct {
	Enabled          bool    `yaml:"enabled"`
	GroundMaxAGLFt   float64 `yaml:"ground_max_agl_ft"`
	CruiseMinAGLFt   float64 `yaml:"cruise_min_agl_ft"`
	GroundTarget     float64 `yaml:"ground_target"`
	TransitionTarget float64 `yaml:"transition_target"`
	CruiseTarget     float64 `yaml:"cruise_target"`
	ClampMin         float64 `yaml:"clamp_min"`
	ClampMax         float64 `yaml:"clamp_max"`
	TierHoldSeconds  float64 `yaml:"tier_hold_seconds"`
	SmoothingSeconds float64 `yaml:"smoothing_seconds"`
	MinSendInterval  float64 `yaml:"min_send_interval_seconds"`
	MinSendDelta     float64 `yaml:"min_send_delta"`
	AllowMSLFallback bool    `yaml:"allow_msl_fallback"`
}

// BridgeConfig describes the command bridge endpoint and fallback files.
type BridgeConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	CommandFile string `yaml:"command_file"`
	StatusFile  string `yaml:"status_file"`
}

// AppConfig is the root configuration for the regulator.
type AppConfig struct {
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	AdminAddr string          `yaml:"admin_addr"`
}

// Load loads YAML config, validates it against a CUE schema, and
// normalizes the result. schemaPath may be empty to skip validation.
func Load(configPath, schemaPath string) (*AppConfig, error) {
	if schemaPath != "" {
		if err := ValidateWithCue(configPath, schemaPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}
