package policy

import (
	"testing"

	"lodregulator/internal/config"
	"lodregulator/internal/telemetry"
)

func fp(v float64) *float64 { return &v }

func TestSelectTier(t *testing.T) {
	cases := []struct {
		name string
		agl  float64
		want Tier
	}{
		{"below ground max", 500, TierGround},
		{"just below ground max", 999.9, TierGround},
		{"exactly ground max belongs to transition", 1000, TierTransition},
		{"mid transition", 5000, TierTransition},
		{"just below cruise min", 9999.9, TierTransition},
		{"exactly cruise min belongs to cruise", 10000, TierCruise},
		{"high cruise", 35000, TierCruise},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectTier(tc.agl, 1000, 10000); got != tc.want {
				t.Errorf("SelectTier(%v) = %v, want %v", tc.agl, got, tc.want)
			}
		})
	}
}

func TestResolveAltitude(t *testing.T) {
	cases := []struct {
		name       string
		snap       *telemetry.Snapshot
		allowMSL   bool
		wantOK     bool
		wantAGL    float64
		wantSource AltitudeSource
	}{
		{
			name:       "direct AGL preferred over MSL",
			snap:       &telemetry.Snapshot{AGLFt: fp(5000), MSLFt: fp(9000)},
			allowMSL:   true,
			wantOK:     true,
			wantAGL:    5000,
			wantSource: SourceDirect,
		},
		{
			name:       "MSL heuristic subtracts ground offset",
			snap:       &telemetry.Snapshot{MSLFt: fp(6000)},
			allowMSL:   true,
			wantOK:     true,
			wantAGL:    5000,
			wantSource: SourceHeuristic,
		},
		{
			name:       "MSL heuristic floors at zero",
			snap:       &telemetry.Snapshot{MSLFt: fp(400)},
			allowMSL:   true,
			wantOK:     true,
			wantAGL:    0,
			wantSource: SourceHeuristic,
		},
		{
			name:     "MSL fallback disabled",
			snap:     &telemetry.Snapshot{MSLFt: fp(6000)},
			allowMSL: false,
			wantOK:   false,
		},
		{
			name:     "negative AGL ignored, no MSL",
			snap:     &telemetry.Snapshot{AGLFt: fp(-50)},
			allowMSL: true,
			wantOK:   false,
		},
		{
			name:     "nil snapshot",
			snap:     nil,
			allowMSL: true,
			wantOK:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alt, ok := ResolveAltitude(tc.snap, tc.allowMSL)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				if alt.Source != SourceUnavailable {
					t.Errorf("source = %v, want unavailable", alt.Source)
				}
				return
			}
			if alt.AGLFt != tc.wantAGL {
				t.Errorf("AGL = %v, want %v", alt.AGLFt, tc.wantAGL)
			}
			if alt.Source != tc.wantSource {
				t.Errorf("source = %v, want %v", alt.Source, tc.wantSource)
			}
		})
	}
}

func TestTargetValue(t *testing.T) {
	cfg := config.PolicyConfig{
		GroundTarget:     1.0,
		TransitionTarget: 2.0,
		CruiseTarget:     9.0, // above clamp max
		ClampMin:         0.5,
		ClampMax:         6.0,
	}
	if got := TargetValue(TierGround, cfg); got != 1.0 {
		t.Errorf("ground target = %v, want 1.0", got)
	}
	if got := TargetValue(TierTransition, cfg); got != 2.0 {
		t.Errorf("transition target = %v, want 2.0", got)
	}
	if got := TargetValue(TierCruise, cfg); got != 6.0 {
		t.Errorf("cruise target = %v, want clamped 6.0", got)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(-1, 0, 10); got != 0 {
		t.Errorf("Clamp(-1) = %v", got)
	}
	if got := Clamp(11, 0, 10); got != 10 {
		t.Errorf("Clamp(11) = %v", got)
	}
	if got := Clamp(5, 0, 10); got != 5 {
		t.Errorf("Clamp(5) = %v", got)
	}
}
