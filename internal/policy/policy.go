// Pure tier selection and altitude resolution.
package policy

import (
	"lodregulator/internal/config"
	"lodregulator/internal/telemetry"
)

// Tier is the flight-phase bucket used to select a target LOD value.
type Tier string

const (
	TierGround     Tier = "ground"
	TierTransition Tier = "transition"
	TierCruise     Tier = "cruise"
)

// AltitudeSource tags how an altitude was obtained.
type AltitudeSource string

const (
	SourceDirect      AltitudeSource = "direct"
	SourceHeuristic   AltitudeSource = "heuristic"
	SourceUnavailable AltitudeSource = "unavailable"
)

// Altitude is a resolved above-ground altitude with its source tag.
type Altitude struct {
	AGLFt  float64
	Source AltitudeSource
}

// mslGroundOffsetFt is the conservative ground-clearance assumed when
// approximating AGL from MSL.
const mslGroundOffsetFt = 1000

// ResolveAltitude derives an AGL altitude from telemetry. AGL is
// preferred when present and non-negative; otherwise, when allowed, AGL
// is approximated from MSL and tagged heuristic. The boolean is false
// when no altitude can be resolved.
func ResolveAltitude(snap *telemetry.Snapshot, allowMSLFallback bool) (Altitude, bool) {
	if snap == nil {
		return Altitude{Source: SourceUnavailable}, false
	}
	if snap.AGLFt != nil && *snap.AGLFt >= 0 {
		return Altitude{AGLFt: *snap.AGLFt, Source: SourceDirect}, true
	}
	if allowMSLFallback && snap.MSLFt != nil {
		agl := *snap.MSLFt - mslGroundOffsetFt
		if agl < 0 {
			agl = 0
		}
		return Altitude{AGLFt: agl, Source: SourceHeuristic}, true
	}
	return Altitude{Source: SourceUnavailable}, false
}

// SelectTier buckets an AGL altitude. Comparisons are strict: a value
// exactly at a threshold belongs to the higher tier.
func SelectTier(aglFt, groundMaxFt, cruiseMinFt float64) Tier {
	switch {
	case aglFt < groundMaxFt:
		return TierGround
	case aglFt < cruiseMinFt:
		return TierTransition
	default:
		return TierCruise
	}
}

// TargetValue returns the configured per-tier value clamped to bounds.
func TargetValue(tier Tier, cfg config.PolicyConfig) float64 {
	var v float64
	switch tier {
	case TierGround:
		v = cfg.GroundTarget
	case TierTransition:
		v = cfg.TransitionTarget
	default:
		v = cfg.CruiseTarget
	}
	return Clamp(v, cfg.ClampMin, cfg.ClampMax)
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
