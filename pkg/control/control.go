// Package control maps frequency estimates onto a DC control voltage.
package control

import (
	"fmt"
	"math"
	"strings"

	"github.com/freqmon/pkg/acq"
)

// Policy selects what happens to frequencies outside the calibrated envelope.
type Policy int

const (
	// Pass maps out-of-envelope frequencies linearly, producing voltages
	// outside [VMin, VMax].
	Pass Policy = iota
	// Clamp limits the frequency to [FMin, FMax] before mapping.
	Clamp
	// Hold skips the update and keeps the current output.
	Hold
)

func (p Policy) String() string {
	switch p {
	case Pass:
		return "pass"
	case Clamp:
		return "clamp"
	case Hold:
		return "hold"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "pass", "clamp" or "hold". The empty string is Pass.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pass":
		return Pass, nil
	case "clamp":
		return Clamp, nil
	case "hold":
		return Hold, nil
	}
	return Pass, fmt.Errorf("%w: unknown range policy %q", acq.ErrConfiguration, s)
}

// AffineMap is voltage = Offset + Slope*f, derived from a frequency envelope
// and the voltage span it is mapped onto.
type AffineMap struct {
	FMin, FMax float64
	VMin, VMax float64
	Slope      float64
	Offset     float64
}

// NewAffineMap builds the map sending fMin to vMin and fMax to vMax.
func NewAffineMap(fMin, fMax, vMin, vMax float64) (AffineMap, error) {
	for _, v := range []float64{fMin, fMax, vMin, vMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return AffineMap{}, fmt.Errorf("%w: non-finite envelope", acq.ErrConfiguration)
		}
	}
	if fMax <= fMin {
		return AffineMap{}, fmt.Errorf("%w: frequency envelope [%g, %g] is empty", acq.ErrConfiguration, fMin, fMax)
	}
	if vMax <= vMin {
		return AffineMap{}, fmt.Errorf("%w: voltage span [%g, %g] is empty", acq.ErrConfiguration, vMin, vMax)
	}
	slope := (vMax - vMin) / (fMax - fMin)
	return AffineMap{
		FMin: fMin, FMax: fMax,
		VMin: vMin, VMax: vMax,
		Slope:  slope,
		Offset: vMin - slope*fMin,
	}, nil
}

// ToControl returns the voltage for frequency f in MHz.
func (m AffineMap) ToControl(f float64) float64 {
	return m.Offset + m.Slope*f
}

// Contains reports whether f lies inside the frequency envelope.
func (m AffineMap) Contains(f float64) bool {
	return f >= m.FMin && f <= m.FMax
}

// Clamp limits f to the frequency envelope.
func (m AffineMap) Clamp(f float64) float64 {
	return math.Min(math.Max(f, m.FMin), m.FMax)
}

// Target returns the frequency the output should track for estimate f
// under policy: the clamped frequency for Clamp, f otherwise.
func (m AffineMap) Target(policy Policy, f float64) float64 {
	if policy == Clamp {
		return m.Clamp(f)
	}
	return f
}

// Apply maps f according to policy. ok is false when the policy says the
// output must not change.
func (m AffineMap) Apply(policy Policy, f float64) (volts float64, ok bool) {
	if m.Contains(f) {
		return m.ToControl(f), true
	}
	switch policy {
	case Clamp:
		return m.ToControl(m.Clamp(f)), true
	case Hold:
		return 0, false
	default:
		return m.ToControl(f), true
	}
}

// ShouldUpdate reports whether a new estimate differs from the reference
// the output was last written for. Estimates are already rounded, so exact
// comparison is the intended hysteresis.
func ShouldUpdate(estimate, reference float64) bool {
	return estimate != reference
}
