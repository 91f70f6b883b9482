// Package simulator generates digitizer samples for a synthetic input so the
// pipelines can run without a board attached.
package simulator

import (
	"math"
	"math/rand"

	"github.com/freqmon/pkg/acq"
)

// 14-bit signed ADC range of the Red Pitaya inputs.
const (
	adcMax = 8191
	adcMin = -8192
)

// Profile gives the input frequency in Hz at t seconds.
type Profile func(t float64) float64

// Constant is a fixed frequency.
func Constant(hz float64) Profile {
	return func(float64) float64 { return hz }
}

// Sweep ramps linearly from fromHz to toHz and back again every period
// seconds.
func Sweep(fromHz, toHz, period float64) Profile {
	return func(t float64) float64 {
		if period <= 0 {
			return fromHz
		}
		x := math.Mod(t, period) / period * 2
		if x > 1 {
			x = 2 - x
		}
		return fromHz + (toHz-fromHz)*x
	}
}

// Signal is a direct digital synthesis sine source sampled at the
// decimated ADC rate.
type Signal struct {
	Profile   Profile
	Amplitude float64 // ADC codes
	Offset    float64 // ADC codes
	Dither    bool

	rate     float64
	phaseAcc uint32
	t        float64 // seconds since start
	rng      *rand.Rand
}

// NewSignal returns a dithered sine of profile at the sample rate of
// decimation, with amplitude close to full scale and a small DC offset.
func NewSignal(p Profile, decimation int, seed int64) *Signal {
	return &Signal{
		Profile:   p,
		Amplitude: 6000,
		Offset:    150,
		Dither:    true,
		rate:      acq.SampleRate(decimation),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// SetTime moves the signal clock to t seconds without touching the phase.
func (s *Signal) SetTime(t float64) { s.t = t }

// Time returns the signal clock in seconds.
func (s *Signal) Time() float64 { return s.t }

// Fill writes the next len(dst) samples.
func (s *Signal) Fill(dst []acq.Sample) {
	dt := 1 / s.rate
	for i := range dst {
		// Tuning word = f / fs * 2^32
		tuning := uint32(s.Profile(s.t) / s.rate * 4294967296.0)

		phase := float64(s.phaseAcc) / 4294967296.0 * 2 * math.Pi
		val := s.Offset + s.Amplitude*math.Sin(phase)
		if s.Dither {
			// Triangular dither of +/- 1 LSB.
			val += s.rng.Float64() - s.rng.Float64()
		}
		if val > adcMax {
			val = adcMax
		}
		if val < adcMin {
			val = adcMin
		}
		dst[i] = acq.Sample(math.Round(val))

		s.phaseAcc += tuning
		s.t += dt
	}
}
