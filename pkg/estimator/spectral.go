package estimator

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/freqmon/pkg/acq"
)

// SpectralPeak returns the frequency in MHz of the strongest non-DC bin of a
// Blackman-windowed FFT of w, refined by parabolic interpolation.
// It is used to cross-check zero-crossing estimates, not to replace them.
func SpectralPeak(w acq.Window) float64 {
	n := len(w.Samples)
	if n < 4 || w.Period <= 0 {
		return 0
	}
	mean, flat := Threshold(w.Samples)
	if flat {
		return 0
	}

	coeffs := window.Blackman(n)
	input := make([]float64, n)
	for i, s := range w.Samples {
		input[i] = (float64(s) - mean) * coeffs[i]
	}
	spectrum := fft.FFTReal(input)

	half := n / 2
	peakBin := 1
	peakMag := -1.0
	for k := 1; k < half; k++ {
		if mag := cmplx.Abs(spectrum[k]); mag > peakMag {
			peakMag = mag
			peakBin = k
		}
	}

	bin := float64(peakBin)
	if peakBin > 1 && peakBin < half-1 {
		a := cmplx.Abs(spectrum[peakBin-1])
		b := peakMag
		c := cmplx.Abs(spectrum[peakBin+1])
		if denom := a - 2*b + c; denom != 0 {
			bin += 0.5 * (a - c) / denom
		}
	}

	binWidth := 1 / (float64(n) * w.Period)
	return bin * binWidth / 1e6
}

// Agree reports whether a zero-crossing estimate and a spectral peak differ by
// no more than tolerance MHz.
func Agree(zeroCrossing, spectral, tolerance float64) bool {
	return math.Abs(zeroCrossing-spectral) <= tolerance
}
