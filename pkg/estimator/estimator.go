// Package estimator turns a window of raw ADC codes into a frequency by
// counting rising crossings of the window mean.
//
// Estimates are rounded half-to-even, so two windows compare equal exactly
// when their frequencies fall into the same quantisation step.
package estimator

import (
	"math"

	"github.com/freqmon/pkg/acq"
)

// Estimate returns the frequency of w in MHz, rounded to digits decimals.
// Windows shorter than two samples or with a constant value estimate to 0.
// Estimate keeps no state between calls.
func Estimate(w acq.Window, digits int) float64 {
	if len(w.Samples) < 2 || w.Period <= 0 {
		return 0
	}
	threshold, flat := Threshold(w.Samples)
	if flat {
		return 0
	}
	count := RisingCrossings(w.Samples, threshold)
	return Round(float64(count)/w.Duration()/1e6, digits)
}

// Threshold returns the arithmetic mean of samples and whether every sample
// has the same value. Integer accumulation keeps the mean exact.
func Threshold(samples []acq.Sample) (mean float64, flat bool) {
	if len(samples) == 0 {
		return 0, true
	}
	var sum int64
	lo, hi := samples[0], samples[0]
	for _, s := range samples {
		sum += int64(s)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return float64(sum) / float64(len(samples)), lo == hi
}

// RisingCrossings counts indices i with samples[i] < threshold and
// samples[i+1] >= threshold. A sample equal to the threshold counts as above.
func RisingCrossings(samples []acq.Sample, threshold float64) int {
	count := 0
	for i := 0; i+1 < len(samples); i++ {
		if float64(samples[i]) < threshold && float64(samples[i+1]) >= threshold {
			count++
		}
	}
	return count
}

// Round rounds v to digits decimal places, ties to even.
func Round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.RoundToEven(v*p) / p
}

// Resolution returns the quantisation step in MHz for a digit count.
func Resolution(digits int) float64 {
	return math.Pow10(-digits)
}
