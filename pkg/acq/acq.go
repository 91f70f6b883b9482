// Package acq defines what the frequency estimators need from an acquisition
// instrument: a circular sample store for long captures, raw sample decoding
// and the timing of a decimated ADC.
package acq

import (
	"context"
	"errors"
)

// BaseSampleRate is the undecimated ADC rate of the instrument in samples/s.
const BaseSampleRate = 125e6

// Sample is one raw ADC code. No conversion to volts is performed.
type Sample = int16

var (
	// ErrAcquisition marks a block or window the instrument failed to deliver.
	ErrAcquisition = errors.New("acquisition failure")
	// ErrShortWindow marks a window holding fewer samples than required.
	ErrShortWindow = errors.New("short window")
	// ErrConfiguration marks parameters rejected before any acquisition starts.
	ErrConfiguration = errors.New("configuration error")
)

// SampleStore is a bounded sample memory of fixed length, addressed by offset.
// ReadAt must only be called with 0 <= offset and offset+n <= Len(); wrapping
// around the end of the store is handled by the caller.
type SampleStore interface {
	Len() int
	ReadAt(ctx context.Context, offset, n int) ([]Sample, error)
}

// Params configures the acquisition side of an instrument.
type Params struct {
	Decimation   int
	TriggerLevel float64 // volts
	TriggerDelay int     // samples
}

// SamplePeriod returns the sample period in seconds for a decimation factor.
func SamplePeriod(decimation int) float64 {
	if decimation < 1 {
		decimation = 1
	}
	return float64(decimation) / BaseSampleRate
}

// SampleRate returns the effective sampling rate for a decimation factor.
func SampleRate(decimation int) float64 {
	return 1 / SamplePeriod(decimation)
}
