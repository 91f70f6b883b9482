package acq

// Window is a contiguous span of samples with its nominal sample period.
// A Window is owned by the estimation call that consumes it and is never
// modified after capture.
type Window struct {
	Samples []Sample
	Period  float64 // seconds
}

// NewWindow wraps samples captured at the given period.
func NewWindow(samples []Sample, period float64) Window {
	return Window{Samples: samples, Period: period}
}

// Len returns the number of samples in the window.
func (w Window) Len() int {
	return len(w.Samples)
}

// Duration returns the nominal window duration in seconds.
func (w Window) Duration() float64 {
	return float64(len(w.Samples)) * w.Period
}
