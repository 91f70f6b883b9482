// Package series holds a frequency time-series and writes it as a flat
// numeric table (parquet, xlsx or csv).
package series

// Point is one row of the table.
type Point struct {
	TimeS        float64 `parquet:"time_s"`
	FrequencyMHz float64 `parquet:"frequency_mhz"`
}

// Series is an ordered list of estimates, one per window of fixed duration.
type Series struct {
	Estimates      []float64 // MHz, acquisition order
	WindowDuration float64   // seconds
}

// New builds a Series.
func New(estimates []float64, windowDuration float64) Series {
	return Series{Estimates: estimates, WindowDuration: windowDuration}
}

// Len returns the number of estimates.
func (s Series) Len() int { return len(s.Estimates) }

// Time returns the timestamp of estimate k, the midpoint of its window.
func (s Series) Time(k int) float64 {
	return (float64(k) + 0.5) * s.WindowDuration
}

// Points returns the (timestamp, frequency) rows of the series.
func (s Series) Points() []Point {
	points := make([]Point, len(s.Estimates))
	for k, f := range s.Estimates {
		points[k] = Point{TimeS: s.Time(k), FrequencyMHz: f}
	}
	return points
}
