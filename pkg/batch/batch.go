// Package batch estimates a frequency time-series over a long acquisition
// held in a circular sample store, reading it in bounded blocks.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/estimator"
	"github.com/freqmon/pkg/ring"
	"github.com/freqmon/pkg/series"
)

const (
	DefaultBlockSize     = 100000
	DefaultSubWindowSize = 1000
)

// Params configures one pipeline run.
type Params struct {
	TotalSamples     int
	BlockSize        int
	SubWindowSize    int
	ResolutionDigits int
	Decimation       int
	StartOffset      int // trigger position in the store

	// Workers > 1 estimates the sub-windows of a block concurrently.
	Workers int
	// CrossCheckMHz > 0 compares every estimate with the spectral peak of its
	// window and counts disagreements larger than this tolerance.
	CrossCheckMHz float64

	// Progress, when set, is called after each block.
	Progress func(consumed, total int)
}

// DefaultParams returns the block and sub-window sizes used by the instrument
// scripts, at full sample rate and integer MHz resolution.
func DefaultParams() Params {
	return Params{
		BlockSize:     DefaultBlockSize,
		SubWindowSize: DefaultSubWindowSize,
		Decimation:    1,
		Workers:       1,
	}
}

// Validate rejects parameters that cannot produce a series.
func (p Params) Validate() error {
	switch {
	case p.TotalSamples < 0:
		return fmt.Errorf("%w: total samples %d", acq.ErrConfiguration, p.TotalSamples)
	case p.BlockSize <= 0:
		return fmt.Errorf("%w: block size %d", acq.ErrConfiguration, p.BlockSize)
	case p.SubWindowSize <= 0:
		return fmt.Errorf("%w: sub-window size %d", acq.ErrConfiguration, p.SubWindowSize)
	case p.Decimation < 1:
		return fmt.Errorf("%w: decimation %d", acq.ErrConfiguration, p.Decimation)
	case p.ResolutionDigits < 0:
		return fmt.Errorf("%w: resolution digits %d", acq.ErrConfiguration, p.ResolutionDigits)
	}
	return nil
}

// Result is the outcome of a run.
type Result struct {
	Series series.Series

	Blocks           int
	SamplesRead      int
	DiscardedSamples int // block remainders shorter than one sub-window
	CrossCheckMisses int
}

// Run reads p.TotalSamples samples from store starting at p.StartOffset and
// estimates one frequency per sub-window, in acquisition order.
//
// Samples left over at the end of each block (fewer than SubWindowSize) are
// dropped and counted in DiscardedSamples; they are not carried into the
// next block.
//
// Cancellation is observed between blocks. On cancellation or acquisition
// failure the returned Result holds the estimates of every block completed
// before the error, and the error is returned alongside it.
func Run(ctx context.Context, store acq.SampleStore, p Params) (Result, error) {
	period := acq.SamplePeriod(p.Decimation)
	res := Result{Series: series.New(nil, float64(p.SubWindowSize)*period)}

	if err := p.Validate(); err != nil {
		return res, err
	}
	reader, err := ring.NewReader(store, p.StartOffset, p.TotalSamples)
	if err != nil {
		return res, err
	}

	expected := 0
	if p.TotalSamples > 0 {
		expected = p.TotalSamples / p.SubWindowSize
	}
	res.Series.Estimates = make([]float64, 0, expected)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// A block in flight is finished even if ctx ends meanwhile.
		block, err := reader.Next(context.WithoutCancel(ctx), p.BlockSize)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("block %d at offset %d: %w", res.Blocks, reader.Cursor().Pos(), err)
		}

		estimates := estimateBlock(block, p.SubWindowSize, period, p.ResolutionDigits, p.Workers)
		res.Series.Estimates = append(res.Series.Estimates, estimates...)

		if rest := len(block) % p.SubWindowSize; rest > 0 {
			res.DiscardedSamples += rest
			log.Printf("batch: block %d: discarded %d trailing samples (< %d)", res.Blocks, rest, p.SubWindowSize)
		}
		if p.CrossCheckMHz > 0 {
			res.CrossCheckMisses += crossCheck(block, estimates, p.SubWindowSize, period, p.CrossCheckMHz)
		}

		res.Blocks++
		res.SamplesRead += len(block)
		if p.Progress != nil {
			p.Progress(res.SamplesRead, p.TotalSamples)
		}
	}
}

// estimateBlock splits block into consecutive non-overlapping windows of size
// samples and returns one estimate per window. Results are indexed by window
// position, so their order does not depend on worker scheduling.
func estimateBlock(block []acq.Sample, size int, period float64, digits, workers int) []float64 {
	n := len(block) / size
	out := make([]float64, n)
	window := func(k int) acq.Window {
		return acq.NewWindow(block[k*size:(k+1)*size], period)
	}

	if workers <= 1 || n < 2 {
		for k := 0; k < n; k++ {
			out[k] = estimator.Estimate(window(k), digits)
		}
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				out[k] = estimator.Estimate(window(k), digits)
			}
		}()
	}
	for k := 0; k < n; k++ {
		jobs <- k
	}
	close(jobs)
	wg.Wait()
	return out
}

func crossCheck(block []acq.Sample, estimates []float64, size int, period, tolerance float64) int {
	misses := 0
	for k, f := range estimates {
		w := acq.NewWindow(block[k*size:(k+1)*size], period)
		if f == 0 {
			continue
		}
		if !estimator.Agree(f, estimator.SpectralPeak(w), tolerance) {
			misses++
		}
	}
	return misses
}
