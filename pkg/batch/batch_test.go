package batch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/ring"
)

// segmentStore builds a store of 1000-sample segments, each a 0/10 square
// wave with the given period in samples.
func segmentStore(t *testing.T, periods ...int) *ring.Buffer {
	t.Helper()
	var samples []acq.Sample
	for _, p := range periods {
		for i := 0; i < 1000; i++ {
			var v acq.Sample
			if i%p >= p/2 {
				v = 10
			}
			samples = append(samples, v)
		}
	}
	b, err := ring.NewBuffer(len(samples))
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	b.Write(samples)
	return b
}

type failingStore struct {
	acq.SampleStore
	okReads int
	reads   int
}

func (s *failingStore) ReadAt(ctx context.Context, offset, n int) ([]acq.Sample, error) {
	s.reads++
	if s.reads > s.okReads {
		return nil, errors.New("device timeout")
	}
	return s.SampleStore.ReadAt(ctx, offset, n)
}

// cancellingStore cancels the run during its first read and, like a
// hardware store, refuses reads on a cancelled context.
type cancellingStore struct {
	acq.SampleStore
	cancel func()
	reads  int
}

func (s *cancellingStore) ReadAt(ctx context.Context, offset, n int) ([]acq.Sample, error) {
	s.reads++
	if s.reads == 1 {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.SampleStore.ReadAt(ctx, offset, n)
}

func params(total, block int) Params {
	p := DefaultParams()
	p.TotalSamples = total
	p.BlockSize = block
	return p
}

func equalSeries(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_DiscardsTrailingSamples(t *testing.T) {
	store := segmentStore(t, 8, 8, 8)
	res, err := Run(context.Background(), store, params(2500, DefaultBlockSize))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Series.Len() != 2 {
		t.Errorf("Expected 2 estimates, got %d", res.Series.Len())
	}
	if res.DiscardedSamples != 500 {
		t.Errorf("DiscardedSamples: got %d, want 500", res.DiscardedSamples)
	}
	if res.SamplesRead != 2500 || res.Blocks != 1 {
		t.Errorf("SamplesRead=%d Blocks=%d, want 2500 and 1", res.SamplesRead, res.Blocks)
	}
}

func TestRun_DiscardsAtEveryBlockBoundary(t *testing.T) {
	store := segmentStore(t, 8, 8, 8)
	res, err := Run(context.Background(), store, params(3000, 1500))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Series.Len() != 2 || res.DiscardedSamples != 1000 {
		t.Errorf("got %d estimates and %d discarded, want 2 and 1000", res.Series.Len(), res.DiscardedSamples)
	}
}

func TestRun_WrapsInAcquisitionOrder(t *testing.T) {
	store := segmentStore(t, 8, 10, 20, 4)
	p := params(4000, 2000)
	p.StartOffset = 3000

	res, err := Run(context.Background(), store, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{31, 16, 12, 6}
	if !equalSeries(res.Series.Estimates, want) {
		t.Errorf("estimates: got %v, want %v", res.Series.Estimates, want)
	}
	if res.DiscardedSamples != 0 {
		t.Errorf("DiscardedSamples: got %d, want 0", res.DiscardedSamples)
	}
}

func TestRun_ParallelKeepsOrder(t *testing.T) {
	store := segmentStore(t, 4, 8, 10, 20, 4, 8, 10, 20)
	p := params(8000, 8000)

	seq, err := Run(context.Background(), store, p)
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}
	p.Workers = 4
	par, err := Run(context.Background(), store, p)
	if err != nil {
		t.Fatalf("parallel Run: %v", err)
	}
	if !equalSeries(seq.Series.Estimates, par.Series.Estimates) {
		t.Errorf("parallel %v differs from sequential %v", par.Series.Estimates, seq.Series.Estimates)
	}
}

func TestRun_Timestamps(t *testing.T) {
	store := segmentStore(t, 8, 8)
	res, err := Run(context.Background(), store, params(2000, 1000))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Series.Time(1); math.Abs(got-12e-6) > 1e-15 {
		t.Errorf("Time(1): got %g, want 12us", got)
	}
}

func TestRun_AcquisitionFailureKeepsPartial(t *testing.T) {
	store := &failingStore{SampleStore: segmentStore(t, 8, 8, 8), okReads: 1}
	res, err := Run(context.Background(), store, params(3000, 1000))
	if !errors.Is(err, acq.ErrAcquisition) {
		t.Fatalf("Expected ErrAcquisition, got %v", err)
	}
	if res.Series.Len() != 1 {
		t.Errorf("partial series: got %d estimates, want 1", res.Series.Len())
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, segmentStore(t, 8), params(1000, 1000))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if res.Blocks != 0 {
		t.Errorf("Blocks: got %d, want 0", res.Blocks)
	}
}

func TestRun_CancelledMidBlockFinishesBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{SampleStore: segmentStore(t, 8, 10, 20, 4), cancel: cancel}
	p := params(4000, 2000)
	p.StartOffset = 3000

	// The first block wraps: tail read at 3000, then head read at 0.
	res, err := Run(ctx, store, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, acq.ErrAcquisition) {
		t.Errorf("cancellation reported as acquisition failure: %v", err)
	}
	if store.reads != 2 {
		t.Errorf("reads: got %d, want 2", store.reads)
	}
	if res.Blocks != 1 || res.SamplesRead != 2000 {
		t.Errorf("Blocks=%d SamplesRead=%d, want 1 and 2000", res.Blocks, res.SamplesRead)
	}
	if want := []float64{31, 16}; !equalSeries(res.Series.Estimates, want) {
		t.Errorf("estimates: got %v, want %v", res.Series.Estimates, want)
	}
}

func TestRun_InvalidParams(t *testing.T) {
	store := segmentStore(t, 8)
	bad := []Params{
		{TotalSamples: -1, BlockSize: 1, SubWindowSize: 1, Decimation: 1},
		{TotalSamples: 10, BlockSize: 0, SubWindowSize: 1, Decimation: 1},
		{TotalSamples: 10, BlockSize: 10, SubWindowSize: 0, Decimation: 1},
		{TotalSamples: 10, BlockSize: 10, SubWindowSize: 1, Decimation: 0},
		{TotalSamples: 10, BlockSize: 10, SubWindowSize: 1, Decimation: 1, ResolutionDigits: -1},
		{TotalSamples: 10, BlockSize: 10, SubWindowSize: 1, Decimation: 1, StartOffset: 1000},
	}
	for i, p := range bad {
		if _, err := Run(context.Background(), store, p); !errors.Is(err, acq.ErrConfiguration) {
			t.Errorf("case %d: expected ErrConfiguration, got %v", i, err)
		}
	}
}

func TestRun_ProgressAndCrossCheck(t *testing.T) {
	store := segmentStore(t, 10, 10)
	p := params(2000, 1000)
	p.CrossCheckMHz = 1

	var calls []int
	p.Progress = func(consumed, total int) {
		calls = append(calls, consumed)
		if total != 2000 {
			t.Errorf("Progress total: got %d, want 2000", total)
		}
	}
	res, err := Run(context.Background(), store, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 2 || calls[1] != 2000 {
		t.Errorf("Progress calls: %v", calls)
	}
	if res.CrossCheckMisses != 0 {
		t.Errorf("CrossCheckMisses: got %d, want 0", res.CrossCheckMisses)
	}
}
