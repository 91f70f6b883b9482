package simulator

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/estimator"
	"github.com/freqmon/pkg/ring"
)

func TestSweep(t *testing.T) {
	p := Sweep(28e6, 62e6, 2)
	cases := map[float64]float64{0: 28e6, 0.5: 45e6, 1: 62e6, 1.5: 45e6, 2: 28e6}
	for at, want := range cases {
		if got := p(at); math.Abs(got-want) > 1 {
			t.Errorf("Sweep(%g) = %g, want %g", at, got, want)
		}
	}
	if got := Constant(5e6)(123); got != 5e6 {
		t.Errorf("Constant: got %g", got)
	}
}

func TestSignal_EstimatesToneFrequency(t *testing.T) {
	for _, mhz := range []float64{5, 10, 31, 45} {
		sig := NewSignal(Constant(mhz*1e6), 1, 1)
		buf := make([]acq.Sample, 1000)
		sig.Fill(buf)
		got := estimator.Estimate(acq.NewWindow(buf, acq.SamplePeriod(1)), 0)
		if math.Abs(got-mhz) > 1 {
			t.Errorf("%g MHz tone: estimated %g", mhz, got)
		}
	}
}

func TestSignal_ClampsToADCRange(t *testing.T) {
	sig := NewSignal(Constant(1e6), 1, 1)
	sig.Amplitude = 20000
	buf := make([]acq.Sample, 500)
	sig.Fill(buf)
	sawMax, sawMin := false, false
	for _, s := range buf {
		if s > adcMax || s < adcMin {
			t.Fatalf("sample %d outside ADC range", s)
		}
		sawMax = sawMax || s == adcMax
		sawMin = sawMin || s == adcMin
	}
	if !sawMax || !sawMin {
		t.Errorf("Expected clipping at both rails")
	}
}

func TestDeepMemory_CaptureStartsAtTrigger(t *testing.T) {
	m, err := NewDeepMemory(Constant(10e6), 8192, 7)
	if err != nil {
		t.Fatalf("NewDeepMemory: %v", err)
	}
	if err := m.Arm(context.Background(), 1, 6000); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if m.Samples() != 6000 || m.Trigger() < 0 || m.Trigger() >= m.Len() {
		t.Fatalf("Samples=%d Trigger=%d", m.Samples(), m.Trigger())
	}
	if want := (m.Trigger() + 6000) % m.Len(); m.Head() != want {
		t.Errorf("write pointer: got %d, want %d", m.Head(), want)
	}

	r, err := ring.NewReader(m, m.Trigger(), 6000)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	for i := 0; i < 6; i++ {
		block, err := r.Next(context.Background(), 1000)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got := estimator.Estimate(acq.NewWindow(block, acq.SamplePeriod(1)), 0)
		if got != 10 {
			t.Errorf("window %d: estimated %g MHz, want 10", i, got)
		}
	}
}

func TestDeepMemory_RearmMovesWritePointerToTrigger(t *testing.T) {
	m, err := NewDeepMemory(Constant(10e6), 4096, 11)
	if err != nil {
		t.Fatalf("NewDeepMemory: %v", err)
	}
	for i, n := range []int{4096, 1000, 4096} {
		if err := m.Arm(context.Background(), 1, n); err != nil {
			t.Fatalf("Arm %d: %v", i, err)
		}
		if want := (m.Trigger() + n) % m.Len(); m.Head() != want {
			t.Errorf("Arm %d: write pointer got %d, want %d", i, m.Head(), want)
		}
	}
}

func TestDeepMemory_RejectsOversizedCapture(t *testing.T) {
	m, err := NewDeepMemory(Constant(10e6), 100, 1)
	if err != nil {
		t.Fatalf("NewDeepMemory: %v", err)
	}
	if err := m.Arm(context.Background(), 1, 101); !errors.Is(err, acq.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestDevice(t *testing.T) {
	ctx := context.Background()
	d := NewDevice(Constant(20e6), 3)
	d.FailAfter = 2

	if _, err := d.ReadWindow(ctx, 0, 10); !errors.Is(err, acq.ErrAcquisition) {
		t.Errorf("read before configure: got %v", err)
	}
	if err := d.Configure(ctx, acq.Params{Decimation: 1}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := d.EnableOutput(ctx, 0); err != nil || !d.Enabled() {
		t.Fatalf("EnableOutput: %v", err)
	}
	off, err := d.WaitTrigger(ctx)
	if err != nil || off < 0 || off >= bufferLen {
		t.Fatalf("WaitTrigger: %d, %v", off, err)
	}

	for i := 0; i < 2; i++ {
		w, err := d.ReadWindow(ctx, off, 1000)
		if err != nil {
			t.Fatalf("ReadWindow %d: %v", i, err)
		}
		if got := estimator.Estimate(acq.NewWindow(w, acq.SamplePeriod(1)), 0); got != 20 {
			t.Errorf("read %d: estimated %g MHz, want 20", i, got)
		}
	}
	if _, err := d.ReadWindow(ctx, off, 1000); !errors.Is(err, acq.ErrAcquisition) {
		t.Errorf("Expected injected failure, got %v", err)
	}

	if err := d.WriteOutput(ctx, 0.42); err != nil || d.Output() != 0.42 {
		t.Errorf("WriteOutput: %v, output %g", err, d.Output())
	}
	if err := d.Release(ctx); err != nil || !d.Released() || d.Enabled() {
		t.Errorf("Release: %v", err)
	}
}
