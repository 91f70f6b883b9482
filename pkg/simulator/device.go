package simulator

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/freqmon/pkg/acq"
)

// bufferLen is the fast acquisition buffer size of the board, in samples.
const bufferLen = 16384

// Device is a simulated real-time acquisition channel with a DC output.
type Device struct {
	profile Profile
	seed    int64

	// ReadDelay paces ReadWindow like a buffer refill on hardware.
	ReadDelay time.Duration
	// FailAfter > 0 makes every read after the first FailAfter fail.
	FailAfter int

	mu       sync.Mutex
	sig      *Signal
	start    time.Time
	reads    int
	output   float64
	enabled  bool
	writes   int
	released bool
}

// NewDevice returns a device whose input follows profile.
func NewDevice(profile Profile, seed int64) *Device {
	return &Device{profile: profile, seed: seed}
}

func (d *Device) Configure(ctx context.Context, p acq.Params) error {
	if p.Decimation < 1 {
		return fmt.Errorf("%w: decimation %d", acq.ErrConfiguration, p.Decimation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sig = NewSignal(d.profile, p.Decimation, d.seed)
	d.start = time.Now()
	return nil
}

func (d *Device) EnableOutput(ctx context.Context, baseline float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = baseline
	d.enabled = true
	return nil
}

func (d *Device) WaitTrigger(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return rand.New(rand.NewSource(d.seed)).Intn(bufferLen), nil
}

// ReadWindow returns n fresh samples of the input at the current wall-clock
// position of the profile. offset is ignored.
func (d *Device) ReadWindow(ctx context.Context, offset, n int) ([]acq.Sample, error) {
	if d.ReadDelay > 0 {
		time.Sleep(d.ReadDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sig == nil {
		return nil, fmt.Errorf("%w: read before configure", acq.ErrAcquisition)
	}
	d.reads++
	if d.FailAfter > 0 && d.reads > d.FailAfter {
		return nil, fmt.Errorf("%w: simulated read failure after %d reads", acq.ErrAcquisition, d.FailAfter)
	}
	d.sig.SetTime(time.Since(d.start).Seconds())
	out := make([]acq.Sample, n)
	d.sig.Fill(out)
	return out, nil
}

func (d *Device) WriteOutput(ctx context.Context, volts float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = volts
	d.writes++
	return nil
}

func (d *Device) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
	d.released = true
	log.Printf("[SIM] released after %d reads, %d output writes", d.reads, d.writes)
	return nil
}

// Output returns the last voltage written.
func (d *Device) Output() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

// Enabled reports whether the output is on.
func (d *Device) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Released reports whether Release has been called.
func (d *Device) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}
