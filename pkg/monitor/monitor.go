// Package monitor runs the real-time loop that turns a continuously
// re-armed acquisition channel into a DC control voltage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/control"
	"github.com/freqmon/pkg/estimator"
)

// State is the lifecycle position of a Loop.
type State int32

const (
	Idle State = iota
	Armed
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Device is the acquisition and output hardware driven by a Loop.
//
// WaitTrigger blocks until the channel has triggered and its buffer is full,
// and returns the trigger write pointer. ReadWindow reads n fresh samples
// starting at offset; a device that re-arms between windows may read at its
// own new trigger pointer instead. Release resets the instrument and frees
// its handles.
type Device interface {
	Configure(ctx context.Context, p acq.Params) error
	EnableOutput(ctx context.Context, baseline float64) error
	WaitTrigger(ctx context.Context) (int, error)
	ReadWindow(ctx context.Context, offset, n int) ([]acq.Sample, error)
	WriteOutput(ctx context.Context, volts float64) error
	Release(ctx context.Context) error
}

// maxDeferred bounds consecutive short windows before the loop gives up.
const maxDeferred = 100

// Config holds the loop parameters.
type Config struct {
	WindowSize       int
	ResolutionDigits int
	Acquisition      acq.Params

	Map      control.AffineMap
	Policy   control.Policy
	Baseline float64

	Verbose bool
}

// Update describes one completed cycle.
type Update struct {
	Cycle        int       `json:"cycle"`
	Time         time.Time `json:"time"`
	FrequencyMHz float64   `json:"frequency_mhz"`
	Volts        float64   `json:"volts"`
	Applied      bool      `json:"applied"`
	Reference    float64   `json:"reference_mhz"`
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	State     string  `json:"state"`
	Offset    int     `json:"offset"`
	Cycles    int     `json:"cycles"`
	Updates   int     `json:"updates"`
	Deferred  int     `json:"deferred"`
	Reference float64 `json:"reference_mhz"`
	Output    float64 `json:"output_volts"`
	Err       string  `json:"error,omitempty"`
}

// Loop is a single-use real-time control loop.
type Loop struct {
	dev Device
	cfg Config

	// OnUpdate, when set, is called synchronously after every cycle.
	OnUpdate func(Update)

	state atomic.Int32

	mu    sync.RWMutex
	stats Stats
}

// New validates cfg and returns an Idle loop.
func New(dev Device, cfg Config) (*Loop, error) {
	if cfg.WindowSize < 2 {
		return nil, fmt.Errorf("%w: window size %d", acq.ErrConfiguration, cfg.WindowSize)
	}
	if cfg.Acquisition.Decimation < 1 {
		return nil, fmt.Errorf("%w: decimation %d", acq.ErrConfiguration, cfg.Acquisition.Decimation)
	}
	if cfg.ResolutionDigits < 0 {
		return nil, fmt.Errorf("%w: resolution digits %d", acq.ErrConfiguration, cfg.ResolutionDigits)
	}
	if cfg.Map.FMax <= cfg.Map.FMin || cfg.Map.VMax <= cfg.Map.VMin {
		return nil, fmt.Errorf("%w: control map not initialised", acq.ErrConfiguration)
	}
	l := &Loop{dev: dev, cfg: cfg}
	l.stats.Output = cfg.Baseline
	return l, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stats
	s.State = l.State().String()
	return s
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run arms the device and runs cycles until ctx is cancelled or a cycle
// fails. Cancellation is observed between cycles; a window read already in
// flight completes first. Whatever the exit path, the output is driven back
// to the baseline and the device is released before Run returns, leaving the
// loop Stopped.
//
// Run returns nil when stopped by cancellation.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.state.CompareAndSwap(int32(Idle), int32(Armed)) {
		return fmt.Errorf("monitor: loop already started (%s)", l.State())
	}
	defer func() {
		l.setState(Stopping)
		if rerr := l.release(context.WithoutCancel(ctx)); rerr != nil {
			err = errors.Join(err, rerr)
		}
		if err != nil {
			l.mu.Lock()
			l.stats.Err = err.Error()
			l.mu.Unlock()
		}
		l.setState(Stopped)
	}()

	offset, err := l.arm(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	l.mu.Lock()
	l.stats.Offset = offset
	l.mu.Unlock()
	l.setState(Running)
	log.Printf("monitor: running, read offset %d, window %d samples", offset, l.cfg.WindowSize)

	var ref float64
	deferred := 0
	for {
		if ctx.Err() != nil {
			log.Printf("monitor: stopping on cancellation")
			return nil
		}

		ref, err = l.cycle(context.WithoutCancel(ctx), offset, ref)
		switch {
		case errors.Is(err, acq.ErrShortWindow):
			deferred++
			l.mu.Lock()
			l.stats.Deferred++
			l.mu.Unlock()
			if deferred >= maxDeferred {
				return fmt.Errorf("monitor: %d consecutive short windows: %w", deferred, err)
			}
		case err != nil:
			return err
		default:
			deferred = 0
		}
	}
}

func (l *Loop) arm(ctx context.Context) (int, error) {
	if err := l.dev.Configure(ctx, l.cfg.Acquisition); err != nil {
		return 0, wrapAcquisition("configure", err)
	}
	if err := l.dev.EnableOutput(ctx, l.cfg.Baseline); err != nil {
		return 0, wrapAcquisition("enable output", err)
	}
	offset, err := l.dev.WaitTrigger(ctx)
	if err != nil {
		return 0, wrapAcquisition("wait for trigger", err)
	}
	return offset, nil
}

// cycle reads one window at offset, estimates its frequency and, when the
// estimate differs from ref, writes the mapped voltage. It returns the
// reference the output now corresponds to.
func (l *Loop) cycle(ctx context.Context, offset int, ref float64) (float64, error) {
	samples, err := l.dev.ReadWindow(ctx, offset, l.cfg.WindowSize)
	if err != nil {
		if errors.Is(err, acq.ErrShortWindow) {
			return ref, err
		}
		return ref, wrapAcquisition("read window", err)
	}
	if len(samples) < l.cfg.WindowSize {
		return ref, fmt.Errorf("%w: got %d of %d samples", acq.ErrShortWindow, len(samples), l.cfg.WindowSize)
	}

	w := acq.NewWindow(samples[:l.cfg.WindowSize], acq.SamplePeriod(l.cfg.Acquisition.Decimation))
	f := estimator.Estimate(w, l.cfg.ResolutionDigits)

	l.mu.Lock()
	l.stats.Cycles++
	u := Update{Cycle: l.stats.Cycles, Time: time.Now(), FrequencyMHz: f, Volts: l.stats.Output}
	l.mu.Unlock()

	// Under Clamp every estimate past an edge maps to the same voltage, so
	// the gate compares the clamped frequency.
	target := l.cfg.Map.Target(l.cfg.Policy, f)
	if control.ShouldUpdate(target, ref) {
		if volts, ok := l.cfg.Map.Apply(l.cfg.Policy, target); ok {
			if err := l.dev.WriteOutput(ctx, volts); err != nil {
				return ref, wrapAcquisition("write output", err)
			}
			ref = target
			u.Volts = volts
			u.Applied = true
			if l.cfg.Verbose {
				log.Printf("monitor: cycle %d: %g MHz -> %.4f V", u.Cycle, f, volts)
			}
		}
	}
	u.Reference = ref

	l.mu.Lock()
	l.stats.Reference = ref
	l.stats.Output = u.Volts
	if u.Applied {
		l.stats.Updates++
	}
	l.mu.Unlock()

	if l.OnUpdate != nil {
		l.OnUpdate(u)
	}
	return ref, nil
}

func (l *Loop) release(ctx context.Context) error {
	var errs []error
	if err := l.dev.WriteOutput(ctx, l.cfg.Baseline); err != nil {
		errs = append(errs, fmt.Errorf("reset output: %w", err))
	} else {
		l.mu.Lock()
		l.stats.Output = l.cfg.Baseline
		l.mu.Unlock()
	}
	if err := l.dev.Release(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release: %w", err))
	}
	return errors.Join(errs...)
}

func wrapAcquisition(op string, err error) error {
	if errors.Is(err, acq.ErrAcquisition) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", acq.ErrAcquisition, op, err)
}
