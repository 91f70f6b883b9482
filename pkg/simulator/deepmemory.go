package simulator

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/ring"
)

// DeepMemory behaves like a deep-memory capture: Arm fills a circular buffer
// starting at a random trigger position, so reading the capture wraps.
type DeepMemory struct {
	*ring.Buffer

	profile Profile
	rng     *rand.Rand
	trigger int
	samples int
}

// NewDeepMemory returns a memory of capacity samples capturing profile.
func NewDeepMemory(profile Profile, capacity int, seed int64) (*DeepMemory, error) {
	buf, err := ring.NewBuffer(capacity)
	if err != nil {
		return nil, err
	}
	return &DeepMemory{Buffer: buf, profile: profile, rng: rand.New(rand.NewSource(seed))}, nil
}

// Capacity returns the memory size in samples.
func (m *DeepMemory) Capacity() (int, error) { return m.Len(), nil }

// Arm captures samples samples at decimation.
func (m *DeepMemory) Arm(ctx context.Context, decimation, samples int) error {
	if samples <= 0 || samples > m.Len() {
		return fmt.Errorf("%w: %d samples requested, memory holds %d", acq.ErrConfiguration, samples, m.Len())
	}
	if decimation < 1 {
		return fmt.Errorf("%w: decimation %d", acq.ErrConfiguration, decimation)
	}

	// Pre-trigger history moves the write pointer to the trigger.
	m.trigger = m.rng.Intn(m.Len())
	if m.Head() != 0 || m.trigger > 0 {
		if _, err := m.Write(make([]acq.Sample, (m.trigger-m.Head()+m.Len())%m.Len())); err != nil {
			return fmt.Errorf("%w: pre-trigger fill: %w", acq.ErrAcquisition, err)
		}
	}

	sig := NewSignal(m.profile, decimation, m.rng.Int63())
	chunk := make([]acq.Sample, min(samples, 1<<16))
	for left := samples; left > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(left, len(chunk))
		sig.Fill(chunk[:n])
		if _, err := m.Write(chunk[:n]); err != nil {
			return fmt.Errorf("%w: capture after %d samples: %w", acq.ErrAcquisition, samples-left, err)
		}
		left -= n
	}
	m.samples = samples
	log.Printf("[SIM] captured %d samples, trigger at %d of %d", samples, m.trigger, m.Len())
	return nil
}

// Trigger returns the sample index where the capture starts.
func (m *DeepMemory) Trigger() int { return m.trigger }

// Samples returns the number of samples in the last capture.
func (m *DeepMemory) Samples() int { return m.samples }

// Close is a no-op.
func (m *DeepMemory) Close() error { return nil }
