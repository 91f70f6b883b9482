// Package redpitaya drives a Red Pitaya board over its SCPI server, both in
// deep-memory (AXI) acquisition mode and as a real-time monitor device.
package redpitaya

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/scpi"
)

// PollInterval is the default period of trigger and fill status queries.
const PollInterval = 5 * time.Millisecond

// DeepMemory is a channel 1 acquisition into the board's AXI memory. After
// Arm it holds one capture and serves reads from it as an acq.SampleStore.
type DeepMemory struct {
	client *scpi.Client

	PollInterval time.Duration

	start   int // memory start address, bytes
	size    int // usable memory, bytes
	trigger int // sample index of the trigger event
	samples int
	dec     int
}

// NewDeepMemory returns a deep-memory acquisition over c.
func NewDeepMemory(c *scpi.Client) *DeepMemory {
	return &DeepMemory{client: c, PollInterval: PollInterval}
}

// Capacity queries the usable AXI memory and returns how many samples fit.
func (m *DeepMemory) Capacity() (int, error) {
	start, err := m.client.QueryInt("ACQ:AXI:START?")
	if err != nil {
		return 0, wrap("query memory start", err)
	}
	size, err := m.client.QueryInt("ACQ:AXI:SIZE?")
	if err != nil {
		return 0, wrap("query memory size", err)
	}
	m.start, m.size = start, size
	return size / 2, nil
}

// Arm captures samples samples after a positive-edge trigger on channel 1 at
// the given decimation and blocks until the memory is filled.
func (m *DeepMemory) Arm(ctx context.Context, decimation, samples int) error {
	setup := []string{
		"ACQ:RST",
		"ACQ:DATA:FORMAT BIN",
		"ACQ:AXI:DATA:UNITS RAW",
		fmt.Sprintf("ACQ:AXI:DEC %d", decimation),
	}
	if err := m.send(setup...); err != nil {
		return err
	}

	capacity, err := m.Capacity()
	if err != nil {
		return err
	}
	if samples <= 0 || samples > capacity {
		return fmt.Errorf("%w: %d samples requested, memory holds %d", acq.ErrConfiguration, samples, capacity)
	}

	arm := []string{
		fmt.Sprintf("ACQ:AXI:SOUR1:SET:Buffer %d,%d", m.start, m.size),
		fmt.Sprintf("ACQ:AXI:SOUR1:Trig:Dly %d", samples),
		"ACQ:AXI:SOUR1:ENable ON",
	}
	if err := m.send(arm...); err != nil {
		return err
	}
	if err := m.client.CheckError(); err != nil {
		return wrap("configure deep memory", err)
	}

	log.Printf("redpitaya: capturing %d samples (%.2f MB) at %g MS/s",
		samples, float64(2*samples)/(1<<20), acq.SampleRate(decimation)/1e6)
	began := time.Now()
	if err := m.send("ACQ:START", "ACQ:TRIG CH1_PE"); err != nil {
		return err
	}
	if err := m.client.WaitFor(ctx, "ACQ:AXI:SOUR1:TRIG:FILL?", "1", m.PollInterval); err != nil {
		return wrap("wait for fill", err)
	}
	if err := m.send("ACQ:STOP"); err != nil {
		return err
	}

	trig, err := m.client.QueryInt("ACQ:AXI:SOUR1:Trig:Pos?")
	if err != nil {
		return wrap("query trigger position", err)
	}
	m.trigger = trig % m.Len()
	m.samples = samples
	m.dec = decimation
	log.Printf("redpitaya: capture complete in %v, trigger at sample %d", time.Since(began).Round(time.Millisecond), m.trigger)
	return nil
}

// Trigger returns the sample index of the trigger event of the last capture.
func (m *DeepMemory) Trigger() int { return m.trigger }

// Samples returns the number of samples captured after the trigger.
func (m *DeepMemory) Samples() int { return m.samples }

// Len returns the usable memory span in samples.
func (m *DeepMemory) Len() int { return m.size / 2 }

// ReadAt transfers n samples starting at sample offset.
func (m *DeepMemory) ReadAt(ctx context.Context, offset, n int) ([]acq.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := m.client.QueryBlock(fmt.Sprintf("ACQ:AXI:SOUR1:DATA:Start:N? %d,%d", offset, n))
	if err != nil {
		return nil, wrap("read memory", err)
	}
	return acq.DecodeBigEndian(raw), nil
}

// Close disables the AXI channel.
func (m *DeepMemory) Close() error {
	return m.send("ACQ:AXI:SOUR1:ENable OFF")
}

func (m *DeepMemory) send(cmds ...string) error {
	return send(m.client, cmds...)
}

func send(c *scpi.Client, cmds ...string) error {
	for _, cmd := range cmds {
		if err := c.Command(cmd); err != nil {
			return wrap(cmd, err)
		}
	}
	return nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: redpitaya: %s: %w", acq.ErrAcquisition, op, err)
}
