package redpitaya

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/scpi"
)

// Device is the fast acquisition path of input 1 paired with a DC level on
// output 1. It implements monitor.Device.
//
// Over SCPI the channel is not kept armed: an acquisition stops once its
// buffer has filled after the trigger. Every window after the first re-arms
// the channel with an immediate trigger and is read at the new trigger
// pointer.
type Device struct {
	client *scpi.Client

	PollInterval time.Duration
	// FillTimeout bounds the wait for a re-armed buffer to fill.
	FillTimeout time.Duration

	// fresh is set while the acquisition from WaitTrigger is still unread.
	fresh bool
}

// DefaultFillTimeout is the default Device.FillTimeout.
const DefaultFillTimeout = time.Second

// NewDevice returns a Device over c. Release closes c.
func NewDevice(c *scpi.Client) *Device {
	return &Device{client: c, PollInterval: PollInterval, FillTimeout: DefaultFillTimeout}
}

func (d *Device) Configure(ctx context.Context, p acq.Params) error {
	if err := send(d.client,
		"GEN:RST",
		"ACQ:RST",
		"ACQ:DATA:FORMAT BIN",
		"ACQ:DATA:UNITS RAW",
		fmt.Sprintf("ACQ:DEC %d", p.Decimation),
		fmt.Sprintf("ACQ:TRIG:LEV %g", p.TriggerLevel),
		fmt.Sprintf("ACQ:TRIG:DLY %d", p.TriggerDelay),
	); err != nil {
		return err
	}
	if err := d.client.CheckError(); err != nil {
		return wrap("configure acquisition", err)
	}
	return nil
}

// EnableOutput sets output 1 to a DC level of baseline volts and enables it.
func (d *Device) EnableOutput(ctx context.Context, baseline float64) error {
	return send(d.client,
		"SOUR1:FUNC DC",
		fmt.Sprintf("SOUR1:VOLT %g", baseline),
		"OUTPUT1:STATE ON",
		"SOUR1:TRig:INT",
	)
}

// WaitTrigger starts the acquisition with an immediate trigger and returns
// the write pointer at the trigger once the buffer is full.
func (d *Device) WaitTrigger(ctx context.Context) (int, error) {
	tp, err := d.arm(ctx)
	if err != nil {
		return 0, err
	}
	d.fresh = true
	return tp, nil
}

// ReadWindow reads n samples. The first call after WaitTrigger reads the
// armed acquisition at offset; later calls re-arm and read at the new
// trigger pointer, ignoring offset.
func (d *Device) ReadWindow(ctx context.Context, offset, n int) ([]acq.Sample, error) {
	if !d.fresh {
		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if d.FillTimeout > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, d.FillTimeout)
		}
		tp, err := d.arm(waitCtx)
		cancel()
		if err != nil {
			return nil, err
		}
		offset = tp
	}
	d.fresh = false

	raw, err := d.client.QueryBlock(fmt.Sprintf("ACQ:SOUR1:DATA:STA:N? %d,%d", offset, n))
	if err != nil {
		return nil, wrap("read window", err)
	}
	samples := acq.DecodeBigEndian(raw)
	if len(samples) < n {
		return samples, fmt.Errorf("%w: got %d of %d samples", acq.ErrShortWindow, len(samples), n)
	}
	return samples, nil
}

func (d *Device) arm(ctx context.Context) (int, error) {
	if err := send(d.client, "ACQ:START", "ACQ:TRIG NOW"); err != nil {
		return 0, err
	}
	if err := d.client.WaitFor(ctx, "ACQ:TRIG:STAT?", "TD", d.PollInterval); err != nil {
		return 0, wrap("wait for trigger", err)
	}
	if err := d.client.WaitFor(ctx, "ACQ:TRIG:FILL?", "1", d.PollInterval); err != nil {
		return 0, wrap("wait for fill", err)
	}
	tp, err := d.client.QueryInt("ACQ:TPOS?")
	if err != nil {
		return 0, wrap("query trigger position", err)
	}
	return tp, nil
}

func (d *Device) WriteOutput(ctx context.Context, volts float64) error {
	return send(d.client, fmt.Sprintf("SOUR1:VOLT %g", volts))
}

// Release resets generator and acquisition and closes the connection.
func (d *Device) Release(ctx context.Context) error {
	err := send(d.client, "GEN:RST", "ACQ:RST")
	if cerr := d.client.Close(); cerr != nil && err == nil {
		err = wrap("close", cerr)
	}
	if err == nil {
		log.Printf("redpitaya: released %s", d.client)
	}
	return err
}
