package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/config"
	"github.com/freqmon/pkg/estimator"
	"github.com/freqmon/pkg/monitor"
	"github.com/freqmon/pkg/redpitaya"
	"github.com/freqmon/pkg/scpi"
	"github.com/freqmon/pkg/simulator"
)

// runMonitor drives the output voltage from the live input frequency until
// ctx is cancelled.
func runMonitor(ctx context.Context, cfg *config.Config, opts options) error {
	mcfg, err := cfg.MonitorConfig()
	if err != nil {
		return err
	}
	mcfg.Verbose = opts.verbose

	dev, source, err := openMonitorDevice(ctx, cfg, opts)
	if err != nil {
		return err
	}
	loop, err := monitor.New(dev, mcfg)
	if err != nil {
		dev.Release(context.WithoutCancel(ctx))
		return err
	}

	serverState.attach(loop, source, Envelope{
		FreqMinMHz:    mcfg.Map.FMin,
		FreqMaxMHz:    mcfg.Map.FMax,
		VoltMin:       mcfg.Map.VMin,
		VoltMax:       mcfg.Map.VMax,
		ResolutionMHz: estimator.Resolution(mcfg.ResolutionDigits),
		RangePolicy:   mcfg.Policy.String(),
	})
	loop.OnUpdate = func(u monitor.Update) {
		serverState.record(u)
		broadcastJSON(map[string]interface{}{
			"type":   "cycle",
			"update": u,
		})
	}

	if cfg.Server.Listen != "" {
		go func() {
			if err := runServer(ctx, cfg.Server.Listen); err != nil {
				log.Printf("Monitor server: %v", err)
			}
		}()
	}

	fmt.Println("Start Monitoring...")
	fmt.Printf("Source:                  %s\n", source)
	fmt.Printf("Input frequency range:   [%g, %g] MHz\n", mcfg.Map.FMin, mcfg.Map.FMax)
	fmt.Printf("Resolution:              %g MHz\n", estimator.Resolution(mcfg.ResolutionDigits))
	fmt.Printf("Output voltage range:    [%g, %g] V (%s out of range)\n", mcfg.Map.VMin, mcfg.Map.VMax, mcfg.Policy)
	fmt.Printf("Sampling rate:           %g MS/s\n", acq.SampleRate(mcfg.Acquisition.Decimation)/1e6)
	fmt.Printf("Samples per point:       %d\n", mcfg.WindowSize)
	fmt.Println("Interrupt (Ctrl+C) to stop.")

	err = loop.Run(ctx)
	st := loop.Stats()
	fmt.Printf("Stop Monitoring: %d cycles, %d output updates, last %g MHz\n", st.Cycles, st.Updates, st.Reference)
	return err
}

func openMonitorDevice(ctx context.Context, cfg *config.Config, opts options) (monitor.Device, string, error) {
	if opts.sim {
		dev := simulator.NewDevice(simProfile(cfg.Simulator), cfg.Simulator.Seed)
		dev.ReadDelay = cfg.Simulator.ReadDelayDuration()
		return dev, "simulator", nil
	}
	client, name, err := dialInstrument(ctx, cfg.Instrument)
	if err != nil {
		return nil, "", err
	}
	dev := redpitaya.NewDevice(client)
	dev.PollInterval = cfg.Instrument.PollDuration()
	dev.FillTimeout = cfg.Instrument.TimeoutDuration()
	return dev, name, nil
}

// dialInstrument connects over serial when configured, TCP otherwise.
func dialInstrument(ctx context.Context, ic config.InstrumentConfig) (*scpi.Client, string, error) {
	var (
		client *scpi.Client
		err    error
	)
	if ic.Serial != "" {
		client, err = scpi.DialSerial(ic.Serial, ic.Baud, ic.TimeoutDuration())
	} else {
		client, err = scpi.Dial(ctx, ic.Address, ic.TimeoutDuration())
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", acq.ErrAcquisition, err)
	}
	id, err := client.Identify()
	if err != nil {
		client.Close()
		return nil, "", fmt.Errorf("%w: identify: %w", acq.ErrAcquisition, err)
	}
	log.Printf("Instrument connected: %s (%s)", id, client)
	return client, client.String(), nil
}

// simProfile sweeps when a sweep range is configured and holds a constant
// tone otherwise.
func simProfile(sc config.SimulatorConfig) simulator.Profile {
	if sc.SweepToMHz > sc.SweepFromMHz {
		period := sc.SweepDuration()
		if period <= 0 {
			period = 10 * time.Second
		}
		return simulator.Sweep(sc.SweepFromMHz*1e6, sc.SweepToMHz*1e6, period.Seconds())
	}
	return simulator.Constant(sc.FreqMHz * 1e6)
}
