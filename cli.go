package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/batch"
	"github.com/freqmon/pkg/capture"
	"github.com/freqmon/pkg/config"
	"github.com/freqmon/pkg/estimator"
	"github.com/freqmon/pkg/redpitaya"
	"github.com/freqmon/pkg/series"
	"github.com/freqmon/pkg/simulator"
)

// deepMemory is a one-shot capture into a circular memory.
type deepMemory interface {
	acq.SampleStore
	Capacity() (int, error)
	Arm(ctx context.Context, decimation, samples int) error
	Trigger() int
	Close() error
}

// runBatch acquires (or opens) one long capture, estimates the frequency
// series and writes it to cfg.Batch.Output.
func runBatch(ctx context.Context, cfg *config.Config, opts options) error {
	fmt.Println("--- Frequency Batch Session Start ---")

	var (
		store  acq.SampleStore
		start  int
		total  int
		source string
	)
	params := cfg.BatchParams(0)

	if opts.capture != "" {
		f, err := capture.Open(opts.capture)
		if err != nil {
			return err
		}
		defer f.Close()
		if f.Meta.Decimation > 0 {
			params.Decimation = f.Meta.Decimation
		}
		store, total, source = f, f.Len(), f.Path()
		if cfg.Batch.Samples > 0 && cfg.Batch.Samples < total {
			total = cfg.Batch.Samples
		}
	} else {
		mem, name, err := openDeepMemory(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer mem.Close()

		capacity, err := mem.Capacity()
		if err != nil {
			return err
		}
		total = cfg.Batch.Samples
		if total == 0 {
			total = int(float64(capacity) * cfg.Batch.MemoryFraction)
		}
		fmt.Printf("Source: %s | Memory: %.2f MB | Capture: %d samples (%.2f MB)\n",
			name, float64(2*capacity)/(1<<20), total, float64(2*total)/(1<<20))
		fmt.Printf("Sampling rate: %g MS/s | Capture length: %.3f ms\n",
			acq.SampleRate(params.Decimation)/1e6, 1e3*float64(total)*acq.SamplePeriod(params.Decimation))
		fmt.Println(">>> CAPTURING...")

		if err := mem.Arm(ctx, params.Decimation, total); err != nil {
			return err
		}
		store, start, source = mem, mem.Trigger(), name

		if opts.raw != "" {
			fmt.Printf(">>> SAVING RAW CAPTURE: %s ... ", opts.raw)
			res, err := capture.Save(ctx, opts.raw, store, start, total, capture.Metadata{
				Decimation: params.Decimation,
				Source:     name,
			})
			if err != nil {
				fmt.Println()
				return fmt.Errorf("save raw capture: %w", err)
			}
			fmt.Printf("DONE (%d bytes, %.2f MB/s)\n", res.Bytes, res.Throughput)
		}
	}

	params.TotalSamples = total
	params.StartOffset = start
	params.Progress = progressPrinter(opts.verbose)

	fmt.Printf("Window: %g us (%d samples) | Resolution: %g MHz\n",
		1e6*float64(params.SubWindowSize)*acq.SamplePeriod(params.Decimation), params.SubWindowSize,
		estimator.Resolution(params.ResolutionDigits))
	fmt.Println(">>> ESTIMATING...")

	began := time.Now()
	res, runErr := batch.Run(ctx, store, params)
	elapsed := time.Since(began)

	fmt.Println("--- Results ---")
	fmt.Printf("Blocks:          %d\n", res.Blocks)
	fmt.Printf("Samples read:    %d\n", res.SamplesRead)
	fmt.Printf("Estimates:       %d\n", res.Series.Len())
	fmt.Printf("Discarded:       %d samples\n", res.DiscardedSamples)
	if params.CrossCheckMHz > 0 {
		fmt.Printf("Cross-check:     %d windows off by more than %g MHz\n", res.CrossCheckMisses, params.CrossCheckMHz)
	}
	fmt.Printf("Duration:        %v\n", elapsed)

	if runErr != nil {
		if res.Series.Len() == 0 {
			return runErr
		}
		log.Printf("Warning: series truncated after %d of %d samples: %v", res.SamplesRead, total, runErr)
	}

	meta := series.Metadata{
		"source":            source,
		"decimation":        strconv.Itoa(params.Decimation),
		"total_samples":     strconv.Itoa(total),
		"samples_read":      strconv.Itoa(res.SamplesRead),
		"sub_window":        strconv.Itoa(params.SubWindowSize),
		"block_size":        strconv.Itoa(params.BlockSize),
		"resolution_digits": strconv.Itoa(params.ResolutionDigits),
		"discarded_samples": strconv.Itoa(res.DiscardedSamples),
		"truncated":         strconv.FormatBool(runErr != nil),
	}
	out := cfg.Batch.Output
	fmt.Printf(">>> SAVING SERIES: %s (%s) ... ", out, filepath.Ext(out))
	if err := series.Write(out, res.Series, meta); err != nil {
		fmt.Println()
		return errors.Join(runErr, fmt.Errorf("write series: %w", err))
	}
	fmt.Println("DONE")
	return runErr
}

func openDeepMemory(ctx context.Context, cfg *config.Config, opts options) (deepMemory, string, error) {
	if opts.sim {
		mem, err := simulator.NewDeepMemory(simProfile(cfg.Simulator), cfg.Simulator.MemorySamples, cfg.Simulator.Seed)
		if err != nil {
			return nil, "", err
		}
		return mem, "simulator", nil
	}
	client, name, err := dialInstrument(ctx, cfg.Instrument)
	if err != nil {
		return nil, "", err
	}
	mem := redpitaya.NewDeepMemory(client)
	mem.PollInterval = cfg.Instrument.PollDuration()
	return &closingMemory{DeepMemory: mem, close: client.Close}, name, nil
}

// closingMemory closes the connection along with the memory.
type closingMemory struct {
	*redpitaya.DeepMemory
	close func() error
}

func (m *closingMemory) Close() error {
	return errors.Join(m.DeepMemory.Close(), m.close())
}

func progressPrinter(verbose bool) func(consumed, total int) {
	next := 0.1
	return func(consumed, total int) {
		if total == 0 {
			return
		}
		frac := float64(consumed) / float64(total)
		if verbose || frac >= next || consumed == total {
			log.Printf("batch: %d/%d samples (%.0f%%)", consumed, total, 100*frac)
			for next <= frac {
				next += 0.1
			}
		}
	}
}
