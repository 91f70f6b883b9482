package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/capture"
	"github.com/freqmon/pkg/estimator"
)

func main() {
	window := flag.Int("window", 1000, "Samples per estimate")
	count := flag.Int("windows", 10, "Number of leading windows to estimate")
	digits := flag.Int("digits", 1, "Resolution in decimal digits of MHz")
	dec := flag.Int("dec", 0, "Decimation (overrides the capture metadata)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] capture.bin\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	f, err := capture.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer f.Close()

	decimation := f.Meta.Decimation
	if *dec > 0 {
		decimation = *dec
	}
	if decimation < 1 {
		decimation = 1
	}
	period := acq.SamplePeriod(decimation)

	samples, err := f.ReadAt(context.Background(), 0, f.Len())
	if err != nil {
		log.Fatalf("Failed to read capture: %v", err)
	}

	minV, maxV := math.MaxInt16, math.MinInt16
	var sum int64
	for _, s := range samples {
		minV = min(minV, int(s))
		maxV = max(maxV, int(s))
		sum += int64(s)
	}

	fmt.Printf("File:        %s\n", f.Path())
	fmt.Printf("Taken:       %s (%s)\n", orDash(f.Meta.Timestamp), orDash(f.Meta.Source))
	fmt.Printf("Samples:     %d (%.3f ms at %g MS/s)\n", len(samples), 1e3*float64(len(samples))*period, acq.SampleRate(decimation)/1e6)
	if len(samples) > 0 {
		fmt.Printf("Range:       [%d, %d], mean %.2f\n", minV, maxV, float64(sum)/float64(len(samples)))
	}

	fmt.Printf("\n%6s  %12s  %12s\n", "window", "zc (MHz)", "fft (MHz)")
	for k := 0; k < *count && (k+1)*(*window) <= len(samples); k++ {
		w := acq.NewWindow(samples[k*(*window):(k+1)*(*window)], period)
		fmt.Printf("%6d  %12g  %12.3f\n", k, estimator.Estimate(w, *digits), estimator.SpectralPeak(w))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
