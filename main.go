package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/config"
)

// sizeFlag custom type to handle sample counts like 500K, 2M, 1G
type sizeFlag int

func (s *sizeFlag) String() string {
	return fmt.Sprintf("%d", *s)
}

func (s *sizeFlag) Set(value string) error {
	value = strings.TrimSpace(strings.ToUpper(value))
	multiplier := 1

	if strings.HasSuffix(value, "G") {
		multiplier = 1024 * 1024 * 1024
		value = strings.TrimSuffix(value, "G")
	} else if strings.HasSuffix(value, "M") {
		multiplier = 1024 * 1024
		value = strings.TrimSuffix(value, "M")
	} else if strings.HasSuffix(value, "K") {
		multiplier = 1024
		value = strings.TrimSuffix(value, "K")
	}

	val, err := strconv.Atoi(value)
	if err != nil || val < 0 {
		return fmt.Errorf("invalid size format: %s", value)
	}

	*s = sizeFlag(val * multiplier)
	return nil
}

// options are the command-line switches that are not config overrides.
type options struct {
	sim     bool
	capture string
	raw     string
	verbose bool
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	mode := flag.String("mode", "batch", "batch | monitor")

	// Instrument flags
	addr := flag.String("addr", "", "Instrument SCPI address host[:port]")
	serialDev := flag.String("serial", "", "Instrument serial device (overrides -addr)")

	// Batch flags
	var samples sizeFlag
	flag.Var(&samples, "n", "Samples to capture (e.g. 500K, 2M); 0 uses batch.memory_fraction")
	outputFile := flag.String("o", "", "Series output (.csv, .parquet, .xlsx)")
	capturePath := flag.String("capture", "", "Analyse a saved raw capture instead of acquiring")
	rawPath := flag.String("raw", "", "Also save the raw capture to this file")
	digits := flag.Int("digits", -1, "Resolution in decimal digits of MHz")
	dec := flag.Int("dec", 0, "Decimation")
	workers := flag.Int("workers", 0, "Parallel sub-window estimation workers")

	// Monitor flags
	port := flag.Int("p", 0, "Serve monitor state and websocket feed on this port")
	policy := flag.String("policy", "", "Out-of-range frequencies: pass | clamp | hold")

	// Simulation flags
	isSim := flag.Bool("sim", false, "Use the built-in signal simulator instead of a board")
	verbose := flag.Bool("v", false, "Log every block and every output update")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  Batch Mode:   go run . -mode batch -n 2M -o freq.parquet [options]")
		fmt.Fprintln(os.Stderr, "  Monitor Mode: go run . -mode monitor [-p 8080] [options]")
		fmt.Fprintln(os.Stderr, "  Sim Mode:     go run . -sim [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Printf("Config: %v", err)
			os.Exit(exitCode(err))
		}
		cfg = loaded
	}

	// Flags override the file.
	if *addr != "" {
		cfg.Instrument.Address = *addr
	}
	if *serialDev != "" {
		cfg.Instrument.Serial = *serialDev
	}
	if samples > 0 {
		cfg.Batch.Samples = int(samples)
	}
	if *outputFile != "" {
		cfg.Batch.Output = *outputFile
	}
	if *rawPath != "" {
		cfg.Batch.Raw = *rawPath
	}
	if *digits >= 0 {
		cfg.Batch.ResolutionDigits = *digits
		cfg.Monitor.ResolutionDigits = *digits
	}
	if *dec > 0 {
		cfg.Batch.Decimation = *dec
		cfg.Monitor.Decimation = *dec
	}
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *port > 0 {
		cfg.Server.Listen = fmt.Sprintf(":%d", *port)
	}
	if *policy != "" {
		cfg.Monitor.RangePolicy = *policy
	}

	opts := options{
		sim:     *isSim,
		capture: *capturePath,
		raw:     cfg.Batch.Raw,
		verbose: *verbose,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *mode, cfg, opts)
	if err != nil {
		log.Printf("Error: %v", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func run(ctx context.Context, mode string, cfg *config.Config, opts options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch mode {
	case "batch":
		return runBatch(ctx, cfg, opts)
	case "monitor":
		return runMonitor(ctx, cfg, opts)
	}
	return fmt.Errorf("%w: unknown mode %q", acq.ErrConfiguration, mode)
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, acq.ErrConfiguration):
		return 2
	case errors.Is(err, acq.ErrAcquisition), errors.Is(err, acq.ErrShortWindow):
		return 3
	}
	return 1
}
