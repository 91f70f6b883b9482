// Package capture stores raw acquisitions on disk and maps them back as
// sample stores for offline analysis.
//
// A capture is a flat file of big-endian int16 samples in acquisition order
// with a JSON sidecar (<path>.json) describing how it was taken.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/ring"
)

// Metadata is saved alongside a capture.
type Metadata struct {
	Timestamp  string  `json:"timestamp"`
	SampleRate float64 `json:"sample_rate"`
	Decimation int     `json:"decimation"`
	Samples    int     `json:"samples"`
	Source     string  `json:"source,omitempty"`
}

// SaveResult holds stats from a Save.
type SaveResult struct {
	Bytes      int
	Duration   time.Duration
	Throughput float64 // MB/s
}

const chunkSamples = 1 << 16

// Save writes n samples of store, starting at start and wrapping at its end,
// to path, and the metadata to the sidecar.
func Save(ctx context.Context, path string, store acq.SampleStore, start, n int, meta Metadata) (*SaveResult, error) {
	r, err := ring.NewReader(store, start, n)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	defer f.Close()

	began := time.Now()
	w := bufio.NewWriterSize(f, 1<<20)
	written := 0
	for r.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := r.Next(ctx, chunkSamples)
		if err != nil {
			return nil, fmt.Errorf("read after %d samples: %w", written/2, err)
		}
		m, err := w.Write(acq.EncodeBigEndian(block))
		written += m
		if err != nil {
			return nil, fmt.Errorf("write capture: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("write capture: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close capture: %w", err)
	}
	elapsed := time.Since(began)

	meta.Samples = n
	if meta.Timestamp == "" {
		meta.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if meta.Decimation > 0 && meta.SampleRate == 0 {
		meta.SampleRate = acq.SampleRate(meta.Decimation)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path+".json", data, 0644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	mbps := 0.0
	if elapsed.Seconds() > 0 {
		mbps = float64(written) / (1024 * 1024) / elapsed.Seconds()
	}
	return &SaveResult{Bytes: written, Duration: elapsed, Throughput: mbps}, nil
}

// ReadMetadata loads the sidecar of the capture at path. A missing sidecar
// yields zero Metadata and no error.
func ReadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path + ".json")
	if errors.Is(err, fs.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse %s.json: %w", path, err)
	}
	return meta, nil
}

// File is a capture mapped into memory. It implements acq.SampleStore.
type File struct {
	Meta Metadata

	path string
	data []byte
}

// Len returns the number of whole samples in the file.
func (f *File) Len() int { return len(f.data) / 2 }

// Path returns the file the capture was opened from.
func (f *File) Path() string { return f.path }

// ReadAt decodes n samples starting at offset.
func (f *File) ReadAt(_ context.Context, offset, n int) ([]acq.Sample, error) {
	if offset < 0 || n < 0 || offset+n > f.Len() {
		return nil, fmt.Errorf("read [%d, %d) outside capture of %d samples", offset, offset+n, f.Len())
	}
	return acq.DecodeBigEndian(f.data[2*offset : 2*(offset+n)]), nil
}
