//go:build !windows

package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/ring"
)

func TestSaveAndOpen_AcquisitionOrder(t *testing.T) {
	buf, err := ring.NewBuffer(1000)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	samples := make([]acq.Sample, 1000)
	for i := range samples {
		samples[i] = acq.Sample(i - 500)
	}
	buf.Write(samples)

	path := filepath.Join(t.TempDir(), "capture.bin")
	res, err := Save(context.Background(), path, buf, 900, 300, Metadata{Decimation: 8, Source: "test"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Bytes != 600 {
		t.Errorf("Bytes: got %d, want 600", res.Bytes)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Len() != 300 {
		t.Fatalf("Len: got %d, want 300", f.Len())
	}
	got, err := f.ReadAt(context.Background(), 0, 300)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, s := range got {
		if want := samples[(900+i)%1000]; s != want {
			t.Fatalf("sample %d: got %d, want %d", i, s, want)
		}
	}

	if f.Meta.Samples != 300 || f.Meta.Decimation != 8 || f.Meta.SampleRate != 125e6/8 || f.Meta.Timestamp == "" {
		t.Errorf("unexpected metadata: %+v", f.Meta)
	}
}

func TestOpen_WithoutSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.bin")
	// Odd trailing byte is ignored.
	if err := os.WriteFile(path, []byte{0x00, 0x05, 0xff, 0xfb, 0x01}, 0644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	got, err := f.ReadAt(context.Background(), 0, f.Len())
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if len(got) != 2 || got[0] != 5 || got[1] != -5 {
		t.Errorf("got %v, want [5 -5]", got)
	}
	if _, err := f.ReadAt(context.Background(), 1, 2); err == nil {
		t.Errorf("Expected out-of-range error")
	}
	if f.Meta != (Metadata{}) {
		t.Errorf("Expected empty metadata, got %+v", f.Meta)
	}
}

func TestOpen_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Errorf("Expected error for empty capture")
	}
}
