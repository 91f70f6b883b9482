package ring

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/freqmon/pkg/acq"
)

// Buffer is a fixed-capacity circular sample memory. Writes advance the head
// (the write pointer) and wrap at the end, like the acquisition memory of a
// digitizer. Buffer implements acq.SampleStore.
type Buffer struct {
	data []acq.Sample
	head atomic.Uint64
}

// NewBuffer allocates a Buffer holding size samples.
func NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: buffer size %d", acq.ErrConfiguration, size)
	}
	return &Buffer{data: make([]acq.Sample, size)}, nil
}

// Write copies p into the buffer at the head and advances it.
func (b *Buffer) Write(p []acq.Sample) (int, error) {
	n := len(p)
	total := uint64(len(b.data))
	if uint64(n) > total {
		return 0, fmt.Errorf("write of %d samples larger than ring size %d", n, total)
	}

	head := b.head.Load()
	firstPart := total - head
	if uint64(n) <= firstPart {
		copy(b.data[head:], p)
	} else {
		copy(b.data[head:], p[:firstPart])
		copy(b.data[0:], p[firstPart:])
	}

	b.head.Store((head + uint64(n)) % total)
	return n, nil
}

// Head returns the current write pointer.
func (b *Buffer) Head() int {
	return int(b.head.Load())
}

// Len returns the capacity in samples.
func (b *Buffer) Len() int {
	return len(b.data)
}

// ReadAt returns a copy of n samples starting at offset.
func (b *Buffer) ReadAt(_ context.Context, offset, n int) ([]acq.Sample, error) {
	if offset < 0 || n < 0 || offset+n > len(b.data) {
		return nil, fmt.Errorf("read [%d, %d) outside ring of %d samples", offset, offset+n, len(b.data))
	}
	out := make([]acq.Sample, n)
	copy(out, b.data[offset:offset+n])
	return out, nil
}
