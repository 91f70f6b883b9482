// Package ring reads fixed-size blocks out of a circular sample store and
// provides an in-memory circular buffer that acts as one.
package ring

import (
	"context"
	"fmt"
	"io"

	"github.com/freqmon/pkg/acq"
)

// Cursor is an offset into a circular store of fixed length.
// 0 <= Pos() < Len() holds for every Cursor returned by this package.
type Cursor struct {
	pos    int
	length int
}

// NewCursor validates pos against a store of the given length.
func NewCursor(pos, length int) (Cursor, error) {
	if length <= 0 {
		return Cursor{}, fmt.Errorf("%w: store length %d", acq.ErrConfiguration, length)
	}
	if pos < 0 || pos >= length {
		return Cursor{}, fmt.Errorf("%w: cursor %d outside [0, %d)", acq.ErrConfiguration, pos, length)
	}
	return Cursor{pos: pos, length: length}, nil
}

// Pos returns the offset of the next sample to read.
func (c Cursor) Pos() int { return c.pos }

// Len returns the length of the store the cursor addresses.
func (c Cursor) Len() int { return c.length }

// Advance returns the cursor moved n samples forward, modulo the store length.
func (c Cursor) Advance(n int) Cursor {
	c.pos = (c.pos + n%c.length) % c.length
	return c
}

// ReadBlock reads n samples starting at c, continuing from the head of the
// store when the tail is reached. The result equals
// [store[(c.Pos()+i) mod L] for i in 0..n).
func ReadBlock(ctx context.Context, store acq.SampleStore, c Cursor, n int) ([]acq.Sample, Cursor, error) {
	if n < 0 {
		return nil, c, fmt.Errorf("%w: negative block size %d", acq.ErrConfiguration, n)
	}
	if store.Len() != c.length {
		return nil, c, fmt.Errorf("%w: cursor built for length %d, store has %d", acq.ErrConfiguration, c.length, store.Len())
	}

	out := make([]acq.Sample, 0, n)
	pos := c.pos
	for remaining := n; remaining > 0; {
		chunk := min(remaining, c.length-pos)
		samples, err := store.ReadAt(ctx, pos, chunk)
		if err != nil {
			return nil, c, fmt.Errorf("%w: read %d samples at %d: %w", acq.ErrAcquisition, chunk, pos, err)
		}
		if len(samples) != chunk {
			return nil, c, fmt.Errorf("%w: requested %d samples at %d, got %d", acq.ErrShortWindow, chunk, pos, len(samples))
		}
		out = append(out, samples...)
		pos = (pos + chunk) % c.length
		remaining -= chunk
	}
	return out, c.Advance(n), nil
}

// Reader walks a bounded acquisition of total samples held in a circular
// store, starting at a fixed offset such as the trigger position.
type Reader struct {
	store    acq.SampleStore
	cursor   Cursor
	total    int
	consumed int
}

// NewReader returns a Reader over total samples starting at start.
func NewReader(store acq.SampleStore, start, total int) (*Reader, error) {
	c, err := NewCursor(start, store.Len())
	if err != nil {
		return nil, err
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", acq.ErrConfiguration, total)
	}
	return &Reader{store: store, cursor: c, total: total}, nil
}

// Next returns the next block of at most blockSize samples. The final block
// is shrunk to the remaining count. io.EOF is returned once total samples
// have been consumed.
func (r *Reader) Next(ctx context.Context, blockSize int) ([]acq.Sample, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", acq.ErrConfiguration, blockSize)
	}
	remaining := r.total - r.consumed
	if remaining <= 0 {
		return nil, io.EOF
	}
	n := min(blockSize, remaining)

	block, next, err := ReadBlock(ctx, r.store, r.cursor, n)
	if err != nil {
		return nil, err
	}
	r.cursor = next
	r.consumed += n
	return block, nil
}

// Cursor returns the position of the next block.
func (r *Reader) Cursor() Cursor { return r.cursor }

// Remaining returns how many samples are still to be read.
func (r *Reader) Remaining() int { return r.total - r.consumed }
