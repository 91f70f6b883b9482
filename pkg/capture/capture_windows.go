//go:build windows

package capture

import (
	"fmt"
)

// Open is not supported on Windows.
func Open(path string) (*File, error) {
	return nil, fmt.Errorf("memory-mapped captures not supported on Windows")
}

// Close is a no-op.
func (f *File) Close() error { return nil }
