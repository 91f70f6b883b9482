//go:build !windows

package capture

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/freqmon/pkg/acq"
)

// Open maps the capture at path read-only.
func Open(path string) (*File, error) {
	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open capture %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size < 2 {
		return nil, fmt.Errorf("%w: capture %s holds no samples", acq.ErrConfiguration, path)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	return &File{Meta: meta, path: path, data: data}, nil
}

// Close unmaps the file.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	return err
}
