//go:build unix

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// osMap maps f read-only and shared; pages come straight from the page cache.
func osMap(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}
