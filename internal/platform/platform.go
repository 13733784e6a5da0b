// Package platform includes runtime-specific code needed for the recompiler or otherwise.
//
// Note: The memory management here is a dependency-free alternative to depending on
// parts of Go's x/sys. CPU feature probing does use x/sys/cpu.
package platform

import (
	"errors"
)

// MmapCodeSegment allocates a read-write anonymous memory region of the given
// size, suitable for flipping to executable with MprotectRX later.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func MmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		panic(errors.New("BUG: MmapCodeSegment with zero length"))
	}
	return mmapCodeSegment(size)
}

// MunmapCodeSegment unmaps the given memory region.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic(errors.New("BUG: MunmapCodeSegment with zero length"))
	}
	return munmapCodeSegment(code)
}

// MprotectRX removes the write protection on the given memory region and
// makes it executable.
func MprotectRX(b []byte) error {
	return mprotect(b, false)
}

// MprotectRW makes the given memory region writable and non-executable.
// Code buffers are never writable and executable at the same time.
func MprotectRW(b []byte) error {
	return mprotect(b, true)
}
