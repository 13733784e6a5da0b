// Package asm provides the executable code buffer shared by the SH-4
// recompiler backends.
package asm

import (
	"fmt"
	"unsafe"

	"github.com/dreamcast-go/sh4jit/internal/platform"
)

// CodeBuffer represents a memory mapped region where native CPU instructions
// are written.
//
// The region is created read-write and flipped to read-execute once the
// recompiler is done mutating it; every mutation must be bracketed with
// WithWritable so the writable window is released on all exit paths.
//
// Instances hold references to memory which is NOT managed by the garbage
// collector and therefore must be released manually by calling Unmap.
type CodeBuffer struct {
	mem    []byte
	cursor int
	exec   bool
}

// NewCodeBuffer maps an anonymous region of the given size.
func NewCodeBuffer(size int) (*CodeBuffer, error) {
	mem, err := platform.MmapCodeSegment(size)
	if err != nil {
		return nil, fmt.Errorf("failed to map code buffer: %w", err)
	}
	return &CodeBuffer{mem: mem}, nil
}

// Base returns the address of the first byte of the region.
func (b *CodeBuffer) Base() uintptr {
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// Get returns the address of the current cursor, where the next block of
// generated code will start.
func (b *CodeBuffer) Get() uintptr {
	return b.Base() + uintptr(b.cursor)
}

// Cursor returns the current cursor offset from the region base.
func (b *CodeBuffer) Cursor() int {
	return b.cursor
}

// Size returns the total size of the region.
func (b *CodeBuffer) Size() int {
	return len(b.mem)
}

// FreeSpace returns the number of bytes left past the cursor.
func (b *CodeBuffer) FreeSpace() int {
	return len(b.mem) - b.cursor
}

// Advance moves the cursor past n bytes of freshly generated code.
func (b *CodeBuffer) Advance(n int) {
	if n < 0 || n > b.FreeSpace() {
		panic(fmt.Errorf("BUG: advancing code buffer by %d with %d free", n, b.FreeSpace()))
	}
	b.cursor += n
}

// Reset rewinds the cursor to the region base, discarding all generated code.
func (b *CodeBuffer) Reset() {
	b.cursor = 0
}

// Contains reports whether addr points inside the mapped region.
func (b *CodeBuffer) Contains(addr uintptr) bool {
	return addr >= b.Base() && addr < b.Base()+uintptr(len(b.mem))
}

// Slice aliases n bytes of the region starting at addr. The address must lie
// inside the region.
func (b *CodeBuffer) Slice(addr uintptr, n int) []byte {
	if !b.Contains(addr) || !b.Contains(addr+uintptr(n)-1) {
		panic(fmt.Errorf("BUG: slice [%#x,+%d) outside code buffer", addr, n))
	}
	off := int(addr - b.Base())
	return b.mem[off : off+n]
}

// WithWritable runs fn with the region writable, restoring the read-execute
// protection before returning even if fn fails.
func (b *CodeBuffer) WithWritable(fn func() error) (err error) {
	if err = platform.MprotectRW(b.mem); err != nil {
		return fmt.Errorf("failed to make code buffer writable: %w", err)
	}
	b.exec = false
	defer func() {
		if protErr := platform.MprotectRX(b.mem); protErr != nil {
			if err == nil {
				err = fmt.Errorf("failed to make code buffer executable: %w", protErr)
			}
		} else {
			b.exec = true
		}
	}()
	return fn()
}

// Executable reports whether the region is currently mapped read-execute.
func (b *CodeBuffer) Executable() bool {
	return b.exec
}

// Unmap releases the mapped region.
func (b *CodeBuffer) Unmap() error {
	if b.mem == nil {
		return nil
	}
	err := platform.MunmapCodeSegment(b.mem)
	b.mem = nil
	return err
}
