//go:build !windows

package dynarec

// Only Windows consumes the unwind descriptors at runtime; elsewhere the
// table is recorded but never handed to the OS.

func (u *unwindInfo) registerTable(begin, end, info uintptr) {}

func (u *unwindInfo) unregisterTables() {}
