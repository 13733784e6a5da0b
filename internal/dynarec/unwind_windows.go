//go:build windows

package dynarec

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procRtlAddFunctionTable    = modkernel32.NewProc("RtlAddFunctionTable")
	procRtlDeleteFunctionTable = modkernel32.NewProc("RtlDeleteFunctionTable")
)

// registerTable publishes a function table entry covering [begin, end) so
// SEH can unwind through the generated range.
// https://learn.microsoft.com/en-us/windows/win32/api/winnt/nf-winnt-rtladdfunctiontable
func (u *unwindInfo) registerTable(begin, end, info uintptr) {
	rf := &runtimeFunction{
		endAddress: uint32(end - begin),
		unwindData: uint32(info - begin),
	}
	u.regs = append(u.regs, rf)
	procRtlAddFunctionTable.Call(uintptr(unsafe.Pointer(rf)), 1, begin)
}

func (u *unwindInfo) unregisterTables() {
	for _, rf := range u.regs {
		procRtlDeleteFunctionTable.Call(uintptr(unsafe.Pointer(rf)))
	}
	u.regs = nil
}
