package dynarec

import (
	"fmt"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// unwindInfo collects prologue notifications and lays a descriptor after the
// function body so host-level unwinders can walk through generated frames.
//
// The descriptor uses the Windows x64 UNWIND_INFO layout. On Windows, End
// also publishes a function table entry for the emitted range (SEH cannot
// see JIT code otherwise); on other hosts the descriptor is recorded but
// not registered.
type unwindInfo struct {
	start      uintptr
	prologSize int
	codes      []unwindCode

	// regs holds the OS-registered function table entries; they must stay
	// reachable until unregistered.
	regs []*runtimeFunction
}

// runtimeFunction mirrors the Windows RUNTIME_FUNCTION entry. The fields are
// offsets relative to the base address passed at registration.
type runtimeFunction struct {
	beginAddress uint32
	endAddress   uint32
	unwindData   uint32
}

type unwindCode struct {
	offset int
	op     byte
	info   byte
}

const (
	uwopPushNonvol = 0
	uwopAllocSmall = 2
)

// Clear unregisters published tables and drops all recorded state.
func (u *unwindInfo) Clear() {
	u.unregisterTables()
	u.start = 0
	u.prologSize = 0
	u.codes = u.codes[:0]
}

// Start opens a new prologue at the given address.
func (u *unwindInfo) Start(addr uintptr) {
	u.start = addr
	u.prologSize = 0
	u.codes = u.codes[:0]
}

// PushReg records a callee-saved register push at the given code offset.
func (u *unwindInfo) PushReg(offset int, reg amd64.Register) {
	u.codes = append(u.codes, unwindCode{offset: offset, op: uwopPushNonvol, info: byte(reg)})
}

// AllocStack records a stack allocation at the given code offset. Only the
// small form (8..128 bytes, 8-byte multiples) is needed here.
func (u *unwindInfo) AllocStack(offset int, size uint32) {
	u.codes = append(u.codes, unwindCode{offset: offset, op: uwopAllocSmall, info: byte(size/8 - 1)})
}

// EndProlog marks the end of the prologue.
func (u *unwindInfo) EndProlog(offset int) {
	u.prologSize = offset
}

// End writes the descriptor at the assembler's current position, publishes
// it to the OS, and returns the number of bytes emitted. Unwind codes are
// stored in reverse code order, as the format requires. The covered range
// runs from Start's address up to the descriptor itself.
func (u *unwindInfo) End(a *amd64.Assembler) int {
	begin := a.Offset()
	// 4-byte alignment mandated by the descriptor format.
	for a.Offset()%4 != 0 {
		a.Byte(0)
	}
	info := a.Addr()
	a.Byte(1) // version 1, no flags
	if u.prologSize > 0xff {
		panic(fmt.Errorf("BUG: prologue of %d bytes", u.prologSize))
	}
	a.Byte(byte(u.prologSize))
	a.Byte(byte(len(u.codes)))
	a.Byte(0) // no frame register
	for i := len(u.codes) - 1; i >= 0; i-- {
		c := u.codes[i]
		a.Byte(byte(c.offset))
		a.Byte(c.op | c.info<<4)
	}
	if len(u.codes)%2 != 0 {
		a.Byte(0) // slot array padded to an even count
		a.Byte(0)
	}
	u.registerTable(u.start, info, info)
	return a.Offset() - begin
}
