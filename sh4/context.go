// Package sh4 holds the SH-4 architectural state container and the decoded
// intermediate representation consumed by the recompiler backends.
package sh4

import "unsafe"

// SH4Timeslice is the cycle budget of one dispatch slice.
const SH4Timeslice = 448

// SH-4 exception events.
const (
	ExFpuDisabled     = 0x800
	ExSlotFpuDisabled = 0x820
)

// SR is the status register, split the way generated code accesses it: the T
// bit on its own and the remaining bits (including FD, bit 15) together.
type SR struct {
	T      uint32
	Status uint32
}

// Context is the SH-4 architectural state shared between generated code and
// the host. Generated code addresses fields directly, so the struct must not
// be copied while native code can observe it.
type Context struct {
	R  [16]uint32
	FR [16]float32
	XF [16]float32

	SR    SR
	PC    uint32
	Jdyn  uint32 // dynamic branch target staging slot
	PR    uint32
	GBR   uint32
	VBR   uint32
	SSR   uint32
	SPC   uint32
	SGR   uint32
	DBR   uint32
	MACL  uint32
	MACH  uint32
	FPUL  uint32
	FPSCR uint32

	CycleCounter int32
	CpuRunning   uint32

	// DoSqWrite is a native entry point invoked on pref to a store-queue
	// address: func(addr uint32, ctx *Context) (exception event or 0).
	DoSqWrite uintptr

	SQBuffer [64]byte
}

// RegID names one guest register slot inside Context.
type RegID int16

const (
	RegR0 RegID = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15

	RegFR0  // FR0..FR15 occupy 16..31
	RegXF0  = RegFR0 + 16
	regXF15 = RegXF0 + 15
)

const (
	RegSRT RegID = iota + 64
	RegSRStatus
	RegPC
	RegJdyn
	RegPR
	RegGBR
	RegVBR
	RegSSR
	RegSPC
	RegSGR
	RegDBR
	RegMACL
	RegMACH
	RegFPUL
	RegFPSCR
)

// FR returns the id of single-precision register FR(n); XF likewise for the
// back bank.
func FR(n int) RegID { return RegFR0 + RegID(n) }

// XF returns the id of back-bank register XF(n).
func XF(n int) RegID { return RegXF0 + RegID(n) }

// IsFpuReg reports whether r names a floating register (either bank).
func (r RegID) IsFpuReg() bool { return r >= RegFR0 && r <= regXF15 }

// Ptr returns the host address of register r inside the context. Offsets are
// computed from the live struct, never hardcoded.
func (ctx *Context) Ptr(r RegID) uintptr {
	switch {
	case r >= RegR0 && r <= RegR15:
		return uintptr(unsafe.Pointer(&ctx.R[r]))
	case r >= RegFR0 && r < RegXF0:
		return uintptr(unsafe.Pointer(&ctx.FR[r-RegFR0]))
	case r >= RegXF0 && r <= regXF15:
		return uintptr(unsafe.Pointer(&ctx.XF[r-RegXF0]))
	}
	switch r {
	case RegSRT:
		return uintptr(unsafe.Pointer(&ctx.SR.T))
	case RegSRStatus:
		return uintptr(unsafe.Pointer(&ctx.SR.Status))
	case RegPC:
		return uintptr(unsafe.Pointer(&ctx.PC))
	case RegJdyn:
		return uintptr(unsafe.Pointer(&ctx.Jdyn))
	case RegPR:
		return uintptr(unsafe.Pointer(&ctx.PR))
	case RegGBR:
		return uintptr(unsafe.Pointer(&ctx.GBR))
	case RegVBR:
		return uintptr(unsafe.Pointer(&ctx.VBR))
	case RegSSR:
		return uintptr(unsafe.Pointer(&ctx.SSR))
	case RegSPC:
		return uintptr(unsafe.Pointer(&ctx.SPC))
	case RegSGR:
		return uintptr(unsafe.Pointer(&ctx.SGR))
	case RegDBR:
		return uintptr(unsafe.Pointer(&ctx.DBR))
	case RegMACL:
		return uintptr(unsafe.Pointer(&ctx.MACL))
	case RegMACH:
		return uintptr(unsafe.Pointer(&ctx.MACH))
	case RegFPUL:
		return uintptr(unsafe.Pointer(&ctx.FPUL))
	case RegFPSCR:
		return uintptr(unsafe.Pointer(&ctx.FPSCR))
	}
	panic("invalid register id")
}
