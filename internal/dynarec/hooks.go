package dynarec

import (
	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// abiConf is the compile-time host ABI description. The compiler body is
// ABI-agnostic; everything convention-specific funnels through this value.
type abiConf struct {
	callRegs    [4]amd64.Register // integer argument registers, 32/64-bit views
	callRegsXmm [4]amd64.Register // float argument registers
	stackAlign  uint32            // per-frame stack adjustment
	windows     bool
}

// Config selects the recompiler variant generated at reset time.
type Config struct {
	// MMUEnabled compiles address translation and exception-aware fallbacks
	// into every block.
	MMUEnabled bool
	// FastMMU additionally inlines the page-LUT lookup ahead of the slow
	// translation call.
	FastMMU bool
	// Rollback disables fused multiply-add so replayed inputs produce
	// bit-identical results on hosts with and without FMA.
	Rollback bool
}

// Memory handler grid coordinates.
const (
	memSizeS8 = iota
	memSizeS16
	memSizeS32
	memSizeS64
	memSizeCount
)

const (
	memOpR = iota
	memOpW
	memOpCount
)

const (
	memTypeFast = iota
	memTypeStoreQueue
	memTypeSlow
	memTypeCount
)

// Hooks are the narrow contracts to the surrounding emulator.
//
// The uintptr fields are native entry points following the host C calling
// convention; generated code calls them directly. The function fields are Go
// oracles consulted at compile time only and never referenced from generated
// code.
type Hooks struct {
	// GetCodeByVAddr: func(pc uint32) uintptr — block lookup for the
	// dispatch loop. Never returns 0; unknown pcs resolve to a compile stub.
	GetCodeByVAddr uintptr
	// UpdateSystemINTC: func() — end-of-timeslice system update.
	UpdateSystemINTC uintptr
	// UpdateINTC: func() — interrupt check after *Intr block ends.
	UpdateINTC uintptr
	// Read and Write are the generic memory handlers, indexed by size
	// (1/2/4/8 bytes): func(addr uint32) value / func(addr uint32, value).
	Read  [memSizeCount]uintptr
	Write [memSizeCount]uintptr
	// UpdateSR: func() — resync after a store to SR.
	UpdateSR uintptr
	// UpdateFPSCR: func(ctx *sh4.Context) — resync after a store to FPSCR.
	UpdateFPSCR uintptr
	// DoException: func(pc, event, inDelaySlot uint32) — raise an SH-4
	// exception; adjusts the event for delay slots and redirects ctx.PC.
	DoException uintptr
	// MMUDynarecLookup: func(addr, isWrite, pc uint32) uint32 — translate a
	// virtual address; may raise a guest exception and never return.
	MMUDynarecLookup uintptr
	// BlockCheckFail: func(pc uint32) — discard and recompile the current
	// block. Jumped to, not called.
	BlockCheckFail uintptr

	// OpcodeHandler returns the native interpreter entry for a raw SH-4
	// opcode: func(ctx *sh4.Context, op uint16) (exception event or 0).
	OpcodeHandler func(rawOp uint16) uintptr
	// ReadMemImmediate and WriteMemImmediate resolve a constant guest
	// address to either a direct RAM pointer (isRAM) or an MMIO handler
	// entry with the resolved physical address.
	ReadMemImmediate  func(addr uint32, size uint8) (ptr uintptr, isRAM bool, phys uint32, ok bool)
	WriteMemImmediate func(addr uint32, size uint8) (ptr uintptr, isRAM bool, phys uint32, ok bool)
	// GetMemPtr returns the host view of guest code for the SMC guard, or 0
	// when the region is not plain memory.
	GetMemPtr func(addr, size uint32) uintptr
	// CanonicalLower drives the canonical parameter protocol for opcode
	// kinds the compiler has no inline lowering for.
	CanonicalLower func(op *sh4.Op)

	// RAMBase is the host base of the guest RAM mirror used by fast
	// handlers; VirtmemEnabled gates their generation.
	RAMBase        uintptr
	VirtmemEnabled bool
	// MMUAddressLUT is the page-indexed translation cache used by the
	// inline FastMMU path.
	MMUAddressLUT uintptr
}

// HostContext is the machine state extracted from a host signal frame, the
// only view of the fault the rewriter needs.
type HostContext struct {
	PC  uintptr
	RSP uintptr
	RDI uintptr
	RCX uintptr
	R9  uintptr
}
