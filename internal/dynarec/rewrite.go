package dynarec

import (
	"log"
	"unsafe"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// unsafePointerAt converts a raw stack or code address for dereferencing.
// The addresses handled here never point into Go-managed memory.
func unsafePointerAt(p uintptr) unsafe.Pointer {
	return unsafe.Pointer(p) //nolint:govet
}

// rewriteMemAccess patches the call site of a faulted fast-path access to
// target the correct slower handler and rewinds the host context so the
// patched call re-executes.
//
// The fast handlers stash the guest address in r9 before touching memory, so
// the original first argument can be rebuilt here, and every fast call site
// is a single 5-byte direct call, so the patch lands at retAddr-5.
func (d *Dynarec) rewriteMemAccess(hctx *HostContext) bool {
	if !d.hooks.VirtmemEnabled {
		return false
	}
	if hctx.PC < d.memHandlerStart || hctx.PC >= d.memHandlerEnd {
		return false
	}

	retAddr := *(*uintptr)(unsafe.Pointer(hctx.RSP))
	rel := *(*int32)(unsafe.Pointer(retAddr - 4))
	callee := uintptr(int64(retAddr) + int64(rel))
	for size := 0; size < memSizeCount; size++ {
		for op := 0; op < memOpCount; op++ {
			if d.memHandlers[memTypeFast][size][op] != callee {
				continue
			}

			// found!
			a := amd64.NewAssembler(retAddr-5, 5)
			memAddress := uint32(hctx.R9)
			if op == memOpW && size >= memSizeS32 && memAddress>>26 == 0x38 {
				a.CallAddr(d.memHandlers[memTypeStoreQueue][size][memOpW])
			} else {
				a.CallAddr(d.memHandlers[memTypeSlow][size][op])
			}
			if a.Offset() != 5 {
				log.Printf("dynarec: rewritten call site is %d bytes", a.Offset())
				return false
			}
			if err := a.Ready(); err != nil {
				log.Printf("dynarec: fault rewrite failed: %v", err)
				return false
			}

			hctx.PC = retAddr - 5
			// remove the faulted call from the stack
			hctx.RSP += 8
			// restore the address from r9 to arg0 so it's valid again
			if hostABI.windows {
				hctx.RCX = uintptr(memAddress)
			} else {
				hctx.RDI = uintptr(memAddress)
			}
			return true
		}
	}
	log.Printf("dynarec: rewriteMemAccess code not found: host pc %#x", hctx.PC)
	return false
}
