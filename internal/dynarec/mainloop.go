package dynarec

import (
	"fmt"
	"unsafe"

	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// reservedUnwindTail is the space kept at the end of the buffer for the
// exception trampoline's unwind descriptor.
const reservedUnwindTail = 128

// pcReg is the register carrying the faulting guest pc into the
// guest-exception glue. It is the last integer argument register: the
// interpreter fallback trampoline receives the pc there, and the store queue
// trampoline, which receives it as its third argument, moves it there before
// raising.
func pcReg() amd64.Register {
	return hostABI.callRegs[3]
}

// genMainloop emits, once, the dispatch trampoline: run loop, slice loop,
// exception long-jump target, the memory handler grid and the
// guest-exception glue, all in one contiguous span of the buffer.
func (d *Dynarec) genMainloop() error {
	a := amd64.NewAssembler(d.buf.Get(), d.buf.FreeSpace())
	ctx := d.ctx

	d.unwinder.Start(a.Addr())
	calleeSaved := []amd64.Register{amd64.RegBX, amd64.RegBP}
	if hostABI.windows {
		calleeSaved = append(calleeSaved, amd64.RegDI, amd64.RegSI)
	}
	calleeSaved = append(calleeSaved, amd64.RegR12, amd64.RegR13, amd64.RegR14, amd64.RegR15)
	for _, r := range calleeSaved {
		a.Push(r)
		d.unwinder.PushReg(a.Offset(), r)
	}
	a.SubQConst(amd64.RegSP, hostABI.stackAlign)
	d.unwinder.AllocStack(a.Offset(), hostABI.stackAlign)
	d.unwinder.EndProlog(a.Offset())

	// The long-jump anchor: whatever rsp is now is where guest exceptions
	// unwind back to.
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&d.jmpRSP)))
	a.MovQRegMem(amd64.RegSP, amd64.RegAX, 0)

	var runLoop, endRunLoop amd64.Label
	a.Bind(&runLoop)
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&ctx.CpuRunning)))
	a.MovLMemReg(amd64.RegAX, 0, amd64.RegDX)
	a.TestLRegReg(amd64.RegDX, amd64.RegDX)
	a.Jcc(amd64.CondE, &endRunLoop, false)

	var sliceLoop amd64.Label
	a.Bind(&sliceLoop)
	a.MovQConst(amd64.RegAX, ctx.Ptr(sh4.RegPC))
	a.MovLMemReg(amd64.RegAX, 0, hostABI.callRegs[0])
	a.MovQConst(amd64.RegAX, d.hooks.GetCodeByVAddr)
	a.CallReg(amd64.RegAX)
	a.CallReg(amd64.RegAX)
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&ctx.CycleCounter)))
	a.MovLMemReg(amd64.RegAX, 0, amd64.RegCX)
	a.TestLRegReg(amd64.RegCX, amd64.RegCX)
	a.Jcc(amd64.CondG, &sliceLoop, false)

	a.AddLConst(amd64.RegCX, sh4.SH4Timeslice)
	a.MovLRegMem(amd64.RegCX, amd64.RegAX, 0)
	a.MovQConst(amd64.RegAX, d.hooks.UpdateSystemINTC)
	a.CallReg(amd64.RegAX)
	a.Jmp(&runLoop, false)

	a.Bind(&endRunLoop)
	a.AddQConst(amd64.RegSP, hostABI.stackAlign)
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		a.Pop(calleeSaved[i])
	}
	a.Ret()
	d.unwinder.End(a)

	// The exception trampoline gets its own descriptor, laid down in the
	// reserved region at the end of the buffer.
	d.unwinder.Start(a.Addr())
	d.unwinder.AllocStack(0, hostABI.stackAlign)
	d.unwinder.EndProlog(0)

	var handleException amd64.Label
	a.Bind(&handleException)
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&d.jmpRSP)))
	a.MovQMemReg(amd64.RegAX, 0, amd64.RegSP)
	a.Jmp(&runLoop, false)

	d.genMemHandlers(a)
	d.genGuestExceptionGlue(a, &handleException)

	saved := a.Offset()
	a.SetOffset(a.Capacity() - reservedUnwindTail)
	if size := d.unwinder.End(a); size > reservedUnwindTail {
		return fmt.Errorf("exception unwind descriptor of %d bytes overflows its %d byte tail", size, reservedUnwindTail)
	}
	a.SetOffset(saved)

	if err := a.Ready(); err != nil {
		return err
	}
	d.mainloopPtr = a.Base()
	d.handleExceptionPtr = a.AddrOf(&handleException)
	d.buf.Advance(saved)
	return nil
}

// genMemHandlers emits the three-tier access ladder. The Fast row keeps the
// guest address in r9 so the fault rewriter can rebuild the call; every fast
// call site in compiled blocks is a single 5-byte call into this span.
func (d *Dynarec) genMemHandlers(a *amd64.Assembler) {
	arg0 := hostABI.callRegs[0]
	arg1 := hostABI.callRegs[1]

	d.memHandlerStart = a.Addr()
	for typ := 0; typ < memTypeCount; typ++ {
		for size := 0; size < memSizeCount; size++ {
			for op := 0; op < memOpCount; op++ {
				d.memHandlers[typ][size][op] = a.Addr()
				if typ == memTypeFast && d.hooks.VirtmemEnabled {
					a.MovQConst(amd64.RegAX, d.hooks.RAMBase)
					a.MovQRegReg(arg0, amd64.RegR9)
					a.AndLConst(arg0, 0x1FFFFFFF)

					switch size {
					case memSizeS8:
						if op == memOpR {
							a.MovBLSXMemIndexReg(amd64.RegAX, arg0, amd64.RegAX)
						} else {
							a.MovBRegMemIndex(arg1, amd64.RegAX, arg0)
						}
					case memSizeS16:
						if op == memOpR {
							a.MovWLSXMemIndexReg(amd64.RegAX, arg0, amd64.RegAX)
						} else {
							a.MovWRegMemIndex(arg1, amd64.RegAX, arg0)
						}
					case memSizeS32:
						if op == memOpR {
							a.MovLMemIndexReg(amd64.RegAX, arg0, amd64.RegAX)
						} else {
							a.MovLRegMemIndex(arg1, amd64.RegAX, arg0)
						}
					case memSizeS64:
						if op == memOpR {
							a.MovQMemIndexReg(amd64.RegAX, arg0, amd64.RegAX)
						} else {
							a.MovQRegMemIndex(arg1, amd64.RegAX, arg0)
						}
					}
				} else if typ == memTypeStoreQueue {
					// Store queue writes only exist at 32 and 64 bits.
					if op != memOpW || size < memSizeS32 {
						continue
					}
					var noSqw amd64.Label
					a.MovLRegReg(arg0, amd64.RegR9)
					a.ShrLConst(amd64.RegR9, 26)
					a.CmpLConst(amd64.RegR9, 0x38)
					a.Jcc(amd64.CondNE, &noSqw, false)
					a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&d.ctx.SQBuffer[0])))
					a.AndLConst(arg0, 0x3F)

					if size == memSizeS32 {
						a.MovLRegMemIndex(arg1, amd64.RegAX, arg0)
					} else {
						a.MovQRegMemIndex(arg1, amd64.RegAX, arg0)
					}
					a.Ret()
					a.Bind(&noSqw)
					a.MovQConst(amd64.RegAX, d.hooks.Write[size])
					a.JmpReg(amd64.RegAX) // tail call
					continue
				} else {
					// Slow path: defer to the generic host handlers.
					if op == memOpR {
						switch size {
						case memSizeS8, memSizeS16:
							a.SubQConst(amd64.RegSP, hostABI.stackAlign)
							a.MovQConst(amd64.RegAX, d.hooks.Read[size])
							a.CallReg(amd64.RegAX)
							if size == memSizeS8 {
								a.MovBLSXRegReg(amd64.RegAX, amd64.RegAX)
							} else {
								a.MovWLSXRegReg(amd64.RegAX, amd64.RegAX)
							}
							a.AddQConst(amd64.RegSP, hostABI.stackAlign)
						default:
							a.MovQConst(amd64.RegAX, d.hooks.Read[size])
							a.JmpReg(amd64.RegAX) // tail call
							continue
						}
					} else {
						a.MovQConst(amd64.RegAX, d.hooks.Write[size])
						a.JmpReg(amd64.RegAX) // tail call
						continue
					}
				}
				a.Ret()
			}
		}
	}
	d.memHandlerEnd = a.Addr()
}

// genGuestExceptionGlue emits the native boundary where guest exceptions are
// caught: fallback handlers report an exception event through eax, and a
// nonzero event diverts through the exception path and the long jump.
func (d *Dynarec) genGuestExceptionGlue(a *amd64.Assembler, handleException *amd64.Label) {
	var raise amd64.Label

	// interpreter fallback: (ctx, op, handler, pc).
	d.interpFallbackPtr = a.Addr()
	a.Push(pcReg())
	a.CallReg(hostABI.callRegs[2])
	a.Pop(pcReg())
	a.TestLRegReg(amd64.RegAX, amd64.RegAX)
	a.Jcc(amd64.CondNE, &raise, false)
	a.Ret()

	// store queue write under MMU: (addr, ctx, pc).
	d.doSqwMMUPtr = a.Addr()
	var sqwDone amd64.Label
	a.Push(hostABI.callRegs[2])
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&d.ctx.DoSqWrite)))
	a.CallMem(amd64.RegAX, 0)
	a.Pop(hostABI.callRegs[2])
	a.TestLRegReg(amd64.RegAX, amd64.RegAX)
	a.Jcc(amd64.CondE, &sqwDone, true)
	a.MovLRegReg(hostABI.callRegs[2], pcReg())
	a.Jmp(&raise, false)
	a.Bind(&sqwDone)
	a.Ret()

	// Exception path: event in eax, faulting pc in pcReg. Bit 0 of the pc
	// flags a delay slot, which DoException must account for.
	a.Bind(&raise)
	a.MovLRegReg(amd64.RegAX, hostABI.callRegs[1])
	a.MovLRegReg(pcReg(), hostABI.callRegs[0])
	a.MovLConst(hostABI.callRegs[2], 0)
	var noDelaySlot amd64.Label
	a.TestLConst(hostABI.callRegs[0], 1)
	a.Jcc(amd64.CondE, &noDelaySlot, true)
	a.SubLConst(hostABI.callRegs[0], 1)
	a.MovLConst(hostABI.callRegs[2], 1)
	a.Bind(&noDelaySlot)
	a.SubQConst(amd64.RegSP, hostABI.stackAlign)
	a.MovQConst(amd64.RegAX, d.hooks.DoException)
	a.CallReg(amd64.RegAX)
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&d.ctx.CycleCounter)))
	a.AddLConstMem(4, amd64.RegAX, 0) // probably more is needed
	a.Jmp(handleException, false)
}
