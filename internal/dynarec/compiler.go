package dynarec

import (
	"fmt"
	"unsafe"

	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
	"github.com/dreamcast-go/sh4jit/internal/platform"
)

// blockCompiler lowers one decoded block into native code at the buffer
// cursor. A fresh instance is created per compilation.
type blockCompiler struct {
	a   *amd64.Assembler
	d   *Dynarec
	ctx *sh4.Context
	cpu platform.CpuFeatureFlags

	regalloc  RegAlloc
	opid      int // -1 outside the op loop
	exitBlock amd64.Label
	ccParams  []ccParam
}

func newBlockCompiler(d *Dynarec, base uintptr, capacity int) *blockCompiler {
	c := &blockCompiler{
		a:    amd64.NewAssembler(base, capacity),
		d:    d,
		ctx:  d.ctx,
		cpu:  platform.CpuFeatures,
		opid: -1,
	}
	c.regalloc = newBlockAlloc(c)
	return c
}

func (c *blockCompiler) compile(block *sh4.RuntimeBlockInfo, forceChecks, optimise bool) error {
	a := c.a
	c.opid = -1

	c.checkBlock(forceChecks, block)

	a.SubQConst(amd64.RegSP, hostABI.stackAlign)

	if block.HasFpuOp {
		var fpuEnabled amd64.Label
		a.MovQConst(amd64.RegAX, c.ctx.Ptr(sh4.RegSRStatus))
		a.TestLConstMem(0x8000, amd64.RegAX, 0) // SR.FD
		a.Jcc(amd64.CondE, &fpuEnabled, false)
		a.MovLConst(hostABI.callRegs[0], block.Vaddr)
		a.MovLConst(hostABI.callRegs[1], sh4.ExFpuDisabled)
		a.MovLConst(hostABI.callRegs[2], 0)
		c.genCall(c.d.hooks.DoException, false)
		a.Jmp(&c.exitBlock, false)
		a.Bind(&fpuEnabled)
	}
	a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&c.ctx.CycleCounter)))
	a.SubLConstMem(block.GuestCycles, amd64.RegAX, 0)

	c.regalloc.DoAlloc(block)

	for opid := range block.OpList {
		c.opid = opid
		op := &block.OpList[opid]

		c.regalloc.OpBegin(op, opid)
		c.genOpcode(block, op, optimise)
		c.regalloc.OpEnd(op)
	}
	c.regalloc.Cleanup()
	c.opid = -1

	c.genBlockEnd(block)

	a.Bind(&c.exitBlock)
	a.AddQConst(amd64.RegSP, hostABI.stackAlign)
	a.Ret()

	if err := a.Ready(); err != nil {
		return err
	}

	block.Code = a.Base()
	block.HostCodeSize = a.Offset()
	c.d.buf.Advance(a.Offset())
	return nil
}

func (c *blockCompiler) genOpcode(block *sh4.RuntimeBlockInfo, op *sh4.Op, optimise bool) {
	a := c.a
	switch op.Kind {
	case sh4.OpIfb:
		if c.d.cfg.MMUEnabled {
			a.MovQConst(hostABI.callRegs[2], c.d.hooks.OpcodeHandler(uint16(op.Rs3.Imm)))
			a.MovLConst(hostABI.callRegs[3], block.Vaddr+uint32(op.GuestOffs)-delayAdj(op, 1))
		}
		if op.Rs1.Imm != 0 {
			a.MovQConst(amd64.RegAX, c.ctx.Ptr(sh4.RegPC))
			a.MovLConstMem(op.Rs2.Imm, amd64.RegAX, 0)
		}
		a.MovLConst(hostABI.callRegs[1], op.Rs3.Imm)
		a.MovQConst(hostABI.callRegs[0], uintptr(unsafe.Pointer(c.ctx)))

		if !c.d.cfg.MMUEnabled {
			c.genCall(c.d.hooks.OpcodeHandler(uint16(op.Rs3.Imm)), false)
		} else {
			c.genCall(c.d.interpFallbackPtr, false)
		}

	case sh4.OpMov64:
		if !op.Rd.IsR64f() || !op.Rs1.IsR64f() {
			c.fail(fmt.Errorf("mov64 with non-paired operands"))
			return
		}
		a.MovQConst(amd64.RegAX, op.Rs1.RegPtr(c.ctx))
		a.MovQMemReg(amd64.RegAX, 0, amd64.RegAX)
		a.MovQConst(amd64.RegCX, op.Rd.RegPtr(c.ctx))
		a.MovQRegMem(amd64.RegAX, amd64.RegCX, 0)

	case sh4.OpReadm:
		if c.genReadMemImmediate(op, block) {
			return
		}
		c.paramToReg(op.Rs1, hostABI.callRegs[0])
		c.addDisplacement(op)
		c.genMmuLookup(block, op, 0)

		size := memSizeIdx(op.Size)
		c.genCallMemHandler(c.memHandler(optimise, size, memOpR))

		if size == memSizeS64 {
			a.MovQConst(amd64.RegCX, op.Rd.RegPtr(c.ctx))
			a.MovQRegMem(amd64.RegAX, amd64.RegCX, 0)
		} else {
			a.MovQRegReg(amd64.RegAX, amd64.RegCX)
			c.regToParam(op.Rd, amd64.RegCX)
		}

	case sh4.OpWritem:
		if c.genWriteMemImmediate(op, block) {
			return
		}
		c.paramToReg(op.Rs1, hostABI.callRegs[0])
		c.addDisplacement(op)
		c.genMmuLookup(block, op, 1)

		if op.Size == 8 {
			a.MovQConst(amd64.RegAX, op.Rs2.RegPtr(c.ctx))
			a.MovQMemReg(amd64.RegAX, 0, hostABI.callRegs[1])
		} else {
			c.paramToReg(op.Rs2, hostABI.callRegs[1])
		}
		c.genCallMemHandler(c.memHandler(optimise, memSizeIdx(op.Size), memOpW))

	case sh4.OpSyncSR:
		c.genCall(c.d.hooks.UpdateSR, false)

	case sh4.OpSyncFPSCR:
		a.MovQConst(hostABI.callRegs[0], uintptr(unsafe.Pointer(c.ctx)))
		c.genCall(c.d.hooks.UpdateFPSCR, false)

	case sh4.OpNegc:
		c.genNegc(op)

	case sh4.OpMulS64:
		c.genMulS64(op)

	case sh4.OpPref:
		c.genPref(block, op)

	case sh4.OpFrswap:
		c.genFrswap(op)

	case sh4.OpFmac:
		c.genFmac(op)

	default:
		if !c.genBaseOpcode(op) {
			if c.d.hooks.CanonicalLower == nil {
				c.fail(fmt.Errorf("no lowering for opcode kind %d", op.Kind))
				return
			}
			c.d.hooks.CanonicalLower(op)
		}
	}
}

// delayAdj returns n when the op sits in a delay slot, else 0.
func delayAdj(op *sh4.Op, n uint32) uint32 {
	if op.DelaySlot {
		return n
	}
	return 0
}

func memSizeIdx(size uint8) int {
	switch size {
	case 1:
		return memSizeS8
	case 2:
		return memSizeS16
	case 4:
		return memSizeS32
	default:
		return memSizeS64
	}
}

func (c *blockCompiler) memHandler(optimise bool, size, memOp int) uintptr {
	typ := memTypeSlow
	if optimise {
		typ = memTypeFast
	}
	return c.d.memHandlers[typ][size][memOp]
}

// addDisplacement folds op.Rs3 (an optional address displacement) into the
// first argument register.
func (c *blockCompiler) addDisplacement(op *sh4.Op) {
	a := c.a
	if op.Rs3.IsNull() {
		return
	}
	if op.Rs3.IsImm() {
		a.AddLConst(hostABI.callRegs[0], op.Rs3.Imm)
	} else if c.regalloc.IsAllocG(op.Rs3) {
		a.AddLRegReg(c.regalloc.MapReg(op.Rs3), hostABI.callRegs[0])
	} else {
		a.MovQConst(amd64.RegAX, op.Rs3.RegPtr(c.ctx))
		a.AddLMemReg(amd64.RegAX, 0, hostABI.callRegs[0])
	}
}

func (c *blockCompiler) genMmuLookup(block *sh4.RuntimeBlockInfo, op *sh4.Op, write uint32) {
	if !c.d.cfg.MMUEnabled {
		return
	}
	a := c.a
	var inCache, done amd64.Label
	if c.d.cfg.FastMMU {
		a.MovLRegReg(hostABI.callRegs[0], amd64.RegAX)
		a.ShrLConst(amd64.RegAX, 12)
		a.MovQConst(amd64.RegR9, c.d.hooks.MMUAddressLUT)
		a.MovLMemIndexScaleReg(amd64.RegR9, amd64.RegAX, 4, 0, amd64.RegAX)
		a.TestLRegReg(amd64.RegAX, amd64.RegAX)
		a.Jcc(amd64.CondNE, &inCache, false)
	}
	a.MovLConst(hostABI.callRegs[1], write)
	a.MovLConst(hostABI.callRegs[2], block.Vaddr+uint32(op.GuestOffs)-delayAdj(op, 2))
	c.genCall(c.d.hooks.MMUDynarecLookup, false)
	a.MovLRegReg(amd64.RegAX, hostABI.callRegs[0])
	if c.d.cfg.FastMMU {
		a.Jmp(&done, false)
		a.Bind(&inCache)
		a.AndLConst(hostABI.callRegs[0], 0xFFF)
		a.OrLRegReg(amd64.RegAX, hostABI.callRegs[0])
		a.Bind(&done)
	}
}

func (c *blockCompiler) genReadMemImmediate(op *sh4.Op, block *sh4.RuntimeBlockInfo) bool {
	if !op.Rs1.IsImm() || c.d.hooks.ReadMemImmediate == nil {
		return false
	}
	ptr, isRAM, addr, ok := c.d.hooks.ReadMemImmediate(op.Rs1.Imm, op.Size)
	if !ok {
		return false
	}
	a := c.a

	if isRAM {
		// Immediate pointer to RAM: access encoded inline.
		a.MovQConst(amd64.RegAX, ptr)
		switch op.Size {
		case 1:
			if c.regalloc.IsAllocG(op.Rd) {
				a.MovBLSXMemReg(amd64.RegAX, 0, c.regalloc.MapReg(op.Rd))
			} else {
				a.MovBLSXMemReg(amd64.RegAX, 0, amd64.RegAX)
				c.storeEAXTo(op.Rd)
			}
		case 2:
			if c.regalloc.IsAllocG(op.Rd) {
				a.MovWLSXMemReg(amd64.RegAX, 0, c.regalloc.MapReg(op.Rd))
			} else {
				a.MovWLSXMemReg(amd64.RegAX, 0, amd64.RegAX)
				c.storeEAXTo(op.Rd)
			}
		case 4:
			if c.regalloc.IsAllocG(op.Rd) {
				a.MovLMemReg(amd64.RegAX, 0, c.regalloc.MapReg(op.Rd))
			} else if c.regalloc.IsAllocF(op.Rd) {
				a.MovDMemXmm(amd64.RegAX, 0, c.regalloc.MapXReg(op.Rd))
			} else {
				a.MovLMemReg(amd64.RegAX, 0, amd64.RegAX)
				c.storeEAXTo(op.Rd)
			}
		case 8:
			a.MovQMemReg(amd64.RegAX, 0, amd64.RegCX)
			a.MovQConst(amd64.RegAX, op.Rd.RegPtr(c.ctx))
			a.MovQRegMem(amd64.RegCX, amd64.RegAX, 0)
		default:
			c.fail(fmt.Errorf("invalid immediate read size %d", op.Size))
		}
		return true
	}

	// Not RAM: the pointer is a memory handler entry.
	if op.Size == 8 {
		// 32-bit handlers: call twice.
		a.MovLConst(hostABI.callRegs[0], addr)
		c.genCall(ptr, false)
		a.MovQConst(amd64.RegCX, op.Rd.RegPtr(c.ctx))
		a.MovLRegMem(amd64.RegAX, amd64.RegCX, 0)

		a.MovLConst(hostABI.callRegs[0], addr+4)
		c.genCall(ptr, false)
		a.MovQConst(amd64.RegCX, op.Rd.RegPtr(c.ctx)+4)
		a.MovLRegMem(amd64.RegAX, amd64.RegCX, 0)
		return true
	}

	a.MovLConst(hostABI.callRegs[0], addr)
	c.genCall(ptr, false)
	switch op.Size {
	case 1:
		a.MovBLSXRegReg(amd64.RegAX, amd64.RegAX)
	case 2:
		a.MovWLSXRegReg(amd64.RegAX, amd64.RegAX)
	case 4:
	default:
		c.fail(fmt.Errorf("invalid immediate read size %d", op.Size))
	}
	a.MovLRegReg(amd64.RegAX, amd64.RegCX)
	c.regToParam(op.Rd, amd64.RegCX)
	return true
}

func (c *blockCompiler) genWriteMemImmediate(op *sh4.Op, block *sh4.RuntimeBlockInfo) bool {
	if !op.Rs1.IsImm() || c.d.hooks.WriteMemImmediate == nil {
		return false
	}
	ptr, isRAM, addr, ok := c.d.hooks.WriteMemImmediate(op.Rs1.Imm, op.Size)
	if !ok {
		return false
	}
	a := c.a

	if !isRAM {
		a.MovLConst(hostABI.callRegs[0], addr)
		c.paramToReg(op.Rs2, hostABI.callRegs[1])
		c.genCall(ptr, false)
		return true
	}

	a.MovQConst(amd64.RegAX, ptr)
	switch op.Size {
	case 1:
		if c.regalloc.IsAllocG(op.Rs2) {
			a.MovBRegMem(c.regalloc.MapReg(op.Rs2), amd64.RegAX, 0)
		} else if op.Rs2.IsImm() {
			a.MovBConstMem(uint8(op.Rs2.Imm), amd64.RegAX, 0)
		} else {
			a.MovQConst(amd64.RegCX, op.Rs2.RegPtr(c.ctx))
			a.MovLMemReg(amd64.RegCX, 0, amd64.RegCX)
			a.MovBRegMem(amd64.RegCX, amd64.RegAX, 0)
		}
	case 2:
		if c.regalloc.IsAllocG(op.Rs2) {
			a.MovWRegMem(c.regalloc.MapReg(op.Rs2), amd64.RegAX, 0)
		} else if op.Rs2.IsImm() {
			a.MovWConstMem(uint16(op.Rs2.Imm), amd64.RegAX, 0)
		} else {
			a.MovQConst(amd64.RegCX, op.Rs2.RegPtr(c.ctx))
			a.MovLMemReg(amd64.RegCX, 0, amd64.RegCX)
			a.MovWRegMem(amd64.RegCX, amd64.RegAX, 0)
		}
	case 4:
		if c.regalloc.IsAllocG(op.Rs2) {
			a.MovLRegMem(c.regalloc.MapReg(op.Rs2), amd64.RegAX, 0)
		} else if c.regalloc.IsAllocF(op.Rs2) {
			a.MovDXmmMem(c.regalloc.MapXReg(op.Rs2), amd64.RegAX, 0)
		} else if op.Rs2.IsImm() {
			a.MovLConstMem(op.Rs2.Imm, amd64.RegAX, 0)
		} else {
			a.MovQConst(amd64.RegCX, op.Rs2.RegPtr(c.ctx))
			a.MovLMemReg(amd64.RegCX, 0, amd64.RegCX)
			a.MovLRegMem(amd64.RegCX, amd64.RegAX, 0)
		}
	case 8:
		a.MovQConst(amd64.RegCX, op.Rs2.RegPtr(c.ctx))
		a.MovQMemReg(amd64.RegCX, 0, amd64.RegCX)
		a.MovQRegMem(amd64.RegCX, amd64.RegAX, 0)
	default:
		c.fail(fmt.Errorf("invalid immediate write size %d", op.Size))
	}
	return true
}

func (c *blockCompiler) genNegc(op *sh4.Op) {
	a := c.a
	// rd = -rs1 - rs2 in 64-bit arithmetic; rd2 receives the borrow.
	rs2 := amd64.NilRegister
	if op.Rs2.IsReg() {
		rs2 = c.loadParam32(op.Rs2, amd64.RegCX)
		if c.regalloc.IsAllocG(op.Rd) && rs2 == c.regalloc.MapReg(op.Rd) {
			a.MovLRegReg(rs2, amd64.RegCX)
			rs2 = amd64.RegCX
		}
	}
	rd := amd64.RegDX
	if c.regalloc.IsAllocG(op.Rd) {
		rd = c.regalloc.MapReg(op.Rd)
	}
	if op.Rs1.IsImm() {
		a.MovLConst(rd, op.Rs1.Imm)
	} else if r := c.loadParam32(op.Rs1, rd); r != rd {
		a.MovLRegReg(r, rd)
	}
	a.NegQ(rd)
	if op.Rs2.IsImm() {
		a.SubQConst(rd, op.Rs2.Imm)
	} else {
		a.SubQRegReg(rs2, rd)
	}
	rd2 := amd64.RegCX
	if c.regalloc.IsAllocG(op.Rd2) {
		rd2 = c.regalloc.MapReg(op.Rd2)
	}
	a.MovQRegReg(rd, rd2)
	a.ShrQConst(rd2, 63)
	if !c.regalloc.IsAllocG(op.Rd2) {
		c.storeReg32(rd2, op.Rd2)
	}
	if !c.regalloc.IsAllocG(op.Rd) {
		c.storeReg32(rd, op.Rd)
	}
}

func (c *blockCompiler) genMulS64(op *sh4.Op) {
	a := c.a
	// rs2 goes first: loading an unmapped operand addresses it through rax,
	// which would clobber an already loaded rs1.
	if op.Rs2.IsReg() {
		rs2 := c.loadParam32(op.Rs2, amd64.RegCX)
		a.MovLQSXRegReg(rs2, amd64.RegCX)
	} else {
		a.MovQConst(amd64.RegCX, uintptr(int64(int32(op.Rs2.Imm))))
	}
	rs1 := c.loadParam32(op.Rs1, amd64.RegAX)
	a.MovLQSXRegReg(rs1, amd64.RegAX)
	a.MulQ(amd64.RegCX)
	c.storeReg32(amd64.RegAX, op.Rd)
	a.ShrQConst(amd64.RegAX, 32)
	c.storeReg32(amd64.RegAX, op.Rd2)
}

func (c *blockCompiler) genPref(block *sh4.RuntimeBlockInfo, op *sh4.Op) {
	a := c.a
	var noSqw amd64.Label
	if op.Rs1.IsImm() {
		// this test shouldn't be necessary
		if op.Rs1.Imm&0xFC000000 != 0xE0000000 {
			return
		}
		a.MovLConst(hostABI.callRegs[0], op.Rs1.Imm)
	} else {
		rn := c.loadParam32(op.Rs1, amd64.RegAX)
		a.MovLRegReg(rn, amd64.RegCX)
		a.ShrLConst(amd64.RegCX, 26)
		a.CmpLConst(amd64.RegCX, 0x38)
		a.Jcc(amd64.CondNE, &noSqw, false)

		a.MovLRegReg(rn, hostABI.callRegs[0])
	}
	a.MovQConst(hostABI.callRegs[1], uintptr(unsafe.Pointer(c.ctx)))
	if c.d.cfg.MMUEnabled {
		a.MovLConst(hostABI.callRegs[2], block.Vaddr+uint32(op.GuestOffs)-delayAdj(op, 1))
		c.genCall(c.d.doSqwMMUPtr, false)
	} else {
		a.MovQConst(amd64.RegAX, uintptr(unsafe.Pointer(&c.ctx.DoSqWrite)))
		c.saveXmmRegisters()
		a.CallMem(amd64.RegAX, 0)
		c.restoreXmmRegisters()
	}
	a.Bind(&noSqw)
}

func (c *blockCompiler) genFrswap(op *sh4.Op) {
	a := c.a
	a.MovQConst(amd64.RegAX, op.Rs1.RegPtr(c.ctx))
	a.MovQConst(amd64.RegCX, op.Rd.RegPtr(c.ctx))
	switch {
	case c.cpu.HasAVX512F:
		a.VmovDQU64MemZmm(amd64.RegAX, amd64.RegX0)
		a.VmovDQU64MemZmm(amd64.RegCX, amd64.RegX1)
		a.VmovDQU64ZmmMem(amd64.RegX1, amd64.RegAX)
		a.VmovDQU64ZmmMem(amd64.RegX0, amd64.RegCX)
	case c.cpu.HasAVX:
		for disp := int32(0); disp < 64; disp += 32 {
			a.VmovUPSMemYmm(amd64.RegAX, disp, amd64.RegX0)
			a.VmovUPSMemYmm(amd64.RegCX, disp, amd64.RegX1)
			a.VmovUPSYmmMem(amd64.RegX1, amd64.RegAX, disp)
			a.VmovUPSYmmMem(amd64.RegX0, amd64.RegCX, disp)
		}
	default:
		for disp := int32(0); disp < 64; disp += 16 {
			a.MovUPSMemXmm(amd64.RegAX, disp, amd64.RegX0)
			a.MovUPSMemXmm(amd64.RegCX, disp, amd64.RegX1)
			a.MovUPSXmmMem(amd64.RegX1, amd64.RegAX, disp)
			a.MovUPSXmmMem(amd64.RegX0, amd64.RegCX, disp)
		}
	}
}

func (c *blockCompiler) genFmac(op *sh4.Op) {
	a := c.a
	// rd = rs1 + rs2*rs3, with scratch copies resolving operand aliasing.
	rs2 := c.loadParamXmm(op.Rs2, amd64.RegX1)
	rs3 := c.loadParamXmm(op.Rs3, amd64.RegX2)
	rd := amd64.RegX3
	if c.regalloc.IsAllocF(op.Rd) {
		rd = c.regalloc.MapXReg(op.Rd)
	}
	if rd == rs2 {
		a.MovSSXmmXmm(rs2, amd64.RegX1)
		rs2 = amd64.RegX1
	}
	if rd == rs3 {
		a.MovSSXmmXmm(rs3, amd64.RegX2)
		rs3 = amd64.RegX2
	}
	if op.Rs1.IsImm() {
		a.MovLConst(amd64.RegAX, op.Rs1.Imm)
		a.MovDRegXmm(amd64.RegAX, rd)
	} else if rs1 := c.loadParamXmm(op.Rs1, rd); rs1 != rd {
		a.MovSSXmmXmm(rs1, rd)
	}
	if c.cpu.HasFMA && !c.d.cfg.Rollback {
		a.Vfmadd231SS(rd, rs2, rs3)
	} else {
		a.MovSSXmmXmm(rs2, amd64.RegX0)
		a.MulSS(rs3, amd64.RegX0)
		a.AddSS(amd64.RegX0, rd)
	}
	if !c.regalloc.IsAllocF(op.Rd) {
		a.MovQConst(amd64.RegAX, op.Rd.RegPtr(c.ctx))
		a.MovSSXmmMem(rd, amd64.RegAX, 0)
	}
}

// genBaseOpcode lowers the shared ALU and move kinds; it reports false for
// kinds that must go through the canonical protocol instead.
func (c *blockCompiler) genBaseOpcode(op *sh4.Op) bool {
	a := c.a
	switch op.Kind {
	case sh4.OpNop:
		return true

	case sh4.OpMov32, sh4.OpJcond, sh4.OpJdyn:
		// jdyn/jcond stage the dynamic target and the condition value in
		// ctx.Jdyn; both are plain 32-bit moves here, jdyn optionally with
		// a constant link offset.
		c.paramToReg(op.Rs1, amd64.RegCX)
		if op.Kind == sh4.OpJdyn && op.Rs2.IsImm() {
			a.AddLConst(amd64.RegCX, op.Rs2.Imm)
		}
		c.regToParam(op.Rd, amd64.RegCX)
		return true

	case sh4.OpAdd, sh4.OpSub, sh4.OpAnd, sh4.OpOr, sh4.OpXor:
		c.paramToReg(op.Rs1, amd64.RegCX)
		if op.Rs2.IsImm() {
			switch op.Kind {
			case sh4.OpAdd:
				a.AddLConst(amd64.RegCX, op.Rs2.Imm)
			case sh4.OpSub:
				a.SubLConst(amd64.RegCX, op.Rs2.Imm)
			case sh4.OpAnd:
				a.AndLConst(amd64.RegCX, op.Rs2.Imm)
			case sh4.OpOr:
				a.OrLConst(amd64.RegCX, op.Rs2.Imm)
			case sh4.OpXor:
				a.XorLConst(amd64.RegCX, op.Rs2.Imm)
			}
		} else {
			rs2 := c.loadParam32(op.Rs2, amd64.RegDX)
			switch op.Kind {
			case sh4.OpAdd:
				a.AddLRegReg(rs2, amd64.RegCX)
			case sh4.OpSub:
				a.SubLRegReg(rs2, amd64.RegCX)
			case sh4.OpAnd:
				a.AndLRegReg(rs2, amd64.RegCX)
			case sh4.OpOr:
				a.OrLRegReg(rs2, amd64.RegCX)
			case sh4.OpXor:
				a.XorLRegReg(rs2, amd64.RegCX)
			}
		}
		c.regToParam(op.Rd, amd64.RegCX)
		return true

	case sh4.OpNot, sh4.OpNeg:
		c.paramToReg(op.Rs1, amd64.RegCX)
		if op.Kind == sh4.OpNot {
			a.NotL(amd64.RegCX)
		} else {
			a.NegL(amd64.RegCX)
		}
		c.regToParam(op.Rd, amd64.RegCX)
		return true

	case sh4.OpShl, sh4.OpShr, sh4.OpSar:
		if !op.Rs2.IsImm() {
			return false
		}
		c.paramToReg(op.Rs1, amd64.RegCX)
		n := uint8(op.Rs2.Imm)
		switch op.Kind {
		case sh4.OpShl:
			a.ShlLConst(amd64.RegCX, n)
		case sh4.OpShr:
			a.ShrLConst(amd64.RegCX, n)
		case sh4.OpSar:
			a.SarLConst(amd64.RegCX, n)
		}
		c.regToParam(op.Rd, amd64.RegCX)
		return true
	}
	return false
}

func (c *blockCompiler) genBlockEnd(block *sh4.RuntimeBlockInfo) {
	a := c.a
	a.MovQConst(amd64.RegAX, c.ctx.Ptr(sh4.RegPC))

	switch block.BlockEnd {
	case sh4.BlockEndStaticJump, sh4.BlockEndStaticCall:
		a.MovLConstMem(block.BranchBlock, amd64.RegAX, 0)

	case sh4.BlockEndCond0, sh4.BlockEndCond1:
		a.MovLConstMem(block.NextBlock, amd64.RegAX, 0)

		if block.HasJcond {
			a.MovQConst(amd64.RegDX, c.ctx.Ptr(sh4.RegJdyn))
		} else {
			a.MovQConst(amd64.RegDX, c.ctx.Ptr(sh4.RegSRT))
		}
		a.CmpLConstMem(uint32(block.BlockEnd)&1, amd64.RegDX, 0)
		var branchNotTaken amd64.Label
		a.Jcc(amd64.CondNE, &branchNotTaken, true)
		a.MovLConstMem(block.BranchBlock, amd64.RegAX, 0)
		a.Bind(&branchNotTaken)

	case sh4.BlockEndDynamicJump, sh4.BlockEndDynamicCall, sh4.BlockEndDynamicRet:
		a.MovQConst(amd64.RegDX, c.ctx.Ptr(sh4.RegJdyn))
		a.MovLMemReg(amd64.RegDX, 0, amd64.RegDX)
		a.MovLRegMem(amd64.RegDX, amd64.RegAX, 0)

	case sh4.BlockEndDynamicIntr, sh4.BlockEndStaticIntr:
		if block.BlockEnd == sh4.BlockEndDynamicIntr {
			a.MovQConst(amd64.RegDX, c.ctx.Ptr(sh4.RegJdyn))
			a.MovLMemReg(amd64.RegDX, 0, amd64.RegDX)
			a.MovLRegMem(amd64.RegDX, amd64.RegAX, 0)
		} else {
			a.MovLConstMem(block.NextBlock, amd64.RegAX, 0)
		}
		c.genCall(c.d.hooks.UpdateINTC, false)

	default:
		c.fail(fmt.Errorf("invalid block end kind %d", block.BlockEnd))
	}
}

func (c *blockCompiler) checkBlock(forceChecks bool, block *sh4.RuntimeBlockInfo) {
	a := c.a
	if c.d.cfg.MMUEnabled || forceChecks {
		a.MovLConst(hostABI.callRegs[0], block.Addr)
	}

	var fail, ok amd64.Label
	failed := false

	// Under MMU the decoder's assumptions only hold when the live pc still
	// matches the compile-time virtual address.
	if c.d.cfg.MMUEnabled {
		a.MovQConst(amd64.RegAX, c.ctx.Ptr(sh4.RegPC))
		a.CmpLConstMem(block.Vaddr, amd64.RegAX, 0)
		a.Jcc(amd64.CondNE, &fail, false)
		failed = true
	}

	if forceChecks {
		sz := int32(block.SH4CodeSize)
		sa := block.Addr
		ptr := c.memPtr(sa, sz)
		for ptr != 0 && sz > 0 {
			a.MovQConst(amd64.RegAX, ptr)
			switch {
			case sz >= 8 && ptr&7 == 0:
				a.MovQConst(amd64.RegDX, uintptr(*(*uint64)(unsafe.Pointer(ptr))))
				a.CmpQRegMem(amd64.RegDX, amd64.RegAX, 0)
				sz -= 8
				sa += 8
			case sz >= 4 && ptr&3 == 0:
				a.MovLConst(amd64.RegDX, *(*uint32)(unsafe.Pointer(ptr)))
				a.CmpLRegMem(amd64.RegDX, amd64.RegAX, 0)
				sz -= 4
				sa += 4
			default:
				a.MovLConst(amd64.RegDX, uint32(*(*uint16)(unsafe.Pointer(ptr))))
				a.CmpWRegMem(amd64.RegDX, amd64.RegAX, 0)
				sz -= 2
				sa += 2
			}
			a.Jcc(amd64.CondNE, &fail, false)
			failed = true
			ptr = c.memPtr(sa, sz)
		}
	}

	if failed {
		a.Jmp(&ok, false)
		a.Bind(&fail)
		a.MovQConst(amd64.RegAX, c.d.hooks.BlockCheckFail)
		a.JmpReg(amd64.RegAX)
		a.Bind(&ok)
	}
}

func (c *blockCompiler) memPtr(addr uint32, sz int32) uintptr {
	if sz <= 0 || c.d.hooks.GetMemPtr == nil {
		return 0
	}
	n := uint32(sz)
	if n > 8 {
		n = 8
	}
	return c.d.hooks.GetMemPtr(addr, n)
}

// Parameter plumbing between guest state and host registers.

// paramToReg materializes p into the 32-bit view of host register r.
func (c *blockCompiler) paramToReg(p sh4.Param, r amd64.Register) {
	a := c.a
	switch {
	case p.IsImm():
		a.MovLConst(r, p.Imm)
	case c.regalloc.IsAllocG(p):
		if src := c.regalloc.MapReg(p); src != r {
			a.MovLRegReg(src, r)
		}
	case c.regalloc.IsAllocF(p):
		a.MovDXmmReg(c.regalloc.MapXReg(p), r)
	case p.IsReg():
		a.MovQConst(amd64.RegAX, p.RegPtr(c.ctx))
		a.MovLMemReg(amd64.RegAX, 0, r)
	default:
		c.fail(fmt.Errorf("null parameter has no value"))
	}
}

// loadParam32 returns a 32-bit host register holding p, loading it into
// scratch only when unmapped.
func (c *blockCompiler) loadParam32(p sh4.Param, scratch amd64.Register) amd64.Register {
	if c.regalloc.IsAllocG(p) {
		return c.regalloc.MapReg(p)
	}
	c.paramToReg(p, scratch)
	return scratch
}

// loadParamXmm returns an xmm register holding p, loading it into scratch
// only when unmapped.
func (c *blockCompiler) loadParamXmm(p sh4.Param, scratch amd64.Register) amd64.Register {
	if c.regalloc.IsAllocF(p) {
		return c.regalloc.MapXReg(p)
	}
	a := c.a
	a.MovQConst(amd64.RegAX, p.RegPtr(c.ctx))
	a.MovSSMemXmm(amd64.RegAX, 0, scratch)
	return scratch
}

// regToParam stores the 32-bit view of host register r into p. r must not be
// rax, which is used to address unmapped destinations.
func (c *blockCompiler) regToParam(p sh4.Param, r amd64.Register) {
	a := c.a
	switch {
	case c.regalloc.IsAllocG(p):
		if dst := c.regalloc.MapReg(p); dst != r {
			a.MovLRegReg(r, dst)
		}
	case c.regalloc.IsAllocF(p):
		a.MovDRegXmm(r, c.regalloc.MapXReg(p))
	case p.IsReg():
		a.MovQConst(amd64.RegAX, p.RegPtr(c.ctx))
		a.MovLRegMem(r, amd64.RegAX, 0)
	default:
		c.fail(fmt.Errorf("cannot store to parameter"))
	}
}

// storeReg32 is regToParam with rd possibly mapped to the source itself.
func (c *blockCompiler) storeReg32(r amd64.Register, p sh4.Param) {
	if c.regalloc.IsAllocG(p) && c.regalloc.MapReg(p) == r {
		return
	}
	c.regToParam(p, r)
}

// storeEAXTo stores eax into an unmapped destination through rcx.
func (c *blockCompiler) storeEAXTo(p sh4.Param) {
	c.a.MovQConst(amd64.RegCX, p.RegPtr(c.ctx))
	c.a.MovLRegMem(amd64.RegAX, amd64.RegCX, 0)
}

// Host call plumbing.

// genCall emits an indirect host call through rax, preserving mapped
// caller-saved xmm registers unless skipFloats.
func (c *blockCompiler) genCall(target uintptr, skipFloats bool) {
	if !skipFloats {
		c.saveXmmRegisters()
	}
	c.a.MovQConst(amd64.RegAX, target)
	c.a.CallReg(amd64.RegAX)
	if !skipFloats {
		c.restoreXmmRegisters()
	}
}

// genCallMemHandler emits the single 5-byte direct call the fault rewriter
// depends on. Handlers live in the same buffer, so rel32 always reaches.
func (c *blockCompiler) genCallMemHandler(target uintptr) {
	skipFloats := c.d.cfg.MMUEnabled
	if !skipFloats {
		c.saveXmmRegisters()
	}
	start := c.a.Offset()
	c.a.CallAddr(target)
	if c.a.Offset()-start != 5 {
		c.fail(fmt.Errorf("memory handler call site is %d bytes", c.a.Offset()-start))
	}
	if !skipFloats {
		c.restoreXmmRegisters()
	}
}

// The save band is addressed through r9, never rax: the restore runs right
// after a call whose return value is still live in rax (or xmm0).
func (c *blockCompiler) saveXmmRegisters() {
	if hostABI.windows || c.opid < 0 {
		return
	}
	a := c.a
	loaded := false
	for i, x := range allocXmms {
		if c.regalloc.IsMappedX(x, c.opid) {
			if !loaded {
				a.MovQConst(amd64.RegR9, uintptr(unsafe.Pointer(&c.d.xmmSave[0])))
				loaded = true
			}
			a.MovDXmmMem(x, amd64.RegR9, int32(i*4))
		}
	}
}

func (c *blockCompiler) restoreXmmRegisters() {
	if hostABI.windows || c.opid < 0 {
		return
	}
	a := c.a
	loaded := false
	for i, x := range allocXmms {
		if c.regalloc.IsMappedX(x, c.opid) {
			if !loaded {
				a.MovQConst(amd64.RegR9, uintptr(unsafe.Pointer(&c.d.xmmSave[0])))
				loaded = true
			}
			a.MovDMemXmm(amd64.RegR9, int32(i*4), x)
		}
	}
}

func (c *blockCompiler) fail(err error) {
	c.a.SetErr(err)
}

// RegPreload implements regCallbacks.RegPreload.
func (c *blockCompiler) RegPreload(reg sh4.RegID, host amd64.Register) {
	c.a.MovQConst(amd64.RegAX, c.ctx.Ptr(reg))
	c.a.MovLMemReg(amd64.RegAX, 0, host)
}

// RegWriteback implements regCallbacks.RegWriteback.
func (c *blockCompiler) RegWriteback(reg sh4.RegID, host amd64.Register) {
	c.a.MovQConst(amd64.RegAX, c.ctx.Ptr(reg))
	c.a.MovLRegMem(host, amd64.RegAX, 0)
}

// RegPreloadFPU implements regCallbacks.RegPreloadFPU.
func (c *blockCompiler) RegPreloadFPU(reg sh4.RegID, host amd64.Register) {
	c.a.MovQConst(amd64.RegAX, c.ctx.Ptr(reg))
	c.a.MovSSMemXmm(amd64.RegAX, 0, host)
}

// RegWritebackFPU implements regCallbacks.RegWritebackFPU.
func (c *blockCompiler) RegWritebackFPU(reg sh4.RegID, host amd64.Register) {
	c.a.MovQConst(amd64.RegAX, c.ctx.Ptr(reg))
	c.a.MovSSXmmMem(host, amd64.RegAX, 0)
}
