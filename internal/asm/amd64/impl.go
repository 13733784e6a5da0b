package asm_amd64

import "fmt"

// Integer moves.

// MovQConst emits mov r64, imm64.
func (a *Assembler) MovQConst(dst Register, v uintptr) {
	a.rexTo(true, 0, 0, dst.enc())
	a.byte(0xb8 + dst.enc()&7)
	a.u64(uint64(v))
}

// MovLConst emits mov r32, imm32.
func (a *Assembler) MovLConst(dst Register, v uint32) {
	a.rexTo(false, 0, 0, dst.enc())
	a.byte(0xb8 + dst.enc()&7)
	a.u32(v)
}

// MovLRegReg emits mov dst32, src32.
func (a *Assembler) MovLRegReg(src, dst Register) {
	a.rexTo(false, src.enc(), 0, dst.enc())
	a.byte(0x89)
	a.modRMReg(src.enc(), dst.enc())
}

// MovQRegReg emits mov dst64, src64.
func (a *Assembler) MovQRegReg(src, dst Register) {
	a.rexTo(true, src.enc(), 0, dst.enc())
	a.byte(0x89)
	a.modRMReg(src.enc(), dst.enc())
}

// MovLMemReg emits mov dst32, dword [base+disp].
func (a *Assembler) MovLMemReg(base Register, disp int32, dst Register) {
	a.rexTo(false, dst.enc(), 0, base.enc())
	a.byte(0x8b)
	a.modRMMem(dst.enc(), base, disp)
}

// MovQMemReg emits mov dst64, qword [base+disp].
func (a *Assembler) MovQMemReg(base Register, disp int32, dst Register) {
	a.rexTo(true, dst.enc(), 0, base.enc())
	a.byte(0x8b)
	a.modRMMem(dst.enc(), base, disp)
}

// MovLRegMem emits mov dword [base+disp], src32.
func (a *Assembler) MovLRegMem(src, base Register, disp int32) {
	a.rexTo(false, src.enc(), 0, base.enc())
	a.byte(0x89)
	a.modRMMem(src.enc(), base, disp)
}

// MovQRegMem emits mov qword [base+disp], src64.
func (a *Assembler) MovQRegMem(src, base Register, disp int32) {
	a.rexTo(true, src.enc(), 0, base.enc())
	a.byte(0x89)
	a.modRMMem(src.enc(), base, disp)
}

// MovBRegMem emits mov byte [base+disp], src8.
func (a *Assembler) MovBRegMem(src, base Register, disp int32) {
	a.rex8To(src.enc(), base.enc())
	a.byte(0x88)
	a.modRMMem(src.enc(), base, disp)
}

// MovWRegMem emits mov word [base+disp], src16.
func (a *Assembler) MovWRegMem(src, base Register, disp int32) {
	a.byte(0x66)
	a.rexTo(false, src.enc(), 0, base.enc())
	a.byte(0x89)
	a.modRMMem(src.enc(), base, disp)
}

// MovLConstMem emits mov dword [base+disp], imm32.
func (a *Assembler) MovLConstMem(v uint32, base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0xc7)
	a.modRMMem(0, base, disp)
	a.u32(v)
}

// MovWConstMem emits mov word [base+disp], imm16.
func (a *Assembler) MovWConstMem(v uint16, base Register, disp int32) {
	a.byte(0x66)
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0xc7)
	a.modRMMem(0, base, disp)
	a.bytes(byte(v), byte(v>>8))
}

// MovBConstMem emits mov byte [base+disp], imm8.
func (a *Assembler) MovBConstMem(v uint8, base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0xc6)
	a.modRMMem(0, base, disp)
	a.byte(v)
}

// Sign extensions.

// MovBLSXMemReg emits movsx dst32, byte [base+disp].
func (a *Assembler) MovBLSXMemReg(base Register, disp int32, dst Register) {
	a.rexTo(false, dst.enc(), 0, base.enc())
	a.bytes(0x0f, 0xbe)
	a.modRMMem(dst.enc(), base, disp)
}

// MovWLSXMemReg emits movsx dst32, word [base+disp].
func (a *Assembler) MovWLSXMemReg(base Register, disp int32, dst Register) {
	a.rexTo(false, dst.enc(), 0, base.enc())
	a.bytes(0x0f, 0xbf)
	a.modRMMem(dst.enc(), base, disp)
}

// MovBLSXRegReg emits movsx dst32, src8.
func (a *Assembler) MovBLSXRegReg(src, dst Register) {
	a.rex8To(dst.enc(), src.enc())
	a.bytes(0x0f, 0xbe)
	a.modRMReg(dst.enc(), src.enc())
}

// MovWLSXRegReg emits movsx dst32, src16.
func (a *Assembler) MovWLSXRegReg(src, dst Register) {
	a.rexTo(false, dst.enc(), 0, src.enc())
	a.bytes(0x0f, 0xbf)
	a.modRMReg(dst.enc(), src.enc())
}

// MovLQSXRegReg emits movsxd dst64, src32.
func (a *Assembler) MovLQSXRegReg(src, dst Register) {
	a.rexTo(true, dst.enc(), 0, src.enc())
	a.byte(0x63)
	a.modRMReg(dst.enc(), src.enc())
}

// Indexed addressing forms, used by the fast memory handlers and the MMU
// address LUT.

// MovBLSXMemIndexReg emits movsx dst32, byte [base+index].
func (a *Assembler) MovBLSXMemIndexReg(base, index Register, dst Register) {
	a.rexTo(false, dst.enc(), index.enc(), base.enc())
	a.bytes(0x0f, 0xbe)
	a.modRMMemIndex(dst.enc(), base, index, 1, 0)
}

// MovWLSXMemIndexReg emits movsx dst32, word [base+index].
func (a *Assembler) MovWLSXMemIndexReg(base, index Register, dst Register) {
	a.rexTo(false, dst.enc(), index.enc(), base.enc())
	a.bytes(0x0f, 0xbf)
	a.modRMMemIndex(dst.enc(), base, index, 1, 0)
}

// MovLMemIndexReg emits mov dst32, dword [base+index].
func (a *Assembler) MovLMemIndexReg(base, index Register, dst Register) {
	a.rexTo(false, dst.enc(), index.enc(), base.enc())
	a.byte(0x8b)
	a.modRMMemIndex(dst.enc(), base, index, 1, 0)
}

// MovQMemIndexReg emits mov dst64, qword [base+index].
func (a *Assembler) MovQMemIndexReg(base, index Register, dst Register) {
	a.rexTo(true, dst.enc(), index.enc(), base.enc())
	a.byte(0x8b)
	a.modRMMemIndex(dst.enc(), base, index, 1, 0)
}

// MovLMemIndexScaleReg emits mov dst32, dword [base+index*scale+disp].
func (a *Assembler) MovLMemIndexScaleReg(base, index Register, scale byte, disp int32, dst Register) {
	a.rexTo(false, dst.enc(), index.enc(), base.enc())
	a.byte(0x8b)
	a.modRMMemIndex(dst.enc(), base, index, scale, disp)
}

// MovBRegMemIndex emits mov byte [base+index], src8.
func (a *Assembler) MovBRegMemIndex(src, base, index Register) {
	a.rex8Index(src.enc(), index.enc(), base.enc())
	a.byte(0x88)
	a.modRMMemIndex(src.enc(), base, index, 1, 0)
}

// MovWRegMemIndex emits mov word [base+index], src16.
func (a *Assembler) MovWRegMemIndex(src, base, index Register) {
	a.byte(0x66)
	a.rexTo(false, src.enc(), index.enc(), base.enc())
	a.byte(0x89)
	a.modRMMemIndex(src.enc(), base, index, 1, 0)
}

// MovLRegMemIndex emits mov dword [base+index], src32.
func (a *Assembler) MovLRegMemIndex(src, base, index Register) {
	a.rexTo(false, src.enc(), index.enc(), base.enc())
	a.byte(0x89)
	a.modRMMemIndex(src.enc(), base, index, 1, 0)
}

// MovQRegMemIndex emits mov qword [base+index], src64.
func (a *Assembler) MovQRegMemIndex(src, base, index Register) {
	a.rexTo(true, src.enc(), index.enc(), base.enc())
	a.byte(0x89)
	a.modRMMemIndex(src.enc(), base, index, 1, 0)
}

func (a *Assembler) rex8Index(ro, index, base byte) {
	var b byte
	if ro >= 8 {
		b |= rexR
	}
	if index >= 8 {
		b |= rexX
	}
	if base >= 8 {
		b |= rexB
	}
	if b != 0 || (ro >= 4 && ro <= 7) {
		a.byte(rex | b)
	}
}

// ALU, register forms.

func (a *Assembler) aluRegReg(opcode byte, w bool, src, dst Register) {
	a.rexTo(w, src.enc(), 0, dst.enc())
	a.byte(opcode)
	a.modRMReg(src.enc(), dst.enc())
}

// AddLRegReg emits add dst32, src32.
func (a *Assembler) AddLRegReg(src, dst Register) { a.aluRegReg(0x01, false, src, dst) }

// SubLRegReg emits sub dst32, src32.
func (a *Assembler) SubLRegReg(src, dst Register) { a.aluRegReg(0x29, false, src, dst) }

// SubQRegReg emits sub dst64, src64.
func (a *Assembler) SubQRegReg(src, dst Register) { a.aluRegReg(0x29, true, src, dst) }

// AndLRegReg emits and dst32, src32.
func (a *Assembler) AndLRegReg(src, dst Register) { a.aluRegReg(0x21, false, src, dst) }

// OrLRegReg emits or dst32, src32.
func (a *Assembler) OrLRegReg(src, dst Register) { a.aluRegReg(0x09, false, src, dst) }

// XorLRegReg emits xor dst32, src32.
func (a *Assembler) XorLRegReg(src, dst Register) { a.aluRegReg(0x31, false, src, dst) }

// CmpLRegReg emits cmp dst32, src32.
func (a *Assembler) CmpLRegReg(src, dst Register) { a.aluRegReg(0x39, false, src, dst) }

// TestLRegReg emits test dst32, src32.
func (a *Assembler) TestLRegReg(src, dst Register) { a.aluRegReg(0x85, false, src, dst) }

// AddLMemReg emits add dst32, dword [base+disp].
func (a *Assembler) AddLMemReg(base Register, disp int32, dst Register) {
	a.rexTo(false, dst.enc(), 0, base.enc())
	a.byte(0x03)
	a.modRMMem(dst.enc(), base, disp)
}

// ALU, immediate forms (group 1, /ext).

func (a *Assembler) aluConst(ext byte, w bool, dst Register, v uint32) {
	a.rexTo(w, 0, 0, dst.enc())
	a.byte(0x81)
	a.modRMReg(ext, dst.enc())
	a.u32(v)
}

// AddLConst emits add dst32, imm32.
func (a *Assembler) AddLConst(dst Register, v uint32) { a.aluConst(0, false, dst, v) }

// OrLConst emits or dst32, imm32.
func (a *Assembler) OrLConst(dst Register, v uint32) { a.aluConst(1, false, dst, v) }

// AndLConst emits and dst32, imm32.
func (a *Assembler) AndLConst(dst Register, v uint32) { a.aluConst(4, false, dst, v) }

// SubLConst emits sub dst32, imm32.
func (a *Assembler) SubLConst(dst Register, v uint32) { a.aluConst(5, false, dst, v) }

// SubQConst emits sub dst64, imm32 (sign extended).
func (a *Assembler) SubQConst(dst Register, v uint32) { a.aluConst(5, true, dst, v) }

// AddQConst emits add dst64, imm32 (sign extended).
func (a *Assembler) AddQConst(dst Register, v uint32) { a.aluConst(0, true, dst, v) }

// XorLConst emits xor dst32, imm32.
func (a *Assembler) XorLConst(dst Register, v uint32) { a.aluConst(6, false, dst, v) }

// CmpLConst emits cmp dst32, imm32.
func (a *Assembler) CmpLConst(dst Register, v uint32) { a.aluConst(7, false, dst, v) }

// TestLConst emits test dst32, imm32.
func (a *Assembler) TestLConst(dst Register, v uint32) {
	a.rexTo(false, 0, 0, dst.enc())
	a.byte(0xf7)
	a.modRMReg(0, dst.enc())
	a.u32(v)
}

// ALU, memory destination forms.

// SubLConstMem emits sub dword [base+disp], imm32.
func (a *Assembler) SubLConstMem(v uint32, base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0x81)
	a.modRMMem(5, base, disp)
	a.u32(v)
}

// AddLConstMem emits add dword [base+disp], imm32.
func (a *Assembler) AddLConstMem(v uint32, base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0x81)
	a.modRMMem(0, base, disp)
	a.u32(v)
}

// TestLConstMem emits test dword [base+disp], imm32.
func (a *Assembler) TestLConstMem(v uint32, base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0xf7)
	a.modRMMem(0, base, disp)
	a.u32(v)
}

// CmpLConstMem emits cmp dword [base+disp], imm32.
func (a *Assembler) CmpLConstMem(v uint32, base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0x81)
	a.modRMMem(7, base, disp)
	a.u32(v)
}

// CmpLRegMem emits cmp dword [base+disp], src32.
func (a *Assembler) CmpLRegMem(src, base Register, disp int32) {
	a.rexTo(false, src.enc(), 0, base.enc())
	a.byte(0x39)
	a.modRMMem(src.enc(), base, disp)
}

// CmpQRegMem emits cmp qword [base+disp], src64.
func (a *Assembler) CmpQRegMem(src, base Register, disp int32) {
	a.rexTo(true, src.enc(), 0, base.enc())
	a.byte(0x39)
	a.modRMMem(src.enc(), base, disp)
}

// CmpWRegMem emits cmp word [base+disp], src16.
func (a *Assembler) CmpWRegMem(src, base Register, disp int32) {
	a.byte(0x66)
	a.rexTo(false, src.enc(), 0, base.enc())
	a.byte(0x39)
	a.modRMMem(src.enc(), base, disp)
}

// Unary group 3 and shifts.

// NegL emits neg dst32.
func (a *Assembler) NegL(dst Register) {
	a.rexTo(false, 0, 0, dst.enc())
	a.byte(0xf7)
	a.modRMReg(3, dst.enc())
}

// NegQ emits neg dst64.
func (a *Assembler) NegQ(dst Register) {
	a.rexTo(true, 0, 0, dst.enc())
	a.byte(0xf7)
	a.modRMReg(3, dst.enc())
}

// NotL emits not dst32.
func (a *Assembler) NotL(dst Register) {
	a.rexTo(false, 0, 0, dst.enc())
	a.byte(0xf7)
	a.modRMReg(2, dst.enc())
}

// MulQ emits mul src64 (rdx:rax = rax * src64).
func (a *Assembler) MulQ(src Register) {
	a.rexTo(true, 0, 0, src.enc())
	a.byte(0xf7)
	a.modRMReg(4, src.enc())
}

func (a *Assembler) shiftConst(ext byte, w bool, dst Register, n uint8) {
	a.rexTo(w, 0, 0, dst.enc())
	a.byte(0xc1)
	a.modRMReg(ext, dst.enc())
	a.byte(n)
}

// ShlLConst emits shl dst32, imm8.
func (a *Assembler) ShlLConst(dst Register, n uint8) { a.shiftConst(4, false, dst, n) }

// ShrLConst emits shr dst32, imm8.
func (a *Assembler) ShrLConst(dst Register, n uint8) { a.shiftConst(5, false, dst, n) }

// SarLConst emits sar dst32, imm8.
func (a *Assembler) SarLConst(dst Register, n uint8) { a.shiftConst(7, false, dst, n) }

// ShrQConst emits shr dst64, imm8.
func (a *Assembler) ShrQConst(dst Register, n uint8) { a.shiftConst(5, true, dst, n) }

// Stack.

// Push emits push r64.
func (a *Assembler) Push(r Register) {
	a.rexTo(false, 0, 0, r.enc())
	a.byte(0x50 + r.enc()&7)
}

// Pop emits pop r64.
func (a *Assembler) Pop(r Register) {
	a.rexTo(false, 0, 0, r.enc())
	a.byte(0x58 + r.enc()&7)
}

// SSE scalar and move forms.

func (a *Assembler) sse(prefix byte, op byte, x, rm Register, mem bool, base Register, disp int32) {
	if prefix != 0 {
		a.byte(prefix)
	}
	if mem {
		a.rexTo(false, x.enc(), 0, base.enc())
	} else {
		a.rexTo(false, x.enc(), 0, rm.enc())
	}
	a.bytes(0x0f, op)
	if mem {
		a.modRMMem(x.enc(), base, disp)
	} else {
		a.modRMReg(x.enc(), rm.enc())
	}
}

// MovDRegXmm emits movd dst_xmm, src32.
func (a *Assembler) MovDRegXmm(src, dst Register) {
	a.sse(0x66, 0x6e, dst, src, false, 0, 0)
}

// MovDXmmReg emits movd dst32, src_xmm.
func (a *Assembler) MovDXmmReg(src, dst Register) {
	a.sse(0x66, 0x7e, src, dst, false, 0, 0)
}

// MovDMemXmm emits movd dst_xmm, dword [base+disp].
func (a *Assembler) MovDMemXmm(base Register, disp int32, dst Register) {
	a.sse(0x66, 0x6e, dst, 0, true, base, disp)
}

// MovDXmmMem emits movd dword [base+disp], src_xmm.
func (a *Assembler) MovDXmmMem(src, base Register, disp int32) {
	a.sse(0x66, 0x7e, src, 0, true, base, disp)
}

// MovSSXmmXmm emits movss dst_xmm, src_xmm.
func (a *Assembler) MovSSXmmXmm(src, dst Register) {
	a.sse(0xf3, 0x10, dst, src, false, 0, 0)
}

// MovSSMemXmm emits movss dst_xmm, dword [base+disp].
func (a *Assembler) MovSSMemXmm(base Register, disp int32, dst Register) {
	a.sse(0xf3, 0x10, dst, 0, true, base, disp)
}

// MovSSXmmMem emits movss dword [base+disp], src_xmm.
func (a *Assembler) MovSSXmmMem(src, base Register, disp int32) {
	a.sse(0xf3, 0x11, src, 0, true, base, disp)
}

// AddSS emits addss dst_xmm, src_xmm.
func (a *Assembler) AddSS(src, dst Register) {
	a.sse(0xf3, 0x58, dst, src, false, 0, 0)
}

// MulSS emits mulss dst_xmm, src_xmm.
func (a *Assembler) MulSS(src, dst Register) {
	a.sse(0xf3, 0x59, dst, src, false, 0, 0)
}

// MovUPSMemXmm emits movups dst_xmm, xmmword [base+disp].
func (a *Assembler) MovUPSMemXmm(base Register, disp int32, dst Register) {
	a.sse(0, 0x10, dst, 0, true, base, disp)
}

// MovUPSXmmMem emits movups xmmword [base+disp], src_xmm.
func (a *Assembler) MovUPSXmmMem(src, base Register, disp int32) {
	a.sse(0, 0x11, src, 0, true, base, disp)
}

// AVX 256-bit moves (VEX encoded).

func (a *Assembler) vex256(op byte, x, base Register, disp int32) {
	xe, be := x.enc(), base.enc()
	if be < 8 {
		// 2-byte VEX: C5 [R' vvvv L pp]
		b := byte(0x78 | 1<<2) // vvvv=1111, L=1, pp=00
		if xe < 8 {
			b |= 0x80
		}
		a.bytes(0xc5, b)
	} else {
		// 3-byte VEX: C4 [RXB mmmmm] [W vvvv L pp]
		b1 := byte(0x01) // mmmmm=00001 (0F)
		if xe < 8 {
			b1 |= 0x80
		}
		b1 |= 0x40 // no index
		// no B extension bit set: base >= 8 clears it
		a.bytes(0xc4, b1&^0x20, 0x78|1<<2)
	}
	a.byte(op)
	a.modRMMem(xe, base, disp)
}

// VmovUPSMemYmm emits vmovups dst_ymm, ymmword [base+disp].
func (a *Assembler) VmovUPSMemYmm(base Register, disp int32, dst Register) {
	a.vex256(0x10, dst, base, disp)
}

// VmovUPSYmmMem emits vmovups ymmword [base+disp], src_ymm.
func (a *Assembler) VmovUPSYmmMem(src, base Register, disp int32) {
	a.vex256(0x11, src, base, disp)
}

// Vfmadd231SS emits vfmadd231ss dst, src2, src3 (dst += src2*src3).
// VEX.DDS.LIG.66.0F38.W0 B9 /r.
func (a *Assembler) Vfmadd231SS(dst, src2, src3 Register) {
	de, s3 := dst.enc(), src3.enc()
	b1 := byte(0x02) // mmmmm=00010 (0F38)
	if de < 8 {
		b1 |= 0x80 // ~R
	}
	b1 |= 0x40 // ~X
	if s3 < 8 {
		b1 |= 0x20 // ~B
	}
	b2 := byte(0x01) // pp=01 (66), L=0, W=0
	b2 |= (^src2.enc() & 0xf) << 3
	a.bytes(0xc4, b1, b2, 0xb9)
	a.modRMReg(de, s3)
}

// AVX-512 64-byte moves (EVEX encoded). Only the forms the bank swap needs:
// zmm0/zmm1 against [base], no displacement, no masking.

func (a *Assembler) evex512(op byte, x, base Register, disp int32) {
	if disp != 0 || base.enc()&7 == 5 || base.enc()&7 == 4 {
		a.setErr(fmt.Errorf("unsupported EVEX operand [%s+%d]", base, disp))
		return
	}
	xe, be := x.enc(), base.enc()
	b1 := byte(0x01) // mm=01 (0F)
	if xe < 8 {
		b1 |= 0x80 | 0x10 // ~R, ~R'
	} else {
		b1 |= 0x10
	}
	b1 |= 0x40 // ~X
	if be < 8 {
		b1 |= 0x20 // ~B
	}
	b2 := byte(0x80 | 0x78 | 0x04 | 0x02) // W=1, ~vvvv=1111, pp=10 (F3)
	b3 := byte(0x40 | 0x08)               // L'L=10 (512-bit), ~V'=1
	a.bytes(0x62, b1, b2, b3, op)
	a.byte(modMem | ((xe & 7) << 3) | (be & 7))
}

// VmovDQU64MemZmm emits vmovdqu64 dst_zmm, zmmword [base].
func (a *Assembler) VmovDQU64MemZmm(base Register, dst Register) {
	a.evex512(0x6f, dst, base, 0)
}

// VmovDQU64ZmmMem emits vmovdqu64 zmmword [base], src_zmm.
func (a *Assembler) VmovDQU64ZmmMem(src, base Register) {
	a.evex512(0x7f, src, base, 0)
}
