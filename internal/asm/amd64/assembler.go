// Package asm_amd64 implements a small x86-64 assembler emitting directly
// into an executable code buffer.
//
// Unlike list-based assemblers, bytes are written at their final address as
// instructions are issued, so the current offset is always meaningful and
// already-emitted code can be patched in place. Forward references are
// resolved when their label binds; Ready reports any reference left dangling.
// Please refer to https://www.felixcloutier.com/x86/index.html if unfamiliar
// with the amd64 instructions used here.
package asm_amd64

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

const (
	rex  = 0x40
	rexW = rex | (1 << 3)
	rexR = rex | (1 << 2)
	rexX = rex | (1 << 1)
	rexB = rex | (1 << 0)
)

// Assembler emits amd64 machine code at a fixed base address.
//
// Encoding errors are sticky: the first one is kept and everything after it
// becomes a no-op, so call sites stay linear and the error is collected once
// via Ready.
type Assembler struct {
	buf    []byte
	base   uintptr
	off    int
	err    error
	labels []*Label
}

// NewAssembler returns an assembler writing at base, with at most capacity
// bytes available. The memory must be writable while emitting.
func NewAssembler(base uintptr, capacity int) *Assembler {
	return &Assembler{
		buf:  unsafe.Slice((*byte)(unsafe.Pointer(base)), capacity),
		base: base,
	}
}

// Label is a forward-referencable position in the emitted code.
type Label struct {
	bound bool
	off   int
	refs  []labelRef
}

type labelRef struct {
	at    int // offset of the rel8/rel32 field
	short bool
}

// Base returns the address the assembler emits at.
func (a *Assembler) Base() uintptr { return a.base }

// Offset returns the current emission offset from Base.
func (a *Assembler) Offset() int { return a.off }

// Addr returns the address of the next instruction to be emitted.
func (a *Assembler) Addr() uintptr { return a.base + uintptr(a.off) }

// SetOffset moves the emission cursor. Used to lay data past the code and by
// the unwind publisher to measure reserved regions.
func (a *Assembler) SetOffset(off int) {
	if off < 0 || off > len(a.buf) {
		a.setErr(fmt.Errorf("offset %d outside buffer of %d bytes", off, len(a.buf)))
		return
	}
	a.off = off
}

// Capacity returns the number of bytes available to the assembler.
func (a *Assembler) Capacity() int { return len(a.buf) }

// AddrOf returns the address of a bound label.
func (a *Assembler) AddrOf(l *Label) uintptr {
	if !l.bound {
		a.setErr(fmt.Errorf("address of unbound label"))
		return 0
	}
	return a.base + uintptr(l.off)
}

// Err returns the sticky encoding error, if any.
func (a *Assembler) Err() error { return a.err }

// SetErr records an external error through the sticky error mechanism, so a
// caller detecting an impossible lowering aborts the emission like an
// encoding fault would.
func (a *Assembler) SetErr(err error) { a.setErr(err) }

// Ready commits the emitted code: it verifies that no label is left unbound
// and returns the sticky error. After a successful Ready the bytes in
// [Base, Base+Offset) form the final instruction stream.
func (a *Assembler) Ready() error {
	for _, l := range a.labels {
		if !l.bound && len(l.refs) > 0 {
			a.setErr(fmt.Errorf("unbound label with %d references", len(l.refs)))
			break
		}
	}
	return a.err
}

// Byte emits one raw data byte at the current offset.
func (a *Assembler) Byte(b byte) {
	a.byte(b)
}

func (a *Assembler) setErr(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *Assembler) byte(b byte) {
	if a.err != nil {
		return
	}
	if a.off >= len(a.buf) {
		a.setErr(fmt.Errorf("code buffer exhausted at offset %d", a.off))
		return
	}
	a.buf[a.off] = b
	a.off++
}

func (a *Assembler) bytes(bs ...byte) {
	for _, b := range bs {
		a.byte(b)
	}
}

func (a *Assembler) u32(v uint32) {
	a.bytes(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *Assembler) u64(v uint64) {
	a.u32(uint32(v))
	a.u32(uint32(v >> 32))
}

// rexTo emits a REX prefix if any of its bits are needed. w selects 64-bit
// operand size; ro, index and rmOrBase contribute the R, X and B extensions.
func (a *Assembler) rexTo(w bool, ro, index, rmOrBase byte) {
	var b byte
	if w {
		b = rexW
	}
	if ro >= 8 {
		b |= rexR
	}
	if index >= 8 {
		b |= rexX
	}
	if rmOrBase >= 8 {
		b |= rexB
	}
	if b != 0 {
		a.byte(b)
	}
}

// rex8To is rexTo for instructions with an 8-bit register operand: sp/bp/si/di
// are only addressable as byte registers with a REX prefix present.
func (a *Assembler) rex8To(ro, rmOrBase byte) {
	var b byte
	if ro >= 8 {
		b |= rexR
	}
	if rmOrBase >= 8 {
		b |= rexB
	}
	if b != 0 || (ro >= 4 && ro <= 7) || (rmOrBase >= 4 && rmOrBase <= 7) {
		a.byte(rex | b)
	}
}

const (
	modMem       = 0 << 6
	modMemDisp8  = 1 << 6
	modMemDisp32 = 2 << 6
	modReg       = 3 << 6
)

// modRM emits a register-direct ModRM byte.
func (a *Assembler) modRMReg(ro, rm byte) {
	a.byte(modReg | ((ro & 7) << 3) | (rm & 7))
}

// modRMMem emits ModRM (+SIB) (+disp) for a [base+disp] operand.
// rbp/r13 require an explicit displacement; rsp/r12 require a SIB byte.
func (a *Assembler) modRMMem(ro byte, base Register, disp int32) {
	b := base.enc()
	mod, dispSize := dispMod(b, disp)
	a.byte(mod | ((ro & 7) << 3) | (b & 7))
	if b&7 == 4 { // rsp/r12: rm=100 selects a SIB byte
		a.byte(0x24)
	}
	a.emitDisp(disp, dispSize)
}

// modRMMemIndex emits ModRM+SIB (+disp) for a [base+index*scale+disp] operand.
// scale must be 1, 2, 4 or 8.
func (a *Assembler) modRMMemIndex(ro byte, base, index Register, scale byte, disp int32) {
	var ss byte
	switch scale {
	case 1:
		ss = 0
	case 2:
		ss = 1
	case 4:
		ss = 2
	case 8:
		ss = 3
	default:
		a.setErr(fmt.Errorf("invalid scale factor %d", scale))
		return
	}
	if index.enc()&7 == 4 && index.enc() < 8 {
		a.setErr(fmt.Errorf("rsp cannot be an index register"))
		return
	}
	b := base.enc()
	mod, dispSize := dispMod(b, disp)
	a.byte(byte(mod) | ((ro & 7) << 3) | 4)
	a.byte((ss << 6) | ((index.enc() & 7) << 3) | (b & 7))
	a.emitDisp(disp, dispSize)
}

func dispMod(base byte, disp int32) (mod byte, dispSize int) {
	switch {
	case disp == 0 && base&7 != 5: // rbp/r13 need a displacement
		return modMem, 0
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		return modMemDisp8, 1
	default:
		return modMemDisp32, 4
	}
}

func (a *Assembler) emitDisp(disp int32, size int) {
	switch size {
	case 0:
	case 1:
		a.byte(byte(disp))
	case 4:
		a.u32(uint32(disp))
	}
}

// Bind places l at the current offset and resolves all pending references.
func (a *Assembler) Bind(l *Label) {
	if l.bound {
		a.setErr(fmt.Errorf("label bound twice"))
		return
	}
	l.bound = true
	l.off = a.off
	for _, ref := range l.refs {
		a.patchRel(ref, l.off)
	}
	l.refs = nil
}

func (a *Assembler) patchRel(ref labelRef, target int) {
	if a.err != nil {
		return
	}
	if ref.short {
		rel := target - (ref.at + 1)
		if rel < math.MinInt8 || rel > math.MaxInt8 {
			a.setErr(fmt.Errorf("short jump target out of range: %d bytes", rel))
			return
		}
		a.buf[ref.at] = byte(rel)
	} else {
		rel := target - (ref.at + 4)
		binary.LittleEndian.PutUint32(a.buf[ref.at:], uint32(rel))
	}
}

func (a *Assembler) refLabel(l *Label, short bool) {
	at := a.off
	if short {
		a.byte(0)
	} else {
		a.u32(0)
	}
	if a.err != nil {
		return
	}
	ref := labelRef{at: at, short: short}
	if l.bound {
		a.patchRel(ref, l.off)
	} else {
		l.refs = append(l.refs, ref)
		a.labels = appendLabelOnce(a.labels, l)
	}
}

func appendLabelOnce(labels []*Label, l *Label) []*Label {
	for _, have := range labels {
		if have == l {
			return labels
		}
	}
	return append(labels, l)
}

// Jmp emits a jump to l: rel8 when short, rel32 otherwise.
func (a *Assembler) Jmp(l *Label, short bool) {
	if short {
		a.byte(0xeb)
	} else {
		a.byte(0xe9)
	}
	a.refLabel(l, short)
}

// Jcc emits a conditional jump to l: rel8 when short, rel32 otherwise.
func (a *Assembler) Jcc(cc Cond, l *Label, short bool) {
	if short {
		a.byte(0x70 | byte(cc))
	} else {
		a.bytes(0x0f, 0x80|byte(cc))
	}
	a.refLabel(l, short)
}

// CallAddr emits a 5-byte direct call to an absolute target, which must be
// within rel32 range of the call site.
func (a *Assembler) CallAddr(target uintptr) {
	a.byte(0xe8)
	a.rel32(target)
}

// JmpAddr emits a 5-byte direct jump to an absolute target, which must be
// within rel32 range of the jump site.
func (a *Assembler) JmpAddr(target uintptr) {
	a.byte(0xe9)
	a.rel32(target)
}

func (a *Assembler) rel32(target uintptr) {
	next := a.Addr() + 4
	diff := int64(target) - int64(next)
	if diff < math.MinInt32 || diff > math.MaxInt32 {
		a.setErr(fmt.Errorf("rel32 target %#x out of range from %#x", target, next))
		diff = 0
	}
	a.u32(uint32(diff))
}

// CallReg emits an indirect call through a register.
func (a *Assembler) CallReg(r Register) {
	a.rexTo(false, 0, 0, r.enc())
	a.byte(0xff)
	a.modRMReg(2, r.enc())
}

// CallMem emits an indirect call through a [base+disp] pointer slot.
func (a *Assembler) CallMem(base Register, disp int32) {
	a.rexTo(false, 0, 0, base.enc())
	a.byte(0xff)
	a.modRMMem(2, base, disp)
}

// JmpReg emits an indirect jump through a register.
func (a *Assembler) JmpReg(r Register) {
	a.rexTo(false, 0, 0, r.enc())
	a.byte(0xff)
	a.modRMReg(4, r.enc())
}

// Ret emits a near return.
func (a *Assembler) Ret() {
	a.byte(0xc3)
}
