package dynarec

import (
	"fmt"
	"unsafe"

	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// Canonical parameter protocol: opcode lowerers that know nothing about the
// host ABI declare their parameters one by one; the compiler assigns argument
// registers at call time and stores return values afterwards.

type ccParam struct {
	tp  sh4.CanonicalParamType
	prm *sh4.Param
}

func (c *blockCompiler) canonStart(op *sh4.Op) {
	c.ccParams = c.ccParams[:0]
}

func (c *blockCompiler) canonParam(op *sh4.Op, prm *sh4.Param, tp sh4.CanonicalParamType) {
	a := c.a
	switch tp {
	case sh4.CanonU32, sh4.CanonPtr, sh4.CanonF32, sh4.CanonSh4ctx:
		c.ccParams = append(c.ccParams, ccParam{tp: tp, prm: prm})

	// store from rax
	case sh4.CanonU64RvL, sh4.CanonU32Rv:
		a.MovQRegReg(amd64.RegAX, amd64.RegCX)
		c.regToParam(*prm, amd64.RegCX)

	case sh4.CanonU64RvH:
		// assuming CanonU64RvL has just been handled
		a.ShrQConst(amd64.RegCX, 32)
		c.regToParam(*prm, amd64.RegCX)

	// store from xmm0
	case sh4.CanonF32Rv:
		c.xmmToParam(*prm, amd64.RegX0)

	default:
		c.fail(fmt.Errorf("unknown canonical parameter type %d", tp))
	}
}

func (c *blockCompiler) canonCall(op *sh4.Op, fn uintptr) {
	a := c.a
	regUsed := 0
	xmmUsed := 0
	for _, p := range c.ccParams {
		if p.tp == sh4.CanonF32 {
			xmmUsed++
		} else {
			regUsed++
		}
	}
	if regUsed > len(hostABI.callRegs) || xmmUsed > len(hostABI.callRegsXmm) {
		c.fail(fmt.Errorf("too many canonical parameters"))
		return
	}

	// Load in reverse so earlier parameters win register slots: each
	// parameter takes the argument register of its declaration position.
	for i := len(c.ccParams); i > 0; {
		i--
		p := c.ccParams[i]
		switch p.tp {
		// pass the contents
		case sh4.CanonU32:
			regUsed--
			c.paramToReg(*p.prm, hostABI.callRegs[regUsed])

		case sh4.CanonF32:
			xmmUsed--
			c.paramToXmm(*p.prm, hostABI.callRegsXmm[xmmUsed])

		// pass the pointer itself
		case sh4.CanonPtr:
			if !p.prm.IsReg() {
				c.fail(fmt.Errorf("canonical ptr parameter is not a register"))
				return
			}
			regUsed--
			a.MovQConst(hostABI.callRegs[regUsed], p.prm.RegPtr(c.ctx))

		case sh4.CanonSh4ctx:
			regUsed--
			a.MovQConst(hostABI.callRegs[regUsed], uintptr(unsafe.Pointer(c.ctx)))
		}
	}
	c.genCall(fn, false)
}

func (c *blockCompiler) canonFinish(op *sh4.Op) {
	c.ccParams = c.ccParams[:0]
}

// paramToXmm materializes p into xmm register x.
func (c *blockCompiler) paramToXmm(p sh4.Param, x amd64.Register) {
	a := c.a
	switch {
	case p.IsImm():
		a.MovLConst(amd64.RegAX, p.Imm)
		a.MovDRegXmm(amd64.RegAX, x)
	case c.regalloc.IsAllocF(p):
		if src := c.regalloc.MapXReg(p); src != x {
			a.MovSSXmmXmm(src, x)
		}
	case c.regalloc.IsAllocG(p):
		a.MovDRegXmm(c.regalloc.MapReg(p), x)
	case p.IsReg():
		a.MovQConst(amd64.RegAX, p.RegPtr(c.ctx))
		a.MovSSMemXmm(amd64.RegAX, 0, x)
	default:
		c.fail(fmt.Errorf("null parameter has no value"))
	}
}

// xmmToParam stores xmm register x into p.
func (c *blockCompiler) xmmToParam(p sh4.Param, x amd64.Register) {
	a := c.a
	switch {
	case c.regalloc.IsAllocF(p):
		if dst := c.regalloc.MapXReg(p); dst != x {
			a.MovSSXmmXmm(x, dst)
		}
	case c.regalloc.IsAllocG(p):
		a.MovDXmmReg(x, c.regalloc.MapReg(p))
	case p.IsReg():
		a.MovQConst(amd64.RegAX, p.RegPtr(c.ctx))
		a.MovSSXmmMem(x, amd64.RegAX, 0)
	default:
		c.fail(fmt.Errorf("cannot store to parameter"))
	}
}
