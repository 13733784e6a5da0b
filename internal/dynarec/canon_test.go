//go:build amd64

package dynarec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

const opTestCanonical = sh4.OpCanonicalBase + 1

func TestCanon_U32Call(t *testing.T) {
	e := newTestEnv(t, Config{})
	// Host lowering: rd = rs1 - rs2, via the ABI-agnostic protocol.
	subFn := e.emitStub(func(a *amd64.Assembler) {
		a.MovLRegReg(hostABI.callRegs[0], amd64.RegAX)
		a.SubLRegReg(hostABI.callRegs[1], amd64.RegAX)
		a.Ret()
	})
	e.d.hooks.CanonicalLower = func(op *sh4.Op) {
		d := e.d
		d.CanonStart(op)
		d.CanonParam(op, &op.Rs1, sh4.CanonU32)
		d.CanonParam(op, &op.Rs2, sh4.CanonU32)
		d.CanonCall(op, subFn)
		d.CanonParam(op, &op.Rd, sh4.CanonU32Rv)
		d.CanonFinish(op)
	}

	b := block(sh4.Op{
		Kind: opTestCanonical,
		Rd:   sh4.Reg(sh4.RegR0),
		Rs1:  sh4.Reg(sh4.RegR1),
		Rs2:  sh4.Imm(11),
	})
	e.compile(b, false, false)

	e.ctx.R[1] = 100
	e.run(b)
	require.Equal(t, uint32(89), e.ctx.R[0])
}

func TestCanon_U64ReturnPair(t *testing.T) {
	e := newTestEnv(t, Config{})
	// Host lowering: (rd2:rd) = rs1 * rs2, unsigned widening.
	mulFn := e.emitStub(func(a *amd64.Assembler) {
		a.MovLRegReg(hostABI.callRegs[0], amd64.RegAX)
		a.MovLRegReg(hostABI.callRegs[1], amd64.RegCX)
		a.MulQ(amd64.RegCX)
		a.Ret()
	})
	e.d.hooks.CanonicalLower = func(op *sh4.Op) {
		d := e.d
		d.CanonStart(op)
		d.CanonParam(op, &op.Rs1, sh4.CanonU32)
		d.CanonParam(op, &op.Rs2, sh4.CanonU32)
		d.CanonCall(op, mulFn)
		d.CanonParam(op, &op.Rd, sh4.CanonU64RvL)
		d.CanonParam(op, &op.Rd2, sh4.CanonU64RvH)
		d.CanonFinish(op)
	}

	b := block(sh4.Op{
		Kind: opTestCanonical,
		Rd:   sh4.Reg(sh4.RegR0),
		Rd2:  sh4.Reg(sh4.RegR1),
		Rs1:  sh4.Reg(sh4.RegR2),
		Rs2:  sh4.Reg(sh4.RegR3),
	})
	e.compile(b, false, false)

	e.ctx.R[2] = 0xFFFFFFFF
	e.ctx.R[3] = 0x10
	e.run(b)
	require.Equal(t, uint32(0xFFFFFFF0), e.ctx.R[0])
	require.Equal(t, uint32(0xF), e.ctx.R[1])
}

func TestCanon_F32Call(t *testing.T) {
	e := newTestEnv(t, Config{})
	// Host lowering: rd = rs1 * rs2 in single precision.
	mulFn := e.emitStub(func(a *amd64.Assembler) {
		a.MulSS(hostABI.callRegsXmm[1], hostABI.callRegsXmm[0])
		a.Ret()
	})
	e.d.hooks.CanonicalLower = func(op *sh4.Op) {
		d := e.d
		d.CanonStart(op)
		d.CanonParam(op, &op.Rs1, sh4.CanonF32)
		d.CanonParam(op, &op.Rs2, sh4.CanonF32)
		d.CanonCall(op, mulFn)
		d.CanonParam(op, &op.Rd, sh4.CanonF32Rv)
		d.CanonFinish(op)
	}

	b := block(sh4.Op{
		Kind: opTestCanonical,
		Rd:   sh4.Reg(sh4.FR(0)),
		Rs1:  sh4.Reg(sh4.FR(1)),
		Rs2:  sh4.Reg(sh4.FR(2)),
	})
	e.compile(b, false, false)

	e.ctx.FR[1] = 2.5
	e.ctx.FR[2] = 4
	e.run(b)
	require.Equal(t, math.Float32bits(10), math.Float32bits(e.ctx.FR[0]))
}

func TestCanon_NoLowererFailsCompile(t *testing.T) {
	e := newTestEnv(t, Config{})
	b := block(sh4.Op{Kind: opTestCanonical})
	require.Error(t, e.d.Compile(b, false, false))
	require.Zero(t, b.Code)
}