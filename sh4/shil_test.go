package sh4

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestParam_Queries(t *testing.T) {
	require.True(t, Imm(5).IsImm())
	require.False(t, Imm(5).IsReg())
	require.Equal(t, uint32(5), Imm(5).ImmValue())

	r := Reg(RegR3)
	require.True(t, r.IsReg())
	require.False(t, r.IsNull())
	require.False(t, r.IsR64f())

	var null Param
	require.True(t, null.IsNull())

	pair := Reg64f(FR(2))
	require.True(t, pair.IsR64f())
	require.False(t, Reg64f(RegR0).IsR64f(), "pairs only exist in the floating banks")
}

func TestContext_RegPtr(t *testing.T) {
	ctx := &Context{}

	require.Equal(t, uintptr(unsafe.Pointer(&ctx.R[7])), ctx.Ptr(RegR7))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.FR[0])), ctx.Ptr(RegFR0))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.FR[15])), ctx.Ptr(FR(15)))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.XF[3])), ctx.Ptr(XF(3)))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.PC)), ctx.Ptr(RegPC))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.SR.T)), ctx.Ptr(RegSRT))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.SR.Status)), ctx.Ptr(RegSRStatus))
	require.Equal(t, uintptr(unsafe.Pointer(&ctx.Jdyn)), ctx.Ptr(RegJdyn))

	// Pairs are adjacent: the 64-bit move path depends on it.
	require.Equal(t, ctx.Ptr(FR(0))+4, ctx.Ptr(FR(1)))

	require.Panics(t, func() { ctx.Ptr(RegID(0x7000)) })
}

func TestContext_SQBufferSize(t *testing.T) {
	var ctx Context
	require.Len(t, ctx.SQBuffer[:], 64)
}

func TestBlockEnd_CondParity(t *testing.T) {
	// The conditional kinds carry their tested parity in the low bit.
	require.Equal(t, 0, int(BlockEndCond0)&1)
	require.Equal(t, 1, int(BlockEndCond1)&1)
}
