//go:build amd64

package dynarec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamcast-go/sh4jit/sh4"
)

func TestMemHandlers_GridWithinExtent(t *testing.T) {
	e := newTestEnv(t, Config{})
	start, end := e.d.MemHandlerExtent()
	require.Less(t, uint64(start), uint64(end))
	for typ := 0; typ < memTypeCount; typ++ {
		for size := 0; size < memSizeCount; size++ {
			for op := 0; op < memOpCount; op++ {
				h := e.d.MemHandler(typ, size, op)
				require.GreaterOrEqual(t, uint64(h), uint64(start))
				require.Less(t, uint64(h), uint64(end))
			}
		}
	}
}

func TestMemHandlers_FastEntriesDistinct(t *testing.T) {
	e := newTestEnv(t, Config{})
	seen := map[uintptr]bool{}
	for size := 0; size < memSizeCount; size++ {
		for op := 0; op < memOpCount; op++ {
			h := e.d.MemHandler(memTypeFast, size, op)
			require.False(t, seen[h], "fast handlers must be distinguishable by address")
			seen[h] = true
		}
	}
}

func TestMemHandlers_AllSizes(t *testing.T) {
	for _, optimise := range []bool{false, true} {
		name := "slow"
		if optimise {
			name = "fast"
		}
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t, Config{})

			// Byte read of 0x80 must sign extend through either tier.
			e.ram[0x500] = 0x80
			rd8 := block(sh4.Op{Kind: sh4.OpReadm, Rd: sh4.Reg(sh4.RegR0), Rs1: sh4.Reg(sh4.RegR1), Size: 1})
			e.compile(rd8, false, optimise)
			e.ctx.R[1] = 0x500
			e.run(rd8)
			require.Equal(t, uint32(0xFFFFFF80), e.ctx.R[0])

			// 64-bit round trip between two RAM locations.
			wr64 := block(
				sh4.Op{Kind: sh4.OpReadm, Rd: sh4.Reg64f(sh4.FR(0)), Rs1: sh4.Reg(sh4.RegR1), Size: 8},
				sh4.Op{Kind: sh4.OpWritem, Rs1: sh4.Reg(sh4.RegR2), Rs2: sh4.Reg64f(sh4.FR(0)), Size: 8},
			)
			e.compile(wr64, false, optimise)
			copy(e.ram[0x600:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
			e.ctx.R[1] = 0x600
			e.ctx.R[2] = 0x700
			e.run(wr64)
			require.Equal(t, e.ram[0x600:0x608], e.ram[0x700:0x708])
		})
	}
}

func TestMemHandlers_StoreQueueDirect(t *testing.T) {
	// A block compiled for the fast tier, with its call site rewritten to the
	// store-queue handler: the handler itself must divert non-queue addresses
	// to the generic write path.
	e := newTestEnv(t, Config{})
	b := block(sh4.Op{
		Kind: sh4.OpWritem,
		Rs1:  sh4.Reg(sh4.RegR1),
		Rs2:  sh4.Reg(sh4.RegR2),
		Size: 4,
	})
	e.compile(b, false, true)

	// Patch the fast call site to the store-queue handler, then drive a
	// non-queue address through it: the write must land in RAM.
	site := findCallSite(t, e, b, e.d.MemHandler(memTypeFast, memSizeS32, memOpW))
	stack := []uintptr{site + 5}
	hctx := HostContext{
		PC:  e.d.MemHandler(memTypeFast, memSizeS32, memOpW),
		RSP: stackAddr(stack),
		R9:  0xE0000004,
	}
	require.True(t, e.d.Rewrite(&hctx, 0))

	e.ctx.R[1] = 0xE0000004
	e.ctx.R[2] = 0x01020304
	e.run(b)
	require.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(e.ctx.SQBuffer[4:8]))

	e.ctx.R[1] = 0x800
	e.ctx.R[2] = 0x0A0B0C0D
	e.run(b)
	require.Equal(t, uint32(0x0A0B0C0D), binary.LittleEndian.Uint32(e.ram[0x800:0x804]))
}

func TestMainloop_RequiresReset(t *testing.T) {
	d := New(Config{})
	require.Error(t, d.Mainloop())
	require.Error(t, d.Compile(block(), false, false))
}

func TestMainloop_StopsWhenCpuNotRunning(t *testing.T) {
	e := newTestEnv(t, Config{})
	b := block()
	e.compile(b, false, false)

	// CpuRunning already zero: the run loop must exit without dispatching.
	e.ctx.PC = b.Vaddr
	e.ctx.CpuRunning = 0
	e.ctx.CycleCounter = 1
	pcBefore := e.ctx.PC
	require.NoError(t, e.d.Mainloop())
	require.Equal(t, pcBefore, e.ctx.PC)
}