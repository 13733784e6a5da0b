//go:build amd64

package dynarec

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/dreamcast-go/sh4jit/internal/asm"
	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// testEnv wires a Dynarec instance to native host stubs emitted into a side
// buffer, so generated code runs end to end without any foreign toolchain.
type testEnv struct {
	t   *testing.T
	d   *Dynarec
	ctx *sh4.Context
	buf *asm.CodeBuffer

	stubBuf *asm.CodeBuffer

	// codeSlot is what the GetCodeByVAddr stub returns; tests point it at
	// the block under test after compiling it.
	codeSlot uintptr

	// guest RAM backing the slow handlers and the immediate-access oracle.
	ram []byte

	// host-call records, written by the stubs.
	rec struct {
		exceptionPC   uint32
		exceptionEvn  uint32
		exceptionSlot uint32
		blockCheckPC  uint32
		sqWriteAddr   uint32
		updSR         uint32
		updFPSCR      uint32
		updINTC       uint32
	}
}

const testRAMSize = 0x10000

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	buf, err := asm.NewCodeBuffer(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Unmap() })

	stubBuf, err := asm.NewCodeBuffer(1 << 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stubBuf.Unmap() })

	e := &testEnv{
		t:       t,
		ctx:     &sh4.Context{},
		buf:     buf,
		stubBuf: stubBuf,
		// A few spare bytes so the widening slow-read stub can never load
		// past the mask.
		ram: make([]byte, testRAMSize+8),
	}
	e.d = New(cfg)

	hooks := e.emitStubs()
	require.NoError(t, e.d.Init(e.ctx, buf, hooks))
	require.NoError(t, e.d.Reset())
	return e
}

// emitStub assembles one native stub and returns its entry address.
func (e *testEnv) emitStub(gen func(a *amd64.Assembler)) uintptr {
	e.t.Helper()
	var entry uintptr
	err := e.stubBuf.WithWritable(func() error {
		a := amd64.NewAssembler(e.stubBuf.Get(), e.stubBuf.FreeSpace())
		gen(a)
		if err := a.Ready(); err != nil {
			return err
		}
		entry = a.Base()
		e.stubBuf.Advance(a.Offset())
		return nil
	})
	require.NoError(e.t, err)
	return entry
}

func addrOf32(v *uint32) uintptr { return uintptr(unsafe.Pointer(v)) }

func stackAddr(s []uintptr) uintptr { return uintptr(unsafe.Pointer(&s[0])) }

func addrOfPtr(v *uintptr) uintptr { return uintptr(unsafe.Pointer(v)) }

// storeArg32 emits a store of a 32-bit argument register to a Go counter.
func storeArg32(a *amd64.Assembler, src amd64.Register, dst *uint32) {
	a.MovQConst(amd64.RegAX, addrOf32(dst))
	a.MovLRegMem(src, amd64.RegAX, 0)
}

func (e *testEnv) emitStubs() Hooks {
	arg0, arg1, arg2 := hostABI.callRegs[0], hostABI.callRegs[1], hostABI.callRegs[2]
	ramBase := uintptr(unsafe.Pointer(&e.ram[0]))

	var h Hooks
	h.VirtmemEnabled = true
	h.RAMBase = ramBase

	// Returns whatever codeSlot currently points at.
	h.GetCodeByVAddr = e.emitStub(func(a *amd64.Assembler) {
		a.MovQConst(amd64.RegAX, addrOfPtr(&e.codeSlot))
		a.MovQMemReg(amd64.RegAX, 0, amd64.RegAX)
		a.Ret()
	})

	// Ends the run after the current slice.
	h.UpdateSystemINTC = e.emitStub(func(a *amd64.Assembler) {
		a.MovQConst(amd64.RegAX, addrOf32(&e.ctx.CpuRunning))
		a.MovLConstMem(0, amd64.RegAX, 0)
		a.Ret()
	})

	h.UpdateINTC = e.emitStub(func(a *amd64.Assembler) {
		a.MovQConst(amd64.RegAX, addrOf32(&e.rec.updINTC))
		a.AddLConstMem(1, amd64.RegAX, 0)
		a.Ret()
	})

	// Slow reads: plain loads from test RAM; the handler grid applies the
	// byte/word sign extension itself.
	slowRead := func(wide bool) uintptr {
		return e.emitStub(func(a *amd64.Assembler) {
			a.MovQConst(amd64.RegAX, ramBase)
			a.AndLConst(arg0, testRAMSize-1)
			if wide {
				a.MovQMemIndexReg(amd64.RegAX, arg0, amd64.RegAX)
			} else {
				a.MovLMemIndexReg(amd64.RegAX, arg0, amd64.RegAX)
			}
			a.Ret()
		})
	}
	h.Read[memSizeS8] = slowRead(false)
	h.Read[memSizeS16] = slowRead(false)
	h.Read[memSizeS32] = slowRead(false)
	h.Read[memSizeS64] = slowRead(true)

	slowWrite := func(size int) uintptr {
		return e.emitStub(func(a *amd64.Assembler) {
			a.MovQConst(amd64.RegAX, ramBase)
			a.AndLConst(arg0, testRAMSize-1)
			switch size {
			case memSizeS8:
				a.MovBRegMemIndex(arg1, amd64.RegAX, arg0)
			case memSizeS16:
				a.MovWRegMemIndex(arg1, amd64.RegAX, arg0)
			case memSizeS32:
				a.MovLRegMemIndex(arg1, amd64.RegAX, arg0)
			default:
				a.MovQRegMemIndex(arg1, amd64.RegAX, arg0)
			}
			a.Ret()
		})
	}
	for size := memSizeS8; size <= memSizeS64; size++ {
		h.Write[size] = slowWrite(size)
	}

	h.UpdateSR = e.emitStub(func(a *amd64.Assembler) {
		a.MovQConst(amd64.RegAX, addrOf32(&e.rec.updSR))
		a.AddLConstMem(1, amd64.RegAX, 0)
		a.Ret()
	})
	h.UpdateFPSCR = e.emitStub(func(a *amd64.Assembler) {
		a.MovQConst(amd64.RegAX, addrOf32(&e.rec.updFPSCR))
		a.AddLConstMem(1, amd64.RegAX, 0)
		a.Ret()
	})

	// Records the exception and stops the run (the dispatcher would
	// otherwise keep re-entering the same test block).
	h.DoException = e.emitStub(func(a *amd64.Assembler) {
		storeArg32(a, arg0, &e.rec.exceptionPC)
		storeArg32(a, arg1, &e.rec.exceptionEvn)
		storeArg32(a, arg2, &e.rec.exceptionSlot)
		a.MovQConst(amd64.RegAX, addrOf32(&e.ctx.CpuRunning))
		a.MovLConstMem(0, amd64.RegAX, 0)
		a.MovQConst(amd64.RegAX, addrOf32(uint32Ptr(&e.ctx.CycleCounter)))
		a.MovLConstMem(0, amd64.RegAX, 0)
		a.Ret()
	})

	// Records the failing pc and drains the slice so the run ends instead
	// of re-entering the stale block.
	h.BlockCheckFail = e.emitStub(func(a *amd64.Assembler) {
		storeArg32(a, arg0, &e.rec.blockCheckPC)
		a.MovQConst(amd64.RegAX, addrOf32(uint32Ptr(&e.ctx.CycleCounter)))
		a.MovLConstMem(0, amd64.RegAX, 0)
		a.Ret()
	})

	// Identity translation keeps MMU-enabled tests simple.
	h.MMUDynarecLookup = e.emitStub(func(a *amd64.Assembler) {
		a.MovLRegReg(arg0, amd64.RegAX)
		a.Ret()
	})

	h.GetMemPtr = func(addr, size uint32) uintptr {
		if int(addr)+int(size) > len(e.ram) {
			return 0
		}
		return ramBase + uintptr(addr)
	}
	return h
}

func uint32Ptr(p *int32) *uint32 { return (*uint32)(unsafe.Pointer(p)) }

// newSqWriteStub installs a ctx.DoSqWrite recorder.
func (e *testEnv) newSqWriteStub() {
	e.ctx.DoSqWrite = e.emitStub(func(a *amd64.Assembler) {
		storeArg32(a, hostABI.callRegs[0], &e.rec.sqWriteAddr)
		a.MovLConst(amd64.RegAX, 0) // no exception
		a.Ret()
	})
}

// block constructs a single-exit block around the given ops.
func block(ops ...sh4.Op) *sh4.RuntimeBlockInfo {
	return &sh4.RuntimeBlockInfo{
		Addr:        0x0C001000,
		Vaddr:       0x8C001000,
		OpList:      ops,
		GuestCycles: 3,
		SH4CodeSize: uint32(len(ops)+1) * 2,
		BlockEnd:    sh4.BlockEndStaticJump,
		BranchBlock: 0x8C002000,
		NextBlock:   0x8C001000 + uint32(len(ops)+1)*2,
	}
}

// compile lowers the block and points the dispatcher at it.
func (e *testEnv) compile(b *sh4.RuntimeBlockInfo, smcChecks, optimise bool) {
	e.t.Helper()
	require.NoError(e.t, e.d.Compile(b, smcChecks, optimise))
	require.NotZero(e.t, b.Code)
	e.codeSlot = b.Code
}

// run enters the dispatch loop for exactly one slice.
func (e *testEnv) run(b *sh4.RuntimeBlockInfo) {
	e.t.Helper()
	e.ctx.PC = b.Vaddr
	e.ctx.CpuRunning = 1
	e.ctx.CycleCounter = 1
	require.NoError(e.t, e.d.Mainloop())
}