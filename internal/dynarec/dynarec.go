// Package dynarec is the x86-64 dynamic recompiler backend for the SH-4
// core: it lowers decoded IR blocks to native code, links them under a
// generated dispatch loop, and services faults raised by speculative
// fast-path memory accesses inside that code.
package dynarec

import (
	"errors"
	"fmt"
	"log"

	"github.com/dreamcast-go/sh4jit/internal/asm"
	"github.com/dreamcast-go/sh4jit/sh4"
)

// Current is the process-wide backend instance, set at construction the way
// the interpreter/dynarec selector expects to find it.
var Current *Dynarec

// Dynarec owns everything that was process-global in older recompiler
// designs: the dispatch entry points, the long-jump anchor, the memory
// handler grid and its extents, and the xmm save band.
type Dynarec struct {
	cfg   Config
	ctx   *sh4.Context
	buf   *asm.CodeBuffer
	hooks Hooks

	unwinder unwindInfo

	// jmpRSP is written once per dispatch entry and read only by the
	// exception trampoline afterwards.
	jmpRSP  uint64
	xmmSave [4]float32

	mainloopPtr        uintptr
	handleExceptionPtr uintptr
	interpFallbackPtr  uintptr
	doSqwMMUPtr        uintptr

	memHandlers     [memTypeCount][memSizeCount][memOpCount]uintptr
	memHandlerStart uintptr
	memHandlerEnd   uintptr

	compiler *blockCompiler // live only while Compile runs
}

// New creates the backend and registers it as the current instance.
func New(cfg Config) *Dynarec {
	d := &Dynarec{cfg: cfg}
	Current = d
	return d
}

// Init binds the architectural state, the code buffer and the host
// contracts. It must precede every other operation.
func (d *Dynarec) Init(ctx *sh4.Context, buf *asm.CodeBuffer, hooks Hooks) error {
	if ctx == nil || buf == nil {
		return errors.New("dynarec: nil context or code buffer")
	}
	d.ctx = ctx
	d.buf = buf
	d.hooks = hooks
	return nil
}

// Reset (re)generates the dispatch loop and the memory handler grid at the
// buffer cursor. A second reset without buffer movement is a no-op.
func (d *Dynarec) Reset() error {
	if d.buf == nil {
		return errors.New("dynarec: not initialized")
	}
	d.unwinder.Clear()
	// Avoid generating the main loop more than once.
	if d.mainloopPtr != 0 && d.mainloopPtr != d.buf.Get() {
		return nil
	}
	return d.buf.WithWritable(func() error {
		return d.genMainloop()
	})
}

// Compile lowers one block at the buffer cursor. On success block.Code and
// block.HostCodeSize are set and the cursor advances; on emitter failure the
// block is abandoned with no executable entry.
func (d *Dynarec) Compile(block *sh4.RuntimeBlockInfo, smcChecks, optimise bool) error {
	if d.mainloopPtr == 0 {
		return errors.New("dynarec: reset must run before compile")
	}
	block.Code = 0
	block.HostCodeSize = 0
	err := d.buf.WithWritable(func() error {
		d.compiler = newBlockCompiler(d, d.buf.Get(), d.buf.FreeSpace())
		defer func() { d.compiler = nil }()
		return d.compiler.compile(block, smcChecks, optimise)
	})
	if err != nil {
		log.Printf("dynarec: fatal emitter error: %v", err)
		return fmt.Errorf("dynarec: compiling block %08x: %w", block.Vaddr, err)
	}
	return nil
}

// Mainloop enters the dispatch trampoline and returns once ctx.CpuRunning
// drops to zero.
func (d *Dynarec) Mainloop() error {
	if d.mainloopPtr == 0 {
		return errors.New("dynarec: reset must run before mainloop")
	}
	if !d.buf.Executable() {
		return errors.New("dynarec: code buffer is not executable")
	}
	nativecall(d.mainloopPtr)
	return nil
}

// Rewrite is invoked from the host signal handler with a pre-extracted
// context. It reports whether the fault was patched and execution may
// resume.
func (d *Dynarec) Rewrite(hctx *HostContext, faultAddr uintptr) bool {
	if d.buf == nil {
		// Init not called yet.
		return false
	}
	retAddr := *(*uintptr)(unsafePointerAt(hctx.RSP)) - 5
	if !d.buf.Contains(retAddr) {
		return false
	}
	rewritten := false
	err := d.buf.WithWritable(func() error {
		rewritten = d.rewriteMemAccess(hctx)
		return nil
	})
	if err != nil {
		log.Printf("dynarec: fault rewrite protection toggle failed: %v", err)
		return false
	}
	return rewritten
}

// HandleException redirects the host context to the long-jump trampoline,
// discarding any generated-block frames.
func (d *Dynarec) HandleException(hctx *HostContext) {
	hctx.PC = d.handleExceptionPtr
}

// MainloopEntry exposes the generated dispatch entry, for embedders that
// drive it through their own trampoline.
func (d *Dynarec) MainloopEntry() uintptr { return d.mainloopPtr }

// MemHandler returns one entry of the generated handler grid.
func (d *Dynarec) MemHandler(typ, size, op int) uintptr {
	return d.memHandlers[typ][size][op]
}

// MemHandlerExtent returns the [start, end) span of the handler grid.
func (d *Dynarec) MemHandlerExtent() (start, end uintptr) {
	return d.memHandlerStart, d.memHandlerEnd
}

// CanonStart begins the canonical lowering of op.
func (d *Dynarec) CanonStart(op *sh4.Op) {
	d.compiler.canonStart(op)
}

// CanonParam declares one parameter of the canonical call.
func (d *Dynarec) CanonParam(op *sh4.Op, prm *sh4.Param, tp sh4.CanonicalParamType) {
	d.compiler.canonParam(op, prm, tp)
}

// CanonCall emits the canonical call with the declared parameters.
func (d *Dynarec) CanonCall(op *sh4.Op, fn uintptr) {
	d.compiler.canonCall(op, fn)
}

// CanonFinish ends the canonical lowering of op.
func (d *Dynarec) CanonFinish(op *sh4.Op) {
	d.compiler.canonFinish(op)
}
