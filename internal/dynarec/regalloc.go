package dynarec

import (
	"sort"

	"github.com/dreamcast-go/sh4jit/sh4"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

// RegAlloc is the register allocator contract. Only this interface is part
// of the recompiler design; the policy behind it is replaceable.
type RegAlloc interface {
	// DoAlloc plans the mappings for one block and materializes them via
	// the compiler's RegPreload callbacks.
	DoAlloc(block *sh4.RuntimeBlockInfo)
	// OpBegin and OpEnd bracket the lowering of each IR op.
	OpBegin(op *sh4.Op, opid int)
	OpEnd(op *sh4.Op)
	// Cleanup flushes dirty mappings via the RegWriteback callbacks.
	Cleanup()

	// IsAllocG reports whether p currently lives in a host general register.
	IsAllocG(p sh4.Param) bool
	// IsAllocF reports whether p currently lives in a host xmm register.
	IsAllocF(p sh4.Param) bool
	// MapReg returns the host general register holding p.
	MapReg(p sh4.Param) amd64.Register
	// MapXReg returns the host xmm register holding p.
	MapXReg(p sh4.Param) amd64.Register
	// IsMappedX reports whether host register x holds a guest value while
	// opid executes; the compiler saves such registers around host calls.
	IsMappedX(x amd64.Register, opid int) bool
}

// regCallbacks are implemented by the block compiler; the allocator calls
// back into it to emit the actual preload and writeback moves.
type regCallbacks interface {
	RegPreload(reg sh4.RegID, host amd64.Register)
	RegWriteback(reg sh4.RegID, host amd64.Register)
	RegPreloadFPU(reg sh4.RegID, host amd64.Register)
	RegWritebackFPU(reg sh4.RegID, host amd64.Register)
}

// Callee-saved hosts for guest general registers and the xmm bank backed by
// the save band.
var (
	allocGprs = []amd64.Register{amd64.RegBX, amd64.RegBP, amd64.RegR12, amd64.RegR13, amd64.RegR14, amd64.RegR15}
	allocXmms = []amd64.Register{amd64.RegX8, amd64.RegX9, amd64.RegX10, amd64.RegX11}
)

// blockAlloc is the shipped allocator: per-block usage counting, whole-block
// residency, writeback of dirtied registers at cleanup. Blocks containing
// ops that hand the whole context to the host (interpreter fallbacks,
// SR/FPSCR resyncs, canonical calls) run unallocated, since the host may
// rewrite any guest register behind a mapping's back.
type blockAlloc struct {
	cb    regCallbacks
	gmap  map[sh4.RegID]amd64.Register
	fmap  map[sh4.RegID]amd64.Register
	dirty map[sh4.RegID]bool
	opid  int
}

func newBlockAlloc(cb regCallbacks) *blockAlloc {
	return &blockAlloc{
		cb:    cb,
		gmap:  map[sh4.RegID]amd64.Register{},
		fmap:  map[sh4.RegID]amd64.Register{},
		dirty: map[sh4.RegID]bool{},
	}
}

func opSpillsAll(op *sh4.Op) bool {
	switch op.Kind {
	case sh4.OpIfb, sh4.OpSyncSR, sh4.OpSyncFPSCR:
		return true
	}
	return op.Kind >= sh4.OpCanonicalBase
}

// regUses counts register references of one op, general and floating
// separately. Paired and bank params stay memory resident.
func regUses(op *sh4.Op, g, f map[sh4.RegID]int) {
	count := func(p sh4.Param) {
		if !p.IsReg() || p.N != 1 {
			return
		}
		if p.Reg >= sh4.RegR0 && p.Reg <= sh4.RegR15 {
			g[p.Reg]++
		} else if p.Reg.IsFpuReg() && op.Kind != sh4.OpFrswap {
			f[p.Reg]++
		}
	}
	count(op.Rs1)
	count(op.Rs2)
	count(op.Rs3)
	count(op.Rd)
	count(op.Rd2)
}

// DoAlloc implements RegAlloc.DoAlloc.
func (r *blockAlloc) DoAlloc(block *sh4.RuntimeBlockInfo) {
	for k := range r.gmap {
		delete(r.gmap, k)
	}
	for k := range r.fmap {
		delete(r.fmap, k)
	}
	for k := range r.dirty {
		delete(r.dirty, k)
	}

	g := map[sh4.RegID]int{}
	f := map[sh4.RegID]int{}
	banksSwapped := false
	for i := range block.OpList {
		op := &block.OpList[i]
		if opSpillsAll(op) {
			return
		}
		if op.Kind == sh4.OpFrswap || op.Rd.IsR64f() || op.Rd2.IsR64f() {
			banksSwapped = true
		}
		regUses(op, g, f)
	}
	if banksSwapped {
		// Bank swaps and 64-bit pair stores move floating state through
		// memory; cached copies would go stale.
		f = map[sh4.RegID]int{}
	}

	assign := func(uses map[sh4.RegID]int, hosts []amd64.Register) []sh4.RegID {
		regs := make([]sh4.RegID, 0, len(uses))
		for reg := range uses {
			regs = append(regs, reg)
		}
		sort.Slice(regs, func(i, j int) bool {
			if uses[regs[i]] != uses[regs[j]] {
				return uses[regs[i]] > uses[regs[j]]
			}
			return regs[i] < regs[j]
		})
		if len(regs) > len(hosts) {
			regs = regs[:len(hosts)]
		}
		return regs
	}

	for i, reg := range assign(g, allocGprs) {
		r.gmap[reg] = allocGprs[i]
		r.cb.RegPreload(reg, allocGprs[i])
	}
	for i, reg := range assign(f, allocXmms) {
		r.fmap[reg] = allocXmms[i]
		r.cb.RegPreloadFPU(reg, allocXmms[i])
	}
}

// OpBegin implements RegAlloc.OpBegin.
func (r *blockAlloc) OpBegin(op *sh4.Op, opid int) {
	r.opid = opid
}

// OpEnd implements RegAlloc.OpEnd.
func (r *blockAlloc) OpEnd(op *sh4.Op) {
	mark := func(p sh4.Param) {
		if p.IsReg() && p.N == 1 {
			if _, ok := r.gmap[p.Reg]; ok {
				r.dirty[p.Reg] = true
			}
			if _, ok := r.fmap[p.Reg]; ok {
				r.dirty[p.Reg] = true
			}
		}
	}
	mark(op.Rd)
	mark(op.Rd2)
}

// Cleanup implements RegAlloc.Cleanup.
func (r *blockAlloc) Cleanup() {
	regs := make([]sh4.RegID, 0, len(r.dirty))
	for reg := range r.dirty {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	for _, reg := range regs {
		if host, ok := r.gmap[reg]; ok {
			r.cb.RegWriteback(reg, host)
		} else if host, ok := r.fmap[reg]; ok {
			r.cb.RegWritebackFPU(reg, host)
		}
	}
}

// IsAllocG implements RegAlloc.IsAllocG.
func (r *blockAlloc) IsAllocG(p sh4.Param) bool {
	if !p.IsReg() || p.N != 1 {
		return false
	}
	_, ok := r.gmap[p.Reg]
	return ok
}

// IsAllocF implements RegAlloc.IsAllocF.
func (r *blockAlloc) IsAllocF(p sh4.Param) bool {
	if !p.IsReg() || p.N != 1 {
		return false
	}
	_, ok := r.fmap[p.Reg]
	return ok
}

// MapReg implements RegAlloc.MapReg.
func (r *blockAlloc) MapReg(p sh4.Param) amd64.Register {
	if host, ok := r.gmap[p.Reg]; ok {
		return host
	}
	return amd64.NilRegister
}

// MapXReg implements RegAlloc.MapXReg.
func (r *blockAlloc) MapXReg(p sh4.Param) amd64.Register {
	if host, ok := r.fmap[p.Reg]; ok {
		return host
	}
	return amd64.NilRegister
}

// IsMappedX implements RegAlloc.IsMappedX.
func (r *blockAlloc) IsMappedX(x amd64.Register, opid int) bool {
	for _, host := range r.fmap {
		if host == x {
			return true
		}
	}
	return false
}
