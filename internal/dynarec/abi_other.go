//go:build !windows

package dynarec

import amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"

// hostABI describes the System V AMD64 calling convention. All xmm registers
// are caller saved, so host calls made while xmm8..xmm11 hold guest values
// go through the xmm save band.
var hostABI = abiConf{
	callRegs:    [4]amd64.Register{amd64.RegDI, amd64.RegSI, amd64.RegDX, amd64.RegCX},
	callRegsXmm: [4]amd64.Register{amd64.RegX0, amd64.RegX1, amd64.RegX2, amd64.RegX3},
	stackAlign:  0x08,
	windows:     false,
}
