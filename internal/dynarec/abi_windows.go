//go:build windows

package dynarec

import amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"

// hostABI describes the Windows x64 calling convention: 32-byte shadow space
// plus 8 bytes to keep the stack 16-byte aligned, and xmm6..xmm15 callee
// saved (so the xmm save band is never used).
var hostABI = abiConf{
	callRegs:    [4]amd64.Register{amd64.RegCX, amd64.RegDX, amd64.RegR8, amd64.RegR9},
	callRegsXmm: [4]amd64.Register{amd64.RegX0, amd64.RegX1, amd64.RegX2, amd64.RegX3},
	stackAlign:  0x28,
	windows:     true,
}
