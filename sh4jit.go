// Package sh4jit provides an SH-4 dynamic recompiler targeting x86-64.
//
// The decoder produces sh4.RuntimeBlockInfo values; this package compiles
// them to native code inside a CodeBuffer and runs them under a generated
// dispatch loop. The backend lives under internal/dynarec; this facade
// exposes the entry points an embedder needs.
package sh4jit

import (
	"github.com/dreamcast-go/sh4jit/internal/asm"
	"github.com/dreamcast-go/sh4jit/internal/dynarec"
)

// Config selects the recompiler variant generated at reset time.
type Config = dynarec.Config

// Hooks are the narrow contracts to the surrounding emulator.
type Hooks = dynarec.Hooks

// HostContext is the machine state extracted from a host signal frame.
type HostContext = dynarec.HostContext

// Dynarec is the recompiler backend instance.
type Dynarec = dynarec.Dynarec

// CodeBuffer is the executable region generated code is emitted into.
type CodeBuffer = asm.CodeBuffer

// NewCodeBuffer maps an executable region of the given size.
func NewCodeBuffer(size int) (*CodeBuffer, error) {
	return asm.NewCodeBuffer(size)
}

// New creates the backend and registers it as the process-wide instance.
func New(cfg Config) *Dynarec {
	return dynarec.New(cfg)
}
