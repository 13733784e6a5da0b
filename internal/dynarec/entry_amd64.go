package dynarec

// nativecall transfers control to generated code at entry, which must follow
// the host C calling convention and preserve callee-saved registers (the
// generated dispatch prologue does). Implemented in entry_amd64.s.
//
//go:noescape
func nativecall(entry uintptr)
