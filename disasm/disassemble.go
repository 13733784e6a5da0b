// Package disasm pretty-prints generated code for debugging. It is not
// imported by the recompiler itself; linking it requires the capstone
// library.
package disasm

import (
	"fmt"
	"io"

	"github.com/bnagy/gapstone"
)

// Fprint disassembles text, assumed to start at the given base address, and
// writes one instruction per line.
func Fprint(w io.Writer, text []byte, base uint64) error {
	engine, err := gapstone.New(gapstone.CS_ARCH_X86, gapstone.CS_MODE_64)
	if err != nil {
		return err
	}
	defer engine.Close()

	insns, err := engine.Disasm(text, base, 0)
	if err != nil {
		return err
	}

	for _, insn := range insns {
		_, err = fmt.Fprintf(w, "%8x: %s\t%s\n", insn.Address, insn.Mnemonic, insn.OpStr)
		if err != nil {
			return err
		}
	}
	return nil
}
