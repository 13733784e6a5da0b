package asm_amd64

// General purpose and vector registers. The low four bits are the hardware
// encoding; vector registers are offset by 16 so the two banks share one
// namespace.
// https://www.intel.com/content/dam/www/public/us/en/documents/manuals/64-ia-32-architectures-software-developer-instruction-set-reference-manual-325383.pdf
type Register byte

const (
	RegAX Register = iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15

	RegX0
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
	RegX8
	RegX9
	RegX10
	RegX11
	RegX12
	RegX13
	RegX14
	RegX15

	// NilRegister is the zero value, distinct from RegAX only by context.
	NilRegister Register = 0xff
)

// IsVector reports whether r names an XMM register.
func (r Register) IsVector() bool {
	return r >= RegX0 && r <= RegX15
}

func (r Register) enc() byte {
	if r.IsVector() {
		return byte(r - RegX0)
	}
	return byte(r)
}

var registerNames = [...]string{
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
}

// String implements fmt.Stringer.
func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return "nil"
}

// Cond is the 4-bit condition code (tttn) of Jcc and SETcc.
// https://www.felixcloutier.com/x86/jcc
type Cond byte

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xa
	CondNP Cond = 0xb
	CondL  Cond = 0xc
	CondGE Cond = 0xd
	CondLE Cond = 0xe
	CondG  Cond = 0xf
)
