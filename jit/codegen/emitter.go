// Package codegen lowers array layout guards to x86-64: it picks the
// cheapest instruction sequence for a layout's header test, emits it through
// a small Emitter interface, and disassembles the result.
package codegen

import "fmt"

// Reg is a general purpose register, numbered as in the instruction
// encoding.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("Reg(%d)", uint8(r))
}

// CondCode is a branch condition. The hardware codes keep their encoding;
// CCAlways and CCNever are decided at compile time and emit no test.
type CondCode uint8

const (
	CCZ  CondCode = 0x4 // ZF=1
	CCNZ CondCode = 0x5 // ZF=0
	CCBE CondCode = 0x6 // CF=1 or ZF=1 (unsigned <=)
	CCA  CondCode = 0x7 // CF=0 and ZF=0 (unsigned >)

	CCNever  CondCode = 0xfe
	CCAlways CondCode = 0xff
)

// Negate returns the condition that holds exactly when cc does not.
func (cc CondCode) Negate() CondCode {
	switch cc {
	case CCZ:
		return CCNZ
	case CCNZ:
		return CCZ
	case CCBE:
		return CCA
	case CCA:
		return CCBE
	case CCAlways:
		return CCNever
	case CCNever:
		return CCAlways
	}
	panic(fmt.Sprintf("CondCode.Negate: unknown condition %#x", uint8(cc)))
}

func (cc CondCode) String() string {
	switch cc {
	case CCZ:
		return "Z"
	case CCNZ:
		return "NZ"
	case CCBE:
		return "BE"
	case CCA:
		return "A"
	case CCAlways:
		return "always"
	case CCNever:
		return "never"
	}
	return fmt.Sprintf("CondCode(%#x)", uint8(cc))
}

// Label is a branch target. Labels are bound once; branches to them may be
// emitted before or after binding.
type Label int

// Emitter is the machine code collaborator: just the primitives a layout
// guard needs.
type Emitter interface {
	// LoadW zero-extends the 16-bit word at base+disp into dst.
	LoadW(dst, base Reg, disp int32)
	// CmpWI, TestWI, XorWI and AndWI operate on the low 16 bits of r.
	CmpWI(r Reg, imm uint16)
	TestWI(r Reg, imm uint16)
	XorWI(r Reg, imm uint16)
	AndWI(r Reg, imm uint16)
	// TestBM tests the byte at base+disp against imm.
	TestBM(base Reg, disp int32, imm uint8)
	// MovRI32 loads a zero-extended 32-bit immediate.
	MovRI32(dst Reg, imm uint32)

	NewLabel() Label
	Bind(l Label)
	Jcc(cc CondCode, target Label)
	Jmp(target Label)
	Ret()

	// Scratch is a register guards may clobber.
	Scratch() Reg
}
