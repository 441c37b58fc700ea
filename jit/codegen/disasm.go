package codegen

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Decode splits code into instructions.
func Decode(code []byte) ([]x86asm.Inst, error) {
	var insts []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return insts, fmt.Errorf("decode at %#x: %w", off, err)
		}
		insts = append(insts, inst)
		off += inst.Len
	}
	return insts, nil
}

// Disassemble renders code one instruction per line with offsets and raw
// bytes. Undecodable bytes are shown as db.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			fmt.Fprintf(&sb, "0x%04x: db 0x%02x\n", off, code[off])
			off++
			continue
		}
		hex := make([]string, inst.Len)
		for i := range hex {
			hex[i] = fmt.Sprintf("%02x", code[off+i])
		}
		fmt.Fprintf(&sb, "0x%04x: %-24s %s\n", off, strings.Join(hex, " "), x86asm.IntelSyntax(inst, uint64(off), nil))
		off += inst.Len
	}
	return sb.String()
}
