package codegen

import (
	"encoding/binary"
	"fmt"
)

// AMD64Emitter encodes Emitter calls as x86-64 machine code into a byte
// buffer. Branches use rel32 displacements patched by Finish.
type AMD64Emitter struct {
	buf     []byte
	labels  []int // bound offset, or -1
	fixups  []fixup
	scratch Reg
}

type fixup struct {
	at    int // offset of the rel32 field
	label Label
}

// NewAMD64Emitter returns an emitter whose guards clobber scratch.
func NewAMD64Emitter(scratch Reg) *AMD64Emitter {
	if scratch == RSP {
		panic("NewAMD64Emitter: rsp cannot be a scratch register")
	}
	return &AMD64Emitter{scratch: scratch}
}

func (e *AMD64Emitter) Scratch() Reg { return e.scratch }

// Len is the number of bytes emitted so far.
func (e *AMD64Emitter) Len() int { return len(e.buf) }

func (e *AMD64Emitter) emitBytes(bs ...byte) {
	e.buf = append(e.buf, bs...)
}

func (e *AMD64Emitter) emitU16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *AMD64Emitter) emitU32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// rex returns the REX prefix for a non-64-bit operation, or 0 when none is
// needed.
func rex(reg, base Reg) byte {
	var b byte
	if reg >= 8 {
		b |= 0x04 // REX.R
	}
	if base >= 8 {
		b |= 0x01 // REX.B
	}
	if b != 0 {
		b |= 0x40
	}
	return b
}

func (e *AMD64Emitter) emitRex(reg, base Reg) {
	if r := rex(reg, base); r != 0 {
		e.emitByte(r)
	}
}

func (e *AMD64Emitter) emitByte(b byte) { e.buf = append(e.buf, b) }

// emitModRMMem encodes [base + disp] with reg in the ModRM reg field.
func (e *AMD64Emitter) emitModRMMem(reg byte, base Reg, disp int32) {
	baseEnc := byte(base & 7)
	regEnc := (reg & 7) << 3
	switch {
	case disp == 0 && baseEnc != 5: // RBP/R13 always need a displacement
		e.emitByte(regEnc | baseEnc)
		if baseEnc == 4 { // RSP/R12 need a SIB byte
			e.emitByte(0x24)
		}
	case disp >= -128 && disp <= 127:
		e.emitByte(0x40 | regEnc | baseEnc)
		if baseEnc == 4 {
			e.emitByte(0x24)
		}
		e.emitByte(byte(int8(disp)))
	default:
		e.emitByte(0x80 | regEnc | baseEnc)
		if baseEnc == 4 {
			e.emitByte(0x24)
		}
		e.emitU32(uint32(disp))
	}
}

// LoadW emits MOVZX dst32, word [base+disp].
func (e *AMD64Emitter) LoadW(dst, base Reg, disp int32) {
	e.emitRex(dst, base)
	e.emitBytes(0x0F, 0xB7)
	e.emitModRMMem(byte(dst), base, disp)
}

// aluWI emits a 16-bit group-1 ALU op (81 /ext iw) on r.
func (e *AMD64Emitter) aluWI(ext byte, r Reg, imm uint16) {
	e.emitByte(0x66)
	e.emitRex(0, r)
	e.emitBytes(0x81, 0xC0|ext<<3|byte(r&7))
	e.emitU16(imm)
}

// CmpWI emits CMP r16, imm16.
func (e *AMD64Emitter) CmpWI(r Reg, imm uint16) { e.aluWI(7, r, imm) }

// XorWI emits XOR r16, imm16.
func (e *AMD64Emitter) XorWI(r Reg, imm uint16) { e.aluWI(6, r, imm) }

// AndWI emits AND r16, imm16.
func (e *AMD64Emitter) AndWI(r Reg, imm uint16) { e.aluWI(4, r, imm) }

// TestWI emits TEST r16, imm16.
func (e *AMD64Emitter) TestWI(r Reg, imm uint16) {
	e.emitByte(0x66)
	e.emitRex(0, r)
	e.emitBytes(0xF7, 0xC0|byte(r&7))
	e.emitU16(imm)
}

// TestBM emits TEST byte [base+disp], imm8.
func (e *AMD64Emitter) TestBM(base Reg, disp int32, imm uint8) {
	e.emitRex(0, base)
	e.emitByte(0xF6)
	e.emitModRMMem(0, base, disp)
	e.emitByte(imm)
}

// MovRI32 emits MOV r32, imm32.
func (e *AMD64Emitter) MovRI32(dst Reg, imm uint32) {
	e.emitRex(0, dst)
	e.emitByte(0xB8 | byte(dst&7))
	e.emitU32(imm)
}

// Ret emits RET.
func (e *AMD64Emitter) Ret() { e.emitByte(0xC3) }

func (e *AMD64Emitter) NewLabel() Label {
	e.labels = append(e.labels, -1)
	return Label(len(e.labels) - 1)
}

func (e *AMD64Emitter) Bind(l Label) {
	if e.labels[l] >= 0 {
		panic(fmt.Sprintf("AMD64Emitter.Bind: label %d bound twice", l))
	}
	e.labels[l] = len(e.buf)
}

// Jcc emits a conditional rel32 jump. CCAlways becomes a JMP and CCNever
// emits nothing.
func (e *AMD64Emitter) Jcc(cc CondCode, target Label) {
	switch cc {
	case CCAlways:
		e.Jmp(target)
		return
	case CCNever:
		return
	}
	e.emitBytes(0x0F, 0x80|byte(cc))
	e.addFixup(target)
}

// Jmp emits JMP rel32.
func (e *AMD64Emitter) Jmp(target Label) {
	e.emitByte(0xE9)
	e.addFixup(target)
}

func (e *AMD64Emitter) addFixup(target Label) {
	e.fixups = append(e.fixups, fixup{at: len(e.buf), label: target})
	e.emitU32(0)
}

// Finish patches every branch and returns the code. It fails if a branch
// targets a label that was never bound.
func (e *AMD64Emitter) Finish() ([]byte, error) {
	for _, f := range e.fixups {
		target := e.labels[f.label]
		if target < 0 {
			return nil, fmt.Errorf("branch at %#x to unbound label %d", f.at, f.label)
		}
		rel := int32(target - (f.at + 4))
		binary.LittleEndian.PutUint32(e.buf[f.at:], uint32(rel))
	}
	log.Debugf("emitted %d bytes with %d branches", len(e.buf), len(e.fixups))
	return e.buf, nil
}
