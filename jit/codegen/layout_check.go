package codegen

import (
	"fmt"
	"math/bits"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// TestKind is the instruction shape chosen for a header test.
type TestKind uint8

const (
	// TestFullCompare is one CMP against the whole fragment.
	TestFullCompare TestKind = iota
	// TestBitTest is at most one TEST of a single bit.
	TestBitTest
	// TestGeneral is XOR, then AND and CMP when they change the result.
	TestGeneral
)

var testKindNames = [...]string{"FullCompare", "BitTest", "General"}

func (k TestKind) String() string { return testKindNames[k] }

// LayoutTest is a MaskAndCompare reduced to the instructions that decide
// it. Accept is the condition that holds after the instructions exactly
// when the fragment passes.
type LayoutTest struct {
	Kind TestKind
	// Imm is the compared value for TestFullCompare and the bit for
	// TestBitTest.
	Imm uint16

	Xor    uint16
	And    uint16
	Cmp    uint16
	UseAnd bool
	UseCmp bool

	Accept CondCode
}

// SelectLayoutTest picks the cheapest sequence equivalent to mc.
func SelectLayoutTest(mc vm.MaskAndCompare) LayoutTest {
	x, a, c := mc.XorVal, mc.AndVal, mc.CmpVal

	if a == 0xffff && c == 0 {
		return LayoutTest{Kind: TestFullCompare, Imm: x, Accept: CCZ}
	}

	// With at most one mask bit the masked value is 0 or that bit.
	if bits.OnesCount16(a) <= 1 {
		t := LayoutTest{Kind: TestBitTest, Imm: a}
		switch {
		case a == 0 || c >= a:
			t.Accept = CCAlways
		case x&a != 0:
			t.Accept = CCNZ
		default:
			t.Accept = CCZ
		}
		return t
	}

	t := LayoutTest{Kind: TestGeneral, Xor: x, And: a, Cmp: c, UseAnd: a != 0xffff, UseCmp: c != 0}
	if t.UseCmp {
		t.Accept = CCBE
	} else {
		t.Accept = CCZ
	}
	return t
}

// Eval runs the reduced instruction sequence on fragment h.
func (t LayoutTest) Eval(h uint16) bool {
	switch t.Kind {
	case TestFullCompare:
		return h == t.Imm
	case TestBitTest:
		switch t.Accept {
		case CCAlways:
			return true
		case CCNZ:
			return h&t.Imm != 0
		}
		return h&t.Imm == 0
	}
	v := h ^ t.Xor
	if t.UseAnd {
		v &= t.And
	}
	if t.UseCmp {
		return v <= t.Cmp
	}
	return v == 0
}

// Emit emits the test on the fragment held in r and returns Accept.
// BitTests that always pass emit nothing.
func (t LayoutTest) Emit(e Emitter, r Reg) CondCode {
	switch t.Kind {
	case TestFullCompare:
		e.CmpWI(r, t.Imm)
	case TestBitTest:
		if t.Accept != CCAlways {
			e.TestWI(r, t.Imm)
		}
	case TestGeneral:
		e.XorWI(r, t.Xor)
		if t.UseAnd {
			e.AndWI(r, t.And)
		}
		if t.UseCmp {
			e.CmpWI(r, t.Cmp)
		}
	}
	return t.Accept
}

func (t LayoutTest) String() string {
	switch t.Kind {
	case TestFullCompare:
		return fmt.Sprintf("cmp %#04x; accept %s", t.Imm, t.Accept)
	case TestBitTest:
		if t.Accept == CCAlways {
			return "accept always"
		}
		return fmt.Sprintf("test %#04x; accept %s", t.Imm, t.Accept)
	}
	s := fmt.Sprintf("xor %#04x", t.Xor)
	if t.UseAnd {
		s += fmt.Sprintf("; and %#04x", t.And)
	}
	if t.UseCmp {
		s += fmt.Sprintf("; cmp %#04x", t.Cmp)
	}
	return s + "; accept " + t.Accept.String()
}

// ---------------------------------------------------------------------------
// Array guards
// ---------------------------------------------------------------------------

// EmitBespokeLayoutTest loads the layout fragment of the array at base and
// tests it against layout, which must be bespoke. The marker bit is folded
// into the test, so vanilla arrays never pass. It returns the condition
// under which the array is in layout.
func EmitBespokeLayoutTest(e Emitter, layout jit.ArrayLayout, base Reg) CondCode {
	mc := layout.BespokeMaskAndCompare().WithMagic()
	t := SelectLayoutTest(mc)
	log.Debugf("layout test for %s %s: %s", layout, mc, t)
	r := e.Scratch()
	e.LoadW(r, base, vm.LayoutIndexOffset)
	return t.Emit(e, r)
}

// EmitVanillaTest tests the bespoke bit of the kind byte of the array at
// base. The array is vanilla when the returned condition holds.
func EmitVanillaTest(e Emitter, base Reg) CondCode {
	e.TestBM(base, vm.HeaderKindOffset, vm.BespokeKindMask)
	return CCZ
}

// EmitLayoutCheck tests the array at base against any layout. Top and
// Bottom emit nothing and return CCAlways and CCNever.
func EmitLayoutCheck(e Emitter, layout jit.ArrayLayout, base Reg) CondCode {
	switch {
	case layout.IsTop():
		return CCAlways
	case layout.IsBottom():
		return CCNever
	case layout.IsVanilla():
		return EmitVanillaTest(e, base)
	}
	return EmitBespokeLayoutTest(e, layout, base)
}
