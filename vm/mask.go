package vm

import "fmt"

// MaskAndCompare describes a layout membership test on the 16-bit layout
// field of an array header: a value h passes when ((h ^ XorVal) & AndVal) is
// at most CmpVal, compared unsigned.
type MaskAndCompare struct {
	XorVal uint16
	AndVal uint16
	CmpVal uint16
}

// FullCompare accepts exactly val.
func FullCompare(val uint16) MaskAndCompare {
	return MaskAndCompare{XorVal: val, AndVal: 0xffff, CmpVal: 0}
}

// Accepts applies the test to a header fragment.
func (m MaskAndCompare) Accepts(h uint16) bool {
	return (h^m.XorVal)&m.AndVal <= m.CmpVal
}

// WithMagic folds the bespoke marker bit into the test, so the result also
// rejects every vanilla header.
func (m MaskAndCompare) WithMagic() MaskAndCompare {
	return MaskAndCompare{
		XorVal: m.XorVal | MagicBit,
		AndVal: m.AndVal | MagicBit,
		CmpVal: m.CmpVal,
	}
}

func (m MaskAndCompare) String() string {
	return fmt.Sprintf("{xor=%#04x and=%#04x cmp=%#04x}", m.XorVal, m.AndVal, m.CmpVal)
}
