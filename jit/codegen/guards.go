package codegen

import (
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/jit/irgen"
)

// ArrayReg holds the array a lowered guard inspects.
const ArrayReg = RDI

// Guard is an array layout CheckType found in a unit.
type Guard struct {
	Inst   *irgen.Instruction
	Layout jit.ArrayLayout
}

// Guards lists the unit's CheckTypes that test an array's layout.
func Guards(u *irgen.Unit) []Guard {
	var gs []Guard
	u.EachInst(func(in *irgen.Instruction) {
		if in.Op != irgen.CheckType || !in.Type.LessEq(jit.TArrLike) {
			return
		}
		if l := in.Type.ArrSpec().Layout(); !l.IsTop() {
			gs = append(gs, Guard{Inst: in, Layout: l})
		}
	})
	return gs
}

// LowerGuards emits the unit's layout guards back to back. The code
// returns 0 in eax when every guard passes, or the 1-based number of the
// first guard that fails.
func LowerGuards(u *irgen.Unit) ([]byte, error) {
	e := NewAMD64Emitter(RAX)
	gs := Guards(u)
	stubs := make([]Label, len(gs))
	for i, g := range gs {
		stubs[i] = e.NewLabel()
		accept := EmitLayoutCheck(e, g.Layout, ArrayReg)
		e.Jcc(accept.Negate(), stubs[i])
	}
	e.MovRI32(RAX, 0)
	e.Ret()
	for i := range gs {
		e.Bind(stubs[i])
		e.MovRI32(RAX, uint32(i+1))
		e.Ret()
	}
	code, err := e.Finish()
	if err != nil {
		return nil, err
	}
	log.Debugf("lowered %d guards of translation %d to %d bytes", len(gs), u.Trans, len(code))
	return code, nil
}
