package irgen

import (
	"fmt"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// CFG converts u to a lattice control flow graph. Instruction offsets
// count across the whole unit in block order. Runtime helpers the
// translation calls out to are listed as call sites.
func CFG(u *Unit) *lattice.FuncCFG {
	name := fmt.Sprintf("%s#%d", u.Func.Name, u.Trans)
	cfg := &lattice.FuncCFG{Name: name}
	off := 0
	for _, b := range u.Blocks {
		lb := &lattice.BasicBlock{ID: b.ID, Start: off, End: off + len(b.Insts)}
		for i, in := range b.Insts {
			if callee, ok := runtimeCallee(in); ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: off + i, Callee: callee})
			}
		}
		off += len(b.Insts)

		last := b.Last()
		switch {
		case last == nil:
		case last.Op == Jmp:
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: last.Taken.ID})
		case last.Taken != nil:
			lb.Succs = append(lb.Succs,
				lattice.Successor{BlockID: last.Taken.ID, Cond: "T"},
				lattice.Successor{BlockID: last.Next.ID, Cond: "F"})
		}
		lb.Term = len(lb.Succs) == 0
		cfg.Blocks = append(cfg.Blocks, lb)
	}
	return cfg
}

// runtimeCallee names the helper an instruction calls, if any.
func runtimeCallee(in *Instruction) (string, bool) {
	switch in.Op {
	case InterpOne:
		return "interp:" + in.Extra.(NormalizedInstruction).Op.String(), true
	case NewLoggingArray, LogArrayReach, ProfileArrLikeProps, BespokeEscalateToVanilla,
		NewColFromArray, ExitSlow:
		return in.Op.String(), true
	}
	return "", false
}

// DOT renders u's control flow graph in Graphviz format.
func DOT(u *Unit) string {
	g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{CFG(u)}}
	return render.DOTCFG(g, u.Func.Name)
}
