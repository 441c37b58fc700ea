package codegen

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/arch/x86/x86asm"

	"github.com/chazu/bespoke/bespoke"
	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/jit/irgen"
	"github.com/chazu/bespoke/vm"
)

func guardedUnit(t *testing.T, kind jit.TransKind) *irgen.Unit {
	t.Helper()
	cfg := config.Default()
	cfg.Profiling.Mode = config.ModeProfile
	s := bespoke.NewSession(cfg, nil)

	fn := vm.NewFunc(t.Name(), 1,
		vm.Instr{Op: vm.OpBaseL, A: 0},
		vm.Instr{Op: vm.OpQueryM, B: int64(vm.QueryMCGet), Key: vm.MemberKey{Code: vm.MemberEI}},
		vm.Instr{Op: vm.OpRetC},
	)
	ctx := irgen.TransContext{Kind: kind}
	if kind == jit.TransOptimize {
		mono, _ := bespoke.MonotypeLayoutFor(vm.KindOfInt64, false)
		prof := jit.NewTransID()
		s.DeserializeSink(bespoke.SinkKey{Trans: prof, SrcKey: fn.SrcKey(1)}, mono)
		ctx.ProfTransIDs = []jit.TransID{prof}
	}
	u, err := irgen.Translate(fn, s, nil, ctx, irgen.FrameTypes{Locals: []jit.Type{jit.TVec}})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	return u
}

func TestLowerVanillaGuard(t *testing.T) {
	u := guardedUnit(t, jit.TransProfile)
	gs := Guards(u)
	if len(gs) != 1 || !gs[0].Layout.IsVanilla() {
		t.Fatalf("Expected one vanilla guard, got %+v", gs)
	}
	code, err := LowerGuards(u)
	if err != nil {
		t.Fatalf("LowerGuards: %v", err)
	}
	want := []x86asm.Op{x86asm.TEST, x86asm.JNE, x86asm.MOV, x86asm.RET, x86asm.MOV, x86asm.RET}
	if diff := cmp.Diff(want, decodeOps(t, code)); diff != "" {
		t.Errorf("instruction mismatch (-want +got):\n%s", diff)
	}
}

func TestLowerBespokeGuard(t *testing.T) {
	u := guardedUnit(t, jit.TransOptimize)
	gs := Guards(u)
	if len(gs) != 1 || !gs[0].Layout.Monotype() {
		t.Fatalf("Expected one monotype guard, got %+v", gs)
	}
	code, err := LowerGuards(u)
	if err != nil {
		t.Fatalf("LowerGuards: %v", err)
	}
	ops := decodeOps(t, code)
	if ops[0] != x86asm.MOVZX {
		t.Errorf("Expected the layout word to be loaded first, got %v", ops)
	}
	rets := 0
	for _, op := range ops {
		if op == x86asm.RET {
			rets++
		}
	}
	if rets != 2 {
		t.Errorf("Expected 2 returns, got %d", rets)
	}
}

func TestLowerNoGuards(t *testing.T) {
	u := guardedUnit(t, jit.TransLive)
	if gs := Guards(u); len(gs) != 0 {
		t.Fatalf("Expected no guards, got %+v", gs)
	}
	code, err := LowerGuards(u)
	if err != nil {
		t.Fatalf("LowerGuards: %v", err)
	}
	if diff := cmp.Diff([]x86asm.Op{x86asm.MOV, x86asm.RET}, decodeOps(t, code)); diff != "" {
		t.Errorf("instruction mismatch (-want +got):\n%s", diff)
	}
}
