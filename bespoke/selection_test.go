package bespoke

import (
	"testing"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// build runs n constructions at sk, applying fn to each result.
func build(s *Session, sk vm.SrcKey, n int, mk func() *vm.ArrayData, fn func(*vm.ArrayData) *vm.ArrayData) {
	for i := 0; i < n; i++ {
		ad := s.NewLoggingArray(sk, mk())
		if fn != nil {
			fn(ad)
		}
	}
}

func appendAll(vals ...vm.TypedValue) func(*vm.ArrayData) *vm.ArrayData {
	return func(ad *vm.ArrayData) *vm.ArrayData {
		for _, v := range vals {
			ad = vm.AppendMove(ad, v)
		}
		return ad
	}
}

func TestSelectSourceLayouts(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	narrow := site("selNarrow", vm.Instr{Op: vm.OpNewVec})
	wide := site("selWide", vm.Instr{Op: vm.OpNewVec})
	strs := site("selStrs", vm.Instr{Op: vm.OpNewVec})
	mixed := site("selMixed", vm.Instr{Op: vm.OpNewVec})
	dict := site("selDict", vm.Instr{Op: vm.OpNewDictArray})
	sorted := site("selSorted", vm.Instr{Op: vm.OpNewVec})
	unsampled := site("selUnsampled", vm.Instr{Op: vm.OpNewVec})

	empty := func() *vm.ArrayData { return vm.NewVec() }
	build(s, narrow, 3, empty, appendAll(vm.FromInt(1), vm.FromInt(2)))
	build(s, wide, 3, empty, appendAll(vm.FromInt(1<<40)))
	build(s, strs, 3, empty, appendAll(vm.FromString("a")))
	build(s, mixed, 3, empty, appendAll(vm.FromInt(1), vm.FromString("a")))
	build(s, dict, 3, vm.NewDict, func(ad *vm.ArrayData) *vm.ArrayData {
		return vm.SetIntMove(ad, 0, vm.FromInt(1))
	})
	build(s, sorted, 3, empty, func(ad *vm.ArrayData) *vm.ArrayData {
		ad = vm.AppendMove(ad, vm.FromInt(2))
		vm.EscalateForSort(ad, vm.SortFunctionSort)
		return ad
	})
	s.GetLoggingProfile(SiteSource{SrcKey: unsampled})

	s.SelectLayouts()

	want := map[vm.SrcKey]jit.ArrayLayout{
		narrow:    monoLayout(monoInt32.index),
		wide:      monoLayout(monoInt.index),
		strs:      monoLayout(monoStr.index),
		mixed:     jit.Vanilla(),
		dict:      jit.Vanilla(),
		sorted:    jit.Vanilla(),
		unsampled: jit.Vanilla(),
	}
	for sk, l := range want {
		if got := s.GetLoggingProfile(SiteSource{SrcKey: sk}).Layout(); got != l {
			t.Errorf("%s: Expected %s, got %s", sk, l, got)
		}
	}
}

func TestSelectTestModeKeepsLogging(t *testing.T) {
	s := newSession(config.ModeTest, 1)
	sk := site("selTestMode", vm.Instr{Op: vm.OpNewVec})
	build(s, sk, 1, func() *vm.ArrayData { return intVec(1) }, nil)
	s.SelectLayouts()
	if got := s.GetLoggingProfile(SiteSource{SrcKey: sk}).Layout(); got != LoggingLayout() {
		t.Errorf("Expected the logging layout in test mode, got %s", got)
	}
}

func TestFrozenSessionAppliesDecision(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	sk := site("selFrozen", vm.Instr{Op: vm.OpNewVec})
	build(s, sk, 2, func() *vm.ArrayData { return intVec(1, 2) }, nil)
	s.SelectLayouts()

	ad := s.NewLoggingArray(sk, intVec(3, 4))
	if got := jit.LayoutForArray(ad); got != monoLayout(monoInt32.index) {
		t.Errorf("Expected a MonotypeVec<Int32>, got %s", got)
	}
	if !vm.ArraysEqual(ad, intVec(3, 4)) {
		t.Errorf("Expected [3 4], got %s", ad)
	}
}

func TestStaticBespokeArrayForLiteral(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	lit := intVec(5, 6).SetStatic()
	sk := site("selLiteral", vm.Instr{Op: vm.OpVec, Arr: lit})
	build(s, sk, 2, func() *vm.ArrayData { return lit }, nil)
	s.SelectLayouts()

	p := s.GetLoggingProfile(SiteSource{SrcKey: sk})
	static := p.StaticBespokeArray()
	if static == nil {
		t.Fatal("Expected a static bespoke array")
	}
	if !static.IsStatic() || jit.LayoutForArray(static) != p.Layout() {
		t.Errorf("Expected a static %s, got %s", p.Layout(), jit.LayoutForArray(static))
	}
	if got := s.NewLoggingArray(sk, lit); got != static {
		t.Error("Expected the literal replaced by its static bespoke array")
	}
}

func TestSelectSinkLayouts(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	mono := site("sinkMonoSrc", vm.Instr{Op: vm.OpNewVec})
	van := site("sinkVanSrc", vm.Instr{Op: vm.OpNewVec})
	trans := jit.NewTransID()

	var monoArrs, vanArrs []*vm.ArrayData
	for i := 0; i < 4; i++ {
		monoArrs = append(monoArrs, s.NewLoggingArray(mono, intVec(1, 2)))
		vanArrs = append(vanArrs, s.NewLoggingArray(van, vm.NewVec(vm.FromInt(1), vm.FromString("x"))))
	}

	allMono := s.GetSinkProfile(trans, site("sinkAllMono", vm.Instr{Op: vm.OpIdx}))
	allVan := s.GetSinkProfile(trans, site("sinkAllVan", vm.Instr{Op: vm.OpIdx}))
	split := s.GetSinkProfile(trans, site("sinkSplit", vm.Instr{Op: vm.OpIdx}))
	untracked := s.GetSinkProfile(trans, site("sinkUntracked", vm.Instr{Op: vm.OpIdx}))
	unseen := s.GetSinkProfile(trans, site("sinkUnseen", vm.Instr{Op: vm.OpIdx}))
	for i := 0; i < 4; i++ {
		allMono.Update(monoArrs[i])
		allVan.Update(vanArrs[i])
		split.Update(monoArrs[i])
		split.Update(vanArrs[i])
		untracked.Update(intVec(1))
	}

	s.SelectLayouts()

	tests := []struct {
		name string
		sp   *SinkProfile
		want jit.ArrayLayout
	}{
		{"all monotype", allMono, monoLayout(monoInt32.index)},
		{"all vanilla", allVan, jit.Vanilla()},
		{"split", split, jit.Top()},
		{"untracked", untracked, jit.Vanilla()},
		{"unseen", unseen, jit.Top()},
	}
	for _, tt := range tests {
		if got := tt.sp.Layout(); got != tt.want {
			t.Errorf("%s: Expected %s, got %s", tt.name, tt.want, got)
		}
	}
}
