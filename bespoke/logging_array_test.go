package bespoke

import (
	"testing"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
	"github.com/google/go-cmp/cmp"
)

func loggingVec(t *testing.T, name string, ns ...int64) (*Session, *LoggingProfile, *vm.ArrayData) {
	t.Helper()
	s := newSession(config.ModeProfile, 1)
	p := s.GetLoggingProfile(SiteSource{SrcKey: site(name, vm.Instr{Op: vm.OpNewVec})})
	ad := MaybeMakeLoggingArray(p, intVec(ns...))
	if ProfileOf(ad) != p {
		t.Fatal("Expected a logging array")
	}
	return s, p, ad
}

func eventCounts(p *LoggingProfile) map[EventKey]uint64 {
	out := make(map[EventKey]uint64)
	for _, e := range p.Events() {
		out[e.Key] = e.Count
	}
	return out
}

func TestLoggingArrayForwardsAndLogs(t *testing.T) {
	_, p, ad := loggingVec(t, "TestLoggingArrayForwards", 10, 20)
	if jit.LayoutForArray(ad) != LoggingLayout() {
		t.Errorf("Expected the logging layout, got %s", jit.LayoutForArray(ad))
	}
	if got := vm.NvGetInt(ad, 1); got.Int() != 20 {
		t.Errorf("Expected 20, got %s", got)
	}
	if vm.NvGetInt(ad, 5).IsInit() {
		t.Error("Expected Uninit for a missing key")
	}

	ad = vm.AppendMove(ad, vm.FromInt(30))
	ad = vm.AppendMove(ad, vm.FromDouble(1.5))
	if ProfileOf(ad) != p {
		t.Fatal("Expected writes to keep the logging layout")
	}
	if ad.Size() != 4 || Unwrap(ad).Size() != 4 {
		t.Errorf("Expected size 4, got %d (wrapped %d)", ad.Size(), Unwrap(ad).Size())
	}

	events := eventCounts(p)
	want := map[EventKey]uint64{
		{Op: OpGetInt, keyKind: keyInt, IntKey: 1}:             1,
		{Op: OpGetInt, keyKind: keyInt, IntKey: 5}:             1,
		{Op: OpAppend, ValType: vm.KindOfInt64, HasVal: true}:  1,
		{Op: OpAppend, ValType: vm.KindOfDouble, HasVal: true}: 1,
	}
	if diff := cmp.Diff(want, events, cmp.AllowUnexported(EventKey{})); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	ints := vm.EntryTypes{Keys: vm.KeyTypesInts, Values: vm.ValueTypesMonotype, ValueType: vm.KindOfInt64}
	mixed := vm.EntryTypes{Keys: vm.KeyTypesInts, Values: vm.ValueTypesAny, ValueType: vm.KindOfUninit}
	gotTypes := make(map[EntryTypesTransition]uint64)
	for _, et := range p.EntryTypes() {
		gotTypes[et.Transition] = et.Count
	}
	wantTypes := map[EntryTypesTransition]uint64{
		{ints.Pack(), ints.Pack()}:  2, // creation, then the int append
		{ints.Pack(), mixed.Pack()}: 1,
	}
	if diff := cmp.Diff(wantTypes, gotTypes); diff != "" {
		t.Errorf("entry types mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggingArrayCopyOnWrite(t *testing.T) {
	_, _, ad := loggingVec(t, "TestLoggingArrayCopyOnWrite", 1, 2)
	ad.IncRef()
	b := vm.AppendMove(ad, vm.FromInt(3))
	if b == ad {
		t.Fatal("append to a shared logging array must copy")
	}
	if ad.Size() != 2 || Unwrap(ad).Size() != 2 {
		t.Errorf("Expected the shared array unchanged, got size %d", Unwrap(ad).Size())
	}
	if b.Size() != 3 {
		t.Errorf("Expected size 3, got %d", b.Size())
	}
	if ad.RefCount() != 1 {
		t.Errorf("Expected the consumed reference dropped, got %d", ad.RefCount())
	}
}

func TestLoggingArrayEscalation(t *testing.T) {
	_, p, ad := loggingVec(t, "TestLoggingArrayEscalation", 4, 5)
	v := vm.ToVanilla(ad, "test")
	if !v.IsVanilla() {
		t.Fatal("Expected a vanilla array")
	}
	if !vm.ArraysEqual(v, intVec(4, 5)) {
		t.Errorf("Expected [4 5], got %s", v)
	}
	if n := eventCounts(p)[EventKey{Op: OpEscalateToVanilla}]; n != 1 {
		t.Errorf("Expected 1 escalation, got %d", n)
	}
}

func TestLoggingArrayPop(t *testing.T) {
	_, p, ad := loggingVec(t, "TestLoggingArrayPop", 7, 8)
	ad, v := vm.Pop(ad)
	if v.Int() != 8 || ad.Size() != 1 {
		t.Errorf("Expected to pop 8 leaving 1 element, got %s and size %d", v, ad.Size())
	}
	if ProfileOf(ad) != p {
		t.Error("Expected Pop to keep the logging layout")
	}
}

func TestStaticLiteralSharesLoggingArray(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	lit := intVec(1, 2, 3).SetStatic()
	sk := site("TestStaticLiteral", vm.Instr{Op: vm.OpVec, Arr: lit})

	a := s.NewLoggingArray(sk, lit)
	b := s.NewLoggingArray(sk, lit)
	if a != b {
		t.Error("Expected one logging array per static literal")
	}
	if !a.IsStatic() || Unwrap(a) != lit {
		t.Error("Expected a static wrapper around the literal")
	}
	p := s.GetLoggingProfile(SiteSource{SrcKey: sk})
	if p.StaticSourceArray() != lit {
		t.Error("Expected the literal recorded as the static source")
	}
	if p.LoggingArraysEmitted() != 2 {
		t.Errorf("Expected 2 emitted, got %d", p.LoggingArraysEmitted())
	}
}

func TestStringKeysLoggedOnlyWhenStatic(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	lit := vm.NewDict()
	lit = vm.SetStrMove(lit, "known", vm.FromInt(1))
	lit.SetStatic()
	sk := site("TestStringKeys", vm.Instr{Op: vm.OpDict, Arr: lit})
	ad := s.NewLoggingArray(sk, lit)
	p := ProfileOf(ad)

	vm.NvGetStr(ad, "known")
	vm.NvGetStr(ad, "dynamic")
	events := eventCounts(p)
	if events[EventKey{Op: OpGetStr, keyKind: keyStaticStr, StrKey: "known"}] != 1 {
		t.Error("Expected the static key logged verbatim")
	}
	if events[EventKey{Op: OpGetStr, keyKind: keyStr}] != 1 {
		t.Error("Expected the dynamic key logged as <string>")
	}
}

func TestReleasedProfileIgnoresEvents(t *testing.T) {
	_, p, ad := loggingVec(t, "TestReleasedProfile", 1)
	p.releaseData()
	vm.NvGetInt(ad, 0)
	if !p.Released() || p.TotalEvents() != 0 || p.Events() != nil {
		t.Error("Expected a released profile to stay empty")
	}
}

func TestSinkProfileUpdate(t *testing.T) {
	s, p, ad := loggingVec(t, "TestSinkProfileUpdate", 1, 2)
	sp := s.GetSinkProfile(jit.NewTransID(), site("TestSinkProfileUpdateSink", vm.Instr{Op: vm.OpIdx}))
	sp.Update(ad)
	sp.Update(intVec(3))

	if sp.SampledCount() != 1 || sp.UnsampledCount() != 1 {
		t.Errorf("Expected 1 sampled and 1 unsampled, got %d and %d", sp.SampledCount(), sp.UnsampledCount())
	}
	if sp.ArrCount(vm.VecKind) != 2 {
		t.Errorf("Expected 2 vecs, got %d", sp.ArrCount(vm.VecKind))
	}
	if sp.KeyCount(vm.KeyTypesInts) != 1 || sp.ValCount(vm.KindOfInt64) != 1 {
		t.Errorf("Expected int keys and values counted once, got %d and %d",
			sp.KeyCount(vm.KeyTypesInts), sp.ValCount(vm.KindOfInt64))
	}
	srcs := sp.Sources()
	if len(srcs) != 2 || srcs[0].Source != nil || srcs[1].Source != p {
		t.Errorf("Expected the unknown source then %s, got %v", p, srcs)
	}
}
