package vm

import (
	"errors"
	"os"
	"testing"
)

// ---------------------------------------------------------------------------
// Test layout: a bespoke array boxing a vanilla one
// ---------------------------------------------------------------------------

type boxLayout struct {
	idx LayoutIndex
}

func (b *boxLayout) box(vad *ArrayData) *ArrayData {
	ad := NewBespokeArray(vad.Kind(), b.idx, vad.Size(), vad)
	ad.SetLegacyBit(vad.IsLegacyArray())
	return ad
}

func unbox(ad *ArrayData) *ArrayData { return ad.Payload().(*ArrayData) }

// take moves ad's inner array out, consuming the caller's reference on ad.
func take(ad *ArrayData) *ArrayData {
	inner := unbox(ad)
	if ad.HasExactlyOneRef() {
		ad.SetPayload(nil)
	} else {
		inner.IncRef()
		ad.DecRef()
	}
	return inner
}

func (b *boxLayout) HeapSize(ad *ArrayData) int { return 16 + HeapSize(unbox(ad)) }

func (b *boxLayout) EscalateToVanilla(ad *ArrayData, reason string) *ArrayData {
	inner := unbox(ad)
	inner.IncRef()
	return inner
}

func (b *boxLayout) ReleaseUncounted(ad *ArrayData) {}
func (b *boxLayout) Release(ad *ArrayData)          { unbox(ad).DecRef() }
func (b *boxLayout) IsVectorData(ad *ArrayData) bool {
	return IsVectorData(unbox(ad))
}

func (b *boxLayout) GetInt(ad *ArrayData, k int64) TypedValue   { return NvGetInt(unbox(ad), k) }
func (b *boxLayout) GetStr(ad *ArrayData, k string) TypedValue  { return NvGetStr(unbox(ad), k) }
func (b *boxLayout) GetIntPos(ad *ArrayData, k int64) int       { return NvGetIntPos(unbox(ad), k) }
func (b *boxLayout) GetStrPos(ad *ArrayData, k string) int      { return NvGetStrPos(unbox(ad), k) }
func (b *boxLayout) GetPosKey(ad *ArrayData, p int) TypedValue  { return GetPosKey(unbox(ad), p) }
func (b *boxLayout) GetPosVal(ad *ArrayData, p int) TypedValue  { return GetPosVal(unbox(ad), p) }
func (b *boxLayout) IterBegin(ad *ArrayData) int                { return IterBegin(unbox(ad)) }
func (b *boxLayout) IterLast(ad *ArrayData) int                 { return IterLast(unbox(ad)) }
func (b *boxLayout) IterEnd(ad *ArrayData) int                  { return IterEnd(unbox(ad)) }
func (b *boxLayout) IterAdvance(ad *ArrayData, p int) int       { return IterAdvance(unbox(ad), p) }
func (b *boxLayout) IterRewind(ad *ArrayData, p int) int        { return IterRewind(unbox(ad), p) }
func (b *boxLayout) PreSort(ad *ArrayData, sf SortFunction) *ArrayData { return vanillaCopy(unbox(ad)) }
func (b *boxLayout) PostSort(ad, vad *ArrayData) *ArrayData     { return b.box(vad) }

func (b *boxLayout) SetInt(ad *ArrayData, k int64, v TypedValue) *ArrayData {
	return b.box(SetIntMove(take(ad), k, v))
}

func (b *boxLayout) SetStr(ad *ArrayData, k string, v TypedValue) *ArrayData {
	return b.box(SetStrMove(take(ad), k, v))
}

func (b *boxLayout) RemoveInt(ad *ArrayData, k int64) *ArrayData {
	return b.box(RemoveInt(take(ad), k))
}

func (b *boxLayout) RemoveStr(ad *ArrayData, k string) *ArrayData {
	return b.box(RemoveStr(take(ad), k))
}

func (b *boxLayout) Append(ad *ArrayData, v TypedValue) *ArrayData {
	return b.box(AppendMove(take(ad), v))
}

func (b *boxLayout) Pop(ad *ArrayData) (*ArrayData, TypedValue) {
	inner, v := Pop(take(ad))
	return b.box(inner), v
}

func (b *boxLayout) ToDVArray(ad *ArrayData, copy bool) *ArrayData {
	if copy {
		return b.box(ToDVArray(unbox(ad), true))
	}
	return b.box(ToDVArray(take(ad), false))
}

func (b *boxLayout) ToHackArr(ad *ArrayData, copy bool) *ArrayData {
	if copy {
		return b.box(ToHackArr(unbox(ad), true))
	}
	return b.box(ToHackArr(take(ad), false))
}

func (b *boxLayout) SetLegacyArray(ad *ArrayData, copy, legacy bool) *ArrayData {
	if copy {
		return b.box(SetLegacyArray(unbox(ad), true, legacy))
	}
	return b.box(SetLegacyArray(take(ad), false, legacy))
}

var (
	testBox     = &boxLayout{}
	testFamA    = &boxLayout{}
	testFamB    = &boxLayout{}
	testFamBase LayoutIndex
	testAbsIdx  LayoutIndex

	testSplitBase LayoutIndex
	testSplitErr  error
	testStrayErr  error
)

func mustRegisterAt(index LayoutIndex, name string, vtable LayoutFunctions, parents ...LayoutIndex) {
	if err := RegisterLayoutAt(index, name, vtable, parents...); err != nil {
		panic(err)
	}
}

func TestMain(m *testing.M) {
	testBox.idx = RegisterLayout("Box", testBox)
	testFamBase = ReserveBlock(4)
	testFamA.idx = testFamBase + 1
	testFamB.idx = testFamBase + 2
	mustRegisterAt(testFamBase, "Family", nil)
	mustRegisterAt(testFamA.idx, "FamilyA", testFamA, testFamBase)
	mustRegisterAt(testFamB.idx, "FamilyB", testFamB, testFamBase)
	testAbsIdx = RegisterAbstractLayout("Lonely")

	// SplitAA under SplitA would put SplitB inside SplitA's range.
	testSplitBase = ReserveBlock(4)
	mustRegisterAt(testSplitBase, "Split", nil)
	mustRegisterAt(testSplitBase+1, "SplitA", &boxLayout{idx: testSplitBase + 1}, testSplitBase)
	mustRegisterAt(testSplitBase+2, "SplitB", &boxLayout{idx: testSplitBase + 2}, testSplitBase)
	testSplitErr = RegisterLayoutAt(testSplitBase+3, "SplitAA", &boxLayout{idx: testSplitBase + 3}, testSplitBase+1)
	// A stray layout landing in the middle of an existing range.
	testStrayErr = RegisterLayoutAt(testSplitBase+3, "Stray", &boxLayout{idx: testSplitBase + 3}, testFamBase)

	FinalizeHierarchy()
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestReserveBlockAlignment(t *testing.T) {
	if testFamBase%4 != 0 {
		t.Errorf("Expected block base aligned to 4, got %d", testFamBase)
	}
	if got := LayoutFromIndex(testFamBase).Describe(); got != "Family" {
		t.Errorf("Expected Family, got %s", got)
	}
	if LayoutFromIndex(testFamBase + 3) != nil {
		t.Error("unused reserved slot should hold no layout")
	}
}

func TestRegisterRejectsSplitRange(t *testing.T) {
	for name, err := range map[string]error{"SplitAA": testSplitErr, "Stray": testStrayErr} {
		if !errors.Is(err, ErrLayoutRange) {
			t.Errorf("%s: Expected ErrLayoutRange, got %v", name, err)
		}
	}
	if LayoutFromIndex(testSplitBase+3) != nil {
		t.Error("a rejected layout should not be registered")
	}
	split := LayoutFromIndex(testSplitBase)
	want := MaskAndCompare{XorVal: uint16(testSplitBase), AndVal: 0xffff, CmpVal: 2}
	if got := split.MaskAndCompare(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestRegisterAfterFinalizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic registering after FinalizeHierarchy")
		}
	}()
	RegisterLayout("Late", testBox)
}

func TestMaskAndCompareAcceptsExactlyDescendants(t *testing.T) {
	EachLayout(func(l *Layout) {
		mc := l.MaskAndCompare().WithMagic()
		for i := 0; i <= int(MaxLayoutIndex); i++ {
			other := LayoutFromIndex(LayoutIndex(i))
			if other == nil || !other.IsConcrete() {
				continue
			}
			h := uint16(i) | MagicBit
			want := other.IsSubtype(l)
			if got := mc.Accepts(h); got != want {
				t.Errorf("%s: Accepts(%s) = %v, want %v", l, other, got, want)
			}
		}
		if mc.Accepts(0) {
			t.Errorf("%s: test accepts a vanilla header", l)
		}
	})
}

func TestFamilyMaskIsRangeTest(t *testing.T) {
	mc := LayoutFromIndex(testFamBase).MaskAndCompare()
	want := MaskAndCompare{XorVal: uint16(testFamBase), AndVal: 0xffff, CmpVal: 2}
	if mc != want {
		t.Errorf("Expected %s, got %s", want, mc)
	}
	single := LayoutFromIndex(testBox.idx).MaskAndCompare()
	if single != FullCompare(uint16(testBox.idx)) {
		t.Errorf("Expected full compare for Box, got %s", single)
	}
}

func TestLayoutJoinMeet(t *testing.T) {
	top := LayoutFromIndex(TopLayoutIndex)
	fam := LayoutFromIndex(testFamBase)
	a := LayoutFromIndex(testFamA.idx)
	b := LayoutFromIndex(testFamB.idx)
	box := LayoutFromIndex(testBox.idx)

	if got := LayoutJoin(a, b); got != fam {
		t.Errorf("Expected join(A, B) = Family, got %s", got)
	}
	if got := LayoutJoin(a, box); got != top {
		t.Errorf("Expected join(A, Box) = top, got %s", got)
	}
	if got := LayoutJoin(a, a); got != a {
		t.Errorf("Expected join(A, A) = A, got %s", got)
	}
	if got, ok := LayoutMeet(fam, a); !ok || got != a {
		t.Errorf("Expected meet(Family, A) = A, got %v %v", got, ok)
	}
	if _, ok := LayoutMeet(a, b); ok {
		t.Error("meet(A, B) should not exist")
	}
	if got, ok := LayoutMeet(top, box); !ok || got != box {
		t.Errorf("Expected meet(top, Box) = Box, got %v %v", got, ok)
	}
	if !a.IsSubtype(fam) || fam.IsSubtype(a) || !box.IsSubtype(top) {
		t.Error("subtype relation is wrong")
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func vecOf(ns ...int64) *ArrayData {
	vals := make([]TypedValue, len(ns))
	for i, n := range ns {
		vals[i] = FromInt(n)
	}
	return NewVec(vals...)
}

func boxed(vad *ArrayData) *ArrayData { return testBox.box(vad) }

func TestDispatchTransparency(t *testing.T) {
	ops := []func(*ArrayData) *ArrayData{
		func(ad *ArrayData) *ArrayData { return SetStrMove(ad, "a", FromInt(1)) },
		func(ad *ArrayData) *ArrayData { return SetIntMove(ad, 7, FromStaticString("seven")) },
		func(ad *ArrayData) *ArrayData { return AppendMove(ad, FromDouble(2.5)) },
		func(ad *ArrayData) *ArrayData { return RemoveStr(ad, "a") },
		func(ad *ArrayData) *ArrayData { return SetStrMove(ad, "b", True) },
		func(ad *ArrayData) *ArrayData { ad, _ = Pop(ad); return ad },
	}
	van := NewDict()
	bes := boxed(NewDict())
	for i, op := range ops {
		van = op(van)
		bes = op(bes)
		if bes.IsVanilla() {
			t.Fatalf("step %d: bespoke array became vanilla", i)
		}
		if !ArraysEqual(van, bes) {
			t.Errorf("step %d: Expected %s, got %s", i, van, bes)
		}
		if IsVectorData(van) != IsVectorData(bes) {
			t.Errorf("step %d: IsVectorData differs", i)
		}
	}
	if NvGetInt(bes, 7).Str() != "seven" || !ExistsInt(bes, 7) || ExistsStr(bes, "a") {
		t.Errorf("unexpected contents %s", bes)
	}
	if got := NvGetStr(bes, "missing"); got.IsInit() {
		t.Errorf("Expected Uninit for missing key, got %s", got)
	}
}

func TestDispatchIterationOrder(t *testing.T) {
	bes := boxed(vecOf(10, 20, 30))
	var got []int64
	for pos := IterLast(bes); pos != IterEnd(bes); pos = IterRewind(bes, pos) {
		got = append(got, GetPosVal(bes, pos).Int())
	}
	want := []int64{30, 20, 10}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %d, got %d", want[i], got[i])
		}
	}
	if pos := NvGetIntPos(bes, 1); GetPosKey(bes, pos).Int() != 1 {
		t.Errorf("Expected key 1 at position %d", pos)
	}
}

func TestAsBespokeRejectsBadArrays(t *testing.T) {
	cases := map[string]*ArrayData{
		"unregistered index": NewBespokeArray(VecKind, 4000, 0, nil),
		"abstract layout":    NewBespokeArray(VecKind, testAbsIdx, 0, nil),
	}
	missingMagic := NewBespokeArray(VecKind, testBox.idx, 0, NewVec())
	missingMagic.hdr = Header(uint64(missingMagic.hdr) &^ headerMagicMask)
	cases["missing marker"] = missingMagic

	for name, ad := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", name)
				}
			}()
			NvGetInt(ad, 0)
		}()
	}
}

func TestUnsupportedOpsPanic(t *testing.T) {
	cmp := func(a, b TypedValue) int { return 0 }
	ops := map[string]func(*ArrayData){
		"Sort":            func(ad *ArrayData) { Sort(ad, false) },
		"Asort":           func(ad *ArrayData) { Asort(ad, false) },
		"Ksort":           func(ad *ArrayData) { Ksort(ad, true) },
		"Usort":           func(ad *ArrayData) { Usort(ad, cmp) },
		"Uasort":          func(ad *ArrayData) { Uasort(ad, cmp) },
		"Uksort":          func(ad *ArrayData) { Uksort(ad, cmp) },
		"CopyStatic":      func(ad *ArrayData) { CopyStatic(ad) },
		"OnSetEvalScalar": func(ad *ArrayData) { OnSetEvalScalar(ad) },
	}
	for name, op := range ops {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic on bespoke array", name)
				}
			}()
			op(boxed(vecOf(2, 1)))
		}()
	}
}

func TestToVanillaPreservesContents(t *testing.T) {
	bes := boxed(vecOf(1, 2, 3))
	vad := ToVanilla(bes, "test")
	if !vad.IsVanilla() {
		t.Fatal("ToVanilla returned a bespoke array")
	}
	if !ArraysEqual(vad, bes) {
		t.Errorf("Expected %s, got %s", bes, vad)
	}
	if bes.RefCount() != 1 {
		t.Errorf("Expected caller's reference untouched, got count %d", bes.RefCount())
	}
}

func TestSortArrayBespoke(t *testing.T) {
	res := SortArray(boxed(vecOf(3, 1, 2)), SortFunctionSort, nil)
	if res.IsVanilla() {
		t.Error("PostSort should hand the result back to the layout")
	}
	if !ArraysEqual(res, vecOf(1, 2, 3)) {
		t.Errorf("Expected vec[1, 2, 3], got %s", res)
	}

	// asort keeps keys, so the vec must become a dict first
	res = SortArray(boxed(vecOf(3, 1, 2)), SortFunctionASort, nil)
	if res.DataType() != KindOfDict {
		t.Fatalf("Expected Dict, got %s", res.DataType())
	}
	if !res.IsVanilla() {
		t.Error("type-changing sorts return the vanilla result")
	}
	if got := GetPosKey(res, IterBegin(res)).Int(); got != 1 {
		t.Errorf("Expected first key 1, got %d", got)
	}
}

func TestMakeUncountedEscalates(t *testing.T) {
	bes := boxed(vecOf(1, 2))
	u := MakeUncounted(bes)
	if !u.IsVanilla() || !u.IsUncounted() {
		t.Fatalf("Expected vanilla uncounted array, got %s", u.Header())
	}
	if !ArraysEqual(u, bes) {
		t.Errorf("Expected %s, got %s", bes, u)
	}
	ReleaseUncounted(u)
	if u.Size() != 0 {
		t.Errorf("Expected storage released, size %d", u.Size())
	}
}

func TestConversionsThroughLayout(t *testing.T) {
	bes := boxed(vecOf(4, 5))
	dv := ToDVArray(bes, true)
	if dv.DataType() != KindOfVArray || dv.IsVanilla() {
		t.Errorf("Expected bespoke VArray, got %s", dv.Header())
	}
	if bes.DataType() != KindOfVec {
		t.Errorf("copy conversion changed the source: %s", bes.DataType())
	}
	hack := ToHackArr(dv, false)
	if hack.DataType() != KindOfVec {
		t.Errorf("Expected Vec, got %s", hack.DataType())
	}
	leg := SetLegacyArray(hack, false, true)
	if !leg.IsLegacyArray() {
		t.Error("Expected legacy mark")
	}
}
