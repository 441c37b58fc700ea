package bespoke

import (
	"testing"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

func monoLayout(idx vm.LayoutIndex) jit.ArrayLayout { return jit.LayoutFromIndex(idx) }

func TestMaybeMonoifyPicksNarrowest(t *testing.T) {
	dict := func() *vm.ArrayData { return vm.SetIntMove(vm.NewDict(), 0, vm.FromInt(1)) }
	tests := []struct {
		name string
		make func() *vm.ArrayData
		want jit.ArrayLayout
	}{
		{"small ints", func() *vm.ArrayData { return intVec(1, 2, 3) }, monoLayout(monoInt32.index)},
		{"wide ints", func() *vm.ArrayData { return intVec(1, 1<<40) }, monoLayout(monoInt.index)},
		{"doubles", func() *vm.ArrayData { return vm.NewVec(vm.FromDouble(1), vm.FromDouble(2)) }, monoLayout(monoDouble.index)},
		{"strings", func() *vm.ArrayData { return vm.NewVec(vm.FromString("a"), vm.FromStaticString("b")) }, monoLayout(monoStr.index)},
		{"varray", func() *vm.ArrayData { return vm.NewVArray(vm.FromInt(5)) }, monoLayout(monoInt32.index)},
		{"mixed", func() *vm.ArrayData { return vm.NewVec(vm.FromInt(1), vm.FromString("x")) }, jit.Vanilla()},
		{"empty", func() *vm.ArrayData { return vm.NewVec() }, jit.Vanilla()},
		{"dict", dict, jit.Vanilla()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MaybeMonoify(tt.make())
			if got := jit.LayoutForArray(res); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			if !vm.ArraysEqual(res, tt.make()) {
				t.Errorf("Expected %s, got %s", tt.make(), res)
			}
		})
	}
}

func TestMonotypeReads(t *testing.T) {
	ad := MaybeMonoify(intVec(1, 2, 3))
	if got := vm.NvGetInt(ad, 2); got.Int() != 3 {
		t.Errorf("Expected 3, got %s", got)
	}
	if vm.NvGetInt(ad, 3).IsInit() || vm.NvGetStr(ad, "x").IsInit() {
		t.Error("Expected Uninit for missing keys")
	}
	if vm.NvGetIntPos(ad, 9) != vm.IterEnd(ad) {
		t.Error("Expected the end position for a missing key")
	}
	if !vm.IsVectorData(ad) {
		t.Error("Expected vector data")
	}
	if vm.IterLast(ad) != 2 || vm.IterRewind(ad, 0) != vm.IterEnd(ad) {
		t.Error("Expected vanilla iteration positions")
	}
}

func TestMonotypeWritesWidenAndEscalate(t *testing.T) {
	ad := MaybeMonoify(intVec(1, 2, 3))
	ad = vm.SetIntMove(ad, 0, vm.FromInt(9))
	if got := jit.LayoutForArray(ad); got != monoLayout(monoInt32.index) {
		t.Errorf("Expected Int32 after a narrow write, got %s", got)
	}

	ad = vm.AppendMove(ad, vm.FromInt(1<<40))
	if got := jit.LayoutForArray(ad); got != monoLayout(monoInt.index) {
		t.Errorf("Expected Int after a wide append, got %s", got)
	}
	if ad.Size() != 4 || vm.NvGetInt(ad, 3).Int() != 1<<40 || vm.NvGetInt(ad, 0).Int() != 9 {
		t.Errorf("unexpected contents %s", ad)
	}

	ad = vm.AppendMove(ad, vm.FromString("s"))
	if !ad.IsVanilla() {
		t.Fatalf("Expected vanilla after a string append, got %s", jit.LayoutForArray(ad))
	}
	want := vm.NewVec(vm.FromInt(9), vm.FromInt(2), vm.FromInt(3), vm.FromInt(1<<40), vm.FromString("s"))
	if !vm.ArraysEqual(ad, want) {
		t.Errorf("Expected %s, got %s", want, ad)
	}
}

func TestMonotypeCopyOnWrite(t *testing.T) {
	a := MaybeMonoify(intVec(1, 2))
	a.IncRef()
	b := vm.AppendMove(a, vm.FromInt(3))
	if a == b {
		t.Fatal("append to a shared monotype vec must copy")
	}
	if a.Size() != 2 || b.Size() != 3 {
		t.Errorf("Expected sizes 2 and 3, got %d and %d", a.Size(), b.Size())
	}
	if a.RefCount() != 1 {
		t.Errorf("Expected the consumed reference dropped, got %d", a.RefCount())
	}
}

func TestMonotypeRemoveAndPop(t *testing.T) {
	ad := MaybeMonoify(intVec(1, 2, 3))
	ad = vm.RemoveInt(ad, 2)
	if ad.IsVanilla() || ad.Size() != 2 {
		t.Errorf("Expected removing the last element to stay monotype, got %s", ad)
	}
	ad = vm.RemoveInt(ad, 7)
	if ad.Size() != 2 {
		t.Errorf("Expected removing a missing key to do nothing, got size %d", ad.Size())
	}
	ad, v := vm.Pop(ad)
	if v.Int() != 2 || ad.Size() != 1 {
		t.Errorf("Expected to pop 2, got %s", v)
	}
	ad, _ = vm.Pop(ad)
	ad, v = vm.Pop(ad)
	if !v.IsNull() || !ad.Empty() {
		t.Errorf("Expected Null from an empty vec, got %s", v)
	}
}

func TestMonotypeConversions(t *testing.T) {
	ad := MaybeMonoify(intVec(1, 2))
	dv := vm.ToDVArray(ad, true)
	if dv.Kind().Vanilla() != vm.PackedKind || dv.IsVanilla() {
		t.Errorf("Expected a bespoke varray, got %s", dv.Header())
	}
	if ad.Kind().Vanilla() != vm.VecKind {
		t.Error("Expected the copied-from vec unchanged")
	}
	back := vm.ToHackArr(dv, false)
	if !vm.ArraysEqual(back, intVec(1, 2)) {
		t.Errorf("Expected [1 2], got %s", back)
	}
	legacy := vm.SetLegacyArray(back, false, true)
	if !legacy.IsLegacyArray() || legacy.IsVanilla() {
		t.Error("Expected a legacy monotype array")
	}
}

func TestMonotypeConversionReleasesIntermediate(t *testing.T) {
	owned := MaybeMonoify(intVec(1, 2))
	dv := vm.ToDVArray(owned, false)
	if owned.Payload() != nil {
		t.Error("Expected the moved-from vec released")
	}
	if dv.RefCount() != 1 || !vm.ArraysEqual(vm.ToHackArr(dv, true), intVec(1, 2)) {
		t.Errorf("Expected a sole-owned [1 2], got %s with %d refs", dv, dv.RefCount())
	}

	shared := MaybeMonoify(intVec(3, 4))
	shared.IncRef()
	dv = vm.ToDVArray(shared, false)
	if shared.RefCount() != 1 || shared.Payload() == nil {
		t.Errorf("Expected the shared vec to keep one live reference, got %d", shared.RefCount())
	}
	if dv.RefCount() != 1 {
		t.Errorf("Expected 1 ref on the converted array, got %d", dv.RefCount())
	}

	kept := vm.ToHackArr(dv, true)
	if dv.RefCount() != 1 || dv.Payload() == nil {
		t.Errorf("Expected the source of a copy untouched, got %d refs", dv.RefCount())
	}
	if !vm.ArraysEqual(kept, intVec(3, 4)) {
		t.Errorf("Expected [3 4], got %s", kept)
	}
}

func TestMonotypeLayoutLattice(t *testing.T) {
	top := MonotypeTopLayout()
	i32 := monoLayout(monoInt32.index)
	i64 := monoLayout(monoInt.index)
	dbl := monoLayout(monoDouble.index)
	str := monoLayout(monoStr.index)

	if !i32.LessEq(i64) || !i64.LessEq(top) || i64.LessEq(i32) {
		t.Error("Expected Int32 <= Int <= Top")
	}
	if got := dbl.Join(str); got != top {
		t.Errorf("Expected Double | Str = %s, got %s", top, got)
	}
	if got := i32.Join(dbl); got != top {
		t.Errorf("Expected Int32 | Double = %s, got %s", top, got)
	}
	if got := i64.Meet(i32); got != i32 {
		t.Errorf("Expected Int & Int32 = Int32, got %s", got)
	}
	if got := dbl.Meet(str); got != jit.Bottom() {
		t.Errorf("Expected Double & Str = Bottom, got %s", got)
	}
	for _, l := range []jit.ArrayLayout{top, i32, i64, dbl, str} {
		if !l.Monotype() || l.Logging() {
			t.Errorf("%s: Expected monotype, not logging", l)
		}
	}
	if !LoggingLayout().Logging() {
		t.Error("Expected the logging layout to report Logging")
	}
}

func TestMonotypeTypeHooks(t *testing.T) {
	i32 := monoLayout(monoInt32.index)
	if got := i32.AppendType(jit.TInt); got != monoLayout(monoInt.index) {
		t.Errorf("Expected an int append to land in Int, got %s", got)
	}
	if got := i32.AppendType(jit.TStr); got != jit.Top() {
		t.Errorf("Expected a string append to lose the layout, got %s", got)
	}
	str := monoLayout(monoStr.index)
	if got := str.AppendType(jit.TStr); got != str {
		t.Errorf("Expected a string append to keep Str, got %s", got)
	}
	if elem, _ := str.ElemType(jit.TInt); elem != jit.TStr {
		t.Errorf("Expected Str elements, got %s", elem)
	}
}

func TestMonotypeMaskAcceptsFamily(t *testing.T) {
	mc := MonotypeTopLayout().BespokeMaskAndCompare().WithMagic()
	for _, m := range []vm.LayoutIndex{monoInt.index, monoInt32.index, monoDouble.index, monoStr.index} {
		if !mc.Accepts(uint16(m) | vm.MagicBit) {
			t.Errorf("Expected the family test to accept %d", m)
		}
	}
	if mc.Accepts(uint16(loggingIndex) | vm.MagicBit) {
		t.Error("Expected the family test to reject the logging layout")
	}
}
