package bespoke

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// ---------------------------------------------------------------------------
// Monotype vecs
// ---------------------------------------------------------------------------
//
// A monotype vec stores the values of a vec or varray whose elements all
// share one type in an unboxed slice. The family lives in one reserved
// block so a single range test accepts every member:
//
//	MonotypeVec<Top>     abstract
//	  MonotypeVec<Int>     []int64
//	    MonotypeVec<Int32> []int32
//	  MonotypeVec<Double>  []float64
//	  MonotypeVec<Str>     []string

type monoElem interface {
	int64 | int32 | float64 | string
}

type monotypeVec[T monoElem] struct {
	index vm.LayoutIndex
	name  string
	elem  jit.Type

	box   func(T) vm.TypedValue
	unbox func(vm.TypedValue) (T, bool)

	// widen rebuilds the values in a wider monotype layout when a write
	// does not fit; nil means writes that don't fit escalate to vanilla.
	widen func(vals []T, kind vm.HeaderKind) *vm.ArrayData
}

var (
	monoTopIndex vm.LayoutIndex

	monoInt = &monotypeVec[int64]{
		name: "MonotypeVec<Int>",
		elem: jit.TInt,
		box:  vm.FromInt,
		unbox: func(v vm.TypedValue) (int64, bool) {
			if !v.IsInt() {
				return 0, false
			}
			return v.Int(), true
		},
	}
	monoInt32 = &monotypeVec[int32]{
		name: "MonotypeVec<Int32>",
		elem: jit.TInt,
		box:  func(n int32) vm.TypedValue { return vm.FromInt(int64(n)) },
		unbox: func(v vm.TypedValue) (int32, bool) {
			if !v.IsInt() || v.Int() < math.MinInt32 || v.Int() > math.MaxInt32 {
				return 0, false
			}
			return int32(v.Int()), true
		},
		widen: func(vals []int32, kind vm.HeaderKind) *vm.ArrayData {
			wide := make([]int64, len(vals))
			for i, n := range vals {
				wide[i] = int64(n)
			}
			return monoInt.make(kind, wide)
		},
	}
	monoDouble = &monotypeVec[float64]{
		name: "MonotypeVec<Double>",
		elem: jit.TDbl,
		box:  vm.FromDouble,
		unbox: func(v vm.TypedValue) (float64, bool) {
			if v.Type != vm.KindOfDouble {
				return 0, false
			}
			return v.Double(), true
		},
	}
	monoStr = &monotypeVec[string]{
		name: "MonotypeVec<Str>",
		elem: jit.TStr,
		box:  vm.FromString,
		unbox: func(v vm.TypedValue) (string, bool) {
			if !v.IsString() {
				return "", false
			}
			return v.Str(), true
		},
	}
)

func mustRegisterAt(index vm.LayoutIndex, name string, vtable vm.LayoutFunctions, parents ...vm.LayoutIndex) {
	if err := vm.RegisterLayoutAt(index, name, vtable, parents...); err != nil {
		panic(err)
	}
}

func registerMonotypeLayouts() {
	monoTopIndex = vm.ReserveBlock(5)
	mustRegisterAt(monoTopIndex, "MonotypeVec<Top>", nil)
	vm.SetLayoutHooks(monoTopIndex, monoTopHooks{})

	// Int32 sits right after Int so Int's range stays contiguous.
	monoInt.index = monoTopIndex + 1
	monoInt32.index = monoTopIndex + 2
	monoDouble.index = monoTopIndex + 3
	monoStr.index = monoTopIndex + 4

	mustRegisterAt(monoInt.index, monoInt.name, monoInt, monoTopIndex)
	mustRegisterAt(monoInt32.index, monoInt32.name, monoInt32, monoInt.index)
	mustRegisterAt(monoDouble.index, monoDouble.name, monoDouble, monoTopIndex)
	mustRegisterAt(monoStr.index, monoStr.name, monoStr, monoTopIndex)

	vm.SetLayoutHooks(monoInt.index, monoInt)
	vm.SetLayoutHooks(monoInt32.index, monoInt32)
	vm.SetLayoutHooks(monoDouble.index, monoDouble)
	vm.SetLayoutHooks(monoStr.index, monoStr)
}

// MonotypeTopLayout is the abstract parent of the monotype vec family.
func MonotypeTopLayout() jit.ArrayLayout { return jit.LayoutFromIndex(monoTopIndex) }

// MonotypeLayoutFor returns the monotype vec layout storing values of type
// dt, and whether there is one. Ints get the 32-bit layout when narrow.
func MonotypeLayoutFor(dt vm.DataType, narrow bool) (jit.ArrayLayout, bool) {
	switch dt.Dehydrate() {
	case vm.KindOfInt64:
		if narrow {
			return jit.LayoutFromIndex(monoInt32.index), true
		}
		return jit.LayoutFromIndex(monoInt.index), true
	case vm.KindOfDouble:
		return jit.LayoutFromIndex(monoDouble.index), true
	case vm.KindOfString:
		return jit.LayoutFromIndex(monoStr.index), true
	}
	return jit.Bottom(), false
}

// MaybeMonoify converts a non-empty vanilla vec or varray whose values
// share one type into the narrowest monotype vec that holds them. Other
// arrays are returned unchanged. Move semantics apply to ad.
func MaybeMonoify(ad *vm.ArrayData) *vm.ArrayData {
	if !ad.IsVanilla() || ad.Empty() || !ad.IsVecType() {
		return ad
	}
	et := vm.EntryTypesForArray(ad)
	if !et.IsMonotype() {
		return ad
	}
	switch et.ValueType {
	case vm.KindOfInt64:
		if res, ok := monoInt32.monoify(ad); ok {
			return res
		}
		if res, ok := monoInt.monoify(ad); ok {
			return res
		}
	case vm.KindOfDouble:
		if res, ok := monoDouble.monoify(ad); ok {
			return res
		}
	case vm.KindOfString:
		if res, ok := monoStr.monoify(ad); ok {
			return res
		}
	}
	return ad
}

// monoifyAs converts ad to the monotype layout l when its values fit, and
// otherwise returns it unchanged. Move semantics apply to ad.
func monoifyAs(l jit.ArrayLayout, ad *vm.ArrayData) *vm.ArrayData {
	if !ad.IsVanilla() || !ad.IsVecType() {
		return ad
	}
	idx, ok := l.LayoutIndex()
	if !ok {
		return ad
	}
	var res *vm.ArrayData
	switch idx {
	case monoInt.index:
		res, ok = monoInt.monoify(ad)
	case monoInt32.index:
		res, ok = monoInt32.monoify(ad)
	case monoDouble.index:
		res, ok = monoDouble.monoify(ad)
	case monoStr.index:
		res, ok = monoStr.monoify(ad)
	default:
		return ad
	}
	if !ok {
		return ad
	}
	return res
}

// monoify converts a vanilla vec-shaped array when every value unboxes.
// On success ad's reference is consumed.
func (m *monotypeVec[T]) monoify(ad *vm.ArrayData) (*vm.ArrayData, bool) {
	vals := make([]T, 0, ad.Size())
	fits := true
	vm.IterateKV(ad, func(_, v vm.TypedValue) bool {
		x, ok := m.unbox(v)
		if !ok {
			fits = false
			return false
		}
		vals = append(vals, x)
		return true
	})
	if !fits {
		return nil, false
	}
	res := m.make(ad.Kind(), vals)
	res.SetLegacyBit(ad.IsLegacyArray())
	ad.DecRef()
	return res, true
}

func (m *monotypeVec[T]) make(kind vm.HeaderKind, vals []T) *vm.ArrayData {
	return vm.NewBespokeArray(kind, m.index, len(vals), vals)
}

func (m *monotypeVec[T]) vals(ad *vm.ArrayData) []T { return ad.Payload().([]T) }

func (m *monotypeVec[T]) set(ad *vm.ArrayData, vals []T) *vm.ArrayData {
	ad.SetPayload(vals)
	ad.SetSize(len(vals))
	return ad
}

// copyOf returns an unshared copy of ad with one reference.
func (m *monotypeVec[T]) copyOf(ad *vm.ArrayData) *vm.ArrayData {
	vals := m.vals(ad)
	c := make([]T, len(vals), len(vals)+1)
	copy(c, vals)
	res := m.make(ad.Kind(), c)
	res.SetLegacyBit(ad.IsLegacyArray())
	return res
}

// cow implements move-in semantics: ad's reference is consumed and the
// result may be mutated.
func (m *monotypeVec[T]) cow(ad *vm.ArrayData) *vm.ArrayData {
	if ad.HasExactlyOneRef() {
		return ad
	}
	c := m.copyOf(ad)
	ad.DecRef()
	return c
}

// escalate is EscalateToVanilla with move semantics.
func (m *monotypeVec[T]) escalate(ad *vm.ArrayData, reason string) *vm.ArrayData {
	vad := m.EscalateToVanilla(ad, reason)
	ad.DecRef()
	return vad
}

// overflow moves ad into the layout a write that does not fit lands in.
func (m *monotypeVec[T]) overflow(ad *vm.ArrayData, reason string) *vm.ArrayData {
	if m.widen == nil {
		return m.escalate(ad, reason)
	}
	res := m.widen(m.vals(ad), ad.Kind())
	res.SetLegacyBit(ad.IsLegacyArray())
	ad.DecRef()
	return res
}

func (m *monotypeVec[T]) HeapSize(ad *vm.ArrayData) int {
	var zero T
	return 16 + len(m.vals(ad))*int(unsafe.Sizeof(zero))
}

func (m *monotypeVec[T]) EscalateToVanilla(ad *vm.ArrayData, reason string) *vm.ArrayData {
	vals := m.vals(ad)
	tvs := make([]vm.TypedValue, len(vals))
	for i, x := range vals {
		tvs[i] = m.box(x)
	}
	var vad *vm.ArrayData
	if ad.Kind().Vanilla() == vm.PackedKind {
		vad = vm.NewVArray(tvs...)
	} else {
		vad = vm.NewVec(tvs...)
	}
	vad.SetLegacyBit(ad.IsLegacyArray())
	return vad
}

func (m *monotypeVec[T]) ReleaseUncounted(ad *vm.ArrayData) {}

func (m *monotypeVec[T]) Release(ad *vm.ArrayData) { ad.SetPayload(nil) }

func (m *monotypeVec[T]) IsVectorData(ad *vm.ArrayData) bool { return true }

func (m *monotypeVec[T]) GetInt(ad *vm.ArrayData, k int64) vm.TypedValue {
	vals := m.vals(ad)
	if k < 0 || k >= int64(len(vals)) {
		return vm.Uninit
	}
	return m.box(vals[k])
}

func (m *monotypeVec[T]) GetStr(ad *vm.ArrayData, k string) vm.TypedValue { return vm.Uninit }

func (m *monotypeVec[T]) GetIntPos(ad *vm.ArrayData, k int64) int {
	if k < 0 || k >= int64(ad.Size()) {
		return ad.Size()
	}
	return int(k)
}

func (m *monotypeVec[T]) GetStrPos(ad *vm.ArrayData, k string) int { return ad.Size() }

func (m *monotypeVec[T]) GetPosKey(ad *vm.ArrayData, pos int) vm.TypedValue {
	return vm.FromInt(int64(pos))
}

func (m *monotypeVec[T]) GetPosVal(ad *vm.ArrayData, pos int) vm.TypedValue {
	return m.box(m.vals(ad)[pos])
}

func (m *monotypeVec[T]) IterBegin(ad *vm.ArrayData) int { return 0 }
func (m *monotypeVec[T]) IterEnd(ad *vm.ArrayData) int   { return ad.Size() }

func (m *monotypeVec[T]) IterLast(ad *vm.ArrayData) int {
	if ad.Empty() {
		return ad.Size()
	}
	return ad.Size() - 1
}

func (m *monotypeVec[T]) IterAdvance(ad *vm.ArrayData, pos int) int {
	if pos >= ad.Size() {
		return ad.Size()
	}
	return pos + 1
}

func (m *monotypeVec[T]) IterRewind(ad *vm.ArrayData, pos int) int {
	if pos <= 0 || pos > ad.Size() {
		return ad.Size()
	}
	return pos - 1
}

func (m *monotypeVec[T]) SetInt(ad *vm.ArrayData, k int64, v vm.TypedValue) *vm.ArrayData {
	if k < 0 || k >= int64(ad.Size()) {
		return vm.SetIntMove(m.escalate(ad, "SetInt out of bounds"), k, v)
	}
	x, ok := m.unbox(v)
	if !ok {
		if v.IsInt() && m.widen != nil {
			return vm.SetIntMove(m.overflow(ad, "SetInt"), k, v)
		}
		return vm.SetIntMove(m.escalate(ad, "SetInt of "+v.Type.String()), k, v)
	}
	ad = m.cow(ad)
	m.vals(ad)[k] = x
	return ad
}

func (m *monotypeVec[T]) SetStr(ad *vm.ArrayData, k string, v vm.TypedValue) *vm.ArrayData {
	return vm.SetStrMove(m.escalate(ad, "SetStr"), k, v)
}

func (m *monotypeVec[T]) RemoveInt(ad *vm.ArrayData, k int64) *vm.ArrayData {
	n := int64(ad.Size())
	switch {
	case k < 0 || k >= n:
		return ad
	case k == n-1:
		ad = m.cow(ad)
		return m.set(ad, m.vals(ad)[:n-1])
	}
	return vm.RemoveInt(m.escalate(ad, "RemoveInt"), k)
}

func (m *monotypeVec[T]) RemoveStr(ad *vm.ArrayData, k string) *vm.ArrayData { return ad }

func (m *monotypeVec[T]) Append(ad *vm.ArrayData, v vm.TypedValue) *vm.ArrayData {
	x, ok := m.unbox(v)
	if !ok {
		if v.IsInt() && m.widen != nil {
			return vm.AppendMove(m.overflow(ad, "Append"), v)
		}
		return vm.AppendMove(m.escalate(ad, "Append of "+v.Type.String()), v)
	}
	ad = m.cow(ad)
	return m.set(ad, append(m.vals(ad), x))
}

func (m *monotypeVec[T]) Pop(ad *vm.ArrayData) (*vm.ArrayData, vm.TypedValue) {
	if ad.Empty() {
		return ad, vm.Null
	}
	ad = m.cow(ad)
	vals := m.vals(ad)
	v := m.box(vals[len(vals)-1])
	return m.set(ad, vals[:len(vals)-1]), v
}

func (m *monotypeVec[T]) PreSort(ad *vm.ArrayData, sf vm.SortFunction) *vm.ArrayData {
	return m.EscalateToVanilla(ad, "sort")
}

func (m *monotypeVec[T]) PostSort(ad, vad *vm.ArrayData) *vm.ArrayData {
	if res, ok := m.monoify(vad); ok {
		return res
	}
	return vad
}

func (m *monotypeVec[T]) ToDVArray(ad *vm.ArrayData, copyArr bool) *vm.ArrayData {
	return m.convert(ad, copyArr, vm.PackedKind)
}

func (m *monotypeVec[T]) ToHackArr(ad *vm.ArrayData, copyArr bool) *vm.ArrayData {
	return m.convert(ad, copyArr, vm.VecKind)
}

// convert switches between the vec and varray flavors, which share a
// payload shape.
func (m *monotypeVec[T]) convert(ad *vm.ArrayData, copyArr bool, to vm.HeaderKind) *vm.ArrayData {
	if ad.Kind().Vanilla() == to {
		if copyArr {
			ad.IncRef()
		}
		return ad
	}
	var res *vm.ArrayData
	if copyArr {
		res = m.copyOf(ad)
	} else {
		res = m.cow(ad)
	}
	out := m.make(to, m.vals(res))
	out.SetLegacyBit(res.IsLegacyArray())
	res.DecRef()
	return out
}

func (m *monotypeVec[T]) SetLegacyArray(ad *vm.ArrayData, copyArr, legacy bool) *vm.ArrayData {
	if copyArr {
		ad = m.copyOf(ad)
	} else {
		ad = m.cow(ad)
	}
	ad.SetLegacyBit(legacy)
	return ad
}

// ---------------------------------------------------------------------------
// Type hooks
// ---------------------------------------------------------------------------

func (m *monotypeVec[T]) layout() jit.ArrayLayout { return jit.LayoutFromIndex(m.index) }

// afterWrite is the layout after storing a value of type val. Int32 arrays
// may widen, so writes of any int land somewhere in MonotypeVec<Int>.
func (m *monotypeVec[T]) afterWrite(val jit.Type) jit.ArrayLayout {
	if m.widen != nil && val.LessEq(jit.TInt) {
		return jit.LayoutFromIndex(monoInt.index)
	}
	if val.LessEq(m.elem) {
		return m.layout()
	}
	return jit.Top()
}

func (m *monotypeVec[T]) AppendType(val jit.Type) jit.ArrayLayout { return m.afterWrite(val) }

func (m *monotypeVec[T]) SetType(key, val jit.Type) jit.ArrayLayout {
	if !key.LessEq(jit.TInt) {
		return jit.Top()
	}
	return m.afterWrite(val)
}

func (m *monotypeVec[T]) RemoveType(key jit.Type) jit.ArrayLayout {
	if key.LessEq(jit.TStr) {
		return m.layout()
	}
	return jit.Top()
}

func (m *monotypeVec[T]) ElemType(key jit.Type) (jit.Type, bool) {
	if key.LessEq(jit.TStr) {
		return jit.TBottom, false
	}
	return m.elem, false
}

func (m *monotypeVec[T]) FirstLastType(isFirst, isKey bool) (jit.Type, bool) {
	if isKey {
		return jit.TInt, false
	}
	return m.elem, false
}

func (m *monotypeVec[T]) IterPosType(pos jit.Type, isKey bool) jit.Type {
	if isKey {
		return jit.TInt
	}
	return m.elem
}

func (m *monotypeVec[T]) Logging() bool  { return false }
func (m *monotypeVec[T]) Monotype() bool { return true }

// Apply builds the static monotype counterpart of a static vanilla vec.
func (m *monotypeVec[T]) Apply(ad *vm.ArrayData) *vm.ArrayData {
	if ad.Empty() || !ad.IsVecType() {
		return nil
	}
	res, ok := m.monoify(ad)
	if !ok {
		return nil
	}
	return res.SetStatic()
}

func (m *monotypeVec[T]) String() string { return fmt.Sprintf("%s(%d)", m.name, m.index) }

// monoTopHooks answers for the abstract parent: some monotype vec of an
// unknown element type.
type monoTopHooks struct{}

var monoElemTop = jit.TInt.Union(jit.TDbl).Union(jit.TStr)

func (monoTopHooks) AppendType(val jit.Type) jit.ArrayLayout {
	return jit.Top()
}

func (monoTopHooks) SetType(key, val jit.Type) jit.ArrayLayout { return jit.Top() }

func (monoTopHooks) RemoveType(key jit.Type) jit.ArrayLayout {
	if key.LessEq(jit.TStr) {
		return MonotypeTopLayout()
	}
	return jit.Top()
}

func (monoTopHooks) ElemType(key jit.Type) (jit.Type, bool) {
	if key.LessEq(jit.TStr) {
		return jit.TBottom, false
	}
	return monoElemTop, false
}

func (monoTopHooks) FirstLastType(isFirst, isKey bool) (jit.Type, bool) {
	if isKey {
		return jit.TInt, false
	}
	return monoElemTop, false
}

func (monoTopHooks) IterPosType(pos jit.Type, isKey bool) jit.Type {
	if isKey {
		return jit.TInt
	}
	return monoElemTop
}

func (monoTopHooks) Logging() bool                        { return false }
func (monoTopHooks) Monotype() bool                       { return true }
func (monoTopHooks) Apply(ad *vm.ArrayData) *vm.ArrayData { return nil }
