package vm

import "fmt"

// ---------------------------------------------------------------------------
// Dispatch facade
// ---------------------------------------------------------------------------
//
// One entry point per generic array operation. Vanilla arrays go straight to
// the vanilla implementation; bespoke arrays are validated by asBespoke and
// routed through their layout's operation table.

func asBespoke(ad *ArrayData) LayoutFunctions {
	h := ad.hdr
	k := h.Kind()
	if !k.IsValid() {
		panic(fmt.Sprintf("bespoke dispatch: invalid kind %d", uint8(k)))
	}
	if !k.IsBespoke() {
		panic(fmt.Sprintf("bespoke dispatch: %s is vanilla", k))
	}
	if !h.FastIsBespoke() {
		panic(fmt.Sprintf("bespoke dispatch: %s without layout marker", k))
	}
	l := registry.lookup(h.FastLayoutIndex())
	if l == nil || l.vtable == nil {
		panic(fmt.Sprintf("bespoke dispatch: no concrete layout at index %d", h.FastLayoutIndex()))
	}
	return l.vtable
}

// LayoutOf returns the layout of a bespoke array, or nil for vanilla ones.
func LayoutOf(ad *ArrayData) *Layout {
	if ad.IsVanilla() {
		return nil
	}
	asBespoke(ad)
	return registry.lookup(ad.hdr.FastLayoutIndex())
}

func unsupported(op string, ad *ArrayData) {
	panic(fmt.Sprintf("%s is not supported on bespoke array %s", op, ad.hdr))
}

// ToVanilla returns a vanilla array with ad's contents. The caller keeps its
// reference on ad; the result carries its own. reason is logged.
func ToVanilla(ad *ArrayData, reason string) *ArrayData {
	if ad.IsVanilla() {
		ad.IncRef()
		return ad
	}
	log.Debugf("escalating %s to vanilla: %s", ad.hdr, reason)
	return asBespoke(ad).EscalateToVanilla(ad, reason)
}

// CopyVanilla returns an unshared copy of a vanilla array with one reference.
// Layouts use it to hand out arrays that may be mutated.
func CopyVanilla(ad *ArrayData) *ArrayData {
	if !ad.IsVanilla() {
		unsupported("CopyVanilla", ad)
	}
	return vanillaCopy(ad)
}

// ---------------------------------------------------------------------------
// Lifetime
// ---------------------------------------------------------------------------

// Release frees ad's storage and drops its elements' references. DecRef
// calls it when the count reaches zero.
func Release(ad *ArrayData) {
	if ad.IsVanilla() {
		vanillaRelease(ad)
		return
	}
	asBespoke(ad).Release(ad)
}

// MakeUncounted returns a request-independent copy of a refcounted array.
// Bespoke arrays are escalated first; uncounted arrays are always vanilla.
func MakeUncounted(ad *ArrayData) *ArrayData {
	if !ad.IsRefCounted() {
		panic("MakeUncounted: array is not refcounted")
	}
	if ad.IsVanilla() {
		return vanillaMakeUncounted(ad)
	}
	vad := ToVanilla(ad, "MakeUncounted")
	defer vad.DecRef()
	return vanillaMakeUncounted(vad)
}

// ReleaseUncounted drops a cross-request reference and frees ad with the
// last one.
func ReleaseUncounted(ad *ArrayData) {
	if !ad.uncountedDecRef() {
		return
	}
	if ad.IsVanilla() {
		vanillaReleaseUncounted(ad)
		return
	}
	asBespoke(ad).ReleaseUncounted(ad)
}

// IsVectorData reports whether ad's keys are exactly 0..n-1 in order.
func IsVectorData(ad *ArrayData) bool {
	if ad.IsVanilla() {
		return vanillaIsVectorData(ad)
	}
	return asBespoke(ad).IsVectorData(ad)
}

// HeapSize estimates the bytes ad occupies.
func HeapSize(ad *ArrayData) int {
	if ad.IsVanilla() {
		return vanillaHeapSize(ad)
	}
	return asBespoke(ad).HeapSize(ad)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// NvGetInt returns the value at k, or Uninit when absent.
func NvGetInt(ad *ArrayData, k int64) TypedValue {
	if ad.IsVanilla() {
		return vanillaGetInt(ad, k)
	}
	return asBespoke(ad).GetInt(ad, k)
}

// NvGetStr returns the value at k, or Uninit when absent.
func NvGetStr(ad *ArrayData, k string) TypedValue {
	if ad.IsVanilla() {
		return vanillaGetStr(ad, k)
	}
	return asBespoke(ad).GetStr(ad, k)
}

// NvGetIntPos returns k's position, or IterEnd when absent.
func NvGetIntPos(ad *ArrayData, k int64) int {
	if ad.IsVanilla() {
		return vanillaGetIntPos(ad, k)
	}
	return asBespoke(ad).GetIntPos(ad, k)
}

// NvGetStrPos returns k's position, or IterEnd when absent.
func NvGetStrPos(ad *ArrayData, k string) int {
	if ad.IsVanilla() {
		return vanillaGetStrPos(ad, k)
	}
	return asBespoke(ad).GetStrPos(ad, k)
}

// GetPosKey returns the key at a valid position.
func GetPosKey(ad *ArrayData, pos int) TypedValue {
	if ad.IsVanilla() {
		return vanillaGetPosKey(ad, pos)
	}
	return asBespoke(ad).GetPosKey(ad, pos)
}

// GetPosVal returns the value at a valid position.
func GetPosVal(ad *ArrayData, pos int) TypedValue {
	if ad.IsVanilla() {
		return vanillaGetPosVal(ad, pos)
	}
	return asBespoke(ad).GetPosVal(ad, pos)
}

// ExistsInt reports whether k is present.
func ExistsInt(ad *ArrayData, k int64) bool { return NvGetInt(ad, k).IsInit() }

// ExistsStr reports whether k is present.
func ExistsStr(ad *ArrayData, k string) bool { return NvGetStr(ad, k).IsInit() }

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

func IterBegin(ad *ArrayData) int {
	if ad.IsVanilla() {
		return vanillaIterBegin(ad)
	}
	return asBespoke(ad).IterBegin(ad)
}

func IterLast(ad *ArrayData) int {
	if ad.IsVanilla() {
		return vanillaIterLast(ad)
	}
	return asBespoke(ad).IterLast(ad)
}

func IterEnd(ad *ArrayData) int {
	if ad.IsVanilla() {
		return vanillaIterEnd(ad)
	}
	return asBespoke(ad).IterEnd(ad)
}

func IterAdvance(ad *ArrayData, pos int) int {
	if ad.IsVanilla() {
		return vanillaIterAdvance(ad, pos)
	}
	return asBespoke(ad).IterAdvance(ad, pos)
}

func IterRewind(ad *ArrayData, pos int) int {
	if ad.IsVanilla() {
		return vanillaIterRewind(ad, pos)
	}
	return asBespoke(ad).IterRewind(ad, pos)
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------
//
// These consume the caller's reference on ad and on v, and return an array
// holding one reference.

func SetIntMove(ad *ArrayData, k int64, v TypedValue) *ArrayData {
	if ad.IsVanilla() {
		return vanillaSetInt(ad, k, v)
	}
	return asBespoke(ad).SetInt(ad, k, v)
}

func SetStrMove(ad *ArrayData, k string, v TypedValue) *ArrayData {
	if ad.IsVanilla() {
		return vanillaSetStr(ad, k, v)
	}
	return asBespoke(ad).SetStr(ad, k, v)
}

func RemoveInt(ad *ArrayData, k int64) *ArrayData {
	if ad.IsVanilla() {
		return vanillaRemoveInt(ad, k)
	}
	return asBespoke(ad).RemoveInt(ad, k)
}

func RemoveStr(ad *ArrayData, k string) *ArrayData {
	if ad.IsVanilla() {
		return vanillaRemoveStr(ad, k)
	}
	return asBespoke(ad).RemoveStr(ad, k)
}

func AppendMove(ad *ArrayData, v TypedValue) *ArrayData {
	if ad.IsVanilla() {
		return vanillaAppend(ad, v)
	}
	return asBespoke(ad).Append(ad, v)
}

// Pop removes the last element and returns it with its own reference. An
// empty array yields Null.
func Pop(ad *ArrayData) (*ArrayData, TypedValue) {
	if ad.IsVanilla() {
		return vanillaPop(ad)
	}
	return asBespoke(ad).Pop(ad)
}

// ---------------------------------------------------------------------------
// Sorting
// ---------------------------------------------------------------------------

// EscalateForSort returns an unshared vanilla array to sort with sf. The
// caller keeps its reference on ad. Sorts outside the sort family preserve
// keys, so vecs become dicts and varrays darrays.
func EscalateForSort(ad *ArrayData, sf SortFunction) *ArrayData {
	if !sf.IsSortFamily() {
		switch ad.Kind().Vanilla() {
		case PackedKind:
			return convertKind(escalateCopy(ad), MixedKind, false)
		case VecKind:
			return convertKind(escalateCopy(ad), DictKind, false)
		}
	}
	if ad.IsVanilla() {
		return vanillaCopy(ad)
	}
	return asBespoke(ad).PreSort(ad, sf)
}

func escalateCopy(ad *ArrayData) *ArrayData {
	if ad.IsVanilla() {
		return vanillaCopy(ad)
	}
	vad := ToVanilla(ad, "EscalateForSort")
	if vad.HasExactlyOneRef() {
		return vad
	}
	c := vanillaCopy(vad)
	vad.DecRef()
	return c
}

// PostSort hands a sorted vanilla array back to ad's layout, which may
// re-specialize it. vad's reference is consumed; ad's is not. When sorting
// changed the array's type the vanilla result is returned as is.
func PostSort(ad, vad *ArrayData) *ArrayData {
	if !vad.IsVanilla() {
		panic("PostSort: sorted array must be vanilla")
	}
	if ad.IsVanilla() || ad.DataType() != vad.DataType() {
		return vad
	}
	if !vad.HasExactlyOneRef() {
		panic("PostSort: sorted array must be unshared")
	}
	return asBespoke(ad).PostSort(ad, vad)
}

// SortArray sorts ad with sf, following the escalate/sort/post-sort protocol
// for bespoke arrays. Move semantics apply to ad.
func SortArray(ad *ArrayData, sf SortFunction, cmp func(a, b TypedValue) int) *ArrayData {
	if ad.IsVanilla() && (sf.IsSortFamily() || !ad.isPacked()) {
		ad = vanillaPrepareForWrite(ad)
		SortVanilla(ad, sf, cmp)
		return ad
	}
	if ad.Empty() && !ad.IsVanilla() {
		return ad
	}
	vad := EscalateForSort(ad, sf)
	SortVanilla(vad, sf, cmp)
	res := PostSort(ad, vad)
	ad.DecRef()
	return res
}

// The vanilla-only sort entry points. Bespoke arrays must go through
// SortArray; reaching one of these with a bespoke array is a bug.

func Sort(ad *ArrayData, descending bool) {
	sortVanillaOnly("Sort", ad, pick(descending, SortFunctionRSort, SortFunctionSort), nil)
}

func Asort(ad *ArrayData, descending bool) {
	sortVanillaOnly("Asort", ad, pick(descending, SortFunctionARSort, SortFunctionASort), nil)
}

func Ksort(ad *ArrayData, descending bool) {
	sortVanillaOnly("Ksort", ad, pick(descending, SortFunctionKRSort, SortFunctionKSort), nil)
}

func Usort(ad *ArrayData, cmp func(a, b TypedValue) int) {
	sortVanillaOnly("Usort", ad, SortFunctionUSort, cmp)
}

func Uasort(ad *ArrayData, cmp func(a, b TypedValue) int) {
	sortVanillaOnly("Uasort", ad, SortFunctionUASort, cmp)
}

func Uksort(ad *ArrayData, cmp func(a, b TypedValue) int) {
	sortVanillaOnly("Uksort", ad, SortFunctionUKSort, cmp)
}

func pick(cond bool, a, b SortFunction) SortFunction {
	if cond {
		return a
	}
	return b
}

func sortVanillaOnly(op string, ad *ArrayData, sf SortFunction, cmp func(a, b TypedValue) int) {
	if !ad.IsVanilla() {
		unsupported(op, ad)
	}
	SortVanilla(ad, sf, cmp)
}

// ---------------------------------------------------------------------------
// Conversions and static arrays
// ---------------------------------------------------------------------------

// ToDVArray converts to the varray/darray flavor. With copy set the caller
// keeps its reference on ad; otherwise it is consumed.
func ToDVArray(ad *ArrayData, copy bool) *ArrayData {
	if ad.IsVanilla() {
		return vanillaToDVArray(ad, copy)
	}
	return asBespoke(ad).ToDVArray(ad, copy)
}

// ToHackArr converts varrays to vecs and darrays to dicts.
func ToHackArr(ad *ArrayData, copy bool) *ArrayData {
	if ad.IsVanilla() {
		return vanillaToHackArr(ad, copy)
	}
	return asBespoke(ad).ToHackArr(ad, copy)
}

// SetLegacyArray sets or clears the legacy mark.
func SetLegacyArray(ad *ArrayData, copy, legacy bool) *ArrayData {
	if ad.IsVanilla() {
		return vanillaSetLegacyArray(ad, copy, legacy)
	}
	return asBespoke(ad).SetLegacyArray(ad, copy, legacy)
}

// CopyStatic returns an immortal copy of a vanilla array.
func CopyStatic(ad *ArrayData) *ArrayData {
	if !ad.IsVanilla() {
		unsupported("CopyStatic", ad)
	}
	c := vanillaCopy(ad)
	OnSetEvalScalar(c)
	return c.SetStatic()
}

// OnSetEvalScalar makes every element of an unshared vanilla array static
// so the array itself may become static.
func OnSetEvalScalar(ad *ArrayData) {
	if !ad.IsVanilla() {
		unsupported("OnSetEvalScalar", ad)
	}
	for i, v := range ad.vals {
		switch {
		case v.Type == KindOfString:
			ad.vals[i] = FromStaticString(v.Str())
		case v.Type.IsArrayLikeType() && !v.arr.IsStatic():
			vad := ToVanilla(v.arr, "OnSetEvalScalar")
			s := CopyStatic(vad)
			vad.DecRef()
			v.arr.DecRef()
			ad.vals[i] = FromArray(s)
		case v.Type == KindOfObject:
			panic("OnSetEvalScalar: objects cannot be static")
		}
		if ad.isSet() {
			ad.keys[i] = ad.vals[i]
		}
	}
	for i, k := range ad.keys {
		if k.Type == KindOfString {
			ad.keys[i] = FromStaticString(k.Str())
		}
	}
}
