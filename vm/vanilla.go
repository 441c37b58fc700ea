package vm

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Vanilla array storage
// ---------------------------------------------------------------------------
//
// Packed kinds (varray, vec) store values densely; positions are indices.
// Mixed and set kinds (darray, dict, keyset) store keys and values in
// insertion order. Removed slots keep an Uninit key until the next compaction,
// so positions stay stable across removals.

func (ad *ArrayData) isPacked() bool {
	k := ad.Kind()
	return k == PackedKind || k == VecKind
}

func (ad *ArrayData) isSet() bool { return ad.Kind() == KeysetKind }

// vanillaCopy returns a private copy of ad with one reference. Elements gain
// a reference each; tombstones are compacted away.
func vanillaCopy(ad *ArrayData) *ArrayData {
	c := &ArrayData{hdr: ad.hdr.WithStatic(false).WithUncounted(false), count: 1, size: ad.size}
	if ad.isPacked() {
		c.vals = make([]TypedValue, len(ad.vals), cap(ad.vals)+1)
		copy(c.vals, ad.vals)
		for _, v := range c.vals {
			v.IncRef()
		}
		return c
	}
	c.nextKI = ad.nextKI
	c.index = make(map[arrayKey]int, ad.size)
	c.keys = make([]TypedValue, 0, ad.size+1)
	c.vals = make([]TypedValue, 0, ad.size+1)
	for i, k := range ad.keys {
		if !k.IsInit() {
			continue
		}
		c.index[keyOf(k)] = len(c.keys)
		c.keys = append(c.keys, k)
		c.vals = append(c.vals, ad.vals[i])
		ad.vals[i].IncRef()
	}
	return c
}

// vanillaPrepareForWrite implements move-in semantics: the caller's reference
// on ad is consumed and the returned array may be mutated.
func vanillaPrepareForWrite(ad *ArrayData) *ArrayData {
	if !ad.cowCheck() {
		return ad
	}
	c := vanillaCopy(ad)
	ad.DecRef()
	return c
}

// compact drops tombstones once they outnumber live elements.
func (ad *ArrayData) compact() {
	if ad.isPacked() || len(ad.keys) <= 2*ad.size+8 {
		return
	}
	keys := make([]TypedValue, 0, ad.size+1)
	vals := make([]TypedValue, 0, ad.size+1)
	for i, k := range ad.keys {
		if !k.IsInit() {
			continue
		}
		ad.index[keyOf(k)] = len(keys)
		keys = append(keys, k)
		vals = append(vals, ad.vals[i])
	}
	ad.keys, ad.vals = keys, vals
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func vanillaGetIntPos(ad *ArrayData, k int64) int {
	if ad.isPacked() {
		if k >= 0 && k < int64(ad.size) {
			return int(k)
		}
		return vanillaIterEnd(ad)
	}
	if pos, ok := ad.index[intKey(k)]; ok {
		return pos
	}
	return vanillaIterEnd(ad)
}

func vanillaGetStrPos(ad *ArrayData, k string) int {
	if ad.isPacked() {
		return vanillaIterEnd(ad)
	}
	if pos, ok := ad.index[strKey(k)]; ok {
		return pos
	}
	return vanillaIterEnd(ad)
}

func vanillaGetInt(ad *ArrayData, k int64) TypedValue {
	pos := vanillaGetIntPos(ad, k)
	if pos == vanillaIterEnd(ad) {
		return Uninit
	}
	return ad.vals[pos]
}

func vanillaGetStr(ad *ArrayData, k string) TypedValue {
	pos := vanillaGetStrPos(ad, k)
	if pos == vanillaIterEnd(ad) {
		return Uninit
	}
	return ad.vals[pos]
}

func vanillaGetPosKey(ad *ArrayData, pos int) TypedValue {
	if ad.isPacked() {
		return FromInt(int64(pos))
	}
	return ad.keys[pos]
}

func vanillaGetPosVal(ad *ArrayData, pos int) TypedValue {
	return ad.vals[pos]
}

func vanillaIsVectorData(ad *ArrayData) bool {
	if ad.isPacked() {
		return true
	}
	i := int64(0)
	for _, k := range ad.keys {
		if !k.IsInit() {
			continue
		}
		if k.Type != KindOfInt64 || k.Int() != i {
			return false
		}
		i++
	}
	return true
}

func vanillaHeapSize(ad *ArrayData) int {
	const headerBytes, cellBytes = 16, 16
	if ad.isPacked() {
		return headerBytes + cellBytes*cap(ad.vals)
	}
	return headerBytes + 2*cellBytes*cap(ad.keys) + 24*len(ad.index)
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

func vanillaIterEnd(ad *ArrayData) int {
	if ad.isPacked() {
		return ad.size
	}
	return len(ad.keys)
}

func vanillaIterAdvance(ad *ArrayData, pos int) int {
	end := vanillaIterEnd(ad)
	if pos >= end {
		return end
	}
	for pos++; pos < end && !ad.isPacked() && !ad.keys[pos].IsInit(); pos++ {
	}
	return pos
}

func vanillaIterBegin(ad *ArrayData) int {
	if ad.isPacked() || len(ad.keys) == 0 || ad.keys[0].IsInit() {
		return 0
	}
	return vanillaIterAdvance(ad, 0)
}

func vanillaIterLast(ad *ArrayData) int {
	end := vanillaIterEnd(ad)
	if ad.size == 0 {
		return end
	}
	return vanillaIterRewind(ad, end)
}

func vanillaIterRewind(ad *ArrayData, pos int) int {
	end := vanillaIterEnd(ad)
	for pos--; pos >= 0; pos-- {
		if ad.isPacked() || ad.keys[pos].IsInit() {
			return pos
		}
	}
	return end
}

// ---------------------------------------------------------------------------
// Writes (move semantics)
// ---------------------------------------------------------------------------

func vanillaSetInt(ad *ArrayData, k int64, v TypedValue) *ArrayData {
	if ad.isSet() {
		panic("SetInt: keysets do not support keyed writes")
	}
	ad = vanillaPrepareForWrite(ad)
	if ad.isPacked() {
		if k < 0 || k >= int64(ad.size) {
			panic(fmt.Sprintf("SetInt: key %d out of bounds for %s of size %d", k, ad.Kind(), ad.size))
		}
		old := ad.vals[k]
		ad.vals[k] = v
		old.DecRef()
		return ad
	}
	return ad.mixedSet(FromInt(k), v)
}

func vanillaSetStr(ad *ArrayData, k string, v TypedValue) *ArrayData {
	if ad.isSet() {
		panic("SetStr: keysets do not support keyed writes")
	}
	if ad.isPacked() {
		panic(fmt.Sprintf("SetStr: string key %q on %s", k, ad.Kind()))
	}
	ad = vanillaPrepareForWrite(ad)
	return ad.mixedSet(FromStaticString(k), v)
}

func (ad *ArrayData) mixedSet(k, v TypedValue) *ArrayData {
	key := keyOf(k)
	if pos, ok := ad.index[key]; ok {
		old := ad.vals[pos]
		ad.vals[pos] = v
		old.DecRef()
		return ad
	}
	ad.compact()
	ad.index[key] = len(ad.keys)
	ad.keys = append(ad.keys, k)
	ad.vals = append(ad.vals, v)
	ad.size++
	if !key.str && key.i >= ad.nextKI {
		ad.nextKI = key.i + 1
	}
	return ad
}

func vanillaRemove(ad *ArrayData, key arrayKey) *ArrayData {
	if ad.isPacked() {
		if key.str || key.i < 0 || key.i >= int64(ad.size) {
			return ad
		}
		if key.i != int64(ad.size-1) {
			if ad.Kind() == VecKind {
				panic("Remove: vecs only support removing the last element")
			}
			// varrays become darrays when a hole opens up
			ad = vanillaPrepareForWrite(ad)
			ad = packedToMixed(ad, MixedKind)
			return vanillaRemove(ad, key)
		}
		ad = vanillaPrepareForWrite(ad)
		ad.size--
		old := ad.vals[ad.size]
		ad.vals = ad.vals[:ad.size]
		old.DecRef()
		return ad
	}
	if _, ok := ad.index[key]; !ok {
		return ad
	}
	ad = vanillaPrepareForWrite(ad)
	pos := ad.index[key]
	delete(ad.index, key)
	old := ad.vals[pos]
	ad.keys[pos] = Uninit
	ad.vals[pos] = Uninit
	ad.size--
	old.DecRef()
	return ad
}

func vanillaRemoveInt(ad *ArrayData, k int64) *ArrayData {
	return vanillaRemove(ad, intKey(k))
}

func vanillaRemoveStr(ad *ArrayData, k string) *ArrayData {
	return vanillaRemove(ad, strKey(k))
}

func vanillaAppend(ad *ArrayData, v TypedValue) *ArrayData {
	ad = vanillaPrepareForWrite(ad)
	switch {
	case ad.isPacked():
		ad.vals = append(ad.vals[:ad.size], v)
		ad.size++
		return ad
	case ad.isSet():
		key := keyOf(v)
		if _, ok := ad.index[key]; ok {
			v.DecRef()
			return ad
		}
		ad.compact()
		ad.index[key] = len(ad.keys)
		ad.keys = append(ad.keys, v)
		ad.vals = append(ad.vals, v)
		ad.size++
		return ad
	}
	return ad.mixedSet(FromInt(ad.nextKI), v)
}

func vanillaPop(ad *ArrayData) (*ArrayData, TypedValue) {
	if ad.size == 0 {
		return ad, Null
	}
	ad = vanillaPrepareForWrite(ad)
	pos := vanillaIterLast(ad)
	v := ad.vals[pos]
	v.IncRef()
	if ad.isPacked() {
		ad = vanillaRemove(ad, intKey(int64(pos)))
	} else {
		ad = vanillaRemove(ad, keyOf(ad.keys[pos]))
		if !ad.isSet() {
			ad.nextKI = 0
			for _, k := range ad.keys {
				if k.Type == KindOfInt64 && k.Int() >= ad.nextKI {
					ad.nextKI = k.Int() + 1
				}
			}
		}
	}
	return ad, v
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func packedToMixed(ad *ArrayData, to HeaderKind) *ArrayData {
	vals := ad.vals[:ad.size]
	ad.hdr = ad.hdr.WithKind(to)
	ad.index = make(map[arrayKey]int, len(vals))
	ad.keys = make([]TypedValue, len(vals))
	ad.vals = make([]TypedValue, len(vals))
	for i, v := range vals {
		ad.keys[i] = FromInt(int64(i))
		ad.vals[i] = v
		ad.index[intKey(int64(i))] = i
	}
	ad.nextKI = int64(len(vals))
	return ad
}

func mixedToPacked(ad *ArrayData, to HeaderKind) *ArrayData {
	vals := make([]TypedValue, 0, ad.size)
	for i, k := range ad.keys {
		if k.IsInit() {
			vals = append(vals, ad.vals[i])
		}
	}
	ad.hdr = ad.hdr.WithKind(to)
	ad.keys, ad.index, ad.nextKI = nil, nil, 0
	ad.vals = vals
	return ad
}

// convertKind changes ad's flavor. With copy set the result is a new array
// and ad's reference stays with the caller; otherwise it is consumed and ad
// is converted in place when unshared.
func convertKind(ad *ArrayData, to HeaderKind, copyArr bool) *ArrayData {
	if ad.Kind() == to {
		if copyArr {
			ad.IncRef()
		}
		return ad
	}
	if copyArr {
		ad = vanillaCopy(ad)
	} else {
		ad = vanillaPrepareForWrite(ad)
	}
	from := ad.Kind()
	switch {
	case (from == PackedKind || from == VecKind) && (to == PackedKind || to == VecKind):
		ad.hdr = ad.hdr.WithKind(to)
	case from == PackedKind || from == VecKind:
		ad = packedToMixed(ad, to)
	case to == PackedKind || to == VecKind:
		ad = mixedToPacked(ad, to)
	default:
		ad.hdr = ad.hdr.WithKind(to)
	}
	return ad
}

func vanillaToDVArray(ad *ArrayData, copyArr bool) *ArrayData {
	switch ad.Kind() {
	case VecKind, PackedKind:
		return convertKind(ad, PackedKind, copyArr)
	}
	return convertKind(ad, MixedKind, copyArr)
}

func vanillaToHackArr(ad *ArrayData, copyArr bool) *ArrayData {
	switch ad.Kind() {
	case PackedKind:
		return convertKind(ad, VecKind, copyArr)
	case MixedKind:
		return convertKind(ad, DictKind, copyArr)
	}
	if copyArr {
		ad.IncRef()
	}
	return ad
}

func vanillaSetLegacyArray(ad *ArrayData, copyArr, legacy bool) *ArrayData {
	if copyArr {
		ad = vanillaCopy(ad)
	} else {
		ad = vanillaPrepareForWrite(ad)
	}
	ad.SetLegacyBit(legacy)
	return ad
}

// ---------------------------------------------------------------------------
// Lifetime
// ---------------------------------------------------------------------------

func vanillaRelease(ad *ArrayData) {
	for i, v := range ad.vals {
		if !ad.isPacked() && !ad.keys[i].IsInit() {
			continue
		}
		v.DecRef()
	}
	ad.keys, ad.vals, ad.index = nil, nil, nil
	ad.size = 0
}

func vanillaMakeUncounted(ad *ArrayData) *ArrayData {
	c := vanillaCopy(ad)
	for i, v := range c.vals {
		v.DecRef()
		c.vals[i] = makeUncountedValue(v)
		if c.isSet() {
			c.keys[i] = c.vals[i]
		}
	}
	for i, k := range c.keys {
		if k.Type == KindOfString {
			c.keys[i] = FromStaticString(k.Str())
		}
	}
	c.hdr = c.hdr.WithUncounted(true)
	return c
}

func makeUncountedValue(v TypedValue) TypedValue {
	switch {
	case v.Type == KindOfString:
		return FromStaticString(v.Str())
	case v.Type.IsArrayLikeType():
		if v.arr.IsStatic() || v.arr.IsUncounted() {
			if v.arr.IsUncounted() {
				v.arr.UncountedIncRef()
			}
			return v
		}
		return FromArray(MakeUncounted(v.arr))
	case v.Type == KindOfObject:
		panic("MakeUncounted: objects cannot be shared across requests")
	}
	return v
}

func vanillaReleaseUncounted(ad *ArrayData) {
	for _, v := range ad.vals {
		if v.Type.IsArrayLikeType() && v.arr.IsUncounted() {
			ReleaseUncounted(v.arr)
		}
	}
	ad.keys, ad.vals, ad.index = nil, nil, nil
	ad.size = 0
}

// ---------------------------------------------------------------------------
// Sorting
// ---------------------------------------------------------------------------

// SortFunction names a sort builtin.
type SortFunction int

const (
	SortFunctionSort SortFunction = iota
	SortFunctionRSort
	SortFunctionUSort
	SortFunctionASort
	SortFunctionARSort
	SortFunctionUASort
	SortFunctionKSort
	SortFunctionKRSort
	SortFunctionUKSort
)

// IsSortFamily reports whether sf renumbers keys (the sort/rsort/usort family).
func (sf SortFunction) IsSortFamily() bool {
	return sf == SortFunctionSort || sf == SortFunctionRSort || sf == SortFunctionUSort
}

func (sf SortFunction) byKey() bool {
	return sf == SortFunctionKSort || sf == SortFunctionKRSort || sf == SortFunctionUKSort
}

func (sf SortFunction) descending() bool {
	return sf == SortFunctionRSort || sf == SortFunctionARSort || sf == SortFunctionKRSort
}

// compareValues orders ints, doubles, strings and bools; mixed types order
// by data type.
func compareValues(a, b TypedValue) int {
	if a.Type.Dehydrate() != b.Type.Dehydrate() {
		if a.Type == KindOfInt64 && b.Type == KindOfDouble {
			return compareFloat(float64(a.Int()), b.Double())
		}
		if a.Type == KindOfDouble && b.Type == KindOfInt64 {
			return compareFloat(a.Double(), float64(b.Int()))
		}
		return int(a.Type.Dehydrate()) - int(b.Type.Dehydrate())
	}
	switch {
	case a.Type == KindOfInt64:
		x, y := a.Int(), b.Int()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case a.Type == KindOfDouble:
		return compareFloat(a.Double(), b.Double())
	case a.Type.IsStringType():
		return strings.Compare(a.Str(), b.Str())
	case a.Type == KindOfBoolean:
		return int(a.num) - int(b.num)
	}
	return 0
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// SortVanilla sorts an unshared vanilla array in place with sf's default
// comparison. The u* variants use cmp; it may be nil for the others.
func SortVanilla(ad *ArrayData, sf SortFunction, cmp func(a, b TypedValue) int) {
	if !ad.IsVanilla() || !ad.HasExactlyOneRef() {
		panic("SortVanilla: array must be vanilla and unshared")
	}
	if cmp == nil {
		cmp = compareValues
	}
	less := func(a, b TypedValue) bool {
		if sf.descending() {
			return cmp(b, a) < 0
		}
		return cmp(a, b) < 0
	}
	if ad.isPacked() {
		if !sf.IsSortFamily() {
			panic("SortVanilla: keyed sorts need a mixed array")
		}
		vals := ad.vals[:ad.size]
		sort.SliceStable(vals, func(i, j int) bool { return less(vals[i], vals[j]) })
		return
	}
	ad.compact()
	type entry struct{ k, v TypedValue }
	entries := make([]entry, 0, ad.size)
	for i, k := range ad.keys {
		if k.IsInit() {
			entries = append(entries, entry{k, ad.vals[i]})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if sf.byKey() {
			return less(entries[i].k, entries[j].k)
		}
		return less(entries[i].v, entries[j].v)
	})
	ad.keys = ad.keys[:0]
	ad.vals = ad.vals[:0]
	ad.index = make(map[arrayKey]int, len(entries))
	for i, e := range entries {
		k := e.k
		if sf.IsSortFamily() {
			k = FromInt(int64(i))
		}
		ad.index[keyOf(k)] = i
		ad.keys = append(ad.keys, k)
		ad.vals = append(ad.vals, e.v)
	}
	if sf.IsSortFamily() {
		ad.nextKI = int64(len(entries))
	}
}
