package vm

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"
)

// ArrayData is the shared header and storage of every array-like value.
//
// Vanilla arrays keep their elements in the storage fields below. Bespoke
// arrays leave them empty and keep whatever their layout needs in payload;
// only the layout's operation table may interpret it.
type ArrayData struct {
	hdr   Header
	count int32 // refcount; atomic only for uncounted arrays
	size  int

	// Vanilla storage. Packed kinds use vals only. Mixed and set kinds keep
	// keys and vals in insertion order with Uninit keys as tombstones, and
	// index maps each live key to its position.
	keys   []TypedValue
	vals   []TypedValue
	index  map[arrayKey]int
	nextKI int64 // next key for appends to mixed kinds

	payload any
}

// Byte offsets the JIT loads directly.
var (
	HeaderKindOffset  = int32(unsafe.Offsetof(ArrayData{}.hdr))
	LayoutIndexOffset = int32(unsafe.Offsetof(ArrayData{}.hdr)) + 6
)

type arrayKey struct {
	str bool
	i   int64
	s   string
}

func intKey(k int64) arrayKey  { return arrayKey{i: k} }
func strKey(s string) arrayKey { return arrayKey{str: true, s: s} }

func keyOf(tv TypedValue) arrayKey {
	switch {
	case tv.Type == KindOfInt64:
		return intKey(tv.Int())
	case tv.Type.IsStringType():
		return strKey(tv.Str())
	}
	panic(fmt.Sprintf("array key must be int or string, got %s", tv.Type))
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// NewArray creates an empty vanilla array of kind k with one reference.
func NewArray(k HeaderKind) *ArrayData {
	ad := &ArrayData{hdr: MakeVanillaHeader(k), count: 1}
	if k != PackedKind && k != VecKind {
		ad.index = make(map[arrayKey]int)
	}
	return ad
}

// NewVec creates a vec holding vals. References on vals move into the array.
func NewVec(vals ...TypedValue) *ArrayData {
	ad := NewArray(VecKind)
	ad.vals = append(make([]TypedValue, 0, len(vals)), vals...)
	ad.size = len(vals)
	return ad
}

// NewVArray creates a varray holding vals.
func NewVArray(vals ...TypedValue) *ArrayData {
	ad := NewVec(vals...)
	ad.hdr = ad.hdr.WithKind(PackedKind)
	return ad
}

// NewDict creates an empty dict.
func NewDict() *ArrayData { return NewArray(DictKind) }

// NewDArray creates an empty darray.
func NewDArray() *ArrayData { return NewArray(MixedKind) }

// NewKeyset creates a keyset holding keys.
func NewKeyset(keys ...TypedValue) *ArrayData {
	ad := NewArray(KeysetKind)
	for _, k := range keys {
		ad = AppendMove(ad, k)
	}
	return ad
}

// NewBespokeArray creates an array of the bespoke counterpart of kind k in
// layout index. Layout implementations call this; payload is theirs.
func NewBespokeArray(k HeaderKind, index LayoutIndex, size int, payload any) *ArrayData {
	return &ArrayData{
		hdr:     MakeBespokeHeader(k.Vanilla(), index),
		count:   1,
		size:    size,
		payload: payload,
	}
}

// ---------------------------------------------------------------------------
// Header access
// ---------------------------------------------------------------------------

// Header returns the packed header word.
func (ad *ArrayData) Header() Header { return ad.hdr }

// Kind returns the header kind.
func (ad *ArrayData) Kind() HeaderKind { return ad.hdr.Kind() }

// DataType returns the value data type for this array.
func (ad *ArrayData) DataType() DataType { return ad.hdr.Kind().DataType() }

// IsVanilla reports whether ad uses the canonical layout.
func (ad *ArrayData) IsVanilla() bool { return !ad.hdr.Kind().IsBespoke() }

// Size returns the element count.
func (ad *ArrayData) Size() int { return ad.size }

// Empty reports whether ad has no elements.
func (ad *ArrayData) Empty() bool { return ad.size == 0 }

// SetSize records the element count. Layout implementations keep it current.
func (ad *ArrayData) SetSize(n int) { ad.size = n }

// Payload returns the layout-owned storage of a bespoke array.
func (ad *ArrayData) Payload() any { return ad.payload }

// SetPayload replaces the layout-owned storage.
func (ad *ArrayData) SetPayload(p any) { ad.payload = p }

// ExtraLo16 returns the layout-owned header bits.
func (ad *ArrayData) ExtraLo16() uint16 { return ad.hdr.ExtraLo16() }

// SetExtraLo16 replaces the layout-owned header bits.
func (ad *ArrayData) SetExtraLo16(v uint16) { ad.hdr = ad.hdr.WithExtraLo16(v) }

// IsLegacyArray reports the legacy mark.
func (ad *ArrayData) IsLegacyArray() bool { return ad.hdr.IsLegacy() }

// SetLegacyBit sets the legacy mark in place. Callers own ad exclusively.
func (ad *ArrayData) SetLegacyBit(on bool) { ad.hdr = ad.hdr.WithLegacy(on) }

// IsVecType reports whether ad is a vec or varray.
func (ad *ArrayData) IsVecType() bool { return ad.DataType().IsVecType() }

// IsDictType reports whether ad is a dict or darray.
func (ad *ArrayData) IsDictType() bool { return ad.DataType().IsDictType() }

// IsKeysetType reports whether ad is a keyset.
func (ad *ArrayData) IsKeysetType() bool { return ad.hdr.Kind().Vanilla() == KeysetKind }

// IsHackArr reports whether ad is a vec, dict or keyset (not a dvarray).
func (ad *ArrayData) IsHackArr() bool { return ad.hdr.Kind().Vanilla() >= VecKind }

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// IsStatic reports whether ad is immortal.
func (ad *ArrayData) IsStatic() bool { return ad.hdr.IsStatic() }

// IsUncounted reports whether ad is shared across requests.
func (ad *ArrayData) IsUncounted() bool { return ad.hdr.IsUncounted() }

// IsRefCounted reports whether IncRef/DecRef apply to ad.
func (ad *ArrayData) IsRefCounted() bool { return !ad.IsStatic() && !ad.IsUncounted() }

// RefCount returns the current count. Static arrays report 1.
func (ad *ArrayData) RefCount() int32 {
	if ad.IsStatic() {
		return 1
	}
	if ad.IsUncounted() {
		return atomic.LoadInt32(&ad.count)
	}
	return ad.count
}

// HasExactlyOneRef reports whether ad may be mutated in place.
func (ad *ArrayData) HasExactlyOneRef() bool {
	return ad.IsRefCounted() && ad.count == 1
}

// HasMultipleRefs reports whether ad is shared.
func (ad *ArrayData) HasMultipleRefs() bool {
	return !ad.IsRefCounted() || ad.count > 1
}

// IncRef adds a reference.
func (ad *ArrayData) IncRef() {
	if ad.IsRefCounted() {
		ad.count++
	}
}

// DecRef drops a reference and releases ad when none remain.
func (ad *ArrayData) DecRef() {
	if !ad.IsRefCounted() {
		return
	}
	if ad.count <= 0 {
		panic(fmt.Sprintf("ArrayData.DecRef: refcount underflow on %s", ad.hdr))
	}
	ad.count--
	if ad.count == 0 {
		Release(ad)
	}
}

// UncountedIncRef adds a cross-request reference to an uncounted array.
func (ad *ArrayData) UncountedIncRef() {
	if !ad.IsUncounted() {
		panic("ArrayData.UncountedIncRef: array is not uncounted")
	}
	atomic.AddInt32(&ad.count, 1)
}

// uncountedDecRef drops a cross-request reference, reporting whether it was
// the last.
func (ad *ArrayData) uncountedDecRef() bool {
	if !ad.IsUncounted() {
		panic("ArrayData.uncountedDecRef: array is not uncounted")
	}
	return atomic.AddInt32(&ad.count, -1) == 0
}

// SetStatic marks ad immortal. Only arrays whose elements are all
// non-refcounted or themselves static may be made static.
func (ad *ArrayData) SetStatic() *ArrayData {
	ad.hdr = ad.hdr.WithStatic(true)
	return ad
}

// cowCheck reports whether a mutation of ad must copy first.
func (ad *ArrayData) cowCheck() bool {
	return !ad.HasExactlyOneRef()
}

// ---------------------------------------------------------------------------
// Iteration and comparison
// ---------------------------------------------------------------------------

// IterateKV calls fn on every element in order until fn returns false.
// Works on any layout.
func IterateKV(ad *ArrayData, fn func(k, v TypedValue) bool) {
	end := IterEnd(ad)
	for pos := IterBegin(ad); pos != end; pos = IterAdvance(ad, pos) {
		if !fn(GetPosKey(ad, pos), GetPosVal(ad, pos)) {
			return
		}
	}
}

// ArraysEqual reports whether a and b have the same data type, keys, values
// and order, regardless of layout.
func ArraysEqual(a, b *ArrayData) bool {
	if a == b {
		return true
	}
	if a.DataType() != b.DataType() || a.Size() != b.Size() {
		return false
	}
	ea, eb := IterEnd(a), IterEnd(b)
	pa, pb := IterBegin(a), IterBegin(b)
	for pa != ea && pb != eb {
		if !Same(GetPosKey(a, pa), GetPosKey(b, pb)) ||
			!Same(GetPosVal(a, pa), GetPosVal(b, pb)) {
			return false
		}
		pa, pb = IterAdvance(a, pa), IterAdvance(b, pb)
	}
	return pa == ea && pb == eb
}

func (ad *ArrayData) String() string {
	var sb strings.Builder
	switch ad.DataType() {
	case KindOfVec:
		sb.WriteString("vec[")
	case KindOfVArray:
		sb.WriteString("varray[")
	case KindOfDict:
		sb.WriteString("dict[")
	case KindOfDArray:
		sb.WriteString("darray[")
	case KindOfKeyset:
		sb.WriteString("keyset[")
	}
	first := true
	IterateKV(ad, func(k, v TypedValue) bool {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		if ad.IsDictType() {
			sb.WriteString(k.String())
			sb.WriteString(" => ")
		}
		sb.WriteString(v.String())
		return true
	})
	sb.WriteString("]")
	return sb.String()
}
