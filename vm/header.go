package vm

import (
	"encoding/binary"
	"fmt"
)

// HeaderKind identifies an array's flavor and whether it is bespoke.
// Every vanilla kind is even; its bespoke counterpart is kind|1.
type HeaderKind uint8

const (
	PackedKind        HeaderKind = 0 // varray
	BespokeVArrayKind HeaderKind = 1
	MixedKind         HeaderKind = 2 // darray
	BespokeDArrayKind HeaderKind = 3
	VecKind           HeaderKind = 4
	BespokeVecKind    HeaderKind = 5
	DictKind          HeaderKind = 6
	BespokeDictKind   HeaderKind = 7
	KeysetKind        HeaderKind = 8
	BespokeKeysetKind HeaderKind = 9

	NumKinds = 10
	// NumArrTypes counts array flavors with vanilla and bespoke folded together.
	NumArrTypes = NumKinds / 2
)

var kindNames = [NumKinds]string{
	"PackedKind", "BespokeVArrayKind",
	"MixedKind", "BespokeDArrayKind",
	"VecKind", "BespokeVecKind",
	"DictKind", "BespokeDictKind",
	"KeysetKind", "BespokeKeysetKind",
}

func (k HeaderKind) String() string {
	if k.IsValid() {
		return kindNames[k]
	}
	return fmt.Sprintf("HeaderKind(%d)", uint8(k))
}

// IsValid reports whether k names an array kind.
func (k HeaderKind) IsValid() bool { return k < NumKinds }

// IsBespoke reports whether k is the bespoke half of a kind pair.
func (k HeaderKind) IsBespoke() bool { return uint8(k)&BespokeKindMask != 0 }

// Vanilla returns the vanilla kind of k's pair.
func (k HeaderKind) Vanilla() HeaderKind { return k &^ HeaderKind(BespokeKindMask) }

// Bespoke returns the bespoke kind of k's pair.
func (k HeaderKind) Bespoke() HeaderKind { return k | HeaderKind(BespokeKindMask) }

// ArrType is the kind pair index, in [0, NumArrTypes).
func (k HeaderKind) ArrType() int { return int(k >> 1) }

// DataType returns the value data type of arrays of kind k.
func (k HeaderKind) DataType() DataType {
	switch k.Vanilla() {
	case PackedKind:
		return KindOfVArray
	case MixedKind:
		return KindOfDArray
	case VecKind:
		return KindOfVec
	case DictKind:
		return KindOfDict
	case KeysetKind:
		return KindOfKeyset
	}
	panic(fmt.Sprintf("HeaderKind.DataType: invalid kind %d", uint8(k)))
}

// KindForDataType returns the vanilla kind for an array data type.
func KindForDataType(dt DataType) HeaderKind {
	switch dt {
	case KindOfVArray:
		return PackedKind
	case KindOfDArray:
		return MixedKind
	case KindOfVec:
		return VecKind
	case KindOfDict:
		return DictKind
	case KindOfKeyset:
		return KeysetKind
	}
	panic(fmt.Sprintf("KindForDataType: %s is not array-like", dt))
}

// LayoutIndex identifies a registered layout. Index 0 is the abstract
// "bespoke top" layout.
type LayoutIndex uint16

// MaxLayoutIndex is the largest index that leaves MagicBit free.
const MaxLayoutIndex LayoutIndex = LayoutIndex(MagicBit) - 1

// ---------------------------------------------------------------------------
// Header word
// ---------------------------------------------------------------------------

// Header is the packed array header word. See markers.go for the layout.
type Header uint64

// MakeVanillaHeader builds a header for a vanilla array of kind k.
func MakeVanillaHeader(k HeaderKind) Header {
	if k.IsBespoke() || !k.IsValid() {
		panic(fmt.Sprintf("MakeVanillaHeader: bad kind %s", k))
	}
	return Header(uint64(k) << headerKindShift)
}

// MakeBespokeHeader builds a header for a bespoke array of vanilla kind k in
// layout index.
func MakeBespokeHeader(k HeaderKind, index LayoutIndex) Header {
	if !k.IsValid() {
		panic(fmt.Sprintf("MakeBespokeHeader: bad kind %d", uint8(k)))
	}
	if index > MaxLayoutIndex {
		panic(fmt.Sprintf("MakeBespokeHeader: layout index %d out of range", index))
	}
	hi := uint64(uint16(index)|MagicBit) << headerExtraHiShf
	return Header(uint64(k.Bespoke())<<headerKindShift | hi)
}

// Kind returns the kind byte.
func (h Header) Kind() HeaderKind {
	return HeaderKind((uint64(h) & headerKindMask) >> headerKindShift)
}

// WithKind returns h with its kind byte replaced.
func (h Header) WithKind(k HeaderKind) Header {
	return Header(uint64(h)&^headerKindMask | uint64(k)<<headerKindShift)
}

// ExtraLo16 returns the layout-owned 16 bits.
func (h Header) ExtraLo16() uint16 {
	return uint16((uint64(h) & headerExtraLo) >> headerExtraLoShf)
}

// WithExtraLo16 returns h with extraLo16 replaced.
func (h Header) WithExtraLo16(v uint16) Header {
	return Header(uint64(h)&^headerExtraLo | uint64(v)<<headerExtraLoShf)
}

// ExtraHi16 returns the raw layout-index field, magic bit included.
func (h Header) ExtraHi16() uint16 {
	return uint16((uint64(h) & headerExtraHi) >> headerExtraHiShf)
}

// FastIsBespoke tests the magic bit without looking at the kind.
func (h Header) FastIsBespoke() bool {
	return uint64(h)&headerMagicMask != 0
}

// FastLayoutIndex strips the magic bit from extraHi16.
func (h Header) FastLayoutIndex() LayoutIndex {
	return LayoutIndex(uint64(h)>>headerExtraHiShf) &^ LayoutIndex(MagicBit)
}

func (h Header) hasFlag(f uint64) bool { return uint64(h)&f != 0 }

func (h Header) withFlag(f uint64, on bool) Header {
	if on {
		return Header(uint64(h) | f)
	}
	return Header(uint64(h) &^ f)
}

// IsLegacy reports the legacy-array mark.
func (h Header) IsLegacy() bool { return h.hasFlag(flagLegacy) }

// IsStatic reports whether the array is immortal.
func (h Header) IsStatic() bool { return h.hasFlag(flagStatic) }

// IsUncounted reports whether the array is shared across requests.
func (h Header) IsUncounted() bool { return h.hasFlag(flagUncounted) }

// WithLegacy sets or clears the legacy mark.
func (h Header) WithLegacy(on bool) Header { return h.withFlag(flagLegacy, on) }

// WithStatic sets or clears the static flag.
func (h Header) WithStatic(on bool) Header { return h.withFlag(flagStatic, on) }

// WithUncounted sets or clears the uncounted flag.
func (h Header) WithUncounted(on bool) Header { return h.withFlag(flagUncounted, on) }

// ---------------------------------------------------------------------------
// Slow decode
// ---------------------------------------------------------------------------

// HeaderFields is a field-by-field view of a Header.
type HeaderFields struct {
	Kind      HeaderKind
	Legacy    bool
	Static    bool
	Uncounted bool
	Reserved  uint16
	ExtraLo16 uint16
	Bespoke   bool
	Index     LayoutIndex
}

// DecodeHeader reads h byte by byte in memory order. It is the reference the
// shift-and-mask accessors are tested against.
func DecodeHeader(h Header) HeaderFields {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(h))
	hi := binary.LittleEndian.Uint16(b[6:8])
	f := HeaderFields{
		Kind:      HeaderKind(b[0]),
		Legacy:    b[1]&0x01 != 0,
		Static:    b[1]&0x02 != 0,
		Uncounted: b[1]&0x04 != 0,
		Reserved:  binary.LittleEndian.Uint16(b[2:4]),
		ExtraLo16: binary.LittleEndian.Uint16(b[4:6]),
	}
	if hi >= MagicBit {
		f.Bespoke = true
		f.Index = LayoutIndex(hi - MagicBit)
	}
	return f
}

// CheckInvariants panics if h is not a well-formed header.
func (h Header) CheckInvariants() {
	f := DecodeHeader(h)
	if !f.Kind.IsValid() {
		panic(fmt.Sprintf("Header: invalid kind %d", uint8(f.Kind)))
	}
	if f.Reserved != 0 {
		panic("Header: reserved bits set")
	}
	if f.Kind.IsBespoke() != f.Bespoke {
		panic(fmt.Sprintf("Header: kind %s disagrees with magic bit", f.Kind))
	}
}

func (h Header) String() string {
	f := DecodeHeader(h)
	if f.Bespoke {
		return fmt.Sprintf("%s[layout=%d]", f.Kind, f.Index)
	}
	return f.Kind.String()
}
