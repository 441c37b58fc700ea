package vm

// ---------------------------------------------------------------------------
// Centralized array header bit allocation table
// ---------------------------------------------------------------------------
//
// Every array carries a 64-bit Header word. This file is the single source of
// truth for which bits mean what. Little-endian layout:
//
//   byte 0     bits  0-7   HeaderKind (odd kinds are bespoke)
//   byte 1     bits  8-15  flag bits (below)
//   bytes 2-3  bits 16-31  reserved, always zero
//   bytes 4-5  bits 32-47  extraLo16, owned by the array's layout
//   bytes 6-7  bits 48-63  extraHi16: LayoutIndex | MagicBit for bespoke arrays
//
// The JIT loads bytes 0 and 6-7 directly, so moving a field means updating
// HeaderKindOffset and LayoutIndexOffset in array.go as well.
//
// IMPORTANT: the magic bit is the top bit of extraHi16. Vanilla arrays keep
// extraHi16 below MagicBit, so a masked compare against MagicBit|index tests
// bespoke-ness and the layout together.

const (
	headerKindShift  = 0
	headerFlagShift  = 8
	headerExtraLoShf = 32
	headerExtraHiShf = 48

	headerKindMask  uint64 = 0xFF << headerKindShift
	headerFlagMask  uint64 = 0xFF << headerFlagShift
	headerExtraLo   uint64 = 0xFFFF << headerExtraLoShf
	headerExtraHi   uint64 = 0xFFFF << headerExtraHiShf
	headerReserved  uint64 = 0xFFFF << 16
	headerMagicMask uint64 = uint64(MagicBit) << headerExtraHiShf
)

// Flag bits (bits 8-15)
const (
	flagLegacy    uint64 = 1 << 8  // legacy array marking for dvarray interop
	flagStatic    uint64 = 1 << 9  // immortal; never mutated in place or released
	flagUncounted uint64 = 1 << 10 // shared across requests; separate refcount
)

// MagicBit is set in extraHi16 of every bespoke array.
const MagicBit uint16 = 1 << 15

// BespokeKindMask is the bit that distinguishes a bespoke HeaderKind from its
// vanilla counterpart.
const BespokeKindMask uint8 = 1
