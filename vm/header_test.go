package vm

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderFastMatchesSlowDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	indices := []LayoutIndex{0, 1, 2, 255, 256, 0x1234, MaxLayoutIndex}
	for i := 0; i < 64; i++ {
		indices = append(indices, LayoutIndex(rng.Intn(int(MaxLayoutIndex)+1)))
	}

	for k := HeaderKind(0); k < NumKinds; k++ {
		for _, idx := range indices {
			var h Header
			if k.IsBespoke() {
				h = MakeBespokeHeader(k.Vanilla(), idx)
			} else {
				h = MakeVanillaHeader(k)
			}
			h = h.WithExtraLo16(uint16(rng.Intn(1 << 16)))
			h = h.WithLegacy(rng.Intn(2) == 0).WithStatic(rng.Intn(2) == 0)
			h.CheckInvariants()

			fast := HeaderFields{
				Kind:      h.Kind(),
				Legacy:    h.IsLegacy(),
				Static:    h.IsStatic(),
				Uncounted: h.IsUncounted(),
				ExtraLo16: h.ExtraLo16(),
				Bespoke:   h.FastIsBespoke(),
			}
			if fast.Bespoke {
				fast.Index = h.FastLayoutIndex()
			}
			if diff := cmp.Diff(DecodeHeader(h), fast); diff != "" {
				t.Errorf("header %#016x decode mismatch (-slow +fast):\n%s", uint64(h), diff)
			}
			if k.IsBespoke() && h.FastLayoutIndex() != idx {
				t.Errorf("Expected index %d, got %d", idx, h.FastLayoutIndex())
			}
		}
	}
}

func TestHeaderKindPairs(t *testing.T) {
	for k := HeaderKind(0); k < NumKinds; k += 2 {
		if k.IsBespoke() {
			t.Errorf("%s should be vanilla", k)
		}
		if k.Bespoke().Vanilla() != k {
			t.Errorf("%s: bespoke/vanilla round trip failed", k)
		}
		if k.Bespoke().ArrType() != k.ArrType() {
			t.Errorf("%s: pair members disagree on ArrType", k)
		}
		if KindForDataType(k.DataType()) != k {
			t.Errorf("%s: data type round trip failed", k)
		}
	}
}

func TestMakeBespokeHeaderRejectsLargeIndex(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for index with the marker bit")
		}
	}()
	MakeBespokeHeader(VecKind, LayoutIndex(MagicBit))
}

func TestVanillaExtraHiIsZero(t *testing.T) {
	ad := NewDict()
	if ad.Header().ExtraHi16() != 0 || ad.Header().FastIsBespoke() {
		t.Errorf("vanilla header has layout bits: %#016x", uint64(ad.Header()))
	}
}

func TestEntryTypesPackRoundTrip(t *testing.T) {
	cases := []EntryTypes{
		{},
		{Keys: KeyTypesInts, Values: ValueTypesMonotype, ValueType: KindOfInt64},
		{Keys: KeyTypesStrings, Values: ValueTypesAny},
		{Keys: KeyTypesAny, Values: ValueTypesMonotype, ValueType: KindOfVec},
	}
	for _, e := range cases {
		if got := UnpackEntryTypes(e.Pack()); got != e {
			t.Errorf("Expected %s, got %s", e, got)
		}
	}
}

func TestEntryTypesWith(t *testing.T) {
	e := EntryTypesForArray(vecOf(1, 2, 3))
	want := EntryTypes{Keys: KeyTypesInts, Values: ValueTypesMonotype, ValueType: KindOfInt64}
	if e != want {
		t.Errorf("Expected %s, got %s", want, e)
	}
	e = e.With(FromStaticString("k"), FromString("v"))
	if e.Keys != KeyTypesAny || e.Values != ValueTypesAny {
		t.Errorf("Expected [Any:Any], got %s", e)
	}
	if got := (EntryTypes{Keys: KeyTypesStaticStrings}).With(FromString("x"), Null).Keys; got != KeyTypesStrings {
		t.Errorf("Expected Strings, got %s", got)
	}
}
