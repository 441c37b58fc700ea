package vm

import "fmt"

// KeyTypes summarizes the keys an array has held.
type KeyTypes uint8

const (
	KeyTypesEmpty KeyTypes = iota
	KeyTypesInts
	KeyTypesStaticStrings
	KeyTypesStrings
	KeyTypesAny

	NumKeyTypes = int(KeyTypesAny) + 1
)

var keyTypesNames = [NumKeyTypes]string{"Empty", "Ints", "StaticStrings", "Strings", "Any"}

func (k KeyTypes) String() string {
	if int(k) < NumKeyTypes {
		return keyTypesNames[k]
	}
	return fmt.Sprintf("KeyTypes(%d)", uint8(k))
}

// ValueTypes summarizes the values an array has held.
type ValueTypes uint8

const (
	ValueTypesEmpty ValueTypes = iota
	ValueTypesMonotype
	ValueTypesAny
)

// EntryTypes is the (key shape, value shape) summary logged around array
// mutations. ValueType is meaningful only for ValueTypesMonotype.
type EntryTypes struct {
	Keys      KeyTypes
	Values    ValueTypes
	ValueType DataType
}

// KeyShape classifies a single key.
func KeyShape(k TypedValue) KeyTypes {
	switch k.Type {
	case KindOfInt64:
		return KeyTypesInts
	case KindOfPersistentString:
		return KeyTypesStaticStrings
	case KindOfString:
		return KeyTypesStrings
	}
	return KeyTypesAny
}

func joinKeyTypes(a, b KeyTypes) KeyTypes {
	switch {
	case a == b || b == KeyTypesEmpty:
		return a
	case a == KeyTypesEmpty:
		return b
	case (a == KeyTypesStaticStrings && b == KeyTypesStrings) ||
		(a == KeyTypesStrings && b == KeyTypesStaticStrings):
		return KeyTypesStrings
	}
	return KeyTypesAny
}

// With returns the summary after inserting (k, v).
func (e EntryTypes) With(k, v TypedValue) EntryTypes {
	e.Keys = joinKeyTypes(e.Keys, KeyShape(k))
	dt := v.Type.Dehydrate()
	switch e.Values {
	case ValueTypesEmpty:
		e.Values, e.ValueType = ValueTypesMonotype, dt
	case ValueTypesMonotype:
		if e.ValueType != dt {
			e.Values, e.ValueType = ValueTypesAny, KindOfUninit
		}
	}
	return e
}

// EntryTypesForArray computes the summary of ad's current contents.
func EntryTypesForArray(ad *ArrayData) EntryTypes {
	var e EntryTypes
	IterateKV(ad, func(k, v TypedValue) bool {
		e = e.With(k, v)
		return e.Keys != KeyTypesAny || e.Values != ValueTypesAny
	})
	return e
}

// IsMonotype reports whether every value seen shares one data type.
func (e EntryTypes) IsMonotype() bool { return e.Values == ValueTypesMonotype }

// Pack encodes e into 16 bits: keys in the top nibble, value shape in the
// next, the monotype's data type in the low byte.
func (e EntryTypes) Pack() uint16 {
	return uint16(e.Keys)<<12 | uint16(e.Values)<<8 | uint16(uint8(e.ValueType))
}

// UnpackEntryTypes reverses Pack.
func UnpackEntryTypes(v uint16) EntryTypes {
	return EntryTypes{
		Keys:      KeyTypes(v >> 12),
		Values:    ValueTypes((v >> 8) & 0xF),
		ValueType: DataType(int8(uint8(v))),
	}
}

func (e EntryTypes) String() string {
	switch e.Values {
	case ValueTypesEmpty:
		return fmt.Sprintf("[%s:Empty]", e.Keys)
	case ValueTypesMonotype:
		return fmt.Sprintf("[%s:Monotype(%s)]", e.Keys, e.ValueType)
	}
	return fmt.Sprintf("[%s:Any]", e.Keys)
}
