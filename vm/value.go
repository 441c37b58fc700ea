package vm

import (
	"fmt"
	"math"
	"strconv"
)

// TypedValue is a VM value cell: a data type plus its payload.
//
// Encoding scheme:
//   - Uninit/Null: no payload
//   - Boolean, Int64, Double: bits in num (Double stored as IEEE 754 bits)
//   - PersistentString, String: str
//   - VArray, DArray, Vec, Dict, Keyset: arr
//   - Object: obj
//
// The zero TypedValue is Uninit, which doubles as "missing" in lookups.
type TypedValue struct {
	Type DataType
	num  uint64
	str  string
	arr  *ArrayData
	obj  *Object
}

// Pre-defined values
var (
	Uninit = TypedValue{Type: KindOfUninit}
	Null   = TypedValue{Type: KindOfNull}
	True   = TypedValue{Type: KindOfBoolean, num: 1}
	False  = TypedValue{Type: KindOfBoolean, num: 0}
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsInit reports whether v holds a value (anything but Uninit).
func (v TypedValue) IsInit() bool { return v.Type != KindOfUninit }

// IsNull reports whether v is Null.
func (v TypedValue) IsNull() bool { return v.Type == KindOfNull }

// IsInt reports whether v is an Int64.
func (v TypedValue) IsInt() bool { return v.Type == KindOfInt64 }

// IsString reports whether v is either string flavor.
func (v TypedValue) IsString() bool { return v.Type.IsStringType() }

// IsArrayLike reports whether v holds an array.
func (v TypedValue) IsArrayLike() bool { return v.Type.IsArrayLikeType() }

// IsObject reports whether v holds an object.
func (v TypedValue) IsObject() bool { return v.Type == KindOfObject }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromInt creates an Int64 value.
func FromInt(n int64) TypedValue {
	return TypedValue{Type: KindOfInt64, num: uint64(n)}
}

// FromDouble creates a Double value.
func FromDouble(f float64) TypedValue {
	return TypedValue{Type: KindOfDouble, num: math.Float64bits(f)}
}

// FromBool creates a Boolean value.
func FromBool(b bool) TypedValue {
	if b {
		return True
	}
	return False
}

// FromStaticString creates a PersistentString value. Static strings are the
// ones that can appear as literal keys in bytecode.
func FromStaticString(s string) TypedValue {
	return TypedValue{Type: KindOfPersistentString, str: s}
}

// FromString creates a counted String value.
func FromString(s string) TypedValue {
	return TypedValue{Type: KindOfString, str: s}
}

// FromArray creates an array value whose data type follows the array's kind.
// The caller's reference on ad moves into the value.
func FromArray(ad *ArrayData) TypedValue {
	if ad == nil {
		panic("FromArray: nil array")
	}
	return TypedValue{Type: ad.DataType(), arr: ad}
}

// FromObject creates an Object value.
func FromObject(o *Object) TypedValue {
	if o == nil {
		panic("FromObject: nil object")
	}
	return TypedValue{Type: KindOfObject, obj: o}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Int returns v as an int64.
// Panics if v is not an Int64.
func (v TypedValue) Int() int64 {
	if v.Type != KindOfInt64 {
		panic("TypedValue.Int: not an int")
	}
	return int64(v.num)
}

// Double returns v as a float64.
// Panics if v is not a Double.
func (v TypedValue) Double() float64 {
	if v.Type != KindOfDouble {
		panic("TypedValue.Double: not a double")
	}
	return math.Float64frombits(v.num)
}

// Bool returns v as a bool.
// Panics if v is not a Boolean.
func (v TypedValue) Bool() bool {
	if v.Type != KindOfBoolean {
		panic("TypedValue.Bool: not a boolean")
	}
	return v.num != 0
}

// Str returns v as a string.
// Panics if v is not a string.
func (v TypedValue) Str() string {
	if !v.Type.IsStringType() {
		panic("TypedValue.Str: not a string")
	}
	return v.str
}

// Arr returns the array held by v.
// Panics if v is not array-like.
func (v TypedValue) Arr() *ArrayData {
	if !v.Type.IsArrayLikeType() {
		panic("TypedValue.Arr: not an array")
	}
	return v.arr
}

// Obj returns the object held by v.
// Panics if v is not an object.
func (v TypedValue) Obj() *Object {
	if v.Type != KindOfObject {
		panic("TypedValue.Obj: not an object")
	}
	return v.obj
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// IncRef adds a reference to v's payload if it is refcounted.
func (v TypedValue) IncRef() {
	switch {
	case v.Type.IsArrayLikeType():
		v.arr.IncRef()
	case v.Type == KindOfObject:
		v.obj.IncRef()
	}
}

// DecRef drops a reference to v's payload, releasing it at zero.
func (v TypedValue) DecRef() {
	switch {
	case v.Type.IsArrayLikeType():
		v.arr.DecRef()
	case v.Type == KindOfObject:
		v.obj.DecRef()
	}
}

// ---------------------------------------------------------------------------
// Comparison and printing
// ---------------------------------------------------------------------------

// Same reports strict identity-or-value equality: same data type family and
// equal payload. Arrays compare element-wise.
func Same(a, b TypedValue) bool {
	if a.Type.Dehydrate() != b.Type.Dehydrate() {
		return false
	}
	switch {
	case a.Type.IsStringType():
		return a.str == b.str
	case a.Type.IsArrayLikeType():
		return ArraysEqual(a.arr, b.arr)
	case a.Type == KindOfObject:
		return a.obj == b.obj
	default:
		return a.num == b.num
	}
}

func (v TypedValue) String() string {
	switch v.Type {
	case KindOfUninit:
		return "uninit"
	case KindOfNull:
		return "null"
	case KindOfBoolean:
		return strconv.FormatBool(v.num != 0)
	case KindOfInt64:
		return strconv.FormatInt(int64(v.num), 10)
	case KindOfDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case KindOfPersistentString, KindOfString:
		return strconv.Quote(v.str)
	case KindOfObject:
		return fmt.Sprintf("object(%s)", v.obj.Class.Name)
	}
	return v.arr.String()
}
