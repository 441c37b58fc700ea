package jit

import (
	"fmt"
	"strings"

	"github.com/chazu/bespoke/vm"
)

type typeBits uint16

const (
	bitUninit typeBits = 1 << iota
	bitInitNull
	bitBool
	bitInt
	bitDbl
	bitStaticStr
	bitCountedStr
	bitVArr
	bitDArr
	bitVec
	bitDict
	bitKeyset
	bitObj
	bitCls

	bitStr     = bitStaticStr | bitCountedStr
	bitArrLike = bitVArr | bitDArr | bitVec | bitDict | bitKeyset
	bitObjCls  = bitObj | bitCls
	bitAll     = bitCls<<1 - 1
)

// Type is the optimizer's static type of a value: a union of value kinds,
// refined by an ArraySpec when every kind in it is array-like (or null) and
// by a ClassSpec when it is an object or class type. Types compare with ==.
type Type struct {
	bits typeBits
	arr  ArraySpec
	cls  ClassSpec
}

var (
	TBottom     = Type{}
	TUninit     = Type{bits: bitUninit}
	TInitNull   = Type{bits: bitInitNull}
	TNull       = Type{bits: bitUninit | bitInitNull}
	TBool       = Type{bits: bitBool}
	TInt        = Type{bits: bitInt}
	TDbl        = Type{bits: bitDbl}
	TStaticStr  = Type{bits: bitStaticStr}
	TCountedStr = Type{bits: bitCountedStr}
	TStr        = Type{bits: bitStr}
	TVArr       = Type{bits: bitVArr}
	TDArr       = Type{bits: bitDArr}
	TVec        = Type{bits: bitVec}
	TDict       = Type{bits: bitDict}
	TKeyset     = Type{bits: bitKeyset}
	TArrLike    = Type{bits: bitArrLike}
	TObj        = Type{bits: bitObj}
	TCls        = Type{bits: bitCls}
	TInitCell   = Type{bits: bitAll &^ (bitUninit | bitCls)}
	TCell       = Type{bits: bitAll &^ bitCls}
	TCounted    = Type{bits: bitCountedStr | bitArrLike | bitObj}

	TVanillaArrLike = TArrLike.NarrowToLayout(Vanilla())
)

var dataTypeBits = [vm.NumDataTypes]typeBits{
	vm.KindOfUninit:           bitUninit,
	vm.KindOfNull:             bitInitNull,
	vm.KindOfBoolean:          bitBool,
	vm.KindOfInt64:            bitInt,
	vm.KindOfDouble:           bitDbl,
	vm.KindOfPersistentString: bitStaticStr,
	vm.KindOfString:           bitCountedStr,
	vm.KindOfVArray:           bitVArr,
	vm.KindOfDArray:           bitDArr,
	vm.KindOfVec:              bitVec,
	vm.KindOfDict:             bitDict,
	vm.KindOfKeyset:           bitKeyset,
	vm.KindOfObject:           bitObj,
}

// TypeOf is the unspecialized type of values of data type dt.
func TypeOf(dt vm.DataType) Type {
	return Type{bits: dataTypeBits[dt]}
}

// TypeOfValue is the most precise type of tv. Arrays get their layout and,
// for vanilla varrays and darrays, their kind.
func TypeOfValue(tv vm.TypedValue) Type {
	t := TypeOf(tv.Type)
	switch {
	case tv.IsArrayLike():
		ad := tv.Arr()
		spec := ArraySpecOfLayout(LayoutForArray(ad))
		if k := ad.Kind(); k == vm.PackedKind || k == vm.MixedKind {
			spec = ArraySpecOfKind(k)
		}
		t = t.WithArrSpec(spec)
	case tv.IsObject():
		t = t.WithClsSpec(ExactClassSpec(tv.Obj().Class))
	}
	return t
}

// SubObj is the type of instances of cls and its subclasses.
func SubObj(cls *vm.Class) Type {
	if cls.NoOverride {
		return ExactObj(cls)
	}
	return TObj.WithClsSpec(SubClassSpec(cls))
}

// ExactObj is the type of instances of exactly cls.
func ExactObj(cls *vm.Class) Type { return TObj.WithClsSpec(ExactClassSpec(cls)) }

func (t Type) canSpecializeArray() bool {
	return t.bits&bitArrLike != 0 && t.bits&bitObjCls == 0
}

func (t Type) canSpecializeClass() bool {
	oc := t.bits & bitObjCls
	return (oc == bitObj || oc == bitCls) && t.bits&bitArrLike == 0
}

// canonical drops specializations the bits cannot carry and removes the kinds
// a bottom specialization rules out.
func (t Type) canonical() Type {
	if t.arr.IsBottom() {
		t.bits &^= bitArrLike
		t.arr = ArraySpecTop()
	}
	if t.cls.IsBottom() {
		t.bits &^= bitObjCls
		t.cls = ClassSpecTop()
	}
	if !t.canSpecializeArray() {
		t.arr = ArraySpecTop()
	}
	if !t.canSpecializeClass() {
		t.cls = ClassSpecTop()
	}
	t.arr.checkInvariants()
	t.cls.checkInvariants()
	return t
}

// WithArrSpec specializes t's array kinds. The spec is dropped when t cannot
// carry one.
func (t Type) WithArrSpec(spec ArraySpec) Type {
	t.arr = spec
	return t.canonical()
}

// WithClsSpec specializes t's object or class kind.
func (t Type) WithClsSpec(spec ClassSpec) Type {
	t.cls = spec
	return t.canonical()
}

func (t Type) ArrSpec() ArraySpec { return t.arr }
func (t Type) ClsSpec() ClassSpec { return t.cls }

// IsSpecialized reports whether t carries a non-Top specialization.
func (t Type) IsSpecialized() bool { return !t.arr.IsTop() || !t.cls.IsTop() }

// Unspecialize drops every specialization.
func (t Type) Unspecialize() Type { return Type{bits: t.bits} }

// LessEq is the subtype relation.
func (t Type) LessEq(o Type) bool {
	if t.bits&^o.bits != 0 {
		return false
	}
	if t.bits&bitArrLike != 0 && !t.arr.LessEq(o.arr) {
		return false
	}
	if t.bits&bitObjCls != 0 && !t.cls.LessEq(o.cls) {
		return false
	}
	return true
}

// SubtypeOfAny reports whether t is <= one of ts.
func (t Type) SubtypeOfAny(ts ...Type) bool {
	for _, o := range ts {
		if t.LessEq(o) {
			return true
		}
	}
	return false
}

// Union is the least type containing both t and o.
func (t Type) Union(o Type) Type {
	res := Type{bits: t.bits | o.bits}
	switch {
	case t.bits&bitArrLike != 0 && o.bits&bitArrLike != 0:
		res.arr = t.arr.Join(o.arr)
	case t.bits&bitArrLike != 0:
		res.arr = t.arr
	case o.bits&bitArrLike != 0:
		res.arr = o.arr
	}
	switch {
	case t.bits&bitObjCls != 0 && o.bits&bitObjCls != 0:
		res.cls = t.cls.Join(o.cls)
	case t.bits&bitObjCls != 0:
		res.cls = t.cls
	case o.bits&bitObjCls != 0:
		res.cls = o.cls
	}
	return res.canonical()
}

// Intersect is the greatest type within both t and o.
func (t Type) Intersect(o Type) Type {
	res := Type{
		bits: t.bits & o.bits,
		arr:  t.arr.Meet(o.arr),
		cls:  t.cls.Meet(o.cls),
	}
	return res.canonical()
}

// Minus removes o's kinds from t. Specializations of o are ignored.
func (t Type) Minus(o Type) Type {
	t.bits &^= o.bits
	return t.canonical()
}

// Maybe reports whether a value could have both type t and type o.
func (t Type) Maybe(o Type) bool { return t.Intersect(o) != TBottom }

func (t Type) IsBottom() bool { return t.bits == 0 }

// dataTypeGroups are the bit sets that map to a single DataType.
var dataTypeGroups = []struct {
	bits typeBits
	dt   vm.DataType
}{
	{bitUninit, vm.KindOfUninit},
	{bitInitNull, vm.KindOfNull},
	{bitBool, vm.KindOfBoolean},
	{bitInt, vm.KindOfInt64},
	{bitDbl, vm.KindOfDouble},
	{bitStaticStr, vm.KindOfPersistentString},
	{bitStr, vm.KindOfString},
	{bitVArr, vm.KindOfVArray},
	{bitDArr, vm.KindOfDArray},
	{bitVec, vm.KindOfVec},
	{bitDict, vm.KindOfDict},
	{bitKeyset, vm.KindOfKeyset},
	{bitObj, vm.KindOfObject},
}

// IsKnownDataType reports whether every value of t has the same DataType,
// counting both string flavors as one.
func (t Type) IsKnownDataType() bool {
	_, ok := t.dataType()
	return ok
}

func (t Type) dataType() (vm.DataType, bool) {
	if t.bits == 0 {
		return 0, false
	}
	for _, g := range dataTypeGroups {
		if t.bits&^g.bits == 0 {
			return g.dt, true
		}
	}
	return 0, false
}

// ToDataType returns t's DataType; t must have a known data type.
func (t Type) ToDataType() vm.DataType {
	dt, ok := t.dataType()
	if !ok {
		panic(fmt.Sprintf("ToDataType: %s has no single data type", t))
	}
	return dt
}

// NarrowToLayout restricts t's array kinds to layout l. Types without array
// kinds are returned unchanged.
func (t Type) NarrowToLayout(l ArrayLayout) Type {
	if t.bits&bitArrLike == 0 {
		return t
	}
	if !t.canSpecializeArray() {
		// No room for a spec: only the extremes can be expressed.
		if l.IsBottom() {
			return t.Minus(TArrLike)
		}
		return t
	}
	return t.WithArrSpec(t.arr.NarrowToLayout(l))
}

// DropArrSpec removes only the array specialization.
func (t Type) DropArrSpec() Type {
	t.arr = ArraySpecTop()
	return t
}

var namedTypes = []struct {
	bits typeBits
	name string
}{
	{bitAll, "Top"},
	{TCell.bits, "Cell"},
	{TInitCell.bits, "InitCell"},
	{TCounted.bits, "Counted"},
	{bitArrLike, "ArrLike"},
	{bitStr, "Str"},
	{TNull.bits, "Null"},
	{bitUninit, "Uninit"},
	{bitInitNull, "InitNull"},
	{bitBool, "Bool"},
	{bitInt, "Int"},
	{bitDbl, "Dbl"},
	{bitStaticStr, "StaticStr"},
	{bitCountedStr, "CountedStr"},
	{bitVArr, "VArr"},
	{bitDArr, "DArr"},
	{bitVec, "Vec"},
	{bitDict, "Dict"},
	{bitKeyset, "Keyset"},
	{bitObj, "Obj"},
	{bitCls, "Cls"},
}

func (t Type) String() string {
	if t.bits == 0 {
		return "Bottom"
	}
	var parts []string
	rest := t.bits
	for _, n := range namedTypes {
		if rest&n.bits == n.bits {
			parts = append(parts, n.name)
			rest &^= n.bits
		}
	}
	s := strings.Join(parts, "|")
	if !t.arr.IsTop() {
		s += "{" + t.arr.String() + "}"
	}
	if !t.cls.IsTop() {
		s += "{" + t.cls.String() + "}"
	}
	return s
}
