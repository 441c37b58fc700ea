// Package jit holds the optimizer's view of bespoke arrays: the layout
// lattice, the array and class specializations built on it, the value Type
// they refine, and the translation bookkeeping (kinds, ids, leases and
// budgets) shared by the IR generator and the code generator.
package jit

import (
	"fmt"

	"github.com/chazu/bespoke/vm"
)

// ---------------------------------------------------------------------------
// ArrayLayout
// ---------------------------------------------------------------------------

// Sort is an ArrayLayout's encoding. The four basic sorts come first; every
// value from SortBespoke up is SortBespoke plus a layout index, so the top
// bespoke layout (index 0) is SortBespoke itself.
type Sort uint16

const (
	SortTop Sort = iota
	SortBottom
	SortVanilla
	SortBespoke
)

const (
	basicSortMask    = 0b11
	basicSortShift   = 0b11
	basicSortUnshift = 0b01
)

func isBasicSort(s Sort) bool { return s <= SortBespoke }

func toBasicSort(s Sort) Sort {
	if s > SortBespoke {
		return SortBespoke
	}
	return s
}

// maskBasicSort maps basic sorts to bit patterns where | and & on the bits
// are join and meet on the sorts: Top=11, Vanilla=01, Bespoke=10, Bottom=00.
func maskBasicSort(s Sort) int {
	if !isBasicSort(s) {
		panic(fmt.Sprintf("maskBasicSort: non-basic sort %d", s))
	}
	return basicSortMask & (int(s) + basicSortShift)
}

func unmaskBasicSort(m int) Sort {
	return Sort(basicSortMask & (m + basicSortUnshift))
}

func intersectBasicSort(a, b Sort) Sort {
	return unmaskBasicSort(maskBasicSort(a) & maskBasicSort(b))
}

func unionBasicSort(a, b Sort) Sort {
	return unmaskBasicSort(maskBasicSort(a) | maskBasicSort(b))
}

// ArrayLayout is the optimizer's knowledge of an array's physical layout:
// Top (anything), Bottom (nothing), Vanilla, Bespoke (any bespoke layout)
// or one registered bespoke layout and its descendants. The zero value is
// Top.
type ArrayLayout struct {
	sort Sort
}

func Top() ArrayLayout     { return ArrayLayout{SortTop} }
func Bottom() ArrayLayout  { return ArrayLayout{SortBottom} }
func Vanilla() ArrayLayout { return ArrayLayout{SortVanilla} }
func Bespoke() ArrayLayout { return ArrayLayout{SortBespoke} }

// LayoutFromIndex returns the layout for a registered bespoke index.
func LayoutFromIndex(index vm.LayoutIndex) ArrayLayout {
	if vm.LayoutFromIndex(index) == nil {
		panic(fmt.Sprintf("LayoutFromIndex: no layout at %d", index))
	}
	return ArrayLayout{Sort(index) + SortBespoke}
}

// LayoutFromBespoke returns the ArrayLayout for a registered layout.
func LayoutFromBespoke(l *vm.Layout) ArrayLayout {
	return ArrayLayout{Sort(l.Index()) + SortBespoke}
}

// LayoutForArray returns the most precise layout describing ad.
func LayoutForArray(ad *vm.ArrayData) ArrayLayout {
	if ad.IsVanilla() {
		return Vanilla()
	}
	return LayoutFromIndex(ad.Header().FastLayoutIndex())
}

// Sort exposes the raw encoding, which is what decision files persist.
func (l ArrayLayout) Sort() Sort { return l.sort }

// LayoutFromSort reverses Sort. Unregistered indices panic.
func LayoutFromSort(s Sort) ArrayLayout {
	if isBasicSort(s) {
		return ArrayLayout{s}
	}
	return LayoutFromIndex(vm.LayoutIndex(s - SortBespoke))
}

func (l ArrayLayout) IsTop() bool     { return l.sort == SortTop }
func (l ArrayLayout) IsBottom() bool  { return l.sort == SortBottom }
func (l ArrayLayout) IsVanilla() bool { return l.sort == SortVanilla }

// IsBespoke reports whether every array in l is bespoke.
func (l ArrayLayout) IsBespoke() bool { return l.sort >= SortBespoke }

// LayoutIndex returns the bespoke index, with ok false for basic sorts other
// than Bespoke.
func (l ArrayLayout) LayoutIndex() (index vm.LayoutIndex, ok bool) {
	if l.sort < SortBespoke {
		return 0, false
	}
	return vm.LayoutIndex(l.sort - SortBespoke), true
}

// BespokeLayout returns the registered layout, or nil for basic sorts other
// than Bespoke.
func (l ArrayLayout) BespokeLayout() *vm.Layout {
	index, ok := l.LayoutIndex()
	if !ok {
		return nil
	}
	return vm.LayoutFromIndex(index)
}

func (l ArrayLayout) mustBespoke() *vm.Layout {
	bl := l.BespokeLayout()
	if bl == nil {
		panic(fmt.Sprintf("ArrayLayout %s is not bespoke", l.Describe()))
	}
	return bl
}

// LessEq is the subtype relation.
func (l ArrayLayout) LessEq(o ArrayLayout) bool {
	if l == o || o.IsTop() || l.IsBottom() {
		return true
	}
	// Basic sorts form Bottom < {Vanilla, Bespoke} < Top, and every non-basic
	// sort is strictly below Bespoke.
	if isBasicSort(l.sort) {
		return false
	}
	if isBasicSort(o.sort) {
		return o == Bespoke()
	}
	return l.mustBespoke().IsSubtype(o.mustBespoke())
}

// Join is the least upper bound.
func (l ArrayLayout) Join(o ArrayLayout) ArrayLayout {
	if l == o || o.IsBottom() {
		return l
	}
	if l.IsBottom() {
		return o
	}
	if isBasicSort(l.sort) || isBasicSort(o.sort) {
		return ArrayLayout{unionBasicSort(toBasicSort(l.sort), toBasicSort(o.sort))}
	}
	return LayoutFromBespoke(vm.LayoutJoin(l.mustBespoke(), o.mustBespoke()))
}

// Meet is the greatest lower bound.
func (l ArrayLayout) Meet(o ArrayLayout) ArrayLayout {
	if l == o || o.IsTop() {
		return l
	}
	if l.IsTop() {
		return o
	}
	meet := intersectBasicSort(toBasicSort(l.sort), toBasicSort(o.sort))
	if meet != SortBespoke {
		return ArrayLayout{meet}
	}
	if o == Bespoke() {
		return l
	}
	if l == Bespoke() {
		return o
	}
	if m, ok := vm.LayoutMeet(l.mustBespoke(), o.mustBespoke()); ok {
		return LayoutFromBespoke(m)
	}
	return Bottom()
}

// Logging reports whether l is exactly the logging layout.
func (l ArrayLayout) Logging() bool {
	if h := l.hooks(); h != nil {
		return h.Logging()
	}
	return false
}

// Monotype reports whether l is a monotype layout.
func (l ArrayLayout) Monotype() bool {
	if h := l.hooks(); h != nil {
		return h.Monotype()
	}
	return false
}

// BespokeMaskAndCompare returns the header test for l, which must be
// bespoke. The top bespoke layout gets the trivial test.
func (l ArrayLayout) BespokeMaskAndCompare() vm.MaskAndCompare {
	bl := l.mustBespoke()
	if isBasicSort(l.sort) {
		return vm.MaskAndCompare{}
	}
	return bl.MaskAndCompare()
}

// IrgenLayout is the layout whose vtable or hooks the IR generator uses:
// l's own for specific layouts, the top bespoke layout otherwise.
func (l ArrayLayout) IrgenLayout() *vm.Layout {
	index := vm.LayoutIndex(0)
	if l.sort > SortBespoke {
		index = vm.LayoutIndex(l.sort - SortBespoke)
	}
	return vm.LayoutFromIndex(index)
}

// Describe names l for logs and dumps.
func (l ArrayLayout) Describe() string {
	switch l.sort {
	case SortTop:
		return "Top"
	case SortVanilla:
		return "Vanilla"
	case SortBespoke:
		return "Bespoke"
	case SortBottom:
		return "Bottom"
	}
	return fmt.Sprintf("Bespoke(%s)", l.mustBespoke().Describe())
}

func (l ArrayLayout) String() string { return l.Describe() }

// Apply converts a static vanilla array to l, for arrays a decision says to
// build in l ahead of time. Vanilla and logging leave the array alone; other
// layouts that cannot do this panic.
func (l ArrayLayout) Apply(ad *vm.ArrayData) *vm.ArrayData {
	if !ad.IsStatic() || !ad.IsVanilla() {
		panic("ArrayLayout.Apply: array must be static and vanilla")
	}
	if l.IsVanilla() || l.Logging() {
		return ad
	}
	if h := l.hooks(); h != nil {
		if res := h.Apply(ad); res != nil {
			return res
		}
	}
	panic(fmt.Sprintf("ArrayLayout.Apply: cannot apply %s", l.Describe()))
}

// ---------------------------------------------------------------------------
// Type refinements
// ---------------------------------------------------------------------------

// TypeHooks are the type-level answers a bespoke layout gives the optimizer.
// Layouts attach them with vm.SetLayoutHooks; layouts without hooks get the
// conservative answers of the basic sorts.
type TypeHooks interface {
	AppendType(val Type) ArrayLayout
	RemoveType(key Type) ArrayLayout
	SetType(key, val Type) ArrayLayout
	ElemType(key Type) (elem Type, present bool)
	FirstLastType(isFirst, isKey bool) (elem Type, present bool)
	IterPosType(pos Type, isKey bool) Type

	Logging() bool
	Monotype() bool
	// Apply converts a static vanilla array, returning nil if it can't.
	Apply(ad *vm.ArrayData) *vm.ArrayData
}

func (l ArrayLayout) hooks() TypeHooks {
	if isBasicSort(l.sort) {
		return nil
	}
	h, _ := l.mustBespoke().Hooks().(TypeHooks)
	return h
}

// AppendType is the layout after appending a value of type val.
func (l ArrayLayout) AppendType(val Type) ArrayLayout {
	if l.IsVanilla() {
		return Vanilla()
	}
	if h := l.hooks(); h != nil {
		return h.AppendType(val)
	}
	return Top()
}

// RemoveType is the layout after removing a key of type key.
func (l ArrayLayout) RemoveType(key Type) ArrayLayout {
	if l.IsVanilla() {
		return Vanilla()
	}
	if h := l.hooks(); h != nil {
		return h.RemoveType(key)
	}
	return Top()
}

// SetType is the layout after setting key to val.
func (l ArrayLayout) SetType(key, val Type) ArrayLayout {
	if l.IsVanilla() {
		return Vanilla()
	}
	if h := l.hooks(); h != nil {
		return h.SetType(key, val)
	}
	return Top()
}

// ElemType is the type of the element at key and whether it is known to be
// present.
func (l ArrayLayout) ElemType(key Type) (Type, bool) {
	if h := l.hooks(); h != nil {
		return h.ElemType(key)
	}
	return TInitCell, false
}

// FirstLastType is the type of the first or last key or value.
func (l ArrayLayout) FirstLastType(isFirst, isKey bool) (Type, bool) {
	if h := l.hooks(); h != nil {
		return h.FirstLastType(isFirst, isKey)
	}
	if isKey {
		return TInt.Union(TStr), false
	}
	return TInitCell, false
}

// IterPosType is the type of the key or value at an iterator position.
func (l ArrayLayout) IterPosType(pos Type, isKey bool) Type {
	if h := l.hooks(); h != nil {
		return h.IterPosType(pos, isKey)
	}
	if isKey {
		return TInt.Union(TStr)
	}
	return TInitCell
}
