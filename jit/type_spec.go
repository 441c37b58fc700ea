package jit

import (
	"fmt"
	"strings"

	"github.com/chazu/bespoke/vm"
)

// RAT is a repo-authoritative array type: a static shape assertion attached
// to an array at compile time. Two RATs are equal only if they are the same
// pointer.
type RAT struct {
	Name string
}

func (r *RAT) String() string { return r.Name }

// ---------------------------------------------------------------------------
// ArraySpec
// ---------------------------------------------------------------------------

type arraySpecBits uint8

const (
	specHasKind arraySpecBits = 1 << iota
	specHasType
)

// ArraySpec refines an array type by its vanilla kind, its repo-authoritative
// type and its layout. The zero value is Top.
//
// A kind is only ever recorded together with the Vanilla layout, and the kind
// itself is one of the vanilla kinds PackedKind or MixedKind.
type ArraySpec struct {
	bottom bool
	bits   arraySpecBits
	kind   vm.HeaderKind
	rat    *RAT
	layout ArrayLayout
}

func ArraySpecTop() ArraySpec    { return ArraySpec{} }
func ArraySpecBottom() ArraySpec { return ArraySpec{bottom: true, layout: Bottom()} }

// ArraySpecOfKind is the spec of vanilla arrays of kind k.
func ArraySpecOfKind(k vm.HeaderKind) ArraySpec {
	if k != vm.PackedKind && k != vm.MixedKind {
		panic(fmt.Sprintf("ArraySpecOfKind: unsupported kind %s", k))
	}
	return ArraySpec{bits: specHasKind, kind: k, layout: Vanilla()}
}

// ArraySpecOfRAT is the spec of arrays satisfying rat.
func ArraySpecOfRAT(rat *RAT) ArraySpec {
	if rat == nil {
		return ArraySpecTop()
	}
	return ArraySpec{bits: specHasType, rat: rat}
}

// ArraySpecOfLayout is the spec of arrays in layout l.
func ArraySpecOfLayout(l ArrayLayout) ArraySpec {
	if l.IsBottom() {
		return ArraySpecBottom()
	}
	return ArraySpec{layout: l}
}

func (s ArraySpec) IsTop() bool    { return s == ArraySpec{} }
func (s ArraySpec) IsBottom() bool { return s.bottom }

// Kind returns the vanilla kind, known only for vanilla specs.
func (s ArraySpec) Kind() (vm.HeaderKind, bool) {
	if s.bits&specHasKind == 0 || !s.layout.IsVanilla() {
		return 0, false
	}
	return s.kind, true
}

// Type returns the repo-authoritative type, if any.
func (s ArraySpec) Type() (*RAT, bool) {
	if s.bits&specHasType == 0 {
		return nil, false
	}
	return s.rat, true
}

func (s ArraySpec) Layout() ArrayLayout { return s.layout }

// Vanilla reports whether every array in s is vanilla.
func (s ArraySpec) Vanilla() bool { return s.layout.IsVanilla() }

// NarrowToLayout intersects s with the arrays of layout l.
func (s ArraySpec) NarrowToLayout(l ArrayLayout) ArraySpec {
	return s.Meet(ArraySpecOfLayout(l))
}

// LessEq reports whether every array in s is in o.
func (s ArraySpec) LessEq(o ArraySpec) bool {
	if s == o || s.bottom || o.IsTop() {
		return true
	}
	if o.bottom || s.IsTop() {
		return false
	}
	if o.bits&specHasKind != 0 && (s.bits&specHasKind == 0 || s.kind != o.kind) {
		return false
	}
	if o.bits&specHasType != 0 && (s.bits&specHasType == 0 || s.rat != o.rat) {
		return false
	}
	return s.layout.LessEq(o.layout)
}

// Join is the least upper bound.
func (s ArraySpec) Join(o ArraySpec) ArraySpec {
	if s.LessEq(o) {
		return o
	}
	if o.LessEq(s) {
		return s
	}
	res := ArraySpec{bits: s.bits & o.bits}
	if res.bits&specHasKind != 0 {
		if s.kind == o.kind {
			res.kind = s.kind
		} else {
			res.bits &^= specHasKind
		}
	}
	if res.bits&specHasType != 0 {
		if s.rat == o.rat {
			res.rat = s.rat
		} else {
			res.bits &^= specHasType
		}
	}
	res.layout = s.layout.Join(o.layout)
	if !res.layout.IsVanilla() {
		res.bits &^= specHasKind
		res.kind = 0
	}
	res.checkInvariants()
	return res
}

// Meet is the greatest lower bound, up to the repo-authoritative type: two
// different RATs meet to neither, which is conservative.
func (s ArraySpec) Meet(o ArraySpec) ArraySpec {
	if s.LessEq(o) {
		return s
	}
	if o.LessEq(s) {
		return o
	}
	res := ArraySpec{bits: s.bits | o.bits}
	switch {
	case s.bits&o.bits&specHasKind != 0 && s.kind != o.kind:
		return ArraySpecBottom()
	case s.bits&specHasKind != 0:
		res.kind = s.kind
	case o.bits&specHasKind != 0:
		res.kind = o.kind
	}
	switch {
	case s.bits&o.bits&specHasType != 0 && s.rat != o.rat:
		res.bits &^= specHasType
	case s.bits&specHasType != 0:
		res.rat = s.rat
	case o.bits&specHasType != 0:
		res.rat = o.rat
	}
	res.layout = s.layout.Meet(o.layout)
	if res.layout.IsBottom() {
		return ArraySpecBottom()
	}
	res.checkInvariants()
	return res
}

func (s ArraySpec) checkInvariants() {
	if s.bottom {
		if s.bits != 0 || s.rat != nil || !s.layout.IsBottom() {
			panic("ArraySpec: bottom carries data")
		}
		return
	}
	if s.layout.IsBottom() {
		panic("ArraySpec: bottom layout outside a bottom spec")
	}
	if s.bits&specHasKind != 0 {
		if !s.layout.IsVanilla() {
			panic(fmt.Sprintf("ArraySpec: kind %s on %s layout", s.kind, s.layout))
		}
		if s.kind != vm.PackedKind && s.kind != vm.MixedKind {
			panic(fmt.Sprintf("ArraySpec: bad kind %s", s.kind))
		}
	} else if s.kind != 0 {
		panic("ArraySpec: stray kind")
	}
	if (s.bits&specHasType != 0) != (s.rat != nil) {
		panic("ArraySpec: type bit and rat disagree")
	}
}

func (s ArraySpec) String() string {
	switch {
	case s.bottom:
		return "Bottom"
	case s.IsTop():
		return "Top"
	}
	var parts []string
	if k, ok := s.Kind(); ok {
		parts = append(parts, "="+k.String())
	}
	if rat, ok := s.Type(); ok {
		parts = append(parts, ":"+rat.String())
	}
	if !s.layout.IsTop() {
		parts = append(parts, "="+s.layout.Describe())
	}
	return strings.Join(parts, "")
}

// ---------------------------------------------------------------------------
// ClassSpec
// ---------------------------------------------------------------------------

type classSpecSort uint8

const (
	classTop classSpecSort = iota
	classBottom
	classSub
	classExact
)

// ClassSpec refines an object or class type by its class: either exactly cls
// or cls and its subclasses. The zero value is Top.
type ClassSpec struct {
	sort classSpecSort
	cls  *vm.Class
}

func ClassSpecTop() ClassSpec    { return ClassSpec{} }
func ClassSpecBottom() ClassSpec { return ClassSpec{sort: classBottom} }

// SubClassSpec is cls or any of its subclasses.
func SubClassSpec(cls *vm.Class) ClassSpec { return ClassSpec{sort: classSub, cls: cls} }

// ExactClassSpec is exactly cls.
func ExactClassSpec(cls *vm.Class) ClassSpec { return ClassSpec{sort: classExact, cls: cls} }

func (s ClassSpec) IsTop() bool    { return s.sort == classTop }
func (s ClassSpec) IsBottom() bool { return s.sort == classBottom }
func (s ClassSpec) Exact() bool    { return s.sort == classExact }

// Class returns the class, or nil for Top and Bottom.
func (s ClassSpec) Class() *vm.Class { return s.cls }

func (s ClassSpec) LessEq(o ClassSpec) bool {
	if s == o || o.IsTop() || s.IsBottom() {
		return true
	}
	if s.IsTop() || o.IsBottom() {
		return false
	}
	return !o.Exact() && s.cls.Classof(o.cls)
}

func (s ClassSpec) Join(o ClassSpec) ClassSpec {
	if s.LessEq(o) {
		return o
	}
	if o.LessEq(s) {
		return s
	}
	// Interfaces and traits have no unique common ancestor to speak of.
	if !s.cls.IsNormal() || !o.cls.IsNormal() {
		return ClassSpecTop()
	}
	if anc := s.cls.CommonAncestor(o.cls); anc != nil {
		return SubClassSpec(anc)
	}
	return ClassSpecTop()
}

// Meet is the greatest lower bound when both sides are normal classes. With
// an interface involved it picks one side, since the true meet is not
// representable.
func (s ClassSpec) Meet(o ClassSpec) ClassSpec {
	if s.LessEq(o) {
		return s
	}
	if o.LessEq(s) {
		return o
	}
	if s.Exact() || o.Exact() {
		return ClassSpecBottom()
	}
	sNormal, oNormal := s.cls.IsNormal(), o.cls.IsNormal()
	switch {
	case sNormal && oNormal:
		return ClassSpecBottom()
	case sNormal:
		return s
	case oNormal:
		return o
	}
	if s.cls.Name < o.cls.Name {
		return s
	}
	return o
}

func (s ClassSpec) checkInvariants() {
	if (s.sort == classSub || s.sort == classExact) != (s.cls != nil) {
		panic(fmt.Sprintf("ClassSpec: sort %d with class %v", s.sort, s.cls))
	}
}

func (s ClassSpec) String() string {
	switch s.sort {
	case classTop:
		return "Top"
	case classBottom:
		return "Bottom"
	case classExact:
		return "=" + s.cls.Name
	}
	return "<=" + s.cls.Name
}
