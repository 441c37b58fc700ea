package jit

import (
	"testing"

	"github.com/chazu/bespoke/vm"
)

var testRAT = &RAT{Name: "vec<int>"}

func allArraySpecs() []ArraySpec {
	specs := []ArraySpec{
		ArraySpecTop(),
		ArraySpecBottom(),
		ArraySpecOfKind(vm.PackedKind),
		ArraySpecOfKind(vm.MixedKind),
		ArraySpecOfRAT(testRAT),
		ArraySpecOfKind(vm.PackedKind).Meet(ArraySpecOfRAT(testRAT)),
	}
	for _, l := range allLayouts() {
		specs = append(specs, ArraySpecOfLayout(l))
		specs = append(specs, ArraySpecOfRAT(testRAT).NarrowToLayout(l))
	}
	return specs
}

func TestArraySpecLatticeLaws(t *testing.T) {
	all := allArraySpecs()
	for _, a := range all {
		a.checkInvariants()
		if !a.LessEq(a) || !ArraySpecBottom().LessEq(a) || !a.LessEq(ArraySpecTop()) {
			t.Errorf("%s: order is broken", a)
		}
		for _, b := range all {
			j, m := a.Join(b), a.Meet(b)
			j.checkInvariants()
			m.checkInvariants()
			if j != b.Join(a) || m != b.Meet(a) {
				t.Errorf("%s, %s: join/meet not commutative", a, b)
			}
			if !a.LessEq(j) || !b.LessEq(j) {
				t.Errorf("%s | %s = %s is not an upper bound", a, b, j)
			}
			if !m.LessEq(a) || !m.LessEq(b) {
				t.Errorf("%s & %s = %s is not a lower bound", a, b, m)
			}
			if a.LessEq(b) && (j != b || m != a) {
				t.Errorf("%s <= %s but join %s, meet %s", a, b, j, m)
			}
		}
	}
}

func TestArraySpecKindNeedsVanilla(t *testing.T) {
	packed := ArraySpecOfKind(vm.PackedKind)
	if k, ok := packed.Kind(); !ok || k != vm.PackedKind {
		t.Errorf("Expected PackedKind, got %s, %v", k, ok)
	}
	if got := packed.NarrowToLayout(Bespoke()); !got.IsBottom() {
		t.Errorf("a kind cannot be bespoke, got %s", got)
	}
	mixed := ArraySpecOfKind(vm.MixedKind)
	if got := packed.Meet(mixed); !got.IsBottom() {
		t.Errorf("Expected Bottom for conflicting kinds, got %s", got)
	}
	j := packed.Join(mixed)
	if _, ok := j.Kind(); ok || !j.Vanilla() {
		t.Errorf("Expected a kindless vanilla spec, got %s", j)
	}
	if got := packed.Join(ArraySpecOfLayout(Bespoke())); !got.IsTop() {
		t.Errorf("Expected Top, got %s", got)
	}
}

func TestArraySpecRATs(t *testing.T) {
	other := &RAT{Name: "vec<int>"}
	a, b := ArraySpecOfRAT(testRAT), ArraySpecOfRAT(other)
	if a.LessEq(b) {
		t.Error("RATs compare by identity")
	}
	if got := a.Join(b); !got.IsTop() {
		t.Errorf("Expected Top, got %s", got)
	}
	if rat, ok := a.Type(); !ok || rat != testRAT {
		t.Errorf("Expected %s, got %v", testRAT, rat)
	}
	if got := ArraySpecOfRAT(nil); !got.IsTop() {
		t.Errorf("Expected Top for a nil RAT, got %s", got)
	}
}

func TestArraySpecString(t *testing.T) {
	s := ArraySpecOfKind(vm.PackedKind).Meet(ArraySpecOfRAT(testRAT))
	if got := s.String(); got != "=PackedKind:vec<int>=Vanilla" {
		t.Errorf("Expected =PackedKind:vec<int>=Vanilla, got %s", got)
	}
}

func TestClassSpec(t *testing.T) {
	base := vm.NewClass("Base", nil)
	left := vm.NewClass("Left", base)
	right := vm.NewClass("Right", base)
	iface := vm.NewInterface("Countable")
	impl := vm.NewClass("Impl", nil)
	impl.Interfaces = []*vm.Class{iface}

	if !ExactClassSpec(left).LessEq(SubClassSpec(base)) {
		t.Error("=Left should be <= <=Base")
	}
	if SubClassSpec(left).LessEq(ExactClassSpec(left)) {
		t.Error("<=Left is not <= =Left")
	}
	if !SubClassSpec(impl).LessEq(SubClassSpec(iface)) {
		t.Error("implementors should be subtypes of the interface")
	}

	if got := SubClassSpec(left).Join(ExactClassSpec(right)); got != SubClassSpec(base) {
		t.Errorf("Expected <=Base, got %s", got)
	}
	if got := SubClassSpec(left).Join(SubClassSpec(impl)); !got.IsTop() {
		t.Errorf("Expected Top for unrelated classes, got %s", got)
	}
	if got := SubClassSpec(impl).Join(SubClassSpec(iface)); got != SubClassSpec(iface) {
		t.Errorf("Expected <=Countable, got %s", got)
	}
	if got := SubClassSpec(left).Join(SubClassSpec(iface)); !got.IsTop() {
		t.Errorf("Expected Top joining with an interface, got %s", got)
	}

	if got := SubClassSpec(left).Meet(SubClassSpec(right)); !got.IsBottom() {
		t.Errorf("Expected Bottom for sibling classes, got %s", got)
	}
	if got := SubClassSpec(left).Meet(SubClassSpec(base)); got != SubClassSpec(left) {
		t.Errorf("Expected <=Left, got %s", got)
	}
	if got := SubClassSpec(iface).Meet(SubClassSpec(left)); got != SubClassSpec(left) {
		t.Errorf("Expected the normal class to win, got %s", got)
	}
	if got := ExactClassSpec(left).Meet(SubClassSpec(iface)); !got.IsBottom() {
		t.Errorf("Expected Bottom, got %s", got)
	}
	other := vm.NewInterface("Awaitable")
	if got := SubClassSpec(iface).Meet(SubClassSpec(other)); got != SubClassSpec(other) {
		t.Errorf("Expected the lower name to win, got %s", got)
	}
}
