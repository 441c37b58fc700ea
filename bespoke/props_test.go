package bespoke

import (
	"testing"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/vm"
)

func propClass(name string) *vm.Class {
	items := intVec(1, 2).SetStatic()
	tags := vm.SetStrMove(vm.NewDict(), "k", vm.FromInt(1)).SetStatic()
	return vm.NewClass(name, nil,
		vm.Prop{Name: "items", Init: vm.FromArray(items)},
		vm.Prop{Name: "count", Init: vm.FromInt(0)},
		vm.Prop{Name: "tags", Init: vm.FromArray(tags)},
	)
}

func TestProfileArrLikeProps(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	cls := propClass("PropsA")
	obj := vm.NewObject(cls)
	s.ProfileArrLikeProps(obj)

	if s.CountSources() != 2 {
		t.Fatalf("Expected 2 prop sources, got %d", s.CountSources())
	}
	for _, slot := range []int{0, 2} {
		p := ProfileOf(obj.GetSlot(slot).Arr())
		if p == nil {
			t.Fatalf("slot %d: Expected a logging array", slot)
		}
		if p.Key != (PropSource{Class: cls, Slot: slot}) {
			t.Errorf("slot %d: Expected a prop source, got %s", slot, p.Key)
		}
	}
	if got := obj.GetSlot(1); got.Int() != 0 {
		t.Errorf("Expected the int slot untouched, got %s", got)
	}

	// a second object shares the static logging arrays
	other := vm.NewObject(cls)
	s.ProfileArrLikeProps(other)
	if other.GetSlot(0).Arr() != obj.GetSlot(0).Arr() {
		t.Error("Expected both objects to share the static logging array")
	}
	p := ProfileOf(obj.GetSlot(0).Arr())
	if p.LoggingArraysEmitted() != 2 {
		t.Errorf("Expected 2 emitted, got %d", p.LoggingArraysEmitted())
	}
	if got := p.Key.String(); got != "PropsA::$items" {
		t.Errorf("Expected PropsA::$items, got %s", got)
	}
}

func TestProfileArrLikePropsLimit(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	s.cfg.Profiling.MaxInitObjProps = 1
	obj := vm.NewObject(propClass("PropsB"))
	s.ProfileArrLikeProps(obj)
	if s.CountSources() != 1 {
		t.Errorf("Expected 1 prop source, got %d", s.CountSources())
	}
	if !obj.GetSlot(2).Arr().IsVanilla() {
		t.Error("Expected the slot past the limit left vanilla")
	}
}
