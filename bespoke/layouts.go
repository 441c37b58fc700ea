package bespoke

import (
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

func init() {
	loggingIndex = vm.RegisterLayout("LoggingArray", loggingLayout{})
	vm.SetLayoutHooks(loggingIndex, loggingHooks{})
	registerMonotypeLayouts()
}

// layoutByName finds a registered layout by the name it was registered
// under.
func layoutByName(name string) (jit.ArrayLayout, bool) {
	var found *vm.Layout
	vm.EachLayout(func(l *vm.Layout) {
		if found == nil && l.Describe() == name {
			found = l
		}
	})
	if found == nil {
		return jit.Bottom(), false
	}
	return jit.LayoutFromBespoke(found), true
}
