package bespoke

import "github.com/chazu/bespoke/vm"

// ProfileArrLikeProps profiles the array-valued initial properties of a
// freshly constructed object, each slot keyed by its own PropSource. At
// most max-init-obj-props slots per object are considered.
func (s *Session) ProfileArrLikeProps(obj *vm.Object) {
	if !s.cfg.Profiling.Mode.AllowBespoke() {
		return
	}
	budget := s.cfg.Profiling.MaxInitObjProps
	for i := 0; i < obj.NumSlots() && budget > 0; i++ {
		v := obj.GetSlot(i)
		if !v.IsArrayLike() || !v.Arr().IsVanilla() {
			continue
		}
		budget--
		p := s.GetLoggingProfile(PropSource{Class: obj.Class, Slot: i})
		if p == nil {
			continue
		}
		ad := v.Arr()
		ad.IncRef()
		res := s.construct(p, ad)
		if res == ad {
			ad.DecRef()
			continue
		}
		obj.SetSlot(i, vm.FromArray(res))
	}
}
