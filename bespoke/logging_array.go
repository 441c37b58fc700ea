package bespoke

import (
	"sync/atomic"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// ---------------------------------------------------------------------------
// Logging layout
// ---------------------------------------------------------------------------
//
// A logging array wraps a vanilla array and the profile of the source that
// built it. Every operation is logged to the profile and forwarded to the
// wrapped array; mutations rewrap the result and log how they changed the
// array's entry types.

var loggingIndex vm.LayoutIndex

// LoggingLayout is the layout every logging array carries.
func LoggingLayout() jit.ArrayLayout { return jit.LayoutFromIndex(loggingIndex) }

type loggingArray struct {
	wrapped *vm.ArrayData
	profile *LoggingProfile
	types   vm.EntryTypes
}

// asLoggingArray returns ad's logging payload when ad is a logging array.
func asLoggingArray(ad *vm.ArrayData) (*loggingArray, bool) {
	if ad.IsVanilla() || ad.Header().FastLayoutIndex() != loggingIndex {
		return nil, false
	}
	return ad.Payload().(*loggingArray), true
}

// ProfileOf returns the source profile of a logging array, or nil.
func ProfileOf(ad *vm.ArrayData) *LoggingProfile {
	if la, ok := asLoggingArray(ad); ok {
		return la.profile
	}
	return nil
}

// Unwrap returns the vanilla array inside a logging array, or nil.
func Unwrap(ad *vm.ArrayData) *vm.ArrayData {
	if la, ok := asLoggingArray(ad); ok {
		return la.wrapped
	}
	return nil
}

// ArrayTypeMaybeBespoke reports whether arrays of data type dt may leave
// the vanilla layout. Keysets always stay vanilla.
func ArrayTypeMaybeBespoke(dt vm.DataType) bool {
	return dt.IsArrayLikeType() && dt != vm.KindOfKeyset
}

func makeLoggingArray(wrapped *vm.ArrayData, p *LoggingProfile, types vm.EntryTypes) *vm.ArrayData {
	ad := vm.NewBespokeArray(wrapped.Kind(), loggingIndex, wrapped.Size(),
		&loggingArray{wrapped: wrapped, profile: p, types: types})
	ad.SetLegacyBit(wrapped.IsLegacyArray())
	return ad
}

// MaybeMakeLoggingArray counts a construction at p's source and wraps every
// sample-rate-th one in a logging array. Move semantics apply to ad. Static
// literals share one immortal logging array per profile.
func MaybeMakeLoggingArray(p *LoggingProfile, ad *vm.ArrayData) *vm.ArrayData {
	if p == nil || !ad.IsVanilla() || !ArrayTypeMaybeBespoke(ad.Kind().DataType()) {
		return ad
	}
	d := p.data.Load()
	if d == nil {
		return ad
	}
	n := atomic.AddUint64(&d.sampleCount, 1)
	rate := p.session.cfg.Profiling.SampleRate
	if rate == 0 || (n-1)%rate != 0 {
		return ad
	}
	atomic.AddUint64(&d.loggingArraysEmitted, 1)
	d.noteKind(ad.Kind())

	if ad.IsStatic() && ad == d.staticSourceArray {
		return p.staticLoggingArray(d)
	}
	if !ad.IsRefCounted() {
		ad = vm.CopyVanilla(ad)
	}
	types := vm.EntryTypesForArray(ad)
	vm.IterateKV(ad, func(_, v vm.TypedValue) bool {
		d.noteValue(v)
		return true
	})
	p.LogEntryTypes(types, types)
	return makeLoggingArray(ad, p, types)
}

func (p *LoggingProfile) staticLoggingArray(d *loggingProfileData) *vm.ArrayData {
	src := d.staticSourceArray
	types := vm.EntryTypesForArray(src)
	p.LogEntryTypes(types, types)
	if la := d.staticLoggingArray.Load(); la != nil {
		return la
	}
	vm.IterateKV(src, func(_, v vm.TypedValue) bool {
		d.noteValue(v)
		return true
	})
	la := makeLoggingArray(src, p, types).SetStatic()
	if d.staticLoggingArray.CompareAndSwap(nil, la) {
		return la
	}
	return d.staticLoggingArray.Load()
}

type loggingLayout struct{}

func payload(ad *vm.ArrayData) *loggingArray { return ad.Payload().(*loggingArray) }

// take moves the wrapped array out of ad, consuming the caller's reference
// on ad. The result may be mutated by the vanilla implementation, which
// copies it when shared.
func take(ad *vm.ArrayData) *vm.ArrayData {
	la := payload(ad)
	w := la.wrapped
	if ad.HasExactlyOneRef() {
		la.wrapped = nil
		ad.SetPayload(nil)
	} else {
		w.IncRef()
		ad.DecRef()
	}
	return w
}

// mutate runs a write on the wrapped array and rewraps the result.
func mutate(ad *vm.ArrayData, after func(vm.EntryTypes) vm.EntryTypes, op func(*vm.ArrayData) *vm.ArrayData) *vm.ArrayData {
	la := payload(ad)
	p, before := la.profile, la.types
	res := op(take(ad))
	types := after(before)
	p.LogEntryTypes(before, types)
	return makeLoggingArray(res, p, types)
}

func same(e vm.EntryTypes) vm.EntryTypes { return e }

func (loggingLayout) HeapSize(ad *vm.ArrayData) int {
	return 32 + vm.HeapSize(payload(ad).wrapped)
}

func (loggingLayout) EscalateToVanilla(ad *vm.ArrayData, reason string) *vm.ArrayData {
	la := payload(ad)
	la.profile.LogEvent(OpEscalateToVanilla)
	log.Debugf("%s escalated: %s", la.profile.Key, reason)
	la.wrapped.IncRef()
	return la.wrapped
}

func (loggingLayout) ReleaseUncounted(ad *vm.ArrayData) {
	payload(ad).profile.LogEvent(OpReleaseUncounted)
}

func (loggingLayout) Release(ad *vm.ArrayData) {
	la, _ := ad.Payload().(*loggingArray)
	if la == nil || la.wrapped == nil {
		return
	}
	la.profile.LogEvent(OpRelease)
	la.wrapped.DecRef()
	la.wrapped = nil
}

func (loggingLayout) IsVectorData(ad *vm.ArrayData) bool {
	la := payload(ad)
	la.profile.LogEvent(OpIsVectorData)
	return vm.IsVectorData(la.wrapped)
}

func (loggingLayout) GetInt(ad *vm.ArrayData, k int64) vm.TypedValue {
	la := payload(ad)
	la.profile.LogEventInt(OpGetInt, k)
	return vm.NvGetInt(la.wrapped, k)
}

func (loggingLayout) GetStr(ad *vm.ArrayData, k string) vm.TypedValue {
	la := payload(ad)
	la.profile.LogEventStr(OpGetStr, k)
	return vm.NvGetStr(la.wrapped, k)
}

func (loggingLayout) GetIntPos(ad *vm.ArrayData, k int64) int {
	la := payload(ad)
	la.profile.LogEventInt(OpGetIntPos, k)
	return vm.NvGetIntPos(la.wrapped, k)
}

func (loggingLayout) GetStrPos(ad *vm.ArrayData, k string) int {
	la := payload(ad)
	la.profile.LogEventStr(OpGetStrPos, k)
	return vm.NvGetStrPos(la.wrapped, k)
}

// Position reads follow an iteration op that was already logged.

func (loggingLayout) GetPosKey(ad *vm.ArrayData, pos int) vm.TypedValue {
	return vm.GetPosKey(payload(ad).wrapped, pos)
}

func (loggingLayout) GetPosVal(ad *vm.ArrayData, pos int) vm.TypedValue {
	return vm.GetPosVal(payload(ad).wrapped, pos)
}

func (loggingLayout) IterBegin(ad *vm.ArrayData) int {
	la := payload(ad)
	la.profile.LogEvent(OpIterBegin)
	return vm.IterBegin(la.wrapped)
}

func (loggingLayout) IterLast(ad *vm.ArrayData) int {
	la := payload(ad)
	la.profile.LogEvent(OpIterLast)
	return vm.IterLast(la.wrapped)
}

func (loggingLayout) IterEnd(ad *vm.ArrayData) int {
	la := payload(ad)
	la.profile.LogEvent(OpIterEnd)
	return vm.IterEnd(la.wrapped)
}

func (loggingLayout) IterAdvance(ad *vm.ArrayData, pos int) int {
	la := payload(ad)
	la.profile.LogEvent(OpIterAdvance)
	return vm.IterAdvance(la.wrapped, pos)
}

func (loggingLayout) IterRewind(ad *vm.ArrayData, pos int) int {
	la := payload(ad)
	la.profile.LogEvent(OpIterRewind)
	return vm.IterRewind(la.wrapped, pos)
}

func (loggingLayout) SetInt(ad *vm.ArrayData, k int64, v vm.TypedValue) *vm.ArrayData {
	payload(ad).profile.LogEventIntVal(OpSetInt, k, v)
	with := func(e vm.EntryTypes) vm.EntryTypes { return e.With(vm.FromInt(k), v) }
	return mutate(ad, with, func(w *vm.ArrayData) *vm.ArrayData { return vm.SetIntMove(w, k, v) })
}

func (loggingLayout) SetStr(ad *vm.ArrayData, k string, v vm.TypedValue) *vm.ArrayData {
	p := payload(ad).profile
	p.LogEventStrVal(OpSetStr, k, v)
	key := vm.FromString(k)
	if p.session.isStaticString(k) {
		key = vm.FromStaticString(k)
	}
	with := func(e vm.EntryTypes) vm.EntryTypes { return e.With(key, v) }
	return mutate(ad, with, func(w *vm.ArrayData) *vm.ArrayData { return vm.SetStrMove(w, k, v) })
}

func (loggingLayout) RemoveInt(ad *vm.ArrayData, k int64) *vm.ArrayData {
	payload(ad).profile.LogEventInt(OpRemoveInt, k)
	return mutate(ad, same, func(w *vm.ArrayData) *vm.ArrayData { return vm.RemoveInt(w, k) })
}

func (loggingLayout) RemoveStr(ad *vm.ArrayData, k string) *vm.ArrayData {
	payload(ad).profile.LogEventStr(OpRemoveStr, k)
	return mutate(ad, same, func(w *vm.ArrayData) *vm.ArrayData { return vm.RemoveStr(w, k) })
}

func (loggingLayout) Append(ad *vm.ArrayData, v vm.TypedValue) *vm.ArrayData {
	payload(ad).profile.LogEventVal(OpAppend, v)
	key := vm.FromInt(0)
	if ad.IsKeysetType() {
		key = v
	}
	with := func(e vm.EntryTypes) vm.EntryTypes { return e.With(key, v) }
	return mutate(ad, with, func(w *vm.ArrayData) *vm.ArrayData { return vm.AppendMove(w, v) })
}

func (loggingLayout) Pop(ad *vm.ArrayData) (*vm.ArrayData, vm.TypedValue) {
	payload(ad).profile.LogEvent(OpPop)
	var v vm.TypedValue
	res := mutate(ad, same, func(w *vm.ArrayData) *vm.ArrayData {
		var out *vm.ArrayData
		out, v = vm.Pop(w)
		return out
	})
	return res, v
}

func (loggingLayout) PreSort(ad *vm.ArrayData, sf vm.SortFunction) *vm.ArrayData {
	la := payload(ad)
	la.profile.LogEvent(OpPreSort)
	return vm.CopyVanilla(la.wrapped)
}

func (loggingLayout) PostSort(ad, vad *vm.ArrayData) *vm.ArrayData {
	la := payload(ad)
	la.profile.LogEvent(OpPostSort)
	types := vm.EntryTypesForArray(vad)
	la.profile.LogEntryTypes(la.types, types)
	return makeLoggingArray(vad, la.profile, types)
}

// convert forwards a flavor conversion. With copyArr set ad stays with the
// caller and the wrapped array is converted by copy.
func convert(ad *vm.ArrayData, op ArrayOp, copyArr bool, fn func(*vm.ArrayData, bool) *vm.ArrayData) *vm.ArrayData {
	la := payload(ad)
	p, types := la.profile, la.types
	p.LogEvent(op)
	var res *vm.ArrayData
	if copyArr {
		res = fn(la.wrapped, true)
	} else {
		res = fn(take(ad), false)
	}
	return makeLoggingArray(res, p, types)
}

func (loggingLayout) ToDVArray(ad *vm.ArrayData, copyArr bool) *vm.ArrayData {
	return convert(ad, OpToDVArray, copyArr, vm.ToDVArray)
}

func (loggingLayout) ToHackArr(ad *vm.ArrayData, copyArr bool) *vm.ArrayData {
	return convert(ad, OpToHackArr, copyArr, vm.ToHackArr)
}

func (loggingLayout) SetLegacyArray(ad *vm.ArrayData, copyArr, legacy bool) *vm.ArrayData {
	return convert(ad, OpSetLegacyArray, copyArr, func(w *vm.ArrayData, c bool) *vm.ArrayData {
		return vm.SetLegacyArray(w, c, legacy)
	})
}

// ---------------------------------------------------------------------------
// Type hooks
// ---------------------------------------------------------------------------

// Logging arrays are never chosen for optimized code, so the optimizer
// learns nothing from them beyond the layout surviving writes.
type loggingHooks struct{}

func (loggingHooks) AppendType(val jit.Type) jit.ArrayLayout   { return LoggingLayout() }
func (loggingHooks) RemoveType(key jit.Type) jit.ArrayLayout   { return LoggingLayout() }
func (loggingHooks) SetType(key, val jit.Type) jit.ArrayLayout { return LoggingLayout() }

func (loggingHooks) ElemType(key jit.Type) (jit.Type, bool) { return jit.TInitCell, false }

func (loggingHooks) FirstLastType(isFirst, isKey bool) (jit.Type, bool) {
	if isKey {
		return jit.TInt.Union(jit.TStr), false
	}
	return jit.TInitCell, false
}

func (loggingHooks) IterPosType(pos jit.Type, isKey bool) jit.Type {
	if isKey {
		return jit.TInt.Union(jit.TStr)
	}
	return jit.TInitCell
}

func (loggingHooks) Logging() bool                        { return true }
func (loggingHooks) Monotype() bool                       { return false }
func (loggingHooks) Apply(ad *vm.ArrayData) *vm.ArrayData { return nil }
