// Package bespoke profiles array construction and use sites, implements the
// logging and monotype-vec layouts, and decides which layout each site
// should use once profiling stops.
package bespoke

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// State is a profiling session's phase. Sessions only move forward.
type State int32

const (
	// StateCollecting creates profiles and logging arrays.
	StateCollecting State = iota
	// StateFinalizing stops new profiles while layouts are selected.
	StateFinalizing
	// StateFrozen publishes the decisions; profiles are read-only.
	StateFrozen
)

var stateNames = [...]string{"Collecting", "Finalizing", "Frozen"}

func (s State) String() string { return stateNames[s] }

// Locator reports the instruction currently executing, so runtime helpers
// can find the profile of the array they were handed.
type Locator interface {
	CurrentSrcKey() vm.SrcKey
}

// Session owns the profiles of one profiling run.
type Session struct {
	cfg     *config.Config
	locator Locator
	state   atomic.Int32

	sources     sync.Map // SourceKey -> *LoggingProfile
	sinks       sync.Map // SinkKey -> *SinkProfile
	numProfiles atomic.Int64

	// strings seen in static source arrays; the only string keys logged
	// verbatim
	staticStrings sync.Map

	selectOnce sync.Once
	export     exportState
}

// NewSession starts collecting with the given options. The layout
// hierarchy is finalized here if it was not already.
func NewSession(cfg *config.Config, loc Locator) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	vm.FinalizeHierarchy()
	s := &Session{cfg: cfg, locator: loc}
	log.Infof("profiling session started in %s mode (sample rate %d)", cfg.Profiling.Mode, cfg.Profiling.SampleRate)
	return s
}

// Config returns the session's options.
func (s *Session) Config() *config.Config { return s.cfg }

// State returns the session's phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Collecting reports whether profiles may still be created.
func (s *Session) Collecting() bool { return s.State() == StateCollecting }

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

func isProfiledOp(op vm.Opcode) bool {
	return vm.IsArrLikeConstructorOp(op) || vm.IsArrLikeCastOp(op) || op == vm.OpNewObjD
}

func isLiteralOp(op vm.Opcode) bool {
	return op >= vm.OpVec && op <= vm.OpDArray
}

// GetLoggingProfile returns the profile for key, creating it while the
// session is collecting. It returns nil for keys that are not array
// sources and once the profile budget is spent. Existing profiles are
// returned in every phase so optimized code can read their decisions.
func (s *Session) GetLoggingProfile(key SourceKey) *LoggingProfile {
	if v, ok := s.sources.Load(key); ok {
		return v.(*LoggingProfile)
	}
	if !s.Collecting() || !s.cfg.Profiling.Mode.AllowBespoke() || !isProfiledOp(key.Op()) {
		return nil
	}
	limit := s.cfg.Profiling.MaxProfiles
	if n := s.numProfiles.Add(1); limit > 0 && n > limit {
		s.numProfiles.Add(-1)
		log.Debugf("profile budget spent; not profiling %s", key)
		return nil
	}

	p := newLoggingProfile(s, key)
	if static := staticSourceFor(key); static != nil {
		p.data.Load().staticSourceArray = static
		s.internStatic(static)
	}
	actual, loaded := s.sources.LoadOrStore(key, p)
	if loaded {
		s.numProfiles.Add(-1)
	}
	return actual.(*LoggingProfile)
}

func staticSourceFor(key SourceKey) *vm.ArrayData {
	switch k := key.(type) {
	case SiteSource:
		if isLiteralOp(k.SrcKey.Op) {
			return k.SrcKey.Instr().Arr
		}
	case PropSource:
		if all := k.Class.AllProps(); k.Slot >= 0 && k.Slot < len(all) {
			if init := all[k.Slot].Init; init.IsArrayLike() && init.Arr().IsStatic() {
				return init.Arr()
			}
		}
	}
	return nil
}

// GetSinkProfile returns the profile of a use site in a profiling
// translation. Sinks are cheap and not budgeted.
func (s *Session) GetSinkProfile(trans jit.TransID, sk vm.SrcKey) *SinkProfile {
	key := SinkKey{Trans: trans, SrcKey: sk}
	if v, ok := s.sinks.Load(key); ok {
		return v.(*SinkProfile)
	}
	if !s.Collecting() || !s.cfg.Profiling.Mode.AllowBespoke() {
		return nil
	}
	v, _ := s.sinks.LoadOrStore(key, newSinkProfile(key))
	return v.(*SinkProfile)
}

func (s *Session) internStatic(ad *vm.ArrayData) {
	vm.IterateKV(ad, func(k, v vm.TypedValue) bool {
		if k.IsString() {
			s.staticStrings.Store(k.Str(), struct{}{})
		}
		if v.IsString() {
			s.staticStrings.Store(v.Str(), struct{}{})
		}
		if v.IsArrayLike() && v.Arr().IsStatic() {
			s.internStatic(v.Arr())
		}
		return true
	})
}

func (s *Session) isStaticString(str string) bool {
	if s == nil {
		return false
	}
	_, ok := s.staticStrings.Load(str)
	return ok
}

// ---------------------------------------------------------------------------
// Runtime entry points
// ---------------------------------------------------------------------------

// NewLoggingArray is called on the array an instruction at sk just built.
// While collecting it may wrap the array in a logging array; once frozen
// it applies the layout chosen for the site. Move semantics apply to ad.
func (s *Session) NewLoggingArray(sk vm.SrcKey, ad *vm.ArrayData) *vm.ArrayData {
	return s.construct(s.GetLoggingProfile(SiteSource{SrcKey: sk}), ad)
}

func (s *Session) construct(p *LoggingProfile, ad *vm.ArrayData) *vm.ArrayData {
	if p == nil {
		return ad
	}
	switch s.State() {
	case StateCollecting:
		return MaybeMakeLoggingArray(p, ad)
	case StateFrozen:
		return p.applyDecision(ad)
	}
	return ad
}

// ProfileConstruction is NewLoggingArray at the instruction the session's
// Locator reports.
func (s *Session) ProfileConstruction(ad *vm.ArrayData) *vm.ArrayData {
	if s.locator == nil {
		return ad
	}
	return s.NewLoggingArray(s.locator.CurrentSrcKey(), ad)
}

func (p *LoggingProfile) applyDecision(ad *vm.ArrayData) *vm.ArrayData {
	if !p.layout.Monotype() || !ad.IsVanilla() {
		return ad
	}
	if ad.IsStatic() && p.staticBespokeArray != nil && ad == staticSourceFor(p.Key) {
		return p.staticBespokeArray
	}
	return monoifyAs(p.layout, ad)
}

// applyStatic builds the static bespoke counterpart of a literal, or nil
// when l has none or the literal does not fit it.
func applyStatic(l jit.ArrayLayout, static *vm.ArrayData) *vm.ArrayData {
	bl := l.BespokeLayout()
	if bl == nil || !bl.IsConcrete() {
		return nil
	}
	h, ok := bl.Hooks().(jit.TypeHooks)
	if !ok || h.Logging() {
		return nil
	}
	return h.Apply(static)
}

// ---------------------------------------------------------------------------
// Phases
// ---------------------------------------------------------------------------

// StopProfiling moves a collecting session to finalizing. It reports
// whether this call made the transition.
func (s *Session) StopProfiling() bool {
	if s.state.CompareAndSwap(int32(StateCollecting), int32(StateFinalizing)) {
		log.Noticef("profiling stopped with %d sources and %d sinks", s.CountSources(), s.CountSinks())
		return true
	}
	return false
}

// SelectLayouts stops profiling if needed, chooses a layout for every
// source and sink, and freezes the session. Later calls do nothing.
func (s *Session) SelectLayouts() {
	s.StopProfiling()
	s.selectOnce.Do(func() {
		if s.State() != StateFinalizing {
			return
		}
		selectLayouts(s)
		s.state.Store(int32(StateFrozen))
	})
}

// freeze publishes decisions installed from outside without running
// selection.
func (s *Session) freeze() {
	s.StopProfiling()
	s.selectOnce.Do(func() {})
	s.state.Store(int32(StateFrozen))
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// EachSource calls fn on every source profile, ordered by key.
func (s *Session) EachSource(fn func(*LoggingProfile)) {
	var all []*LoggingProfile
	s.sources.Range(func(_, v any) bool {
		all = append(all, v.(*LoggingProfile))
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Key.String() < all[j].Key.String() })
	for _, p := range all {
		fn(p)
	}
}

// EachSink calls fn on every sink profile, ordered by key.
func (s *Session) EachSink(fn func(*SinkProfile)) {
	var all []*SinkProfile
	s.sinks.Range(func(_, v any) bool {
		all = append(all, v.(*SinkProfile))
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].Key, all[j].Key
		if a.Trans != b.Trans {
			return a.Trans < b.Trans
		}
		return a.SrcKey.String() < b.SrcKey.String()
	})
	for _, p := range all {
		fn(p)
	}
}

// CountSources counts source profiles.
func (s *Session) CountSources() int {
	n := 0
	s.sources.Range(func(_, _ any) bool { n++; return true })
	return n
}

// CountSinks counts sink profiles.
func (s *Session) CountSinks() int {
	n := 0
	s.sinks.Range(func(_, _ any) bool { n++; return true })
	return n
}

// DeserializeSource installs a decision read from a layouts file. The
// profile carries no data, only the layout.
func (s *Session) DeserializeSource(key SourceKey, layout jit.ArrayLayout) *LoggingProfile {
	p := newLoggingProfile(s, key)
	p.releaseData()
	p.layout = layout
	if static := staticSourceFor(key); static != nil {
		p.staticBespokeArray = applyStatic(layout, static)
	}
	v, loaded := s.sources.LoadOrStore(key, p)
	if loaded {
		existing := v.(*LoggingProfile)
		existing.layout, existing.staticBespokeArray = p.layout, p.staticBespokeArray
		return existing
	}
	return p
}

// DeserializeSink installs a sink decision read from a layouts file.
func (s *Session) DeserializeSink(key SinkKey, layout jit.ArrayLayout) *SinkProfile {
	v, _ := s.sinks.LoadOrStore(key, newSinkProfile(key))
	sp := v.(*SinkProfile)
	sp.layout = layout
	return sp
}
