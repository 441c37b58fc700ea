package bespoke

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// ---------------------------------------------------------------------------
// Source keys
// ---------------------------------------------------------------------------

// SourceKey identifies where profiled arrays come from. Implementations are
// comparable so they can key the session's maps.
type SourceKey interface {
	// Op is the bytecode that creates the arrays.
	Op() vm.Opcode
	String() string
}

// SiteSource is an array constructor or cast instruction.
type SiteSource struct {
	SrcKey vm.SrcKey
}

func (s SiteSource) Op() vm.Opcode  { return s.SrcKey.Op }
func (s SiteSource) String() string { return s.SrcKey.String() }

// PropSource is the initial value of a declared property.
type PropSource struct {
	Class *vm.Class
	Slot  int
}

func (p PropSource) Op() vm.Opcode { return vm.OpNewObjD }

func (p PropSource) String() string {
	name := "?"
	if all := p.Class.AllProps(); p.Slot >= 0 && p.Slot < len(all) {
		name = all[p.Slot].Name
	}
	return fmt.Sprintf("%s::$%s", p.Class.Name, name)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type keyKind uint8

const (
	keyNone keyKind = iota
	keyInt
	keyStaticStr
	keyStr
)

// EventKey is one bucket of a profile's event histogram. Static string keys
// are kept verbatim; other strings only record that a string was used.
type EventKey struct {
	Op      ArrayOp
	keyKind keyKind
	IntKey  int64
	StrKey  string
	ValType vm.DataType
	HasVal  bool
}

// HasIntKey reports whether the event carried an int key.
func (k EventKey) HasIntKey() bool { return k.keyKind == keyInt }

// HasStrKey reports whether the event carried a string key.
func (k EventKey) HasStrKey() bool { return k.keyKind == keyStaticStr || k.keyKind == keyStr }

func (k EventKey) String() string {
	s := k.Op.String()
	switch k.keyKind {
	case keyInt:
		s += fmt.Sprintf(" key=%d", k.IntKey)
	case keyStaticStr:
		s += fmt.Sprintf(" key=%q", k.StrKey)
	case keyStr:
		s += " key=<string>"
	}
	if k.HasVal {
		s += " val=" + k.ValType.String()
	}
	return s
}

// EntryTypesTransition is a (before, after) pair of a mutation's effect on an
// array's entry types, packed as vm.EntryTypes.Pack does.
type EntryTypesTransition [2]uint16

func (t EntryTypesTransition) Before() vm.EntryTypes { return vm.UnpackEntryTypes(t[0]) }
func (t EntryTypesTransition) After() vm.EntryTypes  { return vm.UnpackEntryTypes(t[1]) }

func (t EntryTypesTransition) String() string {
	return t.Before().String() + " -> " + t.After().String()
}

// ---------------------------------------------------------------------------
// LoggingProfile
// ---------------------------------------------------------------------------

// LoggingProfile collects what happens to the arrays created at one source.
//
// The counters and histograms live in a separately allocated block that
// releaseData drops once they have been exported; logging into a released
// profile is a no-op. The decision fields are written while the session is
// finalizing and only read after it is frozen.
type LoggingProfile struct {
	Key SourceKey

	session *Session
	data    atomic.Pointer[loggingProfileData]

	layout             jit.ArrayLayout
	staticBespokeArray *vm.ArrayData
}

type loggingProfileData struct {
	sampleCount          uint64
	loggingArraysEmitted uint64
	kindsSeen            atomic.Uint32
	wideInts             atomic.Bool

	staticSourceArray  *vm.ArrayData
	staticLoggingArray atomic.Pointer[vm.ArrayData]

	mu         sync.RWMutex
	events     map[EventKey]*uint64
	entryTypes map[EntryTypesTransition]*uint64
}

func newLoggingProfile(s *Session, key SourceKey) *LoggingProfile {
	p := &LoggingProfile{Key: key, session: s, layout: jit.Bottom()}
	p.data.Store(&loggingProfileData{
		events:     make(map[EventKey]*uint64),
		entryTypes: make(map[EntryTypesTransition]*uint64),
	})
	return p
}

// Layout returns the layout chosen for this source. Bottom until selection
// has run.
func (p *LoggingProfile) Layout() jit.ArrayLayout { return p.layout }

// StaticBespokeArray returns the literal array in its chosen layout, or nil.
func (p *LoggingProfile) StaticBespokeArray() *vm.ArrayData { return p.staticBespokeArray }

// StaticSourceArray returns the literal a constructor site pushes, or nil.
func (p *LoggingProfile) StaticSourceArray() *vm.ArrayData {
	if d := p.data.Load(); d != nil {
		return d.staticSourceArray
	}
	return nil
}

// Released reports whether the profile's data has been dropped.
func (p *LoggingProfile) Released() bool { return p.data.Load() == nil }

func (p *LoggingProfile) releaseData() { p.data.Store(nil) }

// SampleCount counts constructions seen at the source.
func (p *LoggingProfile) SampleCount() uint64 {
	if d := p.data.Load(); d != nil {
		return atomic.LoadUint64(&d.sampleCount)
	}
	return 0
}

// LoggingArraysEmitted counts the constructions that were wrapped.
func (p *LoggingProfile) LoggingArraysEmitted() uint64 {
	if d := p.data.Load(); d != nil {
		return atomic.LoadUint64(&d.loggingArraysEmitted)
	}
	return 0
}

// SampleCountMultiplier scales logged counts up to all constructions.
func (p *LoggingProfile) SampleCountMultiplier() float64 {
	emitted := p.LoggingArraysEmitted()
	if emitted == 0 {
		return 0
	}
	return float64(p.SampleCount()) / float64(emitted)
}

// TotalEvents sums the event histogram.
func (p *LoggingProfile) TotalEvents() uint64 {
	d := p.data.Load()
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var total uint64
	for _, c := range d.events {
		total += atomic.LoadUint64(c)
	}
	return total
}

// ProfileWeight estimates the number of operations on all arrays from this
// source, sampled or not.
func (p *LoggingProfile) ProfileWeight() float64 {
	return float64(p.TotalEvents()) * p.SampleCountMultiplier()
}

// KindsSeen returns the vanilla kinds of the arrays wrapped so far.
func (p *LoggingProfile) KindsSeen() []vm.HeaderKind {
	d := p.data.Load()
	if d == nil {
		return nil
	}
	bits := d.kindsSeen.Load()
	var kinds []vm.HeaderKind
	for k := vm.HeaderKind(0); k < vm.NumKinds; k += 2 {
		if bits&(1<<k) != 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (d *loggingProfileData) noteKind(k vm.HeaderKind) {
	d.kindsSeen.Or(uint32(1) << k.Vanilla())
}

func (d *loggingProfileData) noteValue(v vm.TypedValue) {
	if v.IsInt() && (v.Int() < math.MinInt32 || v.Int() > math.MaxInt32) {
		d.wideInts.Store(true)
	}
}

func bump[K comparable](mu *sync.RWMutex, m map[K]*uint64, k K) {
	mu.RLock()
	c, ok := m[k]
	mu.RUnlock()
	if ok {
		atomic.AddUint64(c, 1)
		return
	}
	mu.Lock()
	c, ok = m[k]
	if !ok {
		c = new(uint64)
		m[k] = c
	}
	mu.Unlock()
	atomic.AddUint64(c, 1)
}

func (p *LoggingProfile) logEvent(k EventKey) {
	if d := p.data.Load(); d != nil {
		bump(&d.mu, d.events, k)
	}
}

func strEventKey(op ArrayOp, s string, static bool) EventKey {
	if static {
		return EventKey{Op: op, keyKind: keyStaticStr, StrKey: s}
	}
	return EventKey{Op: op, keyKind: keyStr}
}

// LogEvent records a keyless, valueless operation.
func (p *LoggingProfile) LogEvent(op ArrayOp) {
	p.logEvent(EventKey{Op: op})
}

// LogEventInt records an operation on an int key.
func (p *LoggingProfile) LogEventInt(op ArrayOp, k int64) {
	p.logEvent(EventKey{Op: op, keyKind: keyInt, IntKey: k})
}

// LogEventStr records an operation on a string key. Only strings the
// session has seen in static arrays are kept verbatim.
func (p *LoggingProfile) LogEventStr(op ArrayOp, k string) {
	p.logEvent(strEventKey(op, k, p.session.isStaticString(k)))
}

// LogEventVal records an operation carrying a value.
func (p *LoggingProfile) LogEventVal(op ArrayOp, v vm.TypedValue) {
	p.noteValue(v)
	p.logEvent(EventKey{Op: op, ValType: v.Type, HasVal: true})
}

// LogEventIntVal records a write of v at an int key.
func (p *LoggingProfile) LogEventIntVal(op ArrayOp, k int64, v vm.TypedValue) {
	p.noteValue(v)
	p.logEvent(EventKey{Op: op, keyKind: keyInt, IntKey: k, ValType: v.Type, HasVal: true})
}

// LogEventStrVal records a write of v at a string key.
func (p *LoggingProfile) LogEventStrVal(op ArrayOp, k string, v vm.TypedValue) {
	p.noteValue(v)
	key := strEventKey(op, k, p.session.isStaticString(k))
	key.ValType, key.HasVal = v.Type, true
	p.logEvent(key)
}

func (p *LoggingProfile) noteValue(v vm.TypedValue) {
	if d := p.data.Load(); d != nil {
		d.noteValue(v)
	}
}

// LogEntryTypes records a mutation's effect on entry types.
func (p *LoggingProfile) LogEntryTypes(before, after vm.EntryTypes) {
	if d := p.data.Load(); d != nil {
		bump(&d.mu, d.entryTypes, EntryTypesTransition{before.Pack(), after.Pack()})
	}
}

// EventCount is one histogram bucket with its count.
type EventCount struct {
	Key   EventKey
	Count uint64
}

// Events returns the event histogram, most frequent first.
func (p *LoggingProfile) Events() []EventCount {
	d := p.data.Load()
	if d == nil {
		return nil
	}
	d.mu.RLock()
	out := make([]EventCount, 0, len(d.events))
	for k, c := range d.events {
		out = append(out, EventCount{k, atomic.LoadUint64(c)})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// EntryTypesCount is one entry-types bucket with its count.
type EntryTypesCount struct {
	Transition EntryTypesTransition
	Count      uint64
}

// EntryTypes returns the entry-types histogram, most frequent first.
func (p *LoggingProfile) EntryTypes() []EntryTypesCount {
	d := p.data.Load()
	if d == nil {
		return nil
	}
	d.mu.RLock()
	out := make([]EntryTypesCount, 0, len(d.entryTypes))
	for k, c := range d.entryTypes {
		out = append(out, EntryTypesCount{k, atomic.LoadUint64(c)})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Transition[1] < out[j].Transition[1] ||
			(out[i].Transition[1] == out[j].Transition[1] && out[i].Transition[0] < out[j].Transition[0])
	})
	return out
}

func (p *LoggingProfile) String() string {
	return fmt.Sprintf("LoggingProfile(%s)", p.Key)
}

// ---------------------------------------------------------------------------
// SinkProfile
// ---------------------------------------------------------------------------

// SinkKey identifies a use site within one translation.
type SinkKey struct {
	Trans  jit.TransID
	SrcKey vm.SrcKey
}

func (k SinkKey) String() string { return fmt.Sprintf("%d:%s", k.Trans, k.SrcKey) }

const (
	valCountNone = vm.NumDataTypes
	valCountAny  = vm.NumDataTypes + 1
)

// SinkProfile counts the arrays reaching one use site. Like a
// LoggingProfile, its counters live in a block that releaseData drops after
// export; updating a released sink is a no-op.
type SinkProfile struct {
	Key SinkKey

	data atomic.Pointer[sinkProfileData]

	layout jit.ArrayLayout
}

type sinkProfileData struct {
	arrCounts      [vm.NumArrTypes]uint64
	keyCounts      [vm.NumKeyTypes]uint64
	valCounts      [vm.NumDataTypes + 2]uint64
	sampledCount   uint64
	unsampledCount uint64

	mu      sync.RWMutex
	sources map[*LoggingProfile]*uint64
}

func newSinkProfile(key SinkKey) *SinkProfile {
	s := &SinkProfile{Key: key, layout: jit.Top()}
	s.data.Store(&sinkProfileData{sources: make(map[*LoggingProfile]*uint64)})
	return s
}

// Update counts an array reaching the sink. Arrays without a logging
// wrapper have no known provenance and are counted under the nil source.
func (s *SinkProfile) Update(ad *vm.ArrayData) {
	d := s.data.Load()
	if d == nil {
		return
	}
	atomic.AddUint64(&d.arrCounts[ad.Kind().ArrType()], 1)
	la, ok := asLoggingArray(ad)
	if !ok {
		atomic.AddUint64(&d.unsampledCount, 1)
		bump(&d.mu, d.sources, nil)
		return
	}
	atomic.AddUint64(&d.sampledCount, 1)
	bump(&d.mu, d.sources, la.profile)

	atomic.AddUint64(&d.keyCounts[la.types.Keys], 1)
	switch la.types.Values {
	case vm.ValueTypesEmpty:
		atomic.AddUint64(&d.valCounts[valCountNone], 1)
	case vm.ValueTypesMonotype:
		atomic.AddUint64(&d.valCounts[la.types.ValueType], 1)
	default:
		atomic.AddUint64(&d.valCounts[valCountAny], 1)
	}
}

// Layout returns the layout the sink was compiled for. Top until selection
// has run.
func (s *SinkProfile) Layout() jit.ArrayLayout { return s.layout }

// Released reports whether the sink's counters have been dropped.
func (s *SinkProfile) Released() bool { return s.data.Load() == nil }

func (s *SinkProfile) releaseData() { s.data.Store(nil) }

// load reads one counter, or 0 once the data is released.
func (s *SinkProfile) load(field func(*sinkProfileData) *uint64) uint64 {
	if d := s.data.Load(); d != nil {
		return atomic.LoadUint64(field(d))
	}
	return 0
}

// SampledCount counts logging arrays seen.
func (s *SinkProfile) SampledCount() uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.sampledCount })
}

// UnsampledCount counts other arrays seen.
func (s *SinkProfile) UnsampledCount() uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.unsampledCount })
}

// ArrCount counts arrays of the given flavor, bespoke or not.
func (s *SinkProfile) ArrCount(k vm.HeaderKind) uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.arrCounts[k.ArrType()] })
}

// KeyCount counts sampled arrays whose keys had the given shape.
func (s *SinkProfile) KeyCount(k vm.KeyTypes) uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.keyCounts[k] })
}

// ValCount counts sampled arrays whose values were all of type dt.
func (s *SinkProfile) ValCount(dt vm.DataType) uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.valCounts[dt] })
}

// EmptyCount counts sampled arrays with no values.
func (s *SinkProfile) EmptyCount() uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.valCounts[valCountNone] })
}

// MixedCount counts sampled arrays with values of several types.
func (s *SinkProfile) MixedCount() uint64 {
	return s.load(func(d *sinkProfileData) *uint64 { return &d.valCounts[valCountAny] })
}

// SourceCount pairs a source profile with the arrays it sent to a sink.
type SourceCount struct {
	Source *LoggingProfile
	Count  uint64
}

// Sources returns the sink's sources, most frequent first. A nil Source
// stands for arrays of unknown provenance.
func (s *SinkProfile) Sources() []SourceCount {
	d := s.data.Load()
	if d == nil {
		return nil
	}
	d.mu.RLock()
	out := make([]SourceCount, 0, len(d.sources))
	for p, c := range d.sources {
		out = append(out, SourceCount{p, atomic.LoadUint64(c)})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return sourceName(out[i].Source) < sourceName(out[j].Source)
	})
	return out
}

func sourceName(p *LoggingProfile) string {
	if p == nil {
		return ""
	}
	return p.Key.String()
}

func (s *SinkProfile) String() string {
	return fmt.Sprintf("SinkProfile(%s)", s.Key)
}
