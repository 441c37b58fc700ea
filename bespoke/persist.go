package bespoke

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Decision file format
// ---------------------------------------------------------------------------
//
// A decision file is a stream of CBOR items: a header, the source count,
// that many SourceRecords, the sink count, and that many SinkRecords.
// Functions, classes and layouts are stored by name so a file stays valid
// across processes that assign ids in a different order.

const decisionMagic = "BSPK"

const decisionVersion uint32 = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bespoke: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type decisionHeader struct {
	Magic   string `cbor:"1,keyasint"`
	Version uint32 `cbor:"2,keyasint"`
}

// LayoutRecord is a persisted ArrayLayout: the basic sort, or the name of
// a registered bespoke layout.
type LayoutRecord struct {
	Sort uint16 `cbor:"1,keyasint"`
	Name string `cbor:"2,keyasint,omitempty"`
}

// SrcKeyRecord is a persisted vm.SrcKey.
type SrcKeyRecord struct {
	Func   string `cbor:"1,keyasint"`
	Offset int32  `cbor:"2,keyasint"`
	Op     uint8  `cbor:"3,keyasint"`
}

// SourceRecord is one source decision. Prop sources carry Class and Slot
// instead of a SrcKey.
type SourceRecord struct {
	Site   *SrcKeyRecord `cbor:"1,keyasint,omitempty"`
	Class  string        `cbor:"2,keyasint,omitempty"`
	Slot   int           `cbor:"3,keyasint,omitempty"`
	Layout LayoutRecord  `cbor:"4,keyasint"`
}

// SinkRecord is one sink decision.
type SinkRecord struct {
	Trans  int32        `cbor:"1,keyasint"`
	Site   SrcKeyRecord `cbor:"2,keyasint"`
	Layout LayoutRecord `cbor:"3,keyasint"`
}

// Decisions is the decoded content of a decision file.
type Decisions struct {
	Sources []SourceRecord
	Sinks   []SinkRecord
}

// ErrBadDecisionFile reports a stream that is not a decision file.
var ErrBadDecisionFile = errors.New("not a layout decision file")

func layoutRecord(l jit.ArrayLayout) LayoutRecord {
	if bl := l.BespokeLayout(); bl != nil && l.Sort() > jit.SortBespoke {
		return LayoutRecord{Sort: uint16(jit.SortBespoke), Name: bl.Describe()}
	}
	return LayoutRecord{Sort: uint16(l.Sort())}
}

// Layout resolves the record against the registry.
func (r LayoutRecord) Layout() (jit.ArrayLayout, error) {
	if r.Name != "" {
		if l, ok := layoutByName(r.Name); ok {
			return l, nil
		}
		return jit.Bottom(), fmt.Errorf("unknown layout %q", r.Name)
	}
	if jit.Sort(r.Sort) > jit.SortBespoke {
		return jit.Bottom(), fmt.Errorf("unnamed layout sort %d", r.Sort)
	}
	return jit.LayoutFromSort(jit.Sort(r.Sort)), nil
}

func (r LayoutRecord) String() string {
	if r.Name != "" {
		return r.Name
	}
	if jit.Sort(r.Sort) <= jit.SortBespoke {
		return jit.LayoutFromSort(jit.Sort(r.Sort)).Describe()
	}
	return fmt.Sprintf("Sort(%d)", r.Sort)
}

func srcKeyRecord(sk vm.SrcKey) SrcKeyRecord {
	name := ""
	if f := vm.FuncByID(sk.Func); f != nil {
		name = f.Name
	}
	return SrcKeyRecord{Func: name, Offset: sk.Offset, Op: uint8(sk.Op)}
}

func (r SrcKeyRecord) String() string {
	return fmt.Sprintf("%s@%d:%s", r.Func, r.Offset, vm.Opcode(r.Op))
}

func (r SourceRecord) String() string {
	if r.Site != nil {
		return r.Site.String()
	}
	return fmt.Sprintf("%s#%d", r.Class, r.Slot)
}

// Resolver maps the names in a decision file back to runtime objects.
type Resolver interface {
	Func(name string) *vm.Func
	Class(name string) *vm.Class
}

// MapResolver resolves from a name->function map and a class table.
type MapResolver struct {
	Funcs   map[string]*vm.Func
	Classes *vm.ClassTable
}

func (m MapResolver) Func(name string) *vm.Func { return m.Funcs[name] }

func (m MapResolver) Class(name string) *vm.Class {
	if m.Classes == nil {
		return nil
	}
	return m.Classes.Lookup(name)
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// SerializeLayouts writes every source and sink decision to w.
func (s *Session) SerializeLayouts(w io.Writer) error {
	var d Decisions
	s.EachSource(func(p *LoggingProfile) {
		rec := SourceRecord{Layout: layoutRecord(p.layout)}
		switch k := p.Key.(type) {
		case SiteSource:
			site := srcKeyRecord(k.SrcKey)
			rec.Site = &site
		case PropSource:
			rec.Class, rec.Slot = k.Class.Name, k.Slot
		}
		d.Sources = append(d.Sources, rec)
	})
	s.EachSink(func(sp *SinkProfile) {
		d.Sinks = append(d.Sinks, SinkRecord{
			Trans:  int32(sp.Key.Trans),
			Site:   srcKeyRecord(sp.Key.SrcKey),
			Layout: layoutRecord(sp.layout),
		})
	})
	return WriteDecisions(w, &d)
}

// WriteDecisions encodes d as a decision file.
func WriteDecisions(w io.Writer, d *Decisions) error {
	enc := cborEncMode.NewEncoder(w)
	if err := enc.Encode(decisionHeader{Magic: decisionMagic, Version: decisionVersion}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := enc.Encode(len(d.Sources)); err != nil {
		return fmt.Errorf("writing source count: %w", err)
	}
	for i := range d.Sources {
		if err := enc.Encode(&d.Sources[i]); err != nil {
			return fmt.Errorf("writing source %d: %w", i, err)
		}
	}
	if err := enc.Encode(len(d.Sinks)); err != nil {
		return fmt.Errorf("writing sink count: %w", err)
	}
	for i := range d.Sinks {
		if err := enc.Encode(&d.Sinks[i]); err != nil {
			return fmt.Errorf("writing sink %d: %w", i, err)
		}
	}
	return nil
}

// SaveLayouts writes the session's decisions to path.
func (s *Session) SaveLayouts(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := s.SerializeLayouts(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// maxDecisionRecords bounds each count in a decision file.
const maxDecisionRecords = 1 << 20

func readCount(dec *cbor.Decoder, what string) (uint64, error) {
	var n uint64
	if err := dec.Decode(&n); err != nil {
		return 0, fmt.Errorf("reading %s count: %w", what, err)
	}
	if n > maxDecisionRecords {
		return 0, fmt.Errorf("%w: %d %s records", ErrBadDecisionFile, n, what)
	}
	return n, nil
}

// ReadDecisions decodes a decision file without resolving any names.
func ReadDecisions(r io.Reader) (*Decisions, error) {
	dec := cbor.NewDecoder(r)
	var hdr decisionHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.Magic != decisionMagic {
		return nil, ErrBadDecisionFile
	}
	if hdr.Version != decisionVersion {
		return nil, fmt.Errorf("unsupported decision file version %d (want %d)", hdr.Version, decisionVersion)
	}

	var d Decisions
	n, err := readCount(dec, "source")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var r SourceRecord
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("reading source %d: %w", i, err)
		}
		d.Sources = append(d.Sources, r)
	}
	if n, err = readCount(dec, "sink"); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var r SinkRecord
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("reading sink %d: %w", i, err)
		}
		d.Sinks = append(d.Sinks, r)
	}
	return &d, nil
}

// DeserializeLayouts installs the decisions read from r and freezes the
// session. Records naming functions or classes the resolver does not know
// are skipped.
func (s *Session) DeserializeLayouts(r io.Reader, res Resolver) error {
	vm.FinalizeHierarchy()
	d, err := ReadDecisions(r)
	if err != nil {
		return err
	}

	var sources, sinks, skipped int
	for _, rec := range d.Sources {
		l, err := rec.Layout.Layout()
		if err != nil {
			return fmt.Errorf("source %s: %w", rec, err)
		}
		key, ok := resolveSource(rec, res)
		if !ok {
			skipped++
			continue
		}
		s.DeserializeSource(key, l)
		sources++
	}
	for _, rec := range d.Sinks {
		l, err := rec.Layout.Layout()
		if err != nil {
			return fmt.Errorf("sink %s: %w", rec.Site, err)
		}
		sk, ok := resolveSrcKey(rec.Site, res)
		if !ok {
			skipped++
			continue
		}
		s.DeserializeSink(SinkKey{Trans: jit.TransID(rec.Trans), SrcKey: sk}, l)
		sinks++
	}
	if skipped > 0 {
		log.Warningf("skipped %d decisions with unknown functions or classes", skipped)
	}
	log.Infof("loaded %d source and %d sink decisions", sources, sinks)
	s.freeze()
	return nil
}

// LoadLayouts installs the decisions stored at path.
func (s *Session) LoadLayouts(path string, res Resolver) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if err := s.DeserializeLayouts(f, res); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func resolveSrcKey(r SrcKeyRecord, res Resolver) (vm.SrcKey, bool) {
	f := res.Func(r.Func)
	if f == nil || int(r.Offset) < 0 || int(r.Offset) >= len(f.Instrs) {
		return vm.SrcKey{}, false
	}
	sk := f.SrcKey(int(r.Offset))
	if uint8(sk.Op) != r.Op {
		return vm.SrcKey{}, false
	}
	return sk, true
}

func resolveSource(r SourceRecord, res Resolver) (SourceKey, bool) {
	if r.Site != nil {
		sk, ok := resolveSrcKey(*r.Site, res)
		return SiteSource{SrcKey: sk}, ok
	}
	cls := res.Class(r.Class)
	if cls == nil || r.Slot < 0 || r.Slot >= cls.NumProps() {
		return nil, false
	}
	return PropSource{Class: cls, Slot: r.Slot}, true
}
