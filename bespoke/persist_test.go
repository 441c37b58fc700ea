package bespoke

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
	"github.com/google/go-cmp/cmp"
)

func decisionsOf(t *testing.T, s *Session) *Decisions {
	t.Helper()
	var buf bytes.Buffer
	if err := s.SerializeLayouts(&buf); err != nil {
		t.Fatalf("SerializeLayouts: %v", err)
	}
	d, err := ReadDecisions(&buf)
	if err != nil {
		t.Fatalf("ReadDecisions: %v", err)
	}
	return d
}

func TestLayoutDecisionsRoundTrip(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	mono := site("persistMono", vm.Instr{Op: vm.OpNewVec})
	mixed := site("persistMixed", vm.Instr{Op: vm.OpNewVec})
	use := site("persistUse", vm.Instr{Op: vm.OpIdx})
	cls := propClass("PersistC")

	sp := s.GetSinkProfile(jit.NewTransID(), use)
	for i := 0; i < 2; i++ {
		sp.Update(s.NewLoggingArray(mono, intVec(1, 2)))
		s.NewLoggingArray(mixed, vm.NewVec(vm.FromInt(1), vm.FromDouble(2)))
	}
	s.ProfileArrLikeProps(vm.NewObject(cls))
	s.SelectLayouts()
	want := decisionsOf(t, s)

	if len(want.Sources) != 4 || len(want.Sinks) != 1 {
		t.Fatalf("Expected 4 sources and 1 sink, got %d and %d", len(want.Sources), len(want.Sinks))
	}

	classes := vm.NewClassTable()
	classes.Register(cls)
	res := MapResolver{
		Funcs: map[string]*vm.Func{
			"persistMono":  vm.FuncByID(mono.Func),
			"persistMixed": vm.FuncByID(mixed.Func),
			"persistUse":   vm.FuncByID(use.Func),
		},
		Classes: classes,
	}

	var buf bytes.Buffer
	if err := s.SerializeLayouts(&buf); err != nil {
		t.Fatal(err)
	}
	loaded := newSession(config.ModeProfile, 1)
	if err := loaded.DeserializeLayouts(&buf, res); err != nil {
		t.Fatalf("DeserializeLayouts: %v", err)
	}
	if loaded.State() != StateFrozen {
		t.Errorf("Expected a frozen session, got %s", loaded.State())
	}
	if diff := cmp.Diff(want, decisionsOf(t, loaded)); diff != "" {
		t.Errorf("decisions mismatch (-want +got):\n%s", diff)
	}

	p := loaded.GetLoggingProfile(SiteSource{SrcKey: mono})
	if p == nil || p.Layout() != monoLayout(monoInt32.index) {
		t.Fatalf("Expected MonotypeVec<Int32> for %s", mono)
	}
	if !p.Released() {
		t.Error("Expected a deserialized profile to carry no data")
	}
	if got := jit.LayoutForArray(loaded.NewLoggingArray(mono, intVec(7))); got != p.Layout() {
		t.Errorf("Expected new arrays in %s, got %s", p.Layout(), got)
	}
}

func TestDeserializeSkipsUnknownFunctions(t *testing.T) {
	d := &Decisions{
		Sources: []SourceRecord{{
			Site:   &SrcKeyRecord{Func: "nowhere", Offset: 0, Op: uint8(vm.OpNewVec)},
			Layout: LayoutRecord{Sort: uint16(jit.SortVanilla)},
		}},
	}
	var buf bytes.Buffer
	if err := WriteDecisions(&buf, d); err != nil {
		t.Fatal(err)
	}
	s := newSession(config.ModeProfile, 1)
	if err := s.DeserializeLayouts(&buf, MapResolver{}); err != nil {
		t.Fatalf("Expected unknown functions to be skipped, got %v", err)
	}
	if s.CountSources() != 0 {
		t.Errorf("Expected no sources, got %d", s.CountSources())
	}
}

func TestDeserializeRejectsUnknownLayouts(t *testing.T) {
	d := &Decisions{
		Sinks: []SinkRecord{{Layout: LayoutRecord{Sort: uint16(jit.SortBespoke), Name: "NoSuchLayout"}}},
	}
	var buf bytes.Buffer
	if err := WriteDecisions(&buf, d); err != nil {
		t.Fatal(err)
	}
	if err := newSession(config.ModeProfile, 1).DeserializeLayouts(&buf, MapResolver{}); err == nil {
		t.Error("Expected an error for an unknown layout")
	}
}

func TestReadDecisionsRejectsOtherStreams(t *testing.T) {
	data, err := cborEncMode.Marshal(decisionHeader{Magic: "NOPE", Version: decisionVersion})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ReadDecisions(bytes.NewReader(data)); !errors.Is(err, ErrBadDecisionFile) {
		t.Errorf("Expected ErrBadDecisionFile, got %v", err)
	}

	data, _ = cborEncMode.Marshal(decisionHeader{Magic: decisionMagic, Version: 99})
	if _, err := ReadDecisions(bytes.NewReader(data)); err == nil {
		t.Error("Expected an error for an unknown version")
	}
}

func TestLayoutRecordNames(t *testing.T) {
	for _, l := range []jit.ArrayLayout{jit.Top(), jit.Vanilla(), jit.Bottom(), LoggingLayout(), monoLayout(monoStr.index)} {
		got, err := layoutRecord(l).Layout()
		if err != nil {
			t.Fatalf("%s: %v", l, err)
		}
		if got != l {
			t.Errorf("Expected %s, got %s", l, got)
		}
	}
}

func TestReadDecisionsRejectsCorruptCounts(t *testing.T) {
	stream := func(vals ...any) *bytes.Reader {
		var buf bytes.Buffer
		enc := cborEncMode.NewEncoder(&buf)
		if err := enc.Encode(decisionHeader{Magic: decisionMagic, Version: decisionVersion}); err != nil {
			t.Fatal(err)
		}
		for _, v := range vals {
			if err := enc.Encode(v); err != nil {
				t.Fatal(err)
			}
		}
		return bytes.NewReader(buf.Bytes())
	}

	if _, err := ReadDecisions(stream(-1)); err == nil {
		t.Error("Expected an error for a negative source count")
	}
	if _, err := ReadDecisions(stream(0, -5)); err == nil {
		t.Error("Expected an error for a negative sink count")
	}
	if _, err := ReadDecisions(stream(uint64(1) << 40)); !errors.Is(err, ErrBadDecisionFile) {
		t.Errorf("Expected ErrBadDecisionFile for a huge count, got %v", err)
	}
	rec := SourceRecord{Site: &SrcKeyRecord{Func: "f"}, Layout: LayoutRecord{Sort: uint16(jit.SortVanilla)}}
	if _, err := ReadDecisions(stream(3, rec)); err == nil {
		t.Error("Expected an error for a truncated stream")
	}
}
