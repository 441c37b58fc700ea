package bespoke

import (
	"sync"
	"testing"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

func TestConcurrentLoggingCounts(t *testing.T) {
	const workers, perWorker = 16, 500
	s := newSession(config.ModeProfile, 1)
	p := s.GetLoggingProfile(SiteSource{SrcKey: site("TestConcurrentLoggingCounts", vm.Instr{Op: vm.OpNewVec})})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ad := MaybeMakeLoggingArray(p, intVec(1, 2))
				vm.NvGetInt(ad, 0)
			}
		}()
	}
	wg.Wait()

	want := uint64(workers * perWorker)
	if n := p.SampleCount(); n != want {
		t.Errorf("Expected %d samples, got %d", want, n)
	}
	if n := p.LoggingArraysEmitted(); n != want {
		t.Errorf("Expected %d logging arrays, got %d", want, n)
	}
	if n := eventCounts(p)[EventKey{Op: OpGetInt, keyKind: keyInt, IntKey: 0}]; n != want {
		t.Errorf("Expected %d GetInt events, got %d", want, n)
	}
}

func TestThousandIntConstructionsSelectMonotype(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	sk := site("TestThousandIntConstructions", vm.Instr{Op: vm.OpNewVec})
	build(s, sk, 1000, func() *vm.ArrayData { return intVec(1, 2, 3) }, nil)
	s.SelectLayouts()

	p := s.GetLoggingProfile(SiteSource{SrcKey: sk})
	if n := p.SampleCount(); n != 1000 {
		t.Errorf("Expected 1000 samples, got %d", n)
	}
	if got := p.Layout(); got != monoLayout(monoInt32.index) {
		t.Errorf("Expected MonotypeVec<Int32>, got %s", got)
	}

	var total, nonInt uint64
	for _, et := range p.EntryTypes() {
		total += et.Count
		after := et.Transition.After()
		if !after.IsMonotype() || after.ValueType != vm.KindOfInt64 {
			nonInt += et.Count
		}
	}
	if total != 1000 {
		t.Errorf("Expected 1000 entry-type records, got %d", total)
	}
	if nonInt != 0 {
		t.Errorf("Expected no non-int transitions, got %d", nonInt)
	}
}

func TestSinkSplitAttributesSources(t *testing.T) {
	s := newSession(config.ModeProfile, 1)
	src := site("TestSinkSplitSource", vm.Instr{Op: vm.OpNewVec})
	sp := s.GetSinkProfile(jit.NewTransID(), site("TestSinkSplitSink", vm.Instr{Op: vm.OpIdx}))

	for i := 0; i < 700; i++ {
		sp.Update(intVec(1))
	}
	p := s.GetLoggingProfile(SiteSource{SrcKey: src})
	for i := 0; i < 300; i++ {
		sp.Update(s.NewLoggingArray(src, intVec(1, 2)))
	}

	if sp.UnsampledCount() != 700 || sp.SampledCount() != 300 {
		t.Errorf("Expected 700 unsampled and 300 sampled, got %d and %d", sp.UnsampledCount(), sp.SampledCount())
	}
	if n := sp.ArrCount(vm.VecKind); n != 1000 {
		t.Errorf("Expected 1000 vecs, got %d", n)
	}

	var total uint64
	contributing := 0
	for _, sc := range sp.Sources() {
		total += sc.Count
		if sc.Source == nil {
			if sc.Count != 700 {
				t.Errorf("Expected 700 of unknown provenance, got %d", sc.Count)
			}
			continue
		}
		contributing++
		if sc.Source != p || sc.Count != 300 {
			t.Errorf("Expected 300 from %s, got %d from %s", p, sc.Count, sc.Source)
		}
	}
	if total != 1000 {
		t.Errorf("Expected sources to sum to 1000, got %d", total)
	}
	if contributing != 1 {
		t.Errorf("Expected 1 contributing profile, got %d", contributing)
	}
}
