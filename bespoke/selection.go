package bespoke

import (
	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// ---------------------------------------------------------------------------
// Layout selection
// ---------------------------------------------------------------------------

// escalatingOps are the operations a monotype vec cannot serve without
// escalating to vanilla.
var escalatingOps = map[ArrayOp]bool{
	OpEscalateToVanilla: true,
	OpPreSort:           true,
	OpSetStr:            true,
}

const monotypeKinds = uint32(1)<<vm.VecKind | uint32(1)<<vm.PackedKind

// selectLayouts runs while the session is finalizing. Sources go first
// because sink decisions are weighted by their sources' layouts.
func selectLayouts(s *Session) {
	var counts [4]int
	s.EachSource(func(p *LoggingProfile) {
		if p.Released() {
			return
		}
		p.layout = selectSourceLayout(s.cfg, p)
		if static := p.StaticSourceArray(); static != nil {
			p.staticBespokeArray = applyStatic(p.layout, static)
		}
		switch {
		case p.layout.IsVanilla():
			counts[0]++
		case p.layout.Logging():
			counts[1]++
		default:
			counts[2]++
		}
		log.Debugf("source %s: %s (%d samples, %d events)", p.Key, p.layout, p.SampleCount(), p.TotalEvents())
	})
	s.EachSink(func(sp *SinkProfile) {
		sp.layout = selectSinkLayout(s.cfg, sp)
		counts[3]++
		log.Debugf("sink %s: %s", sp.Key, sp.layout)
	})
	log.Infof("selected layouts: %d vanilla, %d logging, %d monotype sources; %d sinks",
		counts[0], counts[1], counts[2], counts[3])
}

func selectSourceLayout(cfg *config.Config, p *LoggingProfile) jit.ArrayLayout {
	if p.LoggingArraysEmitted() == 0 {
		return jit.Vanilla()
	}
	if cfg.Profiling.Mode.ShouldTest() {
		return LoggingLayout()
	}
	if l, ok := monotypeCandidate(cfg, p); ok {
		return l
	}
	return jit.Vanilla()
}

// monotypeCandidate picks a monotype vec layout when every array the source
// built stayed a vec of one value type and escalations were rare.
func monotypeCandidate(cfg *config.Config, p *LoggingProfile) (jit.ArrayLayout, bool) {
	d := p.data.Load()
	if d == nil || d.kindsSeen.Load()&^monotypeKinds != 0 {
		return jit.Bottom(), false
	}

	dt, seen := vm.KindOfUninit, false
	for _, et := range p.EntryTypes() {
		after := et.Transition.After()
		if after.Keys != vm.KeyTypesEmpty && after.Keys != vm.KeyTypesInts {
			return jit.Bottom(), false
		}
		switch after.Values {
		case vm.ValueTypesEmpty:
		case vm.ValueTypesMonotype:
			t := after.ValueType.Dehydrate()
			if seen && t != dt {
				return jit.Bottom(), false
			}
			dt, seen = t, true
		default:
			return jit.Bottom(), false
		}
	}
	if !seen {
		return jit.Bottom(), false
	}

	if total := p.TotalEvents(); total > 0 {
		var escalations uint64
		for _, e := range p.Events() {
			if escalatingOps[e.Key.Op] {
				escalations += e.Count
			}
		}
		if float64(escalations)/float64(total) > cfg.Selection.EscalationThreshold {
			return jit.Bottom(), false
		}
	}
	return MonotypeLayoutFor(dt, !d.wideInts.Load())
}

func selectSinkLayout(cfg *config.Config, sp *SinkProfile) jit.ArrayLayout {
	if sp.SampledCount() == 0 {
		if sp.UnsampledCount() > 0 {
			return jit.Vanilla()
		}
		return jit.Top()
	}

	var vanilla, bespoke float64
	join := jit.Bottom()
	for _, sc := range sp.Sources() {
		if sc.Source == nil {
			vanilla += float64(sc.Count)
			continue
		}
		w := float64(sc.Count) * max(sc.Source.SampleCountMultiplier(), 1)
		l := sc.Source.Layout()
		if l.IsVanilla() || l.IsBottom() {
			vanilla += w
			continue
		}
		bespoke += w
		join = join.Join(l)
	}

	total := vanilla + bespoke
	switch {
	case total == 0:
		return jit.Top()
	case vanilla/total >= cfg.Selection.SinkVanillaThreshold:
		return jit.Vanilla()
	case bespoke/total >= cfg.Selection.SinkBespokeThreshold:
		return join
	}
	return jit.Top()
}
