package irgen

import (
	"github.com/chazu/bespoke/bespoke"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

func isLiteralOp(op vm.Opcode) bool { return op >= vm.OpVec && op <= vm.OpDArray }

// GetVanillaLocation returns the input of sk whose layout the instruction's
// translation depends on.
func GetVanillaLocation(sk vm.SrcKey) (Location, bool) {
	in := sk.Instr()
	switch in.Op {
	case vm.OpQueryM, vm.OpSetM, vm.OpDim:
		return MBaseLoc(), true
	case vm.OpIdx, vm.OpArrayIdx, vm.OpAddElemC:
		return StackLoc(2), true
	case vm.OpAddNewElemC:
		return StackLoc(1), true
	case vm.OpAKExists, vm.OpClassGetTS, vm.OpColFromArray, vm.OpIterInit:
		return StackLoc(0), true
	case vm.OpLIterInit, vm.OpLIterNext:
		return LocalLoc(int(in.B)), true
	case vm.OpFCallBuiltin:
		if depth, ok := bespokeBuiltinArg(in.Str, int(in.A)); ok {
			return StackLoc(depth), true
		}
	}
	return Location{}, false
}

// GetLocationToGuard is GetVanillaLocation restricted to inputs known to
// be arrays.
func GetLocationToGuard(env *Env, sk vm.SrcKey) (Location, bool) {
	loc, ok := GetVanillaLocation(sk)
	if !ok {
		return loc, false
	}
	t := env.LocationType(loc)
	if t.IsBottom() || !t.LessEq(jit.TArrLike) {
		return loc, false
	}
	return loc, true
}

// layoutForSink joins the layouts chosen for sk in every profiling
// translation this one was built from. Missing profiles give Top.
func layoutForSink(env *Env, sk vm.SrcKey) jit.ArrayLayout {
	if env.Session == nil || len(env.Context.ProfTransIDs) == 0 {
		return jit.Top()
	}
	l := jit.Bottom()
	for _, id := range env.Context.ProfTransIDs {
		sp := env.Session.GetSinkProfile(id, sk)
		if sp == nil {
			return jit.Top()
		}
		l = l.Join(sp.Layout())
	}
	return l
}

// guardToLayout picks the layout to specialize the input at loc for. In
// optimized translations the sink's decision is guarded; live translations
// use what the frame already knows.
func guardToLayout(env *Env, loc Location) jit.ArrayLayout {
	known := layoutOf(env.LocationType(loc))
	if env.Context.Kind != jit.TransOptimize {
		return known
	}
	target := layoutForSink(env, env.sk).Meet(known)
	if target.IsTop() || target == known || target.IsBottom() {
		return known
	}
	log.Debugf("guarding %s at %s for %s", loc, env.sk, target)
	env.checkTypeLocation(loc, jit.TArrLike.NarrowToLayout(target), nil)
	return target
}

func emitLogArrayReach(env *Env, loc Location) {
	if env.Context.Kind != jit.TransProfile || env.Session == nil {
		return
	}
	sink := env.Session.GetSinkProfile(env.Unit.Trans, env.sk)
	if sink == nil {
		return
	}
	env.genVoid(LogArrayReach, sink, env.loadLocation(loc))
}

// emitLoggingDiamond splits on the input's layout: vanilla arrays take
// emitVanilla, bespoke (logging) arrays the bespoke translation. The
// bespoke side may not know less about any local or pushed value than the
// vanilla side, since code after the merge was typed for vanilla.
func emitLoggingDiamond(env *Env, ni NormalizedInstruction, loc Location, emitVanilla VanillaEmitter) {
	taken := env.Unit.newBlock()
	taken.Hint = HintUnlikely
	before := env.fs.clone()

	env.checkTypeLocation(loc, jit.TVanillaArrLike, taken)
	emitVanilla(env)
	var preds []pred
	preds = env.collect(preds, nil)
	vanilla := env.fs.clone()

	env.cur, env.fs = taken, before
	env.assertTypeLocation(loc, jit.TArrLike.NarrowToLayout(jit.Bespoke()))
	translateDispatchBespoke(env, ni)

	if env.reachable() {
		pushed := ni.Pushes()
		if len(env.fs.Stack) != len(vanilla.Stack) {
			punt(env, "stack depth differs between layouts")
		}
		for i, v := range env.fs.Locals {
			want := vanilla.Locals[i].Type.DropArrSpec()
			if !v.Type.LessEq(want) {
				punt(env, "lost type info for local %d: %s is not <= %s", i, v.Type, want)
			}
		}
		for d := 0; d < pushed; d++ {
			got := env.fs.get(StackLoc(d)).Type
			want := vanilla.get(StackLoc(d)).Type.DropArrSpec()
			if !got.LessEq(want) {
				punt(env, "lost type info for stack slot %d: %s is not <= %s", d, got, want)
			}
		}
		if (env.fs.MBase == nil) != (vanilla.MBase == nil) {
			punt(env, "member base differs between layouts")
		}
	}
	preds = env.collect(preds, nil)
	env.join(preds, false)
}

// specializeSource wraps the array a constructor just pushed so the
// runtime can log it or give it the site's chosen layout. Either may leave
// the array vanilla, so the pushed type forgets its layout.
func specializeSource(env *Env, sk vm.SrcKey) {
	arr := env.topC(0)
	if !arr.Type.Maybe(jit.TArrLike) {
		return
	}
	if dt := arr.Type; dt.IsKnownDataType() && !bespoke.ArrayTypeMaybeBespoke(dt.ToDataType()) {
		return
	}

	if env.Context.Kind != jit.TransProfile {
		p := env.Session.GetLoggingProfile(bespoke.SiteSource{SrcKey: sk})
		if p == nil || !p.Layout().IsBespoke() || p.Layout().Logging() {
			return
		}
	}
	env.pop()
	env.push(env.gen(NewLoggingArray, arr.Type.Unspecialize(), sk, arr))
}

// canProfilePropsInline reports whether a new instance's array-valued
// properties can be wrapped by inline IR.
func canProfilePropsInline(env *Env, cls *vm.Class) bool {
	if cls == nil {
		return false
	}
	return cls.NumProps() <= env.Session.Config().Profiling.MaxInitObjProps
}

func emitProfileArrLikeProps(env *Env, clsName string) {
	obj := env.topC(0)
	var cls *vm.Class
	if env.Classes != nil {
		cls = env.Classes.Lookup(clsName)
	}
	if !canProfilePropsInline(env, cls) {
		env.genVoid(ProfileArrLikeProps, nil, obj)
		return
	}
	for i, prop := range cls.AllProps() {
		if !prop.Init.IsArrayLike() {
			continue
		}
		p := env.Session.GetLoggingProfile(bespoke.PropSource{Class: cls, Slot: i})
		if p == nil {
			continue
		}
		init := env.cns(prop.Init)
		arr := env.gen(NewLoggingArray, init.Type.Unspecialize(), p, init)
		env.genVoid(StProp, i, obj, arr)
	}
}

// HandleBespokeInputs translates the current instruction, specializing
// it for the layout of its array input where it has one.
func HandleBespokeInputs(env *Env, ni NormalizedInstruction, emitVanilla VanillaEmitter) {
	env.setInstr(ni)
	sk := ni.Source
	if env.Session == nil || !env.Session.Config().Profiling.Mode.AllowBespoke() || env.Unit.Generic {
		emitVanilla(env)
		return
	}

	if env.Context.Kind != jit.TransProfile && isLiteralOp(ni.Op) {
		if p := env.Session.GetLoggingProfile(bespoke.SiteSource{SrcKey: sk}); p != nil {
			if static := p.StaticBespokeArray(); static != nil {
				env.push(env.cns(vm.FromArray(static)))
				return
			}
		}
	}

	loc, ok := GetLocationToGuard(env, sk)
	if !ok {
		emitVanilla(env)
		return
	}
	t := env.LocationType(loc)
	if t.IsKnownDataType() && !bespoke.ArrayTypeMaybeBespoke(t.ToDataType()) {
		env.assertTypeLocation(loc, jit.TVanillaArrLike)
		emitVanilla(env)
		return
	}

	emitLogArrayReach(env, loc)

	if vm.IsIteratorOp(ni.Op) {
		if !t.ArrSpec().Vanilla() {
			env.ifThen(
				func(taken *Block) { env.checkTypeLocation(loc, jit.TVanillaArrLike, taken) },
				func() {
					arr := emitEscalateToVanilla(env, env.loadLocation(loc), "iterator")
					env.storeLocation(loc, arr)
				},
			)
		}
		emitVanilla(env)
		return
	}

	if env.Context.Kind == jit.TransProfile {
		if t.ArrSpec().Vanilla() {
			emitVanilla(env)
			return
		}
		emitLoggingDiamond(env, ni, loc, emitVanilla)
		return
	}

	layout := guardToLayout(env, loc)
	if layout.IsBespoke() {
		translateDispatchBespoke(env, ni)
		return
	}
	emitVanilla(env)
}

// HandleVanillaOutputs profiles the arrays and objects the current
// instruction produced.
func HandleVanillaOutputs(env *Env, ni NormalizedInstruction) {
	if env.Session == nil || !env.reachable() {
		return
	}
	mode := env.Session.Config().Profiling.Mode
	if !mode.AllowBespoke() {
		return
	}
	profiling := env.Context.Kind == jit.TransProfile || mode.ShouldTest()

	switch {
	case ni.Op == vm.OpNewObjD:
		if profiling {
			emitProfileArrLikeProps(env, ni.Str)
		}
	case vm.IsArrLikeConstructorOp(ni.Op) || vm.IsArrLikeCastOp(ni.Op):
		if top := env.topC(0); top.Val != nil && top.Val.IsArrayLike() && !top.Val.Arr().IsVanilla() {
			// Already a static bespoke array.
			return
		}
		if profiling || env.Context.Kind == jit.TransOptimize {
			specializeSource(env, ni.Source)
		}
	}
}
