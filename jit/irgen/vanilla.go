package irgen

import (
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// kindTypes is the array type each constructor and cast produces.
var kindTypes = map[vm.Opcode]jit.Type{
	vm.OpNewVec:         jit.TVec,
	vm.OpNewDictArray:   jit.TDict,
	vm.OpNewKeysetArray: jit.TKeyset,
	vm.OpNewVArray:      jit.TVArr,
	vm.OpNewDArray:      jit.TDArr,
	vm.OpNewStructDict:  jit.TDict,
	vm.OpCastVec:        jit.TVec,
	vm.OpCastDict:       jit.TDict,
	vm.OpCastKeyset:     jit.TKeyset,
	vm.OpCastVArray:     jit.TVArr,
	vm.OpCastDArray:     jit.TDArr,
}

// widenArray is t after the interpreter may have replaced its array with
// one of another layout. Vanilla arrays stay vanilla.
func widenArray(t jit.Type) jit.Type {
	vanilla := t.ArrSpec().Vanilla()
	t = t.DropArrSpec()
	if vanilla {
		t = t.NarrowToLayout(jit.Vanilla())
	}
	return t
}

// EmitInterpOne is the default VanillaEmitter. Simple stack and local
// instructions are modelled directly; everything else runs in the
// interpreter and its outputs are reloaded with the types the bytecode
// guarantees.
func EmitInterpOne(env *Env) {
	ni := env.ni
	fs := env.fs

	switch ni.Op {
	case vm.OpNop:
		return
	case vm.OpNull:
		env.push(env.cns(vm.Null))
		return
	case vm.OpInt:
		env.push(env.cns(vm.FromInt(ni.A)))
		return
	case vm.OpString:
		env.push(env.cns(vm.FromStaticString(ni.Str)))
		return
	case vm.OpVec, vm.OpDict, vm.OpKeyset, vm.OpVArray, vm.OpDArray:
		env.push(env.cns(vm.FromArray(ni.Arr)))
		return
	case vm.OpCGetL:
		if v := fs.Locals[ni.A]; v.IsA(jit.TInitCell) {
			env.push(v)
			return
		}
	case vm.OpSetL:
		fs.Locals[ni.A] = env.topC(0)
		env.genVoid(StLoc, int(ni.A), env.topC(0))
		return
	case vm.OpPopC:
		env.genVoid(DecRef, nil, env.pop())
		return
	case vm.OpRetC:
		env.genVoid(RetCtrl, nil, env.pop())
		return
	case vm.OpBaseL:
		fs.MBase, fs.BaseLoc = fs.Locals[ni.A], LocalLoc(int(ni.A))
		return
	case vm.OpBaseC:
		fs.MBase, fs.BaseLoc = env.topC(int(ni.A)), StackLoc(int(ni.A))
		return
	}

	pops, pushes := ni.Pops(), ni.Pushes()
	srcs := make([]*SSATmp, pops)
	for i := range srcs {
		srcs[i] = env.topC(pops - 1 - i)
	}
	env.genVoid(InterpOne, ni, srcs...)

	var base jit.Type
	if fs.MBase != nil {
		base = fs.MBase.Type
	}
	env.discard(pops)

	out := make([]jit.Type, 0, 2)
	switch ni.Op {
	case vm.OpCGetL:
		t := fs.Locals[ni.A].Type
		if t.Maybe(jit.TUninit) {
			t = t.Minus(jit.TUninit).Union(jit.TInitNull)
		}
		out = append(out, t)
	case vm.OpNewVec, vm.OpNewDictArray, vm.OpNewKeysetArray, vm.OpNewVArray,
		vm.OpNewDArray, vm.OpNewStructDict:
		out = append(out, kindTypes[ni.Op].NarrowToLayout(jit.Vanilla()))
	case vm.OpCastVec, vm.OpCastDict, vm.OpCastKeyset, vm.OpCastVArray, vm.OpCastDArray:
		out = append(out, kindTypes[ni.Op])
	case vm.OpQueryM:
		if vm.QueryMOp(ni.B) == vm.QueryMIsset {
			out = append(out, jit.TBool)
		} else {
			out = append(out, jit.TInitCell)
		}
	case vm.OpSetM:
		out = append(out, srcs[len(srcs)-1].Type)
		reloadBase(env, widenArray(base), pops)
	case vm.OpDim:
		mode := vm.MOpMode(ni.B)
		if mode == vm.MOpModeDefine || mode == vm.MOpModeUnset {
			reloadBase(env, widenArray(base), 0)
		}
		fs.MBase = env.gen(LdMBase, jit.TInitCell, nil)
		fs.BaseLoc = MBaseLoc()
	case vm.OpIdx, vm.OpArrayIdx, vm.OpFCallBuiltin:
		out = append(out, jit.TInitCell)
	case vm.OpAKExists:
		out = append(out, jit.TBool)
	case vm.OpAddElemC, vm.OpAddNewElemC:
		out = append(out, widenArray(srcs[0].Type))
	case vm.OpColFromArray:
		out = append(out, jit.TObj)
	case vm.OpClassGetTS:
		out = append(out, jit.TCls, jit.TInitCell)
	case vm.OpNewObjD, vm.OpNewObjRD:
		t := jit.TObj
		if env.Classes != nil {
			if cls := env.Classes.Lookup(ni.Str); cls != nil {
				t = jit.ExactObj(cls)
			}
		}
		out = append(out, t)
	case vm.OpIterInit, vm.OpIterNext:
		fs.Locals[ni.B] = env.gen(LdLoc, jit.TInitCell, int(ni.B))
	}

	if len(out) != pushes {
		punt(env, "interp of %s pushes %d values, modelled %d", ni.Op, pushes, len(out))
	}
	for i, t := range out {
		env.push(env.gen(LdStk, t, pushes-1-i))
	}
}

// reloadBase reloads the container a member instruction wrote through,
// after popped cells were removed from the stack, and makes it the base.
func reloadBase(env *Env, t jit.Type, popped int) {
	fs := env.fs
	var v *SSATmp
	switch l := fs.BaseLoc; l.Kind {
	case LocLocal:
		v = env.gen(LdLoc, t, l.Slot)
		fs.Locals[l.Slot] = v
	case LocStack:
		if d := l.Slot - popped; d >= 0 {
			v = env.gen(LdStk, t, d+env.ni.Pushes())
			fs.set(StackLoc(d), v)
		}
	}
	if v == nil {
		v = env.gen(LdMBase, t, nil)
	}
	fs.MBase = v
}
