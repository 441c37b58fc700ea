package irgen

import (
	"fmt"
	"strings"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

var (
	tArrKey  = jit.TInt.Union(jit.TStr)
	tVecLike = jit.TVec.Union(jit.TVArr)
	tDictArr = jit.TDict.Union(jit.TDArr)
)

func layoutOf(t jit.Type) jit.ArrayLayout { return t.ArrSpec().Layout() }

func isValidKey(t jit.Type) bool { return t.LessEq(jit.TInt) || t.LessEq(jit.TStr) }

// arrayAfter is arr's type once its layout becomes l.
func arrayAfter(arr jit.Type, l jit.ArrayLayout) jit.Type {
	return arr.Unspecialize().NarrowToLayout(l)
}

// ElemData is the extra data of BespokeElem.
type ElemData struct {
	Mode           vm.MOpMode
	ThrowOnMissing bool
}

func (d ElemData) String() string {
	if d.ThrowOnMissing {
		return d.Mode.String() + ",throw"
	}
	return d.Mode.String()
}

// ---------------------------------------------------------------------------
// Array access primitives
// ---------------------------------------------------------------------------

// emitGet reads key from arr, jumping to taken when it is missing.
func emitGet(env *Env, arr, key *SSATmp, taken *Block) *SSATmp {
	elem, present := layoutOf(arr.Type).ElemType(key.Type)
	if arr.IsA(tVecLike) && key.IsA(jit.TInt) {
		env.genBranch(CheckVecBounds, jit.TBottom, jit.TBottom, taken, nil, arr, key)
		return env.gen(BespokeGet, elem, KeyPresent, arr, key)
	}
	if !present {
		elem = elem.Union(jit.TUninit)
	}
	res := env.gen(BespokeGet, elem, KeyUnknown, arr, key)
	return env.checkType(res, jit.TInitCell, taken)
}

func emitSet(env *Env, arr, key, val *SSATmp) *SSATmp {
	l := layoutOf(arr.Type).SetType(key.Type, val.Type)
	return env.gen(BespokeSet, arrayAfter(arr.Type, l), nil, arr, key, val)
}

func emitAppend(env *Env, arr, val *SSATmp) *SSATmp {
	l := layoutOf(arr.Type).AppendType(val.Type)
	return env.gen(BespokeAppend, arrayAfter(arr.Type, l), nil, arr, val)
}

func emitEscalateToVanilla(env *Env, arr *SSATmp, reason string) *SSATmp {
	if arr.Type.ArrSpec().Vanilla() {
		return arr
	}
	return env.gen(BespokeEscalateToVanilla, arrayAfter(arr.Type, jit.Vanilla()), reason, arr)
}

// memberKey loads a member instruction's key; nil for a new-element key.
func memberKey(env *Env, mk vm.MemberKey) *SSATmp {
	switch mk.Code {
	case vm.MemberEC:
		return env.topC(int(mk.Int))
	case vm.MemberEL:
		return env.loadLocation(LocalLoc(int(mk.Int)))
	case vm.MemberET:
		return env.cns(vm.FromStaticString(mk.Str))
	case vm.MemberEI:
		return env.cns(vm.FromInt(mk.Int))
	case vm.MemberW:
		return nil
	}
	punt(env, "property key %s on an array base", mk)
	return nil
}

// checkKey punts on keys that may or may not be valid and reports whether
// key is valid. Invalid keys throw.
func checkKey(env *Env, base, key *SSATmp) bool {
	if isValidKey(key.Type) {
		return true
	}
	if key.Type.Maybe(tArrKey) {
		punt(env, "array key of type %s", key.Type)
	}
	env.throw(ThrowInvalidArrayKey, nil, base, key)
	return false
}

// missingKey throws the error for reading a missing key.
func missingKey(env *Env, base, key *SSATmp) {
	env.hint(HintUnlikely)
	if base.IsA(tVecLike) {
		env.throw(ThrowOutOfBounds, nil, base, key)
		return
	}
	env.throw(ThrowArrayKeyException, nil, base, key)
}

// ---------------------------------------------------------------------------
// Member instructions
// ---------------------------------------------------------------------------

func emitSetNewElem(env *Env, base, rhs *SSATmp) *SSATmp {
	if base.IsA(jit.TKeyset) && !checkKey(env, base, rhs) {
		return nil
	}
	return emitAppend(env, base, rhs)
}

func emitSetElem(env *Env, base, key, rhs *SSATmp) *SSATmp {
	if base.IsA(jit.TKeyset) {
		env.throw(ThrowInvalidOperation, "Invalid keyset operation", base)
		return nil
	}
	if !checkKey(env, base, key) {
		return nil
	}
	if base.IsA(tVecLike) {
		if key.IsA(jit.TStr) {
			env.throw(ThrowInvalidArrayKey, nil, base, key)
			return nil
		}
		env.ifThen(
			func(taken *Block) { env.genBranch(CheckVecBounds, jit.TBottom, jit.TBottom, taken, nil, base, key) },
			func() {
				env.hint(HintUnlikely)
				env.throw(ThrowOutOfBounds, nil, base, key)
			},
		)
	}
	return emitSet(env, base, key, rhs)
}

func emitBespokeSetM(env *Env, nDiscard int, mk vm.MemberKey) {
	key := memberKey(env, mk)
	rhs := env.topC(0)
	base := env.loadLocation(MBaseLoc())

	var res *SSATmp
	if key == nil {
		res = emitSetNewElem(env, base, rhs)
	} else {
		res = emitSetElem(env, base, key, rhs)
	}
	if res != nil {
		env.storeLocation(MBaseLoc(), res)
	}
	env.discard(nDiscard + 1)
	env.push(rhs)
}

func emitBespokeQueryM(env *Env, nDiscard int, query vm.QueryMOp, mk vm.MemberKey) {
	if mk.Code == vm.MemberW {
		punt(env, "QueryM with a new-element key")
	}
	key := memberKey(env, mk)
	base := env.loadLocation(MBaseLoc())
	if !isValidKey(key.Type) {
		punt(env, "QueryM key of type %s", key.Type)
	}

	var res *SSATmp
	switch {
	case base.IsA(tVecLike) && key.IsA(jit.TStr):
		// Vec-like arrays have no string keys.
		switch query {
		case vm.QueryMIsset:
			res = env.cnsBool(false)
		case vm.QueryMCGetQuiet:
			res = env.cns(vm.Null)
		default:
			env.throw(ThrowInvalidArrayKey, nil, base, key)
			res = env.cnsType(jit.TBottom)
		}
	case query == vm.QueryMIsset:
		res = env.cond(
			func(taken *Block) *SSATmp { return emitGet(env, base, key, taken) },
			func(v *SSATmp) *SSATmp {
				r := env.gen(IsNType, jit.TBool, nil, v)
				r.Inst.Type = jit.TNull
				return r
			},
			func() *SSATmp { return env.cnsBool(false) },
		)
	default:
		res = env.cond(
			func(taken *Block) *SSATmp { return emitGet(env, base, key, taken) },
			func(v *SSATmp) *SSATmp {
				env.genVoid(IncRef, nil, v)
				return v
			},
			func() *SSATmp {
				if query == vm.QueryMCGetQuiet {
					return env.cns(vm.Null)
				}
				missingKey(env, base, key)
				return nil
			},
		)
	}
	env.discard(nDiscard)
	env.push(res)
}

// emitBespokeElem makes the element at key writable for a Define or Unset
// dim and makes it the new base.
func emitBespokeElem(env *Env, base, key *SSATmp, mode vm.MOpMode) {
	if base.IsA(jit.TKeyset) {
		env.throw(ThrowInvalidOperation, "Invalid keyset operation", base)
		return
	}
	if base.IsA(tVecLike) && key.IsA(jit.TStr) {
		if mode == vm.MOpModeDefine {
			env.throw(ThrowInvalidArrayKey, nil, base, key)
			return
		}
		env.fs.MBase, env.fs.BaseLoc = env.cns(vm.Null), MBaseLoc()
		return
	}

	layout := layoutOf(base.Type)
	data := ElemData{Mode: mode, ThrowOnMissing: mode == vm.MOpModeDefine && base.IsA(tVecLike)}
	after := arrayAfter(base.Type, layout.SetType(key.Type, jit.TInitCell))
	arr := env.gen(BespokeElem, after, data, base, key)
	env.storeLocation(MBaseLoc(), arr)

	var elem *SSATmp
	if mode == vm.MOpModeDefine {
		t, _ := layoutOf(after).ElemType(key.Type)
		elem = env.gen(BespokeGet, t, KeyPresent, arr, key)
	} else {
		elem = env.cond(
			func(taken *Block) *SSATmp { return emitGet(env, arr, key, taken) },
			func(v *SSATmp) *SSATmp { return v },
			func() *SSATmp { return env.cns(vm.Null) },
		)
	}
	env.fs.MBase, env.fs.BaseLoc = elem, MBaseLoc()
}

func emitBespokeDim(env *Env, mode vm.MOpMode, mk vm.MemberKey) {
	key := memberKey(env, mk)
	if key == nil || !isValidKey(key.Type) {
		punt(env, "Dim with key %s", mk)
	}
	base := env.loadLocation(MBaseLoc())

	switch mode {
	case vm.MOpModeDefine, vm.MOpModeUnset:
		emitBespokeElem(env, base, key, mode)
		return
	}

	throws := mode == vm.MOpModeWarn || mode == vm.MOpModeInOut
	var elem *SSATmp
	if base.IsA(tVecLike) && key.IsA(jit.TStr) {
		if throws {
			env.throw(ThrowInvalidArrayKey, nil, base, key)
			return
		}
		elem = env.cns(vm.Null)
	} else {
		elem = env.cond(
			func(taken *Block) *SSATmp { return emitGet(env, base, key, taken) },
			func(v *SSATmp) *SSATmp { return v },
			func() *SSATmp {
				if throws {
					missingKey(env, base, key)
					return nil
				}
				return env.cns(vm.Null)
			},
		)
	}
	// Reads don't write back into the container.
	env.fs.MBase, env.fs.BaseLoc = elem, MBaseLoc()
}

// ---------------------------------------------------------------------------
// Array instructions
// ---------------------------------------------------------------------------

func emitBespokeIdx(env *Env) {
	def, key, base := env.topC(0), env.topC(1), env.topC(2)

	var res *SSATmp
	switch {
	case key.IsA(jit.TNull):
		res = def
	case !isValidKey(key.Type):
		punt(env, "Idx key of type %s", key.Type)
	case base.IsA(tVecLike) && key.IsA(jit.TStr):
		res = def
	default:
		res = env.cond(
			func(taken *Block) *SSATmp { return emitGet(env, base, key, taken) },
			func(v *SSATmp) *SSATmp {
				env.genVoid(IncRef, nil, v)
				return v
			},
			func() *SSATmp { return def },
		)
	}
	env.genVoid(DecRef, nil, base)
	env.discard(3)
	env.push(res)
}

func emitBespokeAKExists(env *Env) {
	key, base := env.topC(1), env.topC(0)

	if key.IsA(jit.TNull) && !base.IsA(tVecLike) {
		key = env.cns(vm.FromStaticString(""))
	}
	var res *SSATmp
	switch {
	case key.IsA(jit.TNull):
		res = env.cnsBool(false)
	case !isValidKey(key.Type):
		punt(env, "AKExists key of type %s", key.Type)
	case base.IsA(tVecLike) && key.IsA(jit.TStr):
		res = env.cnsBool(false)
	default:
		res = env.cond(
			func(taken *Block) *SSATmp { return emitGet(env, base, key, taken) },
			func(*SSATmp) *SSATmp { return env.cnsBool(true) },
			func() *SSATmp { return env.cnsBool(false) },
		)
	}
	env.genVoid(DecRef, nil, base)
	env.discard(2)
	env.push(res)
}

func emitBespokeAddElemC(env *Env) {
	base, key := env.topC(2), env.topC(1)
	if !base.IsA(tDictArr) {
		punt(env, "AddElemC on %s", base.Type)
	}
	if !checkKey(env, base, key) {
		env.discard(3)
		env.push(env.cnsType(jit.TBottom))
		return
	}
	val := env.pop()
	env.pop()
	arr := env.pop()
	env.push(emitSet(env, arr, key, val))
}

func emitBespokeAddNewElemC(env *Env) {
	base, val := env.topC(1), env.topC(0)
	if base.IsA(jit.TKeyset) && !checkKey(env, base, val) {
		env.discard(2)
		env.push(env.cnsType(jit.TBottom))
		return
	}
	env.discard(2)
	env.push(emitAppend(env, base, val))
}

func emitBespokeColFromArray(env *Env, ct vm.CollectionType) {
	arr := env.topC(0)
	var want jit.Type
	switch ct {
	case vm.CollectionVector, vm.CollectionImmVector:
		want = jit.TVec
	case vm.CollectionMap, vm.CollectionImmMap, vm.CollectionSet, vm.CollectionImmSet:
		want = jit.TDict
	default:
		punt(env, "ColFromArray into %s", ct)
	}
	if !arr.IsA(want) {
		punt(env, "ColFromArray of %s into %s", arr.Type, ct)
	}
	env.pop()
	vanilla := emitEscalateToVanilla(env, arr, "ColFromArray")
	env.push(env.gen(NewColFromArray, jit.TObj, ct, vanilla))
}

func emitBespokeClassGetTS(env *Env) {
	arr := env.topC(0)
	if !arr.IsA(jit.TDict) {
		punt(env, "ClassGetTS on %s", arr.Type)
	}

	name := env.cond(
		func(taken *Block) *SSATmp {
			v := emitGet(env, arr, env.cns(vm.FromStaticString("classname")), taken)
			return env.checkType(v, jit.TStr, taken)
		},
		func(v *SSATmp) *SSATmp { return v },
		func() *SSATmp {
			env.hint(HintUnlikely)
			env.throw(RaiseError, "You cannot create a new instance of this type as it is not a class")
			return nil
		},
	)

	clsType := jit.TCls
	if name.Val != nil && env.Classes != nil {
		if cls := env.Classes.Lookup(name.Val.Str()); cls != nil {
			clsType = jit.TCls.WithClsSpec(jit.ExactClassSpec(cls))
		}
	}
	cls := env.gen(LdCls, clsType, nil, name)

	generics := env.cond(
		func(taken *Block) *SSATmp {
			return emitGet(env, arr, env.cns(vm.FromStaticString("generic_types")), taken)
		},
		func(v *SSATmp) *SSATmp { return v },
		func() *SSATmp { return env.cns(vm.Null) },
	)

	env.genVoid(DecRef, nil, arr)
	env.discard(1)
	env.push(cls)
	env.push(generics)
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// bespokeBuiltinArg returns the stack depth of the array argument of a
// builtin with a bespoke translation.
func bespokeBuiltinArg(name string, argc int) (depth int, ok bool) {
	switch name {
	case "first", "last", "first_key", "last_key":
		return 0, argc == 1
	case "Shapes::idx":
		return argc - 1, argc == 2 || argc == 3
	}
	return 0, false
}

func emitBespokeBuiltin(env *Env, name string, argc int) {
	if _, ok := bespokeBuiltinArg(name, argc); !ok {
		punt(env, "builtin %s/%d", name, argc)
	}
	if name == "Shapes::idx" {
		emitBespokeShapesIdx(env, argc)
		return
	}

	isFirst := strings.HasPrefix(name, "first")
	isKey := strings.HasSuffix(name, "_key")
	arr := env.topC(0)
	elem, _ := layoutOf(arr.Type).FirstLastType(isFirst, isKey)

	posOp, getOp := BespokeIterLastPos, BespokeIterGetVal
	if isFirst {
		posOp = BespokeIterFirstPos
	}
	if isKey {
		getOp = BespokeIterGetKey
	}
	res := env.cond(
		func(taken *Block) *SSATmp {
			n := env.gen(Count, jit.TInt, nil, arr)
			env.genBranch(JmpZero, jit.TBottom, jit.TBottom, taken, nil, n)
			return env.gen(posOp, jit.TInt, nil, arr)
		},
		func(pos *SSATmp) *SSATmp { return env.gen(getOp, elem, nil, arr, pos) },
		func() *SSATmp { return env.cns(vm.Null) },
	)
	env.genVoid(DecRef, nil, arr)
	env.discard(1)
	env.push(res)
}

func emitBespokeShapesIdx(env *Env, argc int) {
	arr, key := env.topC(argc-1), env.topC(argc-2)
	var def *SSATmp
	if argc == 3 {
		def = env.topC(0)
	}
	if !arr.IsA(tDictArr) {
		punt(env, "Shapes::idx on %s", arr.Type)
	}
	if !isValidKey(key.Type) {
		punt(env, "Shapes::idx key of type %s", key.Type)
	}
	res := env.cond(
		func(taken *Block) *SSATmp { return emitGet(env, arr, key, taken) },
		func(v *SSATmp) *SSATmp {
			env.genVoid(IncRef, nil, v)
			return v
		},
		func() *SSATmp {
			if def != nil {
				return def
			}
			return env.cns(vm.Null)
		},
	)
	env.genVoid(DecRef, nil, arr)
	env.discard(argc)
	env.push(res)
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// translateDispatchBespoke translates the current instruction for a
// bespoke input whose layout the frame already knows.
func translateDispatchBespoke(env *Env, ni NormalizedInstruction) {
	switch ni.Op {
	case vm.OpQueryM:
		emitBespokeQueryM(env, int(ni.A), vm.QueryMOp(ni.B), ni.Key)
	case vm.OpSetM:
		emitBespokeSetM(env, int(ni.A), ni.Key)
	case vm.OpDim:
		emitBespokeDim(env, vm.MOpMode(ni.B), ni.Key)
	case vm.OpIdx, vm.OpArrayIdx:
		emitBespokeIdx(env)
	case vm.OpAKExists:
		emitBespokeAKExists(env)
	case vm.OpAddElemC:
		emitBespokeAddElemC(env)
	case vm.OpAddNewElemC:
		emitBespokeAddNewElemC(env)
	case vm.OpColFromArray:
		emitBespokeColFromArray(env, vm.CollectionType(ni.B))
	case vm.OpClassGetTS:
		emitBespokeClassGetTS(env)
	case vm.OpFCallBuiltin:
		emitBespokeBuiltin(env, ni.Str, int(ni.A))
	case vm.OpIterInit, vm.OpIterNext, vm.OpLIterInit, vm.OpLIterNext:
		panic(fmt.Sprintf("iterator op %s reached bespoke dispatch", ni.Op))
	default:
		punt(env, "no bespoke translation for %s", ni.Op)
	}
}
