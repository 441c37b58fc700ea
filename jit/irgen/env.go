package irgen

import (
	"fmt"

	"github.com/chazu/bespoke/bespoke"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// TransContext describes the translation being generated.
type TransContext struct {
	Kind  jit.TransKind
	Trans jit.TransID
	// ProfTransIDs are the profiling translations an optimized translation
	// was built from. Their sink profiles pick the layouts to guard for.
	ProfTransIDs []jit.TransID
}

// NormalizedInstruction is the bytecode being translated.
type NormalizedInstruction struct {
	Source vm.SrcKey
	vm.Instr
}

// VanillaEmitter emits the layout-agnostic translation of env's current
// instruction.
type VanillaEmitter func(env *Env)

// Env is the state of IR generation for one translation.
type Env struct {
	Unit    *Unit
	Session *bespoke.Session
	Classes *vm.ClassTable
	Context TransContext

	cur *Block
	fs  *FrameState
	sk  vm.SrcKey
	ni  NormalizedInstruction
}

// NewEnv starts a translation of fn whose frame holds values of the given
// types on entry. Locals without an entry type start as TCell.
func NewEnv(fn *vm.Func, sess *bespoke.Session, classes *vm.ClassTable, ctx TransContext, entry FrameTypes) *Env {
	if ctx.Trans == 0 {
		ctx.Trans = jit.NewTransID()
	}
	u := newUnit(fn, ctx.Kind, ctx.Trans)
	env := &Env{
		Unit:    u,
		Session: sess,
		Classes: classes,
		Context: ctx,
		cur:     u.Entry,
		fs:      &FrameState{Locals: make([]*SSATmp, fn.NumLocals)},
	}
	for i := range env.fs.Locals {
		t := jit.TCell
		if i < len(entry.Locals) {
			t = entry.Locals[i]
		}
		env.fs.Locals[i] = env.gen(LdLoc, t, i)
	}
	for i, t := range entry.Stack {
		env.fs.Stack = append(env.fs.Stack, env.gen(LdStk, t, len(entry.Stack)-1-i))
	}
	return env
}

// SrcKey is the instruction being translated.
func (env *Env) SrcKey() vm.SrcKey { return env.sk }

// Frame exposes the current frame state.
func (env *Env) Frame() *FrameState { return env.fs }

func (env *Env) setInstr(ni NormalizedInstruction) {
	env.ni = ni
	env.sk = ni.Source
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (env *Env) appendTo(b *Block, in *Instruction) {
	in.ID = env.Unit.nextInst
	env.Unit.nextInst++
	in.Block = b
	b.Insts = append(b.Insts, in)
}

func (env *Env) emit(in *Instruction) {
	if env.cur.Terminated() {
		// Code after a throw or exit is unreachable; keep it out of the way.
		env.cur = env.Unit.newBlock()
		env.cur.unreachable = true
	}
	env.appendTo(env.cur, in)
}

// gen emits op with a result of type dst. A TBottom dst means no result.
func (env *Env) gen(op Op, dst jit.Type, extra any, srcs ...*SSATmp) *SSATmp {
	in := &Instruction{Op: op, Srcs: srcs, Extra: extra}
	if dst != jit.TBottom || op == DefConst {
		in.Dst = env.Unit.newTmp(dst, in)
	}
	env.emit(in)
	return in.Dst
}

func (env *Env) genVoid(op Op, extra any, srcs ...*SSATmp) {
	env.gen(op, jit.TBottom, extra, srcs...)
}

// genBranch emits an instruction that may jump to taken and continues in
// a fresh fallthrough block.
func (env *Env) genBranch(op Op, typ, dst jit.Type, taken *Block, extra any, srcs ...*SSATmp) *SSATmp {
	in := &Instruction{Op: op, Type: typ, Srcs: srcs, Taken: taken, Extra: extra}
	if dst != jit.TBottom || op == CheckType {
		in.Dst = env.Unit.newTmp(dst, in)
	}
	env.emit(in)
	next := env.Unit.newBlock()
	next.Hint = in.Block.Hint
	next.unreachable = in.Block.unreachable
	in.Next = next
	env.cur = next
	return in.Dst
}

// throw ends the current block with op.
func (env *Env) throw(op Op, extra any, srcs ...*SSATmp) {
	env.genVoid(op, extra, srcs...)
}

func (env *Env) cns(v vm.TypedValue) *SSATmp {
	tmp := env.gen(DefConst, jit.TypeOfValue(v), nil)
	tmp.Val = &v
	return tmp
}

func (env *Env) cnsBool(b bool) *SSATmp { return env.cns(vm.FromBool(b)) }

// cnsType is a placeholder value of type t, used for results of paths
// that never complete.
func (env *Env) cnsType(t jit.Type) *SSATmp { return env.gen(DefConst, t, nil) }

func (env *Env) hint(h Hint) { env.cur.Hint = h }

// exitBlock is a side exit back to the interpreter at the current
// instruction.
func (env *Env) exitBlock() *Block {
	b := env.Unit.newBlock()
	b.Hint = HintUnlikely
	b.unreachable = !env.reachable()
	env.appendTo(b, &Instruction{Op: ExitSlow, Extra: env.sk})
	return b
}

// ---------------------------------------------------------------------------
// Frame access
// ---------------------------------------------------------------------------

func (env *Env) push(v *SSATmp) { env.fs.Stack = append(env.fs.Stack, v) }

func (env *Env) pop() *SSATmp {
	v := env.fs.Stack[env.fs.stackIndex(0)]
	env.fs.Stack = env.fs.Stack[:len(env.fs.Stack)-1]
	return v
}

func (env *Env) discard(n int) {
	for i := 0; i < n; i++ {
		env.pop()
	}
}

func (env *Env) topC(depth int) *SSATmp { return env.fs.get(StackLoc(depth)) }

func (env *Env) loadLocation(l Location) *SSATmp { return env.fs.get(l) }

// LocationType is the known type of the value at l.
func (env *Env) LocationType(l Location) jit.Type { return env.loadLocation(l).Type }

// storeLocation writes v to l. Writes to the member base also write to
// where the base was loaded from.
func (env *Env) storeLocation(l Location, v *SSATmp) {
	if l.Kind == LocMBase {
		env.fs.MBase = v
		if env.fs.BaseLoc.Kind == LocMBase {
			// The base is an element; write through it.
			env.genVoid(StMBase, nil, v)
			return
		}
		l = env.fs.BaseLoc
	}
	env.fs.set(l, v)
	if l.Kind == LocLocal {
		env.genVoid(StLoc, l.Slot, v)
	}
}

// refine replaces old with v wherever the frame holds it.
func (env *Env) refine(old, v *SSATmp) {
	fs := env.fs
	for i, t := range fs.Locals {
		if t == old {
			fs.Locals[i] = v
		}
	}
	for i, t := range fs.Stack {
		if t == old {
			fs.Stack[i] = v
		}
	}
	if fs.MBase == old {
		fs.MBase = v
	}
}

// checkType guards that v has type t, jumping to taken otherwise.
func (env *Env) checkType(v *SSATmp, t jit.Type, taken *Block) *SSATmp {
	if v.IsA(t) {
		return v
	}
	return env.genBranch(CheckType, t, v.Type.Intersect(t), taken, nil, v)
}

// checkTypeLocation guards that the value at l has type t, jumping to
// taken (or a side exit when taken is nil) otherwise.
func (env *Env) checkTypeLocation(l Location, t jit.Type, taken *Block) *SSATmp {
	v := env.loadLocation(l)
	if v.IsA(t) {
		return v
	}
	if taken == nil {
		taken = env.exitBlock()
	}
	res := env.checkType(v, t, taken)
	env.refine(v, res)
	return res
}

// assertTypeLocation records that the value at l has type t.
func (env *Env) assertTypeLocation(l Location, t jit.Type) *SSATmp {
	v := env.loadLocation(l)
	if v.IsA(t) {
		return v
	}
	in := &Instruction{Op: AssertType, Type: t, Srcs: []*SSATmp{v}}
	in.Dst = env.Unit.newTmp(v.Type.Intersect(t), in)
	env.emit(in)
	env.refine(v, in.Dst)
	return in.Dst
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

type pred struct {
	block *Block
	fs    *FrameState
	val   *SSATmp
}

// reachable reports whether code emitted now can run.
func (env *Env) reachable() bool {
	return !env.cur.Terminated() && !env.cur.unreachable
}

func (env *Env) collect(preds []pred, val *SSATmp) []pred {
	if !env.reachable() {
		return preds
	}
	return append(preds, pred{block: env.cur, fs: env.fs.clone(), val: val})
}

// cond emits a two-way split: branch emits the jumps to taken, next runs
// on the fallthrough with branch's result, and taken runs on the jump
// side. The two results meet in a Phi.
func (env *Env) cond(branch func(taken *Block) *SSATmp, next func(v *SSATmp) *SSATmp, taken func() *SSATmp) *SSATmp {
	takenBlock := env.Unit.newBlock()
	takenBlock.unreachable = !env.reachable()
	before := env.fs.clone()

	v := branch(takenBlock)
	preds := env.collect(nil, next(v))

	if env.Unit.hasJumpTo(takenBlock) {
		env.cur, env.fs = takenBlock, before
		preds = env.collect(preds, taken())
	} else {
		env.Unit.removeBlock(takenBlock)
	}

	return env.join(preds, true)
}

// ifThenElse is cond without a value.
func (env *Env) ifThenElse(branch func(taken *Block), next, taken func()) {
	env.cond(
		func(b *Block) *SSATmp { branch(b); return nil },
		func(*SSATmp) *SSATmp { next(); return nil },
		func() *SSATmp { taken(); return nil },
	)
}

// ifThen runs taken only when branch jumps.
func (env *Env) ifThen(branch func(taken *Block), taken func()) {
	env.ifThenElse(branch, func() {}, taken)
}

// ifElse runs next only when branch falls through.
func (env *Env) ifElse(branch func(taken *Block), next func()) {
	env.ifThenElse(branch, next, func() {})
}

// join ends every predecessor with a jump to a new block and continues
// there, merging frame states (and values, when withVal is set) with Phis.
func (env *Env) join(preds []pred, withVal bool) *SSATmp {
	if len(preds) == 0 {
		env.cur = env.Unit.newBlock()
		env.cur.unreachable = true
		if withVal {
			return env.cnsType(jit.TBottom)
		}
		return nil
	}

	done := env.Unit.newBlock()
	for _, p := range preds {
		env.appendTo(p.block, &Instruction{Op: Jmp, Taken: done})
	}
	env.cur = done

	fs := preds[0].fs.clone()
	for _, p := range preds[1:] {
		if !sameShape(fs, p.fs) {
			panic(fmt.Sprintf("join of mismatched frames at %s", env.sk))
		}
	}
	for _, l := range fs.slots() {
		vals := make([]*SSATmp, len(preds))
		for i, p := range preds {
			vals[i] = p.fs.get(l)
		}
		fs.set(l, env.phi(vals, l))
	}
	env.fs = fs

	if !withVal {
		return nil
	}
	vals := make([]*SSATmp, 0, len(preds))
	for _, p := range preds {
		if p.val == nil {
			return nil
		}
		vals = append(vals, p.val)
	}
	return env.phi(vals, "result")
}

// phi merges vals, reusing the value when every predecessor agrees.
func (env *Env) phi(vals []*SSATmp, extra any) *SSATmp {
	same := true
	t := jit.TBottom
	for _, v := range vals {
		same = same && v == vals[0]
		t = t.Union(v.Type)
	}
	if same {
		return vals[0]
	}
	in := &Instruction{Op: Phi, Srcs: vals, Extra: extra}
	in.Dst = env.Unit.newTmp(t, in)
	env.appendTo(env.cur, in)
	return in.Dst
}
