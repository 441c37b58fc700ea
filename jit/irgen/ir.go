// Package irgen generates the IR for layout-sensitive bytecodes: it picks
// which operand to guard, emits the logging diamond in profiling
// translations and layout guards in optimized ones, and translates bespoke
// array accesses into bespoke IR ops. When it meets a shape it cannot
// specialize it punts with a FailedIRGen and the translation is redone
// generically.
package irgen

import (
	"fmt"
	"strings"

	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// Op is an IR opcode.
type Op uint8

const (
	DefConst Op = iota
	LdLoc
	LdStk
	LdMBase
	Phi
	Jmp
	JmpZero
	CheckType
	AssertType
	ExitSlow
	InterpOne
	RetCtrl

	IncRef
	DecRef
	Count
	IsNType
	LdClsName
	LdCls

	StLoc
	StStk
	StMBase
	SetElem
	SetNewElem

	CheckVecBounds
	BespokeGet
	BespokeSet
	BespokeAppend
	BespokeElem
	BespokeEscalateToVanilla
	BespokeIterFirstPos
	BespokeIterLastPos
	BespokeIterGetKey
	BespokeIterGetVal

	NewColFromArray
	NewLoggingArray
	LogArrayReach
	ProfileArrLikeProps
	StProp

	ThrowInvalidArrayKey
	ThrowInvalidOperation
	ThrowOutOfBounds
	ThrowArrayKeyException
	RaiseError
)

var opNames = [...]string{
	DefConst:                 "DefConst",
	LdLoc:                    "LdLoc",
	LdStk:                    "LdStk",
	LdMBase:                  "LdMBase",
	Phi:                      "Phi",
	Jmp:                      "Jmp",
	JmpZero:                  "JmpZero",
	CheckType:                "CheckType",
	AssertType:               "AssertType",
	ExitSlow:                 "ExitSlow",
	InterpOne:                "InterpOne",
	RetCtrl:                  "RetCtrl",
	IncRef:                   "IncRef",
	DecRef:                   "DecRef",
	Count:                    "Count",
	IsNType:                  "IsNType",
	LdClsName:                "LdClsName",
	LdCls:                    "LdCls",
	StLoc:                    "StLoc",
	StStk:                    "StStk",
	StMBase:                  "StMBase",
	SetElem:                  "SetElem",
	SetNewElem:               "SetNewElem",
	CheckVecBounds:           "CheckVecBounds",
	BespokeGet:               "BespokeGet",
	BespokeSet:               "BespokeSet",
	BespokeAppend:            "BespokeAppend",
	BespokeElem:              "BespokeElem",
	BespokeEscalateToVanilla: "BespokeEscalateToVanilla",
	BespokeIterFirstPos:      "BespokeIterFirstPos",
	BespokeIterLastPos:       "BespokeIterLastPos",
	BespokeIterGetKey:        "BespokeIterGetKey",
	BespokeIterGetVal:        "BespokeIterGetVal",
	NewColFromArray:          "NewColFromArray",
	NewLoggingArray:          "NewLoggingArray",
	LogArrayReach:            "LogArrayReach",
	ProfileArrLikeProps:      "ProfileArrLikeProps",
	StProp:                   "StProp",
	ThrowInvalidArrayKey:     "ThrowInvalidArrayKey",
	ThrowInvalidOperation:    "ThrowInvalidOperation",
	ThrowOutOfBounds:         "ThrowOutOfBounds",
	ThrowArrayKeyException:   "ThrowArrayKeyException",
	RaiseError:               "RaiseError",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// IsTerminal reports whether control never continues past op.
func (op Op) IsTerminal() bool {
	switch op {
	case Jmp, ExitSlow, RetCtrl, ThrowInvalidArrayKey, ThrowInvalidOperation,
		ThrowOutOfBounds, ThrowArrayKeyException, RaiseError:
		return true
	}
	return false
}

// KeyState says what BespokeGet knows about the key's presence.
type KeyState uint8

const (
	KeyUnknown KeyState = iota
	KeyPresent
)

func (k KeyState) String() string {
	if k == KeyPresent {
		return "present"
	}
	return "unknown"
}

// SSATmp is an IR value.
type SSATmp struct {
	ID   int
	Type jit.Type
	Inst *Instruction
	// Val is set for constants with a known value.
	Val *vm.TypedValue
}

func (t *SSATmp) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("t%d:%s", t.ID, t.Type)
}

// IsA reports whether t's type is at most typ.
func (t *SSATmp) IsA(typ jit.Type) bool { return t.Type.LessEq(typ) }

// Instruction is one IR instruction. Instructions with a Taken block end
// their block; control falls through to Next.
type Instruction struct {
	ID    int
	Op    Op
	Type  jit.Type // type parameter of CheckType, AssertType, IsNType
	Srcs  []*SSATmp
	Dst   *SSATmp
	Taken *Block
	Next  *Block
	Extra any
	Block *Block
}

func (in *Instruction) String() string {
	var sb strings.Builder
	if in.Dst != nil {
		fmt.Fprintf(&sb, "%s = ", in.Dst)
	}
	sb.WriteString(in.Op.String())
	switch in.Op {
	case CheckType, AssertType, IsNType:
		fmt.Fprintf(&sb, "<%s>", in.Type)
	case DefConst:
		if in.Dst.Val != nil {
			fmt.Fprintf(&sb, "<%s>", in.Dst.Val)
		}
	}
	if in.Extra != nil {
		fmt.Fprintf(&sb, " [%v]", in.Extra)
	}
	for i, s := range in.Srcs {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "t%d", s.ID)
	}
	if in.Taken != nil {
		fmt.Fprintf(&sb, " -> B%d", in.Taken.ID)
	}
	if in.Next != nil {
		fmt.Fprintf(&sb, " next B%d", in.Next.ID)
	}
	return sb.String()
}

// Hint marks how often a block is expected to run.
type Hint uint8

const (
	HintNeither Hint = iota
	HintUnlikely
)

// Block is a basic block.
type Block struct {
	ID    int
	Insts []*Instruction
	Hint  Hint

	// unreachable blocks hold code emitted after a throw or exit; they are
	// pruned when the translation finishes.
	unreachable bool
}

// Last returns the block's final instruction, or nil.
func (b *Block) Last() *Instruction {
	if len(b.Insts) == 0 {
		return nil
	}
	return b.Insts[len(b.Insts)-1]
}

// Terminated reports whether nothing more may be appended to b.
func (b *Block) Terminated() bool {
	last := b.Last()
	return last != nil && (last.Op.IsTerminal() || last.Taken != nil)
}

// Succs lists the blocks control may reach from b.
func (b *Block) Succs() []*Block {
	last := b.Last()
	if last == nil {
		return nil
	}
	var succs []*Block
	if last.Next != nil {
		succs = append(succs, last.Next)
	}
	if last.Taken != nil {
		succs = append(succs, last.Taken)
	}
	return succs
}

// Unit is one translation's IR.
type Unit struct {
	Func  *vm.Func
	Kind  jit.TransKind
	Trans jit.TransID
	// Generic is set when bespoke specialization was abandoned.
	Generic bool

	Entry  *Block
	Blocks []*Block

	nextTmp   int
	nextInst  int
	nextBlock int
}

func newUnit(fn *vm.Func, kind jit.TransKind, trans jit.TransID) *Unit {
	u := &Unit{Func: fn, Kind: kind, Trans: trans}
	u.Entry = u.newBlock()
	return u
}

func (u *Unit) newBlock() *Block {
	b := &Block{ID: u.nextBlock}
	u.nextBlock++
	u.Blocks = append(u.Blocks, b)
	return b
}

func (u *Unit) hasJumpTo(b *Block) bool {
	for _, blk := range u.Blocks {
		if last := blk.Last(); last != nil && last.Taken == b {
			return true
		}
	}
	return false
}

func (u *Unit) removeBlock(b *Block) {
	for i, blk := range u.Blocks {
		if blk == b {
			u.Blocks = append(u.Blocks[:i], u.Blocks[i+1:]...)
			return
		}
	}
}

// prune drops unreachable blocks.
func (u *Unit) prune() {
	live := u.Blocks[:0]
	for _, b := range u.Blocks {
		if !b.unreachable {
			live = append(live, b)
		}
	}
	u.Blocks = live
}

func (u *Unit) newTmp(t jit.Type, in *Instruction) *SSATmp {
	tmp := &SSATmp{ID: u.nextTmp, Type: t, Inst: in}
	u.nextTmp++
	return tmp
}

// EachInst calls fn on every instruction in block order.
func (u *Unit) EachInst(fn func(*Instruction)) {
	for _, b := range u.Blocks {
		for _, in := range b.Insts {
			fn(in)
		}
	}
}

// Count returns the number of instructions with opcode op.
func (u *Unit) Count(op Op) int {
	n := 0
	u.EachInst(func(in *Instruction) {
		if in.Op == op {
			n++
		}
	})
	return n
}

func (u *Unit) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s translation %d of %s", u.Kind, u.Trans, u.Func.Name)
	if u.Generic {
		sb.WriteString(" (generic)")
	}
	sb.WriteByte('\n')
	for _, b := range u.Blocks {
		fmt.Fprintf(&sb, "B%d:", b.ID)
		if b.Hint == HintUnlikely {
			sb.WriteString(" unlikely")
		}
		sb.WriteByte('\n')
		for _, in := range b.Insts {
			fmt.Fprintf(&sb, "  %s\n", in)
		}
	}
	return sb.String()
}
