package vm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a bytecode instruction. Only the instructions the array
// profiler and the JIT's layout specialization look at are modelled.
type Opcode byte

// Constants and locals
const (
	OpNop    Opcode = 0x00
	OpNull   Opcode = 0x01 // push null
	OpInt    Opcode = 0x02 // push A
	OpString Opcode = 0x03 // push Str
	OpCGetL  Opcode = 0x04 // push local A
	OpSetL   Opcode = 0x05 // store top into local A, leave it on the stack
	OpPopC   Opcode = 0x06
	OpRetC   Opcode = 0x07
)

// Array-like constructors
const (
	OpVec            Opcode = 0x10 // push literal Arr
	OpDict           Opcode = 0x11
	OpKeyset         Opcode = 0x12
	OpVArray         Opcode = 0x13
	OpDArray         Opcode = 0x14
	OpNewVec         Opcode = 0x15 // pop A values, push a vec
	OpNewDictArray   Opcode = 0x16 // push an empty dict
	OpNewKeysetArray Opcode = 0x17 // pop A values, push a keyset
	OpNewVArray      Opcode = 0x18
	OpNewDArray      Opcode = 0x19
	OpNewStructDict  Opcode = 0x1A
)

// Array-like casts
const (
	OpCastVec    Opcode = 0x20
	OpCastDict   Opcode = 0x21
	OpCastKeyset Opcode = 0x22
	OpCastVArray Opcode = 0x23
	OpCastDArray Opcode = 0x24
)

// Member operations
const (
	OpBaseL  Opcode = 0x30 // member base from local A
	OpBaseC  Opcode = 0x31 // member base from stack slot A
	OpDim    Opcode = 0x32 // B: MOpMode, Key
	OpQueryM Opcode = 0x33 // A: discard, B: QueryMOp, Key
	OpSetM   Opcode = 0x34 // A: discard, Key
)

// Layout-sensitive array operations
const (
	OpIdx          Opcode = 0x40 // base, key, default -> value
	OpArrayIdx     Opcode = 0x41
	OpAKExists     Opcode = 0x42 // key, base -> bool
	OpAddElemC     Opcode = 0x43 // base, key, value -> base
	OpAddNewElemC  Opcode = 0x44 // base, value -> base
	OpColFromArray Opcode = 0x45 // B: CollectionType
	OpClassGetTS   Opcode = 0x46 // type structure -> class, generics
)

// Iterators
const (
	OpIterInit  Opcode = 0x50 // A: iterator, B: value local
	OpIterNext  Opcode = 0x51
	OpLIterInit Opcode = 0x52 // A: iterator, B: base local
	OpLIterNext Opcode = 0x53
)

// Objects and calls
const (
	OpNewObjD      Opcode = 0x60 // Str: class name
	OpNewObjRD     Opcode = 0x61
	OpFCallBuiltin Opcode = 0x62 // Str: builtin name, A: argc
)

// ---------------------------------------------------------------------------
// Immediates
// ---------------------------------------------------------------------------

// QueryMOp is QueryM's read flavor.
type QueryMOp uint8

const (
	QueryMCGet QueryMOp = iota
	QueryMCGetQuiet
	QueryMIsset
	QueryMInOut
)

var queryMOpNames = [...]string{"CGet", "CGetQuiet", "Isset", "InOut"}

func (q QueryMOp) String() string { return queryMOpNames[q] }

// MOpMode is Dim's access mode.
type MOpMode uint8

const (
	MOpModeNone MOpMode = iota
	MOpModeWarn
	MOpModeDefine
	MOpModeUnset
	MOpModeInOut
)

var mOpModeNames = [...]string{"None", "Warn", "Define", "Unset", "InOut"}

func (m MOpMode) String() string { return mOpModeNames[m] }

// MemberCode says where a member key comes from.
type MemberCode uint8

const (
	MemberEC MemberCode = iota // stack cell at Int
	MemberEL                   // local Int
	MemberET                   // string immediate
	MemberEI                   // int immediate
	MemberW                    // new element
	MemberPT                   // property name immediate
)

// MemberKey is a member instruction's key operand.
type MemberKey struct {
	Code MemberCode
	Int  int64
	Str  string
}

func (k MemberKey) String() string {
	switch k.Code {
	case MemberEC:
		return fmt.Sprintf("EC:%d", k.Int)
	case MemberEL:
		return fmt.Sprintf("EL:%d", k.Int)
	case MemberET:
		return fmt.Sprintf("ET:%q", k.Str)
	case MemberEI:
		return fmt.Sprintf("EI:%d", k.Int)
	case MemberW:
		return "W"
	}
	return fmt.Sprintf("PT:%q", k.Str)
}

// CollectionType is ColFromArray's target.
type CollectionType uint8

const (
	CollectionVector CollectionType = iota
	CollectionMap
	CollectionSet
	CollectionPair
	CollectionImmVector
	CollectionImmMap
	CollectionImmSet
)

var collectionNames = [...]string{"Vector", "Map", "Set", "Pair", "ImmVector", "ImmMap", "ImmSet"}

func (c CollectionType) String() string { return collectionNames[c] }

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode. Pops and Pushes of -1 depend on
// the instruction's immediates.
type OpcodeInfo struct {
	Name   string
	Pops   int
	Pushes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:    {"Nop", 0, 0},
	OpNull:   {"Null", 0, 1},
	OpInt:    {"Int", 0, 1},
	OpString: {"String", 0, 1},
	OpCGetL:  {"CGetL", 0, 1},
	OpSetL:   {"SetL", 1, 1},
	OpPopC:   {"PopC", 1, 0},
	OpRetC:   {"RetC", 1, 0},

	OpVec:            {"Vec", 0, 1},
	OpDict:           {"Dict", 0, 1},
	OpKeyset:         {"Keyset", 0, 1},
	OpVArray:         {"VArray", 0, 1},
	OpDArray:         {"DArray", 0, 1},
	OpNewVec:         {"NewVec", -1, 1},
	OpNewDictArray:   {"NewDictArray", 0, 1},
	OpNewKeysetArray: {"NewKeysetArray", -1, 1},
	OpNewVArray:      {"NewVArray", -1, 1},
	OpNewDArray:      {"NewDArray", 0, 1},
	OpNewStructDict:  {"NewStructDict", -1, 1},

	OpCastVec:    {"CastVec", 1, 1},
	OpCastDict:   {"CastDict", 1, 1},
	OpCastKeyset: {"CastKeyset", 1, 1},
	OpCastVArray: {"CastVArray", 1, 1},
	OpCastDArray: {"CastDArray", 1, 1},

	OpBaseL:  {"BaseL", 0, 0},
	OpBaseC:  {"BaseC", 0, 0},
	OpDim:    {"Dim", 0, 0},
	OpQueryM: {"QueryM", -1, 1},
	OpSetM:   {"SetM", -1, 1},

	OpIdx:          {"Idx", 3, 1},
	OpArrayIdx:     {"ArrayIdx", 3, 1},
	OpAKExists:     {"AKExists", 2, 1},
	OpAddElemC:     {"AddElemC", 3, 1},
	OpAddNewElemC:  {"AddNewElemC", 2, 1},
	OpColFromArray: {"ColFromArray", 1, 1},
	OpClassGetTS:   {"ClassGetTS", 1, 2},

	OpIterInit:  {"IterInit", 1, 0},
	OpIterNext:  {"IterNext", 0, 0},
	OpLIterInit: {"LIterInit", 0, 0},
	OpLIterNext: {"LIterNext", 0, 0},

	OpNewObjD:      {"NewObjD", 0, 1},
	OpNewObjRD:     {"NewObjRD", 1, 1},
	OpFCallBuiltin: {"FCallBuiltin", -1, 1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the opcode's mnemonic.
func (op Opcode) Name() string { return op.Info().Name }

func (op Opcode) String() string { return op.Name() }

// IsArrLikeConstructorOp reports whether op creates a new array-like value.
func IsArrLikeConstructorOp(op Opcode) bool {
	return op >= OpVec && op <= OpNewStructDict
}

// IsArrLikeCastOp reports whether op converts a value to an array-like.
func IsArrLikeCastOp(op Opcode) bool {
	return op >= OpCastVec && op <= OpCastDArray
}

// IsIteratorOp reports whether op starts or advances an iterator.
func IsIteratorOp(op Opcode) bool {
	return op >= OpIterInit && op <= OpLIterNext
}

// IsMemberBaseOp reports whether op starts a member instruction sequence.
func IsMemberBaseOp(op Opcode) bool { return op == OpBaseL || op == OpBaseC }

// IsMemberDimOp reports whether op steps through an intermediate member.
func IsMemberDimOp(op Opcode) bool { return op == OpDim }

// IsMemberFinalOp reports whether op ends a member instruction sequence.
func IsMemberFinalOp(op Opcode) bool { return op == OpQueryM || op == OpSetM }

// ---------------------------------------------------------------------------
// Instructions and functions
// ---------------------------------------------------------------------------

// Instr is one decoded instruction.
type Instr struct {
	Op  Opcode
	A   int64 // count, local, iterator, or discard depth
	B   int64 // QueryMOp, MOpMode, CollectionType, or second local
	Key MemberKey
	Str string
	Arr *ArrayData // literal for Vec, Dict, Keyset, VArray, DArray
}

// Pops returns the number of stack cells the instruction consumes.
func (in Instr) Pops() int {
	switch in.Op {
	case OpNewVec, OpNewKeysetArray, OpNewVArray, OpNewStructDict, OpFCallBuiltin:
		return int(in.A)
	case OpQueryM:
		return int(in.A)
	case OpSetM:
		return int(in.A) + 1
	}
	return in.Op.Info().Pops
}

// Pushes returns the number of stack cells the instruction produces.
func (in Instr) Pushes() int { return in.Op.Info().Pushes }

func (in Instr) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.Name())
	switch in.Op {
	case OpQueryM:
		fmt.Fprintf(&sb, " %d %s %s", in.A, QueryMOp(in.B), in.Key)
	case OpSetM:
		fmt.Fprintf(&sb, " %d %s", in.A, in.Key)
	case OpDim:
		fmt.Fprintf(&sb, " %s %s", MOpMode(in.B), in.Key)
	case OpInt, OpCGetL, OpSetL, OpBaseL, OpBaseC, OpNewVec, OpNewKeysetArray, OpNewVArray:
		fmt.Fprintf(&sb, " %d", in.A)
	case OpIterInit, OpIterNext, OpLIterInit, OpLIterNext:
		fmt.Fprintf(&sb, " %d L:%d", in.A, in.B)
	case OpString, OpNewObjD, OpNewObjRD:
		fmt.Fprintf(&sb, " %q", in.Str)
	case OpFCallBuiltin:
		fmt.Fprintf(&sb, " %d %q", in.A, in.Str)
	case OpVec, OpDict, OpKeyset, OpVArray, OpDArray:
		fmt.Fprintf(&sb, " %s", in.Arr)
	}
	return sb.String()
}

// FuncID identifies a function for the process lifetime.
type FuncID uint32

// Func is a function body. Bytecode offsets are instruction indices.
type Func struct {
	ID        FuncID
	Name      string
	NumLocals int
	Instrs    []Instr
}

var (
	funcsMu sync.RWMutex
	funcs   = map[FuncID]*Func{}
	nextFn  atomic.Uint32
)

// NewFunc creates and registers a function.
func NewFunc(name string, numLocals int, instrs ...Instr) *Func {
	f := &Func{ID: FuncID(nextFn.Add(1)), Name: name, NumLocals: numLocals, Instrs: instrs}
	funcsMu.Lock()
	funcs[f.ID] = f
	funcsMu.Unlock()
	return f
}

// FuncByID returns a registered function, or nil.
func FuncByID(id FuncID) *Func {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	return funcs[id]
}

// At returns the instruction at offset off.
func (f *Func) At(off int) Instr {
	if off < 0 || off >= len(f.Instrs) {
		panic(fmt.Sprintf("Func.At: offset %d out of range in %s", off, f.Name))
	}
	return f.Instrs[off]
}

// SrcKey names the instruction at off.
func (f *Func) SrcKey(off int) SrcKey {
	return SrcKey{Func: f.ID, Offset: int32(off), Op: f.At(off).Op}
}

// ---------------------------------------------------------------------------
// SrcKey
// ---------------------------------------------------------------------------

// SrcKey identifies a bytecode location. The opcode rides along so profile
// lookups can filter without resolving the function.
type SrcKey struct {
	Func   FuncID
	Offset int32
	Op     Opcode
}

// Valid reports whether sk names a function.
func (sk SrcKey) Valid() bool { return sk.Func != 0 }

// Instr resolves the instruction sk names.
func (sk SrcKey) Instr() Instr {
	f := FuncByID(sk.Func)
	if f == nil {
		panic(fmt.Sprintf("SrcKey: unknown function %d", sk.Func))
	}
	return f.At(int(sk.Offset))
}

func (sk SrcKey) String() string {
	name := "?"
	if f := FuncByID(sk.Func); f != nil {
		name = f.Name
	}
	return fmt.Sprintf("%s@%d:%s", name, sk.Offset, sk.Op)
}

// ---------------------------------------------------------------------------
// FuncBuilder: helper for constructing functions
// ---------------------------------------------------------------------------

// FuncBuilder collects instructions for a new function.
type FuncBuilder struct {
	name      string
	numLocals int
	instrs    []Instr
}

// NewFuncBuilder starts a function with numLocals locals.
func NewFuncBuilder(name string, numLocals int) *FuncBuilder {
	return &FuncBuilder{name: name, numLocals: numLocals}
}

// Emit appends in and returns its offset.
func (b *FuncBuilder) Emit(in Instr) int {
	b.instrs = append(b.instrs, in)
	return len(b.instrs) - 1
}

// EmitOp appends an instruction with only an A immediate.
func (b *FuncBuilder) EmitOp(op Opcode, a int64) int {
	return b.Emit(Instr{Op: op, A: a})
}

// Build registers the function.
func (b *FuncBuilder) Build() *Func {
	return NewFunc(b.name, b.numLocals, b.instrs...)
}
