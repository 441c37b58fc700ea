package vm

import (
	"strings"
	"testing"
)

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		pops   int
		pushes int
	}{
		{OpNull, "Null", 0, 1},
		{OpSetL, "SetL", 1, 1},
		{OpIdx, "Idx", 3, 1},
		{OpClassGetTS, "ClassGetTS", 1, 2},
		{OpLIterInit, "LIterInit", 0, 0},
	}
	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("Expected name %s, got %s", tt.name, info.Name)
		}
		if info.Pops != tt.pops || info.Pushes != tt.pushes {
			t.Errorf("%s: Expected %d/%d, got %d/%d", tt.name, tt.pops, tt.pushes, info.Pops, info.Pushes)
		}
	}
	if name := Opcode(0xEE).Name(); name != "UNKNOWN_EE" {
		t.Errorf("Expected UNKNOWN_EE, got %s", name)
	}
}

func TestInstrPops(t *testing.T) {
	tests := []struct {
		in   Instr
		want int
	}{
		{Instr{Op: OpNewVec, A: 3}, 3},
		{Instr{Op: OpNewDictArray}, 0},
		{Instr{Op: OpQueryM, A: 1}, 1},
		{Instr{Op: OpSetM, A: 2}, 3},
		{Instr{Op: OpFCallBuiltin, A: 2}, 2},
		{Instr{Op: OpAKExists}, 2},
	}
	for _, tt := range tests {
		if got := tt.in.Pops(); got != tt.want {
			t.Errorf("%s: Expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestOpcodeClasses(t *testing.T) {
	for _, op := range []Opcode{OpVec, OpDArray, OpNewVec, OpNewStructDict} {
		if !IsArrLikeConstructorOp(op) {
			t.Errorf("Expected %s to construct an array", op)
		}
	}
	if IsArrLikeConstructorOp(OpCastVec) {
		t.Error("Expected CastVec not to be a constructor")
	}
	if !IsArrLikeCastOp(OpCastKeyset) {
		t.Error("Expected CastKeyset to be a cast")
	}
	for _, op := range []Opcode{OpIterInit, OpIterNext, OpLIterInit, OpLIterNext} {
		if !IsIteratorOp(op) {
			t.Errorf("Expected %s to be an iterator op", op)
		}
	}
	if !IsMemberBaseOp(OpBaseC) || !IsMemberDimOp(OpDim) || !IsMemberFinalOp(OpSetM) {
		t.Error("Expected member ops to be classified")
	}
	if IsMemberFinalOp(OpDim) {
		t.Error("Expected Dim not to end a member sequence")
	}
}

func TestInstrString(t *testing.T) {
	tests := []struct {
		in   Instr
		want string
	}{
		{Instr{Op: OpInt, A: 7}, "Int 7"},
		{Instr{Op: OpQueryM, A: 0, B: int64(QueryMIsset), Key: MemberKey{Code: MemberEI, Int: 2}}, "QueryM 0 Isset EI:2"},
		{Instr{Op: OpDim, B: int64(MOpModeDefine), Key: MemberKey{Code: MemberET, Str: "k"}}, `Dim Define ET:"k"`},
		{Instr{Op: OpSetM, A: 1, Key: MemberKey{Code: MemberW}}, "SetM 1 W"},
		{Instr{Op: OpLIterInit, A: 0, B: 3}, "LIterInit 0 L:3"},
		{Instr{Op: OpNewObjD, Str: "Foo"}, `NewObjD "Foo"`},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestFuncRegistry(t *testing.T) {
	b := NewFuncBuilder("TestFuncRegistry", 1)
	b.EmitOp(OpCGetL, 0)
	off := b.EmitOp(OpRetC, 0)
	fn := b.Build()

	if off != 1 {
		t.Errorf("Expected offset 1, got %d", off)
	}
	if FuncByID(fn.ID) != fn {
		t.Fatal("Expected the function to be registered")
	}

	sk := fn.SrcKey(1)
	if !sk.Valid() {
		t.Error("Expected a valid SrcKey")
	}
	if sk.Op != OpRetC {
		t.Errorf("Expected RetC, got %s", sk.Op)
	}
	if in := sk.Instr(); in.Op != OpRetC {
		t.Errorf("Expected RetC, got %s", in.Op)
	}
	if s := sk.String(); s != "TestFuncRegistry@1:RetC" {
		t.Errorf("Expected TestFuncRegistry@1:RetC, got %s", s)
	}
	if (SrcKey{}).Valid() {
		t.Error("Expected the zero SrcKey to be invalid")
	}
}

func TestFuncAtOutOfRange(t *testing.T) {
	fn := NewFunc("TestFuncAtOutOfRange", 0, Instr{Op: OpNull})
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected a panic")
		}
		if msg, _ := r.(string); !strings.Contains(msg, "out of range") {
			t.Errorf("Expected an out of range panic, got %v", r)
		}
	}()
	fn.At(5)
}
