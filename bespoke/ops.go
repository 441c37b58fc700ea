package bespoke

// ArrayOp names an operation a logging array can observe.
type ArrayOp uint8

const (
	OpEscalateToVanilla ArrayOp = iota
	OpReleaseUncounted
	OpRelease
	OpIsVectorData
	OpGetInt
	OpGetStr
	OpGetIntPos
	OpGetStrPos
	OpSetInt
	OpSetStr
	OpRemoveInt
	OpRemoveStr
	OpIterBegin
	OpIterLast
	OpIterEnd
	OpIterAdvance
	OpIterRewind
	OpAppend
	OpPop
	OpToDVArray
	OpToHackArr
	OpPreSort
	OpPostSort
	OpSetLegacyArray

	NumArrayOps = int(OpSetLegacyArray) + 1
)

// Each op's name, and whether it is guaranteed to keep the array in its
// layout. Conversions count as reads: they may copy, but never change what
// the array holds.
var arrayOpInfo = [NumArrayOps]struct {
	name string
	read bool
}{
	OpEscalateToVanilla: {"EscalateToVanilla", true},
	OpReleaseUncounted:  {"ReleaseUncounted", true},
	OpRelease:           {"Release", true},
	OpIsVectorData:      {"IsVectorData", true},
	OpGetInt:            {"GetInt", true},
	OpGetStr:            {"GetStr", true},
	OpGetIntPos:         {"GetIntPos", true},
	OpGetStrPos:         {"GetStrPos", true},
	OpSetInt:            {"SetInt", false},
	OpSetStr:            {"SetStr", false},
	OpRemoveInt:         {"RemoveInt", false},
	OpRemoveStr:         {"RemoveStr", false},
	OpIterBegin:         {"IterBegin", true},
	OpIterLast:          {"IterLast", true},
	OpIterEnd:           {"IterEnd", true},
	OpIterAdvance:       {"IterAdvance", true},
	OpIterRewind:        {"IterRewind", true},
	OpAppend:            {"Append", false},
	OpPop:               {"Pop", false},
	OpToDVArray:         {"ToDVArray", true},
	OpToHackArr:         {"ToHackArr", true},
	OpPreSort:           {"PreSort", true},
	OpPostSort:          {"PostSort", true},
	OpSetLegacyArray:    {"SetLegacyArray", true},
}

func (op ArrayOp) String() string {
	if int(op) < NumArrayOps {
		return arrayOpInfo[op].name
	}
	return "ArrayOp(?)"
}

// IsRead reports whether op preserves the array's layout.
func (op ArrayOp) IsRead() bool { return arrayOpInfo[op].read }

// ArrayOpByName looks an op up by its String form.
func ArrayOpByName(name string) (ArrayOp, bool) {
	for i, info := range arrayOpInfo {
		if info.name == name {
			return ArrayOp(i), true
		}
	}
	return 0, false
}
