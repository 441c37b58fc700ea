package vm

// LayoutFunctions is the operation table of one concrete bespoke layout.
//
// The dispatch entry points in bespoke_array.go validate the array and call
// through this interface; implementations may assume ad is an array of their
// own layout. Mutating operations follow move semantics: they consume the
// caller's reference on ad (and on any value passed in) and return an array
// holding one reference, which may be ad itself.
//
// Every layout must be able to escalate to vanilla. Operations a layout has
// no efficient answer for should escalate and forward, never fail.
type LayoutFunctions interface {
	HeapSize(ad *ArrayData) int
	EscalateToVanilla(ad *ArrayData, reason string) *ArrayData
	ReleaseUncounted(ad *ArrayData)
	Release(ad *ArrayData)
	IsVectorData(ad *ArrayData) bool

	// Reads. A missing key yields Uninit.
	GetInt(ad *ArrayData, k int64) TypedValue
	GetStr(ad *ArrayData, k string) TypedValue
	GetIntPos(ad *ArrayData, k int64) int
	GetStrPos(ad *ArrayData, k string) int
	GetPosKey(ad *ArrayData, pos int) TypedValue
	GetPosVal(ad *ArrayData, pos int) TypedValue

	// Iteration positions. IterEnd is one past the last valid position.
	IterBegin(ad *ArrayData) int
	IterLast(ad *ArrayData) int
	IterEnd(ad *ArrayData) int
	IterAdvance(ad *ArrayData, pos int) int
	IterRewind(ad *ArrayData, pos int) int

	// Writes (move semantics)
	SetInt(ad *ArrayData, k int64, v TypedValue) *ArrayData
	SetStr(ad *ArrayData, k string, v TypedValue) *ArrayData
	RemoveInt(ad *ArrayData, k int64) *ArrayData
	RemoveStr(ad *ArrayData, k string) *ArrayData
	Append(ad *ArrayData, v TypedValue) *ArrayData
	Pop(ad *ArrayData) (*ArrayData, TypedValue)

	// Sorting. PreSort returns a vanilla array to sort; PostSort receives the
	// sorted result and may re-specialize it.
	PreSort(ad *ArrayData, sf SortFunction) *ArrayData
	PostSort(ad *ArrayData, vad *ArrayData) *ArrayData

	// Flavor conversions. With copy set ad's reference stays with the caller.
	ToDVArray(ad *ArrayData, copy bool) *ArrayData
	ToHackArr(ad *ArrayData, copy bool) *ArrayData
	SetLegacyArray(ad *ArrayData, copy bool, legacy bool) *ArrayData
}
