package vm

import "fmt"

// ArrayErrorKind classifies user-level array errors.
type ArrayErrorKind uint8

const (
	InvalidKey ArrayErrorKind = iota
	OutOfBounds
	InvalidOperation
)

var arrayErrorKindNames = [...]string{"invalid key", "out of bounds", "invalid operation"}

// ArrayError is an error the running program can observe, as opposed to
// the panics raised for VM invariant violations.
type ArrayError struct {
	Kind ArrayErrorKind
	Op   string
	Arr  DataType
	Key  TypedValue
}

func (e *ArrayError) Error() string {
	if e.Key.IsInit() {
		return fmt.Sprintf("%s: %s on %s with key %s", e.Op, arrayErrorKindNames[e.Kind], e.Arr, e.Key)
	}
	return fmt.Sprintf("%s: %s on %s", e.Op, arrayErrorKindNames[e.Kind], e.Arr)
}

func arrayErr(kind ArrayErrorKind, op string, ad *ArrayData, key TypedValue) *ArrayError {
	return &ArrayError{Kind: kind, Op: op, Arr: ad.DataType(), Key: key}
}

// checkKey rejects keys that are neither ints nor strings, and string keys
// on vecs and varrays.
func checkKey(op string, ad *ArrayData, key TypedValue) error {
	switch {
	case key.Type == KindOfInt64:
		return nil
	case key.Type.IsStringType():
		if ad.IsVecType() {
			return arrayErr(InvalidKey, op, ad, key)
		}
		return nil
	}
	return arrayErr(InvalidKey, op, ad, key)
}

// GetElem reads ad[key]. A missing key is an OutOfBounds error.
func GetElem(ad *ArrayData, key TypedValue) (TypedValue, error) {
	if err := checkKey("GetElem", ad, key); err != nil {
		return Uninit, err
	}
	var v TypedValue
	if key.Type == KindOfInt64 {
		v = NvGetInt(ad, key.Int())
	} else {
		v = NvGetStr(ad, key.Str())
	}
	if !v.IsInit() {
		return Uninit, arrayErr(OutOfBounds, "GetElem", ad, key)
	}
	return v, nil
}

// GetElemQuiet reads ad[key], yielding def for missing or invalid keys.
func GetElemQuiet(ad *ArrayData, key, def TypedValue) TypedValue {
	v, err := GetElem(ad, key)
	if err != nil {
		return def
	}
	return v
}

// ElemExists reports whether key is present. Invalid key types are absent.
func ElemExists(ad *ArrayData, key TypedValue) bool {
	switch {
	case key.Type == KindOfInt64:
		return ExistsInt(ad, key.Int())
	case key.Type.IsStringType():
		return ExistsStr(ad, key.Str())
	}
	return false
}

// SetElem writes ad[key] = v with move semantics. On error nothing is
// consumed and the caller keeps its references on ad and v.
func SetElem(ad *ArrayData, key, v TypedValue) (*ArrayData, error) {
	if ad.IsKeysetType() {
		return nil, arrayErr(InvalidOperation, "SetElem", ad, key)
	}
	if err := checkKey("SetElem", ad, key); err != nil {
		return nil, err
	}
	if key.Type != KindOfInt64 {
		return SetStrMove(ad, key.Str(), v), nil
	}
	k := key.Int()
	if ad.IsVecType() && (k < 0 || k >= int64(ad.Size())) {
		return nil, arrayErr(OutOfBounds, "SetElem", ad, key)
	}
	return SetIntMove(ad, k, v), nil
}

// AppendElem appends v with move semantics. Keysets require int or string
// values.
func AppendElem(ad *ArrayData, v TypedValue) (*ArrayData, error) {
	if ad.IsKeysetType() && v.Type != KindOfInt64 && !v.Type.IsStringType() {
		return nil, arrayErr(InvalidKey, "AppendElem", ad, v)
	}
	return AppendMove(ad, v), nil
}

// RemoveElem removes key with move semantics. Removing anything but the
// last element of a vec is an InvalidOperation; missing keys are a no-op.
func RemoveElem(ad *ArrayData, key TypedValue) (*ArrayData, error) {
	if err := checkKey("RemoveElem", ad, key); err != nil {
		if ad.IsVecType() && key.Type.IsStringType() {
			return ad, nil
		}
		return nil, err
	}
	if key.Type != KindOfInt64 {
		return RemoveStr(ad, key.Str()), nil
	}
	k := key.Int()
	if ad.DataType() == KindOfVec && k >= 0 && k < int64(ad.Size())-1 {
		return nil, arrayErr(InvalidOperation, "RemoveElem", ad, key)
	}
	return RemoveInt(ad, k), nil
}
