package vm

// DataType tags the payload of a TypedValue.
type DataType int8

const (
	KindOfUninit DataType = iota
	KindOfNull
	KindOfBoolean
	KindOfInt64
	KindOfDouble
	KindOfPersistentString // static or uncounted string
	KindOfString
	KindOfVArray
	KindOfDArray
	KindOfVec
	KindOfDict
	KindOfKeyset
	KindOfObject

	NumDataTypes = int(KindOfObject) + 1
)

var dataTypeNames = [...]string{
	KindOfUninit:           "Uninit",
	KindOfNull:             "Null",
	KindOfBoolean:          "Boolean",
	KindOfInt64:            "Int64",
	KindOfDouble:           "Double",
	KindOfPersistentString: "PersistentString",
	KindOfString:           "String",
	KindOfVArray:           "VArray",
	KindOfDArray:           "DArray",
	KindOfVec:              "Vec",
	KindOfDict:             "Dict",
	KindOfKeyset:           "Keyset",
	KindOfObject:           "Object",
}

func (dt DataType) String() string {
	if int(dt) >= 0 && int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return "DataType(?)"
}

// IsStringType reports whether dt is either string flavor.
func (dt DataType) IsStringType() bool {
	return dt == KindOfPersistentString || dt == KindOfString
}

// IsArrayLikeType reports whether dt holds an *ArrayData.
func (dt DataType) IsArrayLikeType() bool {
	return dt >= KindOfVArray && dt <= KindOfKeyset
}

// IsVecType reports whether dt is a list-shaped array type.
func (dt DataType) IsVecType() bool {
	return dt == KindOfVec || dt == KindOfVArray
}

// IsDictType reports whether dt is a map-shaped array type.
func (dt DataType) IsDictType() bool {
	return dt == KindOfDict || dt == KindOfDArray
}

// IsRefcountedType reports whether values of dt carry a reference count.
func (dt DataType) IsRefcountedType() bool {
	return dt == KindOfString || dt.IsArrayLikeType() || dt == KindOfObject
}

// Dehydrate maps a data type to the representative used for monotype
// comparisons: both string flavors count as one.
func (dt DataType) Dehydrate() DataType {
	if dt == KindOfPersistentString {
		return KindOfString
	}
	return dt
}
