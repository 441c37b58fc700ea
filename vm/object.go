package vm

import "fmt"

// Object is a heap-allocated class instance with one slot per declared
// property.
type Object struct {
	Class *Class
	props []TypedValue
	count int32
}

// NewObject allocates an instance of cls with every slot holding its
// property's initial value.
func NewObject(cls *Class) *Object {
	all := cls.AllProps()
	obj := &Object{Class: cls, props: make([]TypedValue, len(all)), count: 1}
	for i, p := range all {
		obj.props[i] = p.Init
		p.Init.IncRef()
	}
	return obj
}

// NumSlots returns the number of property slots.
func (obj *Object) NumSlots() int { return len(obj.props) }

// GetSlot returns the value at slot i.
func (obj *Object) GetSlot(i int) TypedValue {
	if i < 0 || i >= len(obj.props) {
		panic(fmt.Sprintf("Object.GetSlot: slot %d out of range for %s", i, obj.Class.Name))
	}
	return obj.props[i]
}

// SetSlot moves v into slot i, dropping the old value's reference.
func (obj *Object) SetSlot(i int, v TypedValue) {
	if i < 0 || i >= len(obj.props) {
		panic(fmt.Sprintf("Object.SetSlot: slot %d out of range for %s", i, obj.Class.Name))
	}
	old := obj.props[i]
	obj.props[i] = v
	old.DecRef()
}

// ForEachSlot calls fn for each slot in order.
func (obj *Object) ForEachSlot(fn func(i int, v TypedValue)) {
	for i, v := range obj.props {
		fn(i, v)
	}
}

// RefCount returns the current reference count.
func (obj *Object) RefCount() int32 { return obj.count }

// IncRef adds a reference.
func (obj *Object) IncRef() { obj.count++ }

// DecRef drops a reference, releasing the slots with the last one.
func (obj *Object) DecRef() {
	if obj.count <= 0 {
		panic(fmt.Sprintf("Object.DecRef: refcount underflow on %s", obj.Class.Name))
	}
	obj.count--
	if obj.count == 0 {
		for _, v := range obj.props {
			v.DecRef()
		}
		obj.props = nil
	}
}
