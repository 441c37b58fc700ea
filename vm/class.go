package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// ClassKind separates ordinary classes from interfaces and traits.
type ClassKind uint8

const (
	NormalClass ClassKind = iota
	InterfaceClass
	TraitClass
)

// Prop is a declared instance property. Init is the value fresh objects
// start with; array-like initial values are static arrays.
type Prop struct {
	Name string
	Init TypedValue
}

// Class is the runtime view of a class: just what the array profiler and
// the JIT's class specializations need.
type Class struct {
	Name       string
	Kind       ClassKind
	Superclass *Class
	Interfaces []*Class
	Props      []Prop

	// NoOverride marks a class nothing may extend, so a value known to be
	// an instance is known to be exactly this class.
	NoOverride bool
}

// NewClass creates a normal class.
func NewClass(name string, superclass *Class, props ...Prop) *Class {
	return &Class{Name: name, Superclass: superclass, Props: props}
}

// NewInterface creates an interface extending the given interfaces.
func NewInterface(name string, extends ...*Class) *Class {
	return &Class{Name: name, Kind: InterfaceClass, Interfaces: extends}
}

// IsNormal reports whether c is neither an interface nor a trait.
func (c *Class) IsNormal() bool { return c.Kind == NormalClass }

// IsInterface reports whether c is an interface.
func (c *Class) IsInterface() bool { return c.Kind == InterfaceClass }

// IsSubclassOf reports whether other is c or one of its superclasses.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Superclass {
		if cur == other {
			return true
		}
	}
	return false
}

// Classof reports whether every instance of c is an instance of other:
// other is c, a superclass, or an interface c (transitively) implements.
func (c *Class) Classof(other *Class) bool {
	if c.IsSubclassOf(other) {
		return true
	}
	if !other.IsInterface() {
		return false
	}
	for cur := c; cur != nil; cur = cur.Superclass {
		for _, iface := range cur.Interfaces {
			if iface.Classof(other) {
				return true
			}
		}
	}
	return false
}

// CommonAncestor returns the most derived class both c and other extend,
// or nil. Interfaces have no common ancestors.
func (c *Class) CommonAncestor(other *Class) *Class {
	if !c.IsNormal() || !other.IsNormal() {
		return nil
	}
	for cur := c; cur != nil; cur = cur.Superclass {
		if other.IsSubclassOf(cur) {
			return cur
		}
	}
	return nil
}

// Superclasses returns all superclasses from immediate parent to root.
func (c *Class) Superclasses() []*Class {
	var result []*Class
	for cur := c.Superclass; cur != nil; cur = cur.Superclass {
		result = append(result, cur)
	}
	return result
}

// AllProps returns inherited properties followed by c's own. Slot numbers
// index this slice.
func (c *Class) AllProps() []Prop {
	if c.Superclass == nil {
		return c.Props
	}
	inherited := c.Superclass.AllProps()
	result := make([]Prop, len(inherited)+len(c.Props))
	copy(result, inherited)
	copy(result[len(inherited):], c.Props)
	return result
}

// NumProps counts declared slots, inherited ones included.
func (c *Class) NumProps() int {
	n := len(c.Props)
	if c.Superclass != nil {
		n += c.Superclass.NumProps()
	}
	return n
}

// PropIndex returns the slot of the named property, or -1.
func (c *Class) PropIndex(name string) int {
	for i, p := range c.AllProps() {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (c *Class) String() string {
	return c.Name
}

// ---------------------------------------------------------------------------
// ClassTable: class registry
// ---------------------------------------------------------------------------

// ClassTable maps names to classes. It's safe for concurrent use; decision
// files resolve property sources through it.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Class)}
}

// Register adds c, returning the class it replaced, if any.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	old := ct.classes[c.Name]
	ct.classes[c.Name] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// MustLookup is Lookup for names that must exist.
func (ct *ClassTable) MustLookup(name string) (*Class, error) {
	if c := ct.Lookup(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown class %q", name)
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
