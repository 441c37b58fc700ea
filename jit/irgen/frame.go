package irgen

import (
	"fmt"

	"github.com/chazu/bespoke/jit"
)

// LocKind says where a Location lives.
type LocKind uint8

const (
	LocStack LocKind = iota
	LocLocal
	LocMBase
)

// Location names a value an instruction reads: a stack slot counted down
// from the top, a local, or the member base.
type Location struct {
	Kind LocKind
	Slot int
}

func StackLoc(depth int) Location { return Location{Kind: LocStack, Slot: depth} }
func LocalLoc(id int) Location    { return Location{Kind: LocLocal, Slot: id} }
func MBaseLoc() Location          { return Location{Kind: LocMBase} }

func (l Location) String() string {
	switch l.Kind {
	case LocStack:
		return fmt.Sprintf("stk[%d]", l.Slot)
	case LocLocal:
		return fmt.Sprintf("loc%d", l.Slot)
	}
	return "mbase"
}

// FrameTypes are the types a translation starts from.
type FrameTypes struct {
	Locals []jit.Type
	// Stack is listed bottom to top.
	Stack []jit.Type
}

// FrameState maps the bytecode's view of the frame to SSA values at the
// current point of IR generation.
type FrameState struct {
	Locals []*SSATmp
	Stack  []*SSATmp // bottom to top
	MBase  *SSATmp
	// BaseLoc is where MBase was loaded from; writes to the base store
	// back there.
	BaseLoc Location
}

func (fs *FrameState) clone() *FrameState {
	c := *fs
	c.Locals = append([]*SSATmp(nil), fs.Locals...)
	c.Stack = append([]*SSATmp(nil), fs.Stack...)
	return &c
}

func (fs *FrameState) stackIndex(depth int) int {
	i := len(fs.Stack) - 1 - depth
	if i < 0 {
		panic(fmt.Sprintf("stack underflow reading depth %d of %d", depth, len(fs.Stack)))
	}
	return i
}

func (fs *FrameState) get(l Location) *SSATmp {
	switch l.Kind {
	case LocStack:
		return fs.Stack[fs.stackIndex(l.Slot)]
	case LocLocal:
		return fs.Locals[l.Slot]
	}
	if fs.MBase == nil {
		panic("member base read before a Base instruction")
	}
	return fs.MBase
}

func (fs *FrameState) set(l Location, v *SSATmp) {
	switch l.Kind {
	case LocStack:
		fs.Stack[fs.stackIndex(l.Slot)] = v
	case LocLocal:
		fs.Locals[l.Slot] = v
	default:
		fs.MBase = v
	}
}

// slots lists every location the state tracks, so states can be compared
// and merged slot by slot.
func (fs *FrameState) slots() []Location {
	locs := make([]Location, 0, len(fs.Locals)+len(fs.Stack)+1)
	for i := range fs.Locals {
		locs = append(locs, LocalLoc(i))
	}
	for d := range fs.Stack {
		locs = append(locs, StackLoc(d))
	}
	if fs.MBase != nil {
		locs = append(locs, MBaseLoc())
	}
	return locs
}

func sameShape(a, b *FrameState) bool {
	return len(a.Locals) == len(b.Locals) && len(a.Stack) == len(b.Stack) &&
		(a.MBase == nil) == (b.MBase == nil)
}
