package vm

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Layout registry
// ---------------------------------------------------------------------------
//
// Layouts are registered during single-threaded startup. FinalizeHierarchy
// seals the registry; afterwards every table here is read-only and may be
// read from any goroutine without locking.

// TopLayoutIndex is the abstract layout every bespoke layout descends from.
const TopLayoutIndex LayoutIndex = 0

// Layout is a registered layout. A layout with no vtable is abstract: no
// array can carry it, but it can appear in the optimizer's lattice.
type Layout struct {
	index   LayoutIndex
	name    string
	vtable  LayoutFunctions
	hooks   any
	parents []LayoutIndex

	// filled by FinalizeHierarchy
	ancestors   map[LayoutIndex]bool
	descendants map[LayoutIndex]bool
	mask        MaskAndCompare
}

type layoutRegistry struct {
	mu       sync.Mutex
	layouts  []*Layout
	reserved map[LayoutIndex]bool
	next     LayoutIndex
	sealed   atomic.Bool
}

var registry = layoutRegistry{reserved: make(map[LayoutIndex]bool)}

func init() {
	RegisterAbstractLayout("BespokeTop")
}

// RegisterLayout assigns the next free index to a concrete layout. Parents
// default to the top layout.
func RegisterLayout(name string, vtable LayoutFunctions, parents ...LayoutIndex) LayoutIndex {
	if vtable == nil {
		panic(fmt.Sprintf("RegisterLayout(%s): nil vtable", name))
	}
	return registry.registerNext(name, vtable, parents)
}

// RegisterAbstractLayout assigns the next free index to an abstract layout.
func RegisterAbstractLayout(name string, parents ...LayoutIndex) LayoutIndex {
	return registry.registerNext(name, nil, parents)
}

// ReserveBlock reserves n consecutive indices starting at a multiple of the
// next power of two at or above n, and returns the first. Families register
// into the block with RegisterLayoutAt so one range test covers them all.
func ReserveBlock(n int) LayoutIndex {
	if n <= 0 {
		panic("ReserveBlock: n must be positive")
	}
	r := &registry
	r.mu.Lock()
	defer r.mu.Unlock()
	align := LayoutIndex(1) << bits.Len(uint(n-1))
	base := (r.next + align - 1) &^ (align - 1)
	for !r.free(base, n) {
		base += align
	}
	if int(base)+n-1 > int(MaxLayoutIndex) {
		panic("ReserveBlock: layout index space exhausted")
	}
	for i := base; i < base+LayoutIndex(n); i++ {
		r.reserved[i] = true
	}
	return base
}

// ErrLayoutRange is returned when a concrete layout would land inside the
// index range of a layout it does not descend from, or would stretch an
// ancestor's range over an unrelated concrete layout. Every layout's
// concrete descendants must fit one aligned range for the header test.
var ErrLayoutRange = errors.New("layout breaks a family's index range")

// RegisterLayoutAt registers a layout at an index obtained from
// ReserveBlock. A nil vtable registers an abstract layout. Families must be
// registered in subtree order; a layout that would split a family's index
// range is rejected with ErrLayoutRange and the index stays reserved.
func RegisterLayoutAt(index LayoutIndex, name string, vtable LayoutFunctions, parents ...LayoutIndex) error {
	r := &registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reserved[index] {
		panic(fmt.Sprintf("RegisterLayoutAt(%s): index %d was not reserved", name, index))
	}
	if err := r.register(index, name, vtable, parents); err != nil {
		return err
	}
	delete(r.reserved, index)
	return nil
}

// SetLayoutHooks attaches type-level hooks to a layout. The JIT interprets
// them; the registry only stores them.
func SetLayoutHooks(index LayoutIndex, hooks any) {
	r := &registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		panic("SetLayoutHooks: registry is finalized")
	}
	l := r.lookup(index)
	if l == nil {
		panic(fmt.Sprintf("SetLayoutHooks: no layout at %d", index))
	}
	l.hooks = hooks
}

func (r *layoutRegistry) registerNext(name string, vtable LayoutFunctions, parents []LayoutIndex) LayoutIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.reserved[r.next] || r.lookup(r.next) != nil {
		r.next++
	}
	index := r.next
	if err := r.register(index, name, vtable, parents); err != nil {
		panic(err.Error())
	}
	r.next++
	return index
}

func (r *layoutRegistry) free(base LayoutIndex, n int) bool {
	for i := base; i < base+LayoutIndex(n); i++ {
		if r.reserved[i] || r.lookup(i) != nil {
			return false
		}
	}
	return true
}

func (r *layoutRegistry) lookup(index LayoutIndex) *Layout {
	if int(index) < len(r.layouts) {
		return r.layouts[index]
	}
	return nil
}

func (r *layoutRegistry) register(index LayoutIndex, name string, vtable LayoutFunctions, parents []LayoutIndex) error {
	if r.sealed.Load() {
		panic(fmt.Sprintf("RegisterLayout(%s): registry is finalized", name))
	}
	if index > MaxLayoutIndex {
		panic(fmt.Sprintf("RegisterLayout(%s): index %d exceeds %d", name, index, MaxLayoutIndex))
	}
	if r.lookup(index) != nil {
		panic(fmt.Sprintf("RegisterLayout(%s): index %d already taken", name, index))
	}
	if len(parents) == 0 && index != TopLayoutIndex {
		parents = []LayoutIndex{TopLayoutIndex}
	}
	for _, p := range parents {
		if r.lookup(p) == nil {
			panic(fmt.Sprintf("RegisterLayout(%s): unknown parent %d", name, p))
		}
	}
	if vtable != nil {
		if err := r.checkRanges(index, name, parents); err != nil {
			return err
		}
	}
	for int(index) >= len(r.layouts) {
		r.layouts = append(r.layouts, nil)
	}
	r.layouts[index] = &Layout{
		index:   index,
		name:    name,
		vtable:  vtable,
		parents: append([]LayoutIndex(nil), parents...),
	}
	log.Debugf("registered layout %d: %s", index, name)
	return nil
}

// ancestorsOf walks parents up to the top layout. Only valid before
// FinalizeHierarchy fills in the ancestor sets.
func (r *layoutRegistry) ancestorsOf(parents []LayoutIndex) map[LayoutIndex]bool {
	seen := map[LayoutIndex]bool{}
	var walk func([]LayoutIndex)
	walk = func(ps []LayoutIndex) {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				walk(r.layouts[p].parents)
			}
		}
	}
	walk(parents)
	return seen
}

// checkRanges verifies that adding a concrete layout at index keeps every
// layout's concrete descendants inside one aligned range of their own.
func (r *layoutRegistry) checkRanges(index LayoutIndex, name string, parents []LayoutIndex) error {
	mine := r.ancestorsOf(parents)

	// concrete layouts and their ancestors, the new one included
	anc := map[LayoutIndex]map[LayoutIndex]bool{index: mine}
	for _, c := range r.layouts {
		if c != nil && c.IsConcrete() {
			a := r.ancestorsOf(c.parents)
			a[c.index] = true
			anc[c.index] = a
		}
	}
	mine[index] = true

	for _, b := range r.layouts {
		if b == nil || b.index == TopLayoutIndex {
			continue
		}
		var lo, hi LayoutIndex
		n := 0
		for c, a := range anc {
			if !a[b.index] {
				continue
			}
			if n == 0 || c < lo {
				lo = c
			}
			if n == 0 || c > hi {
				hi = c
			}
			n++
		}
		if n == 0 {
			continue
		}
		for i := alignedBase(lo, hi); i <= hi; i++ {
			if a, ok := anc[i]; ok && !a[b.index] {
				other := name
				if i != index {
					other = r.layouts[i].name
				}
				return fmt.Errorf("%w: %s would put %s inside the range of %s", ErrLayoutRange, name, other, b.name)
			}
		}
	}
	return nil
}

// alignedBase is the start of the smallest power-of-two aligned block
// holding lo through hi.
func alignedBase(lo, hi LayoutIndex) LayoutIndex {
	align := LayoutIndex(1) << bits.Len(uint(hi-lo))
	base := lo &^ (align - 1)
	for hi >= base+align {
		align <<= 1
		base = lo &^ (align - 1)
	}
	return base
}

// FinalizeHierarchy computes subtyping and layout tests, then seals the
// registry. Calling it again is a no-op.
func FinalizeHierarchy() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.sealed.Load() {
		return
	}
	for _, l := range registry.layouts {
		if l == nil {
			continue
		}
		l.ancestors = map[LayoutIndex]bool{l.index: true}
		var walk func(*Layout)
		walk = func(x *Layout) {
			for _, p := range x.parents {
				if !l.ancestors[p] {
					l.ancestors[p] = true
					walk(registry.layouts[p])
				}
			}
		}
		walk(l)
		l.descendants = map[LayoutIndex]bool{}
	}
	for _, l := range registry.layouts {
		if l == nil {
			continue
		}
		for a := range l.ancestors {
			registry.layouts[a].descendants[l.index] = true
		}
	}
	for _, l := range registry.layouts {
		if l != nil {
			l.mask = computeMaskAndCompare(l)
		}
	}
	registry.sealed.Store(true)
	log.Infof("layout hierarchy finalized with %d layouts", NumLayouts())
}

// HierarchyFinalized reports whether FinalizeHierarchy has run.
func HierarchyFinalized() bool { return registry.sealed.Load() }

func computeMaskAndCompare(l *Layout) MaskAndCompare {
	if l.index == TopLayoutIndex {
		return MaskAndCompare{}
	}
	var concrete []LayoutIndex
	for d := range l.descendants {
		if registry.layouts[d].IsConcrete() {
			concrete = append(concrete, d)
		}
	}
	if len(concrete) == 0 {
		// no array can carry an abstract index, so this accepts nothing real
		return FullCompare(uint16(l.index))
	}
	sort.Slice(concrete, func(i, j int) bool { return concrete[i] < concrete[j] })
	lo, hi := concrete[0], concrete[len(concrete)-1]
	if lo == hi {
		return FullCompare(uint16(lo))
	}
	base := alignedBase(lo, hi)
	for i := base; i <= hi; i++ {
		other := registry.lookup(i)
		if other != nil && other.IsConcrete() && !l.descendants[i] {
			panic(fmt.Sprintf("layout %s: concrete layout %s falls inside its index range", l.name, other.name))
		}
	}
	return MaskAndCompare{XorVal: uint16(base), AndVal: 0xffff, CmpVal: uint16(hi - base)}
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// LayoutFromIndex returns the layout at index, or nil.
func LayoutFromIndex(index LayoutIndex) *Layout {
	return registry.lookup(index)
}

// ConcreteLayoutFromIndex returns the concrete layout at index, panicking if
// there is none.
func ConcreteLayoutFromIndex(index LayoutIndex) *Layout {
	l := registry.lookup(index)
	if l == nil || !l.IsConcrete() {
		panic(fmt.Sprintf("no concrete layout at index %d", index))
	}
	return l
}

// NumLayouts counts registered layouts, abstract ones included.
func NumLayouts() int {
	n := 0
	for _, l := range registry.layouts {
		if l != nil {
			n++
		}
	}
	return n
}

// EachLayout calls fn on every registered layout in index order.
func EachLayout(fn func(*Layout)) {
	for _, l := range registry.layouts {
		if l != nil {
			fn(l)
		}
	}
}

// Index returns the layout's index.
func (l *Layout) Index() LayoutIndex { return l.index }

// Describe returns the layout's name.
func (l *Layout) Describe() string { return l.name }

// IsConcrete reports whether arrays can carry this layout.
func (l *Layout) IsConcrete() bool { return l.vtable != nil }

// Vtable returns the operation table of a concrete layout.
func (l *Layout) Vtable() LayoutFunctions { return l.vtable }

// Hooks returns the optional type-level hooks given at registration.
func (l *Layout) Hooks() any { return l.hooks }

// Parents returns the immediate supertypes.
func (l *Layout) Parents() []LayoutIndex { return l.parents }

// MaskAndCompare returns the header test accepting exactly the arrays whose
// layout is l or one of its descendants. Valid after FinalizeHierarchy.
func (l *Layout) MaskAndCompare() MaskAndCompare {
	l.mustBeFinal()
	return l.mask
}

func (l *Layout) mustBeFinal() {
	if !registry.sealed.Load() {
		panic(fmt.Sprintf("layout %s: hierarchy not finalized", l.name))
	}
}

// IsSubtype reports whether l is o or a descendant of o.
func (l *Layout) IsSubtype(o *Layout) bool {
	l.mustBeFinal()
	return l.ancestors[o.index]
}

// LayoutJoin returns the least common ancestor of a and b, or the top
// layout when no single least one exists.
func LayoutJoin(a, b *Layout) *Layout {
	a.mustBeFinal()
	var best *Layout
	for c := range a.ancestors {
		if !b.ancestors[c] {
			continue
		}
		cand := registry.layouts[c]
		if best == nil || cand.ancestors[best.index] {
			best = cand
		}
	}
	// best is now a minimal common ancestor; it must be below all others
	for c := range a.ancestors {
		if b.ancestors[c] && !best.ancestors[c] {
			return registry.layouts[TopLayoutIndex]
		}
	}
	return best
}

// LayoutMeet returns the greatest common descendant of a and b. ok is false
// when they share none or no single greatest one exists.
func LayoutMeet(a, b *Layout) (meet *Layout, ok bool) {
	a.mustBeFinal()
	var best *Layout
	for c := range a.descendants {
		if !b.descendants[c] {
			continue
		}
		cand := registry.layouts[c]
		if best == nil || best.ancestors[cand.index] {
			best = cand
		}
	}
	if best == nil {
		return nil, false
	}
	for c := range a.descendants {
		if b.descendants[c] && !registry.layouts[c].ancestors[best.index] {
			return nil, false
		}
	}
	return best, true
}

func (l *Layout) String() string {
	return fmt.Sprintf("%s(%d)", l.name, l.index)
}
