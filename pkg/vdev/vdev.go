// Package vdev implements the virtual-device tree data model: the rooted
// tree of physical leaves and virtual aggregates that a pool is built from.
//
// The label and uberblock subsystem (pkg/vlabel) only ever reads this tree
// and writes derived bytes to disk; it never mutates topology. Ownership of
// the tree belongs to the pool driver above this module.
package vdev

import "fmt"

// Kind identifies the role a Vdev plays in the tree.
type Kind int

// Recognized vdev kinds.
const (
	KindRoot Kind = iota
	KindMirror
	KindRAIDZ
	KindStripe
	KindLog
	KindDisk
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindMirror:
		return "mirror"
	case KindRAIDZ:
		return "raidz"
	case KindStripe:
		return "stripe"
	case KindLog:
		return "log"
	case KindDisk:
		return "disk"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsLeaf reports whether nodes of this kind are physical leaves.
func (k Kind) IsLeaf() bool {
	return k == KindDisk
}

// StatusFlags carries the leaf status bits the config generator mirrors
// into the on-disk property tree (spec §4.3).
type StatusFlags struct {
	Offline          bool
	OfflineTemporary bool
	Faulted          bool
	Degraded         bool
	Removed          bool
	Unspare          bool
}

// Vdev is one node of the pool's virtual-device tree.
type Vdev struct {
	GUID     uint64
	Kind     Kind
	Children []*Vdev
	Parent   *Vdev // back-reference only; never owning.
	Top      *Vdev // pointer to the top-level node of this subtree.

	// Leaf-only fields.
	PhysicalSize int64 // psize, in bytes.
	AShift       uint8 // logical/alignment shift.
	Path         string
	Devid        string
	PhysPath     string
	WholeDisk    bool
	NotPresent   bool
	IsSpare      bool
	CreateTxg    uint64
	Status       StatusFlags

	// Top-level-only fields.
	MetaslabArray uint64
	MetaslabShift uint8
	Asize         int64
	IsLog         bool
	DTLObject     uint64

	// ParityCount is only meaningful for KindRAIDZ.
	ParityCount int

	live bool // whether the underlying device is currently reachable.
	dead bool // whether the device has failed outright.
}

// NewLeaf returns a detached leaf vdev. Callers attach it to a tree by
// appending it to a parent's Children and setting Parent/Top themselves
// (mirrors the teacher's convention of leaving tree surgery to the caller,
// e.g. pkg/vimg.Builder never owns the tree it is handed).
func NewLeaf(guid uint64, psize int64, ashift uint8) *Vdev {
	return &Vdev{
		GUID:         guid,
		Kind:         KindDisk,
		PhysicalSize: psize,
		AShift:       ashift,
		live:         true,
	}
}

// SetLive marks the leaf as reachable or not. Dead leaves are rejected by
// Init (§4.5) and skipped by the loader and orchestrator.
func (v *Vdev) SetLive(live bool) { v.live = live }

// SetDead marks the leaf as permanently failed (distinct from merely
// offline): Init must refuse to write to a dead leaf.
func (v *Vdev) SetDead(dead bool) { v.dead = dead }

// Live reports whether the device backing this leaf currently answers I/O.
func (v *Vdev) Live() bool { return v.live && !v.dead }

// Dead reports whether the device has failed outright.
func (v *Vdev) Dead() bool { return v.dead }

// IsTop reports whether v is a direct child of the pool root.
func (v *Vdev) IsTop() bool { return v.Top == v && v.Parent != nil }

// Leaves returns every leaf in v's subtree, in a stable depth-first order.
func (v *Vdev) Leaves() []*Vdev {
	if v.Kind.IsLeaf() {
		return []*Vdev{v}
	}
	var out []*Vdev
	for _, c := range v.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// LiveLeaves returns every live leaf in v's subtree.
func (v *Vdev) LiveLeaves() []*Vdev {
	var out []*Vdev
	for _, l := range v.Leaves() {
		if l.Live() {
			out = append(out, l)
		}
	}
	return out
}

// GUIDSum recomputes the recursive guid_sum invariant (I3): the arithmetic
// sum of every descendant leaf's GUID. It is computed on demand rather than
// cached, so a leaf GUID rename (Init's spare-GUID adoption) is reflected at
// every ancestor without any further bookkeeping.
func (v *Vdev) GUIDSum() uint64 {
	if v.Kind.IsLeaf() {
		return v.GUID
	}
	var sum uint64
	for _, c := range v.Children {
		sum += c.GUIDSum()
	}
	return sum
}

// NewPoolTree builds a root node and wires Top pointers for every top-level
// child supplied. Pool drivers above this module are expected to build
// trees this way (or equivalently) before handing them to pkg/vlabel.
func NewPoolTree(tops ...*Vdev) *Vdev {
	root := &Vdev{Kind: KindRoot}
	root.Top = root
	for _, t := range tops {
		t.Parent = root
		wireTop(t, t)
		root.Children = append(root.Children, t)
	}
	return root
}

func wireTop(node, top *Vdev) {
	node.Top = top
	for _, c := range node.Children {
		c.Parent = node
		wireTop(c, top)
	}
}

// Attach appends child to parent's children and wires its Parent/Top
// pointers from parent. It's the vdev-tree-surgery helper the label
// subsystem itself never calls (per the spec: "the label subsystem never
// mutates tree structure") but which test fixtures and pool drivers use to
// build trees.
func Attach(parent, child *Vdev) {
	child.Parent = parent
	wireTop(child, parent.Top)
	parent.Children = append(parent.Children, child)
}
