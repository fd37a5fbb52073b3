// Package nvtree implements the self-describing, forward-compatible
// property-tree codec that the label subsystem treats as an external
// collaborator (the "config encoder" of spec §1). It is the reference
// implementation of that primitive: an ordered tree of named, typed values
// that packs into a fixed-size byte region and can be unpacked again while
// silently skipping keys it doesn't recognize.
//
// The wire format is hand-packed with encoding/binary the way the teacher
// packs its GPTHeader/ProtectiveMBR structs (see pkg/vimg/partitions.go):
// a small fixed header per entry followed by a type-specific payload, all
// little-endian.
package nvtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind identifies the wire type of a Value.
type Kind uint8

// Recognized value kinds.
const (
	KindUint64 Kind = iota + 1
	KindString
	KindTree
	KindTreeArray
)

// String names a Kind for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindUint64:
		return "uint64"
	case KindString:
		return "string"
	case KindTree:
		return "tree"
	case KindTreeArray:
		return "tree[]"
	default:
		return "unknown"
	}
}

// Errors returned while building or packing a tree, mapped by callers (the
// Label Initializer, per spec §4.5) onto "name too long" and "invalid
// argument" respectively.
var (
	// ErrNoSpace is returned when the packed tree would not fit in the
	// destination buffer.
	ErrNoSpace = errors.New("nvtree: packed tree exceeds destination capacity")
	// ErrInvalidTree is returned for any other structural problem: a
	// duplicate key, an oversized string, or runaway nesting.
	ErrInvalidTree = errors.New("nvtree: invalid tree")
)

const maxDepth = 16

// Value is one entry in a Tree: a name paired with a typed payload.
type Value struct {
	Name string
	Kind Kind

	U64    uint64
	Str    string
	Sub    *Tree
	SubArr []*Tree
}

// Tree is an ordered list of named values, preserving insertion order the
// way the on-disk format requires (readers must be able to walk children in
// write order).
type Tree struct {
	values []Value
	seen   map[string]bool
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{seen: make(map[string]bool)}
}

func (t *Tree) add(v Value) error {
	if t.seen == nil {
		t.seen = make(map[string]bool)
	}
	if t.seen[v.Name] {
		return fmt.Errorf("%w: duplicate key %q", ErrInvalidTree, v.Name)
	}
	t.seen[v.Name] = true
	t.values = append(t.values, v)
	return nil
}

// SetUint64 appends a u64-valued entry.
func (t *Tree) SetUint64(name string, x uint64) error {
	return t.add(Value{Name: name, Kind: KindUint64, U64: x})
}

// SetString appends a string-valued entry.
func (t *Tree) SetString(name, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("%w: string %q exceeds maximum length", ErrInvalidTree, name)
	}
	return t.add(Value{Name: name, Kind: KindString, Str: s})
}

// SetTree appends a nested-tree entry.
func (t *Tree) SetTree(name string, sub *Tree) error {
	return t.add(Value{Name: name, Kind: KindTree, Sub: sub})
}

// SetTreeArray appends an array-of-tree entry.
func (t *Tree) SetTreeArray(name string, subs []*Tree) error {
	return t.add(Value{Name: name, Kind: KindTreeArray, SubArr: subs})
}

// Values returns every entry in the tree, in insertion order, for callers
// that need to enumerate a tree's contents rather than look up known keys
// (cmd/vdevtool's dump-labels, in particular).
func (t *Tree) Values() []Value {
	out := make([]Value, len(t.values))
	copy(out, t.values)
	return out
}

// Lookup returns the raw Value for name, if present.
func (t *Tree) Lookup(name string) (Value, bool) {
	for _, v := range t.values {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// Uint64 returns the u64 value for name, or (0, false) if absent or of the
// wrong kind.
func (t *Tree) Uint64(name string) (uint64, bool) {
	v, ok := t.Lookup(name)
	if !ok || v.Kind != KindUint64 {
		return 0, false
	}
	return v.U64, true
}

// String returns the string value for name, or ("", false) if absent or of
// the wrong kind.
func (t *Tree) String(name string) (string, bool) {
	v, ok := t.Lookup(name)
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// SubTree returns the nested tree for name, or (nil, false) if absent or of
// the wrong kind.
func (t *Tree) SubTree(name string) (*Tree, bool) {
	v, ok := t.Lookup(name)
	if !ok || v.Kind != KindTree {
		return nil, false
	}
	return v.Sub, true
}

// SubTreeArray returns the array-of-tree for name, or (nil, false) if absent
// or of the wrong kind.
func (t *Tree) SubTreeArray(name string) ([]*Tree, bool) {
	v, ok := t.Lookup(name)
	if !ok || v.Kind != KindTreeArray {
		return nil, false
	}
	return v.SubArr, true
}

// Pack encodes t into buf, returning the number of bytes written. It is the
// sole fallible step in the label pipeline (spec §4.5): running out of room
// returns ErrNoSpace, and any other structural problem returns
// ErrInvalidTree.
func Pack(t *Tree, buf []byte) (int, error) {

	w := new(bytes.Buffer)
	if err := packTree(w, t, 0); err != nil {
		return 0, err
	}

	if w.Len() > len(buf) {
		return 0, ErrNoSpace
	}

	n := copy(buf, w.Bytes())
	return n, nil
}

func packTree(w *bytes.Buffer, t *Tree, depth int) error {

	if depth > maxDepth {
		return fmt.Errorf("%w: nesting exceeds depth %d", ErrInvalidTree, maxDepth)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.values))); err != nil {
		return err
	}

	for _, v := range t.values {
		if err := packValue(w, v, depth); err != nil {
			return err
		}
	}

	return nil
}

func packValue(w *bytes.Buffer, v Value, depth int) error {

	name := []byte(v.Name)
	if len(name) > 0xFF {
		return fmt.Errorf("%w: key %q exceeds maximum length", ErrInvalidTree, v.Name)
	}

	if err := w.WriteByte(byte(len(name))); err != nil {
		return err
	}
	if _, err := w.Write(name); err != nil {
		return err
	}
	if err := w.WriteByte(byte(v.Kind)); err != nil {
		return err
	}

	switch v.Kind {
	case KindUint64:
		return binary.Write(w, binary.LittleEndian, v.U64)

	case KindString:
		s := []byte(v.Str)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		_, err := w.Write(s)
		return err

	case KindTree:
		return packTree(w, v.Sub, depth+1)

	case KindTreeArray:
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v.SubArr))); err != nil {
			return err
		}
		for _, sub := range v.SubArr {
			if err := packTree(w, sub, depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown value kind %d for key %q", ErrInvalidTree, v.Kind, v.Name)
	}
}

// Unpack decodes a Tree previously produced by Pack. Unknown keys cannot
// occur from this package's own Pack/Unpack round trip, but the format is
// defined so that a future writer's additional keys are skipped cleanly:
// every value is length-prefixed or self-delimiting, so an unrecognized
// Kind byte is the only way to desynchronize the stream, and callers that
// only care about specific keys can use Lookup without caring what else is
// present.
func Unpack(buf []byte) (*Tree, error) {
	r := bytes.NewReader(buf)
	t, err := unpackTree(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	return t, nil
}

func unpackTree(r *bytes.Reader, depth int) (*Tree, error) {

	if depth > maxDepth {
		return nil, fmt.Errorf("nesting exceeds depth %d", maxDepth)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	t := New()
	for i := uint32(0); i < n; i++ {
		v, err := unpackValue(r, depth)
		if err != nil {
			return nil, err
		}
		// A tree built by Pack never contains duplicates, but tolerate
		// (rather than fail) a duplicate on read so that an unexpected
		// future writer's quirks don't turn into a hard decode failure.
		if !t.seen[v.Name] {
			_ = t.add(v)
		}
	}

	return t, nil
}

func unpackValue(r *bytes.Reader, depth int) (Value, error) {

	nameLen, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	name := make([]byte, nameLen)
	if _, err := r.Read(name); err != nil {
		return Value{}, err
	}

	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}

	v := Value{Name: string(name), Kind: Kind(kindByte)}

	switch v.Kind {
	case KindUint64:
		if err := binary.Read(r, binary.LittleEndian, &v.U64); err != nil {
			return Value{}, err
		}

	case KindString:
		var slen uint32
		if err := binary.Read(r, binary.LittleEndian, &slen); err != nil {
			return Value{}, err
		}
		s := make([]byte, slen)
		if _, err := r.Read(s); err != nil {
			return Value{}, err
		}
		v.Str = string(s)

	case KindTree:
		sub, err := unpackTree(r, depth+1)
		if err != nil {
			return Value{}, err
		}
		v.Sub = sub

	case KindTreeArray:
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return Value{}, err
		}
		for i := uint32(0); i < count; i++ {
			sub, err := unpackTree(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			v.SubArr = append(v.SubArr, sub)
		}

	default:
		// An unrecognized kind cannot be skipped blindly since we don't
		// know its payload length; this is a decode failure, not a
		// forward-compatibility case. Forward compatibility here means
		// "a reader that doesn't look up a key it doesn't understand is
		// unaffected", not "a reader can decode a kind byte it has never
		// seen": that would require a self-delimiting envelope around every
		// value, which the format deliberately doesn't pay for since the
		// kind set is effectively closed per pool version.
		return Value{}, fmt.Errorf("unknown value kind %d for key %q", kindByte, v.Name)
	}

	return v, nil
}
