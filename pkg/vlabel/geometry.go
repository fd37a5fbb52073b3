package vlabel

import "fmt"

// LabelOffset computes the byte offset of a point within one of a leaf's
// four label slots. psize is the device's physical size and must be a
// whole multiple of L; within must be less than L. Slots 0 and 1 sit at
// the start of the device, slots 2 and 3 at the end, so a label survives
// both prefix corruption (partition-table rewrite) and suffix corruption
// (device shrink artifacts).
//
// A misaligned psize is a programmer error, not a runtime condition a
// caller can recover from: it panics, matching the teacher's
// vimg.Builder.Prebuild convention for misaligned image sizes.
func LabelOffset(psize int64, slot int, within int64) int64 {
	if psize%L != 0 {
		panic(fmt.Sprintf("vlabel: device size %d is not a multiple of label size %d", psize, L))
	}
	if slot < 0 || slot > 3 {
		panic(fmt.Sprintf("vlabel: slot index %d out of range", slot))
	}
	if within < 0 || within >= L {
		panic(fmt.Sprintf("vlabel: in-slot offset %d out of range", within))
	}

	off := within + int64(slot)*L
	if slot >= 2 {
		off += psize - 4*L
	}
	return off
}

// PhysOffset and PhysSize bound the packed property-tree region within a
// slot, exported for callers outside this package that need to read a raw
// label (cmd/vdevtool's dump-labels, in particular) without duplicating the
// layout constants.
func PhysOffset() int64 { return physOff }
func PhysSize() int64   { return physSize }

// BootOffset and BootSize bound the boot header region within a slot.
func BootOffset() int64 { return bootOff }
func BootSize() int64   { return bootSize }

// UberblockRingOffset, UberblockCellSize and UberblockCellCount describe the
// uberblock ring's layout within a slot.
func UberblockRingOffset() int64 { return ubOff }
func UberblockCellSize() int64   { return ubCell }
func UberblockCellCount() int    { return ubCount }
