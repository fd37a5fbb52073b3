// Package vlabel implements the vdev label and uberblock management
// subsystem: the crash-consistency boundary of a pooled storage system. It
// persists pool-membership metadata on every physical device and a rolling
// sequence of pool roots so that, after an arbitrary power loss, the pool
// can be reopened at its most recent consistent state.
package vlabel

// L is the fixed size of one label slot, in bytes. Every leaf carries
// exactly four slots of this size: two at the start of the device, two at
// the end (see LabelOffset).
const L = 256 * 1024 // 256 KiB

const (
	// bootOff/bootSize bound the boot header region within a slot.
	bootOff  = 8 * 1024
	bootSize = 8 * 1024

	// physOff/physSize bound the packed property-tree region within a slot.
	physOff  = bootOff + bootSize
	physSize = 112 * 1024

	// ubOff bounds the start of the uberblock ring within a slot; the ring
	// runs to the end of the slot.
	ubOff = physOff + physSize

	// ubCell is the fixed size of one uberblock cell. ubCount (N in the
	// component design) is the number of cells per slot and must be a
	// power of two.
	ubCell  = 1024
	ubCount = (L - ubOff) / ubCell
)

// Fixed magic numbers stamped into on-disk structures, pinned to this
// module's on-disk format version the way the teacher pins GPTSignature
// and vmdk's magic constants.
const (
	bootMagic    uint64 = 0x0000414d454c4c42 // "BLLEMA\x00\x00"
	bootVersion  uint64 = 1
	labelVersion uint64 = 1
)

func init() {
	if ubCount == 0 || ubCount&(ubCount-1) != 0 {
		panic("vlabel: uberblock ring cell count is not a power of two")
	}
}
