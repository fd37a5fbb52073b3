package vlabel

import (
	"fmt"

	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
)

// Devices resolves a leaf vdev to the physical viopipe.Device backing it.
// The label subsystem never opens devices itself; callers (a real pool
// driver, or pkg/vdevtest in tests) own that lifecycle and hand in a
// resolver, the same separation pkg/vimg.Builder draws between a vdisk
// path and the io.WriteSeeker it's opened into.
type Devices interface {
	Device(leaf *vdev.Vdev) (viopipe.Device, error)
}

var defaultFlags = viopipe.Flags{
	ConfigLockHeld:      true,
	MayFailWithoutFault: true,
	SpeculativeForReads: true,
}

// readSlot issues a read of len(buf) bytes at the given in-slot offset of
// leaf's slot, through the shared pipe, completing asynchronously via done.
func readSlot(pipe *viopipe.Pipe, batch *viopipe.Batch, devs Devices, leaf *vdev.Vdev, slot int, within int64, buf []byte, done func(error)) error {
	dev, err := devs.Device(leaf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	off := LabelOffset(leaf.PhysicalSize, slot, within)
	batch.ReadSlot(dev, off, buf, defaultFlags, done)
	return nil
}

// writeSlot issues a write of buf at the given in-slot offset of leaf's
// slot, through the shared pipe, completing asynchronously via done.
func writeSlot(pipe *viopipe.Pipe, batch *viopipe.Batch, devs Devices, leaf *vdev.Vdev, slot int, within int64, buf []byte, done func(error)) error {
	dev, err := devs.Device(leaf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	off := LabelOffset(leaf.PhysicalSize, slot, within)
	batch.WriteSlot(dev, off, buf, defaultFlags, done)
	return nil
}

// flushLeaf issues a cache-flush barrier against leaf's device and blocks
// until it completes.
func flushLeaf(devs Devices, leaf *vdev.Vdev) error {
	dev, err := devs.Device(leaf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return viopipe.FlushCache(dev)
}
