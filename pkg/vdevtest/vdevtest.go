// Package vdevtest provides an in-memory simulated leaf device and vdev-tree
// fixture builders for testing pkg/vlabel, in the idiom of the
// teacher's in-memory io.WriteSeeker test helpers (pkg/vio).
package vdevtest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/vio"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
)

// RandomGUID derives a pool/vdev GUID from a freshly generated UUID, for
// fixture builders that don't care about a specific GUID value. Folding the
// 16 UUID bytes down to 8 mirrors how a real pool driver would turn a
// generated identifier into the label subsystem's native uint64 GUID space.
func RandomGUID() uint64 {
	id := uuid.New()
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return hi ^ lo
}

// ErrDead is returned by every operation on a Device once it has been
// marked dead via Kill.
var ErrDead = errors.New("vdevtest: device is dead")

// Device is an in-memory viopipe.Device backed by a byte slice, standing in
// for a physical leaf in tests. It can simulate a dead device, and
// individual offset-targeted write failures, so tests can drive the crash
// scenarios the orchestrator is designed around.
type Device struct {
	mu sync.Mutex

	buf []byte

	dead       bool
	flushCount int
	failWrites map[int64]bool
	failReads  map[int64]bool

	failFlushAtCall int
	flushAttempt    int
}

// NewDevice returns a Device backed by size bytes of zeroed storage, built
// by streaming the teacher's Zeroes reader through a WriteSeeker-wrapped
// buffer rather than relying on a slice's implicit zero value, the way a
// real leaf's initial zero-fill would be staged through an io.Writer.
func NewDevice(size int64) *Device {
	var store bytes.Buffer
	ws, err := vio.WriteSeeker(&store)
	if err != nil {
		panic(err)
	}
	if _, err := io.CopyN(ws, vio.Zeroes, size); err != nil {
		panic(err)
	}

	return &Device{
		buf:        store.Bytes(),
		failWrites: make(map[int64]bool),
		failReads:  make(map[int64]bool),
	}
}

// Kill marks the device permanently dead: every subsequent operation fails.
func (d *Device) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
}

// FailWriteAt makes the next write at off fail, simulating a single bad
// sector rather than a dead device.
func (d *Device) FailWriteAt(off int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites[off] = true
}

// FailReadAt makes the next read at off fail.
func (d *Device) FailReadAt(off int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads[off] = true
}

// FailFlushAtCall makes the nth Flush call (1-indexed) on this device fail,
// for simulating a crash at a specific barrier in the orchestrator's phase
// sequence rather than a dead device.
func (d *Device) FailFlushAtCall(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFlushAtCall = n
}

// FlushCount reports how many times Flush has been called, so tests can
// assert a barrier actually happened.
func (d *Device) FlushCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushCount
}

// Bytes returns a copy of the device's current contents, for decoding
// labels directly in assertions.
func (d *Device) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	return out
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return 0, ErrDead
	}
	if d.failReads[off] {
		delete(d.failReads, off)
		return 0, errors.New("vdevtest: simulated read failure")
	}
	if off < 0 || off >= int64(len(d.buf)) {
		return 0, errors.New("vdevtest: read offset out of range")
	}
	return copy(p, d.buf[off:]), nil
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return 0, ErrDead
	}
	if d.failWrites[off] {
		delete(d.failWrites, off)
		return 0, errors.New("vdevtest: simulated write failure")
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.buf)) {
		return 0, errors.New("vdevtest: write out of range")
	}
	return copy(d.buf[off:], p), nil
}

func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return ErrDead
	}
	d.flushAttempt++
	if d.failFlushAtCall != 0 && d.flushAttempt == d.failFlushAtCall {
		return errors.New("vdevtest: simulated flush failure")
	}
	d.flushCount++
	return nil
}

var _ viopipe.Device = (*Device)(nil)

// DeviceSet resolves leaf vdevs to their simulated Device by GUID, the
// reference implementation of vlabel.Devices for tests.
type DeviceSet struct {
	byGUID map[uint64]*Device
}

// NewDeviceSet returns an empty DeviceSet.
func NewDeviceSet() *DeviceSet {
	return &DeviceSet{byGUID: make(map[uint64]*Device)}
}

// Add registers dev as the backing store for the leaf with the given GUID.
func (s *DeviceSet) Add(guid uint64, dev *Device) {
	s.byGUID[guid] = dev
}

// Get returns the Device registered for guid, for direct manipulation in
// tests (Kill, FailWriteAt, Bytes, ...).
func (s *DeviceSet) Get(guid uint64) *Device {
	return s.byGUID[guid]
}

func (s *DeviceSet) Device(leaf *vdev.Vdev) (viopipe.Device, error) {
	dev, ok := s.byGUID[leaf.GUID]
	if !ok {
		return nil, errors.New("vdevtest: no simulated device registered for leaf")
	}
	return dev, nil
}

// NewMirror builds a two-leaf mirror fixture: a root, one top-level mirror
// vdev, and two leaf devices of the given size, each registered in the
// returned DeviceSet.
func NewMirror(mirrorGUID, guidA, guidB uint64, size int64, ashift uint8) (*vdev.Vdev, *DeviceSet) {
	a := vdev.NewLeaf(guidA, size, ashift)
	b := vdev.NewLeaf(guidB, size, ashift)

	mirror := &vdev.Vdev{GUID: mirrorGUID, Kind: vdev.KindMirror, MetaslabArray: 1}
	root := vdev.NewPoolTree(mirror)
	vdev.Attach(mirror, a)
	vdev.Attach(mirror, b)

	devs := NewDeviceSet()
	devs.Add(guidA, NewDevice(size))
	devs.Add(guidB, NewDevice(size))

	return root, devs
}

// NewRandomMirror is NewMirror with every GUID freshly generated, for tests
// that only care about topology shape, not specific GUID values.
func NewRandomMirror(size int64, ashift uint8) (*vdev.Vdev, *DeviceSet) {
	return NewMirror(RandomGUID(), RandomGUID(), RandomGUID(), size, ashift)
}
