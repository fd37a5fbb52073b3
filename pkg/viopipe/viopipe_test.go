package viopipe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDevice struct {
	buf        []byte
	flushCount int
	failWrites map[int64]bool
}

func newMemDevice(size int) *memDevice {
	return &memDevice{buf: make([]byte, size), failWrites: make(map[int64]bool)}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, d.buf[off:]), nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.failWrites[off] {
		return 0, errors.New("simulated write failure")
	}
	return copy(d.buf[off:], p), nil
}

func (d *memDevice) Flush() error {
	d.flushCount++
	return nil
}

func TestBatchWriteAndRead(t *testing.T) {
	dev := newMemDevice(4096)
	pipe := New()

	b := pipe.NewBatch(context.Background())
	b.WriteSlot(dev, 0, []byte("hello"), Flags{}, nil)
	b.WriteSlot(dev, 100, []byte("world"), Flags{}, nil)
	require.NoError(t, b.Wait())
	assert.EqualValues(t, 2, b.GoodWrites())

	got := make([]byte, 5)
	rb := pipe.NewBatch(context.Background())
	rb.ReadSlot(dev, 0, got, Flags{}, nil)
	require.NoError(t, rb.Wait())
	assert.Equal(t, "hello", string(got))
}

func TestBatchGoodWritesSkipsFailures(t *testing.T) {
	dev := newMemDevice(4096)
	dev.failWrites[64] = true
	pipe := New()

	b := pipe.NewBatch(context.Background())
	var failErr error
	b.WriteSlot(dev, 0, []byte("ok"), Flags{}, nil)
	b.WriteSlot(dev, 64, []byte("bad"), Flags{}, func(err error) { failErr = err })
	require.NoError(t, b.Wait())

	assert.EqualValues(t, 1, b.GoodWrites())
	assert.Error(t, failErr)
}

func TestFlushCacheIsBarrier(t *testing.T) {
	dev := newMemDevice(16)
	require.NoError(t, FlushCache(dev))
	assert.Equal(t, 1, dev.flushCount)
}

func TestChecksumDeterministic(t *testing.T) {
	pipe := New()
	a := pipe.Checksum([]byte("label"))
	b := pipe.Checksum([]byte("label"))
	assert.Equal(t, a, b)
}

func TestMultipleDevicesInOneBatch(t *testing.T) {
	a := newMemDevice(16)
	b := newMemDevice(16)
	pipe := New()

	batch := pipe.NewBatch(context.Background())
	batch.WriteSlot(a, 0, []byte("A"), Flags{}, nil)
	batch.WriteSlot(b, 0, []byte("B"), Flags{}, nil)
	require.NoError(t, batch.Wait())
	assert.EqualValues(t, 2, batch.GoodWrites())
	assert.Equal(t, byte('A'), a.buf[0])
	assert.Equal(t, byte('B'), b.buf[0])
}
