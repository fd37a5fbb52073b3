package vlabel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pooldev/vdevlabel/pkg/nvtree"
	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/vdevtest"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
	"github.com/pooldev/vdevlabel/pkg/vpool"
)

func newTestPool(guid uint64) *vpool.Pool {
	p := vpool.New(guid, "tank", 1)
	p.Current.Magic = vpool.UberblockMagic
	return p
}

func findLeaf(v *vdev.Vdev, guid uint64) *vdev.Vdev {
	for _, l := range v.Leaves() {
		if l.GUID == guid {
			return l
		}
	}
	return nil
}

// S1: fresh pool create.
func TestScenarioS1FreshPoolCreate(t *testing.T) {
	root, devs := vdevtest.NewMirror(300, 100, 200, 4<<30, 9)
	mirror := root.Children[0]
	pool := newTestPool(1)
	pipe := viopipe.New()
	ctx := context.Background()

	require.NoError(t, Init(ctx, pipe, devs, pool, mirror, 1, Create, nil))

	var shapes [][]byte
	for _, guid := range []uint64{100, 200} {
		leaf := findLeaf(mirror, guid)
		require.NotNil(t, leaf)
		raw := devs.Get(guid).Bytes()

		for slot := 0; slot < 4; slot++ {
			off := LabelOffset(leaf.PhysicalSize, slot, physOff)
			tree, err := nvtree.Unpack(raw[off : off+physSize])
			require.NoError(t, err)

			txg, ok := tree.Uint64("create_txg")
			require.True(t, ok)
			assert.EqualValues(t, 1, txg)

			stateVal, ok := tree.Uint64("pool_state")
			require.True(t, ok)
			assert.Equal(t, StateActive, PoolState(stateVal))

			g, ok := tree.Uint64("guid")
			require.True(t, ok)
			assert.Equal(t, guid, g)

			reshaped := make([]byte, physSize)
			_, err = nvtree.Pack(tree, reshaped)
			require.NoError(t, err)
			shapes = append(shapes, reshaped)

			ubOffAbs := LabelOffset(leaf.PhysicalSize, slot, ubOff)
			ub := decodeUberblock(raw[ubOffAbs : ubOffAbs+ubRecordSize])
			assert.EqualValues(t, 0, ub.Txg)
		}
	}

	// Every slot on every leaf packed an identical tree shape, modulo the
	// per-leaf guid field: compare leaf A's four slots to each other.
	for i := 1; i < 4; i++ {
		assert.Equal(t, shapes[0], shapes[i])
	}
}

// S2: duplicate-in-transaction.
func TestScenarioS2DuplicateInTransaction(t *testing.T) {
	root, devs := vdevtest.NewMirror(300, 100, 200, 4<<30, 9)
	mirror := root.Children[0]
	pool := newTestPool(1)
	pipe := viopipe.New()
	ctx := context.Background()

	require.NoError(t, Init(ctx, pipe, devs, pool, mirror, 1, Create, nil))

	aAgain := vdev.NewLeaf(100, 4<<30, 9)
	mirror2 := &vdev.Vdev{GUID: 301, Kind: vdev.KindMirror, MetaslabArray: 1}
	_ = vdev.NewPoolTree(mirror2)
	vdev.Attach(mirror2, aAgain)

	err := Init(ctx, pipe, devs, pool, mirror2, 1, Create, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
}

// S3: stale label.
func TestScenarioS3StaleLabel(t *testing.T) {
	root, devs := vdevtest.NewMirror(300, 100, 200, 4<<30, 9)
	mirror := root.Children[0]
	leafA := findLeaf(mirror, 100)
	pool := newTestPool(1)
	pipe := viopipe.New()
	ctx := context.Background()

	tree := nvtree.New()
	require.NoError(t, tree.SetUint64("version", 1))
	require.NoError(t, tree.SetUint64("pool_state", uint64(StateActive)))
	require.NoError(t, tree.SetUint64("guid", 100))
	require.NoError(t, tree.SetUint64("pool_guid", 0xdeadbeef))
	require.NoError(t, tree.SetUint64("pool_txg", 7))

	buf := make([]byte, physSize)
	_, err := nvtree.Pack(tree, buf)
	require.NoError(t, err)

	batch := pipe.NewBatch(ctx)
	require.NoError(t, writeSlot(pipe, batch, devs, leafA, 0, physOff, buf, nil))
	require.NoError(t, batch.Wait())

	busy, foundSpare := Inuse(ctx, pipe, devs, pool, leafA, 1, Create)
	assert.False(t, busy)
	assert.Zero(t, foundSpare)
}

// S4: sync with one leaf dead.
func TestScenarioS4SyncWithOneLeafDead(t *testing.T) {
	root, devs := vdevtest.NewMirror(300, 100, 200, 4<<30, 9)
	mirror := root.Children[0]
	pool := newTestPool(1)
	pipe := viopipe.New()
	ctx := context.Background()

	require.NoError(t, Init(ctx, pipe, devs, pool, mirror, 1, Create, nil))

	leafB := findLeaf(mirror, 200)
	devs.Get(200).Kill()
	leafB.SetDead(true)

	sc := &SyncContext{
		Pipe:         pipe,
		Devices:      devs,
		Pool:         pool,
		Dirty:        map[uint64]*vdev.Vdev{mirror.GUID: mirror},
		NewUberblock: vpool.Uberblock{Magic: vpool.UberblockMagic, Version: pool.Version, Timestamp: 111},
		Root:         root,
	}

	require.NoError(t, ConfigSync(ctx, sc, mirror, 7))

	leafA := findLeaf(mirror, 100)
	raw := devs.Get(100).Bytes()
	for slot := 0; slot < 4; slot++ {
		off := LabelOffset(leafA.PhysicalSize, slot, physOff)
		tree, err := nvtree.Unpack(raw[off : off+physSize])
		require.NoError(t, err)
		txg, ok := tree.Uint64("pool_txg")
		require.True(t, ok)
		assert.EqualValues(t, 7, txg)
	}

	cell := int64(7 % ubCount)
	ubOffAbs := LabelOffset(leafA.PhysicalSize, 0, ubOff+cell*ubCell)
	ub := decodeUberblock(raw[ubOffAbs : ubOffAbs+ubRecordSize])
	assert.EqualValues(t, 7, ub.Txg)
}

// S5: crash mid-uberblock.
func TestScenarioS5CrashMidUberblock(t *testing.T) {
	root, devs := vdevtest.NewMirror(300, 100, 200, 4<<30, 9)
	mirror := root.Children[0]
	pool := newTestPool(1)
	pipe := viopipe.New()
	ctx := context.Background()

	require.NoError(t, Init(ctx, pipe, devs, pool, mirror, 1, Create, nil))

	// The first Flush call per device happens in Phase 0; the second
	// happens in Phase 2, right before the new uberblock would be
	// written. Failing it there simulates a crash after the even-label
	// phase completes but before any uberblock write commits.
	devs.Get(100).FailFlushAtCall(2)
	devs.Get(200).FailFlushAtCall(2)

	sc := &SyncContext{
		Pipe:         pipe,
		Devices:      devs,
		Pool:         pool,
		Dirty:        map[uint64]*vdev.Vdev{mirror.GUID: mirror},
		NewUberblock: vpool.Uberblock{Magic: vpool.UberblockMagic, Version: pool.Version, Timestamp: 222},
		Root:         root,
	}

	err := ConfigSync(ctx, sc, mirror, 7)
	require.Error(t, err)

	best, err := LoadBest(ctx, pipe, devs, root, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, best.Txg)

	leafA := findLeaf(mirror, 100)
	raw := devs.Get(100).Bytes()
	for _, slot := range []int{1, 3} {
		off := LabelOffset(leafA.PhysicalSize, slot, physOff)
		tree, err := nvtree.Unpack(raw[off : off+physSize])
		require.NoError(t, err)
		txg, ok := tree.Uint64("pool_txg")
		require.True(t, ok)
		assert.EqualValues(t, 0, txg)
	}
}

// S6: tie-break on timestamp.
func TestScenarioS6TieBreak(t *testing.T) {
	root, devs := vdevtest.NewMirror(300, 100, 200, 4<<30, 9)
	mirror := root.Children[0]
	leafA := findLeaf(mirror, 100)
	pipe := viopipe.New()
	ctx := context.Background()

	ub1 := vpool.Uberblock{Magic: vpool.UberblockMagic, Version: 1, Txg: 5, Timestamp: 1000}
	ub2 := vpool.Uberblock{Magic: vpool.UberblockMagic, Version: 1, Txg: 5, Timestamp: 2000}

	buf1 := make([]byte, ubCell)
	encodeUberblock(buf1, ub1)
	buf2 := make([]byte, ubCell)
	encodeUberblock(buf2, ub2)

	batch := pipe.NewBatch(ctx)
	require.NoError(t, writeSlot(pipe, batch, devs, leafA, 0, ubOff, buf1, nil))
	require.NoError(t, writeSlot(pipe, batch, devs, leafA, 1, ubOff, buf2, nil))
	require.NoError(t, batch.Wait())

	best, err := LoadBest(ctx, pipe, devs, root, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, best.Timestamp)
}
