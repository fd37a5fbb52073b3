package vlabel

import (
	"context"

	"github.com/pooldev/vdevlabel/pkg/nvtree"
	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
	"github.com/pooldev/vdevlabel/pkg/vpool"
)

// ReadConfig tries all four of leaf's slots in order and returns the first
// one whose phys region decodes successfully. It requires the pool's
// configuration lock held (reader or writer suffices) and never fails the
// pool on a bad label: an undecodable or missing label simply yields
// (nil, false).
func ReadConfig(ctx context.Context, pipe *viopipe.Pipe, devs Devices, leaf *vdev.Vdev) (*nvtree.Tree, bool) {
	buf := make([]byte, physSize)

	for slot := 0; slot < 4; slot++ {
		batch := pipe.NewBatch(ctx)
		var readErr error
		if err := readSlot(pipe, batch, devs, leaf, slot, physOff, buf, func(e error) { readErr = e }); err != nil {
			continue
		}
		if err := batch.Wait(); err != nil || readErr != nil {
			continue
		}
		t, err := nvtree.Unpack(buf)
		if err != nil {
			continue
		}
		return t, true
	}
	return nil, false
}

// Inuse decides whether leaf is already claimed by this or another pool,
// per the truth table in the component design. createTxg is the caller's
// in-flight transaction-group stamp, used to detect the same physical leaf
// being added twice within one transaction.
func Inuse(ctx context.Context, pipe *viopipe.Pipe, devs Devices, pool *vpool.Pool, leaf *vdev.Vdev, createTxg uint64, reason Reason) (busy bool, foundSpareGUID uint64) {
	t, ok := ReadConfig(ctx, pipe, devs, leaf)
	if !ok {
		return false, 0
	}

	stateVal, ok := t.Uint64("pool_state")
	if !ok {
		return false, 0
	}
	state := PoolState(stateVal)

	deviceGUID, ok := t.Uint64("guid")
	if !ok {
		return false, 0
	}

	var poolGUID, poolTxg uint64
	if state != StateSpare {
		var ok1, ok2 bool
		poolGUID, ok1 = t.Uint64("pool_guid")
		poolTxg, ok2 = t.Uint64("pool_txg")
		if !ok1 || !ok2 {
			return false, 0
		}
	}

	if state != StateSpare {
		if !pool.Registry.GUIDExists(poolGUID) && !pool.Registry.SpareExists(deviceGUID) {
			// Stale label: refers to a pool this host has never heard of,
			// and the device isn't a registered spare either.
			return false, 0
		}
		if poolTxg == 0 {
			if onDiskTxg, ok := t.Uint64("create_txg"); ok && onDiskTxg == createTxg {
				return true, 0
			}
		}
	}

	if pool.Registry.SpareExists(deviceGUID) {
		foundSpareGUID = deviceGUID
		switch reason {
		case Create:
			return true, foundSpareGUID
		case Replace:
			// A spare already claimed by this pool is genuinely free to
			// use as a replacement; a spare belonging only to some other
			// pool's registry is not ours to take.
			return !pool.Registry.HasSpare(pool.GUID, deviceGUID), foundSpareGUID
		case Spare:
			return pool.Registry.HasSpare(pool.GUID, deviceGUID), foundSpareGUID
		case Remove:
			return false, foundSpareGUID
		}
	}

	return state == StateActive, foundSpareGUID
}
