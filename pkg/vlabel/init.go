package vlabel

import (
	"context"
	"errors"
	"fmt"

	"github.com/pooldev/vdevlabel/pkg/elog"
	"github.com/pooldev/vdevlabel/pkg/nvtree"
	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
	"github.com/pooldev/vdevlabel/pkg/vpool"
)

// Init stamps fresh labels, a boot header, and a zero-txg uberblock
// template onto every leaf in v's subtree. It recurses post-order;
// internal nodes only recurse, leaves do the actual stamping. A dead leaf
// fails the whole call with ErrIO rather than being skipped.
func Init(ctx context.Context, pipe *viopipe.Pipe, devs Devices, pool *vpool.Pool, v *vdev.Vdev, createTxg uint64, reason Reason, log elog.View) error {
	log = view(log)
	return initRecurse(ctx, pipe, devs, pool, v, createTxg, reason, log)
}

func initRecurse(ctx context.Context, pipe *viopipe.Pipe, devs Devices, pool *vpool.Pool, v *vdev.Vdev, createTxg uint64, reason Reason, log elog.View) error {
	for _, c := range v.Children {
		if err := initRecurse(ctx, pipe, devs, pool, c, createTxg, reason, log); err != nil {
			return err
		}
	}
	if !v.Kind.IsLeaf() {
		return nil
	}
	return initLeaf(ctx, pipe, devs, pool, v, createTxg, reason, log)
}

func initLeaf(ctx context.Context, pipe *viopipe.Pipe, devs Devices, pool *vpool.Pool, leaf *vdev.Vdev, createTxg uint64, reason Reason, log elog.View) error {
	if leaf.Dead() {
		return fmt.Errorf("%w: leaf %d is dead", ErrIO, leaf.GUID)
	}

	if reason != Remove {
		busy, foundSpareGUID := Inuse(ctx, pipe, devs, pool, leaf, createTxg, reason)
		if busy {
			return fmt.Errorf("%w: leaf %d", ErrBusy, leaf.GUID)
		}
		if foundSpareGUID != 0 {
			adoptSpareGUID(leaf, foundSpareGUID)
		}
	}

	if reason == Spare {
		log.Debugf("leaf %d already stamped as shared spare", leaf.GUID)
		return nil
	}

	wasSpare := leaf.IsSpare

	var tree *nvtree.Tree
	var err error
	if reason == Remove && leaf.IsSpare {
		tree = spareMarkerTree(pool, leaf)
	} else {
		tree, err = GenerateConfig(pool, leaf, false, false)
		if err != nil {
			return err
		}
		_ = tree.SetUint64("create_txg", createTxg)
		_ = tree.SetUint64("pool_guid", pool.GUID)
		_ = tree.SetUint64("pool_txg", pool.Current.Txg)
		_ = tree.SetString("pool_name", pool.Name)
		_ = tree.SetUint64("pool_state", uint64(StateActive))
		_ = tree.SetUint64("version", pool.Version)
	}

	physBuf := make([]byte, physSize)
	if _, err := nvtree.Pack(tree, physBuf); err != nil {
		if errors.Is(err, nvtree.ErrNoSpace) {
			return fmt.Errorf("%w: packed label for leaf %d", ErrNameTooLong, leaf.GUID)
		}
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	bootBuf := make([]byte, bootSize)
	packBootHeader(bootBuf)

	ubBuf := make([]byte, ubCell)
	packZeroTxgUberblock(ubBuf, pool)

	log.Debugf("init: stamping leaf %d (reason=%s, create_txg=%d)", leaf.GUID, reason, createTxg)

	batch := pipe.NewBatch(ctx)
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for slot := 0; slot < 4; slot++ {
		if err := writeSlot(pipe, batch, devs, leaf, slot, physOff, physBuf, record); err != nil {
			return err
		}
		if err := writeSlot(pipe, batch, devs, leaf, slot, bootOff, bootBuf, record); err != nil {
			return err
		}
		for cell := 0; cell < ubCount; cell++ {
			within := ubOff + int64(cell)*ubCell
			if err := writeSlot(pipe, batch, devs, leaf, slot, within, ubBuf, record); err != nil {
				return err
			}
		}
	}

	if err := batch.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if firstErr != nil {
		log.Warnf("init: leaf %d had at least one failed slot write: %v", leaf.GUID, firstErr)
	}

	if !wasSpare && (reason == Spare || pool.Registry.SpareExists(leaf.GUID)) {
		pool.Registry.SpareAdd(pool.GUID, leaf.GUID)
		leaf.IsSpare = true
	}

	return nil
}

// adoptSpareGUID renames leaf to newGUID and adjusts every ancestor's
// guid_sum invariant accordingly. guid_sum is computed on demand
// (vdev.Vdev.GUIDSum), so adoption is simply the GUID rename itself: the
// next GUIDSum call at any ancestor reflects it automatically.
func adoptSpareGUID(leaf *vdev.Vdev, newGUID uint64) {
	leaf.GUID = newGUID
}

// spareMarkerTree builds the minimal property tree a shared-spare label
// carries: version, state=SPARE, and GUID only.
func spareMarkerTree(pool *vpool.Pool, leaf *vdev.Vdev) *nvtree.Tree {
	t := nvtree.New()
	_ = t.SetUint64("version", pool.Version)
	_ = t.SetUint64("pool_state", uint64(StateSpare))
	_ = t.SetUint64("guid", leaf.GUID)
	return t
}

func packBootHeader(buf []byte) {
	w := newLEWriter(buf)
	w.u64(bootMagic)
	w.u64(bootVersion)
	w.u64(bootOff)
	w.u64(bootSize)
}

// packZeroTxgUberblock builds the zero-txg uberblock template Init stamps
// into every fresh label: a copy of the pool's current uberblock with txg
// forced to 0. This template is the only pool root on disk between create
// and the first real ConfigSync, so it must itself Verify -- a pool whose
// Current uberblock hasn't been populated yet (Magic/Version still their
// zero values) would otherwise stamp an unverifiable template and leave a
// freshly created pool unopenable after a crash (spec §4.5, §8 P3/S5).
func packZeroTxgUberblock(buf []byte, pool *vpool.Pool) {
	ub := pool.Current
	ub.Txg = 0
	if ub.Magic == 0 {
		ub.Magic = vpool.UberblockMagic
	}
	if ub.Version == 0 {
		ub.Version = pool.Version
	}
	if ub.Version == 0 {
		ub.Version = labelVersion
	}
	encodeUberblock(buf, ub)
}
