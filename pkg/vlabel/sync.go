package vlabel

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pooldev/vdevlabel/pkg/elog"
	"github.com/pooldev/vdevlabel/pkg/nvtree"
	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
	"github.com/pooldev/vdevlabel/pkg/vpool"
)

// SyncContext bundles everything ConfigSync needs beyond the vdev tree
// itself: the shared I/O pipe, the device resolver, the pool context, the
// set of vdevs considered dirty this transaction group, and the candidate
// uberblock (plus the pool root and test/logging hooks). Grouping these
// as one struct (rather than five positional parameters) follows the
// teacher's BuilderArgs convention in pkg/vimg.
type SyncContext struct {
	Pipe    *viopipe.Pipe
	Devices Devices
	Pool    *vpool.Pool

	// Dirty is the set of vdevs whose configuration changed this txg and
	// must therefore be re-labeled. Keyed by GUID so callers can build it
	// from whatever tracking structure their pool driver already keeps.
	Dirty map[uint64]*vdev.Vdev

	// NewUberblock is the pool root this call commits, if ub_txg is
	// advancing. Root is the pool root vdev (ancestor of every top-level
	// vdev), used by Phase 3's subtree-then-root retry.
	NewUberblock vpool.Uberblock
	Root         *vdev.Vdev

	// FreezeTxg is a test-injected debugging hook: a config_sync call for
	// a txg beyond this returns success without writing anything.
	FreezeTxg uint64

	// retryFused records whether Phase 1's single retry has already run,
	// so repeated ConfigSync calls after a partial failure don't retry
	// forever.
	retryFused bool

	Log elog.View
}

// ConfigSync commits a new consistent pool root for txg, rooted at
// topVdev. The phase ordering below is the crash-consistency design: see
// the doc comments on each phase for why it cannot be reordered.
func ConfigSync(ctx context.Context, sc *SyncContext, topVdev *vdev.Vdev, txg uint64) error {
	log := view(sc.Log)

	sc.Pool.ConfigLock.Lock()
	defer sc.Pool.ConfigLock.Unlock()

	if sc.FreezeTxg != 0 && txg > sc.FreezeTxg {
		log.Debugf("config_sync: txg %d past freeze point %d, skipping", txg, sc.FreezeTxg)
		return nil
	}

	if sc.Pool.Current.Txg < txg && !sc.uberblockChanged(txg) && len(sc.Dirty) == 0 {
		log.Debugf("config_sync: nothing dirty for txg %d, skipping", txg)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 0: every vdev written to on the clean side of this txg must
	// reach stable media before any uberblock can reference it.
	log.Debugf("config_sync: txg %d phase 0 (clean-data barrier)", txg)
	if err := sc.flushDirty(); err != nil {
		return fmt.Errorf("%w: phase 0 barrier: %v", ErrIO, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 1: even labels. A crash here leaves the even slots ahead of
	// the live uberblock; on reopen the loader picks the older (still
	// current) uberblock, and the reader rejects the half-written even
	// labels as stale because their txg exceeds ub.txg. Odd labels and the
	// old uberblock remain a consistent pair throughout.
	log.Debugf("config_sync: txg %d phase 1 (even labels)", txg)
	if err := sc.syncLabelParity(ctx, []int{0, 2}, txg, log); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 2: barrier before the new uberblock becomes visible.
	log.Debugf("config_sync: txg %d phase 2 (pre-uberblock barrier)", txg)
	if err := sc.flushDirty(); err != nil {
		return fmt.Errorf("%w: phase 2 barrier: %v", ErrIO, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 3: the new uberblock. Either it lands nowhere (fall back to
	// old ub + odd labels) or it lands somewhere (it wins on reopen via
	// Compare, and the even labels written in Phase 1 are now consistent
	// with it).
	log.Debugf("config_sync: txg %d phase 3 (uberblock)", txg)
	if err := sc.writeUberblock(ctx, topVdev, txg, log); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 4: barrier on topVdev only, before odd labels reference the
	// now-committed uberblock.
	log.Debugf("config_sync: txg %d phase 4 (post-uberblock barrier)", txg)
	if err := sc.flushSubtree(topVdev); err != nil {
		return fmt.Errorf("%w: phase 4 barrier: %v", ErrIO, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 5: odd labels. New ub and even labels are already durable;
	// odd labels are allowed to lag behind until this phase lands.
	log.Debugf("config_sync: txg %d phase 5 (odd labels)", txg)
	if err := sc.syncLabelParity(ctx, []int{1, 3}, txg, log); err != nil {
		if topVdev.IsLog {
			log.Warnf("config_sync: txg %d odd-label failure on log-only top-level demoted to success", txg)
		} else {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	log.Debugf("config_sync: txg %d phase 6 (final barrier)", txg)
	if err := sc.flushDirty(); err != nil {
		return fmt.Errorf("%w: phase 6 barrier: %v", ErrIO, err)
	}

	return nil
}

// uberblockChanged reports whether the pool's uberblock actually needs
// updating for txg. The reference pool context has no independent
// "pending uberblock" helper, so this checks that the candidate
// NewUberblock is stamped with txg and that the pool's current uberblock
// is not already at txg.
func (sc *SyncContext) uberblockChanged(txg uint64) bool {
	return sc.NewUberblock.Txg == txg && sc.Pool.Current.Txg != txg
}

func (sc *SyncContext) flushDirty() error {
	for _, v := range sc.Dirty {
		if err := sc.flushSubtree(v); err != nil {
			return err
		}
	}
	return nil
}

func (sc *SyncContext) flushSubtree(v *vdev.Vdev) error {
	for _, leaf := range v.LiveLeaves() {
		if err := flushLeaf(sc.Devices, leaf); err != nil {
			return err
		}
	}
	return nil
}

// syncLabelParity runs sync_labels for every dirty vdev over the given
// slot parity, applying Phase 1's single-retry-on-total-failure rule
// (Phase 5 reuses it verbatim; the open question about "good_writes == 0
// OR-ed with an empty dirty list" is preserved below exactly as flagged).
func (sc *SyncContext) syncLabelParity(ctx context.Context, slots []int, txg uint64, log elog.View) error {
	goodWrites, lastErr := sc.syncLabelsOnce(ctx, slots, txg, log)

	// Open question (flagged, not resolved): the upstream behavior dirties
	// the whole root and retries when good_writes==0, but that condition
	// is reached both by "every write genuinely failed" and by "there was
	// nothing dirty to write" (an empty Dirty set also yields
	// goodWrites==0). We preserve the retry-on-zero behavior as specified
	// rather than distinguishing the two, since the dirty-vdev-list-empty
	// pre-condition above should already have returned early in the
	// ordinary case.
	if goodWrites == 0 && !sc.retryFused {
		sc.retryFused = true
		log.Warnf("config_sync: txg %d good_writes==0 on slots %v, retrying once against the whole tree", txg, slots)
		sc.Dirty = map[uint64]*vdev.Vdev{sc.Root.GUID: sc.Root}
		goodWrites, lastErr = sc.syncLabelsOnce(ctx, slots, txg, log)
	}

	if goodWrites == 0 {
		if lastErr == nil {
			lastErr = ErrIO
		}
		return fmt.Errorf("%w: no label writes succeeded on slots %v for txg %d: %v", ErrIO, slots, txg, lastErr)
	}
	return nil
}

func (sc *SyncContext) syncLabelsOnce(ctx context.Context, slots []int, txg uint64, log elog.View) (goodWrites int32, lastErr error) {
	batch := sc.Pipe.NewBatch(ctx)
	record := func(err error) {
		if err != nil {
			lastErr = err
		}
	}

	for _, v := range sc.Dirty {
		for _, leaf := range v.LiveLeaves() {
			tree, err := GenerateConfig(sc.Pool, leaf, false, false)
			if err != nil {
				log.Warnf("config_sync: leaf %d generate_config failed: %v", leaf.GUID, err)
				continue
			}
			_ = tree.SetUint64("pool_guid", sc.Pool.GUID)
			_ = tree.SetUint64("pool_txg", txg)
			_ = tree.SetString("pool_name", sc.Pool.Name)
			_ = tree.SetUint64("pool_state", uint64(StateActive))
			_ = tree.SetUint64("version", sc.Pool.Version)

			buf := make([]byte, physSize)
			if _, err := nvtree.Pack(tree, buf); err != nil {
				log.Warnf("config_sync: leaf %d pack failed: %v", leaf.GUID, err)
				continue
			}

			for _, slot := range slots {
				if err := writeSlot(sc.Pipe, batch, sc.Devices, leaf, slot, physOff, buf, record); err != nil {
					record(err)
				}
			}
		}
	}

	if err := batch.Wait(); err != nil {
		lastErr = err
	}
	return batch.GoodWrites(), lastErr
}

// writeUberblock implements Phase 3: write the new uberblock to cell
// (txg mod N) of every slot of every live leaf under topVdev, counting a
// write only when its top-level has a non-zero metaslab array (i.e. is
// actually visible to the pool's allocator).
func (sc *SyncContext) writeUberblock(ctx context.Context, topVdev *vdev.Vdev, txg uint64, log elog.View) error {
	cell := int64(txg % uint64(ubCount))
	within := ubOff + cell*ubCell

	buf := make([]byte, ubCell)
	ub := sc.NewUberblock
	ub.Txg = txg
	encodeUberblock(buf, ub)

	writeOnce := func(scope *vdev.Vdev) (int32, error) {
		batch := sc.Pipe.NewBatch(ctx)
		var lastErr error
		var good int32
		record := func(err error) {
			if err != nil {
				lastErr = err
			}
		}
		for _, leaf := range scope.LiveLeaves() {
			// Open question (flagged): this open-coded "ms_array != 0"
			// gate silently drops credit for writes to a top-level
			// whose metaslab array hasn't been allocated yet, tying
			// uberblock durability to allocator initialization. We
			// preserve it exactly as specified rather than smoothing
			// it over.
			counts := leaf.Top != nil && leaf.Top.MetaslabArray != 0
			done := func(err error) {
				record(err)
				if err == nil && counts {
					atomic.AddInt32(&good, 1)
				}
			}
			for slot := 0; slot < 4; slot++ {
				if err := writeSlot(sc.Pipe, batch, sc.Devices, leaf, slot, within, buf, done); err != nil {
					record(err)
				}
			}
		}
		if err := batch.Wait(); err != nil {
			lastErr = err
		}
		return atomic.LoadInt32(&good), lastErr
	}

	good, lastErr := writeOnce(topVdev)
	if good > 0 {
		return nil
	}

	if topVdev != sc.Root {
		log.Warnf("config_sync: txg %d uberblock write failed on subtree, retrying against root", txg)
		good, lastErr = writeOnce(sc.Root)
		if good > 0 {
			return nil
		}
	}

	if lastErr == nil {
		lastErr = ErrNoDevice
	}
	return fmt.Errorf("%w: no uberblock write succeeded for txg %d: %v", ErrIO, txg, lastErr)
}
