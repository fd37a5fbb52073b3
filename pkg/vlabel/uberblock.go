package vlabel

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/pooldev/vdevlabel/pkg/elog"
	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/viopipe"
	"github.com/pooldev/vdevlabel/pkg/vpool"
)

const rootBPSize = 128

// ubRecordSize is the on-disk size of an encoded uberblock, fixed regardless
// of ubCell's padding.
const ubRecordSize = 8 + 8 + 8 + 8 + rootBPSize + 4

func init() {
	if ubRecordSize > ubCell {
		panic("vlabel: uberblock record does not fit in one ring cell")
	}
}

// encodeUberblock packs ub into buf (which must be at least ubRecordSize
// bytes), stamping a CRC32 checksum over everything preceding it.
func encodeUberblock(buf []byte, ub vpool.Uberblock) {
	w := newLEWriter(buf)
	w.u64(ub.Magic)
	w.u64(ub.Version)
	w.u64(ub.Txg)
	w.u64(ub.Timestamp)
	rbp := ub.RootBP
	w.bytes(rbp[:])
	w.u32(crc32.ChecksumIEEE(buf[:ubRecordSize-4]))
}

// decodeUberblock unpacks buf into an Uberblock without validating it;
// callers run Verify separately.
func decodeUberblock(buf []byte) vpool.Uberblock {
	r := newLEReader(buf)
	var ub vpool.Uberblock
	ub.Magic = r.u64()
	ub.Version = r.u64()
	ub.Txg = r.u64()
	ub.Timestamp = r.u64()
	copy(ub.RootBP[:], r.bytes(rootBPSize))
	return ub
}

// UberblockRecordSize is the on-disk size of one encoded uberblock,
// exported so a raw reader (cmd/vdevtool's dump-uberblocks) knows how many
// bytes to read per ring cell without importing the unexported constant.
const UberblockRecordSize = ubRecordSize

// DecodeUberblock is the exported form of decodeUberblock, for callers that
// have already confirmed Verify on the same bytes.
func DecodeUberblock(buf []byte) vpool.Uberblock { return decodeUberblock(buf) }

// Verify checks an uberblock record's magic, version, and checksum. It is
// the reference implementation of the "external" verify primitive the
// component design calls out: a CRC32 digest over the fixed-size record,
// excluding the checksum field itself, mirroring the teacher's GPT-header
// CRC convention.
func Verify(buf []byte) bool {
	if len(buf) < ubRecordSize {
		return false
	}
	ub := decodeUberblock(buf)
	if ub.Magic != vpool.UberblockMagic {
		return false
	}
	if ub.Version == 0 {
		return false
	}
	want := crc32.ChecksumIEEE(buf[:ubRecordSize-4])
	got := newLEReader(buf[ubRecordSize-4:]).u32()
	return want == got
}

// Compare orders two uberblocks lexicographically on (txg, timestamp), the
// ordering load_best uses to elect the best candidate. A positive result
// means a is newer than b.
func Compare(a, b vpool.Uberblock) int {
	if a.Txg != b.Txg {
		if a.Txg > b.Txg {
			return 1
		}
		return -1
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp > b.Timestamp {
			return 1
		}
		return -1
	}
	return 0
}

// LoadBest scans every uberblock cell on every live leaf under root and
// returns the one whose (txg, timestamp) is lexicographically maximal among
// those that Verify. It returns ErrNoDevice if root has no live leaves.
func LoadBest(ctx context.Context, pipe *viopipe.Pipe, devs Devices, root *vdev.Vdev, log elog.View) (*vpool.Uberblock, error) {
	log = view(log)

	leaves := root.LiveLeaves()
	if len(leaves) == 0 {
		return nil, ErrNoDevice
	}

	var mu sync.Mutex
	var best *vpool.Uberblock

	batch := pipe.NewBatch(ctx)

	for _, leaf := range leaves {
		leaf := leaf
		for slot := 0; slot < 4; slot++ {
			slot := slot
			for cell := 0; cell < ubCount; cell++ {
				cell := cell
				within := ubOff + int64(cell)*ubCell
				buf := make([]byte, ubRecordSize)
				if err := readSlot(pipe, batch, devs, leaf, slot, within, buf, func(err error) {
					if err != nil {
						return
					}
					if !Verify(buf) {
						log.Debugf("load_best: leaf %d slot %d cell %d failed verify", leaf.GUID, slot, cell)
						return
					}
					candidate := decodeUberblock(buf)
					mu.Lock()
					defer mu.Unlock()
					if best == nil || Compare(candidate, *best) > 0 {
						best = &candidate
					} else {
						log.Debugf("load_best: leaf %d slot %d cell %d lost compare (txg=%d)", leaf.GUID, slot, cell, candidate.Txg)
					}
				}); err != nil {
					log.Warnf("load_best: leaf %d unreadable: %v", leaf.GUID, err)
				}
			}
		}
	}

	if err := batch.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if best == nil {
		return nil, ErrNoDevice
	}
	return best, nil
}
