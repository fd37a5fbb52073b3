package vlabel

import (
	"fmt"

	"github.com/pooldev/vdevlabel/pkg/nvtree"
	"github.com/pooldev/vdevlabel/pkg/vdev"
	"github.com/pooldev/vdevlabel/pkg/vpool"
)

// raidzParitySupportVersion is the minimum pool version that understands
// double/triple-parity RAIDZ ("RAID-6-style parity" in the component
// design); pool versions before it only ever supported single parity, so
// GenerateConfig consults the live pool version through
// vpool.GenerateConfigContext rather than a single hardcoded ceiling.
const raidzParitySupportVersion = 2

// GenerateConfig builds the property tree describing v, as it would be
// stamped into a label. It is pure with respect to on-disk state: calling
// it twice on the same tree in the same instant yields identical trees.
func GenerateConfig(pool vpool.GenerateConfigContext, v *vdev.Vdev, includeStats, asSpare bool) (*nvtree.Tree, error) {
	t := nvtree.New()

	_ = t.SetString("type", v.Kind.String())
	if !asSpare {
		_ = t.SetUint64("id", uint64(childIndex(v)))
	}
	_ = t.SetUint64("guid", v.GUID)

	if v.Kind == vdev.KindRAIDZ && v.ParityCount > 1 && pool.PoolVersion() < raidzParitySupportVersion {
		return nil, fmt.Errorf("%w: parity count %d exceeds what pool version %d supports", ErrInvalidArgument, v.ParityCount, pool.PoolVersion())
	}
	if v.Kind == vdev.KindRAIDZ {
		_ = t.SetUint64("nparity", uint64(v.ParityCount))
	}

	if v.Kind.IsLeaf() {
		if v.Path != "" {
			_ = t.SetString("path", v.Path)
		}
		if v.Devid != "" {
			_ = t.SetString("devid", v.Devid)
		}
		if v.PhysPath != "" {
			_ = t.SetString("phys_path", v.PhysPath)
		}
		if v.WholeDisk {
			_ = t.SetUint64("whole_disk", 1)
		}
		if v.NotPresent {
			_ = t.SetUint64("not_present", 1)
		}
		if v.IsSpare {
			_ = t.SetUint64("is_spare", 1)
		}

		if v.Status.Offline && !v.Status.OfflineTemporary {
			_ = t.SetUint64("offline", 1)
		}
		if v.Status.Faulted {
			_ = t.SetUint64("faulted", 1)
		}
		if v.Status.Degraded {
			_ = t.SetUint64("degraded", 1)
		}
		if v.Status.Removed {
			_ = t.SetUint64("removed", 1)
		}
		if v.Status.Unspare {
			_ = t.SetUint64("unspare", 1)
		}
	}

	if v.IsTop() && !asSpare {
		_ = t.SetUint64("metaslab_array", v.MetaslabArray)
		_ = t.SetUint64("metaslab_shift", uint64(v.MetaslabShift))
		_ = t.SetUint64("ashift", uint64(v.AShift))
		_ = t.SetUint64("asize", uint64(v.Asize))
		if v.IsLog {
			_ = t.SetUint64("is_log", 1)
		}
		if v.DTLObject != 0 {
			_ = t.SetUint64("dtl", v.DTLObject)
		}
	}

	if includeStats {
		stats := nvtree.New()
		_ = stats.SetUint64("state", statVdevState(v))
		_ = stats.SetUint64("alloc", 0)
		_ = stats.SetUint64("space", uint64(v.Asize))
		_ = t.SetTree("stats", stats)
	}

	if len(v.Children) > 0 {
		var children []*nvtree.Tree
		for _, c := range v.Children {
			ct, err := GenerateConfig(pool, c, includeStats, asSpare)
			if err != nil {
				return nil, err
			}
			children = append(children, ct)
		}
		_ = t.SetTreeArray("children", children)
	}

	return t, nil
}

// childIndex returns v's position among its parent's children, or 0 if v
// has no parent (the root itself, or a detached test fixture).
func childIndex(v *vdev.Vdev) int {
	if v.Parent == nil {
		return 0
	}
	for i, c := range v.Parent.Children {
		if c == v {
			return i
		}
	}
	return 0
}

// statVdevState maps a leaf's liveness/status bits onto a single numeric
// vdev-state code for the runtime-stats sub-record.
func statVdevState(v *vdev.Vdev) uint64 {
	switch {
	case v.Dead() || v.NotPresent:
		const stateUnavail = 0
		return stateUnavail
	case v.Status.Faulted:
		const stateFaulted = 1
		return stateFaulted
	case v.Status.Degraded:
		const stateDegraded = 2
		return stateDegraded
	case v.Status.Offline:
		const stateOffline = 3
		return stateOffline
	default:
		const stateHealthy = 4
		return stateHealthy
	}
}
