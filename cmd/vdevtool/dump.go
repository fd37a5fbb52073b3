package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pooldev/vdevlabel/pkg/nvtree"
	"github.com/pooldev/vdevlabel/pkg/vlabel"
)

// openSimulatedDevice opens path read-only and validates it is large enough
// to carry a four-slot label geometry, the way vdecompiler.Open validates
// an image before reading GPT structures out of it.
func openSimulatedDevice(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	psize := fi.Size()
	if psize < 4*vlabel.L {
		f.Close()
		return nil, 0, fmt.Errorf("%s: size %d is smaller than four label slots (%d bytes)", path, psize, 4*vlabel.L)
	}
	if psize%vlabel.L != 0 {
		f.Close()
		return nil, 0, fmt.Errorf("%s: size %d is not a multiple of the label size %d", path, psize, vlabel.L)
	}

	return f, psize, nil
}

var dumpLabelsCmd = &cobra.Command{
	Use:   "dump-labels FILE",
	Short: "Print the decoded property tree from every label slot of a device file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, psize, err := openSimulatedDevice(args[0])
		if err != nil {
			SetError(err, 2)
			return
		}
		defer f.Close()

		buf := make([]byte, vlabel.PhysSize())
		for slot := 0; slot < 4; slot++ {
			off := vlabel.LabelOffset(psize, slot, vlabel.PhysOffset())
			if _, err := f.ReadAt(buf, off); err != nil {
				log.Warnf("slot %d: read failed: %v", slot, err)
				continue
			}

			tree, err := nvtree.Unpack(buf)
			if err != nil {
				log.Printf("slot %d: unreadable (%v)", slot, err)
				continue
			}

			log.Printf("slot %d:", slot)
			printTree(tree, 1)
		}
	},
}

func printTree(t *nvtree.Tree, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	for _, v := range t.Values() {
		switch v.Kind {
		case nvtree.KindUint64:
			log.Printf("%s%s = %d", indent, v.Name, v.U64)
		case nvtree.KindString:
			log.Printf("%s%s = %q", indent, v.Name, v.Str)
		case nvtree.KindTree:
			log.Printf("%s%s:", indent, v.Name)
			printTree(v.Sub, depth+1)
		case nvtree.KindTreeArray:
			log.Printf("%s%s (%d):", indent, v.Name, len(v.SubArr))
			for i, sub := range v.SubArr {
				log.Printf("%s  [%d]:", indent, i)
				printTree(sub, depth+2)
			}
		}
	}
}

var dumpUberblocksCmd = &cobra.Command{
	Use:   "dump-uberblocks FILE",
	Short: "Print every verifiable uberblock found in a device file's ring",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, psize, err := openSimulatedDevice(args[0])
		if err != nil {
			SetError(err, 2)
			return
		}
		defer f.Close()

		buf := make([]byte, vlabel.UberblockRecordSize)
		var found, invalid int

		for slot := 0; slot < 4; slot++ {
			for cell := 0; cell < vlabel.UberblockCellCount(); cell++ {
				within := vlabel.UberblockRingOffset() + int64(cell)*vlabel.UberblockCellSize()
				off := vlabel.LabelOffset(psize, slot, within)

				if _, err := f.ReadAt(buf, off); err != nil {
					log.Warnf("slot %d cell %d: read failed: %v", slot, cell, err)
					continue
				}
				if !vlabel.Verify(buf) {
					invalid++
					continue
				}

				ub := vlabel.DecodeUberblock(buf)
				found++
				log.Printf("slot %d cell %d: txg=%d timestamp=%d version=%d", slot, cell, ub.Txg, ub.Timestamp, ub.Version)
			}
		}

		log.Printf("%d verifiable uberblock(s), %d empty or corrupt cell(s)", found, invalid)
	},
}
