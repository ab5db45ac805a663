package xdvdfs

import (
	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
)

// Layout is the disc layout an XDVDFS partition was found in.
type Layout int

const (
	LayoutXISO Layout = iota // Game partition extracted to its own image
	LayoutXGD1               // Original Xbox
	LayoutXGD2               // Xbox 360, early titles
	LayoutXGD3               // Xbox 360, late titles
)

func (l Layout) String() string {
	switch l {
	case LayoutXISO:
		return "XISO"
	case LayoutXGD1:
		return "XGD1"
	case LayoutXGD2:
		return "XGD2"
	case LayoutXGD3:
		return "XGD3"
	}
	return "unknown"
}

// PartitionOffset returns the byte offset of the game partition in a full
// disc image of the given layout.
func PartitionOffset(l Layout) int64 {
	switch l {
	case LayoutXGD1:
		return 0x18300000
	case LayoutXGD2:
		return 0xFD90000
	case LayoutXGD3:
		return 0x2080000
	}
	return 0
}

// probeOrder puts the smallest offsets first so small images fail fast.
var probeOrder = []Layout{LayoutXISO, LayoutXGD3, LayoutXGD2, LayoutXGD1}

// Probe looks for an XDVDFS header at each known partition offset and opens
// the first partition found.
func Probe(r disc.Reader) (*Partition, Layout, error) {
	if r == nil || !r.IsOpen() {
		return nil, LayoutXISO, common.ErrBadFile
	}

	block := make([]byte, headerSize)
	for _, l := range probeOrder {
		off := PartitionOffset(l)
		pos := off + HeaderLBA*BlockSize
		if pos+headerSize > r.Size() {
			continue
		}
		if _, err := disc.SeekAndRead(r, pos, block); err != nil || !IsHeader(block) {
			common.LogDebug(common.DebugProbeFormat, l, err)
			continue
		}
		common.LogDebug(common.DebugXdvdfsHeaderFound, off)
		p, err := NewPartition(r, off, -1)
		return p, l, err
	}
	return nil, LayoutXISO, common.WrapErrno(common.ErrIO, "%s: no XDVDFS header", common.ErrNoFilesystem)
}
