// Package multitrack reads GD-ROM (.gdi) and DiscJuggler (.cdi) images:
// discs made of several independently addressed tracks, some of which are
// ISO-9660 data tracks.
package multitrack

import (
	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
)

// Track describes one data track. Audio tracks are counted but never
// addressed, so they have no Track.
type Track struct {
	Number     int    `yaml:"number"`
	BlockStart uint32 `yaml:"lba_start"`
	// BlockEnd is the last LBA of the track. It is only valid when
	// EndKnown is set: GDI tracks learn it when their file is opened.
	BlockEnd   uint32 `yaml:"lba_end,omitempty"`
	EndKnown   bool   `yaml:"-"`
	SectorSize int    `yaml:"sector_size"`
	Pregap     uint32 `yaml:"pregap,omitempty"`
	Filename   string `yaml:"filename,omitempty"`
}

// Blocks returns the number of 2048-byte blocks in the track, or 0 if the
// end is not known yet.
func (t Track) Blocks() uint32 {
	if !t.EndKnown || t.BlockEnd < t.BlockStart {
		return 0
	}
	return t.BlockEnd - t.BlockStart + 1
}

// MSF returns the starting address as mm:ss:ff.
func (t Track) MSF() string {
	return common.LBAToMSF(t.BlockStart)
}

// Reader is the behaviour shared by GdiReader and CdiReader.
type Reader interface {
	disc.MultiTrack
	Tracks() []Track
	OpenIsoPartition(trackNumber int) (*iso.Partition, error)
	OpenIsoVolume(trackNumber int) (*iso.Volume, error)
}

var (
	_ Reader = (*GdiReader)(nil)
	_ Reader = (*CdiReader)(nil)
)

// OpenDataPartition opens the primary data track of a Dreamcast disc:
// track 3 by GD-ROM convention, or track 2 on two-track CD-R images.
func OpenDataPartition(r Reader) (*iso.Partition, int, error) {
	var lastErr error = common.WrapErrno(common.ErrNotFound, "no data track")
	for _, n := range []int{3, 2} {
		if r.StartingLBA(n) < 0 {
			continue
		}
		p, err := r.OpenIsoPartition(n)
		if err == nil {
			return p, n, nil
		}
		common.LogWarn(common.WarnTrackOpenFailed, n, err)
		lastErr = err
	}
	return nil, 0, lastErr
}

// readSectorData copies user data out of the sector at addr. Cooked
// sectors are read in place; 2336-byte sectors skip the mode 2 subheader;
// raw sectors (optionally followed by subchannel data) are read whole so the
// mode byte can pick the data offset.
func readSectorData(src disc.Reader, addr int64, sectorSize, pos int, p, scratch []byte) (int, error) {
	switch {
	case sectorSize == common.CDDataSize:
		return disc.SeekAndRead(src, addr+int64(pos), p)
	case sectorSize == common.CDMode2SectorSize:
		return disc.SeekAndRead(src, addr+common.CDMode2336DataSkip+int64(pos), p)
	case sectorSize >= common.CDSectorSize:
		sector := scratch[:common.CDSectorSize]
		if _, err := disc.SeekAndRead(src, addr, sector); err != nil {
			return 0, err
		}
		off := common.SectorDataOffset(sector) + pos
		return copy(p, sector[off:off+len(p)]), nil
	}
	return 0, common.WrapErrno(common.ErrInvalid, "%s: %d", common.ErrInvalidSectorSize, sectorSize)
}

// openIsoPartition opens the ISO-9660 filesystem of a track. Directory
// records on a track hold absolute LBAs, so the filesystem's origin is the
// track start minus its pregap.
func openIsoPartition(r disc.Reader, t *Track) (*iso.Partition, error) {
	return iso.NewPartition(r, int64(t.BlockStart)*common.CDDataSize, int64(t.BlockStart)-int64(t.Pregap))
}

// openIsoVolume exposes a track as a standalone cooked image and reads its
// volume descriptor.
func openIsoVolume(r disc.Reader, t *Track) (*iso.Volume, error) {
	if t.Blocks() == 0 {
		return nil, common.WrapErrno(common.ErrIO, "track %d has no blocks", t.Number)
	}
	f := disc.NewPartitionFile(r, int64(t.BlockStart)*common.CDDataSize, int64(t.Blocks())*common.CDDataSize)
	return iso.NewVolume(f)
}

func validTrackNumber(n int) bool { return n >= 1 && n <= 99 }
