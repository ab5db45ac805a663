package iso

import (
	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
)

// Volume is a generic ISO-9660 image: the volume descriptor plus the sector
// format it was found in.
type Volume struct {
	PrimaryVolumeDescriptor `yaml:",inline"`
	SectorSize              int `yaml:"sector_size"`
	Mode                    int `yaml:"mode,omitempty"`

	reader disc.Reader
}

// Probe finds the PVD at LBA 16 of src, trying cooked 2048-byte sectors,
// then raw 2352-byte and 2448-byte sectors. It returns a reader that yields
// 2048-byte user data blocks, the sector size and the sector mode (0 for
// cooked images).
func Probe(src disc.Reader) (disc.Reader, int, int, error) {
	if src == nil || !src.IsOpen() {
		return nil, 0, 0, common.ErrBadFile
	}

	sector := make([]byte, common.CDSectorSizeSubch)
	if _, err := disc.SeekAndRead(src, PVDAddress, sector[:DescriptorLen]); err == nil && IsPVD(sector) {
		common.LogDebug(common.DebugSectorSizeProbed, common.CDDataSize, 0)
		return src, common.CDDataSize, 0, nil
	}

	for _, size := range []int{common.CDSectorSize, common.CDSectorSizeSubch} {
		raw := sector[:size]
		if _, err := disc.SeekAndRead(src, int64(PVDLBA*size), raw); err != nil {
			continue
		}
		if !common.HasCDSync(raw) || !IsPVD(raw[common.SectorDataOffset(raw):]) {
			continue
		}
		common.LogDebug(common.DebugSectorSizeProbed, size, raw[15])
		cooked, err := disc.NewCdrom2352Reader(src, size)
		if err != nil {
			return nil, 0, 0, err
		}
		return cooked, size, int(raw[15]), nil
	}
	return nil, 0, 0, common.WrapErrno(common.ErrIO, "%s", common.ErrNoFilesystem)
}

// NewVolume probes src for an ISO-9660 volume and reads its descriptor.
func NewVolume(src disc.Reader) (*Volume, error) {
	cooked, sectorSize, mode, err := Probe(src)
	if err != nil {
		return nil, err
	}

	sector := make([]byte, DescriptorLen)
	if _, err := disc.SeekAndRead(cooked, PVDAddress, sector); err != nil {
		return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToReadHeader, err)
	}
	pvd, err := ParsePVD(sector)
	if err != nil {
		return nil, err
	}
	return &Volume{
		PrimaryVolumeDescriptor: *pvd,
		SectorSize:              sectorSize,
		Mode:                    mode,
		reader:                  cooked,
	}, nil
}

// Reader returns the 2048-byte block view of the volume.
func (v *Volume) Reader() disc.Reader { return v.reader }

// OpenPartition opens the filesystem. A single-track image starts at LBA 0.
func (v *Volume) OpenPartition() (*Partition, error) {
	return NewPartition(v.reader, 0, 0)
}
