package pkg

import (
	"time"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
	"github.com/hansbonini/romdisc/pkg/multitrack"
	"github.com/hansbonini/romdisc/pkg/psx"
	"github.com/hansbonini/romdisc/pkg/xdvdfs"
)

// Image is an opened disc image: the chain of readers from the file on
// disk to the filesystem inside it. Fields after Reader are optional.
type Image struct {
	Name      string
	Container Container
	Source    disc.Source
	// Reader is the container view. For CD formats it yields 2048-byte user
	// data blocks.
	Reader disc.Reader

	Tracks    multitrack.Reader
	DataTrack int

	Filesystem string
	Partition  Filesystem
	Volume     *iso.Volume
	Layout     xdvdfs.Layout
	PSX        *psx.Disc
}

// FS returns the filesystem, or an error if none was found.
func (img *Image) FS() (Filesystem, error) {
	if img.Partition == nil {
		return nil, common.WrapErrno(common.ErrNotFound, "%s: %s", common.ErrNoFilesystem, img.Name)
	}
	return img.Partition, nil
}

// BlockSize returns the logical block size of the container, or 0 when the
// container has no block structure.
func (img *Image) BlockSize() int {
	type blocked interface{ BlockSize() int }
	if b, ok := img.Reader.(blocked); ok {
		return b.BlockSize()
	}
	if img.Volume != nil {
		return common.CDDataSize
	}
	return 0
}

// Info collects the summary shown by `info`. Reading the boot executable
// of a PlayStation disc is best effort.
func (img *Image) Info() *DiscInfo {
	info := &DiscInfo{
		File:       img.Name,
		Container:  img.Container,
		BlockSize:  img.BlockSize(),
		Filesystem: img.Filesystem,
		DataTrack:  img.DataTrack,
		Volume:     img.Volume,
	}
	if img.Reader != nil {
		info.Size = img.Reader.Size()
	}
	if img.Tracks != nil {
		info.Tracks = img.Tracks.Tracks()
	}

	if x, ok := img.Partition.(*xdvdfs.Partition); ok {
		h := x.Header()
		info.Xdvdfs = &XdvdfsInfo{
			Layout:        img.Layout.String(),
			Offset:        xdvdfs.PartitionOffset(img.Layout),
			RootDirSector: h.RootDirSector,
			RootDirSize:   h.RootDirSize,
		}
		if !h.Timestamp.IsZero() {
			info.Xdvdfs.Timestamp = h.Timestamp.UTC().Format(time.RFC3339)
		}
	}

	if img.PSX != nil {
		info.PlayStation = &PlayStationInfo{
			Console:       img.PSX.Console,
			BootFilename:  img.PSX.BootFilename,
			BootArgument:  img.PSX.BootArgument,
			StackOverride: img.PSX.StackOverride,
			SystemCnf:     img.PSX.SystemCnf,
		}
		exe, err := img.PSX.OpenBootExecutable()
		if err != nil {
			common.LogWarn(common.WarnBootExecutable, img.PSX.BootFilename, err)
		} else {
			info.PlayStation.Executable = exe
		}
	}
	return info
}

// Close releases the chain from the filesystem down to the source file.
func (img *Image) Close() error {
	if img.PSX != nil {
		img.PSX.Close()
		img.PSX = nil
	}
	if img.Partition != nil {
		img.Partition.Close()
		img.Partition = nil
	}

	// Readers close their own source, so each layer is closed only if a
	// layer above it has not already done so.
	var err error
	if img.Volume != nil {
		if r := img.Volume.Reader(); r != img.Reader && r != img.Source && r.IsOpen() {
			err = r.Close()
		}
	}
	if img.Reader != nil && img.Reader != disc.Reader(img.Source) && img.Reader.IsOpen() {
		if cerr := img.Reader.Close(); err == nil {
			err = cerr
		}
	}
	if img.Source != nil && img.Source.IsOpen() {
		if cerr := img.Source.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
