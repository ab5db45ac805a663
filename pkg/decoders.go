// Package pkg opens disc images of every supported container and exposes
// their filesystems to the command line tools.
// This file contains format detection and the construction of the reader chain.
package pkg

import (
	"path/filepath"
	"strings"

	"github.com/hansbonini/romdisc/pkg/ciso"
	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
	"github.com/hansbonini/romdisc/pkg/multitrack"
	"github.com/hansbonini/romdisc/pkg/psx"
	"github.com/hansbonini/romdisc/pkg/source"
	"github.com/hansbonini/romdisc/pkg/xdvdfs"
	"github.com/spf13/afero"
)

// Sizes of the probes read by the decoder.
const (
	DetectHeaderSize = ciso.PspHeaderProbeSize
	DetectFooterSize = 8
)

// Detect classifies an image from its first bytes, its last 8 bytes, its
// file extension and its size. Magic numbers are checked first; GD-ROM
// cuesheets are recognised by content and DiscJuggler images need the
// .cdi extension because their footer is weak evidence on its own.
func Detect(header, footer []byte, ext string, size int64) Container {
	switch ciso.IsPspSupported(header) {
	case ciso.FormatCISO:
		return ContainerCISO
	case ciso.FormatZISO:
		return ContainerZISO
	case ciso.FormatJISO:
		return ContainerJISO
	case ciso.FormatDAX:
		return ContainerDAX
	}
	if ciso.IsGcnSupported(header) {
		return ContainerGCN
	}
	if size <= multitrack.GdiMaxSize && multitrack.IsGdiSupported(header) {
		return ContainerGDI
	}
	if strings.EqualFold(ext, ".cdi") && multitrack.IsCdiSupported(footer) {
		return ContainerCDI
	}
	if disc.IsCdrom2352Supported(header) {
		return ContainerRaw
	}
	if size < common.CDDataSize {
		return ContainerUnknown
	}
	return ContainerISO
}

// DiscDecoder implements the ImageDecoder interface. It opens image files
// from a filesystem and builds their reader chain.
type DiscDecoder struct {
	fs  afero.Fs
	cfg *common.Config
}

// NewDiscDecoder creates a decoder reading from the host filesystem.
func NewDiscDecoder(cfg *common.Config) *DiscDecoder {
	return NewDiscDecoderFs(afero.NewOsFs(), cfg)
}

// NewDiscDecoderFs creates a decoder reading from fs.
func NewDiscDecoderFs(fs afero.Fs, cfg *common.Config) *DiscDecoder {
	if cfg == nil {
		cfg = common.DefaultConfig()
	}
	return &DiscDecoder{fs: fs, cfg: cfg}
}

// Open opens the image file name and decodes it.
func (d *DiscDecoder) Open(name string) (*Image, error) {
	src, err := d.openSource(name)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToOpenImage, err)
	}
	img, err := d.Decode(src)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToOpenImage, err)
	}
	common.LogDebug(common.InfoImageOpened, img.Container, name, src.Size())
	return img, nil
}

// openSource memory-maps host files when the config asks for it.
func (d *DiscDecoder) openSource(name string) (disc.Source, error) {
	if _, ok := d.fs.(*afero.OsFs); ok {
		return source.OpenSource(name, d.cfg.UseMmap)
	}
	f, err := source.OpenFs(d.fs, name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Decode detects the container of src and opens the readers stacked on
// it. The image takes ownership of src, which is closed on failure.
func (d *DiscDecoder) Decode(src disc.Source) (*Image, error) {
	header := make([]byte, DetectHeaderSize)
	n, err := disc.SeekAndRead(src, 0, header)
	if n == 0 {
		src.Close()
		return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToReadHeader, err)
	}
	footer := make([]byte, DetectFooterSize)
	if src.Size() >= DetectFooterSize {
		if _, err := disc.SeekAndRead(src, src.Size()-DetectFooterSize, footer); err != nil {
			footer = nil
		}
	}

	img := &Image{Name: src.Filename(), Source: src}
	img.Container = Detect(header[:n], footer, filepath.Ext(img.Name), src.Size())
	common.Logger().WithField("size", src.Size()).Debugf(common.DebugContainerDetected, img.Container, img.Name)

	if err := d.openContainer(img); err != nil {
		img.Close()
		return nil, err
	}
	d.openFilesystem(img)
	return img, nil
}

// openContainer stacks the container reader on the source.
func (d *DiscDecoder) openContainer(img *Image) error {
	switch img.Container {
	case ContainerCISO, ContainerZISO, ContainerJISO, ContainerDAX:
		r, err := ciso.NewPspReader(img.Source, d.cfg.BlockCacheSize)
		if err != nil {
			return err
		}
		img.Reader = r
	case ContainerGCN:
		r, err := ciso.NewGcnReader(img.Source)
		if err != nil {
			return err
		}
		img.Reader = r
	case ContainerGDI:
		r, err := multitrack.NewGdiReader(img.Source)
		if err != nil {
			return err
		}
		img.Reader, img.Tracks = r, r
	case ContainerCDI:
		r, err := multitrack.NewCdiReader(img.Source)
		if err != nil {
			return err
		}
		img.Reader, img.Tracks = r, r
	case ContainerISO, ContainerRaw:
		img.Reader = img.Source
	default:
		return common.WrapErrno(common.ErrIO, "%s: %s", common.ErrUnsupportedImage, img.Name)
	}
	return nil
}

// openFilesystem looks for a filesystem inside the container. Images
// without one (GameCube discs, audio CDs) still open; only the filesystem
// commands fail on them.
func (d *DiscDecoder) openFilesystem(img *Image) {
	if img.Tracks != nil {
		d.openDataTrack(img)
		return
	}

	vol, err := iso.NewVolume(img.Reader)
	if err == nil {
		p, perr := vol.OpenPartition()
		if perr == nil {
			img.Volume, img.Partition, img.Filesystem = vol, p, FilesystemISO9660
			common.LogDebug(common.InfoPartitionDetected, FilesystemISO9660, p.IsoStartOffset()*common.CDDataSize)
			d.openPlayStation(img)
			return
		}
		err = perr
	}
	common.LogDebug(common.DebugProbeFormat, FilesystemISO9660, err)

	x, layout, err := xdvdfs.Probe(img.Reader)
	if err != nil {
		common.LogDebug(common.DebugProbeFormat, FilesystemXDVDFS, err)
		return
	}
	img.Partition, img.Layout, img.Filesystem = x, layout, FilesystemXDVDFS
	common.LogDebug(common.InfoPartitionDetected, FilesystemXDVDFS, xdvdfs.PartitionOffset(layout))
}

// openDataTrack opens the configured data track, falling back to the
// GD-ROM and CD-R conventions.
func (d *DiscDecoder) openDataTrack(img *Image) {
	var (
		p   *iso.Partition
		n   = d.cfg.PreferTrack
		err error
	)
	if img.Tracks.StartingLBA(n) >= 0 {
		p, err = img.Tracks.OpenIsoPartition(n)
		if err != nil {
			common.LogWarn(common.WarnPreferredTrack, n, err)
		}
	}
	if p == nil {
		p, n, err = multitrack.OpenDataPartition(img.Tracks)
		if err != nil {
			common.LogDebug(common.DebugProbeFormat, FilesystemISO9660, err)
			return
		}
	}
	img.Partition, img.DataTrack, img.Filesystem = p, n, FilesystemISO9660

	vol, err := img.Tracks.OpenIsoVolume(n)
	if err != nil {
		common.LogDebug(common.DebugProbeFormat, FilesystemISO9660, err)
		return
	}
	img.Volume = vol
}

// openPlayStation reads SYSTEM.CNF on discs with a PlayStation system ID.
func (d *DiscDecoder) openPlayStation(img *Image) {
	sector := make([]byte, iso.DescriptorLen)
	if _, err := disc.SeekAndRead(img.Volume.Reader(), iso.PVDAddress, sector); err != nil {
		return
	}
	if !psx.IsDiscSupported(sector) {
		return
	}
	ps, err := psx.OpenVolume(img.Volume)
	if err != nil {
		common.LogWarn(common.WarnSkippingEntry, "PlayStation boot info", err)
		return
	}
	img.PSX = ps
}
