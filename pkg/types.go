package pkg

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
	"github.com/hansbonini/romdisc/pkg/multitrack"
	"github.com/hansbonini/romdisc/pkg/psx"
)

// Container identifies the outer format of a disc image file.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerISO     Container = "ISO"  // Cooked 2048-byte sectors
	ContainerRaw     Container = "RAW"  // 2352 or 2448-byte sectors
	ContainerCISO    Container = "CISO" // PSP CISO v0/v1/v2
	ContainerZISO    Container = "ZISO"
	ContainerJISO    Container = "JISO"
	ContainerDAX     Container = "DAX"
	ContainerGCN     Container = "GCN" // GameCube CISO
	ContainerGDI     Container = "GDI" // GD-ROM cuesheet
	ContainerCDI     Container = "CDI" // DiscJuggler
)

// Filesystem names reported by Image.Filesystem.
const (
	FilesystemISO9660 = "ISO-9660"
	FilesystemXDVDFS  = "XDVDFS"
)

// Filesystem is a partition whose directories can be listed.
type Filesystem interface {
	disc.Partition
	ReadDir(path string) ([]disc.DirEntry, error)
}

// DiscInfo is the summary of an opened image printed by `info`.
type DiscInfo struct {
	File        string             `yaml:"file"`
	Container   Container          `yaml:"container"`
	Size        int64              `yaml:"size"`
	BlockSize   int                `yaml:"block_size,omitempty"`
	Filesystem  string             `yaml:"filesystem,omitempty"`
	DataTrack   int                `yaml:"data_track,omitempty"`
	Tracks      []multitrack.Track `yaml:"tracks,omitempty"`
	Volume      *iso.Volume        `yaml:"volume,omitempty"`
	Xdvdfs      *XdvdfsInfo        `yaml:"xdvdfs,omitempty"`
	PlayStation *PlayStationInfo   `yaml:"playstation,omitempty"`
}

// XdvdfsInfo describes an Xbox game partition.
type XdvdfsInfo struct {
	Layout        string `yaml:"layout"`
	Offset        int64  `yaml:"offset"`
	RootDirSector uint32 `yaml:"root_dir_sector"`
	RootDirSize   uint32 `yaml:"root_dir_size"`
	Timestamp     string `yaml:"timestamp,omitempty"`
}

// PlayStationInfo is the boot information of a PlayStation disc.
type PlayStationInfo struct {
	Console       psx.Console       `yaml:"console"`
	BootFilename  string            `yaml:"boot_filename,omitempty"`
	BootArgument  string            `yaml:"boot_argument,omitempty"`
	StackOverride uint32            `yaml:"stack_override,omitempty"`
	SystemCnf     map[string]string `yaml:"system_cnf,omitempty"`
	Executable    *psx.Executable   `yaml:"boot_executable,omitempty"`
}

// ImageDecoder interface defines methods for opening disc images
type ImageDecoder interface {
	Open(name string) (*Image, error)
	Decode(src disc.Source) (*Image, error)
}

// ImageExporter interface defines methods for writing disc contents out
type ImageExporter interface {
	ExportInfo(img *Image, writer io.Writer, format string) error
	ExportTracks(img *Image, writer io.Writer, format string) error
	ExportListing(img *Image, dir string, writer io.Writer) error
	ExportFile(img *Image, path string, writer io.Writer) (int64, error)
	ExportTree(img *Image, outputDir string) (int, error)
}

// ImageProcessor combines decoder and exporter functionality
type ImageProcessor interface {
	ImageDecoder
	ImageExporter
	Process(inputFile string, outputDir string) error
}
