package psx

import (
	"debug/elf"
	"errors"
	"path"
	"strings"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
)

// DefaultBootFilename is the PS1 boot executable used when SYSTEM.CNF is
// absent or names no file.
const DefaultBootFilename = "PSX.EXE"

// Disc is an opened PlayStation 1 or 2 disc: the ISO-9660 filesystem plus
// what SYSTEM.CNF says about booting it.
type Disc struct {
	Console       Console           `yaml:"console"`
	BootFilename  string            `yaml:"boot_filename,omitempty"`
	BootArgument  string            `yaml:"boot_argument,omitempty"`
	StackOverride uint32            `yaml:"stack_override,omitempty"`
	SystemCnf     map[string]string `yaml:"system_cnf,omitempty"`

	volume    *iso.Volume
	partition *iso.Partition
}

// IsDiscSupported reports whether a PVD sector belongs to a PlayStation
// disc.
func IsDiscSupported(pvdSector []byte) bool {
	return iso.IsPVD(pvdSector) && IsSystemID([]byte(iso.RawSystemID(pvdSector)))
}

// Open detects the sector format of src, checks the system ID and loads
// SYSTEM.CNF. The disc does not own src.
func Open(src disc.Reader) (*Disc, error) {
	vol, err := iso.NewVolume(src)
	if err != nil {
		return nil, err
	}
	return OpenVolume(vol)
}

// OpenVolume checks the system ID of an already probed volume and loads
// SYSTEM.CNF. The disc does not own vol.
func OpenVolume(vol *iso.Volume) (*Disc, error) {
	if vol == nil {
		return nil, common.ErrBadFile
	}
	sector := make([]byte, iso.DescriptorLen)
	if _, err := disc.SeekAndRead(vol.Reader(), iso.PVDAddress, sector); err != nil {
		return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToReadHeader, err)
	}
	if !IsDiscSupported(sector) {
		return nil, common.WrapErrno(common.ErrIO, "%s: system ID %q", common.ErrUnsupportedImage, vol.SystemID)
	}

	p, err := vol.OpenPartition()
	if err != nil {
		return nil, err
	}
	d := &Disc{volume: vol, partition: p}
	if err := d.loadSystemCnf(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.resolveBoot(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// loadSystemCnf reads SYSTEM.CNF. A disc without one still boots if it has
// PSX.EXE.
func (d *Disc) loadSystemCnf() error {
	f, err := d.partition.Open("SYSTEM.CNF")
	if errors.Is(err, common.ErrNotFound) {
		if _, exeErr := d.partition.Open(DefaultBootFilename); exeErr != nil {
			return common.WrapErrno(common.ErrNotFound, "%s: no SYSTEM.CNF or %s", common.ErrBootFileNotFound, DefaultBootFilename)
		}
		common.LogWarn(common.WarnNoSystemCnf, DefaultBootFilename)
		d.SystemCnf = map[string]string{"BOOT": DefaultBootFilename}
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if f.Size() > SystemCnfMaxSize {
		return common.WrapErrno(common.ErrIO, "%s: %d bytes", common.ErrSystemCnfTooLarge, f.Size())
	}
	data, err := f.ReadAll()
	if err != nil {
		return err
	}
	d.SystemCnf = ParseSystemCnf(data)
	for k, v := range d.SystemCnf {
		common.LogDebug(common.DebugSystemCnfEntry, k, v)
	}
	if len(d.SystemCnf) == 0 {
		return common.WrapErrno(common.ErrIO, "SYSTEM.CNF has no entries")
	}
	return nil
}

// resolveBoot picks the console from BOOT2 (PS2) or BOOT (PS1) and derives
// the boot filename.
func (d *Disc) resolveBoot() error {
	value, ok := d.SystemCnf["BOOT2"]
	if ok {
		d.Console = ConsolePS2
	} else if value, ok = d.SystemCnf["BOOT"]; ok {
		d.Console = ConsolePS1
	} else {
		return common.WrapErrno(common.ErrIO, "%s: SYSTEM.CNF has no BOOT line", common.ErrBootFileNotFound)
	}

	d.BootFilename, d.BootArgument = BootFilename(value)
	if d.BootFilename == "" && d.Console == ConsolePS1 {
		d.BootFilename = DefaultBootFilename
	}
	if d.Console == ConsolePS1 {
		d.StackOverride = stackOverride(d.SystemCnf)
	}
	return nil
}

// Volume returns the volume descriptor and sector format.
func (d *Disc) Volume() *iso.Volume { return d.volume }

// Partition returns the ISO-9660 filesystem.
func (d *Disc) Partition() *iso.Partition { return d.partition }

// Executable describes the boot executable: a PS-X EXE on PS1, an ELF on
// PS2.
type Executable struct {
	Name   string     `yaml:"name"`
	Size   int64      `yaml:"size"`
	Header *ExeHeader `yaml:"psx_exe,omitempty"`
	Entry  uint64     `yaml:"elf_entry,omitempty"`
}

// OpenBootExecutable opens and validates the boot executable.
func (d *Disc) OpenBootExecutable() (*Executable, error) {
	if d.BootFilename == "" {
		return nil, common.WrapErrno(common.ErrNotFound, "%s", common.ErrBootFileNotFound)
	}
	f, err := d.partition.Open(d.BootFilename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	exe := &Executable{Name: d.BootFilename, Size: f.Size()}
	switch d.Console {
	case ConsolePS2:
		ef, err := elf.NewFile(f)
		if err != nil {
			return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrInvalidExecutable, err)
		}
		exe.Entry = ef.Entry
	default:
		header := make([]byte, ExeHeaderSize)
		if _, err := f.ReadAt(header, 0); err != nil {
			return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrInvalidExecutable, err)
		}
		h, err := ParseExeHeader(header)
		if err != nil {
			return nil, err
		}
		if d.StackOverride != 0 {
			h.StackAddr = d.StackOverride
		}
		exe.Header = h
	}
	return exe, nil
}

// FileEntry is one file or directory of the disc, with its absolute
// position.
type FileEntry struct {
	Path       string `yaml:"path"`
	LBA        uint32 `yaml:"lba"`
	MSF        string `yaml:"msf"`
	Size       uint32 `yaml:"size"`
	IsDir      bool   `yaml:"dir,omitempty"`
	ExtentSize uint32 `yaml:"sectors"`
}

// Files walks the filesystem depth first, in directory order.
func (d *Disc) Files() ([]FileEntry, error) {
	var out []FileEntry
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := d.partition.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !isValidFilename(e.Name) {
				common.LogDebug(common.WarnSkippingEntry, e.Name, "invalid name")
				continue
			}
			p := path.Join(dir, e.Name)
			size, err := common.SafeInt64ToUint32(e.Size)
			if err != nil {
				return common.WrapErrno(common.ErrRange, "%s: %v", p, err)
			}
			lba := uint32(e.Offset/common.CDDataSize + d.partition.IsoStartOffset())
			out = append(out, FileEntry{
				Path:       p,
				LBA:        lba,
				MSF:        common.LBAToMSF(lba),
				Size:       size,
				IsDir:      e.IsDir,
				ExtentSize: common.GetSizeInSectors(size),
			})
			if e.IsDir {
				if err := walk(p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// isValidFilename rejects names that cannot be written out: empty, NULs or
// path separators.
func isValidFilename(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "\x00/\\")
}

// Close releases the filesystem. The source is left open.
func (d *Disc) Close() error {
	if d.partition == nil {
		return nil
	}
	err := d.partition.Close()
	d.partition = nil
	return err
}
