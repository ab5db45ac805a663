// Package iso reads ISO-9660 filesystems: the primary volume descriptor,
// directory records and the files they point to.
package iso

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/hansbonini/romdisc/pkg/common"
)

// ISO-9660 layout constants
const (
	PVDAddress    = 0x8000 // Byte offset of the PVD with 2048-byte sectors
	PVDLBA        = 16
	DescriptorLen = 2048

	vdTypePrimary = 1
	vdVersion     = 1
	vdMagic       = "CD001"

	dirRecordMinLen = 33
	rootRecordOff   = 156

	flagHidden     = 0x01
	flagDirectory  = 0x02
	flagAssociated = 0x04

	maxDirectorySize = 16 << 20
)

// IsPVD reports whether sector holds a primary volume descriptor.
func IsPVD(sector []byte) bool {
	return len(sector) >= 7 &&
		sector[0] == vdTypePrimary &&
		string(sector[1:6]) == vdMagic &&
		sector[6] == vdVersion
}

// dirRecord is a decoded ISO-9660 directory record. Multi-byte fields are
// stored both-endian on disc; the little-endian half is used.
type dirRecord struct {
	length uint8
	block  uint32
	size   uint32
	mtime  [7]byte
	flags  uint8
	name   string
}

func (d *dirRecord) isDir() bool { return d.flags&flagDirectory != 0 }

// parseDirRecord decodes the record at the start of b. ok is false if the
// record is shorter than the fixed part or its name runs past b.
func parseDirRecord(b []byte) (rec dirRecord, ok bool) {
	if len(b) < dirRecordMinLen || int(b[0]) < dirRecordMinLen {
		return rec, false
	}
	nameLen := int(b[32])
	if dirRecordMinLen+nameLen > len(b) {
		return rec, false
	}
	rec.length = b[0]
	rec.block = binary.LittleEndian.Uint32(b[2:])
	rec.size = binary.LittleEndian.Uint32(b[10:])
	copy(rec.mtime[:], b[18:25])
	rec.flags = b[25]
	rec.name = string(b[dirRecordMinLen : dirRecordMinLen+nameLen])
	return rec, true
}

// recordTime converts a 7-byte directory record timestamp to UTC. The
// timezone is in 15-minute steps and is only applied within [-48, 52].
func recordTime(t [7]byte) time.Time {
	if t == [7]byte{} {
		return time.Time{}
	}
	unix := time.Date(1900+int(t[0]), time.Month(t[1]), int(t[2]),
		int(t[3]), int(t[4]), int(t[5]), 0, time.UTC).Unix()
	if tz := int8(t[6]); tz >= -48 && tz <= 52 {
		unix -= int64(tz) * 15 * 60
	} else {
		common.LogDebug(common.WarnTimezoneOutOfRange, tz)
	}
	return time.Unix(unix, 0).UTC()
}

// volumeTime converts a 17-byte PVD timestamp ("YYYYMMDDHHMMSScc" plus a
// timezone byte). An unset field gives the zero time.
func volumeTime(b []byte) time.Time {
	if len(b) < 17 || b[0] == 0 || string(b[:4]) == "0000" {
		return time.Time{}
	}
	num := func(from, to int) int {
		v, err := strconv.Atoi(string(b[from:to]))
		if err != nil {
			return 0
		}
		return v
	}
	unix := time.Date(num(0, 4), time.Month(num(4, 6)), num(6, 8),
		num(8, 10), num(10, 12), num(12, 14), num(14, 16)*int(10*time.Millisecond), time.UTC)
	if tz := int8(b[16]); tz >= -48 && tz <= 52 {
		unix = unix.Add(-time.Duration(tz) * 15 * time.Minute)
	}
	return unix
}

// PrimaryVolumeDescriptor holds the PVD fields shown to users.
type PrimaryVolumeDescriptor struct {
	SystemID          string    `yaml:"system_id"`
	VolumeID          string    `yaml:"volume_id"`
	VolumeSpaceSize   uint32    `yaml:"volume_space_size"`
	LogicalBlockSize  uint16    `yaml:"logical_block_size"`
	VolumeSetID       string    `yaml:"volume_set_id,omitempty"`
	PublisherID       string    `yaml:"publisher,omitempty"`
	DataPreparerID    string    `yaml:"data_preparer,omitempty"`
	ApplicationID     string    `yaml:"application,omitempty"`
	CopyrightFile     string    `yaml:"copyright_file,omitempty"`
	AbstractFile      string    `yaml:"abstract_file,omitempty"`
	BibliographicFile string    `yaml:"bibliographic_file,omitempty"`
	CreationTime      time.Time `yaml:"created,omitempty"`
	ModificationTime  time.Time `yaml:"modified,omitempty"`
	ExpirationTime    time.Time `yaml:"expires,omitempty"`
	EffectiveTime     time.Time `yaml:"effective,omitempty"`

	root dirRecord
}

// ParsePVD decodes a 2048-byte volume descriptor.
func ParsePVD(sector []byte) (*PrimaryVolumeDescriptor, error) {
	if len(sector) < DescriptorLen {
		return nil, common.WrapErrno(common.ErrIO, "%s: descriptor is %d bytes", common.ErrFailedToReadHeader, len(sector))
	}
	if !IsPVD(sector) {
		return nil, common.WrapErrno(common.ErrIO, "%s: no primary volume descriptor", common.ErrInvalidMagic)
	}

	root, ok := parseDirRecord(sector[rootRecordOff : rootRecordOff+34])
	if !ok {
		return nil, common.WrapErrno(common.ErrIO, "invalid root directory record")
	}

	return &PrimaryVolumeDescriptor{
		SystemID:          common.TrimPadded(sector[8:40]),
		VolumeID:          common.TrimPadded(sector[40:72]),
		VolumeSpaceSize:   binary.LittleEndian.Uint32(sector[80:]),
		LogicalBlockSize:  binary.LittleEndian.Uint16(sector[128:]),
		VolumeSetID:       common.TrimPadded(sector[190:318]),
		PublisherID:       common.TrimPadded(sector[318:446]),
		DataPreparerID:    common.TrimPadded(sector[446:574]),
		ApplicationID:     common.TrimPadded(sector[574:702]),
		CopyrightFile:     common.TrimPadded(sector[702:739]),
		AbstractFile:      common.TrimPadded(sector[739:776]),
		BibliographicFile: common.TrimPadded(sector[776:813]),
		CreationTime:      volumeTime(sector[813:830]),
		ModificationTime:  volumeTime(sector[830:847]),
		ExpirationTime:    volumeTime(sector[847:864]),
		EffectiveTime:     volumeTime(sector[864:881]),
		root:              root,
	}, nil
}

// RawSystemID returns the system identifier with its padding kept.
func RawSystemID(sector []byte) string {
	if len(sector) < 40 {
		return ""
	}
	return string(sector[8:40])
}
