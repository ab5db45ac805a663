// Package isotest builds small ISO-9660 images in memory for tests.
package isotest

import (
	"encoding/binary"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	sectorSize = 2048
	rootLBA    = 20
)

// Builder lays out a cooked (2048-byte sector) ISO-9660 image: PVD at LBA
// 16, a terminator at 17, the root directory at 20, then subdirectories
// and file data.
type Builder struct {
	SystemID string
	VolumeID string
	// StartLBA is added to every block number written to the image, as on
	// a data track that starts past LBA 0.
	StartLBA uint32
	// ModTime is stamped on every directory record.
	ModTime time.Time
	// Timezone is the record timezone in 15-minute steps.
	Timezone int8

	dirs  map[string][]string
	files map[string][]byte
}

// New returns a builder for an empty volume.
func New(systemID, volumeID string) *Builder {
	return &Builder{
		SystemID: systemID,
		VolumeID: volumeID,
		ModTime:  time.Date(1998, time.March, 14, 12, 30, 0, 0, time.UTC),
		dirs:     map[string][]string{"": nil},
		files:    map[string][]byte{},
	}
}

// AddDir adds a directory and its parents. Paths use forward slashes.
func (b *Builder) AddDir(p string) {
	p = strings.Trim(p, "/")
	if p == "" {
		return
	}
	if _, ok := b.dirs[p]; ok {
		return
	}
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	b.AddDir(parent)
	b.dirs[parent] = append(b.dirs[parent], p)
	b.dirs[p] = nil
}

// AddFile adds a file, creating its directory if needed.
func (b *Builder) AddFile(p string, data []byte) {
	p = strings.Trim(p, "/")
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	b.AddDir(parent)
	b.dirs[parent] = append(b.dirs[parent], p)
	b.files[p] = data
}

type extent struct {
	lba  uint32
	size uint32
}

// Build returns the image bytes.
func (b *Builder) Build() []byte {
	dirNames := make([]string, 0, len(b.dirs))
	for d := range b.dirs {
		dirNames = append(dirNames, d)
	}
	sort.Strings(dirNames)

	// Directory sizes only depend on their children's names.
	extents := map[string]extent{}
	next := uint32(rootLBA)
	for _, d := range dirNames {
		size := uint32(len(b.dirBlob(d, nil)))
		extents[d] = extent{lba: next, size: size}
		next += sectors(size)
	}
	fileNames := make([]string, 0, len(b.files))
	for f := range b.files {
		fileNames = append(fileNames, f)
	}
	sort.Strings(fileNames)
	for _, f := range fileNames {
		size := uint32(len(b.files[f]))
		extents[f] = extent{lba: next, size: size}
		next += max(sectors(size), 1)
	}

	image := make([]byte, int(next)*sectorSize)
	copy(image[16*sectorSize:], b.pvd(next, extents[""]))
	term := image[17*sectorSize:]
	term[0] = 0xFF
	copy(term[1:], "CD001")
	term[6] = 1

	for _, d := range dirNames {
		copy(image[int(extents[d].lba)*sectorSize:], b.dirBlob(d, extents))
	}
	for _, f := range fileNames {
		copy(image[int(extents[f].lba)*sectorSize:], b.files[f])
	}
	return image
}

func sectors(size uint32) uint32 {
	return (size + sectorSize - 1) / sectorSize
}

// dirBlob encodes a directory. With nil extents every block and size is
// zero, which is enough to measure it.
func (b *Builder) dirBlob(d string, extents map[string]extent) []byte {
	self := extents[d]
	parentName := path.Dir(d)
	if parentName == "." || d == "" {
		parentName = ""
	}
	parent := extents[parentName]

	records := [][]byte{
		b.record("\x00", self, true),
		b.record("\x01", parent, true),
	}
	children := append([]string(nil), b.dirs[d]...)
	sort.Strings(children)
	for _, c := range children {
		name := strings.ToUpper(path.Base(c))
		if _, isFile := b.files[c]; isFile {
			records = append(records, b.record(name+";1", extents[c], false))
		} else {
			records = append(records, b.record(name, extents[c], true))
		}
	}

	// Records never straddle a sector boundary.
	var blob []byte
	for _, r := range records {
		if used := len(blob) % sectorSize; used+len(r) > sectorSize {
			blob = append(blob, make([]byte, sectorSize-used)...)
		}
		blob = append(blob, r...)
	}
	if rem := len(blob) % sectorSize; rem != 0 {
		blob = append(blob, make([]byte, sectorSize-rem)...)
	}
	return blob
}

// Record builds one directory record. Exported for tests that need to lay
// out a directory by hand.
func Record(name string, lba, size uint32, dir bool, mtime [7]byte) []byte {
	n := len(name)
	length := 33 + n
	if n%2 == 0 {
		length++
	}
	r := make([]byte, length)
	r[0] = byte(length)
	binary.LittleEndian.PutUint32(r[2:], lba)
	binary.BigEndian.PutUint32(r[6:], lba)
	binary.LittleEndian.PutUint32(r[10:], size)
	binary.BigEndian.PutUint32(r[14:], size)
	copy(r[18:25], mtime[:])
	if dir {
		r[25] = 0x02
	}
	binary.LittleEndian.PutUint16(r[28:], 1)
	binary.BigEndian.PutUint16(r[30:], 1)
	r[32] = byte(n)
	copy(r[33:], name)
	return r
}

func (b *Builder) record(name string, e extent, dir bool) []byte {
	lba := e.lba
	if lba != 0 {
		lba += b.StartLBA
	}
	return Record(name, lba, e.size, dir, b.recordTime())
}

func (b *Builder) recordTime() [7]byte {
	t := b.ModTime
	return [7]byte{
		byte(t.Year() - 1900), byte(t.Month()), byte(t.Day()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()), byte(b.Timezone),
	}
}

func padded(s string, n int) []byte {
	out := []byte(strings.Repeat(" ", n))
	copy(out, s)
	return out
}

func (b *Builder) pvd(volumeBlocks uint32, root extent) []byte {
	s := make([]byte, sectorSize)
	s[0] = 1
	copy(s[1:], "CD001")
	s[6] = 1
	copy(s[8:40], padded(b.SystemID, 32))
	copy(s[40:72], padded(b.VolumeID, 32))
	binary.LittleEndian.PutUint32(s[80:], volumeBlocks)
	binary.BigEndian.PutUint32(s[84:], volumeBlocks)
	binary.LittleEndian.PutUint16(s[120:], 1)
	binary.BigEndian.PutUint16(s[122:], 1)
	binary.LittleEndian.PutUint16(s[124:], 1)
	binary.BigEndian.PutUint16(s[126:], 1)
	binary.LittleEndian.PutUint16(s[128:], sectorSize)
	binary.BigEndian.PutUint16(s[130:], sectorSize)
	copy(s[156:], b.record("\x00", root, true))
	for _, f := range [][2]int{{190, 318}, {318, 446}, {446, 574}, {574, 702}, {702, 739}, {739, 776}, {776, 813}} {
		copy(s[f[0]:f[1]], padded("", f[1]-f[0]))
	}
	stamp := []byte(b.ModTime.Format("20060102150405") + "00")
	copy(s[813:], stamp)
	copy(s[830:], stamp)
	copy(s[847:], padded("0000000000000000", 16))
	copy(s[864:], padded("0000000000000000", 16))
	s[881] = 1
	return s
}
