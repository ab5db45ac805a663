package multitrack

import (
	"encoding/binary"
	"os"
	"path"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/iso/isotest"
	"github.com/spf13/afero"
)

// recordingFs remembers the base name of every file opened through it.
type recordingFs struct {
	afero.Fs
	opened []string
}

func (fs *recordingFs) Open(name string) (afero.File, error) {
	fs.opened = append(fs.opened, path.Base(name))
	return fs.Fs.Open(name)
}

func (fs *recordingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.opened = append(fs.opened, path.Base(name))
	return fs.Fs.OpenFile(name, flag, perm)
}

// trackImage builds a small ISO-9660 volume whose directory records point
// at absolute LBAs starting from startLBA.
func trackImage(startLBA uint32, system string) []byte {
	b := isotest.New(system, "TRACK")
	b.StartLBA = startLBA
	b.AddFile("1ST_READ.BIN", []byte("boot"))
	b.AddFile("DATA/SOUND.BIN", []byte{9, 8, 7})
	return b.Build()
}

// sectors stores cooked 2048-byte blocks in the given sector format, with
// raw sectors as mode 1.
func sectors(cooked []byte, sectorSize int, firstLBA uint32) []byte {
	if sectorSize == common.CDDataSize {
		return cooked
	}
	count := len(cooked) / common.CDDataSize
	out := make([]byte, count*sectorSize)
	for i := 0; i < count; i++ {
		data := cooked[i*common.CDDataSize : (i+1)*common.CDDataSize]
		s := out[i*sectorSize:]
		switch sectorSize {
		case common.CDMode2SectorSize:
			copy(s[common.CDMode2336DataSkip:], data)
		default:
			copy(s, common.CDSyncPattern)
			m, sec, f := common.LBAToMSFParts(firstLBA + uint32(i))
			s[12] = common.Uint8ToBCD(uint8(m))
			s[13] = common.Uint8ToBCD(uint8(sec))
			s[14] = common.Uint8ToBCD(uint8(f))
			s[15] = 1
			copy(s[common.CDMode1DataOffset:], data)
		}
	}
	return out
}

type cdiTestTrack struct {
	mode        uint32 // 0 for audio
	startLBA    uint32
	pregap      uint32
	readMode    uint32
	sectorBytes []byte // pregap plus data, already in the sector format
}

func cdiSectorSize(readMode uint32) int { return cdiSectorSizes[readMode] }

// buildCdi lays the tracks back to back and appends a single-session
// header and the footer.
func buildCdi(version uint32, tracks []cdiTestTrack) []byte {
	var image []byte
	for _, t := range tracks {
		image = append(image, t.sectorBytes...)
	}

	le16 := func(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
	le32 := func(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }

	var hdr []byte
	hdr = le16(hdr, 1)
	hdr = le16(hdr, uint16(len(tracks)))
	for _, t := range tracks {
		ss := cdiSectorSize(t.readMode)
		total := uint32(len(t.sectorBytes) / ss)

		hdr = le32(hdr, 0)
		hdr = append(hdr, cdiTrackStartMark...)
		hdr = append(hdr, cdiTrackStartMark...)
		hdr = append(hdr, make([]byte, 4)...)
		name := "track.iso"
		hdr = append(hdr, byte(len(name)))
		hdr = append(hdr, name...)
		hdr = append(hdr, make([]byte, 11+4+4)...)
		hdr = le32(hdr, 0)
		hdr = le16(hdr, 2)
		hdr = le32(hdr, t.pregap)
		hdr = le32(hdr, total-t.pregap)

		fields := make([]byte, cdiLengthFieldLen)
		binary.LittleEndian.PutUint32(fields[6:], t.mode)
		binary.LittleEndian.PutUint32(fields[22:], t.startLBA)
		binary.LittleEndian.PutUint32(fields[26:], total)
		binary.LittleEndian.PutUint32(fields[46:], t.readMode)
		hdr = append(hdr, fields...)

		hdr = append(hdr, make([]byte, 29)...)
		if version != CdiV2 {
			hdr = append(hdr, make([]byte, 5)...)
			hdr = le32(hdr, 0)
		}
	}
	hdr = append(hdr, make([]byte, 12)...)
	if version != CdiV2 {
		hdr = append(hdr, 0)
	}

	image = append(image, hdr...)
	image = le32(image, version)
	image = le32(image, uint32(len(hdr)+cdiFooterSize))
	return image
}
