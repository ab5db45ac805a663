package pkg

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/iso/isotest"
	"github.com/hansbonini/romdisc/pkg/psx"
	"github.com/hansbonini/romdisc/pkg/xdvdfs"
	"github.com/spf13/afero"
)

const (
	testPC0    = 0x80010000
	testRegion = "Sony Computer Entertainment Inc. for Europe area"
)

func psxExe() []byte {
	exe := make([]byte, psx.ExeHeaderSize+0x800)
	copy(exe, psx.ExeMagic)
	binary.LittleEndian.PutUint32(exe[0x10:], testPC0)
	binary.LittleEndian.PutUint32(exe[0x18:], testPC0)
	binary.LittleEndian.PutUint32(exe[0x1C:], 0x800)
	binary.LittleEndian.PutUint32(exe[0x30:], 0x801FFFF0)
	copy(exe[0x4C:], testRegion)
	return exe
}

// psxImage is a cooked PlayStation disc with a boot file and one
// subdirectory.
func psxImage() []byte {
	b := isotest.New("PLAYSTATION", "SLES_000.01")
	b.AddFile("SYSTEM.CNF", []byte("BOOT = cdrom:\\SLES_000.01;1\r\nTCB = 4\r\nEVENT = 10\r\n"))
	b.AddFile("SLES_000.01", psxExe())
	b.AddFile("DATA/A.BIN", []byte("hello"))
	b.AddDir("EMPTY")
	return b.Build()
}

// rawSectors stores cooked blocks as mode 1 raw sectors.
func rawSectors(cooked []byte, firstLBA uint32) []byte {
	count := len(cooked) / common.CDDataSize
	out := make([]byte, count*common.CDSectorSize)
	for i := 0; i < count; i++ {
		s := out[i*common.CDSectorSize:]
		copy(s, common.CDSyncPattern)
		m, sec, f := common.LBAToMSFParts(firstLBA + uint32(i))
		s[12] = common.Uint8ToBCD(uint8(m))
		s[13] = common.Uint8ToBCD(uint8(sec))
		s[14] = common.Uint8ToBCD(uint8(f))
		s[15] = 1
		copy(s[common.CDMode1DataOffset:], cooked[i*common.CDDataSize:(i+1)*common.CDDataSize])
	}
	return out
}

// cisoImage wraps cooked data in a CISO v1 container whose blocks are all
// stored uncompressed.
func cisoImage(cooked []byte) []byte {
	const blockSize = common.CDDataSize
	blocks := len(cooked) / blockSize

	var buf bytes.Buffer
	buf.WriteString("CISO")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x18))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(cooked)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(blockSize))
	buf.Write([]byte{1, 0, 0, 0})

	pos := uint32(0x18 + (blocks+1)*4)
	for i := 0; i < blocks; i++ {
		_ = binary.Write(&buf, binary.LittleEndian, pos|0x80000000)
		pos += blockSize
	}
	_ = binary.Write(&buf, binary.LittleEndian, pos)
	buf.Write(cooked)
	return buf.Bytes()
}

// gcnImage is a GameCube CISO with a single used block and no filesystem
// this tool understands.
func gcnImage() []byte {
	const blockSize = 0x8000
	image := make([]byte, 0x8000+blockSize)
	copy(image, "CISO")
	binary.LittleEndian.PutUint32(image[4:], blockSize)
	image[8] = 1
	copy(image[0x8000:], "GALE01")
	return image
}

// xisoImage is an extracted Xbox game partition holding DEFAULT.XBE.
func xisoImage() []byte {
	const name = "DEFAULT.XBE"
	image := make([]byte, 35*xdvdfs.BlockSize)

	hdr := image[xdvdfs.HeaderLBA*xdvdfs.BlockSize:]
	copy(hdr, xdvdfs.Magic)
	binary.LittleEndian.PutUint32(hdr[0x14:], 33)
	binary.LittleEndian.PutUint32(hdr[0x18:], 28)
	copy(hdr[0x7EC:], xdvdfs.Magic)

	root := image[33*xdvdfs.BlockSize:]
	binary.LittleEndian.PutUint32(root[4:], 34)
	binary.LittleEndian.PutUint32(root[8:], 4)
	root[13] = byte(len(name))
	copy(root[14:], name)
	for i := 14 + len(name); i < 28; i++ {
		root[i] = 0xFF
	}

	copy(image[34*xdvdfs.BlockSize:], "XBEH")
	return image
}

// gdiFiles is a three-track GD-ROM whose high-density area holds a
// filesystem in track 3. Track 1 has its own small filesystem.
func gdiFiles() map[string][]byte {
	low := isotest.New("SEGA SEGAKATANA", "LOW")
	low.AddFile("README.TXT", []byte("low density"))

	high := isotest.New("SEGA SEGAKATANA", "HIGH")
	high.StartLBA = 45000
	high.AddFile("1ST_READ.BIN", []byte("boot"))

	return map[string][]byte{
		"disc.gdi": []byte("3\r\n" +
			"1 0 4 2048 track01.iso 0\r\n" +
			"2 450 0 2352 track02.raw 0\r\n" +
			"3 45000 4 2352 track03.bin 0\r\n"),
		"track01.iso": low.Build(),
		"track02.raw": make([]byte, 4*common.CDSectorSize),
		"track03.bin": rawSectors(high.Build(), 45000),
	}
}

// newTestFs writes files below /img.
func newTestFs(t *testing.T, files map[string][]byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, data := range files {
		if err := afero.WriteFile(fs, "/img/"+name, data, 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return fs
}
