// Package common provides common utilities for CD-ROM operations.
// This file contains MSF/BCD conversion, raw sector layout helpers and
// ISO-9660 name utilities.
package common

import (
	"bytes"
	"fmt"
	"strings"
)

// Raw CD-ROM sector geometry
const (
	CDSectorSize       = 2352 // Raw sector: sync + header + payload
	CDSubchannelSize   = 96   // P-W subchannel data appended by some dumpers
	CDSectorSizeSubch  = CDSectorSize + CDSubchannelSize
	CDMode2SectorSize  = 2336 // Mode 2 sector without sync and header (CDI)
	CDDataSize         = 2048 // User data in Mode 1 and Mode 2 Form 1
	CDSyncSize         = 12
	CDHeaderSize       = 4
	CDSubheaderSize    = 8
	CDMode1DataOffset  = CDSyncSize + CDHeaderSize
	CDMode2DataOffset  = CDSyncSize + CDHeaderSize + CDSubheaderSize
	CDMode2336DataSkip = CDSubheaderSize

	// MSF 00:02:00 is LBA 0
	CDPregapFrames   = 150
	CDFramesPerSec   = 75
	CDSecondsPerMin  = 60
	CDFramesPerMinut = CDFramesPerSec * CDSecondsPerMin
)

// CDSyncPattern is the 12-byte sync field at the start of every raw data sector.
var CDSyncPattern = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// HasCDSync reports whether buf starts with the CD-ROM sync pattern.
func HasCDSync(buf []byte) bool {
	return len(buf) >= CDSyncSize && bytes.Equal(buf[:CDSyncSize], CDSyncPattern)
}

// SectorDataOffset returns the offset of the user data within a raw
// 2352-byte sector. Mode 2 (XA) sectors carry an 8-byte subheader after the
// header; every other mode is treated as Mode 1.
func SectorDataOffset(sector []byte) int {
	if len(sector) > 15 && sector[15] == 2 {
		return CDMode2DataOffset
	}
	return CDMode1DataOffset
}

// LBAToMSF converts LBA (Logical Block Address) to MSF (Minutes:Seconds:Frames) format
// LBA to MSF conversion: LBA + 150 (pregap)
func LBAToMSF(lba uint32) string {
	m, s, f := LBAToMSFParts(lba)
	return fmt.Sprintf("%02d:%02d:%02d", m, s, f)
}

// LBAToMSFParts splits an LBA into its minute, second and frame fields.
func LBAToMSFParts(lba uint32) (minutes, seconds, frames uint32) {
	totalFrames := lba + CDPregapFrames

	minutes = totalFrames / CDFramesPerMinut
	seconds = (totalFrames % CDFramesPerMinut) / CDFramesPerSec
	frames = totalFrames % CDFramesPerSec
	return minutes, seconds, frames
}

// MSFToLBA converts MSF fields to an LBA: frames = (M*60+S)*75+F-150.
func MSFToLBA(minutes, seconds, frames uint32) int64 {
	return int64((minutes*CDSecondsPerMin+seconds)*CDFramesPerSec+frames) - CDPregapFrames
}

// BCDToUint8 decodes a packed BCD byte. Returns false for invalid nibbles.
func BCDToUint8(b byte) (uint8, bool) {
	hi, lo := b>>4, b&0x0F
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}

// Uint8ToBCD encodes a value below 100 as packed BCD.
func Uint8ToBCD(v uint8) byte {
	return byte((v/10)<<4 | v%10)
}

// SectorHeaderLBA decodes the BCD MSF address in a raw sector header.
func SectorHeaderLBA(sector []byte) (int64, error) {
	if len(sector) < CDMode1DataOffset {
		return 0, WrapErrno(ErrInvalid, "sector header truncated")
	}
	m, okM := BCDToUint8(sector[12])
	s, okS := BCDToUint8(sector[13])
	f, okF := BCDToUint8(sector[14])
	if !okM || !okS || !okF {
		return 0, WrapErrno(ErrInvalid, "invalid BCD address %02X:%02X:%02X", sector[12], sector[13], sector[14])
	}
	return MSFToLBA(uint32(m), uint32(s), uint32(f)), nil
}

// GetSizeInSectors calculates the number of sectors needed for a given size in bytes
func GetSizeInSectors(sizeBytes uint32) uint32 {
	return (sizeBytes + CDDataSize - 1) / CDDataSize
}

// CleanFileName removes version numbers from ISO9660 file names
func CleanFileName(fileName string) string {
	// Remove version numbers (e.g., "FILE.EXT;1" -> "FILE.EXT")
	if len(fileName) > 0 && fileName[len(fileName)-1] >= '0' && fileName[len(fileName)-1] <= '9' {
		if len(fileName) > 2 && fileName[len(fileName)-2] == ';' {
			return fileName[:len(fileName)-2]
		}
	}
	return fileName
}

// IsSpecialDirEntry checks if a directory entry is "." or ".."
func IsSpecialDirEntry(fileName string) bool {
	return fileName == "\x00" || fileName == "\x01"
}

// TrimPadded trims trailing spaces and NULs from a fixed-width field.
func TrimPadded(field []byte) string {
	return strings.TrimRight(string(field), " \x00")
}

// NormalizePath converts a disc path to the form used as a directory cache
// key: forward slashes, no leading or trailing slash. The root is "".
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.Trim(path, "/")
}
