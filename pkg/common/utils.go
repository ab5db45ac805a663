package common

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ValidateMagic checks that data starts with the expected magic bytes
func ValidateMagic(data []byte, magic string) error {
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		n := len(magic)
		if len(data) < n {
			n = len(data)
		}
		return fmt.Errorf("%s: expected '%s', got '%s'", ErrInvalidMagic, magic, string(data[:n]))
	}
	return nil
}

// ReadUint16LE reads a uint16 in little-endian format
func ReadUint16LE(reader io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(reader, binary.LittleEndian, &value)
	return value, err
}

// ReadUint32LE reads a uint32 in little-endian format
func ReadUint32LE(reader io.Reader) (uint32, error) {
	var value uint32
	err := binary.Read(reader, binary.LittleEndian, &value)
	return value, err
}

// ReadUint8 reads a single byte
func ReadUint8(reader io.Reader) (uint8, error) {
	var value uint8
	err := binary.Read(reader, binary.LittleEndian, &value)
	return value, err
}

// ReadBytes reads a specified number of bytes
func ReadBytes(reader io.Reader, count int) ([]byte, error) {
	buffer := make([]byte, count)
	n, err := io.ReadFull(reader, buffer)
	if err != nil {
		return nil, err
	}
	if n != count {
		return nil, fmt.Errorf("expected to read %d bytes, got %d", count, n)
	}
	return buffer, nil
}

// SkipBytes skips a specified number of bytes in the reader
func SkipBytes(reader io.Reader, count int) error {
	_, err := io.CopyN(io.Discard, reader, int64(count))
	return err
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// CompareFoldASCII compares a and b after uppercasing 'a'-'z' only. Other
// bytes, including cp1252 letters, are not folded. Bytes compare as signed
// chars, so 0x80-0xFF sort before ASCII as they do in XDVDFS directory trees.
func CompareFoldASCII(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := int8(upperASCII(a[i])), int8(upperASCII(b[i]))
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// EqualFoldASCII reports whether a and b are equal under CompareFoldASCII.
func EqualFoldASCII(a, b string) bool {
	return len(a) == len(b) && CompareFoldASCII(a, b) == 0
}
