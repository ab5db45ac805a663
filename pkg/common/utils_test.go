// Package common provides tests for utility functions
package common

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestValidateMagic(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		magic    string
		hasError bool
	}{
		{"ciso", []byte("CISO\x18\x00\x00\x00"), "CISO", false},
		{"dax with nul", []byte("DAX\x00rest"), "DAX\x00", false},
		{"wrong format", []byte("ZISO"), "CISO", true},
		{"case sensitive", []byte("ciso"), "CISO", true},
		{"truncated", []byte("CI"), "CISO", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMagic(tc.data, tc.magic)
			if tc.hasError && err == nil {
				t.Errorf("ValidateMagic(%q, %q) should fail", tc.data, tc.magic)
			}
			if !tc.hasError && err != nil {
				t.Errorf("ValidateMagic(%q, %q) failed: %v", tc.data, tc.magic, err)
			}
		})
	}
}

func TestReadUint16LE(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected uint16
		hasError bool
	}{
		{"normal value", []byte{0x34, 0x12}, 0x1234, false},
		{"zero value", []byte{0x00, 0x00}, 0x0000, false},
		{"max value", []byte{0xFF, 0xFF}, 0xFFFF, false},
		{"incomplete data", []byte{0x34}, 0, true},
		{"empty data", []byte{}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ReadUint16LE(bytes.NewReader(tc.data))

			if tc.hasError {
				if err == nil {
					t.Errorf("ReadUint16LE() should fail with data %v", tc.data)
				}
				return
			}
			if err != nil {
				t.Errorf("ReadUint16LE() failed: %v", err)
			}
			if result != tc.expected {
				t.Errorf("ReadUint16LE() = 0x%04X, want 0x%04X", result, tc.expected)
			}
		})
	}
}

func TestReadUint32LE(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected uint32
		hasError bool
	}{
		{"normal value", []byte{0x78, 0x56, 0x34, 0x12}, 0x12345678, false},
		{"cdi v3 tag", []byte{0x05, 0x00, 0x00, 0x80}, 0x80000005, false},
		{"incomplete data", []byte{0x78, 0x56, 0x34}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ReadUint32LE(bytes.NewReader(tc.data))

			if tc.hasError {
				if err == nil {
					t.Errorf("ReadUint32LE() should fail with data %v", tc.data)
				}
				return
			}
			if err != nil {
				t.Errorf("ReadUint32LE() failed: %v", err)
			}
			if result != tc.expected {
				t.Errorf("ReadUint32LE() = 0x%08X, want 0x%08X", result, tc.expected)
			}
		})
	}
}

func TestReadBytesAndSkip(t *testing.T) {
	reader := bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	if err := SkipBytes(reader, 2); err != nil {
		t.Fatalf("SkipBytes() failed: %v", err)
	}
	got, err := ReadBytes(reader, 2)
	if err != nil {
		t.Fatalf("ReadBytes() failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x03, 0x04}) {
		t.Errorf("ReadBytes() = %v, want [3 4]", got)
	}
	if _, err := ReadBytes(reader, 2); err == nil {
		t.Error("ReadBytes() past the end should fail")
	}
	if err := SkipBytes(bytes.NewReader(nil), 1); err != io.EOF {
		t.Errorf("SkipBytes() on empty reader = %v, want io.EOF", err)
	}
}

func TestReadUint8(t *testing.T) {
	var buffer bytes.Buffer
	binary.Write(&buffer, binary.LittleEndian, uint8(0xAB))

	got, err := ReadUint8(&buffer)
	if err != nil {
		t.Fatalf("ReadUint8() failed: %v", err)
	}
	if got != 0xAB {
		t.Errorf("ReadUint8() = 0x%02X, want 0xAB", got)
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	testCases := []struct {
		value    uint64
		expected bool
	}{
		{0, false},
		{1, true},
		{2048, true},
		{2352, false},
		{1 << 24, true},
		{(1 << 24) + 1, false},
	}

	for _, tc := range testCases {
		if got := IsPowerOfTwo(tc.value); got != tc.expected {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", tc.value, got, tc.expected)
		}
	}
}

func TestCompareFoldASCII(t *testing.T) {
	testCases := []struct {
		a, b     string
		expected int
	}{
		{"apple", "APPLE", 0},
		{"apple", "MIDDLE", -1},
		{"zebra", "MIDDLE", 1},
		{"ABC", "ABCD", -1},
		{"a_b", "A_B", 0},
		{"\xe9", "\xc9", 1},  // cp1252 letters are not folded
		{"\xe9T", "ABC", -1}, // high bytes are signed
		{"Z", "\x80", 1},
	}

	for _, tc := range testCases {
		if got := CompareFoldASCII(tc.a, tc.b); got != tc.expected {
			t.Errorf("CompareFoldASCII(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.expected)
		}
	}

	if !EqualFoldASCII("system.cnf", "SYSTEM.CNF") {
		t.Error("EqualFoldASCII should ignore ASCII case")
	}
	if EqualFoldASCII("FOO.TXT", "FOO.TXM") {
		t.Error("EqualFoldASCII matched different names")
	}
}
