// Package psx provides PlayStation-specific structures and functionality.
// This file contains the on-disc structures of PlayStation 1 and 2 discs.
package psx

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/hansbonini/romdisc/pkg/common"
)

// Console is the PlayStation generation a disc boots on.
type Console int

const (
	ConsoleUnknown Console = iota
	ConsolePS1
	ConsolePS2
)

func (c Console) String() string {
	switch c {
	case ConsolePS1:
		return "PS1"
	case ConsolePS2:
		return "PS2"
	}
	return "unknown"
}

// MarshalYAML writes the console name.
func (c Console) MarshalYAML() (interface{}, error) { return c.String(), nil }

// System IDs found in the PVD of PlayStation discs. Some PS2 prototypes
// carry the CD-i or Win32 IDs.
var systemIDs = []string{
	"PLAYSTATION ",
	"CD-RTOS CD-BRIDGE ",
	"Win32 ",
}

// IsSystemID reports whether a raw 32-byte PVD system ID field belongs to a
// PlayStation disc. The rest of the field must be spaces or NULs.
func IsSystemID(sysID []byte) bool {
	for _, id := range systemIDs {
		if len(sysID) < len(id) || string(sysID[:len(id)]) != id {
			continue
		}
		return len(bytes.Trim(sysID[len(id):], " \x00")) == 0
	}
	return false
}

// PS-X EXE layout constants
const (
	ExeMagic      = "PS-X EXE"
	ExeHeaderSize = 0x800
	exeRegionOff  = 0x4C
)

// exeHeaderRaw is the fixed part of a PS-X EXE header.
type exeHeaderRaw struct {
	Magic     [8]byte  // "PS-X EXE"
	TextOff   uint32   // Unused
	DataOff   uint32   // Unused
	PC0       uint32   // Initial program counter
	GP0       uint32   // Initial global pointer
	TextAddr  uint32   // Load address of the text segment
	TextSize  uint32   // Text segment size
	DataAddr  uint32   // Data segment, usually zero
	DataSize  uint32   // Data segment size
	BssAddr   uint32   // BSS to clear
	BssSize   uint32   // BSS size
	StackAddr uint32   // Initial stack pointer base
	StackSize uint32   // Added to StackAddr
	Reserved  [20]byte // SavedSP, SavedFP, SavedGP, SavedRA, SavedS0
}

// ExeHeader is a decoded PS-X EXE header.
type ExeHeader struct {
	PC0       uint32 `yaml:"pc0"`
	GP0       uint32 `yaml:"gp0"`
	TextAddr  uint32 `yaml:"text_addr"`
	TextSize  uint32 `yaml:"text_size"`
	DataAddr  uint32 `yaml:"data_addr,omitempty"`
	DataSize  uint32 `yaml:"data_size,omitempty"`
	BssAddr   uint32 `yaml:"bss_addr,omitempty"`
	BssSize   uint32 `yaml:"bss_size,omitempty"`
	StackAddr uint32 `yaml:"stack_addr"`
	StackSize uint32 `yaml:"stack_size,omitempty"`
	Region    string `yaml:"region,omitempty"`
}

// ParseExeHeader decodes the header of a PS-X EXE. data must hold the whole
// 0x800-byte header.
func ParseExeHeader(data []byte) (*ExeHeader, error) {
	if len(data) < ExeHeaderSize {
		return nil, common.WrapErrno(common.ErrIO, "%s: %d bytes", common.ErrInvalidExecutable, len(data))
	}
	var raw exeHeaderRaw
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrInvalidExecutable, err)
	}
	if err := common.ValidateMagic(raw.Magic[:], ExeMagic); err != nil {
		return nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrInvalidExecutable, err)
	}

	region := data[exeRegionOff:ExeHeaderSize]
	if i := bytes.IndexByte(region, 0); i >= 0 {
		region = region[:i]
	}
	return &ExeHeader{
		PC0:       raw.PC0,
		GP0:       raw.GP0,
		TextAddr:  raw.TextAddr,
		TextSize:  raw.TextSize,
		DataAddr:  raw.DataAddr,
		DataSize:  raw.DataSize,
		BssAddr:   raw.BssAddr,
		BssSize:   raw.BssSize,
		StackAddr: raw.StackAddr,
		StackSize: raw.StackSize,
		Region:    strings.TrimSpace(string(region)),
	}, nil
}
