// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package media

// Address map of the save hardware as seen from the Bus. Drivers issue
// accesses against these addresses; whatever implements Bus decodes
// them on the other side.
const (
	// BackupBase is the start of the 64 KiB backup window shared by
	// battery SRAM and flash media.
	BackupBase uint32 = 0x0E000000

	// FlashPortBank receives the bank number after FlashCmdSetBank.
	FlashPortBank uint32 = 0x0E000000
	// FlashPortA and FlashPortB are the magic addresses flash chips
	// watch for command sequences.
	FlashPortA uint32 = 0x0E005555
	FlashPortB uint32 = 0x0E002AAA

	// EepromPort is the 16-bit serial port EEPROM media are wired to.
	// Only the least significant bit of each transfer carries data.
	EepromPort uint32 = 0x0DFFFF00
)

// Flash media larger than the backup window are split into banks
// selected through FlashPortBank.
const (
	FlashBankShift = 16
	FlashBankSize  = 1 << FlashBankShift
)

// Flash command bytes. Each command is announced by writing
// FlashPrefix1 to FlashPortA and FlashPrefix2 to FlashPortB first.
const (
	FlashPrefix1 byte = 0xAA
	FlashPrefix2 byte = 0x55

	FlashCmdSetBank            byte = 0xB0
	FlashCmdReadChipID         byte = 0x90
	FlashCmdReadContents       byte = 0xF0
	FlashCmdWrite              byte = 0xA0
	FlashCmdEraseSectorBegin   byte = 0x80
	FlashCmdEraseSectorConfirm byte = 0x30
	FlashCmdEraseChip          byte = 0x10
)

// Known flash chip identifiers, (device << 8) | manufacturer.
const (
	ChipSST64K       uint16 = 0xD4BF
	ChipMacronix64K  uint16 = 0x1CC2
	ChipPanasonic64K uint16 = 0x1B32
	ChipAtmel64K     uint16 = 0x3D1F
	ChipSanyo128K    uint16 = 0x1362
	ChipMacronix128K uint16 = 0x09C2
)

// Capacity returns the byte capacity of the medium.
func (t MediaType) Capacity() int {
	switch t {
	case Sram:
		return 32 * 1024
	case Flash64K:
		return 64 * 1024
	case Flash128K:
		return 128 * 1024
	case Eeprom512B:
		return 512
	case Eeprom8K:
		return 8 * 1024
	default:
		return 0
	}
}
