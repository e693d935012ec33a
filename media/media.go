// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package media defines the shared vocabulary for cartridge save media:
// media descriptors, the error set, the cartridge bus, the low-level
// driver contract and the hardware-timer-bounded Timeout that caps
// status polls against unresponsive chips.
package media

import (
	"errors"
	"fmt"
)

// MediaType identifies the kind of save media installed in a cartridge.
type MediaType int

const (
	// Sram is battery-backed static RAM: byte-addressable, no erase cycle.
	Sram MediaType = iota
	// Flash64K is a 64 KiB flash chip requiring sector erase before writes.
	Flash64K
	// Flash128K is a 128 KiB flash chip with two 64 KiB banks.
	Flash128K
	// Eeprom512B is a 512 byte serial EEPROM behind a bit-clocked port.
	Eeprom512B
	// Eeprom8K is an 8 KiB serial EEPROM behind a bit-clocked port.
	Eeprom8K
)

func (t MediaType) String() string {
	switch t {
	case Sram:
		return "sram"
	case Flash64K:
		return "flash64k"
	case Flash128K:
		return "flash128k"
	case Eeprom512B:
		return "eeprom512b"
	case Eeprom8K:
		return "eeprom8k"
	default:
		return fmt.Sprintf("mediatype(%d)", int(t))
	}
}

// ParseMediaType converts a configuration string into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	switch s {
	case "sram":
		return Sram, nil
	case "flash64k":
		return Flash64K, nil
	case "flash128k":
		return Flash128K, nil
	case "eeprom512b":
		return Eeprom512B, nil
	case "eeprom8k":
		return Eeprom8K, nil
	default:
		return 0, fmt.Errorf("unknown media type %q", s)
	}
}

// Info describes the physical characteristics of a save medium.
type Info struct {
	// MediaType is the kind of media installed.
	MediaType MediaType
	// SectorShift is the power-of-two size of each sector. Zero means
	// the media is byte-addressable and has no erase sectors.
	SectorShift uint
	// SectorCount is the size of the medium, in sectors.
	SectorCount int
	// UsesPrepareWrite reports whether sectors must be erased before
	// their bytes can be programmed.
	UsesPrepareWrite bool
}

// SectorSize returns the size of one sector in bytes. Writes aligned to
// the sector size avoid read-modify-write cycles on sectored media.
func (i Info) SectorSize() int {
	return 1 << i.SectorShift
}

// Len returns the total byte capacity of the medium.
func (i Info) Len() int {
	return i.SectorCount << i.SectorShift
}

// The save media error set. Hardware-boundary errors (ErrTimeout,
// ErrVerifyFailed) mean the physical medium misbehaved or is absent;
// the others signal a caller mistake. All of them are ordinary results,
// never panics: a bad cartridge must not crash a running game.
var (
	ErrOutOfBounds    = errors.New("media: access out of bounds")
	ErrTimeout        = errors.New("media: operation timed out")
	ErrMediaInUse     = errors.New("media: media already in use")
	ErrVerifyFailed   = errors.New("media: hardware verify failed")
	ErrNotInitialized = errors.New("media: save media not initialized")
	ErrConfigMismatch = errors.New("media: stored configuration does not match")
)

// Bus is the cartridge save port: the 8-bit data window at the top of
// the address space plus the 16-bit serial port used by EEPROM carts.
// Drivers perform all hardware access through a Bus and never hand raw
// addresses to callers.
//
// A Bus implementation is expected to tolerate any address thrown at
// it the way open hardware does; the drivers still bounds-check every
// caller-supplied offset before touching the bus.
type Bus interface {
	Read8(addr uint32) byte
	Write8(addr uint32, v byte)
	Read16(addr uint32) uint16
	Write16(addr uint32, v uint16)
}

// Access is the low-level driver contract implemented once per medium.
// Offsets are byte offsets from the start of the medium; every method
// validates bounds before the first hardware access.
type Access interface {
	// Info describes the attached medium.
	Info() (Info, error)

	// Read copies len(buf) bytes starting at offset into buf.
	Read(offset int, buf []byte, t *Timeout) error

	// Verify compares the medium against buf without exposing the
	// on-media bytes. A mismatch is a result, not an error.
	Verify(offset int, buf []byte, t *Timeout) (bool, error)

	// PrepareWrite readies [offset, offset+length) for programming.
	// On sector-erased flash this erases every overlapped sector; on
	// other media it is a no-op.
	PrepareWrite(offset, length int, t *Timeout) error

	// Write programs len(buf) bytes at offset. Sectored media must be
	// prepared over the same range first; violating that is a caller
	// bug the driver is not required to detect.
	Write(offset int, buf []byte, t *Timeout) error
}

// CheckBounds returns ErrOutOfBounds unless [offset, offset+length)
// lies inside a medium of the given capacity. The comparison is
// arranged so offset+length is never computed, which keeps a huge
// length from wrapping past the capacity check.
func CheckBounds(offset, length, capacity int) error {
	if offset < 0 || length < 0 || offset > capacity-length {
		return ErrOutOfBounds
	}
	return nil
}
