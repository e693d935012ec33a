// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package save implements game save storage on top of the cartridge
// media drivers. A Manager binds one medium, formats or validates the
// on-media header and hands out exclusive access sessions; SlotManager
// and Save lay typed, checksummed records out inside the medium.
package save

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ffutop/cartsave/crc"
	"github.com/ffutop/cartsave/media"
	"github.com/ffutop/cartsave/media/eeprom"
	"github.com/ffutop/cartsave/media/flash"
	"github.com/ffutop/cartsave/media/sram"
)

// Magic identifies the owning game. It is stored in the media header
// and folded into every record checksum, so records written by another
// title never validate.
type Magic [32]byte

// MagicString builds a Magic from s, zero padded. Strings longer than
// the magic are truncated.
func MagicString(s string) Magic {
	var m Magic
	copy(m[:], s)
	return m
}

func (m Magic) String() string {
	return string(bytes.TrimRight(m[:], "\x00"))
}

const (
	headerLen     = 40 // magic + slot count + min sector size + checksum
	headerBodyLen = headerLen - 2
)

// header is the fixed-size descriptor stored at offset 0 of the medium.
// It records the configuration the medium was formatted with so a later
// open can detect an incompatible caller.
type header struct {
	magic         Magic
	slotCount     uint16
	minSectorSize uint32
}

func (h header) encode() []byte {
	buf := make([]byte, headerLen)
	copy(buf[0:32], h.magic[:])
	binary.LittleEndian.PutUint16(buf[32:34], h.slotCount)
	binary.LittleEndian.PutUint32(buf[34:38], h.minSectorSize)
	var c crc.CRC
	binary.LittleEndian.PutUint16(buf[headerBodyLen:], c.Reset().PushBytes(buf[:headerBodyLen]).Value())
	return buf
}

// decodeHeader parses buf. ok is false when the checksum does not
// match, which covers both a blank medium and a damaged header.
func decodeHeader(buf []byte) (h header, ok bool) {
	if len(buf) != headerLen {
		return header{}, false
	}
	var c crc.CRC
	if c.Reset().PushBytes(buf[:headerBodyLen]).Value() != binary.LittleEndian.Uint16(buf[headerBodyLen:]) {
		return header{}, false
	}
	copy(h.magic[:], buf[0:32])
	h.slotCount = binary.LittleEndian.Uint16(buf[32:34])
	h.minSectorSize = binary.LittleEndian.Uint32(buf[34:38])
	return h, true
}

// layout is the record geometry derived from the medium and the
// caller's configuration. All offsets are multiples of step, which is
// itself a multiple of the hardware sector size, so no record region
// ever shares an erase sector with its neighbour.
type layout struct {
	step         int // record granularity in bytes
	headerEnd    int // first byte past the reserved header region
	slotSize     int // bytes per slot, zero when no slots are configured
	profileStart int // first byte of the profile region
	capacity     int
}

func roundUpTo(n, step int) int {
	return (n + step - 1) / step * step
}

func computeLayout(info media.Info, numSlots, minSectorSize int) (layout, error) {
	if numSlots < 0 || minSectorSize < 0 {
		return layout{}, fmt.Errorf("save: negative geometry (%d slots, min sector size %d): %w",
			numSlots, minSectorSize, media.ErrConfigMismatch)
	}
	step := info.SectorSize()
	if minSectorSize > step {
		step = roundUpTo(minSectorSize, info.SectorSize())
	}
	l := layout{step: step, capacity: info.Len()}
	l.headerEnd = roundUpTo(headerLen, step)
	avail := l.capacity - l.headerEnd
	if avail < 0 {
		return layout{}, fmt.Errorf("save: %d byte medium cannot hold the header at %d byte granularity: %w",
			l.capacity, step, media.ErrConfigMismatch)
	}
	if numSlots > 0 {
		l.slotSize = avail / numSlots / step * step
		if l.slotSize < slotTagLen+1 {
			return layout{}, fmt.Errorf("save: %d slots do not fit on a %d byte medium: %w",
				numSlots, l.capacity, media.ErrConfigMismatch)
		}
	}
	l.profileStart = l.headerEnd + numSlots*l.slotSize
	return l, nil
}

// slotRegion returns the byte range of slot i.
func (l layout) slotRegion(i int) (offset, length int) {
	return l.headerEnd + i*l.slotSize, l.slotSize
}

// profileRegion returns the byte range past the last slot.
func (l layout) profileRegion() (offset, length int) {
	return l.profileStart, l.capacity - l.profileStart
}

// Manager owns one save medium. Init or Reopen binds the medium once;
// afterwards Access hands out sessions, at most one at a time. The
// zero Manager is not usable; construct one with NewManager.
//
// Methods on a Manager are safe for concurrent use. The single-session
// guarantee is what makes the media drivers safe: every hardware
// command sequence runs under one session token.
type Manager struct {
	bus     media.Bus
	backend media.Access
	timer   media.Timer
	inUse   atomic.Bool

	magic         Magic
	numSlots      int
	minSectorSize int
	layout        layout
}

// NewManager returns a Manager that will drive media on bus. The
// medium is not touched until an Init or Reopen call.
func NewManager(bus media.Bus) *Manager {
	return &Manager{bus: bus}
}

// InitSRAM binds battery-backed SRAM, formatting the header when the
// stored one does not match. timer bounds hardware polls and may be
// nil, in which case polls are unbounded.
func (m *Manager) InitSRAM(numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	return m.init(media.Sram, numSlots, magic, minSectorSize, timer)
}

// InitFlash64K binds a 64 KiB flash chip. The chip is probed; if it
// identifies as a different size the call fails with ErrConfigMismatch.
func (m *Manager) InitFlash64K(numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	return m.init(media.Flash64K, numSlots, magic, minSectorSize, timer)
}

// InitFlash128K binds a 128 KiB dual-bank flash chip.
func (m *Manager) InitFlash128K(numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	return m.init(media.Flash128K, numSlots, magic, minSectorSize, timer)
}

// InitEEPROM512B binds a 512 byte serial EEPROM.
func (m *Manager) InitEEPROM512B(numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	return m.init(media.Eeprom512B, numSlots, magic, minSectorSize, timer)
}

// InitEEPROM8K binds an 8 KiB serial EEPROM.
func (m *Manager) InitEEPROM8K(numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	return m.init(media.Eeprom8K, numSlots, magic, minSectorSize, timer)
}

func (m *Manager) backendFor(t media.MediaType) (media.Access, error) {
	switch t {
	case media.Sram:
		return sram.New(m.bus), nil
	case media.Flash64K, media.Flash128K:
		return flash.New(m.bus), nil
	case media.Eeprom512B:
		return eeprom.New512B(m.bus), nil
	case media.Eeprom8K:
		return eeprom.New8K(m.bus), nil
	default:
		return nil, fmt.Errorf("save: unknown media type %v: %w", t, media.ErrConfigMismatch)
	}
}

// open probes the medium and derives the layout shared by init and
// Reopen. It does not modify the medium.
func (m *Manager) open(t media.MediaType, numSlots, minSectorSize int) (media.Access, layout, error) {
	backend, err := m.backendFor(t)
	if err != nil {
		return nil, layout{}, err
	}
	info, err := backend.Info()
	if err != nil {
		return nil, layout{}, err
	}
	if info.MediaType != t {
		return nil, layout{}, fmt.Errorf("save: medium identifies as %v, configured as %v: %w",
			info.MediaType, t, media.ErrConfigMismatch)
	}
	lay, err := computeLayout(info, numSlots, minSectorSize)
	if err != nil {
		return nil, layout{}, err
	}
	return backend, lay, nil
}

func (m *Manager) init(t media.MediaType, numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	if m.backend != nil {
		return fmt.Errorf("save: manager already bound: %w", media.ErrConfigMismatch)
	}
	backend, lay, err := m.open(t, numSlots, minSectorSize)
	if err != nil {
		return err
	}
	want := header{magic: magic, slotCount: uint16(numSlots), minSectorSize: uint32(minSectorSize)}

	timeout := media.NewTimeout(timer)
	defer timeout.Stop()

	buf := make([]byte, headerLen)
	if err := backend.Read(0, buf, &timeout); err != nil {
		return fmt.Errorf("save: read header: %w", err)
	}
	if stored, ok := decodeHeader(buf); !ok || stored != want {
		if ok {
			slog.Warn("reformatting save media, stored configuration differs",
				"media", t, "storedMagic", stored.magic, "magic", magic)
		} else {
			slog.Info("formatting blank save media", "media", t, "magic", magic, "slots", numSlots)
		}
		if err := m.writeHeader(backend, want, &timeout); err != nil {
			return err
		}
	}

	m.backend = backend
	m.timer = timer
	m.magic = magic
	m.numSlots = numSlots
	m.minSectorSize = minSectorSize
	m.layout = lay
	return nil
}

func (m *Manager) writeHeader(backend media.Access, h header, t *media.Timeout) error {
	buf := h.encode()
	if err := backend.PrepareWrite(0, len(buf), t); err != nil {
		return fmt.Errorf("save: prepare header: %w", err)
	}
	if err := backend.Write(0, buf, t); err != nil {
		return fmt.Errorf("save: write header: %w", err)
	}
	match, err := backend.Verify(0, buf, t)
	if err != nil {
		return fmt.Errorf("save: verify header: %w", err)
	}
	if !match {
		return fmt.Errorf("save: header readback mismatch: %w", media.ErrVerifyFailed)
	}
	return nil
}

// Reopen binds a medium that was formatted earlier without writing to
// it. It fails with ErrNotInitialized when no valid header is present
// and with ErrConfigMismatch when the stored header differs from the
// given configuration.
func (m *Manager) Reopen(t media.MediaType, numSlots int, magic Magic, minSectorSize int, timer media.Timer) error {
	if m.backend != nil {
		return fmt.Errorf("save: manager already bound: %w", media.ErrConfigMismatch)
	}
	backend, lay, err := m.open(t, numSlots, minSectorSize)
	if err != nil {
		return err
	}
	want := header{magic: magic, slotCount: uint16(numSlots), minSectorSize: uint32(minSectorSize)}

	timeout := media.NewTimeout(timer)
	defer timeout.Stop()

	buf := make([]byte, headerLen)
	if err := backend.Read(0, buf, &timeout); err != nil {
		return fmt.Errorf("save: read header: %w", err)
	}
	stored, ok := decodeHeader(buf)
	if !ok {
		return fmt.Errorf("save: no valid header on medium: %w", media.ErrNotInitialized)
	}
	if stored != want {
		return fmt.Errorf("save: stored header (magic %q, %d slots, min sector %d) differs: %w",
			stored.magic, stored.slotCount, stored.minSectorSize, media.ErrConfigMismatch)
	}

	m.backend = backend
	m.timer = timer
	m.magic = magic
	m.numSlots = numSlots
	m.minSectorSize = minSectorSize
	m.layout = lay
	return nil
}

// Info describes the bound medium.
func (m *Manager) Info() (media.Info, error) {
	if m.backend == nil {
		return media.Info{}, media.ErrNotInitialized
	}
	return m.backend.Info()
}

// NumSlots returns the configured slot count.
func (m *Manager) NumSlots() int { return m.numSlots }

// Magic returns the configured magic.
func (m *Manager) Magic() Magic { return m.magic }

// MinSectorSize returns the configured record granularity floor.
func (m *Manager) MinSectorSize() int { return m.minSectorSize }
