// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package eeprom drives serial EEPROM media. The chip sits behind a
// 16-bit port carrying one bit per transfer: requests are bit frames
// (start bit, mode bit, sector address MSB first, for writes 64 data
// bits, stop bit), responses arrive the same way. Sectors are 8 bytes;
// partial writes read-modify-write the sector.
package eeprom

import (
	"bytes"

	"github.com/ffutop/cartsave/media"
)

const (
	sectorShift = 3
	sectorLen   = 1 << sectorShift
	sectorMask  = sectorLen - 1

	// Transfers at the head of a read response that carry no data.
	junkBits = 4

	// Budget for the ready poll after a write frame, in milliseconds.
	writeBudget = 10
)

// Driver implements media.Access for serial EEPROM.
type Driver struct {
	bus      media.Bus
	info     media.Info
	addrBits int
}

// New512B drives a 512 byte part: 6 address bits, 64 sectors.
func New512B(bus media.Bus) *Driver {
	return &Driver{
		bus:      bus,
		info:     media.Info{MediaType: media.Eeprom512B, SectorShift: sectorShift, SectorCount: 64},
		addrBits: 6,
	}
}

// New8K drives an 8 KiB part: 14 address bits, 1024 sectors.
func New8K(bus media.Bus) *Driver {
	return &Driver{
		bus:      bus,
		info:     media.Info{MediaType: media.Eeprom8K, SectorShift: sectorShift, SectorCount: 1024},
		addrBits: 14,
	}
}

func (d *Driver) sendBit(bit uint16) {
	d.bus.Write16(media.EepromPort, bit)
}

func (d *Driver) sendNum(count int, num uint32) {
	for i := count - 1; i >= 0; i-- {
		d.sendBit(uint16(num >> uint(i) & 1))
	}
}

// readSector fetches one 8 byte sector. The response starts with a few
// junk transfers before the 64 data bits, MSB first per byte.
func (d *Driver) readSector(sector int) [sectorLen]byte {
	d.sendBit(1)
	d.sendBit(1)
	d.sendNum(d.addrBits, uint32(sector))
	d.sendBit(0)

	for i := 0; i < junkBits; i++ {
		d.bus.Read16(media.EepromPort)
	}
	var out [sectorLen]byte
	for i := 0; i < 8*sectorLen; i++ {
		bit := byte(d.bus.Read16(media.EepromPort) & 1)
		out[i/8] |= bit << (7 - i%8)
	}
	return out
}

// writeSectorRaw sends a full write frame and polls the ready line.
func (d *Driver) writeSectorRaw(sector int, block *[sectorLen]byte, t *media.Timeout) error {
	d.sendBit(1)
	d.sendBit(0)
	d.sendNum(d.addrBits, uint32(sector))
	for _, b := range block {
		d.sendNum(8, uint32(b))
	}
	d.sendBit(0)

	t.Start()
	for d.bus.Read16(media.EepromPort)&1 != 1 {
		if t.Met(writeBudget) {
			return media.ErrTimeout
		}
	}
	return nil
}

// writeSector writes data into one sector at the given byte offset,
// preserving the rest of the sector when the write is partial.
func (d *Driver) writeSector(sector int, data []byte, start int, t *media.Timeout) error {
	var block [sectorLen]byte
	if start == 0 && len(data) == sectorLen {
		copy(block[:], data)
	} else {
		block = d.readSector(sector)
		copy(block[start:], data)
	}
	return d.writeSectorRaw(sector, &block, t)
}

func (d *Driver) Info() (media.Info, error) {
	return d.info, nil
}

func (d *Driver) Read(offset int, buf []byte, _ *media.Timeout) error {
	if err := media.CheckBounds(offset, len(buf), d.info.Len()); err != nil {
		return err
	}
	for len(buf) > 0 {
		start := offset & sectorMask
		n := sectorLen - start
		if n > len(buf) {
			n = len(buf)
		}
		sector := d.readSector(offset >> sectorShift)
		copy(buf[:n], sector[start:start+n])
		buf = buf[n:]
		offset += n
	}
	return nil
}

func (d *Driver) Verify(offset int, buf []byte, _ *media.Timeout) (bool, error) {
	if err := media.CheckBounds(offset, len(buf), d.info.Len()); err != nil {
		return false, err
	}
	for len(buf) > 0 {
		start := offset & sectorMask
		n := sectorLen - start
		if n > len(buf) {
			n = len(buf)
		}
		sector := d.readSector(offset >> sectorShift)
		if !bytes.Equal(buf[:n], sector[start:start+n]) {
			return false, nil
		}
		buf = buf[n:]
		offset += n
	}
	return true, nil
}

// PrepareWrite is a no-op: EEPROM sectors are rewritten whole by the
// write frame.
func (d *Driver) PrepareWrite(offset, length int, _ *media.Timeout) error {
	return media.CheckBounds(offset, length, d.info.Len())
}

func (d *Driver) Write(offset int, buf []byte, t *media.Timeout) error {
	if err := media.CheckBounds(offset, len(buf), d.info.Len()); err != nil {
		return err
	}
	for len(buf) > 0 {
		start := offset & sectorMask
		n := sectorLen - start
		if n > len(buf) {
			n = len(buf)
		}
		if err := d.writeSector(offset>>sectorShift, buf[:n], start, t); err != nil {
			return err
		}
		buf = buf[n:]
		offset += n
	}
	return nil
}
