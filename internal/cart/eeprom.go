// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cart

import (
	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

const (
	eepromErasedByte byte = 0xFF
	eepromSectorSize      = 8

	// Leading transfers of a read response carry no data.
	eepromJunkBits = 4

	// Busy reads returned after a write before the ready bit settles.
	eepromSettleReads = 2

	// A stalled write leaves the chip busy for good.
	eepromBusyForever = int(^uint(0) >> 1)
)

// The serial frame decoder. Frames arrive one bit per 16-bit write,
// least significant bit carrying the data: a start bit, a mode bit
// (1 read, 0 write), the sector number MSB first, for writes 64 data
// bits, then a stop bit.
type eepromState int

const (
	eepromIdle eepromState = iota
	eepromStart
	eepromReadAddr
	eepromReadStop
	eepromWriteAddr
	eepromWriteData
	eepromWriteStop
)

// eepromChip models a serial EEPROM on the bit-clocked port. The 8-bit
// backup window is not wired; those accesses see the open bus.
type eepromChip struct {
	img   *persistence.Image
	store persistence.Storage
	// addrBits is the frame address width: 6 bits on 512 byte parts,
	// 14 on 8 KiB parts.
	addrBits int

	state  eepromState
	nbits  int
	sector uint32
	data   [eepromSectorSize]byte
	out    []uint16
	busy   int

	stalledWrites int
}

// sectorOffset masks the received sector number down to the installed
// capacity, like the physical part ignoring address lines it does not
// have.
func (c *eepromChip) sectorOffset() int {
	sectors := len(c.img.Data) / eepromSectorSize
	return int(c.sector) % sectors * eepromSectorSize
}

func (c *eepromChip) Write16(addr uint32, v uint16) {
	if addr != media.EepromPort {
		return
	}
	bit := byte(v & 1)

	switch c.state {
	case eepromIdle:
		if bit == 1 {
			c.state = eepromStart
		}
	case eepromStart:
		c.nbits = 0
		c.sector = 0
		if bit == 1 {
			c.state = eepromReadAddr
		} else {
			c.state = eepromWriteAddr
			c.data = [eepromSectorSize]byte{}
		}
	case eepromReadAddr, eepromWriteAddr:
		c.sector = c.sector<<1 | uint32(bit)
		c.nbits++
		if c.nbits == c.addrBits {
			c.nbits = 0
			if c.state == eepromReadAddr {
				c.state = eepromReadStop
			} else {
				c.state = eepromWriteData
			}
		}
	case eepromReadStop:
		// A set stop bit is a malformed frame; drop it.
		if bit == 0 {
			c.queueReadResponse()
		}
		c.state = eepromIdle
	case eepromWriteData:
		if bit != 0 {
			c.data[c.nbits/8] |= 1 << (7 - c.nbits%8)
		}
		c.nbits++
		if c.nbits == 8*eepromSectorSize {
			c.state = eepromWriteStop
		}
	case eepromWriteStop:
		if bit == 0 {
			c.commitWrite()
		}
		c.state = eepromIdle
	}
}

// queueReadResponse loads the transfer queue with the response to a
// read request: a few junk transfers, then the 64 sector bits MSB
// first per byte.
func (c *eepromChip) queueReadResponse() {
	off := c.sectorOffset()
	out := make([]uint16, 0, eepromJunkBits+8*eepromSectorSize)
	for i := 0; i < eepromJunkBits; i++ {
		out = append(out, 0)
	}
	for _, b := range c.img.Data[off : off+eepromSectorSize] {
		for i := 7; i >= 0; i-- {
			out = append(out, uint16(b>>uint(i)&1))
		}
	}
	c.out = out
}

func (c *eepromChip) commitWrite() {
	if c.stalledWrites > 0 {
		c.stalledWrites--
		c.busy = eepromBusyForever
		return
	}
	off := c.sectorOffset()
	copy(c.img.Data[off:off+eepromSectorSize], c.data[:])
	c.store.OnWrite(off, eepromSectorSize)
	c.busy = eepromSettleReads
}

func (c *eepromChip) Read16(addr uint32) uint16 {
	if addr != media.EepromPort {
		return 0xFFFF
	}
	if len(c.out) > 0 {
		v := c.out[0]
		c.out = c.out[1:]
		return v
	}
	if c.busy > 0 {
		c.busy--
		return 0
	}
	return 1
}

func (c *eepromChip) Read8(addr uint32) byte {
	return openBusByte
}

func (c *eepromChip) Write8(addr uint32, v byte) {
}

func (c *eepromChip) stallWrites(n int) {
	c.stalledWrites += n
}

func (c *eepromChip) stallErases(n int) {
}
