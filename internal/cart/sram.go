// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cart

import (
	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

const openBusByte byte = 0xFF

// sramChip models battery-backed static RAM: plain byte storage in the
// backup window with no command protocol. The 16-bit port is not
// wired; those accesses see the open bus.
type sramChip struct {
	img   *persistence.Image
	store persistence.Storage

	stalledWrites int
}

func (c *sramChip) offset(addr uint32) (int, bool) {
	if addr < media.BackupBase {
		return 0, false
	}
	off := int(addr - media.BackupBase)
	if off >= len(c.img.Data) {
		return 0, false
	}
	return off, true
}

func (c *sramChip) Read8(addr uint32) byte {
	if off, ok := c.offset(addr); ok {
		return c.img.Data[off]
	}
	return openBusByte
}

func (c *sramChip) Write8(addr uint32, v byte) {
	off, ok := c.offset(addr)
	if !ok {
		return
	}
	if c.stalledWrites > 0 {
		c.stalledWrites--
		return
	}
	c.img.Data[off] = v
	c.store.OnWrite(off, 1)
}

func (c *sramChip) Read16(addr uint32) uint16 {
	return 0xFFFF
}

func (c *sramChip) Write16(addr uint32, v uint16) {
}

func (c *sramChip) stallWrites(n int) {
	c.stalledWrites += n
}

func (c *sramChip) stallErases(n int) {
}
