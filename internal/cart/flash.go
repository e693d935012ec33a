// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cart

import (
	"fmt"

	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

const (
	flashErasedByte byte = 0xFF
	flashSectorSize      = 4 * 1024
	flashPageSize        = 128
)

// FlashModel describes an emulated flash chip.
type FlashModel struct {
	Name string
	// ID is (device << 8) | manufacturer, as reported after
	// FlashCmdReadChipID.
	ID       uint16
	Capacity int
	// PageMode selects Atmel style programming: one write command
	// loads a full 128 byte page instead of a single byte.
	PageMode bool
}

// The flash chip models known to the emulation.
var (
	FlashSST64K       = FlashModel{Name: "sst", ID: media.ChipSST64K, Capacity: 64 * 1024}
	FlashMacronix64K  = FlashModel{Name: "macronix", ID: media.ChipMacronix64K, Capacity: 64 * 1024}
	FlashPanasonic64K = FlashModel{Name: "panasonic", ID: media.ChipPanasonic64K, Capacity: 64 * 1024}
	FlashAtmel64K     = FlashModel{Name: "atmel", ID: media.ChipAtmel64K, Capacity: 64 * 1024, PageMode: true}
	FlashSanyo128K    = FlashModel{Name: "sanyo", ID: media.ChipSanyo128K, Capacity: 128 * 1024}
	FlashMacronix128K = FlashModel{Name: "macronix128k", ID: media.ChipMacronix128K, Capacity: 128 * 1024}
)

var flashModels = []FlashModel{
	FlashSST64K,
	FlashMacronix64K,
	FlashPanasonic64K,
	FlashAtmel64K,
	FlashSanyo128K,
	FlashMacronix128K,
}

// LookupFlashModel resolves a configured chip name against the media
// type. An empty name selects a default model of the right capacity.
func LookupFlashModel(name string, t media.MediaType) (FlashModel, error) {
	if name == "" {
		if t == media.Flash128K {
			return FlashMacronix128K, nil
		}
		return FlashSST64K, nil
	}
	for _, m := range flashModels {
		if m.Name == name {
			if m.Capacity != t.Capacity() {
				return FlashModel{}, fmt.Errorf("flash chip %q is %d bytes, media type %v wants %d", name, m.Capacity, t, t.Capacity())
			}
			return m, nil
		}
	}
	return FlashModel{}, fmt.Errorf("unknown flash chip %q", name)
}

// Command sequencing. A command is three writes: FlashPrefix1 to port
// A, FlashPrefix2 to port B, then the command byte to port A. The one
// exception is the sector erase confirm, whose final byte goes to the
// first address of the sector being erased.
type flashState int

const (
	flashReady flashState = iota
	flashPrefix1
	flashCommand
)

// Some commands arm a follow-up data write instead of acting
// immediately.
type flashPending int

const (
	pendingNone flashPending = iota
	pendingWriteByte
	pendingPageWrite
	pendingBankSelect
)

// flashChip interprets the flash command protocol against the image.
// It is 8-bit hardware; the 16-bit port reads open bus.
type flashChip struct {
	model FlashModel
	img   *persistence.Image
	store persistence.Storage

	state      flashState
	pending    flashPending
	idMode     bool
	eraseArmed bool
	bank       uint32

	page       []byte
	pageBase   int
	pageFilled int

	stalledWrites int
	stalledErases int
}

func newFlashChip(model FlashModel, img *persistence.Image, store persistence.Storage) *flashChip {
	c := &flashChip{model: model, img: img, store: store}
	if model.PageMode {
		c.page = make([]byte, flashPageSize)
	}
	return c
}

// offset maps a bus address to an image offset through the current
// bank. Chips without a second bank ignore the bank bit, like the
// physical parts do.
func (c *flashChip) offset(addr uint32) (int, bool) {
	if addr < media.BackupBase {
		return 0, false
	}
	window := addr - media.BackupBase
	if window >= media.FlashBankSize {
		return 0, false
	}
	return int(c.bank*media.FlashBankSize+window) % c.model.Capacity, true
}

func (c *flashChip) Read8(addr uint32) byte {
	if c.idMode {
		switch addr {
		case media.BackupBase:
			return byte(c.model.ID)
		case media.BackupBase + 1:
			return byte(c.model.ID >> 8)
		}
	}
	if off, ok := c.offset(addr); ok {
		return c.img.Data[off]
	}
	return openBusByte
}

func (c *flashChip) Write8(addr uint32, v byte) {
	// An armed data operation consumes the write before command
	// decoding sees it.
	switch c.pending {
	case pendingWriteByte:
		c.pending = pendingNone
		if off, ok := c.offset(addr); ok {
			c.program(off, v)
		}
		return
	case pendingPageWrite:
		if off, ok := c.offset(addr); ok {
			c.loadPage(off, v)
		}
		return
	case pendingBankSelect:
		c.pending = pendingNone
		if addr == media.FlashPortBank {
			c.bank = uint32(v) % uint32(c.model.Capacity/media.FlashBankSize)
		}
		return
	}

	switch c.state {
	case flashReady:
		if addr != media.FlashPortA {
			return
		}
		switch v {
		case media.FlashPrefix1:
			c.state = flashPrefix1
		case media.FlashCmdReadContents:
			// Bare cancel, no prefix. Macronix chips take this to
			// abort a stuck erase.
			c.leaveSpecialModes()
		}
	case flashPrefix1:
		c.state = flashReady
		if addr == media.FlashPortB && v == media.FlashPrefix2 {
			c.state = flashCommand
		}
	case flashCommand:
		c.state = flashReady
		if addr == media.FlashPortA {
			c.command(v)
			return
		}
		if v == media.FlashCmdEraseSectorConfirm && c.eraseArmed {
			c.eraseArmed = false
			if off, ok := c.offset(addr); ok {
				c.eraseSector(off)
			}
		}
	}
}

func (c *flashChip) command(v byte) {
	switch v {
	case media.FlashCmdReadChipID:
		c.idMode = true
	case media.FlashCmdReadContents:
		c.leaveSpecialModes()
	case media.FlashCmdWrite:
		if c.model.PageMode {
			c.pending = pendingPageWrite
			c.pageBase = -1
			c.pageFilled = 0
			for i := range c.page {
				c.page[i] = flashErasedByte
			}
		} else {
			c.pending = pendingWriteByte
		}
	case media.FlashCmdSetBank:
		c.pending = pendingBankSelect
	case media.FlashCmdEraseSectorBegin:
		c.eraseArmed = true
	case media.FlashCmdEraseChip:
		if c.eraseArmed {
			c.eraseArmed = false
			c.eraseChip()
		}
	}
}

func (c *flashChip) leaveSpecialModes() {
	c.idMode = false
	c.eraseArmed = false
	c.pending = pendingNone
}

// program clears bits of one cell. NOR flash cannot set bits back;
// that takes an erase.
func (c *flashChip) program(off int, v byte) {
	if c.stalledWrites > 0 {
		c.stalledWrites--
		return
	}
	c.img.Data[off] &= v
	c.store.OnWrite(off, 1)
}

// loadPage collects bytes into the page buffer and commits the page
// once all 128 arrive. The commit replaces the whole page; Atmel parts
// erase it internally first.
func (c *flashChip) loadPage(off int, v byte) {
	if c.pageBase < 0 {
		c.pageBase = off &^ (flashPageSize - 1)
	}
	idx := off - c.pageBase
	if idx < 0 || idx >= flashPageSize {
		// A write wandering off the page aborts the program cycle.
		c.pending = pendingNone
		return
	}
	c.page[idx] = v
	c.pageFilled++
	if c.pageFilled < flashPageSize {
		return
	}
	c.pending = pendingNone
	if c.stalledWrites > 0 {
		c.stalledWrites--
		return
	}
	copy(c.img.Data[c.pageBase:c.pageBase+flashPageSize], c.page)
	c.store.OnWrite(c.pageBase, flashPageSize)
}

func (c *flashChip) eraseSector(off int) {
	if c.stalledErases > 0 {
		c.stalledErases--
		return
	}
	base := off &^ (flashSectorSize - 1)
	for i := base; i < base+flashSectorSize; i++ {
		c.img.Data[i] = flashErasedByte
	}
	c.store.OnWrite(base, flashSectorSize)
}

func (c *flashChip) eraseChip() {
	if c.stalledErases > 0 {
		c.stalledErases--
		return
	}
	for i := range c.img.Data {
		c.img.Data[i] = flashErasedByte
	}
	c.store.OnWrite(0, len(c.img.Data))
}

func (c *flashChip) Read16(addr uint32) uint16 {
	return 0xFFFF
}

func (c *flashChip) Write16(addr uint32, v uint16) {
}

func (c *flashChip) stallWrites(n int) {
	c.stalledWrites += n
}

func (c *flashChip) stallErases(n int) {
	c.stalledErases += n
}
