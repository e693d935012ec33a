// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cart emulates the save hardware of a game cartridge: battery
// SRAM and flash chips behind the backup window, and serial EEPROM
// behind the bit-clocked port. Each chip answers bus accesses the way
// its physical counterpart does, command sequences and chip
// identification included, so the media drivers run unmodified against
// it. Chip contents live in a persistence.Storage and survive process
// restarts.
package cart

import (
	"fmt"

	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

// Cartridge is an emulated cartridge with one save chip mounted. It
// implements media.Bus.
type Cartridge struct {
	mediaType media.MediaType
	chip      media.Bus
	storage   persistence.Storage
}

// staller is implemented by chips that support write and erase fault
// injection.
type staller interface {
	stallWrites(n int)
	stallErases(n int)
}

// Open mounts a cartridge of the given media type on the storage. For
// flash media the chip name selects the emulated model; other media
// ignore it.
func Open(t media.MediaType, chip string, store persistence.Storage) (*Cartridge, error) {
	switch t {
	case media.Sram:
		return NewSRAM(store)
	case media.Flash64K, media.Flash128K:
		model, err := LookupFlashModel(chip, t)
		if err != nil {
			return nil, err
		}
		return NewFlash(model, store)
	case media.Eeprom512B, media.Eeprom8K:
		return NewEEPROM(t, store)
	default:
		return nil, fmt.Errorf("unknown media type %v", t)
	}
}

// NewSRAM mounts a battery-backed SRAM cartridge.
func NewSRAM(store persistence.Storage) (*Cartridge, error) {
	img, err := loadImage(store, media.Sram.Capacity(), 0x00)
	if err != nil {
		return nil, err
	}
	return &Cartridge{
		mediaType: media.Sram,
		chip:      &sramChip{img: img, store: store},
		storage:   store,
	}, nil
}

// NewFlash mounts a flash cartridge of the given model.
func NewFlash(model FlashModel, store persistence.Storage) (*Cartridge, error) {
	img, err := loadImage(store, model.Capacity, flashErasedByte)
	if err != nil {
		return nil, err
	}
	t := media.Flash64K
	if model.Capacity > media.FlashBankSize {
		t = media.Flash128K
	}
	return &Cartridge{
		mediaType: t,
		chip:      newFlashChip(model, img, store),
		storage:   store,
	}, nil
}

// NewEEPROM mounts a serial EEPROM cartridge. t must be Eeprom512B or
// Eeprom8K.
func NewEEPROM(t media.MediaType, store persistence.Storage) (*Cartridge, error) {
	var addrBits int
	switch t {
	case media.Eeprom512B:
		addrBits = 6
	case media.Eeprom8K:
		addrBits = 14
	default:
		return nil, fmt.Errorf("media type %v is not an EEPROM", t)
	}
	img, err := loadImage(store, t.Capacity(), eepromErasedByte)
	if err != nil {
		return nil, err
	}
	return &Cartridge{
		mediaType: t,
		chip:      &eepromChip{img: img, store: store, addrBits: addrBits},
		storage:   store,
	}, nil
}

// loadImage pulls the image out of the storage, checks its size against
// the chip capacity and fills a fresh image with the factory erased
// pattern.
func loadImage(store persistence.Storage, capacity int, erased byte) (*persistence.Image, error) {
	img, err := store.Load()
	if err != nil {
		return nil, err
	}
	if len(img.Data) != capacity {
		return nil, fmt.Errorf("image size %d does not match media capacity %d", len(img.Data), capacity)
	}
	if img.Fresh {
		for i := range img.Data {
			img.Data[i] = erased
		}
		if err := store.Save(img); err != nil {
			return nil, fmt.Errorf("initialize fresh image: %w", err)
		}
	}
	return img, nil
}

// Media returns the kind of save media mounted in the cartridge.
func (c *Cartridge) Media() media.MediaType {
	return c.mediaType
}

func (c *Cartridge) Read8(addr uint32) byte {
	return c.chip.Read8(addr)
}

func (c *Cartridge) Write8(addr uint32, v byte) {
	c.chip.Write8(addr, v)
}

func (c *Cartridge) Read16(addr uint32) uint16 {
	return c.chip.Read16(addr)
}

func (c *Cartridge) Write16(addr uint32, v uint16) {
	c.chip.Write16(addr, v)
}

// Close releases the backing storage. The cartridge must not be used
// afterwards.
func (c *Cartridge) Close() error {
	return c.storage.Close()
}

// StallWrites makes the next n program operations fail silently, the
// way a worn or underpowered chip drops them. Tests use it to exercise
// driver timeout and verify paths.
func (c *Cartridge) StallWrites(n int) {
	if s, ok := c.chip.(staller); ok {
		s.stallWrites(n)
	}
}

// StallErases makes the next n erase operations fail silently.
func (c *Cartridge) StallErases(n int) {
	if s, ok := c.chip.(staller); ok {
		s.stallErases(n)
	}
}
