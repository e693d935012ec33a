// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package flash drives command-sequence flash media. Every mutation is
// a command handshake through the two magic ports followed by a status
// poll against the data window: program a byte, erase a sector, erase
// the chip. Chips larger than the 64 KiB window are banked. The chip
// is identified once on first use and its timing profile drives all
// poll budgets.
package flash

import (
	"log/slog"
	"sync"

	"github.com/ffutop/cartsave/media"
)

// Budget for a whole-chip erase poll. Deliberately generous; chip
// erase is rare and slow parts take seconds.
const eraseChipBudget = 3000

// Driver implements media.Access for flash media.
type Driver struct {
	bus  media.Bus
	chip func() Chip

	bank    int
	bankSet bool
}

func New(bus media.Bus) *Driver {
	d := &Driver{bus: bus}
	d.chip = sync.OnceValue(d.detect)
	return d
}

// Chip returns the detected chip profile, probing the hardware on the
// first call.
func (d *Driver) Chip() Chip {
	return d.chip()
}

// startCommand writes the unlock prefix; issueCommand follows it with
// a command byte at port A.
func (d *Driver) startCommand() {
	d.bus.Write8(media.FlashPortA, media.FlashPrefix1)
	d.bus.Write8(media.FlashPortB, media.FlashPrefix2)
}

func (d *Driver) issueCommand(cmd byte) {
	d.startCommand()
	d.bus.Write8(media.FlashPortA, cmd)
}

// detect reads the chip id and resolves it to a profile. In id mode
// the two lowest window bytes hold manufacturer and device codes.
func (d *Driver) detect() Chip {
	d.issueCommand(media.FlashCmdReadChipID)
	id := uint16(d.bus.Read8(media.BackupBase+1))<<8 | uint16(d.bus.Read8(media.BackupBase))
	d.issueCommand(media.FlashCmdReadContents)

	for _, c := range knownChips {
		if c.ID == id {
			slog.Debug("detected flash chip", "name", c.Name, "id", id)
			return c
		}
	}
	slog.Warn("unknown flash chip id, using conservative defaults", "id", id)
	return genericChip(id)
}

// setBank routes the window at the given 64 KiB bank. The switch is a
// command sequence of its own, so it runs only when the bank actually
// changes.
func (d *Driver) setBank(chip Chip, bank int) error {
	if bank >= chip.Banks {
		return media.ErrOutOfBounds
	}
	if chip.Banks > 1 && (!d.bankSet || d.bank != bank) {
		d.issueCommand(media.FlashCmdSetBank)
		d.bus.Write8(media.FlashPortBank, byte(bank))
		d.bank = bank
		d.bankSet = true
	}
	return nil
}

// waitFor polls one window address until it reads want, bounded by
// budget milliseconds. Chips that need it get the cancel command on
// the way out so the stuck operation does not wedge the part.
func (d *Driver) waitFor(chip Chip, window uint32, want byte, budget uint32, t *media.Timeout) error {
	t.Start()
	addr := media.BackupBase + window
	for d.bus.Read8(addr) != want {
		if t.Met(budget) {
			if chip.RequiresCancel {
				d.bus.Write8(media.FlashPortA, media.FlashCmdReadContents)
			}
			return media.ErrTimeout
		}
	}
	return nil
}

func (d *Driver) Info() (media.Info, error) {
	return d.chip().Info, nil
}

func (d *Driver) Read(offset int, buf []byte, _ *media.Timeout) error {
	chip := d.chip()
	if err := media.CheckBounds(offset, len(buf), chip.Info.Len()); err != nil {
		return err
	}
	for len(buf) > 0 {
		if err := d.setBank(chip, offset>>media.FlashBankShift); err != nil {
			return err
		}
		start := offset & (media.FlashBankSize - 1)
		n := media.FlashBankSize - start
		if n > len(buf) {
			n = len(buf)
		}
		for i := 0; i < n; i++ {
			buf[i] = d.bus.Read8(media.BackupBase + uint32(start+i))
		}
		buf = buf[n:]
		offset += n
	}
	return nil
}

func (d *Driver) Verify(offset int, buf []byte, _ *media.Timeout) (bool, error) {
	chip := d.chip()
	if err := media.CheckBounds(offset, len(buf), chip.Info.Len()); err != nil {
		return false, err
	}
	for len(buf) > 0 {
		if err := d.setBank(chip, offset>>media.FlashBankShift); err != nil {
			return false, err
		}
		start := offset & (media.FlashBankSize - 1)
		n := media.FlashBankSize - start
		if n > len(buf) {
			n = len(buf)
		}
		for i := 0; i < n; i++ {
			if d.bus.Read8(media.BackupBase+uint32(start+i)) != buf[i] {
				return false, nil
			}
		}
		buf = buf[n:]
		offset += n
	}
	return true, nil
}

// PrepareWrite erases every sector overlapped by [offset,
// offset+length), or the whole chip when the range covers all of it.
// Atmel media erase within the page program and skip this.
func (d *Driver) PrepareWrite(offset, length int, t *media.Timeout) error {
	chip := d.chip()
	if err := media.CheckBounds(offset, length, chip.Info.Len()); err != nil {
		return err
	}
	if !chip.Info.UsesPrepareWrite || length == 0 {
		return nil
	}
	first := offset >> chip.Info.SectorShift
	last := (offset + length - 1) >> chip.Info.SectorShift
	if last-first+1 == chip.Info.SectorCount {
		return d.eraseChip(chip, t)
	}
	for s := first; s <= last; s++ {
		if err := d.eraseSector(chip, s, t); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) eraseSector(chip Chip, sector int, t *media.Timeout) error {
	offset := sector << chip.Info.SectorShift
	if err := d.setBank(chip, offset>>media.FlashBankShift); err != nil {
		return err
	}
	window := uint32(offset & (media.FlashBankSize - 1))
	d.issueCommand(media.FlashCmdEraseSectorBegin)
	d.startCommand()
	d.bus.Write8(media.BackupBase+window, media.FlashCmdEraseSectorConfirm)
	return d.waitFor(chip, window, 0xFF, chip.EraseSectorTimeout, t)
}

func (d *Driver) eraseChip(chip Chip, t *media.Timeout) error {
	d.issueCommand(media.FlashCmdEraseSectorBegin)
	d.issueCommand(media.FlashCmdEraseChip)
	return d.waitFor(chip, 0, 0xFF, eraseChipBudget, t)
}

func (d *Driver) Write(offset int, buf []byte, t *media.Timeout) error {
	chip := d.chip()
	if err := media.CheckBounds(offset, len(buf), chip.Info.Len()); err != nil {
		return err
	}
	if chip.AtmelAPI {
		return d.writeAtmel(chip, offset, buf, t)
	}
	return d.writeBuffer(chip, offset, buf, t)
}

// writeBuffer programs bytes one at a time, re-banking at each 64 KiB
// boundary.
func (d *Driver) writeBuffer(chip Chip, offset int, buf []byte, t *media.Timeout) error {
	if err := d.setBank(chip, offset>>media.FlashBankShift); err != nil {
		return err
	}
	for i := range buf {
		byteOff := offset + i
		window := byteOff & (media.FlashBankSize - 1)
		if window == 0 {
			if err := d.setBank(chip, byteOff>>media.FlashBankShift); err != nil {
				return err
			}
		}
		if err := d.writeByte(chip, uint32(window), buf[i], t); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) writeByte(chip Chip, window uint32, v byte, t *media.Timeout) error {
	d.issueCommand(media.FlashCmdWrite)
	d.bus.Write8(media.BackupBase+window, v)
	return d.waitFor(chip, window, v, chip.WriteTimeout, t)
}

// writeAtmel splits the buffer into 128 byte pages. Pages written
// partially are read-modify-written so the untouched bytes survive the
// internal page erase.
func (d *Driver) writeAtmel(chip Chip, offset int, buf []byte, t *media.Timeout) error {
	pageSize := chip.Info.SectorSize()
	for len(buf) > 0 {
		start := offset & (pageSize - 1)
		n := pageSize - start
		if n > len(buf) {
			n = len(buf)
		}
		if err := d.writeAtmelPage(chip, offset&^(pageSize-1), buf[:n], start, t); err != nil {
			return err
		}
		buf = buf[n:]
		offset += n
	}
	return nil
}

func (d *Driver) writeAtmelPage(chip Chip, pageBase int, buf []byte, start int, t *media.Timeout) error {
	pageSize := chip.Info.SectorSize()
	page := make([]byte, pageSize)
	if start == 0 && len(buf) == pageSize {
		copy(page, buf)
	} else {
		if err := d.Read(pageBase, page, t); err != nil {
			return err
		}
		copy(page[start:], buf)
	}

	d.issueCommand(media.FlashCmdWrite)
	for i, b := range page {
		d.bus.Write8(media.BackupBase+uint32(pageBase+i), b)
	}
	return d.waitFor(chip, uint32(pageBase+pageSize-1), page[pageSize-1], chip.EraseSectorTimeout, t)
}
