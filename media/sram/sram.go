// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sram drives battery-backed SRAM. It is the simplest medium:
// byte-addressable through the backup window, no command protocol, no
// erase cycle, so every operation is a plain byte loop over the bus.
package sram

import (
	"github.com/ffutop/cartsave/media"
)

// Driver implements media.Access for battery-backed SRAM.
type Driver struct {
	bus media.Bus
}

func New(bus media.Bus) *Driver {
	return &Driver{bus: bus}
}

func (d *Driver) Info() (media.Info, error) {
	return media.Info{
		MediaType:   media.Sram,
		SectorShift: 0,
		SectorCount: media.Sram.Capacity(),
	}, nil
}

func (d *Driver) Read(offset int, buf []byte, _ *media.Timeout) error {
	if err := media.CheckBounds(offset, len(buf), media.Sram.Capacity()); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = d.bus.Read8(media.BackupBase + uint32(offset+i))
	}
	return nil
}

func (d *Driver) Verify(offset int, buf []byte, _ *media.Timeout) (bool, error) {
	if err := media.CheckBounds(offset, len(buf), media.Sram.Capacity()); err != nil {
		return false, err
	}
	for i := range buf {
		if d.bus.Read8(media.BackupBase+uint32(offset+i)) != buf[i] {
			return false, nil
		}
	}
	return true, nil
}

// PrepareWrite is a no-op: SRAM cells are rewritten in place.
func (d *Driver) PrepareWrite(offset, length int, _ *media.Timeout) error {
	return media.CheckBounds(offset, length, media.Sram.Capacity())
}

func (d *Driver) Write(offset int, buf []byte, _ *media.Timeout) error {
	if err := media.CheckBounds(offset, len(buf), media.Sram.Capacity()); err != nil {
		return err
	}
	for i := range buf {
		d.bus.Write8(media.BackupBase+uint32(offset+i), buf[i])
	}
	return nil
}
