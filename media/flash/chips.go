// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"github.com/ffutop/cartsave/media"
)

// Chip describes a flash part and its programming behavior. Budgets
// are in milliseconds and bound the status polls after each command;
// the values come from the manufacturer timing sheets, padded
// generously.
type Chip struct {
	ID   uint16
	Name string

	WriteTimeout       uint32
	EraseSectorTimeout uint32

	// Banks is the number of 64 KiB banks behind the bank switch.
	Banks int
	// AtmelAPI selects combined erase+program of 128 byte pages
	// instead of sector erase plus byte programming.
	AtmelAPI bool
	// RequiresCancel marks chips that want a read-contents command to
	// abort a timed out operation.
	RequiresCancel bool

	Info media.Info
}

var (
	infoFlash64K      = media.Info{MediaType: media.Flash64K, SectorShift: 12, SectorCount: 16, UsesPrepareWrite: true}
	infoFlash64KAtmel = media.Info{MediaType: media.Flash64K, SectorShift: 7, SectorCount: 512}
	infoFlash128K     = media.Info{MediaType: media.Flash128K, SectorShift: 12, SectorCount: 32, UsesPrepareWrite: true}
)

var knownChips = []Chip{
	{ID: media.ChipSST64K, Name: "SST 64K", WriteTimeout: 10, EraseSectorTimeout: 40, Banks: 1, Info: infoFlash64K},
	{ID: media.ChipMacronix64K, Name: "Macronix 64K", WriteTimeout: 10, EraseSectorTimeout: 2000, Banks: 1, RequiresCancel: true, Info: infoFlash64K},
	{ID: media.ChipPanasonic64K, Name: "Panasonic 64K", WriteTimeout: 10, EraseSectorTimeout: 500, Banks: 1, Info: infoFlash64K},
	{ID: media.ChipAtmel64K, Name: "Atmel 64K", WriteTimeout: 40, EraseSectorTimeout: 40, Banks: 1, AtmelAPI: true, Info: infoFlash64KAtmel},
	{ID: media.ChipSanyo128K, Name: "Sanyo 128K", WriteTimeout: 10, EraseSectorTimeout: 2000, Banks: 2, Info: infoFlash128K},
	{ID: media.ChipMacronix128K, Name: "Macronix 128K", WriteTimeout: 10, EraseSectorTimeout: 2000, Banks: 2, Info: infoFlash128K},
}

// genericChip is the profile used when the id is not recognised:
// conservative budgets, cancel command, a single 64 KiB bank. Treating
// an unknown part as anything larger risks reading past its real end.
func genericChip(id uint16) Chip {
	return Chip{
		ID:                 id,
		Name:               "unknown",
		WriteTimeout:       40,
		EraseSectorTimeout: 2000,
		Banks:              1,
		RequiresCancel:     true,
		Info:               infoFlash64K,
	}
}
