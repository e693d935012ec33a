// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package save

import "errors"

// Slot and profile level errors. Hardware and configuration failures
// surface as the media package sentinels; these describe the state of
// the stored data itself.
var (
	// ErrSlotEmpty is returned when reading a slot that holds no record.
	ErrSlotEmpty = errors.New("save: slot is empty")

	// ErrSlotCorrupted is returned when a slot holds a record that fails
	// validation: bad tag, bad checksum, bad lengths or an undecodable
	// payload.
	ErrSlotCorrupted = errors.New("save: slot data corrupted")

	// ErrRecordTooLarge is returned when a serialized record does not
	// fit its slot or profile region.
	ErrRecordTooLarge = errors.New("save: record too large")

	// ErrNoSave is returned by Save.Load when the profile region was
	// never written.
	ErrNoSave = errors.New("save: no save data present")

	// ErrIDMismatch is returned by Save.Load when the stored record
	// belongs to a different save identifier.
	ErrIDMismatch = errors.New("save: save data belongs to a different id")

	// ErrProfileCorrupted is returned by Save.Load when the profile
	// record fails validation.
	ErrProfileCorrupted = errors.New("save: save data corrupted")
)
