// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

// Image is the raw backing state of an emulated save chip.
type Image struct {
	// Data holds one byte per addressable cell of the chip. Depending
	// on the storage it may alias an mmap'd region, so it must not be
	// reallocated by callers.
	Data []byte

	// Fresh reports that the storage had no prior contents, so the
	// chip model should fill Data with its factory (erased) pattern.
	Fresh bool
}

// Storage persists a chip image across runs of the tool.
type Storage interface {
	// Load loads the image from storage, creating it when absent.
	Load() (*Image, error)

	// Save flushes the whole image to storage.
	Save(img *Image) error

	// OnWrite is a hook called whenever the chip mutates image bytes.
	// It allows the storage to perform real-time persistence (e.g.
	// sync to disk or DB). offset/length describe the touched range.
	OnWrite(offset, length int)

	// Close releases file handles, locks and mappings.
	Close() error
}
