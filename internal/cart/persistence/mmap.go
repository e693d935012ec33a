// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapStorage keeps the image in a memory-mapped file. The chip model
// mutates the mapping directly; OnWrite only has to msync, which makes
// it the cheapest durable backend.
type MmapStorage struct {
	path string
	size int
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage for a chip of size bytes.
func NewMmapStorage(path string, size int) *MmapStorage {
	return &MmapStorage{
		path: path,
		size: size,
	}
}

// Load maps the image file, creating and sizing it when necessary.
func (ms *MmapStorage) Load() (*Image, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}
	if err := lockImageFile(f); err != nil {
		f.Close()
		return nil, err
	}
	ms.file = f

	fi, err := f.Stat()
	if err != nil {
		ms.Close()
		return nil, err
	}

	fresh := fi.Size() == 0
	if fi.Size() != int64(ms.size) {
		if err := f.Truncate(int64(ms.size)); err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		ms.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.data = data

	// The image aliases the mapping, so chip writes land in the page
	// cache without copying.
	return &Image{Data: data, Fresh: fresh}, nil
}

// Save flushes the mapping to disk.
func (ms *MmapStorage) Save(img *Image) error {
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	return ms.data.Flush()
}

// OnWrite triggers a flush for persistence.
func (ms *MmapStorage) OnWrite(offset, length int) {
	if ms.data == nil {
		return
	}
	if err := ms.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "err", err)
	}
}

// Close unmaps, unlocks and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		unlockImageFile(ms.file)
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
