// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileStorage keeps the image in an ordinary file, rewritten and
// synced on every chip write so a crash loses at most the operation
// in flight.
type FileStorage struct {
	path string
	size int
	file *os.File
	img  *Image
}

// NewFileStorage creates a new FileStorage for a chip of size bytes.
func NewFileStorage(path string, size int) *FileStorage {
	return &FileStorage{
		path: path,
		size: size,
	}
}

// Load reads the image, creating and sizing the file when necessary.
func (fs *FileStorage) Load() (*Image, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	if err := lockImageFile(f); err != nil {
		f.Close()
		return nil, err
	}
	fs.file = f

	fi, err := f.Stat()
	if err != nil {
		fs.Close()
		return nil, err
	}

	fresh := fi.Size() == 0
	if fi.Size() != int64(fs.size) {
		if err := f.Truncate(int64(fs.size)); err != nil {
			fs.Close()
			return nil, fmt.Errorf("failed to resize image file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	fs.img = &Image{Data: data, Fresh: fresh}
	return fs.img, nil
}

// Save flushes the image to disk.
func (fs *FileStorage) Save(img *Image) error {
	return fs.sync()
}

// OnWrite triggers a sync for persistence.
func (fs *FileStorage) OnWrite(offset, length int) {
	if err := fs.sync(); err != nil {
		slog.Error("Failed to sync image file", "err", err)
	}
}

func (fs *FileStorage) sync() error {
	if fs.img == nil || fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.img.Data, 0); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync image file to disk: %w", err)
	}
	return nil
}

// Close unlocks and closes the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	unlockImageFile(fs.file)
	err := fs.file.Close()
	fs.file = nil
	return err
}
