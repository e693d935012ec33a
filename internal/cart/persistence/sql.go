// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// Pages are the persistence unit: one row per touched 4 KiB of image.
const pageSize = 4096

// SQLStorage keeps the image page-chunked in a SQL database.
// It assumes tables `cart_meta` and `cart_pages` exist (or creates them).
type SQLStorage struct {
	driver string
	dsn    string
	size   int
	db     *sql.DB
	img    *Image
}

// NewSQLStorage creates a new SQLStorage.
// Note: The driver (e.g., sqlite3) must be imported in main.go
func NewSQLStorage(driver, dsn string, size int) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
		size:   size,
	}
}

// Load connects to the DB and assembles the image from its pages.
func (s *SQLStorage) Load() (*Image, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	var storedSize int
	fresh := false
	err = db.QueryRow("SELECT value FROM cart_meta WHERE key = 'size'").Scan(&storedSize)
	switch {
	case err == sql.ErrNoRows:
		fresh = true
		if _, err := db.Exec("INSERT INTO cart_meta (key, value) VALUES ('size', ?)", s.size); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to store image size: %w", err)
		}
	case err != nil:
		s.Close()
		return nil, fmt.Errorf("failed to query image size: %w", err)
	case storedSize != s.size:
		s.Close()
		return nil, fmt.Errorf("stored image is %d bytes, configured chip needs %d", storedSize, s.size)
	}

	data := make([]byte, s.size)

	rows, err := db.Query("SELECT page, data FROM cart_pages")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var page int
		var chunk []byte
		if err := rows.Scan(&page, &chunk); err != nil {
			continue
		}
		off := page * pageSize
		if off < 0 || off >= s.size {
			continue
		}
		copy(data[off:], chunk)
	}

	s.img = &Image{Data: data, Fresh: fresh}
	return s.img, nil
}

func (s *SQLStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS cart_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER
	);
	CREATE TABLE IF NOT EXISTS cart_pages (
		page INTEGER PRIMARY KEY,
		data BLOB
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save rewrites every page. OnWrite keeps the DB current, so this is
// only useful as an explicit full snapshot.
func (s *SQLStorage) Save(img *Image) error {
	if s.db == nil {
		return nil
	}
	s.img = img
	s.writePages(0, len(img.Data))
	return nil
}

// OnWrite upserts the pages overlapping the touched range.
func (s *SQLStorage) OnWrite(offset, length int) {
	if s.db == nil || s.img == nil {
		return
	}
	s.writePages(offset, length)
}

func (s *SQLStorage) writePages(offset, length int) {
	if length <= 0 {
		return
	}
	first := offset / pageSize
	last := (offset + length - 1) / pageSize

	for page := first; page <= last; page++ {
		start := page * pageSize
		end := start + pageSize
		if end > len(s.img.Data) {
			end = len(s.img.Data)
		}
		if start >= end {
			return
		}

		// Upsert logic (SQLite compatible)
		query := "INSERT INTO cart_pages (page, data) VALUES (?, ?) ON CONFLICT(page) DO UPDATE SET data=excluded.data"
		if _, err := s.db.Exec(query, page, s.img.Data[start:end]); err != nil {
			slog.Error("Failed to persist image page", "page", page, "err", err)
		}
	}
}

func (s *SQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
