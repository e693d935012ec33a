// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package save

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ffutop/cartsave/crc"
	"github.com/ffutop/cartsave/media"
)

// Profile record tag: id length, data length, checksum.
const profileTagLen = 8

// Save stores a single value of type T in the region past the last
// slot. With zero slots configured that is the whole data area, the
// intended setup for games with one save profile. The record carries a
// caller-chosen identifier so a profile written by a different build
// or player is reported instead of silently decoded.
type Save[T any] struct {
	m  *Manager
	id []byte
}

// NewSave binds id to the profile region of an initialized Manager.
// The id must be non-empty and the region must have room for the tag,
// the id and at least one data byte.
func NewSave[T any](m *Manager, id []byte) (*Save[T], error) {
	if m.backend == nil {
		return nil, media.ErrNotInitialized
	}
	if len(id) == 0 || len(id) > math.MaxUint16 {
		return nil, fmt.Errorf("save: profile id must be 1 to %d bytes, got %d: %w",
			math.MaxUint16, len(id), media.ErrConfigMismatch)
	}
	_, length := m.layout.profileRegion()
	if length < profileTagLen+len(id)+1 {
		return nil, fmt.Errorf("save: %d byte profile region cannot hold id of %d bytes: %w",
			length, len(id), media.ErrConfigMismatch)
	}
	return &Save[T]{m: m, id: bytes.Clone(id)}, nil
}

func (s *Save[T]) encodeRecord(value *T) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("save: serialize profile: %w", err)
	}
	record := make([]byte, profileTagLen+len(s.id)+len(data))
	binary.LittleEndian.PutUint16(record[0:2], uint16(len(s.id)))
	binary.LittleEndian.PutUint32(record[2:6], uint32(len(data)))
	var c crc.CRC
	c.Reset().PushBytes(s.m.magic[:]).PushBytes(s.id).PushBytes(data)
	binary.LittleEndian.PutUint16(record[6:8], c.Value())
	copy(record[profileTagLen:], s.id)
	copy(record[profileTagLen+len(s.id):], data)
	return record, nil
}

// Store writes value to the profile region: prepare, program, verify.
func (s *Save[T]) Store(value *T) error {
	record, err := s.encodeRecord(value)
	if err != nil {
		return err
	}
	offset, length := s.m.layout.profileRegion()
	if len(record) > length {
		return fmt.Errorf("save: %d byte profile exceeds %d byte region: %w",
			len(record), length, ErrRecordTooLarge)
	}
	a, err := s.m.Access()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.PrepareWrite(offset, len(record)); err != nil {
		return err
	}
	if err := a.Write(offset, record); err != nil {
		return err
	}
	match, err := a.Verify(offset, record)
	if err != nil {
		return err
	}
	if !match {
		return fmt.Errorf("save: profile readback mismatch: %w", media.ErrVerifyFailed)
	}
	return nil
}

// Load reads the stored value. It returns ErrNoSave when the region
// was never written, ErrIDMismatch when the record belongs to another
// id and ErrProfileCorrupted when validation fails. It never falls
// back to a default value.
func (s *Save[T]) Load() (T, error) {
	var zero T
	offset, length := s.m.layout.profileRegion()

	a, err := s.m.Access()
	if err != nil {
		return zero, err
	}
	defer a.Close()

	head := make([]byte, profileTagLen)
	if err := a.Read(offset, head); err != nil {
		return zero, err
	}
	if uniformRegion(head) {
		return zero, ErrNoSave
	}
	idLen := uint64(binary.LittleEndian.Uint16(head[0:2]))
	dataLen := uint64(binary.LittleEndian.Uint32(head[2:6]))
	if idLen == 0 || profileTagLen+idLen+dataLen > uint64(length) {
		return zero, ErrProfileCorrupted
	}

	body := make([]byte, int(idLen)+int(dataLen))
	if err := a.Read(offset+profileTagLen, body); err != nil {
		return zero, err
	}
	id, data := body[:idLen], body[idLen:]
	var c crc.CRC
	c.Reset().PushBytes(s.m.magic[:]).PushBytes(id).PushBytes(data)
	if c.Value() != binary.LittleEndian.Uint16(head[6:8]) {
		return zero, ErrProfileCorrupted
	}
	if !bytes.Equal(id, s.id) {
		return zero, ErrIDMismatch
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, ErrProfileCorrupted
	}
	return value, nil
}
