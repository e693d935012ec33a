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

// Slot record tag: magic, meta length, data length, checksum.
const slotTagLen = 12

var slotMagic = []byte("SLT1")

// SlotState classifies the contents of one slot.
type SlotState int

const (
	// SlotEmpty means the slot was never written or was erased.
	SlotEmpty SlotState = iota
	// SlotValid means the slot holds a record that passed validation.
	SlotValid
	// SlotCorrupted means the slot holds bytes that are neither blank
	// nor a valid record.
	SlotCorrupted
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotValid:
		return "valid"
	case SlotCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("slotstate(%d)", int(s))
	}
}

// Slot is the decoded contents of one save slot. Value and Meta are
// only set when State is SlotValid.
type Slot[T any] struct {
	Index int
	State SlotState
	Value T
	Meta  []byte
}

// SlotManager reads and writes fixed-size save slots holding values of
// type T. Each operation opens its own exclusive session, so calls fail
// with ErrMediaInUse while a manually opened Access is alive.
//
// Records are JSON-encoded and guarded by a checksum that folds in the
// manager magic; records written under a different magic classify as
// corrupted rather than valid.
type SlotManager[T any] struct {
	m *Manager
}

// NewSlotManager returns a slot manager over an initialized Manager.
func NewSlotManager[T any](m *Manager) (*SlotManager[T], error) {
	if m.backend == nil {
		return nil, media.ErrNotInitialized
	}
	return &SlotManager[T]{m: m}, nil
}

// NumSlots returns the configured slot count.
func (sm *SlotManager[T]) NumSlots() int { return sm.m.numSlots }

// checkIndex panics on an out-of-range slot index. A bad index is an
// engine bug, not a runtime condition, so it is not part of the error
// set.
func (sm *SlotManager[T]) checkIndex(i int) {
	if i < 0 || i >= sm.m.numSlots {
		panic(fmt.Sprintf("save: slot %d out of range [0, %d)", i, sm.m.numSlots))
	}
}

// uniformRegion reports whether buf is entirely 0x00 or entirely 0xFF,
// the two factory blank patterns across media types.
func uniformRegion(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	b := buf[0]
	if b != 0x00 && b != 0xFF {
		return false
	}
	for _, v := range buf {
		if v != b {
			return false
		}
	}
	return true
}

func (sm *SlotManager[T]) encodeRecord(value *T, meta []byte) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("save: serialize record: %w", err)
	}
	if len(meta) > math.MaxUint16 {
		return nil, fmt.Errorf("save: %d byte metadata: %w", len(meta), ErrRecordTooLarge)
	}
	record := make([]byte, slotTagLen+len(meta)+len(data))
	copy(record[0:4], slotMagic)
	binary.LittleEndian.PutUint16(record[4:6], uint16(len(meta)))
	binary.LittleEndian.PutUint32(record[6:10], uint32(len(data)))
	var c crc.CRC
	c.Reset().PushBytes(sm.m.magic[:]).PushBytes(meta).PushBytes(data)
	binary.LittleEndian.PutUint16(record[10:12], c.Value())
	copy(record[slotTagLen:], meta)
	copy(record[slotTagLen+len(meta):], data)
	return record, nil
}

// parseRecord splits a slot region into meta and data. ok is false on
// any validation failure: missing tag, lengths past the region or a
// checksum mismatch. The returned slices alias region.
func (sm *SlotManager[T]) parseRecord(region []byte) (meta, data []byte, ok bool) {
	if len(region) < slotTagLen || !bytes.Equal(region[0:4], slotMagic) {
		return nil, nil, false
	}
	metaLen := uint64(binary.LittleEndian.Uint16(region[4:6]))
	dataLen := uint64(binary.LittleEndian.Uint32(region[6:10]))
	if slotTagLen+metaLen+dataLen > uint64(len(region)) {
		return nil, nil, false
	}
	meta = region[slotTagLen : slotTagLen+int(metaLen)]
	data = region[slotTagLen+int(metaLen) : slotTagLen+int(metaLen)+int(dataLen)]
	var c crc.CRC
	c.Reset().PushBytes(sm.m.magic[:]).PushBytes(meta).PushBytes(data)
	if c.Value() != binary.LittleEndian.Uint16(region[10:12]) {
		return nil, nil, false
	}
	return meta, data, true
}

// inspect classifies slot i under an already open session.
func (sm *SlotManager[T]) inspect(a *Access, i int) (Slot[T], error) {
	slot := Slot[T]{Index: i}
	offset, length := sm.m.layout.slotRegion(i)
	region := make([]byte, length)
	if err := a.Read(offset, region); err != nil {
		return slot, err
	}
	if uniformRegion(region) {
		slot.State = SlotEmpty
		return slot, nil
	}
	meta, data, ok := sm.parseRecord(region)
	if !ok {
		slot.State = SlotCorrupted
		return slot, nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		slot.State = SlotCorrupted
		return slot, nil
	}
	slot.State = SlotValid
	slot.Value = value
	slot.Meta = bytes.Clone(meta)
	return slot, nil
}

// Slot classifies slot i without mutating anything. Only hardware
// failures surface as errors; blank or damaged contents are reported
// through State. It panics when i is out of range.
func (sm *SlotManager[T]) Slot(i int) (Slot[T], error) {
	sm.checkIndex(i)
	a, err := sm.m.Access()
	if err != nil {
		return Slot[T]{Index: i}, err
	}
	defer a.Close()
	return sm.inspect(a, i)
}

// Read returns the value stored in slot i. It panics when i is out of
// range.
func (sm *SlotManager[T]) Read(i int) (T, error) {
	var zero T
	slot, err := sm.Slot(i)
	if err != nil {
		return zero, err
	}
	switch slot.State {
	case SlotValid:
		return slot.Value, nil
	case SlotEmpty:
		return zero, ErrSlotEmpty
	default:
		return zero, ErrSlotCorrupted
	}
}

// Metadata returns the metadata of slot i without deserializing the
// value. It panics when i is out of range.
func (sm *SlotManager[T]) Metadata(i int) ([]byte, error) {
	sm.checkIndex(i)
	a, err := sm.m.Access()
	if err != nil {
		return nil, err
	}
	defer a.Close()
	offset, length := sm.m.layout.slotRegion(i)
	region := make([]byte, length)
	if err := a.Read(offset, region); err != nil {
		return nil, err
	}
	if uniformRegion(region) {
		return nil, ErrSlotEmpty
	}
	meta, _, ok := sm.parseRecord(region)
	if !ok {
		return nil, ErrSlotCorrupted
	}
	return bytes.Clone(meta), nil
}

// Write stores value and its metadata in slot i: prepare, program,
// then verify against a readback. It panics when i is out of range.
func (sm *SlotManager[T]) Write(i int, value *T, meta []byte) error {
	sm.checkIndex(i)
	record, err := sm.encodeRecord(value, meta)
	if err != nil {
		return err
	}
	offset, length := sm.m.layout.slotRegion(i)
	if len(record) > length {
		return fmt.Errorf("save: %d byte record exceeds %d byte slot: %w",
			len(record), length, ErrRecordTooLarge)
	}
	a, err := sm.m.Access()
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
		return fmt.Errorf("save: slot %d readback mismatch: %w", i, media.ErrVerifyFailed)
	}
	return nil
}

// Erase blanks slot i so it classifies as SlotEmpty. Media with an
// erase cycle are left in the erased state; byte media are zero filled
// and verified. It panics when i is out of range.
func (sm *SlotManager[T]) Erase(i int) error {
	sm.checkIndex(i)
	offset, length := sm.m.layout.slotRegion(i)
	a, err := sm.m.Access()
	if err != nil {
		return err
	}
	defer a.Close()
	info, err := a.Info()
	if err != nil {
		return err
	}
	if info.UsesPrepareWrite {
		return a.PrepareWrite(offset, length)
	}
	blank := make([]byte, length)
	if err := a.Write(offset, blank); err != nil {
		return err
	}
	match, err := a.Verify(offset, blank)
	if err != nil {
		return err
	}
	if !match {
		return fmt.Errorf("save: slot %d not blank after erase: %w", i, media.ErrVerifyFailed)
	}
	return nil
}

// Slots classifies every slot under one session.
func (sm *SlotManager[T]) Slots() ([]Slot[T], error) {
	a, err := sm.m.Access()
	if err != nil {
		return nil, err
	}
	defer a.Close()
	slots := make([]Slot[T], sm.m.numSlots)
	for i := range slots {
		slot, err := sm.inspect(a, i)
		if err != nil {
			return nil, err
		}
		slots[i] = slot
	}
	return slots, nil
}
