// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package save

import (
	"github.com/ffutop/cartsave/media"
)

// Access is an exclusive session on the bound medium. Holding one
// guarantees no other session can interleave hardware commands, which
// flash and EEPROM command sequences require. All offsets are byte
// offsets from the start of the medium; the session supplies its own
// poll timeout on every operation.
//
// An Access must be closed when no longer needed. It is not safe for
// concurrent use; it exists to serialize hardware access, not to share
// it.
type Access struct {
	m       *Manager
	timeout media.Timeout
	closed  bool
}

// Access opens an exclusive session. It fails with ErrNotInitialized
// before Init or Reopen and with ErrMediaInUse while another session
// is open. It never blocks waiting for the other session.
func (m *Manager) Access() (*Access, error) {
	if m.backend == nil {
		return nil, media.ErrNotInitialized
	}
	if !m.inUse.CompareAndSwap(false, true) {
		return nil, media.ErrMediaInUse
	}
	return &Access{m: m, timeout: media.NewTimeout(m.timer)}, nil
}

// Info describes the medium behind this session.
func (a *Access) Info() (media.Info, error) {
	if a.closed {
		return media.Info{}, media.ErrMediaInUse
	}
	return a.m.backend.Info()
}

// Read copies len(buf) bytes starting at offset into buf.
func (a *Access) Read(offset int, buf []byte) error {
	if a.closed {
		return media.ErrMediaInUse
	}
	return a.m.backend.Read(offset, buf, &a.timeout)
}

// Verify compares the medium against buf. A mismatch is reported in
// the bool result, not as an error.
func (a *Access) Verify(offset int, buf []byte) (bool, error) {
	if a.closed {
		return false, media.ErrMediaInUse
	}
	return a.m.backend.Verify(offset, buf, &a.timeout)
}

// PrepareWrite readies [offset, offset+length) for programming.
func (a *Access) PrepareWrite(offset, length int) error {
	if a.closed {
		return media.ErrMediaInUse
	}
	return a.m.backend.PrepareWrite(offset, length, &a.timeout)
}

// Write programs len(buf) bytes at offset. On media that require it
// the range must have been prepared first.
func (a *Access) Write(offset int, buf []byte) error {
	if a.closed {
		return media.ErrMediaInUse
	}
	return a.m.backend.Write(offset, buf, &a.timeout)
}

// Close releases the session and stops its poll timer. Closing twice
// is safe; operations on a closed session fail with ErrMediaInUse.
func (a *Access) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.timeout.Stop()
	a.m.inUse.Store(false)
}
