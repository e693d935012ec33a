// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/cartsave/crc"
)

var ErrRequestTimedOut = errors.New("remote: request timed out")

// InvalidLengthError reports a block count the protocol cannot carry.
type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// Frame is one request or response on the wire:
//
//	Device ID : 1 byte
//	Command   : 1 byte
//	Data      : 0 up to MaxBlock+6 bytes
//	CRC       : 2 bytes, low byte first
type Frame struct {
	DeviceID byte
	Cmd      Command
}

// Encode serializes the frame and appends the checksum.
func (f *Frame) Encode() ([]byte, error) {
	length := len(f.Cmd.Data) + MinSize
	if length > MaxSize {
		return nil, fmt.Errorf("remote: frame length %d exceeds maximum %d", length, MaxSize)
	}
	raw := make([]byte, length)
	raw[0] = f.DeviceID
	raw[1] = f.Cmd.Code
	copy(raw[2:], f.Cmd.Data)

	var c crc.CRC
	checksum := c.Reset().PushBytes(raw[:length-2]).Value()
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw, nil
}

// DecodeFrame parses raw and validates its checksum.
func DecodeFrame(raw []byte) (*Frame, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("remote: frame length %d does not meet minimum %d", length, MinSize)
	}
	var c crc.CRC
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if want := c.Reset().PushBytes(raw[:length-2]).Value(); checksum != want {
		return nil, fmt.Errorf("remote: frame crc %#04x does not match expected %#04x", checksum, want)
	}
	f := &Frame{DeviceID: raw[0]}
	f.Cmd.Code = raw[1]
	f.Cmd.Data = raw[2 : length-2]
	return f, nil
}

// Verify checks that resp answers this request: same device, and the
// command code either echoed or flagged as an error.
func (f *Frame) Verify(resp *Frame) error {
	if resp.DeviceID != f.DeviceID {
		return fmt.Errorf("remote: response device id %d does not match request %d", resp.DeviceID, f.DeviceID)
	}
	if resp.Cmd.Code != f.Cmd.Code && resp.Cmd.Code != f.Cmd.Code|errorFlag {
		return fmt.Errorf("remote: response command %#02x does not match request %#02x", resp.Cmd.Code, f.Cmd.Code)
	}
	return nil
}

// requestDataLen returns the payload length of a request, which is
// fixed per command except for block writes. For CmdWriteBlock it
// reports the fixed header part and variable true.
func requestDataLen(code byte) (n int, variable bool, err error) {
	switch code {
	case CmdPing:
		return 0, false, nil
	case CmdRead8, CmdRead16:
		return 4, false, nil
	case CmdWrite8:
		return 5, false, nil
	case CmdWrite16, CmdReadBlock:
		return blockHeaderLen, false, nil
	case CmdWriteBlock:
		return blockHeaderLen, true, nil
	default:
		return 0, false, fmt.Errorf("remote: unsupported command %#02x", code)
	}
}

// responseDataLen returns the payload length of the response to cmd.
// For block reads the length comes from the request's count field.
func responseDataLen(cmd Command) (int, error) {
	switch cmd.Code {
	case CmdPing, CmdWrite8, CmdWrite16, CmdWriteBlock:
		return 0, nil
	case CmdRead8:
		return 1, nil
	case CmdRead16:
		return 2, nil
	case CmdReadBlock:
		if len(cmd.Data) < blockHeaderLen {
			return 0, &InvalidLengthError{Length: len(cmd.Data)}
		}
		count := int(binary.BigEndian.Uint16(cmd.Data[4:blockHeaderLen]))
		if count == 0 || count > MaxBlock {
			return 0, &InvalidLengthError{Length: count}
		}
		return count, nil
	default:
		return 0, fmt.Errorf("remote: unsupported command %#02x", cmd.Code)
	}
}

// Framer states.
const (
	stateDeviceID = 1 << iota
	stateCommand
	statePayload
	stateCRC
)

// ReadResponse reads a response frame incrementally from the reader.
// A state machine scans byte by byte until it sees the expected device
// id followed by the expected command code, so line noise and stale
// bytes ahead of the frame are discarded. expectData is the payload
// length of a success response; an error response always carries one
// status byte.
func ReadResponse(deviceID, code byte, expectData int, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateDeviceID
	toRead := expectData
	var n, crcCount int

	for {
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case stateDeviceID:
			if buf[0] == deviceID {
				state = stateCommand
				data[n] = buf[0]
				n++
			}
		case stateCommand:
			switch buf[0] {
			case code:
				toRead = expectData
			case code | errorFlag:
				toRead = 1
			default:
				// Not our frame; resynchronize. The stray byte may
				// itself open the real frame.
				n = 0
				if buf[0] == deviceID {
					data[n] = buf[0]
					n++
				} else {
					state = stateDeviceID
				}
				continue
			}
			data[n] = buf[0]
			n++
			if toRead == 0 {
				state = stateCRC
			} else {
				state = statePayload
			}
		case statePayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}
