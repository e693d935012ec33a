// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package remote carries cartridge bus accesses over a serial line or
// a TCP connection, for driving save media in a cartridge reader that
// is not attached to the local process. A Client forwards single bus
// commands to a remote reader; a Server exposes a locally attached
// cartridge to remote clients. Both ends speak the same byte-oriented
// frame protocol.
package remote

import (
	"context"
	"fmt"
)

// Frame size limits. A frame is device id (1), command (1), command
// data and a 16-bit checksum.
const (
	MinSize  = 4
	MaxBlock = 256
	MaxSize  = 2 + blockHeaderLen + MaxBlock + 2
)

// blockHeaderLen is the fixed part of a block command payload: a
// 32-bit address and a 16-bit count.
const blockHeaderLen = 6

// Command codes. Addresses and counts travel big endian.
const (
	CmdPing       = 0x01 // no payload, proves the link and the reader
	CmdRead8      = 0x02 // addr(4) -> value(1)
	CmdWrite8     = 0x03 // addr(4) value(1) -> empty
	CmdRead16     = 0x04 // addr(4) -> value(2)
	CmdWrite16    = 0x05 // addr(4) value(2) -> empty
	CmdReadBlock  = 0x06 // addr(4) count(2) -> count bytes
	CmdWriteBlock = 0x07 // addr(4) count(2) bytes -> empty
)

// errorFlag marks a response command as an error report. The payload
// is then a single status byte.
const errorFlag = 0x80

// Error statuses carried by an error response.
const (
	StatusUnknownCommand = 1
	StatusBadLength      = 2
	StatusDeviceFailure  = 3
)

// Command is the unit the transports carry: an opcode plus its data.
type Command struct {
	Code byte
	Data []byte
}

// errorCommand builds the error response for a failed command.
func errorCommand(code byte, status byte) Command {
	return Command{Code: code | errorFlag, Data: []byte{status}}
}

// DeviceError is the decoded form of an error response.
type DeviceError struct {
	Code   byte // the original command code
	Status byte
}

func (e *DeviceError) Error() string {
	var reason string
	switch e.Status {
	case StatusUnknownCommand:
		reason = "unknown command"
	case StatusBadLength:
		reason = "bad request length"
	case StatusDeviceFailure:
		reason = "device failure"
	default:
		reason = fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("remote: command 0x%02X failed: %s", e.Code, reason)
}

// Err decodes an error response into a DeviceError. It returns nil for
// ordinary responses.
func (c Command) Err() error {
	if c.Code&errorFlag == 0 {
		return nil
	}
	e := &DeviceError{Code: c.Code &^ errorFlag}
	if len(c.Data) > 0 {
		e.Status = c.Data[0]
	}
	return e
}

// RequestHandler answers one decoded request. Returning an error makes
// the server report a device failure to the peer.
type RequestHandler func(ctx context.Context, deviceID byte, cmd Command) (Command, error)

// Server accepts requests from remote clients and feeds them to a
// handler. Start blocks until the context is cancelled.
type Server interface {
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Sender issues one request to a remote reader and returns its
// response. Implementations are safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, deviceID byte, cmd Command) (Command, error)
	Connect(ctx context.Context) error
	Close() error
}
