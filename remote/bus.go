// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Bus adapts a Sender to media.Bus, so every save media driver can run
// against a cartridge in a remote reader. Register accesses cannot
// carry a context or return an error; when the link fails they log and
// read back open-bus values, which the save layer's verify and timeout
// handling then treats like absent hardware.
type Bus struct {
	sender   Sender
	deviceID byte
}

// NewBus binds a remote reader behind sender under the given device
// id.
func NewBus(sender Sender, deviceID byte) *Bus {
	return &Bus{sender: sender, deviceID: deviceID}
}

func (b *Bus) send(cmd Command) (Command, error) {
	resp, err := b.sender.Send(context.Background(), b.deviceID, cmd)
	if err != nil {
		return Command{}, err
	}
	if err := resp.Err(); err != nil {
		return Command{}, err
	}
	return resp, nil
}

func addrPayload(addr uint32, extra int) []byte {
	buf := make([]byte, 4+extra)
	binary.BigEndian.PutUint32(buf, addr)
	return buf
}

func (b *Bus) Read8(addr uint32) byte {
	resp, err := b.send(Command{Code: CmdRead8, Data: addrPayload(addr, 0)})
	if err != nil || len(resp.Data) != 1 {
		slog.Warn("remote read failed, reporting open bus", "addr", fmt.Sprintf("%#08x", addr), "err", err)
		return 0xFF
	}
	return resp.Data[0]
}

func (b *Bus) Write8(addr uint32, v byte) {
	buf := addrPayload(addr, 1)
	buf[4] = v
	if _, err := b.send(Command{Code: CmdWrite8, Data: buf}); err != nil {
		slog.Warn("remote write failed", "addr", fmt.Sprintf("%#08x", addr), "err", err)
	}
}

func (b *Bus) Read16(addr uint32) uint16 {
	resp, err := b.send(Command{Code: CmdRead16, Data: addrPayload(addr, 0)})
	if err != nil || len(resp.Data) != 2 {
		slog.Warn("remote read failed, reporting open bus", "addr", fmt.Sprintf("%#08x", addr), "err", err)
		return 0xFFFF
	}
	return binary.BigEndian.Uint16(resp.Data)
}

func (b *Bus) Write16(addr uint32, v uint16) {
	buf := addrPayload(addr, 2)
	binary.BigEndian.PutUint16(buf[4:], v)
	if _, err := b.send(Command{Code: CmdWrite16, Data: buf}); err != nil {
		slog.Warn("remote write failed", "addr", fmt.Sprintf("%#08x", addr), "err", err)
	}
}

// Ping proves the link and the reader are alive.
func (b *Bus) Ping(ctx context.Context) error {
	resp, err := b.sender.Send(ctx, b.deviceID, Command{Code: CmdPing})
	if err != nil {
		return err
	}
	return resp.Err()
}

// ReadBlock reads n consecutive bytes starting at addr, splitting the
// range into frame-sized chunks. Unlike the register methods it
// reports failures, so bulk tools do not mistake a dead link for
// 0xFF-filled media.
func (b *Bus) ReadBlock(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, &InvalidLengthError{Length: n}
	}
	out := make([]byte, 0, n)
	for n > 0 {
		chunk := n
		if chunk > MaxBlock {
			chunk = MaxBlock
		}
		buf := addrPayload(addr, 2)
		binary.BigEndian.PutUint16(buf[4:], uint16(chunk))
		resp, err := b.sender.Send(ctx, b.deviceID, Command{Code: CmdReadBlock, Data: buf})
		if err != nil {
			return nil, err
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		if len(resp.Data) != chunk {
			return nil, fmt.Errorf("remote: block response carries %d bytes, expected %d", len(resp.Data), chunk)
		}
		out = append(out, resp.Data...)
		addr += uint32(chunk)
		n -= chunk
	}
	return out, nil
}

// WriteBlock writes data starting at addr in frame-sized chunks.
func (b *Bus) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	for len(data) > 0 {
		chunk := len(data)
		if chunk > MaxBlock {
			chunk = MaxBlock
		}
		buf := addrPayload(addr, 2+chunk)
		binary.BigEndian.PutUint16(buf[4:], uint16(chunk))
		copy(buf[blockHeaderLen:], data[:chunk])
		resp, err := b.sender.Send(ctx, b.deviceID, Command{Code: CmdWriteBlock, Data: buf})
		if err != nil {
			return err
		}
		if err := resp.Err(); err != nil {
			return err
		}
		addr += uint32(chunk)
		data = data[chunk:]
	}
	return nil
}
