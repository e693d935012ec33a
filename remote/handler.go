// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"context"
	"encoding/binary"

	"github.com/ffutop/cartsave/media"
)

// NewCartHandler returns a RequestHandler that executes commands
// against a locally attached cartridge bus. Malformed requests are
// answered with an error response rather than dropped, so a confused
// client learns about its mistake instead of timing out.
func NewCartHandler(bus media.Bus) RequestHandler {
	h := &cartHandler{bus: bus}
	return h.handle
}

type cartHandler struct {
	bus media.Bus
}

func (h *cartHandler) handle(ctx context.Context, deviceID byte, cmd Command) (Command, error) {
	switch cmd.Code {
	case CmdPing:
		if len(cmd.Data) != 0 {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		return Command{Code: CmdPing}, nil

	case CmdRead8:
		if len(cmd.Data) != 4 {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		addr := binary.BigEndian.Uint32(cmd.Data)
		return Command{Code: cmd.Code, Data: []byte{h.bus.Read8(addr)}}, nil

	case CmdWrite8:
		if len(cmd.Data) != 5 {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		addr := binary.BigEndian.Uint32(cmd.Data)
		h.bus.Write8(addr, cmd.Data[4])
		return Command{Code: cmd.Code}, nil

	case CmdRead16:
		if len(cmd.Data) != 4 {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		addr := binary.BigEndian.Uint32(cmd.Data)
		resp := make([]byte, 2)
		binary.BigEndian.PutUint16(resp, h.bus.Read16(addr))
		return Command{Code: cmd.Code, Data: resp}, nil

	case CmdWrite16:
		if len(cmd.Data) != 6 {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		addr := binary.BigEndian.Uint32(cmd.Data)
		h.bus.Write16(addr, binary.BigEndian.Uint16(cmd.Data[4:6]))
		return Command{Code: cmd.Code}, nil

	case CmdReadBlock:
		if len(cmd.Data) != blockHeaderLen {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		addr := binary.BigEndian.Uint32(cmd.Data)
		count := int(binary.BigEndian.Uint16(cmd.Data[4:blockHeaderLen]))
		if count == 0 || count > MaxBlock {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		resp := make([]byte, count)
		for i := range resp {
			resp[i] = h.bus.Read8(addr + uint32(i))
		}
		return Command{Code: cmd.Code, Data: resp}, nil

	case CmdWriteBlock:
		if len(cmd.Data) < blockHeaderLen {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		addr := binary.BigEndian.Uint32(cmd.Data)
		count := int(binary.BigEndian.Uint16(cmd.Data[4:blockHeaderLen]))
		if count == 0 || count > MaxBlock || len(cmd.Data) != blockHeaderLen+count {
			return errorCommand(cmd.Code, StatusBadLength), nil
		}
		for i, b := range cmd.Data[blockHeaderLen:] {
			h.bus.Write8(addr+uint32(i), b)
		}
		return Command{Code: cmd.Code}, nil

	default:
		return errorCommand(cmd.Code, StatusUnknownCommand), nil
	}
}
