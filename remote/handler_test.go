// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/ffutop/cartsave/internal/cart"
	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

func newHandlerCart(t *testing.T, mt media.MediaType) *cart.Cartridge {
	t.Helper()
	c, err := cart.Open(mt, "", persistence.NewMemoryStorage(mt.Capacity()))
	if err != nil {
		t.Fatalf("open cartridge: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func call(t *testing.T, h RequestHandler, cmd Command) Command {
	t.Helper()
	resp, err := h(context.Background(), 1, cmd)
	if err != nil {
		t.Fatalf("handler(%#02x): %v", cmd.Code, err)
	}
	return resp
}

func TestCartHandlerByteOps(t *testing.T) {
	h := NewCartHandler(newHandlerCart(t, media.Sram))

	resp := call(t, h, Command{Code: CmdPing})
	if resp.Code != CmdPing || len(resp.Data) != 0 {
		t.Fatalf("ping response = %+v", resp)
	}

	wr := addrPayload(media.BackupBase+5, 1)
	wr[4] = 0xAB
	resp = call(t, h, Command{Code: CmdWrite8, Data: wr})
	if err := resp.Err(); err != nil {
		t.Fatalf("write8: %v", err)
	}

	resp = call(t, h, Command{Code: CmdRead8, Data: addrPayload(media.BackupBase+5, 0)})
	if err := resp.Err(); err != nil {
		t.Fatalf("read8: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0xAB}) {
		t.Errorf("read8 data = %X, want AB", resp.Data)
	}
}

func TestCartHandlerWordOps(t *testing.T) {
	h := NewCartHandler(newHandlerCart(t, media.Eeprom512B))

	// An idle serial chip answers ready on its port and open bus
	// everywhere else.
	resp := call(t, h, Command{Code: CmdRead16, Data: addrPayload(media.EepromPort, 0)})
	if err := resp.Err(); err != nil {
		t.Fatalf("read16: %v", err)
	}
	if got := binary.BigEndian.Uint16(resp.Data); got != 1 {
		t.Errorf("port read16 = %#04x, want 0x0001", got)
	}

	resp = call(t, h, Command{Code: CmdRead16, Data: addrPayload(media.BackupBase, 0)})
	if got := binary.BigEndian.Uint16(resp.Data); got != 0xFFFF {
		t.Errorf("open bus read16 = %#04x, want 0xffff", got)
	}

	wr := addrPayload(media.EepromPort, 2)
	binary.BigEndian.PutUint16(wr[4:], 1)
	resp = call(t, h, Command{Code: CmdWrite16, Data: wr})
	if resp.Code != CmdWrite16 || len(resp.Data) != 0 {
		t.Errorf("write16 response = %+v", resp)
	}
}

func TestCartHandlerBlockOps(t *testing.T) {
	h := NewCartHandler(newHandlerCart(t, media.Sram))

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wr := addrPayload(media.BackupBase+16, 2+len(payload))
	binary.BigEndian.PutUint16(wr[4:6], uint16(len(payload)))
	copy(wr[6:], payload)
	resp := call(t, h, Command{Code: CmdWriteBlock, Data: wr})
	if err := resp.Err(); err != nil {
		t.Fatalf("write block: %v", err)
	}

	rd := addrPayload(media.BackupBase+16, 2)
	binary.BigEndian.PutUint16(rd[4:6], uint16(len(payload)))
	resp = call(t, h, Command{Code: CmdReadBlock, Data: rd})
	if err := resp.Err(); err != nil {
		t.Fatalf("read block: %v", err)
	}
	if !bytes.Equal(resp.Data, payload) {
		t.Errorf("read block = %X, want %X", resp.Data, payload)
	}

	// Untouched battery RAM reads back as zeroes.
	rd = addrPayload(media.BackupBase+1024, 2)
	binary.BigEndian.PutUint16(rd[4:6], 4)
	resp = call(t, h, Command{Code: CmdReadBlock, Data: rd})
	if !bytes.Equal(resp.Data, []byte{0, 0, 0, 0}) {
		t.Errorf("erased block = %X, want zeroes", resp.Data)
	}
}

func TestCartHandlerRejectsBadRequests(t *testing.T) {
	h := NewCartHandler(newHandlerCart(t, media.Sram))

	oversized := addrPayload(media.BackupBase, 2)
	binary.BigEndian.PutUint16(oversized[4:6], MaxBlock+1)

	countMismatch := addrPayload(media.BackupBase, 2+4)
	binary.BigEndian.PutUint16(countMismatch[4:6], 8)

	tests := []struct {
		name       string
		cmd        Command
		wantStatus byte
	}{
		{"PingWithPayload", Command{Code: CmdPing, Data: []byte{1}}, StatusBadLength},
		{"Read8Short", Command{Code: CmdRead8, Data: []byte{0x0E, 0x00}}, StatusBadLength},
		{"Write8Long", Command{Code: CmdWrite8, Data: make([]byte, 6)}, StatusBadLength},
		{"Read16Short", Command{Code: CmdRead16, Data: make([]byte, 3)}, StatusBadLength},
		{"Write16Short", Command{Code: CmdWrite16, Data: make([]byte, 5)}, StatusBadLength},
		{"ReadBlockShort", Command{Code: CmdReadBlock, Data: make([]byte, 5)}, StatusBadLength},
		{"ReadBlockZeroCount", Command{Code: CmdReadBlock, Data: addrPayload(media.BackupBase, 2)}, StatusBadLength},
		{"ReadBlockOversized", Command{Code: CmdReadBlock, Data: oversized}, StatusBadLength},
		{"WriteBlockShort", Command{Code: CmdWriteBlock, Data: make([]byte, 4)}, StatusBadLength},
		{"WriteBlockCountMismatch", Command{Code: CmdWriteBlock, Data: countMismatch}, StatusBadLength},
		{"UnknownCommand", Command{Code: 0x7F}, StatusUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, h, tt.cmd)
			if resp.Code != tt.cmd.Code|0x80 {
				t.Fatalf("response code = %#02x, want %#02x", resp.Code, tt.cmd.Code|0x80)
			}
			if len(resp.Data) != 1 || resp.Data[0] != tt.wantStatus {
				t.Errorf("status = %v, want %d", resp.Data, tt.wantStatus)
			}
		})
	}
}
