// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/grid-x/serial"
)

// SerialClient drives a cartridge reader over a serial line. One
// request is in flight at a time; the port opens on first use and
// closes itself after an idle minute.
type SerialClient struct {
	serialPort
}

// NewSerialClient allocates and initializes a serial client. A zero
// Timeout in cfg falls back to the package default.
func NewSerialClient(cfg serial.Config) *SerialClient {
	client := &SerialClient{}
	client.serialPort.Config = cfg
	if client.serialPort.Config.Timeout <= 0 {
		client.serialPort.Config.Timeout = serialTimeout
	}
	client.IdleTimeout = serialIdleTimeout
	return client
}

// Send issues one command to the reader and waits for its answer.
func (c *SerialClient) Send(ctx context.Context, deviceID byte, cmd Command) (Command, error) {
	frame := &Frame{DeviceID: deviceID, Cmd: cmd}
	raw, err := frame.Encode()
	if err != nil {
		return Command{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	expectData, err := responseDataLen(cmd)
	if err != nil {
		return Command{}, err
	}

	respRaw, err := c.send(ctx, raw, deviceID, cmd.Code, expectData)
	if err != nil {
		return Command{}, err
	}

	resp, err := DecodeFrame(respRaw)
	if err != nil {
		return Command{}, fmt.Errorf("failed to decode response frame: %w", err)
	}
	if err := frame.Verify(resp); err != nil {
		return Command{}, fmt.Errorf("verification failed: %w", err)
	}
	return resp.Cmd, nil
}

func (c *SerialClient) send(ctx context.Context, raw []byte, deviceID, code byte, expectData int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.lastActivity = time.Now()
	c.startCloseTimer()

	slog.Debug("send to cart reader", "request", hex.EncodeToString(raw))
	if _, err := c.port.Write(raw); err != nil {
		return nil, err
	}

	// Give the reader time to clock the bits across before the first
	// read, sized by the frame lengths on the line.
	bytesToRead := MinSize + expectData
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.calculateDelay(len(raw) + bytesToRead)):
	}

	data, err := ReadResponse(deviceID, code, expectData, c.port, time.Now().Add(c.Config.Timeout))
	if err != nil {
		return nil, err
	}
	slog.Debug("recv from cart reader", "response", hex.EncodeToString(data))
	return data, nil
}

// calculateDelay calculates the quiet time needed to separate frames.
func (c *SerialClient) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if c.BaudRate <= 0 || c.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / c.BaudRate
		frameDelay = 35000000 / c.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
