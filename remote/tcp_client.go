// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"time"
)

const tcpTimeout = 10 * time.Second

// TCPClient drives a cartridge reader that is reachable over TCP, for
// readers attached to another host. Each request dials a fresh
// connection; a reader serves one bus access at a time anyway, and a
// dropped link then never leaves a half-read frame behind.
type TCPClient struct {
	Address string
	Timeout time.Duration
}

// NewTCPClient allocates and initializes a TCP client.
func NewTCPClient(address string) *TCPClient {
	return &TCPClient{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Send issues one command to the reader and waits for its answer.
func (c *TCPClient) Send(ctx context.Context, deviceID byte, cmd Command) (Command, error) {
	frame := &Frame{DeviceID: deviceID, Cmd: cmd}
	raw, err := frame.Encode()
	if err != nil {
		return Command{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	expectData, err := responseDataLen(cmd)
	if err != nil {
		return Command{}, err
	}

	conn, err := net.DialTimeout("tcp", c.Address, c.Timeout)
	if err != nil {
		return Command{}, fmt.Errorf("remote: failed to connect to %s: %w", c.Address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Command{}, err
	}

	slog.Debug("send to cart reader", "request", hex.EncodeToString(raw))
	if _, err := conn.Write(raw); err != nil {
		return Command{}, err
	}

	respRaw, err := ReadResponse(deviceID, cmd.Code, expectData, conn, deadline)
	if err != nil {
		return Command{}, err
	}
	slog.Debug("recv from cart reader", "response", hex.EncodeToString(respRaw))

	resp, err := DecodeFrame(respRaw)
	if err != nil {
		return Command{}, fmt.Errorf("failed to decode response frame: %w", err)
	}
	if err := frame.Verify(resp); err != nil {
		return Command{}, fmt.Errorf("verification failed: %w", err)
	}
	return resp.Cmd, nil
}

// Connect checks that the configured address resolves.
func (c *TCPClient) Connect(ctx context.Context) error {
	_, err := net.ResolveTCPAddr("tcp", c.Address)
	return err
}

// Close implements Sender. Connections are per request, so there is
// nothing to release.
func (c *TCPClient) Close() error {
	return nil
}
