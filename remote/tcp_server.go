// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
)

// TCPServer exposes a locally attached cartridge over TCP. Multiple
// clients may connect, but requests are handled one at a time across
// all connections because bus command sequences must not interleave.
type TCPServer struct {
	Address string

	listener net.Listener
	requests chan tcpRequest
}

type tcpRequest struct {
	frame *Frame
	reply chan Command
}

// NewTCPServer creates a TCP server on the given listen address.
func NewTCPServer(address string) *TCPServer {
	return &TCPServer{
		Address:  address,
		requests: make(chan tcpRequest),
	}
}

// Start listens and serves until the context is cancelled.
func (s *TCPServer) Start(ctx context.Context, handler RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("tcp cart server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	// All connections funnel into one dispatch loop so hardware
	// command sequences from different clients never interleave.
	go s.dispatchLoop(ctx, handler)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("failed to accept connection", "err", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *TCPServer) dispatchLoop(ctx context.Context, handler RequestHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			req.reply <- dispatch(ctx, handler, req.frame)
		}
	}
}

// Close closes the server listener.
func (s *TCPServer) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	slog.Info("cart client connected", "addr", conn.RemoteAddr())

	buf := make([]byte, MaxSize)
	reply := make(chan Command, 1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(conn, buf[:1]); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("cart client disconnected", "addr", conn.RemoteAddr())
			} else {
				slog.Error("failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		length, err := completeFrame(conn, buf)
		if err != nil {
			// A stream that no longer frames cannot be resynchronized.
			slog.Error("failed to read request frame", "addr", conn.RemoteAddr(), "err", err)
			return
		}
		frame, err := DecodeFrame(buf[:length])
		if err != nil {
			slog.Error("failed to decode request frame", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case s.requests <- tcpRequest{frame: frame, reply: reply}:
		}
		resp := <-reply

		respFrame := &Frame{DeviceID: frame.DeviceID, Cmd: resp}
		raw, err := respFrame.Encode()
		if err != nil {
			slog.Error("failed to encode response frame", "err", err)
			continue
		}
		if _, err := conn.Write(raw); err != nil {
			slog.Error("failed to write response", "addr", conn.RemoteAddr(), "err", err)
			return
		}
	}
}
