// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/grid-x/serial"
)

// SerialServer exposes a locally attached cartridge on a serial line.
// It waits for request frames from an external client and answers
// them in arrival order; bus command sequences must not interleave,
// so requests are never handled concurrently.
type SerialServer struct {
	Config serial.Config
}

// NewSerialServer creates a serial server on the configured line.
func NewSerialServer(cfg serial.Config) *SerialServer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = serialTimeout
	}
	return &SerialServer{Config: cfg}
}

// Start opens the line and serves until the context is cancelled.
func (s *SerialServer) Start(ctx context.Context, handler RequestHandler) error {
	port, err := serial.Open(&s.Config)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Address, err)
	}
	defer port.Close()
	slog.Info("serial cart server listening", "device", s.Config.Address)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	return s.scanLoop(ctx, port, handler)
}

func (s *SerialServer) scanLoop(ctx context.Context, port io.ReadWriteCloser, handler RequestHandler) error {
	buf := make([]byte, MaxSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read a single byte to unblock, then assemble the frame
		// around it. Anything that does not parse is dropped and the
		// scan restarts, so the server resynchronizes after noise.
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		length, err := completeFrame(port, buf)
		if err != nil {
			continue
		}
		frame, err := DecodeFrame(buf[:length])
		if err != nil {
			continue
		}

		resp := dispatch(ctx, handler, frame)
		respFrame := &Frame{DeviceID: frame.DeviceID, Cmd: resp}
		raw, err := respFrame.Encode()
		if err != nil {
			slog.Error("failed to encode response frame", "err", err)
			continue
		}
		if _, err := port.Write(raw); err != nil {
			slog.Error("failed to write response", "err", err)
		}
	}
}

// completeFrame reads the rest of the request frame whose first byte
// is already in buf[0] and returns the total frame length. It reads
// the command code, sizes the frame from it and pulls in exactly the
// remainder, so a short frame never swallows bytes of the next one.
func completeFrame(port io.Reader, buf []byte) (int, error) {
	current := 1
	if err := readInto(port, buf, &current, 2); err != nil {
		return 0, err
	}
	_, variable, err := requestDataLen(buf[1])
	if err != nil {
		return 0, err
	}
	if variable {
		if err := readInto(port, buf, &current, 2+blockHeaderLen); err != nil {
			return 0, err
		}
	}
	length, err := frameLength(buf[:current])
	if err != nil {
		return 0, err
	}
	if err := readInto(port, buf, &current, length); err != nil {
		return 0, err
	}
	return length, nil
}

// readInto grows the filled prefix of buf to at least need bytes.
func readInto(port io.Reader, buf []byte, current *int, need int) error {
	for *current < need {
		n, err := port.Read(buf[*current:need])
		if err != nil {
			return fmt.Errorf("frame truncated at %d of %d bytes: %w", *current, need, err)
		}
		if n == 0 {
			return fmt.Errorf("frame truncated at %d of %d bytes", *current, need)
		}
		*current += n
	}
	return nil
}

// frameLength returns the total length of the request frame opened by
// header. For block writes the count field must already be present.
func frameLength(header []byte) (int, error) {
	dataLen, variable, err := requestDataLen(header[1])
	if err != nil {
		return 0, err
	}
	length := 2 + dataLen + 2
	if !variable {
		return length, nil
	}
	if len(header) < 2+blockHeaderLen {
		return 0, fmt.Errorf("need %d bytes to size command %#02x, got %d", 2+blockHeaderLen, header[1], len(header))
	}
	count := int(binary.BigEndian.Uint16(header[6:8]))
	if count == 0 || count > MaxBlock {
		return 0, &InvalidLengthError{Length: count}
	}
	return length + count, nil
}

// dispatch runs the handler and folds failures into an error response
// so the client is never left waiting.
func dispatch(ctx context.Context, handler RequestHandler, frame *Frame) Command {
	resp, err := handler(ctx, frame.DeviceID, frame.Cmd)
	if err != nil {
		slog.Error("request handler failed", "cmd", fmt.Sprintf("%#02x", frame.Cmd.Code), "err", err)
		return errorCommand(frame.Cmd.Code, StatusDeviceFailure)
	}
	return resp
}

func (s *SerialServer) Close() error {
	return nil
}
