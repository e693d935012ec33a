// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package remote

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grid-x/serial"
)

func TestSerialClientSend(t *testing.T) {
	// Injecting the port ahead of Send makes connect skip serial.Open,
	// so the exchange runs against canned bytes.
	resp := encodeTestFrame(t, 1, CmdRead8, []byte{0xAB})
	writer := &bytes.Buffer{}

	client := NewSerialClient(serial.Config{Address: "/dev/ttyUSB0", BaudRate: 115200})
	client.serialPort.port = &mockPort{Reader: bytes.NewReader(resp), Writer: writer}

	payload := []byte{0x0E, 0x00, 0x00, 0x10}
	cmd, err := client.Send(context.Background(), 1, Command{Code: CmdRead8, Data: payload})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if cmd.Code != CmdRead8 || !bytes.Equal(cmd.Data, []byte{0xAB}) {
		t.Errorf("response command = %+v", cmd)
	}

	want := encodeTestFrame(t, 1, CmdRead8, payload)
	if !bytes.Equal(writer.Bytes(), want) {
		t.Errorf("request on the wire = %X, want %X", writer.Bytes(), want)
	}
}

func TestSerialClientDeviceError(t *testing.T) {
	resp := encodeTestFrame(t, 1, CmdWrite8|0x80, []byte{StatusDeviceFailure})

	client := NewSerialClient(serial.Config{Address: "/dev/ttyUSB0"})
	client.serialPort.port = &mockPort{Reader: bytes.NewReader(resp), Writer: &bytes.Buffer{}}

	cmd, err := client.Send(context.Background(), 1, Command{Code: CmdWrite8, Data: []byte{0x0E, 0x00, 0x00, 0x00, 0xAA}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var devErr *DeviceError
	if err := cmd.Err(); !errors.As(err, &devErr) {
		t.Fatalf("Err() = %v, want DeviceError", err)
	}
	if devErr.Status != StatusDeviceFailure {
		t.Errorf("status = %d, want %d", devErr.Status, StatusDeviceFailure)
	}
}

func TestSerialClientChecksumError(t *testing.T) {
	resp := encodeTestFrame(t, 1, CmdRead8, []byte{0xAB})
	resp[2] ^= 0xFF // damage the payload, keep the old checksum

	client := NewSerialClient(serial.Config{Address: "/dev/ttyUSB0"})
	client.serialPort.port = &mockPort{Reader: bytes.NewReader(resp), Writer: &bytes.Buffer{}}

	_, err := client.Send(context.Background(), 1, Command{Code: CmdRead8, Data: []byte{0x0E, 0x00, 0x00, 0x10}})
	if err == nil {
		t.Error("Send accepted a response with a bad checksum")
	}
}

// noiseReader feeds endless line noise, never a frame.
type noiseReader struct{}

func (noiseReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	p[0] = 0x00
	return 1, nil
}

func TestSerialClientResponseTimeout(t *testing.T) {
	client := NewSerialClient(serial.Config{Address: "/dev/ttyUSB0", Timeout: 50 * time.Millisecond})
	client.serialPort.port = &mockPort{Reader: noiseReader{}, Writer: &bytes.Buffer{}}

	_, err := client.Send(context.Background(), 1, Command{Code: CmdPing})
	if !errors.Is(err, ErrRequestTimedOut) {
		t.Fatalf("Send = %v, want ErrRequestTimedOut", err)
	}
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name  string
		baud  int
		chars int
		want  time.Duration
	}{
		{"DefaultBaud", 0, 10, (750*10 + 1750) * time.Microsecond},
		{"HighSpeed", 115200, 8, (750*8 + 1750) * time.Microsecond},
		{"Slow9600", 9600, 8, (15000000/9600*8 + 35000000/9600) * time.Microsecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewSerialClient(serial.Config{BaudRate: tt.baud})
			if got := client.calculateDelay(tt.chars); got != tt.want {
				t.Errorf("calculateDelay(%d) = %v, want %v", tt.chars, got, tt.want)
			}
		})
	}
}
