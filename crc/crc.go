// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

const polynomial = 0xA001 // reflected 0x8005

// CRC computes the 16-bit cyclic redundancy check used by frame
// codecs and record tags. The zero value is not ready for use;
// call Reset first.
type CRC struct {
	value uint16
}

// Reset initializes the accumulator. It returns the receiver so
// calls can be chained.
func (crc *CRC) Reset() *CRC {
	crc.value = 0xFFFF
	return crc
}

// PushByte updates the checksum with a single byte.
func (crc *CRC) PushByte(b byte) *CRC {
	val := crc.value ^ uint16(b)
	for i := 0; i < 8; i++ {
		if val&1 != 0 {
			val = (val >> 1) ^ polynomial
		} else {
			val >>= 1
		}
	}
	crc.value = val
	return crc
}

// PushBytes updates the checksum with a slice of bytes.
func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		crc.PushByte(b)
	}
	return crc
}

// Value returns the current checksum. The low byte is transmitted
// first when the value is placed on the wire.
func (crc *CRC) Value() uint16 {
	return crc.value
}
