// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16/MODBUS checksum used by RTU framing.
package crc

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// Size is the number of checksum bytes trailing an RTU frame.
const Size = 2

// CRC computes the checksum incrementally.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = crc16.Init(table)
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	crc.value = crc16.Update(crc.value, bs, table)
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc16.Complete(crc.value, table)
}

// Checksum returns the checksum of b.
func Checksum(b []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(b).Value()
}

// Append appends the checksum of b to b, low byte first.
func Append(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(b, Checksum(b))
}

// Verify reports whether the last two bytes of frame are the checksum of
// the bytes before them.
func Verify(frame []byte) bool {
	if len(frame) < Size {
		return false
	}
	end := len(frame) - Size
	return binary.LittleEndian.Uint16(frame[end:]) == Checksum(frame[:end])
}
