// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbusgw/modbus"
	"github.com/ffutop/modbusgw/modbus/crc"
	rtupacket "github.com/ffutop/modbusgw/modbus/rtu"
)

var (
	// ErrShortReply is returned for replies too short to carry a PDU.
	ErrShortReply = errors.New("modbus: invalid response")
	// ErrChecksumMismatch is returned for replies failing the CRC check.
	ErrChecksumMismatch = errors.New("modbus: reply crc error")
)

type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode verifies the checksum of a reply read from the bus. A valid
// reply has at least slave id, function code, one data byte and the CRC.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	if length < rtupacket.ExceptionSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", ErrShortReply, length, rtupacket.ExceptionSize)
		return
	}

	if !crc.Verify(raw) {
		err = fmt.Errorf("%w: response crc '%02X%02X' does not match expected '%04X'",
			ErrChecksumMismatch, raw[length-1], raw[length-2], crc.Checksum(raw[:length-2]))
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + rtupacket.MinSize
	if length > rtupacket.MaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, rtupacket.MaxSize)
		return
	}
	raw = make([]byte, 2, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	raw = append(raw, adu.Pdu.Data...)
	return crc.Append(raw), nil
}
