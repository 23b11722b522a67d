// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"errors"
	"fmt"
	"io"

	"github.com/ffutop/modbusgw/modbus"
)

const (
	// HeaderSize is the MBAP header plus the unit id.
	HeaderSize = 7

	// MinLength and MaxLength bound the MBAP length field, which counts
	// the unit id and the PDU.
	MinLength = 6
	MaxLength = 250

	tcpMaxSize = 260
)

var (
	ErrMalformedHeader     = errors.New("modbus: malformed header")
	ErrUnsupportedProtocol = errors.New("modbus: unsupported protocol")
	ErrInvalidLength       = errors.New("modbus: invalid length")
	ErrTruncatedFrame      = errors.New("modbus: truncated frame")
)

type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// ParseHeader decodes and validates the first HeaderSize bytes of raw.
// The returned ADU has an empty PDU.
func ParseHeader(raw []byte) (adu *ApplicationDataUnit, err error) {
	if len(raw) < HeaderSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", ErrMalformedHeader, len(raw), HeaderSize)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.TransactionID = uint16(raw[0])<<8 | uint16(raw[1])
	adu.ProtocolID = uint16(raw[2])<<8 | uint16(raw[3])
	adu.Length = uint16(raw[4])<<8 | uint16(raw[5])
	adu.SlaveID = raw[6]

	if adu.ProtocolID != 0 {
		return nil, fmt.Errorf("%w: protocol id '%v'", ErrUnsupportedProtocol, adu.ProtocolID)
	}
	if adu.Length < MinLength || adu.Length > MaxLength {
		return nil, fmt.Errorf("%w: '%v' not in [%v, %v]", ErrInvalidLength, adu.Length, MinLength, MaxLength)
	}
	return
}

// ReadRequest reads one request frame. It returns io.EOF if r ends
// cleanly before a new frame starts.
func ReadRequest(r io.Reader) (*ApplicationDataUnit, error) {
	header := make([]byte, HeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: read %d of %d bytes", ErrMalformedHeader, n, HeaderSize)
		}
		return nil, err
	}

	adu, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}

	pdu := make([]byte, adu.Length-1)
	if n, err := io.ReadFull(r, pdu); err != nil {
		return nil, fmt.Errorf("%w: read %d of %d pdu bytes: %w", ErrTruncatedFrame, n, len(pdu), err)
	}
	adu.Pdu.FunctionCode = pdu[0]
	adu.Pdu.Data = pdu[1:]
	return adu, nil
}

// Encode encodes the ADU, deriving the length field from the PDU.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 8
	if length > tcpMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
		return
	}
	pduLength := uint16(len(adu.Pdu.Data) + 2)
	raw = make([]byte, length)

	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID >> 0)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID >> 0)
	raw[4] = byte(pduLength >> 8)
	raw[5] = byte(pduLength >> 0)
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)

	return
}

// NewException builds the exception response to req:
//
//	unit id, function code | 0x80, exception code
//
// behind the echoed transaction and protocol ids.
func NewException(req *ApplicationDataUnit, exceptionCode byte) *ApplicationDataUnit {
	return &ApplicationDataUnit{
		TransactionID: req.TransactionID,
		ProtocolID:    req.ProtocolID,
		Length:        3, // SlaveID(1) + FuncCode(1) + ExceptionCode(1)
		SlaveID:       req.SlaveID,
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: req.Pdu.FunctionCode | modbus.ExceptionFlag,
			Data:         []byte{exceptionCode},
		},
	}
}
