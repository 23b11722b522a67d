// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/modbusgw/modbus"
)

var (
	ErrRequestTimedOut = errors.New("modbus: request timed out")
	// ErrUnsupportedFunction is returned when the length of a reply cannot
	// be inferred from its function code.
	ErrUnsupportedFunction = errors.New("modbus: function code not handled")
)

// ShortReadError reports a reply that ended before the expected length.
type ShortReadError struct {
	Want, Got int
	Err       error
}

func (e *ShortReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("modbus: short reply, read %d of %d bytes: %v", e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("modbus: short reply, read %d of %d bytes", e.Got, e.Want)
}

func (e *ShortReadError) Unwrap() error {
	return e.Err
}

// ExpectedTrailerLength returns how many bytes follow the 3-byte reply
// header, given the request function code, the function code echoed by the
// slave and the third header byte. Zero means the reply cannot be framed.
func ExpectedTrailerLength(functionCode, echoed, third byte) int {
	if echoed != functionCode {
		return exceptionTrailer
	}
	switch functionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		return int(third) + byteCountTrailer
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return writeTrailer
	default:
		return 0
	}
}

// ReadReply reads one reply to a request with the given function code.
// The header and the trailer each have timeout to arrive.
func ReadReply(r io.Reader, functionCode byte, timeout time.Duration) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if err := readFull(r, header, time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	remaining := ExpectedTrailerLength(functionCode, header[1], header[2])
	if remaining == 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedFunction, functionCode)
	}

	adu := make([]byte, HeaderSize+remaining)
	copy(adu, header)
	if err := readFull(r, adu[HeaderSize:], time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return adu, nil
}

// readFull reads exactly len(buf) bytes unless the deadline passes or the
// reader fails first. The reader is expected to bound each Read call itself.
func readFull(r io.Reader, buf []byte, deadline time.Time) error {
	var n int
	for n < len(buf) {
		if time.Now().After(deadline) {
			return &ShortReadError{Want: len(buf), Got: n, Err: ErrRequestTimedOut}
		}
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if n == len(buf) {
				return nil
			}
			return &ShortReadError{Want: len(buf), Got: n, Err: err}
		}
	}
	return nil
}
