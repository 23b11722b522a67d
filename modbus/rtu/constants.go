// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	// HeaderSize is the part of a reply that is read before its length is
	// known: slave id, function code and the first data byte.
	HeaderSize = 3

	// ExceptionSize is the full length of an exception reply.
	ExceptionSize = 5
)

const (
	// exceptionTrailer is the CRC following the exception code.
	exceptionTrailer = ExceptionSize - HeaderSize
	// writeTrailer is the rest of the address/value echo plus the CRC.
	writeTrailer = 5
	// byteCountTrailer is added to the byte count of a read reply.
	byteCountTrailer = 2
)
