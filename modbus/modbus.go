// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the transport-independent pieces of the protocol:
// the PDU, function codes and exception codes.
package modbus

const (
	// Bit access
	FuncCodeReadDiscreteInputs = 2
	FuncCodeReadCoils          = 1
	FuncCodeWriteSingleCoil    = 5
	FuncCodeWriteMultipleCoils = 15

	// 16-bit access
	FuncCodeReadInputRegisters     = 4
	FuncCodeReadHoldingRegisters   = 3
	FuncCodeWriteSingleRegister    = 6
	FuncCodeWriteMultipleRegisters = 16
)

// ExceptionFlag marks a function code in an exception response.
const ExceptionFlag = 0x80

// ExceptionCodeGatewayTargetDeviceFailedToRespond is the only exception
// the gateway raises itself. Slave exceptions are passed through untouched.
const ExceptionCodeGatewayTargetDeviceFailedToRespond = 11

const (
	// BroadcastAddress is the standard broadcast unit id. Unit id 255 is
	// treated the same way by gateways that forward TCP traffic onto a bus.
	BroadcastAddress    = 0
	BroadcastAddressAlt = 255
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsBroadcast reports whether no device on the bus may answer a request
// addressed to unitID.
func IsBroadcast(unitID byte) bool {
	return unitID == BroadcastAddress || unitID == BroadcastAddressAlt
}
