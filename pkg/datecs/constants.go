// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package datecs implements the Datecs fiscal printer serial frame protocol.
//
// A frame carries one command or response between the host and a fiscal
// device. This package provides frame encoding, response parsing, resumable
// frame assembly from streamed chunks and classification of device error codes.
package datecs

// Protocol framing bytes
const (
	Preamble  = 0x01
	Postamble = 0x05
	EOT       = 0x03

	// StatusSeparator precedes the status bytes inside a response.
	StatusSeparator = 0x04
)

// Sequence range
const (
	SeqMin = 0x20
	SeqMax = 0xFF
)

// Frame layout
const (
	WordSize     = 4
	lengthOffset = 0x20

	// Offsets relative to the preamble
	seqOffset     = 1 + WordSize
	commandOffset = seqOffset + 1
	dataOffset    = commandOffset + WordSize
)

// ParamSeparator joins command parameters.
const ParamSeparator = "\t"

// Opcodes - information
const (
	CmdDeviceInfo = 0x007B
)

// Opcodes - non-fiscal receipts
const (
	CmdOpenNonFiscal  = 0x0026
	CmdCloseNonFiscal = 0x0027
	CmdNonFiscalText  = 0x002A
)

// Opcodes - fiscal receipts
const (
	CmdOpenFiscal        = 0x0030
	CmdSale              = 0x0031
	CmdPayment           = 0x0035
	CmdFiscalText        = 0x0036
	CmdCloseFiscal       = 0x0038
	CmdCancelReceipt     = 0x003C
	CmdReceiptStatus     = 0x004A
	CmdTransactionStatus = 0x004C
)

// Payment status indicators returned by CmdPayment
const (
	PayStatusInsufficient = "D"
	PayStatusChange       = "R"
)

var nonFiscal = map[uint16]bool{
	CmdDeviceInfo:     true,
	CmdOpenNonFiscal:  true,
	CmdCloseNonFiscal: true,
	CmdNonFiscalText:  true,
}

// IsFiscal reports whether an opcode touches the fiscal journal. Opcodes
// outside the known non-fiscal set are treated as fiscal.
func IsFiscal(opcode uint16) bool {
	return !nonFiscal[opcode]
}
