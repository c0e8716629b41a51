// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(opcode uint16) string {
	switch opcode {
	case CmdDeviceInfo:
		return "DEVICE_INFO"

	// Non-fiscal receipts
	case CmdOpenNonFiscal:
		return "OPEN_NONFISCAL"
	case CmdCloseNonFiscal:
		return "CLOSE_NONFISCAL"
	case CmdNonFiscalText:
		return "NONFISCAL_TEXT"

	// Fiscal receipts
	case CmdOpenFiscal:
		return "OPEN_FISCAL"
	case CmdSale:
		return "SALE"
	case CmdPayment:
		return "PAYMENT"
	case CmdFiscalText:
		return "FISCAL_TEXT"
	case CmdCloseFiscal:
		return "CLOSE_FISCAL"
	case CmdCancelReceipt:
		return "CANCEL_RECEIPT"
	case CmdReceiptStatus:
		return "RECEIPT_STATUS"
	case CmdTransactionStatus:
		return "TRANSACTION_STATUS"

	default:
		return "UNKNOWN"
	}
}

// FormatHex renders bytes as space separated hex pairs.
func FormatHex(b []byte) string {
	var s strings.Builder
	for i, c := range b {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02x", c)
	}
	return s.String()
}

// FormatData renders a data payload with visible separators.
func FormatData(data string) string {
	return strings.ReplaceAll(data, ParamSeparator, "<TAB>")
}

// FormatResponse formats a parsed response into a human-readable string
func FormatResponse(r *Response) string {
	result := fmt.Sprintf("%s (0x%04X) ", FormatOpcode(r.Command), r.Command)
	if r.OK {
		result += "OK"
	} else {
		result += "ERROR " + r.ErrorCode
		if f := ClassifyError(r.ErrorCode); f.Message != "" {
			result += " (" + f.Message + ")"
		}
	}
	result += fmt.Sprintf("\n  Data: \"%s\"\n", FormatData(r.Data))
	if r.Payment != nil {
		result += fmt.Sprintf("  Payment: status=%s amount=%s\n", r.Payment.Status, r.Payment.Amount)
	}
	return result
}

// FormatFrame describes an outgoing frame built by BuildFrame.
func FormatFrame(frame []byte) string {
	if len(frame) < dataOffset+1+WordSize+1 || frame[0] != Preamble {
		return "  Frame: " + FormatHex(frame) + "\n"
	}
	length, _ := DecodeWord(frame[1 : 1+WordSize])
	opcode, _ := DecodeWord(frame[commandOffset:dataOffset])
	data := frame[dataOffset : len(frame)-2-WordSize]
	bcc, _ := DecodeWord(frame[len(frame)-1-WordSize : len(frame)-1])

	result := fmt.Sprintf("%s (0x%04X) seq=0x%02X len=0x%04X bcc=0x%04X\n",
		FormatOpcode(opcode), opcode, frame[seqOffset], length, bcc)
	result += fmt.Sprintf("  Data: \"%s\"\n", FormatData(string(data)))
	result += "  Frame: " + FormatHex(frame) + "\n"
	return result
}

// ParseOpcode parses an opcode given as "0x4A", "4A" or decimal "74".
// Strings made only of digits are decimal.
func ParseOpcode(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 16
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		s = s[2:]
	case strings.Trim(s, "0123456789") == "":
		base = 10
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid opcode %q", s)
	}
	return uint16(v), nil
}

// ParseHex decodes hex bytes, ignoring whitespace and an optional 0x prefix
// on each group.
func ParseHex(s string) ([]byte, error) {
	var b strings.Builder
	for _, f := range strings.Fields(s) {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		b.WriteString(f)
	}
	return hex.DecodeString(b.String())
}
