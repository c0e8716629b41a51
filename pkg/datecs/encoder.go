// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

// Encoder builds wire frames for a single device. It owns the device's
// sequence counter and is not safe for concurrent use.
type Encoder struct {
	seq Sequence
}

// NewEncoder creates an encoder with a fresh sequence counter.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode advances the sequence counter and builds a frame for opcode and data.
func (e *Encoder) Encode(opcode uint16, data []byte) []byte {
	return BuildFrame(e.seq.Next(), opcode, data)
}

// Sequence returns the sequence number used by the last encoded frame.
func (e *Encoder) Sequence() byte {
	return e.seq.Current()
}

// BuildFrame creates a complete wire frame:
//
//	PRE | LEN(4) | SEQ | CMD(4) | DATA | PST | BCC(4) | EOT
//
// LEN is len(core)+4+0x20 where core is SEQ..PST, and BCC is the checksum of
// LEN followed by core.
func BuildFrame(seq byte, opcode uint16, data []byte) []byte {
	cmd := EncodeWord(opcode)

	core := make([]byte, 0, 1+WordSize+len(data)+1)
	core = append(core, seq)
	core = append(core, cmd[:]...)
	core = append(core, data...)
	core = append(core, Postamble)

	length := EncodeWord(uint16(len(core) + WordSize + lengthOffset))
	bcc := EncodeWord(Checksum(length[:], core))

	frame := make([]byte, 0, 1+WordSize+len(core)+WordSize+1)
	frame = append(frame, Preamble)
	frame = append(frame, length[:]...)
	frame = append(frame, core...)
	frame = append(frame, bcc[:]...)
	frame = append(frame, EOT)

	return frame
}
