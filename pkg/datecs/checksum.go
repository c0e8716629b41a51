// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import "bytes"

// Checksum computes the 16-bit modular sum over the length word followed by
// the frame core. Preamble and EOT are not covered.
func Checksum(lengthWord, core []byte) uint16 {
	var sum uint16
	for _, b := range lengthWord {
		sum += uint16(b)
	}
	for _, b := range core {
		sum += uint16(b)
	}
	return sum
}

// FrameChecksum returns the checksum stored in frame and the one computed
// over its length word and core. Responses are accepted without this check;
// it exists for diagnostics.
func FrameChecksum(frame []byte) (stored, computed uint16, err error) {
	pre := bytes.IndexByte(frame, Preamble)
	if pre < 0 {
		return 0, 0, ErrNoFrame
	}
	rel := bytes.IndexByte(frame[pre+1:], Postamble)
	if rel < 0 {
		return 0, 0, ErrNoFrame
	}
	pst := pre + 1 + rel
	if pst < pre+1+WordSize || pst+1+WordSize > len(frame) {
		return 0, 0, ErrNoFrame
	}

	stored, err = DecodeWord(frame[pst+1 : pst+1+WordSize])
	if err != nil {
		return 0, 0, err
	}
	computed = Checksum(frame[pre+1:pre+1+WordSize], frame[pre+1+WordSize:pst+1])
	return stored, computed, nil
}
