// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import "fmt"

// EncodeWord splits a 16-bit value into four nibbles, most significant first,
// each transmitted as nibble+0x30.
func EncodeWord(v uint16) [WordSize]byte {
	return [WordSize]byte{
		0x30 + byte(v>>12&0xF),
		0x30 + byte(v>>8&0xF),
		0x30 + byte(v>>4&0xF),
		0x30 + byte(v&0xF),
	}
}

// DecodeWord is the inverse of EncodeWord. Each byte contributes
// (b-0x30)&0xF, so bytes outside 0x30-0x3F are masked to a nibble instead
// of rejected.
func DecodeWord(b []byte) (uint16, error) {
	if len(b) < WordSize {
		return 0, fmt.Errorf("short word: %d bytes", len(b))
	}
	var v uint16
	for _, c := range b[:WordSize] {
		v = v<<4 | uint16((c-0x30)&0xF)
	}
	return v, nil
}
