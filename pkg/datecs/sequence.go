// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

// Sequence is the rolling frame sequence number. The zero value starts at
// SeqMin, so the first frame carries SeqMin+1.
type Sequence struct {
	v byte
}

// NewSequence creates a sequence whose next value follows start. Values below
// SeqMin are clamped.
func NewSequence(start byte) Sequence {
	if start < SeqMin {
		start = SeqMin
	}
	return Sequence{v: start}
}

// Current returns the last value handed out.
func (s *Sequence) Current() byte {
	if s.v < SeqMin {
		return SeqMin
	}
	return s.v
}

// Next advances the counter and returns the new value, wrapping from SeqMax to SeqMin.
func (s *Sequence) Next() byte {
	cur := s.Current()
	if cur >= SeqMax {
		s.v = SeqMin
	} else {
		s.v = cur + 1
	}
	return s.v
}
