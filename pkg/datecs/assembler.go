// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

// Assembler accumulates streamed response chunks until a complete frame
// (preamble, then postamble, then EOT) has arrived. Marker scanning resumes
// where the previous Feed stopped, so each byte is inspected once.
type Assembler struct {
	buf      []byte
	scanned  int
	state    int
	complete bool
}

// Assembler states (internal)
const (
	awaitPreamble = iota
	awaitPostamble
	awaitEOT
	assembled
)

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, 256)}
}

// Reset discards accumulated bytes.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.scanned = 0
	a.state = awaitPreamble
	a.complete = false
}

// Feed appends a chunk and reports whether a complete frame is now present.
// Bytes fed after completion are kept but not scanned.
func (a *Assembler) Feed(chunk []byte) bool {
	a.buf = append(a.buf, chunk...)
	for a.state != assembled && a.scanned < len(a.buf) {
		b := a.buf[a.scanned]
		a.scanned++
		switch {
		case a.state == awaitPreamble && b == Preamble:
			a.state = awaitPostamble
		case a.state == awaitPostamble && b == Postamble:
			a.state = awaitEOT
		case a.state == awaitEOT && b == EOT:
			a.state = assembled
			a.complete = true
		}
	}
	return a.complete
}

// Complete reports whether a complete frame has been seen.
func (a *Assembler) Complete() bool {
	return a.complete
}

// Bytes returns everything fed since the last reset.
func (a *Assembler) Bytes() []byte {
	return a.buf
}

// Len returns the number of accumulated bytes.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// Frame returns the bytes up to and including the EOT of a complete frame
// and the bytes fed after it. Before completion the frame is nil.
func (a *Assembler) Frame() (frame, rest []byte) {
	if !a.complete {
		return nil, nil
	}
	return a.buf[:a.scanned], a.buf[a.scanned:]
}
