// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import (
	"bytes"
	"testing"
)

// ============================================================
// Assembler Tests
// ============================================================

func TestAssembler_SingleChunk(t *testing.T) {
	a := NewAssembler()
	frame := BuildFrame(0x21, CmdCloseFiscal, []byte("0"))
	if !a.Feed(frame) {
		t.Fatal("expected complete frame")
	}
	if !bytes.Equal(a.Bytes(), frame) {
		t.Error("assembled bytes differ from input")
	}
}

func TestAssembler_ByteByByte(t *testing.T) {
	a := NewAssembler()
	frame := BuildFrame(0x21, CmdSale, []byte("0\t1"))
	for i, b := range frame {
		done := a.Feed([]byte{b})
		if done != (i == len(frame)-1) {
			t.Fatalf("byte %d: complete=%v", i, done)
		}
	}
	if a.Len() != len(frame) {
		t.Errorf("Len() = %d, want %d", a.Len(), len(frame))
	}
}

func TestAssembler_SplitAcrossChunks(t *testing.T) {
	frame := BuildFrame(0x22, CmdPayment, []byte("0\tR\t5.00"))
	for split := 1; split < len(frame); split++ {
		a := NewAssembler()
		if a.Feed(frame[:split]) {
			t.Fatalf("split %d: complete too early", split)
		}
		if !a.Feed(frame[split:]) {
			t.Fatalf("split %d: expected complete", split)
		}
		resp, err := Parse(a.Bytes())
		if err != nil || resp.Payment == nil {
			t.Fatalf("split %d: parse failed: %v", split, err)
		}
	}
}

func TestAssembler_OrderMatters(t *testing.T) {
	a := NewAssembler()
	// EOT and postamble before any preamble are ignored
	if a.Feed([]byte{EOT, Postamble, EOT}) {
		t.Fatal("should not complete without preamble")
	}
	// EOT before postamble is ignored
	if a.Feed([]byte{Preamble, EOT}) {
		t.Fatal("should not complete without postamble")
	}
	if !a.Feed([]byte{Postamble, EOT}) {
		t.Fatal("expected complete after preamble, postamble, EOT")
	}
}

func TestAssembler_Reset(t *testing.T) {
	a := NewAssembler()
	a.Feed(BuildFrame(0x21, CmdDeviceInfo, []byte("1")))
	a.Reset()
	if a.Complete() || a.Len() != 0 {
		t.Error("Reset should clear state")
	}
	if a.Feed([]byte{EOT}) {
		t.Error("should require a new preamble after reset")
	}
}

func TestAssembler_EchoedFrameCompletes(t *testing.T) {
	// Some devices echo the request before answering; the echo alone is a
	// complete frame and must parse back to the request opcode.
	req := BuildFrame(0x21, CmdSale, []byte("ITEM\t1\t1.00\t1.000\t\t\t1\tBUC\t"))
	a := NewAssembler()
	if !a.Feed(req) {
		t.Fatal("echo should complete")
	}
	resp, err := Parse(a.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Command != CmdSale {
		t.Errorf("Command = 0x%04X", resp.Command)
	}
}

func TestAssembler_FrameAndRest(t *testing.T) {
	a := NewAssembler()
	first := BuildFrame(0x21, CmdCloseFiscal, []byte("0"))
	second := BuildFrame(0x22, CmdSale, []byte("1"))

	if f, _ := a.Frame(); f != nil {
		t.Error("Frame() before completion should be nil")
	}
	if !a.Feed(append(append([]byte(nil), first...), second[:4]...)) {
		t.Fatal("expected complete frame")
	}

	frame, rest := a.Frame()
	if !bytes.Equal(frame, first) {
		t.Errorf("frame = %x, want %x", frame, first)
	}
	if !bytes.Equal(rest, second[:4]) {
		t.Errorf("rest = %x, want %x", rest, second[:4])
	}

	rest = append([]byte(nil), rest...)
	a.Reset()
	a.Feed(rest)
	if !a.Feed(second[4:]) {
		t.Fatal("expected second frame to complete")
	}
	if frame, _ := a.Frame(); !bytes.Equal(frame, second) {
		t.Errorf("second frame = %x", frame)
	}
}
