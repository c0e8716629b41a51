// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

var (
	frameOpcode string
	frameParams []string
	frameSeq    uint8
	frameDecode string
	frameCP     string
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Encode or decode a frame without touching a device",
	Long: `Print the wire bytes of a command frame, or decode captured bytes.

Examples:
  # Encode a sale line
  datecs-bridge frame --opcode 0x31 --param ITEM --param 1 --param 1.00

  # Decode a captured response
  datecs-bridge frame --decode "01 30 30 32 3c 21 30 30 34 3a 30 09 05 30 31 3f 3b 03"`,
	RunE: runFrame,
}

func init() {
	rootCmd.AddCommand(frameCmd)
	frameCmd.Flags().StringVarP(&frameOpcode, "opcode", "o", "", "Command opcode to encode")
	frameCmd.Flags().StringArrayVar(&frameParams, "param", nil, "Command parameter (repeatable)")
	frameCmd.Flags().Uint8Var(&frameSeq, "seq", datecs.SeqMin+1, "Sequence byte")
	frameCmd.Flags().StringVar(&frameDecode, "decode", "", "Hex bytes to decode")
	frameCmd.Flags().StringVar(&frameCP, "codepage", "", "Text codepage (e.g. cp1250)")
	frameCmd.MarkFlagsMutuallyExclusive("opcode", "decode")
	frameCmd.MarkFlagsOneRequired("opcode", "decode")
}

func runFrame(cmd *cobra.Command, args []string) error {
	cp, err := datecs.LookupCodepage(frameCP)
	if err != nil {
		return err
	}

	if frameDecode != "" {
		return decodeFrame(frameDecode, cp)
	}

	opcode, err := datecs.ParseOpcode(frameOpcode)
	if err != nil {
		return err
	}
	if frameSeq < datecs.SeqMin {
		return fmt.Errorf("sequence 0x%02X below 0x%02X", frameSeq, datecs.SeqMin)
	}
	data := cp.Encode(datecs.JoinParams(frameParams))
	fmt.Print(datecs.FormatFrame(datecs.BuildFrame(frameSeq, opcode, data)))
	return nil
}

func decodeFrame(s string, cp datecs.Codepage) error {
	raw, err := datecs.ParseHex(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	asm := datecs.NewAssembler()
	complete := asm.Feed(raw)

	resp, err := datecs.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DECODE FAILED: %v\n", err)
		fmt.Fprintf(os.Stderr, "  Bytes: %s\n", datecs.FormatHex(raw))
		return errFailed
	}
	resp.Data = cp.Decode([]byte(resp.Data))

	fmt.Print(datecs.FormatResponse(resp))
	if stored, computed, err := datecs.FrameChecksum(raw); err == nil {
		status := "OK"
		if stored != computed {
			status = fmt.Sprintf("MISMATCH (computed 0x%04X)", computed)
		}
		fmt.Printf("  BCC: 0x%04X %s\n", stored, status)
	}
	if !complete {
		fmt.Printf("  Note: frame has no EOT after the postamble\n")
	}
	return nil
}
