// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// rawLogMaxPending bounds bytes buffered without a complete frame.
const rawLogMaxPending = 4096

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display frames arriving on a link in human-readable format",
	Long: `Continuously decode and display Datecs frames as they arrive.

Nothing is written to the device. Each frame is shown with a timestamp, the
command name and the decoded data. A checksum that does not match the frame
is reported.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print raw frame bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dc, err := selectDevice(cfg)
	if err != nil {
		return err
	}
	cp, err := datecs.LookupCodepage(dc.Codepage)
	if err != nil {
		return err
	}

	t, err := opener(dc.Path, dc.Baud)
	if err != nil {
		return connectionError(err)
	}
	defer t.Close()

	fmt.Printf("datecs-bridge - Raw Frame Log\n")
	fmt.Printf("Connection: %s @ %d baud\n", dc.Path, dc.Baud)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	asm := datecs.NewAssembler()
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-t.Chunks():
			if !ok {
				logger.Info().Msg("connection closed")
				return nil
			}
			for asm.Feed(chunk) {
				frame, rest := asm.Frame()
				printRawFrame(frame, cp)
				chunk = append([]byte(nil), rest...)
				asm.Reset()
			}
			if asm.Len() > rawLogMaxPending {
				fmt.Printf("[%s] [ERROR] %d bytes without a frame, discarding\n",
					time.Now().Format("15:04:05.000"), asm.Len())
				asm.Reset()
			}
		}
	}
}

func printRawFrame(buf []byte, cp datecs.Codepage) {
	timestamp := time.Now().Format("15:04:05.000")
	resp, err := datecs.Parse(buf)
	if err != nil {
		fmt.Printf("[%s] [ERROR] %v\n  Bytes: %s\n\n", timestamp, err, datecs.FormatHex(buf))
		return
	}
	resp.Data = cp.Decode([]byte(resp.Data))

	fmt.Printf("[%s] %s", timestamp, datecs.FormatResponse(resp))
	if stored, computed, err := datecs.FrameChecksum(buf); err == nil && stored != computed {
		fmt.Printf("  BCC: 0x%04X (computed 0x%04X)\n", stored, computed)
	}
	if rawLogHex {
		fmt.Printf("  Bytes: %s\n", datecs.FormatHex(buf))
	}
	fmt.Println()
}
