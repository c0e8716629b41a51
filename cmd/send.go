// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

var (
	sendOpcode     string
	sendParams     []string
	sendRetries    int
	sendRetryDelay int
	sendShowFrames bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one command to a device and print the response",
	Long: `Send a single command frame and print the decoded response.

Parameters are joined with TAB in the order given. Identity checks are not
applied; use the HTTP API for guarded receipt operations.

Examples:
  # Receipt status on configured device A
  datecs-bridge send --dev A --opcode 0x4A --param 0 --param ""

  # Device information block on a serial port
  datecs-bridge send --port /dev/ttyUSB0 --opcode 0x7B --param 1

Exit codes:
  0 - Device answered without an error code
  1 - Device reported an error or no frame was received
  2 - Connection error`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendOpcode, "opcode", "o", "", "Command opcode (0x4A, 4A or decimal 74)")
	sendCmd.Flags().StringArrayVar(&sendParams, "param", nil, "Command parameter (repeatable)")
	sendCmd.Flags().IntVar(&sendRetries, "retries", 0, "Attempts, at most the configured count (default from config)")
	sendCmd.Flags().IntVar(&sendRetryDelay, "retry-delay", 0, "Delay between attempts in ms (default from config)")
	sendCmd.Flags().BoolVar(&sendShowFrames, "frames", false, "Print the request frame")
	_ = sendCmd.MarkFlagRequired("opcode")
}

func runSend(cmd *cobra.Command, args []string) error {
	opcode, err := datecs.ParseOpcode(sendOpcode)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return connectionError(err)
	}
	defer d.Close()

	fmt.Printf("datecs-bridge - Send\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if sendShowFrames {
		fmt.Printf("\nExample request frame (the device worker assigns the real sequence byte):\n")
		fmt.Printf("%s\n", datecs.FormatFrame(requestFrame(d.Settings().Codepage, opcode, sendParams)))
	}
	fmt.Println()

	b := bridge.New(bridge.NewRegistry(d), nil, bridge.Options{}, logger)
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	start := time.Now()
	resp, err := b.SendCommand(ctx, d.ID(), opcode, sendParams, device.CallOptions{
		Retries:    sendRetries,
		RetryDelay: time.Duration(sendRetryDelay) * time.Millisecond,
	})
	if err != nil {
		if errors.Is(err, bridge.ErrNotConnected) {
			return connectionError(err)
		}
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		return errFailed
	}

	fmt.Print(datecs.FormatResponse(resp))
	fmt.Printf("rtt=%v\n", time.Since(start).Round(time.Millisecond))
	if !resp.OK {
		return errFailed
	}
	return nil
}

// requestFrame encodes a request the way the device worker does, using the
// first sequence number.
func requestFrame(cp datecs.Codepage, opcode uint16, params []string) []byte {
	return datecs.BuildFrame(datecs.SeqMin+1, opcode, cp.Encode(datecs.JoinParams(params)))
}
