// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

var (
	pingCount    int
	pingInterval int
	pingRetries  int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips with receipt status queries",
	Long: `Send RECEIPT_STATUS queries and report round trip times.

The query does not change device state, so it is safe on a device in the
middle of a receipt. Each query is a single attempt unless --retries is set,
which makes lost frames visible.

This is useful for verifying:
  - The port or websocket link is wired to a responding device
  - Baud rate and timeouts suit the link
  - How often frames are lost under load

Exit codes:
  0 - All queries answered
  1 - One or more queries failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of queries to send")
	pingCmd.Flags().IntVar(&pingInterval, "interval", 100, "Delay between queries in ms")
	pingCmd.Flags().IntVar(&pingRetries, "retries", 1, "Attempts per query, at most the configured count")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return connectionError(err)
	}
	defer d.Close()

	fmt.Printf("datecs-bridge - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %v per attempt\n", d.Settings().Timeout)
	fmt.Printf("Count: %d queries\n\n", pingCount)

	successCount := 0
	failCount := 0
	var total, best, worst time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Query %d/%d: ", i, pingCount)

		start := time.Now()
		resp, err := d.Execute(context.Background(), datecs.CmdReceiptStatus, []string{"0", ""}, device.CallOptions{
			Retries: pingRetries,
		})
		rtt := time.Since(start)

		var nf *device.NoFrameError
		switch {
		case errors.As(err, &nf):
			fmt.Printf("TIMEOUT (no frame after %d attempts)\n", nf.Attempts)
			failCount++
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		case !resp.OK:
			fmt.Printf("ERROR %s, rtt=%v\n", resp.ErrorCode, rtt.Round(time.Millisecond))
			failCount++
		default:
			fmt.Printf("OK receipt=%s, rtt=%v\n", resp.Field(3), rtt.Round(time.Millisecond))
			successCount++
			total += rtt
			if best == 0 || rtt < best {
				best = rtt
			}
			if rtt > worst {
				worst = rtt
			}
		}

		if i < pingCount {
			time.Sleep(time.Duration(pingInterval) * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d queries sent, %d answered, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			best.Round(time.Millisecond),
			(total / time.Duration(successCount)).Round(time.Millisecond),
			worst.Round(time.Millisecond))
	}

	if failCount > 0 {
		return errFailed
	}
	return nil
}
