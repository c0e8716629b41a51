// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datecs",
			Subsystem: "device",
			Name:      "frames_sent_total",
			Help:      "Frames written to the device.",
		},
		[]string{"device"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datecs",
			Subsystem: "device",
			Name:      "retries_total",
			Help:      "Attempts repeated after an incomplete response.",
		},
		[]string{"device"},
	)
	noFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datecs",
			Subsystem: "device",
			Name:      "no_frame_total",
			Help:      "Commands that exhausted their attempts without a frame.",
		},
		[]string{"device"},
	)
	deviceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datecs",
			Subsystem: "device",
			Name:      "errors_total",
			Help:      "Explicit error codes reported by the device.",
		},
		[]string{"device", "code"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datecs",
			Subsystem: "device",
			Name:      "command_duration_seconds",
			Help:      "Time from dequeue to terminal state per command.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "opcode"},
	)
	identityMatch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "datecs",
			Subsystem: "identity",
			Name:      "match",
			Help:      "1 when the device matches its expected identity, 0 on mismatch, -1 when unknown.",
		},
		[]string{"device"},
	)
)

// RegisterMetrics registers the bridge collectors with the default registry.
// It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, retries, noFrames, deviceErrors, commandDuration, identityMatch)
	})
}

func recordFrameSent(dev string) {
	framesSent.WithLabelValues(dev).Inc()
}

func recordRetry(dev string) {
	retries.WithLabelValues(dev).Inc()
}

func recordNoFrame(dev string) {
	noFrames.WithLabelValues(dev).Inc()
}

func recordDeviceError(dev, code string) {
	deviceErrors.WithLabelValues(dev, codeLabel(code)).Inc()
}

func recordCommand(dev string, opcode uint16, d time.Duration) {
	commandDuration.WithLabelValues(dev, opcodeLabel(opcode)).Observe(d.Seconds())
}

// otherLabel collects opcodes and error codes outside the known tables so
// label cardinality stays bounded.
const otherLabel = "other"

func opcodeLabel(opcode uint16) string {
	if datecs.FormatOpcode(opcode) == "UNKNOWN" {
		return otherLabel
	}
	return fmt.Sprintf("0x%04X", opcode)
}

func codeLabel(code string) string {
	if datecs.ClassifyError(code).Category == datecs.FaultNone {
		return otherLabel
	}
	return code
}

// RecordIdentityMatch publishes the identity state of a device. A nil match
// means not yet known.
func RecordIdentityMatch(dev string, match *bool) {
	v := -1.0
	if match != nil {
		v = 0
		if *match {
			v = 1
		}
	}
	identityMatch.WithLabelValues(dev).Set(v)
}
