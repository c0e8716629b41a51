// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Error codes returned in the "error" field
const (
	CodeNotConnected   = "FISCAL_NOT_CONNECTED"
	CodeDeviceMismatch = "FISCAL_DEVICE_MISMATCH"
	CodeNoPaper        = "NO_PAPER"
	CodeNoFrame        = "NO_FRAME"
	CodeBadRequest     = "BAD_REQUEST"
)

// StatusFor maps a bridge error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	var de *bridge.DeviceError
	switch {
	case errors.Is(err, bridge.ErrUnknownDevice):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, bridge.ErrNotConnected):
		return http.StatusServiceUnavailable, CodeNotConnected
	case errors.Is(err, bridge.ErrIdentityMismatch):
		return http.StatusConflict, CodeDeviceMismatch
	case errors.As(err, &de):
		if de.IsPaperFault() {
			return http.StatusConflict, de.Fault.Category.String()
		}
		return http.StatusBadRequest, de.Code
	case errors.Is(err, datecs.ErrNoFrame):
		return http.StatusGatewayTimeout, CodeNoFrame
	case errors.Is(err, bridge.ErrInvalidInput):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusBadRequest, err.Error()
	}
}

// writeError renders err with the body shape clients expect for its kind.
func writeError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	body := gin.H{"ok": false, "error": code}

	var (
		de *bridge.DeviceError
		me *bridge.MismatchError
		nc *bridge.NotConnectedError
	)
	switch {
	case errors.As(err, &nc):
		body["message"] = nc.Error()
	case errors.As(err, &me):
		body["message"] = me.Error()
		body["details"] = gin.H{
			"id":       me.Device,
			"path":     me.Path,
			"expected": me.Expected,
			"actual":   me.Actual,
		}
	case errors.As(err, &de):
		if de.IsPaperFault() {
			body["message"] = de.Fault.Message
			body["code"] = de.Code
		}
	case code == CodeNoFrame || code == CodeBadRequest:
		body["message"] = err.Error()
	}

	c.AbortWithStatusJSON(status, body)
}
