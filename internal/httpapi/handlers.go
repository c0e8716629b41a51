// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/device"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Value accepts either a JSON string or a JSON number.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*v = Value(n.String())
	return nil
}

type textRequest struct {
	Text Value `json:"text"`
}

type openFiscalRequest struct {
	Operator Value `json:"operator"`
	Password Value `json:"password"`
	Till     Value `json:"till"`
}

type saleRequest struct {
	Name       Value `json:"name"`
	Tax        Value `json:"tax"`
	Price      Value `json:"price"`
	Quantity   Value `json:"quantity"`
	Department Value `json:"department"`
	Unit       Value `json:"unit"`
}

type payRequest struct {
	Mode   Value `json:"mode"`
	Amount Value `json:"amount"`
}

type rawRequest struct {
	Opcode       Value   `json:"opcode"`
	Params       []Value `json:"params"`
	Retries      int     `json:"retries"`
	RetryDelayMS int     `json:"retry_delay_ms"`
}

// bind decodes an optional JSON body. An empty body leaves defaults.
func bind(c *gin.Context, out any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", bridge.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) respondData(c *gin.Context, data string, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func (s *Server) handleOpenNonFiscal(c *gin.Context) {
	data, err := s.bridge.OpenNonFiscal(c.Request.Context(), deviceID(c))
	s.respondData(c, data, err)
}

func (s *Server) handleNonFiscalText(c *gin.Context) {
	var req textRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	data, err := s.bridge.PrintNonFiscalText(c.Request.Context(), deviceID(c), string(req.Text))
	s.respondData(c, data, err)
}

func (s *Server) handleCloseNonFiscal(c *gin.Context) {
	data, err := s.bridge.CloseNonFiscal(c.Request.Context(), deviceID(c))
	s.respondData(c, data, err)
}

func (s *Server) handleOpenFiscal(c *gin.Context) {
	var req openFiscalRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	data, err := s.bridge.OpenFiscal(c.Request.Context(), deviceID(c), bridge.FiscalOpen{
		Operator: string(req.Operator),
		Password: string(req.Password),
		Till:     string(req.Till),
	})
	s.respondData(c, data, err)
}

func (s *Server) handleSale(c *gin.Context) {
	var req saleRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	data, err := s.bridge.RegisterSale(c.Request.Context(), deviceID(c), bridge.Sale{
		Name:       string(req.Name),
		Tax:        string(req.Tax),
		Price:      string(req.Price),
		Quantity:   string(req.Quantity),
		Department: string(req.Department),
		Unit:       string(req.Unit),
	})
	s.respondData(c, data, err)
}

func (s *Server) handleFiscalText(c *gin.Context) {
	var req textRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	data, err := s.bridge.PrintFiscalText(c.Request.Context(), deviceID(c), string(req.Text))
	s.respondData(c, data, err)
}

func (s *Server) handlePay(c *gin.Context) {
	var req payRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	res, err := s.bridge.Pay(c.Request.Context(), deviceID(c), string(req.Mode), string(req.Amount))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"data":   res.Data,
		"status": res.Status,
		"amount": res.Amount,
	})
}

func (s *Server) handleCloseFiscal(c *gin.Context) {
	data, err := s.bridge.CloseFiscal(c.Request.Context(), deviceID(c))
	s.respondData(c, data, err)
}

func (s *Server) handleCancel(c *gin.Context) {
	data, err := s.bridge.CancelReceipt(c.Request.Context(), deviceID(c))
	s.respondData(c, data, err)
}

func (s *Server) handleReceiptStatus(c *gin.Context) {
	st, err := s.bridge.ReceiptStatus(c.Request.Context(), deviceID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"raw":               st.Raw,
		"printBufferStatus": st.PrintBufferStatus,
		"receiptStatus":     st.ReceiptStatus,
		"number":            st.Number,
	})
}

func (s *Server) handleTxStatus(c *gin.Context) {
	st, err := s.bridge.TransactionStatus(c.Request.Context(), deviceID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"raw":    st.Raw,
		"isOpen": st.IsOpen,
		"number": st.Number,
		"items":  st.Items,
		"amount": st.Amount,
		"payed":  st.Payed,
	})
}

func (s *Server) handleRaw(c *gin.Context) {
	var req rawRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	opcode, err := datecs.ParseOpcode(string(req.Opcode))
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", bridge.ErrInvalidInput, err))
		return
	}
	params := make([]string, len(req.Params))
	for i, p := range req.Params {
		params[i] = string(p)
	}

	resp, err := s.bridge.SendCommand(c.Request.Context(), deviceID(c), opcode, params, device.CallOptions{
		Retries:    req.Retries,
		RetryDelay: time.Duration(req.RetryDelayMS) * time.Millisecond,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{
		"ok":      resp.OK,
		"command": fmt.Sprintf("%04x", resp.Command),
		"name":    datecs.FormatOpcode(resp.Command),
		"data":    resp.Data,
		"fields":  resp.Fields(),
	}
	if !resp.OK {
		body["error_code"] = resp.ErrorCode
		if f := datecs.ClassifyError(resp.ErrorCode); f.Message != "" {
			body["message"] = f.Message
		}
	}
	if resp.Payment != nil {
		body["payment"] = gin.H{"status": resp.Payment.Status, "amount": resp.Payment.Amount}
	}
	c.JSON(http.StatusOK, body)
}

// handleHealth returns the bridge status as indented JSON, or CBOR when
// the client asks for application/cbor.
func (s *Server) handleHealth(c *gin.Context) {
	h := s.bridge.Health()
	if strings.Contains(c.GetHeader("Accept"), "application/cbor") {
		b, err := cbor.Marshal(h)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/cbor", b)
		return
	}
	c.IndentedJSON(http.StatusOK, h)
}
