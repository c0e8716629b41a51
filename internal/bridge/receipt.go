// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

// Field limits enforced by the device
const (
	MaxNonFiscalText = 42
	MaxFiscalText    = 48
	MaxItemName      = 72
	MaxUnit          = 6
)

// OpenNonFiscal opens a non-fiscal receipt.
func (b *Bridge) OpenNonFiscal(ctx context.Context, id string) (string, error) {
	return b.AssertOK(ctx, id, datecs.CmdOpenNonFiscal, []string{"", ""})
}

// PrintNonFiscalText prints one line on an open non-fiscal receipt.
func (b *Bridge) PrintNonFiscalText(ctx context.Context, id, text string) (string, error) {
	params := []string{datecs.Truncate(text, MaxNonFiscalText), "", "", "", "", "", "", ""}
	return b.AssertOK(ctx, id, datecs.CmdNonFiscalText, params)
}

// CloseNonFiscal closes the non-fiscal receipt.
func (b *Bridge) CloseNonFiscal(ctx context.Context, id string) (string, error) {
	return b.AssertOK(ctx, id, datecs.CmdCloseNonFiscal, []string{""})
}

// FiscalOpen identifies the operator opening a fiscal receipt.
type FiscalOpen struct {
	Operator string
	Password string
	Till     string
}

func (o FiscalOpen) params() []string {
	op, pwd, till := o.Operator, o.Password, o.Till
	if op == "" {
		op = "1"
	}
	if pwd == "" {
		pwd = "0000"
	}
	if till == "" {
		till = "1"
	}
	return []string{op, pwd, till, ""}
}

// OpenFiscal opens a fiscal receipt.
func (b *Bridge) OpenFiscal(ctx context.Context, id string, o FiscalOpen) (string, error) {
	return b.AssertOK(ctx, id, datecs.CmdOpenFiscal, o.params())
}

// Sale is one receipt line.
type Sale struct {
	Name       string
	Tax        string
	Price      string
	Quantity   string
	Department string
	Unit       string
}

// Params returns the device parameters for the sale. Price must be a
// number; other fields fall back to defaults.
func (s Sale) Params() ([]string, error) {
	name := s.Name
	if name == "" {
		name = "ITEM"
	}
	price := s.Price
	if price == "" {
		price = "0"
	}
	money, err := datecs.FormatMoney(price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	qty := "1.000"
	if s.Quantity != "" {
		qty = datecs.FormatQuantity(s.Quantity)
	}
	dept := s.Department
	if dept == "" {
		dept = "1"
	}
	unit := s.Unit
	if unit == "" {
		unit = "BUC"
	}
	unit = datecs.Truncate(strings.TrimSpace(unit), MaxUnit)
	if unit == "" {
		unit = "X"
	}
	return []string{
		datecs.Truncate(name, MaxItemName),
		datecs.TaxGroup(s.Tax),
		money,
		qty,
		"", "",
		dept,
		unit,
		"",
	}, nil
}

// RegisterSale adds a line to the open fiscal receipt.
func (b *Bridge) RegisterSale(ctx context.Context, id string, s Sale) (string, error) {
	params, err := s.Params()
	if err != nil {
		return "", err
	}
	return b.AssertOK(ctx, id, datecs.CmdSale, params)
}

// PrintFiscalText prints free text on the open fiscal receipt.
func (b *Bridge) PrintFiscalText(ctx context.Context, id, text string) (string, error) {
	params := []string{datecs.Truncate(text, MaxFiscalText), "", "", "", "", "", ""}
	return b.AssertOK(ctx, id, datecs.CmdFiscalText, params)
}

// PaymentResult is the device answer to a payment.
type PaymentResult struct {
	Data string
	// Status is datecs.PayStatusInsufficient or datecs.PayStatusChange.
	Status string
	Amount string
}

// Pay registers a payment. mode is "cash", "card" or a device payment
// digit.
func (b *Bridge) Pay(ctx context.Context, id, mode, amount string) (*PaymentResult, error) {
	if amount == "" {
		amount = "0"
	}
	money, err := datecs.FormatMoney(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	resp, err := b.Exec(ctx, id, datecs.CmdPayment, []string{datecs.PaymentMode(mode), money, ""})
	if err != nil {
		return nil, err
	}
	res := &PaymentResult{Data: resp.Data}
	if resp.Payment != nil {
		res.Status = resp.Payment.Status
		res.Amount = resp.Payment.Amount
	}
	return res, nil
}

// CloseFiscal closes the fiscal receipt.
func (b *Bridge) CloseFiscal(ctx context.Context, id string) (string, error) {
	return b.AssertOK(ctx, id, datecs.CmdCloseFiscal, nil)
}

// CancelReceipt cancels the open fiscal receipt.
func (b *Bridge) CancelReceipt(ctx context.Context, id string) (string, error) {
	return b.AssertOK(ctx, id, datecs.CmdCancelReceipt, nil)
}

// ReceiptStatus is the answer to the current receipt status query.
type ReceiptStatus struct {
	Raw               string
	PrintBufferStatus string
	ReceiptStatus     string
	Number            string
}

// ReceiptStatus queries the current receipt.
func (b *Bridge) ReceiptStatus(ctx context.Context, id string) (*ReceiptStatus, error) {
	resp, err := b.Exec(ctx, id, datecs.CmdReceiptStatus, []string{"0", ""})
	if err != nil {
		return nil, err
	}
	return &ReceiptStatus{
		Raw:               resp.Data,
		PrintBufferStatus: resp.Field(1),
		ReceiptStatus:     resp.Field(2),
		Number:            resp.Field(3),
	}, nil
}

// TransactionStatus is the answer to the fiscal transaction status query.
type TransactionStatus struct {
	Raw    string
	IsOpen string
	Number string
	Items  string
	Amount string
	Payed  string
}

// TransactionStatus queries the fiscal transaction.
func (b *Bridge) TransactionStatus(ctx context.Context, id string) (*TransactionStatus, error) {
	resp, err := b.Exec(ctx, id, datecs.CmdTransactionStatus, nil)
	if err != nil {
		return nil, err
	}
	return &TransactionStatus{
		Raw:    resp.Data,
		IsOpen: resp.Field(1),
		Number: resp.Field(2),
		Items:  resp.Field(3),
		Amount: resp.Field(4),
		Payed:  resp.Field(5),
	}, nil
}
