// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import (
	"fmt"
	"strconv"
	"strings"
)

// JoinParams joins command parameters with the tab separator. Many opcodes
// require a trailing empty field, which callers pass explicitly as "".
func JoinParams(params []string) string {
	return strings.Join(params, ParamSeparator)
}

// FormatMoney normalizes a decimal amount ("1,5" -> "1.50").
func FormatMoney(s string) (string, error) {
	v, err := parseDecimal(s)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return strconv.FormatFloat(v, 'f', 2, 64), nil
}

// FormatQuantity normalizes a quantity to three decimals. Empty or invalid
// input yields "1.000".
func FormatQuantity(s string) string {
	v, err := parseDecimal(s)
	if err != nil {
		v = 1
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(s, 64)
}

// TaxGroup maps a tax letter A-G (or digit 1-7) to the device tax group.
// Anything else falls back to group 1.
func TaxGroup(s string) string {
	t := strings.ToUpper(strings.TrimSpace(s))
	if len(t) == 1 {
		switch {
		case t[0] >= 'A' && t[0] <= 'G':
			return string(rune('1' + t[0] - 'A'))
		case t[0] >= '1' && t[0] <= '7':
			return t
		}
	}
	return "1"
}

// Payment modes accepted at the API boundary
const (
	PayModeCash = "cash"
	PayModeCard = "card"
)

// PaymentMode maps an API payment mode to the device payment type. A single
// digit is passed through; unknown values fall back to cash.
func PaymentMode(s string) string {
	m := strings.ToLower(strings.TrimSpace(s))
	switch {
	case m == "" || m == PayModeCash:
		return "0"
	case m == PayModeCard:
		return "1"
	case len(m) == 1 && m[0] >= '0' && m[0] <= '9':
		return m
	default:
		return "0"
	}
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
