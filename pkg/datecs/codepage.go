// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Codepage converts between Go strings and the device character set.
type Codepage struct {
	name string
	enc  encoding.Encoding
}

// ASCII passes bytes through unchanged.
var ASCII = Codepage{name: "ascii"}

var codepages = map[string]*charmap.Charmap{
	"cp1250": charmap.Windows1250,
	"cp1251": charmap.Windows1251,
	"cp1252": charmap.Windows1252,
	"cp852":  charmap.CodePage852,
	"cp866":  charmap.CodePage866,
}

// LookupCodepage returns the codepage registered under name. An empty name
// selects ASCII.
func LookupCodepage(name string) (Codepage, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || n == ASCII.name {
		return ASCII, nil
	}
	cm, ok := codepages[n]
	if !ok {
		return Codepage{}, fmt.Errorf("unknown codepage %q", name)
	}
	return Codepage{name: n, enc: cm}, nil
}

// Name returns the codepage name.
func (c Codepage) Name() string {
	if c.name == "" {
		return ASCII.name
	}
	return c.name
}

// Encode converts s to device bytes. Characters missing from the codepage
// are replaced rather than rejected.
func (c Codepage) Encode(s string) []byte {
	if c.enc == nil {
		return []byte(s)
	}
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// Decode converts device bytes to a string.
func (c Codepage) Decode(b []byte) string {
	if c.enc == nil {
		return string(b)
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
