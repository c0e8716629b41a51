// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
)

// ErrNoFrame is returned when a buffer does not contain a structurally
// decodable frame.
var ErrNoFrame = errors.New("no frame")

var errorCodePattern = regexp.MustCompile(`-\d{6}`)

// Response is a parsed device response.
type Response struct {
	Command   uint16
	OK        bool
	ErrorCode string
	Data      string
	Payment   *PaymentStatus
	Raw       []byte
}

// PaymentStatus holds the extra fields returned by CmdPayment.
type PaymentStatus struct {
	Status string // PayStatusInsufficient or PayStatusChange
	Amount string
}

// Fields splits the data payload on the parameter separator.
func (r *Response) Fields() []string {
	return strings.Split(r.Data, ParamSeparator)
}

// Field returns the i-th data field or an empty string.
func (r *Response) Field(i int) string {
	fields := r.Fields()
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// Parse decodes the first frame found in buf. A frame is usable once the
// preamble and a postamble after it are present; the EOT byte is not
// required. Error codes reported by the device are detected in the data
// payload and do not cause Parse to fail.
func Parse(buf []byte) (*Response, error) {
	pre := bytes.IndexByte(buf, Preamble)
	if pre < 0 {
		return nil, ErrNoFrame
	}
	rel := bytes.IndexByte(buf[pre+1:], Postamble)
	if rel < 0 {
		return nil, ErrNoFrame
	}
	pst := pre + 1 + rel
	if pst < pre+dataOffset {
		return nil, ErrNoFrame
	}

	cmd, err := DecodeWord(buf[pre+commandOffset : pre+dataOffset])
	if err != nil {
		return nil, ErrNoFrame
	}

	resp := &Response{
		Command: cmd,
		Data:    string(buf[pre+dataOffset : pst]),
		Raw:     buf,
	}

	if code := errorCodePattern.FindString(resp.Data); code != "" {
		resp.ErrorCode = code
	} else {
		resp.OK = true
	}

	if resp.Command == CmdPayment && resp.OK {
		resp.Payment = &PaymentStatus{
			Status: resp.Field(1),
			Amount: resp.Field(2),
		}
	}

	return resp, nil
}
