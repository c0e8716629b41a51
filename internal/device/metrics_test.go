// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

func TestOpcodeLabel(t *testing.T) {
	assert.Equal(t, "0x004A", opcodeLabel(datecs.CmdReceiptStatus))
	assert.Equal(t, "0x007B", opcodeLabel(datecs.CmdDeviceInfo))
	assert.Equal(t, otherLabel, opcodeLabel(0x1234))
	assert.Equal(t, otherLabel, opcodeLabel(0xFFFF))
}

func TestCodeLabel(t *testing.T) {
	assert.Equal(t, datecs.ErrCodeNoPaper, codeLabel(datecs.ErrCodeNoPaper))
	assert.Equal(t, datecs.ErrCodePrinterCover, codeLabel(datecs.ErrCodePrinterCover))
	assert.Equal(t, otherLabel, codeLabel("-999999"))
	assert.Equal(t, otherLabel, codeLabel("-100001"))
}
