// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datecs

// FaultCategory groups device error codes that callers handle alike.
type FaultCategory int

// Fault categories
const (
	FaultNone FaultCategory = iota
	FaultPaperOrCover
)

// String returns the category name used at the HTTP boundary.
func (c FaultCategory) String() string {
	switch c {
	case FaultPaperOrCover:
		return "NO_PAPER"
	default:
		return ""
	}
}

// Known device error codes
const (
	ErrCodeNoPaper      = "-111008"
	ErrCodePrinterCover = "-111009"
	ErrCodePaperEnd     = "-112006"
)

// Fault is the classification of a device error code.
type Fault struct {
	Code     string
	Category FaultCategory
	Message  string
}

var knownFaults = map[string]Fault{
	ErrCodeNoPaper: {
		Category: FaultPaperOrCover,
		Message:  "Fara hartie la casa de marcat",
	},
	ErrCodePaperEnd: {
		Category: FaultPaperOrCover,
		Message:  "Fara hartie la casa de marcat",
	},
	ErrCodePrinterCover: {
		Category: FaultPaperOrCover,
		Message:  "Eroare imprimanta / capac deschis",
	},
}

// ClassifyError maps a device error code to a fault. Unknown codes are passed
// through with FaultNone and no message.
func ClassifyError(code string) Fault {
	f, ok := knownFaults[code]
	if !ok {
		return Fault{Code: code}
	}
	f.Code = code
	return f
}

// IsPaperFault reports whether code belongs to the paper/cover category.
func IsPaperFault(code string) bool {
	return ClassifyError(code).Category == FaultPaperOrCover
}
