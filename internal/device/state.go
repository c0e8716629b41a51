// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

// State is the lifecycle of one command on the device worker.
type State int

// Command states
const (
	StatePending State = iota
	StateSent
	StateCompleteOK
	StateCompleteError
	StateIncomplete
	StateTerminalFailure
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateCompleteOK:
		return "complete_ok"
	case StateCompleteError:
		return "complete_error"
	case StateIncomplete:
		return "incomplete"
	case StateTerminalFailure:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCompleteOK || s == StateCompleteError || s == StateTerminalFailure
}
