// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import "time"

// Policy exposes the resolved retry policy to the external tests.
func (d *Device) Policy(opts CallOptions) (int, time.Duration) {
	return d.policy(opts)
}
