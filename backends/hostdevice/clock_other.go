// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hostdevice

import "time"

var clockEpoch = time.Now()

// deviceClock returns the device timestamp in nanoseconds, from Go's monotonic clock.
func deviceClock() uint64 {
	return uint64(time.Since(clockEpoch).Nanoseconds())
}
