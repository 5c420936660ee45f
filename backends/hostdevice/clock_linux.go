// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package hostdevice

import (
	"time"

	"golang.org/x/sys/unix"
)

// deviceClock returns the device timestamp in nanoseconds.
//
// It reads CLOCK_MONOTONIC_RAW, which is not slewed by NTP, like the free-running counters of real devices.
func deviceClock() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return uint64(time.Since(clockEpoch).Nanoseconds())
	}
	return uint64(ts.Nano())
}

var clockEpoch = time.Now()
