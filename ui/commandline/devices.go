// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gomlx/ksabench/backends"
	"github.com/pkg/errors"
)

// SelectDevice picks one of the devices: the only one if there is just one, otherwise it lists them
// on out and reads the chosen index from in, asking again on invalid input.
func SelectDevice(in io.Reader, out io.Writer, devices []backends.DeviceInfo) (backends.DeviceNum, error) {
	switch len(devices) {
	case 0:
		return 0, backends.NewError(backends.KindSetup, "SelectDevice", errors.New("no devices available"))
	case 1:
		return devices[0].Num, nil
	}
	table := NewPlainTable("#", "Device", "Vendor")
	for ii, info := range devices {
		table.Row(strconv.Itoa(ii), info.Name, info.Vendor)
	}
	_, _ = fmt.Fprintln(out, table.Render())
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprintf(out, "Select device [0-%d]: ", len(devices)-1)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, errors.Wrap(err, "reading device selection")
			}
			return 0, backends.NewError(backends.KindSetup, "SelectDevice", errors.New("no device selected"))
		}
		idx, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || idx < 0 || idx >= len(devices) {
			_, _ = fmt.Fprintf(out, "Invalid selection %q.\n", scanner.Text())
			continue
		}
		return devices[idx].Num, nil
	}
}
