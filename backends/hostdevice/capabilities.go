// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostdevice

import (
	"runtime"

	"github.com/gomlx/ksabench/backends"
	"github.com/pbnjay/memory"
	"golang.org/x/sys/cpu"
)

// simdLanes returns the number of 32-bit lanes of the widest vector unit of the CPU, or 0 if unknown.
func simdLanes() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2:
		return 8
	case cpu.X86.HasSSE2, cpu.ARM64.HasASIMD:
		return 4
	default:
		return 0
	}
}

// cpuVendor returns a description of the CPU family, used as the device vendor.
func cpuVendor() string {
	switch runtime.GOARCH {
	case "amd64", "386":
		return "x86 host"
	case "arm64":
		return "ARM host"
	default:
		return runtime.GOARCH + " host"
	}
}

// Query implements backends.Backend.
func (b *Backend) Query(deviceNum backends.DeviceNum, query backends.Query) backends.QueryResult {
	d, err := b.device("Query", deviceNum)
	if err != nil {
		return backends.Unsupported()
	}
	return d.query(query)
}

func (d *device) query(query backends.Query) backends.QueryResult {
	cfg := d.config
	switch query {
	case backends.QueryVendorMaxParallelism:
		if cfg.VendorParallelism > 0 {
			return backends.Supported(int64(cfg.VendorParallelism))
		}
	case backends.QueryMaxWorkGroupSize:
		if cfg.MaxWorkGroupSize > 0 {
			return backends.Supported(int64(cfg.MaxWorkGroupSize))
		}
	case backends.QueryLocalMemSize:
		if cfg.LocalMemBytes > 0 {
			return backends.Supported(cfg.LocalMemBytes)
		}
	case backends.QueryGlobalMemSize:
		if total := memory.TotalMemory(); total > 0 {
			// Devices share the host memory.
			return backends.Supported(int64(total) / int64(cfg.NumDevices))
		}
	case backends.QueryComputeUnits:
		return backends.Supported(int64(cfg.ComputeUnits))
	}
	return backends.Unsupported()
}
