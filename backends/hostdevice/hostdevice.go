// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hostdevice implements a portable backend that emulates compute devices on the host CPU.
//
// Each emulated device has its own pool of workers (its "compute units"), allocates device memory
// on anonymous memory mappings, and runs kernels registered with RegisterKernel one lane per
// work-item. It honors both shared-memory visibility regimes: fine-grained allocations share their
// bytes with the host, coarse-grained ones keep a separate host view that is only synchronized
// by map and unmap commands.
//
// It registers itself as the "host" backend. The configuration is a comma separated list of
// "key=value" options:
//
//   - devices: number of emulated devices. Default 1.
//   - units: compute units per device. Default runtime.NumCPU().
//   - vendor: answer for the vendor parallelism query; 0 makes the query unsupported.
//     Default is units times the SIMD width of the CPU, or unsupported if it can't be detected.
//   - max_work_group: answer for the portable work-group size query; 0 makes it unsupported. Default 1024.
//   - local_mem: local memory size in bytes. Default 64KiB.
//   - fine_grained: whether shared allocations are fine-grained. Default true.
//   - profiling: whether queues can record device timestamps. Default true.
//   - name: name of the devices. Default "Host CPU".
//
// Example: KSABENCH_BACKEND="host:devices=2,units=4,fine_grained=false"
package hostdevice

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in KSABENCH_BACKEND to specify this backend.
const BackendName = "host"

func init() {
	backends.Register(BackendName, New)
}

// Config holds the parsed configuration of the backend.
type Config struct {
	NumDevices        int
	ComputeUnits      int
	VendorParallelism int
	MaxWorkGroupSize  int
	LocalMemBytes     int64
	FineGrained       bool
	Profiling         bool
	DeviceName        string
}

// DefaultConfig returns the configuration used for options not given.
func DefaultConfig() Config {
	units := runtime.NumCPU()
	vendor := 0
	if width := simdLanes(); width > 0 {
		vendor = units * width
	}
	return Config{
		NumDevices:        1,
		ComputeUnits:      units,
		VendorParallelism: vendor,
		MaxWorkGroupSize:  1024,
		LocalMemBytes:     64 * 1024,
		FineGrained:       true,
		Profiling:         true,
		DeviceName:        "Host CPU",
	}
}

// ParseConfig parses the backend configuration string. Options not given take the values of DefaultConfig.
func ParseConfig(config string) (Config, error) {
	cfg := DefaultConfig()
	vendorGiven := false
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return cfg, errors.Errorf("invalid option %q for backend %q, options must be formatted as \"key=value\"",
				part, BackendName)
		}
		var err error
		switch key {
		case "devices":
			cfg.NumDevices, err = parsePositive(key, value)
		case "units":
			cfg.ComputeUnits, err = parsePositive(key, value)
		case "vendor":
			cfg.VendorParallelism, err = parseNonNegative(key, value)
			vendorGiven = true
		case "max_work_group":
			cfg.MaxWorkGroupSize, err = parseNonNegative(key, value)
		case "local_mem":
			var v int
			v, err = parseNonNegative(key, value)
			cfg.LocalMemBytes = int64(v)
		case "fine_grained":
			cfg.FineGrained, err = strconv.ParseBool(value)
		case "profiling":
			cfg.Profiling, err = strconv.ParseBool(value)
		case "name":
			cfg.DeviceName = value
		default:
			return cfg, errors.Errorf("unknown configuration option %q for backend %q", key, BackendName)
		}
		if err != nil {
			return cfg, errors.WithMessagef(err, "backend %q option %q", BackendName, key)
		}
	}
	if !vendorGiven && cfg.VendorParallelism > 0 {
		// Keep the vendor answer consistent with a custom number of units.
		cfg.VendorParallelism = cfg.ComputeUnits * simdLanes()
	}
	return cfg, nil
}

func parseNonNegative(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %q", value)
	}
	if v < 0 {
		return 0, errors.Errorf("%s must be >= 0, got %d", key, v)
	}
	return v, nil
}

func parsePositive(key, value string) (int, error) {
	v, err := parseNonNegative(key, value)
	if err == nil && v == 0 {
		err = errors.Errorf("%s must be > 0", key)
	}
	return v, err
}

// Backend implements the backends.Backend interface.
type Backend struct {
	config  Config
	devices []*device

	mu          sync.Mutex
	isFinalized bool
}

// device is one emulated device.
type device struct {
	num    backends.DeviceNum
	config *Config
	pool   *workerspool.Pool
}

// Compile-time check that hostdevice.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// New constructs a new host Backend from the configuration string.
func New(config string) (backends.Backend, error) {
	return NewWithConfig(config)
}

// NewWithConfig constructs a new host Backend and returns its concrete type.
func NewWithConfig(config string) (*Backend, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	b := &Backend{config: cfg}
	for ii := range cfg.NumDevices {
		b.devices = append(b.devices, &device{
			num:    backends.DeviceNum(ii),
			config: &b.config,
			pool:   workerspool.NewWithParallelism(cfg.ComputeUnits),
		})
	}
	klog.V(1).Infof("backend %q: %d device(s) with %d compute units, fine-grained=%v",
		BackendName, cfg.NumDevices, cfg.ComputeUnits, cfg.FineGrained)
	return b, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Host CPU emulated devices (%d units each)", b.config.ComputeUnits)
}

// Config returns the configuration the backend was created with.
func (b *Backend) Config() Config {
	return b.config
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum {
	return backends.DeviceNum(len(b.devices))
}

// DeviceInfo implements backends.Backend.
func (b *Backend) DeviceInfo(deviceNum backends.DeviceNum) (backends.DeviceInfo, error) {
	if _, err := b.device("DeviceInfo", deviceNum); err != nil {
		return backends.DeviceInfo{}, err
	}
	return backends.DeviceInfo{
		Num:    deviceNum,
		Name:   fmt.Sprintf("%s #%d", b.config.DeviceName, deviceNum),
		Vendor: cpuVendor(),
	}, nil
}

// device returns the device for deviceNum, or an error if it doesn't exist or the backend is finalized.
func (b *Backend) device(op string, deviceNum backends.DeviceNum) (*device, error) {
	b.mu.Lock()
	finalized := b.isFinalized
	b.mu.Unlock()
	if finalized {
		return nil, backends.NewError(backends.KindSetup, op, errors.Wrapf(backends.ErrReleased, "backend %q", BackendName))
	}
	if deviceNum < 0 || int(deviceNum) >= len(b.devices) {
		return nil, backends.NewError(backends.KindSetup, op,
			errors.Errorf("invalid device #%d, backend %q has %d devices", deviceNum, BackendName, len(b.devices)))
	}
	return b.devices[deviceNum], nil
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isFinalized = true
}
