// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a compute device platform needs to implement to be
// benchmarked by ksabench.
//
// It is modeled after the OpenCL host API: a Backend is a platform that exposes one or more devices,
// each device can be queried for its capabilities, and work is submitted through command queues
// that return events. Events are the only synchronization primitive: the caller decides when
// to wait.
//
// Backends register themselves with Register during package initialization, and are created
// with New or NewWithConfig.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// DeviceNum represents which device holds a buffer, or should execute a kernel.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// DeviceInfo describes a device for listing and selection purposes.
type DeviceInfo struct {
	Num    DeviceNum
	Name   string
	Vendor string
}

// Backend is the API that needs to be implemented by a ksabench backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "host" for the pure Go host device.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() DeviceNum

	// DeviceInfo returns the name and vendor of the given device.
	DeviceInfo(deviceNum DeviceNum) (DeviceInfo, error)

	// Query asks the device for one of its properties.
	// Queries the device doesn't know about must return Unsupported, not an error: callers
	// rely on that to fall back to other queries.
	Query(deviceNum DeviceNum, query Query) QueryResult

	// NewQueue creates a command queue attached to the device.
	NewQueue(deviceNum DeviceNum, options QueueOptions) (Queue, error)

	// NewKernel builds the program for the device and returns its kernel entry point with the given name.
	NewKernel(deviceNum DeviceNum, name string) (Kernel, error)

	// DataInterface is the sub-interface that defines the API to allocate device memory.
	DataInterface

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "host") and
// "<backend_configuration>" is backend specific (e.g.: for the host backend, "units=8,fine_grained=false").
const ConfigEnvVar = "KSABENCH_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment KSABENCH_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
//
// If "<backend_name>" is omitted, the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, NewError(KindSetup, "NewWithConfig", errors.New(
			`no registered backends -- maybe import the default one with import _ "github.com/gomlx/ksabench/backends/default"?`))
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, NewError(KindSetup, "NewWithConfig",
			errors.Errorf("can't find backend %q for configuration %q given, registered backends: %v",
				backendName, config, List()))
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, NewError(KindSetup, "NewWithConfig",
			errors.WithMessagef(err, "backend %q with configuration %q", backendName, backendConfig))
	}
	return backend, nil
}

// ListDevices returns the DeviceInfo of every device of the backend.
func ListDevices(backend Backend) ([]DeviceInfo, error) {
	numDevices := backend.NumDevices()
	infos := make([]DeviceInfo, 0, numDevices)
	for deviceNum := range numDevices {
		info, err := backend.DeviceInfo(deviceNum)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
