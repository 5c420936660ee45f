// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Query identifies a device property that can be asked with Backend.Query.
type Query int

const (
	// QueryVendorMaxParallelism is the vendor specific maximum number of concurrent lanes
	// (e.g. CL_DEVICE_MAX_WORK_GROUP_SIZE_AMD). Many devices don't support it.
	QueryVendorMaxParallelism Query = iota

	// QueryMaxWorkGroupSize is the portable maximum work-group size.
	QueryMaxWorkGroupSize

	// QueryLocalMemSize is the size in bytes of the device fast (local) memory.
	QueryLocalMemSize

	// QueryGlobalMemSize is the size in bytes of the device global memory.
	QueryGlobalMemSize

	// QueryComputeUnits is the number of parallel compute units.
	QueryComputeUnits
)

// String implements fmt.Stringer.
func (q Query) String() string {
	switch q {
	case QueryVendorMaxParallelism:
		return "VendorMaxParallelism"
	case QueryMaxWorkGroupSize:
		return "MaxWorkGroupSize"
	case QueryLocalMemSize:
		return "LocalMemSize"
	case QueryGlobalMemSize:
		return "GlobalMemSize"
	case QueryComputeUnits:
		return "ComputeUnits"
	default:
		return fmt.Sprintf("Query(%d)", int(q))
	}
}

// QueryResult is the answer to a Query: either a supported value or Unsupported.
type QueryResult struct {
	Value     int64
	Supported bool
}

// Supported returns a QueryResult holding value.
func Supported(value int64) QueryResult {
	return QueryResult{Value: value, Supported: true}
}

// Unsupported returns the QueryResult for queries the device doesn't answer.
func Unsupported() QueryResult {
	return QueryResult{}
}

// Capabilities is what the harness needs to know about a device. It is immutable once probed.
type Capabilities struct {
	// MaxParallelism is the upper bound of lanes in one dispatch.
	MaxParallelism int

	// FastMemoryBytes is the device local memory size, 0 if the device doesn't report it.
	// It's informational only.
	FastMemoryBytes int64

	// GlobalMemoryBytes is the device global memory size, 0 if the device doesn't report it.
	GlobalMemoryBytes int64

	// Source is the query that answered MaxParallelism.
	Source Query
}

// ParallelismQueries is the ranked list of queries tried by Probe for the parallelism bound.
// The first supported one wins.
var ParallelismQueries = []Query{QueryVendorMaxParallelism, QueryMaxWorkGroupSize}

// Probe queries the device for its parallelism bound and memory sizes.
//
// It tries ParallelismQueries in order, falling back to the next when a query is unsupported.
// It returns an error wrapping ErrCapabilityUnavailable if none is supported: the harness can't
// run without a parallelism bound.
func Probe(backend Backend, deviceNum DeviceNum) (Capabilities, error) {
	var caps Capabilities
	found := false
	for _, query := range ParallelismQueries {
		result := backend.Query(deviceNum, query)
		if !result.Supported || result.Value <= 0 {
			klog.Warningf("device #%d of backend %q doesn't support query %s, trying the next one",
				deviceNum, backend.Name(), query)
			continue
		}
		caps.MaxParallelism = int(result.Value)
		caps.Source = query
		found = true
		break
	}
	if !found {
		return Capabilities{}, NewError(KindCapability, "Probe", ErrCapabilityUnavailable)
	}
	if result := backend.Query(deviceNum, QueryLocalMemSize); result.Supported {
		caps.FastMemoryBytes = result.Value
	}
	if result := backend.Query(deviceNum, QueryGlobalMemSize); result.Supported {
		caps.GlobalMemoryBytes = result.Value
	}
	klog.V(1).Infof("device #%d: max parallelism %d (from %s), local memory %d bytes",
		deviceNum, caps.MaxParallelism, caps.Source, caps.FastMemoryBytes)
	return caps, nil
}
