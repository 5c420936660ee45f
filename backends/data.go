// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// MemFlags tells the device how a buffer is going to be accessed by kernels.
type MemFlags int

const (
	MemReadWrite MemFlags = iota
	MemReadOnly
	MemWriteOnly
)

// String implements fmt.Stringer.
func (f MemFlags) String() string {
	switch f {
	case MemReadOnly:
		return "ReadOnly"
	case MemWriteOnly:
		return "WriteOnly"
	default:
		return "ReadWrite"
	}
}

// MapFlags tells how the host is going to access a mapped shared allocation.
type MapFlags int

const (
	MapRead MapFlags = 1 << iota
	MapWrite
)

// Buffer is device memory, opaque to the host: it can only be accessed through queue transfers.
type Buffer interface {
	// Size in bytes.
	Size() int
}

// SharedBuffer is memory allocated by the device that is also addressable by the host
// (OpenCL's shared virtual memory).
//
// Fine-grained allocations are visible to the host as soon as the command that wrote them completes.
// Coarse-grained ones must be mapped with Queue.EnqueueSVMMap before the host touches them, and unmapped
// with Queue.EnqueueSVMUnmap before the device uses them again.
type SharedBuffer interface {
	// Size in bytes.
	Size() int

	// IsFineGrained reports the visibility regime of the allocation. It is stable for the allocation lifetime.
	IsFineGrained() bool

	// HostBytes returns the host view of the allocation.
	// For a coarse-grained allocation it returns ErrNotMapped if it is not currently mapped.
	HostBytes() ([]byte, error)
}

// DataInterface is the Backend's sub-interface that defines the API to allocate device memory.
type DataInterface interface {
	// NewBuffer allocates size bytes of device memory.
	NewBuffer(deviceNum DeviceNum, flags MemFlags, size int) (Buffer, error)

	// BufferFinalize releases the buffer immediately, as opposed to waiting for a GC.
	//
	// A finalized buffer should never be used again. Preferably, the caller should set its references to it to nil.
	BufferFinalize(buffer Buffer) error

	// NewSharedBuffer allocates size bytes of memory shared between the device and the host.
	NewSharedBuffer(deviceNum DeviceNum, size int) (SharedBuffer, error)

	// SharedBufferFinalize releases the shared allocation. It must not be mapped.
	SharedBufferFinalize(buffer SharedBuffer) error
}
