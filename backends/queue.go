// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"strings"

	"golang.org/x/sync/errgroup"
)

// QueueOptions are the properties a queue is created with.
type QueueOptions struct {
	// Profiling enables device timestamps on the events returned by the queue.
	Profiling bool

	// OutOfOrder lets the device run commands of the queue concurrently, as long as their
	// wait lists are satisfied. Ordering between dependent commands is then the caller's job.
	OutOfOrder bool

	// OnDevice creates a device-scheduled queue. These are always in-order, OutOfOrder is ignored.
	OnDevice bool
}

// String implements fmt.Stringer, listing the enabled properties.
func (o QueueOptions) String() string {
	var parts []string
	if o.Profiling {
		parts = append(parts, "PROFILING")
	}
	if o.OnDevice {
		parts = append(parts, "ON_DEVICE")
	} else if o.OutOfOrder {
		parts = append(parts, "OUT_OF_ORDER")
	}
	if len(parts) == 0 {
		return "IN_ORDER"
	}
	return strings.Join(parts, "|")
}

// Queue submits commands to a device. Every Enqueue method returns as soon as the command is
// queued, unless blocking is requested, and returns an Event tracking the command.
type Queue interface {
	// EnqueueWriteBuffer copies data (host) into buffer (device) starting at offset.
	EnqueueWriteBuffer(buffer Buffer, blocking bool, offset int, data []byte, waitList ...Event) (Event, error)

	// EnqueueReadBuffer copies from buffer (device) starting at offset into dst (host).
	EnqueueReadBuffer(buffer Buffer, blocking bool, offset int, dst []byte, waitList ...Event) (Event, error)

	// EnqueueNDRangeKernel runs kernel with globalWorkSize work-items, using the arguments last set on the kernel.
	EnqueueNDRangeKernel(kernel Kernel, globalWorkSize int, waitList ...Event) (Event, error)

	// EnqueueSVMMap maps a shared allocation for host access.
	EnqueueSVMMap(blocking bool, flags MapFlags, buffer SharedBuffer, waitList ...Event) (Event, error)

	// EnqueueSVMUnmap returns a mapped shared allocation to the device.
	EnqueueSVMUnmap(buffer SharedBuffer, waitList ...Event) (Event, error)

	// Finish blocks until every command submitted to the queue is retired.
	Finish() error

	// Finalize waits for pending commands and releases the queue.
	Finalize() error
}

// Event tracks one command submitted to a Queue.
type Event interface {
	// Wait blocks until the command completes, and returns its error if it failed.
	// There is no timeout: a hung device hangs the caller.
	Wait() error

	// IsComplete returns whether the command finished (successfully or not), without blocking.
	IsComplete() bool

	// ProfilingStart returns the device timestamp, in nanoseconds, when the command started executing.
	// It fails with ErrProfilingUnavailable if the command is not complete or the queue has no profiling.
	ProfilingStart() (uint64, error)

	// ProfilingEnd returns the device timestamp, in nanoseconds, when the command finished executing.
	// It fails with ErrProfilingUnavailable if the command is not complete or the queue has no profiling.
	ProfilingEnd() (uint64, error)
}

// WaitForEvents blocks until all events complete. It returns the first error among the events, but
// only after all of them are done, so no command is left running behind the caller's back.
func WaitForEvents(events ...Event) error {
	var g errgroup.Group
	for _, event := range events {
		if event == nil {
			continue
		}
		g.Go(event.Wait)
	}
	return g.Wait()
}
