// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Kernel is a compiled kernel entry point ready to be enqueued.
type Kernel interface {
	// Name of the kernel entry point.
	Name() string

	// NumArgs returns the number of arguments the kernel takes.
	NumArgs() int

	// SetArgs sets all the kernel arguments, in order. Accepted types are Buffer, SharedBuffer and int32.
	// The arguments are captured at enqueue time, so they can be changed after EnqueueNDRangeKernel returns.
	SetArgs(args ...any) error

	// Finalize immediately frees resources associated to the kernel.
	Finalize() error
}
