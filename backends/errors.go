// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind categorizes failures. Every kind is fatal to a benchmark run: the kind only
// tells the user which step went wrong.
type ErrorKind int

const (
	// KindCapability: the device couldn't report a parallelism bound.
	KindCapability ErrorKind = iota

	// KindEncoding: a record didn't fit the fixed block layout.
	KindEncoding

	// KindSetup: queue, program, kernel or buffer construction failed.
	KindSetup

	// KindDevice: a transfer, dispatch, wait, map or unmap failed.
	KindDevice

	// KindConsistency: the device reported something impossible, e.g. a kernel that ended before it started.
	KindConsistency
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindCapability:
		return "capability"
	case KindEncoding:
		return "encoding"
	case KindSetup:
		return "setup"
	case KindDevice:
		return "device"
	case KindConsistency:
		return "consistency"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the error type returned by backends and by the harness built on top of them.
type Error struct {
	Kind ErrorKind
	Op   string // Step that failed, e.g. "EnqueueSVMMap".
	Err  error
}

// NewError creates an *Error of the given kind for the operation op.
func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error in %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Format prints the stack trace of the underlying error with "%+v".
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "%s error in %s: %+v", e.Kind, e.Op, e.Err)
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}

// IsKind returns whether err, or any error it wraps, is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	// ErrCapabilityUnavailable is returned by Probe when no parallelism query is supported.
	ErrCapabilityUnavailable = errors.New("no parallelism bound query is supported by the device")

	// ErrProfilingUnavailable is returned when reading timestamps from an event that is not complete,
	// or whose queue was created without profiling.
	ErrProfilingUnavailable = errors.New("profiling information not available")

	// ErrTimestampOrder is returned when a command's end timestamp doesn't come after its start.
	ErrTimestampOrder = errors.New("device end timestamp is not after start timestamp")

	// ErrNotMapped is returned when the host accesses a coarse-grained allocation that isn't mapped.
	ErrNotMapped = errors.New("coarse-grained shared allocation is not mapped for host access")

	// ErrReleased is returned when using a buffer, kernel or queue after it was finalized.
	ErrReleased = errors.New("object already released")
)
