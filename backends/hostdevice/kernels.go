// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostdevice

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ksabench/backends"
	"github.com/pkg/errors"
)

// LaneFunc runs one work-item (lane) of a kernel. Buffers in args are already resolved to their
// device bytes, see Args.
//
// Lanes of the same dispatch run concurrently, and must only write to the bytes they own.
type LaneFunc func(lane int, args Args) error

// KernelDef is a kernel the host device knows how to run.
type KernelDef struct {
	Name    string
	NumArgs int
	Lane    LaneFunc
}

var (
	muKernels         sync.RWMutex
	registeredKernels = make(map[string]KernelDef)
)

// RegisterKernel makes the kernel available to Backend.NewKernel under def.Name.
//
// To be safe, call RegisterKernel during initialization of a package.
func RegisterKernel(def KernelDef) {
	if def.Name == "" || def.Lane == nil {
		exceptions.Panicf("hostdevice.RegisterKernel: kernel definition requires a name and a lane function, got %+v", def)
	}
	muKernels.Lock()
	defer muKernels.Unlock()
	registeredKernels[def.Name] = def
}

// ListKernels returns the names of the registered kernels, sorted.
func ListKernels() []string {
	muKernels.RLock()
	defer muKernels.RUnlock()
	names := make([]string, 0, len(registeredKernels))
	for name := range registeredKernels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Args are the arguments of a dispatch as seen by the device: each one is either a []byte
// (the device memory of a Buffer or SharedBuffer) or an int32.
type Args []any

// Bytes returns the device memory of argument i.
func (a Args) Bytes(i int) ([]byte, error) {
	if i < 0 || i >= len(a) {
		return nil, errors.Errorf("kernel argument #%d out of range, there are %d arguments", i, len(a))
	}
	b, ok := a[i].([]byte)
	if !ok {
		return nil, errors.Errorf("kernel argument #%d is a %T, not a buffer", i, a[i])
	}
	return b, nil
}

// Int32 returns the scalar argument i.
func (a Args) Int32(i int) (int32, error) {
	if i < 0 || i >= len(a) {
		return 0, errors.Errorf("kernel argument #%d out of range, there are %d arguments", i, len(a))
	}
	v, ok := a[i].(int32)
	if !ok {
		return 0, errors.Errorf("kernel argument #%d is a %T, not an int32", i, a[i])
	}
	return v, nil
}

// Kernel implements backends.Kernel for the host device.
type Kernel struct {
	device *device
	def    KernelDef

	mu       sync.Mutex
	args     []any
	released bool
}

var _ backends.Kernel = &Kernel{}

// NewKernel implements backends.Backend.
func (b *Backend) NewKernel(deviceNum backends.DeviceNum, name string) (backends.Kernel, error) {
	d, err := b.device("NewKernel", deviceNum)
	if err != nil {
		return nil, err
	}
	muKernels.RLock()
	def, found := registeredKernels[name]
	muKernels.RUnlock()
	if !found {
		return nil, backends.NewError(backends.KindSetup, "NewKernel",
			errors.Errorf("kernel %q not found in program, available kernels: %q", name, ListKernels()))
	}
	return &Kernel{device: d, def: def}, nil
}

// Name implements backends.Kernel.
func (k *Kernel) Name() string { return k.def.Name }

// NumArgs implements backends.Kernel.
func (k *Kernel) NumArgs() int { return k.def.NumArgs }

// SetArgs implements backends.Kernel.
func (k *Kernel) SetArgs(args ...any) error {
	if len(args) != k.def.NumArgs {
		return backends.NewError(backends.KindSetup, "SetArgs",
			errors.Errorf("kernel %q takes %d arguments, %d given", k.def.Name, k.def.NumArgs, len(args)))
	}
	for ii, arg := range args {
		switch a := arg.(type) {
		case *Buffer:
			if a.device != k.device {
				return backends.NewError(backends.KindSetup, "SetArgs",
					errors.Errorf("kernel %q argument #%d lives in device #%d, kernel is for device #%d",
						k.def.Name, ii, a.device.num, k.device.num))
			}
		case *SharedBuffer:
			if a.device != k.device {
				return backends.NewError(backends.KindSetup, "SetArgs",
					errors.Errorf("kernel %q argument #%d lives in device #%d, kernel is for device #%d",
						k.def.Name, ii, a.device.num, k.device.num))
			}
		case int32:
		default:
			return backends.NewError(backends.KindSetup, "SetArgs",
				errors.Errorf("kernel %q argument #%d has unsupported type %T", k.def.Name, ii, arg))
		}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return backends.NewError(backends.KindSetup, "SetArgs", backends.ErrReleased)
	}
	k.args = slices.Clone(args)
	return nil
}

// snapshotArgs returns the arguments currently set, for an enqueue.
func (k *Kernel) snapshotArgs() ([]any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil, backends.ErrReleased
	}
	if len(k.args) != k.def.NumArgs {
		return nil, errors.Errorf("kernel %q arguments not set", k.def.Name)
	}
	return k.args, nil
}

// Finalize implements backends.Kernel.
func (k *Kernel) Finalize() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.released = true
	k.args = nil
	return nil
}

// resolveArgs converts the buffers in args to their device bytes.
func resolveArgs(args []any) (Args, error) {
	resolved := make(Args, len(args))
	for ii, arg := range args {
		var err error
		switch a := arg.(type) {
		case *Buffer:
			resolved[ii], err = a.bytes()
		case *SharedBuffer:
			resolved[ii], err = a.deviceBytes()
		default:
			resolved[ii] = arg
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "kernel argument #%d", ii)
		}
	}
	return resolved, nil
}

// run executes globalWorkSize lanes of the kernel on the device workers.
// Lanes that panic or return an error fail the whole dispatch.
func (k *Kernel) run(args []any, globalWorkSize int) error {
	resolved, err := resolveArgs(args)
	if err != nil {
		return err
	}
	var (
		mu       sync.Mutex
		firstErr error
	)
	k.device.pool.RunLanes(globalWorkSize, func(lane int) {
		laneErr := exceptions.TryCatch[error](func() {
			if err := k.def.Lane(lane, resolved); err != nil {
				panic(err)
			}
		})
		if laneErr == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = errors.WithMessagef(laneErr, "kernel %q lane %d", k.def.Name, lane)
		}
		mu.Unlock()
	})
	return firstErr
}
