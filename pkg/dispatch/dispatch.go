// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch runs the benchmark kernel on a device and times it.
//
// An Engine owns the device objects shared by a whole sweep: the command queue, the compiled kernel
// and the key buffer. Per-degree buffers are owned by Lanes, created by Engine.Prepare and released
// by the caller once all trials of the degree are done.
//
// Every wait blocks without timeout, and any failure is returned to the caller: there are no retries.
package dispatch

import (
	"time"

	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/pkg/ksa"
	"github.com/gomlx/ksabench/pkg/layout"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options to create an Engine.
type Options struct {
	// KernelName is the kernel entry point. Default is ksa.KernelName.
	KernelName string

	// OnDevice creates a device-scheduled (in-order) queue. Otherwise the queue is host-scheduled and out-of-order.
	OnDevice bool

	// BlockSize of the key and lane layouts. Default is layout.DefaultBlockSize.
	BlockSize int
}

// Engine dispatches the kernel on one device.
type Engine struct {
	backend   backends.Backend
	deviceNum backends.DeviceNum
	options   Options

	queue  backends.Queue
	kernel backends.Kernel

	keyBuffer backends.Buffer
	keyLen    int32
}

// New creates the command queue and the kernel for the device.
func New(backend backends.Backend, deviceNum backends.DeviceNum, options Options) (*Engine, error) {
	if options.KernelName == "" {
		options.KernelName = ksa.KernelName
	}
	if options.BlockSize == 0 {
		options.BlockSize = layout.DefaultBlockSize
	}
	queueOptions := backends.QueueOptions{Profiling: true, OutOfOrder: !options.OnDevice, OnDevice: options.OnDevice}
	queue, err := backend.NewQueue(deviceNum, queueOptions)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating command queue with properties %s", queueOptions)
	}
	kernel, err := backend.NewKernel(deviceNum, options.KernelName)
	if err != nil {
		_ = queue.Finalize()
		return nil, errors.WithMessagef(err, "creating kernel %q", options.KernelName)
	}
	klog.V(1).Infof("dispatch engine on device #%d: queue %s, kernel %q", deviceNum, queueOptions, options.KernelName)
	return &Engine{
		backend:   backend,
		deviceNum: deviceNum,
		options:   options,
		queue:     queue,
		kernel:    kernel,
	}, nil
}

// Options returns the options the engine was created with, with defaults filled in.
func (e *Engine) Options() Options {
	return e.options
}

// UploadKey copies the key into a read-only device buffer of one block, and waits for the copy to complete.
// The key is shared by every dispatch until the next UploadKey.
func (e *Engine) UploadKey(key []byte) error {
	block, err := layout.Encode([][]byte{key}, e.options.BlockSize)
	if err != nil {
		return errors.WithMessage(err, "encoding key")
	}
	buffer, err := e.backend.NewBuffer(e.deviceNum, backends.MemReadOnly, len(block.Data))
	if err != nil {
		return errors.WithMessage(err, "allocating key buffer")
	}
	event, err := e.queue.EnqueueWriteBuffer(buffer, false, 0, block.Data)
	if err == nil {
		err = event.Wait()
	}
	if err != nil {
		_ = e.backend.BufferFinalize(buffer)
		return errors.WithMessage(err, "uploading key")
	}
	if e.keyBuffer != nil {
		if err := e.backend.BufferFinalize(e.keyBuffer); err != nil {
			klog.Warningf("failed to release previous key buffer: %v", err)
		}
	}
	e.keyBuffer = buffer
	e.keyLen = block.Lengths[0]
	return nil
}

// Lanes holds the device buffers of one degree: encoded lanes, their lengths and the shared output.
type Lanes struct {
	engine   *Engine
	degree   int
	lanes    backends.Buffer
	lengths  backends.Buffer
	output   backends.SharedBuffer
	released bool
}

// Degree returns the number of lanes, the global work size of the dispatches.
func (l *Lanes) Degree() int {
	return l.degree
}

// Prepare allocates the buffers sized exactly for the lanes of the block, uploads the lanes and
// their lengths, and waits for both uploads to complete.
func (e *Engine) Prepare(block layout.Block) (*Lanes, error) {
	if block.BlockSize != e.options.BlockSize {
		return nil, backends.NewError(backends.KindEncoding, "Prepare",
			errors.Errorf("lanes encoded with block size %d, engine uses %d", block.BlockSize, e.options.BlockSize))
	}
	if err := block.Validate(); err != nil {
		return nil, backends.NewError(backends.KindEncoding, "Prepare", err)
	}
	degree := block.Count()
	if degree == 0 {
		return nil, backends.NewError(backends.KindEncoding, "Prepare", errors.New("no lanes to dispatch"))
	}
	l := &Lanes{engine: e, degree: degree}
	var err error
	l.lanes, err = e.backend.NewBuffer(e.deviceNum, backends.MemReadOnly, len(block.Data))
	if err == nil {
		l.lengths, err = e.backend.NewBuffer(e.deviceNum, backends.MemReadOnly, 4*degree)
	}
	if err == nil {
		l.output, err = e.backend.NewSharedBuffer(e.deviceNum, e.options.BlockSize*degree)
	}
	if err != nil {
		_ = l.Release()
		return nil, errors.WithMessagef(err, "allocating buffers for %d lanes", degree)
	}

	lanesEvent, err := e.queue.EnqueueWriteBuffer(l.lanes, false, 0, block.Data)
	if err != nil {
		_ = l.Release()
		return nil, errors.WithMessage(err, "uploading lanes")
	}
	lengthsEvent, err := e.queue.EnqueueWriteBuffer(l.lengths, false, 0, block.LengthBytes())
	if err == nil {
		err = backends.WaitForEvents(lanesEvent, lengthsEvent)
	} else {
		_ = lanesEvent.Wait()
	}
	if err != nil {
		_ = l.Release()
		return nil, errors.WithMessage(err, "uploading lanes and lengths")
	}
	return l, nil
}

// Release the per-degree buffers. It can be called more than once.
func (l *Lanes) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	data := l.engine.backend
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.lanes != nil {
		keep(data.BufferFinalize(l.lanes))
	}
	if l.lengths != nil {
		keep(data.BufferFinalize(l.lengths))
	}
	if l.output != nil {
		keep(data.SharedBufferFinalize(l.output))
	}
	return firstErr
}

// Result of one dispatch.
type Result struct {
	// Degree is the number of lanes dispatched.
	Degree int

	// DeviceStartNs and DeviceEndNs are the device timestamps of the kernel execution.
	DeviceStartNs, DeviceEndNs uint64

	// WallStart and WallEnd bracket the wait for the kernel on the host.
	WallStart, WallEnd time.Time

	// Output is a copy of the output region: one block per lane.
	Output []byte
}

// ElapsedNs is the device execution time of the kernel.
func (r Result) ElapsedNs() uint64 {
	return r.DeviceEndNs - r.DeviceStartNs
}

// Wall is the host observed duration of the dispatch wait.
func (r Result) Wall() time.Duration {
	return r.WallEnd.Sub(r.WallStart)
}

// Throughput in lanes per second, from the device elapsed time.
func (r Result) Throughput() float64 {
	return 1e9 / float64(r.ElapsedNs()) * float64(r.Degree)
}

// LaneOutput returns the output block of the given lane.
func (r Result) LaneOutput(lane, blockSize int) []byte {
	return r.Output[lane*blockSize : (lane+1)*blockSize]
}

// Dispatch runs the kernel once over the lanes and returns its timings and output.
//
// The kernel event wait and the queue finish are bracketed by the wall clock. The output is then made
// visible to the host: for coarse-grained allocations it's mapped, and always unmapped before
// returning, even on failure.
func (e *Engine) Dispatch(l *Lanes) (result Result, err error) {
	if l.released {
		return Result{}, backends.NewError(backends.KindSetup, "Dispatch", errors.Wrap(backends.ErrReleased, "lanes"))
	}
	if e.keyBuffer == nil {
		return Result{}, backends.NewError(backends.KindSetup, "Dispatch", errors.New("key not uploaded, call UploadKey first"))
	}
	degree := int32(l.degree)
	if err = e.kernel.SetArgs(e.keyBuffer, e.keyLen, l.lanes, l.lengths, l.output, degree); err != nil {
		return Result{}, errors.WithMessage(err, "setting kernel arguments")
	}

	result.Degree = l.degree
	result.WallStart = time.Now()
	kernelEvent, err := e.queue.EnqueueNDRangeKernel(e.kernel, l.degree)
	if err != nil {
		return Result{}, errors.WithMessagef(err, "enqueuing kernel with %d lanes", l.degree)
	}
	if err = kernelEvent.Wait(); err != nil {
		return Result{}, errors.WithMessage(err, "waiting for kernel")
	}
	result.WallEnd = time.Now()
	if err = e.queue.Finish(); err != nil {
		return Result{}, errors.WithMessage(err, "finishing queue")
	}

	if !l.output.IsFineGrained() {
		if _, err = e.queue.EnqueueSVMMap(true, backends.MapRead|backends.MapWrite, l.output); err != nil {
			return Result{}, errors.WithMessage(err, "mapping output")
		}
		defer func() {
			unmapEvent, unmapErr := e.queue.EnqueueSVMUnmap(l.output)
			if unmapErr == nil {
				unmapErr = unmapEvent.Wait()
			}
			if unmapErr != nil && err == nil {
				result, err = Result{}, errors.WithMessage(unmapErr, "unmapping output")
			}
		}()
	}

	if result.DeviceStartNs, err = kernelEvent.ProfilingStart(); err != nil {
		return Result{}, backends.NewError(backends.KindDevice, "ProfilingStart", err)
	}
	if result.DeviceEndNs, err = kernelEvent.ProfilingEnd(); err != nil {
		return Result{}, backends.NewError(backends.KindDevice, "ProfilingEnd", err)
	}
	if result.DeviceEndNs <= result.DeviceStartNs {
		return Result{}, backends.NewError(backends.KindConsistency, "Dispatch",
			errors.Wrapf(backends.ErrTimestampOrder, "start=%d, end=%d", result.DeviceStartNs, result.DeviceEndNs))
	}

	host, err := l.output.HostBytes()
	if err != nil {
		return Result{}, backends.NewError(backends.KindDevice, "HostBytes", err)
	}
	result.Output = append([]byte(nil), host...)
	return result, nil
}

// DispatchOnce prepares the lanes, dispatches them once and releases them.
func (e *Engine) DispatchOnce(block layout.Block) (Result, error) {
	l, err := e.Prepare(block)
	if err != nil {
		return Result{}, err
	}
	result, err := e.Dispatch(l)
	if releaseErr := l.Release(); err == nil && releaseErr != nil {
		return Result{}, errors.WithMessage(releaseErr, "releasing lanes")
	}
	return result, err
}

// Close releases the key buffer, the kernel and the queue.
func (e *Engine) Close() error {
	var firstErr error
	if e.keyBuffer != nil {
		firstErr = e.backend.BufferFinalize(e.keyBuffer)
		e.keyBuffer = nil
	}
	if e.kernel != nil {
		if err := e.kernel.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.kernel = nil
	}
	if e.queue != nil {
		if err := e.queue.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.queue = nil
	}
	return firstErr
}
