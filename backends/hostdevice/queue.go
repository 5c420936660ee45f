// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostdevice

import (
	"sync"

	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/internal/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// inOrderQueueDepth is the number of commands an in-order queue accepts before Enqueue blocks.
const inOrderQueueDepth = 64

// Queue implements backends.Queue for the host device.
//
// In-order queues run their commands one at a time, in submission order, on a dedicated goroutine.
// Out-of-order queues start a goroutine per command, which only waits for the command's wait list.
type Queue struct {
	device  *device
	options backends.QueueOptions
	inOrder bool

	// commands feeds the in-order worker. It's nil for out-of-order queues.
	commands chan *command
	inFlight *xsync.DynamicWaitGroup

	// mu protects released and the closing of commands.
	mu       sync.RWMutex
	released bool

	muErr    sync.Mutex
	firstErr error
}

var _ backends.Queue = &Queue{}

// command is one submitted operation with the event tracking it.
type command struct {
	op       string
	waitList []backends.Event
	exec     func() error
	event    *Event
}

// NewQueue implements backends.Backend.
func (b *Backend) NewQueue(deviceNum backends.DeviceNum, options backends.QueueOptions) (backends.Queue, error) {
	d, err := b.device("NewQueue", deviceNum)
	if err != nil {
		return nil, err
	}
	if options.Profiling && !d.config.Profiling {
		return nil, backends.NewError(backends.KindSetup, "NewQueue",
			errors.Wrapf(backends.ErrProfilingUnavailable, "device #%d of backend %q", deviceNum, BackendName))
	}
	q := &Queue{
		device:   d,
		options:  options,
		inOrder:  options.OnDevice || !options.OutOfOrder,
		inFlight: xsync.NewDynamicWaitGroup(),
	}
	if q.inOrder {
		q.commands = make(chan *command, inOrderQueueDepth)
		go q.inOrderWorker()
	}
	klog.V(2).Infof("device #%d: new queue %s", deviceNum, options)
	return q, nil
}

// Options returns the options the queue was created with.
func (q *Queue) Options() backends.QueueOptions {
	return q.options
}

func (q *Queue) inOrderWorker() {
	for cmd := range q.commands {
		q.execute(cmd)
	}
}

// submit queues the command, and waits for it to complete if blocking.
func (q *Queue) submit(cmd *command, blocking bool) (backends.Event, error) {
	cmd.event = newEvent(q.options.Profiling)
	q.mu.RLock()
	if q.released {
		q.mu.RUnlock()
		return nil, backends.NewError(backends.KindDevice, cmd.op, errors.Wrap(backends.ErrReleased, "queue"))
	}
	q.inFlight.Add(1)
	if q.inOrder {
		q.commands <- cmd
	} else {
		go q.execute(cmd)
	}
	q.mu.RUnlock()

	if blocking {
		if err := cmd.event.Wait(); err != nil {
			return nil, err
		}
	}
	return cmd.event, nil
}

// execute waits for the wait list and runs the command, completing its event.
func (q *Queue) execute(cmd *command) {
	defer q.inFlight.Done()
	var err error
	for ii, dep := range cmd.waitList {
		if dep == nil {
			continue
		}
		if depErr := dep.Wait(); depErr != nil {
			err = errors.WithMessagef(depErr, "event #%d of the wait list failed", ii)
			break
		}
	}
	if err == nil {
		cmd.event.start = deviceClock()
		err = cmd.exec()
		cmd.event.end = deviceClock()
	}
	if err != nil {
		if !backends.IsKind(err, backends.KindDevice) {
			err = backends.NewError(backends.KindDevice, cmd.op, err)
		}
		q.muErr.Lock()
		if q.firstErr == nil {
			q.firstErr = err
		}
		q.muErr.Unlock()
	}
	cmd.event.latch.Trigger(err)
}

func checkRange(op string, size, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > size {
		return backends.NewError(backends.KindDevice, op,
			errors.Errorf("range [%d, %d) out of bounds of buffer with %d bytes", offset, offset+length, size))
	}
	return nil
}

// EnqueueWriteBuffer implements backends.Queue.
// The data is captured when the command runs: the caller must not modify it until the event completes.
func (q *Queue) EnqueueWriteBuffer(buffer backends.Buffer, blocking bool, offset int, data []byte, waitList ...backends.Event) (backends.Event, error) {
	const op = "EnqueueWriteBuffer"
	buf, err := q.ownBuffer(op, buffer)
	if err != nil {
		return nil, err
	}
	if err := checkRange(op, buf.Size(), offset, len(data)); err != nil {
		return nil, err
	}
	return q.submit(&command{op: op, waitList: waitList, exec: func() error {
		mem, err := buf.bytes()
		if err != nil {
			return err
		}
		copy(mem[offset:], data)
		return nil
	}}, blocking)
}

// EnqueueReadBuffer implements backends.Queue.
func (q *Queue) EnqueueReadBuffer(buffer backends.Buffer, blocking bool, offset int, dst []byte, waitList ...backends.Event) (backends.Event, error) {
	const op = "EnqueueReadBuffer"
	buf, err := q.ownBuffer(op, buffer)
	if err != nil {
		return nil, err
	}
	if err := checkRange(op, buf.Size(), offset, len(dst)); err != nil {
		return nil, err
	}
	return q.submit(&command{op: op, waitList: waitList, exec: func() error {
		mem, err := buf.bytes()
		if err != nil {
			return err
		}
		copy(dst, mem[offset:])
		return nil
	}}, blocking)
}

// EnqueueNDRangeKernel implements backends.Queue.
func (q *Queue) EnqueueNDRangeKernel(kernel backends.Kernel, globalWorkSize int, waitList ...backends.Event) (backends.Event, error) {
	const op = "EnqueueNDRangeKernel"
	k, ok := kernel.(*Kernel)
	if !ok || k.device != q.device {
		return nil, backends.NewError(backends.KindDevice, op,
			errors.Errorf("kernel %q doesn't belong to device #%d", kernel.Name(), q.device.num))
	}
	if globalWorkSize <= 0 {
		return nil, backends.NewError(backends.KindDevice, op, errors.Errorf("invalid global work size %d", globalWorkSize))
	}
	args, err := k.snapshotArgs()
	if err != nil {
		return nil, backends.NewError(backends.KindDevice, op, err)
	}
	return q.submit(&command{op: op, waitList: waitList, exec: func() error {
		return k.run(args, globalWorkSize)
	}}, false)
}

// EnqueueSVMMap implements backends.Queue.
func (q *Queue) EnqueueSVMMap(blocking bool, flags backends.MapFlags, buffer backends.SharedBuffer, waitList ...backends.Event) (backends.Event, error) {
	const op = "EnqueueSVMMap"
	shared, err := q.ownSharedBuffer(op, buffer)
	if err != nil {
		return nil, err
	}
	return q.submit(&command{op: op, waitList: waitList, exec: func() error {
		return shared.mapToHost(flags)
	}}, blocking)
}

// EnqueueSVMUnmap implements backends.Queue.
func (q *Queue) EnqueueSVMUnmap(buffer backends.SharedBuffer, waitList ...backends.Event) (backends.Event, error) {
	const op = "EnqueueSVMUnmap"
	shared, err := q.ownSharedBuffer(op, buffer)
	if err != nil {
		return nil, err
	}
	return q.submit(&command{op: op, waitList: waitList, exec: shared.unmapFromHost}, false)
}

func (q *Queue) ownBuffer(op string, buffer backends.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok || buf.device != q.device {
		return nil, backends.NewError(backends.KindDevice, op,
			errors.Errorf("buffer doesn't belong to device #%d of backend %q", q.device.num, BackendName))
	}
	return buf, nil
}

func (q *Queue) ownSharedBuffer(op string, buffer backends.SharedBuffer) (*SharedBuffer, error) {
	shared, ok := buffer.(*SharedBuffer)
	if !ok || shared.device != q.device {
		return nil, backends.NewError(backends.KindDevice, op,
			errors.Errorf("shared buffer doesn't belong to device #%d of backend %q", q.device.num, BackendName))
	}
	return shared, nil
}

// Finish implements backends.Queue.
// It returns the first error of any command submitted so far.
func (q *Queue) Finish() error {
	q.inFlight.Wait()
	q.muErr.Lock()
	defer q.muErr.Unlock()
	return q.firstErr
}

// Finalize implements backends.Queue.
func (q *Queue) Finalize() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return nil
	}
	q.released = true
	if q.commands != nil {
		close(q.commands)
	}
	q.mu.Unlock()
	return q.Finish()
}

// Event implements backends.Event for commands of the host device.
type Event struct {
	latch      *xsync.LatchWithValue[error]
	profiling  bool
	start, end uint64
}

var _ backends.Event = &Event{}

func newEvent(profiling bool) *Event {
	return &Event{latch: xsync.NewLatchWithValue[error](), profiling: profiling}
}

// Wait implements backends.Event.
func (e *Event) Wait() error {
	return e.latch.Wait()
}

// IsComplete implements backends.Event.
func (e *Event) IsComplete() bool {
	return e.latch.Test()
}

// ProfilingStart implements backends.Event.
func (e *Event) ProfilingStart() (uint64, error) {
	if err := e.checkProfiling(); err != nil {
		return 0, err
	}
	return e.start, nil
}

// ProfilingEnd implements backends.Event.
func (e *Event) ProfilingEnd() (uint64, error) {
	if err := e.checkProfiling(); err != nil {
		return 0, err
	}
	return e.end, nil
}

func (e *Event) checkProfiling() error {
	if !e.profiling {
		return errors.Wrap(backends.ErrProfilingUnavailable, "queue created without profiling")
	}
	if !e.latch.Test() {
		return errors.Wrap(backends.ErrProfilingUnavailable, "command not complete")
	}
	return nil
}
