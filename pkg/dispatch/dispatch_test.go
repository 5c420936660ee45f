// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"testing"

	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/backends/hostdevice"
	"github.com/gomlx/ksabench/pkg/ksa"
	"github.com/gomlx/ksabench/pkg/layout"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, backend backends.Backend, onDevice bool) *Engine {
	t.Helper()
	engine, err := New(backend, 0, Options{OnDevice: onDevice})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.UploadKey([]byte("1234567")))
	return engine
}

func TestDispatchEndToEnd(t *testing.T) {
	for _, fineGrained := range []bool{true, false} {
		for _, onDevice := range []bool{false, true} {
			t.Run(fmt.Sprintf("fine_grained=%v,on_device=%v", fineGrained, onDevice), func(t *testing.T) {
				backend, err := hostdevice.NewWithConfig(fmt.Sprintf("units=2,fine_grained=%v", fineGrained))
				require.NoError(t, err)
				defer backend.Finalize()
				engine := newEngine(t, backend, onDevice)

				block, err := layout.EncodeStrings([]string{"1", "2", "3"}, layout.DefaultBlockSize)
				require.NoError(t, err)
				require.Len(t, block.Data, 768)

				lanes, err := engine.Prepare(block)
				require.NoError(t, err)
				assert.Equal(t, 3, lanes.Degree())
				for range 3 {
					result, err := engine.Dispatch(lanes)
					require.NoError(t, err)
					assert.Equal(t, 3, result.Degree)
					assert.Greater(t, result.DeviceEndNs, result.DeviceStartNs)
					assert.Greater(t, result.ElapsedNs(), uint64(0))
					assert.Greater(t, result.Throughput(), 0.0)
					assert.False(t, result.WallEnd.Before(result.WallStart))
					require.Len(t, result.Output, 768)
					for lane, id := range []string{"1", "2", "3"} {
						want := ksa.Reference([]byte("1234567"), []byte(id))
						assert.Equal(t, want[:], result.LaneOutput(lane, layout.DefaultBlockSize))
					}
				}
				require.NoError(t, lanes.Release())
				require.NoError(t, lanes.Release())
				_, err = engine.Dispatch(lanes)
				require.ErrorIs(t, err, backends.ErrReleased)
			})
		}
	}
}

func TestDispatchOnceDegreeChange(t *testing.T) {
	backend, err := hostdevice.NewWithConfig("")
	require.NoError(t, err)
	defer backend.Finalize()
	engine := newEngine(t, backend, false)
	for _, degree := range []int{1, 5, 2} {
		ids := make([]string, degree)
		for i := range ids {
			ids[i] = fmt.Sprint(i + 1)
		}
		block, err := layout.EncodeStrings(ids, layout.DefaultBlockSize)
		require.NoError(t, err)
		result, err := engine.DispatchOnce(block)
		require.NoError(t, err)
		assert.Len(t, result.Output, degree*layout.DefaultBlockSize)
	}
}

func TestPrepareErrors(t *testing.T) {
	backend, err := hostdevice.NewWithConfig("")
	require.NoError(t, err)
	defer backend.Finalize()
	engine := newEngine(t, backend, false)

	_, err = engine.Prepare(layout.Block{BlockSize: layout.DefaultBlockSize})
	require.Error(t, err)
	assert.True(t, backends.IsKind(err, backends.KindEncoding))

	block, err := layout.EncodeStrings([]string{"1"}, 16)
	require.NoError(t, err)
	_, err = engine.Prepare(block)
	require.ErrorContains(t, err, "block size 16")

	err = engine.UploadKey(make([]byte, layout.DefaultBlockSize+1))
	require.ErrorIs(t, err, layout.ErrRecordTooLarge)
}

func TestNewErrors(t *testing.T) {
	backend, err := hostdevice.NewWithConfig("profiling=false")
	require.NoError(t, err)
	defer backend.Finalize()
	_, err = New(backend, 0, Options{})
	require.ErrorIs(t, err, backends.ErrProfilingUnavailable)
	require.ErrorContains(t, err, "PROFILING|OUT_OF_ORDER")

	backend, err = hostdevice.NewWithConfig("")
	require.NoError(t, err)
	defer backend.Finalize()
	_, err = New(backend, 0, Options{KernelName: "missing"})
	require.Error(t, err)
	assert.True(t, backends.IsKind(err, backends.KindSetup))

	engine, err := New(backend, 0, Options{})
	require.NoError(t, err)
	defer func() { _ = engine.Close() }()
	block, err := layout.EncodeStrings([]string{"1"}, layout.DefaultBlockSize)
	require.NoError(t, err)
	_, err = engine.DispatchOnce(block)
	require.ErrorContains(t, err, "UploadKey")
}

// faultyBackend wraps the host device to inject device misbehavior, and counts maps and unmaps.
type faultyBackend struct {
	*hostdevice.Backend
	swapTimestamps bool
	failUnmap      bool
	maps, unmaps   int
}

func (f *faultyBackend) NewQueue(deviceNum backends.DeviceNum, options backends.QueueOptions) (backends.Queue, error) {
	q, err := f.Backend.NewQueue(deviceNum, options)
	if err != nil {
		return nil, err
	}
	return &faultyQueue{Queue: q, owner: f}, nil
}

type faultyQueue struct {
	backends.Queue
	owner *faultyBackend
}

func (q *faultyQueue) EnqueueNDRangeKernel(kernel backends.Kernel, globalWorkSize int, waitList ...backends.Event) (backends.Event, error) {
	event, err := q.Queue.EnqueueNDRangeKernel(kernel, globalWorkSize, waitList...)
	if err != nil || !q.owner.swapTimestamps {
		return event, err
	}
	return swappedEvent{event}, nil
}

func (q *faultyQueue) EnqueueSVMMap(blocking bool, flags backends.MapFlags, buffer backends.SharedBuffer, waitList ...backends.Event) (backends.Event, error) {
	q.owner.maps++
	return q.Queue.EnqueueSVMMap(blocking, flags, buffer, waitList...)
}

func (q *faultyQueue) EnqueueSVMUnmap(buffer backends.SharedBuffer, waitList ...backends.Event) (backends.Event, error) {
	q.owner.unmaps++
	if q.owner.failUnmap {
		// Still unmap, so the buffer can be released.
		if event, err := q.Queue.EnqueueSVMUnmap(buffer, waitList...); err == nil {
			_ = event.Wait()
		}
		return nil, backends.NewError(backends.KindDevice, "EnqueueSVMUnmap", errors.New("injected unmap failure"))
	}
	return q.Queue.EnqueueSVMUnmap(buffer, waitList...)
}

// swappedEvent reports the end timestamp as start and vice versa.
type swappedEvent struct {
	backends.Event
}

func (e swappedEvent) ProfilingStart() (uint64, error) { return e.Event.ProfilingEnd() }
func (e swappedEvent) ProfilingEnd() (uint64, error)   { return e.Event.ProfilingStart() }

func TestTimestampOrder(t *testing.T) {
	host, err := hostdevice.NewWithConfig("fine_grained=false")
	require.NoError(t, err)
	defer host.Finalize()
	backend := &faultyBackend{Backend: host, swapTimestamps: true}
	engine := newEngine(t, backend, false)

	block, err := layout.EncodeStrings([]string{"1", "2"}, layout.DefaultBlockSize)
	require.NoError(t, err)
	lanes, err := engine.Prepare(block)
	require.NoError(t, err)
	_, err = engine.Dispatch(lanes)
	require.ErrorIs(t, err, backends.ErrTimestampOrder)
	assert.True(t, backends.IsKind(err, backends.KindConsistency))
	assert.Equal(t, 1, backend.maps)
	assert.Equal(t, backend.maps, backend.unmaps, "every map must be matched by an unmap")
	require.NoError(t, lanes.Release())
}

func TestUnmapFailure(t *testing.T) {
	host, err := hostdevice.NewWithConfig("fine_grained=false")
	require.NoError(t, err)
	defer host.Finalize()
	backend := &faultyBackend{Backend: host, failUnmap: true}
	engine := newEngine(t, backend, true)

	block, err := layout.EncodeStrings([]string{"1"}, layout.DefaultBlockSize)
	require.NoError(t, err)
	result, err := engine.DispatchOnce(block)
	require.ErrorContains(t, err, "injected unmap failure")
	assert.Nil(t, result.Output)
	assert.Equal(t, 1, backend.unmaps)
}

func TestFineGrainedSkipsMapping(t *testing.T) {
	host, err := hostdevice.NewWithConfig("fine_grained=true")
	require.NoError(t, err)
	defer host.Finalize()
	backend := &faultyBackend{Backend: host}
	engine := newEngine(t, backend, false)
	block, err := layout.EncodeStrings([]string{"7"}, layout.DefaultBlockSize)
	require.NoError(t, err)
	_, err = engine.DispatchOnce(block)
	require.NoError(t, err)
	assert.Zero(t, backend.maps)
	assert.Zero(t, backend.unmaps)
}
