// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostdevice

import (
	"testing"

	"github.com/gomlx/ksabench/backends"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Writes lane+offset to byte #lane of the output.
	RegisterKernel(KernelDef{Name: "test_iota", NumArgs: 2, Lane: func(lane int, args Args) error {
		out, err := args.Bytes(0)
		if err != nil {
			return err
		}
		offset, err := args.Int32(1)
		if err != nil {
			return err
		}
		out[lane] = byte(lane + int(offset))
		return nil
	}})
	RegisterKernel(KernelDef{Name: "test_panic", NumArgs: 0, Lane: func(lane int, args Args) error {
		if lane == 3 {
			panic(errors.New("lane 3 exploded"))
		}
		return nil
	}})
}

func newTestBackend(t *testing.T, config string) *Backend {
	t.Helper()
	b, err := NewWithConfig(config)
	require.NoError(t, err)
	t.Cleanup(b.Finalize)
	return b
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("devices=2, units=3,vendor=0,max_work_group=128,local_mem=1024,fine_grained=false,profiling=false,name=Fake")
	require.NoError(t, err)
	assert.Equal(t, Config{
		NumDevices:        2,
		ComputeUnits:      3,
		VendorParallelism: 0,
		MaxWorkGroupSize:  128,
		LocalMemBytes:     1024,
		FineGrained:       false,
		Profiling:         false,
		DeviceName:        "Fake",
	}, cfg)

	_, err = ParseConfig("units=0")
	require.Error(t, err)
	_, err = ParseConfig("colour=blue")
	require.ErrorContains(t, err, "unknown configuration option")
	_, err = ParseConfig("fine_grained")
	require.Error(t, err)

	cfg, err = ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestRegisteredBackend(t *testing.T) {
	backend, err := backends.NewWithConfig("host:devices=3,units=2")
	require.NoError(t, err)
	defer backend.Finalize()
	assert.Equal(t, BackendName, backend.Name())
	assert.Equal(t, backends.DeviceNum(3), backend.NumDevices())
	infos, err := backends.ListDevices(backend)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "Host CPU #2", infos[2].Name)

	_, err = backend.DeviceInfo(3)
	require.Error(t, err)
	assert.True(t, backends.IsKind(err, backends.KindSetup))
}

func TestQueryAndProbe(t *testing.T) {
	b := newTestBackend(t, "units=4,vendor=64,max_work_group=256,local_mem=4096")
	caps, err := backends.Probe(b, 0)
	require.NoError(t, err)
	assert.Equal(t, 64, caps.MaxParallelism)
	assert.Equal(t, backends.QueryVendorMaxParallelism, caps.Source)
	assert.Equal(t, int64(4096), caps.FastMemoryBytes)
	assert.Equal(t, backends.Supported(4), b.Query(0, backends.QueryComputeUnits))

	// Vendor query unsupported: falls back to the portable work-group size.
	b = newTestBackend(t, "vendor=0,max_work_group=256")
	caps, err = backends.Probe(b, 0)
	require.NoError(t, err)
	assert.Equal(t, 256, caps.MaxParallelism)
	assert.Equal(t, backends.QueryMaxWorkGroupSize, caps.Source)

	// No query supported.
	b = newTestBackend(t, "vendor=0,max_work_group=0")
	_, err = backends.Probe(b, 0)
	require.ErrorIs(t, err, backends.ErrCapabilityUnavailable)
	assert.True(t, backends.IsKind(err, backends.KindCapability))
}

func TestBufferTransfers(t *testing.T) {
	for _, outOfOrder := range []bool{false, true} {
		b := newTestBackend(t, "units=2")
		queue, err := b.NewQueue(0, backends.QueueOptions{Profiling: true, OutOfOrder: outOfOrder})
		require.NoError(t, err)

		buf, err := b.NewBuffer(0, backends.MemReadWrite, 16)
		require.NoError(t, err)
		assert.Equal(t, 16, buf.Size())
		writeEvent, err := queue.EnqueueWriteBuffer(buf, false, 4, []byte{1, 2, 3})
		require.NoError(t, err)
		dst := make([]byte, 8)
		readEvent, err := queue.EnqueueReadBuffer(buf, false, 0, dst, writeEvent)
		require.NoError(t, err)
		require.NoError(t, backends.WaitForEvents(writeEvent, readEvent))
		assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 0}, dst)

		start, err := readEvent.ProfilingStart()
		require.NoError(t, err)
		end, err := readEvent.ProfilingEnd()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, end, start)

		_, err = queue.EnqueueWriteBuffer(buf, true, 15, []byte{1, 2})
		require.Error(t, err)
		require.NoError(t, queue.Finalize())
		require.NoError(t, b.BufferFinalize(buf))

		_, err = queue.EnqueueReadBuffer(buf, true, 0, dst)
		require.Error(t, err)
	}
}

func TestKernelDispatch(t *testing.T) {
	for _, fineGrained := range []bool{true, false} {
		b := newTestBackend(t, "units=3")
		b.config.FineGrained = fineGrained
		queue, err := b.NewQueue(0, backends.QueueOptions{Profiling: true, OnDevice: true})
		require.NoError(t, err)
		out, err := b.NewSharedBuffer(0, 10)
		require.NoError(t, err)
		assert.Equal(t, fineGrained, out.IsFineGrained())

		kernel, err := b.NewKernel(0, "test_iota")
		require.NoError(t, err)
		require.Error(t, kernel.SetArgs(out))
		require.NoError(t, kernel.SetArgs(out, int32(10)))
		kernelEvent, err := queue.EnqueueNDRangeKernel(kernel, 7)
		require.NoError(t, err)
		require.NoError(t, kernelEvent.Wait())

		if !fineGrained {
			_, err = out.HostBytes()
			require.ErrorIs(t, err, backends.ErrNotMapped)
		}
		_, err = queue.EnqueueSVMMap(true, backends.MapRead, out)
		require.NoError(t, err)
		host, err := out.HostBytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{10, 11, 12, 13, 14, 15, 16, 0, 0, 0}, []byte(host))
		unmapEvent, err := queue.EnqueueSVMUnmap(out)
		require.NoError(t, err)
		require.NoError(t, unmapEvent.Wait())
		require.NoError(t, queue.Finish())

		require.NoError(t, kernel.Finalize())
		require.NoError(t, queue.Finalize())
		require.NoError(t, b.SharedBufferFinalize(out))
	}
}

func TestCoarseGrainedWriteBack(t *testing.T) {
	b := newTestBackend(t, "fine_grained=false")
	queue, err := b.NewQueue(0, backends.QueueOptions{})
	require.NoError(t, err)
	defer func() { _ = queue.Finalize() }()
	shared, err := b.NewSharedBuffer(0, 4)
	require.NoError(t, err)

	_, err = queue.EnqueueSVMMap(true, backends.MapWrite, shared)
	require.NoError(t, err)
	host, err := shared.HostBytes()
	require.NoError(t, err)
	copy(host, []byte{9, 8, 7, 6})
	require.Error(t, b.SharedBufferFinalize(shared), "finalizing a mapped buffer must fail")
	unmapEvent, err := queue.EnqueueSVMUnmap(shared)
	require.NoError(t, err)
	require.NoError(t, unmapEvent.Wait())

	device, err := shared.(*SharedBuffer).deviceBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, device)

	// Unmapping twice fails on the device side.
	unmapEvent, err = queue.EnqueueSVMUnmap(shared)
	require.NoError(t, err)
	err = unmapEvent.Wait()
	require.ErrorIs(t, err, backends.ErrNotMapped)
	assert.True(t, backends.IsKind(err, backends.KindDevice))
	require.Error(t, queue.Finish())
}

func TestKernelFailures(t *testing.T) {
	b := newTestBackend(t, "units=2")
	_, err := b.NewKernel(0, "does_not_exist")
	require.Error(t, err)
	assert.True(t, backends.IsKind(err, backends.KindSetup))

	queue, err := b.NewQueue(0, backends.QueueOptions{})
	require.NoError(t, err)
	kernel, err := b.NewKernel(0, "test_panic")
	require.NoError(t, err)
	require.NoError(t, kernel.SetArgs())
	event, err := queue.EnqueueNDRangeKernel(kernel, 8)
	require.NoError(t, err)
	err = event.Wait()
	require.ErrorContains(t, err, "lane 3 exploded")
	assert.True(t, backends.IsKind(err, backends.KindDevice))

	// Commands depending on a failed event fail too.
	buf, err := b.NewBuffer(0, backends.MemReadOnly, 4)
	require.NoError(t, err)
	dependent, err := queue.EnqueueWriteBuffer(buf, false, 0, []byte{1}, event)
	require.NoError(t, err)
	require.Error(t, dependent.Wait())
}

func TestProfilingUnavailable(t *testing.T) {
	b := newTestBackend(t, "profiling=false")
	_, err := b.NewQueue(0, backends.QueueOptions{Profiling: true})
	require.ErrorIs(t, err, backends.ErrProfilingUnavailable)

	queue, err := b.NewQueue(0, backends.QueueOptions{})
	require.NoError(t, err)
	buf, err := b.NewBuffer(0, backends.MemReadWrite, 4)
	require.NoError(t, err)
	event, err := queue.EnqueueWriteBuffer(buf, true, 0, []byte{1})
	require.NoError(t, err)
	_, err = event.ProfilingStart()
	require.ErrorIs(t, err, backends.ErrProfilingUnavailable)
}
