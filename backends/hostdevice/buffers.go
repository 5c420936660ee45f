// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostdevice

import (
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/ksabench/backends"
	"github.com/pkg/errors"
)

// Buffer is device memory of the host device, backed by an anonymous memory mapping.
type Buffer struct {
	device *device
	flags  backends.MemFlags

	mu       sync.Mutex
	mem      mmap.MMap
	released bool
}

// Compile-time check that the buffers implement the backends interfaces.
var (
	_ backends.Buffer       = &Buffer{}
	_ backends.SharedBuffer = &SharedBuffer{}
)

// allocate maps size bytes of zeroed anonymous memory.
func allocate(op string, size int) (mmap.MMap, error) {
	if size <= 0 {
		return nil, backends.NewError(backends.KindSetup, op, errors.Errorf("invalid buffer size %d, it must be > 0", size))
	}
	mem, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, backends.NewError(backends.KindSetup, op, errors.Wrapf(err, "mapping %d bytes", size))
	}
	return mem, nil
}

// Size in bytes.
func (buf *Buffer) Size() int {
	return len(buf.mem)
}

// bytes returns the device memory, or ErrReleased.
func (buf *Buffer) bytes() ([]byte, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.released {
		return nil, backends.ErrReleased
	}
	return buf.mem, nil
}

// NewBuffer implements backends.DataInterface.
func (b *Backend) NewBuffer(deviceNum backends.DeviceNum, flags backends.MemFlags, size int) (backends.Buffer, error) {
	d, err := b.device("NewBuffer", deviceNum)
	if err != nil {
		return nil, err
	}
	mem, err := allocate("NewBuffer", size)
	if err != nil {
		return nil, err
	}
	return &Buffer{device: d, flags: flags, mem: mem}, nil
}

// BufferFinalize implements backends.DataInterface.
func (b *Backend) BufferFinalize(buffer backends.Buffer) error {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return backends.NewError(backends.KindSetup, "BufferFinalize",
			errors.Errorf("buffer of type %T doesn't belong to backend %q", buffer, BackendName))
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.released {
		return nil
	}
	buf.released = true
	if err := buf.mem.Unmap(); err != nil {
		return backends.NewError(backends.KindSetup, "BufferFinalize", errors.Wrap(err, "unmapping buffer"))
	}
	return nil
}

// SharedBuffer is memory shared between the host and the host device.
//
// Fine-grained allocations have a single region used by both sides.
// Coarse-grained allocations have a separate host region, synchronized with the device region
// when mapped (device to host) and when unmapped (host to device).
type SharedBuffer struct {
	device      *device
	fineGrained bool

	mu       sync.Mutex
	mem      mmap.MMap
	host     mmap.MMap
	mapped   bool
	mapFlags backends.MapFlags
	released bool
}

// NewSharedBuffer implements backends.DataInterface.
func (b *Backend) NewSharedBuffer(deviceNum backends.DeviceNum, size int) (backends.SharedBuffer, error) {
	d, err := b.device("NewSharedBuffer", deviceNum)
	if err != nil {
		return nil, err
	}
	mem, err := allocate("NewSharedBuffer", size)
	if err != nil {
		return nil, err
	}
	shared := &SharedBuffer{device: d, fineGrained: d.config.FineGrained, mem: mem}
	if !shared.fineGrained {
		shared.host, err = allocate("NewSharedBuffer", size)
		if err != nil {
			_ = mem.Unmap()
			return nil, err
		}
	}
	return shared, nil
}

// SharedBufferFinalize implements backends.DataInterface.
func (b *Backend) SharedBufferFinalize(buffer backends.SharedBuffer) error {
	shared, ok := buffer.(*SharedBuffer)
	if !ok {
		return backends.NewError(backends.KindSetup, "SharedBufferFinalize",
			errors.Errorf("shared buffer of type %T doesn't belong to backend %q", buffer, BackendName))
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.released {
		return nil
	}
	if shared.mapped {
		return backends.NewError(backends.KindSetup, "SharedBufferFinalize",
			errors.New("shared buffer is still mapped for host access"))
	}
	shared.released = true
	err := shared.mem.Unmap()
	if shared.host != nil {
		if hostErr := shared.host.Unmap(); err == nil {
			err = hostErr
		}
	}
	if err != nil {
		return backends.NewError(backends.KindSetup, "SharedBufferFinalize", errors.Wrap(err, "unmapping shared buffer"))
	}
	return nil
}

// Size in bytes.
func (shared *SharedBuffer) Size() int {
	return len(shared.mem)
}

// IsFineGrained implements backends.SharedBuffer.
func (shared *SharedBuffer) IsFineGrained() bool {
	return shared.fineGrained
}

// HostBytes implements backends.SharedBuffer.
func (shared *SharedBuffer) HostBytes() ([]byte, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.released {
		return nil, backends.ErrReleased
	}
	if shared.fineGrained {
		return shared.mem, nil
	}
	if !shared.mapped {
		return nil, backends.ErrNotMapped
	}
	return shared.host, nil
}

// deviceBytes returns the region kernels read and write.
func (shared *SharedBuffer) deviceBytes() ([]byte, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.released {
		return nil, backends.ErrReleased
	}
	return shared.mem, nil
}

// mapToHost makes the device contents visible to the host.
func (shared *SharedBuffer) mapToHost(flags backends.MapFlags) error {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.released {
		return backends.ErrReleased
	}
	if shared.fineGrained {
		return nil
	}
	if shared.mapped {
		return errors.New("shared buffer is already mapped")
	}
	if flags&backends.MapRead != 0 {
		copy(shared.host, shared.mem)
	}
	shared.mapped = true
	shared.mapFlags = flags
	return nil
}

// unmapFromHost returns the allocation to the device, publishing host writes if it was mapped for writing.
func (shared *SharedBuffer) unmapFromHost() error {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.released {
		return backends.ErrReleased
	}
	if shared.fineGrained {
		return nil
	}
	if !shared.mapped {
		return backends.ErrNotMapped
	}
	if shared.mapFlags&backends.MapWrite != 0 {
		copy(shared.mem, shared.host)
	}
	shared.mapped = false
	return nil
}
