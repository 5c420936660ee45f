// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool schedules kernel lanes on a bounded number of goroutines.
//
// The host device uses one Pool per device: its parallelism is the device's number of compute units.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers with a soft limit on the number of goroutines running at the same time.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool with the given maxParallelism.
// See SetMaxParallelism for the meaning of 0 and negative values.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of goroutines running tasks.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return

	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// RunLanes calls lane(i) for every i in [0, numLanes) and returns when all calls returned.
//
// Lanes are split in contiguous chunks, at most one chunk per worker, and lanes within a chunk
// run sequentially. lane must not panic: callers wrap it if the code is untrusted.
func (w *Pool) RunLanes(numLanes int, lane func(i int)) {
	if numLanes <= 0 {
		return
	}
	numWorkers := w.maxParallelism
	if numWorkers <= 0 || numWorkers > numLanes {
		numWorkers = numLanes
	}
	if numWorkers == 1 || w.maxParallelism == 0 {
		for i := range numLanes {
			lane(i)
		}
		return
	}
	lanesPerWorker := (numLanes + numWorkers - 1) / numWorkers
	var wg sync.WaitGroup
	for start := 0; start < numLanes; start += lanesPerWorker {
		end := min(start+lanesPerWorker, numLanes)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				lane(i)
			}
		})
	}
	wg.Wait()
}
