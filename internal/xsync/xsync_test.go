// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchWithValue(t *testing.T) {
	l := NewLatchWithValue[error]()
	require.False(t, l.Test())
	want := errors.New("first")
	go l.Trigger(want)
	require.Equal(t, want, l.Wait())
	l.Trigger(errors.New("second"))
	assert.Equal(t, want, l.Wait(), "only the first trigger counts")
	assert.True(t, l.Test())
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Add(2)
	done := NewLatch()
	go func() {
		wg.Wait()
		done.Trigger()
	}()
	wg.Done()
	wg.Add(1) // Added while someone is waiting.
	wg.Done()
	select {
	case <-done.WaitChan():
		t.Fatal("Wait returned with pending count")
	case <-time.After(10 * time.Millisecond):
	}
	require.EqualValues(t, 1, wg.Count())
	wg.Done()
	select {
	case <-done.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("Wait didn't return after count reached zero")
	}
	assert.Panics(t, func() { wg.Done() })
}
