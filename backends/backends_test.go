// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers queries from a map, everything else is unimplemented.
type fakeBackend struct {
	Backend
	config  string
	answers map[Query]int64
	queried []Query
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Query(_ DeviceNum, query Query) QueryResult {
	f.queried = append(f.queried, query)
	if v, found := f.answers[query]; found {
		return Supported(v)
	}
	return Unsupported()
}

func init() {
	Register("fake", func(config string) (Backend, error) {
		if config == "fail" {
			return nil, errors.New("fake failure")
		}
		return &fakeBackend{config: config}, nil
	})
}

func TestNewWithConfig(t *testing.T) {
	b, err := NewWithConfig("fake:x=1")
	require.NoError(t, err)
	assert.Equal(t, "x=1", b.(*fakeBackend).config)

	b, err = NewWithConfig("fake")
	require.NoError(t, err)
	assert.Equal(t, "", b.(*fakeBackend).config)

	_, err = NewWithConfig("unknown:")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSetup))

	_, err = NewWithConfig("fake:fail")
	require.ErrorContains(t, err, "fake failure")

	t.Setenv(ConfigEnvVar, "fake:from_env")
	b, err = New()
	require.NoError(t, err)
	assert.Equal(t, "from_env", b.(*fakeBackend).config)
	assert.Contains(t, List(), "fake")
}

func TestProbe(t *testing.T) {
	// Vendor query wins when supported.
	fake := &fakeBackend{answers: map[Query]int64{
		QueryVendorMaxParallelism: 1024, QueryMaxWorkGroupSize: 256, QueryLocalMemSize: 65536}}
	caps, err := Probe(fake, 0)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{MaxParallelism: 1024, FastMemoryBytes: 65536, Source: QueryVendorMaxParallelism}, caps)

	// Fallback to the portable query.
	fake = &fakeBackend{answers: map[Query]int64{QueryMaxWorkGroupSize: 256}}
	caps, err = Probe(fake, 0)
	require.NoError(t, err)
	assert.Equal(t, 256, caps.MaxParallelism)
	assert.Equal(t, QueryMaxWorkGroupSize, caps.Source)
	assert.Equal(t, []Query{QueryVendorMaxParallelism, QueryMaxWorkGroupSize, QueryLocalMemSize, QueryGlobalMemSize},
		fake.queried)

	// Neither.
	fake = &fakeBackend{answers: map[Query]int64{QueryLocalMemSize: 65536}}
	_, err = Probe(fake, 0)
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
	assert.True(t, IsKind(err, KindCapability))
	assert.False(t, IsKind(err, KindDevice))
}

// fakeEvent completes immediately with err.
type fakeEvent struct {
	Event
	err   error
	calls int
}

func (e *fakeEvent) Wait() error {
	e.calls++
	return e.err
}

func TestWaitForEvents(t *testing.T) {
	ok1, ok2 := &fakeEvent{}, &fakeEvent{}
	require.NoError(t, WaitForEvents(ok1, nil, ok2))
	assert.Equal(t, 1, ok1.calls)

	failing := &fakeEvent{err: NewError(KindDevice, "EnqueueReadBuffer", errors.New("boom"))}
	after := &fakeEvent{}
	err := WaitForEvents(failing, after)
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, after.calls, "all events must be waited for")
}

func TestErrorFormat(t *testing.T) {
	err := NewError(KindConsistency, "Dispatch", ErrTimestampOrder)
	assert.Equal(t, "consistency error in Dispatch: device end timestamp is not after start timestamp", err.Error())
	assert.ErrorIs(t, err, ErrTimestampOrder)
	assert.Contains(t, fmt.Sprintf("%+v", err), "consistency error in Dispatch")
	assert.Equal(t, "ErrorKind(42)", ErrorKind(42).String())
	assert.Equal(t, "PROFILING|OUT_OF_ORDER", QueueOptions{Profiling: true, OutOfOrder: true}.String())
	assert.Equal(t, "IN_ORDER", QueueOptions{}.String())
}
