// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layout

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gomlx/ksabench/backends"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLanes(t *testing.T) {
	b, err := EncodeStrings([]string{"1", "2", "3"}, DefaultBlockSize)
	require.NoError(t, err)
	require.Len(t, b.Data, 768)
	assert.Equal(t, []int32{1, 1, 1}, b.Lengths)
	assert.Equal(t, byte('1'), b.Data[0])
	assert.Equal(t, make([]byte, 255), b.Data[1:256])
	assert.Equal(t, byte('2'), b.Data[256])
	assert.Equal(t, byte('3'), b.Data[512])
	assert.Equal(t, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}, b.LengthBytes())
	require.NoError(t, b.Validate())
}

func TestRoundTrip(t *testing.T) {
	records := [][]byte{
		[]byte("1234567"),
		{},
		bytes.Repeat([]byte{0xFF}, 16),
		[]byte("lane\x00with\x00zeros"),
		[]byte("x"),
	}
	b, err := Encode(records, 16)
	require.NoError(t, err)
	for i := range records {
		// Padding is zero.
		assert.Equal(t, make([]byte, 16-len(records[i])), b.Slot(i)[len(records[i]):])
	}
	decoded, err := Decode(b)
	require.NoError(t, err)
	if diff := cmp.Diff(records, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Empty sequence.
	b, err = Encode(nil, DefaultBlockSize)
	require.NoError(t, err)
	assert.Empty(t, b.Data)
	assert.Equal(t, 0, b.Count())
}

func TestRecordTooLarge(t *testing.T) {
	records := [][]byte{[]byte("ok"), bytes.Repeat([]byte("a"), DefaultBlockSize+1)}
	b, err := Encode(records, DefaultBlockSize)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.True(t, backends.IsKind(err, backends.KindEncoding))
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, EncodingError{Index: 1, Length: 257, BlockSize: 256}, *encErr)
	assert.Nil(t, b.Data, "no partial allocation")

	// Exactly block size is fine.
	_, err = Encode([][]byte{bytes.Repeat([]byte("a"), DefaultBlockSize)}, DefaultBlockSize)
	require.NoError(t, err)

	_, err = Encode(records, 0)
	require.Error(t, err)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(Block{Data: make([]byte, 10), Lengths: []int32{1}, BlockSize: 8})
	require.Error(t, err)
	_, err = Decode(Block{Data: []byte{1, 2, 0, 0}, Lengths: []int32{1}, BlockSize: 4})
	require.ErrorContains(t, err, "non-zero padding")
	_, err = Decode(Block{Data: make([]byte, 4), Lengths: []int32{5}, BlockSize: 4})
	require.Error(t, err)
	assert.True(t, backends.IsKind(err, backends.KindEncoding))
}
