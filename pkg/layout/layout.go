// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layout encodes variable length records into the fixed-stride block layout read by kernels.
//
// Each record occupies one slot of BlockSize bytes: its bytes left-justified, the rest of the slot
// zero. The true length of each record is carried out-of-band in Block.Lengths, so kernels never
// mistake padding for data.
package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/gomlx/ksabench/backends"
	"github.com/pkg/errors"
)

// DefaultBlockSize is the slot size used by the benchmark kernels.
const DefaultBlockSize = 256

// Block is a set of records encoded in fixed-size slots.
type Block struct {
	// Data holds BlockSize bytes per record, len(Data) == BlockSize*len(Lengths).
	Data []byte

	// Lengths holds the unpadded length of each record.
	Lengths []int32

	// BlockSize is the stride of the slots.
	BlockSize int
}

// ErrRecordTooLarge is wrapped by the EncodingError of a record that doesn't fit its slot.
var ErrRecordTooLarge = errors.New("record larger than block size")

// EncodingError reports a record that can't be encoded.
type EncodingError struct {
	Index     int
	Length    int
	BlockSize int
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("record #%d has %d bytes, larger than block size %d: %v", e.Index, e.Length, e.BlockSize, ErrRecordTooLarge)
}

// Unwrap returns ErrRecordTooLarge.
func (e *EncodingError) Unwrap() error {
	return ErrRecordTooLarge
}

// Count returns the number of records in the block.
func (b Block) Count() int {
	return len(b.Lengths)
}

// Slot returns the padded slot of record i. It shares memory with b.Data.
func (b Block) Slot(i int) []byte {
	start := i * b.BlockSize
	return b.Data[start : start+b.BlockSize]
}

// Record returns the unpadded bytes of record i. It shares memory with b.Data.
func (b Block) Record(i int) []byte {
	return b.Slot(i)[:b.Lengths[i]]
}

// LengthBytes returns the length array as little-endian int32 values, the form uploaded to devices.
func (b Block) LengthBytes() []byte {
	buf := make([]byte, 0, 4*len(b.Lengths))
	for _, length := range b.Lengths {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(length))
	}
	return buf
}

// Validate checks the geometry of the block and that padding is zero.
func (b Block) Validate() error {
	if b.BlockSize <= 0 {
		return errors.Errorf("invalid block size %d", b.BlockSize)
	}
	if len(b.Data) != b.BlockSize*len(b.Lengths) {
		return errors.Errorf("block data has %d bytes, expected %d slots of %d bytes",
			len(b.Data), len(b.Lengths), b.BlockSize)
	}
	for i, length := range b.Lengths {
		if length < 0 || int(length) > b.BlockSize {
			return errors.Errorf("record #%d has invalid length %d for block size %d", i, length, b.BlockSize)
		}
		for _, v := range b.Slot(i)[length:] {
			if v != 0 {
				return errors.Errorf("record #%d has non-zero padding", i)
			}
		}
	}
	return nil
}

// Encode packs records into a Block with slots of blockSize bytes.
//
// It fails with an *EncodingError, before allocating anything, if any record is longer than blockSize:
// records are never truncated.
func Encode(records [][]byte, blockSize int) (Block, error) {
	if blockSize <= 0 {
		return Block{}, backends.NewError(backends.KindEncoding, "Encode", errors.Errorf("invalid block size %d", blockSize))
	}
	for i, record := range records {
		if len(record) > blockSize {
			return Block{}, backends.NewError(backends.KindEncoding, "Encode",
				&EncodingError{Index: i, Length: len(record), BlockSize: blockSize})
		}
	}
	b := Block{
		Data:      make([]byte, blockSize*len(records)),
		Lengths:   make([]int32, len(records)),
		BlockSize: blockSize,
	}
	for i, record := range records {
		copy(b.Data[i*blockSize:], record)
		b.Lengths[i] = int32(len(record))
	}
	return b, nil
}

// EncodeStrings is like Encode, for string records.
func EncodeStrings(records []string, blockSize int) (Block, error) {
	raw := make([][]byte, len(records))
	for i, record := range records {
		raw[i] = []byte(record)
	}
	return Encode(raw, blockSize)
}

// Decode returns copies of the records in the block, without padding.
func Decode(b Block) ([][]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, backends.NewError(backends.KindEncoding, "Decode", err)
	}
	records := make([][]byte, b.Count())
	for i := range records {
		records[i] = append([]byte{}, b.Record(i)...)
	}
	return records, nil
}
