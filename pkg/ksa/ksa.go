// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ksa implements the keyed permutation benchmarked by ksabench: the RC4 key-scheduling
// algorithm, seeded per lane with the team key followed by the lane identifier.
//
// Reference is the host version, used to verify device outputs. Importing the package also
// registers the "load_team" kernel with the host device.
package ksa

import (
	"encoding/binary"

	"github.com/gomlx/ksabench/backends/hostdevice"
	"github.com/pkg/errors"
)

// StateSize is the size of the permutation state, and of the output of each lane.
const StateSize = 256

// KernelName is the entry point of the benchmark kernel.
const KernelName = "load_team"

// Seed returns the key schedule seed of a lane: key || lane.
func Seed(key, lane []byte) []byte {
	seed := make([]byte, 0, len(key)+len(lane))
	seed = append(seed, key...)
	return append(seed, lane...)
}

// Schedule runs the key schedule over the identity permutation, seeded with seed, and writes
// the resulting permutation to state. An empty seed leaves the identity permutation.
func Schedule(state *[StateSize]byte, seed []byte) {
	for i := range state {
		state[i] = byte(i)
	}
	if len(seed) == 0 {
		return
	}
	var j byte
	for i := range StateSize {
		j += state[i] + seed[i%len(seed)]
		state[i], state[j] = state[j], state[i]
	}
}

// Reference returns the permutation the kernel computes for the lane.
func Reference(key, lane []byte) [StateSize]byte {
	var state [StateSize]byte
	Schedule(&state, Seed(key, lane))
	return state
}

// Argument positions of the kernel.
const (
	ArgKey = iota
	ArgKeyLen
	ArgLanes
	ArgLaneLengths
	ArgOutput
	ArgLaneCount
	NumArgs
)

func init() {
	hostdevice.RegisterKernel(hostdevice.KernelDef{Name: KernelName, NumArgs: NumArgs, Lane: loadTeamLane})
}

// loadTeamLane is the host device implementation of the kernel, for one lane.
func loadTeamLane(lane int, args hostdevice.Args) error {
	key, err := args.Bytes(ArgKey)
	if err != nil {
		return err
	}
	keyLen, err := args.Int32(ArgKeyLen)
	if err != nil {
		return err
	}
	lanes, err := args.Bytes(ArgLanes)
	if err != nil {
		return err
	}
	lengths, err := args.Bytes(ArgLaneLengths)
	if err != nil {
		return err
	}
	output, err := args.Bytes(ArgOutput)
	if err != nil {
		return err
	}
	count, err := args.Int32(ArgLaneCount)
	if err != nil {
		return err
	}
	if lane >= int(count) {
		return nil
	}
	if count <= 0 || len(lengths) < 4*int(count) || len(lanes)%int(count) != 0 || len(output)%int(count) != 0 {
		return errors.Errorf("inconsistent buffers for %d lanes: %d lane bytes, %d length bytes, %d output bytes",
			count, len(lanes), len(lengths), len(output))
	}
	if keyLen < 0 || int(keyLen) > len(key) {
		return errors.Errorf("key length %d out of range of key buffer with %d bytes", keyLen, len(key))
	}
	blockSize := len(lanes) / int(count)
	outSize := len(output) / int(count)
	if outSize < StateSize {
		return errors.Errorf("output slot of %d bytes can't hold the %d bytes state", outSize, StateSize)
	}
	laneLen := int(int32(binary.LittleEndian.Uint32(lengths[4*lane:])))
	if laneLen < 0 || laneLen > blockSize {
		return errors.Errorf("lane length %d out of range of block size %d", laneLen, blockSize)
	}
	laneStart := lane * blockSize
	state := Reference(key[:keyLen], lanes[laneStart:laneStart+laneLen])
	slot := output[lane*outSize : (lane+1)*outSize]
	n := copy(slot, state[:])
	clear(slot[n:])
	return nil
}
