// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backend, namely the host device, and the kernels
// it knows how to run.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/ksabench/backends/default"
package _default

import (
	_ "github.com/gomlx/ksabench/backends/hostdevice"
	_ "github.com/gomlx/ksabench/pkg/ksa"
)
