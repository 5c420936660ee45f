// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	dir, err := ReplaceTildeInDir("~/results")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "results"), dir)

	dir, err = ReplaceTildeInDir("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", dir)
}

func TestPrepareOutputPath(t *testing.T) {
	base := t.TempDir()
	path, err := PrepareOutputPath(filepath.Join(base, "a", "b", "report.json"))
	require.NoError(t, err)
	exists, err := FileExists(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
}
