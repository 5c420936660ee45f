// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/pkg/sweep"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSummaries() []sweep.Summary {
	return []sweep.Summary{
		sweep.Summarize(2, []sweep.Trial{
			{Degree: 2, Index: 0, ElapsedNs: 200, Wall: time.Microsecond, Throughput: 1e7},
			{Degree: 2, Index: 1, ElapsedNs: 100, Wall: time.Microsecond, Throughput: 2e7},
		}),
		sweep.Summarize(1, []sweep.Trial{
			{Degree: 1, Index: 0, ElapsedNs: 20, Wall: 2 * time.Microsecond, Throughput: 5e7},
		}),
	}
}

func testMetadata() Metadata {
	meta := Metadata{Backend: "host", Device: "Host CPU #0", Queue: "PROFILING|OUT_OF_ORDER", Kernel: "load_team",
		Key: "1234567", Mode: "ramp", Trials: 2, BlockSize: 256}
	meta.SetCapabilities(backends.Capabilities{MaxParallelism: 64, FastMemoryBytes: 65536, Source: backends.QueryMaxWorkGroupSize})
	return meta
}

func TestNew(t *testing.T) {
	r := New(testMetadata(), testSummaries(), false)
	assert.Len(t, r.RunID, 36)
	assert.Equal(t, "MaxWorkGroupSize", r.ParallelismSource)
	require.Len(t, r.Degrees, 2)
	assert.Equal(t, 2, r.Degrees[0].Degree)
	assert.InDelta(t, 1.5e7, r.Degrees[0].MeanThroughput, 1e-6)
	assert.Nil(t, r.Trials)
	assert.Len(t, r.rows, 3)
	assert.NotEqual(t, r.RunID, New(testMetadata(), testSummaries(), false).RunID)
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		r := New(testMetadata(), testSummaries(), true)
		var buf bytes.Buffer
		require.NoError(t, r.Write(&buf, format))
		got, err := Read(&buf, format)
		require.NoError(t, err)
		assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
		got.CreatedAt = r.CreatedAt
		if diff := cmp.Diff(r, got, cmp.AllowUnexported(Report{})); diff != "" {
			t.Errorf("format %d round trip mismatch (-want +got):\n%s", format, diff)
		}
	}
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trials.csv")
	r := New(testMetadata(), testSummaries(), false)
	require.NoError(t, r.Export(path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	require.NoError(t, df.Err)
	assert.Equal(t, []string{"degree", "trial", "elapsed_ns", "wall_ns", "throughput"}, df.Names())
	assert.Equal(t, 3, df.Nrow())
	assert.Equal(t, 100, df.Elem(1, 2).Val())
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{"a.json": FormatJSON, "b.YAML": FormatYAML, "c.yml": FormatYAML, "d.csv": FormatCSV} {
		got, err := FormatFromPath(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatFromPath("report.txt")
	require.Error(t, err)
	require.Error(t, New(testMetadata(), testSummaries(), false).Export(filepath.Join(t.TempDir(), "x.txt")))
}
