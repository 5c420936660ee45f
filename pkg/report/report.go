// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report exports the results of a sweep to JSON, YAML or CSV files.
package report

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/pkg/support/fsutil"
	"github.com/gomlx/ksabench/pkg/sweep"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Metadata describes the run: where and how it was benchmarked.
type Metadata struct {
	Backend   string `json:"backend" yaml:"backend"`
	Device    string `json:"device" yaml:"device"`
	Queue     string `json:"queue" yaml:"queue"`
	Kernel    string `json:"kernel" yaml:"kernel"`
	Key       string `json:"key" yaml:"key"`
	Mode      string `json:"mode" yaml:"mode"`
	Trials    int    `json:"trials_per_degree" yaml:"trials_per_degree"`
	BlockSize int    `json:"block_size" yaml:"block_size"`

	MaxParallelism    int    `json:"max_parallelism" yaml:"max_parallelism"`
	ParallelismSource string `json:"parallelism_source" yaml:"parallelism_source"`
	FastMemoryBytes   int64  `json:"fast_memory_bytes" yaml:"fast_memory_bytes"`
	GlobalMemoryBytes int64  `json:"global_memory_bytes" yaml:"global_memory_bytes"`
}

// SetCapabilities fills the capability fields from a probe.
func (m *Metadata) SetCapabilities(caps backends.Capabilities) {
	m.MaxParallelism = caps.MaxParallelism
	m.ParallelismSource = caps.Source.String()
	m.FastMemoryBytes = caps.FastMemoryBytes
	m.GlobalMemoryBytes = caps.GlobalMemoryBytes
}

// Degree is the exported summary of one degree.
type Degree struct {
	Degree           int     `json:"degree" yaml:"degree"`
	MeanThroughput   float64 `json:"mean_throughput" yaml:"mean_throughput"`
	StdDevThroughput float64 `json:"stddev_throughput" yaml:"stddev_throughput"`
	MinThroughput    float64 `json:"min_throughput" yaml:"min_throughput"`
	MaxThroughput    float64 `json:"max_throughput" yaml:"max_throughput"`
	MedianThroughput float64 `json:"median_throughput" yaml:"median_throughput"`
	MeanElapsedNs    float64 `json:"mean_elapsed_ns" yaml:"mean_elapsed_ns"`
	MeanWallNs       int64   `json:"mean_wall_ns" yaml:"mean_wall_ns"`
}

// TrialRow is one trial, the unit of the CSV export.
type TrialRow struct {
	Degree     int     `json:"degree" yaml:"degree" dataframe:"degree"`
	Trial      int     `json:"trial" yaml:"trial" dataframe:"trial"`
	ElapsedNs  int     `json:"elapsed_ns" yaml:"elapsed_ns" dataframe:"elapsed_ns"`
	WallNs     int     `json:"wall_ns" yaml:"wall_ns" dataframe:"wall_ns"`
	Throughput float64 `json:"throughput" yaml:"throughput" dataframe:"throughput"`
}

// Report of a sweep.
type Report struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Metadata  `yaml:",inline"`

	// Degrees in the order of the sweep results: ascending mean throughput.
	Degrees []Degree `json:"degrees" yaml:"degrees"`

	// Trials is only filled (and exported to JSON and YAML) if requested, see New.
	Trials []TrialRow `json:"trials,omitempty" yaml:"trials,omitempty"`

	rows []TrialRow
}

// New creates the report of the summaries, with a new run id.
// If includeTrials is true, every trial is included in the JSON and YAML exports. The CSV export
// always has every trial.
func New(meta Metadata, summaries []sweep.Summary, includeTrials bool) *Report {
	r := &Report{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now(),
		Metadata:  meta,
		Degrees:   make([]Degree, 0, len(summaries)),
	}
	for _, s := range summaries {
		r.Degrees = append(r.Degrees, Degree{
			Degree:           s.Degree,
			MeanThroughput:   s.MeanThroughput,
			StdDevThroughput: s.StdDevThroughput,
			MinThroughput:    s.MinThroughput,
			MaxThroughput:    s.MaxThroughput,
			MedianThroughput: s.MedianThroughput,
			MeanElapsedNs:    s.MeanElapsedNs,
			MeanWallNs:       int64(s.MeanWall),
		})
		for _, trial := range s.Trials {
			r.rows = append(r.rows, TrialRow{
				Degree:     trial.Degree,
				Trial:      trial.Index,
				ElapsedNs:  int(trial.ElapsedNs),
				WallNs:     int(trial.Wall),
				Throughput: trial.Throughput,
			})
		}
	}
	if includeTrials {
		r.Trials = r.rows
	}
	return r
}

// Format of an export file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatCSV
)

// FormatFromPath returns the format for the extension of path: ".json", ".yaml", ".yml" or ".csv".
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	}
	return 0, errors.Errorf("unknown report format for %q, use one of .json, .yaml, .yml or .csv", path)
}

// Write the report in the given format.
func (r *Report) Write(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(r), "encoding report to JSON")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "encoding report to YAML")
		}
		return errors.Wrap(enc.Close(), "encoding report to YAML")
	case FormatCSV:
		return r.writeCSV(w)
	}
	return errors.Errorf("unknown report format %d", format)
}

// writeCSV writes one row per trial.
func (r *Report) writeCSV(w io.Writer) error {
	if len(r.rows) == 0 {
		return errors.New("report has no trials to write as CSV")
	}
	df := dataframe.LoadStructs(r.rows)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building trials table")
	}
	return errors.Wrap(df.WriteCSV(w), "writing trials CSV")
}

// Export writes the report to path, in the format given by its extension.
// "~" in path is expanded and missing directories are created.
func (r *Report) Export(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	path, err = fsutil.PrepareOutputPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating report file %q", path)
	}
	if err = r.Write(f, format); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "exporting report to %q", path)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing report file %q", path)
	}
	klog.V(1).Infof("report %s exported to %q", r.RunID, path)
	return nil
}

// Read parses a report previously written in JSON or YAML format.
func Read(rd io.Reader, format Format) (*Report, error) {
	r := &Report{}
	var err error
	switch format {
	case FormatJSON:
		err = json.NewDecoder(rd).Decode(r)
	case FormatYAML:
		err = yaml.NewDecoder(rd).Decode(r)
	default:
		return nil, errors.Errorf("can't read reports in format %d", format)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decoding report")
	}
	r.rows = r.Trials
	return r, nil
}
