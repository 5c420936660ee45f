// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains the console reports and tools of ksabench.
package commandline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/pkg/sweep"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	// TitleStyle is used for the titles of the report sections.
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// NewPlainTable returns a table with alternating row colors and the first column right aligned.
func NewPlainTable(headers ...string) *lgtable.Table {
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == lgtable.HeaderRow {
				return headerRowStyle
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
	if len(headers) > 0 {
		t = t.Headers(headers...)
	}
	return t
}

// FormatThroughput pretty prints a throughput in lanes per second, e.g. "1.23 M/s".
func FormatThroughput(lanesPerSecond float64) string {
	value, prefix := humanize.ComputeSI(lanesPerSecond)
	return fmt.Sprintf("%.2f %s/s", value, prefix)
}

// ReportDevice prints the device and the probed capabilities.
func ReportDevice(w io.Writer, backend backends.Backend, info backends.DeviceInfo, caps backends.Capabilities) {
	table := NewPlainTable()
	table.Row("backend", backend.Description())
	table.Row("device", fmt.Sprintf("#%d %s (%s)", info.Num, info.Name, info.Vendor))
	table.Row("max parallelism", fmt.Sprintf("%s (from %s)", humanize.Comma(int64(caps.MaxParallelism)), caps.Source))
	if caps.FastMemoryBytes > 0 {
		table.Row("local memory", humanize.IBytes(uint64(caps.FastMemoryBytes)))
	}
	if caps.GlobalMemoryBytes > 0 {
		table.Row("global memory", humanize.IBytes(uint64(caps.GlobalMemoryBytes)))
	}
	_, _ = fmt.Fprintln(w, table.Render())
}

// ReportSummaries prints one row per degree, in the order given: Run returns them by ascending mean throughput.
func ReportSummaries(w io.Writer, summaries []sweep.Summary) {
	_, _ = fmt.Fprintln(w, TitleStyle.Render("Results (sorted by mean throughput)"))
	table := NewPlainTable("Degree", "Mean", "Median", "StdDev", "Min", "Max", "Mean device time", "Mean wall time")
	for _, s := range summaries {
		table.Row(
			humanize.Comma(int64(s.Degree)),
			FormatThroughput(s.MeanThroughput),
			FormatThroughput(s.MedianThroughput),
			FormatThroughput(s.StdDevThroughput),
			FormatThroughput(s.MinThroughput),
			FormatThroughput(s.MaxThroughput),
			FormatDuration(time.Duration(s.MeanElapsedNs)),
			FormatDuration(s.MeanWall),
		)
	}
	_, _ = fmt.Fprintln(w, table.Render())
}

// ReportTrials prints the device and wall time of every trial of the summary.
func ReportTrials(w io.Writer, s sweep.Summary) {
	_, _ = fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Trials of degree %d", s.Degree)))
	table := NewPlainTable("Trial", "Device time", "Wall time", "Throughput")
	for _, trial := range s.Trials {
		table.Row(
			humanize.Comma(int64(trial.Index)),
			FormatDuration(time.Duration(trial.ElapsedNs)),
			FormatDuration(trial.Wall),
			FormatThroughput(trial.Throughput),
		)
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
