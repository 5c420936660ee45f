// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sweep

import (
	"cmp"
	"slices"
	"time"

	"github.com/gomlx/ksabench/pkg/support/xslices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the trials of one degree.
type Summary struct {
	Degree int
	Trials []Trial

	// MeanThroughput is the arithmetic mean of the per-trial throughputs, in lanes per second.
	// Notice it is not the throughput of the mean elapsed time.
	MeanThroughput float64

	StdDevThroughput float64
	MinThroughput    float64
	MaxThroughput    float64
	MedianThroughput float64

	MeanElapsedNs float64
	MeanWall      time.Duration
}

// Summarize aggregates the trials of a degree. trials must not be empty.
func Summarize(degree int, trials []Trial) Summary {
	throughputs := xslices.Map(trials, func(t Trial) float64 { return t.Throughput })
	elapsed := xslices.Map(trials, func(t Trial) float64 { return float64(t.ElapsedNs) })
	walls := xslices.Map(trials, func(t Trial) float64 { return float64(t.Wall) })

	s := Summary{
		Degree:         degree,
		Trials:         trials,
		MeanThroughput: stat.Mean(throughputs, nil),
		MinThroughput:  floats.Min(throughputs),
		MaxThroughput:  floats.Max(throughputs),
		MeanElapsedNs:  stat.Mean(elapsed, nil),
		MeanWall:       time.Duration(stat.Mean(walls, nil)),
	}
	if len(trials) > 1 {
		s.StdDevThroughput = stat.StdDev(throughputs, nil)
	}
	sorted := slices.Clone(throughputs)
	slices.Sort(sorted)
	s.MedianThroughput = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}

// SortByThroughput sorts the summaries by ascending mean throughput, the order returned by Run.
// Ties keep their relative order.
func SortByThroughput(summaries []Summary) {
	slices.SortStableFunc(summaries, func(a, b Summary) int {
		return cmp.Compare(a.MeanThroughput, b.MeanThroughput)
	})
}

// SortByDegree sorts the summaries by ascending degree.
func SortByDegree(summaries []Summary) {
	slices.SortStableFunc(summaries, func(a, b Summary) int {
		return cmp.Compare(a.Degree, b.Degree)
	})
}

// Best returns the summary with the highest mean throughput. It returns false if summaries is empty.
func Best(summaries []Summary) (Summary, bool) {
	if len(summaries) == 0 {
		return Summary{}, false
	}
	return slices.MaxFunc(summaries, func(a, b Summary) int {
		return cmp.Compare(a.MeanThroughput, b.MeanThroughput)
	}), true
}
