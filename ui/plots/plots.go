// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots draws the results of a sweep.
package plots

import (
	"image/color"
	"slices"

	"github.com/gomlx/ksabench/pkg/support/fsutil"
	"github.com/gomlx/ksabench/pkg/sweep"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Size of the saved plots.
var (
	Width  = 12 * vg.Inch
	Height = 6 * vg.Inch
)

// ThroughputPlot returns a plot of the mean throughput per degree, with the min and max throughputs
// of the trials as dashed lines.
func ThroughputPlot(title string, summaries []sweep.Summary) (*plot.Plot, error) {
	if len(summaries) == 0 {
		return nil, errors.New("no results to plot")
	}
	byDegree := slices.Clone(summaries)
	sweep.SortByDegree(byDegree)
	mean := make(plotter.XYs, len(byDegree))
	low := make(plotter.XYs, len(byDegree))
	high := make(plotter.XYs, len(byDegree))
	for ii, s := range byDegree {
		x := float64(s.Degree)
		mean[ii] = plotter.XY{X: x, Y: s.MeanThroughput}
		low[ii] = plotter.XY{X: x, Y: s.MinThroughput}
		high[ii] = plotter.XY{X: x, Y: s.MaxThroughput}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Parallelism degree (lanes)"
	p.Y.Label.Text = "Throughput (lanes/s)"
	p.Add(plotter.NewGrid())

	meanLine, meanPoints, err := plotter.NewLinePoints(mean)
	if err != nil {
		return nil, errors.Wrap(err, "plotting mean throughput")
	}
	meanLine.Color = color.RGBA{R: 112, G: 80, B: 144, A: 255}
	meanPoints.Color = meanLine.Color
	p.Add(meanLine, meanPoints)
	p.Legend.Add("mean", meanLine, meanPoints)

	for _, bound := range []struct {
		name string
		xys  plotter.XYs
	}{{"min", low}, {"max", high}} {
		line, err := plotter.NewLine(bound.xys)
		if err != nil {
			return nil, errors.Wrapf(err, "plotting %s throughput", bound.name)
		}
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		line.Color = color.Gray{Y: 128}
		p.Add(line)
		p.Legend.Add(bound.name, line)
	}
	p.Legend.Top = true
	return p, nil
}

// SaveThroughputPlot saves the ThroughputPlot of the summaries to path. The image format is given
// by the extension of path, e.g. ".png" or ".svg".
func SaveThroughputPlot(path, title string, summaries []sweep.Summary) error {
	p, err := ThroughputPlot(title, summaries)
	if err != nil {
		return err
	}
	path, err = fsutil.PrepareOutputPath(path)
	if err != nil {
		return err
	}
	if err := p.Save(Width, Height, path); err != nil {
		return errors.Wrapf(err, "saving plot to %q", path)
	}
	klog.V(1).Infof("throughput plot saved to %q", path)
	return nil
}
