// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sweep runs the benchmark over a range of parallelism degrees and aggregates the trials.
//
// For each degree it builds the lane records, encodes them, prepares the device buffers once and
// dispatches the kernel Config.Trials times. Any error aborts the whole sweep.
package sweep

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/gomlx/ksabench/backends"
	"github.com/gomlx/ksabench/pkg/dispatch"
	"github.com/gomlx/ksabench/pkg/ksa"
	"github.com/gomlx/ksabench/pkg/layout"
	"github.com/gomlx/ksabench/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

// Mode selects how lane records are generated.
type Mode int

const (
	// ModeRamp uses the lane numbers "1".."W" as lane records.
	ModeRamp Mode = iota

	// ModeFixed uses Config.Placeholder for every lane, or the lane numbers if it is empty.
	ModeFixed
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeFixed {
		return "fixed"
	}
	return "ramp"
}

// Config of a sweep.
type Config struct {
	// Degrees to benchmark, in order. See Ramp and Fixed.
	Degrees []int

	// Trials is the number of dispatches per degree.
	Trials int

	Mode        Mode
	Placeholder string

	// Key shared by all lanes. It's only used here for verification: the Dispatcher holds the uploaded key.
	Key []byte

	// BlockSize of the lane layout. Default is layout.DefaultBlockSize.
	BlockSize int

	// Verify checks the output of the first trial of each degree against ksa.Reference.
	Verify bool

	// OnTrial and OnDegree, if set, are called after each trial and each degree respectively.
	OnTrial  func(Trial)
	OnDegree func(Summary)
}

// Ramp returns the degrees 1..maxDegree.
func Ramp(maxDegree int) []int {
	return xslices.Iota(1, maxDegree)
}

// Fixed returns a single degree.
func Fixed(degree int) []int {
	return []int{degree}
}

// ErrParityMismatch is returned when a lane output differs from the host reference.
var ErrParityMismatch = errors.New("kernel output doesn't match the host reference")

// Prepared are the device resources of one degree.
type Prepared interface {
	Release() error
}

// Dispatcher is what Run needs from the device. dispatch.Engine implements it through FromEngine.
type Dispatcher interface {
	Prepare(block layout.Block) (Prepared, error)
	Dispatch(prepared Prepared) (dispatch.Result, error)
}

// FromEngine adapts a dispatch.Engine to a Dispatcher.
func FromEngine(engine *dispatch.Engine) Dispatcher {
	return engineDispatcher{engine}
}

type engineDispatcher struct {
	engine *dispatch.Engine
}

func (d engineDispatcher) Prepare(block layout.Block) (Prepared, error) {
	return d.engine.Prepare(block)
}

func (d engineDispatcher) Dispatch(prepared Prepared) (dispatch.Result, error) {
	lanes, ok := prepared.(*dispatch.Lanes)
	if !ok {
		return dispatch.Result{}, errors.Errorf("prepared lanes of type %T were not created by a dispatch.Engine", prepared)
	}
	return d.engine.Dispatch(lanes)
}

// Trial is the outcome of one dispatch.
type Trial struct {
	Degree     int
	Index      int
	ElapsedNs  uint64
	Wall       time.Duration
	Throughput float64
}

// NewTrial derives the trial from a dispatch result.
func NewTrial(index int, result dispatch.Result) Trial {
	return Trial{
		Degree:     result.Degree,
		Index:      index,
		ElapsedNs:  result.ElapsedNs(),
		Wall:       result.Wall(),
		Throughput: result.Throughput(),
	}
}

// LaneIDs returns the lane records of a degree for the mode.
func LaneIDs(mode Mode, degree int, placeholder string) []string {
	if mode == ModeFixed && placeholder != "" {
		return lo.Times(degree, func(int) string { return placeholder })
	}
	return lo.Map(lo.RangeFrom(1, degree), func(lane int, _ int) string { return strconv.Itoa(lane) })
}

func (cfg *Config) validate() error {
	if cfg.Trials <= 0 {
		return errors.Errorf("number of trials must be > 0, got %d", cfg.Trials)
	}
	if len(cfg.Degrees) == 0 {
		return errors.New("no degrees to benchmark")
	}
	for _, degree := range cfg.Degrees {
		if degree <= 0 {
			return errors.Errorf("invalid degree %d, it must be > 0", degree)
		}
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = layout.DefaultBlockSize
	}
	return nil
}

// Run benchmarks each degree of cfg.Degrees and returns the summaries sorted by ascending mean throughput.
//
// ctx is checked between trials: a cancelled sweep returns ctx.Err(). Any other failure also aborts
// the sweep, and no partial summaries are returned.
func Run(ctx context.Context, d Dispatcher, cfg Config) ([]Summary, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(cfg.Degrees))
	for _, degree := range cfg.Degrees {
		summary, err := runDegree(ctx, d, &cfg, degree)
		if err != nil {
			return nil, errors.WithMessagef(err, "benchmarking degree %d", degree)
		}
		klog.V(1).Infof("degree %d: mean throughput %.2f lanes/s over %d trials", degree, summary.MeanThroughput, cfg.Trials)
		if cfg.OnDegree != nil {
			cfg.OnDegree(summary)
		}
		summaries = append(summaries, summary)
	}
	SortByThroughput(summaries)
	return summaries, nil
}

// runDegree prepares the lanes of one degree, runs all trials and releases the lanes.
func runDegree(ctx context.Context, d Dispatcher, cfg *Config, degree int) (summary Summary, err error) {
	ids := LaneIDs(cfg.Mode, degree, cfg.Placeholder)
	block, err := layout.EncodeStrings(ids, cfg.BlockSize)
	if err != nil {
		return Summary{}, err
	}
	prepared, err := d.Prepare(block)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if releaseErr := prepared.Release(); releaseErr != nil && err == nil {
			summary, err = Summary{}, errors.WithMessage(releaseErr, "releasing lanes")
		}
	}()

	trials := make([]Trial, 0, cfg.Trials)
	for ii := range cfg.Trials {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		result, err := d.Dispatch(prepared)
		if err != nil {
			return Summary{}, errors.WithMessagef(err, "trial #%d", ii)
		}
		if result.ElapsedNs() == 0 || result.DeviceEndNs < result.DeviceStartNs {
			return Summary{}, backends.NewError(backends.KindConsistency, "Run",
				errors.Wrapf(backends.ErrTimestampOrder, "trial #%d: start=%d, end=%d", ii, result.DeviceStartNs, result.DeviceEndNs))
		}
		if ii == 0 && cfg.Verify {
			if err := verify(cfg, block, ids, result); err != nil {
				return Summary{}, err
			}
		}
		trial := NewTrial(ii, result)
		klog.V(2).Infof("degree %d trial #%d: device %d ns, wall %s, %.2f lanes/s",
			degree, ii, trial.ElapsedNs, trial.Wall, trial.Throughput)
		if cfg.OnTrial != nil {
			cfg.OnTrial(trial)
		}
		trials = append(trials, trial)
	}
	return Summarize(degree, trials), nil
}

// verify compares the output of every lane with the host reference.
func verify(cfg *Config, block layout.Block, ids []string, result dispatch.Result) error {
	if len(result.Output) != block.BlockSize*len(ids) {
		return backends.NewError(backends.KindConsistency, "Verify",
			errors.Wrapf(ErrParityMismatch, "output has %d bytes, expected %d", len(result.Output), block.BlockSize*len(ids)))
	}
	for lane, id := range ids {
		want := ksa.Reference(cfg.Key, []byte(id))
		got := result.LaneOutput(lane, block.BlockSize)
		if len(got) < ksa.StateSize || !bytes.Equal(got[:ksa.StateSize], want[:]) {
			return backends.NewError(backends.KindConsistency, "Verify",
				errors.Wrapf(ErrParityMismatch, "lane #%d (%q)", lane, id))
		}
	}
	return nil
}
