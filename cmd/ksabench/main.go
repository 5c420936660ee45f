// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ksabench sweeps the parallelism degree of the keyed permutation kernel on a compute device,
// and reports the throughput of each degree.
//
// Example:
//
//	ksabench -trials=100 -max_degree=64 -out=~/ksabench/results.yaml -plot=~/ksabench/throughput.png
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/gomlx/ksabench/backends"
	_ "github.com/gomlx/ksabench/backends/default"
	"github.com/gomlx/ksabench/pkg/dispatch"
	"github.com/gomlx/ksabench/pkg/report"
	"github.com/gomlx/ksabench/pkg/support/fsutil"
	"github.com/gomlx/ksabench/pkg/support/xslices"
	"github.com/gomlx/ksabench/pkg/sweep"
	"github.com/gomlx/ksabench/ui/commandline"
	"github.com/gomlx/ksabench/ui/plots"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration formatted as \"<name>:<config>\". Defaults to $%s, or the host device.",
			backends.ConfigEnvVar))
	flagDevice   = flag.Int("device", -1, "Device to benchmark. If not set and there is more than one device, it is asked interactively.")
	flagOnDevice = flag.Bool("d", false, "Use a device-scheduled in-order queue, instead of a host-scheduled out-of-order one.")

	flagKey         = flag.String("key", "1234567", "Team key shared by all lanes.")
	flagTrials      = flag.Int("trials", 1000, "Number of dispatches per degree.")
	flagMaxDegree   = flag.Int("max_degree", 0, "Largest degree of the sweep. If 0, the probed parallelism bound of the device is used.")
	flagDegrees     = xslices.Flag("degrees", nil, "Comma separated list of degrees to benchmark, instead of 1..max_degree.", xslices.ParseInt)
	flagFixed       = flag.Int("fixed", 0, "If > 0, benchmark only this degree, with -placeholder as lane records.")
	flagPlaceholder = flag.String("placeholder", "", "Lane record used by every lane in -fixed mode. If empty, lanes are numbered.")

	flagVerify        = flag.Bool("verify", false, "Verify the kernel output of the first trial of each degree against the host reference.")
	flagVerboseTrials = flag.Bool("verbose_trials", false, "Report device and wall time of every trial.")
	flagOut           = flag.String("out", "", "If set, export the results to this file: .json, .yaml or .csv (one row per trial).")
	flagPlot          = flag.String("plot", "", "If set, save a plot of throughput per degree to this file (e.g. .png or .svg).")
	flagNoProgress    = flag.Bool("no_progress", false, "Disable the progress bar.")
	flagLockDir       = flag.String("lock_dir", os.TempDir(), "Directory of the lock files preventing two benchmarks on the same device.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx); err != nil {
		klog.Errorf("%+v", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if *flagTrials <= 0 {
		return errors.Errorf("-trials must be > 0, got %d", *flagTrials)
	}
	var backend backends.Backend
	var err error
	if *flagBackend != "" {
		backend, err = backends.NewWithConfig(*flagBackend)
	} else {
		backend, err = backends.New()
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()

	deviceNum, err := selectDevice(backend)
	if err != nil {
		return err
	}
	info, err := backend.DeviceInfo(deviceNum)
	if err != nil {
		return err
	}

	lockPath := filepath.Join(must.M1(fsutil.ReplaceTildeInDir(*flagLockDir)),
		fmt.Sprintf("ksabench-%s-%d.lock", backend.Name(), deviceNum))
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "locking %q", lockPath)
	}
	if !locked {
		return errors.Errorf("another benchmark is running on device #%d (lock %q)", deviceNum, lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	caps, err := backends.Probe(backend, deviceNum)
	if err != nil {
		return err
	}
	commandline.ReportDevice(os.Stdout, backend, info, caps)

	engine, err := dispatch.New(backend, deviceNum, dispatch.Options{OnDevice: *flagOnDevice})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			klog.Warningf("failed to release device resources: %v", err)
		}
	}()
	key := []byte(*flagKey)
	if err := engine.UploadKey(key); err != nil {
		return err
	}

	cfg := sweep.Config{
		Trials:    *flagTrials,
		Key:       key,
		Verify:    *flagVerify,
		BlockSize: engine.Options().BlockSize,
	}
	switch {
	case *flagFixed > 0:
		cfg.Mode = sweep.ModeFixed
		cfg.Placeholder = *flagPlaceholder
		cfg.Degrees = sweep.Fixed(*flagFixed)
	case len(*flagDegrees) > 0:
		cfg.Degrees = *flagDegrees
	default:
		maxDegree := caps.MaxParallelism
		if *flagMaxDegree > 0 {
			maxDegree = min(*flagMaxDegree, caps.MaxParallelism)
		}
		cfg.Degrees = sweep.Ramp(maxDegree)
	}
	for _, degree := range cfg.Degrees {
		if degree > caps.MaxParallelism {
			klog.Warningf("degree %d is above the device parallelism bound %d", degree, caps.MaxParallelism)
		}
	}

	progress := commandline.NewProgress(os.Stdout, len(cfg.Degrees)*cfg.Trials, *flagNoProgress)
	cfg.OnTrial = progress.OnTrial
	cfg.OnDegree = progress.OnDegree
	fmt.Printf("Benchmarking %d degree(s) with %d trials each, queue %s\n",
		len(cfg.Degrees), cfg.Trials, queueName())
	summaries, err := sweep.Run(ctx, sweep.FromEngine(engine), cfg)
	progress.Done()
	if err != nil {
		return err
	}

	if *flagVerboseTrials {
		for _, s := range summaries {
			commandline.ReportTrials(os.Stdout, s)
		}
	}
	commandline.ReportSummaries(os.Stdout, summaries)
	if best, ok := sweep.Best(summaries); ok {
		fmt.Printf("Best degree: %d with %s\n", best.Degree, commandline.FormatThroughput(best.MeanThroughput))
	}

	if *flagOut != "" {
		meta := report.Metadata{
			Backend:   backend.Name(),
			Device:    info.Name,
			Queue:     queueName(),
			Kernel:    engine.Options().KernelName,
			Key:       *flagKey,
			Mode:      cfg.Mode.String(),
			Trials:    cfg.Trials,
			BlockSize: cfg.BlockSize,
		}
		meta.SetCapabilities(caps)
		r := report.New(meta, summaries, *flagVerboseTrials)
		if err := r.Export(*flagOut); err != nil {
			return err
		}
		fmt.Printf("Results exported to %q (run id %s)\n", *flagOut, r.RunID)
	}
	if *flagPlot != "" {
		title := fmt.Sprintf("%s: %s", info.Name, queueName())
		if err := plots.SaveThroughputPlot(*flagPlot, title, summaries); err != nil {
			return err
		}
	}
	return nil
}

// selectDevice returns the device given by -device, or asks the user if there is more than one.
func selectDevice(backend backends.Backend) (backends.DeviceNum, error) {
	if *flagDevice >= 0 {
		if *flagDevice >= int(backend.NumDevices()) {
			return 0, errors.Errorf("-device=%d out of range, backend %q has %d devices",
				*flagDevice, backend.Name(), backend.NumDevices())
		}
		return backends.DeviceNum(*flagDevice), nil
	}
	devices, err := backends.ListDevices(backend)
	if err != nil {
		return 0, err
	}
	return commandline.SelectDevice(os.Stdin, os.Stdout, devices)
}

func queueName() string {
	if *flagOnDevice {
		return "device-scheduled (in-order)"
	}
	return "host-scheduled (out-of-order)"
}
