// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/524D/mzmerge/internal/config"
	"github.com/524D/mzmerge/internal/logger"
	"github.com/524D/mzmerge/internal/metrics"
	"github.com/524D/mzmerge/internal/mzml"
	"github.com/524D/mzmerge/internal/pipeline"
	"github.com/524D/mzmerge/internal/project"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Program name and version, set at link time
const progName = "mzmerge"

var progVersion = `Unknown`

// runOptions are the flags of the run command. Flags that are set
// override the config file.
type runOptions struct {
	project     string
	config      string
	storePath   string
	inMemory    bool
	export      string
	workers     int
	logLevel    string
	metricsFile string
}

// statsOptions are the flags of the stats command
type statsOptions struct {
	spectra  string
	out      string
	logLevel string
	config   string
}

// statsReport is the output of the stats command
type statsReport struct {
	File              string           `yaml:"file"`
	FirstSpectrum     int              `yaml:"first_spectrum"`
	LastSpectrum      int              `yaml:"last_spectrum"`
	MS2NoiseLevel     float64          `yaml:"ms2_noise_level"`
	WithinTraces      config.Deviation `yaml:"within_traces"`
	BetweenTraces     config.Deviation `yaml:"between_traces"`
	NoiseLevelPerScan []float64        `yaml:"noise_level_per_scan,flow"`
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   progName,
		Short: "Merge LC-MS traces across samples",
		Long: `mzmerge merges the traces of aligned masses of interest across samples,
detects chromatographic peaks on the merged traces and projects them back
onto every sample to produce one feature per compound per sample.`,
		Version:       progVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newStatsCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opt runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Merge, segment and align the samples of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opt)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opt.project, "project", "p", "", "project `file` (YAML, required)")
	f.StringVarP(&opt.config, "config", "c", "", "parameter `file` (YAML)")
	f.StringVar(&opt.storePath, "store", "", "merge store `directory`")
	f.BoolVar(&opt.inMemory, "in-memory", false, "keep the merge store in memory only")
	f.StringVarP(&opt.export, "out", "o", "", "SQLite `file` for the features")
	f.IntVar(&opt.workers, "workers", 0, "number of parallel jobs (0: number of CPUs)")
	f.StringVar(&opt.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&opt.metricsFile, "metrics", "", "write Prometheus metrics to `file` when done")
	cmd.MarkFlagRequired("project")
	return cmd
}

func runMerge(cmd *cobra.Command, opt runOptions) error {
	par, err := config.Load(opt.config)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("store") {
		par.Store.Path = opt.storePath
	}
	if f.Changed("in-memory") {
		par.Store.InMemory = opt.inMemory
	}
	if f.Changed("out") {
		par.Export = opt.export
	}
	if f.Changed("workers") {
		par.Workers = opt.workers
	}
	if f.Changed("log-level") {
		par.LogLevel = opt.logLevel
	}
	if err := par.Validate(); err != nil {
		return err
	}
	log := logger.New(cmd.ErrOrStderr(), logger.ParseLevel(par.LogLevel))
	if w, ok := cmd.ErrOrStderr().(*os.File); ok && w == os.Stderr {
		log = logger.NewConsole(logger.ParseLevel(par.LogLevel))
	}

	prj, err := project.Load(opt.project)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Path:       par.Store.Path,
		InMemory:   par.Store.InMemory,
		SyncWrites: par.Store.SyncWrites,
		Log:        log,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	p := pipeline.New(par, st, metrics.New(reg), log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	res, err := p.Run(ctx, prj)
	if err != nil {
		return err
	}
	if opt.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opt.metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d rectangles, %d segments, %d features\n",
		res.RunID, res.Rects, res.Segments, len(res.Features))
	return nil
}

func newStatsCmd() *cobra.Command {
	var opt statsOptions
	cmd := &cobra.Command{
		Use:   "stats <file.mzML>",
		Short: "Estimate the noise statistics of an mzML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, args[0], opt)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opt.spectra, "spectra", "", "spectrum index `range` to use, e.g. \"100:2000\"")
	f.StringVarP(&opt.out, "out", "o", "", "output `file` (YAML), default stdout")
	f.StringVarP(&opt.config, "config", "c", "", "parameter `file` (YAML)")
	f.StringVar(&opt.logLevel, "log-level", "warn", "debug, info, warn or error")
	return cmd
}

func runStats(cmd *cobra.Command, fn string, opt statsOptions) error {
	par, err := config.Load(opt.config)
	if err != nil {
		return err
	}
	log := logger.New(cmd.ErrOrStderr(), logger.ParseLevel(opt.logLevel))

	f, err := mzml.ReadFile(fn)
	if err != nil {
		return err
	}
	first, last, err := config.ParseIntRange(opt.spectra, 0, f.NumSpecs()-1)
	if err != nil {
		return fmt.Errorf("spectra %q: %w", opt.spectra, err)
	}

	c := stats.NewCollector(log)
	c.MS1Percentile = par.Stats.MS1Percentile
	c.MS2Percentile = par.Stats.MS2Percentile
	c.MinMS2Peaks = par.Stats.MinMS2Peaks
	c.MaxSmoothWindow = par.Stats.MaxSmoothWindow
	if d := par.Stats.WithinTraces; d != nil {
		c.Within = stats.Deviation{PPM: d.PPM, Absolute: d.Absolute}
	}
	if d := par.Stats.BetweenTraces; d != nil {
		c.Between = stats.Deviation{PPM: d.PPM, Absolute: d.Absolute}
	}
	st, err := c.Collect(mzml.NewSource(f, first, last))
	if err != nil {
		return err
	}

	rep := statsReport{
		File:              fn,
		FirstSpectrum:     first,
		LastSpectrum:      last,
		MS2NoiseLevel:     st.MS2NoiseLevel,
		WithinTraces:      config.Deviation(st.MS1MassDeviationWithinTraces),
		BetweenTraces:     config.Deviation(st.MinimumMS1MassDeviationBetweenTraces),
		NoiseLevelPerScan: st.NoiseLevelPerScan,
	}
	var w io.Writer = cmd.OutOrStdout()
	if opt.out != "" {
		out, err := os.Create(opt.out)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		os.Exit(1)
	}
}
