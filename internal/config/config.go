// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package config holds the parameters of a merge run. Parameters are
// read from a YAML file; anything not in the file keeps its default.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrRangeSpec means a "min:max" range with min > max
var ErrRangeSpec = errors.New("invalid range specified")

// Deviation is a mass deviation override
type Deviation struct {
	PPM      float64 `yaml:"ppm"`
	Absolute float64 `yaml:"absolute"`
}

// Stats are the statistics collector settings
type Stats struct {
	MS1Percentile   float64    `yaml:"ms1_percentile"`
	MS2Percentile   float64    `yaml:"ms2_percentile"`
	MinMS2Peaks     int        `yaml:"min_ms2_peaks"`
	MaxSmoothWindow int        `yaml:"max_smooth_window"`
	WithinTraces    *Deviation `yaml:"within_traces,omitempty"`
	BetweenTraces   *Deviation `yaml:"between_traces,omitempty"`
}

// Segment are the segmentation settings
type Segment struct {
	NoiseFactor       float64 `yaml:"noise_factor"`
	PersistenceFactor float64 `yaml:"persistence_factor"`
}

// Align are the alignment settings
type Align struct {
	BeamWidth   int     `yaml:"beam_width"`
	Window      float64 `yaml:"window"`
	MinCoverage float64 `yaml:"min_coverage"`
	// Deviations in merged scans
	Deviation    float64 `yaml:"deviation"`
	MinDeviation float64 `yaml:"min_deviation"`
}

// Store are the merge store settings
type Store struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// Params are all parameters of a run
type Params struct {
	Workers  int    `yaml:"workers"`
	LogLevel string `yaml:"log_level"`
	// none, project (factors from the project file) or noise
	Normalization string `yaml:"normalization"`
	// Retention time window "min:max" for masses of interest, either
	// side may be left empty
	RtWindow string  `yaml:"rt_window"`
	Stats    Stats   `yaml:"stats"`
	Segment  Segment `yaml:"segment"`
	Align    Align   `yaml:"align"`
	Store    Store   `yaml:"store"`
	// SQLite file for the features, none if empty
	Export string `yaml:"export"`
}

// Default returns the default parameters
func Default() *Params {
	return &Params{
		Workers:       0,
		LogLevel:      "info",
		Normalization: "none",
		Stats: Stats{
			MS1Percentile:   0.9,
			MS2Percentile:   0.75,
			MinMS2Peaks:     10,
			MaxSmoothWindow: 200,
		},
		Segment: Segment{
			NoiseFactor:       1,
			PersistenceFactor: 1,
		},
		Align: Align{
			BeamWidth:    5,
			Window:       3,
			MinCoverage:  0.5,
			Deviation:    3,
			MinDeviation: 0.5,
		},
		Store: Store{
			Path:       "mzmerge.db",
			SyncWrites: false,
		},
	}
}

// Load reads parameters from a YAML file on top of the defaults
func Load(path string) (*Params, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that all parameters are in range
func (p *Params) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(p.Workers >= 0, "workers must be >= 0, got %d", p.Workers)
	check(p.Stats.MS1Percentile > 0 && p.Stats.MS1Percentile <= 1,
		"stats.ms1_percentile must be in (0,1], got %g", p.Stats.MS1Percentile)
	check(p.Stats.MS2Percentile > 0 && p.Stats.MS2Percentile <= 1,
		"stats.ms2_percentile must be in (0,1], got %g", p.Stats.MS2Percentile)
	check(p.Stats.MinMS2Peaks >= 0, "stats.min_ms2_peaks must be >= 0")
	check(p.Stats.MaxSmoothWindow >= 1, "stats.max_smooth_window must be >= 1")
	check(p.Segment.NoiseFactor >= 0, "segment.noise_factor must be >= 0")
	check(p.Segment.PersistenceFactor >= 0, "segment.persistence_factor must be >= 0")
	check(p.Align.BeamWidth >= 1, "align.beam_width must be >= 1, got %d", p.Align.BeamWidth)
	check(p.Align.Window > 0, "align.window must be > 0")
	check(p.Align.MinCoverage >= 0 && p.Align.MinCoverage <= 1, "align.min_coverage must be in [0,1]")
	check(p.Align.Deviation > 0, "align.deviation must be > 0")
	check(p.Align.MinDeviation > 0 && p.Align.MinDeviation <= p.Align.Deviation,
		"align.min_deviation must be in (0, deviation]")
	check(p.Store.InMemory || p.Store.Path != "", "store.path is required")
	switch p.Normalization {
	case "", "none", "project", "noise":
	default:
		errs = append(errs, fmt.Errorf("unknown normalization %q", p.Normalization))
	}
	if _, _, _, err := p.RtRange(); err != nil {
		errs = append(errs, fmt.Errorf("rt_window: %w", err))
	}
	return errors.Join(errs...)
}

// RtRange returns the retention time window, ok is false when no window
// is configured
func (p *Params) RtRange() (min, max float64, ok bool, err error) {
	if p.RtWindow == "" {
		return math.Inf(-1), math.Inf(1), false, nil
	}
	min, max, err = ParseFloat64Range(p.RtWindow, math.Inf(-1), math.Inf(1))
	return min, max, err == nil, err
}

// ParseFloat64Range parses a string like "-12.01e1:+6" into 2 values,
// -120.1 and 6.0. Parameters min and max are the defaults for a value
// that is not specified (e.g. "-12.01e1:"); values are clamped to them.
func ParseFloat64Range(r string, min float64, max float64) (float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// ParseIntRange parses a string like "-12:6" into 2 values, -12 and 6,
// with the same defaults and clamping as ParseFloat64Range
func ParseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}
