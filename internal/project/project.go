// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package project reads the project file of a merge run: the samples
// with their scans, recalibration and traces, and the masses of
// interest with their observations.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/524D/mzmerge/internal/merge"
	"github.com/524D/mzmerge/internal/mzml"
	"github.com/524D/mzmerge/internal/recal"
	"github.com/524D/mzmerge/internal/sample"
	"github.com/524D/mzmerge/internal/trace"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoScans means a sample has neither scan times nor an mzML file
	ErrNoScans = errors.New("project: sample has no scans")
	// ErrDuplicateSample means two samples share an id
	ErrDuplicateSample = errors.New("project: duplicate sample id")
)

// Recal describes a recalibration function, either by its parameters
// or by anchor pairs it is fitted to
type Recal struct {
	Method  string       `yaml:"method"`
	Params  []float64    `yaml:"params,omitempty"`
	Anchors [][2]float64 `yaml:"anchors,omitempty"` // measured, reference
}

// Trace is a sample trace as written in the project or a traces file
type Trace struct {
	ID        int64     `yaml:"id"`
	Start     int       `yaml:"start"`
	Mz        []float64 `yaml:"mz"`
	Intensity []float64 `yaml:"intensity"`
}

// Scans describes the scan times of a sample without mzML: either
// explicit times or a uniform grid
type Scans struct {
	Times    []float64 `yaml:"times,omitempty"`
	Start    float64   `yaml:"start,omitempty"`
	Interval float64   `yaml:"interval,omitempty"`
	Count    int       `yaml:"count,omitempty"`
}

// SampleSpec is one sample of the project file
type SampleSpec struct {
	ID   int32  `yaml:"id"`
	Name string `yaml:"name"`
	// MzML file with the spectra; relative to the project file
	MzML  string `yaml:"mzml,omitempty"`
	Scans Scans  `yaml:"scans,omitempty"`
	// Flat noise level, used when there are no spectra
	Noise float64 `yaml:"noise,omitempty"`
	// Intensity scale factor for "project" normalization
	Scale   float64 `yaml:"scale,omitempty"`
	MzRecal *Recal  `yaml:"mz_recal,omitempty"`
	RtRecal *Recal  `yaml:"rt_recal,omitempty"`
	Traces  []Trace `yaml:"traces,omitempty"`
	// TracesFile is read each time the sample is activated
	TracesFile string `yaml:"traces_file,omitempty"`
}

// ObservationSpec is a mass of interest seen in one sample
type ObservationSpec struct {
	Sample int32   `yaml:"sample"`
	Mz     float64 `yaml:"mz"`
	Rt     float64 `yaml:"rt"`
	Trace  int64   `yaml:"trace"`
}

// MoISpec is a mass of interest of the project file
type MoISpec struct {
	ID           int64             `yaml:"id"`
	Sample       int32             `yaml:"sample"`
	Mz           float64           `yaml:"mz"`
	Rt           float64           `yaml:"rt"`
	Observations []ObservationSpec `yaml:"observations"`
}

// File is the project file
type File struct {
	Name    string       `yaml:"name"`
	Samples []SampleSpec `yaml:"samples"`
	MoIs    []MoISpec    `yaml:"mois"`
}

// Project is a loaded project
type Project struct {
	Name    string
	Samples []*sample.Sample
	MoIs    []merge.MoI
	// Spectra of the samples that have an mzML file, by sample id
	Spectra map[int32]*mzml.MzML
	// Flat noise level and scale factor by sample id
	Noise map[int32]float64
	Scale map[int32]float64
}

// Load reads a project file
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", path, err)
	}
	p, err := f.Build(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", path, err)
	}
	return p, nil
}

// Build turns the project file into samples and masses of interest.
// Relative file names are resolved against dir.
func (f *File) Build(dir string) (*Project, error) {
	p := &Project{
		Name:    f.Name,
		Spectra: make(map[int32]*mzml.MzML),
		Noise:   make(map[int32]float64),
		Scale:   make(map[int32]float64),
	}
	for i := range f.Samples {
		spec := &f.Samples[i]
		if _, dup := p.Noise[spec.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateSample, spec.ID)
		}
		s, err := p.buildSample(spec, dir)
		if err != nil {
			return nil, fmt.Errorf("sample %d (%s): %w", spec.ID, spec.Name, err)
		}
		p.Samples = append(p.Samples, s)
		p.Noise[spec.ID] = spec.Noise
		p.Scale[spec.ID] = spec.Scale
	}
	for _, m := range f.MoIs {
		moi := merge.MoI{ID: m.ID, SampleID: m.Sample, Mz: m.Mz, Rt: m.Rt}
		for _, o := range m.Observations {
			moi.Observations = append(moi.Observations, merge.Observation{
				SampleID: o.Sample, Mz: o.Mz, Rt: o.Rt, TraceID: o.Trace,
			})
		}
		p.MoIs = append(p.MoIs, moi)
	}
	return p, nil
}

func (p *Project) buildSample(spec *SampleSpec, dir string) (*sample.Sample, error) {
	var scans *sample.ScanMapping
	var err error
	switch {
	case spec.MzML != "":
		f, err := mzml.ReadFile(resolve(dir, spec.MzML))
		if err != nil {
			return nil, err
		}
		rts, err := f.MS1RetentionTimes()
		if err != nil {
			return nil, err
		}
		if scans, err = sample.NewScanMapping(rts); err != nil {
			return nil, err
		}
		p.Spectra[spec.ID] = f
	case len(spec.Scans.Times) > 0:
		scans, err = sample.NewScanMapping(spec.Scans.Times)
	case spec.Scans.Count > 0:
		scans, err = sample.UniformScanMapping(spec.Scans.Start, spec.Scans.Interval, spec.Scans.Count)
	default:
		return nil, ErrNoScans
	}
	if err != nil {
		return nil, err
	}

	var storage sample.TraceStorage
	if spec.TracesFile != "" {
		fn := resolve(dir, spec.TracesFile)
		storage = sample.NewLazyStorage(func() ([]*trace.Contiguous, error) {
			return ReadTraces(fn)
		})
	} else {
		traces, err := toContiguous(spec.Traces)
		if err != nil {
			return nil, err
		}
		storage = sample.NewMemoryStorage(traces)
	}

	s := sample.New(spec.ID, spec.Name, scans, storage)
	if spec.MzRecal != nil {
		if s.MzRecal, err = spec.MzRecal.Func(); err != nil {
			return nil, fmt.Errorf("mz_recal: %w", err)
		}
	}
	if spec.RtRecal != nil {
		if s.RtRecal, err = spec.RtRecal.Func(); err != nil {
			return nil, fmt.Errorf("rt_recal: %w", err)
		}
	}
	return s, nil
}

// Func returns the recalibration function. Anchors take precedence over
// parameters.
func (r *Recal) Func() (recal.Func, error) {
	m, err := recal.ParseMethod(r.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, r.Method)
	}
	if m == recal.None {
		return recal.Identity{}, nil
	}
	if len(r.Anchors) > 0 {
		pairs := make([]recal.Pair, len(r.Anchors))
		for i, a := range r.Anchors {
			pairs[i] = recal.Pair{Measured: a[0], Reference: a[1]}
		}
		return recal.Fit(m, pairs)
	}
	return recal.New(m, r.Params)
}

// ReadTraces reads a YAML file holding a list of traces
func ReadTraces(fn string) ([]*trace.Contiguous, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	var ts []Trace
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parse traces %s: %w", fn, err)
	}
	return toContiguous(ts)
}

func toContiguous(ts []Trace) ([]*trace.Contiguous, error) {
	out := make([]*trace.Contiguous, 0, len(ts))
	for _, t := range ts {
		c, err := trace.NewContiguous(t.ID, t.Start, t.Mz, t.Intensity)
		if err != nil {
			return nil, fmt.Errorf("trace %d: %w", t.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func resolve(dir, fn string) string {
	if filepath.IsAbs(fn) {
		return fn
	}
	return filepath.Join(dir, fn)
}
