// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package sample describes a processed LC-MS sample: its MS1 scan times,
// its traces, intensity normalization and recalibration functions.
package sample

import (
	"errors"
	"fmt"
	"sync"

	"github.com/524D/mzmerge/internal/recal"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/trace"
)

// ErrInactive is returned when trace data is requested from a sample
// that is not activated
var ErrInactive = errors.New("sample: trace data not loaded")

// Normalizer scales raw intensities of a sample so samples are comparable
type Normalizer interface {
	Normalize(intensity float64) float64
}

// NoNormalization keeps intensities unchanged
type NoNormalization struct{}

// Normalize returns intensity
func (NoNormalization) Normalize(intensity float64) float64 { return intensity }

// Scale multiplies intensities by a constant factor
type Scale struct {
	Factor float64
}

// Normalize returns intensity * Factor
func (s Scale) Normalize(intensity float64) float64 { return intensity * s.Factor }

// Sample is the read-only context of one processed sample. The trace
// data is only available between Activate and Deactivate.
type Sample struct {
	ID         int32
	Name       string
	Scans      *ScanMapping
	Normalizer Normalizer
	MzRecal    recal.Func
	RtRecal    recal.Func
	Stats      *stats.SampleStats

	storage TraceStorage
	mu      sync.Mutex
	active  int
}

// New creates a sample. Nil recalibration functions and normalizer are
// replaced by identity.
func New(id int32, name string, scans *ScanMapping, storage TraceStorage) *Sample {
	return &Sample{
		ID:         id,
		Name:       name,
		Scans:      scans,
		Normalizer: NoNormalization{},
		MzRecal:    recal.Identity{},
		RtRecal:    recal.Identity{},
		storage:    storage,
	}
}

// Activate loads the trace data. Calls nest: data is released after
// the matching number of Deactivate calls.
func (s *Sample) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 && s.storage != nil {
		if err := s.storage.Load(); err != nil {
			return fmt.Errorf("activate sample %s: %w", s.Name, err)
		}
	}
	s.active++
	return nil
}

// Deactivate releases the trace data
func (s *Sample) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return
	}
	s.active--
	if s.active == 0 && s.storage != nil {
		s.storage.Release()
	}
}

// Active reports whether trace data is loaded
func (s *Sample) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active > 0
}

// Trace returns the trace with the given id. The sample must be active.
func (s *Sample) Trace(id int64) (*trace.Contiguous, bool, error) {
	if !s.Active() {
		return nil, false, ErrInactive
	}
	if s.storage == nil {
		return nil, false, nil
	}
	t, ok := s.storage.Trace(id)
	return t, ok, nil
}

// RecalibratedTimes returns the scan times mapped by RtRecal. The
// result is forced to be non-decreasing; a recalibration that is not
// monotonic is flattened where it goes backwards.
func (s *Sample) RecalibratedTimes() []float64 {
	rts := s.Scans.Times()
	out := make([]float64, len(rts))
	for i, rt := range rts {
		out[i] = s.RtRecal.Apply(rt)
		if i > 0 && out[i] < out[i-1] {
			out[i] = out[i-1]
		}
	}
	return out
}

// NoiseLevel returns the noise level of scan i, 0 without statistics
func (s *Sample) NoiseLevel(i int) float64 {
	if s.Stats == nil {
		return 0
	}
	return s.Stats.NoiseAt(i)
}
