// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package stats estimates per-scan noise levels and mass deviations of a
// sample from its spectra.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Deviation is a mass tolerance, relative and absolute. The larger of
// the two applies at a given m/z.
type Deviation struct {
	PPM      float64
	Absolute float64
}

// At returns the tolerance at mz
func (d Deviation) At(mz float64) float64 {
	return math.Max(mz*d.PPM*1e-6, d.Absolute)
}

// Default mass deviations
var (
	DefaultWithinTraces  = Deviation{PPM: 6, Absolute: 3e-4}
	DefaultBetweenTraces = Deviation{PPM: 6, Absolute: 3e-4}
)

// SampleStats holds the noise statistics of one sample
type SampleStats struct {
	NoiseLevelPerScan                    []float64
	MS2NoiseLevel                        float64
	MS1MassDeviationWithinTraces         Deviation
	MinimumMS1MassDeviationBetweenTraces Deviation
}

// NoiseAt returns the noise level at scan i, clamped to the scan range.
// Without per-scan levels 0 is returned.
func (s *SampleStats) NoiseAt(i int) float64 {
	n := len(s.NoiseLevelPerScan)
	if n == 0 {
		return 0
	}
	if i < 0 {
		i = 0
	} else if i >= n {
		i = n - 1
	}
	return s.NoiseLevelPerScan[i]
}

// Constant returns stats for n scans that all have the same noise level
func Constant(n int, level float64) *SampleStats {
	noise := make([]float64, n)
	for i := range noise {
		noise[i] = level
	}
	return &SampleStats{
		NoiseLevelPerScan:                    noise,
		MS2NoiseLevel:                        level,
		MS1MassDeviationWithinTraces:         DefaultWithinTraces,
		MinimumMS1MassDeviationBetweenTraces: DefaultBetweenTraces,
	}
}

// MergeStats builds the stats of a merged sample from the given noise
// curve and the stats of the samples it was built from. MS2 noise and
// mass deviations are averaged.
func MergeStats(noise []float64, parts []*SampleStats) *SampleStats {
	st := &SampleStats{NoiseLevelPerScan: noise}
	if len(parts) == 0 {
		st.MS1MassDeviationWithinTraces = DefaultWithinTraces
		st.MinimumMS1MassDeviationBetweenTraces = DefaultBetweenTraces
		return st
	}
	ms2 := make([]float64, len(parts))
	wp := make([]float64, len(parts))
	wa := make([]float64, len(parts))
	bp := make([]float64, len(parts))
	ba := make([]float64, len(parts))
	for i, p := range parts {
		ms2[i] = p.MS2NoiseLevel
		wp[i] = p.MS1MassDeviationWithinTraces.PPM
		wa[i] = p.MS1MassDeviationWithinTraces.Absolute
		bp[i] = p.MinimumMS1MassDeviationBetweenTraces.PPM
		ba[i] = p.MinimumMS1MassDeviationBetweenTraces.Absolute
	}
	st.MS2NoiseLevel = stat.Mean(ms2, nil)
	st.MS1MassDeviationWithinTraces = Deviation{PPM: stat.Mean(wp, nil), Absolute: stat.Mean(wa, nil)}
	st.MinimumMS1MassDeviationBetweenTraces = Deviation{PPM: stat.Mean(bp, nil), Absolute: stat.Mean(ba, nil)}
	return st
}
