// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package stats

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// SpectrumSource gives access to the spectra of a sample in acquisition
// order
type SpectrumSource interface {
	NumSpectra() int
	MSLevel(i int) (int, error)
	Intensities(i int) ([]float64, error)
}

// Collector computes SampleStats from spectra
type Collector struct {
	// Percentile of MS1 peak intensities taken as noise estimate
	MS1Percentile float64
	// Percentile of MS2 peak intensities
	MS2Percentile float64
	// MS2 spectra with at most this many peaks are skipped, and the
	// percentile never leaves fewer peaks above it
	MinMS2Peaks int
	// Upper limit of the smoothing window
	MaxSmoothWindow int

	Within  Deviation
	Between Deviation

	Log zerolog.Logger
}

// NewCollector returns a collector with default settings
func NewCollector(log zerolog.Logger) *Collector {
	return &Collector{
		MS1Percentile:   0.9,
		MS2Percentile:   0.75,
		MinMS2Peaks:     10,
		MaxSmoothWindow: 200,
		Within:          DefaultWithinTraces,
		Between:         DefaultBetweenTraces,
		Log:             log,
	}
}

// Collect estimates the noise level of every MS1 scan and the MS2
// noise level
func (c *Collector) Collect(src SpectrumSource) (*SampleStats, error) {
	var ms1 []float64
	var ms2 []float64
	sum := 0.0
	for i := 0; i < src.NumSpectra(); i++ {
		level, err := src.MSLevel(i)
		if err != nil {
			return nil, fmt.Errorf("spectrum %d: %w", i, err)
		}
		if level != 1 && level != 2 {
			continue
		}
		ints, err := src.Intensities(i)
		if err != nil {
			return nil, fmt.Errorf("spectrum %d: %w", i, err)
		}
		if level == 1 {
			var v float64
			if len(ints) == 0 {
				if len(ms1) > 0 {
					v = sum / float64(len(ms1))
				}
				c.Log.Warn().Int("spectrum", i).Float64("estimate", v).
					Msg("empty MS1 spectrum, using running average noise level")
			} else {
				v = percentile(ints, c.MS1Percentile)
			}
			ms1 = append(ms1, v)
			sum += v
			continue
		}
		if len(ints) <= c.MinMS2Peaks {
			continue
		}
		ms2 = append(ms2, c.ms2Noise(ints))
	}

	st := &SampleStats{
		NoiseLevelPerScan:                    smooth(ms1, c.MaxSmoothWindow),
		MS1MassDeviationWithinTraces:         c.Within,
		MinimumMS1MassDeviationBetweenTraces: c.Between,
	}
	if len(ms2) > 0 {
		st.MS2NoiseLevel = stat.Mean(ms2, nil)
	}
	c.Log.Debug().Int("ms1", len(ms1)).Int("ms2", len(ms2)).
		Float64("ms2Noise", st.MS2NoiseLevel).Msg("collected sample statistics")
	return st, nil
}

// ms2Noise blends the percentile intensity 2:1 with the minimum
func (c *Collector) ms2Noise(ints []float64) float64 {
	v := make([]float64, len(ints))
	copy(v, ints)
	n := len(v)
	idx := int(c.MS2Percentile * float64(n))
	if idx > n-c.MinMS2Peaks {
		idx = n - c.MinMS2Peaks
	}
	if idx < 0 {
		idx = 0
	}
	q := quickselect(v, idx)
	lowest := v[0]
	for _, x := range v[:idx] {
		if x < lowest {
			lowest = x
		}
	}
	return (2*q + lowest) / 3
}

// percentile returns the p-th percentile of ints without sorting the
// whole slice. ints is not modified.
func percentile(ints []float64, p float64) float64 {
	v := make([]float64, len(ints))
	copy(v, ints)
	idx := int(p * float64(len(v)))
	if idx >= len(v) {
		idx = len(v) - 1
	}
	return quickselect(v, idx)
}

// quickselect partially orders v so that v[k] holds the value it would
// have after sorting, all values before it are <= v[k], and returns v[k]
func quickselect(v []float64, k int) float64 {
	lo, hi := 0, len(v)-1
	for lo < hi {
		// median of three as pivot
		mid := lo + (hi-lo)/2
		if v[mid] < v[lo] {
			v[mid], v[lo] = v[lo], v[mid]
		}
		if v[hi] < v[lo] {
			v[hi], v[lo] = v[lo], v[hi]
		}
		if v[hi] < v[mid] {
			v[hi], v[mid] = v[mid], v[hi]
		}
		pivot := v[mid]
		i, j := lo, hi
		for i <= j {
			for v[i] < pivot {
				i++
			}
			for v[j] > pivot {
				j--
			}
			if i <= j {
				v[i], v[j] = v[j], v[i]
				i++
				j--
			}
		}
		if k <= j {
			hi = j
		} else if k >= i {
			lo = i
		} else {
			break
		}
	}
	return v[k]
}

// smooth replaces every value by the median of a sliding window. Short
// series get the global median everywhere.
func smooth(v []float64, maxWindow int) []float64 {
	n := len(v)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n <= 20 {
		m := median(v)
		for i := range out {
			out[i] = m
		}
		return out
	}
	w := n / 10
	if w > maxWindow {
		w = maxWindow
	}
	// n > 20 so w >= 2
	for i := w - 1; i < n; i++ {
		out[i] = median(v[i-w+1 : i+1])
	}
	for i := 0; i < w-1; i++ {
		out[i] = out[w-1]
	}
	return out
}

func median(v []float64) float64 {
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}
