// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package merge

import (
	"errors"
	"math"
	"sort"

	"github.com/524D/mzmerge/internal/sample"
	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples means there is nothing to merge
var ErrNoSamples = errors.New("merge: no samples")

// BuildGrid returns the scan grid of the merged sample: uniformly spaced
// retention times covering the recalibrated scan times of all samples.
// The spacing is the median of the samples' median scan intervals.
func BuildGrid(samples []*sample.Sample) (*sample.ScanMapping, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	var steps []float64
	for _, s := range samples {
		rts := s.RecalibratedTimes()
		lo = math.Min(lo, rts[0])
		hi = math.Max(hi, rts[len(rts)-1])
		sm, err := sample.NewScanMapping(rts)
		if err != nil {
			return nil, err
		}
		if d := sm.MedianInterval(); d > 0 {
			steps = append(steps, d)
		}
	}
	step := 1.0
	if len(steps) > 0 {
		sort.Float64s(steps)
		step = stat.Quantile(0.5, stat.Empirical, steps, nil)
	}
	n := int(math.Ceil((hi-lo)/step-1e-9)) + 1
	if n < 1 {
		n = 1
	}
	return sample.UniformScanMapping(lo, step, n)
}
