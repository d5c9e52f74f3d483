// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"fmt"
	"sort"

	"github.com/524D/mzmerge/internal/sample"
	"gonum.org/v1/gonum/stat"
)

// Normalization modes
const (
	NormalizeNone    = "none"
	NormalizeProject = "project"
	NormalizeNoise   = "noise"
)

// normalizers returns the intensity normalizer of every sample.
// "project" uses the scale factors of the project file, "noise" scales
// every sample so that its median noise level equals the mean of the
// median noise levels of all samples.
func normalizers(mode string, samples []*sample.Sample, scale map[int32]float64) ([]sample.Normalizer, error) {
	out := make([]sample.Normalizer, len(samples))
	switch mode {
	case "", NormalizeNone:
		for i := range out {
			out[i] = sample.NoNormalization{}
		}
	case NormalizeProject:
		for i, s := range samples {
			if f := scale[s.ID]; f > 0 {
				out[i] = sample.Scale{Factor: f}
			} else {
				out[i] = sample.NoNormalization{}
			}
		}
	case NormalizeNoise:
		medians := make([]float64, len(samples))
		var sum float64
		n := 0
		for i, s := range samples {
			if s.Stats == nil || len(s.Stats.NoiseLevelPerScan) == 0 {
				continue
			}
			v := append([]float64(nil), s.Stats.NoiseLevelPerScan...)
			sort.Float64s(v)
			medians[i] = stat.Quantile(0.5, stat.Empirical, v, nil)
			if medians[i] > 0 {
				sum += medians[i]
				n++
			}
		}
		for i := range out {
			if medians[i] > 0 {
				out[i] = sample.Scale{Factor: sum / float64(n) / medians[i]}
			} else {
				out[i] = sample.NoNormalization{}
			}
		}
	default:
		return nil, fmt.Errorf("unknown normalization %q", mode)
	}
	return out, nil
}
