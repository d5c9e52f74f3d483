// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package feature turns aligned segments into features: one compound
// measured across all samples.
package feature

import "github.com/524D/mzmerge/internal/trace"

// SampleFeature is the measurement of a feature in one sample. Absent
// measurements have Present == false and zero values otherwise.
type SampleFeature struct {
	SampleID      int32
	Present       bool
	Apex          int
	Left          int
	Right         int
	ApexRt        float64
	ApexMz        float64
	ApexIntensity float64
	Area          float64
}

// Feature is a merged segment with its per-sample projections
type Feature struct {
	RectID        int64
	Apex          int
	Left          int
	Right         int
	ApexRt        float64
	ApexMz        float64
	ApexIntensity float64
	Samples       []SampleFeature
}

// SampleInput is the trace of one sample with the projections of the
// merged segments onto it
type SampleInput struct {
	SampleID  int32
	Trace     trace.Trace
	Projected []*trace.Segment
	// Rt returns the retention time of a scan of the sample
	Rt func(scan int) float64
}

// Input holds one merged trace, its segments and all sample projections
type Input struct {
	Merged   trace.Trace
	RectID   int64
	Segments []trace.Segment
	// Rt returns the retention time of a merged scan
	Rt      func(scan int) float64
	Samples []SampleInput
}

// Extractor produces features
type Extractor interface {
	Extract(in Input) []Feature
}

// PerSegment makes one feature for every merged segment that was
// projected onto at least one sample
type PerSegment struct{}

// Extract implements Extractor
func (PerSegment) Extract(in Input) []Feature {
	var out []Feature
	for i, seg := range in.Segments {
		f := Feature{
			RectID:        in.RectID,
			Apex:          seg.Apex,
			Left:          seg.Left,
			Right:         seg.Right,
			ApexRt:        in.Rt(seg.Apex),
			ApexMz:        in.Merged.MzAt(seg.Apex),
			ApexIntensity: in.Merged.IntensityAt(seg.Apex),
			Samples:       make([]SampleFeature, len(in.Samples)),
		}
		present := 0
		for k, s := range in.Samples {
			sf := SampleFeature{SampleID: s.SampleID}
			if i < len(s.Projected) && s.Projected[i] != nil {
				p := s.Projected[i]
				sf.Present = true
				sf.Apex, sf.Left, sf.Right = p.Apex, p.Left, p.Right
				sf.ApexRt = s.Rt(p.Apex)
				sf.ApexMz = s.Trace.MzAt(p.Apex)
				sf.ApexIntensity = s.Trace.IntensityAt(p.Apex)
				sf.Area = p.Area(s.Trace)
				present++
			}
			f.Samples[k] = sf
		}
		if present > 0 {
			out = append(out, f)
		}
	}
	return out
}
