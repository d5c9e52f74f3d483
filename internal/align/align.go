// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package align projects the peak segments found on a merged trace back
// onto the trace of one sample.
package align

import (
	"math"
	"sort"

	"github.com/524D/mzmerge/internal/segment"
	"github.com/524D/mzmerge/internal/trace"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// Input is one merged trace with its segments and the trace of one
// sample that contributed to it
type Input struct {
	Merged      trace.Trace
	Segments    []trace.Segment
	MergedNoise segment.Noise
	Sample      trace.Trace
	// ToMerged maps a scan index of the sample to a fractional scan
	// index of the merged trace
	ToMerged func(scan int) float64
	// Expected deviation of positions, in merged scans
	Dev float64
	// Initial offset added to sample positions
	Shift float64
}

// Report summarizes an alignment
type Report struct {
	ChildSegments int
	Matched       int
	Coverage      float64
	Shift         float64
	Dev           float64
	Refined       bool
}

// Aligner matches merged segments with segments detected on the sample
// trace by beam search
type Aligner struct {
	Strategy    segment.Strategy
	BeamWidth   int
	Window      float64 // candidates within Window*dev
	MinCoverage float64
	MinDev      float64
	Log         zerolog.Logger
}

// New returns an aligner with default settings
func New(s segment.Strategy, log zerolog.Logger) *Aligner {
	return &Aligner{
		Strategy:    s,
		BeamWidth:   5,
		Window:      3,
		MinCoverage: 0.5,
		MinDev:      0.5,
		Log:         log,
	}
}

type peak struct {
	pos  float64
	ints float64
	norm float64
}

// Align returns, for every merged segment, the matching segment of the
// sample in the sample's scan indices, or nil when there is none
func (a *Aligner) Align(in Input) ([]*trace.Segment, Report) {
	out := make([]*trace.Segment, len(in.Segments))
	rep := Report{Shift: in.Shift, Dev: in.Dev}
	if len(in.Segments) == 0 {
		return out, rep
	}

	children := a.Strategy.Detect(in.Sample, a.childNoise(in))
	rep.ChildSegments = len(children)
	if len(children) == 0 {
		a.Log.Warn().Int("mergedSegments", len(in.Segments)).
			Msg("no segments on sample trace, all projections absent")
		return out, rep
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Apex < children[j].Apex })

	m := make([]peak, len(in.Segments))
	for i, s := range in.Segments {
		m[i] = peak{pos: float64(s.Apex), ints: in.Merged.IntensityAt(s.Apex)}
	}
	c := make([]peak, len(children))
	for j, s := range children {
		c[j] = peak{pos: in.ToMerged(s.Apex), ints: in.Sample.IntensityAt(s.Apex)}
	}
	normalize(m)
	normalize(c)

	match := a.beam(m, c, in.Shift, in.Dev)
	total, matched := 0.0, 0.0
	for i, j := range match {
		total += m[i].ints
		if j >= 0 {
			matched += m[i].ints
		}
	}
	if total > 0 {
		rep.Coverage = matched / total
	}

	if rep.Coverage >= a.MinCoverage && matched > 0 {
		var sw, so float64
		for i, j := range match {
			if j < 0 {
				continue
			}
			sw += m[i].ints
			so += m[i].ints * (m[i].pos - c[j].pos)
		}
		shift := so / sw
		var sr float64
		for i, j := range match {
			if j < 0 {
				continue
			}
			r := m[i].pos - c[j].pos - shift
			sr += m[i].ints * r * r
		}
		dev := math.Min(in.Dev, math.Max(a.MinDev, math.Sqrt(sr/sw)))
		match = a.beam(m, c, shift, dev)
		rep.Shift, rep.Dev, rep.Refined = shift, dev, true
	} else {
		a.Log.Warn().Float64("coverage", rep.Coverage).
			Msg("low match coverage, keeping unshifted alignment")
	}

	for i, j := range match {
		if j < 0 {
			continue
		}
		s := children[j]
		out[i] = &s
		rep.Matched++
	}
	return out, rep
}

// childNoise scales the merged noise at the sample apex to the sample's
// intensity level
func (a *Aligner) childNoise(in Input) segment.Noise {
	apex := in.Sample.Start()
	for i := in.Sample.Start(); i <= in.Sample.End(); i++ {
		if in.Sample.IntensityAt(i) > in.Sample.IntensityAt(apex) {
			apex = i
		}
	}
	mi := int(math.Round(in.ToMerged(apex)))
	level := in.MergedNoise.Level(mi)
	if mint := in.Merged.IntensityAt(mi); mint > 0 {
		level *= in.Sample.IntensityAt(apex) / mint
	}
	return segment.Constant(level)
}

func normalize(p []peak) {
	v := make([]float64, len(p))
	for i := range p {
		v[i] = p[i].ints
	}
	n := floats.Norm(v, 2)
	if n > 0 {
		floats.Scale(1/n, v)
	}
	for i := range p {
		p[i].norm = v[i]
	}
}

type state struct {
	score float64
	last  int // last child used, -1 for none
	match []int
}

// beam assigns merged peaks to child peaks in order. Each merged peak
// gets at most one child and each child is used at most once.
func (a *Aligner) beam(m, c []peak, shift, dev float64) []int {
	width := a.BeamWidth
	if width < 1 {
		width = 1
	}
	if dev <= 0 {
		dev = a.MinDev
	}
	limit := a.Window * dev
	beam := []state{{last: -1}}
	for i := range m {
		var next []state
		for _, st := range beam {
			skip := state{score: st.score, last: st.last, match: append(append([]int(nil), st.match...), -1)}
			next = append(next, skip)
			for j := st.last + 1; j < len(c); j++ {
				d := m[i].pos - (c[j].pos + shift)
				if math.Abs(d) > limit {
					continue
				}
				s := st.score + score(m[i], c[j], d, dev)
				next = append(next, state{score: s, last: j, match: append(append([]int(nil), st.match...), j)})
			}
		}
		sort.SliceStable(next, func(x, y int) bool { return next[x].score > next[y].score })
		if len(next) > width {
			next = next[:width]
		}
		beam = next
	}
	return beam[0].match
}

func score(m, c peak, d, dev float64) float64 {
	g := math.Exp(-d * d / (2 * dev * dev))
	lo, hi := math.Min(m.norm, c.norm), math.Max(m.norm, c.norm)
	ratio := 0.0
	if hi > 0 {
		ratio = lo / hi
	}
	return g * (m.norm*c.norm + ratio)
}
