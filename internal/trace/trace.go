// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package trace holds the chromatographic trace types: per-sample
// contiguous traces, merged cross-sample traces and peak segments.
package trace

import (
	"errors"
	"fmt"
)

// Trace is the read-only view shared by contiguous and merged traces.
// Scan indices are absolute (StartID..EndID inclusive).
type Trace interface {
	Start() int
	End() int
	IntensityAt(scan int) float64
	MzAt(scan int) float64
}

// Contiguous is the signal of one ion in one sample over a contiguous
// range of MS1 scans. It is immutable once created.
type Contiguous struct {
	UID        int64
	StartID    int
	EndID      int
	Mz         []float64 // indexed relative to StartID
	Intensity  []float64
	AveragedMz float64 // intensity weighted mean m/z
}

// NewContiguous creates a trace starting at scan startID.
// mz and intensity must have equal length.
func NewContiguous(uid int64, startID int, mz, intensity []float64) (*Contiguous, error) {
	if len(mz) != len(intensity) {
		return nil, fmt.Errorf("trace %d: %d m/z values but %d intensities", uid, len(mz), len(intensity))
	}
	if len(mz) == 0 {
		return nil, fmt.Errorf("trace %d: no data points", uid)
	}
	t := &Contiguous{
		UID:       uid,
		StartID:   startID,
		EndID:     startID + len(mz) - 1,
		Mz:        mz,
		Intensity: intensity,
	}
	t.AveragedMz = weightedMz(mz, intensity)
	return t, nil
}

func weightedMz(mz, intensity []float64) float64 {
	var sum, weight float64
	for i := range mz {
		sum += mz[i] * intensity[i]
		weight += intensity[i]
	}
	if weight <= 0 {
		// All zero, use the plain mean
		for _, m := range mz {
			sum += m
		}
		return sum / float64(len(mz))
	}
	return sum / weight
}

// Start returns the first scan index
func (t *Contiguous) Start() int { return t.StartID }

// End returns the last scan index
func (t *Contiguous) End() int { return t.EndID }

// Len returns the number of scans covered
func (t *Contiguous) Len() int { return t.EndID - t.StartID + 1 }

// Contains reports whether scan lies within the trace
func (t *Contiguous) Contains(scan int) bool {
	return scan >= t.StartID && scan <= t.EndID
}

// IntensityAt returns the intensity at absolute scan index, 0 outside the trace
func (t *Contiguous) IntensityAt(scan int) float64 {
	if !t.Contains(scan) {
		return 0
	}
	return t.Intensity[scan-t.StartID]
}

// MzAt returns the m/z at absolute scan index, 0 outside the trace
func (t *Contiguous) MzAt(scan int) float64 {
	if !t.Contains(scan) {
		return 0
	}
	return t.Mz[scan-t.StartID]
}

// ApexScan returns the scan index with the highest intensity
func (t *Contiguous) ApexScan() int {
	return apex(t)
}

// WithUID returns a copy of the trace carrying a different id.
// Data slices are shared, the trace is immutable.
func (t *Contiguous) WithUID(uid int64) *Contiguous {
	c := *t
	c.UID = uid
	return &c
}

// Combine merges traces of a single sample into one trace spanning
// the union of their scan ranges. Per scan, intensities are summed and
// m/z values are averaged weighted by intensity.
func Combine(traces []*Contiguous) (*Contiguous, error) {
	if len(traces) == 0 {
		return nil, errors.New("trace: nothing to combine")
	}
	start, end := traces[0].StartID, traces[0].EndID
	for _, t := range traces[1:] {
		if t.StartID < start {
			start = t.StartID
		}
		if t.EndID > end {
			end = t.EndID
		}
	}
	n := end - start + 1
	mz := make([]float64, n)
	ints := make([]float64, n)
	for _, t := range traces {
		for i, intens := range t.Intensity {
			k := t.StartID + i - start
			mz[k] += t.Mz[i] * intens
			ints[k] += intens
		}
	}
	for k := range mz {
		if ints[k] > 0 {
			mz[k] /= ints[k]
		}
	}
	return NewContiguous(0, start, mz, ints)
}

func apex(t Trace) int {
	best := t.Start()
	bestInt := t.IntensityAt(best)
	for s := t.Start() + 1; s <= t.End(); s++ {
		if v := t.IntensityAt(s); v > bestInt {
			best, bestInt = s, v
		}
	}
	return best
}
