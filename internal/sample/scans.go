// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package sample

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoScans means a scan mapping without any MS1 scan
var ErrNoScans = errors.New("sample: no MS1 scans")

// ScanMapping maps MS1 scan indices (0..Len-1) to retention times.
// Retention times are non-decreasing.
type ScanMapping struct {
	rts []float64
}

// NewScanMapping builds a mapping from the retention times of the MS1
// scans, in acquisition order
func NewScanMapping(rts []float64) (*ScanMapping, error) {
	if len(rts) == 0 {
		return nil, ErrNoScans
	}
	for i := 1; i < len(rts); i++ {
		if rts[i] < rts[i-1] {
			return nil, fmt.Errorf("sample: retention time of scan %d (%f) before scan %d (%f)",
				i, rts[i], i-1, rts[i-1])
		}
	}
	c := make([]float64, len(rts))
	copy(c, rts)
	return &ScanMapping{rts: c}, nil
}

// UniformScanMapping returns n scans starting at rt0, dt apart
func UniformScanMapping(rt0, dt float64, n int) (*ScanMapping, error) {
	if n <= 0 {
		return nil, ErrNoScans
	}
	rts := make([]float64, n)
	for i := range rts {
		rts[i] = rt0 + float64(i)*dt
	}
	return &ScanMapping{rts: rts}, nil
}

// Len returns the number of scans
func (s *ScanMapping) Len() int { return len(s.rts) }

// RetentionTime returns the retention time of scan index i,
// clamped to the first and last scan
func (s *ScanMapping) RetentionTime(i int) float64 {
	if i < 0 {
		return s.rts[0]
	}
	if i >= len(s.rts) {
		return s.rts[len(s.rts)-1]
	}
	return s.rts[i]
}

// Times returns the retention times of all scans. The slice must not
// be modified.
func (s *ScanMapping) Times() []float64 { return s.rts }

// IndexAtOrBelow returns the last scan with retention time <= rt,
// or -1 if rt is before the first scan
func (s *ScanMapping) IndexAtOrBelow(rt float64) int {
	return sort.Search(len(s.rts), func(i int) bool { return s.rts[i] > rt }) - 1
}

// IndexAtOrAbove returns the first scan with retention time >= rt,
// or Len() if rt is after the last scan
func (s *ScanMapping) IndexAtOrAbove(rt float64) int {
	return sort.Search(len(s.rts), func(i int) bool { return s.rts[i] >= rt })
}

// MedianInterval returns the median time between consecutive scans,
// 0 for a single scan
func (s *ScanMapping) MedianInterval() float64 {
	if len(s.rts) < 2 {
		return 0
	}
	d := make([]float64, len(s.rts)-1)
	for i := range d {
		d[i] = s.rts[i+1] - s.rts[i]
	}
	sort.Float64s(d)
	return d[len(d)/2]
}
