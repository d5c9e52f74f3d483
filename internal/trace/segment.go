// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package trace

import "fmt"

// Segment is a chromatographic peak within a trace: apex and the
// left/right boundary scans, all absolute scan indices of that trace.
type Segment struct {
	Apex  int
	Left  int
	Right int
}

// Valid reports whether Left <= Apex <= Right
func (s Segment) Valid() bool {
	return s.Left <= s.Apex && s.Apex <= s.Right
}

// Overlaps reports whether two segments share a scan
func (s Segment) Overlaps(o Segment) bool {
	return s.Left <= o.Right && o.Left <= s.Right
}

// Width returns the number of scans covered
func (s Segment) Width() int {
	return s.Right - s.Left + 1
}

func (s Segment) String() string {
	return fmt.Sprintf("[%d <%d> %d]", s.Left, s.Apex, s.Right)
}

// Area sums the trace intensities between the segment edges
func (s Segment) Area(t Trace) float64 {
	var a float64
	for i := s.Left; i <= s.Right; i++ {
		a += t.IntensityAt(i)
	}
	return a
}
